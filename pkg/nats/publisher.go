// 文件: pkg/nats/publisher.go
// NATS 事件发布者
//
// 账本的热路径事件总线:
// - 开仓/平仓/清算事件 → 清算调度器的事件触发器、行情 UI
// - 跨链充值消息的传输通道 (bridge transport)

package nats

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// =============================================================================
// 事件主题
// =============================================================================

const (
	// SubjectPositionOpened 开仓事件
	SubjectPositionOpened = "perps.position.opened"

	// SubjectPositionClosed 平仓事件
	SubjectPositionClosed = "perps.position.closed"

	// SubjectPositionLiquidated 清算事件
	SubjectPositionLiquidated = "perps.position.liquidated"

	// SubjectBalanceDeposited 入金事件
	SubjectBalanceDeposited = "perps.balance.deposited"

	// SubjectBalanceWithdrawn 出金事件
	SubjectBalanceWithdrawn = "perps.balance.withdrawn"

	// SubjectBridgeDeposit 跨链充值消息 (transport 通道)
	SubjectBridgeDeposit = "bridge.deposit"
)

// ActivitySubjects 会影响清算扫描的活动事件主题
func ActivitySubjects() []string {
	return []string{SubjectPositionOpened, SubjectPositionClosed}
}

// =============================================================================
// Publisher
// =============================================================================

// Publisher NATS 发布者
type Publisher struct {
	conn *nats.Conn
}

// NewPublisher 创建发布者
func NewPublisher(url string) (*Publisher, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &Publisher{conn: conn}, nil
}

// Publish 发布 JSON 消息
func (p *Publisher) Publish(subject string, data any) error {
	bytes, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return p.conn.Publish(subject, bytes)
}

// PublishRaw 发布原始消息
func (p *Publisher) PublishRaw(subject string, data []byte) error {
	return p.conn.Publish(subject, data)
}

// Close 关闭连接
func (p *Publisher) Close() {
	p.conn.Close()
}
