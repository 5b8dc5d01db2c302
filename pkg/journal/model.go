// 文件: pkg/journal/model.go
// 账本流水 - 事件定义
//
// 账本每次余额变动产生一条流水事件:
// 热路径 (pkg/perps) 发到 Kafka → DBWriter 消费 → MySQL 落库。
// 流水带幂等键 EventID，重放不会产生重复记录。

package journal

import (
	"encoding/json"
	"strconv"
	"time"
)

// TopicJournalEvents 流水事件 Kafka topic
const TopicJournalEvents = "perps_journal_events"

// =============================================================================
// 变更类型
// =============================================================================

// ChangeType 余额变更类型
type ChangeType uint8

const (
	ChangeDeposit      ChangeType = 1 // 直接入金
	ChangeBridgeCredit ChangeType = 2 // 跨链桥入金
	ChangeWithdraw     ChangeType = 3 // 出金
	ChangeOpenDebit    ChangeType = 4 // 开仓扣款 (保证金+手续费)
	ChangeCloseCredit  ChangeType = 5 // 平仓结算入账
	ChangeLiquidation  ChangeType = 6 // 清算没收
)

func (t ChangeType) String() string {
	switch t {
	case ChangeDeposit:
		return "DEPOSIT"
	case ChangeBridgeCredit:
		return "BRIDGE_CREDIT"
	case ChangeWithdraw:
		return "WITHDRAW"
	case ChangeOpenDebit:
		return "OPEN_DEBIT"
	case ChangeCloseCredit:
		return "CLOSE_CREDIT"
	case ChangeLiquidation:
		return "LIQUIDATION"
	default:
		return "UNKNOWN"
	}
}

// =============================================================================
// 流水事件
// =============================================================================

// Event 余额流水事件
type Event struct {
	// EventID 幂等键 (雪花 ID)
	EventID int64 `json:"event_id"`

	UserID int64  `json:"user_id"`
	Symbol string `json:"symbol"` // 关联市场，入金/出金为空

	ChangeType ChangeType `json:"change_type"`
	Amount     int64      `json:"amount"` // 变动金额 (正数, 6位小数 USD)

	// 变更前后余额
	BalanceBefore int64 `json:"balance_before"`
	BalanceAfter  int64 `json:"balance_after"`

	// RefID 关联业务 (清算人、桥 nonce 等)
	RefID string `json:"ref_id"`

	CreatedAt time.Time `json:"created_at"`
}

// Topic 实现 kafka.Message
func (e *Event) Topic() string {
	return TopicJournalEvents
}

// Key 按 UserID 分区，保证单用户流水有序
func (e *Event) Key() string {
	return strconv.FormatInt(e.UserID, 10)
}

// Value 实现 kafka.Message
func (e *Event) Value() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON 从 JSON 反序列化
func (e *Event) FromJSON(data []byte) error {
	return json.Unmarshal(data, e)
}

// =============================================================================
// Sink - 流水出口
// =============================================================================

// Sink 流水事件出口
//
// 账本不关心流水去哪: 生产接 KafkaSink，测试接 MemorySink。
// Emit 必须快速返回，不能阻塞账本热路径。
type Sink interface {
	Emit(e *Event)
}

// =============================================================================
// 数据库模型
// =============================================================================

// Record MySQL 流水表记录
type Record struct {
	ID            int64      `gorm:"primaryKey;autoIncrement"`
	EventID       int64      `gorm:"column:event_id;uniqueIndex"`
	UserID        int64      `gorm:"column:user_id;index"`
	Symbol        string     `gorm:"column:symbol;type:varchar(32)"`
	ChangeType    ChangeType `gorm:"column:change_type"`
	Amount        int64      `gorm:"column:amount"`
	BalanceBefore int64      `gorm:"column:balance_before"`
	BalanceAfter  int64      `gorm:"column:balance_after"`
	RefID         string     `gorm:"column:ref_id;type:varchar(64)"`
	CreatedAt     time.Time  `gorm:"column:created_at"`
}

// TableName GORM 表名
func (Record) TableName() string {
	return "perps_journals"
}
