// 文件: pkg/bridge/transport.go
// 跨链消息传输通道
//
// - NATSTransport: 生产环境，经 NATS 投递 (至少一次语义的替身)
// - Loopback: 测试/模拟环境，进程内直连，可手动重复投递

package bridge

import (
	"log"

	natsx "perpx.com/pkg/nats"
)

// Transport 跨链消息发送通道 (源侧视角)
type Transport interface {
	Send(msg *Message) error
}

// Handler 消息投递回调 (目的侧视角)
type Handler func(raw []byte) error

// =============================================================================
// NATSTransport
// =============================================================================

// NATSTransport NATS 投递通道
//
// 目的侧接法:
//
//	sub, _ := nats.NewSubscriber(url, func(_ string, data []byte) error {
//	    return gateway.Receive(data)
//	})
//	sub.Subscribe(nats.SubjectBridgeDeposit)
type NATSTransport struct {
	pub *natsx.Publisher
}

// NewNATSTransport 创建 NATS 通道
func NewNATSTransport(pub *natsx.Publisher) *NATSTransport {
	return &NATSTransport{pub: pub}
}

// Send 发送跨链消息
func (t *NATSTransport) Send(msg *Message) error {
	raw, err := msg.Encode()
	if err != nil {
		return err
	}
	return t.pub.PublishRaw(natsx.SubjectBridgeDeposit, raw)
}

// =============================================================================
// Loopback
// =============================================================================

// Loopback 进程内直连通道 (测试/模拟用)
//
// 保留每条已发送消息，Redeliver 可以重放任意一条——
// 用来验证目的侧的幂等入账。
type Loopback struct {
	handlers []Handler
	sent     [][]byte
}

// NewLoopback 创建直连通道
func NewLoopback() *Loopback {
	return &Loopback{}
}

// Register 注册目的侧投递回调
func (l *Loopback) Register(h Handler) {
	l.handlers = append(l.handlers, h)
}

// Send 发送并立即投递
func (l *Loopback) Send(msg *Message) error {
	raw, err := msg.Encode()
	if err != nil {
		return err
	}
	l.sent = append(l.sent, raw)
	l.deliver(raw)
	return nil
}

// Redeliver 重放第 i 条消息 (模拟重复投递)
func (l *Loopback) Redeliver(i int) {
	if i < 0 || i >= len(l.sent) {
		return
	}
	l.deliver(l.sent[i])
}

// SentCount 已发送消息数
func (l *Loopback) SentCount() int {
	return len(l.sent)
}

func (l *Loopback) deliver(raw []byte) {
	for _, h := range l.handlers {
		if err := h(raw); err != nil {
			log.Printf("[Bridge] loopback deliver: %v", err)
		}
	}
}
