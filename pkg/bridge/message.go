// 文件: pkg/bridge/message.go
// 跨链充值消息定义
//
// 源链金库 → 目的链网关 的唯一载荷。
// Nonce 是幂等键 (雪花 ID)，同一条消息重复投递只入账一次。

package bridge

import "encoding/json"

// Message 跨链充值消息
type Message struct {
	// Nonce 幂等键，源侧发送时分配
	Nonce int64 `json:"nonce"`

	User   int64  `json:"user"`
	Token  string `json:"token"`
	Amount int64  `json:"amount"` // 6 位小数定点，以 token 计

	SentAt int64 `json:"sent_at"` // Unix 毫秒
}

// Encode 序列化
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Decode 反序列化
func Decode(raw []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
