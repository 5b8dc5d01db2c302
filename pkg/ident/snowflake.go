// 文件: pkg/ident/snowflake.go
// 雪花算法 ID 生成器
// 使用开源库: github.com/bwmarrin/snowflake
//
// 用途:
// - 账本流水 EventID
// - 跨链充值 Nonce
// - 随机数请求 RequestID

package ident

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node     *snowflake.Node
	initOnce sync.Once
)

// Init 初始化雪花算法
// nodeID: 节点ID (0-1023)
func Init(nodeID int64) error {
	var err error
	initOnce.Do(func() {
		node, err = snowflake.NewNode(nodeID)
	})
	return err
}

// NextID 生成全局唯一 ID
func NextID() int64 {
	if node == nil {
		// 未初始化则使用默认节点0
		Init(0)
	}
	return node.Generate().Int64()
}
