// 文件: pkg/random/randomizer.go
// 公平性随机源 - 两阶段可验证随机 + 清算顺序洗牌
//
// 【两阶段协议】
// 1. Request: 授权调用方发起随机数请求，立即返回 requestID
// 2. Fulfill: 外部随机源稍后携带 requestID 回调，写入新随机值
// 回调时机不受本模块控制，请求与回调之间用 pending 集合关联。
//
// 【用途】
// 清算扫描遍历用户前，用当前随机值做 Fisher-Yates 洗牌，
// 使任何一轮扫描的检查顺序不可预测，封死"抢跑特定仓位"的套利角度。
//
// 【授权模型】
// - Request: 只允许白名单调用方 (刷新调度器、账本自身)
// - Fulfill: 只接受 pending 中存在的 requestID
// - Shuffle: 不限制，任何人可读

package random

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"perpx.com/pkg/ident"
)

var (
	// ErrUnauthorized 调用方不在白名单
	ErrUnauthorized = errors.New("random: caller not allowed")

	// ErrUnknownRequest 回调携带的 requestID 不存在
	ErrUnknownRequest = errors.New("random: unknown request id")
)

// =============================================================================
// Randomizer
// =============================================================================

// Randomizer 公平性随机源
type Randomizer struct {
	mu sync.Mutex

	// current 当前随机值 (32 字节)
	current [32]byte
	hasSeed bool

	// pending 未回调的请求: requestID → 发起时间
	pending map[int64]int64

	// allow Request 白名单
	allow map[string]struct{}
}

// New 创建随机源
// callers: 允许发起请求的调用方标识
func New(callers ...string) *Randomizer {
	allow := make(map[string]struct{}, len(callers))
	for _, c := range callers {
		allow[c] = struct{}{}
	}
	return &Randomizer{
		pending: make(map[int64]int64),
		allow:   allow,
	}
}

// Allow 追加白名单调用方
func (r *Randomizer) Allow(caller string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.allow[caller] = struct{}{}
}

// Request 发起随机数刷新请求
//
// 返回关联 requestID，随机值由之后的 Fulfill 回调写入
func (r *Randomizer) Request(caller string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.allow[caller]; !ok {
		return 0, ErrUnauthorized
	}

	id := ident.NextID()
	r.pending[id] = time.Now().UnixMilli()
	return id, nil
}

// Fulfill 随机源回调
//
// requestID 必须是 Request 发出且尚未回调的 ID
func (r *Randomizer) Fulfill(requestID int64, value [32]byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.pending[requestID]; !ok {
		return ErrUnknownRequest
	}
	delete(r.pending, requestID)

	r.current = value
	r.hasSeed = true
	return nil
}

// PendingCount 未回调的请求数
func (r *Randomizer) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// =============================================================================
// 洗牌
// =============================================================================

// Shuffle 对用户列表做 Fisher-Yates 洗牌 (不修改入参)
//
// 每一步的随机数由 SHA-256 链式再派生:
//
//	seed[0] = current
//	seed[i] = SHA256(seed[i-1])
//
// 单个随机值即可确定性地打乱任意长度的列表——
// 同一随机值下结果可复现 (可验证性)，随机值刷新前顺序不可预测。
//
// 尚未有随机值时返回原顺序副本。
func (r *Randomizer) Shuffle(users []int64) []int64 {
	out := make([]int64, len(users))
	copy(out, users)

	r.mu.Lock()
	seed := r.current
	hasSeed := r.hasSeed
	r.mu.Unlock()

	if !hasSeed || len(out) < 2 {
		return out
	}

	for i := len(out) - 1; i > 0; i-- {
		seed = sha256.Sum256(seed[:])
		j := int(binary.BigEndian.Uint64(seed[:8]) % uint64(i+1))
		out[i], out[j] = out[j], out[i]
	}
	return out
}
