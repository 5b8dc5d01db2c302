// 文件: pkg/bridge/origin.go
// 跨链桥 - 源链金库
//
// 【职责】
// 1. 校验 token 在支持列表内
// 2. 把充值金额从用户托管余额划入金库托管
// 3. 以费用资产收取投递费
// 4. 分配 nonce，发出跨链消息
//
// 金库只管托管与发消息，入账发生在目的侧网关。

package bridge

import (
	"errors"
	"sync"
	"time"

	"perpx.com/pkg/ident"
)

var (
	// ErrTokenNotSupported token 不在支持列表
	ErrTokenNotSupported = errors.New("bridge: token not supported")

	// ErrInsufficientFunds 用户托管余额不足
	ErrInsufficientFunds = errors.New("bridge: insufficient funds")

	// ErrInsufficientFee 费用资产余额不足
	ErrInsufficientFee = errors.New("bridge: insufficient fee balance")

	// ErrInvalidDeposit 非正金额
	ErrInvalidDeposit = errors.New("bridge: deposit amount must be positive")
)

// OriginVault 源链金库
type OriginVault struct {
	mu sync.Mutex

	transport Transport

	// 支持的充值 token
	supported map[string]struct{}

	// 投递费: 以 feeAsset 计的固定费用
	feeAsset    string
	deliveryFee int64

	// 用户托管余额: user → token → amount
	balances map[int64]map[string]int64

	// 金库托管总额: token → amount (已发往目的侧的在途+已达资产)
	custody map[string]int64

	// 累计收取的投递费
	collectedFees int64
}

// NewOriginVault 创建源链金库
func NewOriginVault(transport Transport, feeAsset string, deliveryFee int64, tokens ...string) *OriginVault {
	supported := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		supported[t] = struct{}{}
	}
	return &OriginVault{
		transport:   transport,
		supported:   supported,
		feeAsset:    feeAsset,
		deliveryFee: deliveryFee,
		balances:    make(map[int64]map[string]int64),
		custody:     make(map[string]int64),
	}
}

// Fund 充入用户托管余额 (链上转入的替身，测试/模拟入口)
func (v *OriginVault) Fund(user int64, token string, amount int64) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.balances[user] == nil {
		v.balances[user] = make(map[string]int64)
	}
	v.balances[user][token] += amount
}

// Balance 查询用户托管余额
func (v *OriginVault) Balance(user int64, token string) int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.balances[user][token]
}

// Custody 查询金库托管总额
func (v *OriginVault) Custody(token string) int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.custody[token]
}

// CollectedFees 累计投递费
func (v *OriginVault) CollectedFees() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.collectedFees
}

// Deposit 发起跨链充值
//
// 校验全部通过才动余额; nonce 分配后消息发送失败会回滚托管划转。
// 返回分配的 nonce。
func (v *OriginVault) Deposit(user int64, token string, amount int64) (int64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if amount <= 0 {
		return 0, ErrInvalidDeposit
	}
	if _, ok := v.supported[token]; !ok {
		return 0, ErrTokenNotSupported
	}

	userBal := v.balances[user]
	if userBal[token] < amount {
		return 0, ErrInsufficientFunds
	}

	// 费用资产独立扣减; 充值资产本身是费用资产时需要同时覆盖两者
	feeNeed := v.deliveryFee
	if token == v.feeAsset {
		if userBal[token] < amount+feeNeed {
			return 0, ErrInsufficientFee
		}
	} else if userBal[v.feeAsset] < feeNeed {
		return 0, ErrInsufficientFee
	}

	// ===== 划转 =====
	userBal[token] -= amount
	userBal[v.feeAsset] -= feeNeed
	v.custody[token] += amount
	v.collectedFees += feeNeed

	msg := &Message{
		Nonce:  ident.NextID(),
		User:   user,
		Token:  token,
		Amount: amount,
		SentAt: time.Now().UnixMilli(),
	}

	if err := v.transport.Send(msg); err != nil {
		// 回滚划转
		userBal[token] += amount
		userBal[v.feeAsset] += feeNeed
		v.custody[token] -= amount
		v.collectedFees -= feeNeed
		return 0, err
	}
	return msg.Nonce, nil
}
