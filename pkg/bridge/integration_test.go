// 文件: pkg/bridge/integration_test.go
// 跨链桥传输链路集成测试
//
// 真实 NATS + MySQL: 源金库 → NATSTransport → 订阅投递 → 目的网关，
// 充值记录经 DepositRepo 落库。本地服务缺席时跳过。

package bridge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	natsx "perpx.com/pkg/nats"
)

const (
	testDSN     = "root:123456@tcp(127.0.0.1:3307)/perpx?charset=utf8mb4&parseTime=True&loc=Local"
	testNatsURL = "nats://localhost:4222"

	itUser = int64(9101)
)

// safeLedger 跨协程入账记录 (NATS 投递在订阅协程上回调)
type safeLedger struct {
	mu      sync.Mutex
	credits []credit
}

func (l *safeLedger) DepositFor(user int64, amount int64, from string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credits = append(l.credits, credit{user: user, amount: amount, from: from})
	return nil
}

func (l *safeLedger) Credits() []credit {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]credit, len(l.credits))
	copy(out, l.credits)
	return out
}

func setupBridgeDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(mysql.Open(testDSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Skipf("skipping test; mysql not available: %v", err)
	}

	db.AutoMigrate(&DepositRecord{})
	db.Exec("DELETE FROM bridge_deposits WHERE user_id = ?", itUser)
	return db
}

func TestBridgeOverNATS_Integration(t *testing.T) {
	db := setupBridgeDB(t)
	repo := NewDepositRepo(db)

	pub, err := natsx.NewPublisher(testNatsURL)
	if err != nil {
		t.Skipf("skipping test; nats not available: %v", err)
	}
	defer pub.Close()

	ledger := &safeLedger{}
	gateway := NewDestinationGateway("bridge_gateway", "USDC")
	gateway.AttachLedger(ledger)
	gateway.AttachRepo(repo)

	sub, err := natsx.NewSubscriber(testNatsURL, func(_ string, data []byte) error {
		return gateway.Receive(data)
	})
	require.NoError(t, err)
	defer sub.Close()
	require.NoError(t, sub.Subscribe(natsx.SubjectBridgeDeposit))

	vault := NewOriginVault(NewNATSTransport(pub), "USDC", 100_000, "USDC")
	vault.Fund(itUser, "USDC", 100*usdPrecision+100_000)

	// 经 NATS 投递入账
	nonce, err := vault.Deposit(itUser, "USDC", 100*usdPrecision)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(ledger.Credits()) == 1
	}, 3*time.Second, 50*time.Millisecond)
	assert.Equal(t, int64(100*usdPrecision), ledger.Credits()[0].amount)

	// 充值记录落库
	require.Eventually(t, func() bool {
		record, err := repo.GetByNonce(context.Background(), nonce)
		return err == nil && record != nil
	}, 3*time.Second, 50*time.Millisecond)

	// 重复投递同一 nonce: 幂等，不产生第二笔入账
	dup := &Message{Nonce: nonce, User: itUser, Token: "USDC", Amount: 100 * usdPrecision}
	raw, err := dup.Encode()
	require.NoError(t, err)
	require.NoError(t, pub.PublishRaw(natsx.SubjectBridgeDeposit, raw))

	time.Sleep(500 * time.Millisecond)
	assert.Len(t, ledger.Credits(), 1)
}
