// 文件: cmd/simulation/main.go
// 全系统接线演示
//
// 纯内存接线 (无 MySQL/Redis/NATS/Kafka 依赖):
// 行情模拟器 → 价格源 → 账本 → 清算触发器，外加一条跨链充值链路。
// 剧本: 入金 → 开仓 → 价格暴跌 → 事件触发清算扫描 → 跨链重复投递验证。

package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"perpx.com/pkg/bridge"
	"perpx.com/pkg/journal"
	"perpx.com/pkg/liquidation"
	"perpx.com/pkg/market"
	"perpx.com/pkg/perps"
	"perpx.com/pkg/pricefeed"
	"perpx.com/pkg/random"
)

const (
	btcSymbol = "BTC_USD"
	ethSymbol = "ETH_USD"

	usd = perps.UsdPrecision
)

// logPublisher 把热路径事件打到日志 (NATS 缺席时的替身)
type logPublisher struct{}

func (logPublisher) Publish(subject string, data any) error {
	log.Printf("[Event] %s: %+v", subject, data)
	return nil
}

func main() {
	log.SetFlags(log.Ltime | log.Lmicroseconds)
	log.Println("🚀 Starting perpetuals simulation...")

	// 1. 价格源: BTC 走 GBM 行情流，ETH 用静态源
	// -------------------------------------------------------------------------
	feed := pricefeed.NewFeed()

	btcSource := pricefeed.NewStreamSource(8)
	feed.Register(btcSymbol, btcSource)

	ethSource := pricefeed.NewStaticSource(3000*pricefeed.PricePrecision, 8)
	feed.Register(ethSymbol, ethSource)

	ticker := market.NewTicker(btcSymbol, 50_000, 100*time.Millisecond)
	broadcaster := market.NewBroadcaster()

	go func() {
		for tick := range ticker.Start() {
			broadcaster.Broadcast(tick)
		}
	}()
	go func() {
		for tick := range broadcaster.Subscribe() {
			btcSource.Push(tick.Price, tick.UpdatedAt)
		}
	}()

	// 2. 账本: 内存流水出口 + 日志事件发布 + 洗牌器
	// -------------------------------------------------------------------------
	sink := journal.NewMemorySink()

	randomizer := random.New("keeper")

	engine := perps.NewEngine(perps.DefaultConfig(), feed)
	engine.AttachSink(sink)
	engine.AttachPublisher(logPublisher{})
	engine.AttachShuffler(randomizer)

	must(engine.AddMarket(btcSymbol, 20, 500))
	must(engine.AddMarket(ethSymbol, 10, 500))
	log.Printf("✅ Markets listed: %v", engine.GetMarketSymbols())

	// 清算触发器: 定时兜底 + 事件驱动
	interval := liquidation.NewIntervalTrigger(engine, "interval_keeper", 4*time.Hour)
	interval.Start()
	defer interval.Stop()

	eventTrigger := liquidation.NewEventTrigger(engine, "event_keeper", 2*time.Second)

	// 3. 跨链桥: Loopback 通道 + 目的网关
	// -------------------------------------------------------------------------
	transport := bridge.NewLoopback()

	gateway := bridge.NewDestinationGateway("bridge_gateway", "USDC")
	gateway.AttachLedger(engine)
	gateway.AttachPrices(feed)
	gateway.MapAsset("WETH", ethSymbol)
	transport.Register(gateway.Receive)

	engine.AuthorizeDepositor(gateway.Name())

	vault := bridge.NewOriginVault(transport, "USDC", usd/10, "USDC", "WETH")

	// 4. 剧本
	// -------------------------------------------------------------------------

	// 4.1 直接入金 + 开仓
	alice, bob := int64(1001), int64(1002)
	must(engine.Deposit(alice, 10_000*usd))
	must(engine.Deposit(bob, 10_000*usd))

	time.Sleep(300 * time.Millisecond) // 等第一批行情到位

	openOrDie := func(user int64, symbol string, collateral int64, lev int, long bool) {
		pos, err := engine.OpenPosition(user, symbol, collateral, lev, long)
		must(err)
		log.Printf("[Sim] user=%d opened %s %s: size=$%d, entry=%d",
			user, pos.Side(), symbol, pos.SizeUSD/usd, pos.EntryPrice)
	}
	openOrDie(alice, btcSymbol, 1_000*usd, 10, true) // 高杠杆多仓，暴跌会爆
	openOrDie(bob, btcSymbol, 1_000*usd, 2, false)   // 空仓，暴跌受益

	// 4.2 跨链充值 + 重复投递
	carol := int64(1003)
	vault.Fund(carol, "USDC", 5_000*usd+usd/10)
	nonce, err := vault.Deposit(carol, "USDC", 5_000*usd)
	must(err)
	log.Printf("[Sim] bridge deposit: nonce=%d, carol balance=$%d", nonce, engine.GetBalance(carol)/usd)

	transport.Redeliver(0) // 至少一次投递: 重放应为空操作
	log.Printf("[Sim] after redelivery: carol balance=$%d (unchanged)", engine.GetBalance(carol)/usd)

	// 4.3 价格暴跌 → 事件触发清算
	go func() {
		time.Sleep(2 * time.Second)
		log.Println("[Sim] 📉 forcing BTC crash to $42,000")
		crashed := market.NewTicker(btcSymbol, 42_000, 100*time.Millisecond)
		for tick := range crashed.Start() {
			broadcaster.Broadcast(tick)
		}
	}()

	go func() {
		sweep := time.NewTicker(time.Second)
		defer sweep.Stop()
		for range sweep.C {
			// 行情活动替身: 周期性喂给事件触发器
			_ = eventTrigger.OnActivity("perps.position.opened", nil)

			if view, err := engine.GetPosition(alice, btcSymbol); err == nil {
				log.Printf("[Sim] alice health: price=%d, liq=%d, ratio=%dbps, liquidatable=%v",
					view.CurrentPrice, view.LiquidationPrice, view.MarginRatioBps, view.Liquidatable)
			} else if err == perps.ErrNoPosition {
				log.Printf("[Sim] alice position is gone (liquidated), balance=$%d", engine.GetBalance(alice)/usd)
				logJournal(sink)
				return
			}
		}
	}()

	// 等待信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ticker.Stop()
	broadcaster.Close()
	log.Println("🛑 Shutting down...")
}

func logJournal(sink *journal.MemorySink) {
	for _, e := range sink.Events() {
		log.Printf("[Journal] %s user=%d amount=%d balance: %d → %d ref=%s",
			e.ChangeType, e.UserID, e.Amount, e.BalanceBefore, e.BalanceAfter, e.RefID)
	}
}

func must(err error) {
	if err != nil {
		log.Fatalf("simulation failed: %v", err)
	}
}
