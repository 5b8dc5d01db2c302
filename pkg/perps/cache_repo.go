// 文件: pkg/perps/cache_repo.go
// 市场规格 Redis 缓存层
//
// 【设计模式】装饰器模式 (Decorator Pattern)
// - 包装底层 Repository，透明添加缓存能力
// - 调用方只看到 MarketRepository 接口
//
// 【缓存策略】Cache Aside
// - 读: 先查 Redis，miss 则查 DB 并异步回填
// - 写: 先写 DB，成功后删除缓存

package perps

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// 确保实现了接口
var _ MarketRepository = (*CachedMarketRepository)(nil)

const (
	cacheKeyPrefix = "perps:market:"

	// 单个市场: perps:market:symbol:{symbol}
	cacheKeySymbol = cacheKeyPrefix + "symbol:%s"

	// 可开仓列表: perps:market:active
	cacheKeyActiveList = cacheKeyPrefix + "active"

	cacheTTL = 24 * time.Hour

	// 列表缓存过期时间 (较短，状态可能变化)
	listCacheTTL = 5 * time.Minute
)

// CachedMarketRepository Redis 缓存装饰器
type CachedMarketRepository struct {
	repo  MarketRepository
	redis *redis.Client
}

// NewCachedMarketRepository 创建带缓存的 Repository
//
// 用法:
//
//	mysqlRepo := NewMySQLMarketRepository(db)
//	cachedRepo := NewCachedMarketRepository(mysqlRepo, redisClient)
//	engine.AttachRepository(cachedRepo)
func NewCachedMarketRepository(repo MarketRepository, rds *redis.Client) *CachedMarketRepository {
	return &CachedMarketRepository{
		repo:  repo,
		redis: rds,
	}
}

// =============================================================================
// 读操作 (带缓存)
// =============================================================================

// GetBySymbol 根据 symbol 查询 (带缓存)
func (r *CachedMarketRepository) GetBySymbol(ctx context.Context, symbol string) (*Market, error) {
	cacheKey := fmt.Sprintf(cacheKeySymbol, symbol)

	// 1. 查缓存
	data, err := r.redis.Get(ctx, cacheKey).Bytes()
	if err == nil {
		var market Market
		if json.Unmarshal(data, &market) == nil {
			return &market, nil // Cache hit
		}
	}

	// 2. Cache miss, 查底层
	market, err := r.repo.GetBySymbol(ctx, symbol)
	if err != nil {
		return nil, err
	}

	// 3. 异步回填，不阻塞主流程
	go r.setCache(context.Background(), cacheKey, market, cacheTTL)

	return market, nil
}

// ListActive 列出可开仓市场 (带缓存)
func (r *CachedMarketRepository) ListActive(ctx context.Context) ([]*Market, error) {
	// 1. 查缓存
	data, err := r.redis.Get(ctx, cacheKeyActiveList).Bytes()
	if err == nil {
		var markets []*Market
		if json.Unmarshal(data, &markets) == nil {
			return markets, nil
		}
	}

	// 2. 查底层
	markets, err := r.repo.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	// 3. 回填
	go r.setCacheList(context.Background(), cacheKeyActiveList, markets, listCacheTTL)

	return markets, nil
}

// List 列出所有市场 (不缓存)
func (r *CachedMarketRepository) List(ctx context.Context) ([]*Market, error) {
	return r.repo.List(ctx)
}

// =============================================================================
// 写操作 (写 DB + 删缓存)
// =============================================================================

// Create 创建市场
func (r *CachedMarketRepository) Create(ctx context.Context, market *Market) error {
	if err := r.repo.Create(ctx, market); err != nil {
		return err
	}

	// 新市场可能影响列表，下次读取时回填
	r.invalidateListCache(ctx)
	return nil
}

// Update 更新市场
func (r *CachedMarketRepository) Update(ctx context.Context, market *Market) error {
	if err := r.repo.Update(ctx, market); err != nil {
		return err
	}

	r.invalidateCache(ctx, market.Symbol)
	return nil
}

// SetActive 更新启停状态
func (r *CachedMarketRepository) SetActive(ctx context.Context, symbol string, active bool) error {
	if err := r.repo.SetActive(ctx, symbol, active); err != nil {
		return err
	}

	r.invalidateCache(ctx, symbol)
	return nil
}

// =============================================================================
// 缓存操作
// =============================================================================

func (r *CachedMarketRepository) setCache(ctx context.Context, key string, market *Market, ttl time.Duration) {
	data, err := json.Marshal(market)
	if err != nil {
		return
	}
	r.redis.Set(ctx, key, data, ttl)
}

func (r *CachedMarketRepository) setCacheList(ctx context.Context, key string, markets []*Market, ttl time.Duration) {
	data, err := json.Marshal(markets)
	if err != nil {
		return
	}
	r.redis.Set(ctx, key, data, ttl)
}

func (r *CachedMarketRepository) invalidateCache(ctx context.Context, symbol string) {
	r.redis.Del(ctx, fmt.Sprintf(cacheKeySymbol, symbol))
	r.invalidateListCache(ctx)
}

func (r *CachedMarketRepository) invalidateListCache(ctx context.Context) {
	r.redis.Del(ctx, cacheKeyActiveList)
}
