// 文件: pkg/perps/repository.go
// 市场规格存储接口
//
// 【设计模式】Repository Pattern
// - 账本只依赖接口，不关心底层是 MySQL 还是带缓存的装饰器
// - 账本持有权威内存副本，存储层是持久化与重启恢复来源

package perps

import "context"

// MarketRepository 市场规格存储接口
type MarketRepository interface {
	// Create 创建市场
	// symbol 已存在返回 ErrMarketExists
	Create(ctx context.Context, market *Market) error

	// GetBySymbol 根据 symbol 查询
	// 不存在返回 ErrMarketNotFound
	GetBySymbol(ctx context.Context, symbol string) (*Market, error)

	// Update 更新市场 (根据 Symbol)
	Update(ctx context.Context, market *Market) error

	// SetActive 更新启停状态
	SetActive(ctx context.Context, symbol string, active bool) error

	// List 列出所有市场
	List(ctx context.Context) ([]*Market, error)

	// ListActive 列出可开仓市场
	ListActive(ctx context.Context) ([]*Market, error)
}
