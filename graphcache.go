// Package graphcache 提供社交圖譜資料的兩層快取：每個命名空間一個本地 LRU，
// 後端共用 Redis。
package graphcache

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"goflare.io/graphcache/internal/cache/multi"
	"goflare.io/graphcache/internal/config"
	"goflare.io/graphcache/internal/metrics"
	"goflare.io/graphcache/internal/models"
	"goflare.io/graphcache/internal/utils"
)

type (
	Config            = config.Config
	NamespaceConfig   = config.NamespaceConfig
	ValidationError   = config.ValidationError
	Snapshot          = models.Snapshot
	NamespaceSnapshot = models.NamespaceSnapshot
	Clock             = utils.Clock
	WarmupStrategy    = multi.WarmupStrategy
	Warmer            = multi.Warmer
	KeyLoader         = multi.KeyLoader
	LoaderFunc        = multi.LoaderFunc
	PopularKeys       = multi.PopularKeys
)

// 預設的命名空間
const (
	FriendsRelationships = "friends_relationships"
	FriendRequests       = "friend_requests"
	UserPresence         = "user_presence"
	Recommendations      = "recommendations"
)

// DefaultConfig 回傳預設配置
func DefaultConfig() *Config {
	return config.Default()
}

// LoadConfig 讀取 YAML 配置檔並套用 GRAPHCACHE_* 環境變數
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// StaticKeys 回傳固定的暖機鍵集合
func StaticKeys(keys ...string) func(context.Context) ([]string, error) {
	return multi.StaticKeys(keys...)
}

type settings struct {
	cfg        *config.Config
	client     redis.UniversalClient
	strategies []multi.WarmupStrategy
	popular    bool
}

// Option 定義初始化 Manager 的選項
type Option func(*settings) error

func configOption(opt config.Option) Option {
	return func(s *settings) error {
		return opt(s.cfg)
	}
}

// WithLogger 設置自定義的日誌記錄器
func WithLogger(logger *zap.Logger) Option {
	return configOption(config.WithLogger(logger))
}

// WithClock 設置時鐘，測試時可注入模擬時間
func WithClock(clock Clock) Option {
	return configOption(config.WithClock(clock))
}

// WithNamespace 新增或覆蓋命名空間
func WithNamespace(name string, ns NamespaceConfig) Option {
	return configOption(config.WithNamespace(name, ns))
}

// WithOnlyNamespaces 只宣告指定的命名空間，捨棄預設值
func WithOnlyNamespaces(namespaces map[string]NamespaceConfig) Option {
	return configOption(config.WithOnlyNamespaces(namespaces))
}

// WithRedis 設置 Redis 連線參數
func WithRedis(host string, port int, password string, db int) Option {
	return configOption(config.WithRedis(host, port, password, db))
}

// WithoutDistributed 只使用本地快取
func WithoutDistributed() Option {
	return configOption(config.WithoutDistributed())
}

// WithCompression 設置壓縮演算法與門檻
func WithCompression(algorithm string, thresholdBytes int) Option {
	return configOption(config.WithCompression(algorithm, thresholdBytes))
}

// WithSerialization 設置序列化方式
func WithSerialization(serializer string) Option {
	return configOption(config.WithSerialization(serializer))
}

// WithMaintenance 設置背景維護間隔
func WithMaintenance(cleanup, warmup time.Duration, warmupEnabled bool) Option {
	return configOption(config.WithMaintenance(cleanup, warmup, warmupEnabled))
}

// WithRedisClient 使用現有的 Redis 客戶端，Stop 時會一併關閉
func WithRedisClient(client redis.UniversalClient) Option {
	return func(s *settings) error {
		if client == nil {
			return fmt.Errorf("redis client must not be nil")
		}
		s.client = client
		return nil
	}
}

// WithWarmupStrategy 註冊暖機策略
func WithWarmupStrategy(strategy WarmupStrategy) Option {
	return func(s *settings) error {
		if strategy == nil {
			return fmt.Errorf("warmup strategy must not be nil")
		}
		s.strategies = append(s.strategies, strategy)
		return nil
	}
}

// WithPopularKeysWarmup 註冊熱門鍵刷新策略，門檻與數量取自配置的 warmup 區段
func WithPopularKeysWarmup() Option {
	return func(s *settings) error {
		s.popular = true
		return nil
	}
}

// Manager 快取管理器
type Manager struct {
	cache     *multi.Cache
	collector *metrics.Collector
}

// New 建立 Manager。cfg 為 nil 時使用預設配置；配置在 Start 時驗證。
func New(cfg *Config, opts ...Option) (*Manager, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	s := &settings{cfg: cfg.Clone()}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if s.popular {
		s.strategies = append(s.strategies, &multi.PopularKeys{
			Threshold: s.cfg.Warmup.PopularThreshold,
			Limit:     s.cfg.Warmup.PopularCount,
		})
	}

	m := &Manager{cache: multi.NewCache(s.cfg, s.client, s.strategies...)}
	m.collector = metrics.NewCollector(m.Stats, nil)
	return m, nil
}

// Start 驗證配置、建立連線池並啟動背景任務
func (m *Manager) Start(ctx context.Context) error {
	return m.cache.Start(ctx)
}

// Stop 停止背景任務後關閉連線池，可重複呼叫
func (m *Manager) Stop(ctx context.Context) error {
	return m.cache.Stop(ctx)
}

// Get 取得快取項目並解碼至 value，找不到或後端故障時回傳 false
func (m *Manager) Get(ctx context.Context, namespace, key string, value any) bool {
	return m.cache.Get(ctx, namespace, key, value)
}

// Set 設置快取項目，ttl 省略時使用命名空間的預設值
func (m *Manager) Set(ctx context.Context, namespace, key string, value any, ttl ...time.Duration) error {
	return m.cache.Set(ctx, namespace, key, value, ttl...)
}

// Delete 刪除快取項目
func (m *Manager) Delete(ctx context.Context, namespace, key string) error {
	return m.cache.Delete(ctx, namespace, key)
}

// ClearNamespace 清空單一命名空間
func (m *Manager) ClearNamespace(ctx context.Context, namespace string) error {
	return m.cache.ClearNamespace(ctx, namespace)
}

// Exists 檢查快取項目是否存在，不計入命中率
func (m *Manager) Exists(ctx context.Context, namespace, key string) bool {
	return m.cache.Exists(ctx, namespace, key)
}

// GetTTL 取得剩餘存活時間
func (m *Manager) GetTTL(ctx context.Context, namespace, key string) (time.Duration, bool) {
	return m.cache.GetTTL(ctx, namespace, key)
}

// Warm 立即執行一次暖機
func (m *Manager) Warm(ctx context.Context) {
	m.cache.Warm(ctx)
}

// Stats 取得統計快照
func (m *Manager) Stats() Snapshot {
	return m.cache.Stats()
}

// Collector 回傳 Prometheus collector，由呼叫端自行註冊
func (m *Manager) Collector() prometheus.Collector {
	return m.collector
}
