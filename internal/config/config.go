package config

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"goflare.io/graphcache/internal/utils"
	"goflare.io/graphcache/pkg/compression"
	"goflare.io/graphcache/pkg/serialization"
)

// DefaultKeyPrefix is used for distributed keys of a namespace without a prefix.
const DefaultKeyPrefix = "cache:"

// Config 快取子系統的完整配置
type Config struct {
	Namespaces    map[string]NamespaceConfig `yaml:"namespaces" validate:"required,min=1,dive"`
	Distributed   DistributedConfig          `yaml:"distributed"`
	Maintenance   MaintenanceConfig          `yaml:"maintenance"`
	Compression   CompressionConfig          `yaml:"compression"`
	Serialization string                     `yaml:"serialization" validate:"required"`
	Resilience    ResilienceConfig           `yaml:"resilience"`
	Filter        FilterConfig               `yaml:"filter"`
	Warmup        WarmupConfig               `yaml:"warmup"`

	Logger *zap.Logger `yaml:"-"`
	Clock  utils.Clock `yaml:"-"`
}

// NamespaceConfig 單一命名空間（快取類型）的策略
type NamespaceConfig struct {
	MaxLocalEntries int           `yaml:"max_local_entries" validate:"gt=0"`
	TTL             time.Duration `yaml:"ttl" validate:"gt=0s"`
	KeyPrefix       string        `yaml:"key_prefix"`
}

// DistributedConfig Redis 連線池配置
type DistributedConfig struct {
	Enabled             bool          `yaml:"enabled"`
	Host                string        `yaml:"host"`
	Port                int           `yaml:"port"`
	Password            string        `yaml:"password"`
	DB                  int           `yaml:"db_index" validate:"gte=0"`
	MaxPoolConnections  int           `yaml:"max_pool_connections" validate:"gte=0"`
	ConnectTimeout      time.Duration `yaml:"connect_timeout" validate:"gte=0s"`
	SocketTimeout       time.Duration `yaml:"socket_timeout" validate:"gte=0s"`
	RetryOnTimeout      bool          `yaml:"retry_on_timeout"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval" validate:"gte=0s"`
}

// MaintenanceConfig 背景維護任務配置
type MaintenanceConfig struct {
	CleanupInterval time.Duration `yaml:"cleanup_interval" validate:"gt=0s"`
	WarmupInterval  time.Duration `yaml:"warmup_interval" validate:"gt=0s"`
	WarmupEnabled   bool          `yaml:"warmup_enabled"`
}

// CompressionConfig 壓縮配置
type CompressionConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Algorithm      string `yaml:"algorithm"`
	ThresholdBytes int    `yaml:"threshold_bytes" validate:"gte=0"`
}

// ResilienceConfig 用於設置重試和熔斷器
type ResilienceConfig struct {
	MaxRetries          int           `yaml:"max_retries" validate:"gte=1"`
	InitialInterval     time.Duration `yaml:"initial_interval" validate:"gte=1ms"`
	MaxInterval         time.Duration `yaml:"max_interval" validate:"gtefield=InitialInterval"`
	Multiplier          float64       `yaml:"multiplier" validate:"gte=1"`
	RandomizationFactor float64       `yaml:"randomization_factor" validate:"gte=0,lte=1"`
	Backoff             string        `yaml:"backoff" validate:"omitempty,oneof=exponential linear fibonacci"`
	BreakerFailures     uint32        `yaml:"breaker_failures" validate:"gt=0"`
	BreakerTimeout      time.Duration `yaml:"breaker_timeout" validate:"gt=0s"`
	BreakerInterval     time.Duration `yaml:"breaker_interval" validate:"gte=0s"`
}

// FilterConfig 用於布隆過濾器的配置
type FilterConfig struct {
	Enabled           bool    `yaml:"enabled"`
	ExpectedItems     uint    `yaml:"expected_items"`
	FalsePositiveRate float64 `yaml:"false_positive_rate"`
}

// WarmupConfig controls the popular-key warmup strategy.
type WarmupConfig struct {
	PopularThreshold int64 `yaml:"popular_threshold" validate:"gte=0"`
	PopularCount     int   `yaml:"popular_count" validate:"gte=0"`
}

// Option 函數類型
type Option func(*Config) error

var (
	// ErrInvalidConfig is wrapped by every configuration validation failure.
	ErrInvalidConfig = errors.New("invalid cache configuration")
)

// ValidationError lists every problem found in a Config.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidConfig, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidConfig
}

// NewConfig 創建一個默認的 Config，允許覆蓋特定參數
func NewConfig(options ...Option) (*Config, error) {
	cfg := Default()
	for _, option := range options {
		if err := option(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// Default returns the social-graph defaults.
func Default() *Config {
	return &Config{
		Namespaces: map[string]NamespaceConfig{
			"friends_relationships": {MaxLocalEntries: 10000, TTL: time.Hour, KeyPrefix: "friends:"},
			"friend_requests":       {MaxLocalEntries: 5000, TTL: 5 * time.Minute, KeyPrefix: "friend_requests:"},
			"user_presence":         {MaxLocalEntries: 20000, TTL: 30 * time.Second, KeyPrefix: "presence:"},
			"recommendations":       {MaxLocalEntries: 2000, TTL: 30 * time.Minute, KeyPrefix: "recommendations:"},
		},
		Distributed: DistributedConfig{
			Enabled:             true,
			Host:                "localhost",
			Port:                6379,
			MaxPoolConnections:  20,
			ConnectTimeout:      5 * time.Second,
			SocketTimeout:       5 * time.Second,
			RetryOnTimeout:      true,
			HealthCheckInterval: 30 * time.Second,
		},
		Maintenance: MaintenanceConfig{
			CleanupInterval: 5 * time.Minute,
			WarmupInterval:  time.Hour,
			WarmupEnabled:   true,
		},
		Compression: CompressionConfig{
			Enabled:        true,
			Algorithm:      compression.Gzip,
			ThresholdBytes: 1024,
		},
		Serialization: serialization.JSONType,
		Resilience: ResilienceConfig{
			MaxRetries:          3,
			InitialInterval:     50 * time.Millisecond,
			MaxInterval:         time.Second,
			Multiplier:          2,
			RandomizationFactor: 0.1,
			Backoff:             "exponential",
			BreakerFailures:     5,
			BreakerTimeout:      30 * time.Second,
			BreakerInterval:     time.Minute,
		},
		Filter: FilterConfig{
			ExpectedItems:     100000,
			FalsePositiveRate: 0.01,
		},
		Warmup: WarmupConfig{
			PopularThreshold: 10,
			PopularCount:     100,
		},
		Logger: zap.NewNop(),
		Clock:  utils.RealClock(),
	}
}

// Clone returns a deep copy; the namespace map is not shared.
func (c *Config) Clone() *Config {
	out := *c
	out.Namespaces = make(map[string]NamespaceConfig, len(c.Namespaces))
	for name, ns := range c.Namespaces {
		out.Namespaces[name] = ns
	}
	return &out
}

// Namespace returns the policy of a declared namespace.
func (c *Config) Namespace(name string) (NamespaceConfig, bool) {
	ns, ok := c.Namespaces[name]
	return ns, ok
}

// NamespaceNames returns the declared namespaces in sorted order.
func (c *Config) NamespaceNames() []string {
	names := make([]string, 0, len(c.Namespaces))
	for name := range c.Namespaces {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Normalize fills derived values: empty key prefixes become "<name>:",
// a nil logger becomes a no-op logger and a nil clock the wall clock.
func (c *Config) Normalize() {
	for name, ns := range c.Namespaces {
		if ns.KeyPrefix == "" {
			ns.KeyPrefix = name + ":"
			c.Namespaces[name] = ns
		}
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Clock == nil {
		c.Clock = utils.RealClock()
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// Validate checks every field and cross-field rule and reports all problems at once.
func (c *Config) Validate() error {
	var problems []string

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		for _, fe := range verrs {
			problems = append(problems, fmt.Sprintf("%s failed %q (%v)", fe.Namespace(), fe.Tag(), fe.Value()))
		}
	}

	problems = append(problems, c.validateNamespaces()...)

	if c.Distributed.Enabled {
		if c.Distributed.Host == "" {
			problems = append(problems, "distributed.host is required when distributed.enabled")
		}
		if c.Distributed.Port <= 0 || c.Distributed.Port > 65535 {
			problems = append(problems, fmt.Sprintf("distributed.port %d out of range", c.Distributed.Port))
		}
		if c.Distributed.MaxPoolConnections <= 0 {
			problems = append(problems, "distributed.max_pool_connections must be positive")
		}
	}

	if c.Compression.Enabled && !compression.IsSupported(c.Compression.Algorithm) {
		problems = append(problems, fmt.Sprintf("compression.algorithm %q is not one of %v", c.Compression.Algorithm, compression.Algorithms()))
	}

	if !serialization.IsSupported(c.Serialization) {
		problems = append(problems, fmt.Sprintf("serialization %q is not one of %v", c.Serialization, serialization.Types()))
	}

	if c.Filter.Enabled {
		if c.Filter.ExpectedItems == 0 {
			problems = append(problems, "filter.expected_items must be positive")
		}
		if c.Filter.FalsePositiveRate <= 0 || c.Filter.FalsePositiveRate >= 1 {
			problems = append(problems, "filter.false_positive_rate must be in (0,1)")
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// validateNamespaces rejects key prefixes that would let one namespace's
// prefix scan reach into another namespace.
func (c *Config) validateNamespaces() []string {
	var problems []string
	names := c.NamespaceNames()
	for _, name := range names {
		if strings.TrimSpace(name) == "" {
			problems = append(problems, "namespace name must not be empty")
		}
	}
	for i, a := range names {
		pa := c.Namespaces[a].KeyPrefix
		for _, b := range names[i+1:] {
			pb := c.Namespaces[b].KeyPrefix
			if strings.HasPrefix(pa, pb) || strings.HasPrefix(pb, pa) {
				problems = append(problems, fmt.Sprintf("namespaces %q and %q have overlapping key prefixes %q and %q", a, b, pa, pb))
			}
		}
	}
	return problems
}

// WithLogger 設置自定義 Logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Config) error {
		if logger != nil {
			c.Logger = logger
		}
		return nil
	}
}

// WithClock replaces the wall clock, mainly for tests.
func WithClock(clock utils.Clock) Option {
	return func(c *Config) error {
		if clock == nil {
			return errors.New("clock must not be nil")
		}
		c.Clock = clock
		return nil
	}
}

// WithNamespace declares or replaces a namespace.
func WithNamespace(name string, ns NamespaceConfig) Option {
	return func(c *Config) error {
		if name == "" {
			return errors.New("namespace name must not be empty")
		}
		if c.Namespaces == nil {
			c.Namespaces = make(map[string]NamespaceConfig)
		}
		c.Namespaces[name] = ns
		return nil
	}
}

// WithOnlyNamespaces drops the default namespaces and declares exactly the given ones.
func WithOnlyNamespaces(namespaces map[string]NamespaceConfig) Option {
	return func(c *Config) error {
		c.Namespaces = make(map[string]NamespaceConfig, len(namespaces))
		for name, ns := range namespaces {
			c.Namespaces[name] = ns
		}
		return nil
	}
}

// WithRedis 設置 Redis 連線位置
func WithRedis(host string, port int, password string, db int) Option {
	return func(c *Config) error {
		c.Distributed.Enabled = true
		c.Distributed.Host = host
		c.Distributed.Port = port
		c.Distributed.Password = password
		c.Distributed.DB = db
		return nil
	}
}

// WithoutDistributed runs the cache local-only.
func WithoutDistributed() Option {
	return func(c *Config) error {
		c.Distributed.Enabled = false
		return nil
	}
}

// WithCompression 設置壓縮演算法與閾值
func WithCompression(algorithm string, thresholdBytes int) Option {
	return func(c *Config) error {
		c.Compression.Enabled = true
		c.Compression.Algorithm = algorithm
		c.Compression.ThresholdBytes = thresholdBytes
		return nil
	}
}

// WithSerialization 設置序列化方式
func WithSerialization(serializer string) Option {
	return func(c *Config) error {
		c.Serialization = serializer
		return nil
	}
}

// WithMaintenance sets the cleanup and warmup intervals.
func WithMaintenance(cleanup, warmup time.Duration, warmupEnabled bool) Option {
	return func(c *Config) error {
		c.Maintenance.CleanupInterval = cleanup
		c.Maintenance.WarmupInterval = warmup
		c.Maintenance.WarmupEnabled = warmupEnabled
		return nil
	}
}
