package config

import (
	"time"
)

// Default configuration values.
const (
	defaultServiceName        = "price-tracker"
	defaultServiceVersion     = "1.0.0"
	defaultServicePort        = 8090
	defaultDBHost             = "localhost"
	defaultDBPort             = 5432
	defaultDBUser             = "postgres"
	defaultDBName             = "pricetracker"
	defaultDBSSLMode          = "disable"
	defaultDBMaxConns         = 25
	defaultDBMaxIdleConns     = 5
	defaultRedisURL           = "localhost:6379"
	defaultRedisTimeoutSec    = 5
	defaultEventStream        = "price-tracker:events"
	defaultEventStreamMaxLen  = 10000
	defaultLogLevel           = "info"
	defaultProviderBaseURL    = "https://api.scraperapi.com"
	defaultProviderTimeoutSec = 30
	defaultProviderRPS        = 2.0
	defaultProviderBurst      = 4
	defaultMonthlyBudgetUSD   = 10.0
	defaultCostPer1000USD     = 1.0
	defaultRequestCost        = 1
	defaultTrackingBatchSize  = 50
	defaultBaseSkipThreshold  = 6
	defaultHeavySkipThreshold = 12
	defaultBaseSkipHours      = 12
	defaultHeavySkipHours     = 36
	defaultMaxRetries         = 2
	defaultExhaustedHours     = 24
	defaultQuickStartLimit    = 30
	defaultMatchingBatchSize  = 20
	defaultMinMatchScore      = 60
	defaultBatchDelayMin      = 10
	defaultHeavyMatchingDaily = 10
	defaultStoresDaily        = 5
	defaultURLsDaily          = 100
	defaultPollIntervalSec    = 30
	defaultStaleAfterMin      = 15
	defaultCleanupAfterHours  = 168
	defaultTrackingSchedule   = "*/15 * * * *"
	defaultCleanupSchedule    = "0 3 * * *"
	defaultPlan               = "starter"
)

// defaultRetryBackoffs is the per-attempt delay table for failed checks.
var defaultRetryBackoffs = []time.Duration{60 * time.Second, 300 * time.Second}

// Config holds all configuration for the price tracker. It is built once at
// startup and passed by reference; nothing mutates it afterwards.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Logging   LoggingConfig   `yaml:"logging"`
	Provider  ProviderConfig  `yaml:"provider"`
	Budget    BudgetConfig    `yaml:"budget"`
	Tracking  TrackingConfig  `yaml:"tracking"`
	Matching  MatchingConfig  `yaml:"matching"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Worker    WorkerConfig    `yaml:"worker"`
	Plans     PlansConfig     `yaml:"plans"`
}

// ServiceConfig holds service-level configuration.
type ServiceConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Port    int    `env:"TRACKER_PORT" yaml:"port"`
	Debug   bool   `env:"APP_DEBUG"    yaml:"debug"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Host            string        `env:"POSTGRES_HOST"     yaml:"host"`
	Port            int           `env:"POSTGRES_PORT"     yaml:"port"`
	User            string        `env:"POSTGRES_USER"     yaml:"user"`
	Password        string        `env:"POSTGRES_PASSWORD" yaml:"password"`
	Database        string        `env:"POSTGRES_DB"       yaml:"database"`
	SSLMode         string        `env:"POSTGRES_SSLMODE"  yaml:"sslmode"`
	MaxConnections  int           `yaml:"max_connections"`
	MaxIdleConns    int           `yaml:"max_idle_connections"`
	ConnMaxLifetime time.Duration `yaml:"connection_max_lifetime"`
}

// RedisConfig holds Redis configuration for the event stream.
type RedisConfig struct {
	URL               string        `env:"REDIS_URL"      yaml:"url"`
	Password          string        `env:"REDIS_PASSWORD" yaml:"password"`
	Database          int           `yaml:"database"`
	Timeout           time.Duration `yaml:"timeout"`
	EventStream       string        `yaml:"event_stream"`
	EventStreamMaxLen int64         `yaml:"event_stream_max_len"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level       string `env:"LOG_LEVEL" yaml:"level"`
	Development bool   `yaml:"development"`
}

// ProviderConfig holds the metered scraping provider settings.
// Credentials come from the environment only; they are never written to YAML.
type ProviderConfig struct {
	BaseURL           string        `env:"SCRAPER_BASE_URL" yaml:"base_url"`
	APIKey            string        `env:"SCRAPER_API_KEY"  yaml:"-"`
	Timeout           time.Duration `yaml:"timeout"`
	RenderJS          bool          `yaml:"render_js"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
}

// BudgetConfig drives the request budget ledger.
type BudgetConfig struct {
	MonthlyBudgetUSD    float64 `env:"MONTHLY_BUDGET_USD"     yaml:"monthly_budget_usd"`
	CostPer1000Requests float64 `env:"COST_PER_1000_REQUESTS" yaml:"cost_per_1000_requests"`
	RequestCost         int     `yaml:"request_cost"`
	// FailClosed blocks scraping when the ledger store is unreachable,
	// trading availability for strict cost enforcement. Unset, the ledger
	// fails open and the scrape proceeds unmetered.
	FailClosed bool `yaml:"fail_closed"`
}

// MonthlyLimit derives the monthly request cap from the cost model.
func (b BudgetConfig) MonthlyLimit() int {
	if b.CostPer1000Requests <= 0 {
		return 0
	}
	return int(b.MonthlyBudgetUSD / b.CostPer1000Requests * 1000)
}

// DailyLimit derives the daily request cap from the monthly cap.
func (b BudgetConfig) DailyLimit() int {
	return b.MonthlyLimit() / 30
}

// TrackingConfig holds the tracking pass and its two scheduling policies.
type TrackingConfig struct {
	BatchSize int             `yaml:"batch_size"`
	SmartSkip SmartSkipConfig `yaml:"smart_skip"`
	Retry     RetryConfig     `yaml:"retry"`
}

// SmartSkipConfig widens the check interval for links whose price is stable.
type SmartSkipConfig struct {
	BaseThreshold  int           `yaml:"base_threshold"`
	HeavyThreshold int           `yaml:"heavy_threshold"`
	BaseSkip       time.Duration `yaml:"base_skip"`
	HeavySkip      time.Duration `yaml:"heavy_skip"`
}

// RetryConfig schedules re-checks after failed fetches.
type RetryConfig struct {
	MaxRetries       int             `yaml:"max_retries"`
	Backoffs         []time.Duration `yaml:"backoffs"`
	ExhaustedBackoff time.Duration   `yaml:"exhausted_backoff"`
}

// MatchingConfig holds quick-start and batch matching settings.
type MatchingConfig struct {
	QuickStartLimit int           `yaml:"quick_start_limit"`
	BatchSize       int           `yaml:"batch_size"`
	MinScore        int           `yaml:"min_score"`
	BatchDelay      time.Duration `yaml:"batch_delay"`
}

// RateLimitConfig caps structural operations per user per day.
type RateLimitConfig struct {
	HeavyMatchingPerDay    int `yaml:"heavy_matching_per_day"`
	CompetitorStoresPerDay int `yaml:"competitor_stores_per_day"`
	URLsPerDay             int `yaml:"urls_per_day"`
}

// WorkerConfig holds the job worker and cron dispatcher settings.
type WorkerConfig struct {
	PollInterval     time.Duration `yaml:"poll_interval"`
	StaleAfter       time.Duration `yaml:"stale_after"`
	CleanupAfter     time.Duration `yaml:"cleanup_after"`
	TrackingSchedule string        `yaml:"tracking_schedule"`
	CleanupSchedule  string        `yaml:"cleanup_schedule"`
}

// PlansConfig maps plan names to entitlements.
type PlansConfig struct {
	Default string                `yaml:"default"`
	Tiers   map[string]PlanLimits `yaml:"tiers"`
}

// PlanLimits holds the entitlements of one subscription plan.
type PlanLimits struct {
	TrackingRunsPerDay    int `yaml:"tracking_runs_per_day"`
	ProductLimit          int `yaml:"product_limit"`
	CompetitorsPerProduct int `yaml:"competitors_per_product"`
	DiscoveryPerMonth     int `yaml:"discovery_per_month"`
}

// Limits returns the entitlements for the named plan, falling back to the
// default tier when the name is unknown.
func (p PlansConfig) Limits(plan string) PlanLimits {
	if limits, ok := p.Tiers[plan]; ok {
		return limits
	}
	return p.Tiers[p.Default]
}

// Load loads configuration from the specified path.
func Load(path string) (*Config, error) {
	return loadFile(path)
}

// setDefaults applies default values to the config.
func setDefaults(cfg *Config) {
	setServiceDefaults(&cfg.Service)
	setDatabaseDefaults(&cfg.Database)
	setRedisDefaults(&cfg.Redis)
	setLoggingDefaults(&cfg.Logging)
	setProviderDefaults(&cfg.Provider)
	setBudgetDefaults(&cfg.Budget)
	setTrackingDefaults(&cfg.Tracking)
	setMatchingDefaults(&cfg.Matching)
	setRateLimitDefaults(&cfg.RateLimit)
	setWorkerDefaults(&cfg.Worker)
	setPlanDefaults(&cfg.Plans)
}

func setServiceDefaults(s *ServiceConfig) {
	if s.Name == "" {
		s.Name = defaultServiceName
	}
	if s.Version == "" {
		s.Version = defaultServiceVersion
	}
	if s.Port == 0 {
		s.Port = defaultServicePort
	}
}

func setDatabaseDefaults(d *DatabaseConfig) {
	if d.Host == "" {
		d.Host = defaultDBHost
	}
	if d.Port == 0 {
		d.Port = defaultDBPort
	}
	if d.User == "" {
		d.User = defaultDBUser
	}
	if d.Database == "" {
		d.Database = defaultDBName
	}
	if d.SSLMode == "" {
		d.SSLMode = defaultDBSSLMode
	}
	if d.MaxConnections == 0 {
		d.MaxConnections = defaultDBMaxConns
	}
	if d.MaxIdleConns == 0 {
		d.MaxIdleConns = defaultDBMaxIdleConns
	}
	if d.ConnMaxLifetime == 0 {
		d.ConnMaxLifetime = time.Hour
	}
}

func setRedisDefaults(r *RedisConfig) {
	if r.URL == "" {
		r.URL = defaultRedisURL
	}
	if r.Timeout == 0 {
		r.Timeout = defaultRedisTimeoutSec * time.Second
	}
	if r.EventStream == "" {
		r.EventStream = defaultEventStream
	}
	if r.EventStreamMaxLen == 0 {
		r.EventStreamMaxLen = defaultEventStreamMaxLen
	}
}

func setLoggingDefaults(l *LoggingConfig) {
	if l.Level == "" {
		l.Level = defaultLogLevel
	}
}

func setProviderDefaults(p *ProviderConfig) {
	if p.BaseURL == "" {
		p.BaseURL = defaultProviderBaseURL
	}
	if p.Timeout == 0 {
		p.Timeout = defaultProviderTimeoutSec * time.Second
	}
	if p.RequestsPerSecond == 0 {
		p.RequestsPerSecond = defaultProviderRPS
	}
	if p.Burst == 0 {
		p.Burst = defaultProviderBurst
	}
}

func setBudgetDefaults(b *BudgetConfig) {
	if b.MonthlyBudgetUSD == 0 {
		b.MonthlyBudgetUSD = defaultMonthlyBudgetUSD
	}
	if b.CostPer1000Requests == 0 {
		b.CostPer1000Requests = defaultCostPer1000USD
	}
	if b.RequestCost == 0 {
		b.RequestCost = defaultRequestCost
	}
}

func setTrackingDefaults(t *TrackingConfig) {
	if t.BatchSize == 0 {
		t.BatchSize = defaultTrackingBatchSize
	}
	if t.SmartSkip.BaseThreshold == 0 {
		t.SmartSkip.BaseThreshold = defaultBaseSkipThreshold
	}
	if t.SmartSkip.HeavyThreshold == 0 {
		t.SmartSkip.HeavyThreshold = defaultHeavySkipThreshold
	}
	if t.SmartSkip.BaseSkip == 0 {
		t.SmartSkip.BaseSkip = defaultBaseSkipHours * time.Hour
	}
	if t.SmartSkip.HeavySkip == 0 {
		t.SmartSkip.HeavySkip = defaultHeavySkipHours * time.Hour
	}
	if t.Retry.MaxRetries == 0 {
		t.Retry.MaxRetries = defaultMaxRetries
	}
	if len(t.Retry.Backoffs) == 0 {
		t.Retry.Backoffs = defaultRetryBackoffs
	}
	if t.Retry.ExhaustedBackoff == 0 {
		t.Retry.ExhaustedBackoff = defaultExhaustedHours * time.Hour
	}
}

func setMatchingDefaults(m *MatchingConfig) {
	if m.QuickStartLimit == 0 {
		m.QuickStartLimit = defaultQuickStartLimit
	}
	if m.BatchSize == 0 {
		m.BatchSize = defaultMatchingBatchSize
	}
	if m.MinScore == 0 {
		m.MinScore = defaultMinMatchScore
	}
	if m.BatchDelay == 0 {
		m.BatchDelay = defaultBatchDelayMin * time.Minute
	}
}

func setRateLimitDefaults(r *RateLimitConfig) {
	if r.HeavyMatchingPerDay == 0 {
		r.HeavyMatchingPerDay = defaultHeavyMatchingDaily
	}
	if r.CompetitorStoresPerDay == 0 {
		r.CompetitorStoresPerDay = defaultStoresDaily
	}
	if r.URLsPerDay == 0 {
		r.URLsPerDay = defaultURLsDaily
	}
}

func setWorkerDefaults(w *WorkerConfig) {
	if w.PollInterval == 0 {
		w.PollInterval = defaultPollIntervalSec * time.Second
	}
	if w.StaleAfter == 0 {
		w.StaleAfter = defaultStaleAfterMin * time.Minute
	}
	if w.CleanupAfter == 0 {
		w.CleanupAfter = defaultCleanupAfterHours * time.Hour
	}
	if w.TrackingSchedule == "" {
		w.TrackingSchedule = defaultTrackingSchedule
	}
	if w.CleanupSchedule == "" {
		w.CleanupSchedule = defaultCleanupSchedule
	}
}

func setPlanDefaults(p *PlansConfig) {
	if p.Default == "" {
		p.Default = defaultPlan
	}
	if len(p.Tiers) == 0 {
		p.Tiers = map[string]PlanLimits{
			"free":     {TrackingRunsPerDay: 0, ProductLimit: 5, CompetitorsPerProduct: 3, DiscoveryPerMonth: 50},
			"starter":  {TrackingRunsPerDay: 1, ProductLimit: 50, CompetitorsPerProduct: 5, DiscoveryPerMonth: 500},
			"growth":   {TrackingRunsPerDay: 4, ProductLimit: 250, CompetitorsPerProduct: 10, DiscoveryPerMonth: 2000},
			"business": {TrackingRunsPerDay: 12, ProductLimit: 1000, CompetitorsPerProduct: 20, DiscoveryPerMonth: 10000},
		}
	}
}
