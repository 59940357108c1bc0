package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/RecoveryAshes/yatucrawl/internal/adapter"
	"github.com/RecoveryAshes/yatucrawl/internal/crawlers"
	"github.com/RecoveryAshes/yatucrawl/internal/models"
	"github.com/RecoveryAshes/yatucrawl/internal/resolver"
	"github.com/RecoveryAshes/yatucrawl/internal/store"
	"github.com/RecoveryAshes/yatucrawl/internal/utils"
)

// EnvPrefix 环境变量前缀, 如 YATU_CRAWL_SERIES_WORKERS
const EnvPrefix = "YATU"

// Config 应用程序配置
type Config struct {
	Crawl   CrawlConfig   `mapstructure:"crawl"`
	Fetch   FetchConfig   `mapstructure:"fetch"`
	Backoff BackoffConfig `mapstructure:"backoff"`
	Store   StoreConfig   `mapstructure:"store"`
	Site    SiteConfig    `mapstructure:"site"`
	Logging LoggingConfig `mapstructure:"logging"`
	Output  OutputConfig  `mapstructure:"output"`
}

// CrawlConfig 调度配置
type CrawlConfig struct {
	SeriesWorkers  int `mapstructure:"series_workers"`
	EpisodeWorkers int `mapstructure:"episode_workers"`
	BatchSize      int `mapstructure:"batch_size"` // <=0 表示单批
	MemoryLimitMB  int `mapstructure:"memory_limit_mb"`
	BatchDelaySec  int `mapstructure:"batch_delay_sec"`
	ListingWorkers int `mapstructure:"listing_workers"`
	MaxPages       int `mapstructure:"max_pages"`
	MaxEpisodes    int `mapstructure:"max_episodes"` // 单个剧集集数上限
}

// FetchConfig 抓取配置
type FetchConfig struct {
	TimeoutSec  int     `mapstructure:"timeout_sec"`
	UserAgent   string  `mapstructure:"user_agent"`
	MaxInFlight int64   `mapstructure:"max_in_flight"`
	RPS         float64 `mapstructure:"rps"`
	Burst       int     `mapstructure:"burst"`
	Mode        string  `mapstructure:"mode"` // http | browser
	Headless    bool    `mapstructure:"headless"`
	BrowserTabs int     `mapstructure:"browser_tabs"`
	HeadersFile string  `mapstructure:"headers_file"`
}

// BackoffConfig 退避配置
type BackoffConfig struct {
	MaxConsecutiveFailures int `mapstructure:"max_consecutive_failures"`
	CooldownSec            int `mapstructure:"cooldown_sec"`
	MinMarkerHits          int `mapstructure:"min_marker_hits"`
}

// StoreConfig 存储配置
type StoreConfig struct {
	Driver string `mapstructure:"driver"` // sqlite | postgres | memory
	Path   string `mapstructure:"path"`
	DSN    string `mapstructure:"dsn"`
}

// SiteConfig 站点相关配置
type SiteConfig struct {
	BaseURL        string            `mapstructure:"base_url"`
	Categories     []string          `mapstructure:"categories"`
	IframeIDs      []string          `mapstructure:"iframe_ids"`
	PlayerDomains  []string          `mapstructure:"player_domains"`
	CDNTemplates   []string          `mapstructure:"cdn_templates"`
	MaxNestedDepth int               `mapstructure:"max_nested_depth"`
	EpisodePattern string            `mapstructure:"episode_pattern"`
	EpisodeFormat  string            `mapstructure:"episode_format"`
	Selectors      adapter.Selectors `mapstructure:"selectors"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level    string         `mapstructure:"level"`
	LogDir   string         `mapstructure:"log_dir"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig 日志轮转配置
type RotationConfig struct {
	MaxSize    int  `mapstructure:"max_size"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAge     int  `mapstructure:"max_age"`
	Compress   bool `mapstructure:"compress"`
}

// OutputConfig 输出配置
type OutputConfig struct {
	ReportDir string `mapstructure:"report_dir"`
}

// LoadConfig 加载配置文件
// configPath 为空时依次搜索 ./configs, . 和 ~/.yatucrawl; 找不到文件时只使用默认值
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".yatucrawl"))
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, &models.ConfigError{FilePath: configPath, Cause: err}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &models.ConfigError{FilePath: v.ConfigFileUsed(), Cause: fmt.Errorf("解析配置失败: %w", err)}
	}
	if used := v.ConfigFileUsed(); used != "" {
		utils.Debugf("使用配置文件: %s", used)
	}
	return &cfg, nil
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	v.SetDefault("crawl.series_workers", 10)
	v.SetDefault("crawl.episode_workers", 10)
	v.SetDefault("crawl.batch_size", 5)
	v.SetDefault("crawl.memory_limit_mb", 1024)
	v.SetDefault("crawl.batch_delay_sec", 2)
	v.SetDefault("crawl.listing_workers", 1)
	v.SetDefault("crawl.max_pages", 500)
	v.SetDefault("crawl.max_episodes", resolver.DefaultMaxEpisodes)

	v.SetDefault("fetch.timeout_sec", 10)
	v.SetDefault("fetch.user_agent", DefaultUserAgent)
	v.SetDefault("fetch.max_in_flight", 32)
	v.SetDefault("fetch.rps", 0)
	v.SetDefault("fetch.burst", 1)
	v.SetDefault("fetch.mode", "http")
	v.SetDefault("fetch.headless", true)
	v.SetDefault("fetch.browser_tabs", 4)
	v.SetDefault("fetch.headers_file", "configs/headers.yaml")

	v.SetDefault("backoff.max_consecutive_failures", 10)
	v.SetDefault("backoff.cooldown_sec", 30)
	v.SetDefault("backoff.min_marker_hits", 2)

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "data/yatu.db")
	v.SetDefault("store.dsn", "")

	chain := resolver.DefaultChainConfig()
	v.SetDefault("site.base_url", "http://www.yatu.tv")
	v.SetDefault("site.categories", []string{})
	v.SetDefault("site.iframe_ids", chain.IframeIDs)
	v.SetDefault("site.player_domains", []string{})
	v.SetDefault("site.cdn_templates", []string{})
	v.SetDefault("site.max_nested_depth", chain.MaxNestedDepth)
	v.SetDefault("site.episode_pattern", resolver.DefaultEpisodeTemplate.Pattern.String())
	v.SetDefault("site.episode_format", resolver.DefaultEpisodeTemplate.Format)
	sel := adapter.DefaultSelectors()
	v.SetDefault("site.selectors.item", sel.Item)
	v.SetDefault("site.selectors.series_id", sel.SeriesID)
	v.SetDefault("site.selectors.next_page", sel.NextPage)
	v.SetDefault("site.selectors.episode", sel.Episode)
	v.SetDefault("site.selectors.title", sel.Title)
	v.SetDefault("site.selectors.description", sel.Description)
	v.SetDefault("site.selectors.metadata_fields", sel.MetadataFields)
	v.SetDefault("site.selectors.source", sel.Source)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.log_dir", "logs")
	v.SetDefault("logging.rotation.max_size", 10)
	v.SetDefault("logging.rotation.max_backups", 3)
	v.SetDefault("logging.rotation.max_age", 28)
	v.SetDefault("logging.rotation.compress", true)

	v.SetDefault("output.report_dir", "reports")
}

// Validate 校验配置, 失败返回 *models.ValidationError
func (c *Config) Validate() error {
	positive := []struct {
		field string
		value int
	}{
		{"crawl.series_workers", c.Crawl.SeriesWorkers},
		{"crawl.episode_workers", c.Crawl.EpisodeWorkers},
		{"crawl.listing_workers", c.Crawl.ListingWorkers},
		{"crawl.max_pages", c.Crawl.MaxPages},
		{"crawl.max_episodes", c.Crawl.MaxEpisodes},
		{"fetch.timeout_sec", c.Fetch.TimeoutSec},
		{"fetch.max_in_flight", int(c.Fetch.MaxInFlight)},
		{"backoff.max_consecutive_failures", c.Backoff.MaxConsecutiveFailures},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return &models.ValidationError{Field: p.field, Reason: fmt.Sprintf("必须大于0, 当前为 %d", p.value)}
		}
	}
	if c.Crawl.MemoryLimitMB < 0 || c.Crawl.BatchDelaySec < 0 || c.Backoff.CooldownSec < 0 || c.Fetch.RPS < 0 {
		return &models.ValidationError{Field: "crawl", Reason: "memory_limit_mb、batch_delay_sec、cooldown_sec 和 rps 不能为负数"}
	}

	switch c.Fetch.Mode {
	case "http", "browser":
	default:
		return &models.ValidationError{Field: "fetch.mode", Reason: fmt.Sprintf("不支持的抓取模式 %q", c.Fetch.Mode), Suggestion: "使用 http 或 browser"}
	}

	switch c.Store.Driver {
	case "sqlite", "sqlite3":
		if c.Store.Path == "" {
			return &models.ValidationError{Field: "store.path", Reason: "SQLite 存储需要文件路径"}
		}
	case "postgres", "postgresql":
		if c.Store.DSN == "" {
			return &models.ValidationError{Field: "store.dsn", Reason: "Postgres 存储需要连接串", Suggestion: "设置 YATU_STORE_DSN"}
		}
	case "memory":
	default:
		return &models.ValidationError{Field: "store.driver", Reason: fmt.Sprintf("不支持的存储驱动 %q", c.Store.Driver), Suggestion: "使用 sqlite、postgres 或 memory"}
	}

	if err := models.ValidateURL(c.Site.BaseURL); err != nil {
		return &models.ValidationError{Field: "site.base_url", Reason: err.Error()}
	}
	if _, err := c.EpisodeTemplate(); err != nil {
		return &models.ValidationError{Field: "site.episode_pattern", Reason: err.Error()}
	}
	if _, err := adapter.NewYatuAdapter(c.Site.BaseURL, c.Site.Selectors); err != nil {
		return &models.ValidationError{Field: "site.selectors.series_id", Reason: err.Error()}
	}
	return nil
}

// ValidateCategories 校验分类模板
func ValidateCategories(categories []string) error {
	if len(categories) == 0 {
		return &models.ValidationError{
			Field:      "site.categories",
			Reason:     "没有可爬取的分类",
			Suggestion: "使用 -u、--category-file 或在配置中设置 site.categories",
		}
	}
	for _, c := range categories {
		if err := utils.ValidateCategoryTemplate(c); err != nil {
			return &models.ValidationError{Field: "site.categories", Reason: fmt.Sprintf("%s: %v", c, err)}
		}
	}
	return nil
}

// FetchSettings 转换为抓取器配置
func (c *Config) FetchSettings() crawlers.FetchConfig {
	return crawlers.FetchConfig{
		Timeout:     time.Duration(c.Fetch.TimeoutSec) * time.Second,
		UserAgent:   c.Fetch.UserAgent,
		MaxInFlight: c.Fetch.MaxInFlight,
		RPS:         c.Fetch.RPS,
		Burst:       c.Fetch.Burst,
		Headless:    c.Fetch.Headless,
		BrowserTabs: c.Fetch.BrowserTabs,
	}
}

// BackoffSettings 转换为退避配置
func (c *Config) BackoffSettings() crawlers.BackoffConfig {
	return crawlers.BackoffConfig{
		Threshold: c.Backoff.MaxConsecutiveFailures,
		Cooldown:  time.Duration(c.Backoff.CooldownSec) * time.Second,
	}
}

// ChainSettings 转换为解析链配置
func (c *Config) ChainSettings() resolver.ChainConfig {
	return resolver.ChainConfig{
		IframeIDs:      c.Site.IframeIDs,
		PlayerDomains:  c.Site.PlayerDomains,
		CDNTemplates:   c.Site.CDNTemplates,
		MaxNestedDepth: c.Site.MaxNestedDepth,
	}
}

// StoreSettings 转换为存储配置
func (c *Config) StoreSettings() store.Config {
	return store.Config{Driver: c.Store.Driver, Path: c.Store.Path, DSN: c.Store.DSN}
}

// EpisodeTemplate 分集URL模板
func (c *Config) EpisodeTemplate() (*resolver.EpisodeTemplate, error) {
	tpl := resolver.DefaultEpisodeTemplate
	if c.Site.EpisodePattern != "" {
		var err error
		if tpl, err = resolver.NewEpisodeTemplate(c.Site.EpisodePattern, c.Site.EpisodeFormat); err != nil {
			return nil, err
		}
	}
	return tpl.WithMaxEpisodes(c.Crawl.MaxEpisodes), nil
}

// LogSettings 转换为日志配置
func (c *Config) LogSettings() utils.LogConfig {
	return utils.LogConfig{
		Level:      c.Logging.Level,
		LogDir:     c.Logging.LogDir,
		MaxSize:    c.Logging.Rotation.MaxSize,
		MaxBackups: c.Logging.Rotation.MaxBackups,
		MaxAge:     c.Logging.Rotation.MaxAge,
		Compress:   c.Logging.Rotation.Compress,
	}
}

// MergeCLIFlags 合并命令行参数, 大于0的值覆盖配置
func (c *Config) MergeCLIFlags(seriesWorkers, episodeWorkers, batchSize, maxPages int, logLevel string) {
	if seriesWorkers > 0 {
		c.Crawl.SeriesWorkers = seriesWorkers
	}
	if episodeWorkers > 0 {
		c.Crawl.EpisodeWorkers = episodeWorkers
	}
	if batchSize > 0 {
		c.Crawl.BatchSize = batchSize
	}
	if maxPages > 0 {
		c.Crawl.MaxPages = maxPages
	}
	if logLevel != "" {
		c.Logging.Level = logLevel
	}
}
