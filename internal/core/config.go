package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/RecoveryAshes/codexharvest/internal/browser"
	"github.com/RecoveryAshes/codexharvest/internal/extractors"
	"github.com/RecoveryAshes/codexharvest/internal/models"
	"github.com/RecoveryAshes/codexharvest/internal/utils"
	"github.com/spf13/viper"
)

// Config 应用程序配置
type Config struct {
	Browser BrowserConfig `mapstructure:"browser"`
	Scrape  ScrapeConfig  `mapstructure:"scrape"`
	Targets TargetsConfig `mapstructure:"targets"`
	Output  OutputConfig  `mapstructure:"output"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// BrowserConfig 浏览器会话配置
type BrowserConfig struct {
	Endpoint    string `mapstructure:"endpoint"`
	Launch      bool   `mapstructure:"launch"`
	Headless    bool   `mapstructure:"headless"`
	UserDataDir string `mapstructure:"user_data_dir"`
	Bin         string `mapstructure:"bin"`
	Stealth     bool   `mapstructure:"stealth"`
	HeadersFile string `mapstructure:"headers_file"`
}

// ScrapeConfig 提取调度配置
type ScrapeConfig struct {
	Concurrency        int           `mapstructure:"concurrency"`
	BatchDelay         time.Duration `mapstructure:"batch_delay"`
	NavTimeout         time.Duration `mapstructure:"nav_timeout"`
	WaitUntil          string        `mapstructure:"wait_until"`
	NavRetries         int           `mapstructure:"nav_retries"`
	RetryBackoff       time.Duration `mapstructure:"retry_backoff"`
	RetryBackoffStep   time.Duration `mapstructure:"retry_backoff_step"`
	SettleDelay        time.Duration `mapstructure:"settle_delay"`
	FieldTimeout       time.Duration `mapstructure:"field_timeout"`
	ViewSettleDelay    time.Duration `mapstructure:"view_settle_delay"`
	RestoreSettleDelay time.Duration `mapstructure:"restore_settle_delay"`
	RateLimit          float64       `mapstructure:"rate_limit"` // 每秒导航次数,0表示不限
	Adaptive           bool          `mapstructure:"adaptive"`
	Resume             bool          `mapstructure:"resume"`
}

// TargetsConfig 目标列表配置
type TargetsConfig struct {
	Pattern    string        `mapstructure:"pattern"`
	ListingURL string        `mapstructure:"listing_url"`
	ScrollWait time.Duration `mapstructure:"scroll_wait"`
	MaxScrolls int           `mapstructure:"max_scrolls"`
}

// OutputConfig 输出配置
type OutputConfig struct {
	Dir          string `mapstructure:"dir"`
	Format       string `mapstructure:"format"`        // json | yaml
	ReportFormat string `mapstructure:"report_format"` // html | md
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

// EnvPrefix 环境变量前缀,如 CODEXHARVEST_SCRAPE_CONCURRENCY
const EnvPrefix = "CODEXHARVEST"

// LoadConfig 加载配置文件
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
			v.AddConfigPath(filepath.Join(home, ".codexharvest"))
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
		// 配置文件不存在,使用默认值
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, &models.ConfigError{FilePath: v.ConfigFileUsed(), Cause: fmt.Errorf("解析配置失败: %w", err)}
	}

	return &config, nil
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	v.SetDefault("browser.endpoint", browser.DefaultEndpoint)
	v.SetDefault("browser.launch", false)
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.stealth", true)
	v.SetDefault("browser.headers_file", "configs/headers.yaml")

	v.SetDefault("scrape.concurrency", 2)
	v.SetDefault("scrape.batch_delay", "2s")
	v.SetDefault("scrape.nav_timeout", "30s")
	v.SetDefault("scrape.wait_until", string(browser.WaitNetworkIdle))
	v.SetDefault("scrape.nav_retries", 3)
	v.SetDefault("scrape.retry_backoff", "2s")
	v.SetDefault("scrape.retry_backoff_step", "1s")
	v.SetDefault("scrape.settle_delay", "3s")
	v.SetDefault("scrape.field_timeout", "15s")
	v.SetDefault("scrape.view_settle_delay", "1500ms")
	v.SetDefault("scrape.restore_settle_delay", "1s")
	v.SetDefault("scrape.rate_limit", 0)
	v.SetDefault("scrape.adaptive", false)
	v.SetDefault("scrape.resume", false)

	v.SetDefault("targets.pattern", models.DefaultTargetPattern)
	v.SetDefault("targets.listing_url", DefaultListingURL)
	v.SetDefault("targets.scroll_wait", "1s")
	v.SetDefault("targets.max_scrolls", 200)

	v.SetDefault("output.dir", "codex_tasks")
	v.SetDefault("output.format", "json")
	v.SetDefault("output.report_format", "html")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.log_dir", "logs")
	v.SetDefault("logging.rotation.max_size", 10)
	v.SetDefault("logging.rotation.max_backups", 3)
	v.SetDefault("logging.rotation.max_age", 28)
	v.SetDefault("logging.rotation.compress", true)
}

// Validate 检查配置取值
func (c *Config) Validate() error {
	if c.Scrape.Concurrency < 1 {
		return fmt.Errorf("scrape.concurrency 必须 >= 1, 当前 %d", c.Scrape.Concurrency)
	}
	if c.Scrape.NavRetries < 1 {
		return fmt.Errorf("scrape.nav_retries 必须 >= 1, 当前 %d", c.Scrape.NavRetries)
	}
	if c.Scrape.NavTimeout <= 0 || c.Scrape.FieldTimeout <= 0 {
		return fmt.Errorf("scrape.nav_timeout 与 scrape.field_timeout 必须为正数")
	}
	if c.Scrape.RateLimit < 0 {
		return fmt.Errorf("scrape.rate_limit 不能为负数")
	}
	if _, err := browser.ParseWaitCondition(c.Scrape.WaitUntil); err != nil {
		return err
	}
	if _, err := models.NewTargetMatcher(c.Targets.Pattern); err != nil {
		return err
	}
	switch c.Output.Format {
	case "json", "yaml":
	default:
		return fmt.Errorf("output.format 只支持 json 或 yaml, 当前 %q", c.Output.Format)
	}
	switch c.Output.ReportFormat {
	case "html", "md":
	default:
		return fmt.Errorf("output.report_format 只支持 html 或 md, 当前 %q", c.Output.ReportFormat)
	}
	return nil
}

// LogConfig 转换为日志系统配置
func (c *Config) LogConfig() utils.LogConfig {
	return utils.LogConfig{
		Level:      c.Logging.Level,
		LogDir:     c.Logging.LogDir,
		MaxSize:    c.Logging.Rotation.MaxSize,
		MaxBackups: c.Logging.Rotation.MaxBackups,
		MaxAge:     c.Logging.Rotation.MaxAge,
		Compress:   c.Logging.Rotation.Compress,
	}
}

// ExecutorConfig 从配置生成任务执行参数
func (c *Config) ExecutorConfig() ExecutorConfig {
	wait, _ := browser.ParseWaitCondition(c.Scrape.WaitUntil)
	return ExecutorConfig{
		NavTimeout:       c.Scrape.NavTimeout,
		WaitUntil:        wait,
		NavRetries:       c.Scrape.NavRetries,
		RetryBackoff:     c.Scrape.RetryBackoff,
		RetryBackoffStep: c.Scrape.RetryBackoffStep,
		SettleDelay:      c.Scrape.SettleDelay,
	}
}

// ExtractorOptions 字段提取参数,视图标签沿用默认值
func (c *Config) ExtractorOptions() extractors.Options {
	opts := extractors.DefaultOptions()
	opts.FieldTimeout = c.Scrape.FieldTimeout
	opts.ViewSettleDelay = c.Scrape.ViewSettleDelay
	opts.RestoreSettleDelay = c.Scrape.RestoreSettleDelay
	return opts
}

// OrchestratorConfig 调度参数
func (c *Config) OrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		Concurrency: c.Scrape.Concurrency,
		BatchDelay:  c.Scrape.BatchDelay,
		Adaptive:    c.Scrape.Adaptive,
		Resume:      c.Scrape.Resume,
	}
}

// CollectorConfig 列表页收集参数
func (c *Config) CollectorConfig() CollectorConfig {
	wait, _ := browser.ParseWaitCondition(c.Scrape.WaitUntil)
	return CollectorConfig{
		ListingURL: c.Targets.ListingURL,
		ScrollWait: c.Targets.ScrollWait,
		MaxScrolls: c.Targets.MaxScrolls,
		NavTimeout: c.Scrape.NavTimeout,
		WaitUntil:  wait,
	}
}

// RodOptions 浏览器会话选项
func (c *Config) RodOptions(headers models.HeaderProvider) browser.RodOptions {
	return browser.RodOptions{
		Endpoint:    c.Browser.Endpoint,
		Launch:      c.Browser.Launch,
		Headless:    c.Browser.Headless,
		UserDataDir: c.Browser.UserDataDir,
		Bin:         c.Browser.Bin,
		Stealth:     c.Browser.Stealth,
		Headers:     headers,
	}
}

// MergeCLIFlags 合并命令行参数到配置,空字符串/非正并发/负的批间隔表示未指定
func (c *Config) MergeCLIFlags(outputDir string, concurrency int, batchDelay time.Duration, endpoint string, resume bool, format string) {
	if outputDir != "" {
		c.Output.Dir = outputDir
	}
	if concurrency > 0 {
		c.Scrape.Concurrency = concurrency
	}
	if batchDelay >= 0 {
		c.Scrape.BatchDelay = batchDelay
	}
	if endpoint != "" {
		c.Browser.Endpoint = endpoint
	}
	if resume {
		c.Scrape.Resume = true
	}
	if format != "" {
		c.Output.Format = format
	}
}
