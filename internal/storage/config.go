package storage

type Config struct {
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`

	Upstream struct {
		BaseURL               string `yaml:"base_url"`
		UserAgent             string `yaml:"user_agent"`
		RequestTimeoutSeconds int    `yaml:"request_timeout_seconds"`
	} `yaml:"upstream"`

	Browser struct {
		Enabled   bool `yaml:"enabled"`
		Headless  bool `yaml:"headless"`
		TimeoutMS int  `yaml:"timeout_ms"`
	} `yaml:"browser"`

	Capture struct {
		PageSize    int `yaml:"page_size"`
		MaxPages    int `yaml:"max_pages"`
		PageDelayMS int `yaml:"page_delay_ms"`
		PageRetries int `yaml:"page_retries"`
	} `yaml:"capture"`

	AutoSync struct {
		Enabled               bool `yaml:"enabled"`
		TickSeconds           int  `yaml:"tick_seconds"`
		ScanLimit             int  `yaml:"scan_limit"`
		DispatchJitterSeconds int  `yaml:"dispatch_jitter_seconds"`
		BackoffBaseMinutes    int  `yaml:"backoff_base_minutes"`
		BackoffMaxMinutes     int  `yaml:"backoff_max_minutes"`
	} `yaml:"auto_sync"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Database.Path = "./captor.db"
	cfg.HTTP.Addr = ":8799"
	cfg.Upstream.BaseURL = "https://mp.weixin.qq.com"
	cfg.Upstream.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36"
	cfg.Upstream.RequestTimeoutSeconds = 30
	cfg.Browser.Enabled = false
	cfg.Browser.Headless = true
	cfg.Browser.TimeoutMS = 30000
	cfg.Capture.PageSize = 5
	cfg.Capture.MaxPages = 300
	cfg.Capture.PageDelayMS = 400
	cfg.Capture.PageRetries = 3
	cfg.AutoSync.Enabled = true
	cfg.AutoSync.TickSeconds = 45
	cfg.AutoSync.ScanLimit = 10
	cfg.AutoSync.DispatchJitterSeconds = 180
	cfg.AutoSync.BackoffBaseMinutes = 15
	cfg.AutoSync.BackoffMaxMinutes = 360
	return cfg
}
