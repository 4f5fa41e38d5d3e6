package infra

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// ExchangeConfig holds one exchange's endpoints, credentials and the
// symbol pairs tracked on it.
type ExchangeConfig struct {
	RestURL   string   `yaml:"rest_url"`
	WSURL     string   `yaml:"ws_url"`
	UserWSURL string   `yaml:"user_ws_url"`
	APIKey    string   `yaml:"api_key"`
	SecretKey string   `yaml:"secret_key"`
	Pairs     []string `yaml:"pairs"` // e.g. "BTC/USDT"
	Trading   bool     `yaml:"trading"`
}

// Config holds every application setting. LoadConfig reads the yaml
// file and then overrides secrets from the environment.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Exchanges map[string]ExchangeConfig `yaml:"exchanges"`

	Trading struct {
		ExecutedCacheCap     int     `yaml:"executed_cache_cap"`
		ExecutedCacheEvictTo float64 `yaml:"executed_cache_evict_to"`
	} `yaml:"trading"`

	Arbitrage struct {
		PremiumThreshold decimal.Decimal `yaml:"premium_threshold"`
	} `yaml:"arbitrage"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Trading.ExecutedCacheCap == 0 {
		c.Trading.ExecutedCacheCap = 1000
	}
	if c.Trading.ExecutedCacheEvictTo == 0 {
		c.Trading.ExecutedCacheEvictTo = 0.8
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if len(c.Exchanges) == 0 {
		return fmt.Errorf("at least one exchange is required")
	}
	for name, ex := range c.Exchanges {
		if ex.WSURL == "" || (!hasPrefix(ex.WSURL, "ws://") && !hasPrefix(ex.WSURL, "wss://")) {
			return fmt.Errorf("invalid WS URL for %s: %s", name, ex.WSURL)
		}
		if ex.RestURL == "" {
			return fmt.Errorf("missing REST URL for %s", name)
		}
		if len(ex.Pairs) == 0 {
			return fmt.Errorf("at least one pair is required for %s", name)
		}
	}
	if c.Trading.ExecutedCacheCap < 1 {
		return fmt.Errorf("executed cache cap must be positive")
	}
	if c.Trading.ExecutedCacheEvictTo <= 0 || c.Trading.ExecutedCacheEvictTo >= 1 {
		return fmt.Errorf("executed cache evict-to fraction must be in (0, 1)")
	}
	return nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[0:len(prefix)] == prefix
}

// overrideWithEnv overrides credentials from environment variables when
// present, keeping secrets out of the config file.
func overrideWithEnv(cfg *Config) {
	for name, ex := range cfg.Exchanges {
		prefix := "ARB_" + upper(name)
		if key := os.Getenv(prefix + "_KEY"); key != "" {
			ex.APIKey = key
		}
		if secret := os.Getenv(prefix + "_SECRET"); secret != "" {
			ex.SecretKey = secret
		}
		cfg.Exchanges[name] = ex
	}
}

func upper(s string) string {
	b := []byte(s)
	for i := range b {
		if b[i] >= 'a' && b[i] <= 'z' {
			b[i] -= 'a' - 'A'
		}
	}
	return string(b)
}
