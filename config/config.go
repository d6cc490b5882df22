package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gookit/validate"
	"github.com/pkg/errors"
	"go.yaml.in/yaml/v4"
)

const (
	EnvBotToken    = "BOT_TOKEN"
	EnvPollMinutes = "POLL_MINUTES"
)

type Config struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Watch    WatchConfig    `yaml:"watch"`
	SPX      SPXConfig      `yaml:"spx"`
	Cache    CacheConfig    `yaml:"cache"`
	Redis    RedisConfig    `yaml:"redis"`
	Storage  StorageConfig  `yaml:"storage"`
	Database DatabaseConfig `yaml:"database"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Log      LogConfig      `yaml:"log"`
	Ops      OpsConfig      `yaml:"ops"`
}

type TelegramConfig struct {
	Token              string `yaml:"token"`
	PollTimeoutSeconds int    `yaml:"poll_timeout_seconds" validate:"min:1|max:60"`
}

type WatchConfig struct {
	DefaultIntervalMinutes  int `yaml:"default_interval_minutes" validate:"required|min:1|max:60"`
	FirstTickDelaySeconds   int `yaml:"first_tick_delay_seconds" validate:"min:0"`
	CacheTTLSeconds         int `yaml:"cache_ttl_seconds" validate:"required|min:1"`
	FetchConcurrency        int `yaml:"fetch_concurrency" validate:"required|min:1|max:256"`
	UpstreamBudgetPerMinute int `yaml:"upstream_budget_per_minute" validate:"min:0"`
}

type SPXConfig struct {
	// "http" calls the real lookup endpoint, "fake" generates journeys locally.
	Mode              string  `yaml:"mode" validate:"required|in:http,fake"`
	URL               string  `yaml:"url" validate:"required|fullUrl"`
	TimeoutSeconds    int     `yaml:"timeout_seconds" validate:"required|min:1"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

type CacheConfig struct {
	Backend string `yaml:"backend" validate:"required|in:memory,redis"`
	SizeMB  int    `yaml:"size_mb" validate:"min:1"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func (r RedisConfig) Addr() string { return fmt.Sprintf("%s:%d", r.Host, r.Port) }

type StorageConfig struct {
	Backend    string `yaml:"backend" validate:"required|in:sqlite,postgres,memory"`
	SQLitePath string `yaml:"sqlite_path"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", d.Username, d.Password, d.Host, d.Port, d.DBName, d.SSLMode)
}

type KafkaConfig struct {
	Enabled                bool   `yaml:"enabled"`
	Host                   string `yaml:"host"`
	Port                   int    `yaml:"port"`
	NotificationsTopicName string `yaml:"notifications_topic_name"`
	GroupID                string `yaml:"group_id"`
}

func (k KafkaConfig) Brokers() []string { return []string{fmt.Sprintf("%s:%d", k.Host, k.Port)} }

type LogConfig struct {
	Level  string `yaml:"level" validate:"in:trace,debug,info,warn,error"`
	Format string `yaml:"format" validate:"in:console,json"`
}

type OpsConfig struct {
	Addr        string `yaml:"addr"`
	SwaggerPath string `yaml:"swagger_path"`
}

func (w WatchConfig) CacheTTL() time.Duration { return time.Duration(w.CacheTTLSeconds) * time.Second }

func (w WatchConfig) FirstTickDelay() time.Duration {
	return time.Duration(w.FirstTickDelaySeconds) * time.Second
}

func (s SPXConfig) Timeout() time.Duration { return time.Duration(s.TimeoutSeconds) * time.Second }

func (t TelegramConfig) PollTimeout() time.Duration {
	return time.Duration(t.PollTimeoutSeconds) * time.Second
}

// LoadConfig reads the YAML file (an empty path means defaults only), applies
// environment overrides and defaults, then validates the result.
func LoadConfig(filename string) (*Config, error) {
	var config Config
	if filename != "" {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read config file")
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal YAML")
		}
	}

	if err := config.applyEnv(); err != nil {
		return nil, err
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) applyEnv() error {
	if v := strings.TrimSpace(os.Getenv(EnvBotToken)); v != "" {
		c.Telegram.Token = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvPollMinutes)); v != "" {
		m, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "parse %s", EnvPollMinutes)
		}
		c.Watch.DefaultIntervalMinutes = m
	}
	return nil
}

// ApplyDefaults fills every unset field.
func (c *Config) ApplyDefaults() {
	setInt(&c.Telegram.PollTimeoutSeconds, 10)

	setInt(&c.Watch.DefaultIntervalMinutes, 5)
	setInt(&c.Watch.FirstTickDelaySeconds, 5)
	setInt(&c.Watch.CacheTTLSeconds, 20)
	setInt(&c.Watch.FetchConcurrency, 8)

	setString(&c.SPX.Mode, "http")
	setString(&c.SPX.URL, "https://tramavandon.com/api/spx.php")
	setInt(&c.SPX.TimeoutSeconds, 20)

	setString(&c.Cache.Backend, "memory")
	setInt(&c.Cache.SizeMB, 64)
	setString(&c.Redis.Host, "localhost")
	setInt(&c.Redis.Port, 6379)

	setString(&c.Storage.Backend, "sqlite")
	setString(&c.Storage.SQLitePath, "data/state.db")
	setString(&c.Database.Host, "localhost")
	setInt(&c.Database.Port, 5432)
	setString(&c.Database.SSLMode, "disable")

	setString(&c.Kafka.Host, "localhost")
	setInt(&c.Kafka.Port, 9092)
	setString(&c.Kafka.NotificationsTopicName, "shipment.updated")
	setString(&c.Kafka.GroupID, "trackbot-relay")

	setString(&c.Log.Level, "info")
	setString(&c.Log.Format, "console")
	setString(&c.Ops.Addr, ":8090")
}

// Validate checks every section. A missing Telegram token is allowed here
// since offline commands do not need it.
func (c *Config) Validate() error {
	sections := map[string]any{
		"telegram": &c.Telegram,
		"watch":    &c.Watch,
		"spx":      &c.SPX,
		"cache":    &c.Cache,
		"storage":  &c.Storage,
		"log":      &c.Log,
	}
	for _, name := range []string{"telegram", "watch", "spx", "cache", "storage", "log"} {
		v := validate.Struct(sections[name])
		if !v.Validate() {
			return errors.Errorf("invalid %s config: %s", name, v.Errors.One())
		}
	}
	if c.Storage.Backend == "postgres" && c.Database.DBName == "" {
		return errors.New("invalid database config: name is required for postgres storage")
	}
	return nil
}

func setInt(p *int, def int) {
	if *p == 0 {
		*p = def
	}
}

func setString(p *string, def string) {
	if strings.TrimSpace(*p) == "" {
		*p = def
	}
}
