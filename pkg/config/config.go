package config

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	config       = viper.New()
	configHolder atomic.Value
)

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	Otel       struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"OTEL"`
	Database struct {
		Type           string `mapstructure:"TYPE"`
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBNAME         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		Enabled        bool   `mapstructure:"ENABLED"`
		Metrics        bool   `mapstructure:"METRICS"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Chain struct {
		RPCURL          string        `mapstructure:"RPC_URL"`
		Cluster         string        `mapstructure:"CLUSTER"`
		ProgramID       string        `mapstructure:"PROGRAM_ID"`
		DefaultMint     string        `mapstructure:"DEFAULT_MINT"`
		ConfirmAttempts int           `mapstructure:"CONFIRM_ATTEMPTS"`
		ConfirmDelay    time.Duration `mapstructure:"CONFIRM_DELAY"`
		RefetchDelay    time.Duration `mapstructure:"REFETCH_DELAY"`
		RequestTimeout  time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	} `mapstructure:"CHAIN"`
	Alerts struct {
		LowRunwayHours int `mapstructure:"LOW_RUNWAY_HOURS"`
		InactivityDays int `mapstructure:"INACTIVITY_DAYS"`
		SweepHour      int `mapstructure:"SWEEP_HOUR"`
		SweepMinute    int `mapstructure:"SWEEP_MINUTE"`
	} `mapstructure:"ALERTS"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

func LoadConfig() (*Config, error) {
	config.SetConfigName("config")
	config.SetConfigType("yaml")
	config.AddConfigPath(".")

	config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	config.AutomaticEnv()

	setDefaults(config)

	// The config file is optional: env vars alone are enough in containers.
	if err := config.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	} else {
		config.OnConfigChange(func(e fsnotify.Event) {
			var newcfg Config
			if err := config.Unmarshal(&newcfg); err != nil {
				zap.L().Error("failed to reload config", zap.Error(err))
				return
			}
			configHolder.Store(&newcfg)
			zap.L().Info("config reloaded", zap.String("file", e.Name))
		})
		config.WatchConfig()
	}

	var cfg Config
	if err := config.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	configHolder.Store(&cfg)
	return &cfg, nil
}

// Current returns the most recently loaded configuration, reflecting any hot
// reload since startup.
func Current() *Config {
	if v, ok := configHolder.Load().(*Config); ok {
		return v
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_NAME", "cascade")
	v.SetDefault("DATABASE.TYPE", "postgres")
	v.SetDefault("DATABASE.ENABLED", true)
	v.SetDefault("CHAIN.CLUSTER", "devnet")
	v.SetDefault("CHAIN.RPC_URL", "https://api.devnet.solana.com")
	v.SetDefault("CHAIN.CONFIRM_ATTEMPTS", 12)
	v.SetDefault("CHAIN.CONFIRM_DELAY", time.Second)
	v.SetDefault("CHAIN.REFETCH_DELAY", 1500*time.Millisecond)
	v.SetDefault("CHAIN.REQUEST_TIMEOUT", 30*time.Second)
	v.SetDefault("ALERTS.LOW_RUNWAY_HOURS", 72)
	v.SetDefault("ALERTS.INACTIVITY_DAYS", 25)
	v.SetDefault("ALERTS.SWEEP_HOUR", 1)
	v.SetDefault("ALERTS.SWEEP_MINUTE", 0)
}
