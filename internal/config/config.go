package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the service
type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"logLevel"`
	Server      struct {
		Port            int           `mapstructure:"port"`
		ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
	} `mapstructure:"server"`
	Database    DatabaseConfig     `mapstructure:"database"`
	Queue       QueueConfig        `mapstructure:"queue"`
	Marketplace MarketplaceConfig  `mapstructure:"marketplace"`
	Notify      NotificationConfig `mapstructure:"notifications"`
	Services    struct {
		ProductionPlanningURL string `mapstructure:"productionPlanningURL"`
		UserServiceURL        string `mapstructure:"userServiceURL"`
	} `mapstructure:"services"`
	Company struct {
		ID string `mapstructure:"id"`
	} `mapstructure:"company"`
	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
		Port    int  `mapstructure:"port"`
	} `mapstructure:"metrics"`
	WorkerPools struct {
		Marketplace WorkerPoolConfig `mapstructure:"marketplace"`
		Delivery    WorkerPoolConfig `mapstructure:"delivery"`
	} `mapstructure:"workerPools"`
	Cache struct {
		SummaryTTL time.Duration `mapstructure:"summaryTTL"`
	} `mapstructure:"cache"`
}

// DatabaseConfig selects and configures the feedback store.
type DatabaseConfig struct {
	Driver      string `mapstructure:"driver"` // postgres or sqlite
	PostgresDSN string `mapstructure:"postgresDSN"`
	SQLitePath  string `mapstructure:"sqlitePath"`
	AutoMigrate bool   `mapstructure:"autoMigrate"`
}

// QueueConfig holds the machine queue consumer settings.
type QueueConfig struct {
	URL            string        `mapstructure:"url"`
	Name           string        `mapstructure:"name"` // subject the machine queue publishes on
	Stream         string        `mapstructure:"stream"`
	Consumer       string        `mapstructure:"consumer"` // durable name
	QueueGroup     string        `mapstructure:"group"`
	MaxAge         int64         `mapstructure:"maxAge"` // max age of messages in days
	ReconnectDelay time.Duration `mapstructure:"reconnectDelay"`
}

// MarketplaceConfig holds the outbound marketplace API settings.
type MarketplaceConfig struct {
	URL     string        `mapstructure:"url"`
	APIKey  string        `mapstructure:"apiKey"`
	Timeout time.Duration `mapstructure:"timeout"`
	Retry   struct {
		Enabled         bool          `mapstructure:"enabled"`
		InitialInterval time.Duration `mapstructure:"initialInterval"`
		MaxElapsedTime  time.Duration `mapstructure:"maxElapsedTime"`
	} `mapstructure:"retry"`
}

// Configured reports whether a marketplace endpoint is set.
func (m MarketplaceConfig) Configured() bool {
	return m.URL != ""
}

// NotificationConfig holds notification delivery settings.
type NotificationConfig struct {
	// URLs are shoutrrr service URLs used for email delivery.
	URLs []string `mapstructure:"urls"`
	// BroadcastURLs receive notifications addressed to every recipient.
	BroadcastURLs []string      `mapstructure:"broadcastURLs"`
	SubjectPrefix string        `mapstructure:"subjectPrefix"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// WorkerPoolConfig holds configuration for an ants worker pool
type WorkerPoolConfig struct {
	PoolSize   int           `mapstructure:"poolSize"`   // Number of workers
	QueueSize  int           `mapstructure:"queueSize"`  // Max tasks waiting for a worker
	ExpiryTime time.Duration `mapstructure:"expiryTime"` // Idle worker expiry time
}

// LoadConfig reads configuration from file or environment variables
func LoadConfig(path string) (*Config, error) {
	// Create new viper instance
	v := viper.New()

	// Set defaults
	v.SetDefault("environment", "development")
	v.SetDefault("logLevel", "info")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdownTimeout", 30*time.Second)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 2112)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.sqlitePath", "production_feedback.db")
	v.SetDefault("database.autoMigrate", true)

	v.SetDefault("queue.url", "nats://localhost:4222")
	v.SetDefault("queue.name", "machine_queue_updates")
	v.SetDefault("queue.stream", "machine_queue")
	v.SetDefault("queue.consumer", "production_feedback")
	v.SetDefault("queue.group", "production_feedback")
	v.SetDefault("queue.maxAge", 7)
	v.SetDefault("queue.reconnectDelay", 5*time.Second)

	v.SetDefault("marketplace.timeout", 10*time.Second)
	v.SetDefault("marketplace.retry.enabled", false)
	v.SetDefault("marketplace.retry.initialInterval", 2*time.Second)
	v.SetDefault("marketplace.retry.maxElapsedTime", 5*time.Minute)

	v.SetDefault("notifications.subjectPrefix", "notifications")
	v.SetDefault("notifications.timeout", 10*time.Second)

	// WorkerPools Defaults
	v.SetDefault("workerPools.marketplace.poolSize", 4)
	v.SetDefault("workerPools.marketplace.queueSize", 1000)
	v.SetDefault("workerPools.marketplace.expiryTime", time.Minute)
	v.SetDefault("workerPools.delivery.poolSize", 8)
	v.SetDefault("workerPools.delivery.queueSize", 5000)
	v.SetDefault("workerPools.delivery.expiryTime", time.Minute)

	v.SetDefault("cache.summaryTTL", 30*time.Second)

	// Config file settings
	v.SetConfigName("default") // name of config file (without extension)
	v.SetConfigType("yaml")    // REQUIRED if the config file does not have the extension in the name

	// Add lookup paths
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath("$HOME/.production-feedback-service")
	v.AddConfigPath("/etc/production-feedback-service")

	// Try to read from config file
	if err := v.ReadInConfig(); err != nil {
		// It's ok if config file is not found, we'll use env vars
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Override with environment variables
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Map environment variables to config fields
	bindEnvs(v, Config{})

	// Read directly from ENV for critical values
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		v.Set("database.postgresDSN", dsn)
	}
	if driver := os.Getenv("DB_DRIVER"); driver != "" {
		v.Set("database.driver", driver)
	}
	if lgLevel := os.Getenv("LOG_LEVEL"); lgLevel != "" {
		v.Set("logLevel", lgLevel)
	}
	if url := os.Getenv("NATS_URL"); url != "" {
		v.Set("queue.url", url)
	}
	if name := os.Getenv("QUEUE_NAME"); name != "" {
		v.Set("queue.name", name)
	}
	if url := os.Getenv("MARKETPLACE_API_URL"); url != "" {
		v.Set("marketplace.url", url)
	}
	if key := os.Getenv("MARKETPLACE_API_KEY"); key != "" {
		v.Set("marketplace.apiKey", key)
	}
	if url := os.Getenv("PRODUCTION_PLANNING_URL"); url != "" {
		v.Set("services.productionPlanningURL", url)
	}
	if url := os.Getenv("USER_SERVICE_URL"); url != "" {
		v.Set("services.userServiceURL", url)
	}
	if company := os.Getenv("COMPANY_ID"); company != "" {
		v.Set("company.id", company)
	}

	// Unmarshal config
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres":
		if c.Database.PostgresDSN == "" {
			return fmt.Errorf("database.postgresDSN is required for the postgres driver")
		}
	case "sqlite":
	default:
		return fmt.Errorf("unsupported database.driver %q", c.Database.Driver)
	}
	if c.Queue.ReconnectDelay <= 0 {
		return fmt.Errorf("queue.reconnectDelay must be positive")
	}
	if c.Marketplace.Timeout <= 0 {
		return fmt.Errorf("marketplace.timeout must be positive")
	}
	return nil
}

// bindEnvs recursively binds environment variables to config struct fields
func bindEnvs(v *viper.Viper, cfg interface{}, parts ...string) {
	ifv := reflect.ValueOf(cfg)
	ift := reflect.TypeOf(cfg)
	for i := 0; i < ift.NumField(); i++ {
		fieldVal := ifv.Field(i)
		fieldType := ift.Field(i)

		// Get the field tag value (mapstructure)
		tag := fieldType.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}

		// Build the env var path
		path := append(append([]string{}, parts...), tag)
		key := strings.Join(path, ".")

		// If it's a struct, recursively bind its fields
		if fieldType.Type.Kind() == reflect.Struct {
			bindEnvs(v, fieldVal.Interface(), path...)
			continue
		}

		// Bind the env var
		_ = v.BindEnv(key)
	}
}
