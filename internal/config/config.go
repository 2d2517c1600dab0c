package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

type Config struct {
	// Server
	ServerHost string
	ServerPort string
	ClientURL  string
	Env        string

	// Logging
	LogLevel string
	LogFile  string

	// Auth
	JWTSecret string

	// Document store: memory, postgres or mongo
	DocstoreBackend string

	// PostgreSQL
	DatabaseURL      string
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// MongoDB
	MongoURI      string
	MongoDatabase string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string

	// RabbitMQ
	RabbitMQHost     string
	RabbitMQPort     string
	RabbitMQUser     string
	RabbitMQPassword string

	// Media storage: none, cloudinary or s3
	MediaBackend        string
	CloudinaryCloudName string
	CloudinaryAPIKey    string
	CloudinaryAPISecret string
	CloudinaryFolder    string
	S3Bucket            string
	S3Region            string
	S3Endpoint          string
	S3PublicBaseURL     string

	// Rate limiting
	RateLimitEnabled bool
	RateLimitRPS     int
	RateLimitBurst   int

	// Feed
	FeedDefaultLimit int
	FeedMaxLimit     int

	// Membership cache
	MembershipCacheTTL   time.Duration
	MembershipCacheLimit int
}

var defaults = map[string]any{
	"server_host":            "0.0.0.0",
	"server_port":            "5000",
	"client_url":             "http://localhost:3000",
	"env":                    "development",
	"log_level":              "info",
	"log_file":               "/var/log/app/app.log",
	"jwt_secret":             "",
	"docstore_backend":       "memory",
	"database_url":           "",
	"postgres_host":          "localhost",
	"postgres_port":          "5432",
	"postgres_user":          "postgres",
	"postgres_password":      "postgres",
	"postgres_db":            "swipeskills",
	"postgres_sslmode":       "disable",
	"mongo_uri":              "mongodb://localhost:27017/?replicaSet=rs0",
	"mongo_database":         "swipeskills",
	"redis_host":             "localhost",
	"redis_port":             "6379",
	"redis_password":         "",
	"rabbitmq_host":          "localhost",
	"rabbitmq_port":          "5672",
	"rabbitmq_user":          "guest",
	"rabbitmq_password":      "guest",
	"media_backend":          "none",
	"cloudinary_cloud_name":  "",
	"cloudinary_api_key":     "",
	"cloudinary_api_secret":  "",
	"cloudinary_folder":      "swipeskills",
	"s3_bucket":              "",
	"s3_region":              "us-east-1",
	"s3_endpoint":            "",
	"s3_public_base_url":     "",
	"rate_limit_enabled":     true,
	"rate_limit_rps":         20,
	"rate_limit_burst":       40,
	"feed_default_limit":     20,
	"feed_max_limit":         100,
	"membership_cache_ttl":   "30s",
	"membership_cache_limit": 10000,
}

// Load reads .env (when present), an optional config.yml and the process
// environment, in increasing order of precedence.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("no .env file loaded")
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetConfigName("config")
	v.SetConfigType("yml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "read config file")
		}
	} else {
		logrus.Infof("Loaded config file: %s", v.ConfigFileUsed())
	}

	cfg := FromViper(v)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromViper maps viper keys onto a Config.
func FromViper(v *viper.Viper) *Config {
	return &Config{
		ServerHost:           v.GetString("server_host"),
		ServerPort:           v.GetString("server_port"),
		ClientURL:            v.GetString("client_url"),
		Env:                  v.GetString("env"),
		LogLevel:             v.GetString("log_level"),
		LogFile:              v.GetString("log_file"),
		JWTSecret:            v.GetString("jwt_secret"),
		DocstoreBackend:      strings.ToLower(v.GetString("docstore_backend")),
		DatabaseURL:          v.GetString("database_url"),
		PostgresHost:         v.GetString("postgres_host"),
		PostgresPort:         v.GetString("postgres_port"),
		PostgresUser:         v.GetString("postgres_user"),
		PostgresPassword:     v.GetString("postgres_password"),
		PostgresDB:           v.GetString("postgres_db"),
		PostgresSSLMode:      v.GetString("postgres_sslmode"),
		MongoURI:             v.GetString("mongo_uri"),
		MongoDatabase:        v.GetString("mongo_database"),
		RedisHost:            v.GetString("redis_host"),
		RedisPort:            v.GetString("redis_port"),
		RedisPassword:        v.GetString("redis_password"),
		RabbitMQHost:         v.GetString("rabbitmq_host"),
		RabbitMQPort:         v.GetString("rabbitmq_port"),
		RabbitMQUser:         v.GetString("rabbitmq_user"),
		RabbitMQPassword:     v.GetString("rabbitmq_password"),
		MediaBackend:         strings.ToLower(v.GetString("media_backend")),
		CloudinaryCloudName:  v.GetString("cloudinary_cloud_name"),
		CloudinaryAPIKey:     v.GetString("cloudinary_api_key"),
		CloudinaryAPISecret:  v.GetString("cloudinary_api_secret"),
		CloudinaryFolder:     v.GetString("cloudinary_folder"),
		S3Bucket:             v.GetString("s3_bucket"),
		S3Region:             v.GetString("s3_region"),
		S3Endpoint:           v.GetString("s3_endpoint"),
		S3PublicBaseURL:      v.GetString("s3_public_base_url"),
		RateLimitEnabled:     v.GetBool("rate_limit_enabled"),
		RateLimitRPS:         v.GetInt("rate_limit_rps"),
		RateLimitBurst:       v.GetInt("rate_limit_burst"),
		FeedDefaultLimit:     v.GetInt("feed_default_limit"),
		FeedMaxLimit:         v.GetInt("feed_max_limit"),
		MembershipCacheTTL:   v.GetDuration("membership_cache_ttl"),
		MembershipCacheLimit: v.GetInt("membership_cache_limit"),
	}
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	switch c.DocstoreBackend {
	case "memory", "postgres", "mongo":
	default:
		return errors.Errorf("unknown DOCSTORE_BACKEND %q", c.DocstoreBackend)
	}
	switch c.MediaBackend {
	case "none", "cloudinary", "s3":
	default:
		return errors.Errorf("unknown MEDIA_BACKEND %q", c.MediaBackend)
	}
	if c.FeedDefaultLimit <= 0 || c.FeedMaxLimit < c.FeedDefaultLimit {
		return errors.New("FEED_DEFAULT_LIMIT must be positive and not exceed FEED_MAX_LIMIT")
	}
	return nil
}

// PostgresDSN returns DATABASE_URL or a DSN assembled from the POSTGRES_* settings.
func (c *Config) PostgresDSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}
