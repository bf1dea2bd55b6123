package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

type Config struct {
	Port     string
	GinMode  string
	LogLevel string
	SiteURL  string

	Store       string // postgres | memory
	DatabaseURL string

	Feed          string // local | redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Comments CommentConfig
	Vote     VoteConfig
	SMTP     SMTPConfig
}

type CommentConfig struct {
	AutoApprove bool
	MaxLength   int
	MaxDepth    int
	Interval    time.Duration // 同一 IP 两次提交的最小间隔
}

type VoteConfig struct {
	FetchAttempts int
	FetchBackoff  time.Duration
}

type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("gin_mode", "release")
	v.SetDefault("log_level", "info")
	v.SetDefault("site_url", "http://localhost:8080")
	v.SetDefault("store", "postgres")
	v.SetDefault("database_url", "host=localhost user=postgres password=postgres dbname=folio port=5432 sslmode=disable TimeZone=UTC")
	v.SetDefault("feed", "local")
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_db", 0)
	v.SetDefault("comments_auto_approve", true)
	v.SetDefault("comment_max_length", 500)
	v.SetDefault("comment_max_depth", 2)
	v.SetDefault("comment_interval", "10s")
	v.SetDefault("vote_fetch_attempts", 3)
	v.SetDefault("vote_fetch_backoff", "200ms")
}

// Load reads .env, an optional config.yml and the environment, in that order of precedence
// (environment wins).
func Load() *Config {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file found, reading env vars from system")
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	v.SetConfigName("config")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			logrus.Errorf("config error: %v", err)
		}
	} else {
		logrus.Infof("Using config file: %s", v.ConfigFileUsed())
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return fromViper(v)
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{
		Port:          v.GetString("port"),
		GinMode:       v.GetString("gin_mode"),
		LogLevel:      v.GetString("log_level"),
		SiteURL:       strings.TrimSuffix(v.GetString("site_url"), "/"),
		Store:         strings.ToLower(v.GetString("store")),
		DatabaseURL:   v.GetString("database_url"),
		Feed:          strings.ToLower(v.GetString("feed")),
		RedisAddr:     v.GetString("redis_addr"),
		RedisPassword: v.GetString("redis_password"),
		RedisDB:       v.GetInt("redis_db"),
		Comments: CommentConfig{
			AutoApprove: v.GetBool("comments_auto_approve"),
			MaxLength:   v.GetInt("comment_max_length"),
			MaxDepth:    v.GetInt("comment_max_depth"),
			Interval:    v.GetDuration("comment_interval"),
		},
		Vote: VoteConfig{
			FetchAttempts: v.GetInt("vote_fetch_attempts"),
			FetchBackoff:  v.GetDuration("vote_fetch_backoff"),
		},
		SMTP: SMTPConfig{
			Host:     v.GetString("smtp_host"),
			Port:     v.GetString("smtp_port"),
			Username: v.GetString("smtp_user"),
			Password: v.GetString("smtp_pass"),
			From:     v.GetString("smtp_from"),
		},
	}

	if cfg.Vote.FetchAttempts < 1 {
		cfg.Vote.FetchAttempts = 1
	}
	if cfg.Comments.MaxLength <= 0 {
		cfg.Comments.MaxLength = 500
	}
	return cfg
}
