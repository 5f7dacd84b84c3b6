package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const appDir = "lazycrm"

type Settings struct {
	Backend     string `mapstructure:"backend"`
	DBPath      string `mapstructure:"db_path"`
	DatabaseURL string `mapstructure:"database_url"`
	RedisURL    string `mapstructure:"redis_url"`
	UserID      string `mapstructure:"user_id"`

	Web struct {
		Enabled     bool     `mapstructure:"enabled"`
		Port        int      `mapstructure:"port"`
		CorsOrigins []string `mapstructure:"cors_origins"`
	} `mapstructure:"web"`

	Auth struct {
		JWTSecret   string `mapstructure:"jwt_secret"`
		AccessToken string `mapstructure:"access_token"`
	} `mapstructure:"auth"`

	Storage struct {
		Endpoint  string `mapstructure:"endpoint"`
		AccessKey string `mapstructure:"access_key"`
		SecretKey string `mapstructure:"secret_key"`
		Bucket    string `mapstructure:"bucket"`
		UseSSL    bool   `mapstructure:"use_ssl"`
	} `mapstructure:"storage"`
}

func DefaultConfigPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, appDir, "config.yaml"), nil
}

func EnsureDir(path string) error {
	dir := filepath.Dir(path)
	return os.MkdirAll(dir, 0o755)
}

// Load reads .env, the optional YAML file at path and LAZYCRM_* variables,
// in increasing order of precedence. A missing file is not an error.
func Load(path string) (Settings, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("LAZYCRM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("backend", "sqlite")
	v.SetDefault("db_path", "")
	v.SetDefault("database_url", "")
	v.SetDefault("redis_url", "")
	v.SetDefault("user_id", "")
	v.SetDefault("web.enabled", false)
	v.SetDefault("web.port", 8080)
	v.SetDefault("web.cors_origins", []string{"*"})
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.access_token", "")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.access_key", "")
	v.SetDefault("storage.secret_key", "")
	v.SetDefault("storage.bucket", "lazycrm-agent")
	v.SetDefault("storage.use_ssl", false)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return Settings{}, fmt.Errorf("read config %s: %w", path, err)
			}
			log.Printf("[config] no config file at %s, using defaults", path)
		}
	}

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return Settings{}, fmt.Errorf("parse config: %w", err)
	}
	return settings, nil
}
