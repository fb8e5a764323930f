package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	SF        SFConfig        `mapstructure:"sf"`
	CORS      CORSConfig      `mapstructure:"cors"`
	Log       LogConfig       `mapstructure:"log"`
	Workspace WorkspaceConfig `mapstructure:"workspace"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	MaxHeaderBytes int           `mapstructure:"max_header_bytes"`
}

// SFConfig 描述 AppRouter / SuccessFactors OData 上游
type SFConfig struct {
	BaseURL            string        `mapstructure:"base_url"`
	ODataPrefix        string        `mapstructure:"odata_prefix"`
	TokenPath          string        `mapstructure:"token_path"`
	BackendUserPath    string        `mapstructure:"backend_user_path"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	TokenWaitTimeout   time.Duration `mapstructure:"token_wait_timeout"`
	TokenFetchAttempts int           `mapstructure:"token_fetch_attempts"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	ExposedHeaders   []string `mapstructure:"exposed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// WorkspaceConfig 控制已打开表单在内存中的保留时间
type WorkspaceConfig struct {
	TTL             time.Duration `mapstructure:"ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

var cfg *Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.max_header_bytes", 1<<20)

	v.SetDefault("sf.odata_prefix", "SuccessFactors_API/odata/v2")
	v.SetDefault("sf.token_path", "user-api/currentUser")
	v.SetDefault("sf.backend_user_path", "api/projman/SFSF_User")
	v.SetDefault("sf.request_timeout", "60s")
	v.SetDefault("sf.token_wait_timeout", "10s")
	v.SetDefault("sf.token_fetch_attempts", 1)

	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Origin", "Content-Type", "Accept"})
	v.SetDefault("cors.allow_credentials", true)
	v.SetDefault("cors.max_age", 600)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("workspace.ttl", "2h")
	v.SetDefault("workspace.cleanup_interval", "10m")
}

func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("REVIEW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, err
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	cfg = c
	return cfg, nil
}

// Validate 检查启动必需的配置项
func (c *Config) Validate() error {
	if c.SF.BaseURL == "" {
		return fmt.Errorf("sf.base_url is required")
	}
	if c.SF.TokenFetchAttempts < 1 {
		return fmt.Errorf("sf.token_fetch_attempts must be >= 1, got %d", c.SF.TokenFetchAttempts)
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be positive, got %d", c.Server.Port)
	}
	return nil
}

func Get() *Config {
	return cfg
}
