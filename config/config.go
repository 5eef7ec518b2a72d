package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

//go:embed config.yml
var embeddedConfig []byte

const (
	ModeDevelopment = "development"
	ModeProduction  = "production"
)

// JWTConfig holds the signing material and lifetimes for issued tokens.
type JWTConfig struct {
	SecretKey        string        `mapstructure:"secretKey"`
	RefreshSecretKey string        `mapstructure:"refreshSecretKey"`
	AccessTokenTTL   time.Duration `mapstructure:"accessTokenTTL"`
	RefreshTokenTTL  time.Duration `mapstructure:"refreshTokenTTL"`
	PasswordResetTTL time.Duration `mapstructure:"passwordResetTTL"`
	Issuer           string        `mapstructure:"issuer"`
	Audience         string        `mapstructure:"audience"`
}

type AuthConfig struct {
	RevokeSessionsOnPasswordChange bool   `mapstructure:"revokeSessionsOnPasswordChange"`
	RefreshCookieName              string `mapstructure:"refreshCookieName"`
	ResetURL                       string `mapstructure:"resetURL"`
}

type Config struct {
	Mode     string `mapstructure:"mode"`
	Dotenv   string `mapstructure:"dotenv"`
	Handlers struct {
		Prometheus struct {
			Port      string `mapstructure:"port"`
			CertFile  string `mapstructure:"certFile"`
			KeyFile   string `mapstructure:"keyFile"`
			EnableTLS bool   `mapstructure:"enableTLS"`
		} `mapstructure:"prometheus"`
	} `mapstructure:"handlers"`
	Repositories struct {
		Postgres struct {
			Host              string `mapstructure:"host"`
			Password          string `mapstructure:"password"`
			Port              string `mapstructure:"port"`
			Username          string `mapstructure:"username"`
			DB                string `mapstructure:"db"`
			SSLMODE           string `mapstructure:"SSLMODE"`
			MAXCONWAITINGTIME int    `mapstructure:"MAXCONWAITINGTIME"`
		} `mapstructure:"postgres"`
	} `mapstructure:"repositories"`
	Server struct {
		HTTPPort       string        `mapstructure:"HTTPPort"`
		Timeout        time.Duration `mapstructure:"HTTPTimeout"`
		AllowedOrigins []string      `mapstructure:"allowedOrigins"`
		AuthRateLimit  int           `mapstructure:"authRateLimit"`

		// TrustProxyHeaders takes the client address from X-Forwarded-For / X-Real-IP. Enable it only
		// behind a proxy that overwrites those headers.
		TrustProxyHeaders bool `mapstructure:"trustProxyHeaders"`
	} `mapstructure:"server"`
	JWT      JWTConfig  `mapstructure:"jwt"`
	Auth     AuthConfig `mapstructure:"auth"`
	Notifier struct {
		AMQP struct {
			URL   string `mapstructure:"url"`
			Queue string `mapstructure:"queue"`
		} `mapstructure:"amqp"`
	} `mapstructure:"notifier"`
	Observability struct {
		ServiceName string `mapstructure:"serviceName"`
	} `mapstructure:"observability"`
}

// IsProduction reports whether cookies and logs should use production settings.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Mode, ModeProduction)
}

// Validate rejects configurations the service cannot safely run with.
func (c *Config) Validate() error {
	if c.JWT.SecretKey == "" {
		return errors.New("jwt.secretKey must be set")
	}
	if c.JWT.RefreshSecretKey == "" {
		return errors.New("jwt.refreshSecretKey must be set")
	}
	if c.JWT.SecretKey == c.JWT.RefreshSecretKey {
		return errors.New("jwt.secretKey and jwt.refreshSecretKey must differ")
	}
	if c.JWT.AccessTokenTTL <= 0 || c.JWT.RefreshTokenTTL <= 0 || c.JWT.PasswordResetTTL <= 0 {
		return errors.New("jwt token lifetimes must be positive")
	}
	if c.JWT.Issuer == "" || c.JWT.Audience == "" {
		return errors.New("jwt.issuer and jwt.audience must be set")
	}
	return nil
}

func InitConfig() (Config, error) {
	var config Config
	v := viper.New()

	v.AddConfigPath(".")
	v.AddConfigPath("config")
	v.AddConfigPath("/app/config")

	v.SetConfigName("config")
	v.SetConfigType("yml")

	// Environment overrides, e.g. TECHEPHI_JWT_SECRETKEY
	v.SetEnvPrefix("TECHEPHI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	err := v.ReadInConfig()
	if err != nil {
		fmt.Printf("Warning: Failed to find file-based config: %s. Falling back to embedded config.\n", err)
		if err = v.ReadConfig(bytes.NewReader(embeddedConfig)); err != nil {
			return Config{}, fmt.Errorf("failed to read embedded config: %w", err)
		}
	}

	if err = v.Unmarshal(&config); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err = config.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	fmt.Println("Successfully loaded app configs...")
	return config, nil
}
