package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	Mode        string `mapstructure:"mode"`
	ControlPort int    `mapstructure:"control_port" validate:"min=1,max=65535"`
	Secret      string `mapstructure:"secret"`

	RelayURL    string `mapstructure:"relay_url" validate:"required,url"`
	IdentityURL string `mapstructure:"identity_url" validate:"required,url"`
	TokenPath   string `mapstructure:"token_path" validate:"required"`

	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
	ReconnectAttempts int           `mapstructure:"reconnect_attempts" validate:"min=1"`
	PingPeriod        time.Duration `mapstructure:"ping_period"`

	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	STUNServers []string      `mapstructure:"stun_servers"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("control_port", 7300)
	v.SetDefault("relay_url", "wss://relay.medrelay.local/channel")
	v.SetDefault("identity_url", "https://portal.medrelay.local")
	v.SetDefault("token_path", os.ExpandEnv("$HOME/.telecall/token"))
	v.SetDefault("connect_timeout", "10s")
	v.SetDefault("reconnect_attempts", 6)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("dial_timeout", "45s")
	v.SetDefault("stun_servers", []string{"stun:stun.l.google.com:19302"})

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
