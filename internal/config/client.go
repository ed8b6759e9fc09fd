package config

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/spf13/viper"
)

// Client configures the headless voice participant. Values come from
// command-line flags, then MESHVOICE_* environment variables, then an
// optional config file, then defaults.
type Client struct {
	Server     string   `mapstructure:"server"`
	Room       string   `mapstructure:"room"`
	Name       string   `mapstructure:"name"`
	ICEServers []string `mapstructure:"ice_servers"`
	Capture    string   `mapstructure:"capture"`
	RecordDir  string   `mapstructure:"record_dir"`
	Voice      bool     `mapstructure:"voice"`
	Mic        bool     `mapstructure:"mic"`
	LogLevel   string   `mapstructure:"log_level"`
}

func NewClientViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetDefault("server", fmt.Sprintf("ws://localhost:%d/ws", 25554))
	v.SetDefault("ice_servers", DefaultICEServers)
	v.SetDefault("log_level", "info")
	return v
}

func LoadClient(v *viper.Viper) (*Client, error) {
	if f := v.GetString("config"); f != "" {
		v.SetConfigFile(f)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read client config: %w", err)
		}
	}
	var cfg Client
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse client config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Client) Validate() error {
	u, err := url.Parse(c.Server)
	if err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("server: scheme %q, want ws or wss", u.Scheme)
	}
	if c.Room == "" {
		return errors.New("room is required")
	}
	if c.Name == "" {
		return errors.New("name is required")
	}
	if c.Mic && !c.Voice {
		return errors.New("mic requires voice")
	}
	return nil
}
