// Copyright 2024-2026 Aiku AI

package connector

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	up "go.mau.fi/util/configupgrade"
	"go.mau.fi/zeroconfig"
	"gopkg.in/yaml.v3"
)

//go:embed example-config.yaml
var ExampleConfig string

// Operator channels.
const (
	OperatorTerminal = "terminal"
	OperatorAPI      = "api"
)

const (
	defaultSliderURL      = "https://GT.928100.xyz/captcha/slider"
	defaultPollInterval   = 3
	defaultSliderAttempts = 60
	defaultAdminAPIAddr   = ":29330"
	minUIN                = 10000
	maxUIN                = 1<<32 - 1
)

// Config holds the ICQQ side of the bridge configuration. Every field can be
// overridden by an ICQQ_ prefixed environment variable.
type Config struct {
	UIN      int64  `yaml:"uin" env:"UIN"`
	Password string `yaml:"password" env:"PASSWORD"`
	// Platform is the device type the client logs in as, 1 to 6.
	Platform int    `yaml:"platform" env:"PLATFORM"`
	DataDir  string `yaml:"data_dir" env:"DATA_DIR"`

	// SidecarURL is the websocket address of the ICQQ client process.
	SidecarURL string `yaml:"sidecar_url" env:"SIDECAR_URL"`
	// SliderURL is the captcha relay endpoint used for slider challenges.
	// The account number is added to it as the key query parameter.
	SliderURL string `yaml:"slider_url" env:"SLIDER_URL"`
	// PollInterval is the delay in seconds between QR and slider polls.
	PollInterval   int `yaml:"poll_interval" env:"POLL_INTERVAL"`
	SliderAttempts int `yaml:"slider_attempts" env:"SLIDER_ATTEMPTS"`

	// Operator selects how login challenges reach a human: "terminal" or
	// "api".
	Operator string `yaml:"operator" env:"OPERATOR"`
	// AdminAPIAddr is the listen address of the admin HTTP API. Leave empty
	// to disable it unless the api operator is selected.
	AdminAPIAddr string `yaml:"admin_api_addr" env:"ADMIN_API_ADDR"`

	sliderEndpoint string `yaml:"-"`
}

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	return node.Decode((*rawConfig)(c))
}

// PostProcess validates the config and fills in defaults.
func (c *Config) PostProcess() error {
	if c.UIN < minUIN || c.UIN > maxUIN {
		return fmt.Errorf("invalid uin %d", c.UIN)
	}
	if c.Platform == 0 {
		c.Platform = 1
	} else if c.Platform < 1 || c.Platform > 6 {
		return fmt.Errorf("invalid platform %d", c.Platform)
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.SliderAttempts <= 0 {
		c.SliderAttempts = defaultSliderAttempts
	}
	switch c.Operator {
	case "":
		c.Operator = OperatorTerminal
	case OperatorTerminal, OperatorAPI:
	default:
		return fmt.Errorf("unknown operator %q", c.Operator)
	}
	if c.Operator == OperatorAPI && c.AdminAPIAddr == "" {
		c.AdminAPIAddr = defaultAdminAPIAddr
	}
	if c.SliderURL == "" {
		c.SliderURL = defaultSliderURL
	}
	u, err := url.Parse(c.SliderURL)
	if err != nil {
		return fmt.Errorf("invalid slider_url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid slider_url %q", c.SliderURL)
	}
	q := u.Query()
	q.Set("key", MakeID(c.UIN))
	u.RawQuery = q.Encode()
	c.sliderEndpoint = u.String()
	return nil
}

// SliderEndpoint returns the slider relay URL with the account key set. It
// is empty until PostProcess succeeds.
func (c *Config) SliderEndpoint() string {
	return c.sliderEndpoint
}

func (c *Config) PollDelay() time.Duration {
	return time.Duration(c.PollInterval) * time.Second
}

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Int, "network", "uin")
	helper.Copy(up.Str, "network", "password")
	helper.Copy(up.Int, "network", "platform")
	helper.Copy(up.Str, "network", "data_dir")
	helper.Copy(up.Str, "network", "sidecar_url")
	helper.Copy(up.Str, "network", "slider_url")
	helper.Copy(up.Int, "network", "poll_interval")
	helper.Copy(up.Int, "network", "slider_attempts")
	helper.Copy(up.Str, "network", "operator")
	helper.Copy(up.Str, "network", "admin_api_addr")
	helper.Copy(up.Map, "logging")
}

// FileConfig is the layout of the config file.
type FileConfig struct {
	Network Config            `yaml:"network"`
	Logging zeroconfig.Config `yaml:"logging"`
}

// LoadConfig reads the config file at path, merges it over the example
// config and applies environment overrides. Variables from the given .env
// files are loaded first; missing .env files are ignored.
func LoadConfig(path string, envFiles ...string) (*FileConfig, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := parseConfig(data)
	if err != nil {
		return nil, err
	}
	if err := env.ParseWithOptions(&cfg.Network, env.Options{Prefix: "ICQQ_"}); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}
	if err := cfg.Network.PostProcess(); err != nil {
		return nil, fmt.Errorf("failed to post-process config: %w", err)
	}
	return cfg, nil
}

// parseConfig merges a user config document over the example config.
func parseConfig(data []byte) (*FileConfig, error) {
	var base, user yaml.Node
	if err := yaml.Unmarshal([]byte(ExampleConfig), &base); err != nil {
		return nil, fmt.Errorf("failed to parse example config: %w", err)
	}
	if err := yaml.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if len(user.Content) > 0 {
		upgradeConfig(up.NewHelper(&base, &user))
	}
	var cfg FileConfig
	if err := base.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}
