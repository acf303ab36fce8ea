// Copyright 2024-2026 Aiku AI

package bridge

import (
	"fmt"
	"os"
	"text/template"

	"go.mau.fi/zeroconfig"
	"gopkg.in/yaml.v3"
)

// PuppetConfig maps a Matrix user to a Discord account of their own.
// Messages from that Matrix user are sent through this token instead
// of the bridge bot.
type PuppetConfig struct {
	MXID  string `yaml:"mxid"`
	Token string `yaml:"token"`
}

// Config holds the bridge configuration.
type Config struct {
	// Homeserver connection for the appservice side.
	HomeserverURL    string `yaml:"homeserver_url"`
	HomeserverDomain string `yaml:"homeserver_domain"`
	RegistrationPath string `yaml:"registration"`
	AppserviceHost   string `yaml:"appservice_host"`
	AppservicePort   uint16 `yaml:"appservice_port"`

	DiscordToken string `yaml:"discord_token"`
	// IsolateGuildClient routes guild client requests through the
	// worker boundary instead of calling the orchestrator directly.
	IsolateGuildClient bool `yaml:"isolate_guild_client"`

	DisplaynameTemplate string `yaml:"displayname_template"`
	// WebhookName is the webhook the bridge looks for in a channel to
	// impersonate Matrix senders. Defaults to "_matrix".
	WebhookName string `yaml:"webhook_name"`

	// PresenceInterval is the presence queue tick in milliseconds.
	// Zero selects the built-in default.
	PresenceInterval int `yaml:"presence_interval_ms"`
	EchoTTL          int `yaml:"echo_ttl_seconds"`
	EchoCapacity     int `yaml:"echo_capacity"`

	// AdminAPIAddr is the listen address for the admin HTTP API that
	// serves /health and /api/unbridge. Defaults to ":29340".
	AdminAPIAddr string `yaml:"admin_api_addr"`

	DatabasePath string `yaml:"database_path"`

	Puppets []PuppetConfig `yaml:"puppets"`

	Logging zeroconfig.Config `yaml:"logging"`

	displaynameTemplate *template.Template `yaml:"-"`
}

// DisplaynameParams holds the parameters for rendering the displayname template.
type DisplaynameParams struct {
	Username string
	Nickname string
}

// LoadConfig reads, parses and post-processes a config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.PostProcess(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) PostProcess() error {
	if c.DisplaynameTemplate == "" {
		c.DisplaynameTemplate = "{{if .Nickname}}{{.Nickname}}{{else}}{{.Username}}{{end}}"
	}
	if c.WebhookName == "" {
		c.WebhookName = "_matrix"
	}
	if c.AdminAPIAddr == "" {
		c.AdminAPIAddr = ":29340"
	}
	if c.DatabasePath == "" {
		c.DatabasePath = "matrix-discord-bridge.db"
	}
	var err error
	c.displaynameTemplate, err = template.New("displayname").Parse(c.DisplaynameTemplate)
	if err != nil {
		return fmt.Errorf("parse displayname template: %w", err)
	}
	return nil
}

// FormatDisplayname generates a ghost display name from the template
// and params.
func (c *Config) FormatDisplayname(params DisplaynameParams) string {
	if c.displaynameTemplate == nil {
		return params.Username
	}
	var buf []byte
	err := c.displaynameTemplate.Execute(
		(*templateBuffer)(&buf),
		params,
	)
	if err != nil {
		return params.Username
	}
	return string(buf)
}

// templateBuffer is a simple io.Writer that appends to a byte slice.
type templateBuffer []byte

func (b *templateBuffer) Write(p []byte) (int, error) {
	*b = append(*b, p...)
	return len(p), nil
}
