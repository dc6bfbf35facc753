// Package config loads the YAML document describing every monitored site,
// the shared gateway connection settings, and the notification channels,
// via Viper. Struct fields map 1-to-1 onto config.yml.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultTimeoutSeconds     = 5
	defaultMaxFailed          = 7
	defaultAutoIntervalSec    = 300
	defaultCheckIntervalSec   = 15
	defaultWindowSeconds      = 60
)

// AutoRecoverCfg names the remediation a site falls back to once a backend
// is taken offline.
type AutoRecoverCfg struct {
	Enable bool   `mapstructure:"enable"`
	Type   string `mapstructure:"type"` // restart_process | restart_iis
	Name   string `mapstructure:"name"`
}

// SiteCfg is one monitored site's full configuration.
type SiteCfg struct {
	Name        string         `mapstructure:"site"`
	Path        string         `mapstructure:"path"`
	Method      string         `mapstructure:"method"`
	Body        string         `mapstructure:"body"`
	TimeoutSec  int            `mapstructure:"timeout"`
	MaxFailed   int            `mapstructure:"max_failed"`
	MaxInactive int            `mapstructure:"max_inactive"`
	WindowSec   int            `mapstructure:"window"`
	AutoInterSec int           `mapstructure:"auto_inter"`
	Servers     []string       `mapstructure:"servers"`
	GatewayType string         `mapstructure:"gateway_type"` // NGINX | SLB | STATIC
	ConfigFile  string         `mapstructure:"config_file"`  // NGINX only
	BackendPort string         `mapstructure:"backend_port"` // NGINX only
	TargetGroupARN string      `mapstructure:"target_group_arn"` // SLB only
	Auto        AutoRecoverCfg `mapstructure:"auto_recover"`
}

// Timeout returns the per-probe timeout, defaulting to 5s.
func (s SiteCfg) Timeout() time.Duration {
	if s.TimeoutSec <= 0 {
		return defaultTimeoutSeconds * time.Second
	}
	return time.Duration(s.TimeoutSec) * time.Second
}

// Window returns the sliding failure-count window, defaulting to 60s.
func (s SiteCfg) Window() time.Duration {
	if s.WindowSec <= 0 {
		return defaultWindowSeconds * time.Second
	}
	return time.Duration(s.WindowSec) * time.Second
}

// AutoInterval returns the action/notify cooldown, defaulting to 300s.
func (s SiteCfg) AutoInterval() time.Duration {
	if s.AutoInterSec <= 0 {
		return defaultAutoIntervalSec * time.Second
	}
	return time.Duration(s.AutoInterSec) * time.Second
}

// EffectiveMaxFailed returns max_failed, defaulting to 7.
func (s SiteCfg) EffectiveMaxFailed() int {
	if s.MaxFailed <= 0 {
		return defaultMaxFailed
	}
	return s.MaxFailed
}

// NGINXCfg holds the shared NGINX gateway connection settings.
type NGINXCfg struct {
	Hosts      []string `mapstructure:"hosts"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	PrivateKey string   `mapstructure:"private_key_path"`
}

// SLBCfg holds the shared cloud load-balancer gateway settings. Credentials
// are resolved via the default AWS SDK chain, not from this file.
type SLBCfg struct {
	Region string `mapstructure:"region"`
}

// GatewayCfg bundles both gateway kinds; a deployment only populates the
// one its sites reference via gateway_type.
type GatewayCfg struct {
	NGINX NGINXCfg `mapstructure:"nginx"`
	SLB   SLBCfg   `mapstructure:"slb"`
}

// NotifyChannelCfg configures one notification channel. Type selects which
// fields apply: "dingding" uses RobotToken; "wechat" uses CorpID/Secret/
// Users/AgentID; "email" uses the SMTP fields.
type NotifyChannelCfg struct {
	Type       string   `mapstructure:"type"`
	RobotToken string   `mapstructure:"robot_token"`
	CorpID     string   `mapstructure:"corpid"`
	Secret     string   `mapstructure:"secret"`
	Users      []string `mapstructure:"users"`
	AgentID    int      `mapstructure:"agentid"`
	SMTPHost   string   `mapstructure:"smtp_host"`
	SMTPPort   int      `mapstructure:"smtp_port"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
}

// Document is the full top-level config.yml shape.
type Document struct {
	CheckIntervalSec int                `mapstructure:"check_interval"`
	Sites            []SiteCfg          `mapstructure:"sites"`
	Gateway          GatewayCfg         `mapstructure:"gateway"`
	Notify           []NotifyChannelCfg `mapstructure:"notify"`
}

// CheckInterval returns the probe cycle period, defaulting to 15s.
func (d Document) CheckInterval() time.Duration {
	if d.CheckIntervalSec <= 0 {
		return defaultCheckIntervalSec * time.Second
	}
	return time.Duration(d.CheckIntervalSec) * time.Second
}

// Load reads and validates the YAML document at path.
func Load(path string) (Document, error) {
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		return Document{}, fmt.Errorf("config: reading %q: %w", path, err)
	}

	var doc Document
	if err := v.Unmarshal(&doc); err != nil {
		return Document{}, fmt.Errorf("config: parsing: %w", err)
	}

	if err := validate(doc); err != nil {
		return Document{}, err
	}
	return doc, nil
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)

	v.SetDefault("check_interval", defaultCheckIntervalSec)
	v.SetDefault("sites", []map[string]any{})
	v.SetDefault("notify", []map[string]any{})

	return v
}

func validate(doc Document) error {
	if len(doc.Sites) == 0 {
		return fmt.Errorf("config: at least one site must be defined")
	}
	for i, s := range doc.Sites {
		if s.Name == "" {
			return fmt.Errorf("config: sites[%d] has no site name", i)
		}
		switch s.GatewayType {
		case "NGINX":
			if s.ConfigFile == "" || s.BackendPort == "" {
				return fmt.Errorf("config: site %q uses NGINX gateway but is missing config_file/backend_port", s.Name)
			}
		case "SLB":
			if s.TargetGroupARN == "" {
				return fmt.Errorf("config: site %q uses SLB gateway but is missing target_group_arn", s.Name)
			}
		case "STATIC", "":
			// no extra requirements; recovery must be disabled for these.
		default:
			return fmt.Errorf("config: site %q has unsupported gateway_type %q", s.Name, s.GatewayType)
		}
		if s.Auto.Enable && (s.GatewayType == "" || s.GatewayType == "STATIC") {
			return fmt.Errorf("config: site %q enables auto_recover but has no NGINX or SLB gateway_type", s.Name)
		}
	}
	return nil
}
