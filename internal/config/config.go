// Package config loads ZAMS's runtime configuration from an INI file.
package config

import (
	"fmt"

	"gopkg.in/ini.v1"

	"github.com/ccoin/zams/pkg/types"
)

// Config holds the settings read from the "[zams]" section, including
// the operational data_dir, log_level and log_file keys.
type Config struct {
	Zcashd           string
	RPCUser          string
	RPCPassword      string
	Port             int
	ConnectionString string
	Testnet          bool
	NotificationURL  string

	// SignerPort is the listen port for the isolated signer process
	// (spec §6: "typically main_port+1").
	SignerPort int

	// MetricsPort is the listen port for the plain-text metrics
	// endpoint (spec §6: "main_port + 10").
	MetricsPort int

	DataDir  string
	LogLevel string
	LogFile  string
}

// Load reads an INI file's "[zams]" section into a Config, applying the
// defaults spec.md §6 documents for fields it leaves unspecified.
func Load(path string) (*Config, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}

	sec := f.Section("zams")
	cfg := &Config{
		Zcashd:           sec.Key("zcashd").String(),
		RPCUser:          sec.Key("rpcuser").String(),
		RPCPassword:      sec.Key("rpcpassword").String(),
		Port:             sec.Key("port").MustInt(8232),
		ConnectionString: sec.Key("connection_string").String(),
		Testnet:          sec.Key("testnet").MustBool(false),
		NotificationURL:  sec.Key("notification_url").String(),
		SignerPort:       sec.Key("signer_port").MustInt(0),
		MetricsPort:      sec.Key("metrics_port").MustInt(0),
		DataDir:          sec.Key("data_dir").MustString("./data"),
		LogLevel:         sec.Key("log_level").MustString("info"),
		LogFile:          sec.Key("log_file").String(),
	}

	if cfg.SignerPort == 0 {
		cfg.SignerPort = cfg.Port + 1
	}
	if cfg.MetricsPort == 0 {
		cfg.MetricsPort = cfg.Port + 10
	}

	if cfg.Zcashd == "" {
		return nil, fmt.Errorf("config: zcashd is required")
	}
	if cfg.ConnectionString == "" {
		return nil, fmt.Errorf("config: connection_string is required")
	}

	return cfg, nil
}

// Network returns Mainnet or Testnet based on the Testnet flag, matching
// the "unsigned-tx descriptor is network-aware" design constraint.
func (c *Config) Network() types.Network {
	if c.Testnet {
		return types.Testnet
	}
	return types.Mainnet
}
