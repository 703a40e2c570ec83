// Package config loads the node's INI configuration file and applies
// defaults. Only the [node] section is read; flags on the command line
// override file values.
package config

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gopkg.in/ini.v1"
)

const (
	DefaultListenPort        = 8000
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultLogLevel          = "info"
)

type Config struct {
	// ListenPort is the well-known UDP announcement port shared by every
	// node on the LAN.
	ListenPort uint16
	// HeartbeatInterval drives the announce/metrics update pass.
	HeartbeatInterval time.Duration
	// NodeID is uuid.Nil unless pinned in the file; the controller
	// generates a fresh one when absent.
	NodeID       uuid.UUID
	LogFile      string
	LogLevel     string
	StatusFile   string
	MasterRebind bool
}

func Default() Config {
	return Config{
		ListenPort:        DefaultListenPort,
		HeartbeatInterval: DefaultHeartbeatInterval,
		LogLevel:          DefaultLogLevel,
		MasterRebind:      true,
	}
}

// Load reads an INI file over the defaults. An empty path returns the
// defaults unchanged; a path to a file that cannot be read is an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	file, err := ini.Load(path)
	if err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	sec := file.Section("node")
	if key := sec.Key("listen_port"); key.String() != "" {
		port, err := key.Uint()
		if err != nil || port == 0 || port > 65535 {
			return Config{}, fmt.Errorf("config: bad listen_port %q", key.String())
		}
		cfg.ListenPort = uint16(port)
	}
	if key := sec.Key("heartbeat_interval"); key.String() != "" {
		secs, err := key.Int()
		if err != nil || secs <= 0 {
			return Config{}, fmt.Errorf("config: bad heartbeat_interval %q", key.String())
		}
		cfg.HeartbeatInterval = time.Duration(secs) * time.Second
	}
	if key := sec.Key("node_id"); key.String() != "" {
		id, err := uuid.Parse(key.String())
		if err != nil {
			return Config{}, fmt.Errorf("config: bad node_id %q", key.String())
		}
		cfg.NodeID = id
	}
	cfg.LogFile = sec.Key("log_file").String()
	if lvl := sec.Key("log_level").String(); lvl != "" {
		cfg.LogLevel = lvl
	}
	cfg.StatusFile = sec.Key("status_file").String()
	if key := sec.Key("master_rebind"); key.String() != "" {
		rebind, err := key.Bool()
		if err != nil {
			return Config{}, fmt.Errorf("config: bad master_rebind %q", key.String())
		}
		cfg.MasterRebind = rebind
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.ListenPort == 0 {
		return fmt.Errorf("config: listen_port must be nonzero")
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("config: heartbeat_interval must be positive")
	}
	return nil
}
