package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// fileSchema is the YAML shape of a config file. Timeouts are expressed in
// seconds.
type fileSchema struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	Workers         int    `yaml:"workers"`
	Backlog         int    `yaml:"backlog"`
	KeepAliveSecs   int    `yaml:"keep_alive_secs"`
	MaxConnections  int    `yaml:"max_connections"`
	MaxHeaderBytes  int    `yaml:"max_header_bytes"`
	ReadTimeoutSecs int    `yaml:"read_timeout_secs"`
	WriteTimeout    int    `yaml:"write_timeout_secs"`
	ShutdownSecs    int    `yaml:"shutdown_timeout_secs"`

	TLS *struct {
		CertFile   string `yaml:"cert_file"`
		KeyFile    string `yaml:"key_file"`
		MinVersion string `yaml:"min_version"`
	} `yaml:"tls"`

	HTTP2 *struct {
		Addr                 string `yaml:"addr"`
		MaxConcurrentStreams uint32 `yaml:"max_concurrent_streams"`
	} `yaml:"http2"`

	Cluster *struct {
		Listeners int `yaml:"listeners"`
	} `yaml:"cluster"`
}

// Load reads a YAML config file, applying defaults for absent fields and
// environment overrides (CELLO_HOST, CELLO_PORT) on top.
func Load(path string) (*Server, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var file fileSchema
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg := Default()
	if file.Host != "" {
		cfg.Host = file.Host
	}
	if file.Port != 0 {
		cfg.Port = file.Port
	}
	cfg.Workers = file.Workers
	if file.Backlog > 0 {
		cfg.Backlog = file.Backlog
	}
	if file.KeepAliveSecs > 0 {
		cfg.KeepAlive = time.Duration(file.KeepAliveSecs) * time.Second
	}
	if file.MaxConnections > 0 {
		cfg.MaxConnections = file.MaxConnections
	}
	if file.MaxHeaderBytes > 0 {
		cfg.MaxHeaderBytes = file.MaxHeaderBytes
	}
	if file.ReadTimeoutSecs > 0 {
		cfg.ReadTimeout = time.Duration(file.ReadTimeoutSecs) * time.Second
	}
	if file.WriteTimeout > 0 {
		cfg.WriteTimeout = time.Duration(file.WriteTimeout) * time.Second
	}
	if file.ShutdownSecs > 0 {
		cfg.ShutdownTimeout = time.Duration(file.ShutdownSecs) * time.Second
	}
	if file.TLS != nil {
		cfg.TLS = &TLS{
			CertFile:   file.TLS.CertFile,
			KeyFile:    file.TLS.KeyFile,
			MinVersion: file.TLS.MinVersion,
		}
	}
	if file.HTTP2 != nil {
		cfg.HTTP2 = &HTTP2{
			Addr:                 file.HTTP2.Addr,
			MaxConcurrentStreams: file.HTTP2.MaxConcurrentStreams,
		}
	}
	if file.Cluster != nil {
		cfg.Cluster = &Cluster{Listeners: file.Cluster.Listeners}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Server) {
	if host := os.Getenv("CELLO_HOST"); host != "" {
		cfg.Host = host
	}
	if port := os.Getenv("CELLO_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil && p > 0 {
			cfg.Port = p
		}
	}
}
