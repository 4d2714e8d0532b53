package config

import "time"

// RelayConfig is the root configuration for a relay instance.
type RelayConfig struct {
	Instance  InstanceConfig  `yaml:"instance"`
	Server    ServerConfig    `yaml:"server"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Admission AdmissionConfig `yaml:"admission"`
	Hub       HubConfig       `yaml:"hub"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// InstanceConfig identifies this relay.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// ServerConfig holds the subscriber-facing HTTP server settings.
type ServerConfig struct {
	Addr      string `yaml:"addr"`       // listen address, e.g. ":8081"
	StaticDir string `yaml:"static_dir"` // directory served for non-websocket paths
}

// UpstreamConfig holds settings for live-session connections.
type UpstreamConfig struct {
	WSURL            string        `yaml:"ws_url"` // base URL of the upstream signing/websocket endpoint
	Origin           string        `yaml:"origin"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	PingTimeout      time.Duration `yaml:"ping_timeout"` // stale detection: max silence before the session is considered dead
	BufferSize       int           `yaml:"buffer_size"`  // event channel buffer per session
}

// ReconnectConfig holds the backoff policy for lost upstream sessions.
type ReconnectConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseWait    time.Duration `yaml:"base_wait"`
	MaxWait     time.Duration `yaml:"max_wait"`
}

// AdmissionConfig holds per-identity session creation ceilings.
type AdmissionConfig struct {
	MaxConnectionsPerIP int           `yaml:"max_connections_per_ip"`
	MaxRequestsPerIP    int           `yaml:"max_requests_per_ip"`
	RequestWindow       time.Duration `yaml:"request_window"`
}

// HubConfig holds broadcast settings.
type HubConfig struct {
	StatInterval time.Duration `yaml:"stat_interval"` // statistic broadcast period
	SendBuffer   int           `yaml:"send_buffer"`   // per-subscriber outbound buffer
	WriteTimeout time.Duration `yaml:"write_timeout"` // subscriber socket write deadline
	PingInterval time.Duration `yaml:"ping_interval"` // subscriber keepalive
}

// ArchiveConfig holds the optional Postgres event archiver settings.
type ArchiveConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Database      DBConfig      `yaml:"database"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}
