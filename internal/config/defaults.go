package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultServerAddr       = ":8081"
	DefaultStaticDir        = "public"
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
	DefaultPingTimeout      = 60 * time.Second
	DefaultEventBufferSize  = 1000

	DefaultMaxReconnectAttempts = 5
	DefaultReconnectBaseWait    = 1 * time.Second
	DefaultReconnectMaxWait     = 32 * time.Second

	DefaultMaxConnectionsPerIP = 10
	DefaultMaxRequestsPerIP    = 5
	DefaultRequestWindow       = 60 * time.Second

	DefaultStatInterval   = 5 * time.Second
	DefaultSendBuffer     = 256
	DefaultSubscriberPing = 30 * time.Second

	DefaultDBPort        = 5432
	DefaultDBSSLMode     = "prefer"
	DefaultMaxConns      = 10
	DefaultMinConns      = 2
	DefaultBatchSize     = 500
	DefaultFlushInterval = 1 * time.Second
	DefaultBufferSize    = 10000

	DefaultMetricsPort = 9090
	DefaultMetricsPath = "/metrics"
)

func (c *RelayConfig) applyDefaults() {
	// Server defaults
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultServerAddr
	}
	if c.Server.StaticDir == "" {
		c.Server.StaticDir = DefaultStaticDir
	}

	// Upstream defaults
	if c.Upstream.HandshakeTimeout == 0 {
		c.Upstream.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Upstream.WriteTimeout == 0 {
		c.Upstream.WriteTimeout = DefaultWriteTimeout
	}
	if c.Upstream.PingTimeout == 0 {
		c.Upstream.PingTimeout = DefaultPingTimeout
	}
	if c.Upstream.BufferSize == 0 {
		c.Upstream.BufferSize = DefaultEventBufferSize
	}

	// Reconnect defaults
	if c.Reconnect.MaxAttempts == 0 {
		c.Reconnect.MaxAttempts = DefaultMaxReconnectAttempts
	}
	if c.Reconnect.BaseWait == 0 {
		c.Reconnect.BaseWait = DefaultReconnectBaseWait
	}
	if c.Reconnect.MaxWait == 0 {
		c.Reconnect.MaxWait = DefaultReconnectMaxWait
	}

	// Admission defaults
	if c.Admission.MaxConnectionsPerIP == 0 {
		c.Admission.MaxConnectionsPerIP = DefaultMaxConnectionsPerIP
	}
	if c.Admission.MaxRequestsPerIP == 0 {
		c.Admission.MaxRequestsPerIP = DefaultMaxRequestsPerIP
	}
	if c.Admission.RequestWindow == 0 {
		c.Admission.RequestWindow = DefaultRequestWindow
	}

	// Hub defaults
	if c.Hub.StatInterval == 0 {
		c.Hub.StatInterval = DefaultStatInterval
	}
	if c.Hub.SendBuffer == 0 {
		c.Hub.SendBuffer = DefaultSendBuffer
	}
	if c.Hub.WriteTimeout == 0 {
		c.Hub.WriteTimeout = DefaultWriteTimeout
	}
	if c.Hub.PingInterval == 0 {
		c.Hub.PingInterval = DefaultSubscriberPing
	}

	// Archive defaults
	if c.Archive.BatchSize == 0 {
		c.Archive.BatchSize = DefaultBatchSize
	}
	if c.Archive.FlushInterval == 0 {
		c.Archive.FlushInterval = DefaultFlushInterval
	}
	if c.Archive.BufferSize == 0 {
		c.Archive.BufferSize = DefaultBufferSize
	}
	applyDBDefaults(&c.Archive.Database)

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
