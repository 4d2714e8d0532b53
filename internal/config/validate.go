package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *RelayConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Upstream.WSURL == "" {
		return errors.New("upstream.ws_url is required")
	}

	if c.Reconnect.MaxAttempts < 1 {
		return errors.New("reconnect.max_attempts must be >= 1")
	}
	if c.Reconnect.BaseWait <= 0 {
		return errors.New("reconnect.base_wait must be > 0")
	}
	if c.Reconnect.MaxWait < c.Reconnect.BaseWait {
		return fmt.Errorf("reconnect.max_wait (%v) cannot be below base_wait (%v)",
			c.Reconnect.MaxWait, c.Reconnect.BaseWait)
	}

	if c.Admission.MaxConnectionsPerIP < 1 {
		return errors.New("admission.max_connections_per_ip must be >= 1")
	}
	if c.Admission.MaxRequestsPerIP < 1 {
		return errors.New("admission.max_requests_per_ip must be >= 1")
	}
	if c.Admission.RequestWindow <= 0 {
		return errors.New("admission.request_window must be > 0")
	}

	if c.Hub.StatInterval <= 0 {
		return errors.New("hub.stat_interval must be > 0")
	}
	if c.Hub.SendBuffer < 1 {
		return errors.New("hub.send_buffer must be >= 1")
	}

	if c.Archive.Enabled {
		if err := c.Archive.Database.validate("archive.database"); err != nil {
			return err
		}
		if c.Archive.BatchSize < 1 {
			return errors.New("archive.batch_size must be >= 1")
		}
		if c.Archive.BufferSize < 1 {
			return errors.New("archive.buffer_size must be >= 1")
		}
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
