package database

import (
	"fmt"
	"strings"

	"github.com/pulsecast/relay/internal/config"
)

// BuildConnString renders cfg as a pgx keyword/value DSN, pool sizing
// included. Values are single-quoted so passwords may carry spaces and
// punctuation.
func BuildConnString(cfg config.DBConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}

	parts := []string{
		"host=" + quoteDSN(cfg.Host),
		fmt.Sprintf("port=%d", cfg.Port),
		"dbname=" + quoteDSN(cfg.Name),
		"user=" + quoteDSN(cfg.User),
		"password=" + quoteDSN(cfg.Password),
		"sslmode=" + sslMode,
	}
	if cfg.MaxConns > 0 {
		parts = append(parts, fmt.Sprintf("pool_max_conns=%d", cfg.MaxConns))
	}
	if cfg.MinConns > 0 {
		parts = append(parts, fmt.Sprintf("pool_min_conns=%d", cfg.MinConns))
	}

	return strings.Join(parts, " ")
}

// quoteDSN single-quotes a DSN value, escaping backslashes and quotes.
func quoteDSN(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}
