package lifecycle

import "sync/atomic"

// Gauge is the process-wide count of live upstream connections. It is
// incremented on every successful connect and decremented on every teardown,
// floored at zero.
type Gauge struct {
	n atomic.Int64
}

// NewGauge creates a zeroed gauge.
func NewGauge() *Gauge {
	return &Gauge{}
}

// Inc adds one connection.
func (g *Gauge) Inc() {
	g.n.Add(1)
}

// Dec removes one connection, never dropping below zero.
func (g *Gauge) Dec() {
	if g.n.Add(-1) < 0 {
		g.n.Store(0) // safety floor
	}
}

// Value returns the current connection count.
func (g *Gauge) Value() int64 {
	v := g.n.Load()
	if v < 0 {
		return 0
	}
	return v
}
