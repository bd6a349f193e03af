package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// Connectivity tells the scheduler whether a submission is worth trying.
type Connectivity interface {
	Online(ctx context.Context) bool
}

// AlwaysOnline assumes the backend is reachable and lets the transport
// report otherwise.
type AlwaysOnline struct{}

func (AlwaysOnline) Online(context.Context) bool { return true }

// Pinger is satisfied by *transport.Client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DefaultProbeTimeout bounds a connectivity probe.
const DefaultProbeTimeout = 3 * time.Second

// Probe checks reachability with a cheap request before each attempt.
type Probe struct {
	pinger  Pinger
	timeout time.Duration
}

// NewProbe returns a Probe using p. A zero timeout means
// DefaultProbeTimeout.
func NewProbe(p Pinger, timeout time.Duration) *Probe {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &Probe{pinger: p, timeout: timeout}
}

func (p *Probe) Online(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.pinger.Ping(ctx); err != nil {
		slog.Debug("backend unreachable", "error", err)
		return false
	}
	return true
}
