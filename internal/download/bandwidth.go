package download

import (
	"context"
	"fmt"
	"time"

	psnet "github.com/shirou/gopsutil/v4/net"
)

// Meter samples current inbound throughput in Mbit/s.
type Meter interface {
	Usage(ctx context.Context) (float64, error)
}

// InterfaceMeter measures one network interface (or the machine total when
// the interface is empty) by sampling kernel I/O counters twice.
type InterfaceMeter struct {
	Interface string
	Sample    time.Duration
}

// NewInterfaceMeter creates a meter with a one second sample window.
func NewInterfaceMeter(iface string) *InterfaceMeter {
	return &InterfaceMeter{Interface: iface, Sample: time.Second}
}

// Usage implements Meter.
func (m *InterfaceMeter) Usage(ctx context.Context) (float64, error) {
	first, err := m.bytesRecv(ctx)
	if err != nil {
		return 0, err
	}
	select {
	case <-time.After(m.Sample):
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	second, err := m.bytesRecv(ctx)
	if err != nil {
		return 0, err
	}
	return float64(second-first) * 8 / 1024 / 1024 / m.Sample.Seconds(), nil
}

func (m *InterfaceMeter) bytesRecv(ctx context.Context) (uint64, error) {
	if m.Interface == "" {
		stats, err := psnet.IOCountersWithContext(ctx, false)
		if err != nil {
			return 0, err
		}
		if len(stats) == 0 {
			return 0, fmt.Errorf("no network counters available")
		}
		return stats[0].BytesRecv, nil
	}
	stats, err := psnet.IOCountersWithContext(ctx, true)
	if err != nil {
		return 0, err
	}
	for _, s := range stats {
		if s.Name == m.Interface {
			return s.BytesRecv, nil
		}
	}
	return 0, fmt.Errorf("network interface %q not found", m.Interface)
}

// admit blocks while inbound throughput exceeds the configured ceiling
// minus the margin, re-polling at the configured interval. This is
// backpressure, not a hard limiter: overshoot between polls is tolerated.
// Meter failures disable the gate for the batch rather than stalling it.
func (m *Manager) admit(ctx context.Context) error {
	if m.cfg.CeilingMbit <= 0 || m.meter == nil {
		return nil
	}
	for {
		usage, err := m.meter.Usage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.log.Warn().Err(err).Msg("Bandwidth meter failed, admitting without gate")
			return nil
		}
		if usage <= m.cfg.CeilingMbit-m.cfg.MarginMbit {
			return nil
		}
		m.log.Debug().
			Float64("usage_mbit", usage).
			Float64("ceiling_mbit", m.cfg.CeilingMbit).
			Msg("Throughput above ceiling, delaying submission")
		select {
		case <-time.After(m.cfg.PollInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
