package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide session/signaling/media counter.
var Stats = &stats{}

type stats struct {
	Sessions     atomic.Int64 // negotiation attempts started
	Connected    atomic.Int64 // attempts that reached Connected
	Failed       atomic.Int64 // attempts torn down with an error
	SignalsSent  atomic.Int64 // signaling messages published
	SignalsRecv  atomic.Int64 // signaling messages addressed to us
	MediaRecv    atomic.Int64 // bytes read from remote media tracks
	MediaSamples atomic.Int64 // samples written to local media tracks
}

func (s *stats) AddSession()        { s.Sessions.Add(1) }
func (s *stats) AddConnected()      { s.Connected.Add(1) }
func (s *stats) AddFailed()         { s.Failed.Add(1) }
func (s *stats) AddSignalSent()     { s.SignalsSent.Add(1) }
func (s *stats) AddSignalRecv()     { s.SignalsRecv.Add(1) }
func (s *stats) AddMediaRecv(n int) { s.MediaRecv.Add(int64(n)) }
func (s *stats) AddMediaSample()    { s.MediaSamples.Add(1) }

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs media and signaling
// throughput every interval. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var prevRecv, prevSamples, prevSignals int64
		for {
			select {
			case <-ticker.C:
				recv := Stats.MediaRecv.Load()
				samples := Stats.MediaSamples.Load()
				signals := Stats.SignalsSent.Load() + Stats.SignalsRecv.Load()

				secs := interval.Seconds()
				inS := float64(recv-prevRecv) / secs
				fps := float64(samples-prevSamples) / secs
				sig := signals - prevSignals

				if inS > 10 || fps > 0 || sig > 0 {
					pterm.DefaultLogger.Info(formatStats(inS, fps, sig))
				}

				prevRecv = recv
				prevSamples = samples
				prevSignals = signals

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count with a fixed width of 8 chars,
// e.g. "99.0   B", " 1.5 KiB", "98.9 GiB".
func formatBytes(b float64) string {
	unitIdx := 0

	// keeps "100.0 KiB" (9 chars) out
	for b > 99 && unitIdx < len(byteUnits)-1 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats renders one reporter line.
func formatStats(inS, fps float64, signals int64) string {
	return fmt.Sprintf("Media in: %s/s | Out: %5.1f samples/s | Signals: %3d",
		formatBytes(inS),
		fps,
		signals,
	)
}
