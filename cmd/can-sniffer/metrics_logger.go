package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-can-sniffer/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				s := metrics.Snap()
				l.Info("metrics_snapshot",
					"captured", s.Captured,
					"evicted", s.Evicted,
					"ring_depth", s.RingDepth,
					"batches", s.Batches,
					"flushed", s.Flushed,
					"bytes", s.Bytes,
					"file", s.ActiveFile,
					"rotations", s.Rotations,
					"network_batches", s.NetworkBatches,
					"network_disabled", s.NetworkDisabled,
					"malformed", s.Malformed,
					"errors", s.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
