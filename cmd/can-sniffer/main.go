package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kstaniek/go-can-sniffer/internal/can"
	"github.com/kstaniek/go-can-sniffer/internal/filterbank"
	"github.com/kstaniek/go-can-sniffer/internal/metrics"
	"github.com/kstaniek/go-can-sniffer/internal/pipeline"
	"github.com/kstaniek/go-can-sniffer/internal/ring"
	"github.com/kstaniek/go-can-sniffer/internal/status"
	"github.com/kstaniek/go-can-sniffer/internal/storage"
)

const (
	exitOK     = 0
	exitFatal  = 1
	exitConfig = 2

	// readyMaxAge is how stale a task's watchdog may be while /ready is true.
	readyMaxAge = 2 * time.Second
	// retryDelay separates the two attempts of a write or post.
	retryDelay = 100 * time.Millisecond
)

func main() { os.Exit(run()) }

func run() int {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("can-sniffer %s (commit %s, built %s)\n", version, commit, date)
		return exitOK
	}
	if cfg == nil {
		return exitConfig
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	board := status.NewBoard(l)

	logs, err := storage.OpenLogs(storage.Dir{Root: cfg.storageRoot, MinFree: cfg.minFreeBytes})
	if err != nil {
		board.Set(status.StorageFault, true)
		l.Error("storage_open_failed", "root", cfg.storageRoot, "error", err)
		return exitFatal
	}
	lastFile, err := logs.LastIndex()
	if err != nil {
		board.Set(status.StorageFault, true)
		l.Error("storage_state_failed", "error", err)
		return exitFatal
	}

	lnk := newLinkDriver(cfg, l)
	filters, rate := fetchSettings(ctx, cfg, lnk, l)
	bitrate, err := can.ParseBitrate(rate)
	if err != nil {
		l.Error("config_invalid", "bitrate", rate, "error", err)
		return exitConfig
	}

	ctl, err := openController(cfg, l)
	if err != nil {
		board.Set(status.ControllerFault, true)
		l.Error("controller_open_failed", "error", err)
		return exitFatal
	}
	defer func() { _ = ctl.Close() }()

	pcfg := pipeline.Config{
		Bitrate:      bitrate,
		FilterSpec:   filters,
		Formatted:    cfg.logFormatted,
		SerialEcho:   cfg.serialEcho,
		LastFile:     lastFile,
		RecordsURL:   cfg.urlRecords,
		RateURL:      cfg.urlRate,
		FiltersURL:   cfg.urlFilters,
		User:         cfg.remoteUser,
		Password:     cfg.remotePassword,
		SSID:         cfg.linkSSID,
		LinkPassword: cfg.linkPassword,
		RingSize:     cfg.ringSize,
	}
	bank, err := pipeline.Program(ctl, pcfg)
	if err != nil {
		if errors.Is(err, filterbank.ErrMalformedSpec) {
			l.Error("config_invalid", "filters", filters, "error", err)
			return exitConfig
		}
		board.Set(status.ControllerFault, true)
		l.Error("controller_init_failed", "error", err)
		return exitFatal
	}
	l.Info("controller_ready", "backend", cfg.backend, "bitrate", bitrate.String(), "filters", bank.String())

	d, err := pipeline.NewDescriptor(pcfg, ring.Hooks{OnEvict: func(can.Frame) { metrics.IncEvicted() }})
	if err != nil {
		l.Error("ring_alloc_failed", "size", cfg.ringSize, "error", err)
		return exitConfig
	}

	sink, err := buildSink(ctx, cfg, lnk)
	if err != nil {
		// capture and storage go on without the network
		board.Set(status.EndpointFault, true)
		metrics.SetNetworkDisabled(true)
		l.Warn("remote_unavailable", "remote", cfg.remote, "error", err)
		sink = nil
	}
	echo, closeEcho, err := openEcho(ctx, cfg)
	if err != nil {
		l.Warn("echo_unavailable", "device", cfg.echoDevice, "error", err)
	}
	defer closeEcho()

	wd := status.NewWatchdog("capture", "persist")
	metrics.SetReadinessFunc(func() bool {
		return d.Run.Running() && wd.Healthy(readyMaxAge) && !board.Get(status.ControllerFault)
	})
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
		if cfg.mdnsEnable {
			if port, err := metricsPort(cfg.metricsAddr); err != nil {
				l.Warn("mdns_start_failed", "error", err)
			} else if cleanupMDNS, err := startMDNS(ctx, cfg, port); err != nil {
				l.Warn("mdns_start_failed", "error", err)
			} else {
				l.Info("mdns_started", "service", mdnsServiceType, "name", cfg.mdnsName, "port", port)
				defer cleanupMDNS()
			}
		}
	}
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	opts := []pipeline.Option{
		pipeline.WithStatus(board),
		pipeline.WithWatchdog(wd),
		pipeline.WithIdlePause(cfg.idlePause),
		pipeline.WithRetryDelay(retryDelay),
	}
	capture := pipeline.NewCapture(d, ctl, opts...)
	persist := pipeline.NewPersister(d, logs, sink, echo, opts...)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case s := <-sigCh:
			l.Info("shutdown_signal", "signal", s.String())
			d.Run.Stop(pipeline.ErrShutdown)
		case <-d.Run.Done():
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(capture.Run)
	g.Go(func() error { return persist.Run(gctx) })
	err = g.Wait()
	cancel()
	wg.Wait()

	cause := d.Run.Cause()
	l.Info("pipeline_stopped", "cause", cause, "error", err, "file", persist.File())
	if errors.Is(cause, pipeline.ErrShutdown) {
		return exitOK
	}
	return exitFatal
}
