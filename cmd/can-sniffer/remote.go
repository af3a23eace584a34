package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/kstaniek/go-can-sniffer/internal/link"
	"github.com/kstaniek/go-can-sniffer/internal/metrics"
	"github.com/kstaniek/go-can-sniffer/internal/remote"
	"github.com/kstaniek/go-can-sniffer/internal/serial"
)

// echoQueue bounds batches waiting for the echo monitor.
const echoQueue = 64

func newLinkDriver(cfg *appConfig, l *slog.Logger) link.Driver {
	if cfg.linkIf == "" {
		return link.Always{}
	}
	return &link.Netlink{Iface: cfg.linkIf, Log: l}
}

// fetchSettings returns the filter list and bitrate selector, preferring the
// remote endpoints when they are configured and reachable.
func fetchSettings(ctx context.Context, cfg *appConfig, lnk link.Driver, l *slog.Logger) (filters, rate string) {
	filters, rate = cfg.filters, cfg.bitrate
	if cfg.urlFilters == "" && cfg.urlRate == "" {
		return filters, rate
	}
	if !lnk.ConnectionUp() {
		if err := lnk.Connect(cfg.linkSSID, cfg.linkPassword); err != nil {
			metrics.IncError(metrics.ErrLinkDown)
			l.Warn("settings_link_down", "error", err)
			return filters, rate
		}
	}
	get := func(name, rawURL, fallback string) string {
		if rawURL == "" {
			return fallback
		}
		v, err := remote.FetchSetting(ctx, remote.WithCredentials(rawURL, cfg.remoteUser, cfg.remotePassword), cfg.remoteTimeout)
		if err != nil {
			metrics.IncError(metrics.ErrSettingsFetch)
			l.Warn("settings_fetch_failed", "setting", name, "error", err, "fallback", fallback)
			return fallback
		}
		l.Info("settings_fetched", "setting", name, "value", v)
		return v
	}
	return get("filters", cfg.urlFilters, filters), get("bitrate", cfg.urlRate, rate)
}

// buildSink returns the configured network sink behind the link guard, or
// nil when remote delivery is off.
func buildSink(ctx context.Context, cfg *appConfig, lnk link.Driver) (remote.Sink, error) {
	var (
		s   remote.Sink
		err error
	)
	switch cfg.remote {
	case "none":
		return nil, nil
	case "http":
		s, err = remote.NewHTTPSink(remote.WithCredentials(cfg.urlRecords, cfg.remoteUser, cfg.remotePassword), cfg.remoteTimeout)
	case "influxdb":
		s, err = remote.NewInfluxSink(remote.InfluxConfig{
			Host:     cfg.influxHost,
			Token:    cfg.influxToken,
			Database: cfg.influxDatabase,
		})
	case "clickhouse":
		cctx, cancel := context.WithTimeout(ctx, cfg.remoteTimeout)
		defer cancel()
		s, err = remote.NewClickHouseSink(cctx, remote.ClickHouseConfig{
			Addr:     cfg.clickhouseAddr,
			Database: cfg.clickhouseDatabase,
			Username: cfg.clickhouseUser,
			Password: cfg.clickhousePassword,
			Table:    cfg.clickhouseTable,
		})
	default:
		return nil, fmt.Errorf("unknown remote %q", cfg.remote)
	}
	if err != nil {
		return nil, fmt.Errorf("%s sink: %w", cfg.remote, err)
	}
	return &remote.Guarded{Sink: s, Link: lnk, SSID: cfg.linkSSID, Password: cfg.linkPassword}, nil
}

// openEcho returns the serial echo monitor, or a nil writer when disabled.
func openEcho(ctx context.Context, cfg *appConfig) (io.Writer, func(), error) {
	if !cfg.serialEcho {
		return nil, func() {}, nil
	}
	if cfg.echoToStdout() {
		e := serial.NewEcho(ctx, os.Stdout, echoQueue)
		return e, e.Close, nil
	}
	sp, err := openSerialPort(cfg.echoDevice, echoBaud, cfg.serialReadTO)
	if err != nil {
		return nil, func() {}, fmt.Errorf("open echo device: %w", err)
	}
	e := serial.NewEcho(ctx, sp, echoQueue)
	return e, func() { e.Close(); _ = sp.Close() }, nil
}
