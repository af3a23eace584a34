package main

import (
	"fmt"
	"log/slog"

	"github.com/kstaniek/go-can-sniffer/internal/pipeline"
	"github.com/kstaniek/go-can-sniffer/internal/serial"
	"github.com/kstaniek/go-can-sniffer/internal/socketcan"
)

// serialQueue bounds frames decoded from the adapter but not yet polled.
const serialQueue = 1024

type controller interface {
	pipeline.Controller
	Close() error
}

// hooks for tests
var (
	openSerialPort = serial.Open
	openSocketCAN  = func(iface string, l *slog.Logger) (controller, error) {
		dev, err := socketcan.Open(iface, l)
		if err != nil {
			return nil, err
		}
		return dev, nil
	}
)

// openController selects the CAN controller driver. It is not programmed yet.
func openController(cfg *appConfig, l *slog.Logger) (controller, error) {
	switch cfg.backend {
	case "serial":
		sp, err := openSerialPort(cfg.serialDev, cfg.baud, cfg.serialReadTO)
		if err != nil {
			return nil, fmt.Errorf("open serial: %w", err)
		}
		l.Info("serial_open", "device", cfg.serialDev, "baud", cfg.baud)
		return serial.NewController(sp, serialQueue, l), nil
	case "socketcan":
		dev, err := openSocketCAN(cfg.canIf, l)
		if err != nil {
			return nil, fmt.Errorf("socketcan open %s: %w", cfg.canIf, err)
		}
		l.Info("socketcan_open", "if", cfg.canIf)
		return dev, nil
	default:
		return nil, fmt.Errorf("unknown backend %q (use serial|socketcan)", cfg.backend)
	}
}
