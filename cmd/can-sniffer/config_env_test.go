package main

import (
	"flag"
	"io"
	"testing"
	"time"
)

func newFlagSet(c *appConfig) *flag.FlagSet {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	defineFlags(fs, c)
	return fs
}

func TestEnvName(t *testing.T) {
	if got := envName("min-free-bytes"); got != "CAN_SNIFFER_MIN_FREE_BYTES" {
		t.Fatalf("envName: %s", got)
	}
}

func TestApplyEnvOverrides_Basic(t *testing.T) {
	c := &appConfig{}
	fs := newFlagSet(c)
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("parse: %v", err)
	}
	t.Setenv("CAN_SNIFFER_BAUD", "230400")
	t.Setenv("CAN_SNIFFER_MDNS_ENABLE", "yes")
	t.Setenv("CAN_SNIFFER_LOG_FORMATTED", "1")
	t.Setenv("CAN_SNIFFER_SERIAL_READ_TIMEOUT", "100ms")
	t.Setenv("CAN_SNIFFER_FILTERS", "7E0;7E8")
	t.Setenv("CAN_SNIFFER_MIN_FREE_BYTES", "4096")
	if err := applyEnvOverrides(fs, map[string]struct{}{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.baud != 230400 {
		t.Fatalf("expected baud override, got %d", c.baud)
	}
	if !c.mdnsEnable || !c.logFormatted {
		t.Fatalf("expected boolean overrides applied")
	}
	if c.serialReadTO != 100*time.Millisecond {
		t.Fatalf("expected serialReadTO 100ms got %v", c.serialReadTO)
	}
	if c.filters != "7E0;7E8" || c.minFreeBytes != 4096 {
		t.Fatalf("filters=%q minFree=%d", c.filters, c.minFreeBytes)
	}
}

func TestApplyEnvOverrides_FlagPrecedence(t *testing.T) {
	c := &appConfig{}
	fs := newFlagSet(c)
	if err := fs.Parse([]string{"-baud", "9600"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	t.Setenv("CAN_SNIFFER_BAUD", "230400")
	if err := applyEnvOverrides(fs, map[string]struct{}{"baud": {}}); err != nil {
		t.Fatalf("err: %v", err)
	}
	if c.baud != 9600 {
		t.Fatalf("expected baud unchanged 9600 got %d", c.baud)
	}
}

func TestApplyEnvOverrides_BadInt(t *testing.T) {
	c := &appConfig{}
	fs := newFlagSet(c)
	_ = fs.Parse(nil)
	t.Setenv("CAN_SNIFFER_RING_SIZE", "notint")
	t.Setenv("CAN_SNIFFER_LOG_LEVEL", "debug")
	if err := applyEnvOverrides(fs, map[string]struct{}{}); err == nil {
		t.Fatalf("expected error for bad integer")
	}
	if c.logLevel != "debug" {
		t.Fatalf("remaining variables should still apply")
	}
}
