package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kstaniek/go-can-sniffer/internal/remote"
)

type appConfig struct {
	backend      string
	canIf        string
	serialDev    string
	baud         int
	serialReadTO time.Duration

	bitrate      string
	filters      string
	logFormatted bool
	serialEcho   bool
	echoDevice   string

	storageRoot  string
	minFreeBytes uint64
	ringSize     int
	idlePause    time.Duration

	remote         string
	urlRecords     string
	urlRate        string
	urlFilters     string
	remoteUser     string
	remotePassword string
	remoteTimeout  time.Duration

	linkIf       string
	linkSSID     string
	linkPassword string

	influxHost     string
	influxToken    string
	influxDatabase string

	clickhouseAddr     string
	clickhouseDatabase string
	clickhouseUser     string
	clickhousePassword string
	clickhouseTable    string

	logFormat       string
	logLevel        string
	metricsAddr     string
	logMetricsEvery time.Duration
	mdnsEnable      bool
	mdnsName        string
}

func defineFlags(fs *flag.FlagSet, c *appConfig) {
	fs.StringVar(&c.backend, "backend", "socketcan", "CAN controller: serial|socketcan")
	fs.StringVar(&c.canIf, "can-if", "can0", "SocketCAN interface (when --backend=socketcan)")
	fs.StringVar(&c.serialDev, "serial", "/dev/ttyUSB0", "Serial CAN adapter device")
	fs.IntVar(&c.baud, "baud", 115200, "Serial baud rate")
	fs.DurationVar(&c.serialReadTO, "serial-read-timeout", 50*time.Millisecond, "Serial read timeout")

	fs.StringVar(&c.bitrate, "bitrate", "500KBPS", "CAN bitrate selector (e.g. 125KBPS, 500KBPS, 1000KBPS)")
	fs.StringVar(&c.filters, "filters", "XXX", "Acceptance filter list, ';' separated (XXX accepts all)")
	fs.BoolVar(&c.logFormatted, "log-formatted", false, "Store the column-aligned text style instead of compact")
	fs.BoolVar(&c.serialEcho, "serial-echo", false, "Mirror stored batches to --echo-device")
	fs.StringVar(&c.echoDevice, "echo-device", "-", "Echo target: serial device path or - for stdout")

	fs.StringVar(&c.storageRoot, "storage-root", "/var/lib/can-sniffer", "Capture medium root directory")
	fs.Uint64Var(&c.minFreeBytes, "min-free-bytes", 10<<20, "Refuse writes below this many free bytes (0 disables)")
	fs.IntVar(&c.ringSize, "ring-size", 4096, "Ring buffer capacity (holds capacity-1 frames)")
	fs.DurationVar(&c.idlePause, "idle-pause", 100*time.Microsecond, "Pause of an idle task iteration (0 spins)")

	fs.StringVar(&c.remote, "remote", "none", "Network sink: none|http|influxdb|clickhouse")
	fs.StringVar(&c.urlRecords, "url-records", "", "HTTP endpoint receiving batches")
	fs.StringVar(&c.urlRate, "url-rate", "", "HTTP endpoint returning the bitrate selector at startup")
	fs.StringVar(&c.urlFilters, "url-filters", "", "HTTP endpoint returning the filter list at startup")
	fs.StringVar(&c.remoteUser, "remote-user", "", "User query parameter for endpoint URLs")
	fs.StringVar(&c.remotePassword, "remote-password", "", "Password query parameter for endpoint URLs")
	fs.DurationVar(&c.remoteTimeout, "remote-timeout", 5*time.Second, "Per-request timeout for endpoint calls")

	fs.StringVar(&c.linkIf, "link-if", "", "Network interface guarding remote delivery (empty: always up)")
	fs.StringVar(&c.linkSSID, "link-ssid", "", "Access point name passed to the link driver")
	fs.StringVar(&c.linkPassword, "link-password", "", "Access point password passed to the link driver")

	fs.StringVar(&c.influxHost, "influx-host", "", "InfluxDB v3 host URL (when --remote=influxdb)")
	fs.StringVar(&c.influxToken, "influx-token", "", "InfluxDB v3 token")
	fs.StringVar(&c.influxDatabase, "influx-database", "can", "InfluxDB v3 database")

	fs.StringVar(&c.clickhouseAddr, "clickhouse-addr", "", "ClickHouse native address host:port (when --remote=clickhouse)")
	fs.StringVar(&c.clickhouseDatabase, "clickhouse-database", "default", "ClickHouse database")
	fs.StringVar(&c.clickhouseUser, "clickhouse-user", "default", "ClickHouse user")
	fs.StringVar(&c.clickhousePassword, "clickhouse-password", "", "ClickHouse password")
	fs.StringVar(&c.clickhouseTable, "clickhouse-table", "can_frames", "ClickHouse table")

	fs.StringVar(&c.logFormat, "log-format", "text", "Log format: text|json")
	fs.StringVar(&c.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	fs.StringVar(&c.metricsAddr, "metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	fs.DurationVar(&c.logMetricsEvery, "log-metrics-interval", 0, "If >0, periodically log metrics counters")
	fs.BoolVar(&c.mdnsEnable, "mdns-enable", false, "Advertise the metrics endpoint over mDNS")
	fs.StringVar(&c.mdnsName, "mdns-name", "", "mDNS instance name (default can-sniffer-<hostname>)")
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	defineFlags(flag.CommandLine, cfg)
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	// explicitly set flags take precedence over env
	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })

	if err := applyEnvOverrides(flag.CommandLine, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

// envName maps a flag name to its environment variable: ring-size -> CAN_SNIFFER_RING_SIZE.
func envName(flagName string) string {
	return "CAN_SNIFFER_" + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

// applyEnvOverrides sets every flag not explicitly passed on the command line
// from its CAN_SNIFFER_* variable. Empty values are ignored. The first parse
// error is returned; the remaining variables are still applied.
func applyEnvOverrides(fs *flag.FlagSet, set map[string]struct{}) error {
	var firstErr error
	fs.VisitAll(func(f *flag.Flag) {
		if f.Name == "version" {
			return
		}
		if _, ok := set[f.Name]; ok {
			return
		}
		key := envName(f.Name)
		v, ok := os.LookupEnv(key)
		v = strings.TrimSpace(v)
		if !ok || v == "" {
			return
		}
		if bf, ok := f.Value.(interface{ IsBoolFlag() bool }); ok && bf.IsBoolFlag() {
			v = normalizeBool(v)
		}
		if err := f.Value.Set(v); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("invalid %s: %w", key, err)
		}
	})
	return firstErr
}

func normalizeBool(v string) string {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return "true"
	case "0", "false", "no", "off":
		return "false"
	}
	return v
}

// validate checks values and ranges only; devices, endpoints, the bitrate and
// the filter list are checked at bring-up.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	switch c.backend {
	case "serial":
		if c.baud <= 0 {
			return fmt.Errorf("baud must be > 0 (got %d)", c.baud)
		}
		if c.serialReadTO <= 0 {
			return errors.New("serial-read-timeout must be > 0")
		}
	case "socketcan":
		if c.canIf == "" {
			return errors.New("can-if is required for the socketcan backend")
		}
	default:
		return fmt.Errorf("invalid backend: %s", c.backend)
	}
	switch c.remote {
	case "none":
	case "http":
		if c.urlRecords == "" {
			return errors.New("url-records is required for --remote=http")
		}
	case "influxdb":
		if c.influxHost == "" || c.influxDatabase == "" {
			return errors.New("influx-host and influx-database are required for --remote=influxdb")
		}
	case "clickhouse":
		if c.clickhouseAddr == "" || c.clickhouseTable == "" {
			return errors.New("clickhouse-addr and clickhouse-table are required for --remote=clickhouse")
		}
		if !remote.ValidTable(c.clickhouseTable) {
			return fmt.Errorf("invalid clickhouse-table: %q", c.clickhouseTable)
		}
	default:
		return fmt.Errorf("invalid remote: %s", c.remote)
	}
	if c.remoteTimeout <= 0 {
		return errors.New("remote-timeout must be > 0")
	}
	if c.ringSize < 2 {
		return fmt.Errorf("ring-size must be >= 2 (got %d)", c.ringSize)
	}
	if c.idlePause < 0 {
		return errors.New("idle-pause must be >= 0")
	}
	if c.logMetricsEvery < 0 {
		return errors.New("log-metrics-interval must be >= 0")
	}
	if c.storageRoot == "" {
		return errors.New("storage-root is required")
	}
	if c.serialEcho && c.echoDevice == "" {
		return errors.New("echo-device is required with serial-echo")
	}
	return nil
}

// echoBaud is the rate used when the echo target is a serial device.
const echoBaud = 115200

func (c *appConfig) echoToStdout() bool { return c.echoDevice == "-" }
