package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"log/slog"
)

const (
	defaultListenAddress = ":9879"
	defaultMetricsPath   = "/metrics"
	defaultHealthPath    = "/healthz"
	defaultLogLevel      = "info"
	defaultSysfsRoot     = "/sys"
	defaultTimeout       = 5 * time.Second

	defaultEnableRoCEPFCMetrics = true

	defaultBufferSize          = 4096
	defaultBufferCount         = 256
	defaultMaxCQE              = 256
	defaultMaxWR               = 128
	defaultMaxSGE              = 1
	defaultWorkPoolSize        = 512
	defaultRequestTimeout      = time.Second
	defaultMaxConnectionNum    = 4
	defaultRoceV2SkipLinkLocal = true
)

// Config captures runtime configuration options.
type Config struct {
	ListenAddress string
	MetricsPath   string
	HealthPath    string
	LogLevel      slog.Level
	SysfsRoot     string
	ScrapeTimeout time.Duration
	ShowVersion   bool

	// EnableRoCEPFCMetrics toggles the ethtool PFC counter scrape the
	// collector performs alongside the baseline RDMA device metrics.
	EnableRoCEPFCMetrics bool

	// ExcludeDevices lists RDMA device names the collector should skip.
	ExcludeDevices []string

	// RDMA is the domain-specific configuration surface: buffer/
	// work-pool sizing, device selection, and per-socket queue pair
	// limits.
	RDMA RDMAConfig
}

// RDMAConfig collects the manager- and socket-level knobs: buffer
// pool sizing, queue pair depths, device/GID-type
// filtering, and the RPC layer's request timeout and per-peer
// connection pool depth.
type RDMAConfig struct {
	BufferSize              int
	BufferCount             int
	MaxCQE                  int
	MaxWR                   int
	MaxSGE                  int
	WorkPoolSize            int
	DeviceFilter            []string
	GidTypeFilter           []string
	RoceV2SkipLinkLocalAddr bool
	RequestTimeout          time.Duration
	MaxConnectionNum        int
}

// Parse constructs a Config from command-line flags and environment variables.
func Parse(args []string) (Config, error) {
	var cfg Config

	fs := flag.NewFlagSet("rdma_exporter", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	listen := fs.String("listen-address", envOrDefault("RDMA_EXPORTER_LISTEN_ADDRESS", defaultListenAddress), "Address to listen on for HTTP requests.")
	metricsPath := fs.String("metrics-path", envOrDefault("RDMA_EXPORTER_METRICS_PATH", defaultMetricsPath), "HTTP path under which metrics are served.")
	healthPath := fs.String("health-path", envOrDefault("RDMA_EXPORTER_HEALTH_PATH", defaultHealthPath), "HTTP path for health checks.")
	logLevel := fs.String("log-level", envOrDefault("RDMA_EXPORTER_LOG_LEVEL", defaultLogLevel), "Log level (debug, info, warn, error).")
	sysfsRoot := fs.String("sysfs-root", envOrDefault("RDMA_EXPORTER_SYSFS_ROOT", defaultSysfsRoot), "Root of the sysfs tree to read RDMA data from.")

	timeoutDefault := defaultTimeout
	if envTimeout := os.Getenv("RDMA_EXPORTER_SCRAPE_TIMEOUT"); envTimeout != "" {
		parsed, err := time.ParseDuration(envTimeout)
		if err != nil {
			return cfg, fmt.Errorf("invalid RDMA_EXPORTER_SCRAPE_TIMEOUT: %w", err)
		}
		timeoutDefault = parsed
	}
	scrapeTimeout := fs.Duration("scrape-timeout", timeoutDefault, "Maximum duration to spend gathering metrics per scrape.")
	showVersion := fs.Bool("version", false, "Print version information and exit.")

	enableRoCEPFCMetricsDefault := defaultEnableRoCEPFCMetrics
	if envEnable := os.Getenv("RDMA_EXPORTER_ENABLE_ROCE_PFC_METRICS"); envEnable != "" {
		parsed, err := strconv.ParseBool(envEnable)
		if err != nil {
			return cfg, fmt.Errorf("invalid RDMA_EXPORTER_ENABLE_ROCE_PFC_METRICS: %w", err)
		}
		enableRoCEPFCMetricsDefault = parsed
	}
	enableRoCEPFCMetrics := fs.Bool("enable-roce-pfc-metrics", enableRoCEPFCMetricsDefault, "Scrape per-priority PFC counters in addition to baseline RDMA device metrics.")
	excludeDevices := fs.String("exclude-devices", os.Getenv("RDMA_EXPORTER_EXCLUDE_DEVICES"), "Comma-separated list of RDMA device names to exclude from collection.")

	bufferSize := fs.Int("rdma-buffer-size", envOrDefaultInt("R2DMA_BUFFER_SIZE", defaultBufferSize), "Size in bytes of each registered RDMA buffer pool block.")
	bufferCount := fs.Int("rdma-buffer-count", envOrDefaultInt("R2DMA_BUFFER_COUNT", defaultBufferCount), "Number of blocks in the RDMA buffer pool.")
	maxCQE := fs.Int("rdma-max-cqe", envOrDefaultInt("R2DMA_MAX_CQE", defaultMaxCQE), "Completion queue depth per socket.")
	maxWR := fs.Int("rdma-max-wr", envOrDefaultInt("R2DMA_MAX_WR", defaultMaxWR), "Maximum outstanding send and receive work requests per socket.")
	maxSGE := fs.Int("rdma-max-sge", envOrDefaultInt("R2DMA_MAX_SGE", defaultMaxSGE), "Maximum scatter/gather entries per work request.")
	workPoolSize := fs.Int("rdma-work-pool-size", envOrDefaultInt("R2DMA_WORK_POOL_SIZE", defaultWorkPoolSize), "Number of preallocated work descriptors shared by all sockets.")
	deviceFilter := fs.String("rdma-device-filter", os.Getenv("R2DMA_DEVICE_FILTER"), "Comma-separated list of RDMA device names to use (empty means all).")
	gidTypeFilter := fs.String("rdma-gid-type-filter", os.Getenv("R2DMA_GID_TYPE_FILTER"), "Comma-separated list of GID types to use: ib, roce_v1, roce_v2 (empty means all).")
	roceV2SkipLinkLocal := fs.Bool("rdma-roce-v2-skip-link-local", envOrDefaultBool("R2DMA_ROCE_V2_SKIP_LINK_LOCAL", defaultRoceV2SkipLinkLocal), "Skip link-local GIDs when selecting a RoCEv2 address.")
	requestTimeout := fs.Duration("rpc-request-timeout", envOrDefaultDuration("R2DMA_RPC_REQUEST_TIMEOUT", defaultRequestTimeout), "Default timeout for an outbound RPC call.")
	maxConnectionNum := fs.Int("rpc-max-connection-num", envOrDefaultInt("R2DMA_RPC_MAX_CONNECTION_NUM", defaultMaxConnectionNum), "Maximum pooled TCP connections per RPC peer.")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return cfg, err
		}
		return cfg, fmt.Errorf("parse flags: %w", err)
	}

	level, err := parseLogLevel(*logLevel)
	if err != nil {
		return cfg, err
	}

	cfg = Config{
		ListenAddress: *listen,
		MetricsPath:   *metricsPath,
		HealthPath:    *healthPath,
		LogLevel:      level,
		SysfsRoot:     *sysfsRoot,
		ScrapeTimeout: *scrapeTimeout,
		ShowVersion:   *showVersion,

		EnableRoCEPFCMetrics: *enableRoCEPFCMetrics,
		ExcludeDevices:       parseDeviceList(*excludeDevices),

		RDMA: RDMAConfig{
			BufferSize:              *bufferSize,
			BufferCount:             *bufferCount,
			MaxCQE:                  *maxCQE,
			MaxWR:                   *maxWR,
			MaxSGE:                  *maxSGE,
			WorkPoolSize:            *workPoolSize,
			DeviceFilter:            parseDeviceList(*deviceFilter),
			GidTypeFilter:           parseDeviceList(*gidTypeFilter),
			RoceV2SkipLinkLocalAddr: *roceV2SkipLinkLocal,
			RequestTimeout:          *requestTimeout,
			MaxConnectionNum:        *maxConnectionNum,
		},
	}
	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return b
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

func parseDeviceList(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseLogLevel(value string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error", "err":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", value)
	}
}
