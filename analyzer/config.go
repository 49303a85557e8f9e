package analyzer

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/arloliu/go-robotray/logger"
)

// Default discovery and request settings.
const (
	DefaultHost      = "127.0.0.1"
	DefaultPortStart = 8070
	DefaultPortEnd   = 8090

	DefaultProbeTimeout      = 2 * time.Second
	DefaultRequestTimeout    = 5 * time.Second
	DefaultTriggerTimeout    = 60 * time.Second
	DefaultCalibrateTimeout  = 60 * time.Second
	DefaultImageTimeout      = 15 * time.Second
	DefaultHeartbeatInterval = 5 * time.Second
)

// Range limits for the options.
const (
	MinTimeout = 10 * time.Millisecond
	MaxTimeout = 10 * time.Minute

	MinHeartbeatInterval = 10 * time.Millisecond
	MaxHeartbeatInterval = time.Hour
)

var (
	// DefaultPreferredPorts are probed before the port range.
	DefaultPreferredPorts = []int{8080}

	// DefaultExcludedPorts are skipped during the range scan; the remote service
	// never listens there and the port is commonly taken by other tooling.
	DefaultExcludedPorts = []int{8071}

	// DefaultIDPaths are probed in order, newest API version first.
	DefaultIDPaths = []string{"/api/v2/id", "/api/v1/id", "/api/id"}
)

// Config holds the settings of a Client.
type Config struct {
	fallbackHosts     []string
	preferredPorts    []int
	portStart         int
	portEnd           int
	excludedPorts     []int
	idPaths           []string
	probeTimeout      time.Duration
	requestTimeout    time.Duration
	triggerTimeout    time.Duration
	calibrateTimeout  time.Duration
	imageTimeout      time.Duration
	heartbeatInterval time.Duration
	transport         http.RoundTripper
	logger            logger.Logger
}

func newConfig(opts ...Option) (*Config, error) {
	cfg := &Config{
		preferredPorts:    DefaultPreferredPorts,
		portStart:         DefaultPortStart,
		portEnd:           DefaultPortEnd,
		excludedPorts:     DefaultExcludedPorts,
		idPaths:           DefaultIDPaths,
		probeTimeout:      DefaultProbeTimeout,
		requestTimeout:    DefaultRequestTimeout,
		triggerTimeout:    DefaultTriggerTimeout,
		calibrateTimeout:  DefaultCalibrateTimeout,
		imageTimeout:      DefaultImageTimeout,
		heartbeatInterval: DefaultHeartbeatInterval,
		transport:         http.DefaultTransport,
		logger:            logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Hosts returns the hosts probed for host: host itself, then the fallback hosts.
// An empty host means DefaultHost.
func (cfg *Config) Hosts(host string) []string {
	host = strings.TrimSpace(host)
	if host == "" {
		host = DefaultHost
	}

	hosts := []string{host}
	for _, h := range cfg.fallbackHosts {
		if !slices.Contains(hosts, h) {
			hosts = append(hosts, h)
		}
	}

	return hosts
}

// Ports returns the ports probed on every host. A positive fixed port is probed alone;
// otherwise the preferred ports come first, followed by the range without excluded ports.
func (cfg *Config) Ports(fixed int) []int {
	if fixed > 0 {
		return []int{fixed}
	}

	ports := make([]int, 0, len(cfg.preferredPorts)+cfg.portEnd-cfg.portStart+1)
	add := func(p int) {
		if !slices.Contains(cfg.excludedPorts, p) && !slices.Contains(ports, p) {
			ports = append(ports, p)
		}
	}
	for _, p := range cfg.preferredPorts {
		add(p)
	}
	for p := cfg.portStart; p <= cfg.portEnd; p++ {
		add(p)
	}

	return ports
}

// IDPaths returns the identification paths probed on every port.
func (cfg *Config) IDPaths() []string { return cfg.idPaths }

// ProbeTimeout returns the timeout of a single discovery probe and of heartbeats.
func (cfg *Config) ProbeTimeout() time.Duration { return cfg.probeTimeout }

// TriggerTimeout returns the timeout of a test trigger.
func (cfg *Config) TriggerTimeout() time.Duration { return cfg.triggerTimeout }

// HeartbeatInterval returns the Monitor interval.
func (cfg *Config) HeartbeatInterval() time.Duration { return cfg.heartbeatInterval }

// Option is a functional option for configuring a Client.
type Option interface {
	apply(*Config) error
}

type optFunc func(*Config) error

func (f optFunc) apply(cfg *Config) error { return f(cfg) }

func checkTimeout(name string, d time.Duration) error {
	if d < MinTimeout || d > MaxTimeout {
		return fmt.Errorf("analyzer: %s timeout %v out of range [%v, %v]", name, d, MinTimeout, MaxTimeout)
	}

	return nil
}

func checkPort(p int) error {
	if p < 1 || p > 65535 {
		return fmt.Errorf("analyzer: port %d out of range [1, 65535]", p)
	}

	return nil
}

// WithFallbackHosts sets hosts probed after the requested one, e.g. the USB tethering
// address of the analyzer.
func WithFallbackHosts(hosts ...string) Option {
	return optFunc(func(cfg *Config) error {
		for _, h := range hosts {
			if strings.TrimSpace(h) == "" {
				return errors.New("analyzer: fallback host must not be empty")
			}
		}
		cfg.fallbackHosts = append([]string(nil), hosts...)

		return nil
	})
}

// WithPreferredPorts sets the ports probed before the range.
func WithPreferredPorts(ports ...int) Option {
	return optFunc(func(cfg *Config) error {
		for _, p := range ports {
			if err := checkPort(p); err != nil {
				return err
			}
		}
		cfg.preferredPorts = append([]int(nil), ports...)

		return nil
	})
}

// WithPortRange sets the contiguous port range scanned when no port is fixed.
func WithPortRange(start, end int) Option {
	return optFunc(func(cfg *Config) error {
		if err := checkPort(start); err != nil {
			return err
		}
		if err := checkPort(end); err != nil {
			return err
		}
		if end < start {
			return fmt.Errorf("analyzer: port range %d-%d is empty", start, end)
		}
		cfg.portStart, cfg.portEnd = start, end

		return nil
	})
}

// WithExcludedPorts sets ports skipped during the scan.
func WithExcludedPorts(ports ...int) Option {
	return optFunc(func(cfg *Config) error {
		cfg.excludedPorts = append([]int(nil), ports...)
		return nil
	})
}

// WithIDPaths sets the identification paths. Every path must end in "/id".
func WithIDPaths(paths ...string) Option {
	return optFunc(func(cfg *Config) error {
		if len(paths) == 0 {
			return errors.New("analyzer: at least one id path is required")
		}
		for _, p := range paths {
			if !strings.HasPrefix(p, "/") || !strings.HasSuffix(p, "/id") {
				return fmt.Errorf("analyzer: invalid id path %q", p)
			}
		}
		cfg.idPaths = append([]string(nil), paths...)

		return nil
	})
}

// WithProbeTimeout sets the timeout of a discovery probe and of a heartbeat.
func WithProbeTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if err := checkTimeout("probe", d); err != nil {
			return err
		}
		cfg.probeTimeout = d

		return nil
	})
}

// WithRequestTimeout sets the timeout of status and configuration requests.
func WithRequestTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if err := checkTimeout("request", d); err != nil {
			return err
		}
		cfg.requestTimeout = d

		return nil
	})
}

// WithTriggerTimeout sets the timeout of a test trigger, which blocks for the whole
// physical measurement.
func WithTriggerTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if err := checkTimeout("trigger", d); err != nil {
			return err
		}
		cfg.triggerTimeout = d

		return nil
	})
}

// WithCalibrateTimeout sets the timeout of an energy calibration.
func WithCalibrateTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if err := checkTimeout("calibrate", d); err != nil {
			return err
		}
		cfg.calibrateTimeout = d

		return nil
	})
}

// WithImageTimeout sets the timeout of screenshot and photo requests.
func WithImageTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if err := checkTimeout("image", d); err != nil {
			return err
		}
		cfg.imageTimeout = d

		return nil
	})
}

// WithHeartbeatInterval sets the Monitor interval.
func WithHeartbeatInterval(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < MinHeartbeatInterval || d > MaxHeartbeatInterval {
			return fmt.Errorf("analyzer: heartbeat interval %v out of range [%v, %v]", d, MinHeartbeatInterval, MaxHeartbeatInterval)
		}
		cfg.heartbeatInterval = d

		return nil
	})
}

// WithTransport sets the HTTP round tripper. Defaults to http.DefaultTransport.
func WithTransport(rt http.RoundTripper) Option {
	return optFunc(func(cfg *Config) error {
		if rt == nil {
			return errors.New("analyzer: transport must not be nil")
		}
		cfg.transport = rt

		return nil
	})
}

// WithLogger sets the logger for the client.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *Config) error {
		if l == nil {
			return errors.New("analyzer: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}
