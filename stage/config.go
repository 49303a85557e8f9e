package stage

import (
	"errors"
	"fmt"
	"time"

	"github.com/arloliu/go-robotray/logger"
)

// Default protocol settings.
const (
	DefaultBaudRate = 115200
	DefaultFeedRate = 3000

	DefaultHandshakeTimeout = 2 * time.Second  // first line after M115
	DefaultQueryTimeout     = 1 * time.Second  // M114 response
	DefaultMoveAckTimeout   = 2 * time.Second  // ok after G0
	DefaultLongAckTimeout   = 30 * time.Second // ok after G28 / G29
	DefaultSettleDelay      = 50 * time.Millisecond
	DefaultPollInterval     = 50 * time.Millisecond
)

// Range limits for the options.
const (
	MinTimeout = 10 * time.Millisecond
	MaxTimeout = 10 * time.Minute

	MaxSettleDelay = 5 * time.Second

	MaxFeedRate = 100000
)

// DefaultHomeAxes are the axes homed by Home.
var DefaultHomeAxes = []string{"X", "Y"}

// Config holds the settings of a Client.
type Config struct {
	baudRate         int
	feedRate         int
	handshakeTimeout time.Duration
	queryTimeout     time.Duration
	moveAckTimeout   time.Duration
	longAckTimeout   time.Duration
	settleDelay      time.Duration
	pollInterval     time.Duration
	homeAxes         []string
	opener           Opener
	logger           logger.Logger
}

func newConfig(opts ...Option) (*Config, error) {
	cfg := &Config{
		baudRate:         DefaultBaudRate,
		feedRate:         DefaultFeedRate,
		handshakeTimeout: DefaultHandshakeTimeout,
		queryTimeout:     DefaultQueryTimeout,
		moveAckTimeout:   DefaultMoveAckTimeout,
		longAckTimeout:   DefaultLongAckTimeout,
		settleDelay:      DefaultSettleDelay,
		pollInterval:     DefaultPollInterval,
		homeAxes:         DefaultHomeAxes,
		opener:           SerialOpener,
		logger:           logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// BaudRate returns the serial baud rate.
func (cfg *Config) BaudRate() int { return cfg.baudRate }

// FeedRate returns the feed rate appended to move commands.
func (cfg *Config) FeedRate() int { return cfg.feedRate }

// HandshakeTimeout returns the time allowed for the first line after connecting.
func (cfg *Config) HandshakeTimeout() time.Duration { return cfg.handshakeTimeout }

// QueryTimeout returns the time allowed for a position response.
func (cfg *Config) QueryTimeout() time.Duration { return cfg.queryTimeout }

// MoveAckTimeout returns the time allowed for a move acknowledgement.
func (cfg *Config) MoveAckTimeout() time.Duration { return cfg.moveAckTimeout }

// LongAckTimeout returns the time allowed for homing and leveling acknowledgements.
func (cfg *Config) LongAckTimeout() time.Duration { return cfg.longAckTimeout }

// HomeAxes returns the axes passed to the homing command.
func (cfg *Config) HomeAxes() []string { return cfg.homeAxes }

// Option is a functional option for configuring a Client.
type Option interface {
	apply(*Config) error
}

type optFunc func(*Config) error

func (f optFunc) apply(cfg *Config) error { return f(cfg) }

func checkTimeout(name string, d time.Duration) error {
	if d < MinTimeout || d > MaxTimeout {
		return fmt.Errorf("stage: %s timeout %v out of range [%v, %v]", name, d, MinTimeout, MaxTimeout)
	}

	return nil
}

// WithBaudRate sets the serial baud rate.
func WithBaudRate(baud int) Option {
	return optFunc(func(cfg *Config) error {
		if baud <= 0 {
			return fmt.Errorf("stage: baud rate %d must be positive", baud)
		}
		cfg.baudRate = baud

		return nil
	})
}

// WithFeedRate sets the feed rate of move commands. Zero omits the F parameter.
func WithFeedRate(feed int) Option {
	return optFunc(func(cfg *Config) error {
		if feed < 0 || feed > MaxFeedRate {
			return fmt.Errorf("stage: feed rate %d out of range [0, %d]", feed, MaxFeedRate)
		}
		cfg.feedRate = feed

		return nil
	})
}

// WithHandshakeTimeout sets the time allowed for the first line after connecting.
func WithHandshakeTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if err := checkTimeout("handshake", d); err != nil {
			return err
		}
		cfg.handshakeTimeout = d

		return nil
	})
}

// WithQueryTimeout sets the time allowed for a position response.
func WithQueryTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if err := checkTimeout("query", d); err != nil {
			return err
		}
		cfg.queryTimeout = d

		return nil
	})
}

// WithMoveAckTimeout sets the time allowed for a move acknowledgement.
func WithMoveAckTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if err := checkTimeout("move ack", d); err != nil {
			return err
		}
		cfg.moveAckTimeout = d

		return nil
	})
}

// WithLongAckTimeout sets the time allowed for homing and leveling acknowledgements.
func WithLongAckTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if err := checkTimeout("long ack", d); err != nil {
			return err
		}
		cfg.longAckTimeout = d

		return nil
	})
}

// WithSettleDelay sets how long DTR/RTS stay low during the connect handshake.
func WithSettleDelay(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < 0 || d > MaxSettleDelay {
			return fmt.Errorf("stage: settle delay %v out of range [0, %v]", d, MaxSettleDelay)
		}
		cfg.settleDelay = d

		return nil
	})
}

// WithPollInterval sets the read timeout of a single serial read.
func WithPollInterval(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < time.Millisecond || d > time.Second {
			return fmt.Errorf("stage: poll interval %v out of range [1ms, 1s]", d)
		}
		cfg.pollInterval = d

		return nil
	})
}

// WithHomeAxes sets the axes passed to the homing command. No axes homes all of them.
func WithHomeAxes(axes ...string) Option {
	return optFunc(func(cfg *Config) error {
		for _, a := range axes {
			switch a {
			case "X", "Y", "Z":
			default:
				return fmt.Errorf("stage: invalid home axis %q", a)
			}
		}
		cfg.homeAxes = append([]string(nil), axes...)

		return nil
	})
}

// WithOpener replaces the function that opens the serial device.
func WithOpener(opener Opener) Option {
	return optFunc(func(cfg *Config) error {
		if opener == nil {
			return errors.New("stage: opener must not be nil")
		}
		cfg.opener = opener

		return nil
	})
}

// WithLogger sets the logger for the client.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *Config) error {
		if l == nil {
			return errors.New("stage: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}
