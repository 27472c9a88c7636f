// Package session implements the NORM session controller of spec.md
// §4.8: a single-threaded event loop dispatching inbound messages to the
// sender/receiver pipelines, driving outbound transmission against the
// congestion-controlled rate, and raising user-visible events onto a
// bounded, coalescing notification queue.
package session

import (
	"errors"
	"log/slog"
	"time"

	"github.com/normcast/norm/cc"
	"github.com/normcast/norm/grtt"
	"github.com/normcast/norm/receiver"
	"github.com/normcast/norm/sender"
)

// ErrInvalidConfig is returned by New when a required parameter is
// missing or out of range (spec.md §7 "Configuration — invalid parameter
// at session setup... returns failure synchronously").
var ErrInvalidConfig = errors.New("session: invalid configuration")

// Config is the frozen, validated configuration built by Option
// functions (spec.md §9 "pin at session construction into a frozen
// configuration struct"). Every field documents whether its named setter
// (where one exists) takes effect immediately or at the next block
// boundary.
type Config struct {
	LocalNodeID uint32
	Address     string
	Port        int

	SegmentSize int
	K, N        int

	CacheBounds sender.CacheBounds
	RxCacheLimit int

	RateMin, RateMax float64
	FixedRate        float64
	CCMode           cc.Mode

	GRTTMode       grtt.Mode
	GRTTConfigured time.Duration
	GRTTMin        time.Duration
	GRTTMax        time.Duration
	ProbeIntervalMin, ProbeIntervalMax time.Duration

	BackoffFactor        float64
	RobustFactor         int
	InactivityMultiplier float64

	SyncPolicy     receiver.SyncPolicy
	RepairBoundary receiver.RepairBoundary
	UnicastNacks   bool

	AutoParity  int
	ExtraParity int

	NotificationQueueLen int

	Logger *slog.Logger
}

// Option mutates a Config under construction.
type Option func(*Config)

// WithLocalNodeID sets the session's own node id (spec.md §3).
func WithLocalNodeID(id uint32) Option { return func(c *Config) { c.LocalNodeID = id } }

// WithDestination sets the destination multicast/unicast address and
// port (spec.md §6, out-of-scope socket layer consumes this).
func WithDestination(address string, port int) Option {
	return func(c *Config) { c.Address = address; c.Port = port }
}

// WithSegmentation sets the segment size and block FEC dimensions,
// fixed for the object's lifetime once an object is enqueued (spec.md §3
// invariant); changing it afterward only affects subsequently-enqueued
// objects.
func WithSegmentation(segmentSize, k, n int) Option {
	return func(c *Config) { c.SegmentSize = segmentSize; c.K = k; c.N = n }
}

// WithCacheBounds sets the sender object cache's count_min/count_max/
// size_max_bytes bounds (spec.md §3). Takes effect on the next eviction
// check, not retroactively against already-cached objects.
func WithCacheBounds(bounds sender.CacheBounds) Option {
	return func(c *Config) { c.CacheBounds = bounds }
}

// WithRxCacheLimit bounds how many distinct remote senders the receiver
// tracks concurrently (spec.md §4.3).
func WithRxCacheLimit(n int) Option { return func(c *Config) { c.RxCacheLimit = n } }

// WithRateBounds sets the congestion controller's [rate_min, rate_max]
// clamp, applied immediately to the next rate recomputation (spec.md
// §4.7).
func WithRateBounds(min, max float64) Option {
	return func(c *Config) { c.RateMin = min; c.RateMax = max }
}

// WithFixedRate selects FIXED congestion-control mode at the given rate
// (spec.md §4.7). Effective immediately.
func WithFixedRate(bytesPerSec float64) Option {
	return func(c *Config) { c.CCMode = cc.ModeFixed; c.FixedRate = bytesPerSec }
}

// WithCCMode selects the congestion control mode variant (spec.md §4.7).
func WithCCMode(mode cc.Mode) Option { return func(c *Config) { c.CCMode = mode } }

// WithGRTT configures the GRTT estimator's probing mode and bounds
// (spec.md §4.6).
func WithGRTT(mode grtt.Mode, configured, min, max time.Duration) Option {
	return func(c *Config) {
		c.GRTTMode = mode
		c.GRTTConfigured = configured
		c.GRTTMin = min
		c.GRTTMax = max
	}
}

// WithProbeInterval sets the randomized GRTT probe interval bounds
// (spec.md §4.2 priority 4, §4.6).
func WithProbeInterval(min, max time.Duration) Option {
	return func(c *Config) { c.ProbeIntervalMin = min; c.ProbeIntervalMax = max }
}

// WithBackoffFactor sets the shared backoff factor used by NACK, repair
// and watermark timers (spec.md §4.2-§4.5). Effective on the next timer
// computation, not retroactively against an already-armed timer.
func WithBackoffFactor(f float64) Option { return func(c *Config) { c.BackoffFactor = f } }

// WithRobustFactor sets the control-message retry budget (spec.md §4.2,
// §4.9).
func WithRobustFactor(n int) Option { return func(c *Config) { c.RobustFactor = n } }

// WithInactivityMultiplier scales how long a silent remote sender is kept
// before being purged (spec.md §3).
func WithInactivityMultiplier(m float64) Option {
	return func(c *Config) { c.InactivityMultiplier = m }
}

// WithSyncPolicy sets the receiver's default sync-window join policy
// (spec.md §4.3). Only affects remote senders observed after the call.
func WithSyncPolicy(p receiver.SyncPolicy) Option { return func(c *Config) { c.SyncPolicy = p } }

// WithRepairBoundary sets the default repair-boundary policy (spec.md
// §4.3); equivalent to the named setter set_default_repair_boundary.
func WithRepairBoundary(b receiver.RepairBoundary) Option {
	return func(c *Config) { c.RepairBoundary = b }
}

// WithUnicastNacks selects unicast-to-sender NACK delivery instead of
// multicast-to-session-address (spec.md §4.4).
func WithUnicastNacks(v bool) Option { return func(c *Config) { c.UnicastNacks = v } }

// WithParityPolicy sets auto_parity/extra_parity (spec.md §4.2).
func WithParityPolicy(auto, extra int) Option {
	return func(c *Config) { c.AutoParity = auto; c.ExtraParity = extra }
}

// WithNotificationQueueLen bounds the user-visible event queue (spec.md
// §4.8).
func WithNotificationQueueLen(n int) Option { return func(c *Config) { c.NotificationQueueLen = n } }

// WithLogger wires a structured logger, following the teacher's
// SetLogger(*slog.Logger) convention.
func WithLogger(l *slog.Logger) Option { return func(c *Config) { c.Logger = l } }

// defaultConfig seeds every field an application is unlikely to set
// explicitly, matching reference NORM defaults where spec.md is silent.
func defaultConfig() Config {
	return Config{
		SegmentSize:          1400,
		K:                    16,
		N:                    4,
		CacheBounds:          sender.CacheBounds{CountMin: 1, CountMax: 256, SizeMaxBytes: 64 << 20},
		RxCacheLimit:         64,
		RateMin:              1000,
		RateMax:              1_000_000,
		CCMode:               cc.ModeCC,
		GRTTMode:             grtt.ModeActive,
		GRTTConfigured:       500 * time.Millisecond,
		GRTTMin:              100 * time.Microsecond,
		GRTTMax:              10 * time.Second,
		ProbeIntervalMin:     1 * time.Second,
		ProbeIntervalMax:     5 * time.Second,
		BackoffFactor:        1.5,
		RobustFactor:         20,
		InactivityMultiplier: 2.0,
		SyncPolicy:           receiver.SyncCurrent,
		RepairBoundary:       receiver.BoundaryBlock,
		AutoParity:           0,
		NotificationQueueLen: 256,
	}
}

// NewConfig builds a frozen Config from options, validating it per
// spec.md §7 kind 1 (Configuration errors fail fast).
func NewConfig(opts ...Option) (Config, error) {
	c := defaultConfig()
	for _, opt := range opts {
		opt(&c)
	}
	if err := validate(c); err != nil {
		return Config{}, err
	}
	return c, nil
}

func validate(c Config) error {
	if c.Address == "" {
		return errors.Join(ErrInvalidConfig, errors.New("session: missing destination address"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		return errors.Join(ErrInvalidConfig, errors.New("session: invalid port"))
	}
	if c.SegmentSize <= 0 {
		return errors.Join(ErrInvalidConfig, errors.New("session: segment size must be > 0"))
	}
	if c.K <= 0 {
		return errors.Join(ErrInvalidConfig, errors.New("session: k must be > 0"))
	}
	if c.N < 0 {
		return errors.Join(ErrInvalidConfig, errors.New("session: n must be >= 0"))
	}
	if c.RateMin <= 0 || c.RateMax < c.RateMin {
		return errors.Join(ErrInvalidConfig, errors.New("session: invalid rate bounds"))
	}
	return nil
}
