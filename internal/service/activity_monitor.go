package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/userdir/internal/clock"
	"github.com/prn-tf/userdir/internal/domain"
	"github.com/prn-tf/userdir/internal/lock"
	"github.com/prn-tf/userdir/internal/metrics"
)

// ActivityMonitor periodically sweeps the directory, refreshes the user
// gauges and reports users that left the activity window since the last sweep.
type ActivityMonitor struct {
	dir     UserDirectory
	locker  lock.Locker
	clock   clock.Clock
	metrics *metrics.Metrics
	logger  zerolog.Logger
	config  MonitorConfig

	// Control
	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	doneChan chan struct{}

	// active holds the DNIs seen active by the previous sweep.
	active map[string]struct{}
	last   MonitorResult
}

// MonitorConfig contains activity monitor configuration.
type MonitorConfig struct {
	// Enabled determines if the monitor runs automatically.
	Enabled bool

	// Interval is how often to sweep.
	Interval time.Duration
}

// DefaultMonitorConfig returns sensible defaults.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Enabled:  true,
		Interval: time.Minute,
	}
}

// NewActivityMonitor creates a new activity monitor. m may be nil.
func NewActivityMonitor(
	dir UserDirectory,
	locker lock.Locker,
	clk clock.Clock,
	m *metrics.Metrics,
	logger zerolog.Logger,
	config MonitorConfig,
) *ActivityMonitor {
	return &ActivityMonitor{
		dir:     dir,
		locker:  locker,
		clock:   clk,
		metrics: m,
		logger:  logger.With().Str("service", "monitor").Logger(),
		config:  config,
	}
}

// Start begins the sweep scheduler. A stopped monitor can be started again.
func (am *ActivityMonitor) Start() {
	am.mu.Lock()
	if am.running {
		am.mu.Unlock()
		return
	}
	am.running = true
	am.stopChan = make(chan struct{})
	am.doneChan = make(chan struct{})
	stop, done := am.stopChan, am.doneChan
	am.mu.Unlock()

	am.logger.Info().
		Dur("interval", am.config.Interval).
		Dur("activity_window", domain.ActivityWindow).
		Msg("Starting activity monitor")

	go am.runLoop(stop, done)
}

// Stop stops the sweep scheduler and waits for a running sweep to finish.
func (am *ActivityMonitor) Stop() {
	am.mu.Lock()
	if !am.running {
		am.mu.Unlock()
		return
	}
	am.running = false
	stop, done := am.stopChan, am.doneChan
	am.mu.Unlock()

	close(stop)
	<-done

	am.logger.Info().Msg("Activity monitor stopped")
}

func (am *ActivityMonitor) runLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	// Run immediately on start
	am.RunOnce(context.Background())

	ticker := time.NewTicker(am.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			am.RunOnce(context.Background())
		case <-stop:
			return
		}
	}
}

// MonitorResult contains the result of one sweep.
type MonitorResult struct {
	// Total is the number of users in the directory.
	Total int `json:"total"`

	// Active is the number of users inside the activity window.
	Active int `json:"active"`

	// Expired lists the DNIs that were active at the previous sweep and no
	// longer are. Deleted users are not reported.
	Expired []string `json:"expired"`

	// Skipped is set when another process held the sweep lock.
	Skipped bool `json:"skipped"`

	// RanAt is when the sweep evaluated activity.
	RanAt time.Time `json:"ran_at"`

	// Duration is how long the sweep took.
	Duration time.Duration `json:"duration"`
}

// RunOnce executes a single sweep. It can be called manually or by the scheduler.
func (am *ActivityMonitor) RunOnce(ctx context.Context) MonitorResult {
	start := time.Now()
	result := MonitorResult{Expired: []string{}}

	// Acquire lock to prevent concurrent sweeps across processes
	lockKey := lock.Keys.ActivitySweep()
	lockTTL := am.config.Interval / 2
	if lockTTL < 5*time.Second {
		lockTTL = 5 * time.Second
	}

	acquired, err := am.locker.Acquire(ctx, lockKey, lockTTL)
	if err != nil {
		am.logger.Error().Err(err).Msg("Failed to acquire activity sweep lock")
		result.Skipped = true
		result.Duration = time.Since(start)
		return result
	}
	if !acquired {
		am.logger.Debug().Msg("Activity sweep lock held by another process, skipping run")
		result.Skipped = true
		result.Duration = time.Since(start)
		return result
	}
	defer func() {
		if _, err := am.locker.Release(context.WithoutCancel(ctx), lockKey); err != nil {
			am.logger.Error().Err(err).Msg("Failed to release activity sweep lock")
		}
	}()

	// Pick up users written by other processes; a failed read sweeps the
	// in-memory view instead.
	if err := am.dir.Reload(ctx); err != nil {
		am.logger.Warn().Err(err).Msg("Failed to reload directory, sweeping cached users")
	}

	now := am.clock.Now()
	users := am.dir.Snapshot()

	am.mu.Lock()
	previous := am.active
	current := make(map[string]struct{}, len(users))
	for _, u := range users {
		if u.IsActive(now) {
			current[u.DNI] = struct{}{}
			continue
		}
		if _, wasActive := previous[u.DNI]; wasActive {
			result.Expired = append(result.Expired, u.DNI)
		}
	}
	am.active = current

	result.Total = len(users)
	result.Active = len(current)
	result.RanAt = now
	result.Duration = time.Since(start)
	am.last = result
	am.mu.Unlock()

	for _, dni := range result.Expired {
		am.logger.Info().Str("dni", dni).Msg("User left the activity window")
	}

	if am.metrics != nil {
		am.metrics.SetUsers(result.Total, result.Active)
		am.metrics.RecordMonitorRun(result.Duration, len(result.Expired))
	}

	am.logger.Debug().
		Int("total", result.Total).
		Int("active", result.Active).
		Int("expired", len(result.Expired)).
		Dur("duration", result.Duration).
		Msg("Activity sweep completed")

	return result
}

// LastResult returns the result of the most recent completed sweep.
func (am *ActivityMonitor) LastResult() MonitorResult {
	am.mu.Lock()
	defer am.mu.Unlock()
	r := am.last
	r.Expired = append([]string{}, r.Expired...)
	return r
}
