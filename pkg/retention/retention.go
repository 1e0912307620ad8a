// Package retention periodically deletes conversations older than a maximum age.
package retention

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jscharber/convosense/pkg/logger"
	"github.com/jscharber/convosense/pkg/metrics"
)

// Config controls the retention sweep.
type Config struct {
	Enabled  bool          `yaml:"enabled" json:"enabled" env:"RETENTION_ENABLED" default:"false"`
	Schedule string        `yaml:"schedule" json:"schedule" env:"RETENTION_SCHEDULE" default:"0 3 * * *"`
	MaxAge   time.Duration `yaml:"max_age" json:"max_age" env:"RETENTION_MAX_AGE" default:"720h"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout" env:"RETENTION_TIMEOUT" default:"5m"`
}

// DefaultConfig returns a disabled nightly sweep keeping thirty days.
func DefaultConfig() Config {
	return Config{
		Schedule: "0 3 * * *",
		MaxAge:   30 * 24 * time.Hour,
		Timeout:  5 * time.Minute,
	}
}

// Validate checks the cron expression and age when the sweep is enabled.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if _, err := cron.ParseStandard(c.Schedule); err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", c.Schedule, err)
	}
	if c.MaxAge <= 0 {
		return fmt.Errorf("retention max_age must be positive, got %s", c.MaxAge)
	}
	return nil
}

// Deleter removes records created before cutoff and reports how many went.
type Deleter interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper runs DeleteOlderThan on a cron schedule.
type Sweeper struct {
	config  Config
	store   Deleter
	cron    *cron.Cron
	logger  *logger.Logger
	metrics *metrics.ServiceMetrics
	now     func() time.Time

	mu      sync.Mutex
	lastRun time.Time
	lastErr error
}

// NewSweeper validates config and prepares a stopped sweeper.
func NewSweeper(config Config, store Deleter, log *logger.Logger, m *metrics.ServiceMetrics) (*Sweeper, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.GetDefault()
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	return &Sweeper{
		config:  config,
		store:   store,
		cron:    cron.New(),
		logger:  log.WithField("component", "retention"),
		metrics: m,
		now:     time.Now,
	}, nil
}

// Start schedules the sweep. A disabled sweeper does nothing.
func (s *Sweeper) Start() error {
	if !s.config.Enabled {
		s.logger.Debug("Retention sweep disabled")
		return nil
	}

	_, err := s.cron.AddFunc(s.config.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.config.Timeout)
		defer cancel()
		_, _ = s.RunOnce(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule retention sweep: %w", err)
	}

	s.cron.Start()
	s.logger.WithFields(map[string]interface{}{
		"schedule": s.config.Schedule,
		"max_age":  s.config.MaxAge.String(),
	}).Info("Retention sweep scheduled")
	return nil
}

// Stop waits for a running sweep to finish or ctx to expire.
func (s *Sweeper) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// RunOnce deletes every conversation created before now minus MaxAge.
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.config.MaxAge)
	deleted, err := s.store.DeleteOlderThan(ctx, cutoff)

	s.mu.Lock()
	s.lastRun = s.now()
	s.lastErr = err
	s.mu.Unlock()

	if err != nil {
		s.logger.WithField("error", err.Error()).Error("Retention sweep failed")
		return 0, err
	}

	if s.metrics != nil {
		s.metrics.RetentionDeleted.Add(deleted)
	}
	s.logger.WithFields(map[string]interface{}{
		"deleted": deleted,
		"cutoff":  cutoff.Format(time.RFC3339),
	}).Info("Retention sweep completed")
	return deleted, nil
}

// LastRun reports when the previous sweep finished and its error.
func (s *Sweeper) LastRun() (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun, s.lastErr
}
