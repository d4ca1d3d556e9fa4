package wifi

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/markus-lassfolk/acsd/pkg/logx"
)

// Reselector re-runs channel selection on an interface
type Reselector interface {
	Interfaces() []string
	Reselect(ctx context.Context, iface, trigger string) error
	LastSelection(iface string) time.Time
}

// SchedulerConfig represents scheduler configuration
type SchedulerConfig struct {
	NightlyEnabled   bool   `json:"nightly_enabled" yaml:"nightly_enabled"`
	NightlyTime      string `json:"nightly_time" yaml:"nightly_time"`             // HH:MM format
	NightlyWindowMin int    `json:"nightly_window_min" yaml:"nightly_window_min"` // Minutes window for execution

	CheckIntervalMin int  `json:"check_interval_min" yaml:"check_interval_min"`
	SkipIfRecent     bool `json:"skip_if_recent" yaml:"skip_if_recent"`
	RecentThresholdH int  `json:"recent_threshold_h" yaml:"recent_threshold_h"`
}

// DefaultSchedulerConfig returns default scheduler configuration
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		NightlyEnabled:   false,
		NightlyTime:      "03:00",
		NightlyWindowMin: 60,
		CheckIntervalMin: 10,
		SkipIfRecent:     true,
		RecentThresholdH: 6,
	}
}

// Scheduler triggers a nightly channel re-selection on every known interface
type Scheduler struct {
	target Reselector
	logger *logx.Logger
	config *SchedulerConfig
	now    func() time.Time

	running     bool
	lastNightly time.Time
	nextNightly time.Time
	mu          sync.Mutex
	stopCh      chan struct{}
}

// NewScheduler creates a new re-selection scheduler
func NewScheduler(target Reselector, logger *logx.Logger, config *SchedulerConfig) *Scheduler {
	if config == nil {
		config = DefaultSchedulerConfig()
	}
	return &Scheduler{
		target: target,
		logger: logger,
		config: config,
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
}

// Start begins the scheduler loop
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}
	s.running = true
	s.calculateNextNightly()

	s.logger.Info("Starting re-selection scheduler",
		"nightly_enabled", s.config.NightlyEnabled,
		"nightly_time", s.config.NightlyTime,
		"check_interval_min", s.config.CheckIntervalMin)

	go s.loop(ctx)
	return nil
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false
	close(s.stopCh)
	s.logger.Info("Re-selection scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	interval := time.Duration(s.config.CheckIntervalMin) * time.Minute
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs the nightly pass when inside the window
func (s *Scheduler) tick(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if !s.config.NightlyEnabled || !s.shouldExecuteNightly(now) {
		return 0
	}

	ran := s.reselectAll(ctx, "scheduled_nightly", now)
	s.lastNightly = now
	s.calculateNextNightly()
	return ran
}

// shouldExecuteNightly checks the window and the once-per-day rule
func (s *Scheduler) shouldExecuteNightly(now time.Time) bool {
	if s.nextNightly.IsZero() {
		return false
	}

	windowEnd := s.nextNightly.Add(time.Duration(s.config.NightlyWindowMin) * time.Minute)
	if now.Before(s.nextNightly) || now.After(windowEnd) {
		return false
	}

	if s.lastNightly.Year() == now.Year() && s.lastNightly.YearDay() == now.YearDay() {
		return false
	}
	return true
}

func (s *Scheduler) reselectAll(ctx context.Context, trigger string, now time.Time) int {
	ran := 0
	threshold := time.Duration(s.config.RecentThresholdH) * time.Hour

	for _, iface := range s.target.Interfaces() {
		if s.config.SkipIfRecent {
			last := s.target.LastSelection(iface)
			if !last.IsZero() && now.Sub(last) < threshold {
				s.logger.Info("Skipping re-selection due to recent selection",
					"iface", iface,
					"last_selection", last,
					"threshold_hours", s.config.RecentThresholdH)
				continue
			}
		}

		if err := s.target.Reselect(ctx, iface, trigger); err != nil {
			s.logger.Error("Scheduled re-selection failed", "iface", iface, "error", err)
			continue
		}
		ran++
		s.logger.LogStateChange("scheduler", "idle", "reselecting", trigger, map[string]interface{}{
			"iface":       iface,
			"executed_at": now.UTC().Format(time.RFC3339),
		})
	}
	return ran
}

// calculateNextNightly calculates the next nightly run time
func (s *Scheduler) calculateNextNightly() {
	if !s.config.NightlyEnabled {
		s.nextNightly = time.Time{}
		return
	}

	now := s.now()
	target, err := time.Parse("15:04", s.config.NightlyTime)
	if err != nil {
		s.logger.Error("Invalid nightly time format", "time", s.config.NightlyTime, "error", err)
		s.nextNightly = time.Time{}
		return
	}

	next := time.Date(now.Year(), now.Month(), now.Day(), target.Hour(), target.Minute(), 0, 0, now.Location())
	// still inside today's window counts as today
	windowEnd := next.Add(time.Duration(s.config.NightlyWindowMin) * time.Minute)
	ranToday := s.lastNightly.Year() == now.Year() && s.lastNightly.YearDay() == now.YearDay()
	if now.After(windowEnd) || ranToday {
		next = next.Add(24 * time.Hour)
	}
	s.nextNightly = next
	s.logger.Debug("Next nightly re-selection scheduled", "time", next.Format(time.RFC3339))
}

// ForceNightly runs the nightly pass immediately
func (s *Scheduler) ForceNightly(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info("Manually triggering nightly re-selection")
	now := s.now()
	ran := s.reselectAll(ctx, "manual_nightly", now)
	s.lastNightly = now
	return ran
}

// GetStatus returns scheduler status
func (s *Scheduler) GetStatus() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := map[string]interface{}{
		"running":         s.running,
		"nightly_enabled": s.config.NightlyEnabled,
		"nightly_time":    s.config.NightlyTime,
		"last_nightly":    s.lastNightly,
	}
	if !s.nextNightly.IsZero() {
		status["next_nightly"] = s.nextNightly
	}
	return status
}
