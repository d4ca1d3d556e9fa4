package wifi

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/markus-lassfolk/acsd/pkg/logx"
)

type fakeReselector struct {
	last  map[string]time.Time
	calls []string
}

func (f *fakeReselector) Interfaces() []string { return []string{"wlan0", "wlan1"} }

func (f *fakeReselector) Reselect(ctx context.Context, iface, trigger string) error {
	f.calls = append(f.calls, iface+":"+trigger)
	return nil
}

func (f *fakeReselector) LastSelection(iface string) time.Time { return f.last[iface] }

func TestSchedulerNightlyWindow(t *testing.T) {
	now := time.Date(2026, 10, 14, 3, 5, 0, 0, time.Local)
	target := &fakeReselector{last: map[string]time.Time{
		"wlan1": now.Add(-time.Hour),
	}}

	cfg := DefaultSchedulerConfig()
	cfg.NightlyEnabled = true
	s := NewScheduler(target, logx.NewLogger("error", "test"), cfg)
	s.now = func() time.Time { return now }
	s.calculateNextNightly()

	assert.Equal(t, time.Date(2026, 10, 14, 3, 0, 0, 0, time.Local), s.nextNightly)

	ran := s.tick(context.Background())
	assert.Equal(t, 1, ran)
	assert.Equal(t, []string{"wlan0:scheduled_nightly"}, target.calls)

	assert.Equal(t, 0, s.tick(context.Background()), "only once per night")
	assert.Equal(t, time.Date(2026, 10, 15, 3, 0, 0, 0, time.Local), s.nextNightly)
}

func TestSchedulerOutsideWindow(t *testing.T) {
	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.Local)
	target := &fakeReselector{}

	cfg := DefaultSchedulerConfig()
	cfg.NightlyEnabled = true
	s := NewScheduler(target, logx.NewLogger("error", "test"), cfg)
	s.now = func() time.Time { return now }
	s.calculateNextNightly()

	assert.Equal(t, 0, s.tick(context.Background()))
	assert.Empty(t, target.calls)
}

func TestSchedulerForceNightly(t *testing.T) {
	target := &fakeReselector{}
	cfg := DefaultSchedulerConfig()
	cfg.SkipIfRecent = false
	s := NewScheduler(target, logx.NewLogger("error", "test"), cfg)

	assert.Equal(t, 2, s.ForceNightly(context.Background()))
	assert.Len(t, target.calls, 2)
}

func TestSchedulerStartStop(t *testing.T) {
	s := NewScheduler(&fakeReselector{}, logx.NewLogger("error", "test"), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	assert.NoError(t, s.Start(ctx))
	assert.Error(t, s.Start(ctx))
	s.Stop()
	s.Stop()
	assert.Equal(t, false, s.GetStatus()["running"])
}
