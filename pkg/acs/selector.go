package acs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/markus-lassfolk/acsd/pkg/logx"
	"github.com/markus-lassfolk/acsd/pkg/wifi"
)

// Job is the filtered request handed to an asynchronous selector
type Job struct {
	ID         string     `json:"job_id"`
	Iface      string     `json:"iface"`
	Seq        uint64     `json:"seq"`
	HwMode     HwMode     `json:"hw_mode"`
	Width      wifi.Width `json:"width"`
	StartFreq  uint32     `json:"start_freq"`
	EndFreq    uint32     `json:"end_freq"`
	Candidates []uint32   `json:"freq_list"`
	PCL        []PCLEntry `json:"pcl,omitempty"`
	Created    time.Time  `json:"created"`
}

// Completion reports the chosen primary frequency or a failure
type Completion func(freq uint32, err error)

// Selector picks one channel from a job's candidates. Start must not block;
// done is called at most once, from any goroutine. Cancelling ctx abandons
// the job.
type Selector interface {
	Name() string
	Start(ctx context.Context, job *Job, done Completion)
}

// ChannelRater scores candidate frequencies on a radio
type ChannelRater interface {
	RateChannels(ctx context.Context, device string, candidates []uint32) ([]wifi.ChannelRating, error)
}

// ScanSelector chooses the least congested candidate from a local scan
type ScanSelector struct {
	rater   ChannelRater
	timeout time.Duration
	logger  *logx.Logger
}

// NewScanSelector creates a scan-based selector bounded by timeout
func NewScanSelector(rater ChannelRater, timeout time.Duration, logger *logx.Logger) *ScanSelector {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ScanSelector{rater: rater, timeout: timeout, logger: logger}
}

func (s *ScanSelector) Name() string { return PathScan }

func (s *ScanSelector) Start(ctx context.Context, job *Job, done Completion) {
	go func() {
		sctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		ratings, err := s.rater.RateChannels(sctx, job.Iface, job.Candidates)
		if err != nil {
			done(0, fmt.Errorf("channel scan on %s: %w", job.Iface, err))
			return
		}
		freq, ok := bestRated(ratings, job)
		if !ok {
			done(0, fmt.Errorf("channel scan on %s rated no candidate", job.Iface))
			return
		}
		s.logger.Debug("Scan selector picked channel", "iface", job.Iface, "freq", freq, "job_id", job.ID)
		done(freq, nil)
	}()
}

// bestRated picks the highest score; ties go to the higher PCL weight, then
// to the earlier candidate.
func bestRated(ratings []wifi.ChannelRating, job *Job) (uint32, bool) {
	weight := make(map[uint32]int, len(job.PCL))
	for _, e := range job.PCL {
		weight[e.Freq] = int(e.Weight)
	}
	order := make(map[uint32]int, len(job.Candidates))
	for i, f := range job.Candidates {
		order[f] = i
	}

	var best *wifi.ChannelRating
	for i := range ratings {
		r := &ratings[i]
		if _, ok := order[r.Freq]; !ok {
			continue
		}
		if best == nil {
			best = r
			continue
		}
		switch {
		case r.RawScore > best.RawScore:
			best = r
		case r.RawScore == best.RawScore && weight[r.Freq] > weight[best.Freq]:
			best = r
		case r.RawScore == best.RawScore && weight[r.Freq] == weight[best.Freq] && order[r.Freq] < order[best.Freq]:
			best = r
		}
	}
	if best == nil {
		return 0, false
	}
	return best.Freq, true
}

// Notifier forwards a job to the external ACS application
type Notifier interface {
	NotifyACS(ctx context.Context, job *Job) error
}

type pendingJob struct {
	done  Completion
	timer *time.Timer
}

// AppSelector delegates the choice to an external application and waits at
// most timeout for its answer, delivered through Resolve.
type AppSelector struct {
	notifier Notifier
	timeout  time.Duration
	logger   *logx.Logger

	mu      sync.Mutex
	pending map[string]*pendingJob
}

// NewAppSelector creates an external-application selector
func NewAppSelector(notifier Notifier, timeout time.Duration, logger *logx.Logger) *AppSelector {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &AppSelector{
		notifier: notifier,
		timeout:  timeout,
		logger:   logger,
		pending:  make(map[string]*pendingJob),
	}
}

func (a *AppSelector) Name() string { return PathExternal }

func (a *AppSelector) Start(ctx context.Context, job *Job, done Completion) {
	a.mu.Lock()
	p := &pendingJob{done: done}
	p.timer = time.AfterFunc(a.timeout, func() {
		if a.take(job.ID) != nil {
			done(0, ErrSelectorTimeout)
		}
	})
	a.pending[job.ID] = p
	a.mu.Unlock()

	if err := a.notifier.NotifyACS(ctx, job); err != nil {
		if q := a.take(job.ID); q != nil {
			q.timer.Stop()
			done(0, fmt.Errorf("notify external ACS application: %w", err))
		}
		return
	}

	a.logger.Debug("External ACS request sent", "iface", job.Iface, "job_id", job.ID, "timeout", a.timeout)

	go func() {
		<-ctx.Done()
		if q := a.take(job.ID); q != nil {
			q.timer.Stop()
			done(0, ctx.Err())
		}
	}()
}

// Resolve delivers the application's answer for a job
func (a *AppSelector) Resolve(jobID string, freq uint32) error {
	p := a.take(jobID)
	if p == nil {
		return fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}
	p.timer.Stop()
	p.done(freq, nil)
	return nil
}

// Pending returns the ids of jobs still waiting for an answer
func (a *AppSelector) Pending() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	ids := make([]string, 0, len(a.pending))
	for id := range a.pending {
		ids = append(ids, id)
	}
	return ids
}

func (a *AppSelector) take(id string) *pendingJob {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.pending[id]
	if !ok {
		return nil
	}
	delete(a.pending, id)
	return p
}

// FirstCandidateSelector takes the first candidate, which after PCL
// intersection is the policy's most preferred channel.
type FirstCandidateSelector struct{}

func (FirstCandidateSelector) Name() string { return "pcl" }

func (FirstCandidateSelector) Start(ctx context.Context, job *Job, done Completion) {
	go func() {
		if len(job.Candidates) == 0 {
			done(0, ErrNoUsableChannel)
			return
		}
		done(job.Candidates[0], nil)
	}()
}
