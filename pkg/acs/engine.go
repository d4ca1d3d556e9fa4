package acs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/markus-lassfolk/acsd/pkg/logx"
	"github.com/markus-lassfolk/acsd/pkg/metrics"
	"github.com/markus-lassfolk/acsd/pkg/wifi"
)

// State is the dispatcher state of one interface
type State int

const (
	StateIdle State = iota
	StateRangeResolved
	StateFiltered
	StateFastPathDone
	StateAwaitingAsync
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRangeResolved:
		return "range_resolved"
	case StateFiltered:
		return "filtered"
	case StateFastPathDone:
		return "fast_path_done"
	case StateAwaitingAsync:
		return "awaiting_async_selection"
	case StateCompleted:
		return "completed"
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for st := StateIdle; st <= StateCompleted; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", text)
}

// Options are the administrative switches of the engine
type Options struct {
	// Bonding24GHz allows 40 MHz channels in 2.4 GHz
	Bonding24GHz bool
	// FilterUnsafe drops channels the policy declares unsafe
	FilterUnsafe bool
	// PCLMode is the connection mode the PCL is requested for
	PCLMode ConnectionMode
}

// Deps are the collaborators of the engine. Selector defaults to
// FirstCandidateSelector; Sink, Logger and Metrics may be nil.
type Deps struct {
	Regulatory   Regulatory
	Policy       Policy
	Capabilities Capabilities
	Selector     Selector
	Sink         ResultSink
	Logger       *logx.Logger
	Metrics      *metrics.Collector
}

// Outcome is what DoACS returns. Either Result is set (synchronous
// completion) or Pending is true and the result arrives through the sink.
type Outcome struct {
	Result  *Result `json:"result,omitempty"`
	Pending bool    `json:"pending"`
	Seq     uint64  `json:"seq"`
	JobID   string  `json:"job_id,omitempty"`
}

// SessionStatus is a snapshot of one interface
type SessionStatus struct {
	Iface     string    `json:"iface"`
	State     State     `json:"state"`
	Seq       uint64    `json:"seq"`
	JobID     string    `json:"job_id,omitempty"`
	Request   *Request  `json:"request,omitempty"`
	Last      *Result   `json:"last,omitempty"`
	LastAt    time.Time `json:"last_at,omitempty"`
	WaitingMS int64     `json:"waiting_ms,omitempty"`
}

type session struct {
	mu sync.Mutex

	iface   string
	state   State
	seq     uint64
	request *Request
	cfg     *AcsConfig
	job     *Job
	cancel  context.CancelFunc
	started time.Time

	last   *Result
	lastAt time.Time

	// removed is set under mu once the session is dropped from the engine
	removed bool
}

// Engine arbitrates channel selection for every AP interface of a device.
// Requests on one interface are serialized; different interfaces run in
// parallel and share only the device lock around the connection snapshot.
type Engine struct {
	reg      Regulatory
	policy   Policy
	caps     Capabilities
	selector Selector
	sink     ResultSink
	logger   *logx.Logger
	metrics  *metrics.Collector
	opts     Options

	mu       sync.Mutex
	sessions map[string]*session

	// deviceMu guards the connection snapshot read and completed
	deviceMu  sync.RWMutex
	completed map[string]*AcsConfig
}

// NewEngine creates an engine
func NewEngine(deps Deps, opts Options) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = logx.NewLogger("info", "acs")
	}
	selector := deps.Selector
	if selector == nil {
		selector = FirstCandidateSelector{}
	}
	if opts.PCLMode == ModeSTA {
		opts.PCLMode = ModeSAP
	}
	return &Engine{
		reg:       deps.Regulatory,
		policy:    deps.Policy,
		caps:      deps.Capabilities,
		selector:  selector,
		sink:      deps.Sink,
		logger:    logger,
		metrics:   deps.Metrics,
		opts:      opts,
		sessions:  make(map[string]*session),
		completed: make(map[string]*AcsConfig),
	}
}

// SelectorName returns the name of the configured asynchronous selector
func (e *Engine) SelectorName() string {
	return e.selector.Name()
}

// DoACS runs a selection request for iface. A request that reaches the
// asynchronous selector returns a pending Outcome; its result is delivered
// to the sink later.
func (e *Engine) DoACS(ctx context.Context, iface string, req *Request) (*Outcome, error) {
	if iface == "" {
		return nil, fmt.Errorf("%w: empty interface name", ErrMalformedRequest)
	}
	s, err := e.lockSession(iface, true)
	if err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	if s.state == StateAwaitingAsync {
		e.metrics.IncRejected("selection_in_progress")
		e.logger.Warn("Rejecting DO_ACS while a selection is in progress", "iface", iface, "seq", s.seq)
		return nil, fmt.Errorf("%w on %s", ErrSelectionInProgress, iface)
	}
	return e.run(ctx, s, req, "do_acs")
}

// ForceReselect restarts selection on iface from the last request, e.g.
// after radar on the operating channel. An outstanding selector call is
// cancelled and its late completion discarded.
func (e *Engine) ForceReselect(ctx context.Context, iface, reason string) (*Outcome, error) {
	s, err := e.lockSession(iface, false)
	if err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	if s.request == nil {
		return nil, fmt.Errorf("%w: %s has no request to restart", ErrUnknownInterface, iface)
	}
	if reason == "" {
		reason = "forced_reselect"
	}
	e.cancelPending(s, reason)
	return e.run(ctx, s, s.request, reason)
}

// Reselect reruns the last request of an idle interface
func (e *Engine) Reselect(ctx context.Context, iface, trigger string) error {
	s, err := e.lockSession(iface, false)
	if err != nil {
		return err
	}
	defer s.mu.Unlock()

	if s.state == StateAwaitingAsync {
		return fmt.Errorf("%w on %s", ErrSelectionInProgress, iface)
	}
	if s.request == nil {
		return fmt.Errorf("%w: %s has no request to rerun", ErrUnknownInterface, iface)
	}
	_, err = e.run(ctx, s, s.request, trigger)
	return err
}

// RemoveInterface tears down iface: any outstanding selection is cancelled
// and its state forgotten.
func (e *Engine) RemoveInterface(iface string) error {
	e.mu.Lock()
	s, ok := e.sessions[iface]
	delete(e.sessions, iface)
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownInterface, iface)
	}

	s.mu.Lock()
	s.removed = true
	e.cancelPending(s, "interface_removed")
	s.state = StateIdle
	s.request = nil
	s.last = nil
	s.mu.Unlock()

	e.deviceMu.Lock()
	delete(e.completed, iface)
	e.deviceMu.Unlock()

	e.logger.Info("Interface removed", "iface", iface)
	return nil
}

// Restore seeds an interface with a result persisted by an earlier run so
// later overrides can inherit its parameters.
func (e *Engine) Restore(req *Request, res *Result) {
	if res == nil || res.Iface == "" {
		return
	}
	s, err := e.lockSession(res.Iface, true)
	if err != nil {
		return
	}
	if s.state != StateIdle {
		s.mu.Unlock()
		return
	}
	s.request = req.Clone()
	s.last = res
	s.seq = res.Seq
	s.state = StateCompleted
	s.mu.Unlock()

	sel := Selection{
		Primary:   res.Primary,
		Secondary: res.Secondary,
		Seg0:      res.Seg0,
		Seg1:      res.Seg1,
		Width:     res.ChannelWidth,
	}
	if res.PunctureBitmap != nil {
		sel.PunctureBitmap = *res.PunctureBitmap
	}
	cfg := &AcsConfig{
		ResolvedMode: res.HwMode,
		Width:        res.ChannelWidth,
		Candidates:   []uint32{res.Primary},
		Master:       []uint32{res.Primary},
		Selected:     &sel,
	}

	e.deviceMu.Lock()
	e.completed[res.Iface] = cfg
	e.deviceMu.Unlock()
}

// UpdateDevice runs fn under the device write lock. Connection table
// updates go through here so no override decision sees a half-applied
// change.
func (e *Engine) UpdateDevice(fn func()) {
	e.deviceMu.Lock()
	defer e.deviceMu.Unlock()
	fn()
}

// Status returns the state of one interface
func (e *Engine) Status(iface string) (SessionStatus, error) {
	s, err := e.lockSession(iface, false)
	if err != nil {
		return SessionStatus{}, err
	}
	defer s.mu.Unlock()

	st := SessionStatus{
		Iface:   s.iface,
		State:   s.state,
		Seq:     s.seq,
		Request: s.request.Clone(),
		Last:    s.last,
		LastAt:  s.lastAt,
	}
	if s.job != nil {
		st.JobID = s.job.ID
		st.WaitingMS = time.Since(s.started).Milliseconds()
	}
	return st, nil
}

// Interfaces lists known interfaces, sorted
func (e *Engine) Interfaces() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	names := make([]string, 0, len(e.sessions))
	for name := range e.sessions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LastSelection is the completion time of the last result on iface
func (e *Engine) LastSelection(iface string) time.Time {
	s := e.session(iface, false)
	if s == nil {
		return time.Time{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAt
}

func (e *Engine) session(iface string, create bool) *session {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[iface]
	if !ok && create {
		s = &session{iface: iface, state: StateIdle}
		e.sessions[iface] = s
	}
	return s
}

// lockSession returns the session of iface with s.mu held. A session removed
// between lookup and locking is never used: with create a fresh one is made,
// otherwise the interface is unknown.
func (e *Engine) lockSession(iface string, create bool) (*session, error) {
	for {
		s := e.session(iface, create)
		if s == nil {
			return nil, fmt.Errorf("%w: %s", ErrUnknownInterface, iface)
		}
		s.mu.Lock()
		if !s.removed {
			return s, nil
		}
		s.mu.Unlock()
		if !create {
			return nil, fmt.Errorf("%w: %s", ErrUnknownInterface, iface)
		}
	}
}

// run drives one request through the pipeline. s.mu is held. Errors leave
// the session as it was.
func (e *Engine) run(ctx context.Context, s *session, req *Request, reason string) (*Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.removed {
		return nil, fmt.Errorf("%w: %s", ErrUnknownInterface, s.iface)
	}
	started := time.Now()

	cfg, err := BuildConfig(req, e.caps)
	if err != nil {
		return nil, e.reject(s, err)
	}
	if err := ResolveRange(cfg); err != nil {
		return nil, e.reject(s, err)
	}
	e.transition(s, StateIdle, StateRangeResolved, reason)

	dec, err := e.evaluateOverride(s.iface, cfg.HwMode)
	if err != nil {
		return nil, e.reject(s, err)
	}
	if dec.Forced {
		return e.completeOverride(s, req, cfg, dec, started), nil
	}

	fallback, err := e.filter(cfg)
	if err != nil {
		return nil, e.reject(s, err)
	}
	e.transition(s, StateRangeResolved, StateFiltered, reason)

	band := bandOfRange(cfg.StartFreq, cfg.EndFreq)
	cfg.Width = NegotiateWidth(WidthInput{
		Requested: cfg.RequestedWidth,
		StartFreq: cfg.StartFreq,
		EndFreq:   cfg.EndFreq,
		EHT:       cfg.IsEHT,
		Bonding24: e.opts.Bonding24GHz,
		Mask:      e.widthMask(band),
	})

	if len(cfg.Candidates) == 1 {
		primary := cfg.Candidates[0]
		// no scan means no 20/40 coexistence check
		if wifi.Is2GHz(primary) {
			cfg.Width = wifi.Width20
		}
		e.finalize(cfg, primary)
		e.transition(s, StateFiltered, StateFastPathDone, reason)
		e.transition(s, StateFastPathDone, StateCompleted, PathFastPath)

		s.seq++
		res := e.commit(s, req, cfg, PathFastPath, fallback, reasonFor(fallback, "single candidate"), "", started)
		return &Outcome{Result: res, Seq: res.Seq}, nil
	}

	return e.startAsync(s, req, cfg, reason, started), nil
}

func (e *Engine) completeOverride(s *session, req *Request, cfg *AcsConfig, dec OverrideDecision, started time.Time) *Outcome {
	// the forced AP takes ownership of fresh copies of the peer's buffers
	cfg.Candidates = dec.Candidates
	cfg.Master = dec.Master
	cfg.PCL = dec.PCL
	cfg.ReportPCL = nil

	sel := dec.Selection
	cfg.Width = sel.Width
	cfg.PunctureApplicable = cfg.IsEHT && sel.Width.MHz() >= 80
	if !cfg.PunctureApplicable {
		sel.PunctureBitmap = 0
	}
	cfg.Selected = &sel

	e.metrics.IncOverride()
	e.logger.Info("Concurrency override forces DFS channel",
		"iface", s.iface, "peer", dec.PeerIface, "freq", sel.Primary, "width", sel.Width.String())
	e.transition(s, StateRangeResolved, StateFastPathDone, "concurrency_override")
	e.transition(s, StateFastPathDone, StateCompleted, PathOverride)

	s.seq++
	res := e.commit(s, req, cfg, PathOverride, false, "same channel as "+dec.PeerIface, "", started)
	return &Outcome{Result: res, Seq: res.Seq}
}

func (e *Engine) startAsync(s *session, req *Request, cfg *AcsConfig, reason string, started time.Time) *Outcome {
	s.seq++
	seq := s.seq

	job := &Job{
		ID:         uuid.NewString(),
		Iface:      s.iface,
		Seq:        seq,
		HwMode:     cfg.ResolvedMode,
		Width:      cfg.Width,
		StartFreq:  cfg.StartFreq,
		EndFreq:    cfg.EndFreq,
		Candidates: cloneFreqs(cfg.Candidates),
		PCL:        clonePCL(cfg.PCL),
		Created:    started,
	}

	jobCtx, cancel := context.WithCancel(context.Background())
	s.state = StateAwaitingAsync
	s.cfg = cfg
	s.job = job
	s.cancel = cancel
	s.request = req.Clone()
	s.started = started

	e.transition(s, StateFiltered, StateAwaitingAsync, reason)
	e.metrics.AddInFlight(1)
	e.logger.Info("Handing channel selection to selector",
		"iface", s.iface, "selector", e.selector.Name(), "job_id", job.ID,
		"candidates", len(job.Candidates), "width", cfg.Width.String())

	e.selector.Start(jobCtx, job, func(freq uint32, err error) {
		// never re-enter s.mu from inside Start
		go func() { _ = e.complete(s, seq, freq, err) }()
	})

	return &Outcome{Pending: true, Seq: seq, JobID: job.ID}
}

// complete finishes an asynchronous selection. Completions for a cancelled
// or superseded request are dropped.
func (e *Engine) complete(s *session, seq uint64, freq uint32, selErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.removed || s.state != StateAwaitingAsync || s.seq != seq || s.cfg == nil {
		e.metrics.IncStale()
		e.logger.Debug("Discarding stale selector completion", "iface", s.iface, "seq", seq, "current_seq", s.seq)
		return ErrStaleCompletion
	}
	if s.cancel != nil {
		s.cancel()
	}
	e.metrics.AddInFlight(-1)

	cfg := s.cfg
	job := s.job
	path := e.selector.Name()
	fallback := false
	reason := ""

	switch {
	case errors.Is(selErr, ErrSelectorTimeout):
		e.metrics.IncTimeout()
		e.logger.Warn("acs_selector_timeout", "iface", s.iface, "job_id", job.ID, "waited_ms", time.Since(s.started).Milliseconds())
		path, fallback, reason = PathTimeout, true, "selector timeout"
	case selErr != nil:
		e.logger.Warn("Selector failed, using fallback channel", "iface", s.iface, "job_id", job.ID, "error", selErr)
		path, fallback, reason = PathFailed, true, selErr.Error()
	case !containsFreq(cfg.Master, freq):
		e.logger.Warn("Selector chose a channel outside the candidate list", "iface", s.iface, "freq", freq)
		fallback, reason = true, "selector chose unknown channel"
	}

	if fallback {
		f, ok := FallbackChannel(cfg.Master, e.reg, e.policy)
		if !ok {
			// master is never empty past filtering
			e.logger.Error("No fallback channel available", "iface", s.iface)
			s.state = StateIdle
			s.cfg, s.job, s.cancel = nil, nil, nil
			return ErrNoUsableChannel
		}
		freq = f
		e.metrics.IncFallback(path)
	}

	e.finalize(cfg, freq)
	e.transition(s, StateAwaitingAsync, StateCompleted, path)
	e.commit(s, s.request, cfg, path, fallback, reason, job.ID, s.started)
	return nil
}

// cancelPending abandons an outstanding selector call. s.mu is held.
func (e *Engine) cancelPending(s *session, reason string) {
	if s.state != StateAwaitingAsync {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	e.metrics.IncCancelled()
	e.metrics.AddInFlight(-1)
	e.transition(s, StateAwaitingAsync, StateIdle, reason)

	// bump the generation so a late completion cannot match
	s.seq++
	s.state = StateIdle
	s.cfg, s.job, s.cancel = nil, nil, nil
}

func (e *Engine) evaluateOverride(iface string, mode HwMode) (OverrideDecision, error) {
	if e.policy == nil {
		return OverrideDecision{}, nil
	}

	e.deviceMu.RLock()
	defer e.deviceMu.RUnlock()

	snap := e.policy.ConnectionSnapshot()
	return EvaluateOverride(iface, mode, snap, e.policy.IsForceSameChannel(), func(peer string) *AcsConfig {
		return e.completed[peer].Clone()
	})
}

// filter applies channel state, unsafe channels and the PCL. It reports
// whether the single remaining candidate is a fallback.
func (e *Engine) filter(cfg *AcsConfig) (bool, error) {
	master := make([]uint32, 0, len(cfg.Master))
	for _, f := range cfg.Master {
		if e.usable(f) {
			master = append(master, f)
		}
	}
	if len(master) == 0 {
		return false, fmt.Errorf("%w: every candidate is disabled", ErrNoUsableChannel)
	}
	cfg.Master = master

	candidates := make([]uint32, 0, len(cfg.Candidates))
	for _, f := range cfg.Candidates {
		if !e.usable(f) {
			continue
		}
		if e.opts.FilterUnsafe && e.policy != nil && !e.policy.IsSafeChannel(f) {
			continue
		}
		candidates = append(candidates, f)
	}
	if len(candidates) == 0 {
		return false, fmt.Errorf("%w: unsafe channel filter removed every candidate", ErrNoUsableChannel)
	}

	var pcl []PCLEntry
	if e.policy != nil {
		pcl = e.policy.GetPCL(e.opts.PCLMode)
	}
	inter := IntersectPCL(candidates, pcl)
	cfg.Candidates = inter.Candidates
	cfg.PCL = inter.PCL
	cfg.ReportPCL = inter.Report

	if len(cfg.Candidates) > 0 {
		return false, nil
	}

	f, ok := FallbackChannel(cfg.Master, e.reg, e.policy)
	if !ok {
		return false, ErrNoUsableChannel
	}
	e.metrics.IncFallback("empty_intersection")
	e.logger.Info("PCL intersection empty, using fallback channel", "freq", f, "pcl_len", len(pcl))
	cfg.Candidates = []uint32{f}
	return true, nil
}

// finalize renegotiates the width against the chosen primary and fills in
// the selection.
func (e *Engine) finalize(cfg *AcsConfig, primary uint32) {
	band := wifi.BandOf(primary)
	w := NegotiateWidth(WidthInput{
		Requested: cfg.Width,
		StartFreq: primary,
		EndFreq:   primary,
		EHT:       cfg.IsEHT,
		Bonding24: e.opts.Bonding24GHz,
		Mask:      e.widthMask(band),
	})

	ch := FitWidth(primary, w, e.opts.Bonding24GHz, e.usable)
	sel := Selection{
		Primary:   ch.Primary,
		Secondary: ch.Secondary,
		Seg0:      ch.Seg0,
		Seg1:      ch.Seg1,
		Width:     ch.Width,
	}
	cfg.Width = ch.Width
	cfg.PunctureApplicable = ApplyPuncture(&sel, cfg.RequestedPuncture, cfg.IsEHT)
	cfg.Selected = &sel
}

// commit records a finished selection and delivers it. s.mu is held and
// s.seq already identifies this request.
func (e *Engine) commit(s *session, req *Request, cfg *AcsConfig, path string, fallback bool, reason, jobID string, started time.Time) *Result {
	res := buildResult(s.iface, s.seq, jobID, cfg, path, fallback, reason)
	res.Request = req.Clone()

	s.state = StateCompleted
	s.request = req.Clone()
	s.cfg, s.job, s.cancel = nil, nil, nil
	s.last = res
	s.lastAt = time.Now()

	e.deviceMu.Lock()
	e.completed[s.iface] = cfg
	e.deviceMu.Unlock()

	e.metrics.ObserveSelection(path, time.Since(started))
	e.logger.Info("acs_selection_completed",
		"iface", s.iface,
		"seq", res.Seq,
		"path", path,
		"primary_freq", res.Primary,
		"width", res.ChannelWidth.String(),
		"hw_mode", res.HwMode.String(),
		"fallback", fallback)

	if e.sink != nil {
		e.sink.Deliver(res)
	}
	return res
}

// transition logs a state change. The stored session state only moves at the
// suspension point and on completion; the stages in between run under s.mu.
func (e *Engine) transition(s *session, from, to State, reason string) {
	e.logger.LogStateChange("acs", from.String(), to.String(), reason, map[string]interface{}{
		"iface": s.iface,
		"seq":   s.seq,
	})
}

func (e *Engine) reject(s *session, err error) error {
	e.metrics.IncRejected(errorReason(err))
	e.logger.Warn("DO_ACS request rejected", "iface", s.iface, "error", err)
	return err
}

func (e *Engine) usable(f uint32) bool {
	if e.reg == nil {
		return wifi.BandOf(f) != wifi.BandUnknown
	}
	return e.reg.ChannelState(f).Usable()
}

func (e *Engine) widthMask(band wifi.Band) WidthMask {
	if e.caps == nil {
		return 0
	}
	return e.caps.WidthCapability(e.caps.ActiveFirmwareMode(), band)
}

func buildResult(iface string, seq uint64, jobID string, cfg *AcsConfig, path string, fallback bool, reason string) *Result {
	sel := cfg.Selected
	res := &Result{
		Iface:        iface,
		Seq:          seq,
		JobID:        jobID,
		Primary:      sel.Primary,
		Secondary:    sel.Secondary,
		Seg0:         sel.Seg0,
		Seg1:         sel.Seg1,
		Width:        sel.Width.MHz(),
		ChannelWidth: sel.Width,
		HwMode:       resultMode(cfg.ResolvedMode, sel.Primary),
		Path:         path,
		Fallback:     fallback,
		Reason:       reason,
		ReportPCL:    clonePCL(cfg.ReportPCL),
	}
	if cfg.PunctureApplicable {
		bitmap := sel.PunctureBitmap
		res.PunctureBitmap = &bitmap
	}
	return res
}

// resultMode narrows an upgraded mode to what the chosen band can carry
func resultMode(mode HwMode, primary uint32) HwMode {
	is2G := wifi.Is2GHz(primary)
	switch mode {
	case HwModeAny:
		if is2G {
			return HwModeG
		}
		return HwModeA
	case HwMode11AC:
		if is2G {
			return HwMode11N
		}
	}
	return mode
}

func reasonFor(fallback bool, normal string) string {
	if fallback {
		return "empty PCL intersection"
	}
	return normal
}

func errorReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidChannelList):
		return "invalid_channel_list"
	case errors.Is(err, ErrMalformedRequest):
		return "malformed_request"
	case errors.Is(err, ErrConcurrencyInconsistent):
		return "concurrency_inconsistent"
	case errors.Is(err, ErrNoUsableChannel):
		return "no_usable_channel"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	}
	return "other"
}
