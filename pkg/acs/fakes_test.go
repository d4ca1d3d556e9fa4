package acs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/markus-lassfolk/acsd/pkg/logx"
	"github.com/markus-lassfolk/acsd/pkg/wifi"
)

type fakeReg struct {
	disabled map[uint32]bool
}

func (r *fakeReg) IsDFS(freq uint32) bool     { return wifi.IsDefaultDFS(freq) }
func (r *fakeReg) Is6GHzPSC(freq uint32) bool { return wifi.Is6GHzPSC(freq) }

func (r *fakeReg) ChannelState(freq uint32) ChannelState {
	switch {
	case wifi.BandOf(freq) == wifi.BandUnknown:
		return ChannelInvalid
	case r.disabled[freq]:
		return ChannelDisabled
	case wifi.IsDefaultDFS(freq):
		return ChannelDFS
	}
	return ChannelEnabled
}

type fakePolicy struct {
	mu       sync.Mutex
	pcl      []PCLEntry
	snap     ConnectionSnapshot
	forceSCC bool
	unsafe   map[uint32]bool
}

func (p *fakePolicy) GetPCL(mode ConnectionMode) []PCLEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return clonePCL(p.pcl)
}

func (p *fakePolicy) ConnectionSnapshot() ConnectionSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return ConnectionSnapshot{Connections: append([]Connection(nil), p.snap.Connections...)}
}

func (p *fakePolicy) IsForceSameChannel() bool       { return p.forceSCC }
func (p *fakePolicy) IsSafeChannel(freq uint32) bool { return !p.unsafe[freq] }

type fakeCaps struct {
	mode  FirmwareMode
	masks map[FirmwareMode]WidthMask
	he    bool
}

func (c *fakeCaps) ActiveFirmwareMode() FirmwareMode { return c.mode }
func (c *fakeCaps) SupportsHE() bool                 { return c.he }

func (c *fakeCaps) WidthCapability(mode FirmwareMode, band wifi.Band) WidthMask {
	return c.masks[mode]
}

// manualSelector records jobs and lets the test complete them
type manualSelector struct {
	mu    sync.Mutex
	jobs  []*Job
	dones []Completion
	ctxs  []context.Context
}

func (m *manualSelector) Name() string { return PathScan }

func (m *manualSelector) Start(ctx context.Context, job *Job, done Completion) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, job)
	m.dones = append(m.dones, done)
	m.ctxs = append(m.ctxs, ctx)
}

func (m *manualSelector) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

func (m *manualSelector) job(i int) (*Job, Completion, context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobs[i], m.dones[i], m.ctxs[i]
}

type chanSink struct {
	ch chan *Result
}

func newChanSink() *chanSink { return &chanSink{ch: make(chan *Result, 16)} }

func (s *chanSink) Deliver(res *Result) { s.ch <- res }

func waitResult(t *testing.T, s *chanSink) *Result {
	t.Helper()
	select {
	case res := <-s.ch:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for result")
		return nil
	}
}

type testEnv struct {
	engine   *Engine
	reg      *fakeReg
	policy   *fakePolicy
	caps     *fakeCaps
	selector *manualSelector
	sink     *chanSink
}

func newTestEnv(opts Options) *testEnv {
	env := &testEnv{
		reg:      &fakeReg{disabled: map[uint32]bool{}},
		policy:   &fakePolicy{unsafe: map[uint32]bool{}},
		caps:     &fakeCaps{masks: map[FirmwareMode]WidthMask{FirmwareNonDBS: MaskFor(wifi.Width160)}},
		selector: &manualSelector{},
		sink:     newChanSink(),
	}
	env.engine = NewEngine(Deps{
		Regulatory:   env.reg,
		Policy:       env.policy,
		Capabilities: env.caps,
		Selector:     env.selector,
		Sink:         env.sink,
		Logger:       logx.NewLogger("error", "acs-test"),
	}, opts)
	return env
}
