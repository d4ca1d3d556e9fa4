package regdomain

import (
	"fmt"
	"sort"
	"sync"

	"github.com/markus-lassfolk/acsd/pkg/acs"
	"github.com/markus-lassfolk/acsd/pkg/wifi"
)

// ConnectionTable holds the active connections reported by the driver or
// the control API. Writers should go through acs.Engine.UpdateDevice.
type ConnectionTable struct {
	mu    sync.RWMutex
	conns map[string]acs.Connection
}

func NewConnectionTable() *ConnectionTable {
	return &ConnectionTable{conns: make(map[string]acs.Connection)}
}

// Set adds or replaces the connection of c.Iface
func (t *ConnectionTable) Set(c acs.Connection) error {
	if c.Iface == "" {
		return fmt.Errorf("connection without interface name")
	}
	if wifi.BandOf(c.Freq) == wifi.BandUnknown {
		return fmt.Errorf("connection %s: frequency %d is not a wifi channel", c.Iface, c.Freq)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conns[c.Iface] = c
	return nil
}

// Remove drops the connection of iface
func (t *ConnectionTable) Remove(iface string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.conns[iface]
	delete(t.conns, iface)
	return ok
}

// Snapshot returns a copy ordered by interface name
func (t *ConnectionTable) Snapshot() acs.ConnectionSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]acs.Connection, 0, len(t.conns))
	for _, c := range t.conns {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Iface < out[j].Iface })
	return acs.ConnectionSnapshot{Connections: out}
}

// StaticPolicy serves a configured PCL and unsafe list plus the live
// connection table.
type StaticPolicy struct {
	mu       sync.RWMutex
	pcl      []acs.PCLEntry
	unsafe   map[uint32]bool
	forceSCC bool
	table    *ConnectionTable
}

// NewStaticPolicy creates a policy provider
func NewStaticPolicy(pcl []acs.PCLEntry, unsafe []uint32, forceSCC bool, table *ConnectionTable) *StaticPolicy {
	if table == nil {
		table = NewConnectionTable()
	}
	p := &StaticPolicy{forceSCC: forceSCC, table: table}
	p.SetPCL(pcl)
	p.SetUnsafe(unsafe)
	return p
}

// SetPCL replaces the preferred channel list
func (p *StaticPolicy) SetPCL(pcl []acs.PCLEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pcl = append([]acs.PCLEntry(nil), pcl...)
}

// SetUnsafe replaces the unsafe channel set
func (p *StaticPolicy) SetUnsafe(freqs []uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unsafe = make(map[uint32]bool, len(freqs))
	for _, f := range freqs {
		p.unsafe[f] = true
	}
}

// Table returns the connection table backing the snapshot
func (p *StaticPolicy) Table() *ConnectionTable {
	return p.table
}

// GetPCL returns the PCL for AP-type modes; stations get no preference.
func (p *StaticPolicy) GetPCL(mode acs.ConnectionMode) []acs.PCLEntry {
	if !mode.IsAP() {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]acs.PCLEntry(nil), p.pcl...)
}

func (p *StaticPolicy) ConnectionSnapshot() acs.ConnectionSnapshot {
	return p.table.Snapshot()
}

func (p *StaticPolicy) IsForceSameChannel() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.forceSCC
}

func (p *StaticPolicy) IsSafeChannel(freq uint32) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return !p.unsafe[freq]
}
