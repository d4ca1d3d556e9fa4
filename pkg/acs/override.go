package acs

import (
	"fmt"

	"github.com/markus-lassfolk/acsd/pkg/wifi"
)

// PeerLookup returns a private copy of the last completed config of another
// interface, or nil when none is known.
type PeerLookup func(iface string) *AcsConfig

// OverrideDecision is the outcome of the concurrency check. When Forced is
// false every other field is zero.
type OverrideDecision struct {
	Forced     bool
	PeerIface  string
	Selection  Selection
	Candidates []uint32
	Master     []uint32
	PCL        []PCLEntry
}

// EvaluateOverride decides whether iface must join an existing AP on a DFS
// channel. It applies when another AP-type connection is active on a DFS
// channel and the policy only allows same-channel concurrency. The peer's
// own completed result, if known, supplies the inherited parameters and
// buffers; otherwise the channelization declared in the snapshot is used.
// Peers on a band the request's hw_mode cannot operate in are ignored.
func EvaluateOverride(iface string, mode HwMode, snap ConnectionSnapshot, forceSCC bool, peers PeerLookup) (OverrideDecision, error) {
	if !forceSCC {
		return OverrideDecision{}, nil
	}

	var dfsPeer *Connection
	for i := range snap.Connections {
		c := &snap.Connections[i]
		if c.Iface == iface || !c.Mode.IsAP() || c.Freq == 0 {
			continue
		}
		if !inModeBand(mode, c.Freq) {
			continue
		}
		if c.IsDFS {
			dfsPeer = c
			break
		}
	}
	if dfsPeer == nil {
		return OverrideDecision{}, nil
	}

	dec := OverrideDecision{Forced: true, PeerIface: dfsPeer.Iface}

	var peerCfg *AcsConfig
	if peers != nil {
		peerCfg = peers(dfsPeer.Iface)
	}

	if peerCfg != nil && peerCfg.Selected != nil {
		if peerCfg.Selected.Primary != dfsPeer.Freq {
			return OverrideDecision{}, fmt.Errorf("%w: peer %s reports %d MHz but its result is %d MHz",
				ErrConcurrencyInconsistent, dfsPeer.Iface, dfsPeer.Freq, peerCfg.Selected.Primary)
		}
		dec.Selection = *peerCfg.Selected
		dec.Candidates = cloneFreqs(peerCfg.Candidates)
		dec.Master = cloneFreqs(peerCfg.Master)
		dec.PCL = clonePCL(peerCfg.PCL)
	} else {
		w := dfsPeer.Width
		if w == 0 {
			w = wifi.Width20
		}
		dec.Selection = Selection{
			Primary:   dfsPeer.Freq,
			Secondary: dfsPeer.Secondary,
			Seg0:      dfsPeer.Seg0,
			Seg1:      dfsPeer.Seg1,
			Width:     w,
		}
		if dec.Selection.Seg0 == 0 && w == wifi.Width20 {
			dec.Selection.Seg0 = dfsPeer.Freq
		}
	}

	if err := checkInherited(dec.Selection); err != nil {
		return OverrideDecision{}, fmt.Errorf("%w: peer %s: %v", ErrConcurrencyInconsistent, dfsPeer.Iface, err)
	}

	forced := dec.Selection.Primary
	if !containsFreq(dec.Candidates, forced) {
		dec.Candidates = []uint32{forced}
	}
	if !containsFreq(dec.Master, forced) {
		dec.Master = append(dec.Master, forced)
	}
	return dec, nil
}

// checkInherited verifies that the inherited segment centers belong to the
// forced primary at the inherited width.
func checkInherited(sel Selection) error {
	if !sel.Width.Valid() {
		return fmt.Errorf("invalid width %d", int(sel.Width))
	}
	expected, err := wifi.Channelize(sel.Primary, sel.Width, sel.Seg1)
	if err != nil {
		return err
	}
	if sel.Seg0 != expected.Seg0 {
		return fmt.Errorf("seg0 %d does not match primary %d at %s MHz (want %d)",
			sel.Seg0, sel.Primary, sel.Width, expected.Seg0)
	}
	if sel.Secondary != 0 && sel.Secondary != expected.Secondary {
		return fmt.Errorf("secondary %d does not match primary %d (want %d)",
			sel.Secondary, sel.Primary, expected.Secondary)
	}
	if sel.Width != wifi.Width80P80 && sel.Seg1 != 0 {
		return fmt.Errorf("seg1 %d set for a %s MHz channel", sel.Seg1, sel.Width)
	}
	return nil
}
