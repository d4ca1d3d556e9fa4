package acs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markus-lassfolk/acsd/pkg/wifi"
)

func dfsPeerSnapshot() ConnectionSnapshot {
	return ConnectionSnapshot{Connections: []Connection{
		{Iface: "wlan2", Mode: ModeSTA, Freq: 5500, MacID: 2, IsDFS: true},
		{Iface: "wlan1", Mode: ModeSAP, Freq: 5260, MacID: 1, IsDFS: true, Seg0: 5290, Width: wifi.Width80},
	}}
}

func TestOverrideNotApplicable(t *testing.T) {
	tests := []struct {
		name     string
		snap     ConnectionSnapshot
		forceSCC bool
	}{
		{"mcc allowed", dfsPeerSnapshot(), false},
		{"empty snapshot", ConnectionSnapshot{}, true},
		{"only a station on DFS", ConnectionSnapshot{Connections: []Connection{{Iface: "wlan2", Mode: ModeSTA, Freq: 5500, IsDFS: true}}}, true},
		{"AP off DFS", ConnectionSnapshot{Connections: []Connection{{Iface: "wlan1", Mode: ModeSAP, Freq: 5180}}}, true},
		{"own interface", ConnectionSnapshot{Connections: []Connection{{Iface: "wlan0", Mode: ModeSAP, Freq: 5260, IsDFS: true}}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec, err := EvaluateOverride("wlan0", HwModeA, tt.snap, tt.forceSCC, nil)
			require.NoError(t, err)
			assert.False(t, dec.Forced)
		})
	}
}

func TestOverrideFromSnapshot(t *testing.T) {
	dec, err := EvaluateOverride("wlan0", HwModeA, dfsPeerSnapshot(), true, nil)
	require.NoError(t, err)
	require.True(t, dec.Forced)

	assert.Equal(t, "wlan1", dec.PeerIface)
	assert.Equal(t, Selection{Primary: 5260, Seg0: 5290, Width: wifi.Width80}, dec.Selection)
	assert.Equal(t, []uint32{5260}, dec.Candidates)
	assert.Equal(t, []uint32{5260}, dec.Master)
}

func TestOverrideUndeclaredWidth(t *testing.T) {
	snap := ConnectionSnapshot{Connections: []Connection{{Iface: "p2p0", Mode: ModeP2PGO, Freq: 5500, IsDFS: true}}}
	dec, err := EvaluateOverride("wlan0", HwModeA, snap, true, nil)
	require.NoError(t, err)
	assert.Equal(t, Selection{Primary: 5500, Seg0: 5500, Width: wifi.Width20}, dec.Selection)
}

func TestOverrideInheritsPeerBuffers(t *testing.T) {
	peer := &AcsConfig{
		Candidates: []uint32{5500, 5520},
		Master:     []uint32{5500, 5520, 5180},
		PCL:        []PCLEntry{{Freq: 5500, Weight: 50}},
		Selected:   &Selection{Primary: 5500, Secondary: 5520, Seg0: 5530, Width: wifi.Width80},
	}
	snap := ConnectionSnapshot{Connections: []Connection{{Iface: "wlan1", Mode: ModeSAP, Freq: 5500, IsDFS: true}}}

	dec, err := EvaluateOverride("wlan0", HwModeA, snap, true, func(iface string) *AcsConfig {
		assert.Equal(t, "wlan1", iface)
		return peer
	})
	require.NoError(t, err)
	require.True(t, dec.Forced)

	assert.Equal(t, *peer.Selected, dec.Selection)
	assert.Equal(t, peer.Candidates, dec.Candidates)
	assert.Equal(t, peer.Master, dec.Master)
	assert.Equal(t, peer.PCL, dec.PCL)

	dec.Candidates[0] = 1
	dec.PCL[0].Weight = 1
	assert.Equal(t, uint32(5500), peer.Candidates[0], "buffers are copied, not shared")
	assert.Equal(t, uint8(50), peer.PCL[0].Weight)
}

func TestOverrideInconsistent(t *testing.T) {
	mismatch := func(string) *AcsConfig {
		return &AcsConfig{Selected: &Selection{Primary: 5520, Seg0: 5530, Width: wifi.Width80}}
	}
	snap := ConnectionSnapshot{Connections: []Connection{{Iface: "wlan1", Mode: ModeSAP, Freq: 5500, IsDFS: true}}}
	_, err := EvaluateOverride("wlan0", HwModeA, snap, true, mismatch)
	assert.ErrorIs(t, err, ErrConcurrencyInconsistent)

	tests := []Connection{
		{Iface: "wlan1", Mode: ModeSAP, Freq: 5260, IsDFS: true, Seg0: 5210, Width: wifi.Width80},
		{Iface: "wlan1", Mode: ModeSAP, Freq: 5260, IsDFS: true, Seg0: 5290, Seg1: 5530, Width: wifi.Width80},
		{Iface: "wlan1", Mode: ModeSAP, Freq: 5260, IsDFS: true, Secondary: 5240, Seg0: 5290, Width: wifi.Width80},
		{Iface: "wlan1", Mode: ModeSAP, Freq: 5260, IsDFS: true, Seg0: 5290, Width: 70},
	}
	for _, c := range tests {
		_, err := EvaluateOverride("wlan0", HwModeA, ConnectionSnapshot{Connections: []Connection{c}}, true, nil)
		assert.ErrorIs(t, err, ErrConcurrencyInconsistent, "%+v", c)
	}
}

func TestOverrideSkipsOtherBand(t *testing.T) {
	for _, mode := range []HwMode{HwModeB, HwModeG} {
		dec, err := EvaluateOverride("wlan0", mode, dfsPeerSnapshot(), true, nil)
		require.NoError(t, err)
		assert.False(t, dec.Forced, mode.String())
	}

	dec, err := EvaluateOverride("wlan0", HwModeAny, dfsPeerSnapshot(), true, nil)
	require.NoError(t, err)
	assert.True(t, dec.Forced)
}
