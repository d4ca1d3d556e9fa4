package acs

import (
	"fmt"

	"github.com/markus-lassfolk/acsd/pkg/wifi"
)

var legacyBounds = map[HwMode][2]uint32{
	HwModeB:   {2412, 2484},
	HwModeG:   {2412, 2472},
	HwModeA:   {5180, 5885},
	HwModeAny: {2412, 5885},
}

// LegacyBounds returns the fixed band edges of a request-level mode
func LegacyBounds(mode HwMode) (start, end uint32, ok bool) {
	b, ok := legacyBounds[mode]
	return b[0], b[1], ok
}

// ResolveRange normalizes the candidate list and derives the frequency
// bounds and the upgraded hw mode. Zero entries are avoid-slot markers and
// never contribute to the bounds. Entries outside the mode's bands are
// dropped; duplicates keep their first position.
func ResolveRange(cfg *AcsConfig) error {
	start, end, ok := LegacyBounds(cfg.HwMode)
	if !ok {
		return fmt.Errorf("%w: hw_mode %s", ErrMalformedRequest, cfg.HwMode)
	}

	seen := make(map[uint32]bool, len(cfg.Candidates))
	normalized := make([]uint32, 0, len(cfg.Candidates))
	for _, f := range cfg.Candidates {
		if f == 0 || seen[f] || !inModeBand(cfg.HwMode, f) {
			continue
		}
		seen[f] = true
		normalized = append(normalized, f)
	}
	if len(normalized) == 0 {
		return ErrInvalidChannelList
	}

	start, end = normalized[0], normalized[0]
	for _, f := range normalized[1:] {
		if f < start {
			start = f
		}
		if f > end {
			end = f
		}
	}

	cfg.Candidates = normalized
	cfg.Master = cloneFreqs(normalized)
	cfg.StartFreq = start
	cfg.EndFreq = end
	cfg.ResolvedMode = upgradeMode(cfg)
	return nil
}

func inModeBand(mode HwMode, f uint32) bool {
	switch mode {
	case HwModeB:
		return f >= 2412 && f <= 2484
	case HwModeG:
		return f >= 2412 && f <= 2472
	case HwModeA:
		b := wifi.BandOf(f)
		return b == wifi.Band5G || b == wifi.Band6G
	default:
		return wifi.BandOf(f) != wifi.BandUnknown
	}
}

func upgradeMode(cfg *AcsConfig) HwMode {
	switch cfg.HwMode {
	case HwModeB:
		return HwModeB
	case HwModeG:
		switch {
		case cfg.IsEHT:
			return HwMode11BE
		case cfg.IsHE:
			return HwMode11AX
		case cfg.IsHT:
			return HwMode11N
		}
		return HwModeG
	}

	switch {
	case cfg.IsEHT:
		return HwMode11BE
	case cfg.IsHE:
		return HwMode11AX
	case cfg.IsVHT:
		return HwMode11AC
	case cfg.IsHT:
		return HwMode11N
	}
	return cfg.HwMode
}

// bandOfRange classifies [start,end]; BandUnknown when it spans bands
func bandOfRange(start, end uint32) wifi.Band {
	b := wifi.BandOf(start)
	if b != wifi.BandOf(end) {
		return wifi.BandUnknown
	}
	return b
}
