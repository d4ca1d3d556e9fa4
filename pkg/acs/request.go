package acs

import (
	"fmt"

	"github.com/markus-lassfolk/acsd/pkg/wifi"
)

// Request is a DO_ACS request as received from hostapd or the control API.
// Exactly one of Channels and Frequencies must be set. A zero entry in either
// list marks a slot to avoid and is skipped. Width is in MHz; 8080 selects
// 80+80 and zero derives the width from the HT flags.
type Request struct {
	HwMode         HwMode     `json:"hw_mode"`
	HTEnabled      bool       `json:"ht_enabled"`
	HT40Enabled    bool       `json:"ht40_enabled"`
	VHTEnabled     bool       `json:"vht_enabled"`
	EHTEnabled     bool       `json:"eht_enabled"`
	Width          wifi.Width `json:"chwidth,omitempty"`
	Channels       []int      `json:"ch_list,omitempty"`
	Frequencies    []uint32   `json:"freq_list,omitempty"`
	PunctureBitmap uint16     `json:"puncture_bitmap,omitempty"`
}

// Clone returns a deep copy of the request
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	out := *r
	if r.Channels != nil {
		out.Channels = append([]int(nil), r.Channels...)
	}
	out.Frequencies = cloneFreqs(r.Frequencies)
	return &out
}

// BuildConfig validates a request and produces a fresh AcsConfig. It never
// touches engine state, so a rejected request leaves nothing behind.
func BuildConfig(req *Request, caps Capabilities) (*AcsConfig, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: empty request", ErrMalformedRequest)
	}
	if !req.HwMode.Legacy() {
		return nil, fmt.Errorf("%w: hw_mode %s not accepted in a request", ErrMalformedRequest, req.HwMode)
	}
	if len(req.Channels) > 0 && len(req.Frequencies) > 0 {
		return nil, fmt.Errorf("%w: both channel and frequency lists supplied", ErrMalformedRequest)
	}

	candidates, err := requestFrequencies(req)
	if err != nil {
		return nil, err
	}

	width, err := requestWidth(req)
	if err != nil {
		return nil, err
	}

	cfg := &AcsConfig{
		HwMode:            req.HwMode,
		ResolvedMode:      req.HwMode,
		BandFilter:        bandFilterFor(req.HwMode),
		RequestedWidth:    width,
		Width:             width,
		IsHT:              req.HTEnabled,
		IsHT40:            req.HT40Enabled,
		IsVHT:             req.VHTEnabled,
		IsEHT:             req.EHTEnabled,
		Candidates:        candidates,
		Master:            cloneFreqs(candidates),
		RequestedPuncture: req.PunctureBitmap,
	}
	cfg.IsHE = req.EHTEnabled || (caps != nil && caps.SupportsHE() && req.HTEnabled && req.HwMode != HwModeB)
	if !req.EHTEnabled {
		cfg.RequestedPuncture = 0
	}
	return cfg, nil
}

func requestFrequencies(req *Request) ([]uint32, error) {
	if len(req.Frequencies) > 0 {
		out := make([]uint32, 0, len(req.Frequencies))
		for _, f := range req.Frequencies {
			if f != 0 && !wifi.OnChannelGrid(f) {
				return nil, fmt.Errorf("%w: frequency %d is not a wifi channel", ErrMalformedRequest, f)
			}
			out = append(out, f)
		}
		return out, nil
	}

	out := make([]uint32, 0, len(req.Channels))
	for _, ch := range req.Channels {
		if ch == 0 {
			out = append(out, 0)
			continue
		}
		f := wifi.ChannelToFreqAny(ch)
		if f == 0 {
			return nil, fmt.Errorf("%w: channel %d is not a wifi channel", ErrMalformedRequest, ch)
		}
		out = append(out, f)
	}
	return out, nil
}

func requestWidth(req *Request) (wifi.Width, error) {
	w := req.Width
	if w == 0 {
		if req.HTEnabled && req.HT40Enabled {
			return wifi.Width40, nil
		}
		return wifi.Width20, nil
	}
	if !w.Valid() {
		return 0, fmt.Errorf("%w: unsupported channel width %d", ErrMalformedRequest, int(w))
	}

	switch {
	case req.HwMode == HwModeB && w != wifi.Width20:
		return 0, fmt.Errorf("%w: 11b cannot use %s MHz", ErrMalformedRequest, w)
	case w == wifi.Width40 && !req.HTEnabled:
		return 0, fmt.Errorf("%w: 40 MHz requires ht_enabled", ErrMalformedRequest)
	case w.MHz() > 40 && !req.VHTEnabled && !req.EHTEnabled:
		return 0, fmt.Errorf("%w: %s MHz requires vht_enabled or eht_enabled", ErrMalformedRequest, w)
	}
	return w, nil
}

func bandFilterFor(mode HwMode) BandFilter {
	switch mode {
	case HwModeB, HwModeG:
		return BandFilter2G
	case HwModeA:
		return BandFilter5G
	default:
		return BandFilterAll
	}
}
