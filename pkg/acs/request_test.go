package acs

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markus-lassfolk/acsd/pkg/wifi"
)

func TestBuildConfigWidthDerivation(t *testing.T) {
	cfg, err := BuildConfig(&Request{HwMode: HwModeG, HTEnabled: true, HT40Enabled: true, Frequencies: []uint32{2412}}, nil)
	require.NoError(t, err)
	assert.Equal(t, wifi.Width40, cfg.RequestedWidth)

	cfg, err = BuildConfig(&Request{HwMode: HwModeG, HTEnabled: true, Frequencies: []uint32{2412}}, nil)
	require.NoError(t, err)
	assert.Equal(t, wifi.Width20, cfg.RequestedWidth)

	cfg, err = BuildConfig(&Request{HwMode: HwModeA, HTEnabled: true, VHTEnabled: true, Width: wifi.Width80P80, Frequencies: []uint32{5180}}, nil)
	require.NoError(t, err)
	assert.Equal(t, wifi.Width80P80, cfg.RequestedWidth)
}

func TestBuildConfigMalformed(t *testing.T) {
	tests := []struct {
		name string
		req  *Request
	}{
		{"nil", nil},
		{"both lists", &Request{HwMode: HwModeA, Channels: []int{36}, Frequencies: []uint32{5180}}},
		{"40 without ht", &Request{HwMode: HwModeA, Width: 40, Frequencies: []uint32{5180}}},
		{"80 without vht", &Request{HwMode: HwModeA, HTEnabled: true, Width: 80, Frequencies: []uint32{5180}}},
		{"11b wide", &Request{HwMode: HwModeB, HTEnabled: true, Width: 40, Frequencies: []uint32{2412}}},
		{"odd width", &Request{HwMode: HwModeA, Width: 60, Frequencies: []uint32{5180}}},
		{"bad channel", &Request{HwMode: HwModeA, Channels: []int{36, 250}}},
		{"bad frequency", &Request{HwMode: HwModeA, Frequencies: []uint32{1234}}},
		{"off-grid 2.4 GHz", &Request{HwMode: HwModeG, Frequencies: []uint32{2413}}},
		{"off-grid 5 GHz", &Request{HwMode: HwModeA, HTEnabled: true, HT40Enabled: true, Frequencies: []uint32{5180, 5181}}},
		{"below first 6 GHz channel", &Request{HwMode: HwModeA, Frequencies: []uint32{5940}}},
		{"upgraded mode", &Request{HwMode: HwMode11AX, Frequencies: []uint32{5180}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildConfig(tt.req, nil)
			assert.ErrorIs(t, err, ErrMalformedRequest)
		})
	}
}

func TestBuildConfigChannelList(t *testing.T) {
	cfg, err := BuildConfig(&Request{HwMode: HwModeAny, Channels: []int{1, 0, 36, 149}}, nil)
	require.NoError(t, err)
	assert.Equal(t, []uint32{2412, 0, 5180, 5745}, cfg.Candidates)
	assert.Equal(t, BandFilterAll, cfg.BandFilter)
}

func TestBuildConfigFlags(t *testing.T) {
	caps := &fakeCaps{he: true}

	cfg, err := BuildConfig(&Request{HwMode: HwModeA, HTEnabled: true, Frequencies: []uint32{5180}, PunctureBitmap: 0x4}, caps)
	require.NoError(t, err)
	assert.True(t, cfg.IsHE)
	assert.Zero(t, cfg.RequestedPuncture, "puncturing needs EHT")
	assert.Equal(t, BandFilter5G, cfg.BandFilter)

	cfg, err = BuildConfig(&Request{HwMode: HwModeA, HTEnabled: true, VHTEnabled: true, EHTEnabled: true, Width: 320, Frequencies: []uint32{5955}, PunctureBitmap: 0x4}, nil)
	require.NoError(t, err)
	assert.True(t, cfg.IsHE)
	assert.Equal(t, uint16(0x4), cfg.RequestedPuncture)
}

func TestRequestJSON(t *testing.T) {
	var req Request
	err := json.Unmarshal([]byte(`{"hw_mode":"any","ht_enabled":true,"ht40_enabled":true,"chwidth":40,"freq_list":[2412,5180]}`), &req)
	require.NoError(t, err)
	assert.Equal(t, HwModeAny, req.HwMode)
	assert.Equal(t, wifi.Width40, req.Width)
	assert.Equal(t, []uint32{2412, 5180}, req.Frequencies)

	assert.Error(t, json.Unmarshal([]byte(`{"hw_mode":"x"}`), &req))
}
