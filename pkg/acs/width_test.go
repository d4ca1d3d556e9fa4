package acs

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/markus-lassfolk/acsd/pkg/wifi"
)

func TestNegotiateWidth(t *testing.T) {
	tests := []struct {
		name string
		in   WidthInput
		want wifi.Width
	}{
		{"160 without capability", WidthInput{Requested: wifi.Width160, StartFreq: 5180, EndFreq: 5825}, wifi.Width80},
		{"160 supported", WidthInput{Requested: wifi.Width160, StartFreq: 5180, EndFreq: 5825, Mask: Cap160}, wifi.Width160},
		{"80+80 steps to 160", WidthInput{Requested: wifi.Width80P80, StartFreq: 5180, EndFreq: 5825, Mask: Cap160}, wifi.Width160},
		{"80+80 steps to 80", WidthInput{Requested: wifi.Width80P80, StartFreq: 5180, EndFreq: 5825}, wifi.Width80},
		{"80+80 supported", WidthInput{Requested: wifi.Width80P80, StartFreq: 5180, EndFreq: 5825, Mask: Cap80P80}, wifi.Width80P80},
		{"320 without EHT", WidthInput{Requested: wifi.Width320, StartFreq: 5955, EndFreq: 6415, Mask: Cap160 | Cap320}, wifi.Width160},
		{"320 with EHT", WidthInput{Requested: wifi.Width320, StartFreq: 5955, EndFreq: 6415, EHT: true, Mask: Cap160 | Cap320}, wifi.Width320},
		{"320 unsupported", WidthInput{Requested: wifi.Width320, StartFreq: 5955, EndFreq: 6415, EHT: true, Mask: Cap160}, wifi.Width160},
		{"2.4 caps at 40", WidthInput{Requested: wifi.Width80, StartFreq: 2412, EndFreq: 2462, Bonding24: true}, wifi.Width40},
		{"2.4 no bonding", WidthInput{Requested: wifi.Width40, StartFreq: 2412, EndFreq: 2462}, wifi.Width20},
		{"mixed bands keep 40", WidthInput{Requested: wifi.Width40, StartFreq: 2412, EndFreq: 5180}, wifi.Width40},
		{"80 always allowed", WidthInput{Requested: wifi.Width80, StartFreq: 5180, EndFreq: 5240}, wifi.Width80},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NegotiateWidth(tt.in))
		})
	}
}

func TestFitWidth(t *testing.T) {
	all := func(uint32) bool { return true }

	ch := FitWidth(5180, wifi.Width160, false, all)
	assert.Equal(t, wifi.Width160, ch.Width)
	assert.Equal(t, uint32(5250), ch.Seg0)

	no5300 := func(f uint32) bool { return f != 5300 }
	ch = FitWidth(5180, wifi.Width160, false, no5300)
	assert.Equal(t, wifi.Width80, ch.Width)
	assert.Equal(t, uint32(5210), ch.Seg0)

	ch = FitWidth(2437, wifi.Width80, true, all)
	assert.Equal(t, wifi.Width40, ch.Width)
	assert.Equal(t, uint32(2457), ch.Secondary)
	assert.Equal(t, uint32(2447), ch.Seg0)

	ch = FitWidth(2437, wifi.Width40, false, all)
	assert.Equal(t, wifi.Channelization{Primary: 2437, Seg0: 2437, Width: wifi.Width20}, ch)

	ch = FitWidth(2484, wifi.Width40, true, all)
	assert.Equal(t, wifi.Width20, ch.Width, "channel 14 has no 40 MHz block")
}

func TestFitWidth80P80(t *testing.T) {
	allowed := map[uint32]bool{
		5180: true, 5200: true, 5220: true, 5240: true,
		5745: true, 5765: true, 5785: true, 5805: true,
	}
	ch := FitWidth(5180, wifi.Width80P80, false, func(f uint32) bool { return allowed[f] })
	assert.Equal(t, wifi.Width80P80, ch.Width)
	assert.Equal(t, uint32(5210), ch.Seg0)
	assert.Equal(t, uint32(5775), ch.Seg1)

	lowOnly := func(f uint32) bool { return f <= 5240 }
	ch = FitWidth(5180, wifi.Width80P80, false, lowOnly)
	assert.Equal(t, wifi.Width80, ch.Width)
	assert.Zero(t, ch.Seg1)
}

func TestApplyPuncture(t *testing.T) {
	sel := Selection{Primary: 5200, Seg0: 5210, Width: wifi.Width80}
	assert.True(t, ApplyPuncture(&sel, 0xf, true))
	assert.Equal(t, uint16(0xd), sel.PunctureBitmap, "primary subchannel bit cleared")

	sel = Selection{Primary: 5180, Seg0: 5250, Width: wifi.Width160}
	assert.True(t, ApplyPuncture(&sel, 0xff02, true))
	assert.Equal(t, uint16(0x02), sel.PunctureBitmap, "bits beyond 160 MHz dropped")

	sel = Selection{Primary: 5180, Seg0: 5190, Width: wifi.Width40, PunctureBitmap: 3}
	assert.False(t, ApplyPuncture(&sel, 0x2, true))
	assert.Zero(t, sel.PunctureBitmap)

	sel = Selection{Primary: 5180, Seg0: 5210, Width: wifi.Width80}
	assert.False(t, ApplyPuncture(&sel, 0x2, false))
	assert.Zero(t, sel.PunctureBitmap)
}
