package wifi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFreqChannelRoundTrip(t *testing.T) {
	tests := []struct {
		freq    uint32
		channel int
		band    Band
	}{
		{2412, 1, Band2G},
		{2437, 6, Band2G},
		{2472, 13, Band2G},
		{2484, 14, Band2G},
		{5180, 36, Band5G},
		{5500, 100, Band5G},
		{5825, 165, Band5G},
		{5935, 2, Band6G},
		{5955, 1, Band6G},
		{6115, 33, Band6G},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.band, BandOf(tt.freq), "band of %d", tt.freq)
		assert.Equal(t, tt.channel, FreqToChannel(tt.freq), "channel of %d", tt.freq)
		assert.Equal(t, tt.freq, ChannelToFreq(tt.channel, tt.band), "freq of channel %d", tt.channel)
	}

	assert.Equal(t, BandUnknown, BandOf(1000))
	assert.Equal(t, 0, FreqToChannel(1000))
	assert.Equal(t, uint32(2437), ChannelToFreqAny(6))
	assert.Equal(t, uint32(5745), ChannelToFreqAny(149))
}

func TestOffGridFrequencies(t *testing.T) {
	for _, f := range []uint32{2413, 2474, 5181, 5936, 5940, 5949, 5951, 7114} {
		assert.Equal(t, 0, FreqToChannel(f), "channel of %d", f)
		assert.False(t, OnChannelGrid(f), "%d on grid", f)
	}
	for _, f := range []uint32{2412, 2484, 5180, 5885, 5935, 5955, 7115} {
		assert.True(t, OnChannelGrid(f), "%d on grid", f)
	}
}

func TestChannelToFreqBounds(t *testing.T) {
	assert.Equal(t, uint32(0), ChannelToFreq(0, Band5G))
	assert.Equal(t, uint32(0), ChannelToFreq(-1, Band2G))
	assert.Equal(t, uint32(0), ChannelToFreq(234, Band6G))
	assert.Equal(t, uint32(0), ChannelToFreq(15, Band2G))
	assert.Equal(t, uint32(7115), ChannelToFreq(233, Band6G))

	// would wrap back onto channel 36 in uint32 arithmetic
	huge := int(int64(36) + 1<<32)
	assert.Equal(t, uint32(0), ChannelToFreqAny(huge))
	assert.Equal(t, uint32(0), ChannelToFreq(huge, Band6G))
}

func TestIs6GHzPSC(t *testing.T) {
	assert.True(t, Is6GHzPSC(ChannelToFreq(5, Band6G)))
	assert.True(t, Is6GHzPSC(ChannelToFreq(21, Band6G)))
	assert.False(t, Is6GHzPSC(ChannelToFreq(1, Band6G)))
	assert.False(t, Is6GHzPSC(5935))
	assert.False(t, Is6GHzPSC(5180))
}

func TestIsDefaultDFS(t *testing.T) {
	assert.False(t, IsDefaultDFS(5180))
	assert.True(t, IsDefaultDFS(5260))
	assert.True(t, IsDefaultDFS(5500))
	assert.True(t, IsDefaultDFS(5720))
	assert.False(t, IsDefaultDFS(5745))
}

func TestChannelize(t *testing.T) {
	tests := []struct {
		name    string
		primary uint32
		width   Width
		want    Channelization
		wantErr bool
	}{
		{"20 MHz", 5180, Width20, Channelization{Primary: 5180, Seg0: 5180, Width: Width20}, false},
		{"2.4 HT40+", 2412, Width40, Channelization{Primary: 2412, Secondary: 2432, Seg0: 2422, Width: Width40}, false},
		{"2.4 HT40-", 2462, Width40, Channelization{Primary: 2462, Secondary: 2442, Seg0: 2452, Width: Width40}, false},
		{"5 GHz 80 upper primary", 5200, Width80, Channelization{Primary: 5200, Secondary: 5180, Seg0: 5210, Width: Width80}, false},
		{"5 GHz 160", 5180, Width160, Channelization{Primary: 5180, Secondary: 5200, Seg0: 5250, Width: Width160}, false},
		{"6 GHz 320", 5955, Width320, Channelization{Primary: 5955, Secondary: 5975, Seg0: 6105, Width: Width320}, false},
		{"2.4 80 not possible", 2437, Width80, Channelization{}, true},
		{"channel 14 has no 40", 2484, Width40, Channelization{}, true},
		{"80+80 without segment", 5180, Width80P80, Channelization{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Channelize(tt.primary, tt.width, 0)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPick80P80Segment(t *testing.T) {
	allowed := map[uint32]bool{
		5180: true, 5200: true, 5220: true, 5240: true,
		5745: true, 5765: true, 5785: true, 5805: true,
	}
	seg1, ok := Pick80P80Segment(5180, func(f uint32) bool { return allowed[f] })
	require.True(t, ok)
	assert.Equal(t, uint32(5775), seg1)

	c, err := Channelize(5180, Width80P80, seg1)
	require.NoError(t, err)
	assert.Equal(t, uint32(5210), c.Seg0)
	assert.Equal(t, uint32(5775), c.Seg1)

	_, ok = Pick80P80Segment(5180, func(f uint32) bool { return f < 5300 })
	assert.False(t, ok)
}

func TestPrimaryIndex(t *testing.T) {
	idx, ok := PrimaryIndex(5240, Width80)
	require.True(t, ok)
	assert.Equal(t, 3, idx)

	idx, ok = PrimaryIndex(2462, Width40)
	require.True(t, ok)
	assert.Equal(t, 1, idx)
}

func TestWidthNarrower(t *testing.T) {
	assert.Equal(t, Width160, Width320.Narrower())
	assert.Equal(t, Width160, Width80P80.Narrower())
	assert.Equal(t, Width80, Width160.Narrower())
	assert.Equal(t, Width40, Width80.Narrower())
	assert.Equal(t, Width20, Width40.Narrower())
	assert.Equal(t, Width20, Width20.Narrower())
	assert.Equal(t, 160, Width80P80.MHz())
	assert.Equal(t, "80+80", Width80P80.String())
}
