package wifi

import (
	"fmt"
	"sort"
)

// Band identifies the RF band a frequency belongs to
type Band int

const (
	BandUnknown Band = iota
	Band2G
	Band5G
	Band6G
)

func (b Band) String() string {
	switch b {
	case Band2G:
		return "2.4GHz"
	case Band5G:
		return "5GHz"
	case Band6G:
		return "6GHz"
	default:
		return "unknown"
	}
}

// Band edges in MHz for the 20 MHz channel centers handled here
const (
	Freq2GMin = 2412
	Freq2GMax = 2484
	Freq5GMin = 5180
	Freq5GMax = 5885
	Freq6GMin = 5935
	Freq6GMax = 7115

	freq2GCh14  = 2484
	freq2GBase  = 2407
	freq5GBase  = 5000
	freq6GBase  = 5950
	freq6GCh2   = 5935
	max6GChan   = 233
	pscSpacing  = 16
	pscFirstOff = 5
)

// Width is a channel width. Values are MHz except Width80P80.
type Width int

const (
	Width20    Width = 20
	Width40    Width = 40
	Width80    Width = 80
	Width160   Width = 160
	Width320   Width = 320
	Width80P80 Width = 8080
)

// MHz returns the occupied bandwidth
func (w Width) MHz() int {
	if w == Width80P80 {
		return 160
	}
	return int(w)
}

func (w Width) String() string {
	if w == Width80P80 {
		return "80+80"
	}
	return fmt.Sprintf("%d", int(w))
}

// Valid reports whether w is one of the defined widths
func (w Width) Valid() bool {
	switch w {
	case Width20, Width40, Width80, Width160, Width320, Width80P80:
		return true
	}
	return false
}

// Narrower returns the next width down: 320->160, 80+80->160, 160->80, 80->40, 40->20.
func (w Width) Narrower() Width {
	switch w {
	case Width320, Width80P80:
		return Width160
	case Width160:
		return Width80
	case Width80:
		return Width40
	default:
		return Width20
	}
}

// ParseWidth accepts "20", "40", "80", "160", "320" and "80+80"
func ParseWidth(s string) (Width, error) {
	switch s {
	case "20":
		return Width20, nil
	case "40":
		return Width40, nil
	case "80":
		return Width80, nil
	case "160":
		return Width160, nil
	case "320":
		return Width320, nil
	case "80+80", "8080":
		return Width80P80, nil
	}
	return 0, fmt.Errorf("unknown channel width %q", s)
}

// BandOf classifies a center frequency
func BandOf(freq uint32) Band {
	switch {
	case freq >= Freq2GMin && freq <= Freq2GMax:
		return Band2G
	case freq >= Freq5GMin && freq <= Freq5GMax:
		return Band5G
	case freq >= Freq6GMin && freq <= Freq6GMax:
		return Band6G
	}
	return BandUnknown
}

func Is2GHz(freq uint32) bool { return BandOf(freq) == Band2G }

func Is6GHz(freq uint32) bool { return BandOf(freq) == Band6G }

// FreqToChannel returns the IEEE channel number, or 0 for frequencies that
// are outside every band or off the 5 MHz channel grid
func FreqToChannel(freq uint32) int {
	var base uint32
	switch BandOf(freq) {
	case Band2G:
		if freq == freq2GCh14 {
			return 14
		}
		base = freq2GBase
	case Band5G:
		base = freq5GBase
	case Band6G:
		if freq == freq6GCh2 {
			return 2
		}
		if freq < freq6GBase {
			return 0
		}
		base = freq6GBase
	default:
		return 0
	}
	if (freq-base)%5 != 0 {
		return 0
	}
	return int(freq-base) / 5
}

// OnChannelGrid reports whether freq is the center of a channel
func OnChannelGrid(freq uint32) bool {
	ch := FreqToChannel(freq)
	return ch != 0 && ChannelToFreq(ch, BandOf(freq)) == freq
}

// ChannelToFreq converts a channel number in a band to its center frequency
func ChannelToFreq(channel int, band Band) uint32 {
	if channel < 1 || channel > max6GChan {
		return 0
	}
	switch band {
	case Band2G:
		if channel == 14 {
			return freq2GCh14
		}
		if channel <= 13 {
			return uint32(freq2GBase + 5*channel)
		}
	case Band5G:
		f := uint32(freq5GBase + 5*channel)
		if BandOf(f) == Band5G {
			return f
		}
	case Band6G:
		if channel == 2 {
			return freq6GCh2
		}
		return uint32(freq6GBase + 5*channel)
	}
	return 0
}

// ChannelToFreqAny resolves a channel number the way a mixed channel list is
// interpreted: 1-14 are 2.4 GHz, everything above is 5 GHz.
func ChannelToFreqAny(channel int) uint32 {
	if channel >= 1 && channel <= 14 {
		return ChannelToFreq(channel, Band2G)
	}
	return ChannelToFreq(channel, Band5G)
}

// Is6GHzPSC reports whether freq is a 6 GHz preferred scanning channel
func Is6GHzPSC(freq uint32) bool {
	if !Is6GHz(freq) || freq == freq6GCh2 {
		return false
	}
	ch := FreqToChannel(freq)
	return ch%pscSpacing == pscFirstOff
}

// IsDefaultDFS reports whether freq lies in the 5 GHz DFS range (channels 52-144)
// used when no regulatory database overrides it.
func IsDefaultDFS(freq uint32) bool {
	return freq >= 5260 && freq <= 5720
}

// 5 GHz block start channels per width
var blockStarts5G = map[Width][]int{
	Width40:  {36, 44, 52, 60, 100, 108, 116, 124, 132, 140, 149, 157, 165, 173},
	Width80:  {36, 52, 100, 116, 132, 149, 165},
	Width160: {36, 100, 149},
}

// Channelization describes where a channel of a given width sits
type Channelization struct {
	Primary   uint32 `json:"primary_freq"`
	Secondary uint32 `json:"secondary_freq"`
	Seg0      uint32 `json:"seg0_center_freq"`
	Seg1      uint32 `json:"seg1_center_freq"`
	Width     Width  `json:"width"`
}

// BlockMembers returns the 20 MHz channel center frequencies, ascending, of the
// block of width w containing primary. For 80+80 only the primary segment is
// returned. The second return value is false when primary cannot host w.
func BlockMembers(primary uint32, w Width) ([]uint32, bool) {
	if w == Width80P80 {
		w = Width80
	}
	if w == Width20 {
		if BandOf(primary) == BandUnknown {
			return nil, false
		}
		return []uint32{primary}, true
	}

	ch := FreqToChannel(primary)
	n := w.MHz() / 20

	switch BandOf(primary) {
	case Band2G:
		if w != Width40 || ch == 14 {
			return nil, false
		}
		sec := secondary2G(primary)
		if sec < primary {
			return []uint32{sec, primary}, true
		}
		return []uint32{primary, sec}, true

	case Band5G:
		for _, start := range blockStarts5G[w] {
			end := start + 4*(n-1)
			if ch >= start && ch <= end && (ch-start)%4 == 0 {
				members := make([]uint32, 0, n)
				for c := start; c <= end; c += 4 {
					members = append(members, ChannelToFreq(c, Band5G))
				}
				return members, true
			}
		}
		return nil, false

	case Band6G:
		if freq6GCh2 == primary || (ch-1)%4 != 0 {
			return nil, false
		}
		span := 4 * n
		start := ((ch-1)/span)*span + 1
		end := start + 4*(n-1)
		if end > max6GChan {
			return nil, false
		}
		members := make([]uint32, 0, n)
		for c := start; c <= end; c += 4 {
			members = append(members, ChannelToFreq(c, Band6G))
		}
		return members, true
	}
	return nil, false
}

// CenterOf returns the center frequency of the width-w block containing primary
func CenterOf(primary uint32, w Width) (uint32, bool) {
	members, ok := BlockMembers(primary, w)
	if !ok {
		return 0, false
	}
	return (members[0] + members[len(members)-1]) / 2, true
}

// Channelize computes the secondary and segment centers of primary at width w.
// For 80+80 seg1 must be supplied by the caller (see Pick80P80Segment).
func Channelize(primary uint32, w Width, seg1 uint32) (Channelization, error) {
	c := Channelization{Primary: primary, Width: w}

	if w == Width20 {
		if BandOf(primary) == BandUnknown {
			return c, fmt.Errorf("frequency %d is not a known channel", primary)
		}
		c.Seg0 = primary
		return c, nil
	}

	seg0, ok := CenterOf(primary, w)
	if !ok {
		return c, fmt.Errorf("frequency %d cannot host a %s MHz channel", primary, w)
	}
	c.Seg0 = seg0

	if BandOf(primary) == Band2G {
		c.Secondary = secondary2G(primary)
	} else {
		pair, _ := BlockMembers(primary, Width40)
		if pair[0] == primary {
			c.Secondary = pair[1]
		} else {
			c.Secondary = pair[0]
		}
	}

	if w == Width80P80 {
		if seg1 == 0 {
			return c, fmt.Errorf("80+80 channel on %d needs a second segment", primary)
		}
		if distance(seg0, seg1) <= 80 {
			return c, fmt.Errorf("80+80 segments %d and %d are adjacent", seg0, seg1)
		}
		c.Seg1 = seg1
	}
	return c, nil
}

// Pick80P80Segment finds the center of a 5 GHz 80 MHz block to pair with the
// block holding primary. Every 20 MHz member of the candidate block must be
// accepted by allowed, and the two blocks must not be adjacent.
func Pick80P80Segment(primary uint32, allowed func(uint32) bool) (uint32, bool) {
	if BandOf(primary) != Band5G {
		return 0, false
	}
	seg0, ok := CenterOf(primary, Width80)
	if !ok {
		return 0, false
	}
	for _, start := range blockStarts5G[Width80] {
		first := ChannelToFreq(start, Band5G)
		members, ok := BlockMembers(first, Width80)
		if !ok {
			continue
		}
		center := (members[0] + members[len(members)-1]) / 2
		if distance(center, seg0) <= 80 {
			continue
		}
		usable := true
		for _, m := range members {
			if !allowed(m) {
				usable = false
				break
			}
		}
		if usable {
			return center, true
		}
	}
	return 0, false
}

// PrimaryIndex is the position of primary within its width-w block, counted
// from the lowest 20 MHz subchannel.
func PrimaryIndex(primary uint32, w Width) (int, bool) {
	members, ok := BlockMembers(primary, w)
	if !ok {
		return 0, false
	}
	idx := sort.Search(len(members), func(i int) bool { return members[i] >= primary })
	if idx == len(members) || members[idx] != primary {
		return 0, false
	}
	return idx, true
}

func secondary2G(primary uint32) uint32 {
	if FreqToChannel(primary) <= 7 {
		return primary + 20
	}
	return primary - 20
}

func distance(a, b uint32) uint32 {
	if a > b {
		return a - b
	}
	return b - a
}
