package acs

import "github.com/markus-lassfolk/acsd/pkg/wifi"

// WidthInput carries what the width negotiator looks at
type WidthInput struct {
	Requested wifi.Width
	StartFreq uint32
	EndFreq   uint32
	EHT       bool
	// Bonding24 is the administrative 40 MHz bonding switch for 2.4 GHz
	Bonding24 bool
	// Mask is the capability bitmap of the active firmware mode
	Mask WidthMask
}

// NegotiateWidth downgrades the requested width to what the range and the
// active PHY allow. Unsupported wide widths step down one level at a time
// and stop at the first supported one; 80 MHz is always supported.
func NegotiateWidth(in WidthInput) wifi.Width {
	w := in.Requested
	if w == 0 {
		w = wifi.Width20
	}
	if w == wifi.Width320 && !in.EHT {
		w = wifi.Width160
	}

	if wifi.Is2GHz(in.StartFreq) && wifi.Is2GHz(in.EndFreq) {
		return cap2G(w, in.Bonding24)
	}

	for (w == wifi.Width320 || w == wifi.Width160 || w == wifi.Width80P80) && !in.Mask.Has(w) {
		w = w.Narrower()
	}
	return w
}

func cap2G(w wifi.Width, bonding bool) wifi.Width {
	if w.MHz() > 40 {
		w = wifi.Width40
	}
	if !bonding {
		w = wifi.Width20
	}
	return w
}

// FitWidth channelizes primary at the widest width not above w whose block
// exists and whose 20 MHz members are all usable. 80+80 additionally needs a
// usable non-adjacent second segment.
func FitWidth(primary uint32, w wifi.Width, bonding24 bool, usable func(uint32) bool) wifi.Channelization {
	if wifi.Is2GHz(primary) {
		w = cap2G(w, bonding24)
	}

	for {
		if w == wifi.Width20 {
			return wifi.Channelization{Primary: primary, Seg0: primary, Width: wifi.Width20}
		}

		members, ok := wifi.BlockMembers(primary, w)
		if ok && allUsable(members, usable) {
			var seg1 uint32
			if w == wifi.Width80P80 {
				seg1, ok = wifi.Pick80P80Segment(primary, usable)
			}
			if ok {
				if ch, err := wifi.Channelize(primary, w, seg1); err == nil {
					return ch
				}
			}
		}
		w = w.Narrower()
	}
}

func allUsable(members []uint32, usable func(uint32) bool) bool {
	if usable == nil {
		return true
	}
	for _, m := range members {
		if !usable(m) {
			return false
		}
	}
	return true
}

// ApplyPuncture sets the puncture bitmap on sel. Puncturing is applicable
// only with EHT at 80 MHz or wider; bits beyond the channel and the bit of
// the primary subchannel are cleared. Bit 0 is the lowest 20 MHz subchannel.
func ApplyPuncture(sel *Selection, requested uint16, eht bool) bool {
	applicable := eht && sel.Width.MHz() >= 80
	if !applicable {
		sel.PunctureBitmap = 0
		return false
	}

	n := sel.Width.MHz() / 20
	mask := uint16(1<<uint(n)) - 1
	if n >= 16 {
		mask = 0xffff
	}
	bitmap := requested & mask

	idxWidth := sel.Width
	if idxWidth == wifi.Width80P80 {
		idxWidth = wifi.Width80
	}
	if idx, ok := wifi.PrimaryIndex(sel.Primary, idxWidth); ok {
		if sel.Width == wifi.Width80P80 && sel.Seg1 < sel.Seg0 {
			idx += 4
		}
		bitmap &^= 1 << uint(idx)
	}
	sel.PunctureBitmap = bitmap
	return true
}
