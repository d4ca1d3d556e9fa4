package acs

import "github.com/markus-lassfolk/acsd/pkg/wifi"

// ChannelState is the regulatory state of a 20 MHz channel
type ChannelState int

const (
	ChannelEnabled ChannelState = iota
	ChannelDisabled
	ChannelDFS
	ChannelInvalid
)

func (s ChannelState) String() string {
	switch s {
	case ChannelEnabled:
		return "enabled"
	case ChannelDisabled:
		return "disabled"
	case ChannelDFS:
		return "dfs"
	default:
		return "invalid"
	}
}

// Usable reports whether an AP may operate on the channel
func (s ChannelState) Usable() bool {
	return s == ChannelEnabled || s == ChannelDFS
}

// Regulatory answers channel-state questions
type Regulatory interface {
	IsDFS(freq uint32) bool
	Is6GHzPSC(freq uint32) bool
	ChannelState(freq uint32) ChannelState
}

// Policy is the concurrency and PCL provider
type Policy interface {
	GetPCL(mode ConnectionMode) []PCLEntry
	ConnectionSnapshot() ConnectionSnapshot
	IsForceSameChannel() bool
	IsSafeChannel(freq uint32) bool
}

// FirmwareMode is the active firmware HW mode
type FirmwareMode int

const (
	FirmwareNonDBS FirmwareMode = iota
	FirmwareDBS
)

func (m FirmwareMode) String() string {
	if m == FirmwareDBS {
		return "dbs"
	}
	return "non-dbs"
}

// WidthMask is a bitmap of wide channel widths a PHY supports.
// 20/40/80 MHz are always assumed supported.
type WidthMask uint8

const (
	Cap160 WidthMask = 1 << iota
	Cap80P80
	Cap320
)

// Has reports whether w is advertised
func (m WidthMask) Has(w wifi.Width) bool {
	switch w {
	case wifi.Width160:
		return m&Cap160 != 0
	case wifi.Width80P80:
		return m&Cap80P80 != 0
	case wifi.Width320:
		return m&Cap320 != 0
	}
	return true
}

// MaskFor builds a mask from a list of widths
func MaskFor(widths ...wifi.Width) WidthMask {
	var m WidthMask
	for _, w := range widths {
		switch w {
		case wifi.Width160:
			m |= Cap160
		case wifi.Width80P80:
			m |= Cap80P80
		case wifi.Width320:
			m |= Cap320
		}
	}
	return m
}

// Capabilities is the firmware capability provider
type Capabilities interface {
	ActiveFirmwareMode() FirmwareMode
	WidthCapability(mode FirmwareMode, band wifi.Band) WidthMask
	SupportsHE() bool
}
