package regdomain

import (
	"sync"

	"github.com/markus-lassfolk/acsd/pkg/acs"
	"github.com/markus-lassfolk/acsd/pkg/wifi"
)

// StaticCapabilities reports configured PHY capabilities
type StaticCapabilities struct {
	mu    sync.RWMutex
	mode  acs.FirmwareMode
	masks map[acs.FirmwareMode]acs.WidthMask
	he    bool
}

// NewStaticCapabilities creates a capability provider. nonDBS and dbs list
// the wide widths (160, 80+80, 320) each firmware mode supports.
func NewStaticCapabilities(mode acs.FirmwareMode, nonDBS, dbs []wifi.Width, he bool) *StaticCapabilities {
	return &StaticCapabilities{
		mode: mode,
		masks: map[acs.FirmwareMode]acs.WidthMask{
			acs.FirmwareNonDBS: acs.MaskFor(nonDBS...),
			acs.FirmwareDBS:    acs.MaskFor(dbs...),
		},
		he: he,
	}
}

func (c *StaticCapabilities) ActiveFirmwareMode() acs.FirmwareMode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode
}

// SetFirmwareMode switches between DBS and non-DBS operation
func (c *StaticCapabilities) SetFirmwareMode(mode acs.FirmwareMode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = mode
}

// WidthCapability masks out widths the band cannot carry: nothing wide in
// 2.4 GHz, 320 MHz only in 6 GHz.
func (c *StaticCapabilities) WidthCapability(mode acs.FirmwareMode, band wifi.Band) acs.WidthMask {
	c.mu.RLock()
	m := c.masks[mode]
	c.mu.RUnlock()

	switch band {
	case wifi.Band2G:
		return 0
	case wifi.Band6G:
		return m
	default:
		return m &^ acs.Cap320
	}
}

func (c *StaticCapabilities) SupportsHE() bool {
	return c.he
}
