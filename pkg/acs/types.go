package acs

import (
	"fmt"
	"strings"

	"github.com/markus-lassfolk/acsd/pkg/wifi"
)

// HwMode is the PHY mode of a request. The first four values are what a
// caller may ask for; the rest are produced by range resolution when the
// HT/VHT/HE/EHT flags upgrade the mode.
type HwMode int

const (
	HwModeB HwMode = iota
	HwModeG
	HwModeA
	HwModeAny
	HwMode11N
	HwMode11AC
	HwMode11AX
	HwMode11BE
)

var hwModeNames = map[HwMode]string{
	HwModeB:    "11b",
	HwModeG:    "11g",
	HwModeA:    "11a",
	HwModeAny:  "any",
	HwMode11N:  "11n",
	HwMode11AC: "11ac",
	HwMode11AX: "11ax",
	HwMode11BE: "11be",
}

func (m HwMode) String() string {
	if s, ok := hwModeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("hwmode(%d)", int(m))
}

// Legacy reports whether m is one of the request-level modes
func (m HwMode) Legacy() bool {
	return m >= HwModeB && m <= HwModeAny
}

// ParseHwMode accepts "b", "g", "a", "any" and the 11x spellings
func ParseHwMode(s string) (HwMode, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	switch v {
	case "b":
		return HwModeB, nil
	case "g":
		return HwModeG, nil
	case "a":
		return HwModeA, nil
	case "", "all":
		return HwModeAny, nil
	}
	for m, name := range hwModeNames {
		if name == v {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown hw_mode %q", s)
}

func (m HwMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *HwMode) UnmarshalText(text []byte) error {
	parsed, err := ParseHwMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// BandFilter restricts which band a selection may land on
type BandFilter int

const (
	BandFilterAll BandFilter = iota
	BandFilter2G
	BandFilter5G
)

func (b BandFilter) String() string {
	switch b {
	case BandFilter2G:
		return "2G"
	case BandFilter5G:
		return "5G"
	default:
		return "ALL"
	}
}

// PCLEntry is one weighted entry of a preferred channel list
type PCLEntry struct {
	Freq   uint32 `json:"freq"`
	Weight uint8  `json:"weight"`
}

// Selection is the final channel of a completed request
type Selection struct {
	Primary        uint32     `json:"primary_freq"`
	Secondary      uint32     `json:"secondary_freq"`
	Seg0           uint32     `json:"seg0_center_freq"`
	Seg1           uint32     `json:"seg1_center_freq"`
	Width          wifi.Width `json:"width"`
	PunctureBitmap uint16     `json:"puncture_bitmap,omitempty"`
}

// AcsConfig is the working state of one selection cycle on one interface.
// The engine owns it exclusively between request and result.
type AcsConfig struct {
	HwMode         HwMode
	ResolvedMode   HwMode
	BandFilter     BandFilter
	RequestedWidth wifi.Width
	Width          wifi.Width

	IsHT   bool
	IsHT40 bool
	IsVHT  bool
	IsHE   bool
	IsEHT  bool

	Candidates []uint32
	Master     []uint32
	PCL        []PCLEntry
	ReportPCL  []PCLEntry

	StartFreq uint32
	EndFreq   uint32

	RequestedPuncture  uint16
	PunctureApplicable bool

	Selected *Selection
}

// Clone returns a deep copy; slices are never shared between configs.
func (c *AcsConfig) Clone() *AcsConfig {
	if c == nil {
		return nil
	}
	out := *c
	out.Candidates = cloneFreqs(c.Candidates)
	out.Master = cloneFreqs(c.Master)
	out.PCL = clonePCL(c.PCL)
	out.ReportPCL = clonePCL(c.ReportPCL)
	if c.Selected != nil {
		sel := *c.Selected
		out.Selected = &sel
	}
	return &out
}

// ConnectionMode is the role of an active connection
type ConnectionMode int

const (
	ModeSTA ConnectionMode = iota
	ModeSAP
	ModeP2PGO
	ModeP2PClient
)

func (m ConnectionMode) String() string {
	switch m {
	case ModeSAP:
		return "sap"
	case ModeP2PGO:
		return "p2p-go"
	case ModeP2PClient:
		return "p2p-client"
	default:
		return "sta"
	}
}

// IsAP reports whether the connection beacons as an access point
func (m ConnectionMode) IsAP() bool {
	return m == ModeSAP || m == ModeP2PGO
}

// ParseConnectionMode accepts sta, sap/ap, p2p-go/go and p2p-client
func ParseConnectionMode(s string) (ConnectionMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sta", "station":
		return ModeSTA, nil
	case "sap", "ap":
		return ModeSAP, nil
	case "p2p-go", "go":
		return ModeP2PGO, nil
	case "p2p-client", "p2p-cli":
		return ModeP2PClient, nil
	}
	return 0, fmt.Errorf("unknown connection mode %q", s)
}

func (m ConnectionMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *ConnectionMode) UnmarshalText(text []byte) error {
	parsed, err := ParseConnectionMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Connection is one active link as seen by the concurrency policy. The
// channelization fields are the peer's declared parameters; zero means
// undeclared.
type Connection struct {
	Iface     string         `json:"iface"`
	Mode      ConnectionMode `json:"mode"`
	Freq      uint32         `json:"freq"`
	MacID     int            `json:"mac_id"`
	IsDFS     bool           `json:"is_dfs"`
	Secondary uint32         `json:"secondary_freq,omitempty"`
	Seg0      uint32         `json:"seg0_center_freq,omitempty"`
	Seg1      uint32         `json:"seg1_center_freq,omitempty"`
	Width     wifi.Width     `json:"width,omitempty"`
}

// ConnectionSnapshot is an immutable view of active connections
type ConnectionSnapshot struct {
	Connections []Connection `json:"connections"`
}

// Result is what a completed selection reports to the caller
type Result struct {
	Iface          string     `json:"iface"`
	Seq            uint64     `json:"seq"`
	JobID          string     `json:"job_id,omitempty"`
	Primary        uint32     `json:"primary_freq"`
	Secondary      uint32     `json:"secondary_freq"`
	Seg0           uint32     `json:"seg0_center_freq"`
	Seg1           uint32     `json:"seg1_center_freq"`
	Width          int        `json:"width"`
	ChannelWidth   wifi.Width `json:"channel_width"`
	HwMode         HwMode     `json:"hw_mode"`
	PunctureBitmap *uint16    `json:"puncture_bitmap,omitempty"`
	Path           string     `json:"path"`
	Fallback       bool       `json:"fallback"`
	Reason         string     `json:"reason,omitempty"`
	ReportPCL      []PCLEntry `json:"pcl,omitempty"`

	// Request is the DO_ACS request this result answers
	Request *Request `json:"request,omitempty"`
}

// Completion paths reported in Result.Path
const (
	PathFastPath = "fast_path"
	PathOverride = "override"
	PathScan     = "scan"
	PathExternal = "external"
	PathTimeout  = "timeout"
	PathFailed   = "selector_failed"
)

func cloneFreqs(in []uint32) []uint32 {
	if in == nil {
		return nil
	}
	out := make([]uint32, len(in))
	copy(out, in)
	return out
}

func clonePCL(in []PCLEntry) []PCLEntry {
	if in == nil {
		return nil
	}
	out := make([]PCLEntry, len(in))
	copy(out, in)
	return out
}

func containsFreq(list []uint32, freq uint32) bool {
	for _, f := range list {
		if f == freq {
			return true
		}
	}
	return false
}
