package regdomain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markus-lassfolk/acsd/pkg/acs"
	"github.com/markus-lassfolk/acsd/pkg/wifi"
)

var (
	_ acs.Regulatory   = (*Regulatory)(nil)
	_ acs.Policy       = (*StaticPolicy)(nil)
	_ acs.Capabilities = (*StaticCapabilities)(nil)
)

func TestDomainForCountry(t *testing.T) {
	assert.Equal(t, DomainFCC, DomainForCountry("us"))
	assert.Equal(t, DomainETSI, DomainForCountry("SE"))
	assert.Equal(t, DomainETSI, DomainForCountry(" de "))
	assert.Equal(t, DomainOther, DomainForCountry("JP"))
	assert.Equal(t, DomainOther, DomainForCountry(""))
}

func TestChannelStateByDomain(t *testing.T) {
	tests := []struct {
		name    string
		country string
		dfs     bool
		freq    uint32
		want    acs.ChannelState
	}{
		{"fcc ch1", "US", true, 2412, acs.ChannelEnabled},
		{"fcc ch13 not permitted", "US", true, 2472, acs.ChannelDisabled},
		{"etsi ch13", "SE", true, 2472, acs.ChannelEnabled},
		{"fcc ch36", "US", true, 5180, acs.ChannelEnabled},
		{"fcc ch100 dfs", "US", true, 5500, acs.ChannelDFS},
		{"fcc ch100 dfs disallowed", "US", false, 5500, acs.ChannelDisabled},
		{"etsi ch149 not permitted", "SE", true, 5745, acs.ChannelDisabled},
		{"other ch149", "JP", true, 5745, acs.ChannelEnabled},
		{"other ch52 not permitted", "JP", true, 5260, acs.ChannelDisabled},
		{"fcc 6ghz ch5", "US", true, 5975, acs.ChannelEnabled},
		{"other 6ghz", "JP", true, 5975, acs.ChannelDisabled},
		{"not wifi", "US", true, 3000, acs.ChannelInvalid},
		{"off grid 5ghz", "US", true, 5181, acs.ChannelInvalid},
		{"below 6ghz ch1", "US", true, 5940, acs.ChannelInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegulatory(tt.country, tt.dfs, nil)
			assert.Equal(t, tt.want, r.ChannelState(tt.freq))
		})
	}
}

func TestRegulatoryDisabledList(t *testing.T) {
	r := NewRegulatory("US", true, []uint32{5180})
	assert.Equal(t, acs.ChannelDisabled, r.ChannelState(5180))
	assert.Equal(t, acs.ChannelEnabled, r.ChannelState(5200))

	r.SetDisabled(nil)
	assert.Equal(t, acs.ChannelEnabled, r.ChannelState(5180))

	r.SetCountry("se")
	country, domain := r.Country()
	assert.Equal(t, "SE", country)
	assert.Equal(t, DomainETSI, domain)

	assert.True(t, r.IsDFS(5500))
	assert.False(t, r.IsDFS(5180))
	assert.True(t, r.Is6GHzPSC(5975))
}

func TestRadarNonOccupancy(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := NewRegulatory("US", true, nil)
	r.now = func() time.Time { return now }
	r.SetNOLDuration(10 * time.Minute)

	r.MarkRadar(5500)
	assert.Equal(t, acs.ChannelDisabled, r.ChannelState(5500))
	assert.Equal(t, acs.ChannelDFS, r.ChannelState(5520))
	require.Contains(t, r.NonOccupancy(), uint32(5500))

	now = now.Add(9 * time.Minute)
	assert.Equal(t, acs.ChannelDisabled, r.ChannelState(5500))

	now = now.Add(time.Minute)
	assert.Equal(t, acs.ChannelDFS, r.ChannelState(5500))
	assert.Empty(t, r.NonOccupancy())
}

func TestParseRegGet(t *testing.T) {
	output := `global
country 00: DFS-UNSET
	(2402 - 2472 @ 40), (6, 20), (N/A)

phy#0
country SE: DFS-ETSI
	(2400 - 2483 @ 40), (N/A, 20), (N/A)
	(5150 - 5250 @ 80), (N/A, 23), (N/A), NO-OUTDOOR
`
	country, domain := ParseRegGet(output)
	assert.Equal(t, "SE", country)
	assert.Equal(t, DomainETSI, domain)

	country, domain = ParseRegGet("country US: DFS-FCC\n")
	assert.Equal(t, "US", country)
	assert.Equal(t, DomainFCC, domain)

	country, domain = ParseRegGet("")
	assert.Equal(t, "US", country)
	assert.Equal(t, DomainOther, domain)
}

func TestConnectionTable(t *testing.T) {
	table := NewConnectionTable()
	require.NoError(t, table.Set(acs.Connection{Iface: "wlan1", Mode: acs.ModeSAP, Freq: 5500, IsDFS: true}))
	require.NoError(t, table.Set(acs.Connection{Iface: "wlan0", Mode: acs.ModeSTA, Freq: 2437}))

	assert.Error(t, table.Set(acs.Connection{Freq: 5180}))
	assert.Error(t, table.Set(acs.Connection{Iface: "wlan2", Freq: 1000}))

	snap := table.Snapshot()
	require.Len(t, snap.Connections, 2)
	assert.Equal(t, "wlan0", snap.Connections[0].Iface)
	assert.Equal(t, "wlan1", snap.Connections[1].Iface)

	assert.True(t, table.Remove("wlan0"))
	assert.False(t, table.Remove("wlan0"))
	assert.Len(t, table.Snapshot().Connections, 1)
}

func TestStaticPolicy(t *testing.T) {
	pcl := []acs.PCLEntry{{Freq: 5180, Weight: 100}, {Freq: 5745, Weight: 50}}
	p := NewStaticPolicy(pcl, []uint32{5745}, true, nil)

	assert.Equal(t, pcl, p.GetPCL(acs.ModeSAP))
	assert.Equal(t, pcl, p.GetPCL(acs.ModeP2PGO))
	assert.Nil(t, p.GetPCL(acs.ModeSTA))

	got := p.GetPCL(acs.ModeSAP)
	got[0].Weight = 1
	assert.Equal(t, uint8(100), p.GetPCL(acs.ModeSAP)[0].Weight, "returned slice is a copy")

	assert.True(t, p.IsForceSameChannel())
	assert.False(t, p.IsSafeChannel(5745))
	assert.True(t, p.IsSafeChannel(5180))

	p.SetUnsafe(nil)
	assert.True(t, p.IsSafeChannel(5745))

	require.NoError(t, p.Table().Set(acs.Connection{Iface: "p2p0", Mode: acs.ModeP2PGO, Freq: 5180}))
	assert.Len(t, p.ConnectionSnapshot().Connections, 1)
}

func TestStaticCapabilities(t *testing.T) {
	c := NewStaticCapabilities(acs.FirmwareNonDBS,
		[]wifi.Width{wifi.Width160, wifi.Width80P80, wifi.Width320},
		nil, true)

	assert.True(t, c.SupportsHE())
	assert.Equal(t, acs.FirmwareNonDBS, c.ActiveFirmwareMode())

	m := c.WidthCapability(acs.FirmwareNonDBS, wifi.Band6G)
	assert.True(t, m.Has(wifi.Width320))

	m = c.WidthCapability(acs.FirmwareNonDBS, wifi.Band5G)
	assert.True(t, m.Has(wifi.Width160))
	assert.False(t, m.Has(wifi.Width320), "320 MHz only exists in 6 GHz")

	c.SetFirmwareMode(acs.FirmwareDBS)
	assert.Equal(t, acs.FirmwareDBS, c.ActiveFirmwareMode())
	m = c.WidthCapability(c.ActiveFirmwareMode(), wifi.Band5G)
	assert.False(t, m.Has(wifi.Width160))
	assert.True(t, m.Has(wifi.Width80))
}
