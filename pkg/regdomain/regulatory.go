package regdomain

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/markus-lassfolk/acsd/pkg/acs"
	"github.com/markus-lassfolk/acsd/pkg/wifi"
)

// DefaultNOLDuration is how long a channel stays unusable after radar
const DefaultNOLDuration = 30 * time.Minute

// Regulatory domains
const (
	DomainFCC   = "FCC"
	DomainETSI  = "ETSI"
	DomainOther = "OTHER"
)

var etsiCountries = map[string]bool{
	"AT": true, "BE": true, "BG": true, "CH": true, "CY": true, "CZ": true, "DE": true,
	"DK": true, "EE": true, "ES": true, "FI": true, "FR": true, "GB": true, "GR": true,
	"HR": true, "HU": true, "IE": true, "IS": true, "IT": true, "LI": true, "LT": true,
	"LU": true, "LV": true, "MT": true, "NL": true, "NO": true, "PL": true, "PT": true,
	"RO": true, "SE": true, "SI": true, "SK": true,
}

var fccCountries = map[string]bool{
	"US": true, "CA": true, "TW": true, "PR": true, "MX": true, "BR": true,
}

// DomainForCountry maps an ISO country code to its DFS domain
func DomainForCountry(country string) string {
	c := strings.ToUpper(strings.TrimSpace(country))
	switch {
	case fccCountries[c]:
		return DomainFCC
	case etsiCountries[c]:
		return DomainETSI
	}
	return DomainOther
}

// channel ranges (inclusive, channel numbers) permitted per domain and band
type chanRange struct{ lo, hi int }

var domainChannels = map[string]map[wifi.Band][]chanRange{
	DomainFCC: {
		wifi.Band2G: {{1, 11}},
		wifi.Band5G: {{36, 165}},
		wifi.Band6G: {{1, 233}},
	},
	DomainETSI: {
		wifi.Band2G: {{1, 13}},
		wifi.Band5G: {{36, 140}},
		wifi.Band6G: {{1, 93}},
	},
	DomainOther: {
		wifi.Band2G: {{1, 11}},
		wifi.Band5G: {{36, 48}, {149, 165}},
	},
}

// Regulatory is a table-driven channel-state provider
type Regulatory struct {
	mu       sync.RWMutex
	country  string
	domain   string
	allowDFS bool
	disabled map[uint32]bool

	// non-occupancy list: radar channels and when they become usable again
	nol         map[uint32]time.Time
	nolDuration time.Duration
	now         func() time.Time
}

// NewRegulatory creates the provider for a country. Frequencies in disabled
// are reported as disabled regardless of the domain table.
func NewRegulatory(country string, allowDFS bool, disabled []uint32) *Regulatory {
	r := &Regulatory{
		country:  strings.ToUpper(country),
		domain:   DomainForCountry(country),
		allowDFS: allowDFS,
		disabled: make(map[uint32]bool, len(disabled)),

		nol:         make(map[uint32]time.Time),
		nolDuration: DefaultNOLDuration,
		now:         time.Now,
	}
	for _, f := range disabled {
		r.disabled[f] = true
	}
	return r
}

// Country returns the configured country and domain
func (r *Regulatory) Country() (string, string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.country, r.domain
}

// SetCountry switches the active country
func (r *Regulatory) SetCountry(country string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.country = strings.ToUpper(country)
	r.domain = DomainForCountry(country)
}

// SetDisabled replaces the administratively disabled set
func (r *Regulatory) SetDisabled(freqs []uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disabled = make(map[uint32]bool, len(freqs))
	for _, f := range freqs {
		r.disabled[f] = true
	}
}

// SetNOLDuration changes the hold-off applied by later MarkRadar calls
func (r *Regulatory) SetNOLDuration(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d > 0 {
		r.nolDuration = d
	}
}

// MarkRadar puts freq on the non-occupancy list. It is reported disabled
// until the hold-off expires.
func (r *Regulatory) MarkRadar(freq uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nol[freq] = r.now().Add(r.nolDuration)
}

// NonOccupancy returns the radar channels still on hold and their expiry
func (r *Regulatory) NonOccupancy() map[uint32]time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	out := make(map[uint32]time.Time, len(r.nol))
	for f, until := range r.nol {
		if !now.Before(until) {
			delete(r.nol, f)
			continue
		}
		out[f] = until
	}
	return out
}

func (r *Regulatory) IsDFS(freq uint32) bool {
	return wifi.IsDefaultDFS(freq)
}

func (r *Regulatory) Is6GHzPSC(freq uint32) bool {
	return wifi.Is6GHzPSC(freq)
}

func (r *Regulatory) ChannelState(freq uint32) acs.ChannelState {
	band := wifi.BandOf(freq)
	if band == wifi.BandUnknown || !wifi.OnChannelGrid(freq) {
		return acs.ChannelInvalid
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.disabled[freq] || !r.permitted(band, wifi.FreqToChannel(freq)) {
		return acs.ChannelDisabled
	}
	if until, ok := r.nol[freq]; ok && r.now().Before(until) {
		return acs.ChannelDisabled
	}
	if wifi.IsDefaultDFS(freq) {
		if !r.allowDFS {
			return acs.ChannelDisabled
		}
		return acs.ChannelDFS
	}
	return acs.ChannelEnabled
}

func (r *Regulatory) permitted(band wifi.Band, channel int) bool {
	for _, cr := range domainChannels[r.domain][band] {
		if channel >= cr.lo && channel <= cr.hi {
			return true
		}
	}
	return false
}

// ParseRegGet extracts the country and DFS domain from `iw reg get` output
func ParseRegGet(output string) (country, domain string) {
	for _, line := range strings.Split(output, "\n") {
		line = strings.ToUpper(strings.TrimSpace(line))
		if !strings.HasPrefix(line, "COUNTRY ") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 2 || parts[1] == "00:" {
			// world domain, a phy section usually follows
			continue
		}
		country = strings.TrimSuffix(parts[1], ":")
		switch {
		case strings.Contains(line, "DFS-ETSI"):
			domain = DomainETSI
		case strings.Contains(line, "DFS-FCC"):
			domain = DomainFCC
		default:
			domain = DomainOther
		}
		break
	}
	if country == "" {
		country = "US"
	}
	if domain == "" {
		domain = DomainOther
	}
	return country, domain
}

// DetectCountry asks the kernel for the current regulatory country
func DetectCountry(ctx context.Context) (string, error) {
	output, err := exec.CommandContext(ctx, "iw", "reg", "get").Output()
	if err != nil {
		return "", fmt.Errorf("failed to get regulatory domain: %w", err)
	}
	country, _ := ParseRegGet(string(output))
	return country, nil
}
