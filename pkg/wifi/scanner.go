package wifi

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"time"

	"github.com/markus-lassfolk/acsd/pkg/logx"
)

// AccessPoint is a neighbouring BSS from an iwinfo scan
type AccessPoint struct {
	SSID      string `json:"ssid"`
	BSSID     string `json:"bssid"`
	Channel   int    `json:"channel"`
	Signal    int    `json:"signal"` // dBm (negative)
	HTMode    string `json:"htmode"` // "HT20","HT40","VHT80","HE80"...
	Bandwidth int    `json:"bandwidth,omitempty"`
	Frequency uint32 `json:"frequency"`
}

// ScanResult contains scan results from ubus
type ScanResult struct {
	Results []AccessPoint `json:"results"`
}

// SurveyItem represents channel utilization data
type SurveyItem struct {
	Frequency  uint32 `json:"frequency"`
	Channel    int    `json:"channel"`
	Noise      int    `json:"noise"`
	ActiveTime int64  `json:"active_time"`
	BusyTime   int64  `json:"busy_time"`
}

// SurveyResult contains survey results from ubus
type SurveyResult struct {
	Survey []SurveyItem `json:"survey"`
}

// ScanSource collects raw measurements for a radio
type ScanSource interface {
	Scan(ctx context.Context, device string) (*ScanResult, error)
	Survey(ctx context.Context, device string) (*SurveyResult, error)
}

// ChannelRating is the interference score of one candidate frequency
type ChannelRating struct {
	Freq               uint32  `json:"freq"`
	Channel            int     `json:"channel"`
	APCount            int     `json:"ap_count"`
	CoChannelPenalty   int     `json:"co_channel_penalty"`
	OverlapPenalty     int     `json:"overlap_penalty"`
	UtilizationPenalty int     `json:"utilization_penalty"`
	Utilization        float64 `json:"utilization"` // 0-1
	RawScore           int     `json:"raw_score"`   // 0-100
	Stars              int     `json:"stars"`       // 1-5
}

// Scanner rates candidate frequencies from scan and survey data
type Scanner struct {
	source ScanSource
	logger *logx.Logger
}

// NewScanner creates a scanner. A nil source uses ubus iwinfo.
func NewScanner(source ScanSource, logger *logx.Logger) *Scanner {
	if source == nil {
		source = &UbusSource{ScanTimeout: 30 * time.Second}
	}
	return &Scanner{source: source, logger: logger}
}

// RateChannels scores every candidate, best first. Ties keep candidate order.
func (s *Scanner) RateChannels(ctx context.Context, device string, candidates []uint32) ([]ChannelRating, error) {
	s.logger.Info("Starting channel scan", "device", device, "candidates", len(candidates))

	scan, err := s.source.Scan(ctx, device)
	if err != nil {
		return nil, fmt.Errorf("failed to perform scan: %w", err)
	}

	utilization := make(map[uint32]float64)
	survey, err := s.source.Survey(ctx, device)
	if err != nil {
		s.logger.Warn("Channel utilization not available, using AP-based scoring only", "error", err)
	} else {
		for _, item := range survey.Survey {
			freq := item.Frequency
			if freq == 0 {
				freq = ChannelToFreqAny(item.Channel)
			}
			if item.ActiveTime > 0 {
				utilization[freq] = float64(item.BusyTime) / float64(item.ActiveTime)
			}
		}
	}

	ratings := make([]ChannelRating, 0, len(candidates))
	for _, freq := range candidates {
		ratings = append(ratings, s.scoreChannel(freq, scan.Results, utilization[freq]))
	}

	sort.SliceStable(ratings, func(i, j int) bool {
		return ratings[i].RawScore > ratings[j].RawScore
	})

	if len(ratings) > 0 {
		s.logger.Info("Channel scan completed",
			"device", device,
			"aps_found", len(scan.Results),
			"best_freq", ratings[0].Freq,
			"best_score", ratings[0].RawScore,
			"best_stars", ratings[0].Stars)
	}
	return ratings, nil
}

// scoreChannel computes S = 100 - (P_co + P_ol + P_util)
func (s *Scanner) scoreChannel(freq uint32, aps []AccessPoint, utilization float64) ChannelRating {
	rating := ChannelRating{Freq: freq, Channel: FreqToChannel(freq), Utilization: utilization}

	for _, ap := range aps {
		apFreq := apFrequency(ap)
		if apFreq == 0 {
			continue
		}
		weight := rssiWeight(ap.Signal)
		if apFreq == freq {
			rating.APCount++
			rating.CoChannelPenalty += weight
			continue
		}
		if overlaps(freq, apFreq, apWidth(ap)) {
			rating.OverlapPenalty += weight / 2
		}
	}

	if utilization > 0 {
		rating.UtilizationPenalty = int(100 * utilization)
	}

	score := 100 - (rating.CoChannelPenalty + rating.OverlapPenalty + rating.UtilizationPenalty)
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	rating.RawScore = score
	rating.Stars = scoreToStars(score)
	return rating
}

func rssiWeight(rssi int) int {
	switch {
	case rssi >= -60:
		return 30
	case rssi >= -70:
		return 20
	case rssi >= -80:
		return 10
	default:
		return 5
	}
}

// overlaps reports whether a neighbour of the given width centred near apFreq
// spills into the 20 MHz channel at freq.
func overlaps(freq, apFreq uint32, width int) bool {
	if BandOf(freq) != BandOf(apFreq) {
		return false
	}
	if Is2GHz(freq) {
		// 2.4 GHz channels are 22 MHz wide on a 5 MHz raster
		span := uint32(20)
		if width >= 40 {
			span = 40
		}
		return distance(freq, apFreq) < span
	}
	half := uint32(width / 2)
	if half < 10 {
		half = 10
	}
	return distance(freq, apFreq) < half+10
}

func apFrequency(ap AccessPoint) uint32 {
	if ap.Frequency != 0 {
		return ap.Frequency
	}
	return ChannelToFreqAny(ap.Channel)
}

func apWidth(ap AccessPoint) int {
	if ap.Bandwidth != 0 {
		return ap.Bandwidth
	}
	switch ap.HTMode {
	case "HT40", "VHT40", "HE40", "EHT40":
		return 40
	case "VHT80", "HE80", "EHT80":
		return 80
	case "VHT160", "HE160", "EHT160":
		return 160
	case "EHT320":
		return 320
	default:
		return 20
	}
}

func scoreToStars(score int) int {
	switch {
	case score >= 90:
		return 5
	case score >= 75:
		return 4
	case score >= 50:
		return 3
	case score >= 25:
		return 2
	default:
		return 1
	}
}

// UbusSource runs `ubus call iwinfo scan|survey`
type UbusSource struct {
	ScanTimeout time.Duration
}

func (u *UbusSource) Scan(ctx context.Context, device string) (*ScanResult, error) {
	output, err := u.call(ctx, "scan", device, u.timeout())
	if err != nil {
		return nil, fmt.Errorf("ubus scan failed: %w", err)
	}
	var result ScanResult
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, fmt.Errorf("failed to parse scan results: %w", err)
	}
	return &result, nil
}

func (u *UbusSource) Survey(ctx context.Context, device string) (*SurveyResult, error) {
	output, err := u.call(ctx, "survey", device, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("ubus survey failed: %w", err)
	}
	var result SurveyResult
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, fmt.Errorf("failed to parse survey results: %w", err)
	}
	return &result, nil
}

func (u *UbusSource) timeout() time.Duration {
	if u.ScanTimeout <= 0 {
		return 30 * time.Second
	}
	return u.ScanTimeout
}

func (u *UbusSource) call(ctx context.Context, method, device string, timeout time.Duration) ([]byte, error) {
	secs := int(timeout / time.Second)
	if secs < 1 {
		secs = 1
	}
	arg, err := json.Marshal(map[string]string{"device": device})
	if err != nil {
		return nil, err
	}
	cmd := exec.CommandContext(ctx, "ubus", "-S", "-t", strconv.Itoa(secs), "call", "iwinfo", method, string(arg))
	return cmd.Output()
}
