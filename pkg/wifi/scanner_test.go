package wifi

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markus-lassfolk/acsd/pkg/logx"
)

type fakeSource struct {
	scan      *ScanResult
	survey    *SurveyResult
	scanErr   error
	surveyErr error
}

func (f *fakeSource) Scan(ctx context.Context, device string) (*ScanResult, error) {
	return f.scan, f.scanErr
}

func (f *fakeSource) Survey(ctx context.Context, device string) (*SurveyResult, error) {
	return f.survey, f.surveyErr
}

func TestRateChannels(t *testing.T) {
	src := &fakeSource{
		scan: &ScanResult{Results: []AccessPoint{
			{SSID: "near", Channel: 1, Signal: -55},
			{SSID: "far", Frequency: 2437, Signal: -85},
		}},
		survey: &SurveyResult{Survey: []SurveyItem{
			{Frequency: 2462, ActiveTime: 100, BusyTime: 50},
		}},
	}
	s := NewScanner(src, logx.NewLogger("error", "test"))

	ratings, err := s.RateChannels(context.Background(), "wlan0", []uint32{2412, 2437, 2462})
	require.NoError(t, err)
	require.Len(t, ratings, 3)

	assert.Equal(t, uint32(2437), ratings[0].Freq)
	assert.Equal(t, 95, ratings[0].RawScore)
	assert.Equal(t, 5, ratings[0].Stars)

	assert.Equal(t, uint32(2412), ratings[1].Freq)
	assert.Equal(t, 70, ratings[1].RawScore)
	assert.Equal(t, 1, ratings[1].APCount)

	assert.Equal(t, uint32(2462), ratings[2].Freq)
	assert.Equal(t, 50, ratings[2].UtilizationPenalty)
}

func TestRateChannelsOverlap(t *testing.T) {
	src := &fakeSource{
		scan: &ScanResult{Results: []AccessPoint{
			{Frequency: 5200, Signal: -65, HTMode: "VHT80"},
		}},
		surveyErr: errors.New("no survey"),
	}
	s := NewScanner(src, logx.NewLogger("error", "test"))

	ratings, err := s.RateChannels(context.Background(), "wlan1", []uint32{5180, 5745})
	require.NoError(t, err)

	assert.Equal(t, uint32(5745), ratings[0].Freq)
	assert.Equal(t, 100, ratings[0].RawScore)
	assert.Equal(t, uint32(5180), ratings[1].Freq)
	assert.Equal(t, 10, ratings[1].OverlapPenalty)
}

func TestRateChannelsScanError(t *testing.T) {
	s := NewScanner(&fakeSource{scanErr: errors.New("busy")}, logx.NewLogger("error", "test"))
	_, err := s.RateChannels(context.Background(), "wlan0", []uint32{2412})
	assert.Error(t, err)
}

func TestAPWidth(t *testing.T) {
	assert.Equal(t, 40, apWidth(AccessPoint{HTMode: "HT40"}))
	assert.Equal(t, 160, apWidth(AccessPoint{HTMode: "HE160"}))
	assert.Equal(t, 320, apWidth(AccessPoint{HTMode: "EHT320"}))
	assert.Equal(t, 80, apWidth(AccessPoint{HTMode: "HT20", Bandwidth: 80}))
	assert.Equal(t, 20, apWidth(AccessPoint{}))
}
