package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markus-lassfolk/acsd/pkg/acs"
	"github.com/markus-lassfolk/acsd/pkg/api"
	"github.com/markus-lassfolk/acsd/pkg/logx"
	"github.com/markus-lassfolk/acsd/pkg/regdomain"
	"github.com/markus-lassfolk/acsd/pkg/wifi"
)

func newTestClient(t *testing.T) *apiClient {
	t.Helper()
	logger := logx.NewLogger("error", "acsctl-test")

	policy := regdomain.NewStaticPolicy(nil, nil, false, nil)
	engine := acs.NewEngine(acs.Deps{
		Regulatory:   regdomain.NewRegulatory("US", true, nil),
		Policy:       policy,
		Capabilities: regdomain.NewStaticCapabilities(acs.FirmwareNonDBS, []wifi.Width{wifi.Width80}, nil, true),
		Logger:       logger,
	}, acs.Options{})

	srv := api.NewServer(api.Deps{Engine: engine, Table: policy.Table(), Logger: logger}, &api.Config{APIKey: "secret"})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return newAPIClient(ts.URL, "secret", ts.Client())
}

func run(t *testing.T, c *apiClient, format string, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	err := runCommand(context.Background(), c, &buf, format, args)
	return buf.String(), err
}

func TestACSAndStatus(t *testing.T) {
	c := newTestClient(t)

	out, err := run(t, c, "standard", "acs", "wlan0", "-hw-mode", "a", "-freqs", "5180")
	require.NoError(t, err)
	assert.Contains(t, out, "wlan0: 5180 MHz (ch 36)")
	assert.Contains(t, out, "via fast_path")

	out, err = run(t, c, "standard", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "wlan0:")
	assert.Contains(t, out, "last wlan0: 5180 MHz")

	out, err = run(t, c, "csv", "status", "wlan0")
	require.NoError(t, err)
	rows, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "wlan0", rows[1][0])
	assert.Equal(t, "5180", rows[1][3])

	out, err = run(t, c, "standard", "remove", "wlan0")
	require.NoError(t, err)
	assert.Equal(t, "removed wlan0\n", out)

	_, err = run(t, c, "standard", "status", "wlan0")
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}

func TestACSErrors(t *testing.T) {
	c := newTestClient(t)

	// channel 14 is not a US channel
	_, err := run(t, c, "standard", "acs", "wlan0", "-hw-mode", "b", "-channels", "14")
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.GreaterOrEqual(t, apiErr.Status, 400)

	_, err = run(t, c, "standard", "acs", "wlan0", "-hw-mode", "11ad")
	assert.Error(t, err)

	_, err = run(t, c, "standard", "acs")
	assert.ErrorIs(t, err, errUsage)

	_, err = run(t, c, "standard", "bogus")
	assert.Error(t, err)
}

func TestAuthFailure(t *testing.T) {
	c := newTestClient(t)
	c.apiKey = "wrong"

	_, err := run(t, c, "standard", "status")
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
}

func TestConnections(t *testing.T) {
	c := newTestClient(t)

	out, err := run(t, c, "standard", "connections", "set", "wlan1", "sta", "149", "80")
	require.NoError(t, err)
	assert.Equal(t, "connection wlan1 set to 5745 MHz\n", out)

	out, err = run(t, c, "standard", "connections")
	require.NoError(t, err)
	assert.Contains(t, out, "wlan1")
	assert.Contains(t, out, "5745 MHz ch 149")

	_, err = run(t, c, "standard", "connections", "set", "wlan1", "mesh", "149")
	assert.Error(t, err)

	_, err = run(t, c, "standard", "connections", "delete", "wlan1")
	require.NoError(t, err)
	_, err = run(t, c, "standard", "connections", "delete", "wlan1")
	assert.Error(t, err)
}

func TestHistoryDisabled(t *testing.T) {
	c := newTestClient(t)
	_, err := run(t, c, "standard", "history", "-limit", "5")
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotImplemented, apiErr.Status)
}

func TestParseFreq(t *testing.T) {
	f, err := parseFreq("6")
	require.NoError(t, err)
	assert.Equal(t, uint32(2437), f)

	f, err = parseFreq("5500")
	require.NoError(t, err)
	assert.Equal(t, uint32(5500), f)

	_, err = parseFreq("abc")
	assert.Error(t, err)
}

func TestParseRequest(t *testing.T) {
	req, err := parseRequest([]string{"-hw-mode", "a", "-vht", "-ht40", "-width", "80", "-channels", "36,40 44"})
	require.NoError(t, err)
	assert.Equal(t, acs.HwModeA, req.HwMode)
	assert.True(t, req.VHTEnabled)
	assert.True(t, req.HT40Enabled)
	assert.Equal(t, wifi.Width(80), req.Width)
	assert.Equal(t, []int{36, 40, 44}, req.Channels)

	_, err = parseRequest([]string{"-freqs", "5180,x"})
	assert.Error(t, err)
}
