package uci

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/markus-lassfolk/acsd/pkg/acs"
	"github.com/markus-lassfolk/acsd/pkg/wifi"
)

// DefaultConfigPath is the UCI file read when no path is given
const DefaultConfigPath = "/etc/config/acsd"

// Config represents the acsd configuration
type Config struct {
	// Main configuration
	LogLevel  string `json:"log_level" yaml:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format"`
	Country   string `json:"country" yaml:"country"`
	AllowDFS  bool   `json:"allow_dfs" yaml:"allow_dfs"`
	PIDFile   string `json:"pid_file" yaml:"pid_file"`

	// NOLMinutes is how long a channel stays unused after radar
	NOLMinutes int `json:"nol_minutes" yaml:"nol_minutes"`

	// Selection
	Selector          string `json:"selector" yaml:"selector"`
	ExternalTimeoutMS int    `json:"external_acs_timeout_ms" yaml:"external_acs_timeout_ms"`
	ScanTimeoutS      int    `json:"scan_timeout_s" yaml:"scan_timeout_s"`
	Bonding24GHz      bool   `json:"bonding_24ghz" yaml:"bonding_24ghz"`
	ForceSCC          bool   `json:"force_scc" yaml:"force_scc"`
	FilterUnsafe      bool   `json:"filter_unsafe" yaml:"filter_unsafe"`

	UnsafeChannels   []uint32 `json:"unsafe_channel" yaml:"unsafe_channel"`
	DisabledChannels []uint32 `json:"disabled_channel" yaml:"disabled_channel"`

	// Capabilities
	DBSMode        bool  `json:"dbs_mode" yaml:"dbs_mode"`
	WidthCapNonDBS []int `json:"width_cap_non_dbs" yaml:"width_cap_non_dbs"`
	WidthCapDBS    []int `json:"width_cap_dbs" yaml:"width_cap_dbs"`
	HESupported    bool  `json:"he_supported" yaml:"he_supported"`
	EHTSupported   bool  `json:"eht_supported" yaml:"eht_supported"`

	PCL       PCLConfig               `json:"pcl" yaml:"pcl"`
	Radios    map[string]*RadioConfig `json:"radios" yaml:"radios"`
	MQTT      MQTTConfig              `json:"mqtt" yaml:"mqtt"`
	API       APIConfig               `json:"api" yaml:"api"`
	Storage   StorageConfig           `json:"storage" yaml:"storage"`
	Scheduler wifi.SchedulerConfig    `json:"scheduler" yaml:"scheduler"`
}

// PCLConfig is the static preferred channel list
type PCLConfig struct {
	Mode    string         `json:"mode" yaml:"mode"`
	Entries []acs.PCLEntry `json:"entries" yaml:"entries"`
}

// RadioConfig describes an AP interface acsd selects a channel for at start-up
type RadioConfig struct {
	Device      string   `json:"device" yaml:"device"`
	HwMode      string   `json:"hw_mode" yaml:"hw_mode"`
	HT          bool     `json:"ht" yaml:"ht"`
	HT40        bool     `json:"ht40" yaml:"ht40"`
	VHT         bool     `json:"vht" yaml:"vht"`
	EHT         bool     `json:"eht" yaml:"eht"`
	Width       int      `json:"chwidth" yaml:"chwidth"`
	Channels    []int    `json:"channel" yaml:"channel"`
	Frequencies []uint32 `json:"freq" yaml:"freq"`
	Puncture    uint16   `json:"puncture_bitmap" yaml:"puncture_bitmap"`
}

// MQTTConfig represents MQTT configuration
type MQTTConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	Broker      string `json:"broker" yaml:"broker"`
	Port        int    `json:"port" yaml:"port"`
	ClientID    string `json:"client_id" yaml:"client_id"`
	Username    string `json:"username" yaml:"username"`
	Password    string `json:"password" yaml:"password"`
	TopicPrefix string `json:"topic_prefix" yaml:"topic_prefix"`
	QoS         int    `json:"qos" yaml:"qos"`
	Retain      bool   `json:"retain" yaml:"retain"`
}

// APIConfig configures the HTTP control API
type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Listen  string `json:"listen" yaml:"listen"`
	APIKey  string `json:"api_key" yaml:"api_key"`
}

// StorageConfig configures persistence
type StorageConfig struct {
	StatePath      string `json:"state_path" yaml:"state_path"`
	HistoryPath    string `json:"history_path" yaml:"history_path"`
	RetentionDays  int    `json:"retention_days" yaml:"retention_days"`
	HistoryEnabled bool   `json:"history_enabled" yaml:"history_enabled"`
}

// Selector names
const (
	SelectorScan     = "scan"
	SelectorExternal = "external"
	SelectorPCL      = "pcl"
)

// Default configuration values
const (
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
	DefaultCountry           = "US"
	DefaultExternalTimeoutMS = 10000
	DefaultScanTimeoutS      = 30
	DefaultNOLMinutes        = 30
	DefaultMQTTPort          = 1883
	DefaultTopicPrefix       = "acsd"
	DefaultAPIListen         = "127.0.0.1:8095"
	DefaultStatePath         = "/var/lib/acsd/state.db"
	DefaultHistoryPath       = "/var/lib/acsd/history.db"
	DefaultRetentionDays     = 30
)

// LoadConfig loads and validates the configuration. Files ending in .yaml
// or .yml are YAML, anything else is UCI syntax. The default path is read
// through the uci CLI first when it is available.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigPath
	}

	if path == DefaultConfigPath {
		if cfg, err := NewUCI(nil).LoadConfig(context.Background()); err == nil {
			return cfg, nil
		}
	}

	return loadConfigFromFile(path)
}

// loadConfigFromFile loads configuration from a file
func loadConfigFromFile(path string) (*Config, error) {
	cfg := NewDefaultConfig()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, cfg.validate()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		if err := cfg.parseUCI(string(data)); err != nil {
			return nil, fmt.Errorf("failed to parse UCI config: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// NewDefaultConfig returns a configuration with every default applied
func NewDefaultConfig() *Config {
	c := &Config{Radios: make(map[string]*RadioConfig)}
	c.setDefaults()
	return c
}

// setDefaults sets default values for the configuration
func (c *Config) setDefaults() {
	c.LogLevel = DefaultLogLevel
	c.LogFormat = DefaultLogFormat
	c.Country = DefaultCountry
	c.AllowDFS = true
	c.NOLMinutes = DefaultNOLMinutes
	c.Selector = SelectorScan
	c.ExternalTimeoutMS = DefaultExternalTimeoutMS
	c.ScanTimeoutS = DefaultScanTimeoutS
	c.WidthCapNonDBS = []int{80, 160}
	c.WidthCapDBS = []int{80}
	c.HESupported = true

	c.PCL.Mode = "sap"

	c.MQTT.Port = DefaultMQTTPort
	c.MQTT.ClientID = "acsd"
	c.MQTT.TopicPrefix = DefaultTopicPrefix
	c.MQTT.QoS = 1

	c.API.Enabled = true
	c.API.Listen = DefaultAPIListen

	c.Storage.StatePath = DefaultStatePath
	c.Storage.HistoryPath = DefaultHistoryPath
	c.Storage.RetentionDays = DefaultRetentionDays
	c.Storage.HistoryEnabled = true

	c.Scheduler = *wifi.DefaultSchedulerConfig()
}

// parseUCI parses UCI file syntax
func (c *Config) parseUCI(data string) error {
	var sectionType, sectionName string

	for n, line := range strings.Split(data, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := splitUCILine(line)
		switch parts[0] {
		case "config":
			if len(parts) < 2 {
				return fmt.Errorf("line %d: config without section type", n+1)
			}
			sectionType = parts[1]
			sectionName = ""
			if len(parts) >= 3 {
				sectionName = parts[2]
			}
		case "option", "list":
			if len(parts) < 3 {
				return fmt.Errorf("line %d: %s without value", n+1, parts[0])
			}
			if err := c.parseOption(sectionType, sectionName, parts[1], parts[2]); err != nil {
				return fmt.Errorf("line %d: %w", n+1, err)
			}
		default:
			return fmt.Errorf("line %d: unexpected keyword %q", n+1, parts[0])
		}
	}
	return nil
}

// splitUCILine splits a line on whitespace keeping quoted values together
func splitUCILine(line string) []string {
	var parts []string
	var cur strings.Builder
	var quote rune
	inToken := false

	for _, r := range line {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
				continue
			}
			cur.WriteRune(r)
		case r == '\'' || r == '"':
			quote = r
			inToken = true
		case r == ' ' || r == '\t':
			if inToken {
				parts = append(parts, cur.String())
				cur.Reset()
				inToken = false
			}
		default:
			cur.WriteRune(r)
			inToken = true
		}
	}
	if inToken {
		parts = append(parts, cur.String())
	}
	return parts
}

// parseOption routes options to appropriate parsers based on section type
func (c *Config) parseOption(sectionType, sectionName, option, value string) error {
	switch sectionType {
	case "acsd", "":
		return c.parseMainOption(option, value)
	case "radio":
		if sectionName == "" {
			return fmt.Errorf("radio section needs an interface name")
		}
		return c.parseRadioOption(sectionName, option, value)
	case "pcl":
		return c.parsePCLOption(option, value)
	case "mqtt":
		return c.parseMQTTOption(option, value)
	case "api":
		return c.parseAPIOption(option, value)
	case "storage":
		return c.parseStorageOption(option, value)
	case "scheduler":
		return c.parseSchedulerOption(option, value)
	}
	// unknown sections belong to other tools sharing the file
	return nil
}

// parseMainOption parses core daemon configuration options
func (c *Config) parseMainOption(option, value string) error {
	var err error
	switch option {
	case "log_level":
		c.LogLevel = value
	case "log_format":
		c.LogFormat = value
	case "country":
		c.Country = strings.ToUpper(value)
	case "allow_dfs":
		c.AllowDFS = parseBool(value)
	case "nol_minutes":
		c.NOLMinutes, err = strconv.Atoi(value)
	case "pid_file":
		c.PIDFile = value
	case "selector":
		c.Selector = value
	case "external_acs_timeout_ms":
		c.ExternalTimeoutMS, err = strconv.Atoi(value)
	case "scan_timeout_s":
		c.ScanTimeoutS, err = strconv.Atoi(value)
	case "bonding_24ghz":
		c.Bonding24GHz = parseBool(value)
	case "force_scc":
		c.ForceSCC = parseBool(value)
	case "filter_unsafe":
		c.FilterUnsafe = parseBool(value)
	case "unsafe_channel":
		c.UnsafeChannels, err = appendFreqs(c.UnsafeChannels, value)
	case "disabled_channel":
		c.DisabledChannels, err = appendFreqs(c.DisabledChannels, value)
	case "dbs_mode":
		c.DBSMode = parseBool(value)
	case "width_cap_non_dbs":
		c.WidthCapNonDBS, err = parseIntList(value)
	case "width_cap_dbs":
		c.WidthCapDBS, err = parseIntList(value)
	case "he_supported":
		c.HESupported = parseBool(value)
	case "eht_supported":
		c.EHTSupported = parseBool(value)
	case "pcl_entry":
		err = c.parsePCLOption("entry", value)
	}
	if err != nil {
		return fmt.Errorf("option %s: %w", option, err)
	}
	return nil
}

func (c *Config) parseRadioOption(iface, option, value string) error {
	r := c.Radios[iface]
	if r == nil {
		r = &RadioConfig{HwMode: "any"}
		c.Radios[iface] = r
	}

	var err error
	switch option {
	case "device":
		r.Device = value
	case "hw_mode":
		r.HwMode = value
	case "ht":
		r.HT = parseBool(value)
	case "ht40":
		r.HT40 = parseBool(value)
	case "vht":
		r.VHT = parseBool(value)
	case "eht":
		r.EHT = parseBool(value)
	case "chwidth":
		r.Width, err = strconv.Atoi(value)
	case "channel":
		var chans []int
		chans, err = parseIntList(value)
		r.Channels = append(r.Channels, chans...)
	case "freq":
		r.Frequencies, err = appendFreqs(r.Frequencies, value)
	case "puncture_bitmap":
		var v uint64
		v, err = strconv.ParseUint(value, 0, 16)
		r.Puncture = uint16(v)
	}
	if err != nil {
		return fmt.Errorf("radio %s option %s: %w", iface, option, err)
	}
	return nil
}

func (c *Config) parsePCLOption(option, value string) error {
	switch option {
	case "mode":
		c.PCL.Mode = value
	case "entry":
		entry, err := ParsePCLEntry(value)
		if err != nil {
			return err
		}
		c.PCL.Entries = append(c.PCL.Entries, entry)
	}
	return nil
}

func (c *Config) parseMQTTOption(option, value string) error {
	var err error
	switch option {
	case "enabled":
		c.MQTT.Enabled = parseBool(value)
	case "broker":
		c.MQTT.Broker = value
	case "port":
		c.MQTT.Port, err = strconv.Atoi(value)
	case "client_id":
		c.MQTT.ClientID = value
	case "username":
		c.MQTT.Username = value
	case "password":
		c.MQTT.Password = value
	case "topic_prefix":
		c.MQTT.TopicPrefix = value
	case "qos":
		c.MQTT.QoS, err = strconv.Atoi(value)
	case "retain":
		c.MQTT.Retain = parseBool(value)
	}
	if err != nil {
		return fmt.Errorf("mqtt option %s: %w", option, err)
	}
	return nil
}

func (c *Config) parseAPIOption(option, value string) error {
	switch option {
	case "enabled":
		c.API.Enabled = parseBool(value)
	case "listen":
		c.API.Listen = value
	case "api_key":
		c.API.APIKey = value
	}
	return nil
}

func (c *Config) parseStorageOption(option, value string) error {
	var err error
	switch option {
	case "state_path":
		c.Storage.StatePath = value
	case "history_path":
		c.Storage.HistoryPath = value
	case "history_enabled":
		c.Storage.HistoryEnabled = parseBool(value)
	case "retention_days":
		c.Storage.RetentionDays, err = strconv.Atoi(value)
	}
	if err != nil {
		return fmt.Errorf("storage option %s: %w", option, err)
	}
	return nil
}

func (c *Config) parseSchedulerOption(option, value string) error {
	var err error
	switch option {
	case "nightly_enabled":
		c.Scheduler.NightlyEnabled = parseBool(value)
	case "nightly_time":
		c.Scheduler.NightlyTime = value
	case "nightly_window_min":
		c.Scheduler.NightlyWindowMin, err = strconv.Atoi(value)
	case "check_interval_min":
		c.Scheduler.CheckIntervalMin, err = strconv.Atoi(value)
	case "skip_if_recent":
		c.Scheduler.SkipIfRecent = parseBool(value)
	case "recent_threshold_h":
		c.Scheduler.RecentThresholdH, err = strconv.Atoi(value)
	}
	if err != nil {
		return fmt.Errorf("scheduler option %s: %w", option, err)
	}
	return nil
}

// ParsePCLEntry parses "freq:weight"
func ParsePCLEntry(s string) (acs.PCLEntry, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return acs.PCLEntry{}, fmt.Errorf("pcl entry %q: want freq:weight", s)
	}
	freq, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return acs.PCLEntry{}, fmt.Errorf("pcl entry %q: %w", s, err)
	}
	weight, err := strconv.ParseUint(parts[1], 10, 8)
	if err != nil {
		return acs.PCLEntry{}, fmt.Errorf("pcl entry %q: %w", s, err)
	}
	return acs.PCLEntry{Freq: uint32(freq), Weight: uint8(weight)}, nil
}

func parseBool(value string) bool {
	switch strings.ToLower(value) {
	case "1", "true", "yes", "on", "enabled":
		return true
	}
	return false
}

// parseIntList accepts "80,160" as well as a single number
func parseIntList(value string) ([]int, error) {
	var out []int
	for _, f := range strings.FieldsFunc(value, func(r rune) bool { return r == ',' || r == ' ' }) {
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func appendFreqs(dst []uint32, value string) ([]uint32, error) {
	nums, err := parseIntList(value)
	if err != nil {
		return dst, err
	}
	for _, n := range nums {
		if n <= 0 {
			return dst, fmt.Errorf("invalid frequency %d", n)
		}
		dst = append(dst, uint32(n))
	}
	return dst, nil
}

// validate validates the configuration
func (c *Config) validate() error {
	if !isValidLogLevel(c.LogLevel) {
		return fmt.Errorf("invalid log_level: %s", c.LogLevel)
	}

	switch c.Selector {
	case SelectorScan, SelectorExternal, SelectorPCL:
	default:
		return fmt.Errorf("selector must be one of scan, external, pcl")
	}

	if c.ExternalTimeoutMS < 100 || c.ExternalTimeoutMS > 300000 {
		return fmt.Errorf("external_acs_timeout_ms must be between 100 and 300000")
	}

	if c.ScanTimeoutS < 1 || c.ScanTimeoutS > 300 {
		return fmt.Errorf("scan_timeout_s must be between 1 and 300")
	}

	if _, err := WidthList(c.WidthCapNonDBS); err != nil {
		return fmt.Errorf("width_cap_non_dbs: %w", err)
	}
	if _, err := WidthList(c.WidthCapDBS); err != nil {
		return fmt.Errorf("width_cap_dbs: %w", err)
	}

	if c.NOLMinutes < 1 || c.NOLMinutes > 1440 {
		return fmt.Errorf("nol_minutes must be between 1 and 1440")
	}

	if _, err := acs.ParseConnectionMode(c.PCL.Mode); err != nil {
		return fmt.Errorf("pcl mode: %w", err)
	}

	if c.Selector == SelectorExternal && !c.MQTT.Enabled {
		return fmt.Errorf("selector external requires mqtt to be enabled")
	}

	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt broker is required when mqtt is enabled")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt qos must be 0, 1 or 2")
	}

	if c.Storage.RetentionDays < 1 || c.Storage.RetentionDays > 365 {
		return fmt.Errorf("retention_days must be between 1 and 365")
	}

	for iface, r := range c.Radios {
		mode, err := acs.ParseHwMode(r.HwMode)
		if err != nil {
			return fmt.Errorf("radio %s: %w", iface, err)
		}
		if !mode.Legacy() {
			return fmt.Errorf("radio %s: hw_mode must be one of b, g, a, any", iface)
		}
	}

	return nil
}

// Validate is the exported form of validate for callers that edit a Config
func (c *Config) Validate() error {
	return c.validate()
}

// WidthList converts configured MHz values to widths. 8080 means 80+80.
func WidthList(mhz []int) ([]wifi.Width, error) {
	out := make([]wifi.Width, 0, len(mhz))
	for _, m := range mhz {
		w := wifi.Width(m)
		if !w.Valid() {
			return nil, fmt.Errorf("unsupported channel width %d", m)
		}
		out = append(out, w)
	}
	return out, nil
}

// Request converts a radio section into a DO_ACS request
func (r *RadioConfig) Request() acs.Request {
	mode, _ := acs.ParseHwMode(r.HwMode)
	return acs.Request{
		HwMode:         mode,
		HTEnabled:      r.HT,
		HT40Enabled:    r.HT40,
		VHTEnabled:     r.VHT,
		EHTEnabled:     r.EHT,
		Width:          wifi.Width(r.Width),
		Channels:       append([]int(nil), r.Channels...),
		Frequencies:    append([]uint32(nil), r.Frequencies...),
		PunctureBitmap: r.Puncture,
	}
}

// PCLMode returns the parsed PCL connection mode
func (c *Config) PCLMode() acs.ConnectionMode {
	mode, err := acs.ParseConnectionMode(c.PCL.Mode)
	if err != nil {
		return acs.ModeSAP
	}
	return mode
}

func isValidLogLevel(level string) bool {
	validLevels := []string{"trace", "debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return true
		}
	}
	return false
}
