package uci

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/markus-lassfolk/acsd/pkg/logx"
)

const (
	packageName    = "acsd"
	commandTimeout = 5 * time.Second
)

// UCI reads acsd configuration through the OpenWrt uci CLI
type UCI struct {
	logger *logx.Logger
}

// NewUCI creates a new UCI client
func NewUCI(logger *logx.Logger) *UCI {
	return &UCI{
		logger: logger,
	}
}

// LoadConfig loads the complete acsd configuration from UCI
func (u *UCI) LoadConfig(ctx context.Context) (*Config, error) {
	output, err := u.execUCI(ctx, "-q", "show", packageName)
	if err != nil {
		return nil, err
	}

	cfg := NewDefaultConfig()
	if err := cfg.parseShow(output); err != nil {
		return nil, fmt.Errorf("failed to parse uci show output: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// parseShow parses `uci show acsd` output:
//
//	acsd.main=acsd
//	acsd.main.country='SE'
//	acsd.@pcl[0].entry='5180:100' '5745:50'
func (c *Config) parseShow(output string) error {
	types := make(map[string]string)

	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		leftParts := strings.SplitN(parts[0], ".", 3)
		if len(leftParts) < 2 || leftParts[0] != packageName {
			continue
		}

		section := leftParts[1]
		if len(leftParts) == 2 {
			types[section] = strings.Trim(parts[1], "'\"")
			continue
		}

		sectionType, ok := types[section]
		if !ok {
			return fmt.Errorf("option %s before its section", parts[0])
		}
		name := section
		if strings.HasPrefix(section, "@") {
			name = ""
		}
		for _, value := range splitUCILine(parts[1]) {
			if err := c.parseOption(sectionType, name, leftParts[2], value); err != nil {
				return err
			}
		}
	}
	return nil
}

// execUCI executes a UCI command
func (u *UCI) execUCI(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "uci", args...)
	output, err := cmd.Output()
	if err != nil {
		if u.logger != nil {
			u.logger.Debug("UCI command failed", "command", "uci "+strings.Join(args, " "), "error", err)
		}
		return "", fmt.Errorf("uci command failed: %w", err)
	}

	return string(output), nil
}
