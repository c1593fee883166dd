// Package sysfs drives a PWM channel and reads DS18B20 sensors through the
// Linux sysfs interfaces.
package sysfs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/breeze/pkg/types"
)

// PWMConfig selects a pwmchip channel
type PWMConfig struct {
	Root    string `yaml:"root"`
	Chip    int    `yaml:"chip"`
	Channel int    `yaml:"channel"`
}

// PWM writes period and duty_cycle files of one exported channel
type PWM struct {
	dir      string
	chipDir  string
	channel  int
	periodNS uint64
	maxRaw   uint32
}

// NewPWM creates a PWM for cfg. Root defaults to /sys/class/pwm.
func NewPWM(cfg PWMConfig) *PWM {
	root := cfg.Root
	if root == "" {
		root = "/sys/class/pwm"
	}
	chipDir := filepath.Join(root, fmt.Sprintf("pwmchip%d", cfg.Chip))
	return &PWM{
		chipDir: chipDir,
		dir:     filepath.Join(chipDir, fmt.Sprintf("pwm%d", cfg.Channel)),
		channel: cfg.Channel,
	}
}

// Configure exports the channel, sets its period and enables it
func (p *PWM) Configure(frequencyHz int, resolutionBits int) error {
	if frequencyHz <= 0 {
		return &types.ValidationError{Field: "pwm_frequency", Reason: "must be positive"}
	}
	if resolutionBits <= 0 || resolutionBits > 16 {
		return &types.ValidationError{Field: "pwm_resolution", Reason: "must be between 1 and 16"}
	}

	if _, err := os.Stat(p.dir); errors.Is(err, os.ErrNotExist) {
		if err := writeFile(filepath.Join(p.chipDir, "export"), strconv.Itoa(p.channel)); err != nil {
			return err
		}
		// udev needs a moment to fix permissions on the new channel
		time.Sleep(100 * time.Millisecond)
	}

	p.periodNS = uint64(time.Second) / uint64(frequencyHz)
	p.maxRaw = uint32(1)<<uint(resolutionBits) - 1

	if err := writeFile(filepath.Join(p.dir, "period"), strconv.FormatUint(p.periodNS, 10)); err != nil {
		return err
	}
	if err := writeFile(filepath.Join(p.dir, "duty_cycle"), "0"); err != nil {
		return err
	}
	return writeFile(filepath.Join(p.dir, "enable"), "1")
}

func (p *PWM) SetDuty(raw uint32) error {
	if p.maxRaw == 0 {
		return fmt.Errorf("pwm not configured: %w", types.ErrHardwareFault)
	}
	if raw > p.maxRaw {
		raw = p.maxRaw
	}
	duty := p.periodNS * uint64(raw) / uint64(p.maxRaw)
	return writeFile(filepath.Join(p.dir, "duty_cycle"), strconv.FormatUint(duty, 10))
}

func writeFile(path, value string) error {
	if err := os.WriteFile(path, []byte(value), 0o644); err != nil {
		return fmt.Errorf("write %s: %w: %v", path, types.ErrHardwareFault, err)
	}
	return nil
}

// ParseMilliCelsius parses the content of a w1 "temperature" file
func ParseMilliCelsius(data []byte) (float64, error) {
	s := strings.TrimSpace(string(data))
	if s == "" {
		return 0, fmt.Errorf("empty temperature: %w", types.ErrHardwareFault)
	}
	milli, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("parse temperature %q: %w", s, err)
	}
	return float64(milli) / 1000, nil
}
