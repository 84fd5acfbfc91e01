package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// Built-in defaults and bounds for the bounded options.
const (
	DefaultQuality = 2
	MinQuality     = 0
	MaxQuality     = 4

	DefaultBlocks = 24
	MinBlocks     = 2
	MaxBlocks     = 32

	// PriorityUnset leaves the choice of real-time priority to the worker.
	PriorityUnset = -1
	MinPriority   = 0
	MaxPriority   = 99

	DefaultReportPeriod = 2 * time.Second

	// DefaultVendorID is the USB vendor of the supported devices (Elektron).
	DefaultVendorID uint16 = 0x1935
)

var (
	ErrUsage                = errors.New("invalid usage")
	ErrConflictingSelection = errors.New("device not provided properly")
	ErrUndeterminedBlocks   = errors.New("undetermined blocks")
	ErrUndeterminedPriority = errors.New("undetermined priority")
)

// Selection is the device selection mode.
type Selection int

const (
	SelectAll Selection = iota
	SelectByIndex
	SelectByName
)

func (s Selection) String() string {
	switch s {
	case SelectByIndex:
		return "index"
	case SelectByName:
		return "name"
	default:
		return "all"
	}
}

// Options is the validated configuration of one invocation.
type Options struct {
	Selection   Selection
	DeviceIndex int
	DeviceName  string

	Quality      int
	Blocks       int
	Priority     int
	ReportPeriod time.Duration
	VendorID     uint16

	Verbosity   int
	ListDevices bool
	Help        bool

	// Warnings holds one message per value that fell back to its default.
	Warnings []string
}

// File is the optional on-disk defaults file. Unset keys keep the built-in
// defaults.
type File struct {
	Quality             *int `yaml:"resampling_quality"`
	Blocks              *int `yaml:"transfer_blocks"`
	Priority            *int `yaml:"rt_priority"`
	ReportPeriodSeconds *int `yaml:"report_period_seconds"`
	VendorID            *int `yaml:"vendor_id"`
}

// Load reads the defaults file from the platform config directory. A missing
// file is not an error.
func Load() (*File, error) {
	return LoadFile(configPath())
}

// LoadFile reads the defaults file at path.
func LoadFile(path string) (*File, error) {
	f := &File{}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return f, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	return f, nil
}

// Defaults returns the options before any command-line flag is applied: the
// built-in values overridden by the valid entries of f.
func Defaults(f *File) *Options {
	o := &Options{
		DeviceIndex:  -1,
		Quality:      DefaultQuality,
		Blocks:       DefaultBlocks,
		Priority:     PriorityUnset,
		ReportPeriod: DefaultReportPeriod,
		VendorID:     DefaultVendorID,
	}
	if f == nil {
		return o
	}

	if f.Quality != nil {
		o.Quality = o.bounded(*f.Quality, MinQuality, MaxQuality, DefaultQuality, qualityWarning)
	}
	if f.Blocks != nil {
		o.Blocks = o.bounded(*f.Blocks, MinBlocks, MaxBlocks, DefaultBlocks, blocksWarning)
	}
	if f.Priority != nil && *f.Priority != PriorityUnset {
		o.Priority = o.bounded(*f.Priority, MinPriority, MaxPriority, PriorityUnset, priorityWarning)
	}
	if f.ReportPeriodSeconds != nil {
		if *f.ReportPeriodSeconds < 1 {
			o.warn("Report period must be at least 1 second. Using %s...", DefaultReportPeriod)
		} else {
			o.ReportPeriod = time.Duration(*f.ReportPeriodSeconds) * time.Second
		}
	}
	if f.VendorID != nil {
		if *f.VendorID < 0 || *f.VendorID > 0xffff {
			o.warn("Vendor ID must be in [0x0000..0xffff]. Using 0x%04x...", DefaultVendorID)
		} else {
			o.VendorID = uint16(*f.VendorID)
		}
	}

	return o
}

func (o *Options) bounded(v, min, max, def int, warning func(int) string) int {
	if v < min || v > max {
		o.Warnings = append(o.Warnings, warning(def))
		return def
	}
	return v
}

func (o *Options) warn(format string, args ...any) {
	o.Warnings = append(o.Warnings, fmt.Sprintf(format, args...))
}

func qualityWarning(def int) string {
	return fmt.Sprintf("Resampling quality value must be in [%d..%d]. Using value %d...", MinQuality, MaxQuality, def)
}

func blocksWarning(def int) string {
	return fmt.Sprintf("Blocks value must be in [%d..%d]. Using value %d...", MinBlocks, MaxBlocks, def)
}

func priorityWarning(int) string {
	return fmt.Sprintf("Priority value must be in [%d..%d]. Using default value...", MinPriority, MaxPriority)
}

// configPath returns the platform-specific config file path
func configPath() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("APPDATA")
	default: // linux
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.config"
		}
	}

	return filepath.Join(base, "obridge", "config.yaml")
}
