package dieselrhi

import (
	"os"
	"strings"

	"github.com/andewx/dieselrhi/hal"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
)

const (
	DefaultMemoryBlockSize    = 64 << 20
	DefaultDescriptorPoolSets = 128
	DefaultFramesInFlight     = 2
	MaxFramesInFlight         = 8
)

// Usage describes how an application expects to drive the device. It is
// decoded from a TOML usage file so renderers can be tuned without a
// rebuild:
//
//	name = "triangle"
//	validation = true
//	present_mode = "mailbox"
//	frames_in_flight = 2
//
//	[log]
//	level = "debug"
//
// Headless devices need no presentation support and cannot build a
// swapchain.
type Usage struct {
	Name               string    `toml:"name"`
	Validation         bool      `toml:"validation"`
	PreferDiscrete     bool      `toml:"prefer_discrete"`
	HDR                bool      `toml:"hdr"`
	Headless           bool      `toml:"headless"`
	PresentMode        string    `toml:"present_mode"`
	FramesInFlight     int       `toml:"frames_in_flight"`
	MemoryBlockSize    uint64    `toml:"memory_block_size"`
	DescriptorPoolSets uint32    `toml:"descriptor_pool_sets"`
	Log                LogConfig `toml:"log"`
}

// LogConfig is the [log] table.
type LogConfig struct {
	Level  string `toml:"level"`
	File   string `toml:"file"`
	Format string `toml:"format"`
}

var presentModes = map[string]hal.PresentMode{
	"immediate":    hal.PresentImmediate,
	"mailbox":      hal.PresentMailbox,
	"fifo":         hal.PresentFifo,
	"fifo_relaxed": hal.PresentFifoRelaxed,
}

func DefaultUsage() Usage {
	return Usage{
		Name:               "dieselrhi",
		PreferDiscrete:     true,
		PresentMode:        "mailbox",
		FramesInFlight:     DefaultFramesInFlight,
		MemoryBlockSize:    DefaultMemoryBlockSize,
		DescriptorPoolSets: DefaultDescriptorPoolSets,
		Log:                LogConfig{Level: "info", Format: "text"},
	}
}

// LoadUsage reads a TOML usage file. Keys missing from the file keep their
// defaults.
func LoadUsage(path string) (Usage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Usage{}, errors.Wrap(err, "read usage file")
	}
	u, err := ParseUsage(data)
	if err != nil {
		return Usage{}, errors.Wrapf(err, "usage file %s", path)
	}
	return u, nil
}

func ParseUsage(data []byte) (Usage, error) {
	u := DefaultUsage()
	if err := toml.Unmarshal(data, &u); err != nil {
		return Usage{}, errors.Wrap(err, "decode usage")
	}
	if err := u.Validate(); err != nil {
		return Usage{}, err
	}
	return u, nil
}

// Validate fills zero values with defaults and rejects values the device
// cannot honour.
func (u *Usage) Validate() error {
	d := DefaultUsage()
	if u.Name == "" {
		u.Name = d.Name
	}
	if u.PresentMode == "" {
		u.PresentMode = d.PresentMode
	}
	u.PresentMode = strings.ToLower(u.PresentMode)
	if _, ok := presentModes[u.PresentMode]; !ok {
		return errors.Errorf("unknown present mode %q", u.PresentMode)
	}
	if u.FramesInFlight == 0 {
		u.FramesInFlight = d.FramesInFlight
	}
	if u.FramesInFlight < 1 || u.FramesInFlight > MaxFramesInFlight {
		return errors.Errorf("frames_in_flight %d outside [1,%d]", u.FramesInFlight, MaxFramesInFlight)
	}
	if u.MemoryBlockSize == 0 {
		u.MemoryBlockSize = d.MemoryBlockSize
	}
	if u.MemoryBlockSize < 1<<16 {
		return errors.Errorf("memory_block_size %d below 64KiB", u.MemoryBlockSize)
	}
	if u.DescriptorPoolSets == 0 {
		u.DescriptorPoolSets = d.DescriptorPoolSets
	}
	if u.Log.Level == "" {
		u.Log.Level = d.Log.Level
	}
	if u.Log.Format == "" {
		u.Log.Format = d.Log.Format
	}
	switch strings.ToLower(u.Log.Format) {
	case "text", "json":
	default:
		return errors.Errorf("unknown log format %q", u.Log.Format)
	}
	return nil
}

// PreferredPresentMode maps present_mode onto the graphics API value.
func (u Usage) PreferredPresentMode() hal.PresentMode {
	if m, ok := presentModes[strings.ToLower(u.PresentMode)]; ok {
		return m
	}
	return hal.PresentMailbox
}
