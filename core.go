package dieselrhi

import (
	"github.com/andewx/dieselrhi/hal"
)

//Core is the entry point of the RHI. It wraps a graphics API instance with its
//surface, selects a graphics and present capable adapter and opens the Device
//every other object is created from. The Core outlives its devices.
type Core struct {
	inst    hal.Instance
	usage   Usage
	devices []*Device
}

func NewCore(inst hal.Instance, usage Usage) *Core {
	if err := usage.Validate(); err != nil {
		Logger().Warn("dieselrhi: invalid usage, falling back to defaults", "err", err)
		usage = DefaultUsage()
	}
	return &Core{inst: inst, usage: usage}
}

func (c *Core) Usage() Usage { return c.usage }

func (c *Core) Adapters() ([]hal.AdapterInfo, error) {
	adapters, r := c.inst.Adapters()
	if err := check("enumerate adapters", KindInit, r); err != nil {
		return nil, err
	}
	return adapters, nil
}

// selectAdapter returns the index of the best capable adapter, or -1.
func (c *Core) selectAdapter(adapters []hal.AdapterInfo) int {
	best := -1
	for i, a := range adapters {
		if !a.Graphics || !a.TimelineSemaphores || (!a.Present && !c.usage.Headless) {
			continue
		}
		if best < 0 {
			best = i
			continue
		}
		if c.usage.PreferDiscrete && a.Type == hal.AdapterDiscrete && adapters[best].Type != hal.AdapterDiscrete {
			best = i
		}
	}
	return best
}

//CreateDevice opens the selected adapter and prepares its queue, command pool
//and memory arena. Failing to find a capable adapter is an initialization error.
func (c *Core) CreateDevice() (*Device, error) {
	adapters, err := c.Adapters()
	if err != nil {
		return nil, err
	}
	idx := c.selectAdapter(adapters)
	if idx < 0 {
		return nil, &Error{Op: "create device", Kind: KindInit, Err: ErrNoDevice, Caller: caller(1)}
	}
	info := adapters[idx]
	raw, r := c.inst.Open(info.Index, hal.DeviceOptions{Validation: c.usage.Validation})
	if err := check("open device "+info.Name, KindInit, r); err != nil {
		return nil, err
	}
	dev, err := newDevice(raw, info, c.usage)
	if err != nil {
		raw.Destroy()
		return nil, err
	}
	Logger().Info("dieselrhi: device selected", "name", info.Name, "type", info.Type.String(), "queue_family", info.QueueFamily)
	c.devices = append(c.devices, dev)
	return dev, nil
}

// Destroy tears down any device still open and then the instance.
func (c *Core) Destroy() {
	for i := len(c.devices) - 1; i >= 0; i-- {
		c.devices[i].Destroy()
	}
	c.devices = nil
	c.inst.Destroy()
}
