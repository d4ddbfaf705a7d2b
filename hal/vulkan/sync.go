package vulkan

import (
	"github.com/andewx/dieselrhi/hal"
	vk "github.com/vulkan-go/vulkan"
)

type semaphore struct {
	sem      vk.Semaphore
	timeline bool
}

// QueueSubmit submits one batch. When a timeline semaphore takes part the
// values are chained with a timeline submit info; binary entries get
// a zero value there, which Vulkan ignores.
func (d *Device) QueueSubmit(desc *hal.SubmitDesc, fence hal.Fence) hal.Result {
	var (
		cbs        = make([]vk.CommandBuffer, 0, len(desc.CommandBuffers))
		waits      = make([]vk.Semaphore, 0, len(desc.Wait))
		stages     = make([]vk.PipelineStageFlags, 0, len(desc.Wait))
		waitVals   = make([]uint64, 0, len(desc.Wait))
		signals    = make([]vk.Semaphore, 0, len(desc.Signal))
		signalVals = make([]uint64, 0, len(desc.Signal))
		timeline   bool
	)
	for _, cb := range desc.CommandBuffers {
		cbs = append(cbs, d.cmds.get(uint64(cb)))
	}
	for _, w := range desc.Wait {
		s := d.semaphores.get(uint64(w.Semaphore))
		timeline = timeline || s.timeline
		waits = append(waits, s.sem)
		stages = append(stages, vk.PipelineStageFlags(w.Stage))
		waitVals = append(waitVals, w.Value)
	}
	for _, sig := range desc.Signal {
		s := d.semaphores.get(uint64(sig.Semaphore))
		timeline = timeline || s.timeline
		signals = append(signals, s.sem)
		signalVals = append(signalVals, sig.Value)
	}

	info := vk.SubmitInfo{
		SType:                vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount:   uint32(len(waits)),
		PWaitSemaphores:      waits,
		PWaitDstStageMask:    stages,
		CommandBufferCount:   uint32(len(cbs)),
		PCommandBuffers:      cbs,
		SignalSemaphoreCount: uint32(len(signals)),
		PSignalSemaphores:    signals,
	}
	if timeline {
		values := timelineSubmitInfo(waitVals, signalVals)
		defer freeChain(values)
		info.PNext = values
	}

	d.qmu.Lock()
	defer d.qmu.Unlock()
	return result(vk.QueueSubmit(d.queue, 1, []vk.SubmitInfo{info}, d.fences.get(uint64(fence))))
}

func (d *Device) QueueWaitIdle() hal.Result {
	d.qmu.Lock()
	defer d.qmu.Unlock()
	return result(vk.QueueWaitIdle(d.queue))
}

func (d *Device) CreateFence(signaled bool) (hal.Fence, hal.Result) {
	var flags vk.FenceCreateFlags
	if signaled {
		flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	var f vk.Fence
	ret := vk.CreateFence(d.dev, &vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
		Flags: flags,
	}, nil, &f)
	if ret != vk.Success {
		return 0, result(ret)
	}
	return hal.Fence(d.fences.put(f)), hal.Success
}

func (d *Device) DestroyFence(f hal.Fence) {
	if v, ok := d.fences.take(uint64(f)); ok {
		vk.DestroyFence(d.dev, v, nil)
	}
}

func (d *Device) WaitForFence(f hal.Fence, timeout uint64) hal.Result {
	return result(vk.WaitForFences(d.dev, 1, []vk.Fence{d.fences.get(uint64(f))}, vk.True, timeout))
}

func (d *Device) ResetFence(f hal.Fence) hal.Result {
	return result(vk.ResetFences(d.dev, 1, []vk.Fence{d.fences.get(uint64(f))}))
}

func (d *Device) FenceStatus(f hal.Fence) hal.Result {
	return result(vk.GetFenceStatus(d.dev, d.fences.get(uint64(f))))
}

func (d *Device) CreateSemaphore(t hal.SemaphoreType, initial uint64) (hal.Semaphore, hal.Result) {
	info := vk.SemaphoreCreateInfo{SType: vk.StructureTypeSemaphoreCreateInfo}
	if t == hal.SemaphoreTimeline {
		typeInfo := semaphoreTypeInfo(initial)
		defer freeChain(typeInfo)
		info.PNext = typeInfo
	}
	var s vk.Semaphore
	if ret := vk.CreateSemaphore(d.dev, &info, nil, &s); ret != vk.Success {
		return 0, result(ret)
	}
	return hal.Semaphore(d.semaphores.put(semaphore{sem: s, timeline: t == hal.SemaphoreTimeline})), hal.Success
}

func (d *Device) DestroySemaphore(s hal.Semaphore) {
	if v, ok := d.semaphores.take(uint64(s)); ok {
		vk.DestroySemaphore(d.dev, v.sem, nil)
	}
}

func (d *Device) WaitSemaphore(s hal.Semaphore, value uint64, timeout uint64) hal.Result {
	return result(d.timeline.wait(d.dev, d.semaphores.get(uint64(s)).sem, value, timeout))
}

func (d *Device) SemaphoreValue(s hal.Semaphore) (uint64, hal.Result) {
	v, ret := d.timeline.value(d.dev, d.semaphores.get(uint64(s)).sem)
	return v, result(ret)
}

func (d *Device) SignalSemaphore(s hal.Semaphore, value uint64) hal.Result {
	return result(d.timeline.signal(d.dev, d.semaphores.get(uint64(s)).sem, value))
}
