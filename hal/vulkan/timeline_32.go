//go:build 386 || arm

package vulkan

import (
	"unsafe"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

// Timeline semaphores are only bridged on 64-bit targets. Opening a device
// fails here, so none of the entry points below are reached.
type timelineProcs struct{}

func (t *timelineProcs) load(vk.Instance, vk.Device) error {
	return errors.Wrap(resultErr(vk.ErrorFeatureNotPresent), "vulkan: timeline semaphores need a 64-bit build")
}

func (t *timelineProcs) wait(vk.Device, vk.Semaphore, uint64, uint64) vk.Result {
	return vk.ErrorFeatureNotPresent
}

func (t *timelineProcs) value(vk.Device, vk.Semaphore) (uint64, vk.Result) {
	return 0, vk.ErrorFeatureNotPresent
}

func (t *timelineProcs) signal(vk.Device, vk.Semaphore, uint64) vk.Result {
	return vk.ErrorFeatureNotPresent
}

func timelineFeatures() unsafe.Pointer { return nil }

func semaphoreTypeInfo(uint64) unsafe.Pointer { return nil }

func timelineSubmitInfo(_, _ []uint64) unsafe.Pointer { return nil }

func freeChain(unsafe.Pointer) {}
