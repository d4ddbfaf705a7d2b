//go:build !386 && !arm

package vulkan

/*
#include <stdint.h>
#include <stdlib.h>

// Vulkan 1.2 timeline semaphore structures. The header bundled with the
// binding predates them, so they are declared here with the layout of
// vulkan_core.h on 64-bit targets where non-dispatchable handles are pointers.

#define DVK_STRUCTURE_TYPE_PHYSICAL_DEVICE_TIMELINE_SEMAPHORE_FEATURES 1000207000
#define DVK_STRUCTURE_TYPE_SEMAPHORE_TYPE_CREATE_INFO 1000207002
#define DVK_STRUCTURE_TYPE_TIMELINE_SEMAPHORE_SUBMIT_INFO 1000207003
#define DVK_STRUCTURE_TYPE_SEMAPHORE_WAIT_INFO 1000207004
#define DVK_STRUCTURE_TYPE_SEMAPHORE_SIGNAL_INFO 1000207005
#define DVK_SEMAPHORE_TYPE_TIMELINE 1

typedef struct dvkPhysicalDeviceTimelineSemaphoreFeatures {
	int32_t  sType;
	void*    pNext;
	uint32_t timelineSemaphore;
} dvkPhysicalDeviceTimelineSemaphoreFeatures;

typedef struct dvkSemaphoreTypeCreateInfo {
	int32_t     sType;
	const void* pNext;
	int32_t     semaphoreType;
	uint64_t    initialValue;
} dvkSemaphoreTypeCreateInfo;

typedef struct dvkTimelineSemaphoreSubmitInfo {
	int32_t         sType;
	const void*     pNext;
	uint32_t        waitSemaphoreValueCount;
	const uint64_t* pWaitSemaphoreValues;
	uint32_t        signalSemaphoreValueCount;
	const uint64_t* pSignalSemaphoreValues;
} dvkTimelineSemaphoreSubmitInfo;

typedef struct dvkSemaphoreWaitInfo {
	int32_t         sType;
	const void*     pNext;
	uint32_t        flags;
	uint32_t        semaphoreCount;
	void* const*    pSemaphores;
	const uint64_t* pValues;
} dvkSemaphoreWaitInfo;

typedef struct dvkSemaphoreSignalInfo {
	int32_t     sType;
	const void* pNext;
	void*       semaphore;
	uint64_t    value;
} dvkSemaphoreSignalInfo;

typedef void (*dvkVoidFunction)(void);
typedef dvkVoidFunction (*dvkGetInstanceProcAddr)(void* instance, const char* name);
typedef dvkVoidFunction (*dvkGetDeviceProcAddr)(void* device, const char* name);

typedef int32_t (*dvkWaitSemaphoresFn)(void* device, const dvkSemaphoreWaitInfo* info, uint64_t timeout);
typedef int32_t (*dvkGetSemaphoreCounterValueFn)(void* device, void* semaphore, uint64_t* value);
typedef int32_t (*dvkSignalSemaphoreFn)(void* device, const dvkSemaphoreSignalInfo* info);

typedef struct dvkTimelineProcs {
	dvkWaitSemaphoresFn           waitSemaphores;
	dvkGetSemaphoreCounterValueFn getSemaphoreCounterValue;
	dvkSignalSemaphoreFn          signalSemaphore;
} dvkTimelineProcs;

static dvkVoidFunction dvkDeviceProc(dvkGetDeviceProcAddr gdpa, void* device, const char* core, const char* khr) {
	dvkVoidFunction fn = gdpa(device, core);
	if (fn == NULL) {
		fn = gdpa(device, khr);
	}
	return fn;
}

static int dvkLoadTimeline(void* getInstanceProcAddr, void* instance, void* device, dvkTimelineProcs* out) {
	dvkGetInstanceProcAddr gipa = (dvkGetInstanceProcAddr)getInstanceProcAddr;
	if (gipa == NULL) {
		return 0;
	}
	dvkGetDeviceProcAddr gdpa = (dvkGetDeviceProcAddr)gipa(instance, "vkGetDeviceProcAddr");
	if (gdpa == NULL) {
		return 0;
	}
	out->waitSemaphores = (dvkWaitSemaphoresFn)dvkDeviceProc(gdpa, device,
		"vkWaitSemaphores", "vkWaitSemaphoresKHR");
	out->getSemaphoreCounterValue = (dvkGetSemaphoreCounterValueFn)dvkDeviceProc(gdpa, device,
		"vkGetSemaphoreCounterValue", "vkGetSemaphoreCounterValueKHR");
	out->signalSemaphore = (dvkSignalSemaphoreFn)dvkDeviceProc(gdpa, device,
		"vkSignalSemaphore", "vkSignalSemaphoreKHR");
	return out->waitSemaphores != NULL &&
		out->getSemaphoreCounterValue != NULL &&
		out->signalSemaphore != NULL;
}

static int32_t dvkWaitSemaphore(const dvkTimelineProcs* p, void* device, void* semaphore, uint64_t value, uint64_t timeout) {
	dvkSemaphoreWaitInfo info = {
		DVK_STRUCTURE_TYPE_SEMAPHORE_WAIT_INFO, NULL, 0, 1, &semaphore, &value,
	};
	return p->waitSemaphores(device, &info, timeout);
}

static int32_t dvkSemaphoreValue(const dvkTimelineProcs* p, void* device, void* semaphore, uint64_t* value) {
	return p->getSemaphoreCounterValue(device, semaphore, value);
}

static int32_t dvkSignalSemaphore(const dvkTimelineProcs* p, void* device, void* semaphore, uint64_t value) {
	dvkSemaphoreSignalInfo info = {
		DVK_STRUCTURE_TYPE_SEMAPHORE_SIGNAL_INFO, NULL, semaphore, value,
	};
	return p->signalSemaphore(device, &info);
}

static dvkPhysicalDeviceTimelineSemaphoreFeatures* dvkNewTimelineFeatures(void) {
	dvkPhysicalDeviceTimelineSemaphoreFeatures* f = calloc(1, sizeof(*f));
	if (f != NULL) {
		f->sType = DVK_STRUCTURE_TYPE_PHYSICAL_DEVICE_TIMELINE_SEMAPHORE_FEATURES;
		f->timelineSemaphore = 1;
	}
	return f;
}

static dvkSemaphoreTypeCreateInfo* dvkNewSemaphoreTypeInfo(uint64_t initial) {
	dvkSemaphoreTypeCreateInfo* info = calloc(1, sizeof(*info));
	if (info != NULL) {
		info->sType = DVK_STRUCTURE_TYPE_SEMAPHORE_TYPE_CREATE_INFO;
		info->semaphoreType = DVK_SEMAPHORE_TYPE_TIMELINE;
		info->initialValue = initial;
	}
	return info;
}

// The value arrays trail the struct in the same allocation.
static dvkTimelineSemaphoreSubmitInfo* dvkNewTimelineSubmitInfo(uint32_t waits, uint32_t signals) {
	dvkTimelineSemaphoreSubmitInfo* info = calloc(1, sizeof(*info) + sizeof(uint64_t) * (waits + signals));
	if (info != NULL) {
		uint64_t* values = (uint64_t*)(info + 1);
		info->sType = DVK_STRUCTURE_TYPE_TIMELINE_SEMAPHORE_SUBMIT_INFO;
		info->waitSemaphoreValueCount = waits;
		info->pWaitSemaphoreValues = values;
		info->signalSemaphoreValueCount = signals;
		info->pSignalSemaphoreValues = values + waits;
	}
	return info;
}
*/
import "C"

import (
	"unsafe"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

// timelineProcs are the device level timeline semaphore entry points,
// resolved through vkGetDeviceProcAddr when the device is opened.
type timelineProcs struct {
	p C.dvkTimelineProcs
}

func (t *timelineProcs) load(inst vk.Instance, dev vk.Device) error {
	if C.dvkLoadTimeline(getInstanceProcAddr, unsafe.Pointer(inst), unsafe.Pointer(dev), &t.p) == 0 {
		return errors.Wrap(resultErr(vk.ErrorFeatureNotPresent), "vulkan: timeline semaphore entry points")
	}
	return nil
}

func (t *timelineProcs) wait(dev vk.Device, sem vk.Semaphore, value, timeout uint64) vk.Result {
	return vk.Result(C.dvkWaitSemaphore(&t.p, unsafe.Pointer(dev), unsafe.Pointer(sem), C.uint64_t(value), C.uint64_t(timeout)))
}

func (t *timelineProcs) value(dev vk.Device, sem vk.Semaphore) (uint64, vk.Result) {
	var v C.uint64_t
	ret := C.dvkSemaphoreValue(&t.p, unsafe.Pointer(dev), unsafe.Pointer(sem), &v)
	return uint64(v), vk.Result(ret)
}

func (t *timelineProcs) signal(dev vk.Device, sem vk.Semaphore, value uint64) vk.Result {
	return vk.Result(C.dvkSignalSemaphore(&t.p, unsafe.Pointer(dev), unsafe.Pointer(sem), C.uint64_t(value)))
}

// timelineFeatures is the pNext entry enabling timeline semaphores at device
// creation. The caller frees it after vkCreateDevice returns.
func timelineFeatures() unsafe.Pointer {
	return unsafe.Pointer(C.dvkNewTimelineFeatures())
}

func semaphoreTypeInfo(initial uint64) unsafe.Pointer {
	return unsafe.Pointer(C.dvkNewSemaphoreTypeInfo(C.uint64_t(initial)))
}

func timelineSubmitInfo(waits, signals []uint64) unsafe.Pointer {
	info := C.dvkNewTimelineSubmitInfo(C.uint32_t(len(waits)), C.uint32_t(len(signals)))
	if info == nil {
		return nil
	}
	if n := len(waits) + len(signals); n > 0 {
		values := unsafe.Slice((*uint64)(unsafe.Pointer(info.pWaitSemaphoreValues)), n)
		copy(values, waits)
		copy(values[len(waits):], signals)
	}
	return unsafe.Pointer(info)
}

func freeChain(p unsafe.Pointer) {
	C.free(p)
}
