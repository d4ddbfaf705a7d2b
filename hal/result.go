package hal

import "fmt"

// Result mirrors VkResult. Negative values are failures.
type Result int32

const (
	Success                   Result = 0
	NotReady                  Result = 1
	Timeout                   Result = 2
	Incomplete                Result = 5
	Suboptimal                Result = 1000001003
	ErrorOutOfHostMemory      Result = -1
	ErrorOutOfDeviceMemory    Result = -2
	ErrorInitializationFailed Result = -3
	ErrorDeviceLost           Result = -4
	ErrorMemoryMapFailed      Result = -5
	ErrorLayerNotPresent      Result = -6
	ErrorExtensionNotPresent  Result = -7
	ErrorFeatureNotPresent    Result = -8
	ErrorTooManyObjects       Result = -10
	ErrorFormatNotSupported   Result = -11
	ErrorFragmentedPool       Result = -12
	ErrorUnknown              Result = -13
	ErrorOutOfPoolMemory      Result = -1000069000
	ErrorSurfaceLost          Result = -1000000000
	ErrorNativeWindowInUse    Result = -1000000001
	ErrorOutOfDate            Result = -1000001004
	ErrorValidationFailed     Result = -1000011001
)

var resultNames = map[Result]string{
	Success:                   "Success",
	NotReady:                  "NotReady",
	Timeout:                   "Timeout",
	Incomplete:                "Incomplete",
	Suboptimal:                "Suboptimal",
	ErrorOutOfHostMemory:      "ErrorOutOfHostMemory",
	ErrorOutOfDeviceMemory:    "ErrorOutOfDeviceMemory",
	ErrorInitializationFailed: "ErrorInitializationFailed",
	ErrorDeviceLost:           "ErrorDeviceLost",
	ErrorMemoryMapFailed:      "ErrorMemoryMapFailed",
	ErrorLayerNotPresent:      "ErrorLayerNotPresent",
	ErrorExtensionNotPresent:  "ErrorExtensionNotPresent",
	ErrorFeatureNotPresent:    "ErrorFeatureNotPresent",
	ErrorTooManyObjects:       "ErrorTooManyObjects",
	ErrorFormatNotSupported:   "ErrorFormatNotSupported",
	ErrorFragmentedPool:       "ErrorFragmentedPool",
	ErrorUnknown:              "ErrorUnknown",
	ErrorOutOfPoolMemory:      "ErrorOutOfPoolMemory",
	ErrorSurfaceLost:          "ErrorSurfaceLost",
	ErrorNativeWindowInUse:    "ErrorNativeWindowInUse",
	ErrorOutOfDate:            "ErrorOutOfDate",
	ErrorValidationFailed:     "ErrorValidationFailed",
}

func (r Result) String() string {
	if name, ok := resultNames[r]; ok {
		return name
	}
	return fmt.Sprintf("Result(%d)", int32(r))
}

// Error implements error so a failed Result can be wrapped and matched
// with errors.Is.
func (r Result) Error() string {
	return fmt.Sprintf("%s (%d)", r.String(), int32(r))
}

// Failed reports whether r is an error code.
func (r Result) Failed() bool { return r < 0 }

// Err returns nil for non-negative results and r otherwise.
func (r Result) Err() error {
	if r.Failed() {
		return r
	}
	return nil
}
