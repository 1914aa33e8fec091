// Package placement carries the caller-supplied device placement decision
// into Create, replacing the original implementation's ambient
// "current device id" global with an explicit parameter.
package placement

import "github.com/vk/tensorsched/internal/deviceid"

// Hint names the device a Create call's results (and the op producing them)
// should be placed on.
type Hint struct {
	Device deviceid.Device
}
