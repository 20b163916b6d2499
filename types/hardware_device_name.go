// hardware_device_name.go defines the HardwareDeviceName type.

package types

// HardwareDeviceName is the device path or name passed to the hardware
// context (for example "/dev/dri/renderD128"); empty means "default".
type HardwareDeviceName string

func (n HardwareDeviceName) String() string {
	if n == "" {
		return "<default>"
	}
	return string(n)
}
