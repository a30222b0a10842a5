// Package hal detects the hardware present in the machine and initializes
// the matching device drivers.
package hal

import (
	"kboot/device"
	"kboot/kernel/kfmt"
	"sort"
)

// managedDevices contains the devices discovered by the HAL.
type managedDevices struct {
	// activeDrivers tracks all initialized device drivers.
	activeDrivers []device.Driver
}

// maxPrefixLen bounds the "[hal] name(x.y.z): " prefix of driver output.
const maxPrefixLen = 64

// prefixBuffer is an io.Writer backed by a fixed array. Writes beyond its
// capacity are truncated.
type prefixBuffer struct {
	data [maxPrefixLen]byte
	len  int
}

func (b *prefixBuffer) Write(p []byte) (int, error) {
	n := copy(b.data[b.len:], p)
	b.len += n
	return len(p), nil
}

func (b *prefixBuffer) Bytes() []byte {
	return b.data[:b.len]
}

var (
	devices managedDevices

	// driverLog is handed to each driver's DriverInit; its prefix
	// identifies the driver.
	driverLog kfmt.PrefixWriter
	prefixBuf prefixBuffer

	// activeDriverStore backs devices.activeDrivers so that detection does
	// not need an allocator.
	activeDriverStore [16]device.Driver
)

// ActiveDrivers returns the drivers that were successfully initialized by
// DetectHardware.
func ActiveDrivers() []device.Driver {
	return devices.activeDrivers
}

// DetectHardware probes for hardware devices and initializes the appropriate
// drivers.
func DetectHardware() {
	// Get driver list and sort by detection priority
	drivers := device.DriverList()
	sort.Sort(drivers)

	probe(drivers)
}

// probe executes the probe function for each driver and keeps track of
// each successfully initialized driver.
func probe(driverInfoList device.DriverInfoList) {
	if devices.activeDrivers == nil {
		devices.activeDrivers = activeDriverStore[:0]
	}

	for _, info := range driverInfoList {
		drv := info.Probe()
		if drv == nil {
			continue
		}

		prefixBuf.len = 0
		major, minor, patch := drv.DriverVersion()
		kfmt.Fprintf(&prefixBuf, "[hal] %s(%d.%d.%d): ", drv.DriverName(), major, minor, patch)
		driverLog.Prefix = prefixBuf.Bytes()

		if err := drv.DriverInit(&driverLog); err != nil {
			kfmt.Fprintf(&driverLog, "init failed: %s\n", err.Message)
			continue
		}

		kfmt.Fprintf(&driverLog, "initialized\n")
		if len(devices.activeDrivers) < cap(devices.activeDrivers) {
			devices.activeDrivers = append(devices.activeDrivers, drv)
		}
	}
}
