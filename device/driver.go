package device

import (
	"io"
	"kboot/kernel"
)

// Driver is an interface implemented by all drivers.
type Driver interface {
	// DriverName returns the name of the driver.
	DriverName() string

	// DriverVersion returns the driver version.
	DriverVersion() (major uint16, minor uint16, patch uint16)

	// DriverInit initializes the device driver. If the driver init code
	// needs to log some output, it can use the supplied io.Writer in
	// conjunction with a call to kfmt.Fprint.
	DriverInit(io.Writer) *kernel.Error
}

// ProbeFn is a function that scans for the presence of a particular
// piece of hardware and returns a driver for it.
type ProbeFn func() Driver

// DetectOrder specifies when each driver's probe function will be invoked
// by the hal package.
type DetectOrder int8

const (
	// DetectOrderEarly specifies that the driver's probe function should
	// be executed at the beginning of the HW detection phase. Interrupt
	// controllers use this order so that every later driver can rely on
	// interrupt vectors being routed.
	DetectOrderEarly DetectOrder = -128

	// DetectOrderBeforePlatform specifies that the driver's probe
	// function should be executed before attempting to detect platform
	// devices.
	DetectOrderBeforePlatform DetectOrder = -1

	// DetectOrderPlatform specifies that the driver's probe function
	// should be executed together with the other platform device probes.
	DetectOrderPlatform DetectOrder = 0

	// DetectOrderLast specifies that the driver's probe function should
	// be executed at the end of the HW detection phase.
	DetectOrderLast DetectOrder = 127
)

// DriverInfo is used by device drivers to register themselves with the hal.
type DriverInfo struct {
	// Order specifies at which stage of the HW detection process should
	// this driver's probe function be invoked.
	Order DetectOrder

	// Probe is a function that checks for the presence of a particular
	// piece of hardware and returns back a driver for it.
	Probe ProbeFn
}

// DriverInfoList is a list of registered drivers that implements
// sort.Interface.
type DriverInfoList []*DriverInfo

// Len returns the length of the driver info list.
func (l DriverInfoList) Len() int { return len(l) }

// Swap exchanges 2 elements in the driver info list.
func (l DriverInfoList) Swap(i, j int) { l[i], l[j] = l[j], l[i] }

// Less compares 2 elements of the driver info list by their detection order.
func (l DriverInfoList) Less(i, j int) bool { return l[i].Order < l[j].Order }

// registeredDrivers is backed by a fixed-size array since drivers register
// themselves from init() functions that run before any allocator exists.
var (
	registeredDriverStore [maxRegisteredDrivers]*DriverInfo
	registeredDrivers     = DriverInfoList(registeredDriverStore[:0])
)

const maxRegisteredDrivers = 16

// RegisterDriver adds the supplied driver info object to the list of
// registered drivers. The list can be retrieved by calling DriverList.
// Registrations beyond the list capacity are silently dropped.
func RegisterDriver(info *DriverInfo) {
	if len(registeredDrivers) == cap(registeredDrivers) {
		return
	}
	registeredDrivers = append(registeredDrivers, info)
}

// DriverList returns the list of registered drivers.
func DriverList() DriverInfoList {
	return registeredDrivers
}
