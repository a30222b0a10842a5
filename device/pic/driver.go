package pic

import (
	"io"
	"kboot/device"
	"kboot/kernel"
	"kboot/kernel/kfmt"
)

const (
	// DefaultVectorBase is the first vector raised by IRQ line 0 after
	// the driver initializes. It is the first vector after the 32 that
	// the CPU reserves for exceptions.
	DefaultVectorBase = uint8(0x20)

	// DefaultMask leaves only the timer (line 0) and the keyboard
	// (line 1) enabled.
	DefaultMask = uint16(0xfffc)
)

// Driver exposes the chained 8259A pair as a device.Driver.
type Driver struct{}

// DriverName returns the name of this driver.
func (*Driver) DriverName() string {
	return "8259A PIC"
}

// DriverVersion returns the version of this driver.
func (*Driver) DriverVersion() (uint16, uint16, uint16) {
	return 0, 1, 0
}

// DriverInit moves the IRQ vectors out of the CPU exception range and
// applies the default interrupt mask.
func (*Driver) DriverInit(w io.Writer) *kernel.Error {
	if err := Remap(DefaultVectorBase, DefaultVectorBase+LineCount); err != nil {
		return err
	}
	SetMask(DefaultMask)

	kfmt.Fprintf(w, "IRQ vectors remapped to [0x%x, 0x%x), mask: 0x%4x\n",
		DefaultVectorBase, DefaultVectorBase+LineCount, Mask())
	return nil
}

// probeForPIC always succeeds; every PC-compatible machine provides the
// legacy controller pair.
func probeForPIC() device.Driver {
	return &Driver{}
}

func init() {
	device.RegisterDriver(&device.DriverInfo{
		Order: device.DetectOrderEarly,
		Probe: probeForPIC,
	})
}
