package hal

import (
	"bytes"
	"io"
	"kboot/device"
	"kboot/kernel"
	"kboot/kernel/kfmt"
	"testing"
)

type mockDriver struct {
	name    string
	initErr *kernel.Error
	inits   int
}

func (d *mockDriver) DriverName() string { return d.name }
func (d *mockDriver) DriverVersion() (uint16, uint16, uint16) { return 1, 2, 3 }
func (d *mockDriver) DriverInit(w io.Writer) *kernel.Error {
	d.inits++
	kfmt.Fprintf(w, "init\n")
	return d.initErr
}

func TestProbe(t *testing.T) {
	defer func() {
		devices = managedDevices{}
		kfmt.SetOutputSink(nil)
	}()

	var buf bytes.Buffer
	kfmt.SetOutputSink(&buf)

	okDrv := &mockDriver{name: "good"}
	badDrv := &mockDriver{name: "bad", initErr: &kernel.Error{Module: "test", Message: "no device"}}

	probe(device.DriverInfoList{
		{Order: device.DetectOrderEarly, Probe: func() device.Driver { return okDrv }},
		{Order: device.DetectOrderPlatform, Probe: func() device.Driver { return nil }},
		{Order: device.DetectOrderLast, Probe: func() device.Driver { return badDrv }},
	})

	exp := "[hal] good(1.2.3): init\n[hal] good(1.2.3): initialized\n[hal] bad(1.2.3): init\n[hal] bad(1.2.3): init failed: no device\n"
	if got := buf.String(); got != exp {
		t.Errorf("expected output:\n%q\ngot:\n%q", exp, got)
	}

	if okDrv.inits != 1 || badDrv.inits != 1 {
		t.Errorf("expected each driver to be initialized once; got %d and %d", okDrv.inits, badDrv.inits)
	}

	active := ActiveDrivers()
	if len(active) != 1 || active[0] != okDrv {
		t.Errorf("expected only the successfully initialized driver to be active; got %v", active)
	}
}

func TestDetectHardwareOrder(t *testing.T) {
	defer func() {
		devices = managedDevices{}
		kfmt.SetOutputSink(nil)
	}()

	kfmt.SetOutputSink(&bytes.Buffer{})

	var order []string
	probeFor := func(name string) device.ProbeFn {
		return func() device.Driver {
			order = append(order, name)
			return nil
		}
	}

	device.RegisterDriver(&device.DriverInfo{Order: device.DetectOrderLast, Probe: probeFor("last")})
	device.RegisterDriver(&device.DriverInfo{Order: device.DetectOrderEarly, Probe: probeFor("early")})
	device.RegisterDriver(&device.DriverInfo{Order: device.DetectOrderPlatform, Probe: probeFor("platform")})

	DetectHardware()

	exp := []string{"early", "platform", "last"}
	if len(order) != len(exp) {
		t.Fatalf("expected probe order %v; got %v", exp, order)
	}

	for i := range exp {
		if order[i] != exp[i] {
			t.Fatalf("expected probe order %v; got %v", exp, order)
		}
	}
}

func TestDriverDetectionDoesNotAllocate(t *testing.T) {
	defer func() {
		devices = managedDevices{}
		kfmt.SetOutputSink(nil)
	}()

	kfmt.SetOutputSink(nil)

	var (
		okDrv  = &mockDriver{name: "8259A PIC"}
		badDrv = &mockDriver{name: "bad", initErr: &kernel.Error{Module: "test", Message: "no device"}}
		list   = device.DriverInfoList{
			{Order: device.DetectOrderEarly, Probe: func() device.Driver { return okDrv }},
			{Order: device.DetectOrderLast, Probe: func() device.Driver { return badDrv }},
		}
	)

	allocs := testing.AllocsPerRun(5, func() {
		probe(list)
	})

	if allocs != 0 {
		t.Fatalf("expected driver detection not to allocate; got %f allocs per call", allocs)
	}
}

func TestDriverLogPrefixTruncation(t *testing.T) {
	defer func() {
		devices = managedDevices{}
		kfmt.SetOutputSink(nil)
	}()

	var buf bytes.Buffer
	kfmt.SetOutputSink(&buf)

	longName := string(bytes.Repeat([]byte{'d'}, 2*maxPrefixLen))
	drv := &mockDriver{name: longName}
	probe(device.DriverInfoList{
		{Order: device.DetectOrderEarly, Probe: func() device.Driver { return drv }},
	})

	exp := "[hal] " + longName[:maxPrefixLen-len("[hal] ")]
	if got := buf.String(); !bytes.HasPrefix([]byte(got), []byte(exp+"init\n")) {
		t.Fatalf("expected output to start with the truncated prefix %q; got %q", exp, got)
	}
}
