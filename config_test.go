package pib

import (
	"context"
	"testing"
)

func TestDefaultDeviceParamsToOptions(t *testing.T) {
	p := DefaultDeviceParams()
	p.Verbose = true
	opts := p.ToOptions(context.Background())
	if opts.NumPorts != DefaultPortsPerDevice {
		t.Errorf("expected NumPorts=%d, got %d", DefaultPortsPerDevice, opts.NumPorts)
	}
	if opts.CQDepth != DefaultCQDepth {
		t.Errorf("expected CQDepth=%d, got %d", DefaultCQDepth, opts.CQDepth)
	}
	if opts.Logger == nil {
		t.Error("expected a non-nil logger")
	}
}

func TestDefaultSwitchParamsToFabricOptions(t *testing.T) {
	p := DefaultSwitchParams()
	p.NodeDescription = "my-switch"
	opts := p.ToFabricOptions(context.Background())
	if opts.NumPorts != DefaultSwitchPorts {
		t.Errorf("expected NumPorts=%d, got %d", DefaultSwitchPorts, opts.NumPorts)
	}
	if opts.NodeDescription != "my-switch" {
		t.Errorf("expected NodeDescription %q, got %q", "my-switch", opts.NodeDescription)
	}
}

func TestDeviceParamsCreatesWorkingDevice(t *testing.T) {
	p := DefaultDeviceParams()
	dev, err := CreateDevice(1, p.ToOptions(context.Background()))
	if err != nil {
		t.Fatalf("CreateDevice: %v", err)
	}
	defer dev.Close()
	if dev.PortAddr(0) == nil {
		t.Error("expected port 0 to be bound")
	}
}
