package pib

import (
	"context"

	"github.com/ibemu/pib/internal/logging"
)

// DeviceParams is the CLI-facing configuration for a host device: a flat,
// flag-friendly struct that cmd/pib-host parses into, then translates to
// an Options for CreateDevice.
type DeviceParams struct {
	ListenAddr string
	NumPorts   int
	CQDepth    int
	PathMTU    uint32
	Verbose    bool

	// FabricAddr, if set, is announced to on startup via
	// Device.AnnounceToFabric once the device's ports are bound.
	FabricAddr string
}

// DefaultDeviceParams returns the parameter set cmd/pib-host starts from
// before flag overrides are applied.
func DefaultDeviceParams() *DeviceParams {
	return &DeviceParams{
		ListenAddr: "127.0.0.1:0",
		NumPorts:   DefaultPortsPerDevice,
		CQDepth:    DefaultCQDepth,
		PathMTU:    MaxMTU,
	}
}

// ToOptions builds the Options CreateDevice expects, wiring a logger at
// the level Verbose selects.
func (p *DeviceParams) ToOptions(ctx context.Context) *Options {
	logLevel := logging.LevelInfo
	if p.Verbose {
		logLevel = logging.LevelDebug
	}
	logger := logging.NewLogger(&logging.Config{Level: logLevel, Output: logging.DefaultConfig().Output})
	return &Options{
		Context:    ctx,
		Logger:     logger,
		NumPorts:   p.NumPorts,
		ListenAddr: p.ListenAddr,
		CQDepth:    p.CQDepth,
		PathMTU:    p.PathMTU,
	}
}

// SwitchParams is the CLI-facing configuration for a switch fabric, the
// switch-side counterpart to DeviceParams.
type SwitchParams struct {
	ListenAddr      string
	NumPorts        int
	NodeDescription string
	SystemImageGUID uint64
	NodeGUID        uint64
	VendorID        uint32
	DeviceID        uint16
	Verbose         bool
}

// DefaultSwitchParams returns the parameter set cmd/pib-switch starts
// from before flag overrides are applied.
func DefaultSwitchParams() *SwitchParams {
	return &SwitchParams{
		ListenAddr:      "127.0.0.1:0",
		NumPorts:        DefaultSwitchPorts,
		NodeDescription: "pib-switch",
	}
}

// ToFabricOptions builds the FabricOptions CreateFabric expects.
func (p *SwitchParams) ToFabricOptions(ctx context.Context) *FabricOptions {
	logLevel := logging.LevelInfo
	if p.Verbose {
		logLevel = logging.LevelDebug
	}
	logger := logging.NewLogger(&logging.Config{Level: logLevel, Output: logging.DefaultConfig().Output})
	return &FabricOptions{
		Context:         ctx,
		Logger:          logger,
		NumPorts:        p.NumPorts,
		ListenAddr:      p.ListenAddr,
		NodeDescription: p.NodeDescription,
		SystemImageGUID: p.SystemImageGUID,
		NodeGUID:        p.NodeGUID,
		VendorID:        p.VendorID,
		DeviceID:        p.DeviceID,
	}
}
