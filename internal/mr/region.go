// Package mr implements registered memory regions: the byte-addressable
// buffers RDMA_WRITE/RDMA_READ/atomic operations target, validated by
// (remote_addr, rkey, length) before any access: a bounds-checked
// byte-slice-over-an-allocation, addressed by virtual address plus rkey
// rather than a block offset.
package mr

import (
	"sync"
)

// AccessFlags mirrors the verbs access-flag bitmask controlling which
// remote operations a region permits.
type AccessFlags uint32

const (
	AccessLocalWrite AccessFlags = 1 << iota
	AccessRemoteWrite
	AccessRemoteRead
	AccessRemoteAtomic
)

// Region is one registered memory region.
type Region struct {
	Addr   uint64
	Length uint32
	RKey   uint32
	Access AccessFlags
	Buf    []byte
}

// Validate checks that [addr, addr+length) lies within the region and
// that rkey matches, then returns the backing slice for that range. The
// single-worker-per-device model (spec §5) serializes every access to a
// region's backing buffer, so no internal locking is needed here — only
// the Registry's membership map is mutated concurrently with device
// teardown/creation, and that is guarded separately.
func (r *Region) Validate(addr uint64, rkey uint32, length uint32) ([]byte, bool) {
	if rkey != r.RKey {
		return nil, false
	}
	if addr < r.Addr || addr+uint64(length) > r.Addr+uint64(r.Length) {
		return nil, false
	}
	off := addr - r.Addr
	return r.Buf[off : off+uint64(length)], true
}

// Registry is a device's set of registered memory regions, keyed by rkey.
type Registry struct {
	mu      sync.RWMutex
	regions map[uint32]*Region
}

// NewRegistry creates an empty region registry.
func NewRegistry() *Registry {
	return &Registry{regions: make(map[uint32]*Region)}
}

// Register adds a region, keyed by its RKey.
func (reg *Registry) Register(r *Region) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.regions[r.RKey] = r
}

// Deregister removes the region with the given rkey.
func (reg *Registry) Deregister(rkey uint32) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.regions, rkey)
}

// Validate resolves (addr, rkey, length) against the registry's regions;
// this method's signature matches internal/rc's RKeyValidator exactly so
// it can be passed directly as one.
func (reg *Registry) Validate(addr uint64, rkey uint32, length uint32) ([]byte, bool) {
	reg.mu.RLock()
	r, ok := reg.regions[rkey]
	reg.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return r.Validate(addr, rkey, length)
}
