package switchcore

import "encoding/binary"

// NodeDescriptionHandler implements the fixed 64-byte ASCII node string
// (spec §4.7); it never accepts SET.
type NodeDescriptionHandler struct {
	Description [64]byte
}

func (h *NodeDescriptionHandler) Get(uint32) ([64]byte, uint16) {
	return h.Description, StatusOK
}

func (h *NodeDescriptionHandler) Set(uint32, [64]byte) ([64]byte, uint16) {
	return h.Description, StatusUnsupMethod
}

// NodeInfoHandler reports the switch's fixed node identity.
type NodeInfoHandler struct {
	SystemImageGUID uint64
	NodeGUID        uint64
	PortGUID        uint64
	NumPorts        uint8
	VendorID        uint32
	DeviceID        uint16
}

func (h *NodeInfoHandler) Get(uint32) (out [64]byte, status uint16) {
	binary.BigEndian.PutUint64(out[0:], h.SystemImageGUID)
	binary.BigEndian.PutUint64(out[8:], h.NodeGUID)
	binary.BigEndian.PutUint64(out[16:], h.PortGUID)
	binary.BigEndian.PutUint16(out[24:], uint16(h.DeviceID))
	binary.BigEndian.PutUint32(out[26:], h.VendorID)
	out[33] = h.NumPorts
	return out, StatusOK
}

func (h *NodeInfoHandler) Set(_ uint32, data [64]byte) ([64]byte, uint16) {
	return data, StatusUnsupMethod
}

// SwitchInfoHandler holds the mutable switch-wide fields: forwarding-table
// capacities and top, default port, lifetime, and the enforced-unicast-only
// flag.
type SwitchInfoHandler struct {
	LinearFDBCap  uint16
	RandomFDBCap  uint16
	MulticastFDBCap uint16
	LinearFDBTop  uint16
	DefaultPort   uint8
	LifeTimeValue uint8
	EnforceUcast  bool
}

func (h *SwitchInfoHandler) Get(uint32) (out [64]byte, status uint16) {
	binary.BigEndian.PutUint16(out[0:], h.LinearFDBCap)
	binary.BigEndian.PutUint16(out[2:], h.RandomFDBCap)
	binary.BigEndian.PutUint16(out[4:], h.MulticastFDBCap)
	binary.BigEndian.PutUint16(out[6:], h.LinearFDBTop)
	out[8] = h.DefaultPort
	out[9] = h.LifeTimeValue
	if h.EnforceUcast {
		out[10] = 1
	}
	return out, StatusOK
}

func (h *SwitchInfoHandler) Set(_ uint32, data [64]byte) ([64]byte, uint16) {
	h.LinearFDBTop = binary.BigEndian.Uint16(data[6:])
	h.DefaultPort = data[8]
	h.LifeTimeValue = data[9]
	h.EnforceUcast = data[10] != 0
	return data, StatusOK
}

// GUIDInfoHandler holds per-block GUID tables; attrMod selects the block.
type GUIDInfoHandler struct {
	Blocks map[uint32][8]uint64
}

func (h *GUIDInfoHandler) Get(attrMod uint32) (out [64]byte, status uint16) {
	block := h.Blocks[attrMod]
	for i, g := range block {
		binary.BigEndian.PutUint64(out[i*8:], g)
	}
	return out, StatusOK
}

func (h *GUIDInfoHandler) Set(attrMod uint32, data [64]byte) ([64]byte, uint16) {
	if h.Blocks == nil {
		h.Blocks = make(map[uint32][8]uint64)
	}
	var block [8]uint64
	for i := range block {
		block[i] = binary.BigEndian.Uint64(data[i*8:])
	}
	h.Blocks[attrMod] = block
	return data, StatusOK
}

// PortInfoHandler holds per-port state; attrMod is the port number
// (0 = switch port, the IBTA convention).
type PortInfoHandler struct {
	Ports map[uint32]*PortState
}

// PortState is the mutable per-port management state surfaced through
// PortInfo GET/SET.
type PortState struct {
	LID          uint16
	LMC          uint8
	LinkWidth    uint8
	LinkSpeed    uint8
	PortState    uint8 // 1=Down 2=Init 3=Armed 4=Active
	PhysState    uint8
	MTUCap       uint8
}

func (h *PortInfoHandler) Get(attrMod uint32) (out [64]byte, status uint16) {
	p, ok := h.Ports[attrMod]
	if !ok {
		return out, StatusInvalidField
	}
	binary.BigEndian.PutUint16(out[0:], p.LID)
	out[2] = p.LMC
	out[3] = p.LinkWidth
	out[4] = p.LinkSpeed
	out[5] = p.PortState
	out[6] = p.PhysState
	out[7] = p.MTUCap
	return out, StatusOK
}

func (h *PortInfoHandler) Set(attrMod uint32, data [64]byte) ([64]byte, uint16) {
	p, ok := h.Ports[attrMod]
	if !ok {
		return data, StatusInvalidField
	}
	p.LID = binary.BigEndian.Uint16(data[0:])
	p.LMC = data[2]
	if s := data[5]; s != 0 {
		p.PortState = s
	}
	var out [64]byte
	return out, StatusOK
}

// PKeyTableHandler holds per-port PKey blocks, 32 entries each.
type PKeyTableHandler struct {
	Blocks map[uint32][32]uint16
}

func (h *PKeyTableHandler) Get(attrMod uint32) (out [64]byte, status uint16) {
	block := h.Blocks[attrMod]
	for i, k := range block {
		binary.BigEndian.PutUint16(out[i*2:], k)
	}
	return out, StatusOK
}

func (h *PKeyTableHandler) Set(attrMod uint32, data [64]byte) ([64]byte, uint16) {
	if h.Blocks == nil {
		h.Blocks = make(map[uint32][32]uint16)
	}
	var block [32]uint16
	for i := range block {
		block[i] = binary.BigEndian.Uint16(data[i*2:])
	}
	h.Blocks[attrMod] = block
	return data, StatusOK
}

// SLToVLHandler and VLArbHandler are accepted but inert: the emulator does
// not model per-VL arbitration (spec Non-goals), so SET always succeeds
// and GET returns the last-written bytes verbatim, matching real switch
// firmware behavior toward management tools that probe unsupported QoS.
type SLToVLHandler struct{ data [64]byte }

func (h *SLToVLHandler) Get(uint32) ([64]byte, uint16) { return h.data, StatusOK }
func (h *SLToVLHandler) Set(_ uint32, data [64]byte) ([64]byte, uint16) {
	h.data = data
	return data, StatusOK
}

type VLArbHandler struct{ data [64]byte }

func (h *VLArbHandler) Get(uint32) ([64]byte, uint16) { return h.data, StatusOK }
func (h *VLArbHandler) Set(_ uint32, data [64]byte) ([64]byte, uint16) {
	h.data = data
	return data, StatusOK
}

// RouteSetter is the subset of Switch this handler needs to make a
// LinearForwardingTable SET take effect on the relay path; declared locally
// for the same reason as MulticastPortSetter.
type RouteSetter interface {
	SetRoute(lid uint16, port uint8)
}

// LinearFwdTableHandler holds 64 LID-to-port entries per block and, on SET,
// installs each entry into Table so relayUnicast actually honors it — a
// block with no installed Table only tracks state for GET, matching how
// this handler behaves in tests that construct it bare.
type LinearFwdTableHandler struct {
	Blocks map[uint32][64]uint8
	MaxLID uint16
	Table  RouteSetter
}

func (h *LinearFwdTableHandler) Get(attrMod uint32) (out [64]byte, status uint16) {
	block := h.Blocks[attrMod]
	copy(out[:], block[:])
	return out, StatusOK
}

func (h *LinearFwdTableHandler) Set(attrMod uint32, data [64]byte) ([64]byte, uint16) {
	if h.Blocks == nil {
		h.Blocks = make(map[uint32][64]uint8)
	}
	var block [64]uint8
	copy(block[:], data[:])
	h.Blocks[attrMod] = block
	if h.Table != nil {
		base := attrMod * 64
		for i, port := range block {
			h.Table.SetRoute(uint16(base+uint32(i)), port)
		}
	}
	return data, StatusOK
}

// RandomFwdTableHandler is accepted for protocol completeness (spec §4.7
// lists it among handled attributes) but the emulator only ever installs
// linear routes, so SET rejects with INVALID_FIELD rather than silently
// discarding a route a real test suite would expect to take effect.
type RandomFwdTableHandler struct{}

func (h *RandomFwdTableHandler) Get(uint32) ([64]byte, uint16) {
	var out [64]byte
	return out, StatusOK
}

func (h *RandomFwdTableHandler) Set(_ uint32, data [64]byte) ([64]byte, uint16) {
	return data, StatusInvalidField
}

// MulticastFwdTableHandler bridges PortInfo-style SMP access to the
// mcast.SwitchTable the relay path actually consults, 16 MLIDs per block
// each packed as a 4-byte port bitmask (supports up to 32 ports).
type MulticastFwdTableHandler struct {
	Table     MulticastPortSetter
	BlockBase uint16
}

// MulticastPortSetter is the subset of mcast.SwitchTable this handler
// needs; declared locally so switchcore does not import mcast for a
// single method set.
type MulticastPortSetter interface {
	SetPort(mlid uint16, port uint8, on bool)
	Mask(mlid uint16) uint64
}

func (h *MulticastFwdTableHandler) Get(attrMod uint32) (out [64]byte, status uint16) {
	base := h.BlockBase + uint16(attrMod)*16
	for i := 0; i < 16; i++ {
		mask := uint32(h.Table.Mask(base + uint16(i)))
		binary.BigEndian.PutUint32(out[i*4:], mask)
	}
	return out, StatusOK
}

func (h *MulticastFwdTableHandler) Set(attrMod uint32, data [64]byte) ([64]byte, uint16) {
	base := h.BlockBase + uint16(attrMod)*16
	for i := 0; i < 16; i++ {
		mask := binary.BigEndian.Uint32(data[i*4:])
		mlid := base + uint16(i)
		for p := 0; p < 32; p++ {
			h.Table.SetPort(mlid, uint8(p), mask&(1<<uint(p)) != 0)
		}
	}
	return data, StatusOK
}
