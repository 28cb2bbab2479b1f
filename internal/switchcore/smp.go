// Package switchcore implements the emulated switch of spec §4.7: UDP
// relay, the directed-route SMP walker, LID-routed SMP dispatch, the
// subnet-management attribute handlers, and per-port PMA counters.
package switchcore

// MgmtClass distinguishes the two SMP routing disciplines.
type MgmtClass uint8

const (
	ClassSubnLIDRouted     MgmtClass = 0x01
	ClassSubnDirectedRoute MgmtClass = 0x81
)

// Method is the SMP method field.
type Method uint8

const (
	MethodGet Method = 0x01
	MethodSet Method = 0x02
)

// Attribute identifies a subnet-management attribute.
type Attribute uint16

const (
	AttrNodeDescription Attribute = 0x0010
	AttrNodeInfo        Attribute = 0x0011
	AttrSwitchInfo      Attribute = 0x0012
	AttrGUIDInfo        Attribute = 0x0014
	AttrPortInfo        Attribute = 0x0015
	AttrPKeyTable       Attribute = 0x0016
	AttrSLToVL          Attribute = 0x0017
	AttrVLArb           Attribute = 0x0018
	AttrLinearFwdTable  Attribute = 0x0019
	AttrRandomFwdTable  Attribute = 0x001A
	AttrMulticastFwdTable Attribute = 0x001B

	// AttrPortCounters is PerfMgt's PortCounters attribute, folded into this
	// emulator's single SMP attribute space per the PortCountersHandler
	// doc comment's simplification note.
	AttrPortCounters Attribute = 0x001C
)

// Status bits conveyed in the response SMP's status field.
const (
	StatusOK              uint16 = 0x0000
	StatusUnsupMethod     uint16 = 0x0001 << 2
	StatusUnsupMethodAttr uint16 = 0x0002 << 2
	StatusInvalidField    uint16 = 0x0003 << 2
	DirectionBit          uint16 = 0x8000
)

// PermissiveLID is the wildcard LID 0xFFFF, used for directed-route
// traffic and the dr_slid-permissive rewrite on the terminal hop.
const PermissiveLID uint16 = 0xFFFF

// MaxHops bounds initial_path/return_path, matching the IBTA-defined
// directed-route SMP payload (64 hops).
const MaxHops = 64

// DRSMP is a directed-route subnet-management packet.
type DRSMP struct {
	Class       MgmtClass
	Method      Method
	Attribute   Attribute
	AttrMod     uint32
	Status      uint16
	HopPtr      uint8
	HopCnt      uint8
	InitialPath [MaxHops]uint8
	ReturnPath  [MaxHops]uint8
	DRSLID      uint16
	DRDLID      uint16
	Data        [64]byte
}

func (s *DRSMP) outbound() bool { return s.Status&DirectionBit == 0 }

// WalkResult tells the caller what to do with a directed-route SMP after
// one hop of processing.
type WalkResult struct {
	Forward    bool
	OutPort    uint8
	Terminal   bool   // the attribute handler should run and a reply sent
	Assert     bool   // unreachable per spec §4.7 ("switch must not receive this")
	RewriteSLID bool  // dr_slid was permissive; rewrite lrh.slid to PERMISSIVE on reply
}

// WalkDirectedRoute advances smp by one hop, per spec §4.7's four
// transitions and §12's dr_slid-permissive supplement. ingressPort is the
// port the packet arrived on.
func WalkDirectedRoute(smp *DRSMP, ingressPort uint8) WalkResult {
	if smp.outbound() {
		switch {
		case smp.HopPtr == 0:
			return WalkResult{Assert: true}
		case smp.HopPtr < smp.HopCnt:
			smp.ReturnPath[smp.HopPtr] = ingressPort
			smp.HopPtr++
			return WalkResult{Forward: true, OutPort: smp.InitialPath[smp.HopPtr]}
		case smp.HopPtr == smp.HopCnt && smp.DRDLID == PermissiveLID:
			smp.Status |= DirectionBit
			smp.HopPtr--
			rewrite := smp.DRSLID == PermissiveLID
			return WalkResult{Terminal: true, Forward: true, OutPort: ingressPort, RewriteSLID: rewrite}
		default:
			return WalkResult{Assert: true}
		}
	}

	// Returning.
	smp.HopPtr--
	return WalkResult{Forward: true, OutPort: smp.ReturnPath[smp.HopPtr]}
}

// AttributeHandler implements GET/SET for one attribute. Get returns the
// current value; Set mutates state and returns the new value (so the
// reply can echo it per spec §4.7), or an error status.
type AttributeHandler interface {
	Get(attrMod uint32) (data [64]byte, status uint16)
	Set(attrMod uint32, data [64]byte) (newData [64]byte, status uint16)
}

// AttributeRegistry maps attributes to handlers; attributes with no
// registered handler reply UNSUP_METH_ATTR per spec §9's open question.
type AttributeRegistry map[Attribute]AttributeHandler

// Dispatch handles one terminal (or LID-routed-local) SMP GET/SET against
// reg, implementing spec §4.7's method/attribute/field error precedence:
// unsupported method, then unsupported attribute, then the handler's own
// field validation. On SET, an error status (other than the direction bit)
// skips the GET and echoes the error.
func (reg AttributeRegistry) Dispatch(method Method, attr Attribute, attrMod uint32, data [64]byte) (out [64]byte, status uint16) {
	if method != MethodGet && method != MethodSet {
		return data, StatusUnsupMethod
	}
	h, ok := reg[attr]
	if !ok {
		return data, StatusUnsupMethodAttr
	}
	if method == MethodGet {
		return h.Get(attrMod)
	}
	newData, setStatus := h.Set(attrMod, data)
	if setStatus&^DirectionBit != 0 {
		return newData, setStatus
	}
	getData, getStatus := h.Get(attrMod)
	return getData, getStatus
}
