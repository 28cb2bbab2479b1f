// Package wire defines the on-the-wire layout of RDMA packets carried over
// UDP datagrams: LRH, GRH, BTH and the transport-specific extension headers,
// plus the diagnostic footer the switch strips on relay.
package wire

import "unsafe"

// LRH is the Local Route Header, 8 bytes, present on every packet.
type LRH struct {
	VL      uint8  // virtual lane, high nibble; LVer, low nibble (must be 0)
	SLAndLNH uint8 // SL high nibble, reserved bits, LNH low 2 bits
	DLID    uint16
	Length  uint16 // reserved(5)|PktLen(11): length of packet in 4-byte words
	SLID    uint16
}

var _ [8]byte = [unsafe.Sizeof(LRH{})]byte{}

// LNH values selecting what follows LRH.
const (
	LNHRaw      = 0x0
	LNHIPNonIBTransport = 0x1
	LNHIBALocal = 0x2 // BTH follows directly, no GRH
	LNHIBAGlobal = 0x3 // GRH follows, then BTH
)

func (h *LRH) LNH() uint8 { return h.SLAndLNH & 0x3 }
func (h *LRH) SL() uint8  { return h.SLAndLNH >> 4 }
func (h *LRH) SetLNH(v uint8) {
	h.SLAndLNH = (h.SLAndLNH &^ 0x3) | (v & 0x3)
}
func (h *LRH) SetSL(v uint8) {
	h.SLAndLNH = (h.SLAndLNH & 0x3) | (v << 4)
}

// LVer returns the link-version nibble, which must be zero on any packet
// this codec accepts.
func (h *LRH) LVer() uint8 { return h.VL & 0xf }

// PktLenWords returns the packet length in 4-byte words (low 11 bits).
func (h *LRH) PktLenWords() uint16 { return h.Length & 0x7ff }

func (h *LRH) SetPktLenWords(words uint16) {
	h.Length = words & 0x7ff
}

// GRH is the Global Route Header, 40 bytes, present only when LNH selects
// IBA-global routing.
type GRH struct {
	VersionTClassFlow uint32 // version(4)|traffic class(8)|flow label(20)
	PayLen            uint16 // payload length in bytes, following GRH
	NextHeader        uint8
	HopLimit          uint8
	SGID              [16]byte
	DGID              [16]byte
}

var _ [40]byte = [unsafe.Sizeof(GRH{})]byte{}

// BTH is the Base Transport Header, 12 bytes, present on every packet.
type BTH struct {
	OpCode      uint8
	Flags       uint8  // SE(1)|M(1)|PadCnt(2)|TVer(4)
	PKey        uint16
	DestQPHi    uint8  // reserved(8 high bits of the 32-bit word)|DestQP(24)
	DestQPLo    uint16
	AckReqAndPSNHi uint8 // A(1)|Reserved(7)
	PSNLo       uint16
}

var _ [12]byte = [unsafe.Sizeof(BTH{})]byte{}

func (h *BTH) SE() bool      { return h.Flags&0x80 != 0 }
func (h *BTH) Migrated() bool { return h.Flags&0x40 != 0 }
func (h *BTH) PadCnt() uint8 { return (h.Flags >> 4) & 0x3 }
func (h *BTH) TVer() uint8   { return h.Flags & 0xf }

func (h *BTH) SetFlags(se, migrated bool, padCnt, tver uint8) {
	var f uint8
	if se {
		f |= 0x80
	}
	if migrated {
		f |= 0x40
	}
	f |= (padCnt & 0x3) << 4
	f |= tver & 0xf
	h.Flags = f
}

// DestQP returns the 24-bit destination queue pair number.
func (h *BTH) DestQP() uint32 {
	return uint32(h.DestQPHi)<<16 | uint32(h.DestQPLo)
}

func (h *BTH) SetDestQP(qpn uint32) {
	h.DestQPHi = uint8(qpn >> 16)
	h.DestQPLo = uint16(qpn)
}

func (h *BTH) AckReq() bool { return h.AckReqAndPSNHi&0x80 != 0 }

// PSN returns the 24-bit packet sequence number.
func (h *BTH) PSN() uint32 {
	return uint32(h.AckReqAndPSNHi&0x7f)<<16 | uint32(h.PSNLo)
}

func (h *BTH) SetPSN(ackReq bool, psn uint32) {
	hi := uint8((psn >> 16) & 0x7f)
	if ackReq {
		hi |= 0x80
	}
	h.AckReqAndPSNHi = hi
	h.PSNLo = uint16(psn)
}

// DETH is the Datagram Extended Transport Header, 8 bytes, carried on UD
// sends after BTH.
type DETH struct {
	QKey      uint32
	SrcQPHi   uint8
	SrcQPLo   uint16
}

var _ [8]byte = [unsafe.Sizeof(DETH{})]byte{}

func (h *DETH) SrcQP() uint32 { return uint32(h.SrcQPHi)<<16 | uint32(h.SrcQPLo) }
func (h *DETH) SetSrcQP(qpn uint32) {
	h.SrcQPHi = uint8(qpn >> 16)
	h.SrcQPLo = uint16(qpn)
}

// RDETH is the Reliable-Datagram Extended Transport Header, 4 bytes.
// Spec 4.6 carries it ahead of AETH on RC response packets.
type RDETH struct {
	EECNHi uint8
	EECNLo uint16
}

var _ [4]byte = [unsafe.Sizeof(RDETH{})]byte{}

// AETH is the ACK Extended Transport Header, 4 bytes: syndrome + message
// sequence number.
type AETH struct {
	Syndrome uint8
	MSNHi    uint8
	MSNLo    uint16
}

var _ [4]byte = [unsafe.Sizeof(AETH{})]byte{}

// Syndrome top 3 bits select the AETH class.
const (
	AETHTypeACK       = 0x0 << 5
	AETHTypeRNRNAK    = 0x3 << 5
	AETHTypeReserved  = 0x4 << 5
	AETHTypeNAK       = 0x5 << 5
)

func (h *AETH) Type() uint8  { return h.Syndrome & 0xe0 }
func (h *AETH) Code() uint8  { return h.Syndrome & 0x1f }
func (h *AETH) MSN() uint32  { return uint32(h.MSNHi)<<16 | uint32(h.MSNLo) }

func (h *AETH) SetMSN(msn uint32) {
	h.MSNHi = uint8(msn >> 16)
	h.MSNLo = uint16(msn)
}

// NAK codes, the low 5 bits of Syndrome when Type == AETHTypeNAK.
const (
	NAKSequenceError   = 0
	NAKInvalidRequest  = 1
	NAKRemoteAccessErr = 2
	NAKRemoteOpErr     = 3
	NAKInvalidRDRequest = 4
)

// AtomicETH carries the remote address/key and operands for atomic ops, 28
// bytes.
type AtomicETH struct {
	VA          uint64
	RKey        uint32
	SwapOrAdd   uint64
	CompareData uint64
}

// The Go struct carries 4 bytes of alignment padding after RKey
// (unsafe.Sizeof is 32), so SizeAtomicETH declares the 28-byte wire size
// directly.

// RETH carries the remote address/key/length for RDMA write/read, 16 bytes.
type RETH struct {
	VA     uint64
	RKey   uint32
	DMALen uint32
}

var _ [16]byte = [unsafe.Sizeof(RETH{})]byte{}

// ImmDt is 4 bytes of immediate data carried on *_WITH_IMMEDIATE opcodes.
type ImmDt struct {
	Data uint32
}

var _ [4]byte = [unsafe.Sizeof(ImmDt{})]byte{}

// SeqHdr carries a request packet's FIRST/MIDDLE/LAST/ONLY marker, 4 bytes,
// preceding the payload on SEND/RDMA_WRITE request packets so the responder
// can reassemble a multi-packet message (spec §4.4).
type SeqHdr struct {
	Seq uint8
	_   [3]byte // padding to 4-byte alignment
}

var _ [4]byte = [unsafe.Sizeof(SeqHdr{})]byte{}

// AtomicAckETH carries the pre-atomic value returned to the requester, 8
// bytes, following AETH on atomic-op responses.
type AtomicAckETH struct {
	OrigRemoteData uint64
}

var _ [8]byte = [unsafe.Sizeof(AtomicAckETH{})]byte{}

// Footer is a trailing diagnostic struct the switch strips on relay; it
// carries the sender's device id and port number. None of the module's
// packet builders attach one, and no routing decision reads its fields.
type Footer struct {
	Magic       uint32
	SrcDeviceID uint32
	SrcPortNum  uint8
	_           [3]byte // padding to 4-byte alignment
}

var _ [12]byte = [unsafe.Sizeof(Footer{})]byte{}

// FooterMagic identifies a well-formed footer at the tail of a datagram.
const FooterMagic = 0x50494246 // "PIBF"

const ICRCSize = 4

const (
	SizeLRH   = int(unsafe.Sizeof(LRH{}))
	SizeGRH   = int(unsafe.Sizeof(GRH{}))
	SizeBTH   = int(unsafe.Sizeof(BTH{}))
	SizeDETH  = int(unsafe.Sizeof(DETH{}))
	SizeRDETH = int(unsafe.Sizeof(RDETH{}))
	SizeAETH  = int(unsafe.Sizeof(AETH{}))
	SizeAtomicETH = 28
	SizeRETH  = int(unsafe.Sizeof(RETH{}))
	SizeImmDt = int(unsafe.Sizeof(ImmDt{}))
	SizeAtomicAckETH = int(unsafe.Sizeof(AtomicAckETH{}))
	SizeFooter = int(unsafe.Sizeof(Footer{}))
	SizeSeqHdr = int(unsafe.Sizeof(SeqHdr{}))
)
