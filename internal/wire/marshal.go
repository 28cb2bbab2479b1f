package wire

import "encoding/binary"

// MarshalError is a lightweight string-error type for packet marshal
// failures that don't need the root package's structured *Error.
type MarshalError string

func (e MarshalError) Error() string { return string(e) }

const (
	ErrShortBuffer MarshalError = "wire: buffer too short"
)

// MarshalLRH writes h in network byte order.
func MarshalLRH(h *LRH, buf []byte) error {
	if len(buf) < SizeLRH {
		return ErrShortBuffer
	}
	buf[0] = h.VL
	buf[1] = h.SLAndLNH
	binary.BigEndian.PutUint16(buf[2:4], h.DLID)
	binary.BigEndian.PutUint16(buf[4:6], h.Length)
	binary.BigEndian.PutUint16(buf[6:8], h.SLID)
	return nil
}

// UnmarshalLRH reads h from network byte order.
func UnmarshalLRH(buf []byte, h *LRH) error {
	if len(buf) < SizeLRH {
		return ErrShortBuffer
	}
	h.VL = buf[0]
	h.SLAndLNH = buf[1]
	h.DLID = binary.BigEndian.Uint16(buf[2:4])
	h.Length = binary.BigEndian.Uint16(buf[4:6])
	h.SLID = binary.BigEndian.Uint16(buf[6:8])
	return nil
}

func MarshalGRH(h *GRH, buf []byte) error {
	if len(buf) < SizeGRH {
		return ErrShortBuffer
	}
	binary.BigEndian.PutUint32(buf[0:4], h.VersionTClassFlow)
	binary.BigEndian.PutUint16(buf[4:6], h.PayLen)
	buf[6] = h.NextHeader
	buf[7] = h.HopLimit
	copy(buf[8:24], h.SGID[:])
	copy(buf[24:40], h.DGID[:])
	return nil
}

func UnmarshalGRH(buf []byte, h *GRH) error {
	if len(buf) < SizeGRH {
		return ErrShortBuffer
	}
	h.VersionTClassFlow = binary.BigEndian.Uint32(buf[0:4])
	h.PayLen = binary.BigEndian.Uint16(buf[4:6])
	h.NextHeader = buf[6]
	h.HopLimit = buf[7]
	copy(h.SGID[:], buf[8:24])
	copy(h.DGID[:], buf[24:40])
	return nil
}

func MarshalBTH(h *BTH, buf []byte) error {
	if len(buf) < SizeBTH {
		return ErrShortBuffer
	}
	buf[0] = h.OpCode
	buf[1] = h.Flags
	binary.BigEndian.PutUint16(buf[2:4], h.PKey)
	buf[4] = h.DestQPHi
	binary.BigEndian.PutUint16(buf[5:7], h.DestQPLo)
	buf[7] = h.AckReqAndPSNHi
	binary.BigEndian.PutUint16(buf[8:10], h.PSNLo)
	// bytes 10:12 reserved
	buf[10] = 0
	buf[11] = 0
	return nil
}

func UnmarshalBTH(buf []byte, h *BTH) error {
	if len(buf) < SizeBTH {
		return ErrShortBuffer
	}
	h.OpCode = buf[0]
	h.Flags = buf[1]
	h.PKey = binary.BigEndian.Uint16(buf[2:4])
	h.DestQPHi = buf[4]
	h.DestQPLo = binary.BigEndian.Uint16(buf[5:7])
	h.AckReqAndPSNHi = buf[7]
	h.PSNLo = binary.BigEndian.Uint16(buf[8:10])
	return nil
}

func MarshalDETH(h *DETH, buf []byte) error {
	if len(buf) < SizeDETH {
		return ErrShortBuffer
	}
	binary.BigEndian.PutUint32(buf[0:4], h.QKey)
	buf[4] = h.SrcQPHi
	binary.BigEndian.PutUint16(buf[5:7], h.SrcQPLo)
	buf[7] = 0
	return nil
}

func UnmarshalDETH(buf []byte, h *DETH) error {
	if len(buf) < SizeDETH {
		return ErrShortBuffer
	}
	h.QKey = binary.BigEndian.Uint32(buf[0:4])
	h.SrcQPHi = buf[4]
	h.SrcQPLo = binary.BigEndian.Uint16(buf[5:7])
	return nil
}

func MarshalRDETH(h *RDETH, buf []byte) error {
	if len(buf) < SizeRDETH {
		return ErrShortBuffer
	}
	buf[0] = h.EECNHi
	binary.BigEndian.PutUint16(buf[1:3], h.EECNLo)
	buf[3] = 0
	return nil
}

func UnmarshalRDETH(buf []byte, h *RDETH) error {
	if len(buf) < SizeRDETH {
		return ErrShortBuffer
	}
	h.EECNHi = buf[0]
	h.EECNLo = binary.BigEndian.Uint16(buf[1:3])
	return nil
}

func MarshalAETH(h *AETH, buf []byte) error {
	if len(buf) < SizeAETH {
		return ErrShortBuffer
	}
	buf[0] = h.Syndrome
	buf[1] = h.MSNHi
	binary.BigEndian.PutUint16(buf[2:4], h.MSNLo)
	return nil
}

func UnmarshalAETH(buf []byte, h *AETH) error {
	if len(buf) < SizeAETH {
		return ErrShortBuffer
	}
	h.Syndrome = buf[0]
	h.MSNHi = buf[1]
	h.MSNLo = binary.BigEndian.Uint16(buf[2:4])
	return nil
}

func MarshalAtomicETH(h *AtomicETH, buf []byte) error {
	if len(buf) < SizeAtomicETH {
		return ErrShortBuffer
	}
	binary.BigEndian.PutUint64(buf[0:8], h.VA)
	binary.BigEndian.PutUint32(buf[8:12], h.RKey)
	binary.BigEndian.PutUint64(buf[12:20], h.SwapOrAdd)
	binary.BigEndian.PutUint64(buf[20:28], h.CompareData)
	return nil
}

func UnmarshalAtomicETH(buf []byte, h *AtomicETH) error {
	if len(buf) < SizeAtomicETH {
		return ErrShortBuffer
	}
	h.VA = binary.BigEndian.Uint64(buf[0:8])
	h.RKey = binary.BigEndian.Uint32(buf[8:12])
	h.SwapOrAdd = binary.BigEndian.Uint64(buf[12:20])
	h.CompareData = binary.BigEndian.Uint64(buf[20:28])
	return nil
}

func MarshalRETH(h *RETH, buf []byte) error {
	if len(buf) < SizeRETH {
		return ErrShortBuffer
	}
	binary.BigEndian.PutUint64(buf[0:8], h.VA)
	binary.BigEndian.PutUint32(buf[8:12], h.RKey)
	binary.BigEndian.PutUint32(buf[12:16], h.DMALen)
	return nil
}

func UnmarshalRETH(buf []byte, h *RETH) error {
	if len(buf) < SizeRETH {
		return ErrShortBuffer
	}
	h.VA = binary.BigEndian.Uint64(buf[0:8])
	h.RKey = binary.BigEndian.Uint32(buf[8:12])
	h.DMALen = binary.BigEndian.Uint32(buf[12:16])
	return nil
}

func MarshalImmDt(h *ImmDt, buf []byte) error {
	if len(buf) < SizeImmDt {
		return ErrShortBuffer
	}
	binary.BigEndian.PutUint32(buf[0:4], h.Data)
	return nil
}

func UnmarshalImmDt(buf []byte, h *ImmDt) error {
	if len(buf) < SizeImmDt {
		return ErrShortBuffer
	}
	h.Data = binary.BigEndian.Uint32(buf[0:4])
	return nil
}

func MarshalAtomicAckETH(h *AtomicAckETH, buf []byte) error {
	if len(buf) < SizeAtomicAckETH {
		return ErrShortBuffer
	}
	binary.BigEndian.PutUint64(buf[0:8], h.OrigRemoteData)
	return nil
}

func UnmarshalAtomicAckETH(buf []byte, h *AtomicAckETH) error {
	if len(buf) < SizeAtomicAckETH {
		return ErrShortBuffer
	}
	h.OrigRemoteData = binary.BigEndian.Uint64(buf[0:8])
	return nil
}

func MarshalSeqHdr(h *SeqHdr, buf []byte) error {
	if len(buf) < SizeSeqHdr {
		return ErrShortBuffer
	}
	buf[0] = h.Seq
	buf[1], buf[2], buf[3] = 0, 0, 0
	return nil
}

func UnmarshalSeqHdr(buf []byte, h *SeqHdr) error {
	if len(buf) < SizeSeqHdr {
		return ErrShortBuffer
	}
	h.Seq = buf[0]
	return nil
}

func MarshalFooter(h *Footer, buf []byte) error {
	if len(buf) < SizeFooter {
		return ErrShortBuffer
	}
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint32(buf[4:8], h.SrcDeviceID)
	buf[8] = h.SrcPortNum
	buf[9], buf[10], buf[11] = 0, 0, 0
	return nil
}

func UnmarshalFooter(buf []byte, h *Footer) error {
	if len(buf) < SizeFooter {
		return ErrShortBuffer
	}
	h.Magic = binary.BigEndian.Uint32(buf[0:4])
	h.SrcDeviceID = binary.BigEndian.Uint32(buf[4:8])
	h.SrcPortNum = buf[8]
	return nil
}
