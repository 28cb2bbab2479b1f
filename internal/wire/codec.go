package wire

import "errors"

// ErrMalformed is returned for any packet that fails the structural checks
// of spec §4.1: length mismatch, nonzero link version, unsupported LNH, or
// a pad count underflow.
var ErrMalformed = errors.New("wire: malformed packet")

// Packet is the result of parsing a datagram: the mandatory LRH and BTH, an
// optional GRH, the remaining payload after BTH and after padding/footer
// have been stripped, and the footer if one was present and well-formed.
type Packet struct {
	LRH     LRH
	GRH     *GRH
	BTH     BTH
	Payload []byte
	Footer  *Footer
}

// Parse parses buf into a Packet. A trailing Footer, recognized by
// FooterMagic, is removed from the payload and returned in Packet.Footer;
// the switch and device ports call Parse the same way, and the switch
// relays the packet without the footer.
func Parse(buf []byte) (*Packet, error) {
	if len(buf)%4 != 0 {
		return nil, ErrMalformed
	}
	if len(buf) < SizeLRH {
		return nil, ErrMalformed
	}

	var lrh LRH
	if err := UnmarshalLRH(buf, &lrh); err != nil {
		return nil, ErrMalformed
	}
	if lrh.LVer() != 0 {
		return nil, ErrMalformed
	}
	if int(lrh.PktLenWords())*4 != len(buf) {
		return nil, ErrMalformed
	}

	off := SizeLRH
	var grh *GRH
	switch lrh.LNH() {
	case LNHIBALocal:
		// BTH follows directly.
	case LNHIBAGlobal:
		if len(buf) < off+SizeGRH {
			return nil, ErrMalformed
		}
		g := &GRH{}
		if err := UnmarshalGRH(buf[off:], g); err != nil {
			return nil, ErrMalformed
		}
		grh = g
		off += SizeGRH
	default:
		return nil, ErrMalformed
	}

	if len(buf) < off+SizeBTH {
		return nil, ErrMalformed
	}
	var bth BTH
	if err := UnmarshalBTH(buf[off:], &bth); err != nil {
		return nil, ErrMalformed
	}
	off += SizeBTH

	rest := buf[off:]

	var footer *Footer
	if len(rest) >= ICRCSize+SizeFooter {
		maybe := &Footer{}
		_ = UnmarshalFooter(rest[len(rest)-SizeFooter:], maybe)
		if maybe.Magic == FooterMagic {
			footer = maybe
			rest = rest[:len(rest)-SizeFooter]
		}
	}

	// Strip the ICRC placeholder.
	if len(rest) < ICRCSize {
		return nil, ErrMalformed
	}
	rest = rest[:len(rest)-ICRCSize]

	// Pad-count bits reduce the effective payload length.
	padCnt := int(bth.PadCnt())
	if padCnt > len(rest) {
		return nil, ErrMalformed
	}
	rest = rest[:len(rest)-padCnt]

	return &Packet{
		LRH:     lrh,
		GRH:     grh,
		BTH:     bth,
		Payload: rest,
		Footer:  footer,
	}, nil
}

// Emit is the inverse of Parse and is pure: it never mutates p. payload is
// padded to a 4-byte boundary per bth.PadCnt() before the ICRC placeholder
// and optional footer are appended, then the LRH length field is computed
// and written.
func Emit(p *Packet) ([]byte, error) {
	size := SizeLRH
	if p.GRH != nil {
		size += SizeGRH
	}
	size += SizeBTH
	size += len(p.Payload)
	size += int(p.BTH.PadCnt())
	size += ICRCSize
	if p.Footer != nil {
		size += SizeFooter
	}
	if size%4 != 0 {
		return nil, ErrMalformed
	}

	buf := make([]byte, size)
	off := 0

	lrh := p.LRH
	lrh.SetPktLenWords(uint16(size / 4))
	if p.GRH != nil {
		lrh.SetLNH(LNHIBAGlobal)
	} else {
		lrh.SetLNH(LNHIBALocal)
	}
	if err := MarshalLRH(&lrh, buf[off:]); err != nil {
		return nil, err
	}
	off += SizeLRH

	if p.GRH != nil {
		if err := MarshalGRH(p.GRH, buf[off:]); err != nil {
			return nil, err
		}
		off += SizeGRH
	}

	if err := MarshalBTH(&p.BTH, buf[off:]); err != nil {
		return nil, err
	}
	off += SizeBTH

	copy(buf[off:], p.Payload)
	off += len(p.Payload) + int(p.BTH.PadCnt())

	// ICRC placeholder: zeroed, integrity is out of scope per spec Non-goals.
	off += ICRCSize

	if p.Footer != nil {
		f := *p.Footer
		f.Magic = FooterMagic
		if err := MarshalFooter(&f, buf[off:]); err != nil {
			return nil, err
		}
		off += SizeFooter
	}

	return buf, nil
}
