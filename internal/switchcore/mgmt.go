package switchcore

import "github.com/ibemu/pib/internal/wire"

// ParseDRSMP decodes the management-class-specific payload of an SMP
// carried in pkt.Payload into a DRSMP. Only the fields this emulator acts
// on are decoded; unknown trailing bytes are preserved in Data.
func ParseDRSMP(payload []byte) *DRSMP {
	smp := &DRSMP{}
	if len(payload) < 8 {
		return smp
	}
	smp.Class = MgmtClass(payload[0])
	smp.Method = Method(payload[1])
	smp.Status = uint16(payload[2])<<8 | uint16(payload[3])
	smp.HopPtr = payload[4]
	smp.HopCnt = payload[5]
	if len(payload) >= 8 {
		smp.Attribute = Attribute(payload[6])<<8 | Attribute(payload[7])
	}
	if len(payload) >= 12 {
		smp.AttrMod = uint32(payload[8])<<24 | uint32(payload[9])<<16 | uint32(payload[10])<<8 | uint32(payload[11])
	}
	off := 12
	if len(payload) >= off+MaxHops {
		copy(smp.InitialPath[:MaxHops/2], payload[off:off+MaxHops/2])
		copy(smp.ReturnPath[:MaxHops/2], payload[off+MaxHops/2:off+MaxHops])
	}
	p := off + MaxHops
	if len(payload) >= p+4 {
		smp.DRSLID = uint16(payload[p])<<8 | uint16(payload[p+1])
		smp.DRDLID = uint16(payload[p+2])<<8 | uint16(payload[p+3])
	}
	if len(payload) >= p+4+64 {
		copy(smp.Data[:], payload[p+4:p+4+64])
	}
	return smp
}

// EncodeDRSMP serializes smp back into an SMP payload of the same layout
// ParseDRSMP expects, so a round trip preserves every field the relay
// path touched.
func EncodeDRSMP(smp *DRSMP) []byte {
	out := make([]byte, 12+MaxHops+4+len(smp.Data))
	out[0] = byte(smp.Class)
	out[1] = byte(smp.Method)
	out[2] = byte(smp.Status >> 8)
	out[3] = byte(smp.Status)
	out[4] = smp.HopPtr
	out[5] = smp.HopCnt
	out[6] = byte(smp.Attribute >> 8)
	out[7] = byte(smp.Attribute)
	out[8] = byte(smp.AttrMod >> 24)
	out[9] = byte(smp.AttrMod >> 16)
	out[10] = byte(smp.AttrMod >> 8)
	out[11] = byte(smp.AttrMod)
	copy(out[12:12+MaxHops/2], smp.InitialPath[:MaxHops/2])
	copy(out[12+MaxHops/2:12+MaxHops], smp.ReturnPath[:MaxHops/2])
	p := 12 + MaxHops
	out[p] = byte(smp.DRSLID >> 8)
	out[p+1] = byte(smp.DRSLID)
	out[p+2] = byte(smp.DRDLID >> 8)
	out[p+3] = byte(smp.DRDLID)
	copy(out[p+4:], smp.Data[:])
	return out
}

// relayManagement implements spec §4.7's management-class dispatch: a
// directed-route SMP is walked hop by hop (with the terminal hop running
// the attribute handler and flipping the direction bit); a LID-routed SMP
// is handled locally if addressed to the switch, else unicast-forwarded
// unchanged.
func (s *Switch) relayManagement(ingress uint8, pkt *wire.Packet, raw []byte) RelayAction {
	if len(pkt.Payload) > 0 && MgmtClass(pkt.Payload[0]) == ClassVendorRegistration {
		return s.relayRegistration(ingress, pkt.Payload)
	}

	smp := ParseDRSMP(pkt.Payload)

	if smp.Class == ClassSubnDirectedRoute {
		return s.relayDirectedRoute(ingress, pkt, smp, raw)
	}

	if pkt.LRH.DLID != s.ownLID {
		return s.relayUnicast(ingress, pkt.LRH.DLID, raw)
	}

	out, status := s.Attrs.Dispatch(smp.Method, smp.Attribute, smp.AttrMod, smp.Data)
	smp.Data = out
	smp.Status = status
	return s.reencode(ingress, pkt, smp, []uint8{ingress})
}

func (s *Switch) relayDirectedRoute(ingress uint8, pkt *wire.Packet, smp *DRSMP, raw []byte) RelayAction {
	res := WalkDirectedRoute(smp, ingress)
	if res.Assert {
		s.PMA.RecordDiscard(ingress)
		return RelayAction{}
	}

	if res.Terminal {
		out, status := s.Attrs.Dispatch(smp.Method, smp.Attribute, smp.AttrMod, smp.Data)
		smp.Data = out
		smp.Status = status
		if res.RewriteSLID {
			pkt.LRH.SLID = PermissiveLID
		}
	}

	if !res.Forward {
		s.PMA.RecordDiscard(ingress)
		return RelayAction{}
	}
	return s.reencode(ingress, pkt, smp, []uint8{res.OutPort})
}

// reencode rewrites pkt's payload with smp's current contents, re-marshals
// the packet, and records PMA counters for the chosen egress ports.
func (s *Switch) reencode(ingress uint8, pkt *wire.Packet, smp *DRSMP, outPorts []uint8) RelayAction {
	pkt.Payload = EncodeDRSMP(smp)
	buf, err := wire.Emit(pkt)
	if err != nil {
		s.PMA.RecordDiscard(ingress)
		return RelayAction{}
	}
	for _, p := range outPorts {
		s.PMA.RecordTx(p, len(buf))
	}
	return RelayAction{OutPorts: outPorts, Payload: buf}
}
