package switchcore

import "net"

// ClassVendorRegistration is a vendor-specific SMP class (spec §12's
// "device registration handshake" supplement) carrying a device's session
// UUID and the sockaddr of the port announcing itself, so the switch can
// learn a device's remote endpoint without waiting for ordinary data
// traffic to arrive on that port.
const ClassVendorRegistration MgmtClass = 0x0A

// RegistrationSMP is the vendor SMP payload a device sends to announce one
// of its ports to the switch.
type RegistrationSMP struct {
	DeviceUUID [16]byte
	IP         [4]byte
	Port       uint16
}

// Addr reconstructs the announced UDP address.
func (r RegistrationSMP) Addr() *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(r.IP[0], r.IP[1], r.IP[2], r.IP[3]), Port: int(r.Port)}
}

const registrationBodyLen = 16 + 4 + 2

// EncodeRegistrationSMP renders r as a vendor SMP payload.
func EncodeRegistrationSMP(r RegistrationSMP) []byte {
	out := make([]byte, 1+registrationBodyLen)
	out[0] = byte(ClassVendorRegistration)
	copy(out[1:17], r.DeviceUUID[:])
	copy(out[17:21], r.IP[:])
	out[21] = byte(r.Port >> 8)
	out[22] = byte(r.Port)
	return out
}

// ParseRegistrationSMP decodes a vendor SMP payload back into a
// RegistrationSMP, reporting false if payload is too short to be one.
func ParseRegistrationSMP(payload []byte) (RegistrationSMP, bool) {
	if len(payload) < 1+registrationBodyLen {
		return RegistrationSMP{}, false
	}
	var r RegistrationSMP
	body := payload[1:]
	copy(r.DeviceUUID[:], body[0:16])
	copy(r.IP[:], body[16:20])
	r.Port = uint16(body[20])<<8 | uint16(body[21])
	return r, true
}

// DeviceRegistrar receives a device's self-announced port endpoint.
// Returning false means the registration was rejected as stale — the
// session UUID had already been superseded on that port by a newer one.
type DeviceRegistrar interface {
	RegisterDevice(port uint8, id [16]byte, addr *net.UDPAddr) bool
}

// relayRegistration dispatches a vendor registration SMP to the switch's
// registrar, if one is configured, and never produces a reply (the
// handshake is one-way: the device does not wait for an ack before
// sending ordinary traffic).
func (s *Switch) relayRegistration(ingress uint8, payload []byte) RelayAction {
	reg, ok := ParseRegistrationSMP(payload)
	if !ok {
		s.PMA.RecordDiscard(ingress)
		return RelayAction{}
	}
	if s.Registrar != nil {
		s.Registrar.RegisterDevice(ingress, reg.DeviceUUID, reg.Addr())
	}
	return RelayAction{}
}
