package switchcore

import "net"

// PortSocket is one switch port's bound UDP socket. The caller (root
// Fabric assembly) owns the conn's lifecycle; switchcore only drives
// reads and writes against it.
type PortSocket struct {
	Conn *net.UDPConn
}

// SendTo writes buf to addr on s's socket.
func (s *PortSocket) SendTo(buf []byte, addr *net.UDPAddr) error {
	_, err := s.Conn.WriteToUDP(buf, addr)
	return err
}

// Transport binds the switch's relay decisions to concrete per-port
// sockets and the learned remote endpoints, so Deliver can be driven
// directly from a worker.Worker's OnRecv callback.
type Transport struct {
	sw      *Switch
	sockets map[uint8]*PortSocket
}

// NewTransport wires sw to the given per-port sockets.
func NewTransport(sw *Switch, sockets map[uint8]*PortSocket) *Transport {
	return &Transport{sw: sw, sockets: sockets}
}

// Send writes action's payload to every port in action.OutPorts, looking
// up each port's learned remote endpoint; a port with no learned endpoint
// or no bound socket is silently skipped (not yet registered).
func (t *Transport) Send(action RelayAction) {
	for _, port := range action.OutPorts {
		sock, ok := t.sockets[port]
		if !ok {
			continue
		}
		ep, ok := t.sw.Endpoint(port)
		if !ok {
			continue
		}
		_ = sock.SendTo(action.Payload, ep.Addr)
	}
}
