package protocol

import (
	"fmt"
	"net/netip"
)

// WriteAddr serializes an endpoint as [len:1][ip bytes][port:2].
// An invalid address is written with a zero length.
func WriteAddr(m *Message, addr netip.AddrPort) *Message {
	if !addr.IsValid() {
		m.WriteUint8(0)
		return m.WriteUint16(0)
	}
	ip := addr.Addr().Unmap()
	raw := ip.AsSlice()
	m.WriteUint8(uint8(len(raw)))
	m.WriteBytes(raw)
	return m.WriteUint16(addr.Port())
}

// ReadAddr decodes an endpoint written by WriteAddr.
func ReadAddr(m *Message) (netip.AddrPort, error) {
	n, err := m.ReadUint8()
	if err != nil {
		return netip.AddrPort{}, err
	}
	if n != 0 && n != 4 && n != 16 {
		return netip.AddrPort{}, fmt.Errorf("invalid address length %d", n)
	}
	raw, err := m.take(int(n), "address")
	if err != nil {
		return netip.AddrPort{}, err
	}
	port, err := m.ReadUint16()
	if err != nil {
		return netip.AddrPort{}, err
	}
	if n == 0 {
		return netip.AddrPort{}, nil
	}
	ip, _ := netip.AddrFromSlice(raw)
	return netip.AddrPortFrom(ip, port), nil
}
