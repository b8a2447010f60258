// Package magic builds Wake-on-LAN magic packets.
//
// A magic packet is six 0xFF bytes followed by the target MAC address
// repeated sixteen times. Optional SecureOn passwords are not supported.
package magic

import (
	"bytes"
	"fmt"
	"net"

	"github.com/lsp-wol/wol-go/pkg/mac"
)

// Packet layout constants.
const (
	// SyncLen is the number of leading 0xFF bytes.
	SyncLen = 6

	// Repetitions is how many times the MAC is repeated.
	Repetitions = 16

	// PacketSize is the total payload size for an EUI-48 address.
	PacketSize = SyncLen + Repetitions*mac.OctetCount

	// DefaultPort is the conventional WOL destination port (discard).
	DefaultPort = 9
)

// Build parses macAddr (':' or '-' separated) and returns the magic packet.
func Build(macAddr string) ([]byte, error) {
	hw, err := mac.Parse(macAddr)
	if err != nil {
		return nil, fmt.Errorf("build magic packet: %w", err)
	}
	return BuildFromHardwareAddr(hw)
}

// BuildFromHardwareAddr returns the magic packet for hw.
func BuildFromHardwareAddr(hw net.HardwareAddr) ([]byte, error) {
	if len(hw) != mac.OctetCount {
		return nil, fmt.Errorf("build magic packet: %w: %d octets", mac.ErrInvalidFormat, len(hw))
	}

	pkt := make([]byte, 0, SyncLen+Repetitions*len(hw))
	pkt = append(pkt, bytes.Repeat([]byte{0xFF}, SyncLen)...)
	for i := 0; i < Repetitions; i++ {
		pkt = append(pkt, hw...)
	}
	return pkt, nil
}

// Target extracts the MAC address from a magic packet, validating the
// sync stream and all sixteen repetitions.
func Target(pkt []byte) (net.HardwareAddr, bool) {
	if len(pkt) != PacketSize {
		return nil, false
	}
	for _, b := range pkt[:SyncLen] {
		if b != 0xFF {
			return nil, false
		}
	}
	hw := pkt[SyncLen : SyncLen+mac.OctetCount]
	for i := 1; i < Repetitions; i++ {
		off := SyncLen + i*mac.OctetCount
		if !bytes.Equal(pkt[off:off+mac.OctetCount], hw) {
			return nil, false
		}
	}
	return net.HardwareAddr(bytes.Clone(hw)), true
}
