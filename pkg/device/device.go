// Package device holds the wake target model and the intents a device list
// reports to the client.
package device

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/lsp-wol/wol-go/pkg/mac"
)

// Validation errors.
var (
	ErrEmptyName = errors.New("device name is empty")
	ErrEmptyMAC  = errors.New("device MAC address is empty")
	ErrNotFound  = errors.New("device not found")
	ErrDuplicate = errors.New("device already exists")
)

// Device is a wake target. MACAddress is always in canonical form.
type Device struct {
	Name       string `json:"name"`
	MACAddress string `json:"mac_address"`
}

// New trims name and rawMAC, rejects empty values and normalizes the MAC
// ("aabb.ccdd.eeff" becomes "AA:BB:CC:DD:EE:FF").
func New(name, rawMAC string) (Device, error) {
	name = strings.TrimSpace(name)
	rawMAC = strings.TrimSpace(rawMAC)
	if name == "" {
		return Device{}, ErrEmptyName
	}
	if rawMAC == "" {
		return Device{}, ErrEmptyMAC
	}
	norm, err := mac.Normalize(rawMAC)
	if err != nil {
		return Device{}, err
	}
	return Device{Name: name, MACAddress: norm}, nil
}

// Equal reports whether d and o have the same name and MAC.
func (d Device) Equal(o Device) bool {
	return d.Name == o.Name && d.MACAddress == o.MACAddress
}

// HardwareAddr parses the MAC.
func (d Device) HardwareAddr() (net.HardwareAddr, error) {
	return mac.Parse(d.MACAddress)
}

func (d Device) String() string {
	return fmt.Sprintf("%s (%s)", d.Name, d.MACAddress)
}

// Registry stores the user's devices. Delete matches on name and MAC.
type Registry interface {
	List() ([]Device, error)
	Add(d Device) error
	Delete(d Device) error
}

// Find looks a device up by exact name, then case-insensitive name, then
// MAC in any accepted notation.
func Find(devices []Device, query string) (Device, bool) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Device{}, false
	}
	for _, d := range devices {
		if d.Name == query {
			return d, true
		}
	}
	for _, d := range devices {
		if strings.EqualFold(d.Name, query) {
			return d, true
		}
	}
	if norm, err := mac.Normalize(query); err == nil {
		for _, d := range devices {
			if d.MACAddress == norm {
				return d, true
			}
		}
	}
	return Device{}, false
}

// Replace swaps old for updated in r. It is a no-op when they are equal.
func Replace(r Registry, old, updated Device) error {
	if old.Equal(updated) {
		return nil
	}
	if err := r.Delete(old); err != nil {
		return err
	}
	return r.Add(updated)
}
