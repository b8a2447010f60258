package broadcast

import (
	"net"
	"strings"
)

// DefaultInterfacePrefixes are the interface name prefixes searched for a
// subnet broadcast address.
var DefaultInterfacePrefixes = []string{"wlan", "eth", "tun"}

// Interface is the subset of net.Interface the finder needs.
type Interface struct {
	Name  string
	Addrs []net.Addr
}

// InterfaceLister enumerates local interfaces.
type InterfaceLister func() ([]Interface, error)

// SystemInterfaces lists the host's interfaces with their addresses.
// Interfaces whose addresses cannot be read are returned without addresses.
func SystemInterfaces() ([]Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	out := make([]Interface, 0, len(ifaces))
	for _, ifi := range ifaces {
		addrs, err := ifi.Addrs()
		if err != nil {
			addrs = nil
		}
		out = append(out, Interface{Name: ifi.Name, Addrs: addrs})
	}
	return out, nil
}

// Finder discovers a subnet broadcast address.
type Finder struct {
	prefixes []string
	list     InterfaceLister
}

// NewFinder creates a finder. Empty prefixes select DefaultInterfacePrefixes;
// a nil lister selects SystemInterfaces.
func NewFinder(prefixes []string, list InterfaceLister) *Finder {
	if len(prefixes) == 0 {
		prefixes = DefaultInterfacePrefixes
	}
	if list == nil {
		list = SystemInterfaces
	}
	return &Finder{prefixes: prefixes, list: list}
}

// BroadcastAddress returns the first IPv4 broadcast address found on an
// allow-listed interface. Enumeration errors yield no address.
func (f *Finder) BroadcastAddress() (net.IP, bool) {
	ifaces, err := f.list()
	if err != nil {
		return nil, false
	}
	for _, ifi := range ifaces {
		if !f.allowed(ifi.Name) {
			continue
		}
		for _, a := range ifi.Addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			if bcast := broadcastOf(ipnet); bcast != nil {
				return bcast, true
			}
		}
	}
	return nil, false
}

func (f *Finder) allowed(name string) bool {
	for _, p := range f.prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// broadcastOf returns ip | ^mask for IPv4 networks, nil otherwise.
// Point-to-point (/32) and /31 networks have no broadcast address.
func broadcastOf(n *net.IPNet) net.IP {
	ip4 := n.IP.To4()
	if ip4 == nil {
		return nil
	}
	mask := n.Mask
	if len(mask) == net.IPv6len {
		mask = mask[12:]
	}
	if len(mask) != net.IPv4len {
		return nil
	}
	if ones, _ := net.IPMask(mask).Size(); ones >= 31 {
		return nil
	}
	out := make(net.IP, net.IPv4len)
	for i := range ip4 {
		out[i] = ip4[i] | ^mask[i]
	}
	return out
}
