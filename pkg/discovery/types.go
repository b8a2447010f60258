package discovery

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

const (
	// ServiceType is the DNS-SD service type relays advertise.
	ServiceType = "_wolrelay._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// BrowseTimeout bounds a single lookup.
	BrowseTimeout = 3 * time.Second
)

// TXT record keys.
const (
	TXTKeyVersion  = "v"
	TXTKeyPriority = "prio"
)

// Discovery errors.
var (
	ErrNotFound  = errors.New("relay not found")
	ErrNoAddress = errors.New("relay has no usable address")
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// StringsToTXTRecords parses "key=value" strings into a TXTRecordMap.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap)
	for _, s := range strs {
		k, v, _ := strings.Cut(s, "=")
		if k != "" {
			txt[k] = v
		}
	}
	return txt
}

// RelayService is a discovered relay.
type RelayService struct {
	InstanceName string
	Host         string
	Port         uint16

	// Addresses holds IPv4 addresses first, then IPv6.
	Addresses []string

	Version  string
	Priority int
}

// Address returns host:port for dialing. The first resolved address is
// preferred over the advertised host name.
func (r *RelayService) Address() (string, error) {
	if r.Port == 0 {
		return "", fmt.Errorf("%w: %s: no port", ErrNoAddress, r.InstanceName)
	}
	host := strings.TrimSuffix(r.Host, ".")
	if len(r.Addresses) > 0 {
		host = r.Addresses[0]
	}
	if host == "" {
		return "", fmt.Errorf("%w: %s", ErrNoAddress, r.InstanceName)
	}
	return net.JoinHostPort(host, strconv.Itoa(int(r.Port))), nil
}

// better reports whether r should be preferred over o.
func (r *RelayService) better(o *RelayService) bool {
	if o == nil {
		return true
	}
	if r.Priority != o.Priority {
		return r.Priority < o.Priority
	}
	return r.InstanceName < o.InstanceName
}
