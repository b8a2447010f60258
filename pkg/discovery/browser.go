package discovery

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/enbility/zeroconf/v3"
)

// BrowserConfig configures browser behavior.
type BrowserConfig struct {
	// BrowseTimeout bounds FindBest (default: 3s).
	BrowseTimeout time.Duration

	// Interface restricts browsing to one network interface.
	// Empty string means all interfaces.
	Interface string

	// Logger for operational logging (default: slog.Default()).
	Logger *slog.Logger
}

// DefaultBrowserConfig returns the default browser configuration.
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{BrowseTimeout: BrowseTimeout}
}

type browseFunc func(ctx context.Context, entries, removed chan *zeroconf.ServiceEntry) error

// Browser browses for relays.
type Browser struct {
	config BrowserConfig
	logger *slog.Logger
	browse browseFunc
}

// NewBrowser creates a relay browser backed by zeroconf.
func NewBrowser(config BrowserConfig) *Browser {
	if config.BrowseTimeout <= 0 {
		config.BrowseTimeout = BrowseTimeout
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	b := &Browser{config: config, logger: logger}
	b.browse = func(ctx context.Context, entries, removed chan *zeroconf.ServiceEntry) error {
		return zeroconf.Browse(ctx, ServiceType, Domain, entries, removed, b.browserOptions()...)
	}
	return b
}

// Browse emits each relay the first time it is seen. Addresses learned on
// other interfaces are merged into the already emitted value. The channel
// closes when ctx is done.
func (b *Browser) Browse(ctx context.Context) <-chan *RelayService {
	out := make(chan *RelayService)

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	go func() {
		defer close(out)

		services := make(map[string]*RelayService)
		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					return
				}
				svc := entryToRelay(entry)
				if existing, found := services[svc.InstanceName]; found {
					existing.Addresses = mergeAddresses(existing.Addresses, svc.Addresses)
					continue
				}
				services[svc.InstanceName] = svc
				select {
				case out <- svc:
				case <-ctx.Done():
					return
				}

			case entry, ok := <-removed:
				if !ok {
					continue
				}
				if existing, found := services[entry.Instance]; found {
					existing.Addresses = removeAddresses(existing.Addresses, entry)
					if len(existing.Addresses) == 0 {
						delete(services, entry.Instance)
					}
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		if err := b.browse(ctx, entries, removed); err != nil {
			b.logger.Debug("mdns browse failed", "error", err)
		}
	}()

	return out
}

// FindBest browses for the configured timeout and returns the relay with
// the lowest priority value.
func (b *Browser) FindBest(ctx context.Context) (*RelayService, error) {
	ctx, cancel := context.WithTimeout(ctx, b.config.BrowseTimeout)
	defer cancel()

	var best *RelayService
	for svc := range b.Browse(ctx) {
		if svc.better(best) {
			best = svc
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return best, nil
}

func (b *Browser) browserOptions() []zeroconf.ClientOption {
	var opts []zeroconf.ClientOption
	if b.config.Interface != "" {
		iface, err := net.InterfaceByName(b.config.Interface)
		if err == nil {
			opts = append(opts, zeroconf.SelectIfaces([]net.Interface{*iface}))
		} else {
			b.logger.Warn("mdns interface not found, browsing all", "interface", b.config.Interface, "error", err)
		}
	}
	return opts
}

// Resolver resolves the relay address through mDNS for each connect
// attempt. It satisfies session.Resolver.
type Resolver struct {
	browser *Browser

	mu   sync.Mutex
	last string
}

// NewResolver wraps a browser.
func NewResolver(b *Browser) *Resolver {
	return &Resolver{browser: b}
}

// Resolve returns host:port of the best relay currently advertised.
func (r *Resolver) Resolve(ctx context.Context) (string, error) {
	svc, err := r.browser.FindBest(ctx)
	if err != nil {
		return "", err
	}
	addr, err := svc.Address()
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	changed := addr != r.last
	r.last = addr
	r.mu.Unlock()
	if changed {
		r.browser.logger.Info("relay discovered", "instance", svc.InstanceName, "address", addr)
	}
	return addr, nil
}

// Last returns the most recently resolved address.
func (r *Resolver) Last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

func entryToRelay(entry *zeroconf.ServiceEntry) *RelayService {
	txt := StringsToTXTRecords(entry.Text)

	svc := &RelayService{
		InstanceName: entry.Instance,
		Host:         entry.HostName,
		Port:         uint16(entry.Port),
		Addresses:    entryAddresses(entry),
		Version:      txt[TXTKeyVersion],
	}
	if p, ok := txt[TXTKeyPriority]; ok {
		if n, err := strconv.Atoi(p); err == nil {
			svc.Priority = n
		}
	}
	return svc
}

func entryAddresses(entry *zeroconf.ServiceEntry) []string {
	addrs := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	for _, ip := range entry.AddrIPv4 {
		addrs = append(addrs, ip.String())
	}
	for _, ip := range entry.AddrIPv6 {
		addrs = append(addrs, ip.String())
	}
	return addrs
}

// mergeAddresses adds new addresses to existing list, avoiding duplicates.
func mergeAddresses(existing, added []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, addr := range existing {
		seen[addr] = true
	}
	for _, addr := range added {
		if !seen[addr] {
			existing = append(existing, addr)
			seen[addr] = true
		}
	}
	return existing
}

// removeAddresses drops the addresses carried by entry.
func removeAddresses(addresses []string, entry *zeroconf.ServiceEntry) []string {
	toRemove := make(map[string]bool)
	for _, a := range entryAddresses(entry) {
		toRemove[a] = true
	}
	result := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		if !toRemove[addr] {
			result = append(result, addr)
		}
	}
	return result
}
