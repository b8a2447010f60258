package device

import "context"

// IntentKind tags an Intent.
type IntentKind uint8

const (
	// IntentChanged reports that the device list was edited.
	IntentChanged IntentKind = iota

	// IntentWakeRequested asks the client to wake a device.
	IntentWakeRequested
)

// String returns the kind name.
func (k IntentKind) String() string {
	switch k {
	case IntentChanged:
		return "changed"
	case IntentWakeRequested:
		return "wake"
	default:
		return "unknown"
	}
}

// Intent is what a device list reports: either the list changed or a
// device should be woken.
type Intent struct {
	Kind   IntentKind
	Device Device
}

// Changed returns an IntentChanged for d.
func Changed(d Device) Intent { return Intent{Kind: IntentChanged, Device: d} }

// WakeRequested returns an IntentWakeRequested for d.
func WakeRequested(d Device) Intent { return Intent{Kind: IntentWakeRequested, Device: d} }

// Handler reacts to intents.
type Handler interface {
	OnChanged(d Device)
	OnWakeRequested(d Device)
}

// Dispatch reads intents until ch is closed or ctx is done, calling h on
// the dispatching goroutine.
func Dispatch(ctx context.Context, ch <-chan Intent, h Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case in, ok := <-ch:
			if !ok {
				return
			}
			switch in.Kind {
			case IntentChanged:
				h.OnChanged(in.Device)
			case IntentWakeRequested:
				h.OnWakeRequested(in.Device)
			}
		}
	}
}
