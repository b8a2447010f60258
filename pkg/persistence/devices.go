package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lsp-wol/wol-go/pkg/device"
)

// StateVersion is the current version of the device file format.
const StateVersion = 1

// ErrUnsupportedVersion indicates a file written by a newer format.
var ErrUnsupportedVersion = errors.New("unsupported device file version")

// DeviceFile is the on-disk layout.
type DeviceFile struct {
	// Version is the file format version.
	Version int `json:"version"`

	// SavedAt is when the file was last written.
	SavedAt time.Time `json:"saved_at"`

	Devices []device.Device `json:"devices"`
}

// DeviceStore is a device.Registry backed by a JSON file.
type DeviceStore struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewDeviceStore creates a store at path. The file is created on first write.
func NewDeviceStore(path string) *DeviceStore {
	return &DeviceStore{path: path, now: time.Now}
}

// Path returns the backing file path.
func (s *DeviceStore) Path() string { return s.path }

// Load reads the file. A missing file yields an empty DeviceFile.
func (s *DeviceStore) Load() (*DeviceFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *DeviceStore) load() (*DeviceFile, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return &DeviceFile{Version: StateVersion}, nil
	}
	if err != nil {
		return nil, err
	}

	f := &DeviceFile{}
	if err := json.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	if f.Version > StateVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, f.Version)
	}
	return f, nil
}

func (s *DeviceStore) save(f *DeviceFile) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	f.Version = StateVersion
	f.SavedAt = s.now()
	if f.Devices == nil {
		f.Devices = []device.Device{}
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".devices-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

// update loads, applies fn and saves under the store lock.
func (s *DeviceStore) update(fn func(f *DeviceFile) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		return err
	}
	return s.save(f)
}

// List returns the stored devices in insertion order.
func (s *DeviceStore) List() ([]device.Device, error) {
	f, err := s.Load()
	if err != nil {
		return nil, err
	}
	return f.Devices, nil
}

// Add appends d. An identical entry is rejected with device.ErrDuplicate.
func (s *DeviceStore) Add(d device.Device) error {
	return s.update(func(f *DeviceFile) error {
		for _, x := range f.Devices {
			if x.Equal(d) {
				return fmt.Errorf("%w: %s", device.ErrDuplicate, d)
			}
		}
		f.Devices = append(f.Devices, d)
		return nil
	})
}

// Delete removes every entry equal to d.
func (s *DeviceStore) Delete(d device.Device) error {
	return s.update(func(f *DeviceFile) error {
		kept := f.Devices[:0]
		for _, x := range f.Devices {
			if !x.Equal(d) {
				kept = append(kept, x)
			}
		}
		if len(kept) == len(f.Devices) {
			return fmt.Errorf("%w: %s", device.ErrNotFound, d)
		}
		f.Devices = kept
		return nil
	})
}

// Replace swaps old for updated in place, keeping list order. Equal values
// are a no-op.
func (s *DeviceStore) Replace(old, updated device.Device) error {
	if old.Equal(updated) {
		return nil
	}
	return s.update(func(f *DeviceFile) error {
		for i, x := range f.Devices {
			if x.Equal(old) {
				f.Devices[i] = updated
				return nil
			}
		}
		return fmt.Errorf("%w: %s", device.ErrNotFound, old)
	})
}

// Clear removes the file.
func (s *DeviceStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

var _ device.Registry = (*DeviceStore)(nil)
