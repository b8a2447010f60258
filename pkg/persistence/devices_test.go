package persistence

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/lsp-wol/wol-go/pkg/device"
)

var (
	desk = device.Device{Name: "Desk", MACAddress: "AA:BB:CC:DD:EE:FF"}
	nas  = device.Device{Name: "NAS", MACAddress: "10:20:30:40:50:60"}
)

func TestDeviceStore(t *testing.T) {
	t.Run("ListMissingFile", func(t *testing.T) {
		store := NewDeviceStore(filepath.Join(t.TempDir(), "devices.json"))
		got, err := store.List()
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(got) != 0 {
			t.Errorf("List() = %v, want empty", got)
		}
	})

	t.Run("AddListDelete", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "devices.json")
		store := NewDeviceStore(path)

		for _, d := range []device.Device{desk, nas} {
			if err := store.Add(d); err != nil {
				t.Fatalf("Add(%v) error = %v", d, err)
			}
		}

		// A second store over the same file sees the same list.
		got, err := NewDeviceStore(path).List()
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(got) != 2 || !got[0].Equal(desk) || !got[1].Equal(nas) {
			t.Fatalf("List() = %v", got)
		}

		if err := store.Delete(desk); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		got, _ = store.List()
		if len(got) != 1 || !got[0].Equal(nas) {
			t.Errorf("after Delete List() = %v", got)
		}
	})

	t.Run("DeleteMatchesNameAndMAC", func(t *testing.T) {
		store := NewDeviceStore(filepath.Join(t.TempDir(), "devices.json"))
		store.Add(desk)

		other := device.Device{Name: "Other", MACAddress: desk.MACAddress}
		if err := store.Delete(other); !errors.Is(err, device.ErrNotFound) {
			t.Errorf("Delete(other) error = %v, want ErrNotFound", err)
		}
	})

	t.Run("AddDuplicate", func(t *testing.T) {
		store := NewDeviceStore(filepath.Join(t.TempDir(), "devices.json"))
		store.Add(desk)
		if err := store.Add(desk); !errors.Is(err, device.ErrDuplicate) {
			t.Errorf("Add duplicate error = %v", err)
		}
	})

	t.Run("ReplaceKeepsOrder", func(t *testing.T) {
		store := NewDeviceStore(filepath.Join(t.TempDir(), "devices.json"))
		store.Add(desk)
		store.Add(nas)

		renamed := device.Device{Name: "Office", MACAddress: desk.MACAddress}
		if err := store.Replace(desk, renamed); err != nil {
			t.Fatalf("Replace() error = %v", err)
		}
		got, _ := store.List()
		if len(got) != 2 || !got[0].Equal(renamed) {
			t.Errorf("List() = %v", got)
		}

		if err := store.Replace(renamed, renamed); err != nil {
			t.Errorf("no-op Replace() error = %v", err)
		}
		if err := store.Replace(desk, renamed); !errors.Is(err, device.ErrNotFound) {
			t.Errorf("Replace(missing) error = %v", err)
		}
	})

	t.Run("CorruptFile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "devices.json")
		os.WriteFile(path, []byte("{not json"), 0o644)
		if _, err := NewDeviceStore(path).List(); err == nil {
			t.Error("expected parse error")
		}
	})

	t.Run("NewerVersion", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "devices.json")
		os.WriteFile(path, []byte(`{"version":99,"devices":[]}`), 0o644)
		if _, err := NewDeviceStore(path).List(); !errors.Is(err, ErrUnsupportedVersion) {
			t.Errorf("error = %v, want ErrUnsupportedVersion", err)
		}
	})

	t.Run("Clear", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "devices.json")
		store := NewDeviceStore(path)
		store.Add(desk)
		if err := store.Clear(); err != nil {
			t.Fatalf("Clear() error = %v", err)
		}
		if err := store.Clear(); err != nil {
			t.Errorf("second Clear() error = %v", err)
		}
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Error("file still exists")
		}
	})

	t.Run("ConcurrentAdds", func(t *testing.T) {
		store := NewDeviceStore(filepath.Join(t.TempDir(), "devices.json"))
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				d, _ := device.New("dev", []string{
					"00:00:00:00:00:00", "00:00:00:00:00:01", "00:00:00:00:00:02",
					"00:00:00:00:00:03", "00:00:00:00:00:04", "00:00:00:00:00:05",
					"00:00:00:00:00:06", "00:00:00:00:00:07", "00:00:00:00:00:08",
					"00:00:00:00:00:09",
				}[i])
				if err := store.Add(d); err != nil {
					t.Errorf("Add() error = %v", err)
				}
			}(i)
		}
		wg.Wait()
		got, _ := store.List()
		if len(got) != 10 {
			t.Errorf("List() len = %d, want 10", len(got))
		}
	})
}
