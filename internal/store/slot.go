package store

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// Slot keys inside the device-local badger database.
const (
	SlotBooks   = "shelfie:books"
	SlotSession = "shelfie:session"
)

// Slot is a single device-local key holding an opaque payload.
// Load returns nil, nil when nothing has been saved yet.
type Slot interface {
	Load() ([]byte, error)
	Save(data []byte) error
}

// Badger wraps the device-local badger database that backs every slot.
type Badger struct {
	db     *badger.DB
	logger *slog.Logger
}

// OpenBadger opens (or creates) the badger database at path.
func OpenBadger(path string, logger *slog.Logger) (*Badger, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil            // Disable Badger's internal logging
	opts.SyncWrites = true       // A slot write must survive a crash right after it returns
	opts.CompactL0OnClose = true // Compact L0 tables on close for faster startup

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	if logger != nil {
		logger.Info("Badger database opened successfully", "path", path)
	}
	return &Badger{db: db, logger: logger}, nil
}

// OpenBadgerInMemory opens a badger database that never touches disk.
func OpenBadgerInMemory() (*Badger, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory badger db: %w", err)
	}
	return &Badger{db: db}, nil
}

// Slot returns the slot stored under key.
func (b *Badger) Slot(key string) Slot {
	return &badgerSlot{db: b.db, key: []byte(key)}
}

// Close gracefully closes the database connection.
func (b *Badger) Close() error {
	if b.logger != nil {
		b.logger.Info("Closing database connection")
	}
	return b.db.Close()
}

type badgerSlot struct {
	db  *badger.DB
	key []byte
}

func (s *badgerSlot) Load() ([]byte, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.key)
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read slot %s: %w", s.key, err)
	}
	return data, nil
}

func (s *badgerSlot) Save(data []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if data == nil {
			return txn.Delete(s.key)
		}
		return txn.Set(s.key, data)
	})
	if err != nil {
		return fmt.Errorf("write slot %s: %w", s.key, err)
	}
	return nil
}

// MemorySlot is a process-local Slot. The zero value is an empty slot.
// FailWith makes every later Save fail, which tests use to simulate a full disk.
type MemorySlot struct {
	mu      sync.Mutex
	data    []byte
	saves   int
	failErr error
}

// NewMemorySlot returns a slot preloaded with data (nil for empty).
func NewMemorySlot(data []byte) *MemorySlot {
	return &MemorySlot{data: data}
}

// Load implements Slot.
func (m *MemorySlot) Load() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return nil, nil
	}
	return append([]byte(nil), m.data...), nil
}

// Save implements Slot.
func (m *MemorySlot) Save(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	m.saves++
	if data == nil {
		m.data = nil
		return nil
	}
	m.data = append([]byte(nil), data...)
	return nil
}

// FailWith makes subsequent saves return err; nil restores normal behavior.
func (m *MemorySlot) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

// Saves reports how many successful saves happened.
func (m *MemorySlot) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
