package state

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/rlp"

	"usvchain/core/events"
	"usvchain/storage"
)

// StateVersion identifies the expected on-disk schema layout. Increment it
// whenever stored records change shape.
const StateVersion uint64 = 1

// ErrStateVersionMismatch indicates the stored schema version does not match
// the version supported by the current binary.
var ErrStateVersionMismatch = errors.New("state: schema version mismatch")

// Manager owns the ledger database and serialises every mutation. Exactly one
// Update runs at a time; Views observe only committed state.
type Manager struct {
	db storage.Database

	updateMu sync.Mutex
	commitMu sync.RWMutex

	nowMu sync.RWMutex
	nowFn func() time.Time
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db, nowFn: time.Now}
}

// SetNowFunc overrides the clock exposed to instructions through StateDB.Now.
func (m *Manager) SetNowFunc(fn func() time.Time) {
	if m == nil {
		return
	}
	m.nowMu.Lock()
	defer m.nowMu.Unlock()
	if fn == nil {
		fn = time.Now
	}
	m.nowFn = fn
}

func (m *Manager) now() time.Time {
	m.nowMu.RLock()
	defer m.nowMu.RUnlock()
	return m.nowFn()
}

// Update runs fn against a write-buffered view of the ledger. When fn returns
// nil every buffered write is committed in one storage batch and the events
// appended by fn are returned. When fn fails nothing is written.
func (m *Manager) Update(fn func(*StateDB) error) ([]events.Event, error) {
	if m == nil || m.db == nil {
		return nil, fmt.Errorf("state: manager unavailable")
	}
	if fn == nil {
		return nil, fmt.Errorf("state: nil update function")
	}
	m.updateMu.Lock()
	defer m.updateMu.Unlock()

	st := newStateDB(m.db, m.now(), false)
	if err := fn(st); err != nil {
		return nil, err
	}
	if len(st.order) == 0 {
		return st.drainEvents(), nil
	}
	batch := m.db.NewBatch()
	for _, key := range st.order {
		batch.Put([]byte(key), st.writes[key])
	}
	m.commitMu.Lock()
	err := batch.Write()
	m.commitMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("state: commit: %w", err)
	}
	return st.drainEvents(), nil
}

// View runs fn against committed state. Writes inside fn fail with
// ErrReadOnly.
func (m *Manager) View(fn func(*StateDB) error) error {
	if m == nil || m.db == nil {
		return fmt.Errorf("state: manager unavailable")
	}
	if fn == nil {
		return fmt.Errorf("state: nil view function")
	}
	m.commitMu.RLock()
	defer m.commitMu.RUnlock()
	return fn(newStateDB(m.db, m.now(), true))
}

// EnsureStateVersion records StateVersion on an empty database and rejects a
// database written by a different schema.
func (m *Manager) EnsureStateVersion() error {
	if m == nil || m.db == nil {
		return fmt.Errorf("state: manager unavailable")
	}
	data, err := m.db.Get(stateVersionKey)
	if errors.Is(err, storage.ErrNotFound) {
		encoded, encErr := rlp.EncodeToBytes(StateVersion)
		if encErr != nil {
			return encErr
		}
		return m.db.Put(stateVersionKey, encoded)
	}
	if err != nil {
		return err
	}
	var stored uint64
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return fmt.Errorf("state: decode version: %w", err)
	}
	if stored != StateVersion {
		return fmt.Errorf("%w: stored %d, expected %d", ErrStateVersionMismatch, stored, StateVersion)
	}
	return nil
}
