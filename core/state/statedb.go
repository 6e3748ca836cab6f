package state

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/rlp"

	"usvchain/core/events"
	"usvchain/core/types"
	"usvchain/storage"
)

var (
	ErrAccountExists   = errors.New("state: account already exists")
	ErrAccountNotFound = errors.New("state: account not found")
	ErrKindMismatch    = errors.New("state: account kind mismatch")
	ErrReadOnly        = errors.New("state: read-only view")
)

type accountRecord struct {
	Kind string
	Data []byte
}

// StateDB is the per-instruction view of the ledger handed out by Manager.
// Reads see the instruction's own buffered writes layered over committed
// state.
type StateDB struct {
	db       storage.Database
	writes   map[string][]byte
	order    []string
	events   []events.Event
	readOnly bool
	now      time.Time
}

func newStateDB(db storage.Database, now time.Time, readOnly bool) *StateDB {
	return &StateDB{
		db:       db,
		writes:   make(map[string][]byte),
		readOnly: readOnly,
		now:      now,
	}
}

// Now returns the timestamp assigned to the current instruction.
func (s *StateDB) Now() time.Time {
	return s.now
}

func (s *StateDB) get(key []byte) ([]byte, bool, error) {
	if value, ok := s.writes[string(key)]; ok {
		return value, true, nil
	}
	value, err := s.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (s *StateDB) put(key []byte, value []byte) error {
	if s.readOnly {
		return ErrReadOnly
	}
	k := string(key)
	if _, ok := s.writes[k]; !ok {
		s.order = append(s.order, k)
	}
	s.writes[k] = append([]byte(nil), value...)
	return nil
}

func (s *StateDB) loadRecord(addr [20]byte) (*accountRecord, error) {
	data, ok, err := s.get(accountStorageKey(addr))
	if err != nil || !ok {
		return nil, err
	}
	record := new(accountRecord)
	if err := rlp.DecodeBytes(data, record); err != nil {
		return nil, fmt.Errorf("state: decode account: %w", err)
	}
	return record, nil
}

func (s *StateDB) writeRecord(addr [20]byte, kind types.AccountKind, value interface{}) error {
	data, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(&accountRecord{Kind: string(kind), Data: data})
	if err != nil {
		return err
	}
	return s.put(accountStorageKey(addr), encoded)
}

// Exists reports whether any record occupies addr.
func (s *StateDB) Exists(addr [20]byte) (bool, error) {
	record, err := s.loadRecord(addr)
	if err != nil {
		return false, err
	}
	return record != nil, nil
}

// AccountKind returns the kind of the record at addr.
func (s *StateDB) AccountKind(addr [20]byte) (types.AccountKind, bool, error) {
	record, err := s.loadRecord(addr)
	if err != nil || record == nil {
		return "", false, err
	}
	return types.AccountKind(record.Kind), true, nil
}

// CreateAccount stores value at addr. It fails with ErrAccountExists when any
// record already occupies the address, which makes record creation the
// serialisation point for address-keyed resources.
func (s *StateDB) CreateAccount(addr [20]byte, kind types.AccountKind, value interface{}) error {
	if kind == "" {
		return fmt.Errorf("state: empty account kind")
	}
	existing, err := s.loadRecord(addr)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrAccountExists
	}
	return s.writeRecord(addr, kind, value)
}

// LoadAccount decodes the record at addr into out. The boolean reports whether
// the record exists.
func (s *StateDB) LoadAccount(addr [20]byte, kind types.AccountKind, out interface{}) (bool, error) {
	record, err := s.loadRecord(addr)
	if err != nil || record == nil {
		return false, err
	}
	if record.Kind != string(kind) {
		return true, fmt.Errorf("%w: have %s, want %s", ErrKindMismatch, record.Kind, kind)
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(record.Data, out); err != nil {
		return true, fmt.Errorf("state: decode %s: %w", kind, err)
	}
	return true, nil
}

// StoreAccount overwrites an existing record of the same kind.
func (s *StateDB) StoreAccount(addr [20]byte, kind types.AccountKind, value interface{}) error {
	record, err := s.loadRecord(addr)
	if err != nil {
		return err
	}
	if record == nil {
		return ErrAccountNotFound
	}
	if record.Kind != string(kind) {
		return fmt.Errorf("%w: have %s, want %s", ErrKindMismatch, record.Kind, kind)
	}
	return s.writeRecord(addr, kind, value)
}

// Nonce returns the next expected transaction nonce for addr.
func (s *StateDB) Nonce(addr [20]byte) (uint64, error) {
	data, ok, err := s.get(nonceStorageKey(addr))
	if err != nil || !ok {
		return 0, err
	}
	var nonce uint64
	if err := rlp.DecodeBytes(data, &nonce); err != nil {
		return 0, fmt.Errorf("state: decode nonce: %w", err)
	}
	return nonce, nil
}

// SetNonce records the next expected transaction nonce for addr.
func (s *StateDB) SetNonce(addr [20]byte, nonce uint64) error {
	encoded, err := rlp.EncodeToBytes(nonce)
	if err != nil {
		return err
	}
	return s.put(nonceStorageKey(addr), encoded)
}

// AppendEvent buffers evt until the surrounding Update commits.
func (s *StateDB) AppendEvent(evt events.Event) {
	if evt == nil {
		return
	}
	s.events = append(s.events, evt)
}

// Events returns the events appended so far.
func (s *StateDB) Events() []events.Event {
	return append([]events.Event(nil), s.events...)
}

func (s *StateDB) drainEvents() []events.Event {
	out := s.events
	s.events = nil
	return out
}
