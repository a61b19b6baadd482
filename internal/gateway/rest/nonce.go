package rest

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// NonceStore persists the highest nonce issued per credential set so a
// restart never reuses one.
type NonceStore interface {
	Load(ctx context.Context, key string) (uint64, error)
	Save(ctx context.Context, key string, nonce uint64) error
	Close() error
}

// NonceSource issues strictly increasing nonces: max(now in µs, last+1).
type NonceSource struct {
	mu     sync.Mutex
	key    string
	last   uint64
	store  NonceStore
	now    func() time.Time
	loaded bool
}

func NewNonceSource(apiKey string, store NonceStore) *NonceSource {
	if store == nil {
		store = NewMemoryNonceStore()
	}
	return &NonceSource{key: fingerprint(apiKey), store: store, now: time.Now}
}

// Next returns the next nonce and records it before returning.
func (n *NonceSource) Next(ctx context.Context) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.loaded {
		last, err := n.store.Load(ctx, n.key)
		if err != nil {
			return 0, err
		}
		if last > n.last {
			n.last = last
		}
		n.loaded = true
	}
	next := uint64(n.now().UnixMicro())
	if next <= n.last {
		next = n.last + 1
	}
	if err := n.store.Save(ctx, n.key, next); err != nil {
		return 0, err
	}
	n.last = next
	return next, nil
}

func fingerprint(apiKey string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(apiKey)))
	return "nonce/" + hex.EncodeToString(sum[:8])
}

// MemoryNonceStore keeps high-water marks in process memory.
type MemoryNonceStore struct {
	mu   sync.Mutex
	vals map[string]uint64
}

func NewMemoryNonceStore() *MemoryNonceStore {
	return &MemoryNonceStore{vals: make(map[string]uint64)}
}

func (m *MemoryNonceStore) Load(_ context.Context, key string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.vals[key], nil
}

func (m *MemoryNonceStore) Save(_ context.Context, key string, nonce uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if nonce > m.vals[key] {
		m.vals[key] = nonce
	}
	return nil
}

func (m *MemoryNonceStore) Close() error { return nil }

// BadgerNonceStore keeps high-water marks in a Badger KV directory.
type BadgerNonceStore struct {
	db *badger.DB
}

// OpenBadgerNonceStore opens (or creates) the store at path; an empty path
// opens an in-memory instance.
func OpenBadgerNonceStore(path string) (*BadgerNonceStore, error) {
	opts := badger.DefaultOptions(strings.TrimSpace(path)).WithLogger(nil)
	if strings.TrimSpace(path) == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerNonceStore{db: db}, nil
}

func (s *BadgerNonceStore) Load(_ context.Context, key string) (uint64, error) {
	var out uint64
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) == 8 {
				out = binary.BigEndian.Uint64(val)
			}
			return nil
		})
	})
	return out, err
}

func (s *BadgerNonceStore) Save(_ context.Context, key string, nonce uint64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, nonce)
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), buf)
	})
}

func (s *BadgerNonceStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
