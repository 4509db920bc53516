package ledger

import (
	"context"
	"crypto/ed25519"
	"sort"
	"sync"
	"time"

	"github.com/punchamoorthee/tunnelpay/internal/domain"
)

// MemoryStore keeps tunnel records in process memory with a mutex per
// tunnel. Used for tests and single-node development; production runs the
// Postgres store.
type MemoryStore struct {
	mu      sync.RWMutex
	tunnels map[domain.TunnelID]*memEntry
	nextSeq uint64
}

type memEntry struct {
	mu     sync.Mutex
	seq    uint64
	tunnel *domain.Tunnel
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tunnels: make(map[domain.TunnelID]*memEntry)}
}

func (s *MemoryStore) Close() {}

func (s *MemoryStore) Create(ctx context.Context, id domain.TunnelID, owner string, payerPub ed25519.PublicKey, totalDeposited uint64) (*domain.Tunnel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tunnels[id]; ok {
		return nil, domain.ErrTunnelExists
	}
	if err := checkDeposit(0, totalDeposited); err != nil {
		return nil, err
	}
	t := &domain.Tunnel{
		ID:             id,
		Owner:          owner,
		PayerPublicKey: append(ed25519.PublicKey(nil), payerPub...),
		TotalDeposited: totalDeposited,
		Status:         domain.StatusActive,
		CreatedAt:      time.Now().UTC(),
	}
	s.nextSeq++
	s.tunnels[id] = &memEntry{seq: s.nextSeq, tunnel: t}
	return t.Clone(), nil
}

func (s *MemoryStore) lookup(id domain.TunnelID) (*memEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.tunnels[id]
	if !ok {
		return nil, domain.ErrTunnelNotFound
	}
	return e, nil
}

func (s *MemoryStore) Get(ctx context.Context, id domain.TunnelID) (*domain.Tunnel, error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tunnel.Clone(), nil
}

func (s *MemoryStore) ListByOwner(ctx context.Context, owner string) ([]*domain.Tunnel, error) {
	s.mu.RLock()
	entries := make([]*memEntry, 0)
	for _, e := range s.tunnels {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	// Most recently created first.
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq > entries[j].seq })

	out := make([]*domain.Tunnel, 0)
	for _, e := range entries {
		e.mu.Lock()
		if e.tunnel.Owner == owner {
			out = append(out, e.tunnel.Clone())
		}
		e.mu.Unlock()
	}
	return out, nil
}

func (s *MemoryStore) ApplyTopup(ctx context.Context, id domain.TunnelID, amount uint64) error {
	e, err := s.lookup(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := checkDeposit(e.tunnel.TotalDeposited, amount); err != nil {
		return err
	}
	e.tunnel.TotalDeposited += amount
	return nil
}

func (s *MemoryStore) TransitionStatus(ctx context.Context, id domain.TunnelID, next domain.Status) error {
	e, err := s.lookup(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.tunnel.Status.CanTransition(next) {
		return domain.ErrInvalidTransition
	}
	e.tunnel.Status = next
	return nil
}

func (s *MemoryStore) CompareAndAdvance(ctx context.Context, id domain.TunnelID, charge, expectedNonce uint64, signature []byte) (uint64, uint64, error) {
	e, err := s.lookup(id)
	if err != nil {
		return 0, 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	t := e.tunnel
	if err := checkAdvance(t, charge, expectedNonce); err != nil {
		return 0, 0, err
	}

	t.PendingAmount += charge
	t.Nonce++
	t.LatestSignature = append([]byte(nil), signature...)
	return t.Cumulative(), t.Nonce, nil
}

func (s *MemoryStore) Reconcile(ctx context.Context, id domain.TunnelID, settledCumulative uint64) (*domain.Tunnel, error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	t := e.tunnel
	if err := checkReconcile(t, settledCumulative); err != nil {
		return nil, err
	}
	t.PendingAmount = t.Cumulative() - settledCumulative
	t.ClaimedAmount = settledCumulative
	return t.Clone(), nil
}
