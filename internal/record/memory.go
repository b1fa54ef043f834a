package record

import (
    "context"
    "sort"
    "sync"
)

// MemoryStore keeps records in process memory. It backs tests and deployments
// without a REDIS_URL; records are lost on restart.
type MemoryStore struct {
    mu   sync.RWMutex
    recs map[string]Record
}

func NewMemoryStore() *MemoryStore {
    return &MemoryStore{recs: make(map[string]Record)}
}

func (m *MemoryStore) Create(ctx context.Context, rec Record) error {
    m.mu.Lock()
    defer m.mu.Unlock()
    m.recs[rec.ID] = rec
    return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (Record, bool, error) {
    m.mu.RLock()
    defer m.mu.RUnlock()
    rec, ok := m.recs[id]
    return rec, ok, nil
}

func (m *MemoryStore) ListByOwner(ctx context.Context, ownerID string) ([]Record, error) {
    m.mu.RLock()
    defer m.mu.RUnlock()
    out := make([]Record, 0)
    for _, rec := range m.recs {
        if rec.OwnerID == ownerID {
            out = append(out, rec)
        }
    }
    sortNewestFirst(out)
    return out, nil
}

func (m *MemoryStore) ListAll(ctx context.Context) ([]Record, error) {
    m.mu.RLock()
    defer m.mu.RUnlock()
    out := make([]Record, 0, len(m.recs))
    for _, rec := range m.recs {
        out = append(out, rec)
    }
    sortNewestFirst(out)
    return out, nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
    m.mu.Lock()
    defer m.mu.Unlock()
    delete(m.recs, id)
    return nil
}

func (m *MemoryStore) Close() error { return nil }

func sortNewestFirst(recs []Record) {
    sort.Slice(recs, func(i, j int) bool {
        return recs[i].Timestamp.After(recs[j].Timestamp)
    })
}
