package history

import (
    "context"

    "github.com/local/pdfbridge/internal/record"
)

// AnonMode decides what an owner-less history request sees. The two observed
// behaviors in the wild disagree, so it is an explicit configuration choice.
type AnonMode string

const (
    AnonAll  AnonMode = "all"  // anonymous requests see every record
    AnonNone AnonMode = "none" // anonymous requests see nothing
)

type Service struct {
    records record.Store
    anon    AnonMode
}

func New(records record.Store, anon AnonMode) *Service {
    if anon != AnonAll { anon = AnonNone }
    return &Service{records: records, anon: anon}
}

// ListForOwner returns the owner's records newest first. With no owner the
// result depends on the anonymous mode: the full collection, or an empty set.
func (s *Service) ListForOwner(ctx context.Context, ownerID string) ([]record.Record, error) {
    if ownerID == "" {
        if s.anon == AnonAll {
            return s.records.ListAll(ctx)
        }
        return []record.Record{}, nil
    }
    return s.records.ListByOwner(ctx, ownerID)
}
