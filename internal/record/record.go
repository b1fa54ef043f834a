package record

import (
    "context"
    "strings"
    "time"
)

// Record describes one completed conversion. OwnerID is empty for anonymous
// conversions. OriginalFilename holds the display form: one name, or several
// joined with ", " in upload order for merged outputs.
type Record struct {
    ID                string    `json:"id"`
    OriginalFilename  string    `json:"original_filename"`
    ConvertedFilename string    `json:"converted_filename"`
    OwnerID           string    `json:"owner_id,omitempty"`
    Timestamp         time.Time `json:"timestamp"`
}

// JoinNames builds the display form of multiple source filenames.
func JoinNames(names []string) string { return strings.Join(names, ", ") }

// Store persists conversion records. Delete of an unknown id is not an error;
// the retention cleanup path may run after a record is already gone.
type Store interface {
    Create(ctx context.Context, rec Record) error
    Get(ctx context.Context, id string) (Record, bool, error)
    // ListByOwner returns the owner's records ordered newest first.
    ListByOwner(ctx context.Context, ownerID string) ([]Record, error)
    // ListAll returns every record ordered newest first.
    ListAll(ctx context.Context) ([]Record, error)
    Delete(ctx context.Context, id string) error
    Close() error
}
