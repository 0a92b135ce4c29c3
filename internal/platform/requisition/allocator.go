// Package requisition allocates human-trackable requisition numbers,
// unique per organization per calendar day.
package requisition

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrStorageUnavailable indicates the counter storage could not be reached.
// Callers retry with backoff; a number is never handed out unless its
// uniqueness is guaranteed.
var ErrStorageUnavailable = errors.New("requisition storage unavailable")

// Allocator issues requisition numbers formatted PREFIX-YYYY-MMDD-NNNN.
// Under concurrent callers for the same (org, day) every returned number is
// distinct; the sequence is monotonic and gaps are permitted.
type Allocator interface {
	Allocate(ctx context.Context, orgID int64, day time.Time) (string, error)
}

// Format renders a sequence value as a requisition number.
func Format(prefix string, day time.Time, seq int) string {
	return fmt.Sprintf("%s-%s-%04d", prefix, day.Format("2006-0102"), seq)
}
