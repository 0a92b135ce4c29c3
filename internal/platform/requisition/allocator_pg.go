package requisition

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type allocatorPG struct {
	pool   *pgxpool.Pool
	prefix string
}

func NewAllocatorPG(pool *pgxpool.Pool, prefix string) Allocator {
	return &allocatorPG{pool: pool, prefix: prefix}
}

// Allocate increments the per-(org, day) counter in a single statement. The
// upsert is atomic on the storage side, so there is no read-then-write window
// and concurrent callers each observe a distinct counter value.
func (a *allocatorPG) Allocate(ctx context.Context, orgID int64, day time.Time) (string, error) {
	var seq int
	err := a.pool.QueryRow(ctx, `
		INSERT INTO requisition_counter (org_id, seq_date, counter)
		VALUES ($1, $2, 1)
		ON CONFLICT (org_id, seq_date)
		DO UPDATE SET counter = requisition_counter.counter + 1
		RETURNING counter`,
		orgID, day.Format("2006-01-02")).Scan(&seq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return Format(a.prefix, day, seq), nil
}
