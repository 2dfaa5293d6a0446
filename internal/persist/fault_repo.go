package persist

import (
	"context"
	"fmt"
	"time"
)

// FaultRecord is one failed behavior callback.
type FaultRecord struct {
	EntityID   uint64
	Behavior   string
	Callback   string // onStart, onUpdate, onDestroy, timer, event
	Detail     string
	Message    string
	Frame      uint64
	OccurredAt time.Time
}

type FaultRepo struct {
	db *DB
}

func NewFaultRepo(db *DB) *FaultRepo {
	return &FaultRepo{db: db}
}

// InsertFaults writes a batch in a single transaction. Either every record
// lands or none do.
func (r *FaultRepo) InsertFaults(ctx context.Context, records []FaultRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("faults begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, f := range records {
		if _, err := tx.Exec(ctx,
			`INSERT INTO script_faults (entity_id, behavior, callback, detail, message, frame, occurred_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			int64(f.EntityID), f.Behavior, f.Callback, f.Detail, f.Message, int64(f.Frame), f.OccurredAt,
		); err != nil {
			return fmt.Errorf("faults insert: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// RecentFaults returns the newest faults for one entity, newest first.
func (r *FaultRepo) RecentFaults(ctx context.Context, entity uint64, limit int) ([]FaultRecord, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT entity_id, behavior, callback, detail, message, frame, occurred_at
		 FROM script_faults WHERE entity_id = $1
		 ORDER BY occurred_at DESC, id DESC LIMIT $2`,
		int64(entity), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("faults query: %w", err)
	}
	defer rows.Close()

	var out []FaultRecord
	for rows.Next() {
		var f FaultRecord
		var id, frame int64
		if err := rows.Scan(&id, &f.Behavior, &f.Callback, &f.Detail, &f.Message, &frame, &f.OccurredAt); err != nil {
			return nil, fmt.Errorf("faults scan: %w", err)
		}
		f.EntityID = uint64(id)
		f.Frame = uint64(frame)
		out = append(out, f)
	}
	return out, rows.Err()
}

// PruneFaults deletes faults older than cutoff.
func (r *FaultRepo) PruneFaults(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM script_faults WHERE occurred_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("faults prune: %w", err)
	}
	return tag.RowsAffected(), nil
}
