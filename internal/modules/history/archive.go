// README: Postgres cold storage for pruned trip history.
package history

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"motorcab/internal/modules/trip"
	"motorcab/internal/types"
)

// Archiver receives history entries before they are pruned from the live tree.
type Archiver interface {
	ArchiveTrip(ctx context.Context, driverID types.ID, t trip.Trip) error
}

// ArchiveStore keeps pruned trips in Postgres so earnings stay auditable
// after the realtime tree forgets them.
type ArchiveStore struct {
	pool *pgxpool.Pool
}

func NewArchiveStore(pool *pgxpool.Pool) *ArchiveStore {
	return &ArchiveStore{pool: pool}
}

const schema = `
CREATE TABLE IF NOT EXISTS completed_trips (
    trip_id          TEXT NOT NULL,
    driver_id        TEXT NOT NULL,
    passenger_id     TEXT NOT NULL,
    fare             BIGINT NOT NULL,
    commission       BIGINT,
    pickup_address   TEXT,
    dropoff_address  TEXT,
    cancellation_fee BIGINT NOT NULL DEFAULT 0,
    created_at       BIGINT NOT NULL,
    completed_at     BIGINT NOT NULL,
    PRIMARY KEY (driver_id, trip_id)
);
CREATE INDEX IF NOT EXISTS completed_trips_completed_at_idx
    ON completed_trips (driver_id, completed_at DESC);
`

// EnsureSchema creates the archive table when it does not exist yet.
func (a *ArchiveStore) EnsureSchema(ctx context.Context) error {
	if _, err := a.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure archive schema: %w", err)
	}
	return nil
}

// ArchiveTrip upserts one history entry. Re-archiving the same trip is a
// no-op so a prune interrupted mid-way can safely run again.
func (a *ArchiveStore) ArchiveTrip(ctx context.Context, driverID types.ID, t trip.Trip) error {
	_, err := a.pool.Exec(ctx, `
		INSERT INTO completed_trips
		    (trip_id, driver_id, passenger_id, fare, commission,
		     pickup_address, dropoff_address, cancellation_fee, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (driver_id, trip_id) DO NOTHING`,
		string(t.ID), string(driverID), string(t.PassengerID), t.Fare, t.CommissionAmount,
		t.PickupAddress, t.DropoffAddress, t.CancellationFee, t.CreatedAt, t.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("archive trip %s: %w", t.ID, err)
	}
	return nil
}

// EarningsSince sums archived commission-net earnings from a millisecond
// timestamp onward (admin reporting).
func (a *ArchiveStore) EarningsSince(ctx context.Context, driverID types.ID, sinceMillis int64) (int64, error) {
	var total int64
	err := a.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(fare - COALESCE(commission, 0)), 0)
		FROM completed_trips
		WHERE driver_id = $1 AND completed_at >= $2`,
		string(driverID), sinceMillis,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("earnings query: %w", err)
	}
	return total, nil
}
