// README: History service; live feed plus retention pruning with archival.
package history

import (
	"context"
	"time"

	"go.uber.org/zap"

	"motorcab/internal/logging"
	"motorcab/internal/modules/trip"
	"motorcab/internal/types"
)

type Service struct {
	store     *Store
	archive   Archiver
	retention time.Duration
}

// NewService builds the history service. archive may be nil; pruned entries
// are then dropped without cold storage. retention bounds how long completed
// trips stay in the live tree.
func NewService(store *Store, archive Archiver, retention time.Duration) *Service {
	if retention <= 0 {
		retention = 48 * time.Hour
	}
	return &Service{store: store, archive: archive, retention: retention}
}

// List returns the driver's live history, most recent first.
func (s *Service) List(ctx context.Context, driverID types.ID) ([]trip.Trip, error) {
	return s.store.List(ctx, driverID)
}

// Watch delivers the sorted live history after every change.
func (s *Service) Watch(ctx context.Context, driverID types.ID) (<-chan []trip.Trip, error) {
	return s.store.Watch(ctx, driverID)
}

// Prune removes live entries older than the retention window, archiving each
// one first when cold storage is configured. An entry that fails to archive
// stays in the live tree for the next pass. Returns the number pruned.
func (s *Service) Prune(ctx context.Context, driverID types.ID) (int, error) {
	entries, err := s.store.List(ctx, driverID)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-s.retention).UnixMilli()
	pruned := 0
	for _, t := range entries {
		if t.CompletedAt == 0 || t.CompletedAt >= cutoff {
			continue
		}
		if s.archive != nil {
			if err := s.archive.ArchiveTrip(ctx, driverID, t); err != nil {
				logging.Get().Warn("archive failed, entry retained",
					zap.String("tripId", string(t.ID)), zap.Error(err))
				continue
			}
		}
		if err := s.store.Remove(ctx, driverID, t.ID); err != nil {
			logging.Get().Warn("prune failed",
				zap.String("tripId", string(t.ID)), zap.Error(err))
			continue
		}
		pruned++
	}
	if pruned > 0 {
		logging.Get().Info("history pruned",
			zap.String("driverId", string(driverID)), zap.Int("count", pruned))
	}
	return pruned, nil
}

// PruneLoop runs Prune on a fixed interval until ctx ends.
func (s *Service) PruneLoop(ctx context.Context, driverID types.ID, every time.Duration) {
	if every <= 0 {
		every = time.Hour
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		if _, err := s.Prune(ctx, driverID); err != nil {
			logging.Get().Warn("prune pass failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
