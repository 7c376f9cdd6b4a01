// README: Ledger engine; canonical balance, online gate, and settlement credits.
//
// The balance is always derived from the log. The walletBalance field other
// clients keep on drivers/{id} is treated as a cache and never read back.
package ledger

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
	defaults  trip.FeeSchedule
	threshold int64
}

// NewService builds the engine. defaults is the fee schedule used whenever
// settings/fees is absent; threshold is the low-balance gate.
func NewService(store *Store, defaults trip.FeeSchedule, threshold int64) *Service {
	return &Service{store: store, defaults: defaults, threshold: threshold}
}

// Schedule returns the fee schedule currently in effect.
func (s *Service) Schedule(ctx context.Context) trip.FeeSchedule {
	fs, err := s.store.FeeSchedule(ctx)
	if err != nil {
		logging.Get().Warn("fee schedule read failed, using defaults", zap.Error(err))
		return s.defaults
	}
	if fs == nil {
		return s.defaults
	}
	return *fs
}

// BalanceOf computes the driver's balance from the full log.
func (s *Service) BalanceOf(ctx context.Context, driverID types.ID) (int64, error) {
	txs, err := s.store.Transactions(ctx, driverID)
	if err != nil {
		return 0, err
	}
	completed, err := s.store.CompletedTrips(ctx, driverID)
	if err != nil {
		return 0, err
	}
	return Balance(txs, completed, s.Schedule(ctx)), nil
}

// CanGoOnline is the low-balance gate.
func (s *Service) CanGoOnline(balance int64) bool {
	return balance > s.threshold
}

// CreditCancellationFee credits a positive cancellation fee as an approved
// ledger entry. Zero or negative fees need no entry.
func (s *Service) CreditCancellationFee(ctx context.Context, driverID types.ID, tripID types.ID, fee int64) error {
	if fee <= 0 {
		return nil
	}
	_, err := s.store.Append(ctx, driverID, Transaction{
		Amount:    fee,
		Type:      TxCredit,
		Status:    TxApproved,
		Method:    "cancellation",
		Reference: string(tripID),
		Date:      time.Now().UnixMilli(),
	})
	if err != nil {
		return err
	}
	logging.Get().Info("cancellation fee credited",
		zap.String("driverId", string(driverID)),
		zap.String("tripId", string(tripID)),
		zap.Int64("fee", fee))
	return nil
}

// SubmitTopUp records a manual top-up claim. It stays pending, and invisible
// to the balance, until an approver flips its status.
func (s *Service) SubmitTopUp(ctx context.Context, driverID types.ID, amount int64, method, reference, senderName string) (types.ID, error) {
	return s.store.Append(ctx, driverID, Transaction{
		Amount:     amount,
		Type:       TxTopUp,
		Status:     TxPending,
		Method:     method,
		Reference:  reference,
		SenderName: senderName,
		Date:       time.Now().UnixMilli(),
	})
}

// RequestWithdrawal records a pending withdrawal request.
func (s *Service) RequestWithdrawal(ctx context.Context, driverID types.ID, amount int64, method string) (types.ID, error) {
	return s.store.Append(ctx, driverID, Transaction{
		Amount: amount,
		Type:   TxWithdraw,
		Status: TxPending,
		Method: method,
		Date:   time.Now().UnixMilli(),
	})
}

// WatchBalance recomputes the balance after every change to its inputs and
// emits each distinct value, starting with the current one.
func (s *Service) WatchBalance(ctx context.Context, driverID types.ID) (<-chan int64, error) {
	ticks, err := s.store.WatchBalanceInputs(ctx, driverID)
	if err != nil {
		return nil, err
	}
	out := make(chan int64, 1)
	go func() {
		defer close(out)
		var last int64
		seeded := false
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ticks:
				if !ok {
					return
				}
			}
			balance, err := s.BalanceOf(ctx, driverID)
			if err != nil {
				logging.Get().Warn("balance recompute failed", zap.Error(err))
				continue
			}
			if seeded && balance == last {
				continue
			}
			last, seeded = balance, true
			deliver(out, balance)
		}
	}()
	return out, nil
}

// deliver replaces an unread balance so consumers always see the latest.
func deliver(ch chan int64, v int64) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
