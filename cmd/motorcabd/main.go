// README: Entry point; loads config, wires a store backend, and runs one
// driver session until interrupted.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"motorcab/internal/config"
	"motorcab/internal/geo"
	"motorcab/internal/infra"
	"motorcab/internal/logging"
	"motorcab/internal/modules/dispatch"
	"motorcab/internal/modules/history"
	"motorcab/internal/modules/ledger"
	"motorcab/internal/modules/matching"
	"motorcab/internal/modules/trip"
	"motorcab/internal/realtime"
	"motorcab/internal/types"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logging.Init(os.Getenv("MOTORCAB_ENV"))
	defer logging.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newStore(ctx, cfg)
	if err != nil {
		log.Fatalf("store init: %v", err)
	}

	var geoSvc geo.Service
	if cfg.Maps.APIKey != "" {
		geoSvc, err = geo.NewGoogleService(cfg.Maps.APIKey)
		if err != nil {
			log.Fatalf("maps init: %v", err)
		}
	}

	var archive history.Archiver
	if cfg.DB.DSN != "" {
		pool, err := infra.NewDB(ctx, cfg.DB.DSN)
		if err != nil {
			log.Fatalf("db init: %v", err)
		}
		defer pool.Close()
		store := history.NewArchiveStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			log.Fatalf("db schema: %v", err)
		}
		archive = store
	}

	defaults := trip.FeeSchedule{
		CommissionRate: cfg.Fees.CommissionRate,
		PlatformFee:    cfg.Fees.PlatformFee,
	}
	ledgerSvc := ledger.NewService(ledger.NewStore(rt), defaults, cfg.Dispatch.LowBalanceThreshold)
	historySvc := history.NewService(history.NewStore(rt), archive, cfg.Dispatch.HistoryRetention)
	matcherSvc := matching.NewService(rt, geoSvc)
	coord := dispatch.NewCoordinator(rt, matcherSvc, ledgerSvc, historySvc, cfg.Dispatch)

	driverID, err := resolveDriver(ctx, cfg)
	if err != nil {
		log.Fatalf("driver identity: %v", err)
	}

	session, err := coord.StartSession(ctx, driverID)
	if err != nil {
		log.Fatalf("session: %v", err)
	}
	defer session.Close()

	if err := session.GoOnline(ctx); err != nil {
		log.Fatalf("go online: %v", err)
	}

	logger := logging.Get()
	for {
		select {
		case <-ctx.Done():
			session.GoOffline(context.Background())
			return
		case u := <-session.Offers():
			logger.Info("offers updated",
				zap.Int("candidates", len(u.Trips)),
				zap.Bool("alert", u.Alert))
		case n := <-session.Notices():
			logger.Info("active trip changed externally",
				zap.String("tripId", string(n.Trip.ID)),
				zap.Bool("cancelled", n.Cancelled),
				zap.Int64("fee", n.Fee))
		}
	}
}

// newStore picks the realtime backend: Firebase when configured, Redis
// otherwise, in-memory as the local fallback.
func newStore(ctx context.Context, cfg config.Config) (realtime.Store, error) {
	if cfg.Firebase.DatabaseURL != "" {
		return realtime.NewFirebaseStore(ctx, cfg.Firebase.ProjectID, cfg.Firebase.DatabaseURL, cfg.Firebase.CredentialsFile)
	}
	if cfg.Redis.Addr != "" {
		return realtime.NewRedisStore(infra.NewRedis(cfg.Redis.Addr)), nil
	}
	return realtime.NewMemoryStore(), nil
}

// resolveDriver takes the driver id directly from the environment, or
// verifies a Firebase ID token when one is supplied instead.
func resolveDriver(ctx context.Context, cfg config.Config) (types.ID, error) {
	if id := os.Getenv("MOTORCAB_DRIVER_ID"); id != "" {
		return types.ID(id), nil
	}
	idToken := os.Getenv("MOTORCAB_ID_TOKEN")
	verifier, err := infra.NewFirebaseVerifier(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
	if err != nil {
		return "", err
	}
	token, err := verifier.VerifyIDToken(ctx, idToken)
	if err != nil {
		return "", err
	}
	return types.ID(token.UID), nil
}
