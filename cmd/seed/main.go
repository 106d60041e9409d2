// seed inserts development sample data (accounts, paid payments, past sessions) for local testing.
// It writes to the database only and never touches the router, so seeded accounts look provisioned
// with placeholder router ids. Idempotent: skips if the first seed identity already exists.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"cdr.dev/slog"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"

	accountdomain "hotspot-control-plane/backend/internal/account/domain"
	accountrepo "hotspot-control-plane/backend/internal/account/repository"
	"hotspot-control-plane/backend/internal/config"
	"hotspot-control-plane/backend/internal/db"
	"hotspot-control-plane/backend/internal/logging"
	paymentdomain "hotspot-control-plane/backend/internal/payment/domain"
	paymentrepo "hotspot-control-plane/backend/internal/payment/repository"
	"hotspot-control-plane/backend/internal/payment/tiers"
	sessiondomain "hotspot-control-plane/backend/internal/session/domain"
	sessionrepo "hotspot-control-plane/backend/internal/session/repository"
)

const (
	seedAccounts     = 12
	sessionsPerAcct  = 3
	seedActor        = "seed"
	firstIdentityNum = 1000
)

// amounts cycles through every pricing tier.
var amounts = []int64{500, 1000, 2000, 5000}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogFormat, cfg.LogLevel, os.Stderr).Named("seed")
	ctx := context.Background()
	if cfg.DatabaseURL == "" {
		logger.Fatal(ctx, "DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal(ctx, "open database", slog.Error(err))
	}
	defer conn.Close()

	accounts := accountrepo.NewPostgresRepository(conn)
	payments := paymentrepo.NewPostgresRepository(conn)
	sessions := sessionrepo.NewPostgresRepository(conn)

	first := identity(cfg.IdentityPrefix, 0)
	existing, err := accounts.GetByIdentity(ctx, first)
	if err != nil {
		logger.Fatal(ctx, "seed check", slog.Error(err))
	}
	if existing != nil {
		logger.Info(ctx, "seed already applied, skipping", slog.F("identity", first))
		return
	}

	gofakeit.Seed(0)
	now := time.Now().UTC()
	for i := 0; i < seedAccounts; i++ {
		amount := amounts[i%len(amounts)]
		tier := tiers.Static{}.Resolve(ctx, amount)
		// Spread creation over the last two weeks so some accounts are already past due.
		created := now.Add(-time.Duration(gofakeit.Number(1, 14*24)) * time.Hour)

		a := &accountdomain.Account{
			ID:          uuid.New().String(),
			Identity:    identity(cfg.IdentityPrefix, i),
			Secret:      gofakeit.Password(true, true, true, false, false, 8),
			Duration:    tier.Duration,
			Bandwidth:   tier.Bandwidth,
			MaxDevices:  1,
			ExpiresAt:   tier.Duration.ExpiresAt(created),
			Active:      true,
			ExternalRef: fmt.Sprintf("*%X", 0x100+i),
			CreatedBy:   seedActor,
			CreatedAt:   created,
			UpdatedAt:   created,
		}
		p := &paymentdomain.Payment{
			ID:            uuid.New().String(),
			Amount:        amount,
			Status:        paymentdomain.StatusCompleted,
			Method:        []paymentdomain.Method{paymentdomain.MethodMobileMoney, paymentdomain.MethodCash}[i%2],
			TransactionID: gofakeit.UUID(),
			PayerRef:      gofakeit.Phone(),
			CreatedBy:     seedActor,
			CreatedAt:     created,
			UpdatedAt:     created,
		}
		a.Comment = "Auto-created from payment " + p.ID
		if err := accounts.Create(ctx, a); err != nil {
			logger.Fatal(ctx, "create account", slog.F("identity", a.Identity), slog.Error(err))
		}
		p.AccountID = a.ID
		if err := payments.Save(ctx, p); err != nil {
			logger.Fatal(ctx, "create payment", slog.F("account_id", a.ID), slog.Error(err))
		}

		start := created
		for j := 0; j < sessionsPerAcct; j++ {
			start = start.Add(time.Duration(gofakeit.Number(10, 300)) * time.Minute)
			end := start.Add(time.Duration(gofakeit.Number(5, 120)) * time.Minute)
			if end.After(now) {
				break
			}
			s := &sessiondomain.Session{
				ID:             uuid.New().String(),
				AccountID:      a.ID,
				Address:        gofakeit.IPv4Address(),
				MACAddress:     gofakeit.MacAddress(),
				BytesIn:        int64(gofakeit.Number(1<<20, 500<<20)),
				BytesOut:       int64(gofakeit.Number(1<<18, 50<<20)),
				ConnectedAt:    start,
				DisconnectedAt: &end,
				CreatedAt:      start,
				UpdatedAt:      end,
			}
			if err := sessions.Save(ctx, s); err != nil {
				logger.Fatal(ctx, "create session", slog.F("account_id", a.ID), slog.Error(err))
			}
			start = end
		}
	}
	logger.Info(ctx, "seed applied", slog.F("accounts", seedAccounts))
}

func identity(prefix string, i int) string {
	return fmt.Sprintf("%s%d", prefix, firstIdentityNum+i)
}
