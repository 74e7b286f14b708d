package main

import (
	"context"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/msinnovatics/storefront/internal/config"
	"github.com/msinnovatics/storefront/internal/gateway"
	"github.com/msinnovatics/storefront/internal/installment"
	"github.com/msinnovatics/storefront/internal/notify"
	"github.com/msinnovatics/storefront/internal/order"
	"github.com/msinnovatics/storefront/internal/payment"
)

func main() {
	cfg := config.Load()

	ctx := context.Background()
	db, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("[main] connect postgres: %v", err)
	}
	defer db.Close()

	var notifier notify.Notifier = notify.Noop{}
	if cfg.NATSURL != "" {
		nc, err := notify.Connect(cfg.NATSURL)
		if err != nil {
			// Notifications are best-effort; a missing broker must not stop
			// the storefront.
			log.Printf("[main] nats connect failed, notifications disabled: %v", err)
		} else {
			defer nc.Close()
			notifier = nc
		}
	}

	gw := gateway.New(cfg.GatewayBaseURL, cfg.GatewayKeyID, cfg.GatewayKeySecret, cfg.GatewayWebhookSecret)

	orderRepo := order.NewPGRepo(db)
	instRepo := installment.NewPGRepo(db)

	a := &app{
		orders:       order.NewService(orderRepo, notifier, cfg.InstallmentEpsilon),
		installments: installment.NewService(instRepo, orderRepo, cfg.InstallmentCount, cfg.InstallmentEpsilon),
		engine:       payment.NewEngine(gw, orderRepo, instRepo, notifier, cfg.SettlementCurrency, cfg.AmountToleranceMinor),
	}

	r := newRouter(a)
	log.Printf("storefront listening on %s", cfg.HTTPAddr)
	if err := r.Run(cfg.HTTPAddr); err != nil {
		log.Fatalf("[main] http server: %v", err)
	}
}
