// Package main запускает веб-приложение библиотеки Bookworm.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/bookworm/internal/config"
	"github.com/mmeshcher/bookworm/internal/handler"
	"github.com/mmeshcher/bookworm/internal/mailer"
	"github.com/mmeshcher/bookworm/internal/middleware"
	"github.com/mmeshcher/bookworm/internal/payment"
	"github.com/mmeshcher/bookworm/internal/repository"
	"github.com/mmeshcher/bookworm/internal/service"
)

const shutdownTimeout = 5 * time.Second

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}

	if cfg.Payment.APIKey == "" {
		sugar.Warn("PAYMENT_API_KEY is not set, fine payments are disabled")
	}
	if cfg.SMTP.Host == "" {
		sugar.Warn("SMTP_HOST is not set, email reminders are disabled")
	}

	svc := service.NewService(
		repo,
		payment.NewClient(cfg.Payment.APIURL, cfg.Payment.APIKey, cfg.Payment.Timeout),
		mailer.New(cfg.SMTP, cfg.MailFrom),
		service.Options{
			DailyRate:      cfg.FineDailyRate,
			LoanPeriodDays: cfg.LoanPeriodDays,
			Currency:       cfg.Currency,
			BaseURL:        cfg.BaseURL,
		},
	)
	defer svc.Close()

	if cfg.SessionSecret == "" {
		sugar.Warn("SESSION_SECRET is not set, sessions will not survive a restart")
	}
	authMiddleware := middleware.NewAuthMiddleware(cfg.SessionSecret, svc)

	h, err := handler.NewHandler(svc, logger, authMiddleware)
	if err != nil {
		sugar.Fatalw("handler initialization error", "error", err.Error())
	}

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(cfg.RequestTimeout),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sugar.Infow("starting bookworm server",
			"addr", cfg.RunAddress,
			"loanPeriodDays", cfg.LoanPeriodDays,
			"fineDailyRate", cfg.FineDailyRate.StringFixed(2),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка сервера)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
