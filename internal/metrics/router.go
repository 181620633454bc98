package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/ChuLiYu/zerog-bots/pkg/types"
)

// WalletLister 提供 /wallets 端點的資料來源（tracker.Tracker）
type WalletLister interface {
	List() []types.WalletRun
	Stats() map[string]int
}

// NewRouter 建立監控用的 HTTP 路由
//
//	GET /metrics   Prometheus 文本格式
//	GET /healthz   存活檢查
//	GET /wallets   目前執行中每個錢包的狀態（JSON）
func NewRouter(gatherer prometheus.Gatherer, wallets WalletLister) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/wallets", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if wallets == nil {
			_, _ = w.Write([]byte(`{"stats":{},"wallets":[]}`))
			return
		}
		body := struct {
			Stats   map[string]int    `json:"stats"`
			Wallets []types.WalletRun `json:"wallets"`
		}{wallets.Stats(), wallets.List()}
		if err := json.NewEncoder(w).Encode(body); err != nil {
			log.Warn().Err(err).Msg("failed to encode wallets response")
		}
	})

	return r
}

// Serve 在 addr 提供 handler 直到 ctx 取消
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("metrics server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server failed: %w", err)
	}
}
