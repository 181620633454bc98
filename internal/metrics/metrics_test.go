package metrics

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/zerog-bots/pkg/types"
)

// newTestCollector swaps the default registry so each test registers cleanly
func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	prometheus.DefaultRegisterer = reg
	return NewCollector(), reg
}

func TestNewCollector(t *testing.T) {
	collector, _ := newTestCollector(t)

	assert.NotNil(t, collector, "NewCollector should return a non-nil collector")
	assert.NotNil(t, collector.actions, "actions counter should be initialized")
	assert.NotNil(t, collector.retries, "retries counter should be initialized")
	assert.NotNil(t, collector.ledgerOps, "ledgerOps counter should be initialized")
	assert.NotNil(t, collector.walletDuration, "walletDuration histogram should be initialized")
	assert.NotNil(t, collector.inFlight, "inFlight gauge should be initialized")
}

func TestRecordAction(t *testing.T) {
	collector, _ := newTestCollector(t)

	collector.RecordAction("jaine_faucet", types.Success("0x1"))
	collector.RecordAction("jaine_faucet", types.AlreadyDone("wait 24 hours"))
	collector.RecordAction("jaine_faucet", types.AlreadyDone("wait 24 hours"))
	collector.RecordAction("onchaingm", types.Failure("insufficient balance"))

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.actions.WithLabelValues("jaine_faucet", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.actions.WithLabelValues("jaine_faucet", "already_done")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.actions.WithLabelValues("onchaingm", "failure")))
}

func TestRecordRetry(t *testing.T) {
	collector, _ := newTestCollector(t)

	for i := 0; i < 3; i++ {
		collector.RecordRetry("morkie_mint")
	}
	assert.Equal(t, 3.0, testutil.ToFloat64(collector.retries.WithLabelValues("morkie_mint")))
}

func TestLedgerObserver(t *testing.T) {
	collector, _ := newTestCollector(t)
	observe := collector.LedgerObserver()

	observe("record_usage", nil)
	observe("record_usage", errors.New("not found"))
	observe("acquire_code", nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.ledgerOps.WithLabelValues("record_usage", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.ledgerOps.WithLabelValues("record_usage", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.ledgerOps.WithLabelValues("acquire_code", "ok")))
}

func TestRecordTask(t *testing.T) {
	collector, _ := newTestCollector(t)

	collector.RecordTask("follow", true)
	collector.RecordTask("follow", false)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.tasks.WithLabelValues("follow", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.tasks.WithLabelValues("follow", "failure")))
}

func TestWalletLifecycle(t *testing.T) {
	collector, _ := newTestCollector(t)

	collector.WalletStarted()
	collector.WalletStarted()
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.inFlight))

	collector.WalletFinished(types.WalletCompleted, 30*time.Second)
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.inFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.wallets.WithLabelValues("completed")))
}

func TestMultipleCollectors(t *testing.T) {
	// Registering twice on the same registry panics
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	NewCollector()
	assert.Panics(t, func() {
		NewCollector()
	})
}

// ============================================================================
// Router
// ============================================================================

type fakeLister struct{}

func (fakeLister) List() []types.WalletRun {
	return []types.WalletRun{{Index: 1, Address: "0xabc", Status: types.WalletRunning}}
}

func (fakeLister) Stats() map[string]int { return map[string]int{"total": 1, "running": 1} }

func TestRouterMetrics(t *testing.T) {
	collector, reg := newTestCollector(t)
	collector.RecordAction("onchaingm", types.Success("0x1"))

	srv := httptest.NewServer(NewRouter(reg, fakeLister{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	buf := new(strings.Builder)
	_, err = io.Copy(buf, resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `zerog_actions_total{module="onchaingm",outcome="success"} 1`)
}

func TestRouterHealthAndWallets(t *testing.T) {
	_, reg := newTestCollector(t)
	srv := httptest.NewServer(NewRouter(reg, fakeLister{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/wallets")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Stats   map[string]int    `json:"stats"`
		Wallets []types.WalletRun `json:"wallets"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 1, body.Stats["running"])
	require.Len(t, body.Wallets, 1)
	assert.Equal(t, "0xabc", body.Wallets[0].Address)
}
