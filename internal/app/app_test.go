package app_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"nhooyr.io/websocket"

	"satwallet/internal/app"
	"satwallet/internal/crypto"
	"satwallet/internal/domain"
	"satwallet/internal/gate"
	"satwallet/internal/handlers"
)

const passphrase = "correct horse 42"

func TestLoadConfig_WritesDefaults(t *testing.T) {
	home := t.TempDir()
	cfg, err := app.LoadConfig(home)
	require.NoError(t, err)
	require.Equal(t, domain.Mainnet, cfg.Network)
	require.Equal(t, gate.DefaultPromptTimeout, cfg.PromptTimeout.Duration)
	require.Equal(t, filepath.Join(home, "trades.db"), cfg.TradeDSN())

	_, err = os.Stat(filepath.Join(home, app.ConfigFilename))
	require.NoError(t, err)

	again, err := app.LoadConfig(home)
	require.NoError(t, err)
	require.Equal(t, cfg.ListenAddress, again.ListenAddress)
	require.Equal(t, cfg.KDFIterations, again.KDFIterations)
}

func TestLoadConfig_Overrides(t *testing.T) {
	home := t.TempDir()
	body := `
Network = "testnet"
PromptTimeout = "45s"
FeeRate = 10
TradeDB = "memory"
AllowedOrigins = ["app.example"]
`
	require.NoError(t, os.WriteFile(filepath.Join(home, app.ConfigFilename), []byte(body), 0o600))
	cfg, err := app.LoadConfig(home)
	require.NoError(t, err)
	require.Equal(t, domain.Testnet, cfg.Network)
	require.Equal(t, 45*time.Second, cfg.PromptTimeout.Duration)
	require.Equal(t, uint64(10), cfg.FeeRate)
	require.Equal(t, crypto.DefaultIterations, cfg.KDFIterations)
	require.Empty(t, cfg.TradeDSN())
	require.Equal(t, []string{"app.example"}, cfg.AllowedOrigins)
}

func TestLoadConfig_Rejects(t *testing.T) {
	for name, body := range map[string]string{
		"network":    `Network = "regtest"`,
		"iterations": `KDFIterations = 10`,
		"duration":   `PromptTimeout = "soon"`,
	} {
		t.Run(name, func(t *testing.T) {
			home := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(home, app.ConfigFilename), []byte(body), 0o600))
			_, err := app.LoadConfig(home)
			require.Error(t, err)
		})
	}
}

func TestNewLogger(t *testing.T) {
	for _, level := range []string{"", "production", "debug", "warn"} {
		l, err := app.NewLogger(level, "")
		require.NoError(t, err, level)
		require.NotNil(t, l)
	}
	_, err := app.NewLogger("chatty", "")
	require.Error(t, err)
}

func TestNewLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "satwallet.log")
	l, err := app.NewLogger("info", path)
	require.NoError(t, err)
	l.Debug("dropped")
	l.Info("kept", zap.String("k", "v"))
	_ = l.Sync()

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(b), `"msg":"kept"`)
	require.NotContains(t, string(b), "dropped")
}

// approver approves every prompt it is shown.
type approver struct{}

func (approver) Show(_ gate.Prompt, d *gate.Decision) { go func() { _ = d.Approve() }() }
func (approver) Dismiss(string, string)               {}

func newWire(t *testing.T) *app.Wire {
	t.Helper()
	cfg := app.DefaultConfig(t.TempDir())
	cfg.KDFIterations = crypto.MinIterations
	cfg.TradeDB = "memory"
	w, err := app.NewWire(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	w := newWire(t)
	g, err := w.NewGate(approver{})
	require.NoError(t, err)
	srv := httptest.NewServer(w.Router(g, nil))
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", string(body))

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "satwallet_gate_awaiting_approval")
}

func TestRouter_BridgeSignMessage(t *testing.T) {
	w := newWire(t)
	_, err := w.Vault.Create(passphrase, 128)
	require.NoError(t, err)
	require.NoError(t, w.Vault.Unlock(passphrase))

	g, err := w.NewGate(approver{})
	require.NoError(t, err)
	srv := httptest.NewServer(w.Router(g, w.NewMigrator(nil, g)))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/bridge", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	roundTrip := func(frame string) map[string]json.RawMessage {
		t.Helper()
		require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(frame)))
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		var out map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(data, &out))
		return out
	}

	ready := roundTrip(`{"type":"CHECK_READY"}`)
	require.JSONEq(t, `"READY"`, string(ready["type"]))

	resp := roundTrip(`{"id":"1","version":"1sat-bridge@1","method":"wallet.signMessage","params":{"data":"hello"}}`)
	require.JSONEq(t, `true`, string(resp["ok"]))
	var res handlers.SignMessageResult
	require.NoError(t, json.Unmarshal(resp["result"], &res))

	addrs, err := w.Vault.Addresses()
	require.NoError(t, err)
	require.Equal(t, addrs.Ordinal, res.Address)
	require.True(t, crypto.VerifyMessage(addrs.Ordinal, []byte("hello"), res.Signature))

	w.Vault.Lock()
	locked := roundTrip(`{"id":"2","version":"1sat-bridge@1","method":"wallet.signMessage","params":{"data":"hello"}}`)
	require.JSONEq(t, `false`, string(locked["ok"]))
	require.Contains(t, string(locked["error"]), "wallet_locked")
}
