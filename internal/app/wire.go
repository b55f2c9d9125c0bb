package app

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"satwallet/internal/domain"
	"satwallet/internal/gate"
	"satwallet/internal/handlers"
	"satwallet/internal/presence"
	"satwallet/internal/relay"
	tradesvc "satwallet/internal/services/trade"
	"satwallet/internal/store"
	"satwallet/internal/txbuilder"
	"satwallet/internal/vault"
)

// Wire bundles all stores, services, and clients for the CLI.
type Wire struct {
	Config   Config
	Log      *zap.Logger
	Metrics  *prometheus.Registry
	Keys     domain.KeyStore
	Vault    *vault.Vault
	Builder  *txbuilder.P2PKH
	Relay    *relay.WhatsOnChain
	Handlers *handlers.Registry
	Trades   *tradesvc.Service
	Presence *presence.Memory
	HTTP     *http.Client

	tradeStore domain.TradeStore
}

// NewLogger builds the process logger for level. When file is set, logs go
// there as JSON, rotated by size.
func NewLogger(level, file string) (*zap.Logger, error) {
	var cfg zap.Config
	switch level {
	case "production":
		cfg = zap.NewProductionConfig()
	case "", "development":
		cfg = zap.NewDevelopmentConfig()
	default:
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, err
		}
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = lvl
	}
	if file == "" {
		return cfg.Build()
	}
	sink := zapcore.AddSync(&lumberjack.Logger{
		Filename:   file,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
	})
	core := zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), sink, cfg.Level)
	return zap.New(core, zap.AddCaller()), nil
}

// NewWire constructs the dependency graph from cfg.
func NewWire(cfg Config, log *zap.Logger) (*Wire, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(cfg.Home, 0o700); err != nil {
		return nil, err
	}

	// Ensure an HTTP client is available for outbound calls
	httpClient := cfg.HTTP
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Key custody
	keyStore := store.NewKeyFileStore(cfg.Home)
	v, err := vault.New(keyStore,
		vault.WithIterations(cfg.KDFIterations),
		vault.WithNetwork(cfg.Network),
		vault.WithLogger(log.Named("vault")),
	)
	if err != nil {
		return nil, err
	}

	// Chain collaborators
	base := cfg.BroadcastURL
	if base == "" {
		base = relay.DefaultURL(cfg.Network)
	}
	rc := relay.NewWhatsOnChain(base, httpClient)
	builder := txbuilder.New()

	registry := handlers.New(v,
		handlers.WithTxBuilder(builder),
		handlers.WithBroadcaster(rc),
		handlers.WithUTXOSource(rc),
		handlers.WithFeeRate(cfg.FeeRate),
		handlers.WithLogger(log.Named("handlers")),
	)

	// Trades
	var tradeStore domain.TradeStore
	if dsn := cfg.TradeDSN(); dsn != "" {
		sqlStore, err := store.OpenSQLiteTradeStore(dsn)
		if err != nil {
			return nil, fmt.Errorf("open trade store: %w", err)
		}
		tradeStore = sqlStore
	} else {
		tradeStore = store.NewMemoryTradeStore()
	}
	pres := presence.NewMemory()
	trades := tradesvc.New(tradeStore,
		tradesvc.WithAssembler(tradesvc.NewSwapAssembler(builder, nil)),
		tradesvc.WithInspector(builder),
		tradesvc.WithPresence(pres),
		tradesvc.WithLogger(log.Named("trade")),
	)

	return &Wire{
		Config:     cfg,
		Log:        log,
		Metrics:    reg,
		Keys:       keyStore,
		Vault:      v,
		Builder:    builder,
		Relay:      rc,
		Handlers:   registry,
		Trades:     trades,
		Presence:   pres,
		HTTP:       httpClient,
		tradeStore: tradeStore,
	}, nil
}

// NewGate builds the approval gate in front of the handlers, reporting to
// the wire's metrics registry.
func (w *Wire) NewGate(p gate.Prompter) (*gate.Gate, error) {
	return gate.New(w.Handlers, w.Vault, p,
		gate.WithPromptTimeout(w.Config.PromptTimeout.Duration),
		gate.WithLogger(w.Log.Named("gate")),
		gate.WithMetrics(gate.NewMetrics(w.Metrics)),
	)
}

// NewMigrator accepts legacy key hand-over from the configured origins. Each
// hand-over is confirmed through g's prompt slot; a nil g refuses them all.
func (w *Wire) NewMigrator(passphrase handlers.PassphraseFunc, g *gate.Gate) *handlers.Migrator {
	var confirm handlers.ConfirmFunc
	if g != nil {
		confirm = g.ConfirmMigration
	}
	return handlers.NewMigrator(w.Vault, w.Config.MigrationOrigins, passphrase, confirm, w.Log.Named("migrate"))
}

// Close locks the vault and releases the trade store.
func (w *Wire) Close() error {
	w.Vault.Lock()
	if c, ok := w.tradeStore.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
