// syncd is the state-reconciliation daemon. It loads the pairs file,
// builds a connector per pair through the registry, and runs one
// independent poll schedule per pair until SIGINT/SIGTERM.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/audit"
	"github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/config"
	"github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/core"
	"github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/direction"
	"github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/poller"
	"github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/provider"
	"github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/reconcile"
	"github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/service"
	"github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/store"
	"github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/transform"

	// Connector registration.
	_ "github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/provider/memory"
	_ "github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/provider/scim"
)

func main() {
	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("syncd: invalid configuration: %v", err)
	}

	pairs, err := config.LoadPairsFile(cfg.PairsFile)
	if err != nil {
		log.Fatalf("syncd: %v", err)
	}
	if len(pairs.Pairs) == 0 {
		log.Fatalf("syncd: pairs file %s declares no pairs", cfg.PairsFile)
	}

	st, err := openStore(cfg)
	if err != nil {
		log.Fatalf("syncd: open store: %v", err)
	}
	defer st.Close()

	sink := buildSink()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, rule := range pairs.Rules {
		if err := st.PutRule(ctx, rule); err != nil {
			log.Fatalf("syncd: load rule %s: %v", rule.ID, err)
		}
	}

	engine := transform.NewEngine(transform.Config{
		Source:          st,
		RefreshInterval: cfg.RuleRefreshInterval,
	})
	engine.StartRefresh(ctx)
	defer engine.Stop()

	strategies := make(map[string]core.Strategy)
	for _, p := range pairs.Pairs {
		if p.Strategy != "" {
			strategies[core.PairKey(p.TenantID, p.ProviderID)] = p.Strategy
		}
	}

	rec := reconcile.New(reconcile.Config{
		Store:         st,
		Sink:          sink,
		Strategies:    strategies,
		ErrorLogLimit: cfg.ErrorLogLimit,
	})
	dir := direction.NewManager(st, sink)

	pol := poller.New(poller.Options{
		Store:          st,
		Sink:           sink,
		Direction:      dir,
		Reconciler:     rec,
		Alerter:        poller.AlertFunc(logAlert),
		MinInterval:    cfg.MinInterval,
		MaxInterval:    cfg.MaxInterval,
		BaseBackoff:    cfg.BaseBackoff,
		MaxBackoff:     cfg.MaxBackoff,
		AlertThreshold: cfg.AlertThreshold,
		Cooldown:       cfg.Cooldown,
	})

	registry := provider.DefaultRegistry()
	var conns []provider.Connector
	for _, p := range pairs.Pairs {
		conn, err := registry.Create(p.Template, p.Config)
		if err != nil {
			log.Fatalf("syncd: pair=%s: %v", core.PairKey(p.TenantID, p.ProviderID), err)
		}
		conns = append(conns, conn)

		interval := p.Interval
		if interval == 0 {
			interval = cfg.DefaultInterval
		}
		pol.Add(poller.PairConfig{
			TenantID:   p.TenantID,
			ProviderID: p.ProviderID,
			Connector:  conn,
			Interval:   interval,
		})
		log.Printf("syncd: scheduled pair=%s template=%s interval=%s", core.PairKey(p.TenantID, p.ProviderID), p.Template, interval)
	}

	svc := service.New(st, rec, dir, pol, engine)
	adminSrv := startAdmin(getEnv("SYNC_ADMIN_ADDR", ":8484"), svc)

	pol.Start(ctx)
	log.Printf("syncd: started with %d pairs", len(pairs.Pairs))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("syncd: received %s, draining", sig)

	stopAdmin(adminSrv)
	pol.Stop()
	cancel()
	for _, conn := range conns {
		if err := conn.Close(); err != nil {
			log.Printf("syncd: close connector: %v", err)
		}
	}
	log.Printf("syncd: stopped")
}

func openStore(cfg *config.EngineConfig) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		log.Printf("syncd: no database configured, using in-memory store")
		return store.NewMemoryStore(), nil
	}
	return store.NewPostgresStoreFromEnv()
}

func buildSink() audit.Sink {
	objectSink, err := audit.NewSinkFromEnv()
	if err != nil {
		log.Printf("syncd: object audit sink unavailable (%v), logging only", err)
		return audit.LogSink{}
	}
	return audit.MultiSink{audit.LogSink{}, objectSink}
}

func logAlert(pairKey string, consecutiveFailures int, lastErr error) {
	log.Printf("ALERT pair=%s consecutive_failures=%d err=%v", pairKey, consecutiveFailures, lastErr)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
