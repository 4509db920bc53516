package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/punchamoorthee/tunnelpay/internal/api"
	"github.com/punchamoorthee/tunnelpay/internal/apikey"
	"github.com/punchamoorthee/tunnelpay/internal/auth"
	"github.com/punchamoorthee/tunnelpay/internal/chain"
	"github.com/punchamoorthee/tunnelpay/internal/charge"
	"github.com/punchamoorthee/tunnelpay/internal/config"
	"github.com/punchamoorthee/tunnelpay/internal/ledger"
	"github.com/punchamoorthee/tunnelpay/internal/settle"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	operator, err := apikey.NewSigner(cfg.OperatorKey)
	if err != nil {
		log.Fatalf("Invalid operator credential: %v", err)
	}

	var store ledger.Store
	if cfg.DBSource != "" {
		store, err = ledger.NewPostgresStore(context.Background(), cfg.DBSource)
		if err != nil {
			log.Fatalf("Unable to connect to database: %v", err)
		}
	} else {
		logger.Warn("DB_SOURCE not set, using in-memory ledger store")
		store = ledger.NewMemoryStore()
	}
	defer store.Close()

	client := chain.NewRPCClient(cfg.ChainRPCURL, cfg.ChainPackage, cfg.ChainCoinType, cfg.ExecuteTimeout)
	sponsor := chain.NewGasStation(cfg.SponsorURL, cfg.SponsorAPIKey, cfg.ChainNetwork, cfg.SponsorTimeout)

	authorizer := charge.NewAuthorizer(store, operator, logger)
	submitter := settle.NewSubmitter(store, client, sponsor, operator, logger)
	authn := auth.NewJWT([]byte(cfg.AuthSecret), cfg.AuthIssuer)
	handler := api.NewHandler(store, authorizer, submitter, client, authn, cfg.PricePerCall, logger)

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})
	handler.Register(r.PathPrefix("/api/v1").Subrouter())

	logger.Info("server starting",
		"port", cfg.Port,
		"env", cfg.Env,
		"operator", operator.Hint(),
	)
	if err := http.ListenAndServe(":"+cfg.Port, r); err != nil {
		log.Fatal(err)
	}
}
