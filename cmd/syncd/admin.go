package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/core"
	"github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/reconcile"
	"github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/service"
)

// startAdmin serves the operator surface over plain JSON. It is an
// operational sidecar, not the provider-facing SCIM surface, which lives
// in a separate gateway process.
func startAdmin(addr string, svc *service.Service) *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /pairs", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.ListPairs())
	})

	mux.HandleFunc("GET /drift", func(w http.ResponseWriter, r *http.Request) {
		reports, err := svc.ListPendingDrift(r.Context(), r.URL.Query().Get("tenant"), r.URL.Query().Get("provider"))
		respond(w, reports, err)
	})

	mux.HandleFunc("GET /conflicts", func(w http.ResponseWriter, r *http.Request) {
		reports, err := svc.ListPendingConflicts(r.Context(), r.URL.Query().Get("tenant"), r.URL.Query().Get("provider"))
		respond(w, reports, err)
	})

	mux.HandleFunc("POST /decisions", func(w http.ResponseWriter, r *http.Request) {
		var d reconcile.Decision
		if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		respond(w, map[string]string{"status": "applied"}, svc.SubmitDecision(r.Context(), d))
	})

	mux.HandleFunc("GET /direction", func(w http.ResponseWriter, r *http.Request) {
		dir, err := svc.GetDirection(r.Context(), r.URL.Query().Get("tenant"), r.URL.Query().Get("provider"))
		respond(w, map[string]core.SyncDirection{"direction": dir}, err)
	})

	mux.HandleFunc("PUT /direction", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			TenantID   string             `json:"tenantId"`
			ProviderID string             `json:"providerId"`
			Direction  core.SyncDirection `json:"direction"`
			Actor      string             `json:"actor"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err := svc.SetDirection(r.Context(), body.TenantID, body.ProviderID, body.Direction, body.Actor)
		respond(w, map[string]string{"status": "set"}, err)
	})

	mux.HandleFunc("POST /poll", func(w http.ResponseWriter, r *http.Request) {
		err := svc.TriggerPoll(r.URL.Query().Get("tenant"), r.URL.Query().Get("provider"))
		respond(w, map[string]string{"status": "triggered"}, err)
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("syncd: admin listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("syncd: admin server: %v", err)
		}
	}()
	return srv
}

func respond(w http.ResponseWriter, body any, err error) {
	if err != nil {
		status := http.StatusInternalServerError
		if core.IsCode(err, core.CodeNotFound) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, map[string]string{"error": err.Error(), "code": core.CodeOf(err)})
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("syncd: encode response: %v", err)
	}
}

func stopAdmin(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("syncd: admin shutdown: %v", err)
	}
}
