// Command admissiond runs the admission control plane in front of a small
// demo API. It exists to exercise the pipeline end to end; the real risk
// register mounts gatekit.Gate the same way.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	gatekit "github.com/riskregister/gatekit"
	"github.com/riskregister/gatekit/apierror"
	"github.com/riskregister/gatekit/config"
	"github.com/riskregister/gatekit/ratelimit"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	gate := gatekit.New(cfg, gatekit.WithVerifier(verifyToken))
	defer gate.Close()

	r := chi.NewRouter()
	r.Use(gate.Middleware)
	r.Mount("/monitor", gate.Monitor())
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Post("/auth/login", loginHandler(gate))
	r.Get("/risks", listRisks(gate))
	r.Post("/risks", createRisk(gate))

	addr := ":" + envOr("GATE_PORT", "8080")
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Printf("admissiond listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Println("shutdown signal received")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}

// loginHandler stands in for the real authentication flow: a demo token in
// the Authorization header counts as valid credentials. Session tracking
// failures never fail the login; saturation does.
func loginHandler(gate *gatekit.Gate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := ratelimit.BearerToken(r)
		if !ok {
			apierror.WriteJSON(w, http.StatusUnauthorized, map[string]string{"message": "missing credentials"})
			return
		}
		id, err := verifyToken(token)
		if err != nil {
			apierror.WriteJSON(w, http.StatusUnauthorized, map[string]string{"message": "invalid credentials"})
			return
		}

		res, denied := gate.OnAuthenticated(r, id.ID)
		if denied != nil {
			apierror.Write(w, denied)
			return
		}

		body := map[string]any{
			"identity_id":  id.ID,
			"session_id":   res.SessionID,
			"device_count": res.DeviceCount,
		}
		if res.Warning != "" {
			body["warning"] = res.Warning
		}
		apierror.WriteJSON(w, http.StatusOK, body)
	}
}

// listRisks serves the demo collection through the TTL cache. Every list
// view is cached under the "risks:" prefix so writes can invalidate them all
// at once, however they were parameterized.
func listRisks(gate *gatekit.Gate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := "risks:list:" + r.URL.RawQuery
		if cached, ok := gate.Cache.Get(key); ok {
			apierror.WriteJSON(w, http.StatusOK, cached)
			return
		}

		body := map[string]any{"risks": []any{}, "generated_at": time.Now().UTC()}
		gate.Cache.Set(key, body, 0)
		apierror.WriteJSON(w, http.StatusOK, body)
	}
}

// createRisk stands in for a mutating business operation: it drops every
// cached list view derived from the risks collection.
func createRisk(gate *gatekit.Gate) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		gate.Cache.InvalidatePrefix("risks:")
		apierror.WriteJSON(w, http.StatusCreated, map[string]string{"status": "created"})
	}
}

// verifyToken is the demo stand-in for the external token-verification
// capability: tokens look like "demo-<identity>".
func verifyToken(token string) (ratelimit.Identity, error) {
	const prefix = "demo-"
	if len(token) > len(prefix) && token[:len(prefix)] == prefix {
		return ratelimit.Identity{ID: token[len(prefix):]}, nil
	}
	return ratelimit.Identity{}, errors.New("unverifiable token")
}

func envOr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}
