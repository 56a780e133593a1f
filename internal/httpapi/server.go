// Package httpapi serves the JSON surface of the identity core.
package httpapi

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/tessera-id/tessera/internal/authcode"
	"github.com/tessera-id/tessera/internal/ceremony"
	"github.com/tessera-id/tessera/internal/challenge"
	"github.com/tessera-id/tessera/internal/credential"
	"github.com/tessera-id/tessera/internal/platform/config"
	"github.com/tessera-id/tessera/internal/platform/metrics"
	"github.com/tessera-id/tessera/internal/storage"
	"github.com/tessera-id/tessera/internal/token"
)

// Config controls HTTP surface behavior.
type Config struct {
	AuthCodeTTL      time.Duration `env:"TESSERA_AUTH_CODE_TTL"      envDefault:"2m"`
	SweepInterval    time.Duration `env:"TESSERA_SWEEP_INTERVAL"     envDefault:"1m"`
	OptionsRateLimit float64       `env:"TESSERA_OPTIONS_RATE_LIMIT" envDefault:"10"`
	OptionsRateBurst int           `env:"TESSERA_OPTIONS_RATE_BURST" envDefault:"20"`
}

// LoadConfigFromEnv returns HTTP configuration with defaults.
func LoadConfigFromEnv() Config {
	cfg := Config{
		AuthCodeTTL:      2 * time.Minute,
		SweepInterval:    time.Minute,
		OptionsRateLimit: 10,
		OptionsRateBurst: 20,
	}
	if err := config.ParseEnv(&cfg); err != nil {
		return cfg
	}
	return cfg
}

// Server hosts the WebAuthn and credential endpoints.
type Server struct {
	config      Config
	engine      *ceremony.Engine
	tokens      *token.Service
	credentials *credential.Manager
	authcodes   *authcode.Issuer
	challenges  *challenge.Service
	clients     storage.ClientStore
	limiter     *ipLimiter
}

// NewServer builds the HTTP surface over the identity core services.
func NewServer(config Config, engine *ceremony.Engine, tokens *token.Service, credentials *credential.Manager, authcodes *authcode.Issuer, challenges *challenge.Service, clients storage.ClientStore) *Server {
	return &Server{
		config:      config,
		engine:      engine,
		tokens:      tokens,
		credentials: credentials,
		authcodes:   authcodes,
		challenges:  challenges,
		clients:     clients,
		limiter:     newIPLimiter(config.OptionsRateLimit, config.OptionsRateBurst),
	}
}

// RegisterRoutes registers all endpoints on the provided mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	routes := map[string]http.HandlerFunc{
		"/webauthn/register/options":     s.handleRegisterOptions,
		"/webauthn/register/verify":      s.handleRegisterVerify,
		"/webauthn/authenticate/options": s.handleAuthenticateOptions,
		"/webauthn/authenticate/verify":  s.handleAuthenticateVerify,
		"/webauthn/credentials":          s.handleCredentialList,
		"/webauthn/credentials/":         s.handleCredentialDelete,
		"/oauth/token":                   s.handleToken,
		"/oauth/revoke":                  s.handleRevoke,
	}
	for pattern, handler := range routes {
		mux.Handle(pattern, metrics.Instrument(pattern, handler))
	}
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// StartSweep runs the background expiry sweeps until the context ends.
// Cadence only affects storage growth; reads already enforce expiry.
func (s *Server) StartSweep(ctx context.Context) {
	interval := s.config.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.challenges.Sweep(ctx); err != nil {
					log.Printf("sweep challenges: %v", err)
				}
				if _, err := s.authcodes.Sweep(ctx); err != nil {
					log.Printf("sweep auth codes: %v", err)
				}
			}
		}
	}()
}
