// Package server exposes the Mini App HTTP API.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"telegram-roulette/internal/config"
	"telegram-roulette/internal/model"
	"telegram-roulette/internal/service"
	"telegram-roulette/internal/telegram"
)

type contextKey string

const userContextKey contextKey = "user"

// Server wires the HTTP routes to the game services.
type Server struct {
	cfg        *config.Config
	accounts   *service.AccountService
	stakes     *service.StakeService
	settlement *service.SettlementService
	queries    *service.RoundQueryService
	health     interface {
		HealthCheck(ctx context.Context) error
	}
	mux *chi.Mux
}

// New creates the server and registers its routes.
func New(
	cfg *config.Config,
	accounts *service.AccountService,
	stakes *service.StakeService,
	settlement *service.SettlementService,
	queries *service.RoundQueryService,
	health interface {
		HealthCheck(ctx context.Context) error
	},
) *Server {
	s := &Server{
		cfg:        cfg,
		accounts:   accounts,
		stakes:     stakes,
		settlement: settlement,
		queries:    queries,
		health:     health,
		mux:        chi.NewRouter(),
	}
	s.routes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/telegram", s.handleAuth)
		r.Get("/users", s.handleTopUsers)
		r.Get("/game/current", s.handleCurrentRound)
		r.Post("/game/finish", s.handleFinish)
		r.Get("/game/history", s.handleHistory)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/user/me", s.handleMe)
			r.Get("/user/transactions", s.handleTransactions)
			r.Post("/bet", s.handleBet)
		})
	})
}

// authMiddleware authenticates requests carrying "Authorization: tma
// <initData>". The init data is re-validated on every call, so no
// server-side session exists; the user row is upserted as a side effect.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		initData := initDataFromHeader(r.Header.Get("Authorization"))
		if initData == "" {
			writeError(w, http.StatusUnauthorized, "missing authorization")
			return
		}

		profile, err := telegram.Authenticate(initData, s.cfg.Telegram.BotToken)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid init data")
			return
		}

		user, _, err := s.accounts.EnsureUser(r.Context(), profile)
		if err != nil {
			log.Error().Err(err).Msg("Failed to resolve authenticated user")
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func initDataFromHeader(header string) string {
	scheme, data, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "tma") {
		return ""
	}
	return strings.TrimSpace(data)
}

func userFromContext(ctx context.Context) *model.User {
	user, _ := ctx.Value(userContextKey).(*model.User)
	return user
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.health.HealthCheck(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
