package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"telegram-roulette/internal/model"
	"telegram-roulette/internal/repository"
	"telegram-roulette/internal/service"
	"telegram-roulette/internal/telegram"
)

const (
	defaultHistoryLimit = 10
	defaultListLimit    = 20
	maxListLimit        = 100
)

type authRequest struct {
	InitData string `json:"initData"`
}

type betRequest struct {
	Amount int64 `json:"amount"`
}

type userResponse struct {
	ID         int64   `json:"id"`
	TelegramID int64   `json:"telegramId"`
	Username   *string `json:"username"`
	FirstName  *string `json:"firstName"`
	LastName   *string `json:"lastName"`
	PhotoURL   *string `json:"photoUrl"`
	Balance    int64   `json:"balance"`
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:         u.ID,
		TelegramID: u.TelegramID,
		Username:   u.Username,
		FirstName:  u.FirstName,
		LastName:   u.LastName,
		PhotoURL:   u.PhotoURL,
		Balance:    u.Balance,
	}
}

// statusForError maps service sentinels to HTTP status codes.
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrInvalidAmount):
		return http.StatusBadRequest, "amount must be positive"
	case errors.Is(err, service.ErrInsufficientBalance):
		return http.StatusBadRequest, "insufficient balance"
	case errors.Is(err, service.ErrRoundClosed):
		return http.StatusBadRequest, "round is already finished"
	case errors.Is(err, service.ErrNoOpenRound):
		return http.StatusNotFound, "no active round found"
	case errors.Is(err, repository.ErrRoundNotFound):
		return http.StatusNotFound, "round not found"
	case errors.Is(err, repository.ErrUserNotFound):
		return http.StatusNotFound, "user not found"
	case errors.Is(err, telegram.ErrInvalidInitData):
		return http.StatusUnauthorized, "invalid init data"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

func (s *Server) serviceError(w http.ResponseWriter, err error) {
	status, message := statusForError(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("Request failed")
	}
	writeError(w, status, message)
}

// handleAuth verifies Mini App init data and returns the user account,
// creating it on first authentication.
func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	var req authRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.InitData == "" {
		writeError(w, http.StatusBadRequest, "initData is required")
		return
	}

	profile, err := telegram.Authenticate(req.InitData, s.cfg.Telegram.BotToken)
	if err != nil {
		s.serviceError(w, err)
		return
	}

	user, created, err := s.accounts.EnsureUser(r.Context(), profile)
	if err != nil {
		s.serviceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user":    toUserResponse(user),
		"created": created,
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"user": toUserResponse(user)})
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())

	transactions, err := s.accounts.Transactions(r.Context(), user.ID, limitParam(r, defaultListLimit))
	if err != nil {
		s.serviceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"transactions": transactions})
}

func (s *Server) handleTopUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.accounts.TopUsers(r.Context(), limitParam(r, defaultListLimit))
	if err != nil {
		s.serviceError(w, err)
		return
	}

	responses := make([]userResponse, 0, len(users))
	for _, u := range users {
		responses = append(responses, toUserResponse(u))
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": responses})
}

// handleBet stakes into the current open round on behalf of the
// authenticated user.
func (s *Server) handleBet(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())

	var req betRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "amount is required")
		return
	}

	round, err := s.queries.CurrentRound(r.Context())
	if err != nil {
		s.serviceError(w, err)
		return
	}

	stake, err := s.stakes.PlaceStake(r.Context(), user.ID, round.ID, req.Amount)
	if err != nil {
		s.serviceError(w, err)
		return
	}

	updated, err := s.queries.CurrentRound(r.Context())
	if err != nil {
		s.serviceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"stake": stake,
		"game":  updated,
	})
}

func (s *Server) handleCurrentRound(w http.ResponseWriter, r *http.Request) {
	round, err := s.queries.CurrentRound(r.Context())
	if err != nil {
		s.serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"game": round})
}

// handleFinish is the request-triggered round clock: it settles whatever
// rounds are due and reports how many were settled by this call.
func (s *Server) handleFinish(w http.ResponseWriter, r *http.Request) {
	settled, err := s.settlement.CheckAndSettleDueRounds(r.Context())
	if err != nil {
		s.serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"settled": settled})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	rounds, err := s.queries.History(r.Context(), limitParam(r, defaultHistoryLimit))
	if err != nil {
		s.serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"games": rounds})
}

func limitParam(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return fallback
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
