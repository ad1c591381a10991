package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	apphttp "github.com/vpnda/sandwich-aggregate/pkg/http"
	"github.com/vpnda/sandwich-aggregate/pkg/models"
	"github.com/vpnda/sandwich-aggregate/pkg/services"
)

// Aggregator is the part of services.Aggregator the API serves
type Aggregator interface {
	GetAccounts(ctx context.Context, clientID string, banks []string) ([]models.Account, error)
	GetBalances(ctx context.Context, clientID string, accountIDs, banks []string) ([]models.Balance, error)
	GetTransactions(ctx context.Context, clientID string, q services.TransactionQuery) ([]models.Transaction, error)
	RequestConsent(ctx context.Context, clientID, bank string, permissions []string) (*models.ConsentResponse, error)
	Token(ctx context.Context, bank string, forceRefresh bool) (*models.TokenResponse, error)
}

type Summarizer interface {
	Summary(ctx context.Context, clientID string, periodDays int) (*models.Summary, error)
}

type Linker interface {
	Link(clientID string, req services.LinkRequest) (*models.LinkedAccount, error)
	Linked(clientID string) ([]models.LinkedAccount, error)
	Unlink(clientID, id string) (bool, error)
}

type Cashback interface {
	Activate(clientID, category string, percent float64, validUntil time.Time) (*models.CashbackBonus, error)
	Active(clientID string) ([]models.CashbackBonus, error)
}

type Handler struct {
	agg       Aggregator
	analytics Summarizer
	links     Linker
	cashback  Cashback
}

func NewHandler(agg Aggregator, analytics Summarizer, links Linker, cashback Cashback) *Handler {
	return &Handler{
		agg:       agg,
		analytics: analytics,
		links:     links,
		cashback:  cashback,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	Bank        string `json:"bank"`
	TokenType   string `json:"token_type"`
}

type consentRequest struct {
	Bank        string   `json:"bank"`
	ClientID    string   `json:"client_id"`
	Permissions []string `json:"permissions"`
}

type consentResponse struct {
	models.ConsentResponse
	Bank string `json:"bank"`
}

type linkRequest struct {
	ClientID string `json:"client_id"`
	services.LinkRequest
}

type cashbackRequest struct {
	ClientID     string     `json:"client_id"`
	Category     string     `json:"category"`
	BonusPercent float64    `json:"bonus_percent"`
	ValidUntil   *time.Time `json:"valid_until,omitempty"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func (h *Handler) handleToken(w http.ResponseWriter, r *http.Request) {
	bank := strings.ToLower(chi.URLParam(r, "bank"))
	force, err := parseBool(r.URL.Query().Get("force_refresh"))
	if err != nil {
		respondWithError(w, r, fmt.Errorf("%w: force_refresh: %v", services.ErrInvalidInput, err))
		return
	}

	token, err := h.agg.Token(r.Context(), bank, force)
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, tokenResponse{
		AccessToken: token.AccessToken,
		ExpiresIn:   token.ExpiresIn,
		Bank:        bank,
		TokenType:   lo.Ternary(token.TokenType != "", token.TokenType, "bearer"),
	})
}

func (h *Handler) handleConsent(w http.ResponseWriter, r *http.Request) {
	var req consentRequest
	if !decodeBody(w, r, &req) {
		return
	}

	consent, err := h.agg.RequestConsent(r.Context(), req.ClientID, req.Bank, req.Permissions)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, consentResponse{ConsentResponse: *consent, Bank: strings.ToLower(req.Bank)})
}

func (h *Handler) handleAccounts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	accounts, err := h.agg.GetAccounts(r.Context(), q.Get("client_id"), listParam(q, "bank"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, nonNil(accounts))
}

func (h *Handler) handleBalances(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	balances, err := h.agg.GetBalances(r.Context(), q.Get("client_id"), listParam(q, "account_id"), listParam(q, "bank"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, nonNil(balances))
}

func (h *Handler) handleTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := parseDate(q.Get("from_date"))
	if err != nil {
		respondWithError(w, r, fmt.Errorf("%w: from_date: %v", services.ErrInvalidInput, err))
		return
	}
	to, err := parseDate(q.Get("to_date"))
	if err != nil {
		respondWithError(w, r, fmt.Errorf("%w: to_date: %v", services.ErrInvalidInput, err))
		return
	}

	transactions, err := h.agg.GetTransactions(r.Context(), q.Get("client_id"), services.TransactionQuery{
		From:       from,
		To:         to,
		AccountIDs: listParam(q, "account_id"),
		Banks:      listParam(q, "bank"),
	})
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, nonNil(transactions))
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	days, err := services.ParsePeriod(q.Get("period"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	summary, err := h.analytics.Summary(r.Context(), q.Get("client_id"), days)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, summary)
}

func (h *Handler) handleLink(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if !decodeBody(w, r, &req) {
		return
	}

	account, err := h.links.Link(req.ClientID, req.LinkRequest)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, account)
}

func (h *Handler) handleLinks(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.links.Linked(r.URL.Query().Get("client_id"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, nonNil(accounts))
}

func (h *Handler) handleUnlink(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	removed, err := h.links.Unlink(r.URL.Query().Get("client_id"), id)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	if !removed {
		respondWithJSON(w, http.StatusNotFound, errorResponse{Detail: fmt.Sprintf("linked account %s not found", id)})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleActivateCashback(w http.ResponseWriter, r *http.Request) {
	var req cashbackRequest
	if !decodeBody(w, r, &req) {
		return
	}

	bonus, err := h.cashback.Activate(req.ClientID, req.Category, req.BonusPercent, lo.FromPtr(req.ValidUntil))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, bonus)
}

func (h *Handler) handleActiveCashback(w http.ResponseWriter, r *http.Request) {
	bonuses, err := h.cashback.Active(r.URL.Query().Get("client_id"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, nonNil(bonuses))
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondWithError(w, r, fmt.Errorf("%w: invalid request body: %v", services.ErrInvalidInput, err))
		return false
	}
	return true
}

// listParam collects a repeated or comma separated query parameter
func listParam(q map[string][]string, key string) []string {
	values := lo.FlatMap(q[key], func(v string, _ int) []string {
		return strings.Split(v, ",")
	})
	values = lo.Compact(lo.Map(values, func(v string, _ int) string {
		return strings.TrimSpace(v)
	}))
	if len(values) == 0 {
		return nil
	}
	return values
}

var dateLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%q is not an ISO-8601 date", s)
}

func parseBool(s string) (bool, error) {
	if s == "" {
		return false, nil
	}
	return strconv.ParseBool(s)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// statusFor maps service and gateway errors onto HTTP statuses
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrInvalidClientID),
		errors.Is(err, services.ErrInvalidBank),
		errors.Is(err, services.ErrInvalidInput):
		return http.StatusBadRequest
	}

	var apiErr *apphttp.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Kind {
		case apphttp.KindConfigMissing:
			return http.StatusServiceUnavailable
		case apphttp.KindTimeout:
			return http.StatusGatewayTimeout
		case apphttp.KindConsentRequired:
			return http.StatusForbidden
		}
		if apiErr.StatusCode >= 400 && apiErr.StatusCode < 600 {
			return apiErr.StatusCode
		}
		return http.StatusBadGateway
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	event := log.Warn()
	if status >= http.StatusInternalServerError {
		event = log.Error()
	}
	event.Err(err).Str("path", r.URL.Path).Int("status", status).Msg("request failed")
	respondWithJSON(w, status, errorResponse{Detail: err.Error()})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(response)
}
