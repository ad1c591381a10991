package services

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	apphttp "github.com/vpnda/sandwich-aggregate/pkg/http"
	"github.com/vpnda/sandwich-aggregate/pkg/models"
)

func (a *Aggregator) token(ctx context.Context, bank string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.opts.TokenTimeout)
	defer cancel()

	token, err := a.tokens.Token(ctx, bank, false)
	if err != nil {
		return "", err
	}
	return token.AccessToken, nil
}

// call runs one consent-guarded request against bank. The flag reports
// whether the bank answered; it is false when the bank is unconfigured,
// failed, timed out or is waiting on a consent.
func (a *Aggregator) call(ctx context.Context, clientID, bank, op string, timeout time.Duration, fn func(ctx context.Context, gateway apphttp.Gateway, token string, q apphttp.Query) (apphttp.Payload, error)) (apphttp.Payload, bool) {
	gateway, ok := a.gateways[bank]
	if !ok {
		log.Debug().Str("bank", bank).Str("op", op).Msg("bank has no credentials, skipping")
		return nil, false
	}

	token, err := a.token(ctx, bank)
	if err != nil {
		logBankFailure(err, clientID, bank, "token")
		return nil, false
	}

	result := a.consents.Do(ctx, gateway, token, clientID, nil, func(ctx context.Context, consentID string) (apphttp.Payload, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return fn(ctx, gateway, token, apphttp.Query{
			ClientID:       clientID,
			RequestingBank: a.opts.RequestingBank,
			ConsentID:      consentID,
		})
	})

	switch result.Status {
	case ResultOK:
		return result.Payload, true
	case ResultPending:
		log.Info().Str("bank", bank).Str("client_id", clientID).Str("op", op).Str("request_id", result.RequestID).Msg("consent pending, bank skipped")
	default:
		if isUnauthorized(result.Err) {
			a.tokens.Invalidate(bank)
		}
		logBankFailure(result.Err, clientID, bank, op)
	}
	return nil, false
}

func (a *Aggregator) fetchAccounts(ctx context.Context, clientID, bank string) ([]models.Account, bool) {
	payload, ok := a.call(ctx, clientID, bank, "accounts", a.opts.AccountsTimeout,
		func(ctx context.Context, gateway apphttp.Gateway, token string, q apphttp.Query) (apphttp.Payload, error) {
			return gateway.GetAccounts(ctx, token, q)
		})
	if !ok {
		return nil, false
	}
	return NormalizeAccounts(bank, payload), true
}

func (a *Aggregator) fetchBalances(ctx context.Context, clientID, bank, accountID string) ([]models.Balance, bool) {
	payload, ok := a.call(ctx, clientID, bank, "balances", a.opts.FetchTimeout,
		func(ctx context.Context, gateway apphttp.Gateway, token string, q apphttp.Query) (apphttp.Payload, error) {
			return gateway.GetBalances(ctx, token, accountID, q)
		})
	if !ok {
		return nil, false
	}
	return NormalizeBalances(bank, accountID, payload), true
}

// fetchTransactions pages through an account until a short page or the page
// cap. Pages fetched before a failure are kept, and the bank counts as
// answering if any page came back.
func (a *Aggregator) fetchTransactions(ctx context.Context, clientID, bank, accountID string, from, to time.Time) ([]models.Transaction, bool) {
	var (
		out      []models.Transaction
		answered bool
	)
	for page := 1; page <= a.opts.MaxPages; page++ {
		payload, ok := a.call(ctx, clientID, bank, "transactions", a.opts.FetchTimeout,
			func(ctx context.Context, gateway apphttp.Gateway, token string, q apphttp.Query) (apphttp.Payload, error) {
				return gateway.GetTransactions(ctx, token, accountID, apphttp.TransactionQuery{
					Query: q,
					From:  from,
					To:    to,
					Page:  page,
					Limit: a.opts.PageLimit,
				})
			})
		if !ok {
			break
		}
		answered = true

		records := NormalizeTransactions(bank, accountID, payload)
		out = append(out, records...)
		if len(records) < a.opts.PageLimit {
			break
		}
	}
	return out, answered
}

func logBankFailure(err error, clientID, bank, op string) {
	kind, _ := apphttp.KindOf(err)
	log.Warn().
		Err(err).
		Str("bank", bank).
		Str("client_id", clientID).
		Str("op", op).
		Str("kind", kind.String()).
		Msg("bank call failed, skipping")
}

func isUnauthorized(err error) bool {
	var apiErr *apphttp.APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}
