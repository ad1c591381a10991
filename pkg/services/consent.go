package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	apphttp "github.com/vpnda/sandwich-aggregate/pkg/http"
	"github.com/vpnda/sandwich-aggregate/pkg/models"
	"github.com/vpnda/sandwich-aggregate/pkg/utils"
)

// DefaultPermissions is requested unless the caller narrows it
var DefaultPermissions = []string{"ReadAccountsDetail", "ReadBalances", "ReadTransactions"}

// ConsentStore keeps one consent id per client and bank. An empty id means
// there is none.
type ConsentStore interface {
	GetConsentID(clientID, bank string) (string, error)
	SaveConsentID(clientID, bank, consentID string) error
	ClearConsentID(clientID, bank string) error
}

type ResultStatus int

const (
	ResultOK ResultStatus = iota
	// ResultPending means the bank queued the consent for manual approval
	ResultPending
	ResultFailed
)

func (s ResultStatus) String() string {
	switch s {
	case ResultOK:
		return "ok"
	case ResultPending:
		return "pending"
	default:
		return "failed"
	}
}

// ConsentResult is the outcome of a consent-guarded bank call
type ConsentResult struct {
	Status    ResultStatus
	Payload   apphttp.Payload
	ConsentID string
	RequestID string
	Err       error
}

// BankCall is one bank data request made with the given consent id, which
// may be empty.
type BankCall func(ctx context.Context, consentID string) (apphttp.Payload, error)

type NegotiatorOptions struct {
	RequestingBank     string
	RequestingBankName string
	Reason             string
	// Timeout bounds a single consent request
	Timeout time.Duration
}

// ConsentNegotiator runs bank calls that may need a client consent. A call
// makes at most one consent request and at most one retry.
type ConsentNegotiator struct {
	store ConsentStore
	opts  NegotiatorOptions
	group singleflight.Group
}

func NewConsentNegotiator(store ConsentStore, opts NegotiatorOptions) *ConsentNegotiator {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultAccountsTimeout
	}
	return &ConsentNegotiator{store: store, opts: opts}
}

// Do invokes call, negotiating a consent once if the bank asks for one
func (n *ConsentNegotiator) Do(ctx context.Context, gateway apphttp.Gateway, token, clientID string, permissions []string, call BankCall) ConsentResult {
	bank := gateway.Code()

	consentID, err := n.store.GetConsentID(clientID, bank)
	if err != nil {
		log.Warn().Err(err).Str("bank", bank).Str("client_id", clientID).Msg("failed to read stored consent")
		consentID = ""
	}

	payload, err := call(ctx, consentID)
	if err == nil {
		return ConsentResult{Status: ResultOK, Payload: payload, ConsentID: consentID}
	}
	if !apphttp.IsConsentRequired(err) {
		return ConsentResult{Status: ResultFailed, Err: err}
	}

	if consentID != "" {
		// The bank no longer accepts the stored id
		log.Info().Str("bank", bank).Str("client_id", clientID).Str("consent_id", utils.Mask(consentID)).Msg("stored consent rejected")
		if err := n.store.ClearConsentID(clientID, bank); err != nil {
			log.Warn().Err(err).Str("bank", bank).Msg("failed to clear stored consent")
		}
	}

	resp, err := n.Request(ctx, gateway, token, clientID, permissions)
	if err != nil {
		return ConsentResult{Status: ResultFailed, Err: err}
	}
	if !resp.Approved() {
		return ConsentResult{Status: ResultPending, RequestID: resp.RequestID}
	}

	payload, err = call(ctx, resp.ConsentID)
	if err != nil {
		return ConsentResult{Status: ResultFailed, ConsentID: resp.ConsentID, Err: err}
	}
	return ConsentResult{Status: ResultOK, Payload: payload, ConsentID: resp.ConsentID}
}

// Request asks the bank for a consent and stores the id when it is approved
// right away. Identical concurrent requests share one bank call.
func (n *ConsentNegotiator) Request(ctx context.Context, gateway apphttp.Gateway, token, clientID string, permissions []string) (*models.ConsentResponse, error) {
	bank := gateway.Code()
	if len(permissions) == 0 {
		permissions = DefaultPermissions
	}

	key := clientID + "|" + bank + "|" + strings.Join(permissions, ",")
	ch := n.group.DoChan(key, func() (any, error) {
		reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.opts.Timeout)
		defer cancel()

		resp, err := gateway.RequestConsent(reqCtx, token, models.ConsentRequest{
			ClientID:           clientID,
			Permissions:        permissions,
			Reason:             n.opts.Reason,
			RequestingBank:     n.opts.RequestingBank,
			RequestingBankName: n.opts.RequestingBankName,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to request consent: %w", err)
		}

		if resp.Approved() {
			if err := n.store.SaveConsentID(clientID, bank, resp.ConsentID); err != nil {
				return nil, fmt.Errorf("failed to store consent: %w", err)
			}
			log.Info().Str("bank", bank).Str("client_id", clientID).Str("consent_id", utils.Mask(resp.ConsentID)).Msg("consent approved")
		} else {
			log.Info().Str("bank", bank).Str("client_id", clientID).Str("request_id", resp.RequestID).Str("status", resp.Status).Msg("consent pending")
		}
		return resp, nil
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("failed to request consent: %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		resp := *res.Val.(*models.ConsentResponse)
		return &resp, nil
	}
}
