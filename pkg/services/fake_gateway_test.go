package services

import (
	"context"
	"net/http"
	"sync"
	"time"

	apphttp "github.com/vpnda/sandwich-aggregate/pkg/http"
	"github.com/vpnda/sandwich-aggregate/pkg/models"
)

// fakeGateway is a scripted Gateway that counts its calls
type fakeGateway struct {
	mu   sync.Mutex
	code string

	Token    *models.TokenResponse
	TokenErr error
	// TokenGate blocks GetToken until closed
	TokenGate chan struct{}

	Consent    *models.ConsentResponse
	ConsentErr error

	// RequireConsent makes data calls fail with consent required unless
	// they carry AcceptedConsent
	RequireConsent  bool
	AcceptedConsent string

	Accounts        apphttp.Payload
	AccountsErr     error
	Balances        map[string]apphttp.Payload
	BalancesErr     error
	Transactions    map[string][]apphttp.Payload
	TransactionsErr error
	// Delay is applied to every data call
	Delay time.Duration

	calls      map[string]int
	consentIDs []string
	accountIDs []string
}

var _ apphttp.Gateway = (*fakeGateway)(nil)

func newFakeGateway(code string) *fakeGateway {
	return &fakeGateway{
		code:         code,
		Balances:     make(map[string]apphttp.Payload),
		Transactions: make(map[string][]apphttp.Payload),
		calls:        make(map[string]int),
	}
}

func (f *fakeGateway) Code() string {
	return f.code
}

func (f *fakeGateway) Calls(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeGateway) record(name, consentID, accountID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
	f.consentIDs = append(f.consentIDs, consentID)
	if accountID != "" {
		f.accountIDs = append(f.accountIDs, accountID)
	}
}

func (f *fakeGateway) QueriedAccounts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.accountIDs...)
}

func (f *fakeGateway) GetToken(ctx context.Context) (*models.TokenResponse, error) {
	f.record("token", "", "")
	if f.TokenGate != nil {
		<-f.TokenGate
	}
	if f.TokenErr != nil {
		return nil, f.TokenErr
	}
	if f.Token != nil {
		token := *f.Token
		return &token, nil
	}
	return &models.TokenResponse{AccessToken: "tok-" + f.code, TokenType: "bearer", ExpiresIn: 3600}, nil
}

func (f *fakeGateway) RequestConsent(ctx context.Context, token string, req models.ConsentRequest) (*models.ConsentResponse, error) {
	f.record("consent", "", "")
	if f.ConsentErr != nil {
		return nil, f.ConsentErr
	}
	if f.Consent != nil {
		resp := *f.Consent
		return &resp, nil
	}
	return &models.ConsentResponse{Status: models.ConsentStatusApproved, ConsentID: "consent-" + f.code, AutoApproved: true}, nil
}

func (f *fakeGateway) before(ctx context.Context, name, consentID, accountID string) error {
	f.record(name, consentID, accountID)
	if f.Delay > 0 {
		select {
		case <-ctx.Done():
			return &apphttp.APIError{Kind: apphttp.KindTimeout, Bank: f.code, Op: name, Err: ctx.Err()}
		case <-time.After(f.Delay):
		}
	}
	if f.RequireConsent && (consentID == "" || consentID != f.AcceptedConsent) {
		return consentRequired(f.code, name)
	}
	return nil
}

func (f *fakeGateway) GetAccounts(ctx context.Context, token string, q apphttp.Query) (apphttp.Payload, error) {
	if err := f.before(ctx, "accounts", q.ConsentID, ""); err != nil {
		return nil, err
	}
	if f.AccountsErr != nil {
		return nil, f.AccountsErr
	}
	if f.Accounts == nil {
		return apphttp.Payload{}, nil
	}
	return f.Accounts, nil
}

func (f *fakeGateway) GetBalances(ctx context.Context, token, accountID string, q apphttp.Query) (apphttp.Payload, error) {
	if err := f.before(ctx, "balances", q.ConsentID, accountID); err != nil {
		return nil, err
	}
	if f.BalancesErr != nil {
		return nil, f.BalancesErr
	}
	if payload, ok := f.Balances[accountID]; ok {
		return payload, nil
	}
	return apphttp.Payload{}, nil
}

func (f *fakeGateway) GetTransactions(ctx context.Context, token, accountID string, q apphttp.TransactionQuery) (apphttp.Payload, error) {
	if err := f.before(ctx, "transactions", q.ConsentID, accountID); err != nil {
		return nil, err
	}
	if f.TransactionsErr != nil {
		return nil, f.TransactionsErr
	}
	pages := f.Transactions[accountID]
	if q.Page >= 1 && q.Page <= len(pages) {
		return pages[q.Page-1], nil
	}
	return apphttp.Payload{}, nil
}

func consentRequired(bank, op string) error {
	return &apphttp.APIError{
		Kind:       apphttp.KindConsentRequired,
		Bank:       bank,
		Op:         op,
		StatusCode: http.StatusForbidden,
		Detail:     `{"error":"CONSENT_REQUIRED"}`,
	}
}

func upstreamError(bank string, status int) error {
	return &apphttp.APIError{Kind: apphttp.KindUpstream, Bank: bank, Op: "test", StatusCode: status}
}

// records builds a payload list from raw records
func records(items ...map[string]any) []any {
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = item
	}
	return out
}
