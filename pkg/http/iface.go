package http

import (
	"context"
	"time"

	"github.com/vpnda/sandwich-aggregate/pkg/models"
)

// MaxTransactionsLimit is the largest page size a bank accepts
const MaxTransactionsLimit = 500

// Payload is a decoded JSON response body. Numbers are kept as json.Number.
type Payload map[string]any

// Query carries the interbank context of a data request
type Query struct {
	ClientID       string
	RequestingBank string
	ConsentID      string
}

type TransactionQuery struct {
	Query
	From  time.Time
	To    time.Time
	Page  int
	Limit int
}

// Gateway is one partner bank's API. Failures are *APIError values; a
// missing consent is reported with KindConsentRequired.
type Gateway interface {
	Code() string
	GetToken(ctx context.Context) (*models.TokenResponse, error)
	RequestConsent(ctx context.Context, token string, req models.ConsentRequest) (*models.ConsentResponse, error)
	GetAccounts(ctx context.Context, token string, q Query) (Payload, error)
	GetBalances(ctx context.Context, token, accountID string, q Query) (Payload, error)
	GetTransactions(ctx context.Context, token, accountID string, q TransactionQuery) (Payload, error)
}
