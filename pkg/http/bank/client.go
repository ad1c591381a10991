package bank

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/vpnda/sandwich-aggregate/pkg/config"
	apphttp "github.com/vpnda/sandwich-aggregate/pkg/http"
	"github.com/vpnda/sandwich-aggregate/pkg/models"
	"github.com/vpnda/sandwich-aggregate/pkg/utils"
)

const (
	tokenPath        = "/auth/bank-token"
	consentPath      = "/account-consents/request"
	accountsPath     = "/accounts"
	balancesPath     = "/accounts/%s/balances"
	transactionsPath = "/accounts/%s/transactions"

	headerRequestingBank = "X-Requesting-Bank"
	headerConsentID      = "X-Consent-Id"

	defaultTransactionsLimit = 50
)

// Client talks to one OpenBanking-style partner bank
type Client struct {
	client       *http.Client
	code         string
	baseURL      string
	clientID     string
	clientSecret string
}

var _ apphttp.Gateway = (*Client)(nil)

func NewClient(code string, opts config.BankOptions, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		client:       httpClient,
		code:         code,
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		clientID:     opts.ClientID,
		clientSecret: opts.ClientSecret,
	}
}

// NewGateways builds a client for every bank that has credentials. Banks
// without credentials are left out.
func NewGateways(cfg *config.Config) map[string]apphttp.Gateway {
	var transport http.RoundTripper = http.DefaultTransport
	if cfg.DebugHTTP {
		transport = utils.DebugRoundTripperWithUnderlying(transport)
	}
	httpClient := &http.Client{
		Timeout:   cfg.HTTPTimeout(),
		Transport: transport,
	}

	gateways := make(map[string]apphttp.Gateway)
	for code, opts := range cfg.Banks {
		if !opts.Configured() {
			continue
		}
		gateways[code] = NewClient(code, opts, httpClient)
	}
	return gateways
}

func (c *Client) Code() string {
	return c.code
}

// GetToken exchanges the client credentials for a bank token
func (c *Client) GetToken(ctx context.Context) (*models.TokenResponse, error) {
	params := url.Values{}
	params.Set("client_id", c.clientID)
	params.Set("client_secret", c.clientSecret)

	req, err := c.newRequest(ctx, http.MethodPost, tokenPath, params, nil)
	if err != nil {
		return nil, c.upstreamErr("get token", err)
	}

	var token models.TokenResponse
	if err := c.doJSON(req, "get token", false, &token); err != nil {
		return nil, err
	}
	if token.AccessToken == "" {
		return nil, &apphttp.APIError{Kind: apphttp.KindUpstream, Bank: c.code, Op: "get token", Detail: "empty access token"}
	}
	return &token, nil
}

// RequestConsent asks the bank for access to a client's accounts
func (c *Client) RequestConsent(ctx context.Context, token string, consent models.ConsentRequest) (*models.ConsentResponse, error) {
	body, err := json.Marshal(consent)
	if err != nil {
		return nil, c.upstreamErr("request consent", fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := c.newRequest(ctx, http.MethodPost, consentPath, nil, bytes.NewReader(body))
	if err != nil {
		return nil, c.upstreamErr("request consent", err)
	}
	setHeaders(req, token, apphttp.Query{RequestingBank: consent.RequestingBank})

	var resp models.ConsentResponse
	if err := c.doJSON(req, "request consent", false, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) GetAccounts(ctx context.Context, token string, q apphttp.Query) (apphttp.Payload, error) {
	return c.getPayload(ctx, "get accounts", accountsPath, token, q, queryParams(q))
}

func (c *Client) GetBalances(ctx context.Context, token, accountID string, q apphttp.Query) (apphttp.Payload, error) {
	path := fmt.Sprintf(balancesPath, url.PathEscape(accountID))
	return c.getPayload(ctx, "get balances", path, token, q, queryParams(q))
}

func (c *Client) GetTransactions(ctx context.Context, token, accountID string, q apphttp.TransactionQuery) (apphttp.Payload, error) {
	params := queryParams(q.Query)
	page := q.Page
	if page < 1 {
		page = 1
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultTransactionsLimit
	}
	params.Set("page", strconv.Itoa(page))
	params.Set("limit", strconv.Itoa(min(limit, apphttp.MaxTransactionsLimit)))
	if !q.From.IsZero() {
		params.Set("from_booking_date_time", q.From.Format("2006-01-02T15:04:05"))
	}
	if !q.To.IsZero() {
		params.Set("to_booking_date_time", q.To.Format("2006-01-02T15:04:05"))
	}

	path := fmt.Sprintf(transactionsPath, url.PathEscape(accountID))
	return c.getPayload(ctx, "get transactions", path, token, q.Query, params)
}

func (c *Client) getPayload(ctx context.Context, op, path, token string, q apphttp.Query, params url.Values) (apphttp.Payload, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, params, nil)
	if err != nil {
		return nil, c.upstreamErr(op, err)
	}
	setHeaders(req, token, q)

	var payload apphttp.Payload
	if err := c.doJSON(req, op, true, &payload); err != nil {
		return nil, err
	}
	if payload == nil {
		payload = apphttp.Payload{}
	}
	return payload, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, params url.Values, body io.Reader) (*http.Request, error) {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// doJSON executes the request and decodes a JSON body into out. When
// consentAware is set, a consent-related 403 is reported as KindConsentRequired.
func (c *Client) doJSON(req *http.Request, op string, consentAware bool, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil || isTimeout(err) {
			return &apphttp.APIError{Kind: apphttp.KindTimeout, Bank: c.code, Op: op, Err: err}
		}
		return &apphttp.APIError{Kind: apphttp.KindUpstream, Bank: c.code, Op: op, StatusCode: http.StatusServiceUnavailable, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.upstreamErr(op, fmt.Errorf("failed to read response body: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		kind := apphttp.KindUpstream
		if consentAware && resp.StatusCode == http.StatusForbidden && mentionsConsent(body) {
			kind = apphttp.KindConsentRequired
		}
		return &apphttp.APIError{
			Kind:       kind,
			Bank:       c.code,
			Op:         op,
			StatusCode: resp.StatusCode,
			Detail:     strings.TrimSpace(string(body)),
		}
	}

	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return c.upstreamErr(op, fmt.Errorf("failed to parse response: %w", err))
	}
	return nil
}

func (c *Client) upstreamErr(op string, err error) error {
	return &apphttp.APIError{Kind: apphttp.KindUpstream, Bank: c.code, Op: op, Err: err}
}

func setHeaders(req *http.Request, token string, q apphttp.Query) {
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	if q.RequestingBank != "" {
		req.Header.Set(headerRequestingBank, q.RequestingBank)
	}
	if q.ConsentID != "" {
		req.Header.Set(headerConsentID, q.ConsentID)
	}
}

func queryParams(q apphttp.Query) url.Values {
	params := url.Values{}
	if q.ClientID != "" {
		params.Set("client_id", q.ClientID)
	}
	return params
}

func mentionsConsent(body []byte) bool {
	text := string(body)
	return strings.Contains(text, "CONSENT_REQUIRED") || strings.Contains(strings.ToLower(text), "consent")
}

func isTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}
