package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vpnda/sandwich-aggregate/db"
	"github.com/vpnda/sandwich-aggregate/pkg/config"
	apphttp "github.com/vpnda/sandwich-aggregate/pkg/http"
	"github.com/vpnda/sandwich-aggregate/pkg/http/bank"
	"github.com/vpnda/sandwich-aggregate/pkg/models"
)

var (
	testBanks = []string{"abank", "sbank", "vbank"}
	fixedNow  = time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
)

type testEnv struct {
	store *db.MemoryDB
	fakes map[string]*fakeGateway
	links *LinkingService
	agg   *Aggregator
}

func newTestEnv(t *testing.T, opts Options, configured ...string) *testEnv {
	t.Helper()

	store := db.NewMemoryDB()
	gateways := make(map[string]apphttp.Gateway)
	fakes := make(map[string]*fakeGateway)
	for _, code := range configured {
		fake := newFakeGateway(code)
		fakes[code] = fake
		gateways[code] = fake
	}

	opts.Banks = testBanks
	opts.RequestingBank = "team200"
	if opts.AccountsTimeout == 0 {
		opts.AccountsTimeout = time.Second
	}
	if opts.FetchTimeout == 0 {
		opts.FetchTimeout = time.Second
	}

	links := NewLinkingService(store, testBanks)
	agg := NewAggregator(
		gateways,
		NewTokenProvider(NewTokenCache(), gateways, time.Second),
		newTestNegotiator(store),
		links,
		opts,
	)
	agg.now = func() time.Time { return fixedNow }

	return &testEnv{store: store, fakes: fakes, links: links, agg: agg}
}

func (e *testEnv) link(t *testing.T, clientID, bank, number, accountID string) {
	t.Helper()
	_, err := e.links.Link(clientID, LinkRequest{Bank: bank, AccountNumber: number, AccountID: accountID})
	require.NoError(t, err)
}

func accountsPayload(ids ...string) apphttp.Payload {
	items := make([]map[string]any, len(ids))
	for i, id := range ids {
		items[i] = map[string]any{"accountId": id, "currency": "RUB"}
	}
	return apphttp.Payload{"data": map[string]any{"account": records(items...)}}
}

func balancesPayload(items ...map[string]any) apphttp.Payload {
	return apphttp.Payload{"data": map[string]any{"balance": records(items...)}}
}

func transactionsPayload(n int, prefix string) apphttp.Payload {
	items := make([]map[string]any, n)
	for i := range items {
		items[i] = map[string]any{
			"transactionId":   prefix + string(rune('a'+i)),
			"amount":          json.Number("-10.00"),
			"bookingDateTime": "2025-03-10T10:00:00",
		}
	}
	return apphttp.Payload{"data": map[string]any{"transaction": records(items...)}}
}

func TestUnconfiguredBanksAreNeverCalled(t *testing.T) {
	var configuredHits, unconfiguredHits atomic.Int32

	configured := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		configuredHits.Add(1)
		switch r.URL.Path {
		case "/auth/bank-token":
			_, _ = w.Write([]byte(`{"access_token":"tok","expires_in":3600}`))
		case "/accounts":
			_, _ = w.Write([]byte(`{"accounts":[{"accountId":"V1"}]}`))
		default:
			_, _ = w.Write([]byte(`{}`))
		}
	}))
	defer configured.Close()

	unconfigured := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		unconfiguredHits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer unconfigured.Close()

	cfg := config.Default()
	cfg.Banks["vbank"] = config.BankOptions{BaseURL: configured.URL, ClientID: "team200", ClientSecret: "secret"}
	cfg.Banks["abank"] = config.BankOptions{BaseURL: unconfigured.URL, ClientID: "team200"}
	cfg.Banks["sbank"] = config.BankOptions{BaseURL: unconfigured.URL}

	gateways := bank.NewGateways(cfg)
	store := db.NewMemoryDB()
	opts := OptionsFromConfig(cfg)
	agg := NewAggregator(
		gateways,
		NewTokenProvider(NewTokenCache(), gateways, time.Second),
		NewConsentNegotiator(store, NegotiatorOptions{RequestingBank: cfg.RequestingBankID}),
		NewLinkingService(store, opts.Banks),
		opts,
	)

	accounts, err := agg.GetAccounts(context.Background(), "team200-1", nil)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "V1", accounts[0].AccountID)
	assert.Equal(t, "vbank", accounts[0].Bank)

	assert.Positive(t, configuredHits.Load())
	assert.Zero(t, unconfiguredHits.Load())
}

func TestPlaceholdersWithoutCredentials(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.link(t, "C1", "vbank", "40817810", "")
	ctx := context.Background()

	accounts, err := env.agg.GetAccounts(ctx, "C1", nil)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "vbank", accounts[0].Bank)
	assert.Equal(t, "40817810", accounts[0].AccountID)
	assert.Equal(t, "RUB", accounts[0].Currency)
	assert.Equal(t, "current", accounts[0].AccountType)

	balances, err := env.agg.GetBalances(ctx, "C1", nil, nil)
	require.NoError(t, err)
	require.Len(t, balances, 1)
	assert.Equal(t, PlaceholderBalance, balances[0].Amount)
	assert.Equal(t, "40817810", balances[0].AccountID)

	transactions, err := env.agg.GetTransactions(ctx, "C1", TransactionQuery{})
	require.NoError(t, err)
	require.Len(t, transactions, 5)

	// Stable across calls
	again, err := env.agg.GetTransactions(ctx, "C1", TransactionQuery{})
	require.NoError(t, err)
	assert.Equal(t, transactions, again)

	for _, tx := range transactions {
		assert.Equal(t, "vbank", tx.Bank)
		assert.Equal(t, "40817810", tx.AccountID)
		assert.LessOrEqual(t, tx.BookingDate, fixedNow.Format("2006-01-02T15:04:05"))
	}
}

func TestNoClientDataAtAll(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	accounts, err := env.agg.GetAccounts(ctx, "C2", nil)
	require.NoError(t, err)
	assert.Empty(t, accounts)

	balances, err := env.agg.GetBalances(ctx, "C2", nil, nil)
	require.NoError(t, err)
	assert.Empty(t, balances)

	transactions, err := env.agg.GetTransactions(ctx, "C2", TransactionQuery{})
	require.NoError(t, err)
	assert.Empty(t, transactions)
}

func TestRealAccountsSuppressPlaceholders(t *testing.T) {
	env := newTestEnv(t, Options{}, "vbank")
	env.fakes["vbank"].Accounts = accountsPayload("A1")
	env.link(t, "C1", "vbank", "L1", "")
	ctx := context.Background()

	balances, err := env.agg.GetBalances(ctx, "C1", nil, nil)
	require.NoError(t, err)
	assert.Empty(t, balances)

	transactions, err := env.agg.GetTransactions(ctx, "C1", TransactionQuery{})
	require.NoError(t, err)
	assert.Empty(t, transactions)
}

func TestRealBalancesSuppressPlaceholderTransactions(t *testing.T) {
	env := newTestEnv(t, Options{}, "vbank")
	fake := env.fakes["vbank"]
	fake.Balances["4081"] = balancesPayload(
		map[string]any{"balanceType": "interimBooked", "amount": json.Number("500.00")},
	)
	env.link(t, "C1", "vbank", "4081", "")
	ctx := context.Background()

	balances, err := env.agg.GetBalances(ctx, "C1", nil, nil)
	require.NoError(t, err)
	require.Len(t, balances, 1)
	assert.Equal(t, "500", NetWorth(balances).String())

	transactions, err := env.agg.GetTransactions(ctx, "C1", TransactionQuery{})
	require.NoError(t, err)
	assert.Empty(t, transactions)

	snapshot, err := env.agg.Snapshot(ctx, "C1", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.False(t, snapshot.Placeholder)
	assert.Empty(t, snapshot.Transactions)
	assert.Equal(t, balances, snapshot.Balances)
}

func TestAnsweredBankSuppressPlaceholders(t *testing.T) {
	t.Run("Accounts answered empty", func(t *testing.T) {
		env := newTestEnv(t, Options{}, "vbank")
		env.fakes["vbank"].BalancesErr = upstreamError("vbank", http.StatusBadGateway)
		env.fakes["vbank"].TransactionsErr = upstreamError("vbank", http.StatusBadGateway)
		env.link(t, "C1", "vbank", "L1", "")
		ctx := context.Background()

		balances, err := env.agg.GetBalances(ctx, "C1", nil, nil)
		require.NoError(t, err)
		assert.Empty(t, balances)

		transactions, err := env.agg.GetTransactions(ctx, "C1", TransactionQuery{})
		require.NoError(t, err)
		assert.Empty(t, transactions)
	})

	t.Run("Only transactions answered", func(t *testing.T) {
		env := newTestEnv(t, Options{}, "vbank")
		env.fakes["vbank"].AccountsErr = upstreamError("vbank", http.StatusBadGateway)
		env.fakes["vbank"].BalancesErr = upstreamError("vbank", http.StatusBadGateway)
		env.link(t, "C1", "vbank", "L1", "")

		balances, err := env.agg.GetBalances(context.Background(), "C1", nil, nil)
		require.NoError(t, err)
		assert.Empty(t, balances)
	})
}

func TestBalancesKeepEveryRecord(t *testing.T) {
	env := newTestEnv(t, Options{}, "vbank")
	fake := env.fakes["vbank"]
	fake.Accounts = accountsPayload("A1")
	fake.Balances["A1"] = balancesPayload(
		map[string]any{"balanceType": "openingBooked", "amount": json.Number("100.00")},
		map[string]any{"balanceType": "interimBooked", "amount": json.Number("250.00")},
	)

	balances, err := env.agg.GetBalances(context.Background(), "C1", nil, nil)
	require.NoError(t, err)
	require.Len(t, balances, 2)

	// Only the interimBooked record counts towards net worth
	assert.Equal(t, "250", NetWorth(balances).String())
}

func TestFailingBankIsIsolated(t *testing.T) {
	env := newTestEnv(t, Options{}, "abank", "sbank", "vbank")
	env.fakes["abank"].Accounts = accountsPayload("A1", "A2")
	env.fakes["sbank"].TokenErr = upstreamError("sbank", http.StatusUnauthorized)
	env.fakes["vbank"].AccountsErr = upstreamError("vbank", http.StatusBadGateway)

	accounts, err := env.agg.GetAccounts(context.Background(), "C1", nil)
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	for _, a := range accounts {
		assert.Equal(t, "abank", a.Bank)
	}
	assert.Equal(t, 0, env.fakes["sbank"].Calls("accounts"))
}

func TestSlowBankTimesOut(t *testing.T) {
	env := newTestEnv(t, Options{AccountsTimeout: 20 * time.Millisecond}, "abank", "vbank")
	env.fakes["abank"].Accounts = accountsPayload("A1")
	env.fakes["vbank"].Accounts = accountsPayload("V1")
	env.fakes["vbank"].Delay = 500 * time.Millisecond

	start := time.Now()
	accounts, err := env.agg.GetAccounts(context.Background(), "C1", nil)
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 400*time.Millisecond)
	require.Len(t, accounts, 1)
	assert.Equal(t, "abank", accounts[0].Bank)
}

func TestSameAccountIDOnTwoBanks(t *testing.T) {
	env := newTestEnv(t, Options{}, "abank", "vbank")
	for _, code := range []string{"abank", "vbank"} {
		fake := env.fakes[code]
		fake.Accounts = accountsPayload("ACC")
		fake.Balances["ACC"] = balancesPayload(map[string]any{"amount": json.Number("10.00")})
	}

	accounts, err := env.agg.GetAccounts(context.Background(), "C1", nil)
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.NotEqual(t, accounts[0].Key(), accounts[1].Key())

	balances, err := env.agg.GetBalances(context.Background(), "C1", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "20", NetWorth(balances).String())
}

func TestLinkedAccountsAreQueriedDirectly(t *testing.T) {
	env := newTestEnv(t, Options{}, "vbank")
	fake := env.fakes["vbank"]
	fake.Accounts = accountsPayload("A1")
	fake.Balances["ACC-L1"] = balancesPayload(map[string]any{"amount": json.Number("42.00")})
	env.link(t, "C1", "vbank", "L1", "ACC-L1")
	env.link(t, "C1", "vbank", "A1", "")

	balances, err := env.agg.GetBalances(context.Background(), "C1", nil, nil)
	require.NoError(t, err)
	require.Len(t, balances, 1)
	assert.Equal(t, "ACC-L1", balances[0].AccountID)

	// A1 is known both live and linked but queried once
	assert.ElementsMatch(t, []string{"A1", "ACC-L1"}, fake.QueriedAccounts())
}

func TestAccountIDFilter(t *testing.T) {
	env := newTestEnv(t, Options{}, "vbank")
	fake := env.fakes["vbank"]
	fake.Accounts = accountsPayload("A1", "A2")
	fake.Balances["A1"] = balancesPayload(map[string]any{"amount": json.Number("1.00")})
	fake.Balances["A2"] = balancesPayload(map[string]any{"amount": json.Number("2.00")})

	balances, err := env.agg.GetBalances(context.Background(), "C1", []string{"A2"}, nil)
	require.NoError(t, err)
	require.Len(t, balances, 1)
	assert.Equal(t, "A2", balances[0].AccountID)
	assert.Equal(t, []string{"A2"}, fake.QueriedAccounts())
}

func TestTransactionsPagination(t *testing.T) {
	env := newTestEnv(t, Options{PageLimit: 2}, "vbank")
	fake := env.fakes["vbank"]
	fake.Accounts = accountsPayload("A1")
	fake.Transactions["A1"] = []apphttp.Payload{
		transactionsPayload(2, "p1"),
		transactionsPayload(2, "p2"),
		transactionsPayload(1, "p3"),
	}

	transactions, err := env.agg.GetTransactions(context.Background(), "C1", TransactionQuery{})
	require.NoError(t, err)
	assert.Len(t, transactions, 5)
	assert.Equal(t, 3, fake.Calls("transactions"))
	assert.Equal(t, "p1a", transactions[0].TransactionID)
	assert.Equal(t, "p3a", transactions[4].TransactionID)
}

func TestTransactionsPageCap(t *testing.T) {
	env := newTestEnv(t, Options{PageLimit: 1, MaxPages: 3}, "vbank")
	fake := env.fakes["vbank"]
	fake.Accounts = accountsPayload("A1")
	for i := 0; i < 5; i++ {
		fake.Transactions["A1"] = append(fake.Transactions["A1"], transactionsPayload(1, string(rune('a'+i))))
	}

	transactions, err := env.agg.GetTransactions(context.Background(), "C1", TransactionQuery{})
	require.NoError(t, err)
	assert.Len(t, transactions, 3)
	assert.Equal(t, 3, fake.Calls("transactions"))
}

func TestBankSelectionFollowsLinks(t *testing.T) {
	env := newTestEnv(t, Options{}, "abank", "vbank")
	env.fakes["abank"].Accounts = accountsPayload("A1")
	env.fakes["vbank"].Accounts = accountsPayload("V1")
	env.link(t, "C1", "abank", "1234", "")

	accounts, err := env.agg.GetAccounts(context.Background(), "C1", nil)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "abank", accounts[0].Bank)
	assert.Equal(t, 0, env.fakes["vbank"].Calls("accounts"))

	// An explicit bank list wins over links
	accounts, err = env.agg.GetAccounts(context.Background(), "C1", []string{"VBANK"})
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "vbank", accounts[0].Bank)
}

func TestPendingConsentFallsBack(t *testing.T) {
	env := newTestEnv(t, Options{}, "vbank")
	fake := env.fakes["vbank"]
	fake.RequireConsent = true
	fake.Consent = &models.ConsentResponse{Status: models.ConsentStatusPending, RequestID: "req-1"}
	env.link(t, "C1", "vbank", "L1", "")

	accounts, err := env.agg.GetAccounts(context.Background(), "C1", nil)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "L1", accounts[0].AccountID)
	assert.Equal(t, 1, fake.Calls("consent"))
}

func TestConsentIsNegotiatedOncePerBank(t *testing.T) {
	env := newTestEnv(t, Options{}, "vbank")
	fake := env.fakes["vbank"]
	fake.RequireConsent = true
	fake.AcceptedConsent = "consent-vbank"
	fake.Accounts = accountsPayload("A1")

	_, err := env.agg.GetAccounts(context.Background(), "C1", nil)
	require.NoError(t, err)
	_, err = env.agg.GetBalances(context.Background(), "C1", nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, fake.Calls("consent"))
	assert.Equal(t, 1, fake.Calls("token"))
}

func TestValidation(t *testing.T) {
	env := newTestEnv(t, Options{}, "vbank")
	ctx := context.Background()

	_, err := env.agg.GetAccounts(ctx, "bad id!", nil)
	assert.True(t, errors.Is(err, ErrInvalidClientID))

	_, err = env.agg.GetBalances(ctx, "C1", nil, []string{"nobank"})
	assert.True(t, errors.Is(err, ErrInvalidBank))

	_, err = env.agg.GetTransactions(ctx, "C1", TransactionQuery{From: fixedNow, To: fixedNow.AddDate(0, 0, -1)})
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestSnapshot(t *testing.T) {
	t.Run("Live data", func(t *testing.T) {
		env := newTestEnv(t, Options{}, "vbank")
		env.fakes["vbank"].Accounts = accountsPayload("A1")
		env.link(t, "C1", "vbank", "L1", "")

		snapshot, err := env.agg.Snapshot(context.Background(), "C1", time.Time{}, time.Time{})
		require.NoError(t, err)
		assert.False(t, snapshot.Placeholder)
		assert.Len(t, snapshot.Accounts, 1)
		assert.Empty(t, snapshot.Balances)
		assert.Empty(t, snapshot.Transactions)
		assert.Equal(t, 1, env.fakes["vbank"].Calls("accounts"))
	})

	t.Run("No evidence of connectivity", func(t *testing.T) {
		env := newTestEnv(t, Options{}, "vbank")
		env.fakes["vbank"].AccountsErr = upstreamError("vbank", http.StatusServiceUnavailable)
		env.fakes["vbank"].BalancesErr = upstreamError("vbank", http.StatusServiceUnavailable)
		env.fakes["vbank"].TransactionsErr = upstreamError("vbank", http.StatusServiceUnavailable)
		env.link(t, "C1", "vbank", "L1", "")

		snapshot, err := env.agg.Snapshot(context.Background(), "C1", time.Time{}, time.Time{})
		require.NoError(t, err)
		assert.True(t, snapshot.Placeholder)
		assert.Len(t, snapshot.Accounts, 1)
		assert.Len(t, snapshot.Balances, 1)
		assert.Len(t, snapshot.Transactions, 5)
	})
}

func TestRequestConsentAndToken(t *testing.T) {
	env := newTestEnv(t, Options{}, "vbank")
	ctx := context.Background()

	resp, err := env.agg.RequestConsent(ctx, "C1", "vbank", []string{"ReadBalances"})
	require.NoError(t, err)
	assert.Equal(t, "consent-vbank", resp.ConsentID)

	stored, _ := env.store.GetConsentID("C1", "vbank")
	assert.Equal(t, "consent-vbank", stored)

	_, err = env.agg.RequestConsent(ctx, "C1", "abank", nil)
	kind, ok := apphttp.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, apphttp.KindConfigMissing, kind)

	token, err := env.agg.Token(ctx, "vbank", false)
	require.NoError(t, err)
	assert.Equal(t, "tok-vbank", token.AccessToken)
}
