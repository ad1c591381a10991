package services

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/vpnda/sandwich-aggregate/pkg/config"
	apphttp "github.com/vpnda/sandwich-aggregate/pkg/http"
	"github.com/vpnda/sandwich-aggregate/pkg/models"
)

const (
	defaultTokenTimeout    = 5 * time.Second
	defaultAccountsTimeout = 5 * time.Second
	defaultFetchTimeout    = 10 * time.Second
	defaultPageLimit       = 100
	defaultMaxPages        = 10
	defaultPeriodDays      = 30
)

type Options struct {
	// Banks lists every known bank code, configured or not
	Banks           []string
	RequestingBank  string
	TokenTimeout    time.Duration
	AccountsTimeout time.Duration
	FetchTimeout    time.Duration
	PageLimit       int
	MaxPages        int
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Banks:           cfg.BankCodes(),
		RequestingBank:  cfg.RequestingBankID,
		TokenTimeout:    cfg.TokenTimeout(),
		AccountsTimeout: cfg.TokenTimeout(),
		FetchTimeout:    cfg.FetchTimeout(),
	}
}

func (o *Options) setDefaults() {
	if o.TokenTimeout <= 0 {
		o.TokenTimeout = defaultTokenTimeout
	}
	if o.AccountsTimeout <= 0 {
		o.AccountsTimeout = defaultAccountsTimeout
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = defaultFetchTimeout
	}
	if o.PageLimit <= 0 {
		o.PageLimit = defaultPageLimit
	}
	o.PageLimit = min(o.PageLimit, apphttp.MaxTransactionsLimit)
	if o.MaxPages <= 0 {
		o.MaxPages = defaultMaxPages
	}
}

// Aggregator merges accounts, balances and transactions of one client
// across banks. A bank that fails or times out contributes nothing; it never
// fails the whole call.
type Aggregator struct {
	gateways map[string]apphttp.Gateway
	tokens   *TokenProvider
	consents *ConsentNegotiator
	links    *LinkingService
	opts     Options
	now      func() time.Time
}

func NewAggregator(gateways map[string]apphttp.Gateway, tokens *TokenProvider, consents *ConsentNegotiator, links *LinkingService, opts Options) *Aggregator {
	opts.setDefaults()
	return &Aggregator{
		gateways: gateways,
		tokens:   tokens,
		consents: consents,
		links:    links,
		opts:     opts,
		now:      time.Now,
	}
}

// Banks returns every known bank code
func (a *Aggregator) Banks() []string {
	return a.opts.Banks
}

// Configured reports whether bank has credentials
func (a *Aggregator) Configured(bank string) bool {
	_, ok := a.gateways[bank]
	return ok
}

type TransactionQuery struct {
	From       time.Time
	To         time.Time
	AccountIDs []string
	Banks      []string
}

// GetAccounts returns the client's accounts. When no bank returns any, one
// placeholder account is made per linked account.
func (a *Aggregator) GetAccounts(ctx context.Context, clientID string, banks []string) ([]models.Account, error) {
	clientID, banks, err := a.prepare(clientID, banks)
	if err != nil {
		return nil, err
	}

	accounts, _ := a.realAccounts(ctx, clientID, banks)
	if len(accounts) > 0 {
		return accounts, nil
	}

	linked := a.linked(clientID, banks)
	if len(linked) == 0 {
		return []models.Account{}, nil
	}
	log.Info().Str("client_id", clientID).Int("linked", len(linked)).Msg("no live accounts, using linked accounts")
	return PlaceholderAccounts(linked), nil
}

// GetBalances returns every balance record of the client's accounts.
// Placeholder balances are only made when no bank answered any call.
func (a *Aggregator) GetBalances(ctx context.Context, clientID string, accountIDs, banks []string) ([]models.Balance, error) {
	clientID, banks, err := a.prepare(clientID, banks)
	if err != nil {
		return nil, err
	}

	accounts, accountsLive := a.realAccounts(ctx, clientID, banks)
	linked := a.linked(clientID, banks)
	universe := a.accountUniverse(banks, accounts, linked, accountIDs)
	balances, balancesLive := a.balancesFor(ctx, clientID, universe)
	if accountsLive || balancesLive {
		return balances, nil
	}

	linked = filterLinked(linked, accountIDs)
	if len(linked) == 0 {
		return []models.Balance{}, nil
	}
	from, to, _ := a.period(time.Time{}, time.Time{})
	if _, live := a.transactionsFor(ctx, clientID, universe, from, to); live {
		return balances, nil
	}
	log.Info().Str("client_id", clientID).Msg("no live data, using placeholder balances")
	return PlaceholderBalances(linked), nil
}

// GetTransactions returns the client's transactions booked between From and
// To, the last 30 days by default. Placeholders follow the same rule as
// balances.
func (a *Aggregator) GetTransactions(ctx context.Context, clientID string, q TransactionQuery) ([]models.Transaction, error) {
	clientID, banks, err := a.prepare(clientID, q.Banks)
	if err != nil {
		return nil, err
	}
	from, to, err := a.period(q.From, q.To)
	if err != nil {
		return nil, err
	}

	accounts, accountsLive := a.realAccounts(ctx, clientID, banks)
	linked := a.linked(clientID, banks)
	universe := a.accountUniverse(banks, accounts, linked, q.AccountIDs)
	transactions, transactionsLive := a.transactionsFor(ctx, clientID, universe, from, to)
	if accountsLive || transactionsLive {
		return transactions, nil
	}

	linked = filterLinked(linked, q.AccountIDs)
	if len(linked) == 0 {
		return []models.Transaction{}, nil
	}
	if _, live := a.balancesFor(ctx, clientID, universe); live {
		return transactions, nil
	}
	log.Info().Str("client_id", clientID).Msg("no live data, using placeholder transactions")
	return PlaceholderTransactions(linked, from, to), nil
}

// Snapshot is everything known about a client over one period
type Snapshot struct {
	Accounts     []models.Account
	Balances     []models.Balance
	Transactions []models.Transaction
	Placeholder  bool
}

// Snapshot fetches accounts once and derives balances and transactions from
// them. Placeholders replace all three together, and only when no bank
// answered any call.
func (a *Aggregator) Snapshot(ctx context.Context, clientID string, from, to time.Time) (*Snapshot, error) {
	clientID, banks, err := a.prepare(clientID, nil)
	if err != nil {
		return nil, err
	}
	from, to, err = a.period(from, to)
	if err != nil {
		return nil, err
	}

	accounts, accountsLive := a.realAccounts(ctx, clientID, banks)
	linked := a.linked(clientID, banks)
	universe := a.accountUniverse(banks, accounts, linked, nil)

	snapshot := &Snapshot{Accounts: accounts}
	var balancesLive, transactionsLive bool
	var g errgroup.Group
	g.Go(func() error {
		snapshot.Balances, balancesLive = a.balancesFor(ctx, clientID, universe)
		return nil
	})
	g.Go(func() error {
		snapshot.Transactions, transactionsLive = a.transactionsFor(ctx, clientID, universe, from, to)
		return nil
	})
	_ = g.Wait()

	if accountsLive || balancesLive || transactionsLive || len(linked) == 0 {
		return snapshot, nil
	}

	log.Info().Str("client_id", clientID).Msg("no live data, using placeholder snapshot")
	return &Snapshot{
		Accounts:     PlaceholderAccounts(linked),
		Balances:     PlaceholderBalances(linked),
		Transactions: PlaceholderTransactions(linked, from, to),
		Placeholder:  true,
	}, nil
}

// RequestConsent asks bank for a consent on behalf of the client
func (a *Aggregator) RequestConsent(ctx context.Context, clientID, bank string, permissions []string) (*models.ConsentResponse, error) {
	clientID, err := ValidateClientID(clientID)
	if err != nil {
		return nil, err
	}
	bank, err = ValidateBank(bank, a.opts.Banks)
	if err != nil {
		return nil, err
	}
	gateway, ok := a.gateways[bank]
	if !ok {
		return nil, apphttp.NewConfigMissing(bank)
	}

	token, err := a.token(ctx, bank)
	if err != nil {
		return nil, err
	}
	return a.consents.Request(ctx, gateway, token, clientID, permissions)
}

// Token returns a bank token, bypassing the cache when forceRefresh is set
func (a *Aggregator) Token(ctx context.Context, bank string, forceRefresh bool) (*models.TokenResponse, error) {
	bank, err := ValidateBank(bank, a.opts.Banks)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, a.opts.TokenTimeout)
	defer cancel()
	return a.tokens.Token(ctx, bank, forceRefresh)
}

func (a *Aggregator) prepare(clientID string, banks []string) (string, []string, error) {
	clientID, err := ValidateClientID(clientID)
	if err != nil {
		return "", nil, err
	}
	if len(banks) > 0 {
		banks, err = validateBanks(banks, a.opts.Banks)
		if err != nil {
			return "", nil, err
		}
		return clientID, banks, nil
	}

	linkedBanks, err := a.links.BanksFor(clientID)
	if err != nil {
		log.Warn().Err(err).Str("client_id", clientID).Msg("failed to read linked banks")
	}
	linkedBanks = lo.Intersect(a.opts.Banks, linkedBanks)
	if len(linkedBanks) > 0 {
		return clientID, linkedBanks, nil
	}
	return clientID, a.opts.Banks, nil
}

func (a *Aggregator) period(from, to time.Time) (time.Time, time.Time, error) {
	if to.IsZero() {
		to = a.now()
	}
	if from.IsZero() {
		from = to.AddDate(0, 0, -defaultPeriodDays)
	}
	if from.After(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: from is after to", ErrInvalidInput)
	}
	return from, to, nil
}

func (a *Aggregator) linked(clientID string, banks []string) []models.LinkedAccount {
	linked, err := a.links.active(clientID, banks)
	if err != nil {
		log.Warn().Err(err).Str("client_id", clientID).Msg("failed to read linked accounts")
		return nil
	}
	return linked
}

// perBank runs fn for every key concurrently and returns the results in
// key order. The flag is set when any key got an answer from its bank.
func perBank[K, T any](keys []K, fn func(key K) ([]T, bool)) ([]T, bool) {
	results := make([][]T, len(keys))
	answered := make([]bool, len(keys))
	var g errgroup.Group
	for i, key := range keys {
		g.Go(func() error {
			results[i], answered[i] = fn(key)
			return nil
		})
	}
	_ = g.Wait()
	return lo.Flatten(results), lo.Contains(answered, true)
}

func (a *Aggregator) realAccounts(ctx context.Context, clientID string, banks []string) ([]models.Account, bool) {
	return perBank(banks, func(bank string) ([]models.Account, bool) {
		return a.fetchAccounts(ctx, clientID, bank)
	})
}

type bankAccountIDs struct {
	bank string
	ids  []string
}

// accountUniverse lists, per bank, the live account ids followed by the
// linked accounts the live API did not return
func (a *Aggregator) accountUniverse(banks []string, accounts []models.Account, linked []models.LinkedAccount, only []string) []bankAccountIDs {
	universe := make([]bankAccountIDs, 0, len(banks))
	for _, bank := range banks {
		ids := lo.FilterMap(accounts, func(acc models.Account, _ int) (string, bool) {
			return acc.AccountID, acc.Bank == bank && acc.AccountID != ""
		})
		ids = append(ids, lo.FilterMap(linked, func(l models.LinkedAccount, _ int) (string, bool) {
			return l.QueryID(), l.Bank == bank && l.QueryID() != ""
		})...)
		ids = lo.Uniq(ids)
		if len(only) > 0 {
			ids = lo.Intersect(only, ids)
		}
		universe = append(universe, bankAccountIDs{bank: bank, ids: ids})
	}
	return universe
}

func (a *Aggregator) balancesFor(ctx context.Context, clientID string, universe []bankAccountIDs) ([]models.Balance, bool) {
	return perBank(lo.Range(len(universe)), func(i int) ([]models.Balance, bool) {
		entry := universe[i]
		var (
			out      []models.Balance
			answered bool
		)
		for _, accountID := range entry.ids {
			balances, ok := a.fetchBalances(ctx, clientID, entry.bank, accountID)
			out = append(out, balances...)
			answered = answered || ok
		}
		return out, answered
	})
}

func (a *Aggregator) transactionsFor(ctx context.Context, clientID string, universe []bankAccountIDs, from, to time.Time) ([]models.Transaction, bool) {
	return perBank(lo.Range(len(universe)), func(i int) ([]models.Transaction, bool) {
		entry := universe[i]
		var (
			out      []models.Transaction
			answered bool
		)
		for _, accountID := range entry.ids {
			transactions, ok := a.fetchTransactions(ctx, clientID, entry.bank, accountID, from, to)
			out = append(out, transactions...)
			answered = answered || ok
		}
		return out, answered
	})
}
