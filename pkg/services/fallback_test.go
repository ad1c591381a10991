package services

import (
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vpnda/sandwich-aggregate/pkg/models"
)

func TestPlaceholderTransactions(t *testing.T) {
	linked := []models.LinkedAccount{
		{Bank: "vbank", AccountNumber: "1"},
		{Bank: "abank", AccountNumber: "1"},
	}
	to := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	from := to.AddDate(0, 0, -5)

	txs := PlaceholderTransactions(linked, from, to)
	require.Len(t, txs, 10)

	// Unique across accounts and banks
	ids := lo.Map(txs, func(tx models.Transaction, _ int) string { return tx.TransactionID })
	assert.Len(t, lo.Uniq(ids), 10)

	dates := lo.Map(txs[:5], func(tx models.Transaction, _ int) string { return tx.BookingDate })
	assert.Equal(t, []string{
		"2025-03-14T12:00:00",
		"2025-03-12T12:00:00",
		"2025-03-10T12:00:00",
		"2025-03-09T12:00:00",
		"2025-03-09T12:00:00",
	}, dates)

	assert.Equal(t, "-1250.50", txs[0].Amount)
	assert.Equal(t, "groceries", Categorize(txs[0]))
	assert.Equal(t, "85000.00", txs[4].Amount)
	assert.Nil(t, txs[4].MCC)
}

func TestPlaceholderAccountsAndBalances(t *testing.T) {
	linked := []models.LinkedAccount{{Bank: "sbank", AccountNumber: "777", AccountID: "acc-777", Nickname: "Savings"}}

	accounts := PlaceholderAccounts(linked)
	require.Len(t, accounts, 1)
	assert.Equal(t, "777", accounts[0].AccountID)
	assert.Equal(t, "Savings", *accounts[0].Nickname)

	balances := PlaceholderBalances(linked)
	require.Len(t, balances, 1)
	assert.Equal(t, models.Balance{
		AccountID:   "777",
		Bank:        "sbank",
		Amount:      PlaceholderBalance,
		Currency:    "RUB",
		BalanceType: models.BalanceTypeInterimBooked,
	}, balances[0])

	assert.Empty(t, PlaceholderTransactions(nil, time.Time{}, time.Now()))
}

func TestFilterLinked(t *testing.T) {
	linked := []models.LinkedAccount{
		{AccountNumber: "1", AccountID: "acc-1"},
		{AccountNumber: "2"},
	}
	assert.Len(t, filterLinked(linked, nil), 2)
	assert.Len(t, filterLinked(linked, []string{"acc-1"}), 1)
	assert.Len(t, filterLinked(linked, []string{"1"}), 1)
	assert.Empty(t, filterLinked(linked, []string{"3"}))
}
