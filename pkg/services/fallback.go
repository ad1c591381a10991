package services

import (
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/vpnda/sandwich-aggregate/pkg/models"
)

const (
	// PlaceholderBalance is the balance shown for a linked account that no
	// bank could confirm
	PlaceholderBalance     = "100000.00"
	placeholderAccountType = "current"
	placeholderDateLayout  = "2006-01-02T15:04:05"
)

var placeholderNamespace = uuid.MustParse("6f1c2b9e-3d4a-5e8f-9a0b-1c2d3e4f5a6b")

type placeholderTemplate struct {
	description string
	mcc         string
	amount      string
}

var placeholderTransactions = []placeholderTemplate{
	{description: "Супермаркет Перекрёсток", mcc: "5411", amount: "-1250.50"},
	{description: "Кафе Шоколадница", mcc: "5812", amount: "-640.00"},
	{description: "АЗС Лукойл", mcc: "5541", amount: "-2300.00"},
	{description: "Аптека 36.6", mcc: "5912", amount: "-415.90"},
	{description: "Зарплата", mcc: "", amount: "85000.00"},
}

// PlaceholderAccounts synthesizes one account per linked account
func PlaceholderAccounts(linked []models.LinkedAccount) []models.Account {
	return lo.Map(linked, func(l models.LinkedAccount, _ int) models.Account {
		account := models.Account{
			AccountID:   l.AccountNumber,
			Bank:        l.Bank,
			Currency:    models.DefaultCurrency,
			AccountType: placeholderAccountType,
		}
		if l.Nickname != "" {
			account.Nickname = lo.ToPtr(l.Nickname)
		}
		return account
	})
}

// PlaceholderBalances synthesizes a fixed balance per linked account
func PlaceholderBalances(linked []models.LinkedAccount) []models.Balance {
	return lo.Map(linked, func(l models.LinkedAccount, _ int) models.Balance {
		return models.Balance{
			AccountID:   l.AccountNumber,
			Bank:        l.Bank,
			Amount:      PlaceholderBalance,
			Currency:    models.DefaultCurrency,
			BalanceType: models.BalanceTypeInterimBooked,
		}
	})
}

// PlaceholderTransactions synthesizes the same five transactions for every
// linked account, two days apart going back from to and never before from.
// Ids are derived from the account, so repeated calls agree.
func PlaceholderTransactions(linked []models.LinkedAccount, from, to time.Time) []models.Transaction {
	out := make([]models.Transaction, 0, len(linked)*len(placeholderTransactions))
	for _, l := range linked {
		for i, tpl := range placeholderTransactions {
			date := to.AddDate(0, 0, -2*i)
			if !from.IsZero() && date.Before(from) {
				date = from
			}
			name := l.Bank + "/" + l.AccountNumber + "/" + tpl.description
			tx := models.Transaction{
				TransactionID: uuid.NewSHA1(placeholderNamespace, []byte(name)).String(),
				AccountID:     l.AccountNumber,
				Bank:          l.Bank,
				Amount:        tpl.amount,
				Currency:      models.DefaultCurrency,
				BookingDate:   date.Format(placeholderDateLayout),
				Description:   lo.ToPtr(tpl.description),
			}
			if tpl.mcc != "" {
				tx.MCC = lo.ToPtr(tpl.mcc)
			}
			out = append(out, tx)
		}
	}
	return out
}

// filterLinked keeps the linked accounts named in only, by account id or
// number. An empty only keeps everything.
func filterLinked(linked []models.LinkedAccount, only []string) []models.LinkedAccount {
	if len(only) == 0 {
		return linked
	}
	return lo.Filter(linked, func(l models.LinkedAccount, _ int) bool {
		return lo.Contains(only, l.QueryID()) || lo.Contains(only, l.AccountNumber)
	})
}
