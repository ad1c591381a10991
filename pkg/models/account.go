package models

import "time"

const (
	DefaultCurrency    = "RUB"
	DefaultAccountType = "Personal"

	BalanceTypeInterimBooked = "interimBooked"
	BalanceTypeOpeningBooked = "openingBooked"
)

// Account is the unified view of a bank account. AccountID is only unique
// within a bank, so (Bank, AccountID) is the identity across banks.
type Account struct {
	AccountID   string         `json:"account_id"`
	Bank        string         `json:"bank"`
	Currency    string         `json:"currency"`
	AccountType string         `json:"account_type"`
	Nickname    *string        `json:"nickname,omitempty"`
	Servicer    map[string]any `json:"servicer,omitempty"`
}

// Key returns the composite identity of the account
func (a Account) Key() AccountKey {
	return AccountKey{Bank: a.Bank, AccountID: a.AccountID}
}

type AccountKey struct {
	Bank      string
	AccountID string
}

// Balance is one balance record of an account. An account may carry several
// of them, one per balance type.
type Balance struct {
	AccountID   string `json:"account_id"`
	Bank        string `json:"bank,omitempty"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	BalanceType string `json:"balance_type"`
}

func (b Balance) Key() AccountKey {
	return AccountKey{Bank: b.Bank, AccountID: b.AccountID}
}

// AsAmount returns the balance as a monetary amount
func (b Balance) AsAmount() Amount {
	return Amount{Value: b.Amount, Currency: b.Currency}
}

// BalancePriority ranks balance types for selection, lower wins.
func BalancePriority(balanceType string) int {
	switch balanceType {
	case BalanceTypeInterimBooked:
		return 0
	case BalanceTypeOpeningBooked:
		return 1
	default:
		return 2
	}
}

// PreferredBalances keeps exactly one balance per account: interimBooked over
// openingBooked over anything else. On a tie the first record seen wins.
// The result keeps the order in which accounts first appear.
func PreferredBalances(balances []Balance) []Balance {
	index := make(map[AccountKey]int)
	selected := make([]Balance, 0, len(balances))
	for _, b := range balances {
		i, ok := index[b.Key()]
		if !ok {
			index[b.Key()] = len(selected)
			selected = append(selected, b)
			continue
		}
		if BalancePriority(b.BalanceType) < BalancePriority(selected[i].BalanceType) {
			selected[i] = b
		}
	}
	return selected
}

// LinkedAccount is an account a client declared by hand. It is used to find
// accounts the live API does not list.
type LinkedAccount struct {
	ID            string    `json:"id"`
	Bank          string    `json:"bank"`
	AccountNumber string    `json:"account_number"`
	AccountID     string    `json:"account_id,omitempty"`
	Nickname      string    `json:"nickname"`
	LinkedAt      time.Time `json:"linked_at"`
	Active        bool      `json:"active"`
}

// QueryID is the identifier used when asking the bank about this account
func (l LinkedAccount) QueryID() string {
	if l.AccountID != "" {
		return l.AccountID
	}
	return l.AccountNumber
}
