package services

import (
	"encoding/json"
	"strconv"

	"github.com/samber/lo"

	apphttp "github.com/vpnda/sandwich-aggregate/pkg/http"
	"github.com/vpnda/sandwich-aggregate/pkg/models"
)

// NormalizeAccounts maps an accounts response onto canonical accounts
func NormalizeAccounts(bank string, payload apphttp.Payload) []models.Account {
	return lo.Map(unwrap(payload, "account", "accounts"), func(raw map[string]any, _ int) models.Account {
		return NormalizeAccount(bank, raw)
	})
}

// NormalizeAccount accepts both camelCase and snake_case keys
func NormalizeAccount(bank string, raw map[string]any) models.Account {
	account := models.Account{
		AccountID:   stringField(raw, "", "accountId", "account_id"),
		Bank:        bank,
		Currency:    stringField(raw, models.DefaultCurrency, "currency"),
		AccountType: stringField(raw, models.DefaultAccountType, "accountType", "account_type"),
	}
	if nickname, ok := raw["nickname"].(string); ok {
		account.Nickname = lo.ToPtr(nickname)
	}
	if servicer, ok := raw["servicer"].(map[string]any); ok {
		account.Servicer = servicer
	}
	return account
}

// NormalizeBalances maps a balances response. accountID is the account that
// was queried.
func NormalizeBalances(bank, accountID string, payload apphttp.Payload) []models.Balance {
	return lo.Map(unwrap(payload, "balance", "balances"), func(raw map[string]any, _ int) models.Balance {
		amount, currency := amountField(raw)
		return models.Balance{
			AccountID:   accountID,
			Bank:        bank,
			Amount:      amount,
			Currency:    currency,
			BalanceType: stringField(raw, models.BalanceTypeInterimBooked, "balanceType", "balance_type"),
		}
	})
}

// NormalizeTransactions maps a transactions response. accountID is the
// account that was queried.
func NormalizeTransactions(bank, accountID string, payload apphttp.Payload) []models.Transaction {
	return lo.Map(unwrap(payload, "transaction", "transactions"), func(raw map[string]any, _ int) models.Transaction {
		amount, currency := amountField(raw)
		tx := models.Transaction{
			TransactionID: stringField(raw, "", "transactionId", "transaction_id"),
			AccountID:     accountID,
			Bank:          bank,
			Amount:        amount,
			Currency:      currency,
			BookingDate:   stringField(raw, "", "bookingDateTime", "booking_date_time", "booking_date"),
		}
		if description := stringField(raw, "", "description", "transactionInformation"); description != "" {
			tx.Description = lo.ToPtr(description)
		}
		if mcc, ok := scalarString(raw["mcc"]); ok && mcc != "" {
			tx.MCC = lo.ToPtr(mcc)
		}
		return tx
	})
}

// unwrap finds the record list of a response. data.<singular> wins over the
// top-level <plural>; a single mapping counts as a one-element list. Values
// of any other type are treated as missing.
func unwrap(payload apphttp.Payload, singular, plural string) []map[string]any {
	if data, ok := payload["data"].(map[string]any); ok {
		if records, ok := asRecords(data[singular]); ok {
			return records
		}
	}
	if records, ok := asRecords(payload[plural]); ok {
		return records
	}
	return nil
}

func asRecords(v any) ([]map[string]any, bool) {
	switch value := v.(type) {
	case []any:
		return lo.FilterMap(value, func(item any, _ int) (map[string]any, bool) {
			record, ok := item.(map[string]any)
			return record, ok
		}), true
	case []map[string]any:
		return value, true
	case map[string]any:
		return []map[string]any{value}, true
	default:
		return nil, false
	}
}

// amountField reads "amount" as a scalar or as {amount, currency}. The
// nested currency is preferred over a sibling field.
func amountField(raw map[string]any) (string, string) {
	currency := stringField(raw, "", "currency")

	amount := "0"
	switch value := raw["amount"].(type) {
	case map[string]any:
		if inner, ok := scalarString(value["amount"]); ok && inner != "" {
			amount = inner
		}
		if inner, ok := value["currency"].(string); ok && inner != "" {
			currency = inner
		}
	default:
		if s, ok := scalarString(value); ok && s != "" {
			amount = s
		}
	}

	if currency == "" {
		currency = models.DefaultCurrency
	}
	return amount, currency
}

// stringField returns the first key present with a usable value
func stringField(raw map[string]any, fallback string, keys ...string) string {
	for _, key := range keys {
		if s, ok := scalarString(raw[key]); ok && s != "" {
			return s
		}
	}
	return fallback
}

func scalarString(v any) (string, bool) {
	switch value := v.(type) {
	case string:
		return value, true
	case json.Number:
		return value.String(), true
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64), true
	case int:
		return strconv.Itoa(value), true
	case int64:
		return strconv.FormatInt(value, 10), true
	case bool:
		return strconv.FormatBool(value), true
	default:
		return "", false
	}
}
