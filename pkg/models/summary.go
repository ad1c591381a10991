package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type CategorySpending struct {
	Category string          `json:"category"`
	Amount   decimal.Decimal `json:"amount"`
}

type WeeklySpending struct {
	Week     string          `json:"week"`
	Spending decimal.Decimal `json:"spending"`
}

// Summary is the dashboard view of a client's finances over a period
type Summary struct {
	NetWorth           decimal.Decimal            `json:"net_worth"`
	TotalAccounts      int                        `json:"total_accounts"`
	TotalSpending      decimal.Decimal            `json:"total_spending"`
	SpendingByCategory map[string]decimal.Decimal `json:"spending_by_category"`
	TopExpenses        []CategorySpending         `json:"top_expenses"`
	WeeklyTrend        []WeeklySpending           `json:"weekly_trend"`
	PeriodDays         int                        `json:"period_days"`
	Placeholder        bool                       `json:"is_demo"`
}

// CashbackBonus is an extra cashback percentage on one spending category
type CashbackBonus struct {
	ID           string    `json:"id"`
	ClientID     string    `json:"client_id"`
	Category     string    `json:"category"`
	BonusPercent float64   `json:"bonus_percent"`
	ValidUntil   time.Time `json:"valid_until"`
	ActivatedAt  time.Time `json:"activated_at"`
}
