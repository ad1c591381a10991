package services

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/vpnda/sandwich-aggregate/pkg/models"
)

const (
	CategoryOther = "other"

	maxPeriodDays = 365
	topExpenses   = 5
)

type mccRange struct {
	from, to int
	category string
}

var mccCategories = []mccRange{
	{5411, 5412, "groceries"},
	{5812, 5814, "restaurants"},
	{5541, 5542, "gas"},
	{5912, 5912, "pharmacy"},
	{5311, 5311, "shopping"},
}

type keywordCategory struct {
	category string
	words    []string
}

var keywordCategories = []keywordCategory{
	{"groceries", []string{"магазин", "store", "супермаркет"}},
	{"restaurants", []string{"ресторан", "кафе", "restaurant", "cafe"}},
	{"gas", []string{"заправка", "gas", "бензин"}},
	{"pharmacy", []string{"аптека", "pharmacy"}},
	{"transport", []string{"транспорт", "transport", "метро", "metro"}},
	{"entertainment", []string{"развлечения", "entertainment", "кино", "cinema"}},
}

var bookingDateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

type snapshotter interface {
	Snapshot(ctx context.Context, clientID string, from, to time.Time) (*Snapshot, error)
}

// Analytics turns a client's snapshot into a spending summary
type Analytics struct {
	source snapshotter
	now    func() time.Time
}

func NewAnalytics(source snapshotter) *Analytics {
	return &Analytics{source: source, now: time.Now}
}

// ParsePeriod accepts "30d" or "30", between 1 and 365 days
func ParsePeriod(period string) (int, error) {
	period = strings.TrimSpace(strings.ToLower(period))
	if period == "" {
		return defaultPeriodDays, nil
	}
	days, err := strconv.Atoi(strings.TrimSuffix(period, "d"))
	if err != nil || days < 1 || days > maxPeriodDays {
		return 0, fmt.Errorf("%w: period %q must be 1d to %dd", ErrInvalidInput, period, maxPeriodDays)
	}
	return days, nil
}

func (s *Analytics) Summary(ctx context.Context, clientID string, periodDays int) (*models.Summary, error) {
	if periodDays < 1 || periodDays > maxPeriodDays {
		return nil, fmt.Errorf("%w: period of %d days", ErrInvalidInput, periodDays)
	}

	to := s.now()
	snapshot, err := s.source.Snapshot(ctx, clientID, to.AddDate(0, 0, -periodDays), to)
	if err != nil {
		return nil, err
	}

	byCategory := SpendingByCategory(snapshot.Transactions)
	summary := &models.Summary{
		NetWorth:           NetWorth(snapshot.Balances),
		TotalAccounts:      len(snapshot.Accounts),
		TotalSpending:      decimal.Sum(decimal.Zero, lo.Values(byCategory)...),
		SpendingByCategory: byCategory,
		TopExpenses:        TopCategories(byCategory, topExpenses),
		WeeklyTrend:        WeeklyTrend(snapshot.Transactions),
		PeriodDays:         periodDays,
		Placeholder:        snapshot.Placeholder,
	}
	return summary, nil
}

// NetWorth sums one balance per account, picked by balance type precedence
func NetWorth(balances []models.Balance) decimal.Decimal {
	total := decimal.Zero
	for _, b := range models.PreferredBalances(balances) {
		amount, err := b.AsAmount().Decimal()
		if err != nil {
			log.Debug().Err(err).Str("account_id", b.AccountID).Msg("skipping unparseable balance")
			continue
		}
		total = total.Add(amount)
	}
	return total
}

// Categorize picks a category from the MCC, then from description keywords
func Categorize(tx models.Transaction) string {
	if tx.MCC != nil {
		if mcc, err := strconv.Atoi(strings.TrimSpace(*tx.MCC)); err == nil {
			for _, r := range mccCategories {
				if mcc >= r.from && mcc <= r.to {
					return r.category
				}
			}
		}
	}

	description := strings.ToLower(lo.FromPtr(tx.Description))
	for _, kc := range keywordCategories {
		for _, word := range kc.words {
			if strings.Contains(description, word) {
				return kc.category
			}
		}
	}
	return CategoryOther
}

// SpendingByCategory sums outflows per category as positive amounts
func SpendingByCategory(transactions []models.Transaction) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for _, tx := range transactions {
		amount, ok := outflow(tx)
		if !ok {
			continue
		}
		category := Categorize(tx)
		out[category] = out[category].Add(amount)
	}
	return out
}

// TopCategories returns the n largest categories, ties broken by name
func TopCategories(byCategory map[string]decimal.Decimal, n int) []models.CategorySpending {
	out := lo.MapToSlice(byCategory, func(category string, amount decimal.Decimal) models.CategorySpending {
		return models.CategorySpending{Category: category, Amount: amount}
	})
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Amount.Cmp(out[j].Amount); c != 0 {
			return c > 0
		}
		return out[i].Category < out[j].Category
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// WeeklyTrend sums outflows per week, weeks starting on Monday, oldest first
func WeeklyTrend(transactions []models.Transaction) []models.WeeklySpending {
	weeks := make(map[string]decimal.Decimal)
	for _, tx := range transactions {
		amount, ok := outflow(tx)
		if !ok {
			continue
		}
		booked, ok := parseBookingDate(tx.BookingDate)
		if !ok {
			continue
		}
		offset := (int(booked.Weekday()) + 6) % 7
		week := booked.AddDate(0, 0, -offset).Format(time.DateOnly)
		weeks[week] = weeks[week].Add(amount)
	}

	keys := lo.Keys(weeks)
	sort.Strings(keys)
	return lo.Map(keys, func(week string, _ int) models.WeeklySpending {
		return models.WeeklySpending{Week: week, Spending: weeks[week]}
	})
}

// outflow returns the absolute amount of a negative transaction
func outflow(tx models.Transaction) (decimal.Decimal, bool) {
	amount, err := tx.AsAmount().Decimal()
	if err != nil || !amount.IsNegative() {
		return decimal.Zero, false
	}
	return amount.Abs(), true
}

func parseBookingDate(s string) (time.Time, bool) {
	for _, layout := range bookingDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
