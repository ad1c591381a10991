package services

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/vpnda/sandwich-aggregate/pkg/models"
)

const (
	defaultCashbackValidity = 30 * 24 * time.Hour
	maxCategoryLength       = 50
)

var categoryPattern = regexp.MustCompile(`^[a-zA-Z0-9\s\-_]+$`)

// CashbackLedger keeps cashback bonuses in memory for the process lifetime
type CashbackLedger struct {
	mu      sync.RWMutex
	bonuses map[string][]models.CashbackBonus
	now     func() time.Time
}

func NewCashbackLedger() *CashbackLedger {
	return &CashbackLedger{
		bonuses: make(map[string][]models.CashbackBonus),
		now:     time.Now,
	}
}

// Activate records a bonus. A zero validUntil means 30 days from now.
func (l *CashbackLedger) Activate(clientID, category string, percent float64, validUntil time.Time) (*models.CashbackBonus, error) {
	clientID, err := ValidateClientID(clientID)
	if err != nil {
		return nil, err
	}
	category, err = normalizeCategory(category)
	if err != nil {
		return nil, err
	}
	if percent < 0 || percent > 100 {
		return nil, fmt.Errorf("%w: bonus percent %v must be between 0 and 100", ErrInvalidInput, percent)
	}

	now := l.now()
	if validUntil.IsZero() {
		validUntil = now.Add(defaultCashbackValidity)
	}
	if !validUntil.After(now) {
		return nil, fmt.Errorf("%w: valid_until is in the past", ErrInvalidInput)
	}

	bonus := models.CashbackBonus{
		ID:           uuid.NewString(),
		ClientID:     clientID,
		Category:     category,
		BonusPercent: percent,
		ValidUntil:   validUntil,
		ActivatedAt:  now,
	}

	l.mu.Lock()
	l.bonuses[clientID] = append(l.bonuses[clientID], bonus)
	l.mu.Unlock()

	log.Info().Str("client_id", clientID).Str("category", category).Float64("percent", percent).Msg("cashback activated")
	return &bonus, nil
}

// Active returns the client's bonuses that have not expired
func (l *CashbackLedger) Active(clientID string) ([]models.CashbackBonus, error) {
	clientID, err := ValidateClientID(clientID)
	if err != nil {
		return nil, err
	}

	now := l.now()
	l.mu.RLock()
	defer l.mu.RUnlock()
	return lo.Filter(l.bonuses[clientID], func(b models.CashbackBonus, _ int) bool {
		return b.ValidUntil.After(now)
	}), nil
}

// ForCategory returns the first active bonus on category, if any
func (l *CashbackLedger) ForCategory(clientID, category string) (*models.CashbackBonus, bool) {
	active, err := l.Active(clientID)
	if err != nil {
		return nil, false
	}
	bonus, ok := lo.Find(active, func(b models.CashbackBonus) bool {
		return strings.EqualFold(b.Category, strings.TrimSpace(category))
	})
	if !ok {
		return nil, false
	}
	return &bonus, true
}

func normalizeCategory(category string) (string, error) {
	category = strings.TrimSpace(category)
	if category == "" || len(category) > maxCategoryLength || !categoryPattern.MatchString(category) {
		return "", fmt.Errorf("%w: category %q", ErrInvalidInput, category)
	}
	return strings.ToLower(category), nil
}
