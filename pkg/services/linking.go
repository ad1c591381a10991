package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/vpnda/sandwich-aggregate/pkg/models"
	"github.com/vpnda/sandwich-aggregate/pkg/utils"
)

// LinkedAccountStore persists the accounts clients link by hand
type LinkedAccountStore interface {
	UpsertLinkedAccount(clientID string, account *models.LinkedAccount) error
	GetLinkedAccounts(clientID string) ([]models.LinkedAccount, error)
	RemoveLinkedAccount(clientID, id string) (bool, error)
}

type LinkingService struct {
	store LinkedAccountStore
	banks []string
	now   func() time.Time
}

func NewLinkingService(store LinkedAccountStore, banks []string) *LinkingService {
	return &LinkingService{
		store: store,
		banks: banks,
		now:   time.Now,
	}
}

type LinkRequest struct {
	Bank          string `json:"bank"`
	AccountNumber string `json:"account_number"`
	AccountID     string `json:"account_id,omitempty"`
	Nickname      string `json:"nickname,omitempty"`
}

// Link declares an account for a client. Linking the same bank and number
// again updates the existing entry.
func (s *LinkingService) Link(clientID string, req LinkRequest) (*models.LinkedAccount, error) {
	clientID, err := ValidateClientID(clientID)
	if err != nil {
		return nil, err
	}
	bank, err := ValidateBank(req.Bank, s.banks)
	if err != nil {
		return nil, err
	}
	number := strings.TrimSpace(req.AccountNumber)
	if number == "" {
		return nil, fmt.Errorf("%w: account number is required", ErrInvalidInput)
	}

	nickname := strings.TrimSpace(req.Nickname)
	if nickname == "" {
		nickname = utils.Upper(bank) + " Account"
	}

	account := &models.LinkedAccount{
		ID:            bank + "-" + number,
		Bank:          bank,
		AccountNumber: number,
		AccountID:     strings.TrimSpace(req.AccountID),
		Nickname:      nickname,
		LinkedAt:      s.now().UTC(),
		Active:        true,
	}
	if err := s.store.UpsertLinkedAccount(clientID, account); err != nil {
		return nil, fmt.Errorf("failed to link account: %w", err)
	}

	log.Info().Str("client_id", clientID).Str("bank", bank).Str("id", account.ID).Msg("account linked")
	return account, nil
}

func (s *LinkingService) Linked(clientID string) ([]models.LinkedAccount, error) {
	clientID, err := ValidateClientID(clientID)
	if err != nil {
		return nil, err
	}
	accounts, err := s.store.GetLinkedAccounts(clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to get linked accounts: %w", err)
	}
	return accounts, nil
}

// Unlink removes a linked account and reports whether it existed
func (s *LinkingService) Unlink(clientID, id string) (bool, error) {
	clientID, err := ValidateClientID(clientID)
	if err != nil {
		return false, err
	}
	removed, err := s.store.RemoveLinkedAccount(clientID, id)
	if err != nil {
		return false, fmt.Errorf("failed to unlink account: %w", err)
	}
	if removed {
		log.Info().Str("client_id", clientID).Str("id", id).Msg("account unlinked")
	}
	return removed, nil
}

// active returns the client's active links, limited to banks when given
func (s *LinkingService) active(clientID string, banks []string) ([]models.LinkedAccount, error) {
	accounts, err := s.store.GetLinkedAccounts(clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to get linked accounts: %w", err)
	}
	return lo.Filter(accounts, func(l models.LinkedAccount, _ int) bool {
		return l.Active && (banks == nil || lo.Contains(banks, l.Bank))
	}), nil
}

// BanksFor returns the distinct banks of a client's active links in the
// order they were linked
func (s *LinkingService) BanksFor(clientID string) ([]string, error) {
	accounts, err := s.active(clientID, nil)
	if err != nil {
		return nil, err
	}
	return lo.Uniq(lo.Map(accounts, func(l models.LinkedAccount, _ int) string {
		return l.Bank
	})), nil
}
