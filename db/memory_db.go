package db

import (
	"sync"

	"github.com/vpnda/sandwich-aggregate/pkg/models"
)

type consentKey struct {
	clientID string
	bank     string
}

// MemoryDB keeps linked accounts and consent ids for the lifetime of the
// process. It is the default store and doubles as a test double: the ...Err
// fields make the matching method fail.
type MemoryDB struct {
	mu       sync.RWMutex
	linked   map[string][]models.LinkedAccount
	consents map[consentKey]string

	// Error values to return
	UpsertLinkedAccountErr error
	GetLinkedAccountsErr   error
	RemoveLinkedAccountErr error
	GetConsentIDErr        error
	SaveConsentIDErr       error
	ClearConsentIDErr      error
}

func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		linked:   make(map[string][]models.LinkedAccount),
		consents: make(map[consentKey]string),
	}
}

func (m *MemoryDB) Initialize() error {
	return nil
}

func (m *MemoryDB) Close() error {
	return nil
}

// UpsertLinkedAccount replaces an account with the same id in place, so the
// original linking order is kept
func (m *MemoryDB) UpsertLinkedAccount(clientID string, account *models.LinkedAccount) error {
	if m.UpsertLinkedAccountErr != nil {
		return m.UpsertLinkedAccountErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	accounts := m.linked[clientID]
	for i := range accounts {
		if accounts[i].ID == account.ID {
			accounts[i] = *account
			return nil
		}
	}
	m.linked[clientID] = append(accounts, *account)
	return nil
}

func (m *MemoryDB) GetLinkedAccounts(clientID string) ([]models.LinkedAccount, error) {
	if m.GetLinkedAccountsErr != nil {
		return nil, m.GetLinkedAccountsErr
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	accounts := m.linked[clientID]
	if len(accounts) == 0 {
		return nil, nil
	}
	out := make([]models.LinkedAccount, len(accounts))
	copy(out, accounts)
	return out, nil
}

func (m *MemoryDB) RemoveLinkedAccount(clientID, id string) (bool, error) {
	if m.RemoveLinkedAccountErr != nil {
		return false, m.RemoveLinkedAccountErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	accounts := m.linked[clientID]
	for i := range accounts {
		if accounts[i].ID == id {
			m.linked[clientID] = append(accounts[:i:i], accounts[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryDB) GetConsentID(clientID, bank string) (string, error) {
	if m.GetConsentIDErr != nil {
		return "", m.GetConsentIDErr
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.consents[consentKey{clientID, bank}], nil
}

func (m *MemoryDB) SaveConsentID(clientID, bank, consentID string) error {
	if m.SaveConsentIDErr != nil {
		return m.SaveConsentIDErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.consents[consentKey{clientID, bank}] = consentID
	return nil
}

func (m *MemoryDB) ClearConsentID(clientID, bank string) error {
	if m.ClearConsentIDErr != nil {
		return m.ClearConsentIDErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.consents, consentKey{clientID, bank})
	return nil
}
