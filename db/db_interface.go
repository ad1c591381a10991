package db

import (
	"github.com/vpnda/sandwich-aggregate/pkg/models"
)

// DBInterface defines the interface for database operations
type DBInterface interface {
	Initialize() error
	Close() error

	UpsertLinkedAccount(clientID string, account *models.LinkedAccount) error
	GetLinkedAccounts(clientID string) ([]models.LinkedAccount, error)
	RemoveLinkedAccount(clientID, id string) (bool, error)

	GetConsentID(clientID, bank string) (string, error)
	SaveConsentID(clientID, bank, consentID string) error
	ClearConsentID(clientID, bank string) error
}

// Ensure DB implements DBInterface
var _ DBInterface = (*DB)(nil)

// Ensure MemoryDB implements DBInterface
var _ DBInterface = (*MemoryDB)(nil)
