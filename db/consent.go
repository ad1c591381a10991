package db

import (
	"database/sql"
	"errors"
	"fmt"
)

func (db *DB) createConsentsTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS consents (
		client_id TEXT NOT NULL,
		bank TEXT NOT NULL,
		consent_id TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (client_id, bank)
	)
	`

	_, err := db.Exec(query)
	if err != nil {
		return fmt.Errorf("failed to create consents table: %w", err)
	}
	return nil
}

// GetConsentID returns the stored consent id, or "" when there is none
func (db *DB) GetConsentID(clientID, bank string) (string, error) {
	var consentID string
	err := db.QueryRow(`SELECT consent_id FROM consents WHERE client_id = ? AND bank = ?`, clientID, bank).Scan(&consentID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	} else if err != nil {
		return "", fmt.Errorf("failed to get consent: %w", err)
	}
	return consentID, nil
}

func (db *DB) SaveConsentID(clientID, bank, consentID string) error {
	query := `
	INSERT INTO consents (client_id, bank, consent_id, created_at)
	VALUES (?, ?, ?, CURRENT_TIMESTAMP)
	ON CONFLICT(client_id, bank)
	DO UPDATE SET
		consent_id = excluded.consent_id,
		created_at = CURRENT_TIMESTAMP
	`

	if _, err := db.Exec(query, clientID, bank, consentID); err != nil {
		return fmt.Errorf("failed to save consent: %w", err)
	}
	return nil
}

func (db *DB) ClearConsentID(clientID, bank string) error {
	if _, err := db.Exec(`DELETE FROM consents WHERE client_id = ? AND bank = ?`, clientID, bank); err != nil {
		return fmt.Errorf("failed to clear consent: %w", err)
	}
	return nil
}
