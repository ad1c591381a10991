package db

import (
	"fmt"

	"github.com/vpnda/sandwich-aggregate/pkg/models"
)

func (db *DB) createLinkedAccountsTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS linked_accounts (
		client_id TEXT NOT NULL,
		id TEXT NOT NULL,
		bank TEXT NOT NULL,
		account_number TEXT NOT NULL,
		account_id TEXT,
		nickname TEXT,
		linked_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		active BOOLEAN DEFAULT true,
		PRIMARY KEY (client_id, id)
	)
	`

	_, err := db.Exec(query)
	if err != nil {
		return fmt.Errorf("failed to create linked_accounts table: %w", err)
	}
	return nil
}

// UpsertLinkedAccount saves a linked account, replacing one with the same id
func (db *DB) UpsertLinkedAccount(clientID string, account *models.LinkedAccount) error {
	query := `
	INSERT INTO linked_accounts (client_id, id, bank, account_number, account_id, nickname, linked_at, active)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(client_id, id)
	DO UPDATE SET
		bank = excluded.bank,
		account_number = excluded.account_number,
		account_id = excluded.account_id,
		nickname = excluded.nickname,
		linked_at = excluded.linked_at,
		active = excluded.active
	`

	_, err := db.Exec(query,
		clientID,
		account.ID,
		account.Bank,
		account.AccountNumber,
		account.AccountID,
		account.Nickname,
		account.LinkedAt.UTC(),
		account.Active,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert linked account: %w", err)
	}
	return nil
}

// GetLinkedAccounts returns every account linked by a client, oldest first
func (db *DB) GetLinkedAccounts(clientID string) ([]models.LinkedAccount, error) {
	query := `
	SELECT id, bank, account_number, COALESCE(account_id, ''), COALESCE(nickname, ''), linked_at, active
	FROM linked_accounts
	WHERE client_id = ?
	ORDER BY linked_at, id
	`

	rows, err := db.Query(query, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to query linked accounts: %w", err)
	}
	defer rows.Close()

	var accounts []models.LinkedAccount
	for rows.Next() {
		var account models.LinkedAccount
		if err := rows.Scan(
			&account.ID,
			&account.Bank,
			&account.AccountNumber,
			&account.AccountID,
			&account.Nickname,
			&account.LinkedAt,
			&account.Active,
		); err != nil {
			return nil, fmt.Errorf("failed to scan linked account: %w", err)
		}
		accounts = append(accounts, account)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating linked accounts: %w", err)
	}
	return accounts, nil
}

// RemoveLinkedAccount deletes a linked account. It reports false when the
// client had no such account.
func (db *DB) RemoveLinkedAccount(clientID, id string) (bool, error) {
	result, err := db.Exec(`DELETE FROM linked_accounts WHERE client_id = ? AND id = ?`, clientID, id)
	if err != nil {
		return false, fmt.Errorf("failed to remove linked account: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}
