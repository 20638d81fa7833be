package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Credential names recognized by the settings surface.
const (
	CredentialBearerToken   = "x_bearer_token"
	CredentialWeatherAPIKey = "weather_api_key"
	CredentialFinanceAPIKey = "finance_api_key"
)

// SetCredential stores a named API credential, encrypted at rest when
// encryption is enabled.
func (d *Database) SetCredential(ctx context.Context, name, value string) error {
	encrypted, err := d.encryptor.encrypt(value)
	if err != nil {
		return fmt.Errorf("failed to encrypt credential %s: %w", name, err)
	}

	_, err = d.db.ExecContext(ctx, `
		INSERT INTO credentials (name, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, name, encrypted, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save credential %s: %w", name, err)
	}
	return nil
}

// GetCredential returns the named credential, or an empty string when it
// has never been set.
func (d *Database) GetCredential(ctx context.Context, name string) (string, error) {
	var encrypted string
	err := d.db.QueryRowContext(ctx,
		"SELECT value FROM credentials WHERE name = ?", name,
	).Scan(&encrypted)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query credential %s: %w", name, err)
	}

	value, err := d.encryptor.decrypt(encrypted)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt credential %s: %w", name, err)
	}
	return value, nil
}

// CredentialStatus reports which credentials are present without exposing
// their values.
func (d *Database) CredentialStatus(ctx context.Context) (map[string]bool, error) {
	rows, err := d.db.QueryContext(ctx, "SELECT name FROM credentials")
	if err != nil {
		return nil, fmt.Errorf("failed to query credentials: %w", err)
	}
	defer rows.Close()

	status := map[string]bool{
		CredentialBearerToken:   false,
		CredentialWeatherAPIKey: false,
		CredentialFinanceAPIKey: false,
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan credential name: %w", err)
		}
		status[name] = true
	}
	return status, rows.Err()
}
