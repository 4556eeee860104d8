package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/trakhq/trak/pkg/models"
)

// CreateCredential inserts a credential record for an already-hashed key.
func (s *Store) CreateCredential(ctx context.Context, keyHash, name, projectID string) (*models.Credential, error) {
	createdAt := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO credentials (key_hash, name, project_id, created_at) VALUES (?, ?, ?, ?)`,
		keyHash, name, nullString(projectID), formatTime(createdAt))
	if err != nil {
		return nil, fmt.Errorf("insert credential: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("insert credential id: %w", err)
	}
	return &models.Credential{
		ID:        id,
		KeyHash:   keyHash,
		Name:      name,
		ProjectID: projectID,
		CreatedAt: createdAt,
	}, nil
}

const credentialColumns = `id, key_hash, name, project_id, created_at, last_used_at, revoked_at`

// CredentialByHash looks up a non-revoked credential by its digest.
// Returns nil when no live credential matches.
func (s *Store) CredentialByHash(ctx context.Context, keyHash string) (*models.Credential, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM credentials
		 WHERE key_hash = ? AND revoked_at IS NULL`, keyHash)
	cred, err := scanCredential(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return cred, err
}

// CredentialByID returns a credential regardless of revocation state, or
// nil when absent.
func (s *Store) CredentialByID(ctx context.Context, id int64) (*models.Credential, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE id = ?`, id)
	cred, err := scanCredential(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return cred, err
}

// TouchCredential updates last_used_at to now.
func (s *Store) TouchCredential(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE credentials SET last_used_at = ? WHERE id = ?`,
		formatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("touch credential: %w", err)
	}
	return nil
}

// RevokeCredential soft-revokes a credential. Already-revoked records
// keep their original revocation time.
func (s *Store) RevokeCredential(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE credentials SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`,
		formatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("revoke credential: %w", err)
	}
	return nil
}

// ListCredentials returns credentials ordered by creation; activeOnly
// filters out revoked records.
func (s *Store) ListCredentials(ctx context.Context, activeOnly bool) ([]*models.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM credentials`
	if activeOnly {
		query += ` WHERE revoked_at IS NULL`
	}
	query += ` ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var out []*models.Credential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cred)
	}
	return out, rows.Err()
}

func scanCredential(row rowScanner) (*models.Credential, error) {
	var (
		cred                  models.Credential
		projectID             sql.NullString
		createdAt             string
		lastUsedAt, revokedAt sql.NullString
	)
	err := row.Scan(&cred.ID, &cred.KeyHash, &cred.Name, &projectID, &createdAt, &lastUsedAt, &revokedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan credential: %w", err)
	}
	cred.ProjectID = projectID.String
	if cred.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if lastUsedAt.Valid {
		t, err := parseTime(lastUsedAt.String)
		if err != nil {
			return nil, err
		}
		cred.LastUsedAt = &t
	}
	if revokedAt.Valid {
		t, err := parseTime(revokedAt.String)
		if err != nil {
			return nil, err
		}
		cred.RevokedAt = &t
	}
	return &cred, nil
}
