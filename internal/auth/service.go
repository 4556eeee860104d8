package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"

	"github.com/trakhq/trak/internal/store"
	"github.com/trakhq/trak/pkg/models"
)

var ErrInvalidKey = errors.New("invalid api key")

// Service issues and verifies credentials against the durable store.
type Service struct {
	store  *store.Store
	logger *slog.Logger
}

// NewService constructs a credential service.
func NewService(st *store.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, logger: logger.With("component", "auth")}
}

// CreateKey mints a new key scoped to an optional project. The plaintext
// is returned exactly once; only its digest is stored.
func (s *Service) CreateKey(ctx context.Context, name, projectID string) (string, *models.Credential, error) {
	plaintext, err := GenerateKey()
	if err != nil {
		return "", nil, err
	}
	cred, err := s.store.CreateCredential(ctx, HashKey(plaintext), name, projectID)
	if err != nil {
		return "", nil, err
	}
	s.logger.Info("api key created", "id", cred.ID, "name", name)
	return plaintext, cred, nil
}

// Verify resolves a plaintext bearer token to its credential.
//
// The digest comparison is constant time even after the store lookup, and
// a miss still executes a self-compare, so verification timing does not
// reveal whether a key exists or was revoked.
func (s *Service) Verify(ctx context.Context, plaintext string) (*models.Credential, error) {
	if !ValidKeyFormat(plaintext) {
		return nil, ErrInvalidKey
	}
	hash := HashKey(plaintext)
	cred, err := s.store.CredentialByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	stored := hash
	if cred != nil {
		stored = cred.KeyHash
	}
	if subtle.ConstantTimeCompare([]byte(hash), []byte(stored)) != 1 || cred == nil {
		return nil, ErrInvalidKey
	}
	if err := s.store.TouchCredential(ctx, cred.ID); err != nil {
		// Auth already succeeded; a bookkeeping failure is not fatal.
		s.logger.Warn("failed to update key last-used", "id", cred.ID, "error", err)
	}
	return cred, nil
}

// Revoke soft-revokes a credential by id.
func (s *Service) Revoke(ctx context.Context, id int64) error {
	return s.store.RevokeCredential(ctx, id)
}

// List returns all credentials; activeOnly filters out revoked ones.
func (s *Service) List(ctx context.Context, activeOnly bool) ([]*models.Credential, error) {
	return s.store.ListCredentials(ctx, activeOnly)
}

// GetByID returns one credential regardless of revocation, or nil.
func (s *Service) GetByID(ctx context.Context, id int64) (*models.Credential, error) {
	return s.store.CredentialByID(ctx, id)
}
