// Package dedup detects re-uploads of identical statement files.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"

	"statement-ingestion-service/internal/models"
	"statement-ingestion-service/pkg/errors"
	"statement-ingestion-service/pkg/logger"
)

// FingerprintLength is the length of a hex fingerprint
const FingerprintLength = sha256.Size * 2

// Fingerprint streams the whole file through SHA-256 and rewinds it so the
// caller can read it again. The digest depends only on the bytes.
func Fingerprint(r io.ReadSeeker) (string, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return "", errors.FileError(errors.CodeFileCorrupted, "upload", err)
	}

	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", errors.FileError(errors.CodeFileCorrupted, "upload", err)
	}

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return "", errors.FileError(errors.CodeFileCorrupted, "upload", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// FingerprintLookup finds a stored statement by fingerprint within one
// user and account. It returns nil without error when none exists.
type FingerprintLookup interface {
	FindStatementByFingerprint(ctx context.Context, userID, accountID, fingerprint string) (*models.Statement, error)
}

// Guard answers whether an upload was already ingested
type Guard struct {
	lookup FingerprintLookup
	logger logger.Logger
}

// NewGuard creates a guard over a statement lookup
func NewGuard(lookup FingerprintLookup) *Guard {
	return &Guard{
		lookup: lookup,
		logger: logger.GetGlobalLogger().WithComponent("dedup"),
	}
}

// IsDuplicate reports whether the fingerprint is already stored for the same
// user and account. The same content under another account is not a duplicate.
func (g *Guard) IsDuplicate(ctx context.Context, owner models.AccountContext, fingerprint string) (bool, error) {
	existing, err := g.Existing(ctx, owner, fingerprint)
	if err != nil {
		return false, err
	}
	return existing != nil, nil
}

// Existing returns the stored statement with this fingerprint, if any
func (g *Guard) Existing(ctx context.Context, owner models.AccountContext, fingerprint string) (*models.Statement, error) {
	existing, err := g.lookup.FindStatementByFingerprint(ctx, owner.UserID, owner.AccountID, fingerprint)
	if err != nil {
		return nil, errors.WrapIfNeeded(err, errors.CategoryStorage, errors.CodeStoreUnavailable, "duplicate check failed")
	}

	if existing != nil {
		g.logger.WithFields(logger.Fields{
			"user_id":      owner.UserID,
			"account_id":   owner.AccountID,
			"fingerprint":  fingerprint,
			"statement_id": existing.ID,
		}).Info("Statement fingerprint already imported")
	}
	return existing, nil
}
