package dedup

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statement-ingestion-service/internal/models"
	"statement-ingestion-service/pkg/errors"
)

func TestFingerprint(t *testing.T) {
	content := []byte("Date,Description,Amount\n01/15/2024,Coffee Shop,-4.50\n")
	want := sha256.Sum256(content)

	r := bytes.NewReader(content)
	fp, err := Fingerprint(r)
	require.NoError(t, err)

	assert.Equal(t, hex.EncodeToString(want[:]), fp)
	assert.Len(t, fp, FingerprintLength)

	rest, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, content, rest, "stream must be rewound after hashing")
}

func TestFingerprintIgnoresReadPosition(t *testing.T) {
	content := []byte("same bytes")
	a := bytes.NewReader(content)
	b := bytes.NewReader(content)
	_, err := b.Seek(4, io.SeekStart)
	require.NoError(t, err)

	fa, err := Fingerprint(a)
	require.NoError(t, err)
	fb, err := Fingerprint(b)
	require.NoError(t, err)
	assert.Equal(t, fa, fb)
}

func TestFingerprintDiffers(t *testing.T) {
	fa, err := Fingerprint(bytes.NewReader([]byte("a")))
	require.NoError(t, err)
	fb, err := Fingerprint(bytes.NewReader([]byte("b")))
	require.NoError(t, err)
	assert.NotEqual(t, fa, fb)
}

type fakeLookup struct {
	statements []*models.Statement
	err        error
}

func (f *fakeLookup) FindStatementByFingerprint(_ context.Context, userID, accountID, fingerprint string) (*models.Statement, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, s := range f.statements {
		if s.UserID == userID && s.AccountID == accountID && s.Fingerprint == fingerprint {
			return s, nil
		}
	}
	return nil, nil
}

func TestGuardScopedToAccount(t *testing.T) {
	owner := models.AccountContext{UserID: "u1", AccountID: "checking"}
	lookup := &fakeLookup{statements: []*models.Statement{
		models.NewStatement(owner, "jan.csv", models.SourceCSV, "fp1"),
	}}
	guard := NewGuard(lookup)
	ctx := context.Background()

	dup, err := guard.IsDuplicate(ctx, owner, "fp1")
	require.NoError(t, err)
	assert.True(t, dup)

	dup, err = guard.IsDuplicate(ctx, models.AccountContext{UserID: "u1", AccountID: "savings"}, "fp1")
	require.NoError(t, err)
	assert.False(t, dup, "same content under another account is not a duplicate")

	dup, err = guard.IsDuplicate(ctx, owner, "fp2")
	require.NoError(t, err)
	assert.False(t, dup)
}

func TestGuardLookupFailure(t *testing.T) {
	guard := NewGuard(&fakeLookup{err: fmt.Errorf("connection refused")})

	_, err := guard.IsDuplicate(context.Background(), models.AccountContext{UserID: "u", AccountID: "a"}, "fp")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeStoreUnavailable))
}
