package ingest

import (
	"context"
	"fmt"
	"io"
	"strings"

	"statement-ingestion-service/internal/dedup"
	"statement-ingestion-service/internal/models"
	"statement-ingestion-service/pkg/errors"
	"statement-ingestion-service/pkg/logger"
)

// DuplicatePolicy decides what happens when a file was already imported to
// the same account
type DuplicatePolicy string

const (
	// DuplicateReject reports the duplicate and ingests nothing
	DuplicateReject DuplicatePolicy = "reject"
	// DuplicateReplace re-ingests into the existing statement, replacing its
	// transactions
	DuplicateReplace DuplicatePolicy = "replace"
)

// ParseDuplicatePolicy validates a configured policy name
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch DuplicatePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", DuplicateReject:
		return DuplicateReject, nil
	case DuplicateReplace:
		return DuplicateReplace, nil
	default:
		return "", errors.ConfigurationError(errors.CodeInvalidConfig, "duplicate_policy", s,
			fmt.Errorf("must be %q or %q", DuplicateReject, DuplicateReplace))
	}
}

// StatementStore is the persistence the upload workflow needs
type StatementStore interface {
	dedup.FingerprintLookup
	TransactionCommitter
	CreateStatement(ctx context.Context, statement *models.Statement) error
	UpdateStatement(ctx context.Context, statement *models.Statement) error
}

// Upload is one uploaded statement file
type Upload struct {
	Filename string
	Body     io.ReadSeeker
}

// Service runs the upload workflow: classify, fingerprint, duplicate check,
// statement record, ingestion and metadata write-back
type Service struct {
	store    StatementStore
	mappings MappingLookup
	guard    *dedup.Guard
	ingestor *Ingestor
	policy   DuplicatePolicy
	logger   logger.Logger
}

// ServiceOption configures a Service
type ServiceOption func(*Service)

// WithDuplicatePolicy sets the duplicate policy; the default is reject
func WithDuplicatePolicy(policy DuplicatePolicy) ServiceOption {
	return func(s *Service) {
		s.policy = policy
	}
}

// WithIngestorOptions configures the ingestor the service builds
func WithIngestorOptions(opts ...Option) ServiceOption {
	return func(s *Service) {
		s.ingestor = NewIngestor(s.store, opts...)
	}
}

// NewService wires the workflow over a store and a mapping lookup
func NewService(store StatementStore, mappings MappingLookup, opts ...ServiceOption) *Service {
	s := &Service{
		store:    store,
		mappings: mappings,
		guard:    dedup.NewGuard(store),
		ingestor: NewIngestor(store),
		policy:   DuplicateReject,
		logger:   logger.GetGlobalLogger().WithComponent("service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Import ingests one uploaded file for the owner's account. The returned
// outcome always carries a terminal state; the error, when set, is an
// IngestError describing the failure.
func (s *Service) Import(ctx context.Context, upload Upload, owner models.AccountContext) (*models.ImportOutcome, error) {
	sourceType := models.ClassifySource(upload.Filename)
	op := logger.NewOperationLogger("import", s.logger).WithFields(logger.Fields{
		"file":        upload.Filename,
		"source_type": sourceType.String(),
		"user_id":     owner.UserID,
		"account_id":  owner.AccountID,
	})

	failed := func(err error) (*models.ImportOutcome, error) {
		outcome := models.NewImportOutcome("", 0)
		outcome.Filename = upload.Filename
		outcome.SourceType = sourceType
		outcome.Fail(err)
		op.Error(err, "Import failed")
		return outcome, err
	}

	if err := owner.Validate(); err != nil {
		return failed(errors.ValidationError(errors.CodeMissingField, "owner", owner.UserID+"/"+owner.AccountID, err))
	}

	src, err := s.mappings.MappingFor(ctx, owner)
	if err != nil {
		return failed(err)
	}

	op.Step("fingerprint")
	fingerprint, err := dedup.Fingerprint(upload.Body)
	if err != nil {
		return failed(err)
	}

	statement, existing, err := s.prepareStatement(ctx, upload.Filename, sourceType, fingerprint, owner)
	if err != nil {
		return failed(err)
	}
	if statement == nil {
		return s.duplicateOutcome(upload.Filename, sourceType, existing, src.Version, op), nil
	}
	reimport := existing != nil
	owner.StatementID = statement.ID
	op.WithField("statement_id", statement.ID)

	var (
		outcome   *models.ImportOutcome
		ingestErr error
	)
	if sourceType == models.SourcePDF {
		op.Step("pdf page count")
		outcome = s.referenceOnly(upload, statement.ID, src.Version)
	} else {
		op.Step("ingest")
		_, outcome, ingestErr = s.ingestor.Ingest(ctx, Input{
			Name:       upload.Filename,
			SourceType: sourceType,
			Body:       upload.Body,
		}, src, owner)
	}
	if reimport {
		outcome.AddWarning("statement %s was already imported; its transactions were replaced", statement.ID)
	}

	if reimport && ingestErr != nil {
		// A failed re-import keeps the previous batch and metadata.
		op.Error(ingestErr, "Re-import failed; previous import kept")
		return outcome, ingestErr
	}

	statement.ApplyOutcome(outcome)
	if err := s.store.UpdateStatement(ctx, statement); err != nil {
		err = errors.WrapIfNeeded(err, errors.CategoryStorage, errors.CodeStoreUnavailable, "statement update failed")
		op.Error(err, "Statement metadata update failed")
		if ingestErr != nil {
			return outcome, ingestErr
		}
		return outcome, err
	}

	if ingestErr != nil {
		op.Error(ingestErr, "Import failed")
		return outcome, ingestErr
	}
	op.WithFields(logger.Fields{
		"status":        outcome.Status(),
		"rows_seen":     outcome.RowsSeen,
		"rows_imported": outcome.RowsImported,
	}).Success("Import finished")
	return outcome, nil
}

// prepareStatement creates the statement record. When the fingerprint is
// already stored it returns the existing statement as well: under the replace
// policy that statement is reused, otherwise the returned statement is nil.
func (s *Service) prepareStatement(ctx context.Context, filename string, sourceType models.SourceType, fingerprint string, owner models.AccountContext) (*models.Statement, *models.Statement, error) {
	existing, err := s.guard.Existing(ctx, owner, fingerprint)
	if err != nil {
		return nil, nil, err
	}
	if existing != nil {
		if s.policy == DuplicateReplace {
			return existing, existing, nil
		}
		return nil, existing, nil
	}

	statement := models.NewStatement(owner, filename, sourceType, fingerprint)
	if err := s.store.CreateStatement(ctx, statement); err != nil {
		if errors.HasCode(err, errors.CodeDuplicateStatement) {
			// Lost a race with a concurrent upload of the same file.
			return s.prepareStatement(ctx, filename, sourceType, fingerprint, owner)
		}
		return nil, nil, errors.WrapIfNeeded(err, errors.CategoryStorage, errors.CodeStoreUnavailable, "statement create failed")
	}
	return statement, nil, nil
}

func (s *Service) duplicateOutcome(filename string, sourceType models.SourceType, existing *models.Statement, version int, op *logger.OperationLogger) *models.ImportOutcome {
	outcome := models.NewImportOutcome(existing.ID, version)
	outcome.Filename = filename
	outcome.SourceType = sourceType
	outcome.Duplicate = true
	outcome.ParsedOK = existing.ParsedOK
	outcome.ParseError = existing.ParseError
	outcome.MappingVersionUsed = existing.MappingVersionUsed
	outcome.AddWarning("this file was already uploaded to account %s on %s as statement %s",
		existing.AccountID, existing.UploadedAt.Format("2006-01-02"), existing.ID)

	op.WithField("statement_id", existing.ID).Warning("Duplicate upload rejected")
	return outcome
}

// referenceOnly finalizes a PDF upload that is stored but not parsed
func (s *Service) referenceOnly(upload Upload, statementID string, version int) *models.ImportOutcome {
	outcome := models.NewImportOutcome(statementID, version)
	outcome.Filename = upload.Filename
	outcome.SourceType = models.SourcePDF

	pages, err := PDFPageCount(upload.Body)
	if err != nil {
		s.logger.WithError(err).WithField("file", upload.Filename).Warn("Could not read PDF page count")
		outcome.AddWarning("could not read PDF page count: %v", err)
	}
	outcome.PageCount = pages
	outcome.MarkReferenceOnly(PDFReferenceNote)
	return outcome
}
