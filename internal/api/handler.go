// Package api exposes statement upload and transaction listing over HTTP.
package api

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/shopspring/decimal"

	"statement-ingestion-service/internal/ingest"
	"statement-ingestion-service/internal/models"
	"statement-ingestion-service/pkg/errors"
	"statement-ingestion-service/pkg/logger"
)

// UserHeader carries the authenticated user ID. Authentication itself is
// done upstream.
const UserHeader = "X-User-ID"

// MaxUploadSize is the largest accepted request body (32MB)
const MaxUploadSize = 32 << 20

// Importer runs the upload workflow
type Importer interface {
	Import(ctx context.Context, upload ingest.Upload, owner models.AccountContext) (*models.ImportOutcome, error)
}

// StatementReader reads stored statements and their transactions
type StatementReader interface {
	GetStatement(ctx context.Context, id string) (*models.Statement, error)
	ListTransactions(ctx context.Context, statementID string) ([]models.NormalizedTransaction, error)
}

// UploadResponse is the JSON response of the upload endpoint
type UploadResponse struct {
	Success bool                  `json:"success"`
	Status  string                `json:"status"`
	Summary string                `json:"summary,omitempty"`
	Error   string                `json:"error,omitempty"`
	Code    string                `json:"code,omitempty"`
	Outcome *models.ImportOutcome `json:"outcome,omitempty"`
}

// TransactionsResponse is the JSON response of the transaction listing
type TransactionsResponse struct {
	Success      bool                           `json:"success"`
	Error        string                         `json:"error,omitempty"`
	Statement    *models.Statement              `json:"statement,omitempty"`
	Transactions []models.NormalizedTransaction `json:"transactions"`
	Count        int                            `json:"count"`
	TotalInflow  decimal.Decimal                `json:"totalInflow"`
	TotalOutflow decimal.Decimal                `json:"totalOutflow"`
}

// Handler holds the HTTP handlers for the API
type Handler struct {
	importer   Importer
	statements StatementReader
	version    string
	logger     logger.Logger
}

// NewHandler creates the API handlers
func NewHandler(importer Importer, statements StatementReader, version string) *Handler {
	return &Handler{
		importer:   importer,
		statements: statements,
		version:    version,
		logger:     logger.GetGlobalLogger().WithComponent("api"),
	}
}

// NewApp builds a fiber app with the API routes registered. Request values
// are immutable because owner IDs outlive the request in the store.
func NewApp(h *Handler) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "statement-ingester",
		BodyLimit:             MaxUploadSize,
		DisableStartupMessage: true,
		ErrorHandler:          h.handleError,
		Immutable:             true,
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Content-Type, " + UserHeader,
	}))
	app.Use(h.logRequests)
	h.RegisterRoutes(app)
	return app
}

// RegisterRoutes sets up the HTTP routes
func (h *Handler) RegisterRoutes(app *fiber.App) {
	app.Get("/api/health", h.HandleHealth)
	app.Post("/api/accounts/:accountID/statements", h.HandleUpload)
	app.Get("/api/statements/:statementID/transactions", h.HandleTransactions)
}

// HandleHealth reports liveness
func (h *Handler) HandleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "ok",
		"engine":  "fiber",
		"version": h.version,
	})
}

// HandleUpload ingests one multipart-uploaded statement file into the
// account named in the path
func (h *Handler) HandleUpload(c *fiber.Ctx) error {
	userID := strings.TrimSpace(c.Get(UserHeader))
	if userID == "" {
		return writeUploadError(c, fiber.StatusBadRequest, "missing "+UserHeader+" header")
	}

	header, err := c.FormFile("file")
	if err != nil {
		return writeUploadError(c, fiber.StatusBadRequest, "No file uploaded. Use form field 'file'.")
	}
	file, err := header.Open()
	if err != nil {
		return writeUploadError(c, fiber.StatusBadRequest, fmt.Sprintf("Failed to read upload: %v", err))
	}
	defer file.Close()

	owner := models.AccountContext{UserID: userID, AccountID: c.Params("accountID")}
	outcome, err := h.importer.Import(c.UserContext(), ingest.Upload{
		Filename: header.Filename,
		Body:     file,
	}, owner)

	resp := UploadResponse{Outcome: outcome}
	if outcome != nil {
		resp.Status = outcome.Status()
		resp.Summary = outcome.Summary()
	}
	if err != nil {
		status := statusFor(err)
		resp.Error = errors.Describe(err)
		resp.Code = codeOf(err)
		if resp.Status == "" {
			resp.Status = "failed"
		}
		if status == fiber.StatusNotFound {
			resp.Outcome = nil
		}
		h.logger.WithError(err).WithFields(logger.Fields{
			"user_id":    owner.UserID,
			"account_id": owner.AccountID,
			"file":       header.Filename,
			"status":     status,
		}).Warn("Upload failed")
		return c.Status(status).JSON(resp)
	}

	resp.Success = true
	return c.JSON(resp)
}

// HandleTransactions lists the committed transactions of a statement owned
// by the requesting user
func (h *Handler) HandleTransactions(c *fiber.Ctx) error {
	userID := strings.TrimSpace(c.Get(UserHeader))
	if userID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(TransactionsResponse{
			Error:        "missing " + UserHeader + " header",
			Transactions: []models.NormalizedTransaction{},
		})
	}

	ctx := c.UserContext()
	statementID := c.Params("statementID")
	statement, err := h.statements.GetStatement(ctx, statementID)
	if err == nil && statement.UserID != userID {
		// Other users' statements are indistinguishable from missing ones.
		err = errors.StorageError(errors.CodeNotFound, "statement "+statementID, nil)
	}
	if err != nil {
		return c.Status(statusFor(err)).JSON(TransactionsResponse{
			Error:        errors.Describe(err),
			Transactions: []models.NormalizedTransaction{},
		})
	}

	txs, err := h.statements.ListTransactions(ctx, statementID)
	if err != nil {
		return c.Status(statusFor(err)).JSON(TransactionsResponse{
			Error:        errors.Describe(err),
			Transactions: []models.NormalizedTransaction{},
		})
	}
	if txs == nil {
		txs = []models.NormalizedTransaction{}
	}

	inflow, outflow := decimal.Zero, decimal.Zero
	for _, tx := range txs {
		if tx.Amount.IsPositive() {
			inflow = inflow.Add(tx.Amount)
		} else {
			outflow = outflow.Add(tx.Amount)
		}
	}

	return c.JSON(TransactionsResponse{
		Success:      true,
		Statement:    statement,
		Transactions: txs,
		Count:        len(txs),
		TotalInflow:  inflow,
		TotalOutflow: outflow,
	})
}

func (h *Handler) handleError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	if fe, ok := err.(*fiber.Error); ok {
		status = fe.Code
	}
	if status >= fiber.StatusInternalServerError {
		h.logger.WithError(err).WithField("path", c.Path()).Error("Request failed")
	}
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"error":   err.Error(),
	})
}

func (h *Handler) logRequests(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	h.logger.WithFields(logger.Fields{
		"method":   c.Method(),
		"path":     c.Path(),
		"status":   c.Response().StatusCode(),
		"duration": time.Since(start).String(),
	}).Debug("Request handled")
	return err
}

// statusFor maps an ingestion error onto an HTTP status
func statusFor(err error) int {
	ie, ok := errors.AsIngestError(err)
	if !ok {
		return fiber.StatusInternalServerError
	}
	if ie.Code == errors.CodeNotFound {
		return fiber.StatusNotFound
	}
	switch ie.Category {
	case errors.CategoryStorage, errors.CategoryInternal:
		return fiber.StatusInternalServerError
	case errors.CategoryValidation:
		if ie.Code == errors.CodeMissingField {
			return fiber.StatusBadRequest
		}
		return fiber.StatusUnprocessableEntity
	default:
		return fiber.StatusUnprocessableEntity
	}
}

func codeOf(err error) string {
	if ie, ok := errors.AsIngestError(err); ok {
		return string(ie.Code)
	}
	return ""
}

func writeUploadError(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(UploadResponse{
		Status: "failed",
		Error:  msg,
	})
}
