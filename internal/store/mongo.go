package store

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"statement-ingestion-service/internal/models"
	"statement-ingestion-service/pkg/errors"
	"statement-ingestion-service/pkg/logger"
)

const (
	statementsCollection   = "statements"
	transactionsCollection = "transactions"
)

type statementDoc struct {
	ID                 string    `bson:"_id"`
	UserID             string    `bson:"user_id"`
	AccountID          string    `bson:"account_id"`
	SourceType         string    `bson:"source_type"`
	Filename           string    `bson:"filename"`
	Fingerprint        string    `bson:"fingerprint"`
	UploadedAt         time.Time `bson:"uploaded_at"`
	RowCount           int       `bson:"row_count"`
	MappingVersionUsed int       `bson:"mapping_version_used"`
	ParsedOK           bool      `bson:"parsed_ok"`
	ParseError         string    `bson:"parse_error"`
	StatementStart     string    `bson:"statement_start,omitempty"`
	StatementEnd       string    `bson:"statement_end,omitempty"`
	PageCount          int       `bson:"page_count"`
}

type transactionDoc struct {
	ID          string                `bson:"_id"`
	StatementID string                `bson:"statement_id"`
	UserID      string                `bson:"user_id"`
	AccountID   string                `bson:"account_id"`
	Seq         int                   `bson:"seq"`
	Date        string                `bson:"date"`
	Description string                `bson:"description"`
	Amount      primitive.Decimal128  `bson:"amount"`
	Balance     *primitive.Decimal128 `bson:"balance,omitempty"`
	Reference   string                `bson:"reference,omitempty"`
}

// MongoStore persists statements in MongoDB. Batch replacement runs in a
// session transaction, which requires a replica set or sharded cluster.
type MongoStore struct {
	client       *mongo.Client
	statements   *mongo.Collection
	transactions *mongo.Collection
	logger       logger.Logger
}

// OpenMongo connects to MongoDB and ensures the collection indexes
func OpenMongo(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, unavailable("connect mongo", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, unavailable("ping mongo", err)
	}

	db := client.Database(database)
	s := &MongoStore{
		client:       client,
		statements:   db.Collection(statementsCollection),
		transactions: db.Collection(transactionsCollection),
		logger:       logger.GetGlobalLogger().WithComponent("store.mongo"),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, unavailable("create mongo indexes", err)
	}

	s.logger.WithField("database", database).Debug("MongoDB store ready")
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.statements.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "account_id", Value: 1}, {Key: "fingerprint", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("uniq_statement_fingerprint"),
	})
	if err != nil {
		return err
	}

	_, err = s.transactions.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "statement_id", Value: 1}, {Key: "date", Value: 1}, {Key: "seq", Value: 1}},
	})
	return err
}

// CreateStatement inserts the statement document
func (s *MongoStore) CreateStatement(ctx context.Context, statement *models.Statement) error {
	if _, err := s.statements.InsertOne(ctx, toStatementDoc(statement)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return duplicateStatement(statement, err)
		}
		return unavailable("create statement", err)
	}
	return nil
}

// GetStatement loads a statement by ID
func (s *MongoStore) GetStatement(ctx context.Context, statementID string) (*models.Statement, error) {
	statement, err := s.findStatement(ctx, bson.M{"_id": statementID})
	if err != nil {
		return nil, unavailable("get statement", err)
	}
	if statement == nil {
		return nil, statementNotFound(statementID)
	}
	return statement, nil
}

// FindStatementByFingerprint looks up a statement within one user and account
func (s *MongoStore) FindStatementByFingerprint(ctx context.Context, userID, accountID, fingerprint string) (*models.Statement, error) {
	statement, err := s.findStatement(ctx, bson.M{
		"user_id":     userID,
		"account_id":  accountID,
		"fingerprint": fingerprint,
	})
	if err != nil {
		return nil, unavailable("find statement", err)
	}
	return statement, nil
}

func (s *MongoStore) findStatement(ctx context.Context, filter bson.M) (*models.Statement, error) {
	var doc statementDoc
	err := s.statements.FindOne(ctx, filter).Decode(&doc)
	if stderrors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc.toModel()
}

// UpdateStatement writes the terminal import metadata
func (s *MongoStore) UpdateStatement(ctx context.Context, statement *models.Statement) error {
	set := bson.M{
		"row_count":            statement.RowCount,
		"mapping_version_used": statement.MappingVersionUsed,
		"parsed_ok":            statement.ParsedOK,
		"parse_error":          statement.ParseError,
		"page_count":           statement.PageCount,
	}
	unset := bson.M{}
	if statement.StartDate != nil {
		set["statement_start"] = statement.StartDate.String()
	} else {
		unset["statement_start"] = ""
	}
	if statement.EndDate != nil {
		set["statement_end"] = statement.EndDate.String()
	} else {
		unset["statement_end"] = ""
	}

	update := bson.M{"$set": set}
	if len(unset) > 0 {
		update["$unset"] = unset
	}

	res, err := s.statements.UpdateByID(ctx, statement.ID, update)
	if err != nil {
		return unavailable("update statement", err)
	}
	if res.MatchedCount == 0 {
		return statementNotFound(statement.ID)
	}
	return nil
}

// ReplaceTransactions deletes the old batch and inserts the new one inside a
// session transaction
func (s *MongoStore) ReplaceTransactions(ctx context.Context, statementID string, transactions []models.NormalizedTransaction) error {
	if err := validateBatch(statementID, transactions); err != nil {
		return err
	}

	docs := make([]interface{}, len(transactions))
	for i := range transactions {
		doc, err := toTransactionDoc(&transactions[i], i)
		if err != nil {
			return commitFailed(statementID, err)
		}
		docs[i] = doc
	}

	session, err := s.client.StartSession()
	if err != nil {
		return commitFailed(statementID, err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		count, err := s.statements.CountDocuments(sc, bson.M{"_id": statementID})
		if err != nil {
			return nil, err
		}
		if count == 0 {
			return nil, statementNotFound(statementID)
		}

		if _, err := s.transactions.DeleteMany(sc, bson.M{"statement_id": statementID}); err != nil {
			return nil, err
		}
		if len(docs) == 0 {
			return nil, nil
		}
		return s.transactions.InsertMany(sc, docs, options.InsertMany().SetOrdered(true))
	})
	if errors.HasCode(err, errors.CodeNotFound) {
		return err
	}
	if err != nil {
		return commitFailed(statementID, err)
	}

	s.logger.WithFields(logger.Fields{
		"statement_id": statementID,
		"count":        len(transactions),
	}).Debug("Committed transaction batch")
	return nil
}

// ListTransactions returns a statement's transactions ordered by date
func (s *MongoStore) ListTransactions(ctx context.Context, statementID string) ([]models.NormalizedTransaction, error) {
	if _, err := s.GetStatement(ctx, statementID); err != nil {
		return nil, err
	}

	cursor, err := s.transactions.Find(ctx, bson.M{"statement_id": statementID},
		options.Find().SetSort(bson.D{{Key: "date", Value: 1}, {Key: "seq", Value: 1}}))
	if err != nil {
		return nil, unavailable("list transactions", err)
	}
	defer cursor.Close(ctx)

	transactions := []models.NormalizedTransaction{}
	for cursor.Next(ctx) {
		var doc transactionDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, unavailable("list transactions", err)
		}
		t, err := doc.toModel()
		if err != nil {
			return nil, unavailable("list transactions", err)
		}
		transactions = append(transactions, t)
	}
	if err := cursor.Err(); err != nil {
		return nil, unavailable("list transactions", err)
	}
	return transactions, nil
}

// Close disconnects the client
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func toStatementDoc(st *models.Statement) statementDoc {
	doc := statementDoc{
		ID:                 st.ID,
		UserID:             st.UserID,
		AccountID:          st.AccountID,
		SourceType:         string(st.SourceType),
		Filename:           st.Filename,
		Fingerprint:        st.Fingerprint,
		UploadedAt:         st.UploadedAt.UTC(),
		RowCount:           st.RowCount,
		MappingVersionUsed: st.MappingVersionUsed,
		ParsedOK:           st.ParsedOK,
		ParseError:         st.ParseError,
		PageCount:          st.PageCount,
	}
	if st.StartDate != nil {
		doc.StatementStart = st.StartDate.String()
	}
	if st.EndDate != nil {
		doc.StatementEnd = st.EndDate.String()
	}
	return doc
}

func (d statementDoc) toModel() (*models.Statement, error) {
	st := &models.Statement{
		ID:                 d.ID,
		UserID:             d.UserID,
		AccountID:          d.AccountID,
		SourceType:         models.SourceType(d.SourceType),
		Filename:           d.Filename,
		Fingerprint:        d.Fingerprint,
		UploadedAt:         d.UploadedAt.UTC(),
		RowCount:           d.RowCount,
		MappingVersionUsed: d.MappingVersionUsed,
		ParsedOK:           d.ParsedOK,
		ParseError:         d.ParseError,
		PageCount:          d.PageCount,
	}
	var err error
	if st.StartDate, err = optionalDate(d.StatementStart); err != nil {
		return nil, err
	}
	if st.EndDate, err = optionalDate(d.StatementEnd); err != nil {
		return nil, err
	}
	return st, nil
}

func optionalDate(s string) (*civil.Date, error) {
	if s == "" {
		return nil, nil
	}
	d, err := civil.ParseDate(s)
	if err != nil {
		return nil, fmt.Errorf("invalid stored date %q: %w", s, err)
	}
	return &d, nil
}

func toTransactionDoc(t *models.NormalizedTransaction, seq int) (transactionDoc, error) {
	amount, err := primitive.ParseDecimal128(t.Amount.String())
	if err != nil {
		return transactionDoc{}, fmt.Errorf("amount %s: %w", t.Amount, err)
	}
	doc := transactionDoc{
		ID:          t.ID,
		StatementID: t.StatementID,
		UserID:      t.UserID,
		AccountID:   t.AccountID,
		Seq:         seq,
		Date:        t.Date.String(),
		Description: t.Description,
		Amount:      amount,
		Reference:   t.Reference,
	}
	if t.Balance != nil {
		balance, err := primitive.ParseDecimal128(t.Balance.String())
		if err != nil {
			return transactionDoc{}, fmt.Errorf("balance %s: %w", t.Balance, err)
		}
		doc.Balance = &balance
	}
	return doc, nil
}

func (d transactionDoc) toModel() (models.NormalizedTransaction, error) {
	date, err := civil.ParseDate(d.Date)
	if err != nil {
		return models.NormalizedTransaction{}, fmt.Errorf("invalid stored date %q: %w", d.Date, err)
	}
	amount, err := decimal.NewFromString(d.Amount.String())
	if err != nil {
		return models.NormalizedTransaction{}, fmt.Errorf("invalid stored amount: %w", err)
	}

	t := models.NormalizedTransaction{
		ID:          d.ID,
		UserID:      d.UserID,
		AccountID:   d.AccountID,
		StatementID: d.StatementID,
		Date:        date,
		Description: d.Description,
		Amount:      amount,
		Reference:   d.Reference,
	}
	if d.Balance != nil {
		balance, err := decimal.NewFromString(d.Balance.String())
		if err != nil {
			return models.NormalizedTransaction{}, fmt.Errorf("invalid stored balance: %w", err)
		}
		t.Balance = &balance
	}
	return t, nil
}
