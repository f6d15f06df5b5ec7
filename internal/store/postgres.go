package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/punchamoorthee/leadops/internal/domain"
)

//go:embed schema.sql
var schemaSQL string

// Schema returns the DDL applied by EnsureSchema.
func Schema() string { return schemaSQL }

const uniqueViolation = "23505"

const (
	quoteColumns = `id, source, external_reference_id, agent_email, agent_branch, vehicles,
		status, premium, excess, quote_id, created_at, updated_at`
	transferColumns = `id, first_name, last_name, email, contact_number, id_number, quote_id,
		agent_name, agent_email, branch_name, uuid, redirect_url, created_at, updated_at`
)

type PostgresStore struct {
	Db *pgxpool.Pool
}

var _ TransferMatcher = (*PostgresStore)(nil)

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &PostgresStore{Db: pool}, nil
}

// EnsureSchema applies schema.sql. Safe to run repeatedly.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.Db.Exec(ctx, schemaSQL)
	return err
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.Db.Ping(ctx)
}

func (s *PostgresStore) Close() {
	s.Db.Close()
}

func (s *PostgresStore) CreateQuote(ctx context.Context, rec *domain.QuoteRecord) error {
	_, err := s.Db.Exec(ctx, `
		INSERT INTO quotes (id, source, external_reference_id, agent_email, agent_branch, vehicles, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, rec.Source, rec.ExternalReferenceID, rec.AgentEmail, rec.AgentBranch,
		rec.Vehicles, string(rec.Status), rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("quote insert failed: %w", err)
	}
	return nil
}

// CompleteQuote only touches rows still PENDING, so a quote completes once.
func (s *PostgresStore) CompleteQuote(ctx context.Context, id string, out domain.QuoteOutcome) (*domain.QuoteRecord, error) {
	row := s.Db.QueryRow(ctx, `
		UPDATE quotes
		SET status = 'COMPLETED', premium = $2, excess = $3, quote_id = $4, updated_at = $5
		WHERE id = $1 AND status = 'PENDING'
		RETURNING `+quoteColumns,
		id, out.Premium, out.Excess, out.QuoteID, stamp(out.CompletedAt),
	)
	rec, err := scanQuote(row)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("quote update failed: %w", err)
	}

	var exists bool
	if err := s.Db.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM quotes WHERE id = $1)", id).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotFound
	}
	return nil, ErrNotPending
}

func (s *PostgresStore) GetQuote(ctx context.Context, id string) (*domain.QuoteRecord, error) {
	row := s.Db.QueryRow(ctx, "SELECT "+quoteColumns+" FROM quotes WHERE id = $1", id)
	rec, err := scanQuote(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *PostgresStore) CreateTransfer(ctx context.Context, rec *domain.TransferRecord) error {
	_, err := s.Db.Exec(ctx, `
		INSERT INTO transfers (id, first_name, last_name, email, contact_number, id_number, quote_id,
			agent_name, agent_email, branch_name, uuid, redirect_url,
			id_number_norm, contact_number_norm, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		rec.ID, rec.FirstName, rec.LastName, rec.Email, rec.ContactNumber, rec.IDNumber, rec.QuoteID,
		rec.AgentName, rec.AgentEmail, rec.BranchName, rec.UUID, rec.RedirectURL,
		rec.NormalizedIDNumber(), rec.NormalizedContactNumber(), rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			if pgErr.ConstraintName == "transfers_pkey" {
				return ErrConflict
			}
			return ErrDuplicateIdentity
		}
		return fmt.Errorf("transfer insert failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateTransferResult(ctx context.Context, id string, res domain.TransferResponse, at time.Time) error {
	tag, err := s.Db.Exec(ctx,
		"UPDATE transfers SET uuid = $2, redirect_url = $3, updated_at = $4 WHERE id = $1",
		id, res.UUID, res.RedirectURL, stamp(at),
	)
	if err != nil {
		return fmt.Errorf("transfer update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetTransfer(ctx context.Context, id string) (*domain.TransferRecord, error) {
	row := s.Db.QueryRow(ctx, "SELECT "+transferColumns+" FROM transfers WHERE id = $1", id)
	rec, err := scanTransfer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *PostgresStore) ListTransfers(ctx context.Context) ([]domain.TransferRecord, error) {
	rows, err := s.Db.Query(ctx, "SELECT "+transferColumns+" FROM transfers ORDER BY created_at DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.TransferRecord
	for rows.Next() {
		rec, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// FindLatestTransfer pushes the identity filter down to the indexed
// normalized columns.
func (s *PostgresStore) FindLatestTransfer(ctx context.Context, field, normalized string) (*domain.TransferRecord, error) {
	var column string
	switch field {
	case domain.MatchIDNumber:
		column = "id_number_norm"
	case domain.MatchContactNumber:
		column = "contact_number_norm"
	default:
		return nil, fmt.Errorf("unknown match field %q", field)
	}

	row := s.Db.QueryRow(ctx,
		"SELECT "+transferColumns+" FROM transfers WHERE "+column+" = $1 ORDER BY created_at DESC LIMIT 1",
		normalized,
	)
	rec, err := scanTransfer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func scanQuote(row pgx.Row) (*domain.QuoteRecord, error) {
	var rec domain.QuoteRecord
	var status string
	err := row.Scan(
		&rec.ID, &rec.Source, &rec.ExternalReferenceID, &rec.AgentEmail, &rec.AgentBranch, &rec.Vehicles,
		&status, &rec.Premium, &rec.Excess, &rec.QuoteID, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Status = domain.QuoteStatus(status)
	return &rec, nil
}

func scanTransfer(row pgx.Row) (*domain.TransferRecord, error) {
	var rec domain.TransferRecord
	err := row.Scan(
		&rec.ID, &rec.FirstName, &rec.LastName, &rec.Email, &rec.ContactNumber, &rec.IDNumber, &rec.QuoteID,
		&rec.AgentName, &rec.AgentEmail, &rec.BranchName, &rec.UUID, &rec.RedirectURL, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
