// Package pgstore provides a PostgreSQL implementation of pipeline.CaseStore.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/redress/internal/pipeline"
)

var tracer = otel.Tracer("github.com/linnemanlabs/redress/internal/pipeline/pgstore")

//go:embed schema.sql
var schema string

// Store persists case records in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on the given pool and returns a ready Store.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close shuts down the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

const caseColumns = `id, alert_key, transcript_id, customer_id, sentiment_score, received_at,
	stage, token, verdict, solutions, result, audit, version, created_at, updated_at`

// Get retrieves a case by ID.
func (s *Store) Get(ctx context.Context, id string) (*pipeline.CaseRecord, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Get", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + caseColumns + ` FROM cases WHERE id = $1`
	c, err := scanCase(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	if c == nil {
		return nil, false, nil
	}
	return c, true, nil
}

// GetByAlertKey retrieves the case for an alert identity key.
func (s *Store) GetByAlertKey(ctx context.Context, key string) (*pipeline.CaseRecord, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.GetByAlertKey", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + caseColumns + ` FROM cases WHERE alert_key = $1`
	c, err := scanCase(s.pool.QueryRow(ctx, query, key))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	if c == nil {
		return nil, false, nil
	}
	return c, true, nil
}

// Create inserts a new case at version 1. The unique constraint on
// alert_key is the authoritative duplicate check.
func (s *Store) Create(ctx context.Context, c *pipeline.CaseRecord) error {
	ctx, span := tracer.Start(ctx, "pgstore.Create", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	verdict, solutions, result, audit, err := marshalCaseJSON(c)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	query := `INSERT INTO cases (` + caseColumns + `)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`

	c.Version = 1
	_, err = s.pool.Exec(ctx, query,
		c.ID, c.Key(), c.Alert.TranscriptID, c.Alert.CustomerID, c.Alert.SentimentScore,
		c.Alert.ReceivedAt, string(c.Stage), c.Token, verdict, solutions, result, audit,
		c.Version, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return pipeline.ErrDuplicateCase
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("insert case: %w", err)
	}
	return nil
}

// Update writes the case guarded by the version column, bumping c.Version
// on success. A zero-row update means another writer got there first.
func (s *Store) Update(ctx context.Context, c *pipeline.CaseRecord) error {
	ctx, span := tracer.Start(ctx, "pgstore.Update", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPDATE"),
	))
	defer span.End()

	verdict, solutions, result, audit, err := marshalCaseJSON(c)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	query := `UPDATE cases SET
		stage      = $1,
		verdict    = $2,
		solutions  = $3,
		result     = $4,
		audit      = $5,
		version    = version + 1,
		updated_at = $6
	WHERE id = $7 AND version = $8`

	tag, err := s.pool.Exec(ctx, query,
		string(c.Stage), verdict, solutions, result, audit, c.UpdatedAt, c.ID, c.Version,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("update case: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pipeline.ErrVersionConflict
	}
	c.Version++
	return nil
}

// ListUnfinished returns cases in a resumable stage, oldest first.
func (s *Store) ListUnfinished(ctx context.Context) ([]*pipeline.CaseRecord, error) {
	ctx, span := tracer.Start(ctx, "pgstore.ListUnfinished", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + caseColumns + ` FROM cases
	WHERE stage NOT IN ($1,$2,$3,$4) ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query,
		string(pipeline.StageClosed), string(pipeline.StageSuppressed),
		string(pipeline.StageFailed), string(pipeline.StagePendingApproval),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query unfinished: %w", err)
	}
	defer rows.Close()

	var out []*pipeline.CaseRecord
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("scan unfinished: %w", err)
	}
	return out, nil
}

func marshalCaseJSON(c *pipeline.CaseRecord) (verdict, solutions, result, audit []byte, err error) {
	if c.Verdict != nil {
		if verdict, err = json.Marshal(c.Verdict); err != nil {
			return nil, nil, nil, nil, fmt.Errorf("marshal verdict: %w", err)
		}
	}
	if c.Solutions != nil {
		if solutions, err = json.Marshal(c.Solutions); err != nil {
			return nil, nil, nil, nil, fmt.Errorf("marshal solutions: %w", err)
		}
	}
	if c.Result != nil {
		if result, err = json.Marshal(c.Result); err != nil {
			return nil, nil, nil, nil, fmt.Errorf("marshal result: %w", err)
		}
	}
	if audit, err = json.Marshal(c.Audit); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal audit: %w", err)
	}
	return verdict, solutions, result, audit, nil
}

func scanCase(row pgx.Row) (*pipeline.CaseRecord, error) {
	var (
		c       pipeline.CaseRecord
		stage   string
		verdict []byte
		sols    []byte
		result  []byte
		audit   []byte
	)
	err := row.Scan(
		&c.ID, new(string), &c.Alert.TranscriptID, &c.Alert.CustomerID,
		&c.Alert.SentimentScore, &c.Alert.ReceivedAt, &stage, &c.Token,
		&verdict, &sols, &result, &audit, &c.Version, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan case: %w", err)
	}

	c.Stage = pipeline.Stage(stage)
	if len(verdict) > 0 {
		if err := json.Unmarshal(verdict, &c.Verdict); err != nil {
			return nil, fmt.Errorf("unmarshal verdict: %w", err)
		}
	}
	if len(sols) > 0 {
		if err := json.Unmarshal(sols, &c.Solutions); err != nil {
			return nil, fmt.Errorf("unmarshal solutions: %w", err)
		}
	}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &c.Result); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
	}
	if len(audit) > 0 {
		if err := json.Unmarshal(audit, &c.Audit); err != nil {
			return nil, fmt.Errorf("unmarshal audit: %w", err)
		}
	}
	return &c, nil
}
