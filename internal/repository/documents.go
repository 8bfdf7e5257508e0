package repository

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/blake2b"

	"github.com/octobees/venue-pipeline/internal/entity"
)

var (
	// ErrDocumentExists is returned by Create when the id is already taken.
	ErrDocumentExists = errors.New("document already exists")
	// ErrEmptyDocumentID is returned for writes without an id.
	ErrEmptyDocumentID = errors.New("document id is required")
)

const uniqueViolation = "23505"

// Document is a stored JSON document.
type Document struct {
	ID        string          `json:"_id"`
	Type      string          `json:"_type"`
	Body      json.RawMessage `json:"body"`
	Revision  string          `json:"_rev,omitempty"`
	UpdatedAt time.Time       `json:"_updatedAt,omitempty"`
}

// MutationKind selects the write performed by a Mutation.
type MutationKind string

const (
	MutationCreateIfNotExists MutationKind = "createIfNotExists"
	MutationCreateOrReplace   MutationKind = "createOrReplace"
)

// Mutation is one write inside an atomic Commit.
type Mutation struct {
	Kind     MutationKind
	Document Document
}

// QueryFilter narrows Query. Zero values are ignored.
type QueryFilter struct {
	Type   string
	IDs    []string
	Domain entity.Domain
	Box    *entity.BoundingBox
	// Fields projects the returned body onto the given top-level keys.
	Fields []string
	Limit  int
}

// GeoCandidate is the projection used for proximity matching.
type GeoCandidate struct {
	ID       string          `json:"_id"`
	Name     string          `json:"name"`
	Geopoint entity.GeoPoint `json:"geopoint"`
}

// DocumentStore describes the document store operations the pipeline uses.
type DocumentStore interface {
	Exists(ctx context.Context, id string) (bool, error)
	ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error)
	Create(ctx context.Context, doc Document) error
	CreateOrReplace(ctx context.Context, doc Document) error
	Commit(ctx context.Context, txID string, mutations []Mutation) error
	Query(ctx context.Context, filter QueryFilter) ([]Document, error)
	FindWithinBox(ctx context.Context, box entity.BoundingBox) ([]GeoCandidate, error)
}

type pgxPool interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

var _ pgxPool = (*pgxpool.Pool)(nil)

// PGXDocumentStore keeps documents of one project/dataset pair in Postgres.
type PGXDocumentStore struct {
	pool    pgxPool
	project string
	dataset string
}

var _ DocumentStore = (*PGXDocumentStore)(nil)

// NewPGXDocumentStore wires a pgx backed store scoped to project and dataset.
func NewPGXDocumentStore(pool *pgxpool.Pool, project, dataset string) *PGXDocumentStore {
	return &PGXDocumentStore{pool: pool, project: project, dataset: dataset}
}

// Revision returns the content hash stored alongside a document body.
func Revision(body []byte) string {
	sum := blake2b.Sum256(body)
	return hex.EncodeToString(sum[:16])
}

// Exists reports whether a document with id is stored.
func (s *PGXDocumentStore) Exists(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, ErrEmptyDocumentID
	}
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM documents WHERE project = $1 AND dataset = $2 AND id = $3)`,
		s.project, s.dataset, id,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check document %q: %w", id, err)
	}
	return exists, nil
}

// ExistingIDs returns the subset of ids already stored.
func (s *PGXDocumentStore) ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	existing := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return existing, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM documents WHERE project = $1 AND dataset = $2 AND id = ANY($3)`,
		s.project, s.dataset, ids,
	)
	if err != nil {
		return nil, fmt.Errorf("list existing documents: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan document id: %w", err)
		}
		existing[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate document ids: %w", err)
	}
	return existing, nil
}

const (
	insertDocumentSQL = `
        INSERT INTO documents (project, dataset, id, doc_type, body, rev, tx_id, updated_at)
        VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, NOW())
    `
	insertIfMissingSQL = insertDocumentSQL + `
        ON CONFLICT (project, dataset, id) DO NOTHING
    `
	upsertDocumentSQL = insertDocumentSQL + `
        ON CONFLICT (project, dataset, id) DO UPDATE SET
            doc_type = EXCLUDED.doc_type,
            body = EXCLUDED.body,
            rev = EXCLUDED.rev,
            tx_id = EXCLUDED.tx_id,
            updated_at = NOW()
    `
)

// Create stores doc, failing with ErrDocumentExists if the id is taken.
func (s *PGXDocumentStore) Create(ctx context.Context, doc Document) error {
	if doc.ID == "" {
		return ErrEmptyDocumentID
	}
	tag, err := s.pool.Exec(ctx, insertIfMissingSQL, s.args(doc, "")...)
	if err != nil {
		return fmt.Errorf("create document %q: %w", doc.ID, translate(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("create document %q: %w", doc.ID, ErrDocumentExists)
	}
	return nil
}

// CreateOrReplace stores doc, overwriting any existing body.
func (s *PGXDocumentStore) CreateOrReplace(ctx context.Context, doc Document) error {
	if doc.ID == "" {
		return ErrEmptyDocumentID
	}
	if _, err := s.pool.Exec(ctx, upsertDocumentSQL, s.args(doc, "")...); err != nil {
		return fmt.Errorf("replace document %q: %w", doc.ID, err)
	}
	return nil
}

// Commit applies every mutation atomically; any failure rolls back all of them.
func (s *PGXDocumentStore) Commit(ctx context.Context, txID string, mutations []Mutation) error {
	if len(mutations) == 0 {
		return nil
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("start transaction %s: %w", txID, err)
	}
	defer tx.Rollback(ctx)

	for _, m := range mutations {
		if m.Document.ID == "" {
			return fmt.Errorf("transaction %s: %w", txID, ErrEmptyDocumentID)
		}
		var query string
		switch m.Kind {
		case MutationCreateIfNotExists:
			query = insertIfMissingSQL
		case MutationCreateOrReplace:
			query = upsertDocumentSQL
		default:
			return fmt.Errorf("transaction %s: unsupported mutation %q", txID, m.Kind)
		}
		if _, err := tx.Exec(ctx, query, s.args(m.Document, txID)...); err != nil {
			return fmt.Errorf("transaction %s: %s %q: %w", txID, m.Kind, m.Document.ID, translate(err))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction %s: %w", txID, err)
	}
	return nil
}

// Query returns documents matching filter ordered by id.
func (s *PGXDocumentStore) Query(ctx context.Context, filter QueryFilter) ([]Document, error) {
	var (
		clauses = []string{"project = $1", "dataset = $2"}
		args    = []any{s.project, s.dataset}
		idx     = 3
	)

	body := "body"
	if len(filter.Fields) > 0 {
		body = fmt.Sprintf("(SELECT COALESCE(jsonb_object_agg(key, value), '{}'::jsonb) FROM jsonb_each(body) WHERE key = ANY($%d))", idx)
		args = append(args, filter.Fields)
		idx++
	}
	if filter.Type != "" {
		clauses = append(clauses, fmt.Sprintf("doc_type = $%d", idx))
		args = append(args, filter.Type)
		idx++
	}
	if len(filter.IDs) > 0 {
		clauses = append(clauses, fmt.Sprintf("id = ANY($%d)", idx))
		args = append(args, filter.IDs)
		idx++
	}
	if filter.Domain != "" {
		clauses = append(clauses, fmt.Sprintf("body->'domains' ? $%d", idx))
		args = append(args, string(filter.Domain))
		idx++
	}
	if filter.Box != nil {
		clauses = append(clauses, boxClause(idx))
		args = append(args, filter.Box.MinLat, filter.Box.MaxLat, filter.Box.MinLng, filter.Box.MaxLng)
		idx += 4
	}

	query := strings.Builder{}
	query.WriteString("SELECT id, doc_type, ")
	query.WriteString(body)
	query.WriteString(", rev, updated_at FROM documents WHERE ")
	query.WriteString(strings.Join(clauses, " AND "))
	query.WriteString(" ORDER BY id")
	if filter.Limit > 0 {
		query.WriteString(fmt.Sprintf(" LIMIT %d", filter.Limit))
	}

	rows, err := s.pool.Query(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	return scanDocuments(rows)
}

// FindWithinBox lists stored places whose geopoint lies inside box.
func (s *PGXDocumentStore) FindWithinBox(ctx context.Context, box entity.BoundingBox) ([]GeoCandidate, error) {
	query := `
        SELECT id, COALESCE(body->>'name', ''), ` + latExpr + `, ` + lngExpr + `
        FROM documents
        WHERE project = $1 AND dataset = $2 AND doc_type = $3 AND ` + boxClause(4)

	rows, err := s.pool.Query(ctx, query, s.project, s.dataset, entity.DocumentType,
		box.MinLat, box.MaxLat, box.MinLng, box.MaxLng)
	if err != nil {
		return nil, fmt.Errorf("find documents in box: %w", err)
	}
	defer rows.Close()

	var candidates []GeoCandidate
	for rows.Next() {
		var c GeoCandidate
		if err := rows.Scan(&c.ID, &c.Name, &c.Geopoint.Lat, &c.Geopoint.Lng); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidates: %w", err)
	}
	return candidates, nil
}

const (
	latExpr = `(body->'location'->'geopoint'->>'lat')::float8`
	lngExpr = `(body->'location'->'geopoint'->>'lng')::float8`
)

func boxClause(idx int) string {
	return fmt.Sprintf("body->'location'->'geopoint' IS NOT NULL AND %s BETWEEN $%d AND $%d AND %s BETWEEN $%d AND $%d",
		latExpr, idx, idx+1, lngExpr, idx+2, idx+3)
}

func (s *PGXDocumentStore) args(doc Document, txID string) []any {
	body := doc.Body
	if len(body) == 0 {
		body = json.RawMessage("{}")
	}
	rev := doc.Revision
	if rev == "" {
		rev = Revision(body)
	}
	return []any{s.project, s.dataset, doc.ID, doc.Type, string(body), rev, stringOrNil(&txID)}
}

func scanDocuments(rows pgx.Rows) ([]Document, error) {
	var docs []Document
	for rows.Next() {
		var (
			d   Document
			rev sql.NullString
			raw []byte
		)
		if err := rows.Scan(&d.ID, &d.Type, &raw, &rev, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		if len(raw) > 0 {
			d.Body = json.RawMessage(raw)
		} else {
			d.Body = json.RawMessage("{}")
		}
		if rev.Valid {
			d.Revision = rev.String
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}

func translate(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDocumentExists
	}
	return err
}

func stringOrNil(value *string) any {
	if value == nil || *value == "" {
		return nil
	}
	return *value
}
