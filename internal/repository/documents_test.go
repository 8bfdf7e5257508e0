package repository

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/octobees/venue-pipeline/internal/entity"
)

type stubPool struct {
	queryRowFunc func(ctx context.Context, query string, args ...any) pgx.Row
	queryFunc    func(ctx context.Context, query string, args ...any) (pgx.Rows, error)
	execFunc     func(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error)
	beginTxFunc  func(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

func (s *stubPool) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	if s.queryRowFunc != nil {
		return s.queryRowFunc(ctx, query, args...)
	}
	return &stubRow{scan: func(dest ...any) error { return nil }}
}

func (s *stubPool) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	if s.queryFunc != nil {
		return s.queryFunc(ctx, query, args...)
	}
	return nil, errors.New("query not implemented")
}

func (s *stubPool) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	if s.execFunc != nil {
		return s.execFunc(ctx, query, args...)
	}
	return pgconn.CommandTag{}, errors.New("exec not implemented")
}

func (s *stubPool) BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error) {
	if s.beginTxFunc != nil {
		return s.beginTxFunc(ctx, txOptions)
	}
	return nil, errors.New("begin tx not implemented")
}

type stubRow struct {
	scan func(dest ...any) error
}

func (s *stubRow) Scan(dest ...any) error {
	if s.scan != nil {
		return s.scan(dest...)
	}
	return nil
}

type stubRows struct {
	scans []func(dest ...any) error
	idx   int
	err   error
}

func (s *stubRows) Close()                                       {}
func (s *stubRows) Err() error                                   { return s.err }
func (s *stubRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (s *stubRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (s *stubRows) Values() ([]any, error)                       { return nil, nil }
func (s *stubRows) RawValues() [][]byte                          { return nil }
func (s *stubRows) Conn() *pgx.Conn                              { return nil }

func (s *stubRows) Next() bool {
	if s.err != nil {
		return false
	}
	if s.idx < len(s.scans) {
		s.idx++
		return true
	}
	return false
}

func (s *stubRows) Scan(dest ...any) error {
	if s.idx == 0 || s.idx > len(s.scans) {
		return errors.New("scan called out of order")
	}
	return s.scans[s.idx-1](dest...)
}

// stubTx implements the parts of pgx.Tx the store touches.
type stubTx struct {
	pgx.Tx
	execs      []string
	execErr    error
	committed  bool
	rolledBack bool
}

func (t *stubTx) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	t.execs = append(t.execs, args[2].(string))
	if t.execErr != nil {
		return pgconn.CommandTag{}, t.execErr
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (t *stubTx) Commit(ctx context.Context) error {
	t.committed = true
	return nil
}

func (t *stubTx) Rollback(ctx context.Context) error {
	t.rolledBack = true
	return nil
}

func newStore(pool pgxPool) *PGXDocumentStore {
	return &PGXDocumentStore{pool: pool, project: "proj", dataset: "production"}
}

func TestRevisionIsDeterministic(t *testing.T) {
	a := Revision([]byte(`{"name":"A"}`))
	if a != Revision([]byte(`{"name":"A"}`)) {
		t.Fatalf("expected identical revisions")
	}
	if a == Revision([]byte(`{"name":"B"}`)) {
		t.Fatalf("expected different revisions for different bodies")
	}
	if len(a) != 32 {
		t.Fatalf("expected 32 hex chars, got %d", len(a))
	}
}

func TestExists(t *testing.T) {
	store := newStore(&stubPool{
		queryRowFunc: func(ctx context.Context, query string, args ...any) pgx.Row {
			if args[0] != "proj" || args[1] != "production" || args[2] != "coffee-a" {
				t.Fatalf("unexpected args %v", args)
			}
			return &stubRow{scan: func(dest ...any) error {
				*dest[0].(*bool) = true
				return nil
			}}
		},
	})

	exists, err := store.Exists(context.Background(), "coffee-a")
	if err != nil || !exists {
		t.Fatalf("expected exists, got %v %v", exists, err)
	}
	if _, err := store.Exists(context.Background(), ""); !errors.Is(err, ErrEmptyDocumentID) {
		t.Fatalf("expected ErrEmptyDocumentID, got %v", err)
	}
}

func TestExistingIDs(t *testing.T) {
	store := newStore(&stubPool{
		queryFunc: func(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
			return &stubRows{scans: []func(dest ...any) error{
				func(dest ...any) error { *dest[0].(*string) = "beer-b"; return nil },
			}}, nil
		},
	})

	existing, err := store.ExistingIDs(context.Background(), []string{"beer-a", "beer-b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !existing["beer-b"] || existing["beer-a"] {
		t.Fatalf("unexpected existing set %v", existing)
	}

	empty, err := newStore(&stubPool{}).ExistingIDs(context.Background(), nil)
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty set without querying, got %v %v", empty, err)
	}
}

func TestCreateReportsExistingDocument(t *testing.T) {
	store := newStore(&stubPool{
		execFunc: func(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
			if !strings.Contains(query, "DO NOTHING") {
				t.Fatalf("expected insert-if-missing query, got %s", query)
			}
			return pgconn.NewCommandTag("INSERT 0 0"), nil
		},
	})

	err := store.Create(context.Background(), Document{ID: "beer-a", Type: "place", Body: json.RawMessage(`{}`)})
	if !errors.Is(err, ErrDocumentExists) {
		t.Fatalf("expected ErrDocumentExists, got %v", err)
	}
	if err := store.Create(context.Background(), Document{}); !errors.Is(err, ErrEmptyDocumentID) {
		t.Fatalf("expected ErrEmptyDocumentID, got %v", err)
	}
}

func TestCreateOrReplaceComputesRevision(t *testing.T) {
	body := json.RawMessage(`{"name":"A"}`)
	called := false
	store := newStore(&stubPool{
		execFunc: func(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
			called = true
			if !strings.Contains(query, "DO UPDATE") {
				t.Fatalf("expected upsert query, got %s", query)
			}
			if args[5] != Revision(body) {
				t.Fatalf("expected revision arg, got %v", args[5])
			}
			if args[6] != nil {
				t.Fatalf("expected nil tx id outside a transaction, got %v", args[6])
			}
			return pgconn.NewCommandTag("INSERT 0 1"), nil
		},
	})
	if err := store.CreateOrReplace(context.Background(), Document{ID: "beer-a", Type: "place", Body: body}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatalf("expected exec to be called")
	}
}

func TestCommit(t *testing.T) {
	tx := &stubTx{}
	store := newStore(&stubPool{
		beginTxFunc: func(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error) { return tx, nil },
	})

	err := store.Commit(context.Background(), "tx-1", []Mutation{
		{Kind: MutationCreateIfNotExists, Document: Document{ID: "beer-a", Type: "place"}},
		{Kind: MutationCreateOrReplace, Document: Document{ID: "beer-b", Type: "place"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !tx.committed || len(tx.execs) != 2 {
		t.Fatalf("expected two writes and a commit, got %+v", tx)
	}

	failing := &stubTx{execErr: errors.New("boom")}
	store = newStore(&stubPool{
		beginTxFunc: func(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error) { return failing, nil },
	})
	err = store.Commit(context.Background(), "tx-2", []Mutation{{Kind: MutationCreateIfNotExists, Document: Document{ID: "beer-a"}}})
	if err == nil || !strings.Contains(err.Error(), "tx-2") {
		t.Fatalf("expected transaction error, got %v", err)
	}
	if failing.committed || !failing.rolledBack {
		t.Fatalf("expected rollback without commit")
	}
}

func TestQueryBuildsFilters(t *testing.T) {
	now := time.Now()
	store := newStore(&stubPool{
		queryFunc: func(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
			for _, fragment := range []string{"jsonb_each", "doc_type = $4", "id = ANY($5)", "? $6", "BETWEEN $7 AND $8", "LIMIT 10"} {
				if !strings.Contains(query, fragment) {
					t.Fatalf("expected %q in query %s", fragment, query)
				}
			}
			if len(args) != 10 {
				t.Fatalf("expected 10 args, got %d", len(args))
			}
			return &stubRows{scans: []func(dest ...any) error{
				func(dest ...any) error {
					*dest[0].(*string) = "coffee-a"
					*dest[1].(*string) = "place"
					*dest[2].(*[]byte) = []byte(`{"name":"A"}`)
					*dest[4].(*time.Time) = now
					return nil
				},
			}}, nil
		},
	})

	docs, err := store.Query(context.Background(), QueryFilter{
		Type:   "place",
		IDs:    []string{"coffee-a"},
		Domain: entity.DomainCoffee,
		Box:    &entity.BoundingBox{MinLat: 1, MaxLat: 2, MinLng: 3, MaxLng: 4},
		Fields: []string{"name"},
		Limit:  10,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != "coffee-a" || string(docs[0].Body) != `{"name":"A"}` || docs[0].Revision != "" {
		t.Fatalf("unexpected documents %+v", docs)
	}
}

func TestFindWithinBox(t *testing.T) {
	store := newStore(&stubPool{
		queryFunc: func(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
			if args[2] != entity.DocumentType || args[3] != 50.0 || args[4] != 51.0 {
				t.Fatalf("unexpected args %v", args)
			}
			return &stubRows{scans: []func(dest ...any) error{
				func(dest ...any) error {
					*dest[0].(*string) = "coffee-a"
					*dest[1].(*string) = "Kavárna"
					*dest[2].(*float64) = 50.5
					*dest[3].(*float64) = 14.4
					return nil
				},
			}}, nil
		},
	})

	candidates, err := store.FindWithinBox(context.Background(), entity.BoundingBox{MinLat: 50, MaxLat: 51, MinLng: 14, MaxLng: 15})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(candidates) != 1 || candidates[0].Name != "Kavárna" || candidates[0].Geopoint.Lat != 50.5 {
		t.Fatalf("unexpected candidates %+v", candidates)
	}
}
