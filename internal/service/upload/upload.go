// Package upload persists Places into the document store with idempotent
// create, replace and skip semantics.
package upload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/octobees/venue-pipeline/internal/entity"
	"github.com/octobees/venue-pipeline/internal/observability"
	"github.com/octobees/venue-pipeline/internal/repository"
)

const (
	MaxDocumentIDLength = 100
	DefaultChunkSize    = 100
)

type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionSkipped Action = "skipped"
	ActionFailed  Action = "failed"
)

// Options control upsert behaviour.
type Options struct {
	// DryRun reports the action that would be taken without writing.
	DryRun bool `json:"dryRun"`
	// Replace overwrites documents that already exist.
	Replace bool `json:"replace"`
	// MissingOnly skips existing documents without any write.
	MissingOnly bool `json:"missingOnly"`
}

// Result is the outcome of a single upload.
type Result struct {
	Success    bool   `json:"success"`
	DocumentID string `json:"documentId"`
	Action     Action `json:"action"`
	Error      string `json:"error,omitempty"`
}

// SyncError identifies a failed document.
type SyncError struct {
	DocumentID string `json:"documentId"`
	Name       string `json:"name,omitempty"`
	Message    string `json:"message"`
}

// Stats summarises a batch upload. Approximate is set when created and
// updated counts could not be confirmed per document.
type Stats struct {
	Created     int           `json:"created"`
	Updated     int           `json:"updated"`
	Skipped     int           `json:"skipped"`
	Failed      int           `json:"failed"`
	Errors      []SyncError   `json:"errors"`
	Duration    time.Duration `json:"-"`
	DurationMs  int64         `json:"durationMs"`
	Approximate bool          `json:"approximate,omitempty"`
}

func (s *Stats) count(action Action) {
	switch action {
	case ActionCreated:
		s.Created++
	case ActionUpdated:
		s.Updated++
	case ActionSkipped:
		s.Skipped++
	case ActionFailed:
		s.Failed++
	}
	observability.ObserveSync(string(action))
}

// Uploader writes Places through a DocumentStore.
type Uploader struct {
	store     repository.DocumentStore
	logger    zerolog.Logger
	now       func() time.Time
	chunkSize int
}

type Option func(*Uploader)

func WithLogger(logger zerolog.Logger) Option {
	return func(u *Uploader) { u.logger = logger }
}

// WithChunkSize sets how many documents go into one transaction.
func WithChunkSize(n int) Option {
	return func(u *Uploader) {
		if n > 0 {
			u.chunkSize = n
		}
	}
}

func New(store repository.DocumentStore, opts ...Option) *Uploader {
	u := &Uploader{store: store, logger: zerolog.Nop(), now: time.Now, chunkSize: DefaultChunkSize}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

var (
	invalidIDChars = regexp.MustCompile(`[^a-z0-9-]`)
	hyphenRuns     = regexp.MustCompile(`-{2,}`)
)

// GenerateDocumentID derives a stable id from the first domain and the slug.
func GenerateDocumentID(p *entity.Place) string {
	domain := string(p.FirstDomain())
	if domain == "" {
		domain = "place"
	}
	raw := domain
	if slug := p.Slug.Current; slug != "" {
		raw += "-" + slug
	}
	id := cleanID(raw)
	if id == "" {
		return placeholderID()
	}
	return id
}

func cleanID(raw string) string {
	id := invalidIDChars.ReplaceAllString(strings.ToLower(raw), "-")
	id = strings.Trim(hyphenRuns.ReplaceAllString(id, "-"), "-")
	if len(id) > MaxDocumentIDLength {
		id = strings.TrimRight(id[:MaxDocumentIDLength], "-")
	}
	return id
}

func placeholderID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return "place-" + uuid.NewString()
	}
	return "place-" + id.String()
}

// documentID returns the explicit id when the Place carries one.
func documentID(p *entity.Place) string {
	if p.ID != "" {
		return p.ID
	}
	return GenerateDocumentID(p)
}

func toDocument(p *entity.Place, id string) (repository.Document, error) {
	doc := *p
	doc.ID = id
	doc.Type = entity.DocumentType
	body, err := json.Marshal(&doc)
	if err != nil {
		return repository.Document{}, fmt.Errorf("encode document: %w", err)
	}
	return repository.Document{ID: id, Type: entity.DocumentType, Body: body}, nil
}

// UploadOne upserts a single Place. It never returns an error; failures are
// reported in the Result.
func (u *Uploader) UploadOne(ctx context.Context, p *entity.Place, opts Options) Result {
	id := documentID(p)
	res := u.upload(ctx, p, id, opts)
	observability.ObserveSync(string(res.Action))
	return res
}

func (u *Uploader) upload(ctx context.Context, p *entity.Place, id string, opts Options) Result {
	fail := func(err error) Result {
		u.logger.Error().Err(err).Str("document_id", id).Str("name", p.Name).Msg("upload failed")
		return Result{DocumentID: id, Action: ActionFailed, Error: err.Error()}
	}
	ok := func(action Action) Result {
		return Result{Success: true, DocumentID: id, Action: action}
	}

	exists, err := u.store.Exists(ctx, id)
	if err != nil {
		return fail(fmt.Errorf("check existence: %w", err))
	}
	action := plannedAction(exists, opts)
	if opts.DryRun || action == ActionSkipped {
		return ok(action)
	}

	doc, err := toDocument(p, id)
	if err != nil {
		return fail(err)
	}
	switch action {
	case ActionCreated:
		err = u.store.Create(ctx, doc)
		if errors.Is(err, repository.ErrDocumentExists) {
			// created concurrently since the existence check
			if !opts.Replace || opts.MissingOnly {
				return ok(ActionSkipped)
			}
			action = ActionUpdated
			err = u.store.CreateOrReplace(ctx, doc)
		}
	case ActionUpdated:
		err = u.store.CreateOrReplace(ctx, doc)
	}
	if err != nil {
		return fail(err)
	}
	return ok(action)
}

func plannedAction(exists bool, opts Options) Action {
	switch {
	case !exists:
		return ActionCreated
	case opts.MissingOnly || !opts.Replace:
		return ActionSkipped
	default:
		return ActionUpdated
	}
}

// UploadMany uploads sequentially. A failing record never stops the batch;
// a cancelled ctx does, counting the rest as skipped.
func (u *Uploader) UploadMany(ctx context.Context, places []*entity.Place, opts Options) (Stats, error) {
	start := u.now()
	stats := Stats{Errors: []SyncError{}}
	ids := u.assignIDs(places)

	for i, p := range places {
		if err := ctx.Err(); err != nil {
			u.cancelRest(&stats, places[i:], ids[i:], err)
			stats.finish(u.now().Sub(start))
			return stats, err
		}
		res := u.upload(ctx, p, ids[i], opts)
		stats.count(res.Action)
		if res.Action == ActionFailed {
			stats.Errors = append(stats.Errors, SyncError{DocumentID: res.DocumentID, Name: p.Name, Message: res.Error})
		}
	}
	stats.finish(u.now().Sub(start))
	return stats, nil
}

// UploadBatch writes Places in atomic chunks. Existing ids are read per
// chunk first so counts are exact; when that read fails every write falls
// back to a conditional mutation and Stats.Approximate is set. A failed
// commit marks the whole chunk failed under a single error entry.
func (u *Uploader) UploadBatch(ctx context.Context, places []*entity.Place, opts Options) (Stats, error) {
	start := u.now()
	stats := Stats{Errors: []SyncError{}}
	ids := u.assignIDs(places)

	for lo := 0; lo < len(places); lo += u.chunkSize {
		hi := min(lo+u.chunkSize, len(places))
		if err := ctx.Err(); err != nil {
			u.cancelRest(&stats, places[lo:], ids[lo:], err)
			stats.finish(u.now().Sub(start))
			return stats, err
		}
		u.commitChunk(ctx, &stats, places[lo:hi], ids[lo:hi], opts)
	}
	stats.finish(u.now().Sub(start))
	return stats, nil
}

func (u *Uploader) commitChunk(ctx context.Context, stats *Stats, places []*entity.Place, ids []string, opts Options) {
	existing, err := u.store.ExistingIDs(ctx, ids)
	exact := err == nil
	if !exact {
		stats.Approximate = true
		u.logger.Warn().Err(err).Int("documents", len(ids)).Msg("existing id lookup failed, counts are approximate")
	}

	var (
		mutations []repository.Mutation
		planned   []Action
	)
	for i, p := range places {
		id := ids[i]
		var action Action
		var kind repository.MutationKind
		switch {
		case exact:
			action = plannedAction(existing[id], opts)
			kind = repository.MutationCreateIfNotExists
			if action == ActionUpdated {
				kind = repository.MutationCreateOrReplace
			}
		case opts.Replace && !opts.MissingOnly:
			action, kind = ActionUpdated, repository.MutationCreateOrReplace
		default:
			action, kind = ActionCreated, repository.MutationCreateIfNotExists
		}
		if action == ActionSkipped {
			stats.count(ActionSkipped)
			continue
		}
		doc, err := toDocument(p, id)
		if err != nil {
			stats.count(ActionFailed)
			stats.Errors = append(stats.Errors, SyncError{DocumentID: id, Name: p.Name, Message: err.Error()})
			continue
		}
		mutations = append(mutations, repository.Mutation{Kind: kind, Document: doc})
		planned = append(planned, action)
	}
	if len(mutations) == 0 {
		return
	}

	if !opts.DryRun {
		txID := uuid.NewString()
		if err := u.store.Commit(ctx, txID, mutations); err != nil {
			u.logger.Error().Err(err).Str("transaction_id", txID).Int("documents", len(mutations)).Msg("batch commit failed")
			for range mutations {
				stats.count(ActionFailed)
			}
			stats.Errors = append(stats.Errors, SyncError{
				DocumentID: mutations[0].Document.ID,
				Name:       fmt.Sprintf("transaction %s (%d documents)", txID, len(mutations)),
				Message:    err.Error(),
			})
			return
		}
	}
	for _, action := range planned {
		stats.count(action)
	}
}

// assignIDs resolves document ids, suffixing later Places whose id collides
// with an earlier one in the same batch.
func (u *Uploader) assignIDs(places []*entity.Place) []string {
	ids := make([]string, len(places))
	seen := make(map[string]struct{}, len(places))
	for i, p := range places {
		id := documentID(p)
		if _, dup := seen[id]; dup {
			base, slug := id, p.Slug.Current
			for n := 2; ; n++ {
				suffix := fmt.Sprintf("-%d", n)
				id = withSuffix(base, suffix)
				if _, taken := seen[id]; !taken {
					if slug != "" {
						p.Slug.Current = withSuffix(slug, suffix)
					}
					break
				}
			}
			u.logger.Warn().Str("name", p.Name).Str("document_id", base).Str("resolved_id", id).Msg("document id collision")
			p.ID = id
		}
		seen[id] = struct{}{}
		ids[i] = id
	}
	return ids
}

func withSuffix(base, suffix string) string {
	if len(base)+len(suffix) > MaxDocumentIDLength {
		base = strings.TrimRight(base[:MaxDocumentIDLength-len(suffix)], "-")
	}
	return base + suffix
}

func (u *Uploader) cancelRest(stats *Stats, places []*entity.Place, ids []string, err error) {
	for i, p := range places {
		stats.count(ActionSkipped)
		stats.Errors = append(stats.Errors, SyncError{DocumentID: ids[i], Name: p.Name, Message: "cancelled: " + err.Error()})
	}
}

func (s *Stats) finish(d time.Duration) {
	s.Duration = d
	s.DurationMs = d.Milliseconds()
}
