package upload

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/octobees/venue-pipeline/internal/entity"
	"github.com/octobees/venue-pipeline/internal/repository"
)

type memoryStore struct {
	docs        map[string]repository.Document
	existsErr   map[string]error
	createErr   error
	commitErr   error
	existingErr error
	writes      int
	commits     [][]repository.Mutation
}

func newMemoryStore(ids ...string) *memoryStore {
	s := &memoryStore{docs: map[string]repository.Document{}, existsErr: map[string]error{}}
	for _, id := range ids {
		s.docs[id] = repository.Document{ID: id, Type: entity.DocumentType, Body: json.RawMessage(`{}`)}
	}
	return s
}

func (s *memoryStore) Exists(ctx context.Context, id string) (bool, error) {
	if err := s.existsErr[id]; err != nil {
		return false, err
	}
	_, ok := s.docs[id]
	return ok, nil
}

func (s *memoryStore) ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	if s.existingErr != nil {
		return nil, s.existingErr
	}
	out := map[string]bool{}
	for _, id := range ids {
		if _, ok := s.docs[id]; ok {
			out[id] = true
		}
	}
	return out, nil
}

func (s *memoryStore) Create(ctx context.Context, doc repository.Document) error {
	if s.createErr != nil {
		return s.createErr
	}
	if _, ok := s.docs[doc.ID]; ok {
		return repository.ErrDocumentExists
	}
	s.writes++
	s.docs[doc.ID] = doc
	return nil
}

func (s *memoryStore) CreateOrReplace(ctx context.Context, doc repository.Document) error {
	s.writes++
	s.docs[doc.ID] = doc
	return nil
}

func (s *memoryStore) Commit(ctx context.Context, txID string, mutations []repository.Mutation) error {
	if txID == "" {
		return errors.New("missing transaction id")
	}
	if s.commitErr != nil {
		return s.commitErr
	}
	s.commits = append(s.commits, mutations)
	for _, m := range mutations {
		if _, ok := s.docs[m.Document.ID]; ok && m.Kind == repository.MutationCreateIfNotExists {
			continue
		}
		s.writes++
		s.docs[m.Document.ID] = m.Document
	}
	return nil
}

func (s *memoryStore) Query(ctx context.Context, filter repository.QueryFilter) ([]repository.Document, error) {
	return nil, nil
}

func (s *memoryStore) FindWithinBox(ctx context.Context, box entity.BoundingBox) ([]repository.GeoCandidate, error) {
	return nil, nil
}

func newPlace(name, slug string, domains ...entity.Domain) *entity.Place {
	return &entity.Place{Type: entity.DocumentType, Name: name, Slug: entity.Slug{Current: slug}, Domains: domains}
}

func TestGenerateDocumentID(t *testing.T) {
	idPattern := regexp.MustCompile(`^[a-z0-9-]+$`)
	tests := []struct {
		name  string
		place *entity.Place
		want  string
	}{
		{"diacritics and punctuation", newPlace("Café Müller", "café-müller!", entity.DomainCoffee), "coffee-caf-m-ller"},
		{"plain", newPlace("Pivovar", "pivovar-u-medvidku", entity.DomainBeer, entity.DomainGuide), "beer-pivovar-u-medvidku"},
		{"no domain", newPlace("X", "x"), "place-x"},
		{"empty slug", newPlace("", "", entity.DomainVino), "vino"},
		{"collapsed hyphens", newPlace("", "--a__b--", entity.DomainBeer), "beer-a-b"},
	}
	for _, tt := range tests {
		got := GenerateDocumentID(tt.place)
		if got != tt.want {
			t.Fatalf("%s: expected %q, got %q", tt.name, tt.want, got)
		}
		if !idPattern.MatchString(got) {
			t.Fatalf("%s: %q does not match id pattern", tt.name, got)
		}
	}

	long := GenerateDocumentID(newPlace("", strings.Repeat("a", 150), entity.DomainBeer))
	if len(long) != MaxDocumentIDLength {
		t.Fatalf("expected truncation to %d, got %d", MaxDocumentIDLength, len(long))
	}
	if GenerateDocumentID(newPlace("", strings.Repeat("b", 50), entity.DomainBeer)) != GenerateDocumentID(newPlace("", strings.Repeat("b", 50), entity.DomainBeer)) {
		t.Fatalf("expected deterministic ids")
	}
}

func TestPlaceholderIDWhenNothingUsable(t *testing.T) {
	p := &entity.Place{Domains: []entity.Domain{"!!!"}}
	id := GenerateDocumentID(p)
	if !strings.HasPrefix(id, "place-") || len(id) <= len("place-") {
		t.Fatalf("expected placeholder id, got %q", id)
	}
}

func TestUploadOneActions(t *testing.T) {
	tests := []struct {
		name       string
		existing   bool
		opts       Options
		wantAction Action
		wantWrites int
	}{
		{"create when absent", false, Options{}, ActionCreated, 1},
		{"skip existing without replace", true, Options{}, ActionSkipped, 0},
		{"replace existing", true, Options{Replace: true}, ActionUpdated, 1},
		{"missing only skips existing", true, Options{Replace: true, MissingOnly: true}, ActionSkipped, 0},
		{"missing only creates absent", false, Options{MissingOnly: true}, ActionCreated, 1},
		{"dry run create", false, Options{DryRun: true}, ActionCreated, 0},
		{"dry run update", true, Options{DryRun: true, Replace: true}, ActionUpdated, 0},
		{"dry run skip", true, Options{DryRun: true}, ActionSkipped, 0},
	}
	for _, tt := range tests {
		store := newMemoryStore()
		if tt.existing {
			store = newMemoryStore("coffee-kavarna")
		}
		res := New(store).UploadOne(context.Background(), newPlace("Kavárna", "kavarna", entity.DomainCoffee), tt.opts)
		if !res.Success || res.Action != tt.wantAction || res.DocumentID != "coffee-kavarna" {
			t.Fatalf("%s: unexpected result %+v", tt.name, res)
		}
		if store.writes != tt.wantWrites {
			t.Fatalf("%s: expected %d writes, got %d", tt.name, tt.wantWrites, store.writes)
		}
	}
}

func TestUploadOneWritesDocumentBody(t *testing.T) {
	store := newMemoryStore()
	New(store).UploadOne(context.Background(), newPlace("Kavárna", "kavarna", entity.DomainCoffee), Options{})

	var stored entity.Place
	if err := json.Unmarshal(store.docs["coffee-kavarna"].Body, &stored); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stored.ID != "coffee-kavarna" || stored.Type != entity.DocumentType || stored.Name != "Kavárna" {
		t.Fatalf("unexpected stored body: %+v", stored)
	}
}

func TestUploadOneRaceOnCreate(t *testing.T) {
	store := newMemoryStore()
	store.createErr = repository.ErrDocumentExists
	res := New(store).UploadOne(context.Background(), newPlace("Kavárna", "kavarna", entity.DomainCoffee), Options{})
	if res.Action != ActionSkipped {
		t.Fatalf("expected skip after concurrent create, got %+v", res)
	}
}

func TestUploadManyIsolatesFailures(t *testing.T) {
	store := newMemoryStore("beer-existing")
	store.existsErr["beer-broken"] = errors.New("401 unauthorized")
	places := []*entity.Place{
		newPlace("Existing", "existing", entity.DomainBeer),
		newPlace("Broken", "broken", entity.DomainBeer),
		newPlace("Fresh", "fresh", entity.DomainBeer),
	}

	stats, err := New(store).UploadMany(context.Background(), places, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Created != 1 || stats.Skipped != 1 || stats.Failed != 1 || stats.Updated != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(stats.Errors) != 1 || stats.Errors[0].DocumentID != "beer-broken" || !strings.Contains(stats.Errors[0].Message, "401") {
		t.Fatalf("unexpected errors: %+v", stats.Errors)
	}
	if _, ok := store.docs["beer-fresh"]; !ok {
		t.Fatalf("expected record after failure to be written")
	}
}

func TestUploadManyResolvesSlugCollisions(t *testing.T) {
	store := newMemoryStore()
	first := newPlace("U Fleků", "u-fleku", entity.DomainBeer)
	second := newPlace("U Fleků", "u-fleku", entity.DomainBeer)
	third := newPlace("U Fleků", "u-fleku", entity.DomainBeer)

	stats, err := New(store).UploadMany(context.Background(), []*entity.Place{first, second, third}, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Created != 3 {
		t.Fatalf("expected three creates, got %+v", stats)
	}
	for _, id := range []string{"beer-u-fleku", "beer-u-fleku-2", "beer-u-fleku-3"} {
		if _, ok := store.docs[id]; !ok {
			t.Fatalf("expected document %s", id)
		}
	}
	if second.Slug.Current != "u-fleku-2" || third.Slug.Current != "u-fleku-3" {
		t.Fatalf("expected suffixed slugs, got %q %q", second.Slug.Current, third.Slug.Current)
	}
	if first.Slug.Current != "u-fleku" {
		t.Fatalf("first place must keep its slug")
	}
}

func TestUploadManyStopsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stats, err := New(newMemoryStore()).UploadMany(ctx, []*entity.Place{newPlace("A", "a", entity.DomainBeer)}, Options{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if stats.Skipped != 1 || len(stats.Errors) != 1 || !strings.Contains(stats.Errors[0].Message, "cancelled") {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestUploadBatchExactCounts(t *testing.T) {
	store := newMemoryStore("beer-a")
	places := []*entity.Place{
		newPlace("A", "a", entity.DomainBeer),
		newPlace("B", "b", entity.DomainBeer),
		newPlace("C", "c", entity.DomainBeer),
	}

	stats, err := New(store, WithChunkSize(2)).UploadBatch(context.Background(), places, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Created != 2 || stats.Skipped != 1 || stats.Approximate {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(store.commits) != 2 {
		t.Fatalf("expected two transactions, got %d", len(store.commits))
	}

	stats, err = New(store).UploadBatch(context.Background(), places, Options{Replace: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Updated != 3 || stats.Created != 0 {
		t.Fatalf("expected three updates on replace, got %+v", stats)
	}
}

func TestUploadBatchApproximatesWhenLookupFails(t *testing.T) {
	store := newMemoryStore("beer-a")
	store.existingErr = errors.New("timeout")
	places := []*entity.Place{newPlace("A", "a", entity.DomainBeer), newPlace("B", "b", entity.DomainBeer)}

	stats, err := New(store).UploadBatch(context.Background(), places, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !stats.Approximate || stats.Created != 2 {
		t.Fatalf("expected approximate created count, got %+v", stats)
	}
	if len(store.commits) != 1 || store.commits[0][0].Kind != repository.MutationCreateIfNotExists {
		t.Fatalf("expected conditional mutations, got %+v", store.commits)
	}
}

func TestUploadBatchCommitFailureIsSingleError(t *testing.T) {
	store := newMemoryStore()
	store.commitErr = errors.New("transaction aborted")
	places := []*entity.Place{newPlace("A", "a", entity.DomainBeer), newPlace("B", "b", entity.DomainBeer)}

	stats, err := New(store).UploadBatch(context.Background(), places, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Failed != 2 || len(stats.Errors) != 1 {
		t.Fatalf("expected whole chunk failed with one error, got %+v", stats)
	}
}

func TestUploadBatchDryRunDoesNotCommit(t *testing.T) {
	store := newMemoryStore("beer-a")
	places := []*entity.Place{newPlace("A", "a", entity.DomainBeer), newPlace("B", "b", entity.DomainBeer)}

	stats, err := New(store).UploadBatch(context.Background(), places, Options{DryRun: true, Replace: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Updated != 1 || stats.Created != 1 || len(store.commits) != 0 {
		t.Fatalf("unexpected dry run: %+v commits=%d", stats, len(store.commits))
	}
}
