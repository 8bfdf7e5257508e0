package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/octobees/venue-pipeline/internal/app"
	"github.com/octobees/venue-pipeline/internal/config"
	"github.com/octobees/venue-pipeline/internal/ndjson"
)

const takeoutExport = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "geometry": {"type": "Point", "coordinates": [14.4208, 50.0875]},
     "properties": {"title": "Pivovar U Fleku", "address": "Kremencova 11, Praha"}},
    {"type": "Feature", "geometry": {"type": "Point", "coordinates": [0, 0]},
     "properties": {"title": "Nowhere Bar"}},
    {"type": "Feature", "geometry": {"type": "Point", "coordinates": [14.42, 50.08]},
     "properties": {}}
  ]
}`

func testEnv(cfg *config.Config) env {
	return env{
		loadConfig: func() (*config.Config, error) { return cfg, nil },
		build:      app.Build,
	}
}

func execute(t *testing.T, e env, args ...string) (string, string, error) {
	t.Helper()
	root := newRootCommand(e)
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestImportWritesPlaces(t *testing.T) {
	path := writeFile(t, "saved.geojson", takeoutExport)

	stdout, stderr, err := execute(t, testEnv(&config.Config{PhoneRegion: "CZ"}), "import", path, "--domain", "beer")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	places, err := ndjson.Read(strings.NewReader(stdout))
	if err != nil {
		t.Fatalf("output is not NDJSON: %v", err)
	}
	if len(places) != 1 || places[0].Name != "Pivovar U Fleku" {
		t.Fatalf("unexpected places: %+v", places)
	}
	if !strings.Contains(stderr, "imported 1 of 3 features") {
		t.Fatalf("unexpected summary: %q", stderr)
	}
}

func TestImportRejectsUnknownDomain(t *testing.T) {
	path := writeFile(t, "saved.geojson", takeoutExport)

	_, _, err := execute(t, testEnv(&config.Config{}), "import", path, "--domain", "tea")
	if err == nil || !strings.Contains(err.Error(), `unknown domain "tea"`) {
		t.Fatalf("expected unknown domain error, got %v", err)
	}
}

func TestValidateReportsMalformedLines(t *testing.T) {
	path := writeFile(t, "places.ndjson", "{not json}\n")

	stdout, _, err := execute(t, testEnv(&config.Config{PhoneRegion: "CZ"}), "validate", path)
	if !errors.Is(err, errInvalid) {
		t.Fatalf("expected errInvalid, got %v", err)
	}
	if !strings.Contains(stdout, `"valid": false`) {
		t.Fatalf("expected report on stdout, got %q", stdout)
	}
}

func TestDedupeWritesUniquePlaces(t *testing.T) {
	imported, _, err := execute(t, testEnv(&config.Config{PhoneRegion: "CZ"}), "import", writeFile(t, "saved.geojson", takeoutExport))
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	doubled := writeFile(t, "places.ndjson", imported+"\n"+imported)

	stdout, stderr, err := execute(t, testEnv(&config.Config{PhoneRegion: "CZ"}), "dedupe", doubled)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	places, err := ndjson.Read(strings.NewReader(stdout))
	if err != nil {
		t.Fatalf("output is not NDJSON: %v", err)
	}
	if len(places) != 1 {
		t.Fatalf("expected one unique place, got %d", len(places))
	}
	if !strings.Contains(stderr, "1 unique, 1 duplicates in batch") {
		t.Fatalf("unexpected summary: %q", stderr)
	}
}

func TestUploadFailsFastWithoutStoreSettings(t *testing.T) {
	path := writeFile(t, "places.ndjson", "")

	_, _, err := execute(t, testEnv(&config.Config{}), "upload", path)
	if !app.IsConfigError(err) {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestEnrichRequiresPlacesKey(t *testing.T) {
	path := writeFile(t, "places.ndjson", "")

	_, _, err := execute(t, testEnv(&config.Config{}), "enrich", path)
	if !app.IsConfigError(err) {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestOutputFlagWritesFile(t *testing.T) {
	in := writeFile(t, "saved.geojson", takeoutExport)
	out := filepath.Join(t.TempDir(), "places.ndjson")

	stdout, _, err := execute(t, testEnv(&config.Config{PhoneRegion: "CZ"}), "import", in, "--out", out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stdout != "" {
		t.Fatalf("expected nothing on stdout, got %q", stdout)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !strings.Contains(string(data), "Pivovar U Fleku") {
		t.Fatalf("unexpected output file: %s", data)
	}
}

func TestExportValidatesFlagsBeforeConnecting(t *testing.T) {
	_, _, err := execute(t, testEnv(&config.Config{}), "export", "--only", "tea")
	if err == nil || !strings.Contains(err.Error(), `unknown domain "tea"`) {
		t.Fatalf("expected unknown domain error, got %v", err)
	}

	_, _, err = execute(t, testEnv(&config.Config{}), "export", "--only", "beer")
	if !app.IsConfigError(err) {
		t.Fatalf("expected config error without store settings, got %v", err)
	}
}
