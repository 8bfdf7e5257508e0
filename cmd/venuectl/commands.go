package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/octobees/venue-pipeline/internal/app"
	"github.com/octobees/venue-pipeline/internal/config"
	"github.com/octobees/venue-pipeline/internal/entity"
	"github.com/octobees/venue-pipeline/internal/importer"
	"github.com/octobees/venue-pipeline/internal/ndjson"
	"github.com/octobees/venue-pipeline/internal/scraper"
	"github.com/octobees/venue-pipeline/internal/service"
	"github.com/octobees/venue-pipeline/internal/service/enrich"
	"github.com/octobees/venue-pipeline/internal/service/normalize"
	"github.com/octobees/venue-pipeline/internal/service/upload"
)

// errInvalid makes the process exit non-zero after a report was printed.
var errInvalid = errors.New("validation failed")

type buildFunc func(ctx context.Context, cfg *config.Config, logger zerolog.Logger, needs app.Needs, opts app.Options) (*app.Components, error)

// env carries what commands need from the process.
type env struct {
	loadConfig func() (*config.Config, error)
	build      buildFunc
}

func defaultEnv() env {
	return env{loadConfig: config.Load, build: app.Build}
}

type globalFlags struct {
	out     string
	verbose bool
	domains []string
}

func newRootCommand(e env) *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "venuectl",
		Short:         "Reconcile venue records into the document store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.out, "out", "o", "-", "output file, - for stdout")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "log progress to stderr")
	root.PersistentFlags().StringSliceVar(&flags.domains, "domain", nil, "force domains instead of inferring them (beer, coffee, vino, guide)")

	r := &runner{env: e, flags: flags}
	root.AddCommand(
		r.importCommand(),
		r.normalizeCommand(),
		r.validateCommand(),
		r.dedupeCommand(),
		r.enrichCommand(),
		r.uploadCommand(),
		r.runCommand(),
		r.scrapeCommand(),
		r.exportCommand(),
	)
	return root
}

type runner struct {
	env   env
	flags *globalFlags
}

func (r *runner) logger(cmd *cobra.Command) zerolog.Logger {
	if !r.flags.verbose {
		return zerolog.Nop()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr()}).With().Timestamp().Logger()
}

func (r *runner) components(cmd *cobra.Command, needs app.Needs) (*app.Components, error) {
	cfg, err := r.env.loadConfig()
	if err != nil {
		return nil, err
	}
	var opts app.Options
	if len(r.flags.domains) > 0 {
		domains := make([]entity.Domain, 0, len(r.flags.domains))
		for _, d := range r.flags.domains {
			domain := entity.Domain(strings.ToLower(strings.TrimSpace(d)))
			if !domain.Valid() {
				return nil, fmt.Errorf("unknown domain %q", d)
			}
			domains = append(domains, domain)
		}
		opts.Normalize = append(opts.Normalize, normalize.WithDomains(domains...))
	}
	return r.env.build(cmd.Context(), cfg, r.logger(cmd), needs, opts)
}

func (r *runner) output(cmd *cobra.Command) (io.Writer, func() error, error) {
	if r.flags.out == "" || r.flags.out == "-" {
		return cmd.OutOrStdout(), func() error { return nil }, nil
	}
	f, err := os.Create(r.flags.out)
	if err != nil {
		return nil, err
	}
	return f, f.Close, nil
}

func (r *runner) writePlaces(cmd *cobra.Command, places []*entity.Place) error {
	w, done, err := r.output(cmd)
	if err != nil {
		return err
	}
	if err := ndjson.Write(w, places); err != nil {
		done()
		return err
	}
	return done()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func readPlaces(path string) ([]*entity.Place, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ndjson.Read(f)
}

// readRaw accepts either a JSON array of raw records or a GeoJSON feature
// collection.
func readRaw(path string, requireCoords bool) ([]entity.RawRecord, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var records []entity.RawRecord
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, 0, fmt.Errorf("decode raw records: %w", err)
		}
		return records, 0, nil
	}
	res, err := importer.ImportFeatureCollection(strings.NewReader(trimmed), importer.Options{RequireCoordinates: requireCoords})
	if err != nil {
		return nil, 0, err
	}
	return res.Records, res.Skipped(), nil
}

func (r *runner) importCommand() *cobra.Command {
	var requireCoords bool
	cmd := &cobra.Command{
		Use:   "import <file.geojson>",
		Short: "Convert a saved-places GeoJSON export into NDJSON places",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			comps, err := r.components(cmd, app.Needs{})
			if err != nil {
				return err
			}
			defer comps.Close()

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			report, err := comps.Service.Import(f, importer.Options{RequireCoordinates: requireCoords})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "imported %d of %d features (%d without title, %d without coordinates)\n",
				len(report.Places), report.Total, report.SkippedNoTitle, report.SkippedNoCoords)
			return r.writePlaces(cmd, report.Places)
		},
	}
	cmd.Flags().BoolVar(&requireCoords, "require-coordinates", true, "skip features without usable coordinates")
	return cmd
}

func (r *runner) normalizeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "normalize <raw.json>",
		Short: "Normalize a JSON array of raw records into NDJSON places",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			comps, err := r.components(cmd, app.Needs{})
			if err != nil {
				return err
			}
			defer comps.Close()

			raws, _, err := readRaw(args[0], false)
			if err != nil {
				return err
			}
			report := comps.Service.Normalize(raws)
			for _, msg := range report.Errors {
				fmt.Fprintln(cmd.ErrOrStderr(), "skipped:", msg)
			}
			return r.writePlaces(cmd, report.Places)
		},
	}
}

func (r *runner) validateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <places.ndjson>",
		Short: "Validate an NDJSON place stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			comps, err := r.components(cmd, app.Needs{})
			if err != nil {
				return err
			}
			defer comps.Close()

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			res, err := comps.Service.ValidateStream(f)
			if err != nil {
				return err
			}
			w, done, err := r.output(cmd)
			if err != nil {
				return err
			}
			if err := writeJSON(w, res); err != nil {
				done()
				return err
			}
			if err := done(); err != nil {
				return err
			}
			if !res.Valid {
				return errInvalid
			}
			return nil
		},
	}
}

func (r *runner) dedupeCommand() *cobra.Command {
	var (
		threshold    float64
		againstStore bool
		reportPath   string
	)
	cmd := &cobra.Command{
		Use:   "dedupe <places.ndjson>",
		Short: "Drop near-duplicate places, writing the unique ones",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			comps, err := r.components(cmd, app.Needs{Store: againstStore})
			if err != nil {
				return err
			}
			defer comps.Close()

			places, err := readPlaces(args[0])
			if err != nil {
				return err
			}
			report, err := comps.Service.Dedupe(cmd.Context(), places, service.DedupeOptions{ThresholdMeters: threshold, AgainstStore: againstStore})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%d unique, %d duplicates in batch, %d already stored, %d unchecked\n",
				len(report.Unique), len(report.Duplicates), len(report.StoreDuplicates), len(report.Unchecked))
			if reportPath != "" {
				f, err := os.Create(reportPath)
				if err != nil {
					return err
				}
				if err := writeJSON(f, report); err != nil {
					f.Close()
					return err
				}
				if err := f.Close(); err != nil {
					return err
				}
			}
			return r.writePlaces(cmd, report.Unique)
		},
	}
	cmd.Flags().Float64Var(&threshold, "threshold", 50, "duplicate distance threshold in meters")
	cmd.Flags().BoolVar(&againstStore, "against-store", false, "also compare with stored documents")
	cmd.Flags().StringVar(&reportPath, "report", "", "write the full duplicate report as JSON")
	return cmd
}

func (r *runner) enrichCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "enrich <places.ndjson>",
		Short: "Fill missing fields from the place provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			comps, err := r.components(cmd, app.Needs{Provider: true})
			if err != nil {
				return err
			}
			defer comps.Close()

			places, err := readPlaces(args[0])
			if err != nil {
				return err
			}
			stderr := cmd.ErrOrStderr()
			res, err := comps.Service.Enrich(cmd.Context(), places, func(p enrich.Progress) {
				fmt.Fprintf(stderr, "[%d/%d] %s\n", p.Current, p.Total, p.Name)
			})
			for _, e := range res.Errors {
				fmt.Fprintf(stderr, "failed: %s: %v\n", e.Place.Name, e.Err)
			}
			fmt.Fprintf(stderr, "%d enriched, %d skipped, %d failed\n", res.EnrichedCount, res.SkippedCount, len(res.Errors))
			if writeErr := r.writePlaces(cmd, res.Places); writeErr != nil {
				return writeErr
			}
			return err
		},
	}
}

type syncFlags struct {
	dryRun      bool
	replace     bool
	missingOnly bool
	batch       bool
}

func (f *syncFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "report actions without writing")
	cmd.Flags().BoolVar(&f.replace, "replace", false, "replace documents that already exist")
	cmd.Flags().BoolVar(&f.missingOnly, "missing-only", false, "only create documents that do not exist")
	cmd.Flags().BoolVar(&f.batch, "batch", false, "write in atomic transactions of 100 documents")
}

func (f *syncFlags) options() service.SyncOptions {
	return service.SyncOptions{
		Options: upload.Options{DryRun: f.dryRun, Replace: f.replace, MissingOnly: f.missingOnly},
		Batch:   f.batch,
	}
}

func (r *runner) uploadCommand() *cobra.Command {
	flags := &syncFlags{}
	cmd := &cobra.Command{
		Use:   "upload <places.ndjson>",
		Short: "Create, replace or skip places in the document store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			comps, err := r.components(cmd, app.Needs{Store: true})
			if err != nil {
				return err
			}
			defer comps.Close()

			places, err := readPlaces(args[0])
			if err != nil {
				return err
			}
			stats, err := comps.Service.Sync(cmd.Context(), places, flags.options())
			if writeErr := writeJSON(cmd.OutOrStdout(), stats); writeErr != nil {
				return writeErr
			}
			return err
		},
	}
	flags.register(cmd)
	return cmd
}

func (r *runner) runCommand() *cobra.Command {
	var (
		opts          service.RunOptions
		requireCoords bool
	)
	flags := &syncFlags{}
	cmd := &cobra.Command{
		Use:   "run <raw.json|export.geojson>",
		Short: "Normalize, validate, dedupe, enrich and upload in one pass",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			comps, err := r.components(cmd, app.Needs{Store: opts.Sync || opts.Dedupe.AgainstStore, Provider: opts.Enrich})
			if err != nil {
				return err
			}
			defer comps.Close()

			raws, skipped, err := readRaw(args[0], requireCoords)
			if err != nil {
				return err
			}
			if skipped > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "skipped %d features during import\n", skipped)
			}
			opts.SyncOptions = flags.options()
			report, err := comps.Service.Run(cmd.Context(), raws, opts)
			w, done, outErr := r.output(cmd)
			if outErr != nil {
				return outErr
			}
			if writeErr := writeJSON(w, report); writeErr != nil {
				done()
				return writeErr
			}
			if closeErr := done(); closeErr != nil {
				return closeErr
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&opts.DropInvalid, "drop-invalid", true, "drop places with validation errors")
	cmd.Flags().Float64Var(&opts.Dedupe.ThresholdMeters, "threshold", 50, "duplicate distance threshold in meters")
	cmd.Flags().BoolVar(&opts.Dedupe.AgainstStore, "against-store", false, "also compare with stored documents")
	cmd.Flags().BoolVar(&opts.Enrich, "enrich", false, "enrich from the place provider")
	cmd.Flags().BoolVar(&opts.Sync, "sync", false, "upload to the document store")
	cmd.Flags().BoolVar(&requireCoords, "require-coordinates", false, "skip GeoJSON features without coordinates")
	flags.register(cmd)
	return cmd
}

func (r *runner) scrapeCommand() *cobra.Command {
	var (
		source   string
		opts     scraper.Options
		lat, lng float64
		detail   string
	)
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Collect raw records from a source and write normalized places",
		RunE: func(cmd *cobra.Command, args []string) error {
			comps, err := r.components(cmd, app.Needs{Provider: source == "provider"})
			if err != nil {
				return err
			}
			defer comps.Close()

			src, ok := comps.Sources[source]
			if !ok {
				return fmt.Errorf("source %q is not configured", source)
			}
			var raws []entity.RawRecord
			if detail != "" {
				record, err := src.ScrapeDetail(cmd.Context(), detail)
				if err != nil {
					return err
				}
				if record != nil {
					raws = append(raws, *record)
				}
			} else {
				if cmd.Flags().Changed("lat") && cmd.Flags().Changed("lng") {
					opts.Near = &entity.GeoPoint{Lat: lat, Lng: lng}
				}
				res, err := src.Scrape(cmd.Context(), opts)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %d records, %d skipped\n", res.Source, len(res.Records), res.Skipped)
				raws = res.Records
			}
			report := comps.Service.Normalize(raws)
			return r.writePlaces(cmd, report.Places)
		},
	}
	cmd.Flags().StringVar(&source, "source", "provider", "provider, takeout or worker")
	cmd.Flags().StringVar(&opts.Query, "query", "", "search keyword")
	cmd.Flags().Float64Var(&lat, "lat", 0, "search center latitude")
	cmd.Flags().Float64Var(&lng, "lng", 0, "search center longitude")
	cmd.Flags().Float64Var(&opts.RadiusMeters, "radius", 0, "search radius in meters")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of records")
	cmd.Flags().StringVar(&opts.Path, "file", "", "export file for the takeout source")
	cmd.Flags().StringVar(&detail, "url", "", "scrape a single detail page instead of searching")
	return cmd
}

func (r *runner) exportCommand() *cobra.Command {
	var (
		domain string
		ids    []string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write stored places as NDJSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := service.ExportOptions{IDs: ids, Limit: limit}
			if domain != "" {
				opts.Domain = entity.Domain(strings.ToLower(strings.TrimSpace(domain)))
				if !opts.Domain.Valid() {
					return fmt.Errorf("unknown domain %q", domain)
				}
			}
			comps, err := r.components(cmd, app.Needs{Store: true})
			if err != nil {
				return err
			}
			defer comps.Close()

			places, err := comps.Service.Export(cmd.Context(), opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "exported %d places\n", len(places))
			return r.writePlaces(cmd, places)
		},
	}
	cmd.Flags().StringVar(&domain, "only", "", "only export places of one domain")
	cmd.Flags().StringSliceVar(&ids, "id", nil, "export these document ids")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of places")
	return cmd
}
