// Package dispatch runs the requested actions against a SonarQube server and
// reports each outcome on the terminal.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/13rac1/sqpurge/internal/archive"
	"github.com/13rac1/sqpurge/internal/output"
	"github.com/13rac1/sqpurge/internal/sonarqube"
	"github.com/13rac1/sqpurge/internal/types"
)

// ProjectService is the part of the SonarQube client the dispatcher uses.
type ProjectService interface {
	Search(ctx context.Context, params sonarqube.SearchParams) ([]types.Project, error)
	Delete(ctx context.Context, projectKey string) (*sonarqube.Outcome, error)
	BulkDelete(ctx context.Context, projectKeys string) (*sonarqube.Outcome, error)
}

// Archiver stores a report of each action.
type Archiver interface {
	Archive(ctx context.Context, r archive.Report) (string, error)
}

// Params are the per-invocation inputs shared by every action in the list.
type Params struct {
	Project        string
	Projects       string
	AnalyzedBefore string
	Q              string
	DryRun         bool
}

func (p Params) filters() archive.Filters {
	return archive.Filters{
		Project:        p.Project,
		Projects:       p.Projects,
		AnalyzedBefore: p.AnalyzedBefore,
		Q:              p.Q,
	}
}

func (p Params) searchParams() sonarqube.SearchParams {
	return sonarqube.SearchParams{
		AnalyzedBefore: p.AnalyzedBefore,
		Projects:       p.Projects,
		Q:              p.Q,
	}
}

// Dispatcher runs actions one after another. A failing action never stops the
// ones after it.
type Dispatcher struct {
	svc        ProjectService
	out        io.Writer
	errOut     io.Writer
	outputFile string
	format     string
	archiver   Archiver
	server     string
	logger     *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithOutput sets where results and status messages are printed. Default os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(d *Dispatcher) { d.out = w }
}

// WithWarnings sets where non-fatal warnings are printed. Default os.Stderr.
func WithWarnings(w io.Writer) Option {
	return func(d *Dispatcher) { d.errOut = w }
}

// WithOutputFile sets the JSON results file. Default output.json.
func WithOutputFile(path string) Option {
	return func(d *Dispatcher) { d.outputFile = path }
}

// WithFormat sets the terminal format, plain or table.
func WithFormat(format string) Option {
	return func(d *Dispatcher) { d.format = format }
}

// WithArchiver enables report archival.
func WithArchiver(a Archiver) Option {
	return func(d *Dispatcher) { d.archiver = a }
}

// WithServer records the server URL in archived reports.
func WithServer(url string) Option {
	return func(d *Dispatcher) { d.server = url }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// New creates a Dispatcher backed by svc.
func New(svc ProjectService, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		svc:        svc,
		out:        os.Stdout,
		errOut:     os.Stderr,
		outputFile: output.DefaultFile,
		format:     output.FormatPlain,
		logger:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run executes each named action in order with the shared params.
// Unknown names are reported and skipped. Run stops early only when ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context, names []string, p Params) {
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			d.logger.Warn("run cancelled", "remaining_action", name, "error", err)
			return
		}

		a, ok := ParseAction(name)
		if !ok {
			fmt.Fprintf(d.out, "Unknown action: %s\n", name)
			d.logger.Warn("unknown action", "action", name)
			continue
		}

		d.logger.Info("action started", "action", a.String(), "dry_run", p.DryRun)
		switch a {
		case Search:
			d.runSearch(ctx, p)
		case Delete:
			d.runDelete(ctx, p)
		case BulkDelete:
			d.runBulkDelete(ctx, p)
		}
	}
}

func (d *Dispatcher) runSearch(ctx context.Context, p Params) {
	projects, _ := d.searchAndShow(ctx, p.searchParams())
	d.archive(ctx, archive.Report{
		Action:   Search.String(),
		DryRun:   p.DryRun,
		Filters:  p.filters(),
		Projects: projects,
	})
}

func (d *Dispatcher) runDelete(ctx context.Context, p Params) {
	if p.Project == "" {
		fmt.Fprintln(d.out, "Error: For delete action, 'project' parameter is required.")
		return
	}

	if p.DryRun {
		projects, _ := d.searchAndShow(ctx, sonarqube.SearchParams{Projects: p.Project})
		d.archive(ctx, archive.Report{
			Action:   Delete.String(),
			DryRun:   true,
			Filters:  archive.Filters{Project: p.Project},
			Projects: projects,
		})
		return
	}

	outcome, err := d.svc.Delete(ctx, p.Project)
	if err != nil {
		fmt.Fprintf(d.out, "Failed to delete project '%s': %v\n", p.Project, err)
		d.logger.Error("delete request failed", "project", p.Project, "error", err)
		return
	}

	if outcome.Succeeded() {
		fmt.Fprintf(d.out, "Project '%s' deleted successfully.\n", p.Project)
		d.logger.Info("project deleted", "project", p.Project)
	} else {
		fmt.Fprintf(d.out, "Failed to delete project '%s'. Status code: %d, Response: %s\n",
			p.Project, outcome.StatusCode, outcome.Body)
	}

	d.archive(ctx, archive.Report{
		Action:  Delete.String(),
		Filters: archive.Filters{Project: p.Project},
		Outcome: reportOutcome(outcome),
	})
}

func (d *Dispatcher) runBulkDelete(ctx context.Context, p Params) {
	if p.searchParams().IsEmpty() {
		fmt.Fprintln(d.out, "Error: For bulk_delete, at least one of projects, analyzedBefore, or q must be provided.")
		return
	}

	if p.DryRun {
		projects, _ := d.searchAndShow(ctx, p.searchParams())
		d.archive(ctx, archive.Report{
			Action:   BulkDelete.String(),
			DryRun:   true,
			Filters:  p.filters(),
			Projects: projects,
		})
		return
	}

	var projects []types.Project
	keys := p.Projects
	if keys == "" {
		var err error
		projects, err = d.svc.Search(ctx, p.searchParams())
		// Only a complete, non-empty key list is sent. Keys from a search
		// that stopped early are not deleted, and an empty list is never
		// posted, even though the server would accept either.
		if err != nil {
			d.printSearchError(err)
			fmt.Fprintln(d.out, "Bulk delete aborted: the search did not complete.")
			return
		}
		if len(projects) == 0 {
			fmt.Fprintln(d.out, "No projects matched; nothing to delete.")
			return
		}
		keys = joinKeys(projects)
	}

	outcome, err := d.svc.BulkDelete(ctx, keys)
	if err != nil {
		fmt.Fprintf(d.out, "Failed to delete projects: %v\n", err)
		d.logger.Error("bulk delete request failed", "error", err)
		return
	}

	if outcome.Succeeded() {
		fmt.Fprintln(d.out, "Projects deleted successfully.")
		d.logger.Info("projects deleted", "count", strings.Count(keys, ",")+1)
	} else {
		fmt.Fprintf(d.out, "Failed to delete projects. Status code: %d, Response: %s\n",
			outcome.StatusCode, outcome.Body)
	}

	d.archive(ctx, archive.Report{
		Action:   BulkDelete.String(),
		Filters:  p.filters(),
		Projects: projects,
		Outcome:  reportOutcome(outcome),
	})
}

// searchAndShow runs a search, overwrites the results file and prints the
// projects. Partial results from a failed search are still written and shown.
func (d *Dispatcher) searchAndShow(ctx context.Context, params sonarqube.SearchParams) ([]types.Project, error) {
	projects, err := d.svc.Search(ctx, params)
	if err != nil {
		d.printSearchError(err)
	}

	if werr := output.WriteJSONFile(d.outputFile, projects); werr != nil {
		fmt.Fprintf(d.errOut, "Warning: %v\n", werr)
		d.logger.Error("writing results file failed", "path", d.outputFile, "error", werr)
	}

	if rerr := output.Render(d.out, d.format, projects); rerr != nil {
		fmt.Fprintf(d.errOut, "Warning: %v\n", rerr)
		output.PrintProjects(d.out, projects)
	}

	d.logger.Info("search finished", "count", len(projects), "complete", err == nil)
	return projects, err
}

func (d *Dispatcher) printSearchError(err error) {
	var se *sonarqube.StatusError
	if errors.As(err, &se) {
		fmt.Fprintf(d.out, "Error: Failed to search projects. Status code: %d\n", se.StatusCode)
		return
	}
	fmt.Fprintf(d.out, "Error: Failed to search projects: %v\n", err)
	d.logger.Error("project search failed", "error", err)
}

func (d *Dispatcher) archive(ctx context.Context, r archive.Report) {
	if d.archiver == nil {
		return
	}
	r.Server = d.server

	key, err := d.archiver.Archive(ctx, r)
	if err != nil {
		fmt.Fprintf(d.errOut, "Warning: archiving %s report: %v\n", r.Action, err)
		d.logger.Warn("archiving report failed", "action", r.Action, "key", key, "error", err)
		return
	}
	fmt.Fprintf(d.errOut, "Report archived: %s\n", key)
}

func reportOutcome(o *sonarqube.Outcome) *archive.Outcome {
	return &archive.Outcome{
		StatusCode: o.StatusCode,
		Succeeded:  o.Succeeded(),
		Body:       o.Body,
	}
}

func joinKeys(projects []types.Project) string {
	keys := make([]string, len(projects))
	for i, p := range projects {
		keys[i] = p.Key
	}
	return strings.Join(keys, ",")
}
