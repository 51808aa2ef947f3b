// Package syncer reconciles the crawled task graph against the target
// page collection: it renders each task's owned block and rewrites only
// that block in each page.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/tomwilder/phabmirror/internal/conduit"
	"github.com/tomwilder/phabmirror/internal/crawler"
	"github.com/tomwilder/phabmirror/internal/entity"
	"github.com/tomwilder/phabmirror/internal/pagestore"
	"github.com/tomwilder/phabmirror/internal/render"
	"github.com/tomwilder/phabmirror/internal/resolver"
	"github.com/tomwilder/phabmirror/internal/ui"
)

const editSummary = "updated task from Phabricator"

// Options configure one sync run.
type Options struct {
	// Projects are seed project names; every member task and its
	// transitive subtasks are crawled.
	Projects []string
	// TaskIDs are explicit seed tasks.
	TaskIDs []int
	// Templates name the wiki templates rendered into page blocks.
	Templates render.Templates
	// Minimal restricts the sync to seed-reachable tasks instead of
	// unioning in every page already in the collection.
	Minimal bool
	// Create also writes pages for seed-reachable tasks that have none.
	Create bool
	// DryRun performs every fetch and render but no write-backs.
	DryRun  bool
	Verbose bool
	// SaveInfo, when set, names a page that receives the run report
	// (skipped in minimal mode and dry runs).
	SaveInfo string
	// Preload names a preload page embedded in the report's creation
	// links.
	Preload string
	// PhabURL is the install URL used for report links.
	PhabURL string
	// Actor is recorded as the editing user on stores that track one.
	Actor string
	// StateDir, when set, receives the persisted run state. Ignored on
	// dry runs.
	StateDir string
}

// Engine drives one run. All remote calls go through the shared pager,
// so the run's delay and fail-fast semantics apply uniformly.
type Engine struct {
	pager *conduit.Pager
	cache *resolver.Cache
	store pagestore.Store
	opts  Options

	out    io.Writer
	errOut io.Writer
}

// New creates an Engine. Output defaults to stdout/stderr.
func New(pager *conduit.Pager, cache *resolver.Cache, store pagestore.Store, opts Options) *Engine {
	return &Engine{
		pager:  pager,
		cache:  cache,
		store:  store,
		opts:   opts,
		out:    os.Stdout,
		errOut: os.Stderr,
	}
}

// SetOutput redirects progress and diagnostics, mainly for tests.
func (e *Engine) SetOutput(out, errOut io.Writer) {
	e.out = out
	e.errOut = errOut
}

// Run executes the sync and returns its report. Remote failures abort
// the run; only non-text pages are skipped per item.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	marks := ui.NewMarks(e.out)
	copts := crawler.Options{WithTransitions: true}
	if e.opts.Verbose {
		copts.Progress = marks.Print
	}
	c := crawler.New(e.pager, e.cache, copts)

	for _, name := range e.opts.Projects {
		n, err := c.SeedProject(ctx, name)
		if err != nil {
			return nil, err
		}
		marks.Break()
		e.verbosef("Found %d tasks in project %s\n", n, name)
	}
	if len(e.opts.TaskIDs) > 0 {
		if err := c.SeedTasks(ctx, e.opts.TaskIDs); err != nil {
			return nil, err
		}
		marks.Break()
	}
	graph := c.Graph()

	pages, err := e.collectPages(ctx, graph)
	if err != nil {
		return nil, err
	}

	// Pages whose task was not seed-reachable still get synced so the
	// collection stays current.
	for _, id := range sortedIDs(pages) {
		if _, ok := graph.Task(id); !ok {
			if err := c.FetchTask(ctx, id); err != nil {
				return nil, err
			}
		}
	}
	marks.Break()

	if err := e.cache.ResolvePendingColumns(ctx); err != nil {
		return nil, err
	}

	report := &Report{
		Projects: e.opts.Projects,
		DryRun:   e.opts.DryRun,
		Pages:    len(pages),
		Tasks:    graph.TaskCount(),
	}
	state := e.newRunState()

	for _, id := range sortedIDs(pages) {
		key := pages[id]
		task, ok := graph.Task(id)
		if !ok {
			// Page exists but Phabricator no longer has the task.
			report.TasksGone++
			state.SetPage(key, &PageState{TaskID: id, Outcome: OutcomeTaskGone})
			continue
		}
		block := render.Task(task, e.opts.Templates, e.cache)
		report.Rendered++

		if e.opts.DryRun {
			state.SetPage(key, &PageState{TaskID: id, Outcome: OutcomeWouldUpdate})
			continue
		}
		outcome, err := e.writeBack(ctx, key, block)
		if err != nil {
			return nil, err
		}
		switch outcome {
		case OutcomeUpdated:
			report.Updated++
			if e.opts.Verbose {
				marks.Print("E")
			}
		case OutcomeCreated:
			report.Created++
			if e.opts.Verbose {
				marks.Print("E")
			}
		case OutcomeNotText:
			report.SkippedNotText++
		}
		state.SetPage(key, &PageState{TaskID: id, Outcome: outcome})
	}
	marks.Break()

	report.Missing = missingPages(graph, pages)

	if e.opts.SaveInfo != "" && !e.opts.Minimal {
		info := report.InfoWikitext(e.opts.PhabURL, e.opts.Preload)
		e.verbosef("\n%s", info)
		if !e.opts.DryRun {
			if err := e.store.ReplaceBody(ctx, e.opts.SaveInfo, info, "updated info from Phabricator", e.opts.Actor); err != nil {
				return nil, err
			}
		}
	}

	if err := state.Finish(); err != nil {
		ui.Warnf(e.errOut, "persist run state: %v", err)
	}
	return report, nil
}

// collectPages maps task ids to their target page keys: every graph
// task when creating or minimal, unioned with the existing collection
// otherwise.
func (e *Engine) collectPages(ctx context.Context, graph *crawler.Graph) (map[int]string, error) {
	pages := make(map[int]string)
	if e.opts.Create || e.opts.Minimal {
		for _, id := range graph.IDs() {
			pages[id] = "T" + strconv.Itoa(id)
		}
	}
	if !e.opts.Minimal {
		keys, err := e.store.List(ctx)
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			id, ok := parsePageKey(key)
			if !ok {
				continue
			}
			pages[id] = key
		}
		e.verbosef("Found %d pages in the target collection\n", len(keys))
	}
	return pages, nil
}

// writeBack replaces the owned block in one page: everything before the
// block marker is preserved byte for byte, the marker and everything
// after it is replaced by the fresh block.
func (e *Engine) writeBack(ctx context.Context, key, block string) (PageOutcome, error) {
	marker := e.opts.Templates.Marker()
	body := ""
	existed := false

	exists, err := e.store.Exists(ctx, key)
	if err != nil {
		return "", err
	}
	if exists {
		existed = true
		body, err = e.store.ReadBody(ctx, key)
		if errors.Is(err, pagestore.ErrNotText) {
			fmt.Fprintf(e.errOut, "%s is not a text page.\n", key)
			return OutcomeNotText, nil
		}
		if err != nil {
			return "", err
		}
		if idx := strings.Index(body, marker); idx >= 0 {
			body = body[:idx]
		}
	}

	if err := e.store.ReplaceBody(ctx, key, body+block, editSummary, e.opts.Actor); err != nil {
		return "", err
	}
	if existed {
		return OutcomeUpdated, nil
	}
	return OutcomeCreated, nil
}

func (e *Engine) newRunState() *RunState {
	if e.opts.StateDir == "" || e.opts.DryRun {
		return discardedRunState()
	}
	s, err := NewRunState(e.opts.StateDir, e.opts.Projects, e.opts.DryRun)
	if err != nil {
		ui.Warnf(e.errOut, "run state unavailable: %v", err)
		return discardedRunState()
	}
	return s
}

func (e *Engine) verbosef(format string, args ...any) {
	if e.opts.Verbose {
		fmt.Fprintf(e.out, format, args...)
	}
}

// parsePageKey extracts the task id from a page key like "T123" or a
// bare "123". Anything else is caller-owned and skipped.
func parsePageKey(key string) (int, bool) {
	s := strings.TrimPrefix(key, "T")
	id, err := strconv.Atoi(s)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func sortedIDs(pages map[int]string) []int {
	ids := make([]int, 0, len(pages))
	for id := range pages {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// missingPages lists open seed-reachable tasks with no page yet, in id
// order: the creation candidates the report advertises.
func missingPages(graph *crawler.Graph, pages map[int]string) []MissingPage {
	var missing []MissingPage
	for _, id := range graph.IDs() {
		task, _ := graph.Task(id)
		if !task.FromSeed || task.Status != entity.StatusOpen {
			continue
		}
		if _, ok := pages[id]; ok {
			continue
		}
		missing = append(missing, MissingPage{TaskID: id, Key: "T" + strconv.Itoa(id)})
	}
	return missing
}
