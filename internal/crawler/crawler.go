// Package crawler discovers tasks from seed projects and ids, expands
// their subtasks breadth-first, and assembles the task graph. Every
// task id moves through unseen → fetching → resolved exactly once; a
// resolved task is never re-fetched, which bounds the crawl even on
// malformed cyclic data.
package crawler

import (
	"context"
	"strconv"

	"github.com/tidwall/gjson"

	"github.com/tomwilder/phabmirror/internal/conduit"
	"github.com/tomwilder/phabmirror/internal/entity"
	"github.com/tomwilder/phabmirror/internal/resolver"
	"github.com/tomwilder/phabmirror/internal/transitions"
)

// defaultBatch is Conduit's result page size; larger id batches gain
// nothing.
const defaultBatch = 100

// Options configure a crawl.
type Options struct {
	// Statuses constrains every task search; empty means all statuses.
	Statuses []string
	// WithTransitions fetches each task's event log and derives its
	// transition history. The graph view skips this.
	WithTransitions bool
	// BatchSize caps ids per explicit-id search. Zero means 100.
	BatchSize int
	// Progress, when set, receives one mark per parsed task.
	Progress func(mark string)
}

// Crawler builds one Graph per run.
type Crawler struct {
	pager *conduit.Pager
	cache *resolver.Cache
	opts  Options
	graph *Graph

	// queue holds resolved task ids whose subtasks are not yet expanded.
	queue []int
}

// New creates a Crawler writing into a fresh Graph.
func New(pager *conduit.Pager, cache *resolver.Cache, opts Options) *Crawler {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatch
	}
	return &Crawler{pager: pager, cache: cache, opts: opts, graph: NewGraph()}
}

// Graph returns the graph built so far.
func (c *Crawler) Graph() *Graph { return c.graph }

// SeedProject crawls every task in the named project, marking them and
// their discovered subtasks' ancestors as seed-reachable. It returns
// the number of tasks the project search itself matched.
func (c *Crawler) SeedProject(ctx context.Context, name string) (int, error) {
	recs, err := c.pager.FetchAll(ctx, "maniphest.search", c.searchParams(map[string]any{
		"projects": []string{name},
	}))
	if err != nil {
		return 0, err
	}
	for _, rec := range recs {
		if _, err := c.parseRecord(ctx, rec, true); err != nil {
			return 0, err
		}
	}
	return len(recs), c.drain(ctx)
}

// SeedTasks crawls the explicitly requested task ids, batched. Ids
// already resolved only get their seed flag flipped; first-seen data is
// kept even if the remote record changed in between.
func (c *Crawler) SeedTasks(ctx context.Context, ids []int) error {
	var missing []int
	for _, id := range ids {
		if t, ok := c.graph.Task(id); ok {
			t.FromSeed = true
			continue
		}
		missing = append(missing, id)
	}
	for start := 0; start < len(missing); start += c.opts.BatchSize {
		end := start + c.opts.BatchSize
		if end > len(missing) {
			end = len(missing)
		}
		recs, err := c.pager.FetchAll(ctx, "maniphest.search", c.searchParams(map[string]any{
			"ids": missing[start:end],
		}))
		if err != nil {
			return err
		}
		for _, rec := range recs {
			if _, err := c.parseRecord(ctx, rec, true); err != nil {
				return err
			}
		}
	}
	return c.drain(ctx)
}

// FetchTask resolves one task that exists in the target collection but
// was not reached from any seed. Its subtasks are expanded as usual.
func (c *Crawler) FetchTask(ctx context.Context, id int) error {
	if _, ok := c.graph.Task(id); ok {
		return nil
	}
	recs, err := c.pager.FetchAll(ctx, "maniphest.search", c.searchParams(map[string]any{
		"ids": []int{id},
	}))
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if _, err := c.parseRecord(ctx, rec, false); err != nil {
			return err
		}
	}
	return c.drain(ctx)
}

// drain expands queued subtask searches until no task awaits expansion.
// The queue strictly shrinks unless genuinely new tasks are discovered,
// so the loop terminates once every discovered id is resolved.
func (c *Crawler) drain(ctx context.Context) error {
	for len(c.queue) > 0 {
		parent := c.queue[0]
		c.queue = c.queue[1:]

		recs, err := c.pager.FetchAll(ctx, "maniphest.search", c.searchParams(map[string]any{
			"parentIDs": []int{parent},
		}))
		if err != nil {
			return err
		}
		for _, rec := range recs {
			child, err := c.parseRecord(ctx, rec, false)
			if err != nil {
				return err
			}
			c.graph.addEdge(parent, child)
			if p, ok := c.graph.Task(parent); ok {
				p.Subtasks = appendUnique(p.Subtasks, child)
			}
		}
	}
	return nil
}

func (c *Crawler) searchParams(constraints map[string]any) map[string]any {
	if len(c.opts.Statuses) > 0 {
		constraints["statuses"] = c.opts.Statuses
	}
	return map[string]any{
		"constraints": constraints,
		"attachments": map[string]any{
			"projects": []bool{true},
			"columns":  []bool{true},
		},
	}
}

// parseRecord turns one search record into a resolved Task and queues
// its subtask expansion. Re-encountering a resolved task only updates
// the seed flag.
func (c *Crawler) parseRecord(ctx context.Context, rec gjson.Result, fromSeed bool) (int, error) {
	id := int(rec.Get("id").Int())
	if t, ok := c.graph.Task(id); ok {
		if fromSeed {
			t.FromSeed = true
		}
		return id, nil
	}
	c.mark("P")

	t := &entity.Task{
		ID:           id,
		PHID:         rec.Get("phid").String(),
		Name:         rec.Get("fields.name").String(),
		Status:       entity.Status(rec.Get("fields.status.value").String()),
		Color:        rec.Get("fields.priority.color").String(),
		DateCreated:  rec.Get("fields.dateCreated").Int(),
		DateModified: rec.Get("fields.dateModified").Int(),
		DateClosed:   rec.Get("fields.dateClosed").Int(),
		FromSeed:     fromSeed,
	}
	if points := rec.Get("fields.points"); points.Exists() && points.Type != gjson.Null {
		t.Points = points.String()
	}

	if author := rec.Get("fields.authorPHID"); author.Type == gjson.String {
		t.AuthorPHID = author.String()
		u, err := c.cache.User(ctx, t.AuthorPHID)
		if err != nil {
			return 0, err
		}
		t.Author = u
	}
	if owner := rec.Get("fields.ownerPHID"); owner.Type == gjson.String {
		t.OwnerPHID = owner.String()
		u, err := c.cache.User(ctx, t.OwnerPHID)
		if err != nil {
			return 0, err
		}
		t.Owner = u
	}

	var events []gjson.Result
	if c.opts.WithTransitions {
		log, err := c.pager.CallRaw(ctx, "maniphest.gettasktransactions", map[string]any{
			"ids": []int{id},
		})
		if err != nil {
			return 0, err
		}
		events = log.Get(strconv.Itoa(id)).Array()

		trans, touched, err := transitions.Parse(ctx, events, c.cache)
		if err != nil {
			return 0, err
		}
		t.Transitions = trans
		for _, phid := range touched {
			c.cache.MarkColumn(phid)
		}
	}

	if err := c.parseMemberships(ctx, rec, t, events); err != nil {
		return 0, err
	}

	c.graph.insert(t)
	c.queue = append(c.queue, id)
	return id, nil
}

// parseMemberships resolves the task's project attachments and, where
// board data is attached, the current column and effective entry date.
func (c *Crawler) parseMemberships(ctx context.Context, rec gjson.Result, t *entity.Task, events []gjson.Result) error {
	for _, ref := range rec.Get("attachments.projects.projectPHIDs").Array() {
		phid := ref.String()
		p, err := c.cache.Project(ctx, phid)
		if err != nil {
			return err
		}
		if p == nil {
			// Unresolvable reference: omitted downstream.
			continue
		}
		m := entity.Membership{
			Key:         p.Name + phid,
			ProjectPHID: phid,
			Project:     p.FullName(),
			EntryDate:   t.DateCreated,
		}
		board := rec.Get("attachments.columns.boards." + phid + ".columns.0")
		if board.Exists() {
			m.Column = board.Get("name").String()
			colPHID := board.Get("phid").String()
			c.cache.PutColumn(&entity.Column{
				PHID:    colPHID,
				Project: p.FullName(),
				Name:    m.Column,
			})
			m.EntryDate = transitions.EntryDate(events, colPHID, t.DateCreated)
		}
		t.Memberships = append(t.Memberships, m)
	}
	return nil
}

func (c *Crawler) mark(s string) {
	if c.opts.Progress != nil {
		c.opts.Progress(s)
	}
}

func appendUnique(ids []int, id int) []int {
	for _, have := range ids {
		if have == id {
			return ids
		}
	}
	return append(ids, id)
}
