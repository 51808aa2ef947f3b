// Package resolver memoizes Project, Column, and User lookups so each
// PHID is fetched at most once per run.
package resolver

import (
	"context"

	"github.com/tidwall/gjson"

	"github.com/tomwilder/phabmirror/internal/conduit"
	"github.com/tomwilder/phabmirror/internal/entity"
)

// Cache resolves Phabricator entities through a Pager and keeps every
// result for the rest of the run. A PHID that resolves to zero records
// is left unresolved; callers must tolerate missing entries.
type Cache struct {
	pager *conduit.Pager

	projects map[string]*entity.Project
	users    map[string]*entity.User
	columns  map[string]*entity.Column

	// misses records identifiers that resolved to zero records, so a
	// repeated request does not repeat the remote call.
	misses map[string]bool

	// pending holds column PHIDs seen only as bare references, in
	// first-seen order, for the deferred resolution pass.
	pending     []string
	pendingSeen map[string]bool
}

// New creates an empty Cache over pager.
func New(pager *conduit.Pager) *Cache {
	return &Cache{
		pager:       pager,
		projects:    make(map[string]*entity.Project),
		users:       make(map[string]*entity.User),
		columns:     make(map[string]*entity.Column),
		misses:      make(map[string]bool),
		pendingSeen: make(map[string]bool),
	}
}

// Project resolves a project PHID, fetching it on first use. A miss
// returns (nil, nil).
func (c *Cache) Project(ctx context.Context, phid string) (*entity.Project, error) {
	if p, ok := c.projects[phid]; ok {
		return p, nil
	}
	if c.misses[phid] {
		return nil, nil
	}
	recs, err := c.pager.FetchAll(ctx, "project.search", map[string]any{
		"constraints": map[string]any{"phids": []string{phid}},
	})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		c.misses[phid] = true
		return nil, nil
	}
	p := parseProject(recs[0])
	c.projects[p.PHID] = p
	return p, nil
}

// User resolves a user PHID, fetching it on first use. A miss returns
// (nil, nil).
func (c *Cache) User(ctx context.Context, phid string) (*entity.User, error) {
	if u, ok := c.users[phid]; ok {
		return u, nil
	}
	if c.misses[phid] {
		return nil, nil
	}
	recs, err := c.pager.FetchAll(ctx, "user.search", map[string]any{
		"constraints": map[string]any{"phids": []string{phid}},
	})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		c.misses[phid] = true
		return nil, nil
	}
	u := parseUser(recs[0])
	c.users[u.PHID] = u
	return u, nil
}

// Column resolves a column PHID, fetching it on first use. A miss
// returns (nil, nil). Columns discovered through board attachments or
// the deferred pass are served from the cache without a call.
func (c *Cache) Column(ctx context.Context, phid string) (*entity.Column, error) {
	if col, ok := c.columns[phid]; ok {
		return col, nil
	}
	if c.misses[phid] {
		return nil, nil
	}
	recs, err := c.pager.FetchAll(ctx, "project.column.search", map[string]any{
		"constraints": map[string]any{"phids": []string{phid}},
	})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		c.misses[phid] = true
		return nil, nil
	}
	col := c.parseColumn(recs[0])
	c.columns[col.PHID] = col
	return col, nil
}

// LookupColumn returns a cached column without fetching.
func (c *Cache) LookupColumn(phid string) (*entity.Column, bool) {
	col, ok := c.columns[phid]
	return col, ok
}

// PutColumn stores a column known eagerly from a task's board
// attachment, removing any pending reference to it.
func (c *Cache) PutColumn(col *entity.Column) {
	c.columns[col.PHID] = col
}

// MarkColumn records a bare column reference for the deferred
// resolution pass. Already-resolved columns are not re-queued.
func (c *Cache) MarkColumn(phid string) {
	if _, ok := c.columns[phid]; ok {
		return
	}
	if c.pendingSeen[phid] {
		return
	}
	c.pendingSeen[phid] = true
	c.pending = append(c.pending, phid)
}

// ResolvePendingColumns fetches every marked column that eager board
// data did not cover, in one batched search.
func (c *Cache) ResolvePendingColumns(ctx context.Context) error {
	var missing []string
	for _, phid := range c.pending {
		if _, ok := c.columns[phid]; !ok {
			missing = append(missing, phid)
		}
	}
	c.pending = nil
	if len(missing) == 0 {
		return nil
	}
	recs, err := c.pager.FetchAll(ctx, "project.column.search", map[string]any{
		"constraints": map[string]any{"phids": missing},
	})
	if err != nil {
		return err
	}
	for _, rec := range recs {
		col := c.parseColumn(rec)
		c.columns[col.PHID] = col
	}
	return nil
}

// Projects returns the resolved project cache, keyed by PHID.
func (c *Cache) Projects() map[string]*entity.Project { return c.projects }

// Users returns the resolved user cache, keyed by PHID.
func (c *Cache) Users() map[string]*entity.User { return c.users }

func parseProject(rec gjson.Result) *entity.Project {
	p := &entity.Project{
		ID:    int(rec.Get("id").Int()),
		PHID:  rec.Get("phid").String(),
		Name:  rec.Get("fields.name").String(),
		Color: rec.Get("fields.color.key").String(),
	}
	if parent := rec.Get("fields.parent.name"); parent.Exists() && parent.Type != gjson.Null {
		p.ParentName = parent.String()
	}
	return p
}

func parseUser(rec gjson.Result) *entity.User {
	return &entity.User{
		ID:       int(rec.Get("id").Int()),
		PHID:     rec.Get("phid").String(),
		Username: rec.Get("fields.username").String(),
		RealName: rec.Get("fields.realName").String(),
	}
}

// parseColumn prefers the cached owning project's display name over the
// bare name embedded in the column record.
func (c *Cache) parseColumn(rec gjson.Result) *entity.Column {
	projectName := rec.Get("fields.project.name").String()
	if p, ok := c.projects[rec.Get("fields.project.phid").String()]; ok {
		projectName = p.FullName()
	}
	return &entity.Column{
		PHID:    rec.Get("phid").String(),
		Project: projectName,
		Name:    rec.Get("fields.name").String(),
	}
}
