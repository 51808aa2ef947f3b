package resolver

import (
	"context"
	"testing"

	"github.com/tidwall/gjson"

	"github.com/tomwilder/phabmirror/internal/conduit"
	"github.com/tomwilder/phabmirror/internal/entity"
)

// countingCaller serves canned search results and counts calls per method.
type countingCaller struct {
	responses  map[string]string // method -> raw result JSON
	calls      map[string]int
	lastParams map[string]any
}

func newCountingCaller(responses map[string]string) *countingCaller {
	return &countingCaller{responses: responses, calls: make(map[string]int)}
}

func (c *countingCaller) Call(ctx context.Context, method string, params map[string]any) (gjson.Result, error) {
	c.calls[method]++
	c.lastParams = params
	raw, ok := c.responses[method]
	if !ok {
		raw = `{"data":[]}`
	}
	return gjson.Parse(raw), nil
}

func TestProject_ResolvedOncePerRun(t *testing.T) {
	caller := newCountingCaller(map[string]string{
		"project.search": `{"data":[{"id":12,"phid":"PHID-PROJ-aaa","fields":{"name":"Analytics","color":{"key":"blue"}}}]}`,
	})
	cache := New(conduit.NewPager(caller, 0))

	for i := 0; i < 2; i++ {
		p, err := cache.Project(context.Background(), "PHID-PROJ-aaa")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p == nil || p.Name != "Analytics" {
			t.Fatalf("attempt %d: unexpected project %+v", i, p)
		}
	}
	if caller.calls["project.search"] != 1 {
		t.Errorf("expected exactly 1 remote call, got %d", caller.calls["project.search"])
	}
}

func TestProject_ParentComposesDisplayName(t *testing.T) {
	caller := newCountingCaller(map[string]string{
		"project.search": `{"data":[{"id":3,"phid":"PHID-PROJ-sub","fields":{"name":"Sprint 4","color":{"key":"green"},"parent":{"name":"Platform"}}}]}`,
	})
	cache := New(conduit.NewPager(caller, 0))

	p, err := cache.Project(context.Background(), "PHID-PROJ-sub")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name != "Sprint 4" {
		t.Errorf("bare name: expected Sprint 4, got %q", p.Name)
	}
	if got := p.FullName(); got != "Platform (Sprint 4)" {
		t.Errorf("display name: expected Platform (Sprint 4), got %q", got)
	}
}

func TestUser_MissIsNotAnError(t *testing.T) {
	caller := newCountingCaller(nil)
	cache := New(conduit.NewPager(caller, 0))

	u, err := cache.User(context.Background(), "PHID-USER-gone")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u != nil {
		t.Errorf("expected nil for unresolvable user, got %+v", u)
	}
	// The miss is remembered: a second request issues no new call.
	if _, err := cache.User(context.Background(), "PHID-USER-gone"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if caller.calls["user.search"] != 1 {
		t.Errorf("expected 1 call total, got %d", caller.calls["user.search"])
	}
}

func TestResolvePendingColumns_BatchesOnlyUnresolved(t *testing.T) {
	caller := newCountingCaller(map[string]string{
		"project.column.search": `{"data":[
			{"phid":"PHID-PCOL-b","fields":{"name":"Doing","project":{"phid":"PHID-PROJ-x","name":"Widgets"}}}
		]}`,
	})
	cache := New(conduit.NewPager(caller, 0))

	cache.PutColumn(&entity.Column{PHID: "PHID-PCOL-a", Project: "Widgets", Name: "Backlog"})
	cache.MarkColumn("PHID-PCOL-a") // eager data already covers this one
	cache.MarkColumn("PHID-PCOL-b")
	cache.MarkColumn("PHID-PCOL-b") // duplicate mark is a no-op

	if err := cache.ResolvePendingColumns(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if caller.calls["project.column.search"] != 1 {
		t.Fatalf("expected 1 batched call, got %d", caller.calls["project.column.search"])
	}

	col, ok := cache.LookupColumn("PHID-PCOL-b")
	if !ok {
		t.Fatal("expected PHID-PCOL-b resolved")
	}
	if col.Name != "Doing" || col.Project != "Widgets" {
		t.Errorf("unexpected column %+v", col)
	}

	// Nothing left pending: a second pass issues no calls.
	if err := cache.ResolvePendingColumns(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if caller.calls["project.column.search"] != 1 {
		t.Errorf("second pass issued calls: %d total", caller.calls["project.column.search"])
	}
}

func TestColumn_PrefersCachedProjectDisplayName(t *testing.T) {
	caller := newCountingCaller(map[string]string{
		"project.search":        `{"data":[{"id":8,"phid":"PHID-PROJ-x","fields":{"name":"Sprint 9","color":{"key":"red"},"parent":{"name":"Widgets"}}}]}`,
		"project.column.search": `{"data":[{"phid":"PHID-PCOL-c","fields":{"name":"Done","project":{"phid":"PHID-PROJ-x","name":"Sprint 9"}}}]}`,
	})
	cache := New(conduit.NewPager(caller, 0))

	if _, err := cache.Project(context.Background(), "PHID-PROJ-x"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	col, err := cache.Column(context.Background(), "PHID-PCOL-c")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if col.Project != "Widgets (Sprint 9)" {
		t.Errorf("expected composed project name, got %q", col.Project)
	}
}
