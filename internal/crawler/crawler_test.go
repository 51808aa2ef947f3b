package crawler

import (
	"context"
	"fmt"
	"testing"

	"github.com/tidwall/gjson"

	"github.com/tomwilder/phabmirror/internal/conduit"
	"github.com/tomwilder/phabmirror/internal/resolver"
)

// fakePhab simulates a small Phabricator install: tasks with project
// memberships and parent→child links, plus projects and users.
type fakePhab struct {
	tasks    map[int]string   // id -> maniphest.search record JSON
	children map[int][]int    // parent id -> child ids
	inProj   map[string][]int // project name -> member task ids
	logs     map[int]string   // id -> transaction array JSON

	searches int
	logsByID map[int]int
}

func newFakePhab() *fakePhab {
	return &fakePhab{
		tasks:    make(map[int]string),
		children: make(map[int][]int),
		inProj:   make(map[string][]int),
		logs:     make(map[int]string),
		logsByID: make(map[int]int),
	}
}

func (f *fakePhab) addTask(id int, name string, projects ...string) {
	f.tasks[id] = fmt.Sprintf(`{
		"id": %d, "phid": "PHID-TASK-%d",
		"fields": {
			"name": %q, "status": {"value": "open"},
			"priority": {"color": "red"}, "points": null,
			"dateCreated": 1000, "dateModified": 2000, "dateClosed": null,
			"authorPHID": "PHID-USER-amy", "ownerPHID": null
		},
		"attachments": {"projects": {"projectPHIDs": []}, "columns": {"boards": {}}}
	}`, id, id, name)
	f.logs[id] = `[]`
	for _, p := range projects {
		f.inProj[p] = append(f.inProj[p], id)
	}
}

func (f *fakePhab) page(records []string) gjson.Result {
	data := "["
	for i, r := range records {
		if i > 0 {
			data += ","
		}
		data += r
	}
	data += "]"
	return gjson.Parse(`{"data":` + data + `,"cursor":{"after":null}}`)
}

func (f *fakePhab) Call(ctx context.Context, method string, params map[string]any) (gjson.Result, error) {
	switch method {
	case "maniphest.search":
		f.searches++
		constraints := params["constraints"].(map[string]any)
		var recs []string
		if names, ok := constraints["projects"].([]string); ok {
			for _, id := range f.inProj[names[0]] {
				recs = append(recs, f.tasks[id])
			}
		} else if ids, ok := constraints["ids"].([]int); ok {
			for _, id := range ids {
				if rec, ok := f.tasks[id]; ok {
					recs = append(recs, rec)
				}
			}
		} else if parents, ok := constraints["parentIDs"].([]int); ok {
			for _, child := range f.children[parents[0]] {
				recs = append(recs, f.tasks[child])
			}
		}
		return f.page(recs), nil
	case "maniphest.gettasktransactions":
		id := params["ids"].([]int)[0]
		f.logsByID[id]++
		return gjson.Parse(fmt.Sprintf(`{"%d": %s}`, id, f.logs[id])), nil
	case "user.search":
		return gjson.Parse(`{"data":[{"id":1,"phid":"PHID-USER-amy","fields":{"username":"amy","realName":"Amy Adams"}}]}`), nil
	case "project.search", "project.column.search":
		return gjson.Parse(`{"data":[]}`), nil
	}
	return gjson.Result{}, fmt.Errorf("unexpected method %s", method)
}

func newCrawler(f *fakePhab, opts Options) *Crawler {
	pager := conduit.NewPager(f, 0)
	return New(pager, resolver.New(pager), opts)
}

func TestCrawl_SharedSubtaskFetchedOnce(t *testing.T) {
	// A(1) -> B(2), C(3); B and C share subtask D(4).
	f := newFakePhab()
	f.addTask(1, "Task A", "Widgets")
	f.addTask(2, "Task B")
	f.addTask(3, "Task C")
	f.addTask(4, "Task D")
	f.children[1] = []int{2, 3}
	f.children[2] = []int{4}
	f.children[3] = []int{4}

	c := newCrawler(f, Options{WithTransitions: true})
	n, err := c.SeedProject(context.Background(), "Widgets")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 direct project member, got %d", n)
	}

	g := c.Graph()
	if g.TaskCount() != 4 {
		t.Fatalf("expected 4 tasks, got %d (%v)", g.TaskCount(), g.IDs())
	}
	if f.logsByID[4] != 1 {
		t.Errorf("task D fetched %d times, expected exactly once", f.logsByID[4])
	}

	wantEdges := map[Edge]bool{
		{1, 2}: true, {1, 3}: true, {2, 4}: true, {3, 4}: true,
	}
	if len(g.Edges) != len(wantEdges) {
		t.Fatalf("expected %d edges, got %v", len(wantEdges), g.Edges)
	}
	for _, e := range g.Edges {
		if !wantEdges[e] {
			t.Errorf("unexpected edge %+v", e)
		}
	}

	d, _ := g.Task(4)
	if d.FromSeed {
		t.Error("subtask D must not be marked seed-reachable")
	}
	a, _ := g.Task(1)
	if !a.FromSeed {
		t.Error("project member A must be marked seed-reachable")
	}
	if len(a.Subtasks) != 2 {
		t.Errorf("expected A to list 2 subtasks, got %v", a.Subtasks)
	}
}

func TestSeedTasks_ResolvedTaskOnlyFlipsSeedFlag(t *testing.T) {
	f := newFakePhab()
	f.addTask(1, "Parent", "Widgets")
	f.addTask(2, "Child")
	f.children[1] = []int{2}

	c := newCrawler(f, Options{WithTransitions: true})
	if _, err := c.SeedProject(context.Background(), "Widgets"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	child, _ := c.Graph().Task(2)
	if child.FromSeed {
		t.Fatal("precondition: child not yet seed-reachable")
	}
	child.Name = "locally observed name"

	searchesBefore := f.searches
	if err := c.SeedTasks(context.Background(), []int{2}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.searches != searchesBefore {
		t.Errorf("re-seeding a resolved task issued %d searches", f.searches-searchesBefore)
	}
	if !child.FromSeed {
		t.Error("seed flag not flipped")
	}
	// First-seen data wins; the second observation is discarded.
	if child.Name != "locally observed name" {
		t.Errorf("resolved task data was overwritten: %q", child.Name)
	}
}

func TestFetchTask_UnknownIDResolvesNothing(t *testing.T) {
	f := newFakePhab()
	c := newCrawler(f, Options{})

	if err := c.FetchTask(context.Background(), 999); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Graph().TaskCount() != 0 {
		t.Errorf("expected empty graph, got %v", c.Graph().IDs())
	}
}

func TestCrawl_BoardAttachmentPopulatesMembership(t *testing.T) {
	f := newFakePhab()
	f.tasks[7] = `{
		"id": 7, "phid": "PHID-TASK-7",
		"fields": {
			"name": "Boarded", "status": {"value": "open"},
			"priority": {"color": "orange"}, "points": "5",
			"dateCreated": 500, "dateModified": null, "dateClosed": null,
			"authorPHID": null, "ownerPHID": null
		},
		"attachments": {
			"projects": {"projectPHIDs": ["PHID-PROJ-w"]},
			"columns": {"boards": {"PHID-PROJ-w": {"columns": [{"phid": "PHID-PCOL-doing", "name": "Doing"}]}}}
		}
	}`
	f.logs[7] = `[{"transactionType":"core:columns","dateCreated":800,"newValue":[{"columnPHID":"PHID-PCOL-doing","fromColumnPHIDs":[]}]}]`
	f.inProj["Widgets"] = []int{7}

	pager := conduit.NewPager(&projectAwareFake{fakePhab: f}, 0)
	c := New(pager, resolver.New(pager), Options{WithTransitions: true})
	if _, err := c.SeedProject(context.Background(), "Widgets"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	task, ok := c.Graph().Task(7)
	if !ok {
		t.Fatal("task 7 not resolved")
	}
	if task.Points != "5" {
		t.Errorf("expected points 5, got %q", task.Points)
	}
	if len(task.Memberships) != 1 {
		t.Fatalf("expected 1 membership, got %+v", task.Memberships)
	}
	m := task.Memberships[0]
	if m.Project != "Widgets" || m.Column != "Doing" {
		t.Errorf("unexpected membership %+v", m)
	}
	if m.EntryDate != 800 {
		t.Errorf("expected entry date 800 from the logged move, got %d", m.EntryDate)
	}
	if len(task.Transitions) != 1 {
		t.Errorf("expected 1 transition, got %+v", task.Transitions)
	}
}

// projectAwareFake answers project.search for PHID-PROJ-w.
type projectAwareFake struct {
	*fakePhab
}

func (p *projectAwareFake) Call(ctx context.Context, method string, params map[string]any) (gjson.Result, error) {
	if method == "project.search" {
		return gjson.Parse(`{"data":[{"id":5,"phid":"PHID-PROJ-w","fields":{"name":"Widgets","color":{"key":"blue"}}}]}`), nil
	}
	return p.fakePhab.Call(ctx, method, params)
}
