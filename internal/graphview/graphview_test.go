package graphview

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/tidwall/gjson"

	"github.com/tomwilder/phabmirror/internal/conduit"
)

// fakePhab answers status-filtered task searches plus the project and
// user lookups the payload legends need.
type fakePhab struct {
	tasks    map[int]string // id -> record JSON with a "status":"x" hint
	status   map[int]string
	children map[int][]int
	inProj   map[string][]int
}

func newFakePhab() *fakePhab {
	return &fakePhab{
		tasks:    make(map[int]string),
		status:   make(map[int]string),
		children: make(map[int][]int),
		inProj:   make(map[string][]int),
	}
}

func (f *fakePhab) addTask(id int, name, status string, projects ...string) {
	f.tasks[id] = fmt.Sprintf(`{
		"id": %d, "phid": "PHID-TASK-%d",
		"fields": {
			"name": %q, "status": {"value": %q},
			"priority": {"color": "orange"}, "points": null,
			"dateCreated": 100, "dateModified": null, "dateClosed": null,
			"authorPHID": "PHID-USER-amy", "ownerPHID": null
		},
		"attachments": {
			"projects": {"projectPHIDs": ["PHID-PROJ-w"]},
			"columns": {"boards": {"PHID-PROJ-w": {"columns": [{"phid": "PHID-PCOL-doing", "name": "Doing"}]}}}
		}
	}`, id, id, name, status)
	f.status[id] = status
	for _, p := range projects {
		f.inProj[p] = append(f.inProj[p], id)
	}
}

func (f *fakePhab) matching(ids []int, statuses []string) []string {
	var recs []string
	for _, id := range ids {
		for _, s := range statuses {
			if f.status[id] == s {
				recs = append(recs, f.tasks[id])
				break
			}
		}
	}
	return recs
}

func (f *fakePhab) Call(ctx context.Context, method string, params map[string]any) (gjson.Result, error) {
	switch method {
	case "maniphest.search":
		constraints := params["constraints"].(map[string]any)
		statuses := constraints["statuses"].([]string)
		var recs []string
		if names, ok := constraints["projects"].([]string); ok {
			recs = f.matching(f.inProj[names[0]], statuses)
		} else if ids, ok := constraints["ids"].([]int); ok {
			recs = f.matching(ids, statuses)
		} else if parents, ok := constraints["parentIDs"].([]int); ok {
			recs = f.matching(f.children[parents[0]], statuses)
		}
		return gjson.Parse(`{"data":[` + strings.Join(recs, ",") + `],"cursor":{"after":null}}`), nil
	case "project.search":
		return gjson.Parse(`{"data":[{"id":5,"phid":"PHID-PROJ-w","fields":{"name":"Widgets","color":{"key":"blue"}}}]}`), nil
	case "user.search":
		return gjson.Parse(`{"data":[{"id":1,"phid":"PHID-USER-amy","fields":{"username":"amy","realName":"Amy Adams"}}]}`), nil
	}
	return gjson.Result{}, fmt.Errorf("unexpected method %s", method)
}

func TestBuild_StatusFilterDefaultsToOpenStalled(t *testing.T) {
	f := newFakePhab()
	f.addTask(1, "Open parent", "open", "Widgets")
	f.addTask(2, "Stalled child", "stalled")
	f.addTask(3, "Resolved child", "resolved")
	f.children[1] = []int{2, 3}

	p, err := Build(context.Background(), conduit.NewPager(f, 0), Config{
		Projects: []string{"Widgets"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(p.Nodes) != 2 {
		t.Fatalf("expected the resolved child to be filtered out, got %+v", p.Nodes)
	}
	for _, n := range p.Nodes {
		if n.Status == "resolved" {
			t.Errorf("resolved task leaked into the payload: %+v", n)
		}
	}
	if len(p.Links) != 1 || p.Links[0] != (Link{Source: 1, Target: 2}) {
		t.Errorf("unexpected links %+v", p.Links)
	}
}

func TestBuild_PayloadShape(t *testing.T) {
	f := newFakePhab()
	f.addTask(1, "Boarded task", "open", "Widgets")

	p, err := Build(context.Background(), conduit.NewPager(f, 0), Config{
		Projects: []string{"Widgets"},
		PhabURL:  "https://phab.example.org",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if p.Width != 800 || p.Height != 800 {
		t.Errorf("expected 800x800 defaults, got %dx%d", p.Width, p.Height)
	}

	n := p.Nodes[0]
	if n.TaskID != "T1" {
		t.Errorf("expected taskid T1, got %q", n.TaskID)
	}
	if n.Projects["PHID-PROJ-w"] != "Widgets (Doing)" {
		t.Errorf("project label missing column: %+v", n.Projects)
	}
	if n.Author != "PHID-USER-amy" {
		t.Errorf("author PHID not carried: %+v", n)
	}

	if p.Projects["PHID-PROJ-w"].Name != "Widgets" {
		t.Errorf("project legend missing: %+v", p.Projects)
	}
	if p.People["PHID-USER-amy"].Username != "amy" {
		t.Errorf("people legend missing: %+v", p.People)
	}
	if len(p.SelectedProjects) != 1 || p.SelectedProjects[0] != "PHID-PROJ-w" {
		t.Errorf("selected projects not mapped to PHIDs: %+v", p.SelectedProjects)
	}
}

func TestBuild_ExplicitTaskSeeds(t *testing.T) {
	f := newFakePhab()
	f.addTask(7, "Explicit", "open")

	p, err := Build(context.Background(), conduit.NewPager(f, 0), Config{
		Tasks: []int{7},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(p.Nodes) != 1 || p.Nodes[0].ID != 7 {
		t.Fatalf("expected node for task 7, got %+v", p.Nodes)
	}
	if len(p.SelectedTasks) != 1 || p.SelectedTasks[0] != 7 {
		t.Errorf("selected tasks not carried: %+v", p.SelectedTasks)
	}
}
