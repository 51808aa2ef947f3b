// Package graphview builds the renderable task-graph payload: nodes,
// parent→child links, and the project and people legends the frontend
// needs to draw them.
package graphview

import (
	"context"
	"strconv"

	"github.com/tomwilder/phabmirror/internal/conduit"
	"github.com/tomwilder/phabmirror/internal/crawler"
	"github.com/tomwilder/phabmirror/internal/resolver"
)

// Config selects what the graph shows.
type Config struct {
	// Tasks and Projects seed the crawl; at least one should be set.
	Tasks    []int
	Projects []string
	// Statuses filters every search. Empty means open and stalled.
	Statuses []string
	Width    int
	Height   int
	// PhabURL is the install URL nodes link back to.
	PhabURL string
}

func (c Config) withDefaults() Config {
	if len(c.Statuses) == 0 {
		c.Statuses = []string{"open", "stalled"}
	}
	if c.Width == 0 {
		c.Width = 800
	}
	if c.Height == 0 {
		c.Height = 800
	}
	return c
}

// Node is one task in the payload. Author and Owner are user PHIDs
// resolvable through the People legend; Projects maps project PHIDs to
// display labels including the current board column.
type Node struct {
	ID       int               `json:"id"`
	PHID     string            `json:"phid"`
	TaskID   string            `json:"taskid"`
	Name     string            `json:"name"`
	Status   string            `json:"status"`
	Color    string            `json:"color"`
	Author   string            `json:"author"`
	Owner    string            `json:"owner"`
	Projects map[string]string `json:"projects"`
}

// Link is one parent→child relation between node ids.
type Link struct {
	Source int `json:"source"`
	Target int `json:"target"`
}

// ProjectInfo is one legend entry.
type ProjectInfo struct {
	ID    int    `json:"id"`
	PHID  string `json:"phid"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// Person is one people-legend entry.
type Person struct {
	ID       int    `json:"id"`
	PHID     string `json:"phid"`
	Username string `json:"username"`
	RealName string `json:"realname"`
}

// Payload is the complete graph document served to the frontend.
type Payload struct {
	SelectedTasks    []int                  `json:"selected_tasks"`
	SelectedProjects []string               `json:"selected_projects"`
	Nodes            []Node                 `json:"nodes"`
	Links            []Link                 `json:"links"`
	Projects         map[string]ProjectInfo `json:"projects"`
	People           map[string]Person      `json:"people"`
	URL              string                 `json:"url"`
	Width            int                    `json:"width"`
	Height           int                    `json:"height"`
}

// Build crawls the selected tasks and projects, status-filtered and
// without transition history, and assembles the payload. Nodes appear
// in discovery order.
func Build(ctx context.Context, pager *conduit.Pager, cfg Config) (*Payload, error) {
	cfg = cfg.withDefaults()
	cache := resolver.New(pager)
	c := crawler.New(pager, cache, crawler.Options{Statuses: cfg.Statuses})

	if len(cfg.Tasks) > 0 {
		if err := c.SeedTasks(ctx, cfg.Tasks); err != nil {
			return nil, err
		}
	}
	for _, name := range cfg.Projects {
		if _, err := c.SeedProject(ctx, name); err != nil {
			return nil, err
		}
	}
	graph := c.Graph()

	p := &Payload{
		SelectedTasks: cfg.Tasks,
		Projects:      make(map[string]ProjectInfo),
		People:        make(map[string]Person),
		URL:           cfg.PhabURL,
		Width:         cfg.Width,
		Height:        cfg.Height,
	}

	for _, id := range graph.Order {
		t := graph.Tasks[id]
		n := Node{
			ID:       t.ID,
			PHID:     t.PHID,
			TaskID:   "T" + strconv.Itoa(t.ID),
			Name:     t.Name,
			Status:   string(t.Status),
			Color:    t.Color,
			Author:   t.AuthorPHID,
			Owner:    t.OwnerPHID,
			Projects: make(map[string]string),
		}
		for _, m := range t.Memberships {
			label := m.Project
			if m.Column != "" {
				label += " (" + m.Column + ")"
			}
			n.Projects[m.ProjectPHID] = label
		}
		p.Nodes = append(p.Nodes, n)
	}

	for _, e := range graph.Edges {
		p.Links = append(p.Links, Link{Source: e.Parent, Target: e.Child})
	}

	for phid, proj := range cache.Projects() {
		p.Projects[phid] = ProjectInfo{
			ID:    proj.ID,
			PHID:  proj.PHID,
			Name:  proj.FullName(),
			Color: proj.Color,
		}
	}
	for phid, u := range cache.Users() {
		p.People[phid] = Person{
			ID:       u.ID,
			PHID:     u.PHID,
			Username: u.Username,
			RealName: u.RealName,
		}
	}

	// Selected projects are reported by PHID so the frontend can
	// highlight them without re-resolving names.
	for _, name := range cfg.Projects {
		for phid, proj := range cache.Projects() {
			if proj.Name == name {
				p.SelectedProjects = append(p.SelectedProjects, phid)
			}
		}
	}

	return p, nil
}
