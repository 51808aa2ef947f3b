// Package transitions derives ordered board and membership transitions
// from a task's raw transaction log.
package transitions

import (
	"context"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/tomwilder/phabmirror/internal/entity"
)

const projectPHIDPrefix = "PHID-PROJ"

// ProjectNamer turns a project PHID into its display name. A miss
// returns (nil, nil) and the transition is emitted with an empty name.
type ProjectNamer interface {
	Project(ctx context.Context, phid string) (*entity.Project, error)
}

// Parse walks a task's transaction log in log order and emits the
// derived transitions plus every column PHID touched, for the deferred
// column pass. Column moves vacate every prior column the event lists;
// edge changes yield one transition per project reference on each side.
func Parse(ctx context.Context, events []gjson.Result, projects ProjectNamer) ([]entity.Transition, []string, error) {
	var out []entity.Transition
	var touched []string
	seen := make(map[string]bool)

	mark := func(phid string) {
		if !seen[phid] {
			seen[phid] = true
			touched = append(touched, phid)
		}
	}

	for _, ev := range events {
		date := ev.Get("dateCreated").Int()
		switch ev.Get("transactionType").String() {
		case "core:columns":
			dest := ev.Get("newValue.0.columnPHID")
			if !dest.Exists() || dest.Type == gjson.Null {
				continue
			}
			out = append(out, entity.Transition{
				Date:       date,
				Kind:       entity.EnteredColumn,
				ColumnPHID: dest.String(),
			})
			mark(dest.String())
			for _, from := range ev.Get("newValue.0.fromColumnPHIDs").Array() {
				out = append(out, entity.Transition{
					Date:       date,
					Kind:       entity.ExitedColumn,
					ColumnPHID: from.String(),
				})
				mark(from.String())
			}
		case "core:edge":
			removed, err := projectEdges(ctx, ev.Get("oldValue"), projects)
			if err != nil {
				return nil, nil, err
			}
			for _, name := range removed {
				out = append(out, entity.Transition{Date: date, Kind: entity.RemovedProject, Project: name})
			}
			added, err := projectEdges(ctx, ev.Get("newValue"), projects)
			if err != nil {
				return nil, nil, err
			}
			for _, name := range added {
				out = append(out, entity.Transition{Date: date, Kind: entity.AddedProject, Project: name})
			}
		}
	}
	return out, touched, nil
}

// projectEdges resolves the project references in one edge-change value
// list. Only PHID-PROJ entries count; other edge types are ignored.
func projectEdges(ctx context.Context, value gjson.Result, projects ProjectNamer) ([]string, error) {
	var names []string
	for _, v := range value.Array() {
		if v.Type != gjson.String || !strings.HasPrefix(v.String(), projectPHIDPrefix) {
			continue
		}
		p, err := projects.Project(ctx, v.String())
		if err != nil {
			return nil, err
		}
		name := ""
		if p != nil {
			name = p.FullName()
		}
		names = append(names, name)
	}
	return names, nil
}

// EntryDate computes the effective entry date of a task into a column:
// the latest Entered-Column timestamp for that column, or the task's
// creation date when the log never recorded an entry.
func EntryDate(events []gjson.Result, columnPHID string, dateCreated int64) int64 {
	latest := dateCreated
	for _, ev := range events {
		if ev.Get("transactionType").String() != "core:columns" {
			continue
		}
		dest := ev.Get("newValue.0.columnPHID")
		if dest.Exists() && dest.String() == columnPHID {
			if d := ev.Get("dateCreated").Int(); d > latest {
				latest = d
			}
		}
	}
	return latest
}
