package syncer

import (
	"fmt"
	"strings"

	"github.com/tomwilder/phabmirror/internal/ui"
)

// Report is the outcome of one sync run.
type Report struct {
	Projects []string
	DryRun   bool

	// Pages is the number of pages examined, Tasks the number of
	// distinct tasks fetched.
	Pages int
	Tasks int

	Rendered       int
	Updated        int
	Created        int
	SkippedNotText int
	// TasksGone counts pages whose task no longer exists remotely.
	TasksGone int

	// Missing lists open seed tasks with no page yet.
	Missing []MissingPage
}

// MissingPage is an open task reachable from the seed projects that has
// no page in the collection.
type MissingPage struct {
	TaskID int
	Key    string
}

// Summary returns a terminal-friendly run summary.
func (r *Report) Summary() string {
	var b strings.Builder

	title := "Sync Complete"
	if r.DryRun {
		title = "Dry Run Complete"
	}
	fmt.Fprintf(&b, "\n%s\n", ui.BoldCyan(title))
	fmt.Fprintf(&b, "%s\n", ui.Cyan("═════════════════"))
	if len(r.Projects) > 0 {
		fmt.Fprintf(&b, "Projects:  %s\n", ui.Bold(strings.Join(r.Projects, ", ")))
	}
	fmt.Fprintf(&b, "Tasks:     %d fetched\n", r.Tasks)
	fmt.Fprintf(&b, "Pages:     %d examined, %s, %s\n",
		r.Pages,
		ui.Green(fmt.Sprintf("%d updated", r.Updated)),
		ui.Green(fmt.Sprintf("%d created", r.Created)))
	if r.SkippedNotText > 0 {
		fmt.Fprintf(&b, "Skipped:   %s\n", ui.Yellow(fmt.Sprintf("%d not text", r.SkippedNotText)))
	}
	if r.TasksGone > 0 {
		fmt.Fprintf(&b, "Gone:      %s\n", ui.Dim(fmt.Sprintf("%d pages reference deleted tasks", r.TasksGone)))
	}
	if len(r.Missing) > 0 {
		fmt.Fprintf(&b, "Missing:   %s\n", ui.Yellow(fmt.Sprintf("%d open tasks have no page", len(r.Missing))))
	}

	return b.String()
}

// InfoWikitext renders the run report as wikitext for the save-info
// page. Creation links use {{fullurl:}} edit links, optionally with a
// preload page, and {{#ifexist:}} so already-created pages are marked
// on render rather than at sync time.
func (r *Report) InfoWikitext(phabURL, preload string) string {
	var b strings.Builder
	projects := strings.Join(r.Projects, ", ")

	fmt.Fprintf(&b, "Count of wiki pages in the task collection: %d\n\n", r.Pages)
	fmt.Fprintf(&b, "Count of Phabricator tasks in project(s) %s and all subtasks: %d\n\n",
		projects, r.Tasks)
	fmt.Fprintf(&b, "Open Phabricator tasks in project(s) %s that did not have wiki pages:\n",
		projects)

	for _, m := range r.Missing {
		fmt.Fprintf(&b, "* %s/T%d (<span class=\"plainlinks\">[{{fullurl:%s",
			phabURL, m.TaskID, m.Key)
		if preload != "" {
			fmt.Fprintf(&b, "|action=edit&preload={{urlencode:%s}}", preload)
		}
		fmt.Fprintf(&b, "}} %s]</span>)", m.Key)
		fmt.Fprintf(&b, " {{#ifexist:%s| - created}}\n", m.Key)
	}

	return b.String()
}
