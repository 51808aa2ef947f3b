// Package render serializes resolved tasks into the wiki-template
// blocks embedded in target pages.
package render

import (
	"sort"
	"strconv"
	"strings"

	"github.com/tomwilder/phabmirror/internal/entity"
)

// Templates names the wiki templates each entity kind renders into.
type Templates struct {
	Task       string
	Project    string
	User       string
	Transition string
}

// DefaultTemplates are the conventional template names.
func DefaultTemplates() Templates {
	return Templates{
		Task:       "Phabricator Task",
		Project:    "Phabricator Project",
		User:       "Phabricator User",
		Transition: "Transition",
	}
}

// Marker is the block-start delimiter that identifies the owned region
// of a target page.
func (t Templates) Marker() string {
	return "{{" + t.Task + "\n"
}

// ColumnLookup finds a resolved column by PHID. Unresolved references
// are omitted from the output.
type ColumnLookup interface {
	LookupColumn(phid string) (*entity.Column, bool)
}

var escaper = strings.NewReplacer(
	"|", "&#124;",
	"{", "&#123;",
	"}", "&#125;",
	"[", "&#91;",
	"]", "&#93;",
)

var unescaper = strings.NewReplacer(
	"&#124;", "|",
	"&#123;", "{",
	"&#125;", "}",
	"&#91;", "[",
	"&#93;", "]",
)

// Escape neutralizes characters that would corrupt the block syntax.
func Escape(s string) string { return escaper.Replace(s) }

// Unescape is the inverse of Escape.
func Unescape(s string) string { return unescaper.Replace(s) }

// Task renders one task into its page block. Optional fields are left
// out entirely when absent rather than emitted empty.
func Task(t *entity.Task, tpl Templates, cols ColumnLookup) string {
	var b strings.Builder
	b.WriteString(tpl.Marker())
	field(&b, "name", Escape(t.Name))
	field(&b, "status", string(t.Status))
	field(&b, "color", t.Color)
	field(&b, "points", t.Points)
	field(&b, "dateCreated", strconv.FormatInt(t.DateCreated, 10))
	if t.DateModified != 0 {
		field(&b, "dateModified", strconv.FormatInt(t.DateModified, 10))
	}
	if t.DateClosed != 0 {
		field(&b, "dateClosed", strconv.FormatInt(t.DateClosed, 10))
	}
	if t.Author != nil {
		field(&b, "author", user("author", t.Author, tpl))
	}
	if t.Owner != nil {
		field(&b, "owner", user("owner", t.Owner, tpl))
	}
	if len(t.Memberships) > 0 {
		field(&b, "projects", memberships(t.Memberships, tpl))
	}
	if len(t.Subtasks) > 0 {
		field(&b, "subtasks", subtasks(t.Subtasks))
	}
	if len(t.Transitions) > 0 {
		field(&b, "transitions", transitions(t.Transitions, tpl, cols))
	}
	b.WriteString("}}\n")
	return b.String()
}

func field(b *strings.Builder, name, value string) {
	b.WriteString("|")
	b.WriteString(name)
	b.WriteString("=")
	b.WriteString(value)
	b.WriteString("\n")
}

func user(role string, u *entity.User, tpl Templates) string {
	var b strings.Builder
	b.WriteString("{{" + tpl.User + "\n")
	field(&b, "type", role)
	field(&b, "username", u.Username)
	field(&b, "realName", u.RealName)
	b.WriteString("}}")
	return b.String()
}

// memberships renders nested project blocks sorted by composite key so
// output is deterministic across runs.
func memberships(ms []entity.Membership, tpl Templates) string {
	sorted := make([]entity.Membership, len(ms))
	copy(sorted, ms)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	var b strings.Builder
	for _, m := range sorted {
		b.WriteString("{{" + tpl.Project + "\n")
		field(&b, "name", Escape(m.Project))
		if m.Column != "" {
			field(&b, "column", m.Column)
		}
		field(&b, "entryDate", strconv.FormatInt(m.EntryDate, 10))
		b.WriteString("}}")
	}
	return b.String()
}

func subtasks(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ",")
}

// transitions renders the transition history in original log order.
func transitions(ts []entity.Transition, tpl Templates, cols ColumnLookup) string {
	var b strings.Builder
	for _, tr := range ts {
		b.WriteString("{{" + tpl.Transition + "\n")
		field(&b, "date", strconv.FormatInt(tr.Date, 10))
		field(&b, "type", string(tr.Kind))
		if tr.IsColumn() {
			if col, ok := cols.LookupColumn(tr.ColumnPHID); ok {
				field(&b, "project", Escape(col.Project))
				field(&b, "column", col.Name)
			}
		} else {
			field(&b, "project", Escape(tr.Project))
		}
		b.WriteString("}}")
	}
	return b.String()
}
