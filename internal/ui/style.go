// Package ui holds terminal styling for phabmirror's progress and
// summary output.
package ui

import (
	"github.com/fatih/color"
)

// Sprint color functions for building styled strings.
var (
	Bold       = color.New(color.Bold).SprintFunc()
	Dim        = color.New(color.Faint).SprintFunc()
	Cyan       = color.New(color.FgCyan).SprintFunc()
	Green      = color.New(color.FgGreen).SprintFunc()
	Red        = color.New(color.FgRed).SprintFunc()
	Yellow     = color.New(color.FgYellow).SprintFunc()
	Magenta    = color.New(color.FgMagenta).SprintFunc()
	BoldCyan   = color.New(color.Bold, color.FgCyan).SprintFunc()
	BoldGreen  = color.New(color.Bold, color.FgGreen).SprintFunc()
	BoldRed    = color.New(color.Bold, color.FgRed).SprintFunc()
	BoldYellow = color.New(color.Bold, color.FgYellow).SprintFunc()
	BoldWhite  = color.New(color.Bold, color.FgWhite).SprintFunc()
)

// StatusColor colors a task status the way Phabricator's UI does:
// open work warm, finished work green, discarded work dim.
func StatusColor(status string) string {
	switch status {
	case "open":
		return Yellow(status)
	case "stalled":
		return Magenta(status)
	case "resolved":
		return Green(status)
	case "invalid", "declined", "duplicate":
		return Dim(status)
	default:
		return status
	}
}
