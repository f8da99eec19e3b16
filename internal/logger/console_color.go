package logger

import (
	"fmt"

	"github.com/fatih/color"
)

// colorScheme defines consistent colors for lifecycle-engine events.
// Green: success/positive outcomes (task DONE, run SUCCESS)
// Red: failure/error outcomes (run FAILURE, task BLOCKED)
// Yellow: warnings and escalations
// Cyan: labels and identifiers (task ids, session ids)
type colorScheme struct {
	success *color.Color
	fail    *color.Color
	warn    *color.Color
	label   *color.Color
	value   *color.Color
}

// newColorScheme creates the standard color scheme for console output.
func newColorScheme() *colorScheme {
	return &colorScheme{
		success: color.New(color.FgGreen),
		fail:    color.New(color.FgRed),
		warn:    color.New(color.FgYellow),
		label:   color.New(color.FgCyan),
		value:   color.New(color.FgWhite),
	}
}

// formatColorizedField formats a single labeled field, e.g. "task: t1".
func formatColorizedField(label string, value interface{}, scheme *colorScheme) string {
	labelColored := scheme.label.Sprint(label)
	valueColored := scheme.value.Sprintf("%v", value)
	return fmt.Sprintf("%s: %s", labelColored, valueColored)
}
