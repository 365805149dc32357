package main

import (
	"fmt"
	"os"
	"time"
)

// statusf prints a status message to stderr unless quiet mode is set.
func statusf(quiet bool, format string, args ...any) {
	if !quiet {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// formatTime returns a compact timestamp for display. The zero time reads
// as "never".
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}

	if t.Year() == time.Now().Year() {
		return t.Format("Jan _2 15:04")
	}

	return t.Format("Jan _2 2006")
}

// yesNo renders a boolean for the text status display.
func yesNo(b bool) string {
	if b {
		return "yes"
	}

	return "no"
}
