package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/scriptorium/internal/library"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	citationStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("229"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)
)

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printSources lists citations with a short excerpt of each passage.
func printSources(w io.Writer, sources []library.Citation) {
	if len(sources) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, titleStyle.Render("Sources"))
	for i, src := range sources {
		fmt.Fprintf(w, "%2d. %s %s\n", i+1, citationStyle.Render(src.Citation),
			dimStyle.Render(fmt.Sprintf("(%.2f, %s)", src.Score, src.Type)))
		fmt.Fprintf(w, "    %s\n", excerpt(src.Content, 160))
	}
}

// excerpt shortens s to at most n runes.
func excerpt(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func status(ok bool) string {
	if ok {
		return successStyle.Render("✓")
	}
	return errorStyle.Render("✗")
}
