// Package output renders matched projects to the terminal and to the JSON results file.
package output

import (
	"fmt"
	"io"

	"github.com/13rac1/sqpurge/internal/types"
	"github.com/olekukonko/tablewriter"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Supported terminal formats.
const (
	FormatPlain = "plain"
	FormatTable = "table"
)

// ValidFormat reports whether format is one Render understands.
func ValidFormat(format string) bool {
	return format == FormatPlain || format == FormatTable
}

// Render prints projects to w in the requested format.
func Render(w io.Writer, format string, projects []types.Project) error {
	switch format {
	case FormatPlain, "":
		PrintProjects(w, projects)
		return nil
	case FormatTable:
		PrintTable(w, projects)
		return nil
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

// PrintProjects prints one name:key line per project.
func PrintProjects(w io.Writer, projects []types.Project) {
	for _, p := range projects {
		fmt.Fprintf(w, "%s:%s\n", p.Name, p.Key)
	}
}

// PrintTable formats projects as an ASCII table followed by a total line.
func PrintTable(w io.Writer, projects []types.Project) {
	if len(projects) == 0 {
		fmt.Fprintln(w, "No projects found.")
		return
	}

	table := tablewriter.NewWriter(w)
	table.Header("Name", "Key", "Visibility", "Last Analysis")

	for _, p := range projects {
		table.Append(p.Name, p.Key, orDash(p.Visibility), orDash(p.LastAnalysisDate))
	}

	table.Render()
	fmt.Fprintln(w, FormatTotal(len(projects)))
}

// FormatTotal returns a locale-grouped project count, e.g. "Total: 1,204 projects".
func FormatTotal(n int) string {
	p := message.NewPrinter(language.English)
	if n == 1 {
		return p.Sprintf("Total: %d project", n)
	}
	return p.Sprintf("Total: %d projects", n)
}

// orDash formats an optional field for display, using "-" for empty values.
func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
