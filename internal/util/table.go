package util

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

// TableColumn represents a column in a table
type TableColumn struct {
	Header string
	Key    string // key to extract from data map
	Width  int    // calculated width
}

// RenderTable writes rows as an aligned text table with a bold header and a dashed
// separator. Column widths ignore ANSI color codes.
func RenderTable(w io.Writer, columns []TableColumn, data []map[string]interface{}) {
	if len(data) == 0 {
		fmt.Fprintln(w, "No data to display")
		return
	}

	for i := range columns {
		columns[i].Width = getDisplayWidth(columns[i].Header)
		for _, row := range data {
			if value, exists := row[columns[i].Key]; exists {
				if width := getDisplayWidth(fmt.Sprintf("%v", value)); width > columns[i].Width {
					columns[i].Width = width
				}
			}
		}
	}

	bold := color.New(color.Bold)
	var headerParts, separatorParts []string
	for _, col := range columns {
		headerParts = append(headerParts, padStringToWidth(bold.Sprint(col.Header), col.Width))
		separatorParts = append(separatorParts, strings.Repeat("-", col.Width))
	}
	fmt.Fprintln(w, strings.TrimRight(strings.Join(headerParts, " "), " "))
	fmt.Fprintln(w, strings.Join(separatorParts, " "))

	for _, row := range data {
		var rowParts []string
		for _, col := range columns {
			value := ""
			if v, exists := row[col.Key]; exists {
				value = fmt.Sprintf("%v", v)
			}
			rowParts = append(rowParts, padStringToWidth(value, col.Width))
		}
		fmt.Fprintln(w, strings.TrimRight(strings.Join(rowParts, " "), " "))
	}
}

// removeANSICodes removes ANSI escape codes from a string for width calculation
func removeANSICodes(s string) string {
	for {
		start := strings.Index(s, "\033[")
		if start == -1 {
			break
		}
		end := strings.Index(s[start:], "m")
		if end == -1 {
			break
		}
		s = s[:start] + s[start+end+1:]
	}
	return s
}

// getDisplayWidth calculates the display width of a string, accounting for ANSI codes and Unicode characters
func getDisplayWidth(s string) int {
	return len([]rune(removeANSICodes(s)))
}

// padStringToWidth pads a string to a specific width, accounting for ANSI codes
func padStringToWidth(s string, width int) string {
	displayWidth := getDisplayWidth(s)
	if displayWidth >= width {
		return s
	}
	return s + strings.Repeat(" ", width-displayWidth)
}
