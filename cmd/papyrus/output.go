package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/tlawson/papyrus/internal/work"
)

// ListTitleMaxLen truncates titles in list output.
const ListTitleMaxLen = 60

// outputJSON writes a value as formatted JSON to stdout.
func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError writes an error message to stderr and returns the exit code.
func outputError(code int, format string, args ...interface{}) int {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	return code
}

// exitWithError outputs an error in the appropriate format and exits.
func exitWithError(code int, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if humanOutput {
		fmt.Fprintf(os.Stderr, "error: %s\n", msg)
	} else {
		outputJSON(ErrorResponse{Error: msg})
	}
	os.Exit(code)
}

// ErrorResponse is a JSON error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatusResponse is a generic response for commands that return status.
type StatusResponse struct {
	Status string `json:"status"`
	Path   string `json:"path,omitempty"`
	ID     string `json:"id,omitempty"`
}

// truncateString truncates a string to maxLen, adding "..." if truncated.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// formatAuthorsShort formats authors with "et al." past maxCount.
func formatAuthorsShort(authors []work.Author, maxCount int) string {
	if len(authors) == 0 {
		return ""
	}
	var names []string
	for i, a := range authors {
		if i >= maxCount {
			names = append(names, "et al.")
			break
		}
		names = append(names, a.Family)
	}
	return strings.Join(names, ", ")
}

// printWorkHuman prints one record in the list format.
func printWorkHuman(w *work.Work) {
	fmt.Printf("%s  [%s]\n", w.ID, w.Stage)
	fmt.Printf("   %s\n", truncateString(w.Title, ListTitleMaxLen))
	line := formatAuthorsShort(w.Authors, 3)
	if w.Year != 0 {
		line = fmt.Sprintf("%s (%d)", line, w.Year)
	}
	if line != "" {
		fmt.Printf("   %s\n", line)
	}
	if w.DOINorm != "" {
		fmt.Printf("   doi:%s\n", w.DOINorm)
	}
	if w.FailReason != "" {
		fmt.Printf("   failed: %s\n", w.FailReason)
	}
	fmt.Println()
}
