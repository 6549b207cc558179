package output

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/aspirely/aspirely-cli/pkg/config"
	clierrors "github.com/aspirely/aspirely-cli/pkg/errors"
	"github.com/fatih/color"
	json "github.com/json-iterator/go"
)

// OutputFormat represents the output format type
type OutputFormat string

const (
	FormatJSON  OutputFormat = "json"
	FormatTable OutputFormat = "table"
	FormatText  OutputFormat = "text"
)

// Out receives all command output.
var Out io.Writer = color.Output

// Field is one labelled value of a record. Records keep field order.
type Field struct {
	Key   string
	Value interface{}
}

// GetOutputFormat returns the configured output format
func GetOutputFormat() OutputFormat {
	switch config.GetString("output.format") {
	case "json":
		return FormatJSON
	case "table":
		return FormatTable
	default:
		return FormatText
	}
}

// ValidateOutputFormat checks if format is valid
func ValidateOutputFormat(format string) bool {
	return format == "json" || format == "table" || format == "text"
}

// IsJSON reports whether machine-readable output was requested.
func IsJSON() bool {
	return GetOutputFormat() == FormatJSON
}

// Print outputs data as JSON in json mode and as a titled pretty JSON
// block otherwise.
func Print(title string, data interface{}) error {
	if IsJSON() {
		return printJSON(data)
	}
	if title != "" {
		color.New(color.Bold).Fprintf(Out, "%s\n", title)
	}
	return printJSON(data)
}

// PrintList prints items as JSON in json mode and as a table of rows
// otherwise. An empty list prints the empty message.
func PrintList(title string, items interface{}, headers []string, rows [][]string, empty string) error {
	if IsJSON() {
		return printJSON(items)
	}
	if title != "" {
		color.New(color.Bold).Fprintf(Out, "%s\n", title)
	}
	if len(rows) == 0 {
		if empty != "" {
			color.New(color.Faint).Fprintln(Out, empty)
		}
		return nil
	}
	printTable(headers, rows)
	return nil
}

// PrintRecord outputs a single record in the configured format
func PrintRecord(title string, fields []Field) error {
	if IsJSON() {
		obj := make(map[string]interface{}, len(fields))
		for _, f := range fields {
			obj[f.Key] = f.Value
		}
		return printJSON(obj)
	}

	if GetOutputFormat() == FormatTable {
		rows := make([][]string, 0, len(fields))
		for _, f := range fields {
			rows = append(rows, []string{f.Key, fmt.Sprintf("%v", f.Value)})
		}
		printTable([]string{"Field", "Value"}, rows)
		return nil
	}

	if title != "" {
		color.New(color.Bold).Fprintf(Out, "%s\n", title)
	}
	width := 0
	for _, f := range fields {
		if len(f.Key) > width {
			width = len(f.Key)
		}
	}
	bold := color.New(color.Bold)
	for _, f := range fields {
		bold.Fprintf(Out, "  %-*s  ", width, f.Key+":")
		fmt.Fprintf(Out, "%v\n", f.Value)
	}
	return nil
}

// PrintBody prints a long text block under a heading.
func PrintBody(heading, body string) {
	if heading != "" {
		color.New(color.Bold, color.Underline).Fprintln(Out, heading)
		fmt.Fprintln(Out)
	}
	fmt.Fprintln(Out, strings.TrimSpace(body))
}

// PrintFreshness prints the cached/offline notice for list output.
func PrintFreshness(cached, connectionIssue bool, updatedAt time.Time) {
	if IsJSON() {
		return
	}
	switch {
	case connectionIssue:
		PrintWarning("could not reach Aspirely; showing data cached %s", Ago(updatedAt))
	case cached:
		color.New(color.Faint).Fprintf(Out, "(cached %s)\n", Ago(updatedAt))
	}
}

// PrintSuccess prints a success message
func PrintSuccess(msg string, args ...interface{}) {
	color.New(color.FgGreen).Fprintf(Out, msg+"\n", args...)
}

// PrintError prints an error message
func PrintError(msg string, args ...interface{}) {
	color.New(color.FgRed).Fprintf(Out, "Error: "+msg+"\n", args...)
}

// PrintInfo prints an info message
func PrintInfo(msg string, args ...interface{}) {
	color.New(color.FgCyan).Fprintf(Out, msg+"\n", args...)
}

// PrintWarning prints a warning message
func PrintWarning(msg string, args ...interface{}) {
	color.New(color.FgYellow).Fprintf(Out, "Warning: "+msg+"\n", args...)
}

// PrintCLIError renders err with its category and suggestion.
func PrintCLIError(err error) {
	if err == nil {
		return
	}
	color.New(color.FgRed).Fprint(Out, clierrors.FormatError(err))
}

// Ago renders a timestamp relative to now.
func Ago(t time.Time) string {
	if t.IsZero() {
		return "at an unknown time"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func printJSON(data interface{}) error {
	out, err := FormatAsPrettyJSON(data)
	if err != nil {
		return err
	}
	fmt.Fprintln(Out, out)
	return nil
}

func printTable(headers []string, rows [][]string) {
	w := tabwriter.NewWriter(Out, 0, 0, 2, ' ', 0)
	bold := color.New(color.Bold)

	for i, h := range headers {
		bold.Fprint(w, h)
		if i < len(headers)-1 {
			fmt.Fprint(w, "\t")
		}
	}
	fmt.Fprintln(w)

	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}

	w.Flush()
}

// FormatAsJSON converts data to a compact JSON string
func FormatAsJSON(data interface{}) (string, error) {
	out, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// FormatAsPrettyJSON converts data to an indented JSON string
func FormatAsPrettyJSON(data interface{}) (string, error) {
	out, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}
