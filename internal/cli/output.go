package cli

import (
	"encoding/json"
	"fmt"
	"io"
)

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

// PrintJSON marshals v with indentation when the format is json and returns
// whether it printed.
func (f *OutputFormatter) PrintJSON(v any) (bool, error) {
	if f.Format != "json" {
		return false, nil
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return false, fmt.Errorf("marshal output: %w", err)
	}
	fmt.Fprintln(f.Writer, string(data))
	return true, nil
}

// Printf writes formatted text output.
func (f *OutputFormatter) Printf(format string, args ...any) {
	fmt.Fprintf(f.Writer, format, args...)
}
