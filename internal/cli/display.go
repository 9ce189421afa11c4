package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/roach88/huntflow/internal/engine"
	"github.com/roach88/huntflow/internal/ir"
)

// DisplayWriter is the engine.Output of the CLI. In text format every DISP
// is printed as a table and every INFO as a summary as soon as it runs. In
// json format both are collected for the final response.
type DisplayWriter struct {
	Format string
	Writer io.Writer

	Displays []engine.Display
	Infos    []engine.VariableInfo
}

func (w *DisplayWriter) Display(d engine.Display) error {
	if w.Format == "json" {
		w.Displays = append(w.Displays, d)
		return nil
	}
	return writeTable(w.Writer, d)
}

func (w *DisplayWriter) Info(i engine.VariableInfo) error {
	if w.Format == "json" {
		w.Infos = append(w.Infos, i)
		return nil
	}
	return writeInfo(w.Writer, i)
}

// RunOutput is the json payload of a completed run.
type RunOutput struct {
	Displays []engine.Display      `json:"displays"`
	Infos    []engine.VariableInfo `json:"infos"`
	Trace    []engine.Trace        `json:"trace"`
}

// writeTable prints the rows of d, one column per attribute.
func writeTable(out io.Writer, d engine.Display) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(d.Attributes, "\t"))
	for _, row := range d.Rows {
		cells := make([]string, len(d.Attributes))
		for i, attr := range d.Attributes {
			cells[i] = cell(row[attr])
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(out, "(%d %s)\n\n", len(d.Rows), plural(len(d.Rows), "row", "rows"))
	return err
}

// cell renders one value on a single line.
func cell(v ir.IRValue) string {
	if v == nil || ir.IsNull(v) {
		return "-"
	}
	return strings.ReplaceAll(ir.Text(v), "\n", `\n`)
}

func writeInfo(out io.Writer, i engine.VariableInfo) error {
	fmt.Fprintf(out, "Variable:    %s\n", i.Variable)
	fmt.Fprintf(out, "Type:        %s\n", i.EntityType)
	fmt.Fprintf(out, "Rows:        %d\n", i.Count)
	fmt.Fprintf(out, "Provenance:  %s\n", i.Provenance)
	if len(i.Datasources) > 0 {
		fmt.Fprintf(out, "Datasources: %s\n", strings.Join(i.Datasources, ", "))
	}
	fmt.Fprintln(out, "Attributes:")
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, a := range i.Attributes {
		fmt.Fprintf(tw, "  %s\t%s\t%d non-null\n", a.Name, a.Kind, a.NonNull)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintln(out)
	return err
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

// encodeJSON writes v as indented JSON.
func encodeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
