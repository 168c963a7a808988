package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/itchyny/gojq"
	"github.com/spf13/pflag"

	apiclient "github.com/splax/confvault/pkg/api/client"
)

const redactedMarker = "[REDACTED]"

type outputOptions struct {
	json bool
	jq   string
}

func registerOutputFlags(fs *pflag.FlagSet) *outputOptions {
	out := &outputOptions{}
	fs.BoolVar(&out.json, "json", false, "Print the raw JSON response")
	fs.StringVar(&out.jq, "jq", "", "Filter the JSON response with a jq expression")
	return out
}

// raw reports whether the caller asked for machine readable output.
func (o *outputOptions) raw() bool {
	return o.json || o.jq != ""
}

func (o *outputOptions) emit(w io.Writer, v any) error {
	if o.jq == "" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	results, err := applyJQ(context.Background(), o.jq, v)
	if err != nil {
		return err
	}
	for _, r := range results {
		if s, ok := r.(string); ok {
			fmt.Fprintln(w, s)
			continue
		}
		data, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(w, string(data))
	}
	return nil
}

// applyJQ runs expression over v after a JSON round trip so that jq sees
// plain maps, slices and float64 numbers.
func applyJQ(ctx context.Context, expression string, v any) ([]any, error) {
	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("jq parse error in %q: %w", expression, err)
	}
	code, err := gojq.Compile(query, gojq.WithEnvironLoader(func() []string { return nil }))
	if err != nil {
		return nil, fmt.Errorf("jq compile error in %q: %w", expression, err)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var input any
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, err
	}

	var results []any
	iter := code.RunWithContext(ctx, input)
	for {
		val, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := val.(error); isErr {
			return nil, fmt.Errorf("jq evaluation failed for %q: %w", expression, err)
		}
		results = append(results, val)
	}
	return results, nil
}

func printTable(w io.Writer, header []string, rows [][]string) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	bold := color.New(color.Bold).SprintFunc()
	for i, h := range header {
		header[i] = bold(h)
	}
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

// displayValue hides sealed values in human readable listings.
func displayValue(v apiclient.Variable) string {
	if v.IsSecret {
		return color.MagentaString("<secret>")
	}
	return v.Value
}

// auditChange renders old → new for an audit entry.
func auditChange(entry apiclient.AuditLog) string {
	render := func(p *string) string {
		if p == nil {
			return "-"
		}
		if *p == redactedMarker {
			return color.MagentaString(*p)
		}
		return *p
	}
	return render(entry.OldValue) + " → " + render(entry.NewValue)
}

func success(format string, args ...any) {
	fmt.Println(color.GreenString("✓") + " " + fmt.Sprintf(format, args...))
}

func hint(format string, args ...any) {
	fmt.Fprintln(os.Stderr, color.CyanString("→")+" "+fmt.Sprintf(format, args...))
}
