// Command probe inspects an IMDB CSV file without loading it.
//
// It reads up to -rows records through the same parser and transformer the
// load job uses and prints what would be rejected or nulled:
//
//   - shape errors (wrong field count, broken quoting) with line numbers
//   - per numeric column, null counts and the raw values that caused them
//
// The input can be a local path, a file:// URL or a gs://bucket/object URI.
//
// Output is a text table by default, or JSON with -json.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"imdbetl/internal/config"
	"imdbetl/internal/datasource"
	"imdbetl/internal/probe"
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

// run is main without the process exit, so tests can drive it.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("probe", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		// flagInput is the file to inspect: path, file:// or gs://.
		flagInput = fs.String("input", "", "Path, file:// URL or gs:// URI of the CSV file")

		// flagRows bounds the number of records read. 0 reads the whole file.
		flagRows = fs.Int("rows", 0, "Maximum number of records to read (0 = all)")

		flagJSON    = fs.Bool("json", false, "Print the report as JSON")
		flagComma   = fs.String("comma", ",", "Field delimiter")
		flagSkip    = fs.Int("skip-header-lines", 1, "Leading lines to skip")
		flagSamples = fs.Int("samples", 3, "Distinct unparsed values kept per column")
		flagCreds   = fs.String("credentials-file", "", "Service account key for gs:// inputs")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if strings.TrimSpace(*flagInput) == "" {
		fmt.Fprintln(stderr, "missing -input")
		fs.Usage()
		return 2
	}
	if *flagRows < 0 {
		fmt.Fprintln(stderr, "-rows must be >= 0")
		return 2
	}

	src, err := datasource.Open(ctx, *flagInput, datasource.Options{CredentialsFile: *flagCreds})
	if err != nil {
		fmt.Fprintf(stderr, "probe: %v\n", err)
		return 1
	}

	rep, err := probe.Probe(ctx, src, probe.Options{
		MaxRows: *flagRows,
		Samples: *flagSamples,
		Parser: config.Options{
			"comma":             *flagComma,
			"skip_header_lines": *flagSkip,
		},
	})
	if err != nil {
		fmt.Fprintf(stderr, "probe: %v\n", err)
		return 1
	}

	if *flagJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rep); err != nil {
			fmt.Fprintf(stderr, "probe: encode: %v\n", err)
			return 1
		}
		return 0
	}
	if err := rep.WriteText(stdout); err != nil {
		fmt.Fprintf(stderr, "probe: write: %v\n", err)
		return 1
	}
	return 0
}
