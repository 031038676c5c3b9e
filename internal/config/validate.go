package config

import (
	"fmt"
	"strings"

	"imdbetl/internal/storage"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding, addressed by a dotted config path.
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
}

var knownStorage = map[string]bool{
	"bigquery": true,
	"postgres": true,
	"mssql":    true,
	"sqlite":   true,
}

// ValidatePipeline checks p and returns every issue found. The pipeline is
// runnable when no issue has SeverityError.
func ValidatePipeline(p Pipeline) []Issue {
	var out []Issue
	add := func(sev Severity, path, format string, a ...any) {
		out = append(out, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, a...)})
	}

	if strings.TrimSpace(p.Job) == "" {
		add(SeverityWarning, "job", "empty job name; metrics will use the default")
	}

	switch p.Source.Kind {
	case "file", "gcs":
	case "":
		add(SeverityError, "source.kind", "required (file or gcs)")
	default:
		add(SeverityError, "source.kind", "unsupported kind %q", p.Source.Kind)
	}
	if strings.TrimSpace(p.Source.URI) == "" {
		add(SeverityError, "source.uri", "required")
	} else if p.Source.Kind == "gcs" && !strings.HasPrefix(p.Source.URI, "gs://") {
		add(SeverityError, "source.uri", "gcs source must start with gs://")
	}

	if p.Parser.Kind != "csv" {
		add(SeverityError, "parser.kind", "must be csv, got %q", p.Parser.Kind)
	}
	if n := p.Parser.Options.Int("skip_header_lines", 1); n < 0 {
		add(SeverityError, "parser.options.skip_header_lines", "must be >= 0")
	}

	if !knownStorage[p.Storage.Kind] {
		add(SeverityError, "storage.kind", "unsupported kind %q", p.Storage.Kind)
	}
	if _, err := storage.ParseTableRef(p.Storage.Table); err != nil {
		add(SeverityError, "storage.table", "%v", err)
	}
	if p.Storage.Kind != "bigquery" && p.Storage.Kind != "" && strings.TrimSpace(p.Storage.DSN) == "" {
		add(SeverityError, "storage.dsn", "required for %s", p.Storage.Kind)
	}
	if p.Storage.BatchSize < 0 {
		add(SeverityError, "storage.batch_size", "must be >= 0")
	}

	if strings.TrimSpace(p.Table.Description) == "" {
		add(SeverityWarning, "table.description", "empty; the description update will be skipped")
	}

	switch p.Runtime.OnShapeError {
	case "", ShapeReject, ShapeFail:
	default:
		add(SeverityError, "runtime.on_shape_error", "must be %q or %q", ShapeReject, ShapeFail)
	}
	if p.Runtime.TransformWorkers < 0 {
		add(SeverityError, "runtime.transform_workers", "must be >= 0")
	}
	if p.Runtime.ChannelBuffer < 0 {
		add(SeverityError, "runtime.channel_buffer", "must be >= 0")
	}

	return out
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}
