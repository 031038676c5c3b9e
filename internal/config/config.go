// Package config defines the pipeline configuration consumed by cmd/etl and
// the helpers to load and validate it.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Pipeline is the full job description.
type Pipeline struct {
	Job     string  `json:"job" yaml:"job"`
	Source  Source  `json:"source" yaml:"source"`
	Parser  Parser  `json:"parser" yaml:"parser"`
	Storage Storage `json:"storage" yaml:"storage"`
	Table   Table   `json:"table" yaml:"table"`
	Runtime Runtime `json:"runtime" yaml:"runtime"`
}

type Source struct {
	// Kind is "file" (local path) or "gcs" (gs://bucket/object).
	Kind string `json:"kind" yaml:"kind"`
	URI  string `json:"uri" yaml:"uri"`
	// CredentialsFile is an optional service account key used for gcs.
	CredentialsFile string `json:"credentials_file,omitempty" yaml:"credentials_file,omitempty"`
}

type Parser struct {
	Kind    string  `json:"kind" yaml:"kind"`
	Options Options `json:"options" yaml:"options"`
}

type Storage struct {
	// Kind selects the backend: "bigquery" | "postgres" | "mssql" | "sqlite".
	Kind string `json:"kind" yaml:"kind"`
	// DSN is used by the SQL backends.
	DSN string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
	// Table is the destination, "project:dataset.table" or "project.dataset.table".
	Table           string `json:"table" yaml:"table"`
	// Location pins BigQuery jobs to a region. Empty lets BigQuery use the
	// dataset's own location.
	Location        string `json:"location,omitempty" yaml:"location,omitempty"`
	CredentialsFile string `json:"credentials_file,omitempty" yaml:"credentials_file,omitempty"`
	BatchSize       int    `json:"batch_size,omitempty" yaml:"batch_size,omitempty"`
}

type Table struct {
	// Description is applied once, after the load completes. Empty skips the update.
	Description string `json:"description" yaml:"description"`
}

// Runtime controls in-process execution.
type Runtime struct {
	TransformWorkers int `json:"transform_workers" yaml:"transform_workers"`
	ChannelBuffer    int `json:"channel_buffer" yaml:"channel_buffer"`

	// OnShapeError is "reject" (drop the line, keep going) or "fail" (abort
	// before anything is written).
	OnShapeError string `json:"on_shape_error" yaml:"on_shape_error"`

	// DryRun stops after transformation; the destination is not touched.
	DryRun bool `json:"dry_run" yaml:"dry_run"`
}

const (
	ShapeReject = "reject"
	ShapeFail   = "fail"
)

// Default mirrors the original production job.
func Default() Pipeline {
	return Pipeline{
		Job: "dataflow-imdb",
		Source: Source{
			Kind: "gcs",
			URI:  "gs://imdb-repo/raw/imdb_top_1000.csv",
		},
		Parser: Parser{
			Kind:    "csv",
			Options: Options{"skip_header_lines": 1},
		},
		Storage: Storage{
			Kind:  "bigquery",
			Table: "inbound-byway-475719-v0:imdb_dataset.raw_imdb",
		},
		Table: Table{
			Description: "Banco de dados IMDB com os 1000 melhores filmes e programas de TV",
		},
		Runtime: Runtime{
			TransformWorkers: 4,
			ChannelBuffer:    256,
			OnShapeError:     ShapeReject,
		},
	}
}

// Load reads a pipeline file. Files ending in .yaml/.yml are decoded as YAML,
// everything else as JSON. Unknown JSON fields are rejected.
func Load(path string) (Pipeline, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Pipeline{}, fmt.Errorf("read config: %w", err)
	}
	return Decode(raw, filepath.Ext(path))
}

// Decode parses raw config bytes; ext selects the format (".yaml", ".yml" or JSON).
func Decode(raw []byte, ext string) (Pipeline, error) {
	var p Pipeline
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &p); err != nil {
			return Pipeline{}, fmt.Errorf("decode yaml config: %w", err)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&p); err != nil {
			return Pipeline{}, fmt.Errorf("decode json config: %w", err)
		}
	}
	p.ExpandEnv()
	return p, nil
}

// ExpandEnv substitutes ${VAR} references in the location-like fields.
func (p *Pipeline) ExpandEnv() {
	p.Source.URI = os.ExpandEnv(p.Source.URI)
	p.Source.CredentialsFile = os.ExpandEnv(p.Source.CredentialsFile)
	p.Storage.DSN = os.ExpandEnv(p.Storage.DSN)
	p.Storage.Table = os.ExpandEnv(p.Storage.Table)
	p.Storage.CredentialsFile = os.ExpandEnv(p.Storage.CredentialsFile)
}
