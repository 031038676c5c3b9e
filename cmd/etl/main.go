// Command etl loads the IMDB top-1000 CSV into the configured table.
//
// The job reads the source file (local path or gs://bucket/object), turns each
// line into a typed movie record, replaces the destination table contents
// and finally sets the table description.
//
// Configuration comes from a JSON or YAML pipeline file (-config). A .env file
// in the working directory is loaded first when present, so ${VAR}
// references in the config and the METRICS_* variables can be kept there.
//
// Exit codes: 0 success, 1 runtime failure, 2 usage error.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"imdbetl/internal/config"
	"imdbetl/internal/metrics"
	"imdbetl/internal/metrics/datadog"
	"imdbetl/internal/metrics/prompush"
	"imdbetl/internal/pipeline"

	// register all backends with the storage factory.
	// config specifies which to use but we need to build in support for all of them.
	_ "imdbetl/internal/storage/all"
)

const defaultPushGatewayURL = "http://localhost:9091"

// runner is the seam between the CLI and the pipeline package.
type runner interface {
	Run(ctx context.Context, p config.Pipeline) (pipeline.Result, error)
}

// metricsBackend is what initMetrics needs from a buffered backend.
type metricsBackend interface {
	metrics.Backend
	Close() error
}

// appDeps holds every side-effecting dependency of runMain.
type appDeps struct {
	loadEnv     func() error
	readFile    func(path string) ([]byte, error)
	decode      func(raw []byte, ext string) (config.Pipeline, error)
	newRunner   func(logger pipeline.Logger, runID string) runner
	initMetrics func(ctx context.Context, jobName, backendName, gatewayURL, runID string) (func(), error)
}

func defaultDeps() appDeps {
	return appDeps{
		loadEnv: func() error {
			err := godotenv.Load()
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		},
		readFile: os.ReadFile,
		decode:   config.Decode,
		newRunner: func(logger pipeline.Logger, runID string) runner {
			r := pipeline.NewDefaultRunner(logger)
			r.NewRunID = func() string { return runID }
			return r
		},
		initMetrics: initMetrics,
	}
}

// Seams used by initMetrics tests.
var (
	newDatadogBackend = func(ctx context.Context, opts datadog.Options) (metricsBackend, error) {
		return datadog.NewBackend(ctx, opts)
	}
	newPushBackend = func(jobName, gatewayURL string) (metrics.Backend, error) {
		return prompush.NewBackend(jobName, gatewayURL)
	}
	setMetricsBackend = metrics.SetBackend
	logPrintf         = log.Printf
)

func main() {
	os.Exit(runMain(context.Background(), os.Args[1:], os.Stdout, os.Stderr, defaultDeps()))
}

func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	fset := flag.NewFlagSet("etl", flag.ContinueOnError)
	fset.SetOutput(stderr)

	var (
		cfgPath           = fset.String("config", "", "pipeline config path (.json, .yaml or .yml)")
		metricsBackendFlg = fset.String("metrics-backend", "", "metrics backend: none|pushgateway|datadog (overrides env METRICS_BACKEND)")
		pushGatewayURLFlg = fset.String("pushgateway-url", "", "Pushgateway base URL (overrides env PUSHGATEWAY_URL)")
		validate          = fset.Bool("validate", false, "validate the configuration and exit")
		dryRun            = fset.Bool("dry-run", false, "read and transform but do not touch the destination")
		printDefault      = fset.Bool("print-default", false, "print the default pipeline config as JSON and exit")
		verbose           = fset.Bool("v", false, "enable verbose logs")
	)
	if err := fset.Parse(args); err != nil {
		return 2
	}

	if *printDefault {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(config.Default()); err != nil {
			fmt.Fprintf(stderr, "encode default config: %v\n", err)
			return 1
		}
		return 0
	}

	if strings.TrimSpace(*cfgPath) == "" {
		fmt.Fprintln(stderr, "usage: etl -config path/to/pipeline.json [-validate] [-dry-run] [-metrics-backend none|pushgateway|datadog]")
		return 2
	}

	if deps.loadEnv != nil {
		if err := deps.loadEnv(); err != nil {
			fmt.Fprintf(stderr, "load .env: %v\n", err)
			return 1
		}
	}

	raw, err := deps.readFile(*cfgPath)
	if err != nil {
		fmt.Fprintf(stderr, "read config: %v\n", err)
		return 1
	}
	p, err := deps.decode(raw, filepath.Ext(*cfgPath))
	if err != nil {
		fmt.Fprintf(stderr, "parse config: %v\n", err)
		return 1
	}
	if *dryRun {
		p.Runtime.DryRun = true
	}

	issues := config.ValidatePipeline(p)
	for _, iss := range issues {
		fmt.Fprintln(stderr, iss.String())
	}
	if config.HasErrors(issues) {
		fmt.Fprintf(stderr, "configuration is invalid: %s\n", *cfgPath)
		return 1
	}
	if *validate {
		fmt.Fprintf(stdout, "configuration is valid: %s\n", *cfgPath)
		return 0
	}

	// Decide metrics backend: flag -> env -> none.
	backendName := *metricsBackendFlg
	if backendName == "" {
		backendName = os.Getenv("METRICS_BACKEND")
	}
	gwURL := *pushGatewayURLFlg
	if gwURL == "" {
		gwURL = os.Getenv("PUSHGATEWAY_URL")
	}
	if gwURL == "" {
		gwURL = defaultPushGatewayURL
	}
	jobName := p.Job
	if jobName == "" {
		jobName = "imdb-etl"
	}
	runID := uuid.NewString()

	cleanup, err := deps.initMetrics(ctx, jobName, backendName, gwURL, runID)
	if err != nil {
		fmt.Fprintf(stderr, "init metrics: %v\n", err)
		return 1
	}
	defer cleanup()

	logger := log.New(stderr, "", log.LstdFlags)
	if *verbose {
		logger.Printf("pipeline: source=%s parser=%s storage=%s table=%s metrics=%s",
			p.Source.URI, p.Parser.Kind, p.Storage.Kind, p.Storage.Table, backendName)
	}

	start := time.Now()
	res, err := deps.newRunner(logger, runID).Run(ctx, p)
	if err != nil {
		fmt.Fprintf(stderr, "run: %v\n", err)
		return 1
	}
	if res.DescriptionErr != nil {
		fmt.Fprintf(stderr, "warning: %v\n", res.DescriptionErr)
	}
	if *verbose {
		logger.Printf("completed in %s", time.Since(start).Truncate(time.Millisecond))
	}

	fmt.Fprintf(stdout, "ok run_id=%s read=%d loaded=%d rejected=%d dry_run=%t digest=%s\n",
		res.RunID, res.Read, res.Loaded, res.Rejected, res.DryRun, res.Digest)
	return 0
}

// initMetrics installs the selected metrics backend and returns its cleanup.
// cleanup is never nil and flushes whatever the backend buffered.
func initMetrics(ctx context.Context, jobName, backendName, gatewayURL, runID string) (func(), error) {
	noop := func() {}

	switch strings.ToLower(strings.TrimSpace(backendName)) {
	case "", "none", "noop":
		return noop, nil

	case "pushgateway", "prom":
		b, err := newPushBackend(jobName, gatewayURL)
		if err != nil {
			return noop, fmt.Errorf("pushgateway: %w", err)
		}
		if pb, ok := b.(*prompush.Backend); ok && runID != "" {
			b = pb.Grouping("run_id", runID)
		}
		setMetricsBackend(b)
		return func() {
			if err := b.Flush(); err != nil {
				logPrintf("metrics: pushgateway flush error: %v", err)
			}
		}, nil

	case "datadog", "dd":
		tags := datadog.ParseTagsCSV(os.Getenv("METRICS_TAGS"))
		if runID != "" {
			tags = append(tags, "run_id:"+runID)
		}
		b, err := newDatadogBackend(ctx, datadog.Options{
			JobName:    jobName,
			Tags:       tags,
			FlushEvery: 60 * time.Second,
		})
		if err != nil {
			return noop, fmt.Errorf("datadog: %w", err)
		}
		setMetricsBackend(b)

		// Close stops the periodic flush loop and then performs a final Flush.
		return func() {
			if err := b.Close(); err != nil {
				logPrintf("metrics: datadog close error: %v", err)
			}
		}, nil

	default:
		return noop, fmt.Errorf("unknown metrics backend %q (want none|pushgateway|datadog)", backendName)
	}
}
