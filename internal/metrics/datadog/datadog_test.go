package datadog

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"slices"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"

	"imdbetl/internal/metrics"
)

type recordingSubmitter struct {
	mu    sync.Mutex
	sent  []datadogV2.MetricPayload
	fails error
}

func (r *recordingSubmitter) SubmitMetrics(_ context.Context, body datadogV2.MetricPayload, _ ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, body)
	return datadogV2.IntakePayloadAccepted{}, nil, r.fails
}

func (r *recordingSubmitter) payloads() []datadogV2.MetricPayload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]datadogV2.MetricPayload(nil), r.sent...)
}

// newTestBackend returns a backend whose ticker never fires, so only
// explicit Flush and Close calls submit.
func newTestBackend(t *testing.T, sub *recordingSubmitter, tags ...string) *Backend {
	t.Helper()

	b, err := NewBackend(context.Background(), Options{
		JobName:   "imdb-load",
		Tags:      tags,
		submitter: sub,
		now:       func() time.Time { return time.Unix(1700000000, 0) },
		newTicker: func(time.Duration) *time.Ticker { return time.NewTicker(time.Hour) },
	})
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	return b
}

// seriesValues maps "metric|tag" to the point value for every series that
// carries a tag with the given prefix.
func seriesValues(p datadogV2.MetricPayload, tagPrefix string) map[string]float64 {
	out := make(map[string]float64)
	for _, s := range p.Series {
		for _, tag := range s.Tags {
			if len(tag) >= len(tagPrefix) && tag[:len(tagPrefix)] == tagPrefix {
				out[s.Metric+"|"+tag] = *s.Points[0].Value
			}
		}
	}
	return out
}

func TestFlush_NullCellsOneSeriesPerColumn(t *testing.T) {
	t.Parallel()

	sub := &recordingSubmitter{}
	b := newTestBackend(t, sub)
	defer func() { _ = b.Close() }()

	b.IncCounter(metrics.NullCellsTotal, 2, metrics.Labels{"column": "receita"})
	b.IncCounter(metrics.NullCellsTotal, 1, metrics.Labels{"column": "ano_lancamento"})
	b.IncCounter(metrics.NullCellsTotal, 3, metrics.Labels{"column": "receita"})
	b.IncCounter(metrics.NullCellsTotal, 1, nil)

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	sent := sub.payloads()
	if len(sent) != 1 {
		t.Fatalf("payloads=%d want 1", len(sent))
	}

	got := seriesValues(sent[0], "column:")
	want := map[string]float64{
		"etl.null_cells.total|column:receita":        5,
		"etl.null_cells.total|column:ano_lancamento": 1,
		"etl.null_cells.total|column:unknown":        1,
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("null cell series=%v want %v", got, want)
	}
	for _, s := range sent[0].Series {
		if s.Type == nil || *s.Type != datadogV2.METRICINTAKETYPE_COUNT {
			t.Fatalf("%s: type=%v want count", s.Metric, s.Type)
		}
	}
}

func TestFlush_RecordCountsByKind(t *testing.T) {
	t.Parallel()

	sub := &recordingSubmitter{}
	b := newTestBackend(t, sub)
	defer func() { _ = b.Close() }()

	b.IncCounter(metrics.RecordsTotal, 1000, metrics.Labels{"kind": "read"})
	b.IncCounter(metrics.RecordsTotal, 998, metrics.Labels{"kind": "loaded"})
	b.IncCounter(metrics.RecordsTotal, 2, metrics.Labels{"kind": "rejected"})

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	got := seriesValues(sub.payloads()[0], "kind:")
	want := map[string]float64{
		"etl.records.total|kind:read":     1000,
		"etl.records.total|kind:loaded":   998,
		"etl.records.total|kind:rejected": 2,
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("record series=%v want %v", got, want)
	}
}

func TestNewBackend_RunIDTagOnEverySeries(t *testing.T) {
	t.Setenv("ENV", "")
	t.Setenv("DD_ENV", "")

	sub := &recordingSubmitter{}
	// Same tag list the etl command builds from METRICS_TAGS plus the run id.
	tags := append(ParseTagsCSV("team:data, service:imdb-etl"), "run_id:7c1f")
	b := newTestBackend(t, sub, tags...)
	defer func() { _ = b.Close() }()

	b.IncCounter(metrics.StepTotal, 1, metrics.Labels{"step": "publish", "status": "ok"})
	b.IncCounter(metrics.BatchesTotal, 1, metrics.Labels{"table": "raw_imdb"})
	b.ObserveHistogram(metrics.StepDurationSeconds, 1.5, metrics.Labels{"step": "publish", "status": "ok"})

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	series := sub.payloads()[0].Series
	if len(series) != 8 {
		t.Fatalf("series=%d want 8 (step, batches, 6 duration gauges)", len(series))
	}
	base := []string{"env:unknown", "job:imdb-load", "team:data", "service:imdb-etl", "run_id:7c1f"}
	for _, s := range series {
		if !reflect.DeepEqual(s.Tags[:len(base)], base) {
			t.Fatalf("%s tags=%v want prefix %v", s.Metric, s.Tags, base)
		}
	}
}

func TestIncCounter_IgnoredInputs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		emit func(b *Backend)
	}{
		{name: "unknown_counter", emit: func(b *Backend) { b.IncCounter("etl_rows_skipped_total", 4, metrics.Labels{"kind": "read"}) }},
		{name: "zero_delta", emit: func(b *Backend) { b.IncCounter(metrics.RecordsTotal, 0, metrics.Labels{"kind": "read"}) }},
		{name: "negative_delta", emit: func(b *Backend) { b.IncCounter(metrics.NullCellsTotal, -1, metrics.Labels{"column": "votos"}) }},
		{name: "records_without_kind", emit: func(b *Backend) { b.IncCounter(metrics.RecordsTotal, 1, metrics.Labels{}) }},
		{name: "unknown_histogram", emit: func(b *Backend) { b.ObserveHistogram("etl_row_bytes", 10, nil) }},
		{name: "negative_duration", emit: func(b *Backend) {
			b.ObserveHistogram(metrics.StepDurationSeconds, -0.1, metrics.Labels{"step": "transform", "status": "ok"})
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			sub := &recordingSubmitter{}
			b := newTestBackend(t, sub)
			tc.emit(b)
			if err := b.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}
			if n := len(sub.payloads()); n != 0 {
				t.Fatalf("submitted %d payloads, want none", n)
			}
		})
	}
}

func TestFlush_DurationGauges(t *testing.T) {
	t.Parallel()

	sub := &recordingSubmitter{}
	b := newTestBackend(t, sub)
	defer func() { _ = b.Close() }()

	for _, v := range []float64{0.4, 0.1, 0.3, 0.2, 2.0} {
		b.ObserveHistogram(metrics.StepDurationSeconds, v, metrics.Labels{"step": "transform", "status": "ok"})
	}
	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	got := make(map[string]float64)
	for _, s := range sub.payloads()[0].Series {
		if !slices.Contains(s.Tags, "step:transform") || !slices.Contains(s.Tags, "status:ok") {
			t.Fatalf("%s tags=%v", s.Metric, s.Tags)
		}
		got[s.Metric] = *s.Points[0].Value
	}
	want := map[string]float64{
		"etl.step.duration_seconds.p50":     0.3,
		"etl.step.duration_seconds.p90":     2.0,
		"etl.step.duration_seconds.p95":     2.0,
		"etl.step.duration_seconds.p99":     2.0,
		"etl.step.duration_seconds.max":     2.0,
		"etl.step.duration_seconds.samples": 5,
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("gauges=%v want %v", got, want)
	}
}

func TestFlush_DropsBufferOnSubmitError(t *testing.T) {
	t.Parallel()

	boom := errors.New("intake unavailable")
	sub := &recordingSubmitter{fails: boom}
	b := newTestBackend(t, sub)

	b.IncCounter(metrics.RecordsTotal, 3, metrics.Labels{"kind": "read"})
	if err := b.Flush(); !errors.Is(err, boom) {
		t.Fatalf("Flush err=%v want %v", err, boom)
	}
	if err := b.Flush(); err != nil {
		t.Fatalf("second Flush err=%v want nil", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if n := len(sub.payloads()); n != 1 {
		t.Fatalf("payloads=%d want 1", n)
	}
}

func TestClose_FlushesPendingAndStopsLoop(t *testing.T) {
	t.Parallel()

	sub := &recordingSubmitter{}
	b, err := NewBackend(context.Background(), Options{
		FlushEvery: 2 * time.Millisecond,
		submitter:  sub,
	})
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	if b.flushEvery != 2*time.Millisecond {
		t.Fatalf("flushEvery=%s", b.flushEvery)
	}
	if !slices.Contains(b.baseTags, "job:imdb-etl") {
		t.Fatalf("baseTags=%v want default job tag", b.baseTags)
	}

	b.IncCounter(metrics.BatchesTotal, 1, nil)
	deadline := time.Now().Add(time.Second)
	for len(sub.payloads()) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if len(sub.payloads()) == 0 {
		_ = b.Close()
		t.Fatal("ticker never flushed")
	}

	b.IncCounter(metrics.StepTotal, 1, metrics.Labels{"step": "describe", "status": "error"})
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	sent := sub.payloads()
	last := sent[len(sent)-1]
	if len(last.Series) != 1 || last.Series[0].Metric != "etl.step.total" {
		t.Fatalf("final payload=%+v", last.Series)
	}
	after := len(sent)
	time.Sleep(10 * time.Millisecond)
	if len(sub.payloads()) != after {
		t.Fatal("loop kept flushing after Close")
	}
}

func TestResolveEnvTag(t *testing.T) {
	tests := []struct {
		env, ddEnv, want string
	}{
		{env: "prod", ddEnv: "staging", want: "env:prod"},
		{env: " ", ddEnv: "staging", want: "env:staging"},
		{env: "", ddEnv: "", want: "env:unknown"},
	}
	for _, tc := range tests {
		t.Setenv("ENV", tc.env)
		t.Setenv("DD_ENV", tc.ddEnv)
		if got := resolveEnvTag(); got != tc.want {
			t.Fatalf("ENV=%q DD_ENV=%q: got %q want %q", tc.env, tc.ddEnv, got, tc.want)
		}
	}
}

func TestSplitStepStatusKey(t *testing.T) {
	t.Parallel()

	step, status := splitStepStatusKey(stepStatusKey("publish", "error"))
	if step != "publish" || status != "error" {
		t.Fatalf("got (%q, %q)", step, status)
	}
	step, status = splitStepStatusKey("extract")
	if step != "extract" || status != "unknown" {
		t.Fatalf("got (%q, %q)", step, status)
	}
}

func TestParseTagsCSV(t *testing.T) {
	t.Parallel()

	tests := map[string][]string{
		"":                                  nil,
		"env:prod":                          {"env:prod"},
		" team:data ,, service:imdb-etl , ": {"team:data", "service:imdb-etl"},
	}
	for in, want := range tests {
		got := ParseTagsCSV(in)
		sort.Strings(got)
		sort.Strings(want)
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("ParseTagsCSV(%q)=%v want %v", in, got, want)
		}
	}
}
