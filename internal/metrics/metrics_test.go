package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu       sync.Mutex
	counters map[string]float64
	samples  []float64
	flushErr error
}

func (r *recorder) IncCounter(name string, delta float64, labels Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counters == nil {
		r.counters = map[string]float64{}
	}
	r.counters[name+"/"+labels["step"]+"/"+labels["status"]] += delta
}

func (r *recorder) ObserveHistogram(name string, value float64, labels Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, value)
}

func (r *recorder) Flush() error { return r.flushErr }

// Not parallel: the backend is process-global.
func TestSetBackendAndRecordStep(t *testing.T) {
	rec := &recorder{flushErr: errors.New("offline")}
	SetBackend(rec)
	t.Cleanup(func() { SetBackend(nil) })

	RecordStep("transform", "ok", 1500*time.Millisecond)
	RecordStep("transform", "ok", 500*time.Millisecond)

	if got := rec.counters[StepTotal+"/transform/ok"]; got != 2 {
		t.Fatalf("step counter=%v want 2", got)
	}
	if len(rec.samples) != 2 || rec.samples[0] != 1.5 {
		t.Fatalf("samples=%v", rec.samples)
	}
	if err := Flush(); err == nil {
		t.Fatalf("expected backend flush error to surface")
	}

	SetBackend(nil)
	IncCounter(RecordsTotal, 1, Labels{"kind": "read"})
	if err := Flush(); err != nil {
		t.Fatalf("nop backend Flush: %v", err)
	}
}
