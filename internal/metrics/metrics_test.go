package metrics

import (
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu       sync.Mutex
	counters map[string]float64
	samples  map[string][]float64
	flushed  int
}

func newRecorder() *recorder {
	return &recorder{counters: map[string]float64{}, samples: map[string][]float64{}}
}

func (r *recorder) IncCounter(name string, delta float64, l Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[name+"/"+l["step"]+l["kind"]+"/"+l["status"]] += delta
}

func (r *recorder) ObserveHistogram(name string, v float64, l Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples[name] = append(r.samples[name], v)
}

func (r *recorder) Flush() error {
	r.flushed++
	return nil
}

func TestRecordStepAndRows(t *testing.T) {
	r := newRecorder()
	SetBackend(r)
	t.Cleanup(func() { SetBackend(nil) })

	RecordStep("groupby", "ok", 1500*time.Millisecond)
	RecordStep("groupby", "ok", time.Second)
	RecordStep("merge", "error", 0)
	RecordRows("loaded", 158)
	RecordRows("dropped", 0)

	if got := r.counters["eda_step_total/groupby/ok"]; got != 2 {
		t.Fatalf("groupby ok=%v, want 2", got)
	}
	if got := r.counters["eda_step_total/merge/error"]; got != 1 {
		t.Fatalf("merge error=%v, want 1", got)
	}
	if got := r.counters["eda_records_total/loaded/"]; got != 158 {
		t.Fatalf("loaded=%v, want 158", got)
	}
	if _, ok := r.counters["eda_records_total/dropped/"]; ok {
		t.Fatalf("zero rows recorded")
	}
	if got := r.samples[StepDuration]; len(got) != 3 || got[0] != 1.5 {
		t.Fatalf("durations=%v", got)
	}

	if err := Flush(); err != nil || r.flushed != 1 {
		t.Fatalf("Flush err=%v flushed=%d", err, r.flushed)
	}
}

func TestNopBackend(t *testing.T) {
	SetBackend(nil)
	IncCounter(StepTotal, 1, nil)
	ObserveHistogram(StepDuration, 1, nil)
	if err := Flush(); err != nil {
		t.Fatalf("Flush on nop: %v", err)
	}
}
