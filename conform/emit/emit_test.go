package emit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// TestBufferedEmitter_GetHistoryWithFilter verifies events are grouped by
// run and filtered on every field.
func TestBufferedEmitter_GetHistoryWithFilter(t *testing.T) {
	b := NewBufferedEmitter()
	b.Emit(Event{RunID: "a", Step: 1, Trigger: "start", Msg: MsgTransition})
	b.Emit(Event{RunID: "a", Step: 2, Trigger: "burst(60)", Msg: MsgTransition})
	b.Emit(Event{RunID: "a", Step: 3, Trigger: "burst(60)", Msg: MsgReplyRejected})
	b.Emit(Event{RunID: "b", Step: 1, Trigger: "start", Msg: MsgTransition})

	two, three := 2, 3
	tests := []struct {
		name   string
		filter HistoryFilter
		steps  []int
	}{
		{"all", HistoryFilter{}, []int{1, 2, 3}},
		{"by msg", HistoryFilter{Msg: MsgTransition}, []int{1, 2}},
		{"by trigger", HistoryFilter{Trigger: "burst(60)"}, []int{2, 3}},
		{"by step range", HistoryFilter{MinStep: &two, MaxStep: &three}, []int{2, 3}},
		{"combined", HistoryFilter{Trigger: "burst(60)", Msg: MsgTransition}, []int{2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var steps []int
			for _, e := range b.GetHistoryWithFilter("a", tt.filter) {
				steps = append(steps, e.Step)
			}
			if diff := cmp.Diff(tt.steps, steps); diff != "" {
				t.Errorf("steps mismatch (-want +got):\n%s", diff)
			}
		})
	}

	if got := b.GetHistory("missing"); got == nil || len(got) != 0 {
		t.Errorf("GetHistory(missing) = %v, want empty slice", got)
	}
	if len(b.Runs()) != 2 {
		t.Errorf("Runs() = %v", b.Runs())
	}

	b.Clear("a")
	if len(b.GetHistory("a")) != 0 || len(b.GetHistory("b")) != 1 {
		t.Error("Clear(a) touched the wrong runs")
	}
	b.Clear("")
	if len(b.Runs()) != 0 {
		t.Errorf("Runs() = %v after Clear(\"\")", b.Runs())
	}
}

// TestBufferedEmitter_Concurrent verifies concurrent emitters from several
// runs lose nothing.
func TestBufferedEmitter_Concurrent(t *testing.T) {
	b := NewBufferedEmitter()
	var wg sync.WaitGroup
	for _, run := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				b.Emit(Event{RunID: run, Step: i, Msg: MsgTransition})
			}
		}()
	}
	wg.Wait()
	for _, run := range b.Runs() {
		if n := len(b.GetHistory(run)); n != 100 {
			t.Errorf("run %s has %d events, want 100", run, n)
		}
	}
}

// TestLogEmitter_Emit verifies levels and fields of the log entries.
func TestLogEmitter_Emit(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)
	e := NewLogEmitter(logger)

	e.Emit(Event{RunID: "w", Step: 2, Trigger: "burst(60)", Msg: MsgTransition,
		Meta: map[string]interface{}{"from": "IDLE", "to": "ACTIVE"}})
	e.Emit(Event{RunID: "w", Step: 3, Trigger: "burst(60)", Msg: MsgUnexpectedTransition,
		Meta: map[string]interface{}{"error": "unexpected transition"}})
	e.Emit(Event{RunID: "w", Msg: MsgRunAbort})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d log lines, want 3:\n%s", len(lines), buf.String())
	}

	wantLevels := []string{"debug", "error", "info"}
	for i, line := range lines {
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("line %d is not JSON: %v", i, err)
		}
		if entry["level"] != wantLevels[i] {
			t.Errorf("line %d level = %v, want %s", i, entry["level"], wantLevels[i])
		}
		if entry["run_id"] != "w" || entry["component"] != "conform" {
			t.Errorf("line %d missing run fields: %s", i, line)
		}
	}
	if !strings.Contains(lines[0], `"to":"ACTIVE"`) || !strings.Contains(lines[0], `"trigger":"burst(60)"`) {
		t.Errorf("transition line lacks meta: %s", lines[0])
	}
}

// TestNewWriterLogEmitter verifies console and JSON modes.
func TestNewWriterLogEmitter(t *testing.T) {
	var console, js bytes.Buffer
	NewWriterLogEmitter(&console, false).Emit(Event{RunID: "r", Msg: MsgRunExit})
	NewWriterLogEmitter(&js, true).Emit(Event{RunID: "r", Msg: MsgRunExit})

	if !strings.Contains(console.String(), "run_exit") || strings.HasPrefix(console.String(), "{") {
		t.Errorf("console output = %q", console.String())
	}
	if !json.Valid(bytes.TrimSpace(js.Bytes())) {
		t.Errorf("JSON output = %q", js.String())
	}
}

// TestMultiEmitter_Emit verifies fan-out to every non-nil emitter.
func TestMultiEmitter_Emit(t *testing.T) {
	a, b := NewBufferedEmitter(), NewBufferedEmitter()
	m := NewMultiEmitter(a, nil, NewNullEmitter(), b)
	m.Emit(Event{RunID: "r", Msg: MsgRunExit})

	if len(a.GetHistory("r")) != 1 || len(b.GetHistory("r")) != 1 {
		t.Error("event not delivered to every emitter")
	}
}

// TestOTelEmitter_Emit verifies one ended span per event with typed
// attributes and error status.
func TestOTelEmitter_Emit(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	e := NewOTelEmitter(tp.Tracer("test"))
	e.Emit(Event{
		RunID:   "run-1",
		Step:    2,
		Trigger: "burst(60)",
		Msg:     MsgTransition,
		Meta: map[string]interface{}{
			"bytes":      int32(60),
			"frames":     int64(15),
			"latency_ms": 3 * time.Millisecond,
		},
	})
	e.Emit(Event{RunID: "run-1", Msg: MsgRunAbort, Meta: map[string]interface{}{"error": "boom"}})

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}

	attrs := attributeMap(spans[0].Attributes)
	want := map[string]interface{}{
		"streamcheck.run_id":     "run-1",
		"streamcheck.step":       int64(2),
		"streamcheck.trigger":    "burst(60)",
		"streamcheck.bytes":      int64(60),
		"streamcheck.frames":     int64(15),
		"streamcheck.latency_ms": int64(3),
	}
	if diff := cmp.Diff(want, attrs); diff != "" {
		t.Errorf("attributes mismatch (-want +got):\n%s", diff)
	}
	if spans[0].Name != MsgTransition || !spans[0].EndTime.After(spans[0].StartTime) {
		t.Errorf("span %q not ended", spans[0].Name)
	}
	if spans[1].Status.Code != codes.Error || spans[1].Status.Description != "boom" {
		t.Errorf("abort span status = %+v", spans[1].Status)
	}
}

// TestOTelEmitter_EmitBatch verifies batch emission stops on a cancelled
// context.
func TestOTelEmitter_EmitBatch(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()
	e := NewOTelEmitter(tp.Tracer("test"))

	events := []Event{{RunID: "r", Msg: MsgTransition}, {RunID: "r", Msg: MsgRunExit}}
	if err := e.EmitBatch(context.Background(), events); err != nil {
		t.Fatalf("EmitBatch() error = %v", err)
	}
	if n := len(exporter.GetSpans()); n != 2 {
		t.Errorf("got %d spans, want 2", n)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := e.EmitBatch(ctx, events); err == nil {
		t.Error("EmitBatch() on a cancelled context succeeded")
	}
	if err := e.Flush(context.Background()); err != nil {
		t.Errorf("Flush() error = %v", err)
	}
}

func attributeMap(attrs []attribute.KeyValue) map[string]interface{} {
	m := make(map[string]interface{})
	for _, kv := range attrs {
		m[string(kv.Key)] = kv.Value.AsInterface()
	}
	return m
}
