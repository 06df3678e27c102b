package provider

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
)

type fakeProber struct {
	reachable map[string]bool
	probes    int
}

func (f *fakeProber) Probe(_ context.Context, model string) error {
	f.probes++
	if f.reachable[model] {
		return nil
	}
	return errors.New("model not found")
}

func testSelectorLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

func TestSelectorPicksFirstReachableCandidate(t *testing.T) {
	prober := &fakeProber{reachable: map[string]bool{"model-b": true, "model-c": true}}
	s := NewSelector(prober, []string{"model-a", "model-b", "model-c"}, "", testSelectorLogger())

	model, err := s.Resolve(context.Background())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if model != "model-b" {
		t.Fatalf("got %q, want model-b", model)
	}
	if prober.probes != 2 {
		t.Fatalf("probed %d times, want 2 (stop at first reachable)", prober.probes)
	}
}

func TestSelectorMemoizesResult(t *testing.T) {
	prober := &fakeProber{reachable: map[string]bool{"model-a": true}}
	s := NewSelector(prober, []string{"model-a"}, "", testSelectorLogger())

	if _, err := s.Resolve(context.Background()); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	if _, err := s.Resolve(context.Background()); err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if prober.probes != 1 {
		t.Fatalf("probed %d times across two resolves, want 1", prober.probes)
	}
}

func TestSelectorFallsBackWhenNothingReachable(t *testing.T) {
	prober := &fakeProber{}
	s := NewSelector(prober, []string{"model-a", "model-b"}, "backup-model", testSelectorLogger())

	model, err := s.Resolve(context.Background())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if model != "backup-model" {
		t.Fatalf("got %q, want backup-model", model)
	}
}

func TestSelectorNoModelWithoutFallback(t *testing.T) {
	prober := &fakeProber{}
	s := NewSelector(prober, []string{"model-a"}, "", testSelectorLogger())

	if _, err := s.Resolve(context.Background()); !errors.Is(err, ErrNoModel) {
		t.Fatalf("got %v, want ErrNoModel", err)
	}
}

func TestSelectorMemoizesFailure(t *testing.T) {
	prober := &fakeProber{}
	s := NewSelector(prober, []string{"model-a"}, "", testSelectorLogger())

	_, _ = s.Resolve(context.Background())
	_, err := s.Resolve(context.Background())
	if !errors.Is(err, ErrNoModel) {
		t.Fatalf("got %v, want ErrNoModel", err)
	}
	if prober.probes != 1 {
		t.Fatalf("probed %d times, want 1", prober.probes)
	}
}
