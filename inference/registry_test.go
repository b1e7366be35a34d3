package inference

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/crandmck/trustmark/tensor"
)

type closingRunner struct {
	closed atomic.Int32
}

func (r *closingRunner) Run(ctx context.Context, feeds map[string]*tensor.Tensor) (map[string]*tensor.Tensor, error) {
	return feeds, nil
}

func (r *closingRunner) Close() error {
	r.closed.Add(1)
	return nil
}

func TestRegistry_LoadOnce(t *testing.T) {
	var opened atomic.Int32
	runners := map[string]*closingRunner{"resizer": {}, "decoder": {}}
	loader := LoaderFunc(func(ctx context.Context, spec ModelSpec) (Runner, error) {
		opened.Add(1)
		return runners[spec.Name], nil
	})

	r := NewRegistry(loader, ModelSpec{Name: "resizer"}, ModelSpec{Name: "decoder"})
	if err := r.Ready(); !errors.Is(err, ErrModelNotReady) {
		t.Fatalf("expected ErrModelNotReady before load, got %v", err)
	}
	if _, err := r.Decoder(); !errors.Is(err, ErrModelNotReady) {
		t.Fatalf("expected ErrModelNotReady from Decoder, got %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := r.Load(context.Background()); err != nil {
			t.Fatalf("Load: %v", err)
		}
	}
	if n := opened.Load(); n != 2 {
		t.Errorf("opened %d models, want 2", n)
	}

	resizer, err := r.Resizer()
	if err != nil || resizer != runners["resizer"] {
		t.Errorf("Resizer() = %v, %v", resizer, err)
	}
	decoder, err := r.Decoder()
	if err != nil || decoder != runners["decoder"] {
		t.Errorf("Decoder() = %v, %v", decoder, err)
	}

	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	for name, runner := range runners {
		if n := runner.closed.Load(); n != 1 {
			t.Errorf("%s closed %d times, want 1", name, n)
		}
	}
	if err := r.Ready(); err == nil {
		t.Errorf("expected closed registry to report not ready")
	}
}

func TestRegistry_LoadFailure(t *testing.T) {
	resizer := &closingRunner{}
	boom := errors.New("no such file")
	loader := LoaderFunc(func(ctx context.Context, spec ModelSpec) (Runner, error) {
		if spec.Name == "decoder" {
			return nil, boom
		}
		return resizer, nil
	})

	r := NewRegistry(loader, ModelSpec{Name: "resizer"}, ModelSpec{Name: "decoder"})
	err := r.Load(context.Background())

	var loadErr *ModelLoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("expected *ModelLoadError, got %v", err)
	}
	if loadErr.Model != "decoder" || !errors.Is(err, boom) {
		t.Errorf("unexpected load error %v", loadErr)
	}
	if !errors.As(r.Ready(), &loadErr) {
		t.Errorf("Ready() should keep returning the load error")
	}
	if _, err := r.Resizer(); err == nil {
		t.Errorf("expected Resizer() to fail after load failure")
	}
	if n := resizer.closed.Load(); n != 1 {
		t.Errorf("resizer closed %d times after failed load, want 1", n)
	}
}

func TestRegistry_LoadAsync(t *testing.T) {
	release := make(chan struct{})
	loader := LoaderFunc(func(ctx context.Context, spec ModelSpec) (Runner, error) {
		<-release
		return &closingRunner{}, nil
	})

	r := NewRegistry(loader, ModelSpec{Name: "resizer"}, ModelSpec{Name: "decoder"})
	r.LoadAsync(context.Background())
	if err := r.Ready(); !errors.Is(err, ErrModelNotReady) {
		t.Fatalf("expected ErrModelNotReady while loading, got %v", err)
	}
	close(release)

	deadline := time.Now().Add(5 * time.Second)
	for r.Ready() != nil {
		if time.Now().After(deadline) {
			t.Fatalf("registry did not become ready: %v", r.Ready())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStaticRegistry(t *testing.T) {
	resizer, decoder := &closingRunner{}, &closingRunner{}
	r := NewStaticRegistry(resizer, decoder)
	if err := r.Ready(); err != nil {
		t.Fatalf("Ready: %v", err)
	}
	if err := r.Load(context.Background()); err != nil {
		t.Fatalf("Load on static registry: %v", err)
	}
	if got, _ := r.Decoder(); got != decoder {
		t.Errorf("Decoder() returned %v", got)
	}
}

func TestBackends(t *testing.T) {
	native := &closingRunner{}
	backends := Backends{
		"native": LoaderFunc(func(ctx context.Context, spec ModelSpec) (Runner, error) {
			return native, nil
		}),
	}

	got, err := backends.Open(context.Background(), ModelSpec{Name: "resizer", Backend: "native"})
	if err != nil || got != native {
		t.Fatalf("Open(native) = %v, %v", got, err)
	}
	if _, err := backends.Open(context.Background(), ModelSpec{Name: "decoder", Backend: "tpu"}); err == nil {
		t.Errorf("expected error for unknown backend")
	}
}

func TestOutput(t *testing.T) {
	y, _ := tensor.NewFloat32([]int64{1}, []float32{1})
	if got, err := Output(map[string]*tensor.Tensor{"Y": y}, "Y"); err != nil || got != y {
		t.Errorf("Output(Y) = %v, %v", got, err)
	}
	if _, err := Output(map[string]*tensor.Tensor{}, "Y"); err == nil {
		t.Errorf("expected error for missing output")
	}
}
