package manager

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"ocrd/internal/engine"
	"ocrd/internal/engine/enginetest"
)

func TestNewWithConfigDefaults(t *testing.T) {
	m := NewWithConfig(ManagerConfig{})
	if m.backend != defaultBackend {
		t.Fatalf("expected default backend %q got %q", defaultBackend, m.backend)
	}
	if m.maxQueueDepth != defaultMaxQueueDepth {
		t.Fatalf("expected default maxQueueDepth=%d got %d", defaultMaxQueueDepth, m.maxQueueDepth)
	}
	if m.maxWait != defaultMaxWait {
		t.Fatalf("expected default maxWait=%v got %v", defaultMaxWait, m.maxWait)
	}
	if m.maxInflight != defaultMaxInflight || m.drainTimeout != defaultDrainTimeout {
		t.Fatalf("unexpected limits: inflight=%d drain=%v", m.maxInflight, m.drainTimeout)
	}
	if m.args.Model != engine.DefaultArgs().Model {
		t.Fatalf("expected default model path, got %q", m.args.Model)
	}
	if m.defaults.MaxTokens != 4096 || m.defaults.MaxTokensCeiling != 8192 {
		t.Fatalf("unexpected sampling defaults: %+v", m.defaults)
	}
	if m.Ready() {
		t.Fatalf("new manager must not be ready")
	}
	if s := m.Snapshot(); s.State != StateAbsent {
		t.Fatalf("expected absent state, got %s", s.State)
	}
}

func TestInitializeConcurrentCallsFactoryOnce(t *testing.T) {
	f := &enginetest.Fake{}
	var calls atomic.Int32
	m := newTestManager(t, f, ManagerConfig{
		Factory: func(ctx context.Context, _ engine.Args, _ zerolog.Logger) (engine.Engine, error) {
			calls.Add(1)
			time.Sleep(10 * time.Millisecond)
			return f, nil
		},
	})

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- m.Initialize(context.Background())
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Initialize: %v", err)
		}
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("expected factory to run once, ran %d times", n)
	}
	if !m.Ready() {
		t.Fatalf("expected ready after Initialize")
	}
}

func TestInitializeConcurrentFailureSharesOneAttempt(t *testing.T) {
	f := &enginetest.Fake{}
	boom := errors.New("weights not found")
	var calls atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})
	m := newTestManager(t, f, ManagerConfig{
		Factory: func(ctx context.Context, _ engine.Args, _ zerolog.Logger) (engine.Engine, error) {
			if calls.Add(1) == 1 {
				close(entered)
			}
			<-release
			return nil, boom
		},
	})

	const n = 8
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- m.Initialize(context.Background())
		}()
	}
	<-entered
	// Give the remaining callers time to join the running attempt.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	var first error
	for err := range errs {
		if !IsInitialization(err) || !errors.Is(err, boom) {
			t.Fatalf("expected InitializationError wrapping cause, got %v", err)
		}
		if first == nil {
			first = err
		} else if err != first {
			t.Fatalf("callers saw different failures: %v vs %v", first, err)
		}
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("factory calls for %d concurrent failing Initialize: %d, want 1", n, got)
	}
	if m.Ready() {
		t.Fatalf("must not be ready after failed init")
	}
}

func TestInitializeFailureLeavesManagerUninitialized(t *testing.T) {
	f := &enginetest.Fake{Chunks: []string{"ok"}}
	boom := errors.New("CUDA out of memory")
	fail := true
	m := newTestManager(t, f, ManagerConfig{
		Factory: func(ctx context.Context, _ engine.Args, _ zerolog.Logger) (engine.Engine, error) {
			if fail {
				return nil, boom
			}
			return f, nil
		},
	})

	err := m.Initialize(context.Background())
	if !IsInitialization(err) || !errors.Is(err, boom) {
		t.Fatalf("expected InitializationError wrapping cause, got %v", err)
	}
	if m.Ready() {
		t.Fatalf("must not be ready after failed init")
	}
	if s := m.Snapshot(); s.State != StateAbsent || s.Err == "" {
		t.Fatalf("unexpected snapshot after failure: %+v", s)
	}
	if _, err := m.Generate(context.Background(), GenerateParams{Prompt: "hi"}); !IsEngineNotReady(err) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}

	// A later attempt may still succeed.
	fail = false
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("second Initialize: %v", err)
	}
	if !m.Ready() {
		t.Fatalf("expected ready after retry")
	}
}

func TestInitializeRecoversFactoryPanic(t *testing.T) {
	m := newTestManager(t, nil, ManagerConfig{
		Factory: func(ctx context.Context, _ engine.Args, _ zerolog.Logger) (engine.Engine, error) {
			panic("bad weights")
		},
	})
	err := m.Initialize(context.Background())
	if !IsInitialization(err) {
		t.Fatalf("expected InitializationError, got %v", err)
	}
	if m.Ready() {
		t.Fatalf("must not be ready")
	}
}

func TestInitializeNilEngine(t *testing.T) {
	m := newTestManager(t, nil, ManagerConfig{
		Factory: func(ctx context.Context, _ engine.Args, _ zerolog.Logger) (engine.Engine, error) {
			return nil, nil
		},
	})
	if err := m.Initialize(context.Background()); !IsInitialization(err) {
		t.Fatalf("expected InitializationError, got %v", err)
	}
}

func TestInitializeWarnsForTextOnlyBackend(t *testing.T) {
	for _, tc := range []struct {
		backend string
		warn    bool
	}{{"llama", true}, {"vllm", false}} {
		var buf bytes.Buffer
		log := zerolog.New(&buf)
		f := &enginetest.Fake{}
		readyManager(t, f, ManagerConfig{
			Backend: tc.backend,
			Args:    engine.Args{Model: "deepseek-ai/DeepSeek-OCR"},
			Logger:  &log,
			Factory: enginetest.Factory(f, nil),
		})
		if got := strings.Contains(buf.String(), "text-only"); got != tc.warn {
			t.Fatalf("%s: text-only warning=%v, want %v; log=%s", tc.backend, got, tc.warn, buf.String())
		}
	}
}

func TestReadyDoesNotBlockDuringInitialize(t *testing.T) {
	f := &enginetest.Fake{}
	entered := make(chan struct{})
	release := make(chan struct{})
	m := newTestManager(t, f, ManagerConfig{Factory: blockingFactory(f, entered, release)})

	initErr := make(chan error, 1)
	go func() { initErr <- m.Initialize(context.Background()) }()
	<-entered

	got := make(chan bool, 1)
	go func() { got <- m.Ready() }()
	select {
	case r := <-got:
		if r {
			t.Fatalf("Ready must be false while initializing")
		}
	case <-time.After(time.Second):
		t.Fatalf("Ready blocked while Initialize held the lock")
	}
	if st := m.Status(); st.State != string(StateInitializing) {
		t.Fatalf("expected initializing status, got %q", st.State)
	}
	if _, err := m.Generate(context.Background(), GenerateParams{Prompt: "x"}); !IsEngineNotReady(err) {
		t.Fatalf("expected ErrEngineNotReady during init, got %v", err)
	}

	close(release)
	if err := <-initErr; err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if !m.Ready() {
		t.Fatalf("expected ready")
	}
}

func TestInitializeAppliesArchitectureAndDevices(t *testing.T) {
	t.Setenv("CUDA_VISIBLE_DEVICES", "")
	f := &enginetest.Fake{}
	var got engine.Args
	m := newTestManager(t, f, ManagerConfig{
		CUDAVisibleDevices: "1,2",
		Args:               engine.Args{Model: "deepseek-ai/DeepSeek-OCR"},
		Factory: func(ctx context.Context, a engine.Args, _ zerolog.Logger) (engine.Engine, error) {
			got = a
			return f, nil
		},
	})
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if !reflect.DeepEqual(got.Architectures, []string{engine.DefaultArchitecture}) {
		t.Fatalf("expected default architecture, got %v", got.Architectures)
	}
	if v := os.Getenv("CUDA_VISIBLE_DEVICES"); v != "1,2" {
		t.Fatalf("expected CUDA_VISIBLE_DEVICES=1,2 got %q", v)
	}
}

func TestSanityCheckFailsInitialize(t *testing.T) {
	m := newTestManager(t, nil, ManagerConfig{
		Backend: "vllm-spawn",
		Args:    engine.Args{Model: "deepseek-ai/DeepSeek-OCR", Binary: "ocrd-no-such-runtime-binary"},
		Factory: func(ctx context.Context, _ engine.Args, _ zerolog.Logger) (engine.Engine, error) {
			t.Fatalf("factory must not run when preflight fails")
			return nil, nil
		},
	})
	rep := m.SanityCheck()
	if rep.BinaryFound || rep.Error == "" {
		t.Fatalf("expected missing binary, got %+v", rep)
	}
	if err := m.Initialize(context.Background()); !IsInitialization(err) {
		t.Fatalf("expected InitializationError, got %v", err)
	}
}

func TestSanityCheckModelPath(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "absent")

	m := NewWithConfig(ManagerConfig{Backend: "llama", Args: engine.Args{Model: missing}})
	if rep := m.SanityCheck(); rep.ModelFound || rep.Error == "" {
		t.Fatalf("expected missing model, got %+v", rep)
	}

	m = NewWithConfig(ManagerConfig{Backend: "llama", Args: engine.Args{Model: dir}})
	if rep := m.SanityCheck(); !rep.ModelFound || rep.Error != "" {
		t.Fatalf("expected model found, got %+v", rep)
	}

	// Hub identifiers and remote backends are not checked on disk.
	m = NewWithConfig(ManagerConfig{Backend: "vllm", Args: engine.Args{Model: missing}})
	if rep := m.SanityCheck(); rep.Error != "" {
		t.Fatalf("remote backend must not check model path: %+v", rep)
	}
}

func TestShutdownIdempotent(t *testing.T) {
	f := &enginetest.Fake{}
	m := newTestManager(t, f, ManagerConfig{})
	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown before init: %v", err)
	}
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := m.Shutdown(context.Background()); err != nil {
			t.Fatalf("Shutdown #%d: %v", i, err)
		}
	}
	if f.Closes() != 1 {
		t.Fatalf("expected engine closed once, got %d", f.Closes())
	}
	if m.Ready() {
		t.Fatalf("must not be ready after shutdown")
	}
	if _, err := m.Generate(context.Background(), GenerateParams{Prompt: "x"}); !IsEngineNotReady(err) {
		t.Fatalf("expected ErrEngineNotReady after shutdown, got %v", err)
	}
}

func TestReinitializeAfterShutdown(t *testing.T) {
	f := &enginetest.Fake{Chunks: []string{"again"}}
	m := readyManager(t, f, ManagerConfig{})
	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	out, err := m.Generate(context.Background(), GenerateParams{Prompt: "x"})
	if err != nil || out != "again" {
		t.Fatalf("Generate after reinit: %q %v", out, err)
	}
}

func TestLifecycleEvents(t *testing.T) {
	f := &enginetest.Fake{Chunks: []string{"a"}}
	pub := NewMemoryPublisher()
	m := newTestManager(t, f, ManagerConfig{Publisher: pub})
	_ = m.Initialize(context.Background())
	_ = m.Initialize(context.Background())
	if _, err := m.Generate(context.Background(), GenerateParams{Prompt: "x"}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	_ = m.Shutdown(context.Background())

	want := []string{
		EventInitStart, EventInitReady, EventInitSkipped,
		EventGenerateStart, EventGenerateDone,
		EventShutdownStart, EventShutdownDone,
	}
	if got := pub.Names(); !reflect.DeepEqual(got, want) {
		t.Fatalf("events mismatch\n got: %v\nwant: %v", got, want)
	}
	if st := m.Status(); len(st.Events) != len(want) {
		t.Fatalf("status should expose event tail, got %v", st.Events)
	}
}

func TestRingPublisherKeepsTail(t *testing.T) {
	p := NewRingPublisher(2)
	for _, n := range []string{"a", "b", "c"} {
		p.Publish(Event{Name: n})
	}
	if got := p.Names(); !reflect.DeepEqual(got, []string{"b", "c"}) {
		t.Fatalf("unexpected tail %v", got)
	}
}
