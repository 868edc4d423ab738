package engine

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

func init() {
	Register("vllm-spawn", NewVLLMSpawn)
}

// spawnedEngine owns a `vllm serve` child process and talks to it through
// the vllm client.
type spawnedEngine struct {
	*vllmEngine
	cmd    *exec.Cmd
	exited chan struct{}
	stderr *tailBuffer
	stop   sync.Once
}

// serveArgs builds the `vllm serve` command line for args on host:port.
func serveArgs(args Args, host string, port int) []string {
	out := []string{
		"serve", args.Model,
		"--host", host,
		"--port", strconv.Itoa(port),
		"--hf-overrides", args.HFOverrides(),
	}
	if args.BlockSize > 0 {
		out = append(out, "--block-size", strconv.Itoa(args.BlockSize))
	}
	if args.ServedModelName != "" {
		out = append(out, "--served-model-name", args.ServedModelName)
	}
	if args.MaxModelLen > 0 {
		out = append(out, "--max-model-len", strconv.Itoa(args.MaxModelLen))
	}
	if args.TensorParallelSize > 0 {
		out = append(out, "--tensor-parallel-size", strconv.Itoa(args.TensorParallelSize))
	}
	if args.GPUMemoryUtilization > 0 {
		out = append(out, "--gpu-memory-utilization", strconv.FormatFloat(args.GPUMemoryUtilization, 'f', -1, 64))
	}
	if args.TrustRemoteCode {
		out = append(out, "--trust-remote-code")
	}
	if args.EnforceEager {
		out = append(out, "--enforce-eager")
	}
	if args.APIKey != "" {
		out = append(out, "--api-key", args.APIKey)
	}
	return append(out, args.ExtraArgs...)
}

// NewVLLMSpawn starts vLLM as a child process and blocks until it serves
// /v1/models. A process that exits early fails construction with the tail of
// its stderr.
func NewVLLMSpawn(ctx context.Context, args Args, log zerolog.Logger) (Engine, error) {
	if strings.TrimSpace(args.Model) == "" {
		return nil, errors.New("vllm-spawn: model path is empty")
	}
	bin := args.Binary
	if bin == "" {
		bin = "vllm"
	}
	host := strings.TrimSpace(args.Host)
	if host == "" {
		host = "127.0.0.1"
	}
	var (
		port int
		err  error
	)
	if args.PortStart > 0 && args.PortEnd >= args.PortStart {
		port, err = pickPortInRange(host, args.PortStart, args.PortEnd)
	} else {
		port, err = pickFreePort(host)
	}
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(bin, serveArgs(args, host, port)...)
	cmd.Env = append(os.Environ(), args.Env...)
	stderr := newTailBuffer(8192)
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(err, "start vllm")
	}
	log = log.With().Str("engine", "vllm-spawn").Int("pid", cmd.Process.Pid).Logger()
	log.Info().Str("bin", bin).Str("host", host).Int("port", port).Msg("spawned vllm server")

	waitErr := make(chan error, 1)
	exited := make(chan struct{})
	go func() {
		waitErr <- cmd.Wait()
		close(exited)
	}()

	cargs := args
	cargs.BaseURL = fmt.Sprintf("http://%s:%d", host, port)
	client := newVLLMClient(cargs, log)
	e := &spawnedEngine{vllmEngine: client, cmd: cmd, exited: exited, stderr: stderr}
	if err := client.waitReady(ctx, args.StartupTimeout, waitErr); err != nil {
		e.terminate(log)
		return nil, errors.Wrapf(err, "stderr tail: %s", stderr.String())
	}
	return e, nil
}

func (e *spawnedEngine) Close() error {
	e.vllmEngine.Close()
	e.terminate(e.log)
	return nil
}

// terminate sends SIGTERM and escalates to SIGKILL after a grace period.
func (e *spawnedEngine) terminate(log zerolog.Logger) {
	e.stop.Do(func() {
		if e.cmd == nil || e.cmd.Process == nil {
			return
		}
		_ = e.cmd.Process.Signal(syscall.SIGTERM)
		select {
		case <-e.exited:
		case <-time.After(10 * time.Second):
			_ = e.cmd.Process.Kill()
			<-e.exited
		}
		log.Info().Msg("vllm server stopped")
	})
}

func pickPortInRange(host string, start, end int) (int, error) {
	for p := start; p <= end; p++ {
		l, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(p)))
		if err != nil {
			continue
		}
		_ = l.Close()
		return p, nil
	}
	return 0, fmt.Errorf("no free port in range %d-%d", start, end)
}

func pickFreePort(host string) (int, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func newTailBuffer(limit int) *tailBuffer { return &tailBuffer{limit: limit} }

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
