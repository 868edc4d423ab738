package engine

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeArgs(t *testing.T) {
	args := DefaultArgs()
	args.ExtraArgs = []string{"--max-num-seqs", "8"}
	got := strings.Join(serveArgs(args, "127.0.0.1", 31001), " ")
	for _, want := range []string{
		"serve /models/deepseek-ai/DeepSeek-OCR",
		"--port 31001",
		"--block-size 256",
		"--max-model-len 4096",
		"--tensor-parallel-size 1",
		"--gpu-memory-utilization 0.5",
		"--trust-remote-code",
		`--hf-overrides {"architectures":["DeepseekOCRForCausalLM"]}`,
		"--max-num-seqs 8",
	} {
		assert.Contains(t, got, want)
	}
	assert.NotContains(t, got, "--enforce-eager")
}

func TestTailBuffer_KeepsTail(t *testing.T) {
	tb := newTailBuffer(4)
	_, _ = tb.Write([]byte("abcdef"))
	_, _ = tb.Write([]byte("gh"))
	assert.Equal(t, "efgh", tb.String())
}

func TestPickFreePort(t *testing.T) {
	p, err := pickFreePort("127.0.0.1")
	require.NoError(t, err)
	assert.Greater(t, p, 0)
}

func TestVLLMSpawn_EarlyExitIncludesStderr(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	script := filepath.Join(t.TempDir(), "vllm")
	body := "#!" + sh + "\necho 'CUDA out of memory' 1>&2\nexit 3\n"
	require.NoError(t, os.WriteFile(script, []byte(body), 0o755))

	args := DefaultArgs()
	args.Binary = script
	args.StartupTimeout = 5 * time.Second
	_, err = NewVLLMSpawn(testCtx(t), args, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CUDA out of memory")
}

func TestVLLMSpawn_EmptyModel(t *testing.T) {
	args := DefaultArgs()
	args.Model = " "
	_, err := NewVLLMSpawn(testCtx(t), args, zerolog.Nop())
	require.Error(t, err)
}
