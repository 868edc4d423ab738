package engine

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_BuiltinsRegistered(t *testing.T) {
	names := Names()
	for _, want := range []string{"llama", "openai", "tesseract", "vllm", "vllm-spawn"} {
		assert.Contains(t, names, want)
	}
}

func TestNew_UnknownBackend(t *testing.T) {
	_, err := New(context.Background(), "nope", DefaultArgs(), zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown engine backend")
}

func TestRegister_CaseInsensitive(t *testing.T) {
	Register("Test-Backend", func(context.Context, Args, zerolog.Logger) (Engine, error) { return nil, nil })
	_, ok := Lookup("test-backend")
	assert.True(t, ok)
}

func TestAcceptsImages(t *testing.T) {
	for _, name := range []string{"vllm", "vllm-spawn", "openai", "tesseract"} {
		assert.True(t, AcceptsImages(name), name)
	}
	assert.False(t, AcceptsImages("llama"))
	assert.False(t, AcceptsImages("LLAMA"))
}

func TestValidateRequest(t *testing.T) {
	img := &ImageFeatures{Data: []byte{1}}
	assert.NoError(t, ValidateRequest(Request{Prompt: "hello"}))
	assert.NoError(t, ValidateRequest(Request{Prompt: "Read <image>.", Image: img}))
	assert.Error(t, ValidateRequest(Request{Prompt: "  "}))
	assert.Error(t, ValidateRequest(Request{Prompt: "no placeholder", Image: img}))
	assert.Error(t, ValidateRequest(Request{Prompt: "<image>", Image: &ImageFeatures{}}))
}

func TestSplitPrompt(t *testing.T) {
	segs := splitPrompt("Recognize the text in <image>.", true)
	require.Len(t, segs, 3)
	assert.Equal(t, "Recognize the text in ", segs[0].Text)
	assert.True(t, segs[1].Image)
	assert.Equal(t, ".", segs[2].Text)

	segs = splitPrompt("<image>", true)
	require.Len(t, segs, 1)
	assert.True(t, segs[0].Image)

	segs = splitPrompt("text <image>", false)
	require.Len(t, segs, 1)
	assert.Equal(t, "text <image>", segs[0].Text)
}

func TestHFOverrides(t *testing.T) {
	assert.JSONEq(t, `{"architectures":["DeepseekOCRForCausalLM"]}`, DefaultArgs().HFOverrides())
	a := DefaultArgs()
	a.Architectures = nil
	assert.JSONEq(t, `{"architectures":["DeepseekOCRForCausalLM"]}`, a.HFOverrides())
}

func TestRunStream_CumulativeAndEOF(t *testing.T) {
	s := runStream(context.Background(), func(ctx context.Context, emit func(Output) error) error {
		for _, txt := range []string{"a", "ab", "abc"} {
			if err := emit(Output{Text: txt}); err != nil {
				return err
			}
		}
		return nil
	})
	defer s.Close()
	var last Output
	for {
		o, err := s.Next(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		last = o
	}
	assert.Equal(t, "abc", last.Text)
}

func TestRunStream_ProducerError(t *testing.T) {
	boom := errors.New("boom")
	s := runStream(context.Background(), func(ctx context.Context, emit func(Output) error) error {
		_ = emit(Output{Text: "x"})
		return boom
	})
	defer s.Close()
	_, err := s.Next(context.Background())
	require.NoError(t, err)
	_, err = s.Next(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestRunStream_CloseStopsProducer(t *testing.T) {
	stopped := make(chan struct{})
	s := runStream(context.Background(), func(ctx context.Context, emit func(Output) error) error {
		defer close(stopped)
		for {
			if err := emit(Output{Text: "x"}); err != nil {
				return err
			}
		}
	})
	_, err := s.Next(context.Background())
	require.NoError(t, err)
	require.NoError(t, s.Close())
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("producer did not stop after Close")
	}
}
