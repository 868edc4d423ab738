package engine

import (
	"context"
	"io"
	"math"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"ocrd/internal/sampling"
)

func init() {
	Register("openai", NewOpenAI)
}

// openAIEngine drives any OpenAI-compatible chat server. It cannot pass the
// repetition controller, which only vLLM understands.
type openAIEngine struct {
	client     *openai.Client
	model      string
	reqTimeout time.Duration
	log        zerolog.Logger
}

// NewOpenAI builds a go-openai client for args.BaseURL and checks that the
// server answers a model listing.
func NewOpenAI(ctx context.Context, args Args, log zerolog.Logger) (Engine, error) {
	if strings.TrimSpace(args.BaseURL) == "" {
		return nil, errors.New("openai: base url is required")
	}
	cfg := openai.DefaultConfig(args.APIKey)
	base := strings.TrimRight(args.BaseURL, "/")
	if !strings.HasSuffix(base, "/v1") {
		base += "/v1"
	}
	cfg.BaseURL = base
	e := &openAIEngine{
		client:     openai.NewClientWithConfig(cfg),
		model:      args.modelName(),
		reqTimeout: args.RequestTimeout,
		log:        log.With().Str("engine", "openai").Logger(),
	}
	timeout := args.StartupTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	lctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if _, err := e.client.ListModels(lctx); err != nil {
		return nil, errors.Wrap(err, "openai: list models")
	}
	return e, nil
}

// temperature maps 0 to the smallest positive float32: go-openai omits a
// zero temperature and the server would fall back to its own default.
func temperature(t float64) float32 {
	if t == 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(t)
}

func (e *openAIEngine) Generate(ctx context.Context, req Request, cfg sampling.Config) (Stream, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}
	var parts []openai.ChatMessagePart
	for _, seg := range splitPrompt(req.Prompt, req.Image != nil) {
		if seg.Image {
			parts = append(parts, openai.ChatMessagePart{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: dataURL(req.Image), Detail: openai.ImageURLDetailHigh},
			})
			continue
		}
		parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: seg.Text})
	}
	e.log.Debug().Str("request_id", req.ID).Int("ngram_size", cfg.Repetition.NGramSize).Msg("repetition controller not supported by backend; ignored")

	cancel := context.CancelFunc(func() {})
	if e.reqTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, e.reqTimeout)
	}
	stream, err := e.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       e.model,
		Messages:    []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, MultiContent: parts}},
		MaxTokens:   cfg.MaxTokens,
		Temperature: temperature(cfg.Temperature),
		Stream:      true,
	})
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "openai: create stream")
	}
	return &openAIStream{stream: stream, cancel: cancel}, nil
}

func (e *openAIEngine) Close() error { return nil }

type openAIStream struct {
	stream *openai.ChatCompletionStream
	cancel context.CancelFunc
	text   strings.Builder
}

func (s *openAIStream) Next(ctx context.Context) (Output, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Output{}, err
		}
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			return Output{}, io.EOF
		}
		if err != nil {
			return Output{}, errors.Wrap(err, "openai: receive")
		}
		if len(resp.Choices) == 0 {
			continue
		}
		c := resp.Choices[0]
		if c.Delta.Content == "" && c.FinishReason == "" {
			continue
		}
		s.text.WriteString(c.Delta.Content)
		return Output{Text: s.text.String(), FinishReason: string(c.FinishReason)}, nil
	}
}

func (s *openAIStream) Close() error {
	s.cancel()
	s.stream.Close()
	return nil
}
