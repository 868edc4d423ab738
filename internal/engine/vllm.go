package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"ocrd/internal/sampling"
)

func init() {
	Register("vllm", NewVLLM)
}

// vllmEngine talks to a running vLLM OpenAI-compatible server and streams
// chat completions. The repetition controller travels in vllm_xargs.
type vllmEngine struct {
	baseURL    string
	apiKey     string
	model      string
	skipSpec   bool
	reqTimeout time.Duration
	httpClient *http.Client
	log        zerolog.Logger
}

// NewVLLM connects to args.BaseURL and waits until the server lists a model.
func NewVLLM(ctx context.Context, args Args, log zerolog.Logger) (Engine, error) {
	if strings.TrimSpace(args.BaseURL) == "" {
		return nil, errors.New("vllm: base url is required")
	}
	e := newVLLMClient(args, log)
	if err := e.waitReady(ctx, args.StartupTimeout, nil); err != nil {
		return nil, err
	}
	return e, nil
}

func newVLLMClient(args Args, log zerolog.Logger) *vllmEngine {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	// No client timeout: every request carries its own context deadline.
	return &vllmEngine{
		baseURL:    strings.TrimRight(args.BaseURL, "/"),
		apiKey:     args.APIKey,
		model:      args.modelName(),
		skipSpec:   args.SkipSpecialTokens,
		reqTimeout: args.RequestTimeout,
		httpClient: &http.Client{Transport: tr, Timeout: 0},
		log:        log.With().Str("engine", "vllm").Logger(),
	}
}

type modelList struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// probe asks /v1/models whether the server is up. When the server reports
// models and none matches ours, the first listed model is adopted.
func (e *vllmEngine) probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/v1/models", nil)
	if err != nil {
		return err
	}
	e.authorize(req)
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Errorf("models endpoint returned %s", resp.Status)
	}
	var ml modelList
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&ml); err != nil {
		return errors.Wrap(err, "decode model list")
	}
	if len(ml.Data) == 0 {
		return nil
	}
	for _, m := range ml.Data {
		if m.ID == e.model {
			return nil
		}
	}
	e.log.Warn().Str("want", e.model).Str("using", ml.Data[0].ID).Msg("served model name differs from configured model")
	e.model = ml.Data[0].ID
	return nil
}

// waitReady polls probe until it succeeds, the timeout elapses or exited
// reports that the backing process died.
func (e *vllmEngine) waitReady(ctx context.Context, timeout time.Duration, exited <-chan error) error {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	deadline := time.Now().Add(timeout)
	var lastErr error
	for {
		if lastErr = e.probe(ctx); lastErr == nil {
			e.log.Info().Str("url", e.baseURL).Str("model", e.model).Msg("vllm server ready")
			return nil
		}
		if time.Now().After(deadline) {
			return errors.Wrapf(lastErr, "vllm server not ready after %s", timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case werr := <-exited:
			if werr == nil {
				werr = errors.New("exited before ready")
			}
			return errors.Wrap(werr, "vllm server process")
		case <-time.After(250 * time.Millisecond):
		}
	}
}

func (e *vllmEngine) authorize(req *http.Request) {
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}
}

type chatContentPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *chatImageURL `json:"image_url,omitempty"`
}

type chatImageURL struct {
	URL string `json:"url"`
}

type chatMessage struct {
	Role    string            `json:"role"`
	Content []chatContentPart `json:"content"`
}

// chatRequest is the streaming chat payload. Temperature has no omitempty so
// greedy decoding (0) is sent explicitly.
type chatRequest struct {
	Model             string         `json:"model"`
	Messages          []chatMessage  `json:"messages"`
	MaxTokens         int            `json:"max_tokens"`
	Temperature       float64        `json:"temperature"`
	Stream            bool           `json:"stream"`
	SkipSpecialTokens bool           `json:"skip_special_tokens"`
	RequestID         string         `json:"request_id,omitempty"`
	VLLMXArgs         map[string]any `json:"vllm_xargs,omitempty"`
}

type chatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func dataURL(img *ImageFeatures) string {
	mt := img.MIMEType
	if mt == "" {
		mt = "image/png"
	}
	return fmt.Sprintf("data:%s;base64,%s", mt, base64.StdEncoding.EncodeToString(img.Data))
}

func (e *vllmEngine) buildRequest(req Request, cfg sampling.Config) chatRequest {
	var parts []chatContentPart
	for _, seg := range splitPrompt(req.Prompt, req.Image != nil) {
		if seg.Image {
			parts = append(parts, chatContentPart{Type: "image_url", ImageURL: &chatImageURL{URL: dataURL(req.Image)}})
			continue
		}
		parts = append(parts, chatContentPart{Type: "text", Text: seg.Text})
	}
	return chatRequest{
		Model:             e.model,
		Messages:          []chatMessage{{Role: "user", Content: parts}},
		MaxTokens:         cfg.MaxTokens,
		Temperature:       cfg.Temperature,
		Stream:            true,
		SkipSpecialTokens: e.skipSpec,
		RequestID:         req.ID,
		VLLMXArgs: map[string]any{
			"ngram_size":          cfg.Repetition.NGramSize,
			"window_size":         cfg.Repetition.WindowSize,
			"whitelist_token_ids": cfg.Repetition.WhitelistTokenIDs,
		},
	}
}

func (e *vllmEngine) Generate(ctx context.Context, req Request, cfg sampling.Config) (Stream, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}
	cancel := context.CancelFunc(func() {})
	if e.reqTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, e.reqTimeout)
	}
	body, err := json.Marshal(e.buildRequest(req, cfg))
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "encode chat request")
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, err
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("Accept", "text/event-stream")
	e.authorize(hreq)
	resp, err := e.httpClient.Do(hreq)
	if err != nil {
		cancel()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Wrap(err, "vllm request")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		cancel()
		return nil, errors.Errorf("vllm http error: %s: %s", resp.Status, strings.TrimSpace(string(b)))
	}
	return &sseStream{body: resp.Body, r: bufio.NewReader(resp.Body), cancel: cancel, log: e.log, id: req.ID}, nil
}

func (e *vllmEngine) Close() error {
	e.httpClient.CloseIdleConnections()
	return nil
}

// sseStream parses "data:" lines of an OpenAI-style event stream and folds
// the deltas into cumulative snapshots.
type sseStream struct {
	body   io.ReadCloser
	r      *bufio.Reader
	cancel context.CancelFunc
	log    zerolog.Logger
	id     string
	text   strings.Builder
	done   bool
}

func (s *sseStream) Next(ctx context.Context) (Output, error) {
	if s.done {
		return Output{}, io.EOF
	}
	for {
		if err := ctx.Err(); err != nil {
			return Output{}, err
		}
		line, err := s.r.ReadString('\n')
		if out, ok, perr := s.parseLine(line); perr != nil {
			return Output{}, perr
		} else if ok {
			return out, nil
		}
		if s.done {
			return Output{}, io.EOF
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.done = true
				return Output{}, io.EOF
			}
			if ctx.Err() != nil {
				return Output{}, ctx.Err()
			}
			return Output{}, errors.Wrap(err, "read event stream")
		}
	}
}

// parseLine returns a snapshot when line carried new text or a finish reason.
func (s *sseStream) parseLine(line string) (Output, bool, error) {
	line = strings.TrimSpace(line)
	if line == "" || !strings.HasPrefix(strings.ToLower(line), "data:") {
		return Output{}, false, nil
	}
	data := strings.TrimSpace(line[len("data:"):])
	if data == "[DONE]" {
		s.done = true
		return Output{}, false, nil
	}
	var chunk chatStreamChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		s.log.Debug().Str("request_id", s.id).Str("line", line).Msg("unknown stream line")
		return Output{}, false, nil
	}
	if chunk.Error != nil {
		return Output{}, false, errors.Errorf("vllm stream error: %s", chunk.Error.Message)
	}
	if len(chunk.Choices) == 0 {
		return Output{}, false, nil
	}
	c := chunk.Choices[0]
	finish := ""
	if c.FinishReason != nil {
		finish = *c.FinishReason
	}
	if c.Delta.Content == "" && finish == "" {
		return Output{}, false, nil
	}
	s.text.WriteString(c.Delta.Content)
	return Output{Text: s.text.String(), FinishReason: finish}, true, nil
}

func (s *sseStream) Close() error {
	s.cancel()
	return s.body.Close()
}
