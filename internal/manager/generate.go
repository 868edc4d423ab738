package manager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"ocrd/internal/engine"
	"ocrd/internal/sampling"
)

// Generate runs one generation against the shared engine and returns the
// final accumulated text. Snapshots from the engine are cumulative, so each
// one replaces the text seen so far.
//
// Errors: ErrEngineNotReady when no engine is loaded or Shutdown interrupts
// the run or the wait for admission; *sampling.InvalidConfigError for out-of-range overrides;
// *InvalidRequestError for prompt/image violations; a too-busy error when
// admission times out; ctx.Err() when the caller gives up before admission;
// and *InferenceFailureError for anything that stops the stream, including
// caller cancellation.
func (m *Manager) Generate(ctx context.Context, p GenerateParams) (string, error) {
	h := m.acquireHandle()
	if h == nil {
		generationsTotal.WithLabelValues(outcomeNotReady).Inc()
		return "", ErrEngineNotReady
	}
	defer h.release()

	cfg, err := sampling.Resolve(sampling.Overrides{Temperature: p.Temperature, MaxTokens: p.MaxTokens}, m.defaults)
	if err != nil {
		generationsTotal.WithLabelValues(outcomeInvalid).Inc()
		return "", err
	}

	id := m.nextRequestID()
	req := engine.Request{ID: id, Prompt: p.Prompt, Image: p.Image}
	if err := engine.ValidateRequest(req); err != nil {
		generationsTotal.WithLabelValues(outcomeInvalid).Inc()
		return "", &InvalidRequestError{Reason: err.Error()}
	}

	// runCtx also ends when Shutdown closes the handle, so callers still
	// queued for admission leave right away instead of holding up the drain.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-h.closed:
			cancel()
		case <-runCtx.Done():
		}
	}()

	release, err := m.admit(runCtx)
	if err != nil {
		switch {
		case h.isClosed():
			generationsTotal.WithLabelValues(outcomeNotReady).Inc()
			return "", ErrEngineNotReady
		case IsTooBusy(err):
			generationsTotal.WithLabelValues(outcomeBusy).Inc()
		default:
			generationsTotal.WithLabelValues(outcomeCanceled).Inc()
		}
		return "", err
	}
	defer release()

	log := m.log.With().Str("request_id", id).Logger()
	log.Debug().
		Int("prompt_len", len(req.Prompt)).
		Bool("image", req.Image != nil).
		Float64("temperature", cfg.Temperature).
		Int("max_tokens", cfg.MaxTokens).
		Msg("generation started")
	m.publish(Event{Name: EventGenerateStart, RequestID: id})

	start := time.Now()
	text, err := m.drain(runCtx, h, req, cfg)
	m.generations.Add(1)
	if err != nil {
		switch {
		case h.isClosed():
			err = ErrEngineNotReady
			generationsTotal.WithLabelValues(outcomeNotReady).Inc()
			log.Warn().Msg("generation interrupted by shutdown")
		case ctx.Err() != nil:
			generationsTotal.WithLabelValues(outcomeCanceled).Inc()
			log.Info().Err(ctx.Err()).Msg("generation canceled by caller")
			err = &InferenceFailureError{RequestID: id, Cause: ctx.Err()}
		default:
			m.failures.Add(1)
			generationsTotal.WithLabelValues(outcomeFailed).Inc()
			log.Error().Err(err).Dur("took", time.Since(start)).Msg("generation failed")
			err = &InferenceFailureError{RequestID: id, Cause: err}
		}
		m.publish(Event{Name: EventGenerateFailed, RequestID: id, Fields: map[string]any{"error": err.Error()}})
		return "", err
	}

	took := time.Since(start)
	generationsTotal.WithLabelValues(outcomeOK).Inc()
	generationDuration.Observe(took.Seconds())
	log.Info().Dur("took", took).Int("chars", len(text)).Msg("generation finished")
	m.publish(Event{Name: EventGenerateDone, RequestID: id, Fields: map[string]any{"chars": len(text)}})
	return text, nil
}

// drain submits req and consumes the stream until it ends. Engine panics are
// converted into errors.
func (m *Manager) drain(ctx context.Context, h *handle, req engine.Request, cfg sampling.Config) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine panic: %v", r)
		}
	}()

	stream, err := h.eng.Generate(ctx, req, cfg)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	for {
		out, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			return text, nil
		}
		if err != nil {
			return "", err
		}
		text = out.Text
		if h.isClosed() {
			return "", ErrEngineNotReady
		}
	}
}

// acquireHandle returns the live handle with a user registered on it, or nil
// when no engine is ready.
func (m *Manager) acquireHandle() *handle {
	if !m.ready.Load() {
		return nil
	}
	h := m.cur.Load()
	if h == nil || !h.acquire() {
		return nil
	}
	return h
}

// nextRequestID returns request-<unix millis>-<sequence>. The sequence is
// process-wide so ids stay unique within the same millisecond.
func (m *Manager) nextRequestID() string {
	return fmt.Sprintf("request-%d-%d", time.Now().UnixMilli(), m.seq.Add(1))
}

func (h *handle) isClosed() bool {
	select {
	case <-h.closed:
		return true
	default:
		return false
	}
}
