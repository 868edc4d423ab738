// Package enginetest provides an in-memory Engine for tests.
package enginetest

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"ocrd/internal/engine"
	"ocrd/internal/sampling"
)

// Fake replays Chunks as cumulative snapshots. Gate, when set, blocks each
// snapshot until a value is received, which lets tests interleave calls.
type Fake struct {
	Chunks    []string
	GenErr    error
	StreamErr error
	Gate      chan struct{}

	mu       sync.Mutex
	requests []engine.Request
	configs  []sampling.Config
	closed   atomic.Bool
	closes   atomic.Int32
}

// Generate records the request and returns a stream over Chunks.
func (f *Fake) Generate(ctx context.Context, req engine.Request, cfg sampling.Config) (engine.Stream, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.configs = append(f.configs, cfg)
	f.mu.Unlock()
	if f.GenErr != nil {
		return nil, f.GenErr
	}
	return &fakeStream{f: f}, nil
}

// Close marks the engine closed.
func (f *Fake) Close() error {
	f.closed.Store(true)
	f.closes.Add(1)
	return nil
}

// Closed reports whether Close was called.
func (f *Fake) Closed() bool { return f.closed.Load() }

// Closes counts Close calls.
func (f *Fake) Closes() int { return int(f.closes.Load()) }

// Requests returns a copy of the requests seen so far.
func (f *Fake) Requests() []engine.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]engine.Request(nil), f.requests...)
}

// Configs returns a copy of the sampling configs seen so far.
func (f *Fake) Configs() []sampling.Config {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sampling.Config(nil), f.configs...)
}

type fakeStream struct {
	f    *Fake
	i    int
	text string
}

func (s *fakeStream) Next(ctx context.Context) (engine.Output, error) {
	if s.i >= len(s.f.Chunks) {
		if s.f.StreamErr != nil {
			return engine.Output{}, s.f.StreamErr
		}
		return engine.Output{}, io.EOF
	}
	if s.f.Gate != nil {
		select {
		case <-s.f.Gate:
		case <-ctx.Done():
			return engine.Output{}, ctx.Err()
		}
	}
	s.text += s.f.Chunks[s.i]
	s.i++
	out := engine.Output{Text: s.text}
	if s.i == len(s.f.Chunks) {
		out.FinishReason = "stop"
	}
	return out, nil
}

func (s *fakeStream) Close() error { return nil }

// Factory returns an engine.Factory that always yields f, or err when set.
func Factory(f *Fake, err error) engine.Factory {
	return func(ctx context.Context, _ engine.Args, _ zerolog.Logger) (engine.Engine, error) {
		if err != nil {
			return nil, err
		}
		return f, nil
	}
}
