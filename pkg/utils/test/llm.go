package testutils

import (
	"context"
	"errors"
	"sync"
)

// ErrScriptExhausted is returned when a ScriptedLLM has no responses left.
var ErrScriptExhausted = errors.New("scripted llm has no responses left")

// ScriptedLLM is a fake llm.CallFunc target. Handler, when set, answers
// every call. Otherwise responses are consumed in order.
type ScriptedLLM struct {
	Handler func(ctx context.Context, prompt string) (string, error)

	mu        sync.Mutex
	responses []scripted
	prompts   []string
}

type scripted struct {
	text string
	err  error
}

// Reply queues successful responses.
func (s *ScriptedLLM) Reply(texts ...string) *ScriptedLLM {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range texts {
		s.responses = append(s.responses, scripted{text: t})
	}
	return s
}

// Fail queues an error response.
func (s *ScriptedLLM) Fail(err error) *ScriptedLLM {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, scripted{err: err})
	return s
}

// Call satisfies llm.CallFunc.
func (s *ScriptedLLM) Call(ctx context.Context, prompt string) (string, error) {
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	handler := s.Handler
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if handler != nil {
		return handler(ctx, prompt)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.responses) == 0 {
		return "", ErrScriptExhausted
	}
	next := s.responses[0]
	s.responses = s.responses[1:]
	return next.text, next.err
}

// Prompts returns every prompt received, in order.
func (s *ScriptedLLM) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts...)
}
