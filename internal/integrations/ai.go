// Package integrations holds the external capabilities the API calls out to.
// The AI and payment providers are stand-ins that keep the provider contract
// without talking to a real service.
package integrations

import (
	"context"
	"fmt"
	"time"
)

type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}

type OCR interface {
	ExtractText(ctx context.Context, image []byte, filename string) (string, error)
}

type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// AI bundles the three capabilities behind the AI_SCRIBE add-on.
type AI interface {
	Transcriber
	OCR
	Summarizer
}

// StubAI answers every call with canned text after a fixed delay.
type StubAI struct {
	latency time.Duration
}

func NewStubAI(latency time.Duration) *StubAI {
	return &StubAI{latency: latency}
}

func (s *StubAI) wait(ctx context.Context) error {
	if s.latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(s.latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *StubAI) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if err := s.wait(ctx); err != nil {
		return "", err
	}
	return fmt.Sprintf("[Transcription of %s, %d bytes] Patient reports symptoms as described during the consultation.", filename, len(audio)), nil
}

func (s *StubAI) ExtractText(ctx context.Context, image []byte, filename string) (string, error) {
	if err := s.wait(ctx); err != nil {
		return "", err
	}
	return fmt.Sprintf("[Text extracted from %s, %d bytes] Handwritten notes recognised.", filename, len(image)), nil
}

func (s *StubAI) Summarize(ctx context.Context, text string) (string, error) {
	if err := s.wait(ctx); err != nil {
		return "", err
	}
	if text == "" {
		return "No clinical notes to summarise.", nil
	}
	// Cut on a character boundary so clinical notes in any script stay valid
	// UTF-8.
	const maxRunes = 200
	summary := text
	if runes := []rune(summary); len(runes) > maxRunes {
		summary = string(runes[:maxRunes]) + "..."
	}
	return "Summary: " + summary, nil
}
