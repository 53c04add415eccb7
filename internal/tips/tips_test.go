package tips

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type stubGenerator struct {
	text   string
	err    error
	prompt string
	wait   bool
}

func (g *stubGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.prompt = prompt
	if g.wait {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return g.text, g.err
}

func TestFetchWithoutGenerator(t *testing.T) {
	if got := NewService(nil).Fetch(context.Background(), TopicSessionID); got != Unavailable {
		t.Errorf("Fetch = %q, want the unavailable text", got)
	}
	var s *Service
	if got := s.Fetch(context.Background(), TopicSessionID); got != Unavailable {
		t.Errorf("nil Service Fetch = %q", got)
	}
}

func TestFetchUsesPrompt(t *testing.T) {
	gen := &stubGenerator{text: "Your address is like a phone number."}
	got := NewService(gen).Fetch(context.Background(), TopicSessionID)

	if got != gen.text {
		t.Errorf("Fetch = %q, want %q", got, gen.text)
	}
	if !strings.Contains(gen.prompt, "RemoteNexzi") || !strings.Contains(gen.prompt, "treat it like a password") {
		t.Errorf("unexpected prompt %q", gen.prompt)
	}
}

func TestFetchFailsOpen(t *testing.T) {
	testCases := []struct {
		name  string
		gen   *stubGenerator
		topic Topic
	}{
		{"generator error", &stubGenerator{err: errors.New("quota exceeded")}, TopicSessionID},
		{"unknown topic", &stubGenerator{text: "unused"}, Topic("billing")},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := NewService(tc.gen).Fetch(context.Background(), tc.topic); got != LoadFailed {
				t.Errorf("Fetch = %q, want %q", got, LoadFailed)
			}
		})
	}
}

func TestFetchTimeout(t *testing.T) {
	s := NewService(&stubGenerator{wait: true})
	s.timeout = 10 * time.Millisecond

	if got := s.Fetch(context.Background(), TopicSessionID); got != LoadFailed {
		t.Errorf("Fetch = %q, want %q", got, LoadFailed)
	}
}

func TestPromptUnknownTopic(t *testing.T) {
	if _, err := Prompt("nope"); !errors.Is(err, ErrUnknownTopic) {
		t.Errorf("Prompt = %v, want ErrUnknownTopic", err)
	}
}
