// Package tips fetches short help texts from a generative model.
package tips

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/1ureka/nexzi/internal/util"
)

// Topic selects a help text.
type Topic string

const TopicSessionID Topic = "session_id"

const (
	// Unavailable is returned when no model is configured.
	Unavailable = "AI features are currently unavailable. Your 'Address' is a unique code to share with a trusted person to start a remote session."
	// LoadFailed is returned when the model call fails.
	LoadFailed = "Could not load helpful tips at this time."
)

const (
	defaultModel   = "gemini-2.5-flash"
	defaultTimeout = 20 * time.Second
)

var prompts = map[Topic]string{
	TopicSessionID: strings.Join([]string{
		"You are a helpful assistant for a remote desktop application called RemoteNexzi.",
		`A user has asked what their "Address" or "Session ID" is.`,
		"Explain in a simple, non-technical paragraph what this ID is used for.",
		"Mention that it's a unique, temporary code they can share with someone they trust to allow that person to view their screen.",
		"Emphasize that they should treat it like a password and only share it with people they know.",
		"Keep the tone friendly and reassuring.",
	}, "\n"),
}

// ErrUnknownTopic is returned by Prompt for topics without a prompt.
var ErrUnknownTopic = errors.New("unknown help topic")

// Prompt returns the model prompt for topic.
func Prompt(topic Topic) (string, error) {
	p, ok := prompts[topic]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTopic, topic)
	}
	return p, nil
}

// Generator turns a prompt into text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Gemini is a Generator backed by the Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini creates a client for apiKey.
func NewGemini(ctx context.Context, apiKey string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &Gemini{client: client, model: defaultModel}, nil
}

func (g *Gemini) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0.5),
		TopP:        genai.Ptr[float32](0.95),
	})
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", errors.New("empty response")
	}
	return text, nil
}

// Service answers help requests. It never fails: without a generator, or
// when the generator errors, it returns a fixed text instead.
type Service struct {
	gen     Generator
	timeout time.Duration
}

// NewService wraps gen, which may be nil.
func NewService(gen Generator) *Service {
	return &Service{gen: gen, timeout: defaultTimeout}
}

// Fetch returns the help text for topic.
func (s *Service) Fetch(ctx context.Context, topic Topic) string {
	if s == nil || s.gen == nil {
		return Unavailable
	}

	prompt, err := Prompt(topic)
	if err != nil {
		util.LogWarning("%v", err)
		return LoadFailed
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	text, err := s.gen.Generate(ctx, prompt)
	if err != nil {
		util.LogWarning("failed to get helpful tips: %v", err)
		return LoadFailed
	}
	return text
}
