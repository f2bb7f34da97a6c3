package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/voxlens/voxlens/llm"
)

// completer is the slice of the provider registry the session needs.
type completer interface {
	Complete(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)
}

// tokenCounter counts prompt tokens with tiktoken, falling back to a
// bytes/4 estimate when the encoding cannot be loaded (encodings may be
// fetched on first use).
type tokenCounter struct {
	once    sync.Once
	enc     *tiktoken.Tiktoken
	initErr error
}

func (c *tokenCounter) init() error {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			c.initErr = fmt.Errorf("init tiktoken encoding: %w", err)
			return
		}
		c.enc = enc
	})
	return c.initErr
}

func (c *tokenCounter) count(text string) int {
	if err := c.init(); err != nil {
		return len(text) / 4
	}
	return len(c.enc.Encode(text, nil, nil))
}

// session drives dialogue generation for one simulated caller. It holds the
// persona/scenario system prompt plus the alternating utterance history and
// trims the oldest exchanges when the prompt would exceed the token budget.
// Not safe for concurrent use; each run owns exactly one session.
type session struct {
	model       string
	language    string
	tokenBudget int
	maxTurns    int
	counter     *tokenCounter
	history     []llm.Message
	turns       int
}

func newSession(persona, scenario, language, model string, maxTurns, tokenBudget int) *session {
	var b strings.Builder
	b.WriteString("You are simulating a customer on a phone call to test a voice agent. ")
	b.WriteString("Speak naturally in short conversational utterances, one at a time. ")
	b.WriteString("Stay in character and pursue your goal; when it is resolved, say goodbye and end the call.")
	if persona != "" {
		b.WriteString("\n\nPersona: ")
		b.WriteString(persona)
	}
	if scenario != "" {
		b.WriteString("\n\nScenario: ")
		b.WriteString(scenario)
	}
	if language != "" && language != "auto" {
		b.WriteString("\n\nSpeak in language: ")
		b.WriteString(language)
	}

	return &session{
		model:       model,
		language:    language,
		tokenBudget: tokenBudget,
		maxTurns:    maxTurns,
		counter:     &tokenCounter{},
		history: []llm.Message{
			{Role: llm.RoleSystem, Content: b.String()},
		},
	}
}

// NextUtterance generates the caller's next line and records it in history.
func (s *session) NextUtterance(ctx context.Context, c completer) (string, error) {
	s.trim()

	resp, err := c.Complete(ctx, &llm.ChatRequest{
		Model:       s.model,
		Messages:    s.history,
		MaxTokens:   150,
		Temperature: 0.7,
	})
	if err != nil {
		return "", err
	}

	text := strings.TrimSpace(resp.Content)
	s.history = append(s.history, llm.Message{Role: llm.RoleAssistant, Content: text})
	s.turns++
	return text, nil
}

// Observe records the counterpart agent's reply. Sentinel no-response
// entries are never observed; the caller repeats or moves on without them.
func (s *session) Observe(reply string) {
	s.history = append(s.history, llm.Message{Role: llm.RoleUser, Content: reply})
}

// Ended reports whether the dialogue should stop: the turn budget is spent
// or a recent utterance contained a closing phrase.
func (s *session) Ended(closing func(text string) bool) bool {
	if s.turns >= s.maxTurns {
		return true
	}
	// Either side saying goodbye ends the call.
	recent := s.history
	if len(recent) > 3 {
		recent = recent[len(recent)-3:]
	}
	for _, m := range recent {
		if m.Role != llm.RoleSystem && closing(m.Content) {
			return true
		}
	}
	return false
}

// trim drops the oldest exchange after the system prompt until the prompt
// fits the token budget. The system prompt and the latest exchange always
// survive.
func (s *session) trim() {
	if s.tokenBudget <= 0 {
		return
	}
	for len(s.history) > 3 && s.promptTokens() > s.tokenBudget {
		s.history = append(s.history[:1], s.history[2:]...)
	}
}

func (s *session) promptTokens() int {
	total := 0
	for _, m := range s.history {
		// Per-message framing overhead.
		total += s.counter.count(m.Content) + 4
	}
	return total
}
