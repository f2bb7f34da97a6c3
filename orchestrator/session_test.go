package orchestrator

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxlens/voxlens/llm"
	"github.com/voxlens/voxlens/pipeline"
)

type echoCompleter struct {
	reply string
	got   *llm.ChatRequest
}

func (e *echoCompleter) Complete(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	e.got = req
	return &llm.ChatResponse{Content: e.reply}, nil
}

func closingEN(text string) bool {
	_, ok := pipeline.ClosingPhrase(text, "en")
	return ok
}

func TestSessionPromptCarriesPersonaAndScenario(t *testing.T) {
	s := newSession("A retiree who dislikes phone menus", "Cancel a subscription", "es", "gpt-4o-mini", 5, 0)
	c := &echoCompleter{reply: "Hola, quiero cancelar mi suscripción."}

	out, err := s.NextUtterance(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, "Hola, quiero cancelar mi suscripción.", out)

	require.NotNil(t, c.got)
	assert.Equal(t, "gpt-4o-mini", c.got.Model)
	require.NotEmpty(t, c.got.Messages)
	system := c.got.Messages[0]
	assert.Equal(t, llm.RoleSystem, system.Role)
	assert.Contains(t, system.Content, "retiree")
	assert.Contains(t, system.Content, "Cancel a subscription")
	assert.Contains(t, system.Content, "es")
}

func TestSessionAlternatesHistory(t *testing.T) {
	s := newSession("", "", "en", "gpt-4o-mini", 5, 0)
	c := &echoCompleter{reply: "First question."}

	_, err := s.NextUtterance(context.Background(), c)
	require.NoError(t, err)
	s.Observe("First answer.")

	_, err = s.NextUtterance(context.Background(), c)
	require.NoError(t, err)

	require.Len(t, c.got.Messages, 3)
	assert.Equal(t, llm.RoleAssistant, c.got.Messages[1].Role)
	assert.Equal(t, llm.RoleUser, c.got.Messages[2].Role)
	assert.Equal(t, "First answer.", c.got.Messages[2].Content)
}

func TestSessionEndsOnTurnBudget(t *testing.T) {
	s := newSession("", "", "en", "gpt-4o-mini", 2, 0)
	c := &echoCompleter{reply: "Still talking."}

	assert.False(t, s.Ended(closingEN))
	for i := 0; i < 2; i++ {
		_, err := s.NextUtterance(context.Background(), c)
		require.NoError(t, err)
	}
	assert.True(t, s.Ended(closingEN))
}

func TestSessionEndsOnClosingPhrase(t *testing.T) {
	s := newSession("", "", "en", "gpt-4o-mini", 10, 0)
	c := &echoCompleter{reply: "Thanks, that is all I needed. Goodbye!"}

	_, err := s.NextUtterance(context.Background(), c)
	require.NoError(t, err)
	assert.True(t, s.Ended(closingEN))
}

func TestSessionEndsWhenAgentSaysGoodbye(t *testing.T) {
	s := newSession("", "", "en", "gpt-4o-mini", 10, 0)
	c := &echoCompleter{reply: "One more thing."}

	_, err := s.NextUtterance(context.Background(), c)
	require.NoError(t, err)
	s.Observe("Thank you for calling, have a great day.")
	assert.True(t, s.Ended(closingEN))
}

func TestSessionTrimsOldestExchanges(t *testing.T) {
	s := newSession("", "", "en", "gpt-4o-mini", 100, 60)
	c := &echoCompleter{reply: strings.Repeat("word ", 30)}

	for i := 0; i < 4; i++ {
		_, err := s.NextUtterance(context.Background(), c)
		require.NoError(t, err)
		s.Observe(strings.Repeat("reply ", 30))
	}

	_, err := s.NextUtterance(context.Background(), c)
	require.NoError(t, err)

	// Trimming keeps the system prompt first and the newest turns last.
	msgs := c.got.Messages
	assert.Equal(t, llm.RoleSystem, msgs[0].Role)
	assert.Less(t, len(msgs), 9)
	assert.GreaterOrEqual(t, len(msgs), 3)
}

func TestEstimateSpeechMs(t *testing.T) {
	assert.Equal(t, int64(0), estimateSpeechMs(""))
	assert.Equal(t, int64(400), estimateSpeechMs("hello"))
	assert.Equal(t, int64(2000), estimateSpeechMs("one two three four five"))
}
