package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxlens/voxlens/speech"
	"github.com/voxlens/voxlens/types"
)

func TestSplitSentences(t *testing.T) {
	got := splitSentences("Hello there. How are you? I'm fine!")
	require.Len(t, got, 3)
	assert.Equal(t, "Hello there.", got[0])
	assert.Equal(t, "How are you?", got[1])
	assert.Equal(t, "I'm fine!", got[2])

	got = splitSentences("no punctuation at all")
	require.Len(t, got, 1)
}

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, "please hold", normalizeText("  Please, HOLD!  "))
	assert.Equal(t, "room 42 is ready", normalizeText("Room 42 is ready."))
}

func TestDiarizeAlternatesRoles(t *testing.T) {
	d := NewRuleBasedDiarizer()
	entries := d.Diarize(&speech.STTResponse{
		Text:       "Hi, I need to change my order. Sure, what is the order number? It is 1234.",
		Duration:   9,
		Confidence: 0.9,
	}, "en")

	require.Len(t, entries, 3)
	assert.Equal(t, types.RoleAgent, entries[0].Role)
	assert.Equal(t, types.RoleCustomer, entries[1].Role)
	assert.Equal(t, types.RoleAgent, entries[2].Role)
}

func TestDiarizeForcesAgentOnClosingPhrase(t *testing.T) {
	d := NewRuleBasedDiarizer()
	entries := d.Diarize(&speech.STTResponse{
		Text:       "I want to cancel. Okay that is done. Great. Thank you for calling, goodbye!",
		Duration:   12,
		Confidence: 0.85,
	}, "en")

	require.Len(t, entries, 4)
	// Closing phrase forces the agent role even where alternation would
	// have assigned the customer.
	last := entries[len(entries)-1]
	assert.Equal(t, types.RoleAgent, last.Role)
	assert.Contains(t, last.Text, "goodbye")
}

func TestDiarizeApportionsTimings(t *testing.T) {
	d := NewRuleBasedDiarizer()
	entries := d.Diarize(&speech.STTResponse{
		Text:     "Short. This sentence is quite a bit longer than the first.",
		Duration: 10,
	}, "en")

	require.Len(t, entries, 2)
	assert.Equal(t, int64(0), entries[0].StartMs)
	assert.Equal(t, entries[0].EndMs(), entries[1].StartMs)
	assert.Greater(t, entries[1].DurationMs, entries[0].DurationMs)
	total := entries[1].EndMs()
	assert.LessOrEqual(t, total, int64(10_000))
}

func TestDiarizeEmptyText(t *testing.T) {
	d := NewRuleBasedDiarizer()
	assert.Nil(t, d.Diarize(&speech.STTResponse{Text: "   "}, "en"))
}
