package pipeline

import (
	"strings"
	"unicode"

	"github.com/voxlens/voxlens/speech"
	"github.com/voxlens/voxlens/types"
)

// Diarizer assigns speaker roles to a flat transcription. It is a
// pluggable strategy: the rule-based implementation below is
// intentionally approximate and can be swapped for a model-backed one
// without changing the pipeline's stage contract.
type Diarizer interface {
	Diarize(result *speech.STTResponse, language string) []types.TranscriptEntry
}

// RuleBasedDiarizer splits the transcription into sentences and
// alternates speaker roles, starting with the agent (the callee answers
// the phone). A sentence matching the agent opening or closing lexicon
// forces the agent role regardless of alternation.
type RuleBasedDiarizer struct{}

// NewRuleBasedDiarizer returns the default diarization strategy.
func NewRuleBasedDiarizer() *RuleBasedDiarizer {
	return &RuleBasedDiarizer{}
}

// Diarize implements Diarizer. Sentence timings are apportioned from the
// total audio duration by character length; per-entry confidence carries
// the provider's overall confidence.
func (d *RuleBasedDiarizer) Diarize(result *speech.STTResponse, language string) []types.TranscriptEntry {
	sentences := splitSentences(result.Text)
	if len(sentences) == 0 {
		return nil
	}

	lang := language
	if lang == "" {
		lang = result.Language
	}
	lex := lexiconFor(lang)

	totalChars := 0
	for _, s := range sentences {
		totalChars += len(s)
	}
	totalMs := int64(result.Duration * 1000)

	entries := make([]types.TranscriptEntry, 0, len(sentences))
	role := types.RoleAgent
	var cursor int64
	for i, sentence := range sentences {
		if _, ok := containsAny(sentence, lex.openingPhrases); ok {
			role = types.RoleAgent
		} else if _, ok := containsAny(sentence, lex.closingPhrases); ok {
			role = types.RoleAgent
		} else if i > 0 {
			role = alternate(entries[len(entries)-1].Role)
		}

		durMs := totalMs
		if totalChars > 0 {
			durMs = totalMs * int64(len(sentence)) / int64(totalChars)
		}

		entries = append(entries, types.TranscriptEntry{
			Role:       role,
			Text:       sentence,
			StartMs:    cursor,
			DurationMs: durMs,
			Confidence: result.Confidence,
			Language:   lang,
		})
		cursor += durMs
	}
	return entries
}

func alternate(role types.SpeakerRole) types.SpeakerRole {
	if role == types.RoleAgent {
		return types.RoleCustomer
	}
	return types.RoleAgent
}

// splitSentences breaks text on terminal punctuation, keeping the
// punctuation with the sentence. Providers with smart formatting emit
// punctuated text; unpunctuated text comes back as one sentence.
func splitSentences(text string) []string {
	var out []string
	var b strings.Builder
	for _, r := range text {
		b.WriteRune(r)
		if r == '.' || r == '!' || r == '?' || r == '。' {
			if s := strings.TrimSpace(b.String()); s != "" {
				out = append(out, s)
			}
			b.Reset()
		}
	}
	if s := strings.TrimSpace(b.String()); s != "" {
		out = append(out, s)
	}
	return out
}

// normalizeText lowercases and strips punctuation for phrase matching.
func normalizeText(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
