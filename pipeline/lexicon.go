package pipeline

import "strings"

// lexicon holds the language-specific phrase lists the rule-based
// diarizer and the evaluation metrics match against. Matching is
// case-insensitive substring containment over normalized text.
type lexicon struct {
	// closingPhrases signal a natural call ending and force the agent
	// role during diarization.
	closingPhrases []string
	// openingPhrases are agent-typical call openers.
	openingPhrases []string
	// completionWords indicate the caller's task was accomplished.
	completionWords []string
	// taskContextWords indicate the conversation stayed on a concrete
	// task even without an explicit completion signal.
	taskContextWords []string
}

var lexicons = map[string]lexicon{
	"en": {
		closingPhrases: []string{
			"goodbye", "good bye", "bye", "have a great day", "have a nice day",
			"thank you for calling", "thanks for calling", "take care",
			"is there anything else", "anything else i can help",
			"have a good one", "talk to you later",
		},
		openingPhrases: []string{
			"thank you for calling", "how can i help", "how may i help",
			"this is", "you've reached", "speaking, how can",
		},
		completionWords: []string{
			"confirmed", "booked", "scheduled", "resolved", "completed",
			"all set", "done", "processed", "updated", "reserved",
		},
		taskContextWords: []string{
			"appointment", "order", "reservation", "account", "payment",
			"booking", "ticket", "request", "schedule",
		},
	},
	"es": {
		closingPhrases: []string{
			"adiós", "hasta luego", "que tenga un buen día", "gracias por llamar",
			"algo más en que pueda ayudar", "hasta pronto", "buen día",
		},
		openingPhrases: []string{
			"gracias por llamar", "en qué puedo ayudar", "cómo puedo ayudar",
			"le atiende", "buenos días", "buenas tardes",
		},
		completionWords: []string{
			"confirmado", "confirmada", "reservado", "agendado", "resuelto",
			"completado", "listo", "procesado", "actualizado",
		},
		taskContextWords: []string{
			"cita", "pedido", "reserva", "cuenta", "pago", "solicitud", "turno",
		},
	},
	"pt": {
		closingPhrases: []string{
			"tchau", "até logo", "tenha um bom dia", "obrigado por ligar",
			"obrigada por ligar", "mais alguma coisa", "até mais",
		},
		openingPhrases: []string{
			"obrigado por ligar", "em que posso ajudar", "como posso ajudar",
			"bom dia", "boa tarde",
		},
		completionWords: []string{
			"confirmado", "confirmada", "reservado", "agendado", "resolvido",
			"concluído", "pronto", "processado", "atualizado",
		},
		taskContextWords: []string{
			"consulta", "pedido", "reserva", "conta", "pagamento", "solicitação", "agendamento",
		},
	},
}

// lexiconFor resolves the lexicon for a BCP-47-ish language tag, falling
// back to English for unknown languages.
func lexiconFor(language string) lexicon {
	lang := strings.ToLower(language)
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	if lex, ok := lexicons[lang]; ok {
		return lex
	}
	return lexicons["en"]
}

// ClosingPhrase reports whether text contains a call-ending phrase for the
// given language, returning the matched phrase. The conversation
// orchestrator uses the same lexicon as diarization and the disconnection
// metric so "natural ending" means one thing across the platform.
func ClosingPhrase(text, language string) (string, bool) {
	return containsAny(text, lexiconFor(language).closingPhrases)
}

func containsAny(text string, phrases []string) (string, bool) {
	lower := strings.ToLower(text)
	for _, p := range phrases {
		if strings.Contains(lower, p) {
			return p, true
		}
	}
	return "", false
}
