package telephony

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// Instructions is a call-control document returned to the carrier from an
// answer or status callback. It renders as TwiML-style XML: verbs execute
// in order, and the call hangs up when the document is exhausted unless a
// redirect keeps it alive.
type Instructions struct {
	verbs []instructionVerb
}

type instructionVerb interface {
	render(b *strings.Builder)
}

// NewInstructions returns an empty instruction document.
func NewInstructions() *Instructions {
	return &Instructions{}
}

// Say speaks text to the callee with the carrier's built-in voice.
func (i *Instructions) Say(text string) *Instructions {
	i.verbs = append(i.verbs, sayVerb{Text: text})
	return i
}

// Play streams an audio file to the callee.
func (i *Instructions) Play(audioURL string) *Instructions {
	i.verbs = append(i.verbs, playVerb{URL: audioURL})
	return i
}

// Record captures callee audio and posts the recording to actionURL when
// the callee stops speaking or maxSeconds elapses.
func (i *Instructions) Record(actionURL string, maxSeconds int) *Instructions {
	i.verbs = append(i.verbs, recordVerb{ActionURL: actionURL, MaxSeconds: maxSeconds})
	return i
}

// Pause waits silently for the given number of seconds.
func (i *Instructions) Pause(seconds int) *Instructions {
	i.verbs = append(i.verbs, pauseVerb{Seconds: seconds})
	return i
}

// Redirect hands call control to another callback URL.
func (i *Instructions) Redirect(url string) *Instructions {
	i.verbs = append(i.verbs, redirectVerb{URL: url})
	return i
}

// Hangup ends the call.
func (i *Instructions) Hangup() *Instructions {
	i.verbs = append(i.verbs, hangupVerb{})
	return i
}

// Render produces the XML document the carrier executes.
func (i *Instructions) Render() string {
	var b strings.Builder
	b.WriteString(xml.Header)
	b.WriteString("<Response>")
	for _, v := range i.verbs {
		v.render(&b)
	}
	b.WriteString("</Response>")
	return b.String()
}

// ContentType is the media type of a rendered instruction document.
const ContentType = "application/xml"

type sayVerb struct{ Text string }

func (v sayVerb) render(b *strings.Builder) {
	b.WriteString("<Say>")
	xml.EscapeText(b, []byte(v.Text))
	b.WriteString("</Say>")
}

type playVerb struct{ URL string }

func (v playVerb) render(b *strings.Builder) {
	b.WriteString("<Play>")
	xml.EscapeText(b, []byte(v.URL))
	b.WriteString("</Play>")
}

type recordVerb struct {
	ActionURL  string
	MaxSeconds int
}

func (v recordVerb) render(b *strings.Builder) {
	b.WriteString(`<Record action="`)
	xml.EscapeText(b, []byte(v.ActionURL))
	fmt.Fprintf(b, `" maxLength="%d" playBeep="false"/>`, v.MaxSeconds)
}

type pauseVerb struct{ Seconds int }

func (v pauseVerb) render(b *strings.Builder) {
	fmt.Fprintf(b, `<Pause length="%d"/>`, v.Seconds)
}

type redirectVerb struct{ URL string }

func (v redirectVerb) render(b *strings.Builder) {
	b.WriteString("<Redirect>")
	xml.EscapeText(b, []byte(v.URL))
	b.WriteString("</Redirect>")
}

type hangupVerb struct{}

func (v hangupVerb) render(b *strings.Builder) {
	b.WriteString("<Hangup/>")
}
