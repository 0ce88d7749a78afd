// Package interview contains the live-session core: classification of
// realtime protocol events, transcript accumulation with the acceptance
// policy, and the session runner that sequences a whole interview.
package interview

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Kind is the semantic category of a classified realtime event.
type Kind int

const (
	// KindAssistantDelta is a streamed fragment of in-progress interviewer
	// text. It is buffered, not emitted as a turn.
	KindAssistantDelta Kind = iota + 1

	// KindAssistantComplete flushes the buffered fragments into one
	// interviewer utterance.
	KindAssistantComplete

	// KindAssistantFull carries a complete interviewer utterance in a
	// single event.
	KindAssistantFull

	// KindCandidateComplete is a finished candidate speech transcription.
	KindCandidateComplete
)

// Event is the classified form of one inbound realtime frame.
type Event struct {
	Kind Kind
	Text string
}

// markupRE matches markup tags, including a trailing unterminated tag.
var markupRE = regexp.MustCompile(`</?[^>]+(>|$)`)

// candidateTranscriptTypes are the event tags that carry a completed
// candidate transcription. The upstream protocol has emitted all three
// across versions.
var candidateTranscriptTypes = map[string]bool{
	"conversation.item.input_audio_transcription.completed": true,
	"input_audio_transcription.completed":                   true,
	"response.input_audio_transcription.completed":          true,
}

// Classify maps one raw realtime frame to its semantic event, or nil when
// the frame is not parseable or carries nothing of interest. Rules are
// checked in priority order; the first match wins. Classification never
// fails hard: malformed input yields nil and the caller's loop continues.
func Classify(payload []byte) *Event {
	var msg map[string]any
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil
	}

	typ, _ := msg["type"].(string)

	// 1. Streaming assistant text delta.
	if typ == "response.delta" {
		if delta, ok := msg["delta"].(map[string]any); ok {
			if dt, _ := delta["type"].(string); dt == "output_text" {
				text, _ := delta["text"].(string)
				return &Event{Kind: KindAssistantDelta, Text: text}
			}
		}
	}

	// 2. Two distinct completion tags both mean "flush the buffer".
	if typ == "response.completed" || typ == "response.output_text.completed" {
		return &Event{Kind: KindAssistantComplete}
	}

	// 3. Fully-formed assistant output batch.
	if typ == "response.output" {
		if _, ok := msg["output"].([]any); ok {
			return &Event{Kind: KindAssistantFull, Text: ExtractText(msg)}
		}
	}

	// 4. Created event already carrying a full output batch.
	if typ == "response.created" {
		if resp, ok := msg["response"].(map[string]any); ok {
			if _, ok := resp["output"].([]any); ok {
				return &Event{Kind: KindAssistantFull, Text: ExtractText(resp)}
			}
		}
	}

	// 5. Completed candidate transcription.
	if candidateTranscriptTypes[typ] {
		text, _ := msg["transcript"].(string)
		if text == "" {
			text, _ = msg["text"].(string)
		}
		return &Event{Kind: KindCandidateComplete, Text: strings.TrimSpace(text)}
	}

	// 6. Generic item-created event: dispatch on the item role.
	if typ == "conversation.item.created" {
		switch itemRole(msg) {
		case "assistant":
			return &Event{Kind: KindAssistantFull, Text: ExtractText(msg)}
		case "user", "candidate":
			return &Event{Kind: KindCandidateComplete, Text: ExtractText(msg)}
		}
	}

	// 7. Fallback: anything response-shaped or assistant-attributed that
	// still yields text.
	if strings.HasPrefix(typ, "response") || itemRole(msg) == "assistant" {
		if text := ExtractText(msg); text != "" {
			return &Event{Kind: KindAssistantFull, Text: text}
		}
	}

	return nil
}

// itemRole returns the role of the event's item, falling back to a
// top-level role field.
func itemRole(msg map[string]any) string {
	if item, ok := msg["item"].(map[string]any); ok {
		if role, ok := item["role"].(string); ok {
			return role
		}
	}
	role, _ := msg["role"].(string)
	return role
}

// ExtractText pulls plain text out of the heterogeneous nested shapes the
// protocol uses for assistant content. It walks every known path, joins the
// pieces with single spaces, strips markup and trims. The extraction is
// shape-tolerant rather than schema-strict: events of the same kind have
// arrived with at least four different nestings across protocol versions.
func ExtractText(msg map[string]any) string {
	var parts []string

	appendPart := func(s string) {
		if s != "" {
			parts = append(parts, s)
		}
	}

	// msg.output[].content[]
	if output, ok := msg["output"].([]any); ok {
		for _, block := range output {
			b, ok := block.(map[string]any)
			if !ok {
				continue
			}
			for _, part := range contentParts(b) {
				appendPart(contentText(part))
			}
		}
	}

	// msg.response.output[].content[]
	if resp, ok := msg["response"].(map[string]any); ok {
		if output, ok := resp["output"].([]any); ok {
			for _, block := range output {
				b, ok := block.(map[string]any)
				if !ok {
					continue
				}
				for _, part := range contentParts(b) {
					appendPart(contentText(part))
				}
			}
		}
	}

	// msg.item.content[], msg.item.text, msg.item.transcript
	if item, ok := msg["item"].(map[string]any); ok {
		for _, part := range contentParts(item) {
			appendPart(contentText(part))
		}
		if s, ok := item["text"].(string); ok {
			appendPart(s)
		}
		switch tr := item["transcript"].(type) {
		case string:
			appendPart(tr)
		case map[string]any:
			if s, ok := tr["text"].(string); ok {
				appendPart(s)
			}
		}
	}

	// top-level msg.text
	if s, ok := msg["text"].(string); ok {
		appendPart(s)
	}

	return StripMarkup(strings.Join(parts, " "))
}

// contentParts returns the content blocks of a message-like object.
func contentParts(obj map[string]any) []map[string]any {
	raw, ok := obj["content"].([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(raw))
	for _, p := range raw {
		if m, ok := p.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// contentText extracts text from one content part, preferring
// transcript.text, then transcript as a string, then text, then value.
func contentText(part map[string]any) string {
	if tr, ok := part["transcript"].(map[string]any); ok {
		if s, ok := tr["text"].(string); ok && s != "" {
			return s
		}
	}
	if s, ok := part["transcript"].(string); ok && s != "" {
		return s
	}
	if s, ok := part["text"].(string); ok && s != "" {
		return s
	}
	if s, ok := part["value"].(string); ok && s != "" {
		return s
	}
	return ""
}

// StripMarkup removes markup tags and trims surrounding whitespace.
func StripMarkup(s string) string {
	return strings.TrimSpace(markupRE.ReplaceAllString(s, ""))
}
