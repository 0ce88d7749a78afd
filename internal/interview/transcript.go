package interview

import (
	"log/slog"
	"strings"
)

// Speaker attributes a transcript turn.
type Speaker int

const (
	SpeakerInterviewer Speaker = iota + 1
	SpeakerCandidate
)

// String returns the speaker label used in logs and stored transcripts.
func (s Speaker) String() string {
	switch s {
	case SpeakerInterviewer:
		return "interviewer"
	case SpeakerCandidate:
		return "candidate"
	default:
		return "unknown"
	}
}

// Turn is one complete utterance. Immutable once appended; Index is the
// position within its speaker's sequence.
type Turn struct {
	Speaker Speaker
	Text    string
	Index   int
}

// Session holds the transcript state of the single live interview. It is
// exclusively owned by the Runner and mutated only through an Accumulator;
// no other component writes it.
type Session struct {
	Topic         string
	CandidateName string

	InterviewerTurns []Turn
	CandidateTurns   []Turn

	firstTurnAccepted bool
	lastAssistantText string
	pending           strings.Builder
}

// NewSession creates a fresh session. candidateName may be empty when the
// roster does not know the candidate; the pre-first-turn name filter is
// then skipped.
func NewSession(topic, candidateName string) *Session {
	return &Session{Topic: topic, CandidateName: candidateName}
}

// Reset clears all transcript state for a new interview. The previous
// turns are discarded, not archived.
func (s *Session) Reset() {
	s.InterviewerTurns = nil
	s.CandidateTurns = nil
	s.firstTurnAccepted = false
	s.lastAssistantText = ""
	s.pending.Reset()
}

// FirstTurnAccepted reports whether an interviewer turn has been accepted
// yet. Playback stays muted until this flips.
func (s *Session) FirstTurnAccepted() bool { return s.firstTurnAccepted }

// InterviewerTexts returns the interviewer turn texts in order.
func (s *Session) InterviewerTexts() []string {
	out := make([]string, len(s.InterviewerTurns))
	for i, t := range s.InterviewerTurns {
		out[i] = t.Text
	}
	return out
}

// CandidateTexts returns the candidate turn texts in order.
func (s *Session) CandidateTexts() []string {
	out := make([]string, len(s.CandidateTurns))
	for i, t := range s.CandidateTurns {
		out[i] = t.Text
	}
	return out
}

// ── Accumulator ───────────────────────────────────────────────────────────────

// AccumulatorOption is a functional option for configuring an Accumulator.
type AccumulatorOption func(*Accumulator)

// WithInterviewerTurnObserver registers a callback fired on every accepted
// interviewer turn. The first invocation is the signal to unmute playback.
func WithInterviewerTurnObserver(fn func(Turn)) AccumulatorOption {
	return func(a *Accumulator) { a.onInterviewerTurn = fn }
}

// WithCandidateTurnObserver registers a callback fired on every appended
// candidate turn.
func WithCandidateTurnObserver(fn func(Turn)) AccumulatorOption {
	return func(a *Accumulator) { a.onCandidateTurn = fn }
}

// Accumulator applies classified events to a Session. Apply is synchronous
// and must be called from a single goroutine in event arrival order; each
// call is one uninterruptible mutation of the session.
type Accumulator struct {
	session           *Session
	onInterviewerTurn func(Turn)
	onCandidateTurn   func(Turn)
}

// NewAccumulator wraps the session with the acceptance policy.
func NewAccumulator(session *Session, opts ...AccumulatorOption) *Accumulator {
	a := &Accumulator{session: session}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Apply mutates the session according to the event kind. A nil event is a
// no-op, matching the classifier's soft-fail contract.
func (a *Accumulator) Apply(ev *Event) {
	if ev == nil {
		return
	}

	s := a.session
	switch ev.Kind {
	case KindAssistantDelta:
		s.pending.WriteString(ev.Text)

	case KindAssistantComplete:
		text := s.pending.String()
		s.pending.Reset()
		a.acceptAssistant(text)

	case KindAssistantFull:
		a.acceptAssistant(ev.Text)

	case KindCandidateComplete:
		text := strings.TrimSpace(ev.Text)
		if text == "" {
			return
		}
		turn := Turn{Speaker: SpeakerCandidate, Text: text, Index: len(s.CandidateTurns)}
		s.CandidateTurns = append(s.CandidateTurns, turn)
		if a.onCandidateTurn != nil {
			a.onCandidateTurn(turn)
		}
	}
}

// acceptAssistant applies the accept-or-drop policy to one complete
// assistant utterance.
//
// Dedup compares against only the single most recent accepted utterance: a
// repeated utterance separated by a different one in between is accepted
// again. That is the intended behavior (it targets repeated flush events
// for the same utterance), not full-history dedup.
func (a *Accumulator) acceptAssistant(raw string) {
	s := a.session

	text := StripMarkup(raw)
	if text == "" {
		return
	}
	if text == s.lastAssistantText {
		return
	}

	// Before the first accepted turn, a known candidate name gates out the
	// spurious greeting the model sometimes emits before addressing the
	// candidate directly.
	if !s.firstTurnAccepted && s.CandidateName != "" &&
		!strings.Contains(strings.ToLower(text), strings.ToLower(s.CandidateName)) {
		slog.Debug("transcript: dropped pre-first-turn utterance without candidate name")
		return
	}

	s.firstTurnAccepted = true
	s.lastAssistantText = text

	turn := Turn{Speaker: SpeakerInterviewer, Text: text, Index: len(s.InterviewerTurns)}
	s.InterviewerTurns = append(s.InterviewerTurns, turn)
	if a.onInterviewerTurn != nil {
		a.onInterviewerTurn(turn)
	}
}
