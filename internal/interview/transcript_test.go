package interview_test

import (
	"testing"

	"github.com/vivavoce-ai/vivavoce/internal/interview"
)

func assistantFull(text string) *interview.Event {
	return &interview.Event{Kind: interview.KindAssistantFull, Text: text}
}

func candidateComplete(text string) *interview.Event {
	return &interview.Event{Kind: interview.KindCandidateComplete, Text: text}
}

func TestAccumulator_DeltasFlushIntoOneTurn(t *testing.T) {
	t.Parallel()

	s := interview.NewSession("PCB Design", "")
	acc := interview.NewAccumulator(s)

	for _, d := range []string{"  <p>Tell me ", "about impedance ", "matching.</p> "} {
		acc.Apply(&interview.Event{Kind: interview.KindAssistantDelta, Text: d})
	}
	if len(s.InterviewerTurns) != 0 {
		t.Fatal("deltas must not emit turns before the flush")
	}

	acc.Apply(&interview.Event{Kind: interview.KindAssistantComplete})

	if len(s.InterviewerTurns) != 1 {
		t.Fatalf("interviewer turns = %d; want 1", len(s.InterviewerTurns))
	}
	if got := s.InterviewerTurns[0].Text; got != "Tell me about impedance matching." {
		t.Errorf("turn text = %q", got)
	}
}

func TestAccumulator_RepeatedFlushIsDeduped(t *testing.T) {
	t.Parallel()

	s := interview.NewSession("PCB Design", "")
	acc := interview.NewAccumulator(s)

	acc.Apply(assistantFull("What is a via?"))
	acc.Apply(assistantFull("What is a via?"))

	if len(s.InterviewerTurns) != 1 {
		t.Fatalf("interviewer turns = %d; want 1 (immediate repeat dropped)", len(s.InterviewerTurns))
	}
}

func TestAccumulator_NonAdjacentRepeatIsAcceptedAgain(t *testing.T) {
	t.Parallel()

	// Dedup compares against only the most recent utterance, so a repeat
	// separated by another utterance is accepted twice.
	s := interview.NewSession("PCB Design", "")
	acc := interview.NewAccumulator(s)

	acc.Apply(assistantFull("Question one."))
	acc.Apply(assistantFull("Question two."))
	acc.Apply(assistantFull("Question one."))

	if len(s.InterviewerTurns) != 3 {
		t.Fatalf("interviewer turns = %d; want 3", len(s.InterviewerTurns))
	}
}

func TestAccumulator_FirstTurnNameFilter(t *testing.T) {
	t.Parallel()

	var notified int
	s := interview.NewSession("PCB Design", "alex")
	acc := interview.NewAccumulator(s, interview.WithInterviewerTurnObserver(func(interview.Turn) {
		notified++
	}))

	// Spurious greeting without the candidate name: dropped silently, no
	// observer signal, playback stays muted.
	acc.Apply(assistantFull("Welcome! Let's begin."))
	if len(s.InterviewerTurns) != 0 || notified != 0 || s.FirstTurnAccepted() {
		t.Fatalf("pre-name greeting must be dropped: turns=%d notified=%d accepted=%v",
			len(s.InterviewerTurns), notified, s.FirstTurnAccepted())
	}

	acc.Apply(assistantFull("Hello Alex, tell me about yourself"))
	if len(s.InterviewerTurns) != 1 || notified != 1 || !s.FirstTurnAccepted() {
		t.Fatalf("named greeting must be accepted: turns=%d notified=%d accepted=%v",
			len(s.InterviewerTurns), notified, s.FirstTurnAccepted())
	}

	// After the first accepted turn, the name filter no longer applies.
	acc.Apply(assistantFull("Describe a ground plane."))
	if len(s.InterviewerTurns) != 2 {
		t.Fatalf("post-first-turn utterance must be accepted: turns=%d", len(s.InterviewerTurns))
	}
}

func TestAccumulator_NoNameMeansNoFilter(t *testing.T) {
	t.Parallel()

	s := interview.NewSession("PCB Design", "")
	acc := interview.NewAccumulator(s)

	acc.Apply(assistantFull("Welcome! Let's begin."))
	if len(s.InterviewerTurns) != 1 {
		t.Fatal("without a known name the first utterance is accepted")
	}
}

func TestAccumulator_EmptyAssistantTextDropped(t *testing.T) {
	t.Parallel()

	s := interview.NewSession("PCB Design", "")
	acc := interview.NewAccumulator(s)

	acc.Apply(assistantFull("   "))
	acc.Apply(assistantFull("<div></div>"))
	acc.Apply(&interview.Event{Kind: interview.KindAssistantComplete})

	if len(s.InterviewerTurns) != 0 {
		t.Fatalf("interviewer turns = %d; want 0", len(s.InterviewerTurns))
	}
}

func TestAccumulator_CandidateTurns(t *testing.T) {
	t.Parallel()

	var notified int
	s := interview.NewSession("PCB Design", "alex")
	acc := interview.NewAccumulator(s, interview.WithCandidateTurnObserver(func(interview.Turn) {
		notified++
	}))

	acc.Apply(candidateComplete("I have three years of experience."))
	acc.Apply(candidateComplete("   "))
	acc.Apply(candidateComplete(""))
	// No dedup on the candidate side: an exact repeat is kept.
	acc.Apply(candidateComplete("I have three years of experience."))

	if len(s.CandidateTurns) != 2 {
		t.Fatalf("candidate turns = %d; want 2", len(s.CandidateTurns))
	}
	if notified != 2 {
		t.Errorf("observer notified %d times; want 2", notified)
	}
	if s.CandidateTurns[0].Index != 0 || s.CandidateTurns[1].Index != 1 {
		t.Errorf("indices = %d,%d; want 0,1", s.CandidateTurns[0].Index, s.CandidateTurns[1].Index)
	}
}

func TestAccumulator_NilEventIsNoOp(t *testing.T) {
	t.Parallel()

	s := interview.NewSession("PCB Design", "")
	acc := interview.NewAccumulator(s)
	acc.Apply(nil)

	if len(s.InterviewerTurns) != 0 || len(s.CandidateTurns) != 0 {
		t.Fatal("nil event must not mutate the session")
	}
}

func TestSession_Reset(t *testing.T) {
	t.Parallel()

	s := interview.NewSession("PCB Design", "alex")
	acc := interview.NewAccumulator(s)
	acc.Apply(assistantFull("Hello Alex."))
	acc.Apply(candidateComplete("Hi."))
	acc.Apply(&interview.Event{Kind: interview.KindAssistantDelta, Text: "partial"})

	s.Reset()

	if len(s.InterviewerTurns) != 0 || len(s.CandidateTurns) != 0 || s.FirstTurnAccepted() {
		t.Fatal("Reset must clear all transcript state")
	}

	// The pending buffer is gone too: a flush right after reset emits nothing.
	acc.Apply(&interview.Event{Kind: interview.KindAssistantComplete})
	if len(s.InterviewerTurns) != 0 {
		t.Fatal("Reset must clear the pending buffer")
	}

	// And dedup state is cleared: the pre-reset utterance is accepted again.
	acc.Apply(assistantFull("Hello Alex."))
	if len(s.InterviewerTurns) != 1 {
		t.Fatal("post-reset utterance must be accepted")
	}
}

func TestSession_TextsAccessors(t *testing.T) {
	t.Parallel()

	s := interview.NewSession("PCB Design", "")
	acc := interview.NewAccumulator(s)
	acc.Apply(assistantFull("Q1"))
	acc.Apply(candidateComplete("A1"))
	acc.Apply(assistantFull("Q2"))

	iv := s.InterviewerTexts()
	cd := s.CandidateTexts()
	if len(iv) != 2 || iv[0] != "Q1" || iv[1] != "Q2" {
		t.Errorf("interviewer texts = %v", iv)
	}
	if len(cd) != 1 || cd[0] != "A1" {
		t.Errorf("candidate texts = %v", cd)
	}
}
