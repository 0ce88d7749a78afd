// Package analysis turns a finished interview transcript into a structured
// evaluation report via an LLM judge, with a phonetic post-pass that clears
// terminology the candidate plausibly said out loud.
package analysis

import "encoding/json"

// Request carries everything the analyzer needs about one interview.
type Request struct {
	Topic            string   `json:"topic"`
	InterviewerTurns []string `json:"interviewerTurns"`
	CandidateTurns   []string `json:"candidateTurns"`
	RecordingURL     string   `json:"recording_url,omitempty"`
}

// Item evaluates one question/answer pair.
type Item struct {
	Question             string   `json:"question"`
	Answer               string   `json:"answer"`
	ExpectedAnswer       string   `json:"expected_answer"`
	Score                float64  `json:"score"`
	WhatYouDidWell       []string `json:"what_you_did_well"`
	WhatCouldBeBetter    []string `json:"what_could_be_better"`
	MissingTerminologies []string `json:"missing_terminologies"`
}

// NonTechnical holds the soft-skill observations.
type NonTechnical struct {
	EnglishFluencyScore   float64     `json:"english_fluency_score"`
	EnglishFluencyComment string      `json:"english_fluency_comment"`
	ConfidenceScore       float64     `json:"confidence_score"`
	ConfidenceComment     string      `json:"confidence_comment"`
	AttentivenessScore    float64     `json:"attentiveness_score"`
	AttentivenessComment  string      `json:"attentiveness_comment"`
	OtherObservations     BulletNotes `json:"other_observations"`
}

// BulletNotes is a list of short free-text observations. Judges are asked
// for an array but occasionally return a single string; both decode.
type BulletNotes []string

func (b *BulletNotes) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*b = list
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}
	if single == "" {
		*b = nil
		return nil
	}
	*b = BulletNotes{single}
	return nil
}

// Course is a follow-up learning recommendation.
type Course struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Report is the full analysis result. A failed analysis yields a zeroed
// report with the summary "Analysis failed." rather than an error page.
type Report struct {
	Items           []Item        `json:"items"`
	OverallScore    float64       `json:"overall_score"`
	Strengths       []string      `json:"strengths"`
	Improvements    []string      `json:"improvements"`
	NextSteps       []string      `json:"next_steps"`
	AnalysisSummary string        `json:"analysis_summary"`
	NonTechnical    *NonTechnical `json:"non_technical,omitempty"`
	SuggestedCourse *Course       `json:"suggested_course,omitempty"`
	RecordingURL    string        `json:"recording_url,omitempty"`
}

// FailedReport is the zeroed fallback returned when the judge's output
// cannot be obtained or parsed.
func FailedReport(recordingURL string) *Report {
	return &Report{
		Items:           []Item{},
		Strengths:       []string{},
		Improvements:    []string{},
		NextSteps:       []string{},
		AnalysisSummary: "Analysis failed.",
		RecordingURL:    recordingURL,
	}
}
