package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
)

const (
	defaultModel     = "gpt-4o-mini"
	defaultMaxTokens = 1600

	systemPrompt = "You are a concise objective evaluator. Output ONLY valid JSON."
)

// braceRE extracts the outermost JSON object when the judge wraps its
// answer in prose or code fences.
var braceRE = regexp.MustCompile(`(?s)(\{.*\})`)

// Option is a functional option for configuring an Analyzer.
type Option func(*Analyzer)

// WithModel sets the judge model.
func WithModel(model string) Option {
	return func(a *Analyzer) { a.model = model }
}

// WithBaseURL overrides the OpenAI API base URL. Used in tests to point at
// a local mock server.
func WithBaseURL(url string) Option {
	return func(a *Analyzer) { a.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(a *Analyzer) { a.timeout = d }
}

// WithCourseMap sets the topic → suggested course mapping. Topics without
// an entry get a generated default recommendation.
func WithCourseMap(m map[string]Course) Option {
	return func(a *Analyzer) { a.courses = m }
}

// WithScrubber sets the terminology scrubber applied after parsing.
func WithScrubber(s *TermScrubber) Option {
	return func(a *Analyzer) { a.scrubber = s }
}

// Analyzer evaluates interview transcripts with an LLM judge at
// temperature zero. It never surfaces a judge failure to the caller: any
// upstream or parse error degrades to [FailedReport].
type Analyzer struct {
	client   oai.Client
	model    string
	baseURL  string
	timeout  time.Duration
	courses  map[string]Course
	scrubber *TermScrubber
}

// New constructs an Analyzer.
func New(apiKey string, opts ...Option) (*Analyzer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("analysis: apiKey must not be empty")
	}

	a := &Analyzer{
		model:    defaultModel,
		scrubber: NewTermScrubber(),
	}
	for _, o := range opts {
		o(a)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if a.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(a.baseURL))
	}
	if a.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: a.timeout}))
	}
	a.client = oai.NewClient(reqOpts...)
	return a, nil
}

// qaPair is one question/answer row fed to the judge.
type qaPair struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// pairTurns zips the two turn sequences positionally. The longer sequence
// wins; missing counterparts become empty strings.
func pairTurns(interviewer, candidate []string) []qaPair {
	n := len(interviewer)
	if len(candidate) > n {
		n = len(candidate)
	}
	pairs := make([]qaPair, n)
	for i := 0; i < n; i++ {
		if i < len(interviewer) {
			pairs[i].Question = interviewer[i]
		}
		if i < len(candidate) {
			pairs[i].Answer = candidate[i]
		}
	}
	return pairs
}

// Analyze evaluates one interview and returns the report. The returned
// error is nil in every degraded case; only a cancelled context propagates.
func (a *Analyzer) Analyze(ctx context.Context, req Request) (*Report, error) {
	pairs := pairTurns(req.InterviewerTurns, req.CandidateTurns)
	pairsJSON, err := json.Marshal(pairs)
	if err != nil {
		return FailedReport(req.RecordingURL), nil
	}

	prompt := buildPrompt(req.Topic, string(pairsJSON))

	resp, err := a.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Model: shared.ChatModel(a.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(systemPrompt),
			oai.UserMessage(prompt),
		},
		Temperature:         param.NewOpt(0.0),
		MaxCompletionTokens: param.NewOpt(int64(defaultMaxTokens)),
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Warn("analysis: judge request failed", "error", err)
		return FailedReport(req.RecordingURL), nil
	}
	if len(resp.Choices) == 0 {
		slog.Warn("analysis: judge returned no choices")
		return FailedReport(req.RecordingURL), nil
	}

	report, ok := parseReport(resp.Choices[0].Message.Content)
	if !ok {
		slog.Warn("analysis: judge output was not parseable JSON")
		return FailedReport(req.RecordingURL), nil
	}

	if a.scrubber != nil {
		a.scrubber.Scrub(report, req.CandidateTurns)
	}
	report.SuggestedCourse = a.suggestCourse(req.Topic)
	report.RecordingURL = req.RecordingURL
	return report, nil
}

// buildPrompt renders the judging instructions with the paired transcript.
func buildPrompt(topic, pairsJSON string) string {
	var b strings.Builder
	b.WriteString("Evaluate this mock interview on the topic \"")
	b.WriteString(topic)
	b.WriteString("\".\n\n")
	b.WriteString("Question/answer pairs (empty answer means the candidate did not respond):\n")
	b.WriteString(pairsJSON)
	b.WriteString("\n\nReturn a single JSON object with exactly these keys:\n")
	b.WriteString(`{"items":[{"question":"","answer":"","expected_answer":"","score":0,` +
		`"what_you_did_well":[],"what_could_be_better":[],"missing_terminologies":[]}],` +
		`"overall_score":0,"strengths":[],"improvements":[],"next_steps":[],` +
		`"analysis_summary":"","non_technical":{"english_fluency_score":0,` +
		`"english_fluency_comment":"","confidence_score":0,"confidence_comment":"",` +
		`"attentiveness_score":0,"attentiveness_comment":"","other_observations":[]}}`)
	b.WriteString("\n\nScores are 0-10. Keep every comment under two sentences.")
	return b.String()
}

// parseReport decodes the judge output, retrying on the outermost brace
// span when the raw content is not valid JSON. The summary is read from
// the first present of several key spellings the judge has used.
func parseReport(content string) (*Report, bool) {
	raw := []byte(strings.TrimSpace(content))

	var report Report
	if err := json.Unmarshal(raw, &report); err != nil {
		m := braceRE.FindSubmatch(raw)
		if m == nil {
			return nil, false
		}
		if err := json.Unmarshal(m[1], &report); err != nil {
			return nil, false
		}
		raw = m[1]
	}

	if report.AnalysisSummary == "" {
		var alt struct {
			Analysis     string `json:"analysis"`
			Summary      string `json:"summary"`
			FinalSummary string `json:"final_summary"`
		}
		_ = json.Unmarshal(raw, &alt)
		for _, s := range []string{alt.Analysis, alt.Summary, alt.FinalSummary} {
			if s != "" {
				report.AnalysisSummary = s
				break
			}
		}
	}

	if report.Items == nil {
		report.Items = []Item{}
	}
	return &report, true
}

// suggestCourse maps a topic to its configured course, or a generated
// default recommendation.
func (a *Analyzer) suggestCourse(topic string) *Course {
	if c, ok := a.courses[topic]; ok {
		return &c
	}
	return &Course{
		Title: fmt.Sprintf("Gyannidhi — %s Course", topic),
		URL:   "https://gyannidhi.in",
	}
}
