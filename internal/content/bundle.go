// Package content loads per-topic course and quiz bundles and renders them
// into the compact context and interviewer instructions that ground a
// realtime session.
package content

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
)

// Sampling caps for the compact context. The seed is fixed so the same
// bundle always yields the same context.
const (
	contextSeed             = 42
	perCompetencySubskills  = 3
	maxQuizSections         = 8
	maxQuizStemsPerSection  = 6
	snippetTrimLimit        = 220
	maxResponsibilities     = 5
	maxRedFlags             = 4
	perCompetencyQuestions  = 2
)

// DefaultTopicMap maps interview role names to bundle file keys.
var DefaultTopicMap = map[string]string{
	"Product Designer": "product_designer",
	"PCB Designer":     "pcb",
	"Firmware / Software Developer (Embedded)": "firmware_developer",
	"Integration Engineer":                     "integration_engineer",
	"Domain Expert & V&V Engineer":             "domain_expert_vnv",
	"Mechanical Designer":                      "mechanical_designer",
	"Procurement Specialist":                   "procurement_specialist",
}

// Competency is one assessed skill area of a course.
type Competency struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Subskills        []string `json:"subskills"`
	Responsibilities []string `json:"responsibilities"`
	RedFlags         []string `json:"red_flags"`
}

// ProbeTemplate is a reusable follow-up question pattern.
type ProbeTemplate struct {
	ID      string `json:"id"`
	Pattern string `json:"pattern"`
}

// Course is the course half of a topic bundle.
type Course struct {
	Competencies   []Competency    `json:"competencies"`
	ProbeTemplates []ProbeTemplate `json:"probe_templates"`
}

// Quiz maps section names to question stems.
type Quiz map[string][]string

// Bundle pairs the course and quiz data of one topic.
type Bundle struct {
	Course Course
	Quiz   Quiz
}

// defaultProbes are used when a course bundle carries no probe templates.
var defaultProbes = []ProbeTemplate{
	{ID: "define", Pattern: "Define {subskill} in this product context."},
	{ID: "why", Pattern: "Why is {subskill} important for {competency}?"},
	{ID: "steps", Pattern: "List the key steps concisely."},
	{ID: "checks", Pattern: "What checks confirm correctness?"},
	{ID: "instrument", Pattern: "Which instrument verifies this, and what indicates success?"},
}

// ── Library ───────────────────────────────────────────────────────────────────

// LibraryOption is a functional option for configuring a Library.
type LibraryOption func(*Library)

// WithTopicMap replaces the default role → bundle-key mapping.
func WithTopicMap(m map[string]string) LibraryOption {
	return func(l *Library) { l.topics = m }
}

// Library resolves topics to their content bundles on disk. Bundles are
// stored as <key>.course.json and <key>.quiz.json under the data dir; a
// missing file yields empty data, not an error.
type Library struct {
	dataDir string
	topics  map[string]string
}

// NewLibrary creates a library over the given data directory.
func NewLibrary(dataDir string, opts ...LibraryOption) *Library {
	l := &Library{dataDir: dataDir, topics: DefaultTopicMap}
	for _, o := range opts {
		o(l)
	}
	return l
}

// KnownTopic reports whether the topic is in the mapping.
func (l *Library) KnownTopic(topic string) bool {
	_, ok := l.topics[topic]
	return ok
}

// Topics returns the known topic names, sorted.
func (l *Library) Topics() []string {
	out := make([]string, 0, len(l.topics))
	for t := range l.topics {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// LoadBundle reads the topic's course and quiz files. Unknown topics and
// missing files produce empty bundle halves.
func (l *Library) LoadBundle(topic string) *Bundle {
	b := &Bundle{Quiz: Quiz{}}

	key, ok := l.topics[topic]
	if !ok {
		return b
	}

	readJSON(filepath.Join(l.dataDir, key+".course.json"), &b.Course)
	readJSON(filepath.Join(l.dataDir, key+".quiz.json"), &b.Quiz)
	return b
}

// readJSON decodes path into v. Missing or malformed files leave v as-is;
// a topic without bundle data still gets an interview, just an ungrounded one.
func readJSON(path string, v any) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	_ = json.Unmarshal(data, v)
}

// ── Compact context ───────────────────────────────────────────────────────────

type contextSnippet struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Subskills        []string `json:"subskills"`
	Responsibilities []string `json:"responsibilities"`
	RedFlags         []string `json:"red_flags"`
}

type quizClue struct {
	Section string   `json:"section"`
	Stems   []string `json:"stems"`
}

type contextPayload struct {
	Topic    string `json:"topic"`
	Coverage struct {
		Policy                 string `json:"policy"`
		PerCompetencyQuestions int    `json:"per_competency_questions"`
	} `json:"coverage"`
	ContentSnippets []contextSnippet `json:"content_snippets"`
	QuizClues       []quizClue       `json:"quiz_clues"`
	ProbeTemplates  []ProbeTemplate  `json:"probe_templates"`
}

// CompactContext condenses the topic's bundle into a small JSON blob for
// the interviewer instructions: a seeded sample of subskills per
// competency, a capped shuffle of quiz sections with trimmed stems, and
// the probe templates. The fixed seed keeps the sampling reproducible
// across sessions.
func (l *Library) CompactContext(topic string) (string, error) {
	bundle := l.LoadBundle(topic)
	rnd := rand.New(rand.NewSource(contextSeed))

	snippets := make([]contextSnippet, 0, len(bundle.Course.Competencies))
	for _, comp := range bundle.Course.Competencies {
		snippets = append(snippets, contextSnippet{
			ID:               comp.ID,
			Name:             comp.Name,
			Subskills:        sample(rnd, comp.Subskills, perCompetencySubskills),
			Responsibilities: head(comp.Responsibilities, maxResponsibilities),
			RedFlags:         head(comp.RedFlags, maxRedFlags),
		})
	}

	sections := make([]string, 0, len(bundle.Quiz))
	for name := range bundle.Quiz {
		sections = append(sections, name)
	}
	sort.Strings(sections)
	rnd.Shuffle(len(sections), func(i, j int) {
		sections[i], sections[j] = sections[j], sections[i]
	})

	clues := make([]quizClue, 0, maxQuizSections)
	for _, name := range head(sections, maxQuizSections) {
		stems := head(bundle.Quiz[name], maxQuizStemsPerSection)
		trimmed := make([]string, len(stems))
		for i, s := range stems {
			trimmed[i] = trim(s, snippetTrimLimit)
		}
		clues = append(clues, quizClue{Section: name, Stems: trimmed})
	}

	probes := bundle.Course.ProbeTemplates
	if len(probes) == 0 {
		probes = defaultProbes
	}

	payload := contextPayload{
		Topic:           topic,
		ContentSnippets: snippets,
		QuizClues:       clues,
		ProbeTemplates:  probes,
	}
	payload.Coverage.Policy = "breadth_then_depth_without_repetition"
	payload.Coverage.PerCompetencyQuestions = perCompetencyQuestions

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("content: marshal context: %w", err)
	}
	return string(data), nil
}

// sample draws n distinct elements with a seeded shuffle; fewer elements
// than n are returned as-is.
func sample(rnd *rand.Rand, items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	shuffled := append([]string(nil), items...)
	rnd.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return shuffled[:n]
}

// head returns at most n leading elements.
func head[T any](items []T, n int) []T {
	if len(items) <= n {
		return items
	}
	return items[:n]
}

// trim shortens s to lim runes, appending an ellipsis when cut.
func trim(s string, lim int) string {
	runes := []rune(s)
	if len(runes) <= lim {
		return s
	}
	return string(runes[:lim]) + "…"
}
