package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/vivavoce-ai/vivavoce/internal/analysis"
	"github.com/vivavoce-ai/vivavoce/internal/store"
)

// ─── Fakes ───────────────────────────────────────────────────────────────

type fakeLibrary struct {
	topics map[string]string
}

func (f *fakeLibrary) KnownTopic(topic string) bool {
	_, ok := f.topics[topic]
	return ok
}

func (f *fakeLibrary) Topics() []string {
	out := make([]string, 0, len(f.topics))
	for t := range f.topics {
		out = append(out, t)
	}
	return out
}

func (f *fakeLibrary) TopicInstructions(topic string) (string, error) {
	instr, ok := f.topics[topic]
	if !ok {
		return "", fmt.Errorf("unknown topic %q", topic)
	}
	return instr, nil
}

type fakeMinter struct {
	token        string
	err          error
	instructions string
}

func (f *fakeMinter) Mint(_ context.Context, instructions string) (string, error) {
	f.instructions = instructions
	return f.token, f.err
}

type fakeMetadata struct {
	interviews map[string]*store.Interview
	saveErr    error
	nextID     int
}

func newFakeMetadata() *fakeMetadata {
	return &fakeMetadata{interviews: make(map[string]*store.Interview)}
}

func (f *fakeMetadata) Save(_ context.Context, iv *store.Interview) (string, error) {
	if f.saveErr != nil {
		return "", f.saveErr
	}
	if err := iv.Validate(); err != nil {
		return "", err
	}
	if iv.ID == "" {
		f.nextID++
		iv.ID = fmt.Sprintf("iv-%d", f.nextID)
	}
	f.interviews[iv.ID] = iv
	return iv.ID, nil
}

func (f *fakeMetadata) Get(_ context.Context, id string) (*store.Interview, error) {
	return f.interviews[id], nil
}

func (f *fakeMetadata) List(_ context.Context, candidateID string) ([]store.Interview, error) {
	var out []store.Interview
	for _, iv := range f.interviews {
		if candidateID == "" || iv.CandidateID == candidateID {
			out = append(out, *iv)
		}
	}
	return out, nil
}

func (f *fakeMetadata) AttachReport(_ context.Context, id string, report json.RawMessage) error {
	iv, ok := f.interviews[id]
	if !ok {
		return fmt.Errorf("interview %q not found", id)
	}
	iv.Report = report
	return nil
}

type fakeAnalyzer struct {
	report *analysis.Report
	err    error
	got    analysis.Request
}

func (f *fakeAnalyzer) Analyze(_ context.Context, req analysis.Request) (*analysis.Report, error) {
	f.got = req
	return f.report, f.err
}

// ─── Harness ─────────────────────────────────────────────────────────────

func newTestServer(t *testing.T, opts ...Option) (*Server, *http.ServeMux, *fakeMinter) {
	t.Helper()

	recordings, err := store.NewRecordingStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewRecordingStore: %v", err)
	}
	library := &fakeLibrary{topics: map[string]string{
		"PCB Designer": "You interview on PCB design.",
	}}
	minter := &fakeMinter{token: "ek_test_123"}

	srv, err := New(library, minter, recordings, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	mux := http.NewServeMux()
	srv.Register(mux)
	return srv, mux, minter
}

func postJSON(t *testing.T, mux *http.ServeMux, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest("POST", path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

// ─── /session ────────────────────────────────────────────────────────────

func TestSession_MintsToken(t *testing.T) {
	roster := map[string]Candidate{"c1": {Name: "Alex Kumar", JobTitle: "PCB Designer"}}
	_, mux, minter := newTestServer(t, WithRoster(roster))

	rec := postJSON(t, mux, "/session", map[string]string{
		"topic":        "PCB Designer",
		"candidate_id": "c1",
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	resp := decode[sessionResponse](t, rec)
	if resp.Token != "ek_test_123" {
		t.Errorf("token = %q", resp.Token)
	}
	if resp.CandidateName != "Alex Kumar" || resp.JobTitle != "PCB Designer" {
		t.Errorf("roster fields = %+v", resp)
	}
	if minter.instructions != "You interview on PCB design." {
		t.Errorf("minter got instructions %q", minter.instructions)
	}
}

func TestSession_UnknownCandidateOmitsRosterFields(t *testing.T) {
	_, mux, _ := newTestServer(t)

	rec := postJSON(t, mux, "/session", map[string]string{"topic": "PCB Designer"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decode[sessionResponse](t, rec)
	if resp.CandidateName != "" || resp.JobTitle != "" {
		t.Errorf("roster fields must be empty, got %+v", resp)
	}
}

func TestSession_InvalidTopic(t *testing.T) {
	_, mux, _ := newTestServer(t)

	rec := postJSON(t, mux, "/session", map[string]string{"topic": "Quantum Chef"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	resp := decode[map[string]string](t, rec)
	if resp["error"] != "Invalid topic" {
		t.Errorf("error = %q", resp["error"])
	}
}

func TestSession_MintFailureIsBadGateway(t *testing.T) {
	_, mux, minter := newTestServer(t)
	minter.err = errors.New("upstream 500")
	minter.token = ""

	rec := postJSON(t, mux, "/session", map[string]string{"topic": "PCB Designer"})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
}

func TestTopics(t *testing.T) {
	_, mux, _ := newTestServer(t)

	req := httptest.NewRequest("GET", "/topics", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	resp := decode[map[string][]string](t, rec)
	if len(resp["topics"]) != 1 || resp["topics"][0] != "PCB Designer" {
		t.Errorf("topics = %v", resp["topics"])
	}
}

// ─── /upload_recording and /segments ─────────────────────────────────────

func multipartUpload(t *testing.T, filename, topic string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if topic != "" {
		if err := mw.WriteField("topic", topic); err != nil {
			t.Fatalf("WriteField: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func TestUploadRecording(t *testing.T) {
	_, mux, _ := newTestServer(t)

	body, contentType := multipartUpload(t, "take1.webm", "PCB Designer", []byte("webm-bytes"))
	req := httptest.NewRequest("POST", "/upload_recording", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	resp := decode[map[string]string](t, rec)
	url := resp["url"]
	if !strings.HasPrefix(url, "/static/recordings/") || !strings.HasSuffix(url, ".webm") {
		t.Errorf("url = %q", url)
	}

	// The stored file must be served back at the returned URL.
	getReq := httptest.NewRequest("GET", url, nil)
	getRec := httptest.NewRecorder()
	mux.ServeHTTP(getRec, getReq)
	if getRec.Code != http.StatusOK {
		t.Fatalf("GET %s = %d", url, getRec.Code)
	}
	served, _ := io.ReadAll(getRec.Body)
	if string(served) != "webm-bytes" {
		t.Errorf("served body = %q", served)
	}
}

func TestUploadRecording_WithVideoSidecar(t *testing.T) {
	_, mux, _ := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "take1.wav")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	fw.Write([]byte("audio"))
	vw, err := mw.CreateFormFile("video", "take1.mjpeg")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	vw.Write([]byte("frames"))
	mw.Close()

	req := httptest.NewRequest("POST", "/upload_recording", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	resp := decode[map[string]string](t, rec)
	if !strings.HasSuffix(resp["url"], ".wav") {
		t.Errorf("url = %q", resp["url"])
	}
	if !strings.HasSuffix(resp["video_url"], ".mjpeg") {
		t.Errorf("video_url = %q", resp["video_url"])
	}
}

func TestUploadRecording_MissingFile(t *testing.T) {
	_, mux, _ := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("topic", "PCB Designer"); err != nil {
		t.Fatalf("WriteField: %v", err)
	}
	mw.Close()

	req := httptest.NewRequest("POST", "/upload_recording", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSegments_ListsUploads(t *testing.T) {
	_, mux, _ := newTestServer(t)

	for _, name := range []string{"a.webm", "b.webm"} {
		body, contentType := multipartUpload(t, name, "", []byte("x"))
		req := httptest.NewRequest("POST", "/upload_recording", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("upload %s = %d", name, rec.Code)
		}
	}

	req := httptest.NewRequest("GET", "/segments", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	resp := decode[map[string][]store.Segment](t, rec)
	if len(resp["segments"]) != 2 {
		t.Fatalf("segments = %v", resp["segments"])
	}
	for _, seg := range resp["segments"] {
		if seg.UploadedAt.IsZero() {
			t.Errorf("segment %q has zero upload time", seg.URL)
		}
	}
}

// ─── /analyze ────────────────────────────────────────────────────────────

func TestAnalyze_ReturnsReport(t *testing.T) {
	az := &fakeAnalyzer{report: &analysis.Report{
		Items:           []analysis.Item{},
		OverallScore:    7.5,
		AnalysisSummary: "Solid fundamentals.",
	}}
	_, mux, _ := newTestServer(t, WithAnalyzer(az))

	rec := postJSON(t, mux, "/analyze", map[string]any{
		"topic":            "PCB Designer",
		"interviewerTurns": []string{"What is a via?"},
		"candidateTurns":   []string{"A plated hole connecting layers."},
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	report := decode[analysis.Report](t, rec)
	if report.OverallScore != 7.5 || report.AnalysisSummary != "Solid fundamentals." {
		t.Errorf("report = %+v", report)
	}
	if az.got.Topic != "PCB Designer" || len(az.got.CandidateTurns) != 1 {
		t.Errorf("analyzer request = %+v", az.got)
	}
}

func TestAnalyze_AttachesReportToInterview(t *testing.T) {
	md := newFakeMetadata()
	md.interviews["iv-9"] = &store.Interview{ID: "iv-9", Topic: "PCB Designer"}
	az := &fakeAnalyzer{report: &analysis.Report{OverallScore: 6}}
	_, mux, _ := newTestServer(t, WithAnalyzer(az), WithMetadata(md))

	rec := postJSON(t, mux, "/analyze", map[string]any{
		"topic":        "PCB Designer",
		"interview_id": "iv-9",
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(md.interviews["iv-9"].Report) == 0 {
		t.Error("report was not attached to the interview")
	}
}

func TestAnalyze_NotConfigured(t *testing.T) {
	_, mux, _ := newTestServer(t)

	rec := postJSON(t, mux, "/analyze", map[string]any{"topic": "PCB Designer"})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

// ─── /interviews ─────────────────────────────────────────────────────────

func TestInterviews_CreateGetList(t *testing.T) {
	md := newFakeMetadata()
	_, mux, _ := newTestServer(t, WithMetadata(md))

	rec := postJSON(t, mux, "/interviews", map[string]any{
		"candidate_id":     "c1",
		"topic":            "PCB Designer",
		"interviewerTurns": []string{"Tell me about yourself."},
		"candidateTurns":   []string{"I design four-layer boards."},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", rec.Code, rec.Body)
	}
	created := decode[map[string]string](t, rec)
	id := created["id"]
	if id == "" {
		t.Fatal("create returned empty id")
	}

	getReq := httptest.NewRequest("GET", "/interviews/"+id, nil)
	getRec := httptest.NewRecorder()
	mux.ServeHTTP(getRec, getReq)
	if getRec.Code != http.StatusOK {
		t.Fatalf("get status = %d", getRec.Code)
	}
	iv := decode[store.Interview](t, getRec)
	if iv.Topic != "PCB Designer" || len(iv.CandidateTurns) != 1 {
		t.Errorf("interview = %+v", iv)
	}

	listReq := httptest.NewRequest("GET", "/interviews?candidate_id=c1", nil)
	listRec := httptest.NewRecorder()
	mux.ServeHTTP(listRec, listReq)
	listResp := decode[map[string][]store.Interview](t, listRec)
	if len(listResp["interviews"]) != 1 {
		t.Errorf("list = %v", listResp["interviews"])
	}
}

func TestInterviews_GetUnknownIs404(t *testing.T) {
	_, mux, _ := newTestServer(t, WithMetadata(newFakeMetadata()))

	req := httptest.NewRequest("GET", "/interviews/nope", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestInterviews_CreateValidationIs400(t *testing.T) {
	_, mux, _ := newTestServer(t, WithMetadata(newFakeMetadata()))

	rec := postJSON(t, mux, "/interviews", map[string]any{"candidate_id": "c1"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestInterviews_NotConfigured(t *testing.T) {
	_, mux, _ := newTestServer(t)

	rec := postJSON(t, mux, "/interviews", map[string]any{"topic": "PCB Designer"})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}
