package store

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vivavoce-ai/vivavoce/pkg/audio"
)

const defaultURLPrefix = "/static/recordings"

// Segment is one stored recording file, as reported by the segment
// listing.
type Segment struct {
	URL        string    `json:"url"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// RecordingStoreOption is a functional option for [RecordingStore].
type RecordingStoreOption func(*RecordingStore)

// WithURLPrefix changes the path prefix under which stored files are
// served.
func WithURLPrefix(prefix string) RecordingStoreOption {
	return func(s *RecordingStore) { s.urlPrefix = strings.TrimRight(prefix, "/") }
}

// RecordingStore keeps recording files on the local filesystem under a
// single flat directory. Files are named with a fresh UUID so uploads
// never collide.
type RecordingStore struct {
	dir       string
	urlPrefix string
}

// NewRecordingStore creates a store over dir, creating it if needed.
func NewRecordingStore(dir string, opts ...RecordingStoreOption) (*RecordingStore, error) {
	s := &RecordingStore{dir: dir, urlPrefix: defaultURLPrefix}
	for _, o := range opts {
		o(s)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create recordings dir: %w", err)
	}
	return s, nil
}

// Dir returns the directory files are stored under.
func (s *RecordingStore) Dir() string { return s.dir }

// Save writes raw recording bytes under a fresh name and returns the URL
// path the file is served at. An empty ext defaults to ".webm".
func (s *RecordingStore) Save(data []byte, ext string) (string, error) {
	if ext == "" {
		ext = ".webm"
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	name := newFileName() + ext
	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("store: write recording: %w", err)
	}
	return path.Join(s.urlPrefix, name), nil
}

// SaveArtifact stores a finalized recording artifact: the audio file plus
// an optional video sidecar sharing the same base name. The returned URL
// points at the audio file.
func (s *RecordingStore) SaveArtifact(art *audio.Artifact) (string, error) {
	if art == nil || len(art.Audio) == 0 {
		return "", fmt.Errorf("store: empty artifact")
	}

	base := newFileName()
	audioName := base + extForMIME(art.AudioMIME, ".wav")
	if err := os.WriteFile(filepath.Join(s.dir, audioName), art.Audio, 0o644); err != nil {
		return "", fmt.Errorf("store: write audio: %w", err)
	}

	if len(art.Video) > 0 {
		videoName := base + extForMIME(art.VideoMIME, ".mjpeg")
		if err := os.WriteFile(filepath.Join(s.dir, videoName), art.Video, 0o644); err != nil {
			return "", fmt.Errorf("store: write video: %w", err)
		}
	}
	return path.Join(s.urlPrefix, audioName), nil
}

// UploadRecording stores a runner artifact, ignoring the context beyond
// its cancellation state. Local writes are fast enough to not warrant
// per-write deadlines.
func (s *RecordingStore) UploadRecording(ctx context.Context, art *audio.Artifact, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.SaveArtifact(art)
}

// Segments lists stored recordings oldest first, with their serving URLs
// and upload times.
func (s *RecordingStore) Segments() ([]Segment, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("store: list recordings: %w", err)
	}

	segments := make([]Segment, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		segments = append(segments, Segment{
			URL:        path.Join(s.urlPrefix, e.Name()),
			UploadedAt: info.ModTime().UTC(),
		})
	}
	sort.Slice(segments, func(i, j int) bool {
		if segments[i].UploadedAt.Equal(segments[j].UploadedAt) {
			return segments[i].URL < segments[j].URL
		}
		return segments[i].UploadedAt.Before(segments[j].UploadedAt)
	})
	return segments, nil
}

// newFileName returns a hex UUID without dashes.
func newFileName() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// extForMIME maps the artifact MIME types onto file extensions.
func extForMIME(mime, fallback string) string {
	switch mime {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "audio/webm", "video/webm":
		return ".webm"
	case "video/x-motion-jpeg":
		return ".mjpeg"
	case "audio/ogg":
		return ".ogg"
	default:
		return fallback
	}
}
