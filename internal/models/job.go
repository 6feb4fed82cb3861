// Package models defines the data structures shared by the vamos client.
package models

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"
)

// Status is the single authoritative lifecycle state of a job.
type Status int

const (
	StatusIdle Status = iota
	StatusUploading
	StatusQueued
	StatusProcessing
	StatusCompleted
	StatusFailed
)

var statusNames = [...]string{
	StatusIdle:       "idle",
	StatusUploading:  "uploading",
	StatusQueued:     "queued",
	StatusProcessing: "processing",
	StatusCompleted:  "completed",
	StatusFailed:     "failed",
}

func (s Status) String() string {
	if int(s) < 0 || int(s) >= len(statusNames) {
		return "unknown"
	}
	return statusNames[s]
}

// ParseStatus is the inverse of Status.String.
func ParseStatus(s string) (Status, bool) {
	for i, name := range statusNames {
		if name == s {
			return Status(i), true
		}
	}
	return StatusIdle, false
}

// Terminal reports whether no further transitions are possible without a new job.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Active reports whether a job is in flight.
func (s Status) Active() bool {
	switch s {
	case StatusUploading, StatusQueued, StatusProcessing:
		return true
	default:
		return false
	}
}

// ResultRefs points at the original and masked media of a completed job.
type ResultRefs struct {
	OriginalURL string `json:"original_url" yaml:"original_url"`
	MaskedURL   string `json:"masked_url" yaml:"masked_url"`
	// Frames are masked still images returned by the analysis.
	Frames []string `json:"frames,omitempty" yaml:"frames,omitempty"`
}

// FileURL returns a file:// reference to the local file at path.
func FileURL(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	path = filepath.ToSlash(path)
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return (&url.URL{Scheme: "file", Path: path}).String()
}

// JobError is the user-facing record of a failed job.
type JobError struct {
	Kind    ErrorKind `json:"kind" yaml:"kind"`
	Reason  Reason    `json:"reason,omitempty" yaml:"reason,omitempty"`
	Message string    `json:"message" yaml:"message"`
}

// Job is one submitted video's end-to-end processing request.
type Job struct {
	ID       string `json:"id" yaml:"id"`
	Status   Status `json:"status" yaml:"status"`
	Stage    Stage  `json:"stage" yaml:"stage"`
	Percent  int    `json:"percent" yaml:"percent"`
	FilePath string `json:"file_path,omitempty" yaml:"file_path,omitempty"`
	FileSize int64  `json:"file_size,omitempty" yaml:"file_size,omitempty"`

	// UploadPercent tracks bytes sent while Uploading; Percent only moves during Processing.
	UploadPercent int `json:"upload_percent,omitempty" yaml:"upload_percent,omitempty"`

	StageHistory []Stage     `json:"stage_history,omitempty" yaml:"stage_history,omitempty"`
	Frames       []string    `json:"frames,omitempty" yaml:"frames,omitempty"`
	Reconnects   int         `json:"reconnects,omitempty" yaml:"reconnects,omitempty"`
	Result       *ResultRefs `json:"result,omitempty" yaml:"result,omitempty"`
	Error        *JobError   `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt    time.Time   `json:"started_at" yaml:"started_at"`
	UpdatedAt    time.Time   `json:"updated_at" yaml:"updated_at"`

	// Version increases with every published change.
	Version uint64 `json:"version" yaml:"version"`
}

// Clone returns a deep copy safe to hand to another goroutine.
func (j Job) Clone() Job {
	out := j
	if j.StageHistory != nil {
		out.StageHistory = append([]Stage(nil), j.StageHistory...)
	}
	if j.Frames != nil {
		out.Frames = append([]string(nil), j.Frames...)
	}
	if j.Result != nil {
		r := *j.Result
		if r.Frames != nil {
			r.Frames = append([]string(nil), r.Frames...)
		}
		out.Result = &r
	}
	if j.Error != nil {
		e := *j.Error
		out.Error = &e
	}
	return out
}

// StatusLine renders the job as one human-readable line derived from Status.
func (j Job) StatusLine() string {
	switch j.Status {
	case StatusIdle:
		return "Waiting for a video"
	case StatusUploading:
		return "Uploading video..."
	case StatusQueued:
		return "Preparing analysis..."
	case StatusProcessing:
		return j.Stage.Label()
	case StatusCompleted:
		return "Analysis complete"
	case StatusFailed:
		if j.Error != nil && j.Error.Message != "" {
			return j.Error.Message
		}
		return "Job failed"
	default:
		return ""
	}
}

// MarshalText renders the status by name in JSON and YAML output.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts the names produced by MarshalText.
func (s *Status) UnmarshalText(text []byte) error {
	parsed, ok := ParseStatus(string(text))
	if !ok {
		return fmt.Errorf("unknown job status %q", text)
	}
	*s = parsed
	return nil
}
