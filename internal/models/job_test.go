package models

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStage(t *testing.T) {
	tests := []struct {
		key  string
		want Stage
	}{
		{"splitting", StageSplitting},
		{"extracting", StageExtracting},
		{"masking", StageMasking},
		{"combining_final", StageCombiningFinal},
		{"done", StageDone},
		{"combining", StageUnknown},
		{"", StageUnknown},
		{"MASKING", StageUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseStage(tt.key))
		})
	}
}

func TestStageLabelFallsBackToGeneric(t *testing.T) {
	assert.Equal(t, "Masking faces and license plates", StageMasking.Label())
	assert.Equal(t, "Analyzing", StageUnknown.Label())
	assert.Equal(t, "Analyzing", Stage("whatever").Label())
}

func TestStatusPredicates(t *testing.T) {
	tests := []struct {
		status   Status
		active   bool
		terminal bool
	}{
		{StatusIdle, false, false},
		{StatusUploading, true, false},
		{StatusQueued, true, false},
		{StatusProcessing, true, false},
		{StatusCompleted, false, true},
		{StatusFailed, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			assert.Equal(t, tt.active, tt.status.Active())
			assert.Equal(t, tt.terminal, tt.status.Terminal())
		})
	}
}

func TestStatusTextRoundTrip(t *testing.T) {
	text, err := StatusProcessing.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "processing", string(text))

	var s Status
	require.NoError(t, s.UnmarshalText([]byte("failed")))
	assert.Equal(t, StatusFailed, s)

	assert.Error(t, s.UnmarshalText([]byte("cancelled")))
}

func TestCloneIsDeep(t *testing.T) {
	orig := Job{
		ID:           "abc",
		StageHistory: []Stage{StageExtracting},
		Frames:       []string{"f1"},
		Result:       &ResultRefs{MaskedURL: "m", Frames: []string{"f1"}},
		Error:        &JobError{Kind: KindStream, Message: "x"},
	}
	clone := orig.Clone()
	clone.StageHistory[0] = StageMasking
	clone.Frames[0] = "changed"
	clone.Result.MaskedURL = "changed"
	clone.Result.Frames[0] = "changed"
	clone.Error.Message = "changed"

	assert.Equal(t, StageExtracting, orig.StageHistory[0])
	assert.Equal(t, "f1", orig.Frames[0])
	assert.Equal(t, "m", orig.Result.MaskedURL)
	assert.Equal(t, "f1", orig.Result.Frames[0])
	assert.Equal(t, "x", orig.Error.Message)
}

func TestStageAfter(t *testing.T) {
	assert.True(t, StageMasking.After(StageExtracting))
	assert.True(t, StageDone.After(StageCombiningFinal))
	assert.True(t, StageSplitting.After(StageUnknown))
	assert.True(t, StageSplitting.After(""))
	assert.False(t, StageExtracting.After(StageMasking))
	assert.False(t, StageMasking.After(StageMasking))
	assert.False(t, StageUnknown.After(StageSplitting))
}

func TestFileURL(t *testing.T) {
	assert.Equal(t, "file:///videos/clip%20one.mp4", FileURL("/videos/clip one.mp4"))

	rel := FileURL("clip.mp4")
	assert.True(t, strings.HasPrefix(rel, "file:///"), rel)
	assert.True(t, strings.HasSuffix(rel, "/clip.mp4"), rel)
}

func TestStatusLineDerivesFromStatus(t *testing.T) {
	// Percent alone never implies completion.
	j := Job{Status: StatusProcessing, Stage: StageMasking, Percent: 100}
	assert.Equal(t, "Masking faces and license plates", j.StatusLine())

	j = Job{Status: StatusFailed, Error: &JobError{Message: "boom"}}
	assert.Equal(t, "boom", j.StatusLine())
}

func TestErrorClassification(t *testing.T) {
	timeout := &Error{Kind: KindTransport, Reason: ReasonTimeout, Op: "upload"}
	wrapped := fmt.Errorf("start job: %w", timeout)

	assert.Equal(t, KindTransport, KindOf(wrapped))
	assert.True(t, IsRetryable(wrapped))
	assert.Equal(t, ErrorKind(""), KindOf(errors.New("plain")))

	tests := []struct {
		name      string
		err       *Error
		retryable bool
	}{
		{"network", &Error{Kind: KindTransport, Reason: ReasonNetwork}, true},
		{"server error", &Error{Kind: KindTransport, Reason: ReasonStatus, Status: 503}, true},
		{"client error", &Error{Kind: KindTransport, Reason: ReasonStatus, Status: 400}, false},
		{"protocol", &Error{Kind: KindProtocol, Reason: ReasonMalformed}, false},
		{"stream dropped", &Error{Kind: KindStream, Reason: ReasonDropped}, true},
		{"stream stale", &Error{Kind: KindStream, Reason: ReasonStale}, true},
		{"stream rejected", &Error{Kind: KindStream, Reason: ReasonRejected, Status: 404}, false},
		{"stream remote", &Error{Kind: KindStream, Reason: ReasonRemote}, false},
		{"not found", &Error{Kind: KindNotFound}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, tt.err.Retryable())
		})
	}
}

func TestNewJobError(t *testing.T) {
	je := NewJobError(&Error{Kind: KindStream, Reason: ReasonStale, Op: "progress stream"})
	assert.Equal(t, KindStream, je.Kind)
	assert.Equal(t, ReasonStale, je.Reason)
	assert.Equal(t, "Progress updates stopped arriving.", je.Message)

	je = NewJobError(&Error{Kind: KindTransport, Reason: ReasonStatus, Op: "upload", Status: 500})
	assert.Equal(t, "The server rejected the upload request (HTTP 500).", je.Message)

	je = NewJobError(errors.New("disk on fire"))
	assert.Equal(t, KindTransport, je.Kind)
	assert.Equal(t, "disk on fire", je.Message)
}

func TestErrorString(t *testing.T) {
	err := &Error{Kind: KindProtocol, Reason: ReasonMalformed, Op: "upload", Msg: "missing file_id"}
	assert.Equal(t, "upload: protocol error (malformed): missing file_id", err.Error())

	inner := errors.New("connection refused")
	err = &Error{Kind: KindTransport, Reason: ReasonNetwork, Op: "analyze", Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "analyze: transport error (network): connection refused", err.Error())
}
