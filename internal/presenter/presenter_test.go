package presenter

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/vamos-go/internal/config"
	"github.com/raphaelgruber/vamos-go/internal/models"
)

type fakeSource struct {
	refs models.ResultRefs
	err  error
}

func (f *fakeSource) FetchResult(ctx context.Context, jobID string) (models.ResultRefs, error) {
	return f.refs, f.err
}

func (f *fakeSource) DerivedResult(jobID string) models.ResultRefs {
	return models.ResultRefs{MaskedURL: "http://backend/result_video/" + jobID + "_final.mp4"}
}

type fakePlayer struct {
	mu      sync.Mutex
	url     string
	calls   []string
	failing bool
}

func (f *fakePlayer) do(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	if f.failing && call != "close" {
		return errors.New("player is gone")
	}
	return nil
}

func (f *fakePlayer) Play() error  { return f.do("play") }
func (f *fakePlayer) Pause() error { return f.do("pause") }
func (f *fakePlayer) Close() error { return f.do("close") }

func (f *fakePlayer) history() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func recordingOpener(opened map[string]*fakePlayer) OpenFunc {
	return func(ctx context.Context, label, url string) (Player, error) {
		p := &fakePlayer{url: url}
		opened[label] = p
		return p, nil
	}
}

func TestPresentMountsBothPlayers(t *testing.T) {
	src := &fakeSource{refs: models.ResultRefs{OriginalURL: "http://b/uploads/a.mp4", MaskedURL: "http://b/result_video/a_final.mp4"}}
	opened := map[string]*fakePlayer{}
	p := New(src, recordingOpener(opened), config.DiscardLogger())

	require.NoError(t, p.Present(context.Background(), models.Job{ID: "a"}))

	id, refs, ok := p.Refs()
	assert.True(t, ok)
	assert.Equal(t, "a", id)
	assert.Equal(t, src.refs, refs)

	require.Len(t, opened, 2)
	assert.Equal(t, src.refs.OriginalURL, opened["original"].url)
	assert.Equal(t, src.refs.MaskedURL, opened["masked"].url)
	assert.True(t, p.Playing())
}

func TestPresentFallsBackToDerivedResult(t *testing.T) {
	src := &fakeSource{err: &models.Error{Kind: models.KindNotFound, Op: "result"}}
	opened := map[string]*fakePlayer{}
	p := New(src, recordingOpener(opened), config.DiscardLogger())

	require.NoError(t, p.Present(context.Background(), models.Job{ID: "b"}))

	_, refs, _ := p.Refs()
	assert.Equal(t, "http://backend/result_video/b_final.mp4", refs.MaskedURL)
	assert.Empty(t, refs.OriginalURL)
	assert.Len(t, opened, 1)
	assert.Contains(t, opened, "masked")
}

func TestPresentUsesUploadedFileAsOriginal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "street.mp4")
	require.NoError(t, os.WriteFile(path, []byte("video"), 0o644))

	src := &fakeSource{err: &models.Error{Kind: models.KindNotFound, Op: "result"}}
	opened := map[string]*fakePlayer{}
	p := New(src, recordingOpener(opened), config.DiscardLogger())

	job := models.Job{
		ID:       "d",
		Status:   models.StatusCompleted,
		FilePath: path,
		Result: &models.ResultRefs{
			MaskedURL: "http://backend/result_video/d_final.mp4",
			Frames:    []string{"http://backend/result_image/d/f1.jpg"},
		},
	}
	require.NoError(t, p.Present(context.Background(), job))

	_, refs, _ := p.Refs()
	assert.Equal(t, models.FileURL(path), refs.OriginalURL)
	assert.Equal(t, job.Result.MaskedURL, refs.MaskedURL)
	assert.Equal(t, job.Result.Frames, refs.Frames)

	require.Len(t, opened, 2)
	assert.Equal(t, models.FileURL(path), opened["original"].url)
	assert.Equal(t, job.Result.MaskedURL, opened["masked"].url)
	assert.True(t, p.Playing())
}

func TestPresentSkipsMissingUploadedFile(t *testing.T) {
	src := &fakeSource{err: &models.Error{Kind: models.KindNotFound, Op: "result"}}
	opened := map[string]*fakePlayer{}
	p := New(src, recordingOpener(opened), config.DiscardLogger())

	job := models.Job{ID: "e", FilePath: filepath.Join(t.TempDir(), "gone.mp4")}
	require.NoError(t, p.Present(context.Background(), job))

	_, refs, _ := p.Refs()
	assert.Empty(t, refs.OriginalURL)
	assert.Len(t, opened, 1)
}

func TestPresentPropagatesTransportErrors(t *testing.T) {
	src := &fakeSource{err: &models.Error{Kind: models.KindTransport, Reason: models.ReasonNetwork, Op: "result"}}
	p := New(src, nil, config.DiscardLogger())

	err := p.Present(context.Background(), models.Job{ID: "c"})
	require.Error(t, err)
	assert.Equal(t, models.KindTransport, models.KindOf(err))
	_, _, ok := p.Refs()
	assert.False(t, ok)
}

func TestPlaybackIsSynchronized(t *testing.T) {
	p := New(&fakeSource{}, nil, config.DiscardLogger())
	original, masked := &fakePlayer{}, &fakePlayer{}
	require.NoError(t, p.Mount(original, masked))

	require.NoError(t, p.Toggle())
	assert.False(t, p.Playing())
	require.NoError(t, p.Toggle())
	require.NoError(t, p.Pause())
	require.NoError(t, p.Play())

	want := []string{"play", "pause", "play", "pause", "play"}
	assert.Equal(t, want, original.history())
	assert.Equal(t, want, masked.history())

	require.NoError(t, p.Close())
	assert.Equal(t, "close", original.history()[len(want)])
	assert.False(t, p.Playing())
}

func TestCommandsWithoutMountAreNoops(t *testing.T) {
	p := New(&fakeSource{}, nil, config.DiscardLogger())
	assert.NoError(t, p.Play())
	assert.NoError(t, p.Pause())
	assert.NoError(t, p.Toggle())
	assert.NoError(t, p.Close())
	assert.False(t, p.Playing())
}

func TestFailingPlayerDoesNotBlockTheOther(t *testing.T) {
	p := New(&fakeSource{}, nil, config.DiscardLogger())
	original, masked := &fakePlayer{failing: true}, &fakePlayer{}

	require.Error(t, p.Mount(original, masked))
	require.Error(t, p.Pause())

	assert.Equal(t, []string{"play", "pause"}, masked.history())
	assert.False(t, p.Playing())
}

func TestRemountClosesPreviousPlayers(t *testing.T) {
	p := New(&fakeSource{}, nil, config.DiscardLogger())
	first := &fakePlayer{}
	require.NoError(t, p.Mount(nil, first))

	second := &fakePlayer{}
	require.NoError(t, p.Mount(nil, second))

	assert.Equal(t, []string{"play", "close"}, first.history())
	assert.Equal(t, []string{"play"}, second.history())
}

func TestPlayerArgs(t *testing.T) {
	assert.Equal(t, []string{"--force-window=yes", "http://x/v.mp4"}, PlayerArgs([]string{"--force-window=yes", "{url}"}, "http://x/v.mp4"))
	assert.Equal(t, []string{"--title", "http://x/v.mp4"}, PlayerArgs([]string{"--title"}, "http://x/v.mp4"))
	assert.Equal(t, []string{"--url=http://x/v.mp4"}, PlayerArgs([]string{"--url={url}"}, "http://x/v.mp4"))
}

func TestProcessPlayerLifecycle(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("process suspension requires unix signals")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	open := ProcessOpener("sh", []string{"-c", "sleep 30", "player", "{url}"}, config.DiscardLogger())
	pl, err := open(context.Background(), "masked", "http://x/v.mp4")
	require.NoError(t, err)
	proc := pl.(*ProcessPlayer)

	require.NoError(t, proc.Pause())
	require.NoError(t, proc.Play())
	require.NoError(t, proc.Pause())

	// Close must end a suspended process.
	require.NoError(t, proc.Close())
	select {
	case <-proc.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("player did not exit")
	}
	require.Error(t, proc.Err())
	assert.ErrorIs(t, proc.Play(), ErrPlayerExited)
	assert.NoError(t, proc.Close())
}

func TestStartProcessErrors(t *testing.T) {
	_, err := StartProcess("masked", "", nil, config.DiscardLogger())
	require.Error(t, err)

	_, err = StartProcess("masked", "/nonexistent/player-binary", nil, config.DiscardLogger())
	require.Error(t, err)
}
