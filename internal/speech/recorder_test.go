package speech

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bz888/convo/internal/api"
	"github.com/bz888/convo/internal/chat"
)

type fakeSource struct {
	mu     sync.Mutex
	chunk  []int16
	rate   int
	closed bool
}

func (f *fakeSource) Read() ([]int16, error) {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return nil, errors.New("source closed")
	}
	time.Sleep(time.Millisecond)
	out := make([]int16, len(f.chunk))
	copy(out, f.chunk)
	return out, nil
}

func (f *fakeSource) SampleRate() int { return f.rate }

func (f *fakeSource) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeSource) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type stubTranscriber struct {
	mu   sync.Mutex
	got  []byte
	resp *api.TranscribeResponse
	err  error
	gate chan struct{}
}

func (s *stubTranscriber) Transcribe(ctx context.Context, wavData []byte) (*api.TranscribeResponse, error) {
	s.mu.Lock()
	s.got = wavData
	resp, err, gate := s.resp, s.err, s.gate
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-gate:
		}
	}
	if resp == nil {
		resp = &api.TranscribeResponse{}
	}
	return resp, err
}

func (s *stubTranscriber) received() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.got
}

type inputRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (i *inputRecorder) set(text string) {
	i.mu.Lock()
	i.calls = append(i.calls, text)
	i.mu.Unlock()
}

func (i *inputRecorder) all() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]string(nil), i.calls...)
}

func newTestRecorder(source *fakeSource, tr *stubTranscriber) (*Recorder, *inputRecorder) {
	input := &inputRecorder{}
	r := NewRecorder(func() (CaptureSource, error) { return source, nil }, tr, chat.NewRegistry(), input.set)
	return r, input
}

func startAndCapture(t *testing.T, r *Recorder) {
	t.Helper()
	require.NoError(t, r.Start())
	assert.Equal(t, RecorderRecording, r.State())
	// Let the capture loop buffer a few chunks.
	time.Sleep(20 * time.Millisecond)
}

func TestRecorderUnsupported(t *testing.T) {
	r := NewRecorder(nil, &stubTranscriber{}, chat.NewRegistry(), func(string) {})

	assert.False(t, r.Supported())
	assert.ErrorIs(t, r.Start(), ErrUnsupported)
	assert.Equal(t, RecorderIdle, r.State())
}

func TestRecorderAcquireFailure(t *testing.T) {
	r := NewRecorder(func() (CaptureSource, error) { return nil, ErrUnsupported }, &stubTranscriber{}, chat.NewRegistry(), func(string) {})

	assert.ErrorIs(t, r.Start(), ErrUnsupported)
	assert.Equal(t, RecorderIdle, r.State())
}

func TestRecorderStopOverwritesInputWithTranscription(t *testing.T) {
	source := &fakeSource{chunk: sine(440, 48000, 480, 8000), rate: 48000}
	tr := &stubTranscriber{resp: &api.TranscribeResponse{Transcription: "hello world"}}
	r, input := newTestRecorder(source, tr)

	startAndCapture(t, r)
	r.Stop()

	assert.Equal(t, RecorderIdle, r.State())
	assert.True(t, source.isClosed(), "microphone released")
	assert.Equal(t, []string{"hello world"}, input.all(), "transcription overwrites, never appends")

	wav := tr.received()
	require.NotEmpty(t, wav)
	assert.Equal(t, "RIFF", string(wav[0:4]))
}

func TestRecorderEmptyTranscriptionIsNoSpeech(t *testing.T) {
	source := &fakeSource{chunk: make([]int16, 480), rate: 48000}
	tr := &stubTranscriber{resp: &api.TranscribeResponse{Transcription: ""}}
	r, input := newTestRecorder(source, tr)

	startAndCapture(t, r)
	r.Stop()

	assert.Equal(t, RecorderIdle, r.State())
	assert.Equal(t, []string{couldNotUnderstand}, input.all())
}

func TestRecorderTranscribeFailure(t *testing.T) {
	source := &fakeSource{chunk: make([]int16, 480), rate: 48000}
	tr := &stubTranscriber{err: assert.AnError}
	r, input := newTestRecorder(source, tr)

	startAndCapture(t, r)
	r.Stop()

	assert.Equal(t, RecorderIdle, r.State())
	calls := input.all()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0], "⚠️")
	assert.Contains(t, calls[0], transcribeFailed)
}

func TestRecorderTranscribeCancelledStaysSilent(t *testing.T) {
	source := &fakeSource{chunk: make([]int16, 480), rate: 48000}
	tr := &stubTranscriber{err: context.Canceled}
	r, input := newTestRecorder(source, tr)

	startAndCapture(t, r)
	r.Stop()

	assert.Equal(t, RecorderIdle, r.State())
	assert.Empty(t, input.all(), "a cancelled transcription must not touch the input")
}

func TestRecorderConvertingState(t *testing.T) {
	source := &fakeSource{chunk: make([]int16, 480), rate: 48000}
	tr := &stubTranscriber{resp: &api.TranscribeResponse{Transcription: "ok"}, gate: make(chan struct{})}
	r, _ := newTestRecorder(source, tr)

	startAndCapture(t, r)

	done := make(chan struct{})
	go func() {
		r.Stop()
		close(done)
	}()

	require.Eventually(t, func() bool { return r.State() == RecorderConverting }, time.Second, 5*time.Millisecond)

	close(tr.gate)
	<-done
	assert.Equal(t, RecorderIdle, r.State())
}

func TestRecorderStopSendHandsWAVToSubmit(t *testing.T) {
	source := &fakeSource{chunk: sine(440, 48000, 480, 8000), rate: 48000}
	tr := &stubTranscriber{}
	r, input := newTestRecorder(source, tr)

	startAndCapture(t, r)

	var wav []byte
	r.StopSend(func(data []byte) error {
		wav = data
		return nil
	})

	assert.Equal(t, RecorderIdle, r.State())
	assert.True(t, source.isClosed())
	require.NotEmpty(t, wav)
	assert.Equal(t, "RIFF", string(wav[0:4]))
	assert.Empty(t, tr.received(), "voice-chat path bypasses the transcriber")
	assert.Empty(t, input.all())
}

func TestRecorderStopSendSubmitFailureReturnsToIdle(t *testing.T) {
	source := &fakeSource{chunk: make([]int16, 480), rate: 48000}
	r, _ := newTestRecorder(source, &stubTranscriber{})

	startAndCapture(t, r)
	r.StopSend(func([]byte) error { return assert.AnError })

	assert.Equal(t, RecorderIdle, r.State())
}

func TestRecorderStopWhileIdleIsNoOp(t *testing.T) {
	source := &fakeSource{chunk: make([]int16, 480), rate: 48000}
	r, input := newTestRecorder(source, &stubTranscriber{})

	r.Stop()
	r.StopSend(func([]byte) error { return nil })

	assert.Equal(t, RecorderIdle, r.State())
	assert.Empty(t, input.all())
}

func TestRecorderToggle(t *testing.T) {
	source := &fakeSource{chunk: make([]int16, 480), rate: 48000}
	tr := &stubTranscriber{resp: &api.TranscribeResponse{Transcription: "ok"}}
	r, input := newTestRecorder(source, tr)

	require.NoError(t, r.Toggle())
	assert.Equal(t, RecorderRecording, r.State())
	time.Sleep(10 * time.Millisecond)

	require.NoError(t, r.Toggle())
	assert.Equal(t, RecorderIdle, r.State())
	assert.Equal(t, []string{"ok"}, input.all())
}

func TestRecorderStartWhileRecordingIsNoOp(t *testing.T) {
	source := &fakeSource{chunk: make([]int16, 480), rate: 48000}
	acquires := 0
	input := &inputRecorder{}
	r := NewRecorder(func() (CaptureSource, error) {
		acquires++
		return source, nil
	}, &stubTranscriber{}, chat.NewRegistry(), input.set)

	require.NoError(t, r.Start())
	require.NoError(t, r.Start())
	assert.Equal(t, 1, acquires)

	r.Stop()
}
