package speech

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/bz888/convo/internal/api"
	"github.com/bz888/convo/internal/chat"
	"github.com/bz888/convo/internal/logger"
)

const (
	couldNotUnderstand = "Sorry, I couldn't understand the audio."
	transcribeFailed   = "Sorry, there was an error transcribing your voice."
)

type RecorderState int

const (
	RecorderIdle RecorderState = iota
	RecorderRecording
	RecorderConverting
)

// CaptureSource is an acquired microphone. Read blocks until the next
// chunk of samples is available.
type CaptureSource interface {
	Read() ([]int16, error)
	SampleRate() int
	Close() error
}

type micSource struct {
	stream *portaudio.Stream
	in     []int16
	rate   int
}

// NewMicSource acquires the default input device through portaudio.
func NewMicSource() (CaptureSource, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize audio: %w", err)
	}

	device, err := portaudio.DefaultInputDevice()
	if err != nil {
		portaudio.Terminate()
		return nil, ErrUnsupported
	}

	in := make([]int16, framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(1, 0, device.DefaultSampleRate, len(in), &in)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("opening stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("starting stream: %w", err)
	}

	return &micSource{stream: stream, in: in, rate: int(device.DefaultSampleRate)}, nil
}

func (m *micSource) Read() ([]int16, error) {
	if err := m.stream.Read(); err != nil {
		return nil, err
	}
	chunk := make([]int16, len(m.in))
	copy(chunk, m.in)
	return chunk, nil
}

func (m *micSource) SampleRate() int {
	return m.rate
}

func (m *micSource) Close() error {
	err := m.stream.Close()
	portaudio.Terminate()
	return err
}

// Recorder is the record-then-transcribe state machine. Start buffers
// microphone audio; Stop finalizes it into one WAV, sends it through the
// transcribe channel and overwrites the composed input with the result.
// The microphone is released on every terminal path.
type Recorder struct {
	mu sync.Mutex

	acquire     func() (CaptureSource, error)
	transcriber Transcriber
	registry    *chat.Registry
	setInput    func(text string)
	log         *logger.Logger

	state    RecorderState
	source   CaptureSource
	samples  []int16
	stopCh   chan struct{}
	captured chan struct{}

	onChange func()
}

// NewRecorder wires the state machine. acquire may be nil when the
// platform has no microphone; Start then degrades to ErrUnsupported.
func NewRecorder(acquire func() (CaptureSource, error), transcriber Transcriber, registry *chat.Registry, setInput func(string)) *Recorder {
	return &Recorder{
		acquire:     acquire,
		transcriber: transcriber,
		registry:    registry,
		setInput:    setInput,
		log:         logger.NewLogger("recorder"),
	}
}

func (r *Recorder) Supported() bool {
	return r.acquire != nil
}

func (r *Recorder) OnChange(fn func()) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

func (r *Recorder) notify() {
	r.mu.Lock()
	fn := r.onChange
	r.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Start acquires the microphone and begins buffering audio.
func (r *Recorder) Start() error {
	if r.acquire == nil {
		return ErrUnsupported
	}

	r.mu.Lock()
	if r.state != RecorderIdle {
		r.mu.Unlock()
		return nil
	}

	source, err := r.acquire()
	if err != nil {
		r.mu.Unlock()
		r.log.Error("Microphone access error: ", err)
		return err
	}

	r.state = RecorderRecording
	r.source = source
	r.samples = r.samples[:0]
	r.stopCh = make(chan struct{})
	r.captured = make(chan struct{})
	stopCh, captured := r.stopCh, r.captured
	r.mu.Unlock()
	r.notify()

	go func() {
		defer close(captured)
		for {
			select {
			case <-stopCh:
				return
			default:
			}
			chunk, err := source.Read()
			if err != nil {
				r.log.Warn("reading from stream: ", err)
				return
			}
			r.mu.Lock()
			r.samples = append(r.samples, chunk...)
			r.mu.Unlock()
		}
	}()
	return nil
}

// Stop finalizes the buffered audio, transcribes it and returns to idle.
// The transcription overwrites the composed input, it never appends.
func (r *Recorder) Stop() {
	r.mu.Lock()
	if r.state != RecorderRecording {
		r.mu.Unlock()
		return
	}
	close(r.stopCh)
	captured := r.captured
	r.mu.Unlock()
	<-captured

	r.mu.Lock()
	if err := r.source.Close(); err != nil {
		r.log.Error("Failed to release microphone: ", err)
	}
	rate := r.source.SampleRate()
	r.source = nil
	samples := make([]int16, len(r.samples))
	copy(samples, r.samples)
	r.state = RecorderConverting
	r.mu.Unlock()
	r.notify()

	defer func() {
		r.mu.Lock()
		r.state = RecorderIdle
		r.mu.Unlock()
		r.notify()
	}()

	wavData, err := EncodeWAV(ResampleInt16(samples, rate, vadSampleRate), vadSampleRate)
	if err != nil {
		r.log.Error("encode recording: ", err)
		r.setInput("⚠️ " + transcribeFailed)
		return
	}

	ctx, release := r.registry.Begin(chat.ChannelTranscribe)
	defer release()

	resp, err := r.transcriber.Transcribe(ctx, wavData)
	if err != nil {
		if api.IsCanceled(err) {
			return
		}
		r.log.Error("Failed to transcribe recording: ", err)
		r.setInput("⚠️ " + transcribeFailed)
		return
	}

	if resp.Transcription == "" {
		r.setInput(couldNotUnderstand)
		return
	}
	r.setInput(resp.Transcription)
}

// StopSend finalizes the buffered audio and hands the WAV to submit
// (the voice-chat path) instead of the transcriber. State handling
// matches Stop.
func (r *Recorder) StopSend(submit func(wavData []byte) error) {
	r.mu.Lock()
	if r.state != RecorderRecording {
		r.mu.Unlock()
		return
	}
	close(r.stopCh)
	captured := r.captured
	r.mu.Unlock()
	<-captured

	r.mu.Lock()
	if err := r.source.Close(); err != nil {
		r.log.Error("Failed to release microphone: ", err)
	}
	rate := r.source.SampleRate()
	r.source = nil
	samples := make([]int16, len(r.samples))
	copy(samples, r.samples)
	r.state = RecorderConverting
	r.mu.Unlock()
	r.notify()

	defer func() {
		r.mu.Lock()
		r.state = RecorderIdle
		r.mu.Unlock()
		r.notify()
	}()

	wavData, err := EncodeWAV(ResampleInt16(samples, rate, vadSampleRate), vadSampleRate)
	if err != nil {
		r.log.Error("encode recording: ", err)
		r.setInput("⚠️ " + transcribeFailed)
		return
	}

	if err := submit(wavData); err != nil {
		r.log.Error("Failed to send voice message: ", err)
	}
}

// Toggle starts a recording or finalizes the one in progress.
func (r *Recorder) Toggle() error {
	r.mu.Lock()
	recording := r.state == RecorderRecording
	r.mu.Unlock()

	if recording {
		r.Stop()
		return nil
	}
	return r.Start()
}

func (r *Recorder) State() RecorderState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}
