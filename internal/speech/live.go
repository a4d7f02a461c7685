package speech

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
	vadlib "github.com/streamer45/silero-vad-go/speech"

	"github.com/bz888/convo/internal/api"
	"github.com/bz888/convo/internal/chat"
	"github.com/bz888/convo/internal/logger"
)

const (
	minMicVolume       = 450
	segmentSilenceGap  = time.Second
	maxSegmentDuration = time.Second * 25
	interimInterval    = time.Second
	vadSampleRate      = 16000
	vadWindow          = 512
	framesPerBuffer    = 512 * 9
	highPassCutoff     = 80.0
)

// Transcriber is the slice of the backend client the engines need.
type Transcriber interface {
	Transcribe(ctx context.Context, wavData []byte) (*api.TranscribeResponse, error)
}

// LiveEngine turns the microphone into a recognition engine: an RMS gate
// slices the stream into voiced segments, Silero VAD drops the silent
// ones, the backend transcribes the rest. The in-progress segment is
// re-transcribed on a ticker for the interim preview; the full segment
// transcription is the committed fragment.
type LiveEngine struct {
	transcriber Transcriber
	registry    *chat.Registry
	modelPath   string
	log         *logger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewLiveEngine reports ErrUnsupported when the VAD model is not on disk;
// the dictation control is hidden in that case.
func NewLiveEngine(transcriber Transcriber, registry *chat.Registry, modelPath string) (*LiveEngine, error) {
	if modelPath == "" {
		return nil, ErrUnsupported
	}
	if _, err := os.Stat(modelPath); err != nil {
		return nil, ErrUnsupported
	}
	return &LiveEngine{
		transcriber: transcriber,
		registry:    registry,
		modelPath:   modelPath,
		log:         logger.NewLogger("speech"),
	}, nil
}

func (e *LiveEngine) Start(events EngineEvents) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return nil
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("initialize audio: %w", err)
	}

	device, err := portaudio.DefaultInputDevice()
	if err != nil {
		portaudio.Terminate()
		return ErrUnsupported
	}

	in := make([]int16, framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(1, 0, device.DefaultSampleRate, len(in), &in)
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("opening stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("starting stream: %w", err)
	}

	// Silero VAD - pre-trained Voice Activity Detector.
	// See: https://github.com/snakers4/silero-vad
	detector, err := vadlib.NewDetector(vadlib.DetectorConfig{
		ModelPath:            e.modelPath,
		SampleRate:           vadSampleRate,
		Threshold:            0.5,
		MinSilenceDurationMs: 100,
		SpeechPadMs:          30,
	})
	if err != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("creating silero detector: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	go e.capture(ctx, stream, in, int(device.DefaultSampleRate), detector, events)
	return nil
}

func (e *LiveEngine) Stop() {
	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.mu.Unlock()
}

func (e *LiveEngine) capture(ctx context.Context, stream *portaudio.Stream, in []int16, sampleRate int, detector *vadlib.Detector, events EngineEvents) {
	defer func() {
		if err := stream.Close(); err != nil {
			e.log.Error("Failed to close audio stream: ", err)
		}
		portaudio.Terminate()
		if err := detector.Destroy(); err != nil {
			e.log.Error("Failed to destroy detector: ", err)
		}
		e.mu.Lock()
		e.cancel = nil
		e.mu.Unlock()
		if events.Done != nil {
			events.Done()
		}
	}()

	var (
		segment      []int16
		segmentStart time.Time
		lastVoice    time.Time
		lastPreview  time.Time
	)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := stream.Read(); err != nil {
			e.log.Warn("reading from stream: ", err)
			continue
		}

		now := time.Now()
		if RMS16(in) > minMicVolume {
			if lastVoice.IsZero() {
				segmentStart = now
			}
			lastVoice = now
		}

		if !lastVoice.IsZero() && now.Sub(lastVoice) < segmentSilenceGap && now.Sub(segmentStart) < maxSegmentDuration {
			segment = append(segment, in...)

			if now.Sub(lastPreview) >= interimInterval {
				lastPreview = now
				e.preview(segment, sampleRate, events)
			}
		} else if len(segment) > 0 {
			e.finalize(segment, sampleRate, detector, events)
			segment = segment[:0]
			lastVoice = time.Time{}
			lastPreview = time.Time{}
		}
	}
}

// preview transcribes the in-progress segment for the interim display.
// Best effort, failures only get logged.
func (e *LiveEngine) preview(segment []int16, sampleRate int, events EngineEvents) {
	wavData, err := e.prepare(segment, sampleRate)
	if err != nil {
		e.log.Warn("Failed to prepare preview segment: ", err)
		return
	}

	ctx, release := e.registry.Begin(chat.ChannelTranscribe)
	defer release()

	resp, err := e.transcriber.Transcribe(ctx, wavData)
	if err != nil {
		if !api.IsCanceled(err) {
			e.log.Warn("Preview transcription failed: ", err)
		}
		return
	}
	if events.Interim != nil {
		events.Interim(resp.Transcription)
	}
}

// finalize commits one voiced segment. Segments the VAD rejects and empty
// transcriptions are the no-speech condition: skipped without interrupting
// listening.
func (e *LiveEngine) finalize(segment []int16, sampleRate int, detector *vadlib.Detector, events EngineEvents) {
	resampled := e.vadFrame(segment, sampleRate)

	detected, err := detector.Detect(toFloat32(resampled))
	if err != nil {
		e.log.Warn("detect voice: ", err)
		return
	}
	if len(detected) == 0 {
		e.log.Info("no speech in segment, still listening")
		if events.Interim != nil {
			events.Interim("")
		}
		return
	}

	wavData, err := EncodeWAV(resampled, vadSampleRate)
	if err != nil {
		e.log.Error("encode segment: ", err)
		return
	}

	ctx, release := e.registry.Begin(chat.ChannelTranscribe)
	defer release()

	resp, err := e.transcriber.Transcribe(ctx, wavData)
	if err != nil {
		if api.IsCanceled(err) {
			return
		}
		if events.Error != nil {
			events.Error(err)
		}
		return
	}

	if events.Interim != nil {
		events.Interim("")
	}
	if events.Final != nil {
		events.Final(resp.Transcription)
	}
}

func (e *LiveEngine) prepare(segment []int16, sampleRate int) ([]byte, error) {
	return EncodeWAV(e.vadFrame(segment, sampleRate), vadSampleRate)
}

// vadFrame high-passes and resamples a segment to the 16 kHz frame the
// VAD accepts, zero-padded to a whole number of VAD windows.
func (e *LiveEngine) vadFrame(segment []int16, sampleRate int) []int16 {
	filtered := HighPass(segment, sampleRate, highPassCutoff)
	resampled := ResampleInt16(filtered, sampleRate, vadSampleRate)
	if rem := len(resampled) % vadWindow; rem != 0 {
		resampled = append(resampled, make([]int16, vadWindow-rem)...)
	}
	return resampled
}

func toFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768
	}
	return out
}
