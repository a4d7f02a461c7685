package speech

import (
	"fmt"
	"io"
	"math"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/mjibson/go-dsp/fft"
	"github.com/orcaman/writerseeker"
)

// ResampleInt16 converts samples between sample rates by linear
// interpolation. The VAD and the backend both want 16 kHz mono.
func ResampleInt16(samples []int16, from, to int) []int16 {
	if from == to || len(samples) == 0 {
		out := make([]int16, len(samples))
		copy(out, samples)
		return out
	}

	ratio := float64(from) / float64(to)
	outLen := int(float64(len(samples)) / ratio)
	out := make([]int16, outLen)
	for i := 0; i < outLen; i++ {
		pos := float64(i) * ratio
		left := int(pos)
		right := left + 1
		if right >= len(samples) {
			right = len(samples) - 1
		}
		frac := pos - float64(left)
		out[i] = int16(float64(samples[left])*(1-frac) + float64(samples[right])*frac)
	}
	return out
}

// HighPass removes everything below cutoff Hz (mains hum, DC offset) from
// a captured segment before it goes to the VAD and the transcriber.
func HighPass(samples []int16, sampleRate int, cutoff float64) []int16 {
	if len(samples) == 0 {
		return samples
	}

	series := make([]float64, len(samples))
	for i, s := range samples {
		series[i] = float64(s)
	}

	spectrum := fft.FFTReal(series)
	n := len(spectrum)
	binWidth := float64(sampleRate) / float64(n)
	for k := 0; k < n; k++ {
		freq := float64(k) * binWidth
		if freq > float64(sampleRate)/2 {
			freq = float64(sampleRate) - freq
		}
		if freq < cutoff {
			spectrum[k] = 0
		}
	}

	restored := fft.IFFT(spectrum)
	out := make([]int16, len(samples))
	for i := range out {
		v := math.Round(real(restored[i]))
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		out[i] = int16(v)
	}
	return out
}

// RMS16 calculates the root-mean-square of the audio buffer for int16
// samples. Used as the cheap pre-VAD microphone volume gate.
func RMS16(buffer []int16) float64 {
	if len(buffer) == 0 {
		return 0
	}
	var sumSquares float64
	for _, sample := range buffer {
		val := float64(sample)
		sumSquares += val * val
	}
	return math.Sqrt(sumSquares / float64(len(buffer)))
}

// EncodeWAV emulates a WAV file in RAM so that we don't have to create a
// real one, and returns its bytes. 16-bit LINEAR16 PCM mono.
func EncodeWAV(samples []int16, sampleRate int) ([]byte, error) {
	file := &writerseeker.WriterSeeker{}
	encoder := wav.NewEncoder(file, sampleRate, 16, 1, 1)

	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	buf := &audio.IntBuffer{
		Format: &audio.Format{SampleRate: sampleRate, NumChannels: 1},
		Data:   data,
	}

	if err := encoder.Write(buf); err != nil {
		return nil, fmt.Errorf("encoder write buffer: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return nil, fmt.Errorf("encoder close: %w", err)
	}

	wavData, err := io.ReadAll(file.Reader())
	if err != nil {
		return nil, fmt.Errorf("reading WAV data into memory: %w", err)
	}
	return wavData, nil
}
