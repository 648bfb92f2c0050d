// Package audio holds PCM and WAV helpers and the players that put
// synthesized speech on the wire.
package audio

import (
	"errors"
	"fmt"
	"time"

	resampling "github.com/tphakala/go-audio-resampling"
)

// ErrBadFormat is returned for a non-positive rate or channel count.
var ErrBadFormat = errors.New("audio: invalid pcm format")

// BytesToSamples converts PCM16 little-endian bytes to samples.
func BytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return samples
}

// SamplesToBytes converts samples to PCM16 little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		data[i*2] = byte(s)
		data[i*2+1] = byte(s >> 8)
	}
	return data
}

// Downmix averages interleaved frames of the given channel count into mono.
// A trailing partial frame is dropped.
func Downmix(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	mono := make([]int16, len(samples)/channels)
	for i := range mono {
		var sum int32
		for ch := range channels {
			sum += int32(samples[i*channels+ch])
		}
		mono[i] = int16(sum / int32(channels))
	}
	return mono
}

// Resample converts mono samples from one rate to another.
func Resample(samples []int16, fromRate, toRate int) ([]int16, error) {
	if fromRate <= 0 || toRate <= 0 {
		return nil, ErrBadFormat
	}
	if fromRate == toRate || len(samples) == 0 {
		return samples, nil
	}

	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(fromRate),
		OutputRate: float64(toRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("audio: create resampler: %w", err)
	}

	in := make([]float64, len(samples))
	for i, s := range samples {
		in[i] = float64(s) / 32768
	}
	out, err := r.Process(in)
	if err != nil {
		return nil, fmt.Errorf("audio: resample: %w", err)
	}

	res := make([]int16, len(out))
	for i, v := range out {
		res[i] = int16(max(-32768, min(32767, v*32768)))
	}
	return res, nil
}

// ToMono converts interleaved PCM16 to mono at toRate. A toRate of zero
// keeps the source rate.
func ToMono(pcm []byte, rate, channels, toRate int) ([]byte, error) {
	if rate <= 0 || channels <= 0 {
		return nil, ErrBadFormat
	}
	if toRate <= 0 {
		toRate = rate
	}
	if channels == 1 && rate == toRate {
		return pcm, nil
	}
	samples, err := Resample(Downmix(BytesToSamples(pcm), channels), rate, toRate)
	if err != nil {
		return nil, err
	}
	return SamplesToBytes(samples), nil
}

// Duration returns the play time of PCM16 data.
func Duration(pcmBytes, sampleRate, channels int) time.Duration {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	frames := pcmBytes / (2 * channels)
	return time.Duration(frames) * time.Second / time.Duration(sampleRate)
}
