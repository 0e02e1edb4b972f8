package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const wavPCMFormat = 1

// Decode reads a PCM WAV stream and mixes it down to mono.
func Decode(r io.ReadSeeker) (Waveform, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return Waveform{}, errors.New("not a valid wav file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Waveform{}, fmt.Errorf("read pcm buffer: %w", err)
	}
	if buf.Format == nil || buf.Format.SampleRate <= 0 {
		return Waveform{}, errors.New("wav file has no sample rate")
	}

	channels := buf.Format.NumChannels
	if channels < 1 {
		channels = 1
	}
	depth := buf.SourceBitDepth
	if depth == 0 {
		depth = int(dec.BitDepth)
	}
	if depth == 0 {
		depth = 16
	}
	scale := float32(int64(1) << (depth - 1))

	frames := len(buf.Data) / channels
	samples := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += float32(buf.Data[i*channels+c]) / scale
		}
		samples[i] = sum / float32(channels)
	}
	return Waveform{SampleRate: buf.Format.SampleRate, Samples: samples}, nil
}

// Encode writes w as a 16-bit mono PCM WAV.
func Encode(out io.WriteSeeker, w Waveform) error {
	if w.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", w.SampleRate)
	}
	enc := wav.NewEncoder(out, w.SampleRate, 16, 1, wavPCMFormat)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: w.SampleRate},
		SourceBitDepth: 16,
		Data:           make([]int, len(w.Samples)),
	}
	for i, s := range w.Samples {
		buf.Data[i] = int(clip16(s))
	}
	if err := enc.Write(buf); err != nil {
		enc.Close()
		return fmt.Errorf("write samples: %w", err)
	}
	return enc.Close()
}

// ReadFile decodes a WAV file from disk.
func ReadFile(path string) (Waveform, error) {
	f, err := os.Open(path)
	if err != nil {
		return Waveform{}, err
	}
	defer f.Close()
	w, err := Decode(f)
	if err != nil {
		return Waveform{}, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return w, nil
}

// WriteFile encodes w to path, replacing any existing file.
func WriteFile(path string, w Waveform) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Encode(f, w); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}

// EncodeBytes returns w as an in-memory WAV file.
func EncodeBytes(w Waveform) ([]byte, error) {
	var ws writeSeeker
	if err := Encode(&ws, w); err != nil {
		return nil, err
	}
	return ws.buf, nil
}

// DecodeBytes parses an in-memory WAV file.
func DecodeBytes(b []byte) (Waveform, error) {
	return Decode(bytes.NewReader(b))
}

// FromPCM16 converts raw little-endian signed 16-bit mono PCM.
func FromPCM16(b []byte, rate int) Waveform {
	n := len(b) / 2
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(b[i*2:]))
		samples[i] = float32(v) / 32768
	}
	return Waveform{SampleRate: rate, Samples: samples}
}

func clip16(s float32) int16 {
	v := s * 32767
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

// writeSeeker is an in-memory io.WriteSeeker; the wav encoder seeks back to
// patch chunk sizes on Close.
type writeSeeker struct {
	buf []byte
	pos int
}

func (m *writeSeeker) Write(p []byte) (int, error) {
	end := m.pos + len(p)
	if end > len(m.buf) {
		if end > cap(m.buf) {
			grown := make([]byte, end, 2*end)
			copy(grown, m.buf)
			m.buf = grown
		} else {
			m.buf = m.buf[:end]
		}
	}
	copy(m.buf[m.pos:], p)
	m.pos = end
	return len(p), nil
}

func (m *writeSeeker) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(m.pos) + offset
	case io.SeekEnd:
		abs = int64(len(m.buf)) + offset
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if abs < 0 {
		return 0, errors.New("negative position")
	}
	m.pos = int(abs)
	return abs, nil
}
