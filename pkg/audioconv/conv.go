// Package audioconv decodes recorded audio files into mono float32 PCM and
// encodes PCM back to WAV.
package audioconv

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
	popus "github.com/pekim/opus"
)

// DefaultSampleRate is the rate speech models expect.
const DefaultSampleRate = 16000

// Options controls decoding.
type Options struct {
	// SampleRate of the output; 0 means DefaultSampleRate.
	SampleRate int

	// MaxSamples truncates the output when > 0.
	MaxSamples int
}

func (o Options) rate() int {
	if o.SampleRate <= 0 {
		return DefaultSampleRate
	}
	return o.SampleRate
}

// Extensions lists the file extensions DecodeFile understands.
var Extensions = []string{".wav", ".mp3", ".ogg", ".oga", ".opus"}

// DecodeFile reads a wav, mp3 or ogg (vorbis or opus) file and returns mono
// samples in [-1, 1] at opt.SampleRate. Files without a known extension are
// sniffed by their magic bytes.
func DecodeFile(ctx context.Context, path string, opt Options) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audioconv: %w", err)
	}
	defer f.Close()

	var pcm []float32
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".wav":
		pcm, err = decodeWAV(f, opt)
	case ".mp3":
		pcm, err = decodeMP3(f, opt)
	case ".ogg", ".oga", ".opus":
		pcm, err = decodeOgg(f, opt)
	default:
		magic, _ := bufio.NewReader(f).Peek(4)
		if _, serr := f.Seek(0, io.SeekStart); serr != nil {
			return nil, fmt.Errorf("audioconv: rewind %s: %w", path, serr)
		}
		switch string(magic) {
		case "RIFF":
			pcm, err = decodeWAV(f, opt)
		case "OggS":
			pcm, err = decodeOgg(f, opt)
		default:
			return nil, fmt.Errorf("audioconv: unsupported format %q", ext)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("audioconv: decode %s: %w", path, err)
	}
	return pcm, nil
}

// EncodeWAV writes mono samples as 16-bit PCM WAV.
func EncodeWAV(w io.WriteSeeker, samples []float32, sampleRate int) error {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	enc := wav.NewEncoder(w, sampleRate, 16, 1, 1)

	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(math.Round(clamp(float64(s), -1, 1) * 32767))
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("audioconv: encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("audioconv: finish wav: %w", err)
	}
	return nil
}

func decodeOgg(f io.ReadSeeker, opt Options) ([]float32, error) {
	pcm, verr := decodeOggVorbis(f, opt)
	if verr == nil {
		return pcm, nil
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	pcm, oerr := decodeOggOpus(f, opt)
	if oerr != nil {
		return nil, fmt.Errorf("not vorbis (%v) nor opus (%w)", verr, oerr)
	}
	return pcm, nil
}

func decodeWAV(r io.ReadSeeker, opt Options) ([]float32, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, errors.New("invalid wav")
	}
	pb, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, err
	}
	if pb == nil || pb.Data == nil {
		return nil, errors.New("empty wav")
	}

	bd := int(dec.BitDepth)
	if bd == 0 {
		bd = 16
	}
	ch, sr := 1, 44100
	if pb.Format != nil {
		if pb.Format.NumChannels > 0 {
			ch = pb.Format.NumChannels
		}
		if pb.Format.SampleRate > 0 {
			sr = pb.Format.SampleRate
		}
	}
	return finish(intSliceToFloat32(pb.Data, bd), ch, sr, opt), nil
}

func decodeMP3(r io.Reader, opt Options) ([]float32, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, err
	}
	var raw bytes.Buffer
	if _, err := io.Copy(&raw, dec); err != nil {
		return nil, err
	}
	ints := make([]int16, raw.Len()/2)
	if err := binary.Read(bytes.NewReader(raw.Bytes()), binary.LittleEndian, &ints); err != nil {
		return nil, err
	}

	sr := dec.SampleRate()
	if sr <= 0 {
		sr = 44100
	}
	// go-mp3 always emits interleaved stereo.
	return finish(int16SliceToFloat32(ints), 2, sr, opt), nil
}

func decodeOggVorbis(r io.Reader, opt Options) ([]float32, error) {
	pcm, format, err := oggvorbis.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if format == nil || format.Channels <= 0 || format.SampleRate <= 0 {
		return nil, errors.New("invalid ogg/vorbis stream")
	}
	return finish(pcm, format.Channels, format.SampleRate, opt), nil
}

func decodeOggOpus(r io.ReadSeeker, opt Options) ([]float32, error) {
	dec, err := popus.NewDecoder(r)
	if err != nil {
		return nil, err
	}
	defer dec.Destroy()

	ch := dec.ChannelCount()
	if ch <= 0 {
		ch = 1
	}

	// Opus always decodes at 48 kHz.
	var (
		pcm []float32
		buf = make([]int16, 48_000*ch/2)
	)
	for {
		n, err := dec.Read(buf)
		if n > 0 {
			pcm = append(pcm, int16SliceToFloat32(buf[:n*ch])...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	if len(pcm) == 0 {
		return nil, nil
	}
	return finish(pcm, ch, 48000, opt), nil
}

func finish(x []float32, channels, inRate int, opt Options) []float32 {
	x = downmixInterleaved(x, channels)
	x = resampleLinear(x, inRate, opt.rate())
	if opt.MaxSamples > 0 && len(x) > opt.MaxSamples {
		x = x[:opt.MaxSamples]
	}
	return x
}

func intSliceToFloat32(data []int, bitDepth int) []float32 {
	out := make([]float32, len(data))
	scale := 1.0 / float64(int64(1)<<(bitDepth-1))
	for i, v := range data {
		out[i] = float32(clamp(float64(v)*scale, -1.0, 1.0))
	}
	return out
}

func int16SliceToFloat32(data []int16) []float32 {
	out := make([]float32, len(data))
	const scale = 1.0 / 32768.0
	for i, v := range data {
		out[i] = float32(float64(v) * scale)
	}
	return out
}

func downmixInterleaved(in []float32, channels int) []float32 {
	if channels <= 1 {
		return in
	}
	n := len(in) / channels
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		var sum float64
		base := i * channels
		for c := 0; c < channels; c++ {
			sum += float64(in[base+c])
		}
		out[i] = float32(sum / float64(channels))
	}
	return out
}

func resampleLinear(in []float32, inSR, outSR int) []float32 {
	if inSR == outSR || len(in) == 0 {
		return in
	}
	ratio := float64(outSR) / float64(inSR)
	outN := int(math.Ceil(float64(len(in)) * ratio))
	out := make([]float32, outN)
	for i := 0; i < outN; i++ {
		src := float64(i) / ratio
		i0 := int(math.Floor(src))
		i1 := i0 + 1
		if i0 >= len(in) {
			out[i] = in[len(in)-1]
			continue
		}
		if i1 >= len(in) {
			out[i] = in[i0]
			continue
		}
		a := float32(src - float64(i0))
		out[i] = in[i0]*(1-a) + in[i1]*a
	}
	return out
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
