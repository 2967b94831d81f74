package audioconv

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sine(n, rate int, freq float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return out
}

func writeWAV(t *testing.T, name string, samples []float32, rate int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, EncodeWAV(f, samples, rate))
	require.NoError(t, f.Close())
	return path
}

func TestEncodeWAV_DecodeFile(t *testing.T) {
	t.Parallel()

	in := sine(1600, 16000, 440)
	path := writeWAV(t, "tone.wav", in, 16000)

	out, err := DecodeFile(context.Background(), path, Options{})
	require.NoError(t, err)
	require.Len(t, out, len(in))
	for i := range in {
		assert.InDelta(t, in[i], out[i], 1e-3, "sample %d", i)
	}
}

func TestDecodeFile_Resamples(t *testing.T) {
	t.Parallel()

	path := writeWAV(t, "tone.wav", sine(4800, 48000, 440), 48000)

	out, err := DecodeFile(context.Background(), path, Options{SampleRate: 16000})
	require.NoError(t, err)
	assert.Len(t, out, 1600)

	out, err = DecodeFile(context.Background(), path, Options{MaxSamples: 100})
	require.NoError(t, err)
	assert.Len(t, out, 100)
}

func TestDecodeFile_SniffsUnknownExtension(t *testing.T) {
	t.Parallel()

	src := writeWAV(t, "tone.wav", sine(160, 16000, 440), 16000)
	dst := filepath.Join(t.TempDir(), "recording.bin")
	raw, err := os.ReadFile(src)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(dst, raw, 0o600))

	out, err := DecodeFile(context.Background(), dst, Options{})
	require.NoError(t, err)
	assert.Len(t, out, 160)
}

func TestDecodeFile_Errors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	junk := filepath.Join(dir, "junk.txt")
	require.NoError(t, os.WriteFile(junk, []byte("hello world"), 0o600))
	badWav := filepath.Join(dir, "bad.wav")
	require.NoError(t, os.WriteFile(badWav, []byte("not a riff file"), 0o600))

	for _, path := range []string{junk, badWav, filepath.Join(dir, "missing.wav")} {
		_, err := DecodeFile(context.Background(), path, Options{})
		assert.Error(t, err, path)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := DecodeFile(ctx, junk, Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDownmixInterleaved(t *testing.T) {
	t.Parallel()

	out := downmixInterleaved([]float32{1, 0, 0.5, 0.5, -1, 1}, 2)
	assert.Equal(t, []float32{0.5, 0.5, 0}, out)
	assert.Equal(t, []float32{1, 2}, downmixInterleaved([]float32{1, 2}, 1))
}

func TestResampleLinear(t *testing.T) {
	t.Parallel()

	in := []float32{0, 1, 0, -1}
	assert.Equal(t, in, resampleLinear(in, 16000, 16000))

	up := resampleLinear(in, 1, 2)
	require.Len(t, up, 8)
	assert.InDelta(t, 0.5, up[1], 1e-6)
	assert.InDelta(t, -1, up[7], 1e-6)

	assert.Empty(t, resampleLinear(nil, 1, 2))
}
