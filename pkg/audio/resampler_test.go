package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestResamplerFrameBoundaries проверяет сохранение границ 20 мс кадров
// при преобразовании частоты дискретизации
func TestResamplerFrameBoundaries(t *testing.T) {
	tests := []struct {
		name     string
		fromRate int
		toRate   int
		inLen    int
		outLen   int
	}{
		{"48кГц -> 8кГц", 48000, 8000, 960, 160},
		{"44.1кГц -> 8кГц", 44100, 8000, 882, 160},
		{"16кГц -> 8кГц", 16000, 8000, 320, 160},
		{"8кГц -> 48кГц", 8000, 48000, 160, 960},
		{"Без преобразования", 8000, 8000, 160, 160},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resampler, err := NewResampler(tt.fromRate, tt.toRate)
			require.NoError(t, err)

			in := make([]int16, tt.inLen)
			for i := range in {
				in[i] = int16(i)
			}

			out := resampler.Process(in)
			assert.Len(t, out, tt.outLen, "20 мс на входе должны давать 20 мс на выходе")
		})
	}
}

// TestResamplerIdentityNoCopy проверяет, что при совпадающих частотах
// кадр возвращается без копирования
func TestResamplerIdentityNoCopy(t *testing.T) {
	resampler, err := NewResampler(8000, 8000)
	require.NoError(t, err)
	assert.True(t, resampler.Identity())

	in := make([]int16, 160)
	out := resampler.Process(in)
	require.Len(t, out, 160)
	assert.Same(t, &in[0], &out[0], "identity путь не должен аллоцировать")
}

// TestResamplerInvalidRates проверяет отказ на невалидных частотах
func TestResamplerInvalidRates(t *testing.T) {
	_, err := NewResampler(0, 8000)
	require.Error(t, err)
	assert.True(t, IsAudioError(err, ErrorCodeInvalidRate))

	// 8003 Гц не дает целого числа сэмплов на 20 мс кадр
	_, err = NewResampler(8003, 8000)
	require.Error(t, err)
	assert.True(t, IsAudioError(err, ErrorCodeInvalidRate))
}

// TestResamplerPreservesConstantSignal проверяет, что постоянный сигнал
// не искажается интерполяцией
func TestResamplerPreservesConstantSignal(t *testing.T) {
	resampler, err := NewResampler(16000, 8000)
	require.NoError(t, err)

	in := make([]int16, 320)
	for i := range in {
		in[i] = 1000
	}

	out := resampler.Process(in)
	require.Len(t, out, 160)
	for i, s := range out {
		assert.Equal(t, int16(1000), s, "сэмпл %d", i)
	}
}
