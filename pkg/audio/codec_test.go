package audio

import (
	"math"
	"testing"
)

// TestTranscoderCreation тестирует создание транскодера для разных кодеков
// Проверяет:
// - Успешное создание для PCMA
// - Ошибку ErrorCodeUnsupportedCodec для зарезервированных кодеков
func TestTranscoderCreation(t *testing.T) {
	tests := []struct {
		name        string
		codec       CodecID
		expectError bool
	}{
		{
			name:        "PCMA поддерживается",
			codec:       CodecPCMA,
			expectError: false,
		},
		{
			name:        "PCMU зарезервирован",
			codec:       CodecPCMU,
			expectError: true,
		},
		{
			name:        "G722 зарезервирован",
			codec:       CodecG722,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transcoder, err := NewTranscoder(tt.codec)

			if tt.expectError {
				if err == nil {
					t.Fatalf("Ожидалась ошибка для кодека %s", tt.codec)
				}
				if !IsAudioError(err, ErrorCodeUnsupportedCodec) {
					t.Errorf("Ожидался код ErrorCodeUnsupportedCodec, получено: %v", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("Неожиданная ошибка: %v", err)
			}
			if transcoder.Codec() != tt.codec {
				t.Errorf("Неверный кодек: %s", transcoder.Codec())
			}
			if transcoder.ClockRate() != CodecClockRate {
				t.Errorf("Неверная частота: %d", transcoder.ClockRate())
			}
		})
	}
}

// TestPCMARoundTrip проверяет, что decode(encode(frame)) восстанавливает
// PCM в пределах ошибки квантования G.711 a-law для валидных 20 мс кадров
func TestPCMARoundTrip(t *testing.T) {
	transcoder, err := NewTranscoder(CodecPCMA)
	if err != nil {
		t.Fatalf("Создание транскодера: %v", err)
	}

	tests := []struct {
		name     string
		generate func(i int) int16
	}{
		{
			name:     "Синусоида 440 Гц",
			generate: func(i int) int16 { return int16(16000 * math.Sin(2*math.Pi*440*float64(i)/CodecClockRate)) },
		},
		{
			name:     "Тишина",
			generate: func(i int) int16 { return 0 },
		},
		{
			name:     "Пила на полной амплитуде",
			generate: func(i int) int16 { return int16(i*409 - 32768) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pcm := make([]int16, SamplesPerFrame)
			for i := range pcm {
				pcm[i] = tt.generate(i)
			}

			payload, err := transcoder.Encode(pcm)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if len(payload) != SamplesPerFrame {
				t.Fatalf("A-law дает один байт на сэмпл, получено %d байт", len(payload))
			}

			decoded, err := transcoder.Decode(payload)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if len(decoded) != len(pcm) {
				t.Fatalf("Длина после round-trip: %d, ожидалось %d", len(decoded), len(pcm))
			}

			// A-law квантует 13 старших бит, максимальная ошибка на
			// верхнем сегменте составляет половину шага квантования
			const maxQuantError = 1024
			for i := range pcm {
				diff := int(decoded[i]) - int(pcm[i])
				if diff < 0 {
					diff = -diff
				}
				if diff > maxQuantError {
					t.Fatalf("Сэмпл %d: ошибка квантования %d превышает %d (вход %d, выход %d)",
						i, diff, maxQuantError, pcm[i], decoded[i])
				}
			}
		})
	}
}

// TestPCMAMinSampleClamped проверяет кодирование крайнего
// отрицательного сэмпла: -32768 должен кодироваться как -32767, а не
// переполняться в почти нулевое значение
func TestPCMAMinSampleClamped(t *testing.T) {
	transcoder, err := NewTranscoder(CodecPCMA)
	if err != nil {
		t.Fatalf("Создание транскодера: %v", err)
	}

	frame := make([]int16, SamplesPerFrame)
	frame[0] = math.MinInt16
	frame[1] = math.MinInt16 + 1

	payload, err := transcoder.Encode(frame)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if payload[0] != payload[1] {
		t.Errorf("Сэмплы -32768 и -32767 должны кодироваться одинаково: %#x != %#x",
			payload[0], payload[1])
	}

	decoded, err := transcoder.Decode(payload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded[0] > -30000 {
		t.Errorf("Декодированный сэмпл %d далек от крайней амплитуды", decoded[0])
	}
}

// TestTranscoderEmptyFrames проверяет отказ на пустых кадрах
func TestTranscoderEmptyFrames(t *testing.T) {
	transcoder, err := NewTranscoder(CodecPCMA)
	if err != nil {
		t.Fatalf("Создание транскодера: %v", err)
	}

	if _, err := transcoder.Encode(nil); !IsAudioError(err, ErrorCodeInvalidFrameSize) {
		t.Errorf("Encode(nil): ожидался ErrorCodeInvalidFrameSize, получено %v", err)
	}
	if _, err := transcoder.Decode(nil); !IsAudioError(err, ErrorCodeInvalidFrameSize) {
		t.Errorf("Decode(nil): ожидался ErrorCodeInvalidFrameSize, получено %v", err)
	}
}
