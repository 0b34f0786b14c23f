package rtp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPortAllocatorEvenPorts проверяет выделение только четных портов
func TestPortAllocatorEvenPorts(t *testing.T) {
	allocator, err := NewPortAllocator(10001, 10010)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		port, err := allocator.Allocate()
		require.NoError(t, err)
		assert.Equal(t, 0, port%2, "RTP порт должен быть четным")
		assert.GreaterOrEqual(t, port, 10002)
		assert.LessOrEqual(t, port, 10010)
	}
}

// TestPortAllocatorExhaustionAndRelease проверяет исчерпание диапазона
// и повторное использование освобожденных портов
func TestPortAllocatorExhaustionAndRelease(t *testing.T) {
	allocator, err := NewPortAllocator(10000, 10004)
	require.NoError(t, err)

	// 10000, 10002, 10004
	var ports []int
	for i := 0; i < 3; i++ {
		port, err := allocator.Allocate()
		require.NoError(t, err)
		ports = append(ports, port)
	}

	_, err = allocator.Allocate()
	require.Error(t, err, "диапазон исчерпан")

	allocator.Release(ports[1])
	port, err := allocator.Allocate()
	require.NoError(t, err)
	assert.Equal(t, ports[1], port)
}

// TestPortAllocatorInvalidRange проверяет отказ на невалидных диапазонах
func TestPortAllocatorInvalidRange(t *testing.T) {
	tests := []struct {
		name     string
		min, max int
	}{
		{"Нулевой минимум", 0, 10000},
		{"Минимум больше максимума", 20000, 10000},
		{"Максимум за пределами", 10000, 70000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPortAllocator(tt.min, tt.max)
			assert.Error(t, err)
		})
	}
}
