package rtp

import (
	"fmt"
	"sync"
)

// Диапазон медиа портов по умолчанию
const (
	DefaultMinPort = 10000
	DefaultMaxPort = 20000
)

// PortAllocator выделяет четные UDP порты для RTP сессий.
// RTP использует четный порт, следующий нечетный резервируется
// под RTCP (RFC 3550 §11).
type PortAllocator struct {
	minPort int
	maxPort int

	mutex sync.Mutex
	used  map[int]bool
	next  int
}

// NewPortAllocator создает аллокатор портов для диапазона [minPort, maxPort]
func NewPortAllocator(minPort, maxPort int) (*PortAllocator, error) {
	if minPort <= 0 || maxPort > 65535 || minPort >= maxPort {
		return nil, fmt.Errorf("невалидный диапазон портов: %d-%d", minPort, maxPort)
	}
	if minPort%2 != 0 {
		minPort++
	}

	return &PortAllocator{
		minPort: minPort,
		maxPort: maxPort,
		used:    make(map[int]bool),
		next:    minPort,
	}, nil
}

// Allocate резервирует следующий свободный четный порт
func (a *PortAllocator) Allocate() (int, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	total := (a.maxPort - a.minPort) / 2
	for i := 0; i <= total; i++ {
		port := a.next
		a.next += 2
		if a.next > a.maxPort {
			a.next = a.minPort
		}
		if !a.used[port] {
			a.used[port] = true
			return port, nil
		}
	}

	return 0, fmt.Errorf("нет свободных портов в диапазоне %d-%d", a.minPort, a.maxPort)
}

// Release освобождает ранее выделенный порт
func (a *PortAllocator) Release(port int) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	delete(a.used, port)
}
