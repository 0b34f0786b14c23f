package rtp

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/pion/rtp"
)

// SessionConfig конфигурация RTP сессии
type SessionConfig struct {
	// Transport транспорт для отправки и приема пакетов
	Transport Transport

	// PayloadType тип payload'а согласованного кодека
	PayloadType uint8

	// SSRC идентификатор источника; 0 означает случайную генерацию
	SSRC uint32

	// ReceiveBufferDepth глубина канала входящих payload'ов
	ReceiveBufferDepth int

	// Logger структурированный логгер; nil означает slog.Default()
	Logger *slog.Logger
}

// SessionStatistics статистика RTP сессии
type SessionStatistics struct {
	PacketsSent     uint64
	PacketsReceived uint64
	BytesSent       uint64
	BytesReceived   uint64
	ReceiveErrors   uint64
}

// Session пакетизирует аудио payload'ы в RTP поток: монотонная
// нумерация пакетов, временная метка растет на число сэмплов кадра.
// Прием ведется фоновым циклом, payload'ы доставляются через канал.
type Session struct {
	transport   Transport
	payloadType uint8
	ssrc        uint32
	logger      *slog.Logger

	// состояние отправителя, защищено sendMutex
	sendMutex sync.Mutex
	sequence  uint16
	timestamp uint32

	received chan []byte

	stats      SessionStatistics
	statsMutex sync.RWMutex

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	stopped bool
	mutex   sync.Mutex
}

// NewSession создает RTP сессию поверх транспорта
func NewSession(config SessionConfig) (*Session, error) {
	if config.Transport == nil {
		return nil, fmt.Errorf("транспорт обязателен")
	}
	if config.ReceiveBufferDepth == 0 {
		config.ReceiveBufferDepth = 200
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	ssrc := config.SSRC
	if ssrc == 0 {
		var buf [4]byte
		if _, err := rand.Read(buf[:]); err != nil {
			return nil, fmt.Errorf("генерация SSRC: %w", err)
		}
		ssrc = binary.BigEndian.Uint32(buf[:])
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Session{
		transport:   config.Transport,
		payloadType: config.PayloadType,
		ssrc:        ssrc,
		logger:      config.Logger,
		received:    make(chan []byte, config.ReceiveBufferDepth),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start запускает фоновый цикл приема
func (s *Session) Start() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.started {
		return fmt.Errorf("сессия уже запущена")
	}
	if s.stopped {
		return fmt.Errorf("сессия остановлена")
	}
	s.started = true

	s.wg.Add(1)
	go s.receiveLoop()

	return nil
}

// SendPayload отправляет один закодированный кадр. samples — число
// PCM сэмплов в кадре, на него продвигается временная метка.
func (s *Session) SendPayload(payload []byte, samples uint32) error {
	s.sendMutex.Lock()
	packet := &rtp.Packet{
		Header: rtp.Header{
			Version:        ExpectedRTPVersion,
			PayloadType:    s.payloadType,
			SequenceNumber: s.sequence,
			Timestamp:      s.timestamp,
			SSRC:           s.ssrc,
		},
		Payload: payload,
	}
	s.sequence++
	s.timestamp += samples
	s.sendMutex.Unlock()

	if err := s.transport.Send(packet); err != nil {
		return err
	}

	s.statsMutex.Lock()
	s.stats.PacketsSent++
	s.stats.BytesSent += uint64(len(payload))
	s.statsMutex.Unlock()

	return nil
}

// Received возвращает канал входящих payload'ов
func (s *Session) Received() <-chan []byte {
	return s.received
}

// receiveLoop читает пакеты из транспорта до отмены контекста
func (s *Session) receiveLoop() {
	defer s.wg.Done()
	defer close(s.received)

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		packet, _, err := s.transport.Receive(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			if classified, ok := err.(*ClassifiedError); ok && classified.Type == ErrorTypeTimeout {
				continue
			}
			s.statsMutex.Lock()
			s.stats.ReceiveErrors++
			s.statsMutex.Unlock()
			s.logger.Debug("ошибка приема RTP", "error", err)
			continue
		}

		s.statsMutex.Lock()
		s.stats.PacketsReceived++
		s.stats.BytesReceived += uint64(len(packet.Payload))
		s.statsMutex.Unlock()

		select {
		case s.received <- packet.Payload:
		case <-s.ctx.Done():
			return
		}
	}
}

// Statistics возвращает снимок статистики сессии
func (s *Session) Statistics() SessionStatistics {
	s.statsMutex.RLock()
	defer s.statsMutex.RUnlock()
	return s.stats
}

// LocalPort возвращает локальный порт транспорта
func (s *Session) LocalPort() int {
	if udpAddr, ok := s.transport.LocalAddr().(*net.UDPAddr); ok {
		return udpAddr.Port
	}
	return 0
}

// Stop останавливает сессию и закрывает транспорт. Идемпотентен.
func (s *Session) Stop() error {
	s.mutex.Lock()
	if s.stopped {
		s.mutex.Unlock()
		return nil
	}
	s.stopped = true
	s.mutex.Unlock()

	s.cancel()
	err := s.transport.Close()
	s.wg.Wait()

	return err
}
