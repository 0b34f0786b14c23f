package media

import (
	"context"
	"log/slog"
	"sync"

	"github.com/arzzra/softagent/pkg/audio"
	"github.com/arzzra/softagent/pkg/sdp"
)

// DefaultChannelDepth глубина каналов кадров между аудио и сетью
const DefaultChannelDepth = 200

// PacketSession интерфейс RTP сессии со стороны медиа моста.
// Реализуется pkg/rtp.Session; в тестах подменяется фейком.
type PacketSession interface {
	Start() error
	SendPayload(payload []byte, samples uint32) error
	Received() <-chan []byte
	Stop() error
}

// SessionConfig конфигурация медиа сессии
type SessionConfig struct {
	// Descriptor согласованные параметры медиа
	Descriptor sdp.MediaDescriptor

	// Transcoder кодек согласованного потока
	Transcoder audio.Transcoder

	// AudioEngine аудио подсистема для открытия устройств
	AudioEngine audio.Engine

	// DeviceConfig параметры аппаратных потоков
	DeviceConfig audio.DeviceConfig

	// RTP транспортная сессия
	RTP PacketSession

	// ChannelDepth глубина каналов кадров; 0 означает DefaultChannelDepth
	ChannelDepth int

	// Logger структурированный логгер; nil означает slog.Default()
	Logger *slog.Logger
}

// Statistics статистика медиа сессии
type Statistics struct {
	FramesSent      uint64
	FramesReceived  uint64
	InboundDropped  uint64
	EncodeErrors    uint64
	DecodeErrors    uint64
	TransportErrors uint64
}

// Session активный аудио мост одного звонка: два аппаратных потока,
// два ограниченных канала кадров и циклы отправки/приема RTP
type Session struct {
	config SessionConfig
	logger *slog.Logger

	outbound chan audio.Frame
	inbound  chan audio.Frame

	capture  *audio.CaptureStream
	playback *audio.PlaybackStream

	// нумерация входящих кадров в домене воспроизведения
	recvSeq uint32
	recvTS  uint32

	stats      Statistics
	statsMutex sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mutex   sync.Mutex
	started bool
	stopped bool
}

// NewSession создает медиа сессию из согласованного дескриптора
func NewSession(config SessionConfig) (*Session, error) {
	if config.Transcoder == nil {
		return nil, NewMediaError(ErrorCodeInvalidConfig, "транскодер обязателен")
	}
	if config.AudioEngine == nil {
		return nil, NewMediaError(ErrorCodeInvalidConfig, "аудио подсистема обязательна")
	}
	if config.RTP == nil {
		return nil, NewMediaError(ErrorCodeInvalidConfig, "RTP сессия обязательна")
	}
	if config.ChannelDepth == 0 {
		config.ChannelDepth = DefaultChannelDepth
	}
	if config.DeviceConfig.SampleRate == 0 {
		config.DeviceConfig = audio.DefaultDeviceConfig()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Session{
		config:   config,
		logger:   config.Logger,
		outbound: make(chan audio.Frame, config.ChannelDepth),
		inbound:  make(chan audio.Frame, config.ChannelDepth),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// canSend сообщает, разрешена ли отправка согласованным направлением
func (s *Session) canSend() bool {
	direction := s.config.Descriptor.Direction
	return direction == sdp.DirectionSendRecv || direction == sdp.DirectionSendOnly
}

// canReceive сообщает, разрешен ли прием согласованным направлением
func (s *Session) canReceive() bool {
	direction := s.config.Descriptor.Direction
	return direction == sdp.DirectionSendRecv || direction == sdp.DirectionRecvOnly
}

// Start открывает аппаратные потоки и запускает циклы отправки и приема
func (s *Session) Start() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.stopped {
		return NewMediaError(ErrorCodeSessionStopped, "сессия остановлена")
	}
	if s.started {
		return NewMediaError(ErrorCodeInvalidConfig, "сессия уже запущена")
	}

	if s.canSend() {
		capture, err := audio.NewCaptureStream(s.config.AudioEngine, s.config.DeviceConfig, s.outbound)
		if err != nil {
			return WrapMediaError(ErrorCodeStreamCreation, err, "создание потока захвата")
		}
		s.capture = capture
	}

	if s.canReceive() {
		playback, err := audio.NewPlaybackStream(s.config.AudioEngine, s.config.DeviceConfig, s.inbound)
		if err != nil {
			s.closeStreamsLocked()
			return WrapMediaError(ErrorCodeStreamCreation, err, "создание потока воспроизведения")
		}
		s.playback = playback
	}

	if err := s.config.RTP.Start(); err != nil {
		s.closeStreamsLocked()
		return WrapMediaError(ErrorCodeStreamStart, err, "запуск RTP сессии")
	}

	if s.playback != nil {
		if err := s.playback.Start(); err != nil {
			s.closeStreamsLocked()
			return WrapMediaError(ErrorCodeStreamStart, err, "запуск воспроизведения")
		}
	}
	if s.capture != nil {
		if err := s.capture.Start(); err != nil {
			s.closeStreamsLocked()
			return WrapMediaError(ErrorCodeStreamStart, err, "запуск захвата")
		}
	}

	if s.canSend() {
		s.wg.Add(1)
		go s.sendLoop()
	}
	if s.canReceive() {
		s.wg.Add(1)
		go s.receiveLoop()
	}

	s.started = true
	return nil
}

// sendLoop кодирует кадры из исходящего канала и отправляет в RTP
func (s *Session) sendLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case frame := <-s.outbound:
			payload, err := s.config.Transcoder.Encode(frame.Samples)
			if err != nil {
				s.statsMutex.Lock()
				s.stats.EncodeErrors++
				s.statsMutex.Unlock()
				continue
			}

			if err := s.config.RTP.SendPayload(payload, uint32(len(frame.Samples))); err != nil {
				s.statsMutex.Lock()
				s.stats.TransportErrors++
				s.statsMutex.Unlock()
				s.logger.Debug("ошибка отправки кадра", "seq", frame.Seq, "error", err)
				continue
			}

			s.statsMutex.Lock()
			s.stats.FramesSent++
			s.statsMutex.Unlock()
		}
	}
}

// receiveLoop декодирует входящие payload'ы в кадры воспроизведения
func (s *Session) receiveLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case payload, ok := <-s.config.RTP.Received():
			if !ok {
				return
			}

			samples, err := s.config.Transcoder.Decode(payload)
			if err != nil {
				s.statsMutex.Lock()
				s.stats.DecodeErrors++
				s.statsMutex.Unlock()
				continue
			}

			frame := audio.Frame{
				Seq:       s.recvSeq,
				Timestamp: s.recvTS,
				Samples:   samples,
			}
			s.recvSeq++
			s.recvTS += uint32(len(samples))

			s.pushInbound(frame)

			s.statsMutex.Lock()
			s.stats.FramesReceived++
			s.statsMutex.Unlock()
		}
	}
}

// pushInbound кладет кадр во входящий канал, вытесняя самый старый
// кадр при переполнении. Цикл приема никогда не блокируется.
func (s *Session) pushInbound(frame audio.Frame) {
	select {
	case s.inbound <- frame:
		return
	default:
	}

	// канал полон: вытесняем самый старый кадр
	select {
	case <-s.inbound:
		s.statsMutex.Lock()
		s.stats.InboundDropped++
		s.statsMutex.Unlock()
	default:
	}

	select {
	case s.inbound <- frame:
	default:
		s.statsMutex.Lock()
		s.stats.InboundDropped++
		s.statsMutex.Unlock()
	}
}

// Stop останавливает сессию: сначала аппаратные потоки, затем циклы и
// RTP транспорт. Идемпотентен, безопасен из любой горутины, не ждет
// завершения текущего кадра дольше одного периода callback'а.
func (s *Session) Stop() error {
	s.mutex.Lock()
	if s.stopped {
		s.mutex.Unlock()
		return nil
	}
	s.stopped = true
	s.mutex.Unlock()

	// 1. Останавливаем оборудование: callback'и перестают
	//    производить и потреблять кадры
	s.closeStreams()

	// 2. Останавливаем циклы отправки/приема
	s.cancel()

	// 3. Закрываем транспорт
	err := s.config.RTP.Stop()

	s.wg.Wait()
	return err
}

func (s *Session) closeStreams() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.closeStreamsLocked()
}

func (s *Session) closeStreamsLocked() {
	if s.capture != nil {
		if err := s.capture.Stop(); err != nil {
			s.logger.Warn("остановка захвата", "error", err)
		}
	}
	if s.playback != nil {
		if err := s.playback.Stop(); err != nil {
			s.logger.Warn("остановка воспроизведения", "error", err)
		}
	}
}

// Statistics возвращает снимок статистики сессии
func (s *Session) Statistics() Statistics {
	s.statsMutex.RLock()
	defer s.statsMutex.RUnlock()
	return s.stats
}

// InboundDepth возвращает текущее заполнение входящего канала
func (s *Session) InboundDepth() int {
	return len(s.inbound)
}
