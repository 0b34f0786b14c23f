package audio

import (
	"sync/atomic"
)

// CaptureStream захватывает аудио с микрофона, нарезает его на 20 мс
// кадры в домене кодека и отправляет в выходной канал. Callback
// устройства никогда не блокируется: если канал полон, кадр
// отбрасывается и увеличивается счетчик потерь.
type CaptureStream struct {
	device    Device
	resampler *Resampler
	out       chan<- Frame

	// состояние используется только из callback'а драйвера
	pending []int16
	seq     uint32
	ts      uint32

	stopped atomic.Bool
	dropped atomic.Uint64
}

// NewCaptureStream открывает устройство захвата и привязывает его к
// выходному каналу кадров
func NewCaptureStream(engine Engine, config DeviceConfig, out chan<- Frame) (*CaptureStream, error) {
	resampler, err := NewResampler(config.SampleRate, CodecClockRate)
	if err != nil {
		return nil, err
	}

	stream := &CaptureStream{
		resampler: resampler,
		out:       out,
		pending:   make([]int16, 0, SamplesPerFrame*2),
	}

	device, err := engine.OpenCapture(config, stream.onCapture)
	if err != nil {
		return nil, err
	}
	stream.device = device

	return stream, nil
}

// onCapture принимает сэмплы от драйвера и формирует кадры
func (s *CaptureStream) onCapture(samples []int16) {
	if s.stopped.Load() {
		return
	}

	s.pending = append(s.pending, s.resampler.Process(samples)...)

	for len(s.pending) >= SamplesPerFrame {
		frame := Frame{
			Seq:       s.seq,
			Timestamp: s.ts,
			Samples:   append([]int16(nil), s.pending[:SamplesPerFrame]...),
		}
		s.seq++
		s.ts += SamplesPerFrame
		s.pending = s.pending[SamplesPerFrame:]

		select {
		case s.out <- frame:
		default:
			// канал полон, кадр отбрасывается без блокировки callback'а
			s.dropped.Add(1)
		}
	}
}

// Start запускает захват
func (s *CaptureStream) Start() error {
	return s.device.Start()
}

// Stop останавливает захват. Идемпотентен.
func (s *CaptureStream) Stop() error {
	if s.stopped.Swap(true) {
		return nil
	}
	if err := s.device.Stop(); err != nil {
		return err
	}
	return s.device.Close()
}

// Dropped возвращает количество отброшенных кадров
func (s *CaptureStream) Dropped() uint64 {
	return s.dropped.Load()
}

// PlaybackStream воспроизводит кадры из входного канала через
// устройство вывода. Callback устройства никогда не блокируется:
// при пустом канале воспроизводится тишина.
type PlaybackStream struct {
	device    Device
	resampler *Resampler
	in        <-chan Frame

	// остаток сэмплов, не поместившихся в предыдущий буфер драйвера
	pending []int16

	stopped  atomic.Bool
	silenced atomic.Uint64
}

// NewPlaybackStream открывает устройство воспроизведения и привязывает
// его к входному каналу кадров
func NewPlaybackStream(engine Engine, config DeviceConfig, in <-chan Frame) (*PlaybackStream, error) {
	resampler, err := NewResampler(CodecClockRate, config.SampleRate)
	if err != nil {
		return nil, err
	}

	stream := &PlaybackStream{
		resampler: resampler,
		in:        in,
		pending:   make([]int16, 0, SamplesPerFrame*2),
	}

	device, err := engine.OpenPlayback(config, stream.onPlayback)
	if err != nil {
		return nil, err
	}
	stream.device = device

	return stream, nil
}

// onPlayback заполняет буфер драйвера из накопленных кадров.
// Буфер приходит обнуленным, поэтому нехватка данных дает тишину.
func (s *PlaybackStream) onPlayback(out []int16) {
	if s.stopped.Load() {
		return
	}

	filled := 0
	for filled < len(out) {
		if len(s.pending) == 0 {
			select {
			case frame, ok := <-s.in:
				if !ok {
					return
				}
				s.pending = append(s.pending, s.resampler.Process(frame.Samples)...)
			default:
				// канал пуст, оставшаяся часть буфера остается тишиной
				s.silenced.Add(1)
				return
			}
		}

		n := copy(out[filled:], s.pending)
		filled += n
		s.pending = s.pending[n:]
	}
}

// Start запускает воспроизведение
func (s *PlaybackStream) Start() error {
	return s.device.Start()
}

// Stop останавливает воспроизведение. Идемпотентен.
func (s *PlaybackStream) Stop() error {
	if s.stopped.Swap(true) {
		return nil
	}
	if err := s.device.Stop(); err != nil {
		return err
	}
	return s.device.Close()
}

// Silenced возвращает количество заполнений буфера, при которых
// данных не хватило и часть буфера осталась тишиной
func (s *PlaybackStream) Silenced() uint64 {
	return s.silenced.Load()
}
