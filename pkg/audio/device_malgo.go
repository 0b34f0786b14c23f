package audio

import (
	"log/slog"
	"sync"

	"github.com/gen2brain/malgo"
)

// MalgoEngine реализует Engine поверх miniaudio (malgo).
// Устройства открываются в формате S16; преобразование частоты до
// запрошенной в DeviceConfig выполняет сам miniaudio.
type MalgoEngine struct {
	ctx    *malgo.AllocatedContext
	logger *slog.Logger

	mutex  sync.Mutex
	closed bool
}

// NewMalgoEngine инициализирует аудио контекст miniaudio
func NewMalgoEngine(logger *slog.Logger) (*MalgoEngine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logger.Debug("malgo", "message", message)
	})
	if err != nil {
		return nil, WrapAudioError(ErrorCodeDeviceInit, err, "инициализация аудио контекста")
	}

	return &MalgoEngine{ctx: ctx, logger: logger}, nil
}

// OpenCapture открывает устройство захвата микрофона
func (e *MalgoEngine) OpenCapture(config DeviceConfig, callback CaptureCallback) (Device, error) {
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(config.Channels)
	deviceConfig.SampleRate = uint32(config.SampleRate)

	channels := config.Channels

	onSamples := func(pOutputSample, pInputSamples []byte, framecount uint32) {
		if len(pInputSamples) < 2 {
			return
		}
		// Берем только первый канал interleaved буфера
		samples := make([]int16, 0, framecount)
		stride := 2 * channels
		for i := 0; i+1 < len(pInputSamples); i += stride {
			samples = append(samples, int16(pInputSamples[i])|int16(pInputSamples[i+1])<<8)
		}
		callback(samples)
	}

	device, err := malgo.InitDevice(e.ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: onSamples,
	})
	if err != nil {
		return nil, WrapAudioError(ErrorCodeDeviceInit, err, "открытие устройства захвата")
	}

	return &malgoDevice{device: device}, nil
}

// OpenPlayback открывает устройство воспроизведения
func (e *MalgoEngine) OpenPlayback(config DeviceConfig, callback PlaybackCallback) (Device, error) {
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = uint32(config.Channels)
	deviceConfig.SampleRate = uint32(config.SampleRate)

	channels := config.Channels

	onSamples := func(pOutputSample, pInputSamples []byte, framecount uint32) {
		if len(pOutputSample) == 0 {
			return
		}
		out := make([]int16, framecount)
		callback(out)
		// Моно сигнал дублируется во все каналы устройства
		for i, sample := range out {
			for ch := 0; ch < channels; ch++ {
				off := (i*channels + ch) * 2
				if off+1 >= len(pOutputSample) {
					return
				}
				pOutputSample[off] = byte(sample)
				pOutputSample[off+1] = byte(sample >> 8)
			}
		}
	}

	device, err := malgo.InitDevice(e.ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: onSamples,
	})
	if err != nil {
		return nil, WrapAudioError(ErrorCodeDeviceInit, err, "открытие устройства воспроизведения")
	}

	return &malgoDevice{device: device}, nil
}

// Close освобождает контекст miniaudio
func (e *MalgoEngine) Close() error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	return e.ctx.Uninit()
}

// malgoDevice оборачивает malgo.Device в интерфейс Device
type malgoDevice struct {
	device *malgo.Device

	mutex   sync.Mutex
	started bool
}

func (d *malgoDevice) Start() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.started {
		return nil
	}
	if err := d.device.Start(); err != nil {
		return WrapAudioError(ErrorCodeDeviceStart, err, "запуск устройства")
	}
	d.started = true
	return nil
}

func (d *malgoDevice) Stop() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if !d.started {
		return nil
	}
	d.started = false
	return d.device.Stop()
}

func (d *malgoDevice) Close() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.device.Uninit()
	return nil
}
