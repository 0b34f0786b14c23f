package audio

// DeviceConfig параметры открытия аппаратного аудио потока
type DeviceConfig struct {
	// SampleRate запрашиваемая частота дискретизации устройства (Гц)
	SampleRate int

	// Channels количество каналов устройства
	Channels int
}

// DefaultDeviceConfig возвращает конфигурацию устройства по умолчанию:
// моно поток на частоте кодека, преобразование выполняет драйвер
func DefaultDeviceConfig() DeviceConfig {
	return DeviceConfig{
		SampleRate: CodecClockRate,
		Channels:   1,
	}
}

// CaptureCallback вызывается драйвером с очередной порцией захваченных
// сэмплов (interleaved). Callback не должен блокироваться.
type CaptureCallback func(samples []int16)

// PlaybackCallback вызывается драйвером, когда нужно заполнить буфер
// воспроизведения. Callback не должен блокироваться; при отсутствии
// данных буфер остается тишиной.
type PlaybackCallback func(out []int16)

// Device один открытый аппаратный поток (захват или воспроизведение)
type Device interface {
	// Start запускает поток устройства
	Start() error

	// Stop останавливает поток устройства; после возврата callback'и
	// больше не вызываются
	Stop() error

	// Close освобождает ресурсы устройства
	Close() error
}

// Engine абстракция аудио подсистемы. Позволяет подменять аппаратный
// бэкенд в тестах.
type Engine interface {
	// OpenCapture открывает устройство захвата
	OpenCapture(config DeviceConfig, callback CaptureCallback) (Device, error)

	// OpenPlayback открывает устройство воспроизведения
	OpenPlayback(config DeviceConfig, callback PlaybackCallback) (Device, error)

	// Close освобождает ресурсы подсистемы
	Close() error
}
