package audio

import (
	"errors"
	"fmt"
)

// AudioErrorCode определяет коды ошибок аудио подсистемы
type AudioErrorCode int

const (
	ErrorCodeUnsupportedCodec AudioErrorCode = iota + 4000
	ErrorCodeInvalidFrameSize
	ErrorCodeDeviceInit
	ErrorCodeDeviceStart
	ErrorCodeDeviceStopped
	ErrorCodeInvalidRate
)

// AudioError представляет ошибку аудио подсистемы
type AudioError struct {
	Code    AudioErrorCode
	Message string
	Wrapped error
}

// NewAudioError создает новую ошибку аудио подсистемы
func NewAudioError(code AudioErrorCode, format string, args ...interface{}) *AudioError {
	return &AudioError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// WrapAudioError оборачивает существующую ошибку
func WrapAudioError(code AudioErrorCode, err error, format string, args ...interface{}) *AudioError {
	return &AudioError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Wrapped: err,
	}
}

// Error реализует интерфейс error
func (e *AudioError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("audio error [%d]: %s: %v", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("audio error [%d]: %s", e.Code, e.Message)
}

// Unwrap возвращает обернутую ошибку для поддержки errors.Is/As
func (e *AudioError) Unwrap() error {
	return e.Wrapped
}

// IsAudioError проверяет, является ли ошибка AudioError с указанным кодом
func IsAudioError(err error, code AudioErrorCode) bool {
	var audioErr *AudioError
	if !errors.As(err, &audioErr) {
		return false
	}
	return audioErr.Code == code
}
