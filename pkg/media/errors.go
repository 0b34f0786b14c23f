package media

import (
	"errors"
	"fmt"
)

// MediaErrorCode определяет коды ошибок медиа сессии
type MediaErrorCode int

const (
	ErrorCodeInvalidConfig MediaErrorCode = iota + 3000
	ErrorCodeStreamCreation
	ErrorCodeStreamStart
	ErrorCodeSessionStopped
)

// MediaError представляет ошибку медиа сессии
type MediaError struct {
	Code    MediaErrorCode
	Message string
	Wrapped error
}

// NewMediaError создает новую ошибку медиа сессии
func NewMediaError(code MediaErrorCode, format string, args ...interface{}) *MediaError {
	return &MediaError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// WrapMediaError оборачивает существующую ошибку
func WrapMediaError(code MediaErrorCode, err error, format string, args ...interface{}) *MediaError {
	return &MediaError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Wrapped: err,
	}
}

// Error реализует интерфейс error
func (e *MediaError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("media error [%d]: %s: %v", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("media error [%d]: %s", e.Code, e.Message)
}

// Unwrap возвращает обернутую ошибку для поддержки errors.Is/As
func (e *MediaError) Unwrap() error {
	return e.Wrapped
}

// IsMediaError проверяет, является ли ошибка MediaError с указанным кодом
func IsMediaError(err error, code MediaErrorCode) bool {
	var mediaErr *MediaError
	if !errors.As(err, &mediaErr) {
		return false
	}
	return mediaErr.Code == code
}
