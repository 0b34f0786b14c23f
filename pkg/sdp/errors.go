package sdp

import (
	"errors"
	"fmt"
)

// SDPErrorCode определяет коды ошибок SDP переговоров
type SDPErrorCode int

const (
	ErrorCodeSDPGeneration SDPErrorCode = iota + 2000
	ErrorCodeSDPParsing
	ErrorCodeNoCommonCodec
	ErrorCodeNoAudioMedia
	ErrorCodeNoConnectionAddress
)

// SDPError представляет ошибку SDP переговоров
type SDPError struct {
	Code    SDPErrorCode
	Message string
	Wrapped error
}

// NewSDPError создает новую SDP ошибку
func NewSDPError(code SDPErrorCode, format string, args ...interface{}) *SDPError {
	return &SDPError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// WrapSDPError оборачивает существующую ошибку в SDPError
func WrapSDPError(code SDPErrorCode, err error, format string, args ...interface{}) *SDPError {
	return &SDPError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Wrapped: err,
	}
}

// Error реализует интерфейс error
func (e *SDPError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("SDP error [%d]: %s: %v", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("SDP error [%d]: %s", e.Code, e.Message)
}

// Unwrap возвращает обернутую ошибку для поддержки errors.Is/As
func (e *SDPError) Unwrap() error {
	return e.Wrapped
}

// IsSDPError проверяет, является ли ошибка SDPError с указанным кодом
func IsSDPError(err error, code SDPErrorCode) bool {
	var sdpErr *SDPError
	if !errors.As(err, &sdpErr) {
		return false
	}
	return sdpErr.Code == code
}
