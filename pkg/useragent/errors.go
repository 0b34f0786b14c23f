package useragent

import (
	"errors"
	"fmt"
)

// ErrorCode определяет коды ошибок операций софтфона
type ErrorCode int

const (
	// CodeAuthRequired регистратор потребовал аутентификацию, учетные
	// данные отсутствуют или не подошли
	CodeAuthRequired ErrorCode = iota + 1000
	// CodeNotRegistered операция требует состояния Registered
	CodeNotRegistered
	// CodeUnknownCall идентификатор звонка не найден в реестре
	CodeUnknownCall
	// CodeInvalidState операция не разрешена в текущем состоянии
	CodeInvalidState
	// CodeNoCommonCodec offer и answer не имеют общего кодека
	CodeNoCommonCodec
	// CodeNetwork сетевая ошибка сигнализации
	CodeNetwork
	// CodeUnsupportedCodec согласованный кодек не поддерживается
	// кодирующим трактом
	CodeUnsupportedCodec
)

// String возвращает имя кода ошибки
func (c ErrorCode) String() string {
	switch c {
	case CodeAuthRequired:
		return "AuthRequired"
	case CodeNotRegistered:
		return "NotRegistered"
	case CodeUnknownCall:
		return "UnknownCall"
	case CodeInvalidState:
		return "InvalidState"
	case CodeNoCommonCodec:
		return "NoCommonCodec"
	case CodeNetwork:
		return "NetworkError"
	case CodeUnsupportedCodec:
		return "UnsupportedCodec"
	default:
		return "Unknown"
	}
}

// Error ошибка операции софтфона с кодом таксономии и контекстом звонка
type Error struct {
	Code    ErrorCode
	Message string
	CallID  string
	Cause   error
}

// NewError создает новую ошибку
func NewError(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// WrapError оборачивает причину в ошибку с кодом таксономии
func WrapError(code ErrorCode, cause error, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// WithCallID добавляет идентификатор звонка к ошибке
func (e *Error) WithCallID(callID string) *Error {
	e.CallID = callID
	return e
}

// Error реализует интерфейс error
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.CallID != "" {
		msg += fmt.Sprintf(" (call %s)", e.CallID)
	}
	if e.Cause != nil {
		msg += fmt.Sprintf(": %v", e.Cause)
	}
	return msg
}

// Unwrap возвращает причину для поддержки errors.Is/As
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsErrorCode проверяет, несет ли ошибка указанный код таксономии
func IsErrorCode(err error, code ErrorCode) bool {
	var uaErr *Error
	if !errors.As(err, &uaErr) {
		return false
	}
	return uaErr.Code == code
}
