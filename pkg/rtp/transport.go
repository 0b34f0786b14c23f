package rtp

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/pion/rtp"
)

// Лимиты валидации пакетов согласно RFC 3550
const (
	// MinRTPPacketSize минимальный размер RTP заголовка
	MinRTPPacketSize = 12
	// MaxRTPPacketSize максимальный размер пакета (лимит MTU)
	MaxRTPPacketSize = 1500
	// ExpectedRTPVersion версия RTP по RFC 3550
	ExpectedRTPVersion = 2
)

// Transport абстракция сетевого транспорта для RTP пакетов
type Transport interface {
	// Send отправляет RTP пакет удаленной стороне
	Send(packet *rtp.Packet) error

	// Receive получает следующий RTP пакет
	Receive(ctx context.Context) (*rtp.Packet, net.Addr, error)

	// LocalAddr возвращает локальный адрес транспорта
	LocalAddr() net.Addr

	// SetRemoteAddr устанавливает адрес удаленной стороны
	SetRemoteAddr(addr string) error

	// Close закрывает транспорт. Идемпотентен.
	Close() error
}

// TransportConfig конфигурация транспорта
type TransportConfig struct {
	// LocalAddr локальный адрес в формате host:port
	LocalAddr string

	// RemoteAddr адрес удаленной стороны; может быть установлен позже
	// через SetRemoteAddr после SDP переговоров
	RemoteAddr string

	// BufferSize размер буфера приема в байтах
	BufferSize int
}

// DefaultTransportConfig возвращает конфигурацию по умолчанию
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		LocalAddr:  ":0",
		BufferSize: MaxRTPPacketSize,
	}
}

// validatePacketSize проверяет размер пакета
func validatePacketSize(size int) error {
	if size < MinRTPPacketSize {
		return fmt.Errorf("пакет слишком мал: %d байт (минимум %d)", size, MinRTPPacketSize)
	}
	if size > MaxRTPPacketSize {
		return fmt.Errorf("пакет слишком велик: %d байт (максимум %d)", size, MaxRTPPacketSize)
	}
	return nil
}

// validateRTPHeader проверяет корректность RTP заголовка согласно RFC 3550
func validateRTPHeader(header *rtp.Header) error {
	if header.Version != ExpectedRTPVersion {
		return fmt.Errorf("неподдерживаемая версия RTP: %d (ожидается %d)",
			header.Version, ExpectedRTPVersion)
	}
	if header.PayloadType > 127 {
		return fmt.Errorf("невалидный payload type: %d (максимум 127)", header.PayloadType)
	}
	return nil
}

// NetworkErrorType классификация сетевых ошибок
type NetworkErrorType int

const (
	ErrorTypeTemporary NetworkErrorType = iota
	ErrorTypePermanent
	ErrorTypeTimeout
	ErrorTypeConnection
	ErrorTypeUnknown
)

// ClassifiedError сетевая ошибка с классификацией и признаком retryable
type ClassifiedError struct {
	Type      NetworkErrorType
	Operation string
	Err       error
	Retryable bool
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %v (retryable: %t)", e.Operation, e.Err, e.Retryable)
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// classifyNetworkError анализирует сетевую ошибку для решения о повторе
func classifyNetworkError(operation string, err error) error {
	if err == nil {
		return nil
	}

	classified := &ClassifiedError{
		Operation: operation,
		Err:       err,
		Type:      ErrorTypeUnknown,
	}

	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		classified.Type = ErrorTypeTimeout
		classified.Retryable = true
		return classified
	}

	errStr := err.Error()
	switch {
	case containsAny(errStr, "connection refused", "connection reset",
		"network is unreachable", "host is unreachable", "no route to host"):
		classified.Type = ErrorTypeConnection
		classified.Retryable = true
	case containsAny(errStr, "invalid argument", "permission denied",
		"address family not supported", "operation not supported"):
		classified.Type = ErrorTypePermanent
	}

	return classified
}

func containsAny(s string, substrs ...string) bool {
	for _, substr := range substrs {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}
