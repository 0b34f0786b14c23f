package signaling

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// EventType тип сигнального события
type EventType int

const (
	// EventProvisional предварительный ответ (1xx), возможно с ранним медиа
	EventProvisional EventType = iota
	// EventAnswered финальный успешный ответ с SDP answer; ACK отправлен
	EventAnswered
	// EventFailed финальный неуспешный ответ или сетевая ошибка
	EventFailed
	// EventRemoteBye удаленная сторона завершила звонок
	EventRemoteBye
)

// String возвращает имя типа события
func (t EventType) String() string {
	switch t {
	case EventProvisional:
		return "provisional"
	case EventAnswered:
		return "answered"
	case EventFailed:
		return "failed"
	case EventRemoteBye:
		return "remote-bye"
	default:
		return "unknown"
	}
}

// Event сигнальное событие, коррелированное по идентификатору звонка
type Event struct {
	Type       EventType
	CallID     string
	StatusCode int
	Reason     string
	Body       []byte
}

// Account учетные данные SIP аккаунта
type Account struct {
	// Username имя пользователя (user часть AOR)
	Username string

	// Password пароль для digest аутентификации; пустая строка
	// означает отсутствие учетных данных
	Password string

	// Registrar адрес регистратора в формате host:port
	Registrar string
}

// Сигнальные ошибки
var (
	// ErrAuthRequired регистратор потребовал аутентификацию, а учетные
	// данные отсутствуют или не подошли
	ErrAuthRequired = errors.New("требуется аутентификация")

	// ErrTransport сетевая ошибка сигнального транспорта
	ErrTransport = errors.New("сетевая ошибка сигнализации")
)

// ResponseError финальный неуспешный ответ сервера
type ResponseError struct {
	Operation  string
	StatusCode int
	Reason     string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("%s отклонен: %d %s", e.Operation, e.StatusCode, e.Reason)
}

// Engine интерфейс внешнего сигнального движка. Ядро пользуется только
// этими операциями и потоком событий.
type Engine interface {
	// Register регистрирует аккаунт; возвращает срок регистрации,
	// выданный регистратором
	Register(ctx context.Context, account Account, expires time.Duration) (time.Duration, error)

	// Unregister снимает регистрацию (Expires: 0)
	Unregister(ctx context.Context, account Account) error

	// Invite отправляет приглашение с SDP offer. Ответы приходят
	// событиями с указанным callID; ACK на успешный ответ движок
	// отправляет сам.
	Invite(ctx context.Context, callID string, targetURI string, offer []byte) error

	// Bye завершает установленный звонок
	Bye(ctx context.Context, callID string) error

	// Events возвращает поток входящих событий
	Events() <-chan Event

	// Close освобождает ресурсы движка
	Close() error
}
