package useragent

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arzzra/softagent/pkg/audio"
	"github.com/arzzra/softagent/pkg/media"
	"github.com/arzzra/softagent/pkg/rtp"
	"github.com/arzzra/softagent/pkg/sdp"
	"github.com/arzzra/softagent/pkg/signaling"
)

// RegistrationState состояние регистрации на сервере
type RegistrationState int

const (
	StateUnregistered RegistrationState = iota
	StateRegistering
	StateRegistered
	StateUnregistering
	StateRegistrationFailed
)

// String возвращает имя состояния регистрации
func (s RegistrationState) String() string {
	switch s {
	case StateUnregistered:
		return "unregistered"
	case StateRegistering:
		return "registering"
	case StateRegistered:
		return "registered"
	case StateUnregistering:
		return "unregistering"
	case StateRegistrationFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// RegistrationStatus снимок состояния регистрации
type RegistrationStatus struct {
	State RegistrationState

	// Expiry момент истечения регистрации; заполнен в StateRegistered
	Expiry time.Time

	// Reason причина отказа; заполнена в StateRegistrationFailed
	Reason string
}

// Таймауты по умолчанию
const (
	// DefaultRegisterExpiry запрашиваемый срок регистрации
	DefaultRegisterExpiry = 300 * time.Second

	// DefaultCallTimeout предел ожидания финального ответа на приглашение
	DefaultCallTimeout = 10 * time.Second

	// DefaultRetryInterval пауза между повторами регистрации после сбоя
	DefaultRetryInterval = 10 * time.Second
)

// MediaFactory создает и запускает медиа тракт звонка по согласованному
// дескриптору. Подменяется в тестах.
type MediaFactory func(descriptor sdp.MediaDescriptor, localPort int) (MediaHandle, error)

// Config конфигурация пользовательского агента
type Config struct {
	// LocalIP локальный IP для SDP и медиа транспорта
	LocalIP string

	// Engine сигнальный движок
	Engine signaling.Engine

	// AudioEngine аудио подсистема; используется медиа фабрикой по
	// умолчанию
	AudioEngine audio.Engine

	// MediaPorts аллокатор RTP портов
	MediaPorts *rtp.PortAllocator

	// Negotiator переговорщик SDP; nil означает NewNegotiator("softagent")
	Negotiator *sdp.Negotiator

	// RegisterExpiry запрашиваемый срок регистрации
	RegisterExpiry time.Duration

	// CallTimeout предел ожидания финального ответа
	CallTimeout time.Duration

	// RetryInterval пауза между повторами регистрации после сбоя
	RetryInterval time.Duration

	// Logger структурированный логгер; nil означает slog.Default()
	Logger *slog.Logger

	// Metrics метрики; nil означает отдельный реестр
	Metrics *Metrics

	// MediaFactory фабрика медиа тракта; nil означает фабрику поверх
	// pkg/rtp и pkg/media
	MediaFactory MediaFactory
}

// UserAgent пользовательский агент софтфона: регистрация с
// автоматическим продлением, реестр исходящих звонков и диспетчер
// сигнальных событий
type UserAgent struct {
	config Config
	logger *slog.Logger

	mutex      sync.Mutex
	regState   RegistrationState
	regExpiry  time.Time
	regReason  string
	account    signaling.Account
	refreshTmr *time.Timer

	calls map[string]*OutboundCall

	metrics *Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

// New создает пользовательский агент и запускает диспетчер событий
func New(config Config) (*UserAgent, error) {
	if config.Engine == nil {
		return nil, NewError(CodeNetwork, "сигнальный движок обязателен")
	}
	if config.LocalIP == "" {
		return nil, NewError(CodeNetwork, "локальный IP обязателен")
	}
	if config.Negotiator == nil {
		config.Negotiator = sdp.NewNegotiator("softagent")
	}
	if config.RegisterExpiry == 0 {
		config.RegisterExpiry = DefaultRegisterExpiry
	}
	if config.CallTimeout == 0 {
		config.CallTimeout = DefaultCallTimeout
	}
	if config.RetryInterval == 0 {
		config.RetryInterval = DefaultRetryInterval
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.MediaPorts == nil {
		allocator, err := rtp.NewPortAllocator(rtp.DefaultMinPort, rtp.DefaultMaxPort)
		if err != nil {
			return nil, err
		}
		config.MediaPorts = allocator
	}

	metrics := config.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	ctx, cancel := context.WithCancel(context.Background())

	ua := &UserAgent{
		config:  config,
		logger:  config.Logger,
		calls:   make(map[string]*OutboundCall),
		metrics: metrics,
		ctx:     ctx,
		cancel:  cancel,
	}
	if ua.config.MediaFactory == nil {
		ua.config.MediaFactory = ua.defaultMediaFactory
	}

	ua.wg.Add(1)
	go ua.eventLoop()

	return ua, nil
}

// RegistrationStatus возвращает снимок состояния регистрации
func (ua *UserAgent) RegistrationStatus() RegistrationStatus {
	ua.mutex.Lock()
	defer ua.mutex.Unlock()

	return RegistrationStatus{
		State:  ua.regState,
		Expiry: ua.regExpiry,
		Reason: ua.regReason,
	}
}

// Register регистрирует аккаунт на сервере. При успехе включается
// автоматическое продление до истечения выданного срока.
func (ua *UserAgent) Register(ctx context.Context, account signaling.Account) error {
	ua.mutex.Lock()
	switch ua.regState {
	case StateRegistering, StateUnregistering:
		state := ua.regState
		ua.mutex.Unlock()
		return NewError(CodeInvalidState, "регистрация в состоянии %s", state)
	}
	ua.regState = StateRegistering
	ua.regReason = ""
	ua.account = account
	ua.metrics.registrationState.Set(float64(StateRegistering))
	ua.mutex.Unlock()

	granted, err := ua.config.Engine.Register(ctx, account, ua.config.RegisterExpiry)
	if err != nil {
		// Неудача первичной регистрации возвращает Unregistered:
		// повторы без новых учетных данных бессмысленны. Failed с
		// повтором зарезервирован за сбоем продления.
		ua.mutex.Lock()
		ua.regState = StateUnregistered
		ua.regExpiry = time.Time{}
		ua.metrics.registrationState.Set(float64(StateUnregistered))
		ua.mutex.Unlock()

		ua.metrics.registrationAttempts.WithLabelValues("failure").Inc()
		if errors.Is(err, signaling.ErrAuthRequired) {
			return WrapError(CodeAuthRequired, err, "регистрация %s", account.Username)
		}
		return WrapError(CodeNetwork, err, "регистрация %s", account.Username)
	}

	ua.registrationSucceeded(granted)
	ua.metrics.registrationAttempts.WithLabelValues("success").Inc()
	ua.logger.Info("регистрация выполнена",
		"username", account.Username,
		"registrar", account.Registrar,
		"expires", granted)
	return nil
}

// Unregister снимает регистрацию с сервера
func (ua *UserAgent) Unregister(ctx context.Context) error {
	ua.mutex.Lock()
	if ua.regState != StateRegistered {
		state := ua.regState
		ua.mutex.Unlock()
		return NewError(CodeNotRegistered, "нет активной регистрации (состояние %s)", state)
	}
	ua.regState = StateUnregistering
	ua.stopRefreshLocked()
	account := ua.account
	ua.metrics.registrationState.Set(float64(StateUnregistering))
	ua.mutex.Unlock()

	err := ua.config.Engine.Unregister(ctx, account)

	ua.mutex.Lock()
	if err != nil {
		ua.regState = StateRegistrationFailed
		ua.regReason = err.Error()
	} else {
		ua.regState = StateUnregistered
		ua.regExpiry = time.Time{}
	}
	ua.metrics.registrationState.Set(float64(ua.regState))
	ua.mutex.Unlock()

	if err != nil {
		return WrapError(CodeNetwork, err, "снятие регистрации %s", account.Username)
	}
	ua.logger.Info("регистрация снята", "username", account.Username)
	return nil
}

// registrationSucceeded переводит регистрацию в Registered и планирует
// продление до истечения выданного срока
func (ua *UserAgent) registrationSucceeded(granted time.Duration) {
	ua.mutex.Lock()
	defer ua.mutex.Unlock()

	ua.regState = StateRegistered
	ua.regExpiry = time.Now().Add(granted)
	ua.regReason = ""
	ua.metrics.registrationState.Set(float64(StateRegistered))

	refreshIn := granted - 5*time.Second
	if refreshIn <= 0 {
		refreshIn = granted / 2
	}
	ua.scheduleRefreshLocked(refreshIn)
}

// registrationFailed переводит регистрацию в Failed и планирует повтор
func (ua *UserAgent) registrationFailed(cause error) {
	ua.mutex.Lock()
	defer ua.mutex.Unlock()

	ua.regState = StateRegistrationFailed
	ua.regReason = cause.Error()
	ua.metrics.registrationState.Set(float64(StateRegistrationFailed))
	ua.scheduleRefreshLocked(ua.config.RetryInterval)
}

// scheduleRefreshLocked планирует следующую попытку регистрации;
// вызывается под мьютексом
func (ua *UserAgent) scheduleRefreshLocked(in time.Duration) {
	ua.stopRefreshLocked()
	ua.refreshTmr = time.AfterFunc(in, ua.refreshRegistration)
}

func (ua *UserAgent) stopRefreshLocked() {
	if ua.refreshTmr != nil {
		ua.refreshTmr.Stop()
		ua.refreshTmr = nil
	}
}

// refreshRegistration продлевает регистрацию по таймеру. Сбой продления
// переводит регистрацию в Failed, повторы продолжаются с интервалом
// RetryInterval до успеха или снятия регистрации.
func (ua *UserAgent) refreshRegistration() {
	ua.mutex.Lock()
	if ua.regState != StateRegistered && ua.regState != StateRegistrationFailed {
		ua.mutex.Unlock()
		return
	}
	account := ua.account
	ua.mutex.Unlock()

	if ua.ctx.Err() != nil {
		return
	}

	ctx, cancel := context.WithTimeout(ua.ctx, 30*time.Second)
	defer cancel()

	granted, err := ua.config.Engine.Register(ctx, account, ua.config.RegisterExpiry)
	if err != nil {
		ua.metrics.registrationAttempts.WithLabelValues("failure").Inc()
		ua.logger.Warn("продление регистрации не удалось",
			"username", account.Username, "error", err)
		ua.registrationFailed(err)
		return
	}

	ua.metrics.registrationAttempts.WithLabelValues("success").Inc()
	ua.logger.Debug("регистрация продлена", "username", account.Username, "expires", granted)
	ua.registrationSucceeded(granted)
}

// Call начинает исходящий звонок и возвращает его идентификатор.
// Требует состояния Registered. Финальный ответ ожидается не дольше
// CallTimeout, после чего звонок считается отклоненным.
func (ua *UserAgent) Call(ctx context.Context, targetURI string) (string, error) {
	ua.mutex.Lock()
	if ua.regState != StateRegistered {
		state := ua.regState
		ua.mutex.Unlock()
		return "", NewError(CodeNotRegistered, "звонок требует регистрации (состояние %s)", state)
	}
	ua.mutex.Unlock()

	localPort, err := ua.config.MediaPorts.Allocate()
	if err != nil {
		return "", WrapError(CodeNetwork, err, "выделение медиа порта")
	}

	offer, err := ua.config.Negotiator.BuildOffer(ua.config.LocalIP, localPort, sdp.LocalCapabilities())
	if err != nil {
		ua.config.MediaPorts.Release(localPort)
		return "", WrapError(CodeNetwork, err, "построение offer")
	}

	body, err := offer.Marshal()
	if err != nil {
		ua.config.MediaPorts.Release(localPort)
		return "", WrapError(CodeNetwork, err, "сериализация offer")
	}

	callID := uuid.NewString()
	call := newOutboundCall(callID, targetURI, offer, localPort)

	ua.mutex.Lock()
	ua.calls[callID] = call
	ua.mutex.Unlock()
	ua.metrics.callsActive.Inc()

	call.mutex.Lock()
	if err := call.applyLocked(callEventInvite); err != nil {
		call.mutex.Unlock()
		ua.removeCall(callID)
		ua.config.MediaPorts.Release(localPort)
		ua.metrics.callsActive.Dec()
		return "", WrapError(CodeNetwork, err, "запуск звонка")
	}
	call.mutex.Unlock()

	if err := ua.config.Engine.Invite(ctx, callID, targetURI, body); err != nil {
		call.mutex.Lock()
		ua.finishLocked(call, "error", err.Error())
		call.mutex.Unlock()
		return "", WrapError(CodeNetwork, err, "приглашение %s", targetURI).WithCallID(callID)
	}

	call.mutex.Lock()
	call.waitTimer = time.AfterFunc(ua.config.CallTimeout, func() {
		ua.onCallTimeout(call)
	})
	call.mutex.Unlock()

	ua.logger.Info("звонок начат", "call_id", callID, "target", targetURI)
	return callID, nil
}

// onCallTimeout завершает звонок, не получивший финальный ответ вовремя
func (ua *UserAgent) onCallTimeout(call *OutboundCall) {
	call.mutex.Lock()
	defer call.mutex.Unlock()

	switch call.stateLocked() {
	case CallCalling, CallEarlyMedia:
	default:
		return
	}

	ua.logger.Warn("нет финального ответа на приглашение",
		"call_id", call.id, "timeout", ua.config.CallTimeout)
	ua.finishLocked(call, "timeout", "истекло ожидание ответа")
}

// CallState возвращает состояние звонка по идентификатору
func (ua *UserAgent) CallState(callID string) (CallState, error) {
	call := ua.lookupCall(callID)
	if call == nil {
		return CallTerminated, NewError(CodeUnknownCall, "звонок не найден").WithCallID(callID)
	}
	return call.State(), nil
}

// Terminate завершает звонок. Разрешен только для установленного
// звонка: до финального ответа отмена не поддерживается, повторное
// завершение безвредно.
func (ua *UserAgent) Terminate(ctx context.Context, callID string) error {
	call := ua.lookupCall(callID)
	if call == nil {
		return NewError(CodeUnknownCall, "звонок не найден").WithCallID(callID)
	}

	call.mutex.Lock()
	switch call.stateLocked() {
	case CallTerminating, CallTerminated:
		call.mutex.Unlock()
		return nil
	case CallConnected:
	default:
		state := call.stateLocked()
		call.mutex.Unlock()
		return NewError(CodeInvalidState,
			"завершение невозможно в состоянии %s", state).WithCallID(callID)
	}

	if err := call.applyLocked(callEventHangup); err != nil {
		call.mutex.Unlock()
		return WrapError(CodeNetwork, err, "переход к завершению").WithCallID(callID)
	}
	if err := call.stopMediaLocked(); err != nil {
		ua.logger.Warn("остановка медиа", "call_id", callID, "error", err)
	}
	call.mutex.Unlock()

	byeErr := ua.config.Engine.Bye(ctx, callID)

	call.mutex.Lock()
	ua.finishLocked(call, "hangup", "завершен локально")
	call.mutex.Unlock()

	if byeErr != nil {
		return WrapError(CodeNetwork, byeErr, "завершение звонка").WithCallID(callID)
	}
	ua.logger.Info("звонок завершен", "call_id", callID)
	return nil
}

// finishLocked переводит звонок в Terminated из любого незавершенного
// состояния, освобождает ресурсы и обновляет метрики. Вызывается под
// мьютексом звонка.
func (ua *UserAgent) finishLocked(call *OutboundCall, result, reason string) {
	state := call.stateLocked()
	if state == CallTerminated {
		return
	}

	call.stopWaitTimerLocked()
	if err := call.stopMediaLocked(); err != nil {
		ua.logger.Warn("остановка медиа", "call_id", call.id, "error", err)
	}

	switch state {
	case CallConnected:
		_ = call.applyLocked(callEventHangup)
		_ = call.applyLocked(callEventDone)
	case CallTerminating:
		_ = call.applyLocked(callEventDone)
	default:
		_ = call.applyLocked(callEventReject)
	}
	call.reason = reason

	ua.config.MediaPorts.Release(call.localPort)

	ua.metrics.callsActive.Dec()
	ua.metrics.callsTotal.WithLabelValues(result).Inc()
	ua.metrics.callDuration.Observe(time.Since(call.createdAt).Seconds())
}

// lookupCall возвращает звонок из реестра
func (ua *UserAgent) lookupCall(callID string) *OutboundCall {
	ua.mutex.Lock()
	defer ua.mutex.Unlock()
	return ua.calls[callID]
}

func (ua *UserAgent) removeCall(callID string) {
	ua.mutex.Lock()
	defer ua.mutex.Unlock()
	delete(ua.calls, callID)
}

// eventLoop диспетчер сигнальных событий
func (ua *UserAgent) eventLoop() {
	defer ua.wg.Done()

	events := ua.config.Engine.Events()
	for {
		select {
		case <-ua.ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			ua.dispatch(event)
		}
	}
}

// dispatch обрабатывает одно сигнальное событие
func (ua *UserAgent) dispatch(event signaling.Event) {
	call := ua.lookupCall(event.CallID)
	if call == nil {
		ua.logger.Debug("событие для неизвестного звонка",
			"call_id", event.CallID, "type", event.Type.String())
		return
	}

	switch event.Type {
	case signaling.EventProvisional:
		ua.onProvisional(call, event)
	case signaling.EventAnswered:
		ua.onAnswered(call, event)
	case signaling.EventFailed:
		ua.onFailed(call, event)
	case signaling.EventRemoteBye:
		ua.onRemoteBye(call)
	}
}

// onProvisional переводит звонок в EarlyMedia при предварительном
// ответе с SDP телом
func (ua *UserAgent) onProvisional(call *OutboundCall, event signaling.Event) {
	if len(event.Body) == 0 {
		return
	}

	call.mutex.Lock()
	defer call.mutex.Unlock()

	if call.stateLocked() != CallCalling {
		return
	}
	if err := call.applyLocked(callEventProgress); err != nil {
		return
	}
	ua.logger.Debug("ранний медиа ответ", "call_id", call.id, "status", event.StatusCode)
}

// onAnswered разрешает answer, создает медиа тракт и переводит звонок
// в Connected. Если завершение уже началось, ответ игнорируется:
// завершение имеет приоритет.
func (ua *UserAgent) onAnswered(call *OutboundCall, event signaling.Event) {
	call.mutex.Lock()
	defer call.mutex.Unlock()

	switch call.stateLocked() {
	case CallCalling, CallEarlyMedia:
	default:
		ua.logger.Debug("ответ после начала завершения отброшен", "call_id", call.id)
		return
	}

	call.stopWaitTimerLocked()

	descriptor, err := ua.config.Negotiator.ResolveAnswer(call.offer, event.Body)
	if err != nil {
		ua.logger.Warn("answer отклонен", "call_id", call.id, "error", err)
		ua.hangupAnsweredLocked(call)
		result := "error"
		if sdp.IsSDPError(err, sdp.ErrorCodeNoCommonCodec) {
			result = "no_common_codec"
		}
		ua.finishLocked(call, result, err.Error())
		return
	}

	handle, err := ua.config.MediaFactory(*descriptor, call.localPort)
	if err != nil {
		ua.logger.Error("создание медиа тракта", "call_id", call.id, "error", err)
		ua.hangupAnsweredLocked(call)
		ua.finishLocked(call, "error", err.Error())
		return
	}
	call.media = handle

	if err := call.applyLocked(callEventAnswer); err != nil {
		ua.logger.Warn("переход к Connected", "call_id", call.id, "error", err)
		ua.finishLocked(call, "error", err.Error())
		return
	}

	ua.logger.Info("звонок установлен",
		"call_id", call.id,
		"codec", descriptor.Codec.String(),
		"remote", descriptor.RemoteAddr())
}

// hangupAnsweredLocked отправляет BYE для звонка, на который уже
// получен успешный ответ, но который установить нельзя
func (ua *UserAgent) hangupAnsweredLocked(call *OutboundCall) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ua.config.Engine.Bye(ctx, call.id); err != nil {
		ua.logger.Warn("BYE для неустановленного звонка", "call_id", call.id, "error", err)
	}
}

// onFailed завершает звонок по финальному неуспешному ответу
func (ua *UserAgent) onFailed(call *OutboundCall, event signaling.Event) {
	call.mutex.Lock()
	defer call.mutex.Unlock()

	switch call.stateLocked() {
	case CallCalling, CallEarlyMedia:
	default:
		return
	}

	ua.logger.Info("звонок отклонен",
		"call_id", call.id, "status", event.StatusCode, "reason", event.Reason)
	ua.finishLocked(call, "rejected", event.Reason)
}

// onRemoteBye завершает звонок по инициативе удаленной стороны
func (ua *UserAgent) onRemoteBye(call *OutboundCall) {
	call.mutex.Lock()
	defer call.mutex.Unlock()

	switch call.stateLocked() {
	case CallConnected, CallTerminating:
	default:
		return
	}

	ua.logger.Info("удаленная сторона завершила звонок", "call_id", call.id)
	ua.finishLocked(call, "remote_bye", "завершен удаленной стороной")
}

// defaultMediaFactory строит медиа тракт поверх UDP транспорта,
// RTP сессии и аппаратного аудио моста
func (ua *UserAgent) defaultMediaFactory(descriptor sdp.MediaDescriptor, localPort int) (MediaHandle, error) {
	if ua.config.AudioEngine == nil {
		return nil, NewError(CodeNetwork, "аудио подсистема не настроена")
	}

	transcoder, err := audio.NewTranscoder(descriptor.Codec)
	if err != nil {
		return nil, WrapError(CodeUnsupportedCodec, err, "кодек %s", descriptor.Codec)
	}

	transportConfig := rtp.DefaultTransportConfig()
	transportConfig.LocalAddr = net.JoinHostPort(ua.config.LocalIP, strconv.Itoa(localPort))
	transportConfig.RemoteAddr = descriptor.RemoteAddr()
	transport, err := rtp.NewUDPTransport(transportConfig)
	if err != nil {
		return nil, WrapError(CodeNetwork, err, "медиа транспорт")
	}

	rtpSession, err := rtp.NewSession(rtp.SessionConfig{
		Transport:   transport,
		PayloadType: descriptor.PayloadType,
		Logger:      ua.logger,
	})
	if err != nil {
		_ = transport.Close()
		return nil, WrapError(CodeNetwork, err, "RTP сессия")
	}

	mediaSession, err := media.NewSession(media.SessionConfig{
		Descriptor:  descriptor,
		Transcoder:  transcoder,
		AudioEngine: ua.config.AudioEngine,
		RTP:         rtpSession,
		Logger:      ua.logger,
	})
	if err != nil {
		_ = rtpSession.Stop()
		return nil, err
	}

	if err := mediaSession.Start(); err != nil {
		_ = mediaSession.Stop()
		return nil, err
	}

	return mediaSession, nil
}

// Close завершает все активные звонки, снимает таймеры и освобождает
// сигнальный движок. Идемпотентен.
func (ua *UserAgent) Close() error {
	ua.closeOnce.Do(func() {
		ua.mutex.Lock()
		ua.stopRefreshLocked()
		active := make([]*OutboundCall, 0, len(ua.calls))
		for _, call := range ua.calls {
			active = append(active, call)
		}
		ua.mutex.Unlock()

		for _, call := range active {
			call.mutex.Lock()
			ua.finishLocked(call, "shutdown", "агент остановлен")
			call.mutex.Unlock()
		}

		ua.cancel()
		ua.closeErr = ua.config.Engine.Close()
		ua.wg.Wait()
	})
	return ua.closeErr
}
