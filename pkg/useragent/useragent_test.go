package useragent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/softagent/pkg/sdp"
	"github.com/arzzra/softagent/pkg/signaling"
)

// fakeEngine сигнальный движок для тестов ядра: фиксирует вызовы и
// позволяет подавать события вручную
type fakeEngine struct {
	mutex sync.Mutex

	events chan signaling.Event

	registerGrants []time.Duration
	registerErrs   []error
	registerCalls  int

	unregisterErr   error
	unregisterCalls int

	inviteErr     error
	invitedCallID string
	invitedTarget string
	invitedOffer  []byte

	byeCalls []string

	closed bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		events:         make(chan signaling.Event, 16),
		registerGrants: []time.Duration{300 * time.Second},
	}
}

func (e *fakeEngine) Register(ctx context.Context, account signaling.Account, expires time.Duration) (time.Duration, error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	call := e.registerCalls
	e.registerCalls++

	if call < len(e.registerErrs) && e.registerErrs[call] != nil {
		return 0, e.registerErrs[call]
	}
	if call < len(e.registerGrants) {
		return e.registerGrants[call], nil
	}
	return e.registerGrants[len(e.registerGrants)-1], nil
}

func (e *fakeEngine) Unregister(ctx context.Context, account signaling.Account) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.unregisterCalls++
	return e.unregisterErr
}

func (e *fakeEngine) Invite(ctx context.Context, callID, targetURI string, offer []byte) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if e.inviteErr != nil {
		return e.inviteErr
	}
	e.invitedCallID = callID
	e.invitedTarget = targetURI
	e.invitedOffer = offer
	return nil
}

func (e *fakeEngine) Bye(ctx context.Context, callID string) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.byeCalls = append(e.byeCalls, callID)
	return nil
}

func (e *fakeEngine) Events() <-chan signaling.Event {
	return e.events
}

func (e *fakeEngine) Close() error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.closed = true
	return nil
}

func (e *fakeEngine) byeCount() int {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return len(e.byeCalls)
}

func (e *fakeEngine) registerCount() int {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.registerCalls
}

// fakeMedia медиа тракт для тестов
type fakeMedia struct {
	mutex   sync.Mutex
	stopped bool
}

func (m *fakeMedia) Stop() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.stopped = true
	return nil
}

func (m *fakeMedia) isStopped() bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.stopped
}

// mediaRecorder фабрика, запоминающая дескриптор и выданный тракт
type mediaRecorder struct {
	mutex      sync.Mutex
	descriptor sdp.MediaDescriptor
	localPort  int
	handle     *fakeMedia
	err        error
}

func (r *mediaRecorder) factory(descriptor sdp.MediaDescriptor, localPort int) (MediaHandle, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	r.descriptor = descriptor
	r.localPort = localPort
	r.handle = &fakeMedia{}
	return r.handle, nil
}

func newTestAgent(t *testing.T, engine *fakeEngine, recorder *mediaRecorder) *UserAgent {
	t.Helper()

	config := Config{
		LocalIP:     "192.168.1.10",
		Engine:      engine,
		CallTimeout: 200 * time.Millisecond,
	}
	if recorder != nil {
		config.MediaFactory = recorder.factory
	}

	ua, err := New(config)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ua.Close() })
	return ua
}

func testAccount() signaling.Account {
	return signaling.Account{
		Username:  "alice",
		Password:  "secret",
		Registrar: "sip.example.com:5060",
	}
}

func answerBody(port int, formats string, rtpmaps ...string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "v=0\r\n")
	fmt.Fprintf(&b, "o=- 42 42 IN IP4 203.0.113.5\r\n")
	fmt.Fprintf(&b, "s=answer\r\n")
	fmt.Fprintf(&b, "c=IN IP4 203.0.113.5\r\n")
	fmt.Fprintf(&b, "t=0 0\r\n")
	fmt.Fprintf(&b, "m=audio %d RTP/AVP %s\r\n", port, formats)
	for _, rtpmap := range rtpmaps {
		fmt.Fprintf(&b, "a=rtpmap:%s\r\n", rtpmap)
	}
	fmt.Fprintf(&b, "a=sendrecv\r\n")
	return []byte(b.String())
}

// startCall регистрирует агент и начинает звонок
func startCall(t *testing.T, ua *UserAgent, engine *fakeEngine) string {
	t.Helper()

	require.NoError(t, ua.Register(context.Background(), testAccount()))
	callID, err := ua.Call(context.Background(), "sip:bob@example.com")
	require.NoError(t, err)
	require.Equal(t, callID, engine.invitedCallID)
	return callID
}

// connectCall доводит звонок до Connected через успешный ответ
func connectCall(t *testing.T, ua *UserAgent, engine *fakeEngine, callID string) {
	t.Helper()

	engine.events <- signaling.Event{
		Type:       signaling.EventAnswered,
		CallID:     callID,
		StatusCode: 200,
		Body:       answerBody(4000, "8", "8 PCMA/8000"),
	}

	require.Eventually(t, func() bool {
		state, err := ua.CallState(callID)
		return err == nil && state == CallConnected
	}, time.Second, 5*time.Millisecond)
}

// TestRegisterSuccess проверяет успешную регистрацию и выданный срок
func TestRegisterSuccess(t *testing.T) {
	engine := newFakeEngine()
	engine.registerGrants = []time.Duration{120 * time.Second}
	ua := newTestAgent(t, engine, nil)

	err := ua.Register(context.Background(), testAccount())
	require.NoError(t, err)

	status := ua.RegistrationStatus()
	assert.Equal(t, StateRegistered, status.State)
	assert.WithinDuration(t, time.Now().Add(120*time.Second), status.Expiry, 2*time.Second)
	assert.Empty(t, status.Reason)
}

// TestRegisterAuthRequired проверяет отказ аутентификации: регистрация
// остается в Unregistered и повторы не планируются
func TestRegisterAuthRequired(t *testing.T) {
	engine := newFakeEngine()
	engine.registerErrs = []error{signaling.ErrAuthRequired}

	config := Config{
		LocalIP:       "192.168.1.10",
		Engine:        engine,
		RetryInterval: 20 * time.Millisecond,
	}
	ua, err := New(config)
	require.NoError(t, err)
	defer func() { _ = ua.Close() }()

	err = ua.Register(context.Background(), testAccount())
	require.Error(t, err)
	assert.True(t, IsErrorCode(err, CodeAuthRequired))
	assert.Equal(t, StateUnregistered, ua.RegistrationStatus().State)

	// повтор без новых учетных данных не запускается
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, engine.registerCount())
	assert.Equal(t, StateUnregistered, ua.RegistrationStatus().State)
}

// TestUnregister проверяет снятие регистрации и отказ без регистрации
func TestUnregister(t *testing.T) {
	engine := newFakeEngine()
	ua := newTestAgent(t, engine, nil)

	err := ua.Unregister(context.Background())
	require.Error(t, err)
	assert.True(t, IsErrorCode(err, CodeNotRegistered))

	require.NoError(t, ua.Register(context.Background(), testAccount()))
	require.NoError(t, ua.Unregister(context.Background()))

	assert.Equal(t, StateUnregistered, ua.RegistrationStatus().State)
	assert.Equal(t, 1, engine.unregisterCalls)
}

// TestRegistrationRefresh проверяет продление по таймеру: сбой
// переводит регистрацию в Failed, следующий успех возвращает Registered
func TestRegistrationRefresh(t *testing.T) {
	engine := newFakeEngine()
	// первый успех с коротким сроком, сбой продления, затем успех
	engine.registerGrants = []time.Duration{100 * time.Millisecond, 0, 300 * time.Second}
	engine.registerErrs = []error{nil, fmt.Errorf("registrar недоступен")}

	config := Config{
		LocalIP:       "192.168.1.10",
		Engine:        engine,
		RetryInterval: 50 * time.Millisecond,
	}
	ua, err := New(config)
	require.NoError(t, err)
	defer func() { _ = ua.Close() }()

	require.NoError(t, ua.Register(context.Background(), testAccount()))
	require.Equal(t, StateRegistered, ua.RegistrationStatus().State)

	// сбой продления: Failed, не Unregistered
	require.Eventually(t, func() bool {
		return ua.RegistrationStatus().State == StateRegistrationFailed
	}, time.Second, 5*time.Millisecond)
	assert.NotEmpty(t, ua.RegistrationStatus().Reason)

	// повтор восстанавливает регистрацию
	require.Eventually(t, func() bool {
		return ua.RegistrationStatus().State == StateRegistered
	}, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, engine.registerCount(), 3)
}

// TestCallRequiresRegistration проверяет отказ звонка без регистрации
func TestCallRequiresRegistration(t *testing.T) {
	engine := newFakeEngine()
	ua := newTestAgent(t, engine, nil)

	_, err := ua.Call(context.Background(), "sip:bob@example.com")
	require.Error(t, err)
	assert.True(t, IsErrorCode(err, CodeNotRegistered))
}

// TestCallToConnected проверяет полный путь установления звонка:
// offer в приглашении, разбор answer, создание медиа тракта
func TestCallToConnected(t *testing.T) {
	engine := newFakeEngine()
	recorder := &mediaRecorder{}
	ua := newTestAgent(t, engine, recorder)

	callID := startCall(t, ua, engine)

	state, err := ua.CallState(callID)
	require.NoError(t, err)
	assert.Equal(t, CallCalling, state)
	assert.Contains(t, string(engine.invitedOffer), "a=rtpmap:8 PCMA/8000")

	connectCall(t, ua, engine, callID)

	assert.Equal(t, uint8(8), recorder.descriptor.PayloadType)
	assert.Equal(t, "203.0.113.5", recorder.descriptor.Address)
	assert.Equal(t, 4000, recorder.descriptor.Port)
	assert.NotZero(t, recorder.localPort)
}

// TestEarlyMedia проверяет переход в EarlyMedia на предварительном
// ответе с SDP телом и игнорирование ответа без тела
func TestEarlyMedia(t *testing.T) {
	engine := newFakeEngine()
	recorder := &mediaRecorder{}
	ua := newTestAgent(t, engine, recorder)

	callID := startCall(t, ua, engine)

	// 180 без тела не меняет состояние
	engine.events <- signaling.Event{
		Type: signaling.EventProvisional, CallID: callID, StatusCode: 180,
	}
	time.Sleep(20 * time.Millisecond)
	state, _ := ua.CallState(callID)
	assert.Equal(t, CallCalling, state)

	// 183 с телом переводит в EarlyMedia
	engine.events <- signaling.Event{
		Type:       signaling.EventProvisional,
		CallID:     callID,
		StatusCode: 183,
		Body:       answerBody(4000, "8", "8 PCMA/8000"),
	}
	require.Eventually(t, func() bool {
		state, err := ua.CallState(callID)
		return err == nil && state == CallEarlyMedia
	}, time.Second, 5*time.Millisecond)

	// финальный ответ из EarlyMedia ведет в Connected
	connectCall(t, ua, engine, callID)
}

// TestTerminateBeforeAnswer проверяет, что завершение до финального
// ответа не поддерживается
func TestTerminateBeforeAnswer(t *testing.T) {
	engine := newFakeEngine()
	recorder := &mediaRecorder{}
	ua := newTestAgent(t, engine, recorder)

	callID := startCall(t, ua, engine)

	err := ua.Terminate(context.Background(), callID)
	require.Error(t, err)
	assert.True(t, IsErrorCode(err, CodeInvalidState))

	state, _ := ua.CallState(callID)
	assert.Equal(t, CallCalling, state)
}

// TestTerminateConnected проверяет штатное завершение: BYE, остановка
// медиа, поглощающее Terminated
func TestTerminateConnected(t *testing.T) {
	engine := newFakeEngine()
	recorder := &mediaRecorder{}
	ua := newTestAgent(t, engine, recorder)

	callID := startCall(t, ua, engine)
	connectCall(t, ua, engine, callID)

	require.NoError(t, ua.Terminate(context.Background(), callID))

	state, err := ua.CallState(callID)
	require.NoError(t, err)
	assert.Equal(t, CallTerminated, state)
	assert.True(t, recorder.handle.isStopped())
	assert.Equal(t, 1, engine.byeCount())

	// повторное завершение безвредно
	require.NoError(t, ua.Terminate(context.Background(), callID))
	assert.Equal(t, 1, engine.byeCount())
}

// TestCallsActiveGauge проверяет, что счетчик активных звонков растет
// на единицу за звонок и возвращается к нулю после завершения
func TestCallsActiveGauge(t *testing.T) {
	engine := newFakeEngine()
	recorder := &mediaRecorder{}
	metrics := NewMetrics(prometheus.NewRegistry())

	config := Config{
		LocalIP:      "192.168.1.10",
		Engine:       engine,
		CallTimeout:  200 * time.Millisecond,
		Metrics:      metrics,
		MediaFactory: recorder.factory,
	}
	ua, err := New(config)
	require.NoError(t, err)
	defer func() { _ = ua.Close() }()

	callID := startCall(t, ua, engine)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.callsActive))

	connectCall(t, ua, engine, callID)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.callsActive))

	require.NoError(t, ua.Terminate(context.Background(), callID))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.callsActive))
}

// TestTerminateUnknownCall проверяет ошибку для неизвестного звонка
func TestTerminateUnknownCall(t *testing.T) {
	engine := newFakeEngine()
	ua := newTestAgent(t, engine, nil)

	err := ua.Terminate(context.Background(), "нет-такого")
	require.Error(t, err)
	assert.True(t, IsErrorCode(err, CodeUnknownCall))
}

// TestCallTimeout проверяет завершение звонка без финального ответа
func TestCallTimeout(t *testing.T) {
	engine := newFakeEngine()
	recorder := &mediaRecorder{}
	ua := newTestAgent(t, engine, recorder)

	callID := startCall(t, ua, engine)

	require.Eventually(t, func() bool {
		state, err := ua.CallState(callID)
		return err == nil && state == CallTerminated
	}, time.Second, 5*time.Millisecond)

	// опоздавший ответ отбрасывается, BYE не отправляется
	engine.events <- signaling.Event{
		Type:   signaling.EventAnswered,
		CallID: callID,
		Body:   answerBody(4000, "8", "8 PCMA/8000"),
	}
	time.Sleep(20 * time.Millisecond)

	state, _ := ua.CallState(callID)
	assert.Equal(t, CallTerminated, state)
	assert.Equal(t, 0, engine.byeCount())
	assert.Nil(t, recorder.handle)
}

// TestNoCommonCodec проверяет разрыв звонка при отсутствии общего
// кодека в answer: BYE и Terminated
func TestNoCommonCodec(t *testing.T) {
	engine := newFakeEngine()
	recorder := &mediaRecorder{}
	ua := newTestAgent(t, engine, recorder)

	callID := startCall(t, ua, engine)

	engine.events <- signaling.Event{
		Type:       signaling.EventAnswered,
		CallID:     callID,
		StatusCode: 200,
		Body:       answerBody(4000, "0", "0 PCMU/8000"),
	}

	require.Eventually(t, func() bool {
		state, err := ua.CallState(callID)
		return err == nil && state == CallTerminated
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, engine.byeCount())
	assert.Nil(t, recorder.handle)
}

// TestCallRejected проверяет завершение по финальному неуспешному
// ответу
func TestCallRejected(t *testing.T) {
	engine := newFakeEngine()
	recorder := &mediaRecorder{}
	ua := newTestAgent(t, engine, recorder)

	callID := startCall(t, ua, engine)

	engine.events <- signaling.Event{
		Type:       signaling.EventFailed,
		CallID:     callID,
		StatusCode: 486,
		Reason:     "Busy Here",
	}

	require.Eventually(t, func() bool {
		state, err := ua.CallState(callID)
		return err == nil && state == CallTerminated
	}, time.Second, 5*time.Millisecond)

	call := ua.lookupCall(callID)
	require.NotNil(t, call)
	assert.Equal(t, "Busy Here", call.Reason())
}

// TestRemoteBye проверяет завершение по инициативе удаленной стороны
func TestRemoteBye(t *testing.T) {
	engine := newFakeEngine()
	recorder := &mediaRecorder{}
	ua := newTestAgent(t, engine, recorder)

	callID := startCall(t, ua, engine)
	connectCall(t, ua, engine, callID)

	engine.events <- signaling.Event{
		Type:   signaling.EventRemoteBye,
		CallID: callID,
	}

	require.Eventually(t, func() bool {
		state, err := ua.CallState(callID)
		return err == nil && state == CallTerminated
	}, time.Second, 5*time.Millisecond)

	assert.True(t, recorder.handle.isStopped())
	// BYE в ответ на BYE не отправляется
	assert.Equal(t, 0, engine.byeCount())
}

// TestCloseStopsActiveCalls проверяет, что Close завершает активные
// звонки и освобождает движок
func TestCloseStopsActiveCalls(t *testing.T) {
	engine := newFakeEngine()
	recorder := &mediaRecorder{}
	ua := newTestAgent(t, engine, recorder)

	callID := startCall(t, ua, engine)
	connectCall(t, ua, engine, callID)

	require.NoError(t, ua.Close())

	state, err := ua.CallState(callID)
	require.NoError(t, err)
	assert.Equal(t, CallTerminated, state)
	assert.True(t, recorder.handle.isStopped())
	assert.True(t, engine.closed)

	// повторный Close безвреден
	require.NoError(t, ua.Close())
}
