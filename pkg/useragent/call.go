package useragent

import (
	"context"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"github.com/arzzra/softagent/pkg/sdp"
)

// CallState состояние исходящего звонка
type CallState int

const (
	CallIdle CallState = iota
	CallCalling
	CallEarlyMedia
	CallConnected
	CallTerminating
	CallTerminated
)

// String возвращает имя состояния
func (s CallState) String() string {
	switch s {
	case CallIdle:
		return "idle"
	case CallCalling:
		return "calling"
	case CallEarlyMedia:
		return "early_media"
	case CallConnected:
		return "connected"
	case CallTerminating:
		return "terminating"
	case CallTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// События автомата звонка
const (
	callEventInvite   = "invite"
	callEventProgress = "progress"
	callEventAnswer   = "answer"
	callEventReject   = "reject"
	callEventHangup   = "hangup"
	callEventDone     = "done"
)

// MediaHandle активная медиа сессия звонка со стороны ядра
type MediaHandle interface {
	Stop() error
}

// OutboundCall исходящий звонок: автомат состояний сигнализации и,
// после успешного ответа, активная медиа сессия. Все переходы
// сериализованы мьютексом — два перехода одного звонка никогда не
// применяются одновременно.
type OutboundCall struct {
	id        string
	target    string
	createdAt time.Time

	mutex sync.Mutex
	fsm   *fsm.FSM

	offer     *sdp.Offer
	localPort int

	media  MediaHandle
	reason string

	// waitTimer ограничивает ожидание финального ответа
	waitTimer *time.Timer
}

// newOutboundCall создает звонок в состоянии Idle
func newOutboundCall(id, target string, offer *sdp.Offer, localPort int) *OutboundCall {
	call := &OutboundCall{
		id:        id,
		target:    target,
		createdAt: time.Now(),
		offer:     offer,
		localPort: localPort,
	}

	call.fsm = fsm.NewFSM(
		CallIdle.String(),
		fsm.Events{
			{Name: callEventInvite, Src: []string{CallIdle.String()}, Dst: CallCalling.String()},
			{Name: callEventProgress, Src: []string{CallCalling.String()}, Dst: CallEarlyMedia.String()},
			{Name: callEventAnswer, Src: []string{CallCalling.String(), CallEarlyMedia.String()}, Dst: CallConnected.String()},
			{Name: callEventReject, Src: []string{CallCalling.String(), CallEarlyMedia.String()}, Dst: CallTerminated.String()},
			{Name: callEventHangup, Src: []string{CallConnected.String()}, Dst: CallTerminating.String()},
			{Name: callEventDone, Src: []string{CallTerminating.String()}, Dst: CallTerminated.String()},
		},
		fsm.Callbacks{},
	)

	return call
}

// ID возвращает идентификатор звонка
func (c *OutboundCall) ID() string { return c.id }

// Target возвращает адрес вызываемого
func (c *OutboundCall) Target() string { return c.target }

// State возвращает текущее состояние звонка
func (c *OutboundCall) State() CallState {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.stateLocked()
}

func (c *OutboundCall) stateLocked() CallState {
	switch c.fsm.Current() {
	case CallIdle.String():
		return CallIdle
	case CallCalling.String():
		return CallCalling
	case CallEarlyMedia.String():
		return CallEarlyMedia
	case CallConnected.String():
		return CallConnected
	case CallTerminating.String():
		return CallTerminating
	default:
		return CallTerminated
	}
}

// Reason возвращает причину завершения звонка
func (c *OutboundCall) Reason() string {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.reason
}

// applyLocked применяет событие автомата; вызывается под мьютексом
func (c *OutboundCall) applyLocked(event string) error {
	return c.fsm.Event(context.Background(), event)
}

// stopMediaLocked останавливает медиа сессию, если она активна;
// вызывается под мьютексом
func (c *OutboundCall) stopMediaLocked() error {
	if c.media == nil {
		return nil
	}
	err := c.media.Stop()
	c.media = nil
	return err
}

// stopWaitTimerLocked отменяет таймер ожидания финального ответа
func (c *OutboundCall) stopWaitTimerLocked() {
	if c.waitTimer != nil {
		c.waitTimer.Stop()
		c.waitTimer = nil
	}
}
