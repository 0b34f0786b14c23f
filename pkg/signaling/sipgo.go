package signaling

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/icholy/digest"
)

// SIPEngineConfig конфигурация sipgo движка
type SIPEngineConfig struct {
	// LocalIP локальный адрес для привязки сигнального транспорта
	LocalIP string

	// LocalPort локальный SIP порт
	LocalPort int

	// Transport протокол сигнализации (udp/tcp)
	Transport string

	// UserAgent значение заголовка User-Agent
	UserAgent string

	// EventBufferDepth глубина канала событий
	EventBufferDepth int

	// Logger структурированный логгер; nil означает slog.Default()
	Logger *slog.Logger
}

// DefaultSIPEngineConfig возвращает конфигурацию по умолчанию
func DefaultSIPEngineConfig() SIPEngineConfig {
	return SIPEngineConfig{
		LocalIP:          "127.0.0.1",
		LocalPort:        5060,
		Transport:        "udp",
		UserAgent:        "softagent/1.0",
		EventBufferDepth: 32,
	}
}

// dialogState состояние установленного диалога для in-dialog запросов
type dialogState struct {
	inviteRequest  *sip.Request
	inviteResponse *sip.Response
	cseq           uint32
}

// SIPEngine реализует Engine поверх sipgo
type SIPEngine struct {
	config SIPEngineConfig
	logger *slog.Logger

	ua     *sipgo.UserAgent
	client *sipgo.Client
	server *sipgo.Server

	events chan Event

	dialogs      map[string]*dialogState
	dialogsMutex sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
}

// NewSIPEngine создает сигнальный движок на sipgo
func NewSIPEngine(config SIPEngineConfig) (*SIPEngine, error) {
	if config.Transport == "" {
		config.Transport = "udp"
	}
	if config.UserAgent == "" {
		config.UserAgent = "softagent/1.0"
	}
	if config.EventBufferDepth == 0 {
		config.EventBufferDepth = 32
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	ua, err := sipgo.NewUA(sipgo.WithUserAgent(config.UserAgent))
	if err != nil {
		return nil, fmt.Errorf("создание user agent: %w", err)
	}

	client, err := sipgo.NewClient(ua,
		sipgo.WithClientHostname(config.LocalIP),
		sipgo.WithClientPort(config.LocalPort),
	)
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("создание клиента: %w", err)
	}

	server, err := sipgo.NewServer(ua)
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("создание сервера: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	engine := &SIPEngine{
		config:  config,
		logger:  config.Logger,
		ua:      ua,
		client:  client,
		server:  server,
		events:  make(chan Event, config.EventBufferDepth),
		dialogs: make(map[string]*dialogState),
		ctx:     ctx,
		cancel:  cancel,
	}

	server.OnBye(engine.handleBye)

	return engine, nil
}

// Serve запускает прием входящих сообщений; блокирует до отмены контекста
func (e *SIPEngine) Serve(ctx context.Context) error {
	addr := net.JoinHostPort(e.config.LocalIP, strconv.Itoa(e.config.LocalPort))
	return e.server.ListenAndServe(ctx, e.config.Transport, addr)
}

// handleBye обрабатывает BYE от удаленной стороны
func (e *SIPEngine) handleBye(req *sip.Request, tx sip.ServerTransaction) {
	callID := ""
	if header := req.CallID(); header != nil {
		callID = header.Value()
	}

	tx.Respond(sip.NewResponseFromRequest(req, 200, "OK", nil))

	e.dialogsMutex.Lock()
	delete(e.dialogs, callID)
	e.dialogsMutex.Unlock()

	e.emit(Event{Type: EventRemoteBye, CallID: callID})
}

// emit доставляет событие без блокировки; при переполненном канале
// событие теряется с предупреждением
func (e *SIPEngine) emit(event Event) {
	select {
	case e.events <- event:
	default:
		e.logger.Warn("канал событий переполнен, событие потеряно",
			"type", event.Type.String(), "call_id", event.CallID)
	}
}

// Events возвращает поток входящих событий
func (e *SIPEngine) Events() <-chan Event {
	return e.events
}

// registrarURI разбирает адрес регистратора
func registrarURI(account Account) (sip.Uri, error) {
	host, portStr, err := net.SplitHostPort(account.Registrar)
	if err != nil {
		host = account.Registrar
		portStr = "5060"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return sip.Uri{}, fmt.Errorf("невалидный порт регистратора: %s", portStr)
	}
	return sip.Uri{Host: host, Port: port}, nil
}

// buildRegister строит REGISTER запрос
func (e *SIPEngine) buildRegister(account Account, expiresSec int, cseq uint32) (*sip.Request, error) {
	registrar, err := registrarURI(account)
	if err != nil {
		return nil, err
	}

	aor := sip.Uri{User: account.Username, Host: registrar.Host, Port: registrar.Port}
	contactURI := sip.Uri{User: account.Username, Host: e.config.LocalIP, Port: e.config.LocalPort}

	req := sip.NewRequest(sip.REGISTER, registrar)
	req.SetDestination(account.Registrar)

	from := sip.FromHeader{Address: aor, Params: sip.NewParams()}
	from.Params.Add("tag", sip.GenerateTagN(8))
	req.AppendHeader(&from)

	to := sip.ToHeader{Address: aor}
	req.AppendHeader(&to)

	contact := sip.ContactHeader{Address: contactURI}
	req.AppendHeader(&contact)

	callID := sip.CallIDHeader(sip.GenerateTagN(16))
	req.AppendHeader(&callID)

	cseqHeader := sip.CSeqHeader{SeqNo: cseq, MethodName: sip.REGISTER}
	req.AppendHeader(&cseqHeader)

	maxForwards := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxForwards)

	req.AppendHeader(sip.NewHeader("Expires", strconv.Itoa(expiresSec)))

	return req, nil
}

// transact отправляет запрос и возвращает первый финальный ответ
func (e *SIPEngine) transact(ctx context.Context, req *sip.Request) (*sip.Response, error) {
	tx, err := e.client.TransactionRequest(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer tx.Terminate()

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrTransport, ctx.Err())
		case resp, ok := <-tx.Responses():
			if !ok {
				return nil, fmt.Errorf("%w: транзакция завершилась без финального ответа", ErrTransport)
			}
			if resp.StatusCode < 200 {
				continue
			}
			return resp, nil
		}
	}
}

// Register выполняет регистрацию, отвечая на digest challenge при
// наличии учетных данных
func (e *SIPEngine) Register(ctx context.Context, account Account, expires time.Duration) (time.Duration, error) {
	return e.register(ctx, account, int(expires.Seconds()))
}

// Unregister снимает регистрацию нулевым сроком
func (e *SIPEngine) Unregister(ctx context.Context, account Account) error {
	_, err := e.register(ctx, account, 0)
	return err
}

func (e *SIPEngine) register(ctx context.Context, account Account, expiresSec int) (time.Duration, error) {
	req, err := e.buildRegister(account, expiresSec, 1)
	if err != nil {
		return 0, err
	}

	resp, err := e.transact(ctx, req)
	if err != nil {
		return 0, err
	}

	if resp.StatusCode == sip.StatusUnauthorized || resp.StatusCode == sip.StatusProxyAuthRequired {
		if account.Password == "" {
			return 0, ErrAuthRequired
		}

		// Повторный запрос строится заново со следующим CSeq
		retry, err := e.buildRegister(account, expiresSec, 2)
		if err != nil {
			return 0, err
		}
		authorized, err := e.answerChallenge(retry, resp, account)
		if err != nil {
			return 0, err
		}

		resp, err = e.transact(ctx, authorized)
		if err != nil {
			return 0, err
		}
		if resp.StatusCode == sip.StatusUnauthorized || resp.StatusCode == sip.StatusProxyAuthRequired {
			return 0, ErrAuthRequired
		}
	}

	if resp.StatusCode != sip.StatusOK {
		return 0, &ResponseError{Operation: "REGISTER", StatusCode: resp.StatusCode, Reason: resp.Reason}
	}

	return grantedExpiry(resp, expiresSec), nil
}

// answerChallenge строит повторный запрос с Authorization заголовком
func (e *SIPEngine) answerChallenge(req *sip.Request, resp *sip.Response, account Account) (*sip.Request, error) {
	challengeHeader := resp.GetHeader("WWW-Authenticate")
	authName := "Authorization"
	if challengeHeader == nil {
		challengeHeader = resp.GetHeader("Proxy-Authenticate")
		authName = "Proxy-Authorization"
	}
	if challengeHeader == nil {
		return nil, ErrAuthRequired
	}

	challenge, err := digest.ParseChallenge(challengeHeader.Value())
	if err != nil {
		return nil, fmt.Errorf("разбор challenge: %w", err)
	}

	credentials, err := digest.Digest(challenge, digest.Options{
		Method:   string(req.Method),
		URI:      req.Recipient.String(),
		Username: account.Username,
		Password: account.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("вычисление digest: %w", err)
	}

	req.AppendHeader(sip.NewHeader(authName, credentials.String()))
	return req, nil
}

// grantedExpiry извлекает выданный регистратором срок регистрации
func grantedExpiry(resp *sip.Response, requestedSec int) time.Duration {
	if header := resp.GetHeader("Expires"); header != nil {
		if sec, err := strconv.Atoi(header.Value()); err == nil && sec > 0 {
			return time.Duration(sec) * time.Second
		}
	}
	return time.Duration(requestedSec) * time.Second
}

// Invite отправляет приглашение; ответы доставляются событиями
func (e *SIPEngine) Invite(ctx context.Context, callID string, targetURI string, offer []byte) error {
	var target sip.Uri
	if err := sip.ParseUri(targetURI, &target); err != nil {
		return fmt.Errorf("разбор адреса вызываемого: %w", err)
	}

	port := target.Port
	if port == 0 {
		port = 5060
	}

	req := sip.NewRequest(sip.INVITE, target)
	req.SetDestination(net.JoinHostPort(target.Host, strconv.Itoa(port)))

	localURI := sip.Uri{User: "softagent", Host: e.config.LocalIP, Port: e.config.LocalPort}
	from := sip.FromHeader{Address: localURI, Params: sip.NewParams()}
	from.Params.Add("tag", sip.GenerateTagN(8))
	req.AppendHeader(&from)

	to := sip.ToHeader{Address: target}
	req.AppendHeader(&to)

	contact := sip.ContactHeader{Address: localURI}
	req.AppendHeader(&contact)

	callIDHeader := sip.CallIDHeader(callID)
	req.AppendHeader(&callIDHeader)

	cseq := sip.CSeqHeader{SeqNo: 1, MethodName: sip.INVITE}
	req.AppendHeader(&cseq)

	maxForwards := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxForwards)

	req.SetBody(offer)

	contentType := sip.ContentTypeHeader("application/sdp")
	req.AppendHeader(&contentType)

	contentLength := sip.ContentLengthHeader(len(offer))
	req.AppendHeader(&contentLength)

	tx, err := e.client.TransactionRequest(ctx, req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}

	go e.watchInvite(callID, req, tx)

	return nil
}

// watchInvite следит за ответами на INVITE и транслирует их в события
func (e *SIPEngine) watchInvite(callID string, req *sip.Request, tx sip.ClientTransaction) {
	defer tx.Terminate()

	for {
		select {
		case <-e.ctx.Done():
			return

		case resp, ok := <-tx.Responses():
			if !ok {
				e.emit(Event{
					Type:   EventFailed,
					CallID: callID,
					Reason: "транзакция завершилась без финального ответа",
				})
				return
			}

			switch {
			case resp.StatusCode < 200:
				if resp.StatusCode == sip.StatusTrying {
					continue
				}
				e.emit(Event{
					Type:       EventProvisional,
					CallID:     callID,
					StatusCode: resp.StatusCode,
					Reason:     resp.Reason,
					Body:       resp.Body(),
				})

			case resp.StatusCode < 300:
				ack := buildAck(req, resp)
				if err := e.client.WriteRequest(ack); err != nil {
					e.logger.Warn("отправка ACK", "call_id", callID, "error", err)
				}

				e.dialogsMutex.Lock()
				e.dialogs[callID] = &dialogState{
					inviteRequest:  req,
					inviteResponse: resp,
					cseq:           1,
				}
				e.dialogsMutex.Unlock()

				e.emit(Event{
					Type:       EventAnswered,
					CallID:     callID,
					StatusCode: resp.StatusCode,
					Reason:     resp.Reason,
					Body:       resp.Body(),
				})
				return

			default:
				e.emit(Event{
					Type:       EventFailed,
					CallID:     callID,
					StatusCode: resp.StatusCode,
					Reason:     resp.Reason,
				})
				return
			}
		}
	}
}

// buildAck строит ACK на успешный финальный ответ (RFC 3261 §13.2.2.4):
// Request-URI из Contact ответа, To с тегом удаленной стороны, CSeq с
// номером INVITE и методом ACK
func buildAck(invite *sip.Request, resp *sip.Response) *sip.Request {
	recipient := invite.Recipient
	if contact := resp.Contact(); contact != nil {
		recipient = contact.Address
	}

	ack := sip.NewRequest(sip.ACK, recipient)
	ack.SipVersion = invite.SipVersion

	if len(invite.GetHeaders("Route")) > 0 {
		sip.CopyHeaders("Route", invite, ack)
	}
	if from := invite.From(); from != nil {
		ack.AppendHeader(sip.HeaderClone(from))
	}
	if to := resp.To(); to != nil {
		ack.AppendHeader(sip.HeaderClone(to))
	}
	if callID := invite.CallID(); callID != nil {
		ack.AppendHeader(sip.HeaderClone(callID))
	}
	if cseq := invite.CSeq(); cseq != nil {
		ack.AppendHeader(sip.HeaderClone(cseq))
		ack.CSeq().MethodName = sip.ACK
	}
	if contact := invite.Contact(); contact != nil {
		ack.AppendHeader(sip.HeaderClone(contact))
	}

	maxForwards := sip.MaxForwardsHeader(70)
	ack.AppendHeader(&maxForwards)

	ack.SetTransport(invite.Transport())
	ack.SetSource(invite.Source())
	ack.SetDestination(invite.Destination())
	return ack
}

// Bye завершает установленный диалог
func (e *SIPEngine) Bye(ctx context.Context, callID string) error {
	e.dialogsMutex.Lock()
	dialog, ok := e.dialogs[callID]
	if ok {
		dialog.cseq++
		delete(e.dialogs, callID)
	}
	e.dialogsMutex.Unlock()

	if !ok {
		return fmt.Errorf("диалог %s не найден", callID)
	}

	invite := dialog.inviteRequest
	response := dialog.inviteResponse

	// Request-URI берется из Contact удаленной стороны, если он есть
	recipient := invite.Recipient
	if contact := response.Contact(); contact != nil {
		recipient = contact.Address
	}

	bye := sip.NewRequest(sip.BYE, recipient)
	bye.SetDestination(invite.Destination())

	if from := invite.From(); from != nil {
		bye.AppendHeader(sip.HeaderClone(from))
	}
	// To с тегом удаленной стороны из финального ответа
	if to := response.To(); to != nil {
		bye.AppendHeader(sip.HeaderClone(to))
	}

	callIDHeader := sip.CallIDHeader(callID)
	bye.AppendHeader(&callIDHeader)

	cseq := sip.CSeqHeader{SeqNo: dialog.cseq, MethodName: sip.BYE}
	bye.AppendHeader(&cseq)

	maxForwards := sip.MaxForwardsHeader(70)
	bye.AppendHeader(&maxForwards)

	resp, err := e.transact(ctx, bye)
	if err != nil {
		return err
	}
	if resp.StatusCode != sip.StatusOK {
		return &ResponseError{Operation: "BYE", StatusCode: resp.StatusCode, Reason: resp.Reason}
	}
	return nil
}

// Close освобождает ресурсы движка. Идемпотентен.
func (e *SIPEngine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.cancel()
		err = e.ua.Close()
	})
	return err
}
