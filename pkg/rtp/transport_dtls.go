package rtp

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pion/dtls/v2"
	"github.com/pion/rtp"
)

// DTLSTransportConfig конфигурация шифрованного медиа транспорта
type DTLSTransportConfig struct {
	TransportConfig

	// Certificates клиентские сертификаты для рукопожатия
	Certificates []tls.Certificate

	// ServerName имя сервера для проверки сертификата
	ServerName string

	// InsecureSkipVerify отключает проверку сертификата удаленной стороны
	InsecureSkipVerify bool

	// HandshakeTimeout таймаут DTLS рукопожатия
	HandshakeTimeout time.Duration

	// MTU для фрагментации DTLS сообщений
	MTU int

	// CipherSuites допустимые наборы шифров
	CipherSuites []dtls.CipherSuiteID
}

// DefaultDTLSTransportConfig возвращает конфигурацию DTLS по умолчанию
// с наборами шифров, рекомендованными для VoIP
func DefaultDTLSTransportConfig() DTLSTransportConfig {
	return DTLSTransportConfig{
		TransportConfig:  DefaultTransportConfig(),
		HandshakeTimeout: 30 * time.Second,
		MTU:              1200,
		CipherSuites: []dtls.CipherSuiteID{
			dtls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			dtls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			dtls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			dtls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
		},
	}
}

// DTLSTransport реализует Transport поверх DTLS соединения для
// шифрованной передачи медиа
type DTLSTransport struct {
	conn   *dtls.Conn
	config DTLSTransportConfig

	active bool
	mutex  sync.RWMutex
}

// NewDTLSTransport устанавливает DTLS соединение с удаленной стороной.
// В отличие от UDP транспорта удаленный адрес обязателен: рукопожатие
// выполняется при создании.
func NewDTLSTransport(config DTLSTransportConfig) (*DTLSTransport, error) {
	if config.RemoteAddr == "" {
		return nil, fmt.Errorf("для DTLS транспорта обязателен удаленный адрес")
	}
	if config.BufferSize == 0 {
		config.BufferSize = MaxRTPPacketSize
	}
	if config.HandshakeTimeout == 0 {
		config.HandshakeTimeout = 30 * time.Second
	}
	if config.MTU == 0 {
		config.MTU = 1200
	}

	remoteAddr, err := net.ResolveUDPAddr("udp", config.RemoteAddr)
	if err != nil {
		return nil, fmt.Errorf("разрешение удаленного адреса: %w", err)
	}

	dtlsConfig := &dtls.Config{
		Certificates:       config.Certificates,
		ServerName:         config.ServerName,
		InsecureSkipVerify: config.InsecureSkipVerify,
		CipherSuites:       config.CipherSuites,
		MTU:                config.MTU,
		ConnectContextMaker: func() (context.Context, func()) {
			return context.WithTimeout(context.Background(), config.HandshakeTimeout)
		},
	}

	conn, err := dtls.Dial("udp", remoteAddr, dtlsConfig)
	if err != nil {
		return nil, fmt.Errorf("DTLS рукопожатие: %w", err)
	}

	return &DTLSTransport{
		conn:   conn,
		config: config,
		active: true,
	}, nil
}

// Send отправляет RTP пакет по шифрованному каналу
func (t *DTLSTransport) Send(packet *rtp.Packet) error {
	t.mutex.RLock()
	active := t.active
	conn := t.conn
	t.mutex.RUnlock()

	if !active {
		return fmt.Errorf("транспорт закрыт")
	}

	if err := validateRTPHeader(&packet.Header); err != nil {
		return fmt.Errorf("невалидный заголовок исходящего пакета: %w", err)
	}

	data, err := packet.Marshal()
	if err != nil {
		return fmt.Errorf("маршалинг RTP пакета: %w", err)
	}
	if err := validatePacketSize(len(data)); err != nil {
		return err
	}

	if _, err := conn.Write(data); err != nil {
		return classifyNetworkError("DTLS write", err)
	}
	return nil
}

// Receive получает следующий RTP пакет из шифрованного канала
func (t *DTLSTransport) Receive(ctx context.Context) (*rtp.Packet, net.Addr, error) {
	t.mutex.RLock()
	active := t.active
	conn := t.conn
	bufferSize := t.config.BufferSize
	t.mutex.RUnlock()

	if !active {
		return nil, nil, fmt.Errorf("транспорт закрыт")
	}

	select {
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	default:
	}

	buffer := make([]byte, bufferSize)
	conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))

	n, err := conn.Read(buffer)
	if err != nil {
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		default:
		}
		return nil, nil, classifyNetworkError("DTLS read", err)
	}

	if err := validatePacketSize(n); err != nil {
		return nil, nil, err
	}

	packet := &rtp.Packet{}
	if err := packet.Unmarshal(buffer[:n]); err != nil {
		return nil, nil, fmt.Errorf("демаршалинг RTP пакета: %w", err)
	}
	if err := validateRTPHeader(&packet.Header); err != nil {
		return nil, nil, fmt.Errorf("невалидный заголовок входящего пакета: %w", err)
	}

	return packet, t.conn.RemoteAddr(), nil
}

// LocalAddr возвращает локальный адрес соединения
func (t *DTLSTransport) LocalAddr() net.Addr {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	if t.conn == nil {
		return nil
	}
	return t.conn.LocalAddr()
}

// SetRemoteAddr для DTLS не поддерживается: адрес фиксируется
// рукопожатием при создании транспорта
func (t *DTLSTransport) SetRemoteAddr(addr string) error {
	return fmt.Errorf("DTLS транспорт не поддерживает смену удаленного адреса")
}

// Close закрывает соединение. Идемпотентен.
func (t *DTLSTransport) Close() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if !t.active {
		return nil
	}
	t.active = false

	return t.conn.Close()
}
