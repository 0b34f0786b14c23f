package rtp

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pion/rtp"
)

// UDPTransport реализует Transport поверх UDP сокета, настроенного
// для голосового трафика (низкая латентность, DSCP маркировка)
type UDPTransport struct {
	conn       *net.UDPConn
	remoteAddr *net.UDPAddr
	config     TransportConfig

	active bool
	mutex  sync.RWMutex
}

// NewUDPTransport создает UDP транспорт для RTP
func NewUDPTransport(config TransportConfig) (*UDPTransport, error) {
	if config.BufferSize == 0 {
		config.BufferSize = MaxRTPPacketSize
	}

	localAddr, err := net.ResolveUDPAddr("udp", config.LocalAddr)
	if err != nil {
		return nil, fmt.Errorf("разрешение локального адреса: %w", err)
	}

	conn, err := net.ListenUDP("udp", localAddr)
	if err != nil {
		return nil, fmt.Errorf("создание UDP сокета: %w", err)
	}

	if err := tuneVoiceSocket(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("настройка сокета: %w", err)
	}

	transport := &UDPTransport{
		conn:   conn,
		config: config,
		active: true,
	}

	if config.RemoteAddr != "" {
		remoteAddr, err := net.ResolveUDPAddr("udp", config.RemoteAddr)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("разрешение удаленного адреса: %w", err)
		}
		transport.remoteAddr = remoteAddr
	}

	return transport, nil
}

// Send отправляет RTP пакет удаленной стороне
func (t *UDPTransport) Send(packet *rtp.Packet) error {
	t.mutex.RLock()
	active := t.active
	conn := t.conn
	remoteAddr := t.remoteAddr
	t.mutex.RUnlock()

	if !active {
		return fmt.Errorf("транспорт закрыт")
	}
	if remoteAddr == nil {
		return fmt.Errorf("удаленный адрес не установлен")
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

	if _, err := conn.WriteToUDP(data, remoteAddr); err != nil {
		return classifyNetworkError("UDP write", err)
	}
	return nil
}

// Receive получает следующий RTP пакет. Читает с коротким дедлайном,
// чтобы регулярно проверять отмену контекста.
func (t *UDPTransport) Receive(ctx context.Context) (*rtp.Packet, net.Addr, error) {
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

	n, addr, err := conn.ReadFromUDP(buffer)
	if err != nil {
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		default:
		}
		return nil, nil, classifyNetworkError("UDP read", err)
	}

	if err := validatePacketSize(n); err != nil {
		return nil, nil, err
	}

	// Первый входящий пакет фиксирует удаленный адрес (symmetric RTP)
	t.mutex.Lock()
	if t.remoteAddr == nil {
		t.remoteAddr = addr
	}
	t.mutex.Unlock()

	packet := &rtp.Packet{}
	if err := packet.Unmarshal(buffer[:n]); err != nil {
		return nil, nil, fmt.Errorf("демаршалинг RTP пакета: %w", err)
	}
	if err := validateRTPHeader(&packet.Header); err != nil {
		return nil, nil, fmt.Errorf("невалидный заголовок входящего пакета: %w", err)
	}

	return packet, addr, nil
}

// LocalAddr возвращает локальный адрес сокета
func (t *UDPTransport) LocalAddr() net.Addr {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	if t.conn == nil {
		return nil
	}
	return t.conn.LocalAddr()
}

// SetRemoteAddr устанавливает адрес удаленной стороны из SDP ответа
func (t *UDPTransport) SetRemoteAddr(addr string) error {
	remoteAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("разрешение удаленного адреса: %w", err)
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.remoteAddr = remoteAddr
	return nil
}

// Close закрывает транспорт. Идемпотентен.
func (t *UDPTransport) Close() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if !t.active {
		return nil
	}
	t.active = false

	return t.conn.Close()
}

// tuneVoiceSocket применяет платформо-зависимые настройки сокета
// для голосового трафика
func tuneVoiceSocket(conn *net.UDPConn) error {
	rawConn, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	return rawConn.Control(func(fd uintptr) {
		setVoiceSockOpts(fd)
	})
}
