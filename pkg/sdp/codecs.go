package sdp

import (
	"github.com/arzzra/softagent/pkg/audio"
)

// Codec описывает кодек в терминах SDP rtpmap
type Codec struct {
	ID          audio.CodecID
	Name        string
	PayloadType uint8
	ClockRate   int
}

// Статические payload types согласно RFC 3551
var (
	CodecPCMU = Codec{ID: audio.CodecPCMU, Name: "PCMU", PayloadType: 0, ClockRate: 8000}
	CodecPCMA = Codec{ID: audio.CodecPCMA, Name: "PCMA", PayloadType: 8, ClockRate: 8000}
	CodecG722 = Codec{ID: audio.CodecG722, Name: "G722", PayloadType: 9, ClockRate: 8000}
)

// LocalCapabilities возвращает список кодеков софтфона в порядке
// предпочтения. Кодировать умеем только PCMA, поэтому он единственный.
func LocalCapabilities() []Codec {
	return []Codec{CodecPCMA}
}

// Direction направление медиа потока
type Direction int

const (
	DirectionSendRecv Direction = iota
	DirectionSendOnly
	DirectionRecvOnly
	DirectionInactive
)

// String возвращает SDP представление направления
func (d Direction) String() string {
	switch d {
	case DirectionSendOnly:
		return "sendonly"
	case DirectionRecvOnly:
		return "recvonly"
	case DirectionInactive:
		return "inactive"
	default:
		return "sendrecv"
	}
}

// MediaDescriptor результат переговоров: согласованный кодек и
// транспортный адрес удаленной стороны. Неизменяем после создания
// медиа сессии.
type MediaDescriptor struct {
	Codec       audio.CodecID
	PayloadType uint8
	ClockRate   int
	Address     string
	Port        int
	Direction   Direction
}

// RemoteAddr возвращает адрес удаленной стороны в формате host:port
func (d MediaDescriptor) RemoteAddr() string {
	return joinHostPort(d.Address, d.Port)
}
