package sdp

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/pion/sdp/v3"
)

// Offer локально построенный SDP offer вместе со списком предложенных
// кодеков в порядке предпочтения
type Offer struct {
	Codecs      []Codec
	Description *sdp.SessionDescription
}

// Marshal сериализует offer для тела INVITE
func (o *Offer) Marshal() ([]byte, error) {
	raw, err := o.Description.Marshal()
	if err != nil {
		return nil, WrapSDPError(ErrorCodeSDPGeneration, err, "сериализация offer")
	}
	return raw, nil
}

// Negotiator строит SDP offer и разрешает answer в MediaDescriptor
type Negotiator struct {
	sessionName string
}

// NewNegotiator создает переговорщик с указанным именем сессии
func NewNegotiator(sessionName string) *Negotiator {
	if sessionName == "" {
		sessionName = "softagent"
	}
	return &Negotiator{sessionName: sessionName}
}

// BuildOffer строит SDP offer с локальным медиа портом и списком
// кодеков в порядке предпочтения
func (n *Negotiator) BuildOffer(localIP string, rtpPort int, capabilities []Codec) (*Offer, error) {
	if len(capabilities) == 0 {
		return nil, NewSDPError(ErrorCodeSDPGeneration, "пустой список кодеков")
	}
	if net.ParseIP(localIP) == nil {
		return nil, NewSDPError(ErrorCodeSDPGeneration, "невалидный локальный IP: %s", localIP)
	}

	formats := make([]string, 0, len(capabilities))
	attributes := make([]sdp.Attribute, 0, len(capabilities)+2)
	for _, codec := range capabilities {
		pt := strconv.Itoa(int(codec.PayloadType))
		formats = append(formats, pt)
		attributes = append(attributes,
			sdp.NewAttribute("rtpmap", pt+" "+codec.Name+"/"+strconv.Itoa(codec.ClockRate)))
	}
	attributes = append(attributes,
		sdp.NewAttribute("ptime", "20"),
		sdp.NewPropertyAttribute("sendrecv"),
	)

	now := uint64(time.Now().Unix())
	description := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      now,
			SessionVersion: now,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: localIP,
		},
		SessionName: sdp.SessionName(n.sessionName),
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: localIP},
		},
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
		MediaDescriptions: []*sdp.MediaDescription{
			{
				MediaName: sdp.MediaName{
					Media:   "audio",
					Port:    sdp.RangedPort{Value: rtpPort},
					Protos:  []string{"RTP", "AVP"},
					Formats: formats,
				},
				Attributes: attributes,
			},
		},
	}

	return &Offer{
		Codecs:      append([]Codec(nil), capabilities...),
		Description: description,
	}, nil
}

// ResolveAnswer разбирает SDP answer и выбирает первый общий кодек в
// порядке предпочтения оферента. Транспортный адрес берется из answer.
func (n *Negotiator) ResolveAnswer(offer *Offer, answerRaw []byte) (*MediaDescriptor, error) {
	answer := &sdp.SessionDescription{}
	if err := answer.Unmarshal(answerRaw); err != nil {
		return nil, WrapSDPError(ErrorCodeSDPParsing, err, "разбор answer")
	}

	media := findAudioMedia(answer)
	if media == nil {
		return nil, NewSDPError(ErrorCodeNoAudioMedia, "answer не содержит аудио секции")
	}

	address, err := connectionAddress(answer, media)
	if err != nil {
		return nil, err
	}

	answered := answeredPayloadTypes(media)

	// Пересечение в порядке предпочтения оферента
	for _, codec := range offer.Codecs {
		if _, ok := answered[codec.PayloadType]; !ok {
			continue
		}
		// Если answer содержит rtpmap, имя и частота должны совпасть.
		// Необязательное число каналов ("/1") игнорируется.
		if rtpmap := answered[codec.PayloadType]; rtpmap != "" {
			expected := codec.Name + "/" + strconv.Itoa(codec.ClockRate)
			if !strings.EqualFold(rtpmap, expected) &&
				!strings.HasPrefix(strings.ToUpper(rtpmap), strings.ToUpper(expected)+"/") {
				continue
			}
		}

		return &MediaDescriptor{
			Codec:       codec.ID,
			PayloadType: codec.PayloadType,
			ClockRate:   codec.ClockRate,
			Address:     address,
			Port:        media.MediaName.Port.Value,
			Direction:   remoteDirection(media),
		}, nil
	}

	return nil, NewSDPError(ErrorCodeNoCommonCodec,
		"нет общего кодека: предложено %d, отвечено %d", len(offer.Codecs), len(answered))
}

// findAudioMedia возвращает первую аудио секцию
func findAudioMedia(description *sdp.SessionDescription) *sdp.MediaDescription {
	for _, media := range description.MediaDescriptions {
		if media.MediaName.Media == "audio" {
			return media
		}
	}
	return nil
}

// connectionAddress извлекает адрес соединения: media-уровень имеет
// приоритет над session-уровнем
func connectionAddress(description *sdp.SessionDescription, media *sdp.MediaDescription) (string, error) {
	if media.ConnectionInformation != nil && media.ConnectionInformation.Address != nil {
		return media.ConnectionInformation.Address.Address, nil
	}
	if description.ConnectionInformation != nil && description.ConnectionInformation.Address != nil {
		return description.ConnectionInformation.Address.Address, nil
	}
	return "", NewSDPError(ErrorCodeNoConnectionAddress, "answer не содержит адрес соединения")
}

// answeredPayloadTypes собирает payload types из answer вместе с их
// rtpmap описаниями (пустая строка для статических PT без rtpmap)
func answeredPayloadTypes(media *sdp.MediaDescription) map[uint8]string {
	answered := make(map[uint8]string, len(media.MediaName.Formats))
	for _, format := range media.MediaName.Formats {
		pt, err := strconv.Atoi(format)
		if err != nil || pt < 0 || pt > 127 {
			continue
		}
		answered[uint8(pt)] = ""
	}

	for _, attribute := range media.Attributes {
		if attribute.Key != "rtpmap" || attribute.Value == "" {
			continue
		}
		parts := strings.SplitN(attribute.Value, " ", 2)
		if len(parts) != 2 {
			continue
		}
		pt, err := strconv.Atoi(parts[0])
		if err != nil {
			continue
		}
		if _, ok := answered[uint8(pt)]; ok {
			answered[uint8(pt)] = strings.TrimSpace(parts[1])
		}
	}

	return answered
}

// remoteDirection определяет направление с нашей стороны: sendonly
// удаленной стороны означает recvonly для нас
func remoteDirection(media *sdp.MediaDescription) Direction {
	for _, attribute := range media.Attributes {
		switch attribute.Key {
		case "sendonly":
			return DirectionRecvOnly
		case "recvonly":
			return DirectionSendOnly
		case "inactive":
			return DirectionInactive
		case "sendrecv":
			return DirectionSendRecv
		}
	}
	return DirectionSendRecv
}

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
