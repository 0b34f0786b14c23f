package sdp

import (
	"fmt"
	"strings"
	"testing"

	"github.com/arzzra/softagent/pkg/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildAnswer(address string, port int, formats string, rtpmaps ...string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "v=0\r\n")
	fmt.Fprintf(&b, "o=- 123 123 IN IP4 %s\r\n", address)
	fmt.Fprintf(&b, "s=answer\r\n")
	fmt.Fprintf(&b, "c=IN IP4 %s\r\n", address)
	fmt.Fprintf(&b, "t=0 0\r\n")
	fmt.Fprintf(&b, "m=audio %d RTP/AVP %s\r\n", port, formats)
	for _, rtpmap := range rtpmaps {
		fmt.Fprintf(&b, "a=rtpmap:%s\r\n", rtpmap)
	}
	fmt.Fprintf(&b, "a=sendrecv\r\n")
	return []byte(b.String())
}

// TestBuildOffer проверяет построение offer: порт, кодеки в порядке
// предпочтения, обязательные атрибуты
func TestBuildOffer(t *testing.T) {
	negotiator := NewNegotiator("test")

	offer, err := negotiator.BuildOffer("192.168.1.10", 10002, []Codec{CodecPCMA, CodecPCMU})
	require.NoError(t, err)

	raw, err := offer.Marshal()
	require.NoError(t, err)
	text := string(raw)

	assert.Contains(t, text, "m=audio 10002 RTP/AVP 8 0")
	assert.Contains(t, text, "a=rtpmap:8 PCMA/8000")
	assert.Contains(t, text, "a=rtpmap:0 PCMU/8000")
	assert.Contains(t, text, "a=ptime:20")
	assert.Contains(t, text, "a=sendrecv")
	assert.Contains(t, text, "c=IN IP4 192.168.1.10")
}

// TestBuildOfferValidation проверяет отказ на невалидных параметрах
func TestBuildOfferValidation(t *testing.T) {
	negotiator := NewNegotiator("")

	_, err := negotiator.BuildOffer("192.168.1.10", 10002, nil)
	require.Error(t, err)
	assert.True(t, IsSDPError(err, ErrorCodeSDPGeneration))

	_, err = negotiator.BuildOffer("не-адрес", 10002, []Codec{CodecPCMA})
	require.Error(t, err)
	assert.True(t, IsSDPError(err, ErrorCodeSDPGeneration))
}

// TestResolveAnswer тестирует выбор кодека по ответу удаленной стороны
// Проверяет:
// - Выбор первого общего кодека в порядке предпочтения оферента
// - Ошибку NoCommonCodec на непересекающихся списках
// - Извлечение транспортного адреса из answer
func TestResolveAnswer(t *testing.T) {
	negotiator := NewNegotiator("test")

	tests := []struct {
		name          string
		capabilities  []Codec
		answer        []byte
		expectError   bool
		errorCode     SDPErrorCode
		expectedCodec audio.CodecID
		expectedPT    uint8
	}{
		{
			name:          "Единственный общий кодек PCMA",
			capabilities:  []Codec{CodecPCMA},
			answer:        buildAnswer("10.0.0.5", 20000, "8", "8 PCMA/8000"),
			expectedCodec: audio.CodecPCMA,
			expectedPT:    8,
		},
		{
			name:          "Порядок предпочтения оферента при нескольких общих",
			capabilities:  []Codec{CodecPCMA, CodecPCMU},
			answer:        buildAnswer("10.0.0.5", 20000, "0 8", "0 PCMU/8000", "8 PCMA/8000"),
			expectedCodec: audio.CodecPCMA,
			expectedPT:    8,
		},
		{
			name:         "Непересекающиеся списки",
			capabilities: []Codec{CodecPCMA},
			answer:       buildAnswer("10.0.0.5", 20000, "0 9", "0 PCMU/8000", "9 G722/8000"),
			expectError:  true,
			errorCode:    ErrorCodeNoCommonCodec,
		},
		{
			name:          "Статический PT без rtpmap принимается",
			capabilities:  []Codec{CodecPCMA},
			answer:        buildAnswer("10.0.0.5", 20000, "8"),
			expectedCodec: audio.CodecPCMA,
			expectedPT:    8,
		},
		{
			name:         "Совпадение PT с чужим rtpmap отклоняется",
			capabilities: []Codec{CodecPCMA},
			answer:       buildAnswer("10.0.0.5", 20000, "8", "8 G726-32/8000"),
			expectError:  true,
			errorCode:    ErrorCodeNoCommonCodec,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			offer, err := negotiator.BuildOffer("192.168.1.10", 10002, tt.capabilities)
			require.NoError(t, err)

			descriptor, err := negotiator.ResolveAnswer(offer, tt.answer)

			if tt.expectError {
				require.Error(t, err)
				assert.True(t, IsSDPError(err, tt.errorCode),
					"ожидался код %d, получено: %v", tt.errorCode, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expectedCodec, descriptor.Codec)
			assert.Equal(t, tt.expectedPT, descriptor.PayloadType)
			assert.Equal(t, "10.0.0.5", descriptor.Address)
			assert.Equal(t, 20000, descriptor.Port)
			assert.Equal(t, "10.0.0.5:20000", descriptor.RemoteAddr())
			assert.Equal(t, DirectionSendRecv, descriptor.Direction)
		})
	}
}

// TestResolveAnswerMalformed проверяет разбор некорректных answer
func TestResolveAnswerMalformed(t *testing.T) {
	negotiator := NewNegotiator("test")
	offer, err := negotiator.BuildOffer("192.168.1.10", 10002, []Codec{CodecPCMA})
	require.NoError(t, err)

	_, err = negotiator.ResolveAnswer(offer, []byte("мусор"))
	require.Error(t, err)
	assert.True(t, IsSDPError(err, ErrorCodeSDPParsing))

	// Answer без аудио секции
	noAudio := []byte("v=0\r\no=- 1 1 IN IP4 10.0.0.5\r\ns=x\r\nc=IN IP4 10.0.0.5\r\nt=0 0\r\n")
	_, err = negotiator.ResolveAnswer(offer, noAudio)
	require.Error(t, err)
	assert.True(t, IsSDPError(err, ErrorCodeNoAudioMedia))
}

// TestResolveAnswerDirection проверяет отражение направления потока
func TestResolveAnswerDirection(t *testing.T) {
	negotiator := NewNegotiator("test")
	offer, err := negotiator.BuildOffer("192.168.1.10", 10002, []Codec{CodecPCMA})
	require.NoError(t, err)

	answer := []byte(strings.Replace(
		string(buildAnswer("10.0.0.5", 20000, "8", "8 PCMA/8000")),
		"a=sendrecv", "a=sendonly", 1))

	descriptor, err := negotiator.ResolveAnswer(offer, answer)
	require.NoError(t, err)
	assert.Equal(t, DirectionRecvOnly, descriptor.Direction,
		"sendonly удаленной стороны означает recvonly для нас")
}
