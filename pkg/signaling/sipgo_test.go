package signaling

import (
	"testing"

	"github.com/emiago/sipgo/sip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRegistrarURI проверяет разбор адреса регистратора с портом и без
func TestRegistrarURI(t *testing.T) {
	uri, err := registrarURI(Account{Registrar: "sip.example.com:5070"})
	require.NoError(t, err)
	assert.Equal(t, "sip.example.com", uri.Host)
	assert.Equal(t, 5070, uri.Port)

	uri, err = registrarURI(Account{Registrar: "sip.example.com"})
	require.NoError(t, err)
	assert.Equal(t, "sip.example.com", uri.Host)
	assert.Equal(t, 5060, uri.Port)

	_, err = registrarURI(Account{Registrar: "sip.example.com:не-порт"})
	require.Error(t, err)
}

// registerRequest строит REGISTER с обязательными заголовками для
// построения ответа
func registerRequest() *sip.Request {
	aor := sip.Uri{User: "alice", Host: "sip.example.com", Port: 5060}
	req := sip.NewRequest(sip.REGISTER, sip.Uri{Host: "sip.example.com", Port: 5060})

	from := sip.FromHeader{Address: aor, Params: sip.NewParams()}
	from.Params.Add("tag", sip.GenerateTagN(8))
	req.AppendHeader(&from)

	to := sip.ToHeader{Address: aor, Params: sip.NewParams()}
	req.AppendHeader(&to)

	callID := sip.CallIDHeader("test-call-id")
	req.AppendHeader(&callID)

	cseq := sip.CSeqHeader{SeqNo: 1, MethodName: sip.REGISTER}
	req.AppendHeader(&cseq)

	return req
}

// TestGrantedExpiry проверяет извлечение выданного срока регистрации:
// заголовок Expires имеет приоритет над запрошенным значением
func TestGrantedExpiry(t *testing.T) {
	req := registerRequest()

	resp := sip.NewResponseFromRequest(req, 200, "OK", nil)
	resp.AppendHeader(sip.NewHeader("Expires", "1800"))
	assert.Equal(t, "1800s", grantedExpiry(resp, 300).String())

	// без заголовка возвращается запрошенный срок
	resp = sip.NewResponseFromRequest(req, 200, "OK", nil)
	assert.Equal(t, "5m0s", grantedExpiry(resp, 300).String())

	// невалидное значение игнорируется
	resp = sip.NewResponseFromRequest(req, 200, "OK", nil)
	resp.AppendHeader(sip.NewHeader("Expires", "мусор"))
	assert.Equal(t, "5m0s", grantedExpiry(resp, 300).String())
}

// TestBuildAck проверяет построение ACK на успешный финальный ответ:
// Request-URI из Contact ответа, To с тегом удаленной стороны, CSeq с
// номером INVITE и методом ACK
func TestBuildAck(t *testing.T) {
	target := sip.Uri{User: "bob", Host: "sip.example.com", Port: 5060}
	invite := sip.NewRequest(sip.INVITE, target)
	invite.SetDestination("sip.example.com:5060")

	from := sip.FromHeader{Address: sip.Uri{User: "alice", Host: "192.168.1.10", Port: 5060}, Params: sip.NewParams()}
	from.Params.Add("tag", "local-tag")
	invite.AppendHeader(&from)

	to := sip.ToHeader{Address: target, Params: sip.NewParams()}
	invite.AppendHeader(&to)

	contact := sip.ContactHeader{Address: sip.Uri{User: "alice", Host: "192.168.1.10", Port: 5060}}
	invite.AppendHeader(&contact)

	callID := sip.CallIDHeader("ack-test-call")
	invite.AppendHeader(&callID)

	cseq := sip.CSeqHeader{SeqNo: 7, MethodName: sip.INVITE}
	invite.AppendHeader(&cseq)

	resp := sip.NewResponseFromRequest(invite, 200, "OK", nil)
	remoteContact := sip.ContactHeader{Address: sip.Uri{User: "bob", Host: "203.0.113.7", Port: 5080}}
	resp.AppendHeader(&remoteContact)

	ack := buildAck(invite, resp)

	assert.Equal(t, sip.ACK, ack.Method)
	assert.Equal(t, "203.0.113.7", ack.Recipient.Host)
	assert.Equal(t, 5080, ack.Recipient.Port)

	require.NotNil(t, ack.CSeq())
	assert.Equal(t, uint32(7), ack.CSeq().SeqNo)
	assert.Equal(t, sip.ACK, ack.CSeq().MethodName)

	require.NotNil(t, ack.To())
	_, hasTag := ack.To().Params.Get("tag")
	assert.True(t, hasTag, "To в ACK должен нести тег удаленной стороны")

	require.NotNil(t, ack.CallID())
	assert.Equal(t, "ack-test-call", ack.CallID().Value())
	assert.Equal(t, "sip.example.com:5060", ack.Destination())
}

// TestEventTypeString проверяет имена типов событий
func TestEventTypeString(t *testing.T) {
	assert.Equal(t, "provisional", EventProvisional.String())
	assert.Equal(t, "answered", EventAnswered.String())
	assert.Equal(t, "failed", EventFailed.String())
	assert.Equal(t, "remote-bye", EventRemoteBye.String())
}
