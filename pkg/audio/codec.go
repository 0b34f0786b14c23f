package audio

import (
	"math"
	"time"

	"github.com/zaf/g711"
)

// CodecID идентифицирует аудио кодек
type CodecID int

const (
	// CodecPCMA — G.711 a-law, единственный полностью поддерживаемый кодек
	CodecPCMA CodecID = iota
	// CodecPCMU — G.711 u-law, зарезервирован (договариваемый, но не кодируемый)
	CodecPCMU
	// CodecG722 — G.722, зарезервирован
	CodecG722
)

// String возвращает имя кодека как в SDP rtpmap
func (c CodecID) String() string {
	switch c {
	case CodecPCMA:
		return "PCMA"
	case CodecPCMU:
		return "PCMU"
	case CodecG722:
		return "G722"
	default:
		return "UNKNOWN"
	}
}

// Константы телефонного аудио тракта
const (
	// CodecClockRate частота дискретизации G.711 (Гц)
	CodecClockRate = 8000

	// FrameDuration длительность одного кадра
	FrameDuration = 20 * time.Millisecond

	// SamplesPerFrame количество PCM сэмплов в одном 20 мс кадре при 8 кГц
	SamplesPerFrame = CodecClockRate / 1000 * 20 // 160
)

// Frame кадр PCM фиксированной длительности с монотонным порядковым
// номером и временной меткой в домене медиа-часов. Владение кадром
// передается по конвейеру: производитель отдает, потребитель забирает.
type Frame struct {
	Seq       uint32
	Timestamp uint32
	Samples   []int16
}

// Transcoder преобразует PCM кадры в сжатый payload кодека и обратно
type Transcoder interface {
	// Encode кодирует PCM сэмплы в payload кодека
	Encode(pcm []int16) ([]byte, error)

	// Decode декодирует payload кодека в PCM сэмплы
	Decode(payload []byte) ([]int16, error)

	// Codec возвращает идентификатор кодека
	Codec() CodecID

	// ClockRate возвращает частоту дискретизации кодека
	ClockRate() int
}

// NewTranscoder создает транскодер для указанного кодека.
// Поддерживается только PCMA; для остальных возвращается
// ErrorCodeUnsupportedCodec.
func NewTranscoder(codec CodecID) (Transcoder, error) {
	switch codec {
	case CodecPCMA:
		return &pcmaTranscoder{}, nil
	default:
		return nil, NewAudioError(ErrorCodeUnsupportedCodec,
			"кодек %s не поддерживается для кодирования", codec)
	}
}

// pcmaTranscoder реализует Transcoder для G.711 a-law
type pcmaTranscoder struct{}

func (t *pcmaTranscoder) Codec() CodecID { return CodecPCMA }

func (t *pcmaTranscoder) ClockRate() int { return CodecClockRate }

// Encode кодирует 16-битный PCM в a-law, один байт на сэмпл
func (t *pcmaTranscoder) Encode(pcm []int16) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, NewAudioError(ErrorCodeInvalidFrameSize, "пустой PCM кадр")
	}

	payload := make([]byte, len(pcm))
	for i, sample := range pcm {
		// -32768 не имеет положительной пары в int16: отрицание в
		// кодере переполняется и дает почти нулевой байт
		if sample == math.MinInt16 {
			sample = math.MinInt16 + 1
		}
		payload[i] = g711.EncodeAlawFrame(sample)
	}
	return payload, nil
}

// Decode декодирует a-law payload в 16-битный PCM
func (t *pcmaTranscoder) Decode(payload []byte) ([]int16, error) {
	if len(payload) == 0 {
		return nil, NewAudioError(ErrorCodeInvalidFrameSize, "пустой payload")
	}

	pcm := make([]int16, len(payload))
	for i, b := range payload {
		pcm[i] = g711.DecodeAlawFrame(b)
	}
	return pcm, nil
}
