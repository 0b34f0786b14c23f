package audio

// Resampler преобразует частоту дискретизации PCM потока.
// Преобразование сохраняет длительность кадра: 20 мс на входе дают
// ровно 20 мс сэмплов на выходе, поэтому нумерация кадров остается
// выровненной с временным доменом сети.
type Resampler struct {
	fromRate int
	toRate   int
}

// NewResampler создает преобразователь частоты дискретизации.
// Частоты должны быть кратны 50 (целое число сэмплов на 20 мс кадр).
func NewResampler(fromRate, toRate int) (*Resampler, error) {
	if fromRate <= 0 || toRate <= 0 {
		return nil, NewAudioError(ErrorCodeInvalidRate,
			"частоты должны быть положительными: %d -> %d", fromRate, toRate)
	}
	if fromRate%50 != 0 || toRate%50 != 0 {
		return nil, NewAudioError(ErrorCodeInvalidRate,
			"частоты должны давать целое число сэмплов на 20 мс кадр: %d -> %d", fromRate, toRate)
	}

	return &Resampler{fromRate: fromRate, toRate: toRate}, nil
}

// Identity сообщает, совпадают ли входная и выходная частоты
func (r *Resampler) Identity() bool {
	return r.fromRate == r.toRate
}

// Process преобразует кадр сэмплов линейной интерполяцией.
// Длина выхода: len(in) * toRate / fromRate. При совпадающих частотах
// вход возвращается без копирования.
func (r *Resampler) Process(in []int16) []int16 {
	if r.Identity() {
		return in
	}
	if len(in) == 0 {
		return nil
	}

	outLen := len(in) * r.toRate / r.fromRate
	out := make([]int16, outLen)

	for i := 0; i < outLen; i++ {
		pos := float64(i) * float64(r.fromRate) / float64(r.toRate)
		idx := int(pos)
		frac := pos - float64(idx)

		s0 := in[idx]
		s1 := s0
		if idx+1 < len(in) {
			s1 = in[idx+1]
		}

		out[i] = int16(float64(s0) + frac*float64(s1-s0))
	}

	return out
}
