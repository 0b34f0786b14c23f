// Package audio реализует аудио конвейер софтфона: захват и воспроизведение
// через аппаратные устройства, транскодирование G.711 и передачу кадров
// фиксированной длительности (20 мс) через ограниченные каналы.
//
// Основные компоненты:
//   - Transcoder: кодирование/декодирование PCM <-> сжатый payload кодека
//   - Resampler: преобразование частоты дискретизации с сохранением
//     границ кадров
//   - Engine/Device: абстракция аудио оборудования (реализация на malgo)
//   - CaptureStream/PlaybackStream: мост между callback'ами устройства
//     и каналами кадров
//
// Аппаратные callback'и никогда не блокируются: при переполнении канала
// кадр отбрасывается, при опустошении воспроизводится тишина.
package audio
