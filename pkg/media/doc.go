// Package media реализует медиа сессию звонка: мост между аппаратными
// аудио потоками и RTP транспортом через ограниченные каналы кадров.
//
// Захват пишет кадры в исходящий канал, цикл отправки кодирует их и
// передает в RTP сессию. Цикл приема декодирует входящие payload'ы в
// кадры и кладет во входящий канал воспроизведения. При отставании
// потребителя воспроизведения из входящего канала вытесняется самый
// старый кадр: ограниченная устарелость предпочтительнее
// неограниченной задержки.
package media
