// Package rtp реализует транспортный слой медиа для софтфона:
// отправку и прием RTP пакетов по UDP (опционально DTLS), выделение
// четных медиа портов согласно RFC 3550 и пакетизацию аудио payload'ов
// с монотонной нумерацией и временными метками.
package rtp
