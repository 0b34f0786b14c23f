//go:build linux

package rtp

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// DSCP EF (Expedited Forwarding) — рекомендованная маркировка для
// голосового трафика (RFC 3246)
const dscpExpeditedForwarding = 46

// setVoiceSockOpts применяет Linux-специфичные настройки сокета для
// минимизации латентности голосового трафика. Ошибки отдельных опций
// игнорируются: в контейнерах часть опций недоступна, а их отсутствие
// не мешает передаче медиа.
func setVoiceSockOpts(fd uintptr) {
	// Высокий приоритет очереди для интерактивного аудио
	syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, unix.SO_PRIORITY, 6)

	// DSCP маркировка в старших 6 битах TOS
	tos := dscpExpeditedForwarding << 2
	syscall.SetsockoptInt(int(fd), syscall.IPPROTO_IP, syscall.IP_TOS, tos)
	syscall.SetsockoptInt(int(fd), syscall.IPPROTO_IPV6, unix.IPV6_TCLASS, tos)

	// Переиспользование адреса при быстром перезапуске сессии
	syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
}
