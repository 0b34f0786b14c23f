//go:build !linux

package rtp

// setVoiceSockOpts на платформах без поддержки SO_PRIORITY/DSCP через
// golang.org/x/sys оставляет настройки сокета по умолчанию
func setVoiceSockOpts(fd uintptr) {}
