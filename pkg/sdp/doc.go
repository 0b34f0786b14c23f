// Package sdp реализует переговоры медиа возможностей offer/answer:
// построение SDP offer с локальным медиа портом и списком кодеков в
// порядке предпочтения, разбор SDP answer и выбор первого общего
// кодека в порядке предпочтения оферента.
package sdp
