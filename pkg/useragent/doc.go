// Package useragent реализует ядро софтфона: регистрацию на SIP
// сервере с автоматическим продлением и автомат состояний исходящих
// звонков. Сигнализация и медиа подключаются через интерфейсы
// signaling.Engine и MediaFactory, что позволяет тестировать ядро без
// сети и звуковых устройств.
//
// Исходящий звонок проходит состояния Idle -> Calling -> [EarlyMedia]
// -> Connected -> Terminating -> Terminated. Завершение имеет
// приоритет: успешный ответ, пришедший после начала завершения,
// отбрасывается. Terminated — поглощающее состояние.
package useragent
