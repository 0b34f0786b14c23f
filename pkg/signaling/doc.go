// Package signaling определяет интерфейс сигнального движка софтфона
// и его реализацию поверх sipgo: регистрация с digest аутентификацией,
// исходящие INVITE/ACK/BYE транзакции и поток входящих событий,
// коррелированных по идентификатору звонка.
//
// Ядро автомата состояний зависит только от интерфейса Engine, поэтому
// в тестах сигнальный движок подменяется фейком.
package signaling
