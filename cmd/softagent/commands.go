package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/arzzra/softagent/pkg/signaling"
	"github.com/arzzra/softagent/pkg/useragent"
)

const helpText = `Команды:
  register user=<имя> password=<пароль|env:ПЕРЕМЕННАЯ> registrar=<хост:порт>
      зарегистрироваться на сервере; password можно опустить
  unregister
      снять регистрацию
  call user=<sip-uri>
      позвонить абоненту
  terminate
      завершить текущий звонок
  status
      состояние регистрации и текущего звонка
  help
      эта справка
  quit
      выход`

// commandShell интерактивный цикл команд софтфона
type commandShell struct {
	ua     *useragent.UserAgent
	logger *slog.Logger

	// идентификатор последнего начатого звонка
	currentCall string
}

func newCommandShell(ua *useragent.UserAgent, logger *slog.Logger) *commandShell {
	return &commandShell{ua: ua, logger: logger}
}

// run читает команды построчно до EOF или отмены контекста
func (s *commandShell) run(ctx context.Context, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, "softagent готов, введите help для справки")

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		scanErr <- scanner.Err()
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return <-scanErr
			}
			if quit := s.execute(ctx, out, line); quit {
				return nil
			}
		}
	}
}

// execute выполняет одну команду; возвращает true для выхода
func (s *commandShell) execute(ctx context.Context, out io.Writer, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	opCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	switch fields[0] {
	case "register":
		s.register(opCtx, out, fields[1:])
	case "unregister":
		if err := s.ua.Unregister(opCtx); err != nil {
			fmt.Fprintf(out, "ошибка: %v\n", err)
			return false
		}
		fmt.Fprintln(out, "регистрация снята")
	case "call":
		s.call(opCtx, out, fields[1:])
	case "terminate":
		s.terminate(opCtx, out)
	case "status":
		s.status(out)
	case "help":
		fmt.Fprintln(out, helpText)
	case "quit", "exit":
		return true
	default:
		fmt.Fprintf(out, "неизвестная команда: %s (help для справки)\n", fields[0])
	}
	return false
}

// register разбирает аргументы и регистрирует аккаунт
func (s *commandShell) register(ctx context.Context, out io.Writer, args []string) {
	params := parseParams(args)

	username := params["user"]
	registrar := params["registrar"]
	if username == "" || registrar == "" {
		fmt.Fprintln(out, "нужны user=<имя> и registrar=<хост:порт>")
		return
	}

	password, err := resolvePassword(params["password"])
	if err != nil {
		fmt.Fprintf(out, "ошибка: %v\n", err)
		return
	}

	account := signaling.Account{
		Username:  username,
		Password:  password,
		Registrar: registrar,
	}
	if err := s.ua.Register(ctx, account); err != nil {
		fmt.Fprintf(out, "ошибка регистрации: %v\n", err)
		return
	}

	status := s.ua.RegistrationStatus()
	fmt.Fprintf(out, "зарегистрирован как %s@%s до %s\n",
		username, registrar, status.Expiry.Format(time.TimeOnly))
}

// call начинает исходящий звонок
func (s *commandShell) call(ctx context.Context, out io.Writer, args []string) {
	params := parseParams(args)

	target := params["user"]
	if target == "" {
		fmt.Fprintln(out, "нужен user=<sip-uri>")
		return
	}
	if !strings.HasPrefix(target, "sip:") && !strings.HasPrefix(target, "sips:") {
		target = "sip:" + target
	}

	callID, err := s.ua.Call(ctx, target)
	if err != nil {
		fmt.Fprintf(out, "ошибка звонка: %v\n", err)
		return
	}
	s.currentCall = callID
	fmt.Fprintf(out, "звонок %s начат\n", callID)
}

// terminate завершает текущий звонок
func (s *commandShell) terminate(ctx context.Context, out io.Writer) {
	if s.currentCall == "" {
		fmt.Fprintln(out, "нет текущего звонка")
		return
	}

	if err := s.ua.Terminate(ctx, s.currentCall); err != nil {
		fmt.Fprintf(out, "ошибка завершения: %v\n", err)
		return
	}
	fmt.Fprintln(out, "звонок завершен")
	s.currentCall = ""
}

// status печатает состояние регистрации и текущего звонка
func (s *commandShell) status(out io.Writer) {
	reg := s.ua.RegistrationStatus()
	fmt.Fprintf(out, "регистрация: %s", reg.State)
	if reg.State == useragent.StateRegistered {
		fmt.Fprintf(out, " (до %s)", reg.Expiry.Format(time.TimeOnly))
	}
	if reg.Reason != "" {
		fmt.Fprintf(out, " (%s)", reg.Reason)
	}
	fmt.Fprintln(out)

	if s.currentCall == "" {
		fmt.Fprintln(out, "звонок: нет")
		return
	}
	state, err := s.ua.CallState(s.currentCall)
	if err != nil {
		fmt.Fprintf(out, "звонок %s: %v\n", s.currentCall, err)
		return
	}
	fmt.Fprintf(out, "звонок %s: %s\n", s.currentCall, state)
}

// resolvePassword возвращает пароль из аргумента. Значение вида
// env:ИМЯ читается из переменной окружения, чтобы пароль не оставался
// в истории команд.
func resolvePassword(value string) (string, error) {
	if value == "" {
		return "", nil
	}
	if name, ok := strings.CutPrefix(value, "env:"); ok {
		password, found := os.LookupEnv(name)
		if !found {
			return "", fmt.Errorf("переменная окружения %s не установлена", name)
		}
		return password, nil
	}
	return value, nil
}

// parseParams разбирает аргументы вида ключ=значение
func parseParams(args []string) map[string]string {
	params := make(map[string]string, len(args))
	for _, arg := range args {
		key, value, found := strings.Cut(arg, "=")
		if !found {
			continue
		}
		params[key] = value
	}
	return params
}
