package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arzzra/softagent/pkg/audio"
	"github.com/arzzra/softagent/pkg/rtp"
	"github.com/arzzra/softagent/pkg/signaling"
	"github.com/arzzra/softagent/pkg/useragent"
)

func main() {
	var (
		sipPort   = flag.Int("port", 5060, "Локальный SIP порт")
		transport = flag.String("transport", "udp", "SIP транспорт: udp или tcp")
		minPort   = flag.Int("min-media-port", rtp.DefaultMinPort, "Нижняя граница RTP портов")
		maxPort   = flag.Int("max-media-port", rtp.DefaultMaxPort, "Верхняя граница RTP портов")
		debug     = flag.Bool("debug", false, "Подробное логирование")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Использование: %s [флаги] <локальный-IP>\n\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	localIP := flag.Arg(0)
	if net.ParseIP(localIP) == nil {
		fmt.Fprintf(os.Stderr, "невалидный локальный IP: %s\n", localIP)
		os.Exit(2)
	}

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(localIP, *sipPort, *transport, *minPort, *maxPort, logger); err != nil {
		logger.Error("софтфон завершился с ошибкой", "error", err)
		os.Exit(1)
	}
}

func run(localIP string, sipPort int, transport string, minPort, maxPort int, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engineConfig := signaling.DefaultSIPEngineConfig()
	engineConfig.LocalIP = localIP
	engineConfig.LocalPort = sipPort
	engineConfig.Transport = transport
	engineConfig.Logger = logger

	engine, err := signaling.NewSIPEngine(engineConfig)
	if err != nil {
		return fmt.Errorf("создание SIP движка: %w", err)
	}

	go func() {
		if err := engine.Serve(ctx); err != nil && ctx.Err() == nil {
			logger.Error("SIP сервер остановился", "error", err)
			cancel()
		}
	}()

	audioEngine, err := audio.NewMalgoEngine(logger)
	if err != nil {
		return fmt.Errorf("инициализация аудио: %w", err)
	}
	defer func() {
		if err := audioEngine.Close(); err != nil {
			logger.Warn("закрытие аудио подсистемы", "error", err)
		}
	}()

	ports, err := rtp.NewPortAllocator(minPort, maxPort)
	if err != nil {
		return fmt.Errorf("диапазон медиа портов: %w", err)
	}

	ua, err := useragent.New(useragent.Config{
		LocalIP:     localIP,
		Engine:      engine,
		AudioEngine: audioEngine,
		MediaPorts:  ports,
		Logger:      logger,
		Metrics:     useragent.NewMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		return fmt.Errorf("создание агента: %w", err)
	}
	defer func() {
		if err := ua.Close(); err != nil {
			logger.Warn("остановка агента", "error", err)
		}
	}()

	logger.Info("софтфон запущен",
		"local_ip", localIP, "sip_port", sipPort, "transport", transport)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("получен сигнал завершения", "signal", sig.String())
		cancel()
	}()

	shell := newCommandShell(ua, logger)
	return shell.run(ctx, os.Stdin, os.Stdout)
}
