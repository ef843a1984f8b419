package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/craftshop/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/craftshop/internal/notify"
)

const defaultGroupID = "craftshop-notifications"

type config struct {
	brokers    []string
	groupID    string
	maxRetries int
	retryDelay time.Duration
	withDLQ    bool
}

// events-consumer — воркер уведомлений. Читает события заказов и
// checkout-потока из Kafka и превращает их в уведомления покупателю;
// API-инстансы при этом о рассылке не знают.
func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fail("%v", err)
	}

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	logger := log.WithField("component", "events-consumer")

	var dlq *kafka.Producer
	if cfg.withDLQ {
		dlq, err = kafka.NewProducer(cfg.brokers)
		if err != nil {
			fail("create DLQ producer: %v", err)
		}
		defer func() {
			if err := dlq.Close(); err != nil {
				logger.WithError(err).Warn("close DLQ producer failed")
			}
		}()
	}

	consumer, err := kafka.NewEventConsumer(kafka.ConsumerConfig{
		Brokers:    cfg.brokers,
		GroupID:    cfg.groupID,
		MaxRetries: cfg.maxRetries,
		RetryDelay: cfg.retryDelay,
		DLQ:        dlq,
	}, notify.NewEventLogger(logger.WithField("component", "event-notifier")))
	if err != nil {
		fail("create event consumer: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	consumer.Start(ctx)
	<-ctx.Done()

	logger.Info("получен сигнал остановки")
	if err := consumer.Stop(); err != nil {
		fail("stop consumer: %v", err)
	}
}

func parseFlags(args []string) (config, error) {
	fs := flag.NewFlagSet("events-consumer", flag.ContinueOnError)

	var (
		brokers    string
		groupID    string
		maxRetries int
		retryDelay time.Duration
		withDLQ    bool
	)
	fs.StringVar(&brokers, "brokers", "", "comma-separated Kafka brokers (fallback: CRAFTSHOP_KAFKA_BROKERS)")
	fs.StringVar(&groupID, "group", defaultGroupID, "consumer group id")
	fs.IntVar(&maxRetries, "retries", 3, "processing attempts before a message goes to the DLQ")
	fs.DurationVar(&retryDelay, "retry-delay", 500*time.Millisecond, "base delay between processing attempts")
	fs.BoolVar(&withDLQ, "dlq", true, "publish unprocessable messages to the DLQ topic")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	if strings.TrimSpace(brokers) == "" {
		brokers = strings.TrimSpace(os.Getenv("CRAFTSHOP_KAFKA_BROKERS"))
	}
	if brokers == "" {
		return config{}, fmt.Errorf("CRAFTSHOP_KAFKA_BROKERS (or -brokers) is required")
	}

	return config{
		brokers:    strings.Split(brokers, ","),
		groupID:    groupID,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		withDLQ:    withDLQ,
	}, nil
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
