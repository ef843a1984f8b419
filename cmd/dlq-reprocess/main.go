package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/craftshop/internal/messaging/kafka"
)

const (
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
)

type config struct {
	brokers     []string
	sourceTopic string
	targetTopic string
	limit       int
	execute     bool
	fromNewest  bool
	idleTimeout time.Duration
}

// replayMessage — восстановленное сообщение, готовое к повторной публикации.
type replayMessage struct {
	topic string
	key   string
	value []byte
}

// consumerDLQPayload — формат DLQ-записи, которую пишет kafka consumer
// после исчерпания retry.
type consumerDLQPayload struct {
	OriginalTopic string `json:"original_topic"`
	OriginalKey   string `json:"original_key"`
	OriginalValue string `json:"original_value"`
}

// outboxDLQPayload — вложенный payload DLQ-записи outbox worker'а.
type outboxDLQPayload struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
}

// outboxEnvelope повторяет конверт, в котором outbox publisher пишет в Kafka.
type outboxEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fail("%v", err)
	}

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	logger := log.WithField("component", "dlq-reprocess")

	messages, err := drainDLQ(cfg, logger)
	if err != nil {
		fail("drain DLQ: %v", err)
	}
	if len(messages) == 0 {
		fmt.Println("DLQ is empty, nothing to do")
		return
	}

	printSummary(messages)

	if !cfg.execute {
		fmt.Println("dry-run: pass -execute to replay the messages above")
		return
	}

	replayed, err := replayAll(cfg, messages, logger)
	if err != nil {
		fail("replay: %v (replayed %d of %d)", err, replayed, len(messages))
	}
	fmt.Printf("replayed %d messages\n", replayed)
}

func parseFlags(args []string) (config, error) {
	fs := flag.NewFlagSet("dlq-reprocess", flag.ContinueOnError)

	var (
		brokers     string
		sourceTopic string
		targetTopic string
		limit       int
		execute     bool
		fromNewest  bool
		idleTimeout time.Duration
	)
	fs.StringVar(&brokers, "brokers", "", "comma-separated Kafka brokers (fallback: CRAFTSHOP_KAFKA_BROKERS)")
	fs.StringVar(&sourceTopic, "source", kafka.TopicDeadLetterQueue, "DLQ topic to read from")
	fs.StringVar(&targetTopic, "target", "", "override target topic (default: the original topic of each message)")
	fs.IntVar(&limit, "limit", defaultReplayLimit, "maximum number of messages to replay")
	fs.BoolVar(&execute, "execute", false, "actually publish messages (default is dry-run)")
	fs.BoolVar(&fromNewest, "from-newest", false, "start from the newest offset instead of the oldest")
	fs.DurationVar(&idleTimeout, "idle-timeout", defaultIdleTimeout, "stop reading a partition after this much silence")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	if strings.TrimSpace(brokers) == "" {
		brokers = strings.TrimSpace(os.Getenv("CRAFTSHOP_KAFKA_BROKERS"))
	}
	if brokers == "" {
		return config{}, fmt.Errorf("CRAFTSHOP_KAFKA_BROKERS (or -brokers) is required")
	}
	if limit <= 0 {
		limit = defaultReplayLimit
	}
	if idleTimeout <= 0 {
		idleTimeout = defaultIdleTimeout
	}

	return config{
		brokers:     strings.Split(brokers, ","),
		sourceTopic: sourceTopic,
		targetTopic: targetTopic,
		limit:       limit,
		execute:     execute,
		fromNewest:  fromNewest,
		idleTimeout: idleTimeout,
	}, nil
}

// drainDLQ вычитывает DLQ-топик по всем партициям до limit или до тишины.
func drainDLQ(cfg config, logger *log.Entry) ([]replayMessage, error) {
	consumerConfig := sarama.NewConfig()
	consumerConfig.Consumer.Return.Errors = true

	consumer, err := sarama.NewConsumer(cfg.brokers, consumerConfig)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	defer consumer.Close()

	partitions, err := consumer.Partitions(cfg.sourceTopic)
	if err != nil {
		return nil, fmt.Errorf("list partitions of %s: %w", cfg.sourceTopic, err)
	}

	startOffset := sarama.OffsetOldest
	if cfg.fromNewest {
		startOffset = sarama.OffsetNewest
	}

	var messages []replayMessage
	for _, partition := range partitions {
		if len(messages) >= cfg.limit {
			break
		}

		pc, err := consumer.ConsumePartition(cfg.sourceTopic, partition, startOffset)
		if err != nil {
			return nil, fmt.Errorf("consume partition %d: %w", partition, err)
		}

		messages = drainPartition(cfg, pc, messages, logger)
		_ = pc.Close()
	}

	return messages, nil
}

func drainPartition(cfg config, pc sarama.PartitionConsumer, messages []replayMessage, logger *log.Entry) []replayMessage {
	idle := time.NewTimer(cfg.idleTimeout)
	defer idle.Stop()

	for len(messages) < cfg.limit {
		select {
		case msg, ok := <-pc.Messages():
			if !ok {
				return messages
			}
			replay, err := decodeDLQMessage(cfg, msg)
			if err != nil {
				logger.WithError(err).WithField("offset", msg.Offset).Warn("skipping undecodable DLQ message")
			} else {
				messages = append(messages, replay)
			}
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(cfg.idleTimeout)
		case err, ok := <-pc.Errors():
			if ok {
				logger.WithError(err).Warn("partition consumer error")
			}
		case <-idle.C:
			return messages
		}
	}

	return messages
}

// decodeDLQMessage восстанавливает исходное сообщение из DLQ-записи.
// Поддерживаются оба формата: запись consumer'а (original_topic/value) и
// запись outbox worker'а (конверт с вложенным payload и publish_error).
func decodeDLQMessage(cfg config, msg *sarama.ConsumerMessage) (replayMessage, error) {
	var consumerPayload consumerDLQPayload
	if err := json.Unmarshal(msg.Value, &consumerPayload); err == nil && consumerPayload.OriginalTopic != "" {
		topic := cfg.targetTopic
		if topic == "" {
			topic = consumerPayload.OriginalTopic
		}
		return replayMessage{
			topic: topic,
			key:   consumerPayload.OriginalKey,
			value: []byte(consumerPayload.OriginalValue),
		}, nil
	}

	var envelope outboxEnvelope
	if err := json.Unmarshal(msg.Value, &envelope); err != nil {
		return replayMessage{}, fmt.Errorf("unmarshal DLQ envelope: %w", err)
	}

	var nested outboxDLQPayload
	if err := json.Unmarshal(envelope.Payload, &nested); err != nil || nested.OutboxID == "" {
		return replayMessage{}, fmt.Errorf("DLQ message %s has unknown payload format", envelope.ID)
	}

	// Собираем чистый конверт без DLQ-обвязки.
	clean, err := json.Marshal(outboxEnvelope{
		ID:            nested.OutboxID,
		AggregateType: nested.AggregateType,
		AggregateID:   nested.AggregateID,
		EventType:     nested.EventType,
		Payload:       nested.Payload,
		PublishedAt:   time.Now().UTC(),
	})
	if err != nil {
		return replayMessage{}, fmt.Errorf("marshal replay envelope: %w", err)
	}

	topic := cfg.targetTopic
	if topic == "" {
		topic = kafka.TopicOrderEvents
	}
	key := nested.AggregateID
	if key == "" {
		key = nested.OutboxID
	}

	return replayMessage{topic: topic, key: key, value: clean}, nil
}

func replayAll(cfg config, messages []replayMessage, logger *log.Entry) (int, error) {
	producerConfig := sarama.NewConfig()
	producerConfig.Producer.RequiredAcks = sarama.WaitForAll
	producerConfig.Producer.Return.Successes = true
	producerConfig.Producer.Idempotent = true
	producerConfig.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(cfg.brokers, producerConfig)
	if err != nil {
		return 0, fmt.Errorf("create kafka producer: %w", err)
	}
	defer producer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	replayed := 0
	for _, message := range messages {
		if ctx.Err() != nil {
			return replayed, ctx.Err()
		}

		_, _, err := producer.SendMessage(&sarama.ProducerMessage{
			Topic: message.topic,
			Key:   sarama.StringEncoder(message.key),
			Value: sarama.ByteEncoder(message.value),
		})
		if err != nil {
			return replayed, fmt.Errorf("publish to %s: %w", message.topic, err)
		}
		replayed++
		logger.WithFields(log.Fields{
			"topic": message.topic,
			"key":   message.key,
		}).Info("message replayed")
	}

	return replayed, nil
}

func printSummary(messages []replayMessage) {
	perTopic := make(map[string]int)
	for _, message := range messages {
		perTopic[message.topic]++
	}

	topics := make([]string, 0, len(perTopic))
	for topic := range perTopic {
		topics = append(topics, topic)
	}
	sort.Strings(topics)

	fmt.Printf("found %d replayable messages:\n", len(messages))
	for _, topic := range topics {
		fmt.Printf("  %s: %d\n", topic, perTopic[topic])
	}
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
