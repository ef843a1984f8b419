package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const defaultDedupTTL = 24 * time.Hour

// EventDeduper отсекает повторные события по их идентификатору через
// Redis SETNX. Нулевой клиент выключает дедупликацию: обработчики и без
// неё идемпотентны, Redis лишь экономит повторную работу.
type EventDeduper struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	logger *log.Entry
}

// NewEventDeduper создаёт дедупликатор поверх Redis.
func NewEventDeduper(client *redis.Client, ttl time.Duration, logger *log.Entry) *EventDeduper {
	if ttl <= 0 {
		ttl = defaultDedupTTL
	}
	if logger == nil {
		logger = log.WithField("component", "event-deduper")
	}
	return &EventDeduper{
		client: client,
		ttl:    ttl,
		prefix: "craftshop:event:",
		logger: logger,
	}
}

// Seen атомарно помечает событие обработанным и сообщает, встречалось ли
// оно раньше. При недоступном Redis событие считается новым: лучше
// обработать повторно, чем потерять.
func (d *EventDeduper) Seen(ctx context.Context, eventID string) bool {
	if d == nil || d.client == nil || eventID == "" {
		return false
	}

	ok, err := d.client.SetNX(ctx, d.prefix+eventID, 1, d.ttl).Result()
	if err != nil {
		d.logger.WithError(err).WithField("event_id", eventID).Warn("dedup check failed, treating event as new")
		return false
	}

	return !ok
}

// Forget удаляет отметку о событии (используется тестами и reprocess-утилитой).
func (d *EventDeduper) Forget(ctx context.Context, eventID string) {
	if d == nil || d.client == nil || eventID == "" {
		return
	}
	if err := d.client.Del(ctx, d.prefix+eventID).Err(); err != nil {
		d.logger.WithError(err).WithField("event_id", eventID).Warn("dedup forget failed")
	}
}
