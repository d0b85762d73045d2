// Package redis хранит журнал применённых операций в Redis, общий для нескольких
// экземпляров сервиса склада.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

const (
	// DefaultKeyPrefix: префикс ключей журнала.
	DefaultKeyPrefix = "fulfillment:operation:"

	opTimeout = 5 * time.Second
)

// claimScript создаёт запись processing, только если ключа нет.
// Истёкшая аренда удаляется самим Redis, поэтому захват после неё проходит.
var claimScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if status then
	return status
end
redis.call('HSET', KEYS[1], 'status', 'processing', 'created_at', ARGV[2], 'updated_at', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[1])
return 'claimed'
`)

var markAppliedScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
redis.call('HSET', KEYS[1], 'status', 'applied', 'updated_at', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[1])
return 1
`)

var releaseScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status then
	return 0
end
if status == 'processing' then
	redis.call('DEL', KEYS[1])
end
return 1
`)

// OperationLedger реализует domain.OperationLedger поверх Redis.
type OperationLedger struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewOperationLedger создаёт журнал; пустой prefix заменяется DefaultKeyPrefix.
func NewOperationLedger(client redis.UniversalClient, prefix string) *OperationLedger {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &OperationLedger{client: client, prefix: prefix, now: time.Now}
}

// Ping проверяет доступность Redis.
func (l *OperationLedger) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

func (l *OperationLedger) Claim(operationID string, leaseUntil time.Time) error {
	operationID = strings.TrimSpace(operationID)
	if operationID == "" {
		return domain.ErrOperationIDRequired
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	now := l.now().UTC()
	result, err := claimScript.Run(ctx, l.client, []string{l.key(operationID)},
		ttlMillis(leaseUntil, now), now.UnixMilli()).Text()
	if err != nil {
		return fmt.Errorf("claim operation: %w", err)
	}

	switch result {
	case "claimed":
		return nil
	case string(domain.OperationStatusApplied):
		return domain.ErrOperationAlreadyApplied
	default:
		return domain.ErrOperationInProgress
	}
}

func (l *OperationLedger) MarkApplied(operationID string, retainUntil time.Time) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	now := l.now().UTC()
	updated, err := markAppliedScript.Run(ctx, l.client, []string{l.key(operationID)},
		ttlMillis(retainUntil, now), now.UnixMilli()).Int()
	if err != nil {
		return fmt.Errorf("mark operation applied: %w", err)
	}
	if updated == 0 {
		return domain.ErrOperationNotFound
	}
	return nil
}

func (l *OperationLedger) Release(operationID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	found, err := releaseScript.Run(ctx, l.client, []string{l.key(operationID)}).Int()
	if err != nil {
		return fmt.Errorf("release operation: %w", err)
	}
	if found == 0 {
		return domain.ErrOperationNotFound
	}
	return nil
}

func (l *OperationLedger) Get(operationID string) (domain.OperationRecord, error) {
	operationID = strings.TrimSpace(operationID)
	if operationID == "" {
		return domain.OperationRecord{}, domain.ErrOperationIDRequired
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	key := l.key(operationID)
	pipe := l.client.TxPipeline()
	fieldsCmd := pipe.HGetAll(ctx, key)
	ttlCmd := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return domain.OperationRecord{}, fmt.Errorf("get operation record: %w", err)
	}

	fields := fieldsCmd.Val()
	if len(fields) == 0 {
		return domain.OperationRecord{}, domain.ErrOperationNotFound
	}

	record := domain.OperationRecord{
		OperationID: operationID,
		Status:      domain.OperationStatus(fields["status"]),
		CreatedAt:   parseMillis(fields["created_at"]),
		UpdatedAt:   parseMillis(fields["updated_at"]),
	}
	if !record.Status.Valid() {
		return domain.OperationRecord{}, fmt.Errorf("invalid operation status %q for %s", fields["status"], operationID)
	}
	if ttl := ttlCmd.Val(); ttl > 0 {
		record.ExpiresAt = l.now().UTC().Add(ttl)
	}

	return record, nil
}

// DeleteExpired ничего не делает: Redis удаляет записи сам по TTL.
func (l *OperationLedger) DeleteExpired(time.Time, int) (int, error) {
	return 0, nil
}

func (l *OperationLedger) key(operationID string) string {
	return l.prefix + operationID
}

// ttlMillis не даёт PEXPIRE получить неположительное значение: оно удалило бы ключ сразу.
func ttlMillis(until, now time.Time) int64 {
	ms := until.Sub(now).Milliseconds()
	if ms < 1 {
		return 1
	}
	return ms
}

func parseMillis(raw string) time.Time {
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

var _ domain.OperationLedger = (*OperationLedger)(nil)
