package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"github.com/punchamoorthee/leadops/internal/domain"
)

const (
	quoteKeyPrefix    = "quote:"
	transferKeyPrefix = "transfer:"
	transfersByTime   = "transfers:by_created"
	identityKeyPrefix = "transfer_identity:"

	watchRetries = 3
)

// RedisStore keeps each record as a JSON document. Transfers are also
// indexed by creation time and by normalized identity.
type RedisStore struct {
	client *redis.Client
}

var _ TransferMatcher = (*RedisStore)(nil)

func NewRedisStore(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:            addr,
		Password:        password,
		DB:              db,
		PoolSize:        20,
		MinIdleConns:    2,
		ConnMaxIdleTime: 5 * time.Minute,
		DialTimeout:     2 * time.Second,
		ReadTimeout:     time.Second,
		WriteTimeout:    time.Second,
		MaxRetries:      2,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("unable to ping redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Close() {
	_ = r.client.Close()
}

func (r *RedisStore) CreateQuote(ctx context.Context, rec *domain.QuoteRecord) error {
	raw, err := sonic.Marshal(rec)
	if err != nil {
		return err
	}
	ok, err := r.client.SetNX(ctx, quoteKeyPrefix+rec.ID, raw, 0).Result()
	if err != nil {
		return fmt.Errorf("quote insert failed: %w", err)
	}
	if !ok {
		return ErrConflict
	}
	return nil
}

func (r *RedisStore) CompleteQuote(ctx context.Context, id string, out domain.QuoteOutcome) (*domain.QuoteRecord, error) {
	key := quoteKeyPrefix + id
	var completed *domain.QuoteRecord

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var rec domain.QuoteRecord
		if err := sonic.Unmarshal(raw, &rec); err != nil {
			return err
		}
		if rec.Status != domain.QuoteStatusPending {
			return ErrNotPending
		}

		premium, excess := out.Premium, out.Excess
		rec.Status = domain.QuoteStatusCompleted
		rec.Premium = &premium
		rec.Excess = &excess
		rec.QuoteID = out.QuoteID
		rec.UpdatedAt = stamp(out.CompletedAt)

		updated, err := sonic.Marshal(&rec)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			return nil
		})
		if err == nil {
			completed = &rec
		}
		return err
	}

	for i := 0; i < watchRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if err == nil {
			return completed, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("quote %s: update contended after %d attempts", id, watchRetries)
}

func (r *RedisStore) GetQuote(ctx context.Context, id string) (*domain.QuoteRecord, error) {
	raw, err := r.client.Get(ctx, quoteKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec domain.QuoteRecord
	if err := sonic.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// CreateTransfer claims the record key and both identity keys in one
// transaction. Any key already present aborts the write.
func (r *RedisStore) CreateTransfer(ctx context.Context, rec *domain.TransferRecord) error {
	raw, err := sonic.Marshal(rec)
	if err != nil {
		return err
	}
	key := transferKeyPrefix + rec.ID
	identityKeys := transferIdentityKeys(rec)
	watched := append([]string{key}, identityKeys...)

	txf := func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrConflict
		}
		if len(identityKeys) > 0 {
			n, err = tx.Exists(ctx, identityKeys...).Result()
			if err != nil {
				return err
			}
			if n > 0 {
				return ErrDuplicateIdentity
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, 0)
			pipe.ZAdd(ctx, transfersByTime, redis.Z{
				Score:  float64(rec.CreatedAt.UnixNano()),
				Member: rec.ID,
			})
			for _, k := range identityKeys {
				pipe.Set(ctx, k, rec.ID, 0)
			}
			return nil
		})
		return err
	}

	for i := 0; i < watchRetries; i++ {
		err := r.client.Watch(ctx, txf, watched...)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, ErrConflict) || errors.Is(err, ErrDuplicateIdentity) {
			return err
		}
		return fmt.Errorf("transfer insert failed: %w", err)
	}
	return fmt.Errorf("transfer %s: insert contended after %d attempts", rec.ID, watchRetries)
}

func (r *RedisStore) UpdateTransferResult(ctx context.Context, id string, res domain.TransferResponse, at time.Time) error {
	key := transferKeyPrefix + id

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var rec domain.TransferRecord
		if err := sonic.Unmarshal(raw, &rec); err != nil {
			return err
		}
		rec.UUID = res.UUID
		rec.RedirectURL = res.RedirectURL
		rec.UpdatedAt = stamp(at)
		updated, err := sonic.Marshal(&rec)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			return nil
		})
		return err
	}

	for i := 0; i < watchRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("transfer %s: update contended after %d attempts", id, watchRetries)
}

func (r *RedisStore) GetTransfer(ctx context.Context, id string) (*domain.TransferRecord, error) {
	raw, err := r.client.Get(ctx, transferKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec domain.TransferRecord
	if err := sonic.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *RedisStore) ListTransfers(ctx context.Context) ([]domain.TransferRecord, error) {
	ids, err := r.client.ZRevRange(ctx, transfersByTime, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = transferKeyPrefix + id
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	out := make([]domain.TransferRecord, 0, len(vals))
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var rec domain.TransferRecord
		if err := sonic.UnmarshalString(s, &rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *RedisStore) FindLatestTransfer(ctx context.Context, field, normalized string) (*domain.TransferRecord, error) {
	switch field {
	case domain.MatchIDNumber, domain.MatchContactNumber:
	default:
		return nil, fmt.Errorf("unknown match field %q", field)
	}
	if normalized == "" {
		return nil, ErrNotFound
	}
	id, err := r.client.Get(ctx, identityKey(field, normalized)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r.GetTransfer(ctx, id)
}

func identityKey(field, normalized string) string {
	return identityKeyPrefix + field + ":" + normalized
}

func transferIdentityKeys(rec *domain.TransferRecord) []string {
	var keys []string
	if v := rec.NormalizedIDNumber(); v != "" {
		keys = append(keys, identityKey(domain.MatchIDNumber, v))
	}
	if v := rec.NormalizedContactNumber(); v != "" {
		keys = append(keys, identityKey(domain.MatchContactNumber, v))
	}
	return keys
}
