// Copyright © 2025 jackelyj <dreamerlyj@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
//

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/flowmech/sagaflow/pkg/saga"
	"github.com/flowmech/sagaflow/pkg/saga/state"
)

// RedisConfig configures the Redis state store.
type RedisConfig struct {
	// Addr is the host:port of the Redis server.
	Addr string `json:"addr" yaml:"addr" mapstructure:"addr"`

	// Password authenticates the connection. Optional.
	Password string `json:"password" yaml:"password" mapstructure:"password"`

	// DB selects the logical Redis database.
	DB int `json:"db" yaml:"db" mapstructure:"db"`

	// KeyPrefix namespaces every key. Defaults to "sagaflow".
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix" mapstructure:"key_prefix"`

	// MaxTxRetries bounds optimistic transition retries. Defaults to 8.
	MaxTxRetries int `json:"max_tx_retries" yaml:"max_tx_retries" mapstructure:"max_tx_retries"`

	// DialTimeout bounds connection establishment. Defaults to 5s.
	DialTimeout time.Duration `json:"dial_timeout" yaml:"dial_timeout" mapstructure:"dial_timeout"`
}

// ApplyDefaults fills unset fields with defaults.
func (c *RedisConfig) ApplyDefaults() {
	if c.KeyPrefix == "" {
		c.KeyPrefix = "sagaflow"
	}
	if c.MaxTxRetries <= 0 {
		c.MaxTxRetries = 8
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
}

// Validate checks the configuration.
func (c *RedisConfig) Validate() error {
	if c.Addr == "" {
		return errors.New("redis addr is required")
	}
	return nil
}

// RedisStore is a Redis-backed state.Store. Instances are JSON values, step
// histories are lists, and active instance IDs live in a set consumed by the
// timeout scanner and the redispatch sweep. Transitions use WATCH on the
// instance key with a bounded optimistic retry, so two concurrent
// transitions for the same saga cannot both commit.
type RedisStore struct {
	client *redis.Client
	config *RedisConfig
}

// NewRedisStore connects to Redis and verifies connectivity.
func NewRedisStore(config *RedisConfig) (*RedisStore, error) {
	if config == nil {
		return nil, errors.New("redis config is required")
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid redis config: %w", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr:        config.Addr,
		Password:    config.Password,
		DB:          config.DB,
		DialTimeout: config.DialTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), config.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisStore{client: client, config: config}, nil
}

func (r *RedisStore) instanceKey(sagaID string) string {
	return r.config.KeyPrefix + ":instance:" + sagaID
}

func (r *RedisStore) stepsKey(sagaID string) string {
	return r.config.KeyPrefix + ":steps:" + sagaID
}

func (r *RedisStore) activeKey() string {
	return r.config.KeyPrefix + ":active"
}

// CreateInstance writes a new RUNNING instance, its first STARTED step
// record, and the active-set membership in one MULTI/EXEC block.
func (r *RedisStore) CreateInstance(ctx context.Context, sagaName, firstStep string, command func(sagaID string) ([]byte, error)) (*saga.Instance, error) {
	now := time.Now().UTC()
	inst := &saga.Instance{
		ID:               uuid.NewString(),
		SagaName:         sagaName,
		Status:           saga.StatusRunning,
		CurrentStepIndex: 0,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	payload, err := command(inst.ID)
	if err != nil {
		return nil, err
	}
	rec := &saga.StepRecord{
		ID:             uuid.NewString(),
		SagaInstanceID: inst.ID,
		StepName:       firstStep,
		Status:         saga.StepStatusStarted,
		Payload:        append([]byte(nil), payload...),
		CreatedAt:      now,
	}

	data, err := json.Marshal(inst)
	if err != nil {
		return nil, saga.NewStorageError("CreateInstance", err)
	}
	recData, err := json.Marshal(rec)
	if err != nil {
		return nil, saga.NewStorageError("CreateInstance", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.instanceKey(inst.ID), data, 0)
		pipe.RPush(ctx, r.stepsKey(inst.ID), recData)
		pipe.SAdd(ctx, r.activeKey(), inst.ID)
		return nil
	})
	if err != nil {
		return nil, saga.NewStorageError("CreateInstance", err)
	}
	return inst, nil
}

// GetInstance returns the instance with the given ID.
func (r *RedisStore) GetInstance(ctx context.Context, sagaID string) (*saga.Instance, error) {
	data, err := r.client.Get(ctx, r.instanceKey(sagaID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, saga.NewSagaNotFoundError(sagaID)
	}
	if err != nil {
		return nil, saga.NewStorageError("GetInstance", err)
	}
	inst := &saga.Instance{}
	if err := json.Unmarshal(data, inst); err != nil {
		return nil, saga.NewStorageError("GetInstance", err)
	}
	return inst, nil
}

// Transition runs fn under an optimistic WATCH on the instance key.
func (r *RedisStore) Transition(ctx context.Context, sagaID string, fn func(tx state.Transition) error) error {
	key := r.instanceKey(sagaID)

	txf := func(rtx *redis.Tx) error {
		data, err := rtx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return saga.NewSagaNotFoundError(sagaID)
		}
		if err != nil {
			return saga.NewStorageError("Transition", err)
		}
		inst := &saga.Instance{}
		if err := json.Unmarshal(data, inst); err != nil {
			return saga.NewStorageError("Transition", err)
		}

		history, err := r.loadSteps(ctx, rtx, sagaID)
		if err != nil {
			return err
		}

		t := &redisTransition{instance: inst, existing: history}
		if err := fn(t); err != nil {
			return err
		}

		t.instance.UpdatedAt = time.Now().UTC()
		updated, err := json.Marshal(t.instance)
		if err != nil {
			return saga.NewStorageError("Transition", err)
		}

		_, err = rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			for _, rec := range t.appended {
				raw, err := json.Marshal(rec)
				if err != nil {
					return err
				}
				pipe.RPush(ctx, r.stepsKey(sagaID), raw)
			}
			if t.instance.Status.IsTerminal() {
				pipe.SRem(ctx, r.activeKey(), sagaID)
			}
			return nil
		})
		return err
	}

	var err error
	for attempt := 0; attempt < r.config.MaxTxRetries; attempt++ {
		err = r.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return saga.NewStorageError("Transition", fmt.Errorf("optimistic retry exhausted after %d attempts: %w", r.config.MaxTxRetries, err))
}

// LatestStep returns the most recent record for (sagaID, stepName).
func (r *RedisStore) LatestStep(ctx context.Context, sagaID, stepName string) (*saga.StepRecord, error) {
	if _, err := r.GetInstance(ctx, sagaID); err != nil {
		return nil, err
	}
	history, err := r.loadSteps(ctx, r.client, sagaID)
	if err != nil {
		return nil, err
	}
	return latestIn(history, stepName), nil
}

// StepHistory returns the full step history in creation order.
func (r *RedisStore) StepHistory(ctx context.Context, sagaID string) ([]*saga.StepRecord, error) {
	if _, err := r.GetInstance(ctx, sagaID); err != nil {
		return nil, err
	}
	return r.loadSteps(ctx, r.client, sagaID)
}

// InFlightSteps returns the STARTED step record of every active instance.
func (r *RedisStore) InFlightSteps(ctx context.Context) ([]*state.InFlightStep, error) {
	ids, err := r.client.SMembers(ctx, r.activeKey()).Result()
	if err != nil {
		return nil, saga.NewStorageError("InFlightSteps", err)
	}

	var out []*state.InFlightStep
	for _, id := range ids {
		inst, err := r.GetInstance(ctx, id)
		if err != nil {
			if saga.IsSagaNotFound(err) {
				continue
			}
			return nil, err
		}
		if !inst.Status.IsActive() {
			continue
		}
		history, err := r.loadSteps(ctx, r.client, id)
		if err != nil {
			return nil, err
		}
		for i := len(history) - 1; i >= 0; i-- {
			rec := history[i]
			if rec.Status != saga.StepStatusStarted {
				continue
			}
			if latest := latestIn(history, rec.StepName); latest.ID != rec.ID {
				continue
			}
			out = append(out, &state.InFlightStep{Instance: inst, Record: rec})
			break
		}
	}
	return out, nil
}

// Close shuts down the Redis client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

// redisCmdable is the subset of go-redis used to read step lists; it is
// satisfied by both *redis.Client and *redis.Tx.
type redisCmdable interface {
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
}

func (r *RedisStore) loadSteps(ctx context.Context, c redisCmdable, sagaID string) ([]*saga.StepRecord, error) {
	raws, err := c.LRange(ctx, r.stepsKey(sagaID), 0, -1).Result()
	if err != nil {
		return nil, saga.NewStorageError("StepHistory", err)
	}
	out := make([]*saga.StepRecord, 0, len(raws))
	for _, raw := range raws {
		rec := &saga.StepRecord{}
		if err := json.Unmarshal([]byte(raw), rec); err != nil {
			return nil, saga.NewStorageError("StepHistory", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// redisTransition stages writes for one optimistic transition attempt.
type redisTransition struct {
	instance *saga.Instance
	existing []*saga.StepRecord
	appended []*saga.StepRecord
}

func (t *redisTransition) Instance() *saga.Instance {
	return t.instance
}

func (t *redisTransition) LatestStep(stepName string) (*saga.StepRecord, error) {
	if rec := latestIn(t.appended, stepName); rec != nil {
		return rec, nil
	}
	return latestIn(t.existing, stepName), nil
}

func (t *redisTransition) AppendStep(stepName string, status saga.StepStatus, payload []byte) (*saga.StepRecord, error) {
	rec := &saga.StepRecord{
		ID:             uuid.NewString(),
		SagaInstanceID: t.instance.ID,
		StepName:       stepName,
		Status:         status,
		Payload:        append([]byte(nil), payload...),
		CreatedAt:      time.Now().UTC(),
	}
	t.appended = append(t.appended, rec)
	return rec, nil
}

func (t *redisTransition) SetStatus(status saga.Status, currentStepIndex int) {
	t.instance.Status = status
	t.instance.CurrentStepIndex = currentStepIndex
}
