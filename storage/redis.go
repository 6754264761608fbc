package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/fleetglue/automation/types"
)

const (
	workflowPrefix        = "workflow:"
	executionPrefix       = "execution:"
	alertPrefix           = "alert:"
	tenantWorkflowsPrefix = "tenant_workflows:"
	workflowExecsPrefix   = "workflow_executions:"
	tenantAlertsPrefix    = "tenant_alerts:"
	alertSeqKey           = "alert_id_seq"
)

// RedisStorage is a Redis-backed implementation of the Storage interface.
type RedisStorage struct {
	client *redis.Client
}

// RedisOptions extends redis.Options with additional configuration.
type RedisOptions struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	IdleTimeout  time.Duration
}

// NewRedisStorage creates a new RedisStorage instance with configurable options.
func NewRedisStorage(opts RedisOptions) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
		IdleTimeout:  opts.IdleTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %v", err)
	}

	return &RedisStorage{client: client}, nil
}

// setJSON marshals value and stores it at key.
func setJSON(ctx context.Context, cmd redis.Cmdable, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %v", key, err)
	}
	if err := cmd.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set %s in Redis: %v", key, err)
	}
	return nil
}

// getJSON retrieves and unmarshals a value stored at prefix+id.
func getJSON[T any](ctx context.Context, client *redis.Client, prefix string, id uint64, errNotFound error) (T, error) {
	return withContext(ctx, func() (T, error) {
		var zero T
		key := fmt.Sprintf("%s%d", prefix, id)
		data, err := client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return zero, fmt.Errorf("%w: key=%s", errNotFound, key)
		} else if err != nil {
			return zero, fmt.Errorf("failed to get %s from Redis: %v", key, err)
		}

		var result T
		if err := json.Unmarshal(data, &result); err != nil {
			return zero, fmt.Errorf("failed to unmarshal %s: %v", key, err)
		}
		return result, nil
	})
}

// SaveWorkflow saves a workflow definition to Redis and indexes it
// under its tenant.
func (s *RedisStorage) SaveWorkflow(ctx context.Context, wf types.Workflow) error {
	return withContextError(ctx, func() error {
		key := fmt.Sprintf("%s%d", workflowPrefix, wf.ID)
		if err := setJSON(ctx, s.client, key, wf); err != nil {
			return err
		}
		return s.client.SAdd(ctx, tenantWorkflowsPrefix+wf.TenantID, wf.ID).Err()
	})
}

// GetWorkflow retrieves a workflow from Redis.
func (s *RedisStorage) GetWorkflow(ctx context.Context, id uint64) (types.Workflow, error) {
	return getJSON[types.Workflow](ctx, s.client, workflowPrefix, id, ErrWorkflowNotFound)
}

// ActiveForEvent returns active workflows for the tenant whose trigger
// set includes the event type.
func (s *RedisStorage) ActiveForEvent(ctx context.Context, tenantID string, eventType types.EventType) ([]types.Workflow, error) {
	return withContext(ctx, func() ([]types.Workflow, error) {
		ids, err := s.client.SMembers(ctx, tenantWorkflowsPrefix+tenantID).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to list tenant workflows: %v", err)
		}

		var matched []types.Workflow
		for _, id := range ids {
			data, err := s.client.Get(ctx, workflowPrefix+id).Bytes()
			if errors.Is(err, redis.Nil) {
				continue
			} else if err != nil {
				return nil, fmt.Errorf("failed to get workflow %s: %v", id, err)
			}
			var wf types.Workflow
			if err := json.Unmarshal(data, &wf); err != nil {
				return nil, fmt.Errorf("failed to unmarshal workflow %s: %v", id, err)
			}
			if !wf.Active || wf.TenantID != tenantID {
				continue
			}
			for _, trigger := range wf.Triggers {
				if trigger.EventType == eventType {
					matched = append(matched, wf)
					break
				}
			}
		}
		return matched, nil
	})
}

// CreateExecution persists a new execution record and indexes it under
// its workflow.
func (s *RedisStorage) CreateExecution(ctx context.Context, exec types.Execution) error {
	return withContextError(ctx, func() error {
		key := fmt.Sprintf("%s%d", executionPrefix, exec.ID)
		if err := setJSON(ctx, s.client, key, exec); err != nil {
			return err
		}
		return s.client.SAdd(ctx, fmt.Sprintf("%s%d", workflowExecsPrefix, exec.WorkflowID), exec.ID).Err()
	})
}

// GetExecution retrieves an execution from Redis.
func (s *RedisStorage) GetExecution(ctx context.Context, id uint64) (types.Execution, error) {
	return getJSON[types.Execution](ctx, s.client, executionPrefix, id, ErrExecutionNotFound)
}

// AppendLog appends one entry to an execution's audit trail. The engine
// is the execution's only writer during its lifetime, so a
// read-modify-write is sufficient here.
func (s *RedisStorage) AppendLog(ctx context.Context, executionID uint64, entry types.LogEntry) error {
	return s.updateExecution(ctx, executionID, func(exec *types.Execution) {
		exec.Log = append(exec.Log, entry)
	})
}

// MarkCompleted finalizes an execution as completed.
func (s *RedisStorage) MarkCompleted(ctx context.Context, executionID uint64, at time.Time) error {
	return s.updateExecution(ctx, executionID, func(exec *types.Execution) {
		exec.Status = types.StatusCompleted
		exec.CompletedAt = &at
	})
}

// MarkFailed finalizes an execution as failed.
func (s *RedisStorage) MarkFailed(ctx context.Context, executionID uint64, at time.Time, message string) error {
	return s.updateExecution(ctx, executionID, func(exec *types.Execution) {
		exec.Status = types.StatusFailed
		exec.CompletedAt = &at
		exec.ErrorMessage = message
	})
}

func (s *RedisStorage) updateExecution(ctx context.Context, id uint64, fn func(*types.Execution)) error {
	return withContextError(ctx, func() error {
		exec, err := s.GetExecution(ctx, id)
		if err != nil {
			return err
		}
		fn(&exec)
		return setJSON(ctx, s.client, fmt.Sprintf("%s%d", executionPrefix, id), exec)
	})
}

// ListExecutions returns a workflow's executions started at or after
// since, newest first.
func (s *RedisStorage) ListExecutions(ctx context.Context, workflowID uint64, since time.Time) ([]types.Execution, error) {
	return withContext(ctx, func() ([]types.Execution, error) {
		ids, err := s.client.SMembers(ctx, fmt.Sprintf("%s%d", workflowExecsPrefix, workflowID)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to list workflow executions: %v", err)
		}

		var execs []types.Execution
		for _, id := range ids {
			data, err := s.client.Get(ctx, executionPrefix+id).Bytes()
			if errors.Is(err, redis.Nil) {
				continue
			} else if err != nil {
				return nil, fmt.Errorf("failed to get execution %s: %v", id, err)
			}
			var exec types.Execution
			if err := json.Unmarshal(data, &exec); err != nil {
				return nil, fmt.Errorf("failed to unmarshal execution %s: %v", id, err)
			}
			if !exec.StartedAt.Before(since) {
				execs = append(execs, exec)
			}
		}
		sort.Slice(execs, func(i, j int) bool { return execs[i].StartedAt.After(execs[j].StartedAt) })
		return execs, nil
	})
}

// PurgeExecutions removes finalized executions started before cutoff.
func (s *RedisStorage) PurgeExecutions(ctx context.Context, cutoff time.Time) error {
	return withContextError(ctx, func() error {
		keys, err := s.client.Keys(ctx, executionPrefix+"*").Result()
		if err != nil {
			return fmt.Errorf("failed to scan execution keys: %v", err)
		}
		if len(keys) == 0 {
			return nil
		}

		pipe := s.client.Pipeline()
		for _, key := range keys {
			data, err := s.client.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				continue
			} else if err != nil {
				return fmt.Errorf("failed to get %s: %v", key, err)
			}
			var exec types.Execution
			if err := json.Unmarshal(data, &exec); err != nil {
				return fmt.Errorf("failed to unmarshal %s: %v", key, err)
			}
			if exec.Status != types.StatusRunning && exec.StartedAt.Before(cutoff) {
				pipe.Del(ctx, key)
				pipe.SRem(ctx, fmt.Sprintf("%s%d", workflowExecsPrefix, exec.WorkflowID), exec.ID)
			}
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("failed to execute pipeline for deletion: %v", err)
		}
		return nil
	})
}

// CreateAlert persists an alert, assigning its ID from a Redis sequence
// when zero.
func (s *RedisStorage) CreateAlert(ctx context.Context, alert *types.Alert) error {
	return withContextError(ctx, func() error {
		if alert.ID == 0 {
			id, err := s.client.Incr(ctx, alertSeqKey).Result()
			if err != nil {
				return fmt.Errorf("failed to allocate alert id: %v", err)
			}
			alert.ID = uint64(id)
		}
		key := fmt.Sprintf("%s%d", alertPrefix, alert.ID)
		if err := setJSON(ctx, s.client, key, alert); err != nil {
			return err
		}
		return s.client.SAdd(ctx, tenantAlertsPrefix+alert.TenantID, alert.ID).Err()
	})
}

// GetAlert retrieves an alert from Redis.
func (s *RedisStorage) GetAlert(ctx context.Context, id uint64) (types.Alert, error) {
	return getJSON[types.Alert](ctx, s.client, alertPrefix, id, ErrAlertNotFound)
}

// ListAlerts returns a tenant's alerts, newest first.
func (s *RedisStorage) ListAlerts(ctx context.Context, tenantID string) ([]types.Alert, error) {
	return withContext(ctx, func() ([]types.Alert, error) {
		ids, err := s.client.SMembers(ctx, tenantAlertsPrefix+tenantID).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to list tenant alerts: %v", err)
		}

		var alerts []types.Alert
		for _, id := range ids {
			data, err := s.client.Get(ctx, alertPrefix+id).Bytes()
			if errors.Is(err, redis.Nil) {
				continue
			} else if err != nil {
				return nil, fmt.Errorf("failed to get alert %s: %v", id, err)
			}
			var alert types.Alert
			if err := json.Unmarshal(data, &alert); err != nil {
				return nil, fmt.Errorf("failed to unmarshal alert %s: %v", id, err)
			}
			alerts = append(alerts, alert)
		}
		sort.Slice(alerts, func(i, j int) bool { return alerts[i].CreatedAt.After(alerts[j].CreatedAt) })
		return alerts, nil
	})
}

// WithinTx buffers alert writes into a Redis transaction pipeline and
// execs it only when fn returns nil. Alert IDs come from the sequence
// immediately and are not reclaimed on rollback.
func (s *RedisStorage) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return withContextError(ctx, func() error {
		pipe := s.client.TxPipeline()
		tx := &redisTx{store: s, pipe: pipe}
		if err := fn(ctx, tx); err != nil {
			pipe.Discard()
			return err
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("failed to commit transaction: %v", err)
		}
		return nil
	})
}

type redisTx struct {
	store *RedisStorage
	pipe  redis.Pipeliner
}

func (t *redisTx) Alerts() AlertStore { return (*redisTxAlerts)(t) }

type redisTxAlerts redisTx

// CreateAlert queues the alert write on the transaction pipeline.
func (t *redisTxAlerts) CreateAlert(ctx context.Context, alert *types.Alert) error {
	return withContextError(ctx, func() error {
		if alert.ID == 0 {
			id, err := t.store.client.Incr(ctx, alertSeqKey).Result()
			if err != nil {
				return fmt.Errorf("failed to allocate alert id: %v", err)
			}
			alert.ID = uint64(id)
		}
		key := fmt.Sprintf("%s%d", alertPrefix, alert.ID)
		if err := setJSON(ctx, t.pipe, key, alert); err != nil {
			return err
		}
		return t.pipe.SAdd(ctx, tenantAlertsPrefix+alert.TenantID, alert.ID).Err()
	})
}

func (t *redisTxAlerts) GetAlert(ctx context.Context, id uint64) (types.Alert, error) {
	return t.store.GetAlert(ctx, id)
}

func (t *redisTxAlerts) ListAlerts(ctx context.Context, tenantID string) ([]types.Alert, error) {
	return t.store.ListAlerts(ctx, tenantID)
}

// Close closes the Redis client connection.
func (s *RedisStorage) Close() error {
	return s.client.Close()
}
