package scheduler

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"wacrm_backend/platform/config"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// dealTaskWindow groups triggers for the same deal. One task per deal and window
// runs when the window closes, after every trigger it absorbed.
const dealTaskWindow = 10 * time.Second

// ErrClientDisabled is returned when no Redis connection is configured.
var ErrClientDisabled = errors.New("scheduler client disabled")

type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(cfg config.SchedulerConfig) (*Client, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	return &Client{
		client: asynq.NewClient(opt),
		queue:  queueName(cfg),
	}, nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// EnqueueDealRecalculation queues a single-deal recalculation. Triggers landing in
// the same window share one task; a trigger arriving while that task runs falls
// into the next window and gets its own.
func (c *Client) EnqueueDealRecalculation(ctx context.Context, organizationID, dealID uuid.UUID, trigger string) error {
	if c == nil || c.client == nil {
		return ErrClientDisabled
	}

	task, err := NewRecalculateDealTask(RecalculateDealPayload{
		OrganizationID: organizationID,
		DealID:         dealID,
		Trigger:        trigger,
	})
	if err != nil {
		return err
	}

	taskID, delay := dealTaskSlot(organizationID, dealID, time.Now())
	_, err = c.client.EnqueueContext(ctx, task,
		asynq.Queue(c.queue),
		asynq.MaxRetry(3),
		asynq.TaskID(taskID),
		asynq.ProcessIn(delay),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

// dealTaskSlot returns the task id of the window containing now and the delay
// until that window closes.
func dealTaskSlot(organizationID, dealID uuid.UUID, now time.Time) (string, time.Duration) {
	start := now.Truncate(dealTaskWindow)
	id := fmt.Sprintf("leadscore:%s:%s:%d", organizationID, dealID, start.Unix())
	return id, start.Add(dealTaskWindow).Sub(now)
}

// EnqueueRecalculateAll queues a full-tenant recalculation.
func (c *Client) EnqueueRecalculateAll(ctx context.Context, organizationID uuid.UUID, actor string) error {
	if c == nil || c.client == nil {
		return ErrClientDisabled
	}

	task, err := NewRecalculateAllTask(RecalculateAllPayload{OrganizationID: organizationID, Actor: actor})
	if err != nil {
		return err
	}

	_, err = c.client.EnqueueContext(ctx, task, asynq.Queue(c.queue), asynq.MaxRetry(1), asynq.Timeout(30*time.Minute))
	return err
}

func queueName(cfg config.SchedulerConfig) string {
	if queue := cfg.GetAsynqQueueName(); queue != "" {
		return queue
	}
	return "default"
}

func redisClientOpt(redisURL string, tlsInsecure bool) (asynq.RedisClientOpt, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}

	var tlsConfig *tls.Config
	if opt.TLSConfig != nil {
		clone := opt.TLSConfig.Clone()
		if tlsInsecure {
			clone.InsecureSkipVerify = true
		}
		tlsConfig = clone
	} else if tlsInsecure {
		tlsConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return asynq.RedisClientOpt{
		Addr:      opt.Addr,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: tlsConfig,
	}, nil
}
