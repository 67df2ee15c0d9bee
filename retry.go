/*
Copyright 2024 Droptide Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package droptide

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/droptide/droptide/config"
	"github.com/droptide/droptide/database"
	"github.com/droptide/droptide/internal/notification"
	"github.com/droptide/droptide/model"
	"github.com/redis/go-redis/v9"
)

// RetryPolicy owns every retry and dead-letter decision in the pipeline.
// Stage handlers never retry on their own; a failure lands here and nowhere
// else, so the policy is uniform across stages.
type RetryPolicy struct {
	redis           redis.UniversalClient
	queue           *Queue
	datasource      database.IDataSource
	maxRetries      int
	backoff         time.Duration
	counterTTL      time.Duration
	deadLetterTopic string
	sleep           func(time.Duration)
}

func NewRetryPolicy(client redis.UniversalClient, queue *Queue, db database.IDataSource, cnf *config.Configuration, sleep func(time.Duration)) *RetryPolicy {
	return &RetryPolicy{
		redis:           client,
		queue:           queue,
		datasource:      db,
		maxRetries:      cnf.Pipeline.MaxRetries,
		backoff:         cnf.RetryBackoff(),
		counterTTL:      cnf.CounterTTL(),
		deadLetterTopic: cnf.Queue.DeadLetterTopic,
		sleep:           sleep,
	}
}

func retryKey(stage model.Stage, productID string) string {
	return fmt.Sprintf("droptide:retry:%s:%s", stage, productID)
}

// HandleFailure runs the bounded-retry protocol for a failed (stage,
// product) job:
//
//  1. Append an audit entry recording the error.
//  2. Atomically bump the retry counter and refresh its TTL.
//  3. Within budget: sleep attempt×backoff, then re-push onto the same
//     topic. The sleep deliberately blocks only this worker; other
//     dispatcher instances keep draining.
//  4. Over budget: push a dead-letter record and stop. The product is
//     never re-enqueued to this stage again automatically.
//
// Returns the attempt number and an error only when the protocol itself
// fails (store or queue unreachable).
func (p *RetryPolicy) HandleFailure(ctx context.Context, stage model.Stage, topic string, productID string, cause error) (int64, error) {
	logrus.Errorf("stage %s failed for product %s: %v", stage, productID, cause)

	auditErr := p.datasource.RecordAuditLog(ctx, &model.AuditLog{
		ProductID: productID,
		Agent:     string(stage),
		Decision:  "ERROR",
		Reason:    cause.Error(),
	})
	if auditErr != nil {
		// The audit trail is best-effort here; losing the entry must not
		// stop the retry protocol.
		logrus.Errorf("failed to record failure audit log for %s: %v", productID, auditErr)
	}

	attempt, err := p.bumpCounter(ctx, stage, productID)
	if err != nil {
		return 0, err
	}

	if attempt <= int64(p.maxRetries) {
		delay := time.Duration(attempt) * p.backoff
		logrus.Infof("retrying product %s on stage %s in %s (attempt %d/%d)", productID, stage, delay, attempt, p.maxRetries)
		p.sleep(delay)
		return attempt, p.queue.Push(ctx, topic, productID)
	}

	record := model.DeadLetter{
		ProductID:  productID,
		Stage:      stage,
		Error:      cause.Error(),
		OccurredAt: time.Now(),
	}
	if err := p.queue.PushDeadLetter(ctx, p.deadLetterTopic, record); err != nil {
		return attempt, err
	}

	if err := notification.WebhookNotification("pipeline.dead_letter", record); err != nil {
		logrus.Errorf("failed to notify dead letter for %s: %v", productID, err)
	}
	return attempt, nil
}

// bumpCounter increments the (stage, product) failure counter and refreshes
// its TTL in one round trip. The counter expires on its own once failures
// stop long enough.
func (p *RetryPolicy) bumpCounter(ctx context.Context, stage model.Stage, productID string) (int64, error) {
	key := retryKey(stage, productID)

	pipe := p.redis.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, p.counterTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
