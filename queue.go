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
	"encoding/json"
	"log"
	"time"

	"github.com/droptide/droptide/model"
	"github.com/redis/go-redis/v9"
)

// popBlockInterval bounds each BLPOP round so a blocked PopAny still
// notices context cancellation between rounds.
const popBlockInterval = 5 * time.Second

// Queue is the shared work queue: one Redis list per stage topic, FIFO
// within a topic. Payloads on stage topics are bare product ids; the
// dead-letter topic carries JSON records.
type Queue struct {
	client redis.UniversalClient
}

// NewQueue wraps an existing Redis client. The queue shares the client with
// the lock manager and retry counters so every dispatcher process sees the
// same state.
func NewQueue(client redis.UniversalClient) *Queue {
	return &Queue{client: client}
}

// Push appends a product id to the tail of a stage topic.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - topic string: The stage topic to push onto.
// - productID string: The product id payload.
//
// Returns:
// - error: An error if the push fails.
func (q *Queue) Push(ctx context.Context, topic string, productID string) error {
	ctx, span := tracer.Start(ctx, "Adding Product To Stage Topic")
	defer span.End()

	err := q.client.RPush(ctx, topic, productID).Err()
	if err != nil {
		return err
	}
	log.Printf(" [*] Successfully enqueued product %s on %s", productID, topic)
	return nil
}

// PopAny blocks until any of the given topics has an entry and removes the
// head of the first ready topic. Topics are checked in the order given;
// that order is the dispatch priority, so a backlog in an early topic
// starves later ones on purpose.
//
// The call blocks indefinitely; it returns early only when ctx is done or
// the queue backend errors.
//
// Returns:
// - string: The topic the entry came from.
// - string: The product id payload.
// - error: ctx.Err() on cancellation, or a queue-access error.
func (q *Queue) PopAny(ctx context.Context, topics ...string) (string, string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", "", err
		}

		res, err := q.client.BLPop(ctx, popBlockInterval, topics...).Result()
		if err == redis.Nil {
			continue // nothing ready yet, block again
		}
		if err != nil {
			return "", "", err
		}
		// BLPop returns [key, value]
		return res[0], res[1], nil
	}
}

// PushDeadLetter appends a terminal failure record to the dead-letter topic.
func (q *Queue) PushDeadLetter(ctx context.Context, topic string, record model.DeadLetter) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	err = q.client.RPush(ctx, topic, payload).Err()
	if err != nil {
		return err
	}
	log.Printf(" [*] Dead-lettered product %s from stage %s", record.ProductID, record.Stage)
	return nil
}

// Depth returns the number of entries waiting on a topic.
func (q *Queue) Depth(ctx context.Context, topic string) (int64, error) {
	return q.client.LLen(ctx, topic).Result()
}

// DeadLetters returns up to limit records from the head of the dead-letter
// topic without removing them. Records that fail to decode are skipped;
// the queue is the only place these records live, so a bad entry is
// reported rather than dropped.
func (q *Queue) DeadLetters(ctx context.Context, topic string, limit int64) ([]model.DeadLetter, error) {
	if limit <= 0 {
		limit = 50
	}
	raw, err := q.client.LRange(ctx, topic, 0, limit-1).Result()
	if err != nil {
		return nil, err
	}

	records := make([]model.DeadLetter, 0, len(raw))
	for _, entry := range raw {
		var record model.DeadLetter
		if err := json.Unmarshal([]byte(entry), &record); err != nil {
			log.Printf("skipping malformed dead-letter entry: %v", err)
			continue
		}
		records = append(records, record)
	}
	return records, nil
}
