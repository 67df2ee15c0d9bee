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
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/droptide/droptide/model"
)

func newTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewQueue(client), mr
}

func TestQueuePushAndPop(t *testing.T) {
	queue, _ := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, queue.Push(ctx, "droptide:discovery", "prd_1"))
	require.NoError(t, queue.Push(ctx, "droptide:discovery", "prd_2"))

	topic, productID, err := queue.PopAny(ctx, "droptide:discovery")
	require.NoError(t, err)
	assert.Equal(t, "droptide:discovery", topic)
	assert.Equal(t, "prd_1", productID)

	depth, err := queue.Depth(ctx, "droptide:discovery")
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)
}

func TestQueuePopAnyHonoursTopicOrder(t *testing.T) {
	queue, _ := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, queue.Push(ctx, "droptide:discovery", "prd_new"))
	require.NoError(t, queue.Push(ctx, "droptide:video", "prd_deep"))

	// The video topic is listed first, so its entry must win even though
	// the discovery entry was pushed earlier.
	topic, productID, err := queue.PopAny(ctx, "droptide:video", "droptide:discovery")
	require.NoError(t, err)
	assert.Equal(t, "droptide:video", topic)
	assert.Equal(t, "prd_deep", productID)
}

func TestQueuePopAnyStopsOnCancel(t *testing.T) {
	queue, _ := newTestQueue(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, _, err := queue.PopAny(ctx, "droptide:discovery")
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(10 * time.Second):
		t.Fatal("PopAny did not return after cancellation")
	}
}

func TestQueueDeadLetters(t *testing.T) {
	queue, mr := newTestQueue(t)
	ctx := context.Background()

	record := model.DeadLetter{
		ProductID:  "prd_1",
		Stage:      model.StageCopy,
		Error:      "copy agent exploded",
		OccurredAt: time.Now().UTC(),
	}
	require.NoError(t, queue.PushDeadLetter(ctx, "droptide:dead_letter", record))

	// Malformed entries are skipped, not fatal.
	_, err := mr.Lpush("droptide:dead_letter", "not-json")
	require.NoError(t, err)

	records, err := queue.DeadLetters(ctx, "droptide:dead_letter", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "prd_1", records[0].ProductID)
	assert.Equal(t, model.StageCopy, records[0].Stage)
	assert.Equal(t, "copy agent exploded", records[0].Error)

	// Peeking does not consume.
	depth, err := queue.Depth(ctx, "droptide:dead_letter")
	require.NoError(t, err)
	assert.Equal(t, int64(2), depth)
}
