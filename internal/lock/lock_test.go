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

package redlock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestLocker_TryLock_Success(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db, "test-key")

	mock.ExpectSetNX("test-key", locker.Token(), 5*time.Second).SetVal(true)

	held, err := locker.TryLock(context.Background(), 5*time.Second)
	assert.NoError(t, err)
	assert.True(t, held)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocker_TryLock_Conflict(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db, "test-key")

	mock.ExpectSetNX("test-key", locker.Token(), 5*time.Second).SetVal(false)

	held, err := locker.TryLock(context.Background(), 5*time.Second)
	assert.NoError(t, err, "a held lock is a skip signal, not an error")
	assert.False(t, held)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocker_Unlock_Success(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db, "test-key")

	script := "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end"
	mock.ExpectEval(script, []string{"test-key"}, locker.Token()).SetVal(int64(1))

	err := locker.Unlock(context.Background())
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocker_Unlock_Failure(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db, "test-key")

	// Simulate a failed unlock (either lock expired or not the lock holder)
	script := "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end"
	mock.ExpectEval(script, []string{"test-key"}, locker.Token()).SetVal(int64(0))

	err := locker.Unlock(context.Background())
	assert.EqualError(t, err, "unlock failed, either lock expired or you're not the lock holder for key test-key")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocker_ExtendLock_Success(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db, "test-key")

	script := "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('pexpire', KEYS[1], ARGV[2]) else return 0 end"
	mock.ExpectEval(script, []string{"test-key"}, locker.Token(), "5000").SetVal(int64(1))

	err := locker.ExtendLock(context.Background(), 5*time.Second)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func newMiniredisClient(t *testing.T) (*miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	return mr, redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestLocker_MutualExclusion(t *testing.T) {
	_, client := newMiniredisClient(t)
	ctx := context.Background()

	const attempts = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			locker := NewLocker(client, "contested-key")
			held, err := locker.TryLock(ctx, time.Minute)
			assert.NoError(t, err)
			if held {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners, "exactly one concurrent acquirer may win")
}

func TestLocker_StaleTokenCannotReleaseNewLock(t *testing.T) {
	mr, client := newMiniredisClient(t)
	ctx := context.Background()

	stale := NewLocker(client, "expiring-key")
	held, err := stale.TryLock(ctx, 50*time.Millisecond)
	assert.NoError(t, err)
	assert.True(t, held)

	// TTL elapses and a second owner takes the key
	mr.FastForward(100 * time.Millisecond)

	fresh := NewLocker(client, "expiring-key")
	held, err = fresh.TryLock(ctx, time.Minute)
	assert.NoError(t, err)
	assert.True(t, held, "an expired lock must be re-acquirable")

	// The stale owner's release must not delete the fresh lock
	err = stale.Unlock(ctx)
	assert.Error(t, err)

	val, err := client.Get(ctx, "expiring-key").Result()
	assert.NoError(t, err)
	assert.Equal(t, fresh.Token(), val)

	assert.NoError(t, fresh.Unlock(ctx))
}
