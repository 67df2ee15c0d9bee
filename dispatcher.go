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
	redlock "github.com/droptide/droptide/internal/lock"
	"github.com/droptide/droptide/model"
)

// popErrorPause is how long a dispatcher backs off after a queue-access
// error before polling again.
const popErrorPause = 2 * time.Second

func lockKey(stage model.Stage, productID string) string {
	return fmt.Sprintf("droptide:lock:%s:%s", stage, productID)
}

// stageForTopic maps a queue topic back to its pipeline stage.
func stageForTopic(cnf *config.Configuration, topic string) (model.Stage, bool) {
	switch topic {
	case cnf.Queue.DiscoveryTopic:
		return model.StageDiscovery, true
	case cnf.Queue.SourcingTopic:
		return model.StageSourcing, true
	case cnf.Queue.CopyTopic:
		return model.StageCopy, true
	case cnf.Queue.VideoTopic:
		return model.StageVideo, true
	}
	return "", false
}

// StartDispatcher runs the worker loop until ctx is cancelled: pop the next
// job across all stage topics in priority order, take the per-item lock,
// run the stage handler, release the lock. Handler failures go through the
// retry policy; everything else is logged and the loop keeps draining.
//
// Multiple dispatchers may run against the same Redis instance, in this
// process or others. The per-(stage, product) lock is what keeps them from
// double-processing an item.
func (d *Droptide) StartDispatcher(ctx context.Context) error {
	cnf, err := config.Fetch()
	if err != nil {
		return err
	}
	topics := cnf.StageTopics()

	logrus.Infof("dispatcher started, draining %v", topics)
	for {
		topic, productID, err := d.queue.PopAny(ctx, topics...)
		if err != nil {
			if ctx.Err() != nil {
				logrus.Info("dispatcher stopping")
				return ctx.Err()
			}
			logrus.Errorf("queue pop failed: %v", err)
			d.sleep(popErrorPause)
			continue
		}

		stage, ok := stageForTopic(cnf, topic)
		if !ok {
			logrus.Errorf("job for product %s arrived on unknown topic %s, dropping", productID, topic)
			continue
		}

		d.processJob(ctx, cnf, stage, topic, productID)
	}
}

// processJob runs one (stage, product) job under the item lock.
func (d *Droptide) processJob(ctx context.Context, cnf *config.Configuration, stage model.Stage, topic string, productID string) {
	locker := redlock.NewLocker(d.redis, lockKey(stage, productID))
	acquired, err := locker.TryLock(ctx, cnf.LockTTL())
	if err != nil {
		// Lock state is unknown; put the job back rather than risk losing it.
		logrus.Errorf("lock acquire failed for product %s on stage %s: %v", productID, stage, err)
		if pushErr := d.queue.Push(ctx, topic, productID); pushErr != nil {
			logrus.Errorf("failed to requeue product %s after lock error: %v", productID, pushErr)
		}
		return
	}
	if !acquired {
		// Another worker holds this item. Its queue entry is consumed; the
		// holder's own outcome decides what happens to the product next.
		logrus.Infof("product %s already locked on stage %s, skipping", productID, stage)
		return
	}
	defer func() {
		if err := locker.Unlock(ctx); err != nil {
			// An expired lock unlocks itself; anything else is worth noting.
			logrus.Warnf("failed to release lock for product %s on stage %s: %v", productID, stage, err)
		}
	}()

	if err := d.runStage(ctx, stage, productID); err != nil {
		if _, retryErr := d.retry.HandleFailure(ctx, stage, topic, productID, err); retryErr != nil {
			logrus.Errorf("retry protocol failed for product %s on stage %s: %v", productID, stage, retryErr)
		}
	}
}

func (d *Droptide) runStage(ctx context.Context, stage model.Stage, productID string) error {
	switch stage {
	case model.StageDiscovery:
		return d.handleDiscovery(ctx, productID)
	case model.StageSourcing:
		return d.handleSourcing(ctx, productID)
	case model.StageCopy:
		return d.handleCopy(ctx, productID)
	case model.StageVideo:
		return d.handleVideo(ctx, productID)
	}
	return fmt.Errorf("no handler for stage %s", stage)
}
