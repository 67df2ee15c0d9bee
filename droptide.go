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
	"embed"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/droptide/droptide/config"
	"github.com/droptide/droptide/database"
	redis_db "github.com/droptide/droptide/internal/redis-db"
	"github.com/redis/go-redis/v9"
)

var tracer = otel.Tracer("droptide.pipeline")

//go:embed sql/*.sql
var SQLFiles embed.FS

// Droptide is the main struct for the pipeline application. It binds the
// durable product store, the shared Redis instance (queue, locks, retry
// counters), the stage agents and the catalog publisher.
type Droptide struct {
	datasource database.IDataSource
	redis      redis.UniversalClient
	queue      *Queue
	agents     StageAgents
	publisher  CatalogPublisher
	retry      *RetryPolicy

	// sleep is swapped out in tests so retry backoff does not stall them
	sleep func(time.Duration)
}

// NewDroptide initializes a new pipeline instance with the provided
// datasource. Redis, the queue, the HTTP stage agents and the catalog
// publisher are built from the loaded configuration.
//
// Parameters:
// - db database.IDataSource: The datasource for product store operations.
//
// Returns:
// - *Droptide: A pointer to the newly created instance.
// - error: An error if any of the initialization steps fail.
func NewDroptide(db database.IDataSource) (*Droptide, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	redisClient, err := redis_db.NewRedisClient([]string{fmt.Sprintf("redis://%s", configuration.Redis.Dns)})
	if err != nil {
		return nil, err
	}

	return NewDroptideWithDeps(db, redisClient.Client(), NewHTTPStageAgents(configuration), NewShopifyClient(configuration.Catalog))
}

// NewDroptideWithDeps wires a pipeline instance from explicit collaborators.
// Stage agents and the publisher are injected rather than constructed as
// package singletons so tests can substitute fakes per stage.
func NewDroptideWithDeps(db database.IDataSource, redisClient redis.UniversalClient, agents StageAgents, publisher CatalogPublisher) (*Droptide, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	queue := NewQueue(redisClient)
	d := &Droptide{
		datasource: db,
		redis:      redisClient,
		queue:      queue,
		agents:     agents,
		publisher:  publisher,
		sleep:      time.Sleep,
	}
	d.retry = NewRetryPolicy(redisClient, queue, db, configuration, d.doSleep)
	return d, nil
}

// Queue exposes the work queue, mainly for the CLI and for enqueuing
// freshly detected products.
func (d *Droptide) Queue() *Queue {
	return d.queue
}

// Datasource exposes the product store.
func (d *Droptide) Datasource() database.IDataSource {
	return d.datasource
}

func (d *Droptide) doSleep(duration time.Duration) {
	d.sleep(duration)
}
