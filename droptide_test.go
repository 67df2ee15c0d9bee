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
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/droptide/droptide/config"
	"github.com/droptide/droptide/database/mocks"
)

// newTestDroptide wires a pipeline against miniredis and a mocked store.
// Retry sleeps are disabled so failure tests run instantly.
func newTestDroptide(t *testing.T, agents StageAgents, publisher CatalogPublisher) (*Droptide, *mocks.MockDataSource, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	config.MockConfig(&config.Configuration{
		ProjectName: "droptide-test",
		PriceMarkup: 3.0,
		DataSource:  config.DataSourceConfig{Dns: "postgres://localhost/droptide_test"},
		Redis:       config.RedisConfig{Dns: mr.Addr()},
	})

	datasource := new(mocks.MockDataSource)
	d, err := NewDroptideWithDeps(datasource, client, agents, publisher)
	require.NoError(t, err)
	d.sleep = func(time.Duration) {}

	return d, datasource, mr
}
