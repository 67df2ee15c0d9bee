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

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

var ConfigStore atomic.Value

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"DROPTIDE_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns string `json:"dns" envconfig:"DROPTIDE_REDIS_DNS"`
}

// QueueConfig names the Redis list each pipeline stage drains, plus the
// dead-letter topic that terminally failed jobs land on.
type QueueConfig struct {
	DiscoveryTopic  string `json:"discovery_topic" envconfig:"DROPTIDE_QUEUE_DISCOVERY_TOPIC"`
	SourcingTopic   string `json:"sourcing_topic" envconfig:"DROPTIDE_QUEUE_SOURCING_TOPIC"`
	CopyTopic       string `json:"copy_topic" envconfig:"DROPTIDE_QUEUE_COPY_TOPIC"`
	VideoTopic      string `json:"video_topic" envconfig:"DROPTIDE_QUEUE_VIDEO_TOPIC"`
	DeadLetterTopic string `json:"dead_letter_topic" envconfig:"DROPTIDE_QUEUE_DEAD_LETTER_TOPIC"`
}

// PipelineConfig bounds the retry and locking behaviour of the dispatcher.
type PipelineConfig struct {
	MaxRetries      int `json:"max_retries" envconfig:"DROPTIDE_PIPELINE_MAX_RETRIES"`
	RetryBackoffMs  int `json:"retry_backoff_ms" envconfig:"DROPTIDE_PIPELINE_RETRY_BACKOFF_MS"`
	LockTTLMinutes  int `json:"lock_ttl_minutes" envconfig:"DROPTIDE_PIPELINE_LOCK_TTL_MINUTES"`
	CounterTTLHours int `json:"counter_ttl_hours" envconfig:"DROPTIDE_PIPELINE_COUNTER_TTL_HOURS"`
}

// CatalogConfig holds credentials for the Shopify-compatible catalog the
// publish adapter lists products on.
type CatalogConfig struct {
	ShopDomain string `json:"shop_domain" envconfig:"DROPTIDE_CATALOG_SHOP_DOMAIN"`
	AdminToken string `json:"admin_token" envconfig:"DROPTIDE_CATALOG_ADMIN_TOKEN"`
	ApiVersion string `json:"api_version" envconfig:"DROPTIDE_CATALOG_API_VERSION"`
}

type AgentHttpService struct {
	Url     string `json:"url"`
	Timeout int    `json:"timeout"`
	Headers struct {
		Authorization string `json:"Authorization"`
	} `json:"headers"`
}

// AgentsConfig points at the external stage processors. Each stage is an
// opaque HTTP service: product in, decision out.
type AgentsConfig struct {
	Discovery AgentHttpService `json:"discovery"`
	Sourcing  AgentHttpService `json:"sourcing"`
	Copy      AgentHttpService `json:"copy"`
	Video     AgentHttpService `json:"video"`
	Renderer  AgentHttpService `json:"renderer"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type Notification struct {
	Slack   SlackWebhook `json:"slack"`
	Webhook struct {
		Url     string            `json:"url"`
		Headers map[string]string `json:"headers"`
	} `json:"webhook"`
}

type Configuration struct {
	ProjectName  string           `json:"project_name" envconfig:"DROPTIDE_PROJECT_NAME"`
	PriceMarkup  float64          `json:"price_markup" envconfig:"DROPTIDE_PRICE_MARKUP"`
	DataSource   DataSourceConfig `json:"data_source"`
	Redis        RedisConfig      `json:"redis"`
	Queue        QueueConfig      `json:"queue"`
	Pipeline     PipelineConfig   `json:"pipeline"`
	Catalog      CatalogConfig    `json:"catalog"`
	Agents       AgentsConfig     `json:"agents"`
	Notification Notification     `json:"notification"`
}

// StageTopics returns the stage topics in dispatch priority order: the
// deepest stage drains first so items already in flight finish before new
// discoveries are picked up. A backlog in a high-priority topic starves the
// lower ones on purpose.
func (cnf *Configuration) StageTopics() []string {
	return []string{
		cnf.Queue.VideoTopic,
		cnf.Queue.CopyTopic,
		cnf.Queue.SourcingTopic,
		cnf.Queue.DiscoveryTopic,
	}
}

// LockTTL returns how long a crashed worker can hold a (stage, product)
// lock before the item becomes reprocessable.
func (cnf *Configuration) LockTTL() time.Duration {
	return time.Duration(cnf.Pipeline.LockTTLMinutes) * time.Minute
}

// CounterTTL returns the retry-counter expiry; failures that stop for this
// long reset the count naturally.
func (cnf *Configuration) CounterTTL() time.Duration {
	return time.Duration(cnf.Pipeline.CounterTTLHours) * time.Hour
}

// RetryBackoff returns the linear backoff unit, multiplied per attempt.
func (cnf *Configuration) RetryBackoff() time.Duration {
	return time.Duration(cnf.Pipeline.RetryBackoffMs) * time.Millisecond
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("droptide", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called droptide.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Droptide"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	cnf.applyQueueDefaults()
	cnf.applyPipelineDefaults()

	if cnf.PriceMarkup == 0 {
		log.Println("Warning: Price markup not specified. Setting default value: 3.0")
		cnf.PriceMarkup = 3.0
	}

	if cnf.Catalog.ApiVersion == "" {
		cnf.Catalog.ApiVersion = "2024-10"
	}

	return nil
}

func (cnf *Configuration) applyQueueDefaults() {
	if cnf.Queue.DiscoveryTopic == "" {
		cnf.Queue.DiscoveryTopic = "droptide:discovery"
	}
	if cnf.Queue.SourcingTopic == "" {
		cnf.Queue.SourcingTopic = "droptide:sourcing"
	}
	if cnf.Queue.CopyTopic == "" {
		cnf.Queue.CopyTopic = "droptide:copy"
	}
	if cnf.Queue.VideoTopic == "" {
		cnf.Queue.VideoTopic = "droptide:video"
	}
	if cnf.Queue.DeadLetterTopic == "" {
		cnf.Queue.DeadLetterTopic = "droptide:dead_letter"
	}
}

func (cnf *Configuration) applyPipelineDefaults() {
	if cnf.Pipeline.MaxRetries == 0 {
		cnf.Pipeline.MaxRetries = 3
	}
	if cnf.Pipeline.RetryBackoffMs == 0 {
		cnf.Pipeline.RetryBackoffMs = 5000
	}
	if cnf.Pipeline.LockTTLMinutes == 0 {
		cnf.Pipeline.LockTTLMinutes = 10
	}
	if cnf.Pipeline.CounterTTLHours == 0 {
		cnf.Pipeline.CounterTTLHours = 24
	}
}

// MockConfig sets a mock configuration for testing purposes. Queue and
// pipeline defaults are applied so tests get usable topic names without
// spelling out the full configuration.
func MockConfig(mockConfig *Configuration) {
	mockConfig.applyQueueDefaults()
	mockConfig.applyPipelineDefaults()
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
