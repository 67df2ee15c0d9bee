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

package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Product is a candidate product moving through the pipeline. Fields are
// accumulated stage by stage: discovery fills the scores, sourcing the
// supplier and cost, copy and video the generated blobs, publish the
// external catalog identifiers.
type Product struct {
	ID               int64                  `json:"-"`
	ProductID        string                 `json:"product_id"`
	SourceURL        string                 `json:"source_url"`
	Title            string                 `json:"title"`
	Description      string                 `json:"description"`
	Images           []string               `json:"images"`
	Status           Status                 `json:"status"`
	ViralScore       float64                `json:"viral_score"`
	SentimentScore   float64                `json:"sentiment_score"`
	SupplierRef      string                 `json:"supplier_ref"`
	CostPrice        decimal.Decimal        `json:"cost_price"`
	ListPrice        decimal.Decimal        `json:"list_price"`
	MarketingCopy    json.RawMessage        `json:"marketing_copy,omitempty"`
	VideoScript      json.RawMessage        `json:"video_script,omitempty"`
	ShopifyProductID string                 `json:"shopify_product_id"`
	ShopifyGID       string                 `json:"shopify_gid"`
	AdminURL         string                 `json:"admin_url"`
	ShopifyMediaID   string                 `json:"shopify_media_id"`
	MetaData         map[string]interface{} `json:"meta_data"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

// AuditLog is one append-only entry per handler invocation outcome. Entries
// are never mutated or deleted.
type AuditLog struct {
	ID        int64     `json:"-"`
	LogID     string    `json:"log_id"`
	ProductID string    `json:"product_id"`
	Agent     string    `json:"agent"`
	Decision  string    `json:"decision"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}
