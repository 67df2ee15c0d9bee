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

package database

import (
	"context"

	"github.com/droptide/droptide/model"
)

// IDataSource is the store surface the pipeline consumes.
type IDataSource interface {
	product
	auditLog
}

// product defines methods for handling candidate products.
type product interface {
	CreateProduct(ctx context.Context, product *model.Product) (*model.Product, error)           // Inserts a freshly detected product
	GetProduct(ctx context.Context, id string) (*model.Product, error)                           // Retrieves a product by ID; (nil, nil) when absent
	UpdateProductFields(ctx context.Context, id string, fields map[string]interface{}) error     // Partial update of product columns
	GetProductsByStatus(ctx context.Context, status model.Status, limit int) ([]*model.Product, error) // Lists products in a given status
	CountProductsByStatus(ctx context.Context) (map[model.Status]int64, error)                   // Grouped counts consumed by the dashboard collaborator
}

// auditLog defines methods for the append-only audit trail.
type auditLog interface {
	RecordAuditLog(ctx context.Context, entry *model.AuditLog) error
	GetAuditLogs(ctx context.Context, productID string) ([]model.AuditLog, error)
}
