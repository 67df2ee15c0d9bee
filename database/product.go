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
	"database/sql"
	"encoding/json"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/droptide/droptide/model"
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

const productColumns = `product_id, source_url, title, description, images, status, viral_score, sentiment_score,
		supplier_ref, cost_price, list_price, marketing_copy, video_script,
		shopify_product_id, shopify_gid, admin_url, shopify_media_id, meta_data, created_at, updated_at`

// CreateProduct inserts a freshly detected product. An empty status defaults
// to DETECTED and a prefixed id is generated when none is set.
func (d Datasource) CreateProduct(ctx context.Context, product *model.Product) (*model.Product, error) {
	if product.ProductID == "" {
		product.ProductID = model.GenerateUUIDWithSuffix("prd")
	}
	if product.Status == "" {
		product.Status = model.StatusDetected
	}
	product.CreatedAt = time.Now()
	product.UpdatedAt = product.CreatedAt

	metaDataJSON, err := json.Marshal(product.MetaData)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal product metadata")
	}
	imagesJSON, err := json.Marshal(product.Images)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal product images")
	}

	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO products (product_id, source_url, title, description, images, status, viral_score, sentiment_score,
			supplier_ref, cost_price, list_price, marketing_copy, video_script,
			shopify_product_id, shopify_gid, admin_url, shopify_media_id, meta_data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`, product.ProductID, product.SourceURL, product.Title, product.Description, imagesJSON, product.Status,
		product.ViralScore, product.SentimentScore, product.SupplierRef, product.CostPrice, product.ListPrice,
		nullableJSON(product.MarketingCopy), nullableJSON(product.VideoScript),
		product.ShopifyProductID, product.ShopifyGID, product.AdminURL, product.ShopifyMediaID,
		metaDataJSON, product.CreatedAt, product.UpdatedAt)

	if err != nil {
		pqErr, ok := err.(*pq.Error)
		if ok && pqErr.Code.Name() == "unique_violation" {
			return nil, errors.Wrapf(err, "product %s already exists", product.ProductID)
		}
		return nil, errors.Wrap(err, "failed to create product")
	}

	return product, nil
}

// GetProduct retrieves a product by id. A missing product returns (nil, nil);
// handlers treat absence as a no-op, not an error.
func (d Datasource) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE product_id = $1
	`, id)

	product, err := scanProduct(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get product %s", id)
	}
	return product, nil
}

// UpdateProductFields applies a partial update to a product. Column names
// are the callers' responsibility; the updated_at stamp is always refreshed.
func (d Datasource) UpdateProductFields(ctx context.Context, id string, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}

	query := sq.Update("products").
		SetMap(fields).
		Set("updated_at", time.Now()).
		Where(sq.Eq{"product_id": id}).
		PlaceholderFormat(sq.Dollar)

	result, err := query.RunWith(d.Conn).ExecContext(ctx)
	if err != nil {
		return errors.Wrapf(err, "failed to update product %s", id)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return errors.Errorf("product %s not found", id)
	}
	return nil
}

// GetProductsByStatus lists products currently sitting in a given status,
// newest first.
func (d Datasource) GetProductsByStatus(ctx context.Context, status model.Status, limit int) ([]*model.Product, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE status = $1
		ORDER BY updated_at DESC
		LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list products by status")
	}
	defer func() {
		_ = rows.Close()
	}()

	var products []*model.Product
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan product")
		}
		products = append(products, product)
	}
	return products, rows.Err()
}

// CountProductsByStatus returns grouped counts for every status present.
// This is the read model consumed by the external dashboard; the pipeline
// itself never calls it.
func (d Datasource) CountProductsByStatus(ctx context.Context) (map[model.Status]int64, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT status, COUNT(*)
		FROM products
		GROUP BY status
	`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count products by status")
	}
	defer func() {
		_ = rows.Close()
	}()

	counts := make(map[model.Status]int64)
	for rows.Next() {
		var status model.Status
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// RecordAuditLog appends one audit entry. There is no update or delete path
// for audit logs anywhere in the codebase.
func (d Datasource) RecordAuditLog(ctx context.Context, entry *model.AuditLog) error {
	if entry.LogID == "" {
		entry.LogID = model.GenerateUUIDWithSuffix("log")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO audit_logs (log_id, product_id, agent, decision, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entry.LogID, entry.ProductID, entry.Agent, entry.Decision, entry.Reason, entry.CreatedAt)
	if err != nil {
		return errors.Wrapf(err, "failed to record audit log for product %s", entry.ProductID)
	}
	return nil
}

// GetAuditLogs returns the audit trail for a product, oldest first.
func (d Datasource) GetAuditLogs(ctx context.Context, productID string) ([]model.AuditLog, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT log_id, product_id, agent, decision, reason, created_at
		FROM audit_logs
		WHERE product_id = $1
		ORDER BY created_at ASC
	`, productID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get audit logs for product %s", productID)
	}
	defer func() {
		_ = rows.Close()
	}()

	logs := []model.AuditLog{}
	for rows.Next() {
		entry := model.AuditLog{}
		var reason sql.NullString
		err = rows.Scan(&entry.LogID, &entry.ProductID, &entry.Agent, &entry.Decision, &reason, &entry.CreatedAt)
		if err != nil {
			return nil, err
		}
		entry.Reason = reason.String
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProduct(row rowScanner) (*model.Product, error) {
	product := model.Product{}
	var sourceURL, title, description, supplierRef sql.NullString
	var shopifyProductID, shopifyGID, adminURL, shopifyMediaID sql.NullString
	var marketingCopy, videoScript, metaDataJSON, imagesJSON []byte

	err := row.Scan(&product.ProductID, &sourceURL, &title, &description, &imagesJSON, &product.Status,
		&product.ViralScore, &product.SentimentScore, &supplierRef, &product.CostPrice, &product.ListPrice,
		&marketingCopy, &videoScript, &shopifyProductID, &shopifyGID, &adminURL, &shopifyMediaID,
		&metaDataJSON, &product.CreatedAt, &product.UpdatedAt)
	if err != nil {
		return nil, err
	}

	product.SourceURL = sourceURL.String
	product.Title = title.String
	product.Description = description.String
	product.SupplierRef = supplierRef.String
	product.ShopifyProductID = shopifyProductID.String
	product.ShopifyGID = shopifyGID.String
	product.AdminURL = adminURL.String
	product.ShopifyMediaID = shopifyMediaID.String
	product.MarketingCopy = marketingCopy
	product.VideoScript = videoScript

	if len(metaDataJSON) > 0 {
		if err := json.Unmarshal(metaDataJSON, &product.MetaData); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal product metadata")
		}
	}
	if len(imagesJSON) > 0 {
		if err := json.Unmarshal(imagesJSON, &product.Images); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal product images")
		}
	}
	return &product, nil
}

func nullableJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
