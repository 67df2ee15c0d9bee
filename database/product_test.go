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
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/droptide/droptide/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func newTestDatasource(t *testing.T) (Datasource, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database Connection", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return Datasource{Conn: db}, mock
}

func productRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"product_id", "source_url", "title", "description", "images", "status", "viral_score", "sentiment_score",
		"supplier_ref", "cost_price", "list_price", "marketing_copy", "video_script",
		"shopify_product_id", "shopify_gid", "admin_url", "shopify_media_id", "meta_data",
		"created_at", "updated_at",
	})
}

func TestCreateProduct(t *testing.T) {
	datasource, mock := newTestDatasource(t)

	product := &model.Product{
		SourceURL:   gofakeit.URL(),
		Title:       gofakeit.ProductName(),
		Description: gofakeit.ProductDescription(),
	}

	mock.ExpectExec("INSERT INTO products").
		WillReturnResult(sqlmock.NewResult(1, 1))

	created, err := datasource.CreateProduct(context.Background(), product)
	assert.NoError(t, err)
	assert.Contains(t, created.ProductID, "prd_")
	assert.Equal(t, model.StatusDetected, created.Status)
	assert.WithinDuration(t, time.Now(), created.CreatedAt, time.Second)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetProduct(t *testing.T) {
	datasource, mock := newTestDatasource(t)
	now := time.Now()

	rows := productRows().AddRow(
		"prd_123", "https://example.com/item", "Galaxy Projector", "A tiny planetarium",
		[]byte(`["https://cdn.example.com/1.jpg"]`), "VETTED",
		0.82, 0.91, "", "4.20", "12.60", nil, nil, "", "", "", "", []byte(`{"niche":"home decor"}`),
		now, now,
	)
	mock.ExpectQuery("SELECT (.+) FROM products").
		WithArgs("prd_123").
		WillReturnRows(rows)

	product, err := datasource.GetProduct(context.Background(), "prd_123")
	assert.NoError(t, err)
	assert.NotNil(t, product)
	assert.Equal(t, "Galaxy Projector", product.Title)
	assert.Equal(t, model.StatusVetted, product.Status)
	assert.True(t, product.CostPrice.Equal(decimal.NewFromFloat(4.20)))
	assert.Equal(t, "home decor", product.MetaData["niche"])
	assert.Equal(t, []string{"https://cdn.example.com/1.jpg"}, product.Images)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetProduct_NotFound(t *testing.T) {
	datasource, mock := newTestDatasource(t)

	mock.ExpectQuery("SELECT (.+) FROM products").
		WithArgs("prd_missing").
		WillReturnRows(productRows())

	product, err := datasource.GetProduct(context.Background(), "prd_missing")
	assert.NoError(t, err, "a missing product is not an error")
	assert.Nil(t, product)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateProductFields(t *testing.T) {
	datasource, mock := newTestDatasource(t)

	mock.ExpectExec("UPDATE products").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := datasource.UpdateProductFields(context.Background(), "prd_123", map[string]interface{}{
		"status":      model.StatusVetted,
		"viral_score": 0.82,
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateProductFields_NotFound(t *testing.T) {
	datasource, mock := newTestDatasource(t)

	mock.ExpectExec("UPDATE products").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := datasource.UpdateProductFields(context.Background(), "prd_missing", map[string]interface{}{
		"status": model.StatusVetted,
	})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateProductFields_NoFields(t *testing.T) {
	datasource, mock := newTestDatasource(t)

	// No statement issued at all
	err := datasource.UpdateProductFields(context.Background(), "prd_123", nil)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountProductsByStatus(t *testing.T) {
	datasource, mock := newTestDatasource(t)

	rows := sqlmock.NewRows([]string{"status", "count"}).
		AddRow("DETECTED", 7).
		AddRow("LISTED", 3)
	mock.ExpectQuery("SELECT status, COUNT").
		WillReturnRows(rows)

	counts, err := datasource.CountProductsByStatus(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, int64(7), counts[model.StatusDetected])
	assert.Equal(t, int64(3), counts[model.StatusListed])

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordAuditLog(t *testing.T) {
	datasource, mock := newTestDatasource(t)

	mock.ExpectExec("INSERT INTO audit_logs").
		WillReturnResult(sqlmock.NewResult(1, 1))

	entry := &model.AuditLog{
		ProductID: "prd_123",
		Agent:     "sourcing",
		Decision:  "APPROVED",
		Reason:    "supplier ships in 5 days",
	}
	err := datasource.RecordAuditLog(context.Background(), entry)
	assert.NoError(t, err)
	assert.Contains(t, entry.LogID, "log_")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAuditLogs(t *testing.T) {
	datasource, mock := newTestDatasource(t)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"log_id", "product_id", "agent", "decision", "reason", "created_at"}).
		AddRow("log_1", "prd_123", "discovery", "APPROVE", "strong hook potential", now.Add(-time.Hour)).
		AddRow("log_2", "prd_123", "sourcing", "APPROVED", "supplier found", now)
	mock.ExpectQuery("SELECT (.+) FROM audit_logs").
		WithArgs("prd_123").
		WillReturnRows(rows)

	logs, err := datasource.GetAuditLogs(context.Background(), "prd_123")
	assert.NoError(t, err)
	assert.Len(t, logs, 2)
	assert.Equal(t, "discovery", logs[0].Agent)
	assert.Equal(t, "sourcing", logs[1].Agent)

	assert.NoError(t, mock.ExpectationsWereMet())
}
