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
	"errors"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/droptide/droptide/model"
)

func TestSubmitProduct(t *testing.T) {
	d, datasource, mr := newTestDroptide(t, StageAgents{}, nil)

	created := &model.Product{ProductID: "prd_1", Status: model.StatusDetected}
	datasource.On("CreateProduct", mock.Anything, mock.Anything).Return(created, nil)

	result, err := d.SubmitProduct(context.Background(), &model.Product{
		Title:     gofakeit.ProductName(),
		SourceURL: gofakeit.URL(),
	})
	require.NoError(t, err)
	assert.Equal(t, "prd_1", result.ProductID)

	payload, err := mr.Lpop("droptide:discovery")
	require.NoError(t, err)
	assert.Equal(t, "prd_1", payload)
}

func TestHandleDiscoveryApprove(t *testing.T) {
	agents := StageAgents{
		Discovery: FakeDiscoveryAgent{ReviewFunc: func(ctx context.Context, product *model.Product) (*model.DiscoveryResult, error) {
			return &model.DiscoveryResult{
				Verdict:        model.VerdictApprove,
				ViralScore:     0.91,
				SentimentScore: 0.72,
				Reasoning:      "strong engagement on source posts",
			}, nil
		}},
	}
	d, datasource, mr := newTestDroptide(t, agents, nil)

	datasource.On("GetProduct", mock.Anything, "prd_1").
		Return(&model.Product{ProductID: "prd_1", Status: model.StatusDetected}, nil)
	datasource.On("UpdateProductFields", mock.Anything, "prd_1", mock.MatchedBy(func(fields map[string]interface{}) bool {
		return fields["status"] == model.StatusVetted && fields["viral_score"] == 0.91
	})).Return(nil)
	datasource.On("RecordAuditLog", mock.Anything, mock.Anything).Return(nil)

	require.NoError(t, d.handleDiscovery(context.Background(), "prd_1"))

	// Approval moves the product onto the sourcing queue.
	payload, err := mr.Lpop("droptide:sourcing")
	require.NoError(t, err)
	assert.Equal(t, "prd_1", payload)
}

func TestHandleDiscoveryReject(t *testing.T) {
	agents := StageAgents{
		Discovery: FakeDiscoveryAgent{ReviewFunc: func(ctx context.Context, product *model.Product) (*model.DiscoveryResult, error) {
			return &model.DiscoveryResult{Verdict: model.VerdictReject, Reasoning: "saturated niche"}, nil
		}},
	}
	d, datasource, mr := newTestDroptide(t, agents, nil)

	datasource.On("GetProduct", mock.Anything, "prd_1").
		Return(&model.Product{ProductID: "prd_1", Status: model.StatusDetected}, nil)
	datasource.On("UpdateProductFields", mock.Anything, "prd_1", mock.MatchedBy(func(fields map[string]interface{}) bool {
		return fields["status"] == model.StatusRejected
	})).Return(nil)
	datasource.On("RecordAuditLog", mock.Anything, mock.MatchedBy(func(entry *model.AuditLog) bool {
		return entry.Decision == model.VerdictRejected && entry.Reason == "saturated niche"
	})).Return(nil)

	require.NoError(t, d.handleDiscovery(context.Background(), "prd_1"))

	// Rejection is terminal: nothing is enqueued downstream.
	assert.False(t, mr.Exists("droptide:sourcing"))
}

func TestHandleDiscoveryInvalidResultIsRetryable(t *testing.T) {
	agents := StageAgents{
		Discovery: FakeDiscoveryAgent{ReviewFunc: func(ctx context.Context, product *model.Product) (*model.DiscoveryResult, error) {
			return &model.DiscoveryResult{Verdict: "MAYBE"}, nil
		}},
	}
	d, datasource, _ := newTestDroptide(t, agents, nil)

	datasource.On("GetProduct", mock.Anything, "prd_1").
		Return(&model.Product{ProductID: "prd_1", Status: model.StatusDetected}, nil)

	err := d.handleDiscovery(context.Background(), "prd_1")
	assert.Error(t, err)
	datasource.AssertNotCalled(t, "UpdateProductFields", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleDiscoveryDropsStaleJob(t *testing.T) {
	d, datasource, mr := newTestDroptide(t, StageAgents{}, nil)

	// Already past discovery; a duplicate delivery must be a silent no-op.
	datasource.On("GetProduct", mock.Anything, "prd_1").
		Return(&model.Product{ProductID: "prd_1", Status: model.StatusVetted}, nil)

	require.NoError(t, d.handleDiscovery(context.Background(), "prd_1"))
	assert.False(t, mr.Exists("droptide:sourcing"))
}

func TestHandleDiscoveryDropsMissingProduct(t *testing.T) {
	d, datasource, _ := newTestDroptide(t, StageAgents{}, nil)

	datasource.On("GetProduct", mock.Anything, "prd_gone").Return(nil, nil)

	require.NoError(t, d.handleDiscovery(context.Background(), "prd_gone"))
}

func TestHandleSourcingPricesListing(t *testing.T) {
	cost := decimal.NewFromFloat(7.50)
	agents := StageAgents{
		Sourcing: FakeSourcingAgent{SourceFunc: func(ctx context.Context, product *model.Product) (*model.SourcingResult, error) {
			return &model.SourcingResult{
				Verdict:     model.VerdictApproved,
				SupplierRef: "SUP-441",
				CostPrice:   cost,
				Reasoning:   "supplier ships in 5 days",
			}, nil
		}},
	}
	d, datasource, mr := newTestDroptide(t, agents, nil)

	datasource.On("GetProduct", mock.Anything, "prd_1").
		Return(&model.Product{ProductID: "prd_1", Status: model.StatusVetted}, nil)
	datasource.On("UpdateProductFields", mock.Anything, "prd_1", mock.MatchedBy(func(fields map[string]interface{}) bool {
		listPrice, ok := fields["list_price"].(decimal.Decimal)
		return ok &&
			fields["status"] == model.StatusApproved &&
			fields["supplier_ref"] == "SUP-441" &&
			listPrice.Equal(decimal.NewFromFloat(22.50)) // cost × default 3.0 markup
	})).Return(nil)
	datasource.On("RecordAuditLog", mock.Anything, mock.Anything).Return(nil)

	require.NoError(t, d.handleSourcing(context.Background(), "prd_1"))

	payload, err := mr.Lpop("droptide:copy")
	require.NoError(t, err)
	assert.Equal(t, "prd_1", payload)
}

func TestHandleSourcingReject(t *testing.T) {
	agents := StageAgents{
		Sourcing: FakeSourcingAgent{SourceFunc: func(ctx context.Context, product *model.Product) (*model.SourcingResult, error) {
			return &model.SourcingResult{Verdict: model.VerdictRejected, Reasoning: "no supplier under margin"}, nil
		}},
	}
	d, datasource, mr := newTestDroptide(t, agents, nil)

	datasource.On("GetProduct", mock.Anything, "prd_1").
		Return(&model.Product{ProductID: "prd_1", Status: model.StatusVetted}, nil)
	datasource.On("UpdateProductFields", mock.Anything, "prd_1", mock.MatchedBy(func(fields map[string]interface{}) bool {
		return fields["status"] == model.StatusRejected
	})).Return(nil)
	datasource.On("RecordAuditLog", mock.Anything, mock.Anything).Return(nil)

	require.NoError(t, d.handleSourcing(context.Background(), "prd_1"))
	assert.False(t, mr.Exists("droptide:copy"))
}

func TestHandleCopyStoresGeneratedCopy(t *testing.T) {
	agents := StageAgents{
		Copy: FakeCopyAgent{ComposeFunc: func(ctx context.Context, product *model.Product) (*model.CopyResult, error) {
			return &model.CopyResult{
				Title:    "Glow Visor Pro",
				BodyHTML: "<p>Hands-free light wherever you work.</p>",
				Hooks:    []string{"seen all over your feed"},
			}, nil
		}},
	}
	d, datasource, mr := newTestDroptide(t, agents, nil)

	datasource.On("GetProduct", mock.Anything, "prd_1").
		Return(&model.Product{ProductID: "prd_1", Status: model.StatusApproved}, nil)
	datasource.On("UpdateProductFields", mock.Anything, "prd_1", mock.MatchedBy(func(fields map[string]interface{}) bool {
		copyJSON, ok := fields["marketing_copy"].([]byte)
		return ok && fields["status"] == model.StatusReadyForVideo && len(copyJSON) > 0
	})).Return(nil)
	datasource.On("RecordAuditLog", mock.Anything, mock.Anything).Return(nil)

	require.NoError(t, d.handleCopy(context.Background(), "prd_1"))

	payload, err := mr.Lpop("droptide:video")
	require.NoError(t, err)
	assert.Equal(t, "prd_1", payload)
}

func TestHandleVideoPublishesInline(t *testing.T) {
	script := &model.VideoResult{Scenes: []model.Scene{{Sequence: 1, Visual: "product close-up", VoiceOver: "meet the glow visor", DurationSeconds: 3}}}
	agents := StageAgents{
		Video: FakeVideoAgent{ScriptFunc: func(ctx context.Context, product *model.Product) (*model.VideoResult, error) {
			return script, nil
		}},
		Renderer: FakeRenderer{RenderFunc: func(ctx context.Context, product *model.Product, s *model.VideoResult) (string, error) {
			return "/tmp/prd_1.mp4", nil
		}},
	}
	var publishedPath string
	publisher := FakePublisher{PublishFunc: func(ctx context.Context, product *model.Product, videoPath string) (*PublishResult, error) {
		publishedPath = videoPath
		return &PublishResult{ExternalID: "123", ExternalGID: "gid://shopify/Product/123", AdminURL: "https://shop.example.com/admin/products/123", MediaID: "gid://shopify/Video/9"}, nil
	}}
	d, datasource, _ := newTestDroptide(t, agents, publisher)

	datasource.On("GetProduct", mock.Anything, "prd_1").
		Return(&model.Product{ProductID: "prd_1", Status: model.StatusReadyForVideo}, nil).Once()
	datasource.On("UpdateProductFields", mock.Anything, "prd_1", mock.MatchedBy(func(fields map[string]interface{}) bool {
		return fields["status"] == model.StatusReadyToList
	})).Return(nil).Once()
	// The inline publish re-fetches and sees the new status.
	datasource.On("GetProduct", mock.Anything, "prd_1").
		Return(&model.Product{ProductID: "prd_1", Status: model.StatusReadyToList}, nil).Once()
	datasource.On("UpdateProductFields", mock.Anything, "prd_1", mock.MatchedBy(func(fields map[string]interface{}) bool {
		return fields["status"] == model.StatusListed &&
			fields["shopify_product_id"] == "123" &&
			fields["shopify_media_id"] == "gid://shopify/Video/9"
	})).Return(nil).Once()
	datasource.On("RecordAuditLog", mock.Anything, mock.Anything).Return(nil)

	require.NoError(t, d.handleVideo(context.Background(), "prd_1"))

	// The rendered file travels in memory to the publisher.
	assert.Equal(t, "/tmp/prd_1.mp4", publishedPath)
	datasource.AssertExpectations(t)
}

func TestHandleVideoRenderFailureListsWithoutMedia(t *testing.T) {
	agents := StageAgents{
		Video: FakeVideoAgent{ScriptFunc: func(ctx context.Context, product *model.Product) (*model.VideoResult, error) {
			return &model.VideoResult{Scenes: []model.Scene{{Sequence: 1, Visual: "close-up"}}}, nil
		}},
		Renderer: FakeRenderer{RenderFunc: func(ctx context.Context, product *model.Product, s *model.VideoResult) (string, error) {
			return "", errors.New("renderer offline")
		}},
	}
	var publishedPath string
	publisher := FakePublisher{PublishFunc: func(ctx context.Context, product *model.Product, videoPath string) (*PublishResult, error) {
		publishedPath = videoPath
		return &PublishResult{ExternalID: "123"}, nil
	}}
	d, datasource, _ := newTestDroptide(t, agents, publisher)

	datasource.On("GetProduct", mock.Anything, "prd_1").
		Return(&model.Product{ProductID: "prd_1", Status: model.StatusReadyForVideo}, nil).Once()
	datasource.On("UpdateProductFields", mock.Anything, "prd_1", mock.Anything).Return(nil)
	datasource.On("GetProduct", mock.Anything, "prd_1").
		Return(&model.Product{ProductID: "prd_1", Status: model.StatusReadyToList}, nil).Once()
	datasource.On("RecordAuditLog", mock.Anything, mock.Anything).Return(nil)

	require.NoError(t, d.handleVideo(context.Background(), "prd_1"))
	assert.Equal(t, "", publishedPath)
}

func TestHandleVideoPublishFailureLeavesProductParked(t *testing.T) {
	agents := StageAgents{
		Video: FakeVideoAgent{ScriptFunc: func(ctx context.Context, product *model.Product) (*model.VideoResult, error) {
			return &model.VideoResult{Scenes: []model.Scene{{Sequence: 1, Visual: "close-up"}}}, nil
		}},
	}
	publisher := FakePublisher{PublishFunc: func(ctx context.Context, product *model.Product, videoPath string) (*PublishResult, error) {
		return nil, errors.New("catalog is down")
	}}
	d, datasource, _ := newTestDroptide(t, agents, publisher)

	datasource.On("GetProduct", mock.Anything, "prd_1").
		Return(&model.Product{ProductID: "prd_1", Status: model.StatusReadyForVideo}, nil).Once()
	datasource.On("UpdateProductFields", mock.Anything, "prd_1", mock.MatchedBy(func(fields map[string]interface{}) bool {
		return fields["status"] == model.StatusReadyToList
	})).Return(nil).Once()
	datasource.On("GetProduct", mock.Anything, "prd_1").
		Return(&model.Product{ProductID: "prd_1", Status: model.StatusReadyToList}, nil).Once()
	datasource.On("RecordAuditLog", mock.Anything, mock.Anything).Return(nil)

	// A publish failure is not a stage failure: the handler succeeds and
	// the product stays at READY_TO_LIST for a later re-drive.
	require.NoError(t, d.handleVideo(context.Background(), "prd_1"))
	datasource.AssertNumberOfCalls(t, "UpdateProductFields", 1)
}

func TestHandlePublishRoutesExistingListingToUpdate(t *testing.T) {
	var sawExternalID string
	publisher := FakePublisher{PublishFunc: func(ctx context.Context, product *model.Product, videoPath string) (*PublishResult, error) {
		sawExternalID = product.ShopifyProductID
		return &PublishResult{ExternalID: product.ShopifyProductID, ExternalGID: product.ShopifyGID, AdminURL: product.AdminURL}, nil
	}}
	d, datasource, _ := newTestDroptide(t, StageAgents{}, publisher)

	datasource.On("GetProduct", mock.Anything, "prd_1").
		Return(&model.Product{
			ProductID:        "prd_1",
			Status:           model.StatusReadyToList,
			ShopifyProductID: "123",
			ShopifyGID:       "gid://shopify/Product/123",
		}, nil)
	datasource.On("UpdateProductFields", mock.Anything, "prd_1", mock.MatchedBy(func(fields map[string]interface{}) bool {
		// External id survives the re-publish unchanged.
		return fields["status"] == model.StatusListed && fields["shopify_product_id"] == "123"
	})).Return(nil)
	datasource.On("RecordAuditLog", mock.Anything, mock.Anything).Return(nil)

	require.NoError(t, d.handlePublish(context.Background(), "prd_1", ""))
	assert.Equal(t, "123", sawExternalID)
}

func TestRepublishParked(t *testing.T) {
	calls := 0
	publisher := FakePublisher{PublishFunc: func(ctx context.Context, product *model.Product, videoPath string) (*PublishResult, error) {
		calls++
		if product.ProductID == "prd_2" {
			return nil, errors.New("catalog is down")
		}
		return &PublishResult{ExternalID: "555"}, nil
	}}
	d, datasource, _ := newTestDroptide(t, StageAgents{}, publisher)

	parked := []*model.Product{
		{ProductID: "prd_1", Status: model.StatusReadyToList},
		{ProductID: "prd_2", Status: model.StatusReadyToList},
	}
	datasource.On("GetProductsByStatus", mock.Anything, model.StatusReadyToList, 20).Return(parked, nil)
	datasource.On("GetProduct", mock.Anything, "prd_1").Return(parked[0], nil)
	datasource.On("GetProduct", mock.Anything, "prd_2").Return(parked[1], nil)
	datasource.On("UpdateProductFields", mock.Anything, "prd_1", mock.Anything).Return(nil)
	datasource.On("RecordAuditLog", mock.Anything, mock.Anything).Return(nil)

	listed, err := d.RepublishParked(context.Background(), 20)
	require.NoError(t, err)
	assert.Equal(t, 1, listed)
	assert.Equal(t, 2, calls)
}
