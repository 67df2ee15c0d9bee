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
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/droptide/droptide/config"
	"github.com/droptide/droptide/model"
)

// Stage handlers follow one shape: fetch the product, bail out quietly when
// the job is stale, call the stage agent, validate its result, persist the
// transition plus an audit entry, enqueue the next stage. A returned error
// always means the job is retryable; permanent outcomes (rejections) return
// nil.

// SubmitProduct records a freshly detected product and enqueues it for
// discovery review. This is the single entry point into the pipeline.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - product *model.Product: The candidate product, typically just a source URL and title.
//
// Returns:
// - *model.Product: The created product with its generated id and DETECTED status.
// - error: An error if persisting or enqueueing fails.
func (d *Droptide) SubmitProduct(ctx context.Context, product *model.Product) (*model.Product, error) {
	ctx, span := tracer.Start(ctx, "Submitting Product To Pipeline")
	defer span.End()

	cnf, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	created, err := d.datasource.CreateProduct(ctx, product)
	if err != nil {
		return nil, err
	}

	if err := d.queue.Push(ctx, cnf.Queue.DiscoveryTopic, created.ProductID); err != nil {
		return created, errors.Wrap(err, "product stored but could not be enqueued for discovery")
	}
	return created, nil
}

// fetchForStage loads a product and checks it is still where the job expects
// it. A missing product or one whose status moved on means the job is stale
// (deleted row, duplicate delivery after a lock expiry) and is dropped
// without error.
func (d *Droptide) fetchForStage(ctx context.Context, productID string, expect model.Status) (*model.Product, error) {
	product, err := d.datasource.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if product == nil {
		logrus.Warnf("product %s no longer exists, dropping job", productID)
		return nil, nil
	}
	if product.Status != expect {
		logrus.Infof("product %s is %s, not %s, dropping stale job", productID, product.Status, expect)
		return nil, nil
	}
	return product, nil
}

// reject moves a product to its terminal REJECTED status and records the
// agent's reasoning. Rejection is a successful outcome, never a retry.
func (d *Droptide) reject(ctx context.Context, product *model.Product, stage model.Stage, reason string) error {
	err := d.datasource.UpdateProductFields(ctx, product.ProductID, map[string]interface{}{
		"status": model.StatusRejected,
	})
	if err != nil {
		return err
	}
	d.audit(ctx, product.ProductID, stage, model.VerdictRejected, reason)
	return nil
}

// audit appends a trail entry. The trail is best-effort on the happy path;
// a write failure is logged, never propagated.
func (d *Droptide) audit(ctx context.Context, productID string, stage model.Stage, decision, reason string) {
	err := d.datasource.RecordAuditLog(ctx, &model.AuditLog{
		ProductID: productID,
		Agent:     string(stage),
		Decision:  decision,
		Reason:    reason,
	})
	if err != nil {
		logrus.Errorf("failed to record audit log for %s: %v", productID, err)
	}
}

// RepublishParked re-drives publishing for products parked at
// READY_TO_LIST after a publish failure. Re-drives run without media; a
// rendered file from the original attempt is gone with that worker.
//
// Returns the number of products successfully listed.
func (d *Droptide) RepublishParked(ctx context.Context, limit int) (int, error) {
	parked, err := d.datasource.GetProductsByStatus(ctx, model.StatusReadyToList, limit)
	if err != nil {
		return 0, err
	}

	listed := 0
	for _, product := range parked {
		if err := d.handlePublish(ctx, product.ProductID, ""); err != nil {
			logrus.Errorf("re-drive publish failed for product %s: %v", product.ProductID, err)
			continue
		}
		listed++
	}
	return listed, nil
}

// handleDiscovery vets a DETECTED product. Approval stores the trend scores
// and moves it to VETTED and the sourcing queue; rejection is terminal.
func (d *Droptide) handleDiscovery(ctx context.Context, productID string) error {
	ctx, span := tracer.Start(ctx, "Reviewing Detected Product")
	defer span.End()

	cnf, err := config.Fetch()
	if err != nil {
		return err
	}

	product, err := d.fetchForStage(ctx, productID, model.StatusDetected)
	if err != nil || product == nil {
		return err
	}

	result, err := d.agents.Discovery.Review(ctx, product)
	if err != nil {
		return errors.Wrap(err, "discovery agent call failed")
	}
	if err := result.Validate(); err != nil {
		return errors.Wrap(err, "discovery agent returned an invalid result")
	}

	if result.Verdict == model.VerdictReject {
		return d.reject(ctx, product, model.StageDiscovery, result.Reasoning)
	}

	err = d.datasource.UpdateProductFields(ctx, productID, map[string]interface{}{
		"status":          model.StatusVetted,
		"viral_score":     result.ViralScore,
		"sentiment_score": result.SentimentScore,
	})
	if err != nil {
		return err
	}
	d.audit(ctx, productID, model.StageDiscovery, result.Verdict, result.Reasoning)

	return d.queue.Push(ctx, cnf.Queue.SourcingTopic, productID)
}

// handleSourcing finds a supplier for a VETTED product. Approval stores the
// supplier reference and prices the listing off the landed cost; rejection
// is terminal.
func (d *Droptide) handleSourcing(ctx context.Context, productID string) error {
	ctx, span := tracer.Start(ctx, "Sourcing Vetted Product")
	defer span.End()

	cnf, err := config.Fetch()
	if err != nil {
		return err
	}

	product, err := d.fetchForStage(ctx, productID, model.StatusVetted)
	if err != nil || product == nil {
		return err
	}

	result, err := d.agents.Sourcing.Source(ctx, product)
	if err != nil {
		return errors.Wrap(err, "sourcing agent call failed")
	}
	if err := result.Validate(); err != nil {
		return errors.Wrap(err, "sourcing agent returned an invalid result")
	}

	if result.Verdict == model.VerdictRejected {
		return d.reject(ctx, product, model.StageSourcing, result.Reasoning)
	}

	listPrice := result.CostPrice.Mul(decimal.NewFromFloat(cnf.PriceMarkup)).Round(2)
	err = d.datasource.UpdateProductFields(ctx, productID, map[string]interface{}{
		"status":       model.StatusApproved,
		"supplier_ref": result.SupplierRef,
		"cost_price":   result.CostPrice,
		"list_price":   listPrice,
	})
	if err != nil {
		return err
	}
	d.audit(ctx, productID, model.StageSourcing, result.Verdict, result.Reasoning)

	return d.queue.Push(ctx, cnf.Queue.CopyTopic, productID)
}

// handleCopy generates marketing copy for an APPROVED product and queues it
// for video scripting. There is no rejection path at this stage; a bad
// result is a retryable failure.
func (d *Droptide) handleCopy(ctx context.Context, productID string) error {
	ctx, span := tracer.Start(ctx, "Composing Marketing Copy")
	defer span.End()

	cnf, err := config.Fetch()
	if err != nil {
		return err
	}

	product, err := d.fetchForStage(ctx, productID, model.StatusApproved)
	if err != nil || product == nil {
		return err
	}

	result, err := d.agents.Copy.Compose(ctx, product)
	if err != nil {
		return errors.Wrap(err, "copy agent call failed")
	}
	if err := result.Validate(); err != nil {
		return errors.Wrap(err, "copy agent returned an invalid result")
	}

	marketingCopy, err := json.Marshal(result)
	if err != nil {
		return err
	}

	err = d.datasource.UpdateProductFields(ctx, productID, map[string]interface{}{
		"status":         model.StatusReadyForVideo,
		"marketing_copy": marketingCopy,
	})
	if err != nil {
		return err
	}
	d.audit(ctx, productID, model.StageCopy, "GENERATED", result.Title)

	return d.queue.Push(ctx, cnf.Queue.VideoTopic, productID)
}

// handleVideo scripts and best-effort renders a video for a READY_FOR_VIDEO
// product, then hands straight off to publish. Rendering failures degrade to
// a listing without media; publish failures leave the product parked at
// READY_TO_LIST for a manual or scripted re-drive.
func (d *Droptide) handleVideo(ctx context.Context, productID string) error {
	ctx, span := tracer.Start(ctx, "Scripting Product Video")
	defer span.End()

	product, err := d.fetchForStage(ctx, productID, model.StatusReadyForVideo)
	if err != nil || product == nil {
		return err
	}

	result, err := d.agents.Video.Script(ctx, product)
	if err != nil {
		return errors.Wrap(err, "video agent call failed")
	}
	if err := result.Validate(); err != nil {
		return errors.Wrap(err, "video agent returned an invalid result")
	}

	videoScript, err := json.Marshal(result)
	if err != nil {
		return err
	}

	videoPath := ""
	if d.agents.Renderer != nil {
		videoPath, err = d.agents.Renderer.Render(ctx, product, result)
		if err != nil {
			logrus.Errorf("video render failed for product %s, listing without media: %v", productID, err)
			videoPath = ""
		}
	}

	err = d.datasource.UpdateProductFields(ctx, productID, map[string]interface{}{
		"status":       model.StatusReadyToList,
		"video_script": videoScript,
	})
	if err != nil {
		return err
	}
	d.audit(ctx, productID, model.StageVideo, "SCRIPTED", "")

	// Publish runs inline rather than through the queue: the rendered file
	// lives on this worker's disk and would not survive a hop to another
	// instance. Its failure is deliberately not a stage failure.
	if err := d.handlePublish(ctx, productID, videoPath); err != nil {
		logrus.Errorf("publish failed for product %s, left at %s: %v", productID, model.StatusReadyToList, err)
	}
	return nil
}

// handlePublish lists a READY_TO_LIST product on the external catalog and,
// on success, stores the external identifiers and marks it LISTED. Called
// inline from handleVideo and by the re-drive command for parked products.
func (d *Droptide) handlePublish(ctx context.Context, productID string, videoPath string) error {
	ctx, span := tracer.Start(ctx, "Publishing Product Listing")
	defer span.End()

	product, err := d.fetchForStage(ctx, productID, model.StatusReadyToList)
	if err != nil || product == nil {
		return err
	}

	result, err := d.publisher.Publish(ctx, product, videoPath)
	if err != nil {
		return errors.Wrap(err, "catalog publish failed")
	}

	fields := map[string]interface{}{
		"status":             model.StatusListed,
		"shopify_product_id": result.ExternalID,
		"shopify_gid":        result.ExternalGID,
		"admin_url":          result.AdminURL,
	}
	if result.MediaID != "" {
		fields["shopify_media_id"] = result.MediaID
	}
	if err := d.datasource.UpdateProductFields(ctx, productID, fields); err != nil {
		return errors.Wrap(err, "product listed but local record could not be updated")
	}
	d.audit(ctx, productID, model.StagePublish, "LISTED", result.AdminURL)
	return nil
}
