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
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/droptide/droptide/config"
	"github.com/droptide/droptide/internal/request"
	"github.com/droptide/droptide/model"
)

// publishRetryWindow bounds the transient-failure retries around the
// create/update catalog calls.
const publishRetryWindow = 30 * time.Second

// PublishResult carries the external catalog identifiers captured by a
// publish call. MediaID is empty when no media ended up attached.
type PublishResult struct {
	ExternalID  string
	ExternalGID string
	AdminURL    string
	MediaID     string
}

// CatalogPublisher is the idempotent create-or-update adapter against the
// external catalog. A product with a stored external id is always routed to
// an update, never a second create, so any number of publish attempts
// converge on one external resource.
type CatalogPublisher interface {
	Publish(ctx context.Context, product *model.Product, videoPath string) (*PublishResult, error)
}

// ShopifyClient publishes products to a Shopify-compatible admin API:
// REST for the product resource, GraphQL for staged uploads and media.
type ShopifyClient struct {
	shopDomain string
	token      string
	apiVersion string
}

func NewShopifyClient(cnf config.CatalogConfig) *ShopifyClient {
	return &ShopifyClient{
		shopDomain: cnf.ShopDomain,
		token:      cnf.AdminToken,
		apiVersion: cnf.ApiVersion,
	}
}

type shopifyImage struct {
	Src string `json:"src"`
}

type shopifyVariant struct {
	Price string `json:"price"`
}

type shopifyProduct struct {
	ID       int64            `json:"id,omitempty"`
	Title    string           `json:"title"`
	BodyHTML string           `json:"body_html"`
	GID      string           `json:"admin_graphql_api_id,omitempty"`
	Images   []shopifyImage   `json:"images,omitempty"`
	Variants []shopifyVariant `json:"variants,omitempty"`
}

type shopifyProductEnvelope struct {
	Product shopifyProduct `json:"product"`
}

// listing is the mutable slice of a product the catalog cares about.
type listing struct {
	Title    string
	BodyHTML string
	Price    string
	Images   []string
}

// buildListing assembles the catalog fields from the product's generated
// marketing copy, falling back to the scraped title and description when no
// copy was generated.
func buildListing(product *model.Product) listing {
	l := listing{
		Title:    product.Title,
		BodyHTML: product.Description,
		Price:    product.ListPrice.StringFixed(2),
		Images:   product.Images,
	}

	if len(product.MarketingCopy) > 0 {
		var copyResult model.CopyResult
		if err := json.Unmarshal(product.MarketingCopy, &copyResult); err == nil {
			if copyResult.Title != "" {
				l.Title = copyResult.Title
			}
			if copyResult.BodyHTML != "" {
				l.BodyHTML = copyResult.BodyHTML
			}
		}
	}
	return l
}

// Publish creates or updates the external catalog resource for a product
// and best-effort attaches the rendered video. The routing rule is the
// idempotency invariant: a stored external id always means update.
func (c *ShopifyClient) Publish(ctx context.Context, product *model.Product, videoPath string) (*PublishResult, error) {
	ctx, span := tracer.Start(ctx, "Publishing Product To Catalog")
	defer span.End()

	l := buildListing(product)

	var result *PublishResult
	var err error
	if product.ShopifyProductID == "" {
		result, err = c.createProduct(ctx, l)
	} else {
		result, err = c.updateProduct(ctx, product.ShopifyProductID, product.ShopifyGID, l)
	}
	if err != nil {
		return nil, err
	}

	result.MediaID = product.ShopifyMediaID
	if result.MediaID == "" && videoPath != "" {
		// Media attachment is best-effort: any phase failing degrades to
		// "no media attached" rather than failing the publish.
		mediaID, mediaErr := c.attachVideo(ctx, result.ExternalGID, videoPath)
		if mediaErr != nil {
			logrus.Errorf("video attach failed for product %s: %v", product.ProductID, mediaErr)
		} else {
			result.MediaID = mediaID
		}
	}

	return result, nil
}

// createProduct creates a new catalog resource with title, body, price,
// images and a default variant.
func (c *ShopifyClient) createProduct(ctx context.Context, l listing) (*PublishResult, error) {
	payload := shopifyProductEnvelope{Product: shopifyProduct{
		Title:    l.Title,
		BodyHTML: l.BodyHTML,
		Variants: []shopifyVariant{{Price: l.Price}},
	}}
	for _, src := range l.Images {
		payload.Product.Images = append(payload.Product.Images, shopifyImage{Src: src})
	}

	var response shopifyProductEnvelope
	_, err := request.CallWithRetry(func() (*http.Request, error) {
		return c.restRequest(ctx, http.MethodPost, "products.json", payload)
	}, &response, publishRetryWindow)
	if err != nil {
		return nil, errors.Wrap(err, "catalog create failed")
	}
	if response.Product.ID == 0 {
		return nil, errors.New("catalog create returned no product id")
	}

	externalID := strconv.FormatInt(response.Product.ID, 10)
	return &PublishResult{
		ExternalID:  externalID,
		ExternalGID: response.Product.GID,
		AdminURL:    fmt.Sprintf("https://%s/admin/products/%s", c.shopDomain, externalID),
	}, nil
}

// updateProduct updates the mutable fields of an existing resource in
// place. Images are deliberately not sent: resending them on update can
// wipe media the catalog already holds.
func (c *ShopifyClient) updateProduct(ctx context.Context, externalID, externalGID string, l listing) (*PublishResult, error) {
	id, err := strconv.ParseInt(externalID, 10, 64)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid stored external id %q", externalID)
	}

	payload := shopifyProductEnvelope{Product: shopifyProduct{
		ID:       id,
		Title:    l.Title,
		BodyHTML: l.BodyHTML,
		Variants: []shopifyVariant{{Price: l.Price}},
	}}

	var response shopifyProductEnvelope
	_, err = request.CallWithRetry(func() (*http.Request, error) {
		return c.restRequest(ctx, http.MethodPut, fmt.Sprintf("products/%d.json", id), payload)
	}, &response, publishRetryWindow)
	if err != nil {
		return nil, errors.Wrap(err, "catalog update failed")
	}

	gid := response.Product.GID
	if gid == "" {
		gid = externalGID
	}
	return &PublishResult{
		ExternalID:  externalID,
		ExternalGID: gid,
		AdminURL:    fmt.Sprintf("https://%s/admin/products/%s", c.shopDomain, externalID),
	}, nil
}

type stagedTarget struct {
	URL         string `json:"url"`
	ResourceURL string `json:"resourceUrl"`
	Parameters  []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"parameters"`
}

// attachVideo runs the three-phase staged-upload protocol: request a
// staged target sized for the file, multipart-upload the bytes plus the
// signed parameters to it, then attach the uploaded resource to the
// product and capture the returned media id.
func (c *ShopifyClient) attachVideo(ctx context.Context, productGID, videoPath string) (string, error) {
	if productGID == "" {
		return "", errors.New("no product gid to attach media to")
	}

	info, err := os.Stat(videoPath)
	if err != nil {
		return "", errors.Wrap(err, "video file not readable")
	}

	target, err := c.createStagedUpload(ctx, videoPath, info.Size())
	if err != nil {
		return "", errors.Wrap(err, "staged upload create failed")
	}

	params := make([]request.UploadParameter, 0, len(target.Parameters))
	for _, p := range target.Parameters {
		params = append(params, request.UploadParameter{Name: p.Name, Value: p.Value})
	}
	if _, err := request.UploadMultipart(target.URL, videoPath, params); err != nil {
		return "", errors.Wrap(err, "staged upload failed")
	}

	mediaID, err := c.createProductMedia(ctx, productGID, target.ResourceURL)
	if err != nil {
		return "", errors.Wrap(err, "media attach failed")
	}
	return mediaID, nil
}

func (c *ShopifyClient) createStagedUpload(ctx context.Context, videoPath string, fileSize int64) (*stagedTarget, error) {
	query := `mutation stagedUploadsCreate($input: [StagedUploadInput!]!) {
		stagedUploadsCreate(input: $input) {
			stagedTargets { url resourceUrl parameters { name value } }
			userErrors { field message }
		}
	}`
	variables := map[string]interface{}{
		"input": []map[string]interface{}{{
			"filename":   filepath.Base(videoPath),
			"mimeType":   "video/mp4",
			"resource":   "VIDEO",
			"fileSize":   strconv.FormatInt(fileSize, 10),
			"httpMethod": "POST",
		}},
	}

	var response struct {
		Data struct {
			StagedUploadsCreate struct {
				StagedTargets []stagedTarget `json:"stagedTargets"`
				UserErrors    []struct {
					Message string `json:"message"`
				} `json:"userErrors"`
			} `json:"stagedUploadsCreate"`
		} `json:"data"`
	}
	if err := c.graphql(ctx, query, variables, &response); err != nil {
		return nil, err
	}
	if len(response.Data.StagedUploadsCreate.UserErrors) > 0 {
		return nil, errors.Errorf("staged upload rejected: %s", response.Data.StagedUploadsCreate.UserErrors[0].Message)
	}
	if len(response.Data.StagedUploadsCreate.StagedTargets) == 0 {
		return nil, errors.New("no staged target returned")
	}
	return &response.Data.StagedUploadsCreate.StagedTargets[0], nil
}

func (c *ShopifyClient) createProductMedia(ctx context.Context, productGID, resourceURL string) (string, error) {
	query := `mutation productCreateMedia($productId: ID!, $media: [CreateMediaInput!]!) {
		productCreateMedia(productId: $productId, media: $media) {
			media { ... on Video { id } }
			mediaUserErrors { field message }
		}
	}`
	variables := map[string]interface{}{
		"productId": productGID,
		"media": []map[string]interface{}{{
			"originalSource":   resourceURL,
			"mediaContentType": "VIDEO",
		}},
	}

	var response struct {
		Data struct {
			ProductCreateMedia struct {
				Media []struct {
					ID string `json:"id"`
				} `json:"media"`
				MediaUserErrors []struct {
					Message string `json:"message"`
				} `json:"mediaUserErrors"`
			} `json:"productCreateMedia"`
		} `json:"data"`
	}
	if err := c.graphql(ctx, query, variables, &response); err != nil {
		return "", err
	}
	if len(response.Data.ProductCreateMedia.MediaUserErrors) > 0 {
		return "", errors.Errorf("media attach rejected: %s", response.Data.ProductCreateMedia.MediaUserErrors[0].Message)
	}
	if len(response.Data.ProductCreateMedia.Media) == 0 {
		return "", errors.New("no media returned from attach")
	}
	return response.Data.ProductCreateMedia.Media[0].ID, nil
}

func (c *ShopifyClient) restRequest(ctx context.Context, method, path string, payload interface{}) (*http.Request, error) {
	body, err := request.ToJsonReq(payload)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("https://%s/admin/api/%s/%s", c.shopDomain, c.apiVersion, path)
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Shopify-Access-Token", c.token)
	return req, nil
}

func (c *ShopifyClient) graphql(ctx context.Context, query string, variables map[string]interface{}, response interface{}) error {
	body, err := request.ToJsonReq(map[string]interface{}{
		"query":     query,
		"variables": variables,
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("https://%s/admin/api/%s/graphql.json", c.shopDomain, c.apiVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("X-Shopify-Access-Token", c.token)

	resp, err := request.Call(req, response)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Errorf("graphql endpoint responded with status %d", resp.StatusCode)
	}
	return nil
}
