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
	"fmt"
	"net/http"
	"time"

	"github.com/droptide/droptide/config"
	"github.com/droptide/droptide/internal/request"
	"github.com/droptide/droptide/model"
)

// Stage agents are the external decision services the pipeline delegates
// to. Each call is opaque: product in, result or error out. The pipeline
// owns none of the decision logic.

type DiscoveryAgent interface {
	Review(ctx context.Context, product *model.Product) (*model.DiscoveryResult, error)
}

type SourcingAgent interface {
	Source(ctx context.Context, product *model.Product) (*model.SourcingResult, error)
}

type CopyAgent interface {
	Compose(ctx context.Context, product *model.Product) (*model.CopyResult, error)
}

type VideoAgent interface {
	Script(ctx context.Context, product *model.Product) (*model.VideoResult, error)
}

// Renderer turns a video script into a local media file. Rendering is
// best-effort everywhere it is used: a failure is logged and the pipeline
// carries on without a file.
type Renderer interface {
	Render(ctx context.Context, product *model.Product, script *model.VideoResult) (string, error)
}

// StageAgents bundles one agent per stage for injection into the pipeline.
type StageAgents struct {
	Discovery DiscoveryAgent
	Sourcing  SourcingAgent
	Copy      CopyAgent
	Video     VideoAgent
	Renderer  Renderer
}

// httpAgent posts a product to a configured agent endpoint and decodes the
// JSON decision.
type httpAgent struct {
	service config.AgentHttpService
}

// callTimeout bounds every agent call so a hung service cannot block a
// worker indefinitely.
func (a httpAgent) callTimeout() time.Duration {
	if a.service.Timeout > 0 {
		return time.Duration(a.service.Timeout) * time.Second
	}
	return 2 * time.Minute
}

func (a httpAgent) call(ctx context.Context, product *model.Product, response interface{}) error {
	if a.service.Url == "" {
		return fmt.Errorf("agent endpoint not configured")
	}

	payload, err := request.ToJsonReq(product)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.service.Url, payload)
	if err != nil {
		return err
	}
	if a.service.Headers.Authorization != "" {
		req.Header.Set("Authorization", a.service.Headers.Authorization)
	}

	callCtx, cancel := context.WithTimeout(ctx, a.callTimeout())
	defer cancel()
	req = req.WithContext(callCtx)

	resp, err := request.Call(req, response)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("agent %s responded with status %d", a.service.Url, resp.StatusCode)
	}
	return nil
}

type httpDiscoveryAgent struct{ httpAgent }

func (a httpDiscoveryAgent) Review(ctx context.Context, product *model.Product) (*model.DiscoveryResult, error) {
	var result model.DiscoveryResult
	if err := a.call(ctx, product, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

type httpSourcingAgent struct{ httpAgent }

func (a httpSourcingAgent) Source(ctx context.Context, product *model.Product) (*model.SourcingResult, error) {
	var result model.SourcingResult
	if err := a.call(ctx, product, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

type httpCopyAgent struct{ httpAgent }

func (a httpCopyAgent) Compose(ctx context.Context, product *model.Product) (*model.CopyResult, error) {
	var result model.CopyResult
	if err := a.call(ctx, product, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

type httpVideoAgent struct{ httpAgent }

func (a httpVideoAgent) Script(ctx context.Context, product *model.Product) (*model.VideoResult, error) {
	var result model.VideoResult
	if err := a.call(ctx, product, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

type httpRenderer struct{ httpAgent }

func (a httpRenderer) Render(ctx context.Context, product *model.Product, script *model.VideoResult) (string, error) {
	payload := struct {
		Product *model.Product     `json:"product"`
		Script  *model.VideoResult `json:"script"`
	}{Product: product, Script: script}

	buf, err := request.ToJsonReq(payload)
	if err != nil {
		return "", err
	}
	callCtx, cancel := context.WithTimeout(ctx, a.callTimeout())
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, a.service.Url, buf)
	if err != nil {
		return "", err
	}
	if a.service.Headers.Authorization != "" {
		req.Header.Set("Authorization", a.service.Headers.Authorization)
	}

	var response struct {
		FilePath string `json:"file_path"`
	}
	resp, err := request.Call(req, &response)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("renderer responded with status %d", resp.StatusCode)
	}
	return response.FilePath, nil
}

// NewHTTPStageAgents builds the production agent set from configuration.
func NewHTTPStageAgents(cnf *config.Configuration) StageAgents {
	return StageAgents{
		Discovery: httpDiscoveryAgent{httpAgent{service: cnf.Agents.Discovery}},
		Sourcing:  httpSourcingAgent{httpAgent{service: cnf.Agents.Sourcing}},
		Copy:      httpCopyAgent{httpAgent{service: cnf.Agents.Copy}},
		Video:     httpVideoAgent{httpAgent{service: cnf.Agents.Video}},
		Renderer:  httpRenderer{httpAgent{service: cnf.Agents.Renderer}},
	}
}
