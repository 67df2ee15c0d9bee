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

	"github.com/droptide/droptide/model"
)

// Function-backed fakes for the external collaborators. A nil function
// makes the call fail loudly, so a test only wires the stages it exercises.

type FakeDiscoveryAgent struct {
	ReviewFunc func(ctx context.Context, product *model.Product) (*model.DiscoveryResult, error)
}

func (f FakeDiscoveryAgent) Review(ctx context.Context, product *model.Product) (*model.DiscoveryResult, error) {
	return f.ReviewFunc(ctx, product)
}

type FakeSourcingAgent struct {
	SourceFunc func(ctx context.Context, product *model.Product) (*model.SourcingResult, error)
}

func (f FakeSourcingAgent) Source(ctx context.Context, product *model.Product) (*model.SourcingResult, error) {
	return f.SourceFunc(ctx, product)
}

type FakeCopyAgent struct {
	ComposeFunc func(ctx context.Context, product *model.Product) (*model.CopyResult, error)
}

func (f FakeCopyAgent) Compose(ctx context.Context, product *model.Product) (*model.CopyResult, error) {
	return f.ComposeFunc(ctx, product)
}

type FakeVideoAgent struct {
	ScriptFunc func(ctx context.Context, product *model.Product) (*model.VideoResult, error)
}

func (f FakeVideoAgent) Script(ctx context.Context, product *model.Product) (*model.VideoResult, error) {
	return f.ScriptFunc(ctx, product)
}

type FakeRenderer struct {
	RenderFunc func(ctx context.Context, product *model.Product, script *model.VideoResult) (string, error)
}

func (f FakeRenderer) Render(ctx context.Context, product *model.Product, script *model.VideoResult) (string, error) {
	return f.RenderFunc(ctx, product, script)
}

type FakePublisher struct {
	PublishFunc func(ctx context.Context, product *model.Product, videoPath string) (*PublishResult, error)
}

func (f FakePublisher) Publish(ctx context.Context, product *model.Product, videoPath string) (*PublishResult, error) {
	return f.PublishFunc(ctx, product, videoPath)
}
