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
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"
)

// Stage agents are external services returning loosely-typed JSON. Each
// result type is validated immediately after the call; a validation failure
// counts as an agent failure and is retried like any other.

const (
	VerdictApprove  = "APPROVE"
	VerdictReject   = "REJECT"
	VerdictApproved = "APPROVED"
	VerdictRejected = "REJECTED"
)

// DiscoveryResult is the vetting verdict for a freshly detected product.
type DiscoveryResult struct {
	Verdict        string  `json:"verdict"`
	ViralScore     float64 `json:"viral_score"`
	SentimentScore float64 `json:"sentiment_score"`
	Reasoning      string  `json:"reasoning"`
}

func (r *DiscoveryResult) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Verdict, validation.Required, validation.In(VerdictApprove, VerdictReject)),
		validation.Field(&r.Reasoning, validation.Required),
	)
}

// SourcingResult is the supplier decision for a vetted product. SupplierRef
// and CostPrice are required only on approval.
type SourcingResult struct {
	Verdict     string          `json:"verdict"`
	SupplierRef string          `json:"supplier_ref"`
	CostPrice   decimal.Decimal `json:"cost_price"`
	Reasoning   string          `json:"reasoning"`
}

func (r *SourcingResult) Validate() error {
	err := validation.ValidateStruct(r,
		validation.Field(&r.Verdict, validation.Required, validation.In(VerdictApproved, VerdictRejected)),
		validation.Field(&r.Reasoning, validation.Required),
	)
	if err != nil {
		return err
	}
	if r.Verdict == VerdictApproved {
		return validation.ValidateStruct(r,
			validation.Field(&r.SupplierRef, validation.Required),
			validation.Field(&r.CostPrice, validation.By(func(interface{}) error {
				if r.CostPrice.LessThanOrEqual(decimal.Zero) {
					return validation.NewError("validation_cost_price", "cost price must be greater than zero")
				}
				return nil
			})),
		)
	}
	return nil
}

// CopyResult carries the generated marketing copy for an approved product.
type CopyResult struct {
	Title    string   `json:"title"`
	BodyHTML string   `json:"body_html"`
	Hooks    []string `json:"hooks"`
}

func (r *CopyResult) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Title, validation.Required),
		validation.Field(&r.BodyHTML, validation.Required),
	)
}

// Scene is one shot of a generated video script.
type Scene struct {
	Sequence        int     `json:"sequence"`
	Visual          string  `json:"visual"`
	VoiceOver       string  `json:"voice_over"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// VideoResult is the generated video script. Rendering the script into a
// file is a separate, best-effort step.
type VideoResult struct {
	Scenes []Scene `json:"scenes"`
}

func (r *VideoResult) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Scenes, validation.Required, validation.Length(1, 0)),
	)
}
