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

// Status is the pipeline position of a product.
//
// DETECTED → VETTED|REJECTED → APPROVED|REJECTED → READY_FOR_VIDEO →
// READY_TO_LIST → LISTED. REJECTED and LISTED are terminal.
type Status string

const (
	StatusDetected      Status = "DETECTED"
	StatusVetted        Status = "VETTED"
	StatusApproved      Status = "APPROVED"
	StatusReadyForVideo Status = "READY_FOR_VIDEO"
	StatusReadyToList   Status = "READY_TO_LIST"
	StatusListed        Status = "LISTED"
	StatusRejected      Status = "REJECTED"
)

// Stage names the pipeline phase a job belongs to. Stage names are recorded
// on audit logs, lock keys, retry counters and dead-letter records.
type Stage string

const (
	StageDiscovery Stage = "discovery"
	StageSourcing  Stage = "sourcing"
	StageCopy      Stage = "copy"
	StageVideo     Stage = "video"
	StagePublish   Stage = "publish"
)

// IsValid reports whether s is one of the enumerated statuses.
func (s Status) IsValid() bool {
	switch s {
	case StatusDetected, StatusVetted, StatusApproved, StatusReadyForVideo,
		StatusReadyToList, StatusListed, StatusRejected:
		return true
	}
	return false
}

// IsTerminal reports whether a product in this status leaves the pipeline.
func (s Status) IsTerminal() bool {
	return s == StatusRejected || s == StatusListed
}
