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

import "time"

// DeadLetter is the JSON payload pushed onto the dead-letter topic once a
// (stage, product) pair exhausts its retries. It lives only on the queue,
// not in the durable store.
type DeadLetter struct {
	ProductID  string    `json:"itemId"`
	Stage      Stage     `json:"stage"`
	Error      string    `json:"error"`
	OccurredAt time.Time `json:"occurredAt"`
}
