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

package request

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ToJsonReq converts a Go object to a JSON-encoded HTTP request payload.
//
// Parameters:
// - payload interface{}: The data structure to be serialized into JSON.
//
// Returns:
// - *bytes.Buffer: The JSON-encoded payload wrapped in a bytes buffer.
// - error: An error if the JSON marshalling process fails.
func ToJsonReq(payload interface{}) (*bytes.Buffer, error) {
	c, e := json.Marshal(payload)
	if e != nil {
		return nil, e
	}

	bytePayload := bytes.NewBuffer(c)
	return bytePayload, nil
}

// Call makes an HTTP request using the provided request object and decodes
// the JSON response into the specified structure.
//
// Parameters:
// - req *http.Request: The prepared HTTP request to send.
// - response interface{}: The target structure to hold the decoded JSON response.
//
// Returns:
// - *http.Response: The raw HTTP response object.
// - error: An error if the HTTP request or JSON decoding fails.
func Call(req *http.Request, response interface{}) (*http.Response, error) {
	req.Header.Set("Content-Type", "application/json")
	client := &http.Client{}

	resp, err := client.Do(req)
	if err != nil {
		return resp, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	err = json.NewDecoder(resp.Body).Decode(&response)
	if err != nil {
		return resp, err
	}
	return resp, err
}

// retriableStatus reports whether a response status is worth another try.
// Rate limits and upstream hiccups are transient; everything else is not.
func retriableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// CallWithRetry issues the request through Call, retrying transient
// failures (connection errors, 429s, 5xx) with exponential backoff. The
// request body is rebuilt from buildReq on every attempt. Any other
// non-2xx status is a permanent failure and is returned as an error
// without further attempts.
//
// Parameters:
// - buildReq func() (*http.Request, error): Factory producing a fresh request per attempt.
// - response interface{}: The target structure for the decoded JSON response.
// - maxElapsed time.Duration: Upper bound on total retry time.
//
// Returns:
// - *http.Response: The last HTTP response received, if any.
// - error: The final error once retries are exhausted.
func CallWithRetry(buildReq func() (*http.Request, error), response interface{}, maxElapsed time.Duration) (*http.Response, error) {
	var resp *http.Response

	operation := func() error {
		req, err := buildReq()
		if err != nil {
			return backoff.Permanent(err)
		}

		resp, err = Call(req, response)
		if err != nil {
			return err
		}
		if retriableStatus(resp.StatusCode) {
			return fmt.Errorf("transient response status %d from %s", resp.StatusCode, req.URL.Host)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return backoff.Permanent(fmt.Errorf("response status %d from %s", resp.StatusCode, req.URL.Host))
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = maxElapsed
	err := backoff.Retry(operation, policy)
	return resp, err
}

// UploadParameter is one signed form field accompanying a staged upload.
type UploadParameter struct {
	Name  string
	Value string
}

// UploadMultipart posts a local file to a staged-upload target as
// multipart/form-data. The signed parameters must be written before the
// file part; upload targets reject submissions with the file first.
//
// Parameters:
// - url string: The staged upload target.
// - filePath string: Path of the file whose bytes are uploaded.
// - parameters []UploadParameter: Signed form fields provided by the target.
//
// Returns:
// - *http.Response: The raw HTTP response from the target.
// - error: An error if reading the file or performing the upload fails.
func UploadMultipart(url string, filePath string, parameters []UploadParameter) (*http.Response, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = file.Close()
	}()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	for _, p := range parameters {
		if err := writer.WriteField(p.Name, p.Value); err != nil {
			return nil, err
		}
	}

	part, err := writer.CreateFormFile("file", filepath.Base(filePath))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, fmt.Errorf("upload target responded with status %d", resp.StatusCode)
	}
	return resp, nil
}
