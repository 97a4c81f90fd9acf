/*
Copyright 2025 The airia-test-pod Authors.

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

package probes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/davidpacold/airia-test-pod-sub000/pkg/config"
	"github.com/davidpacold/airia-test-pod-sub000/pkg/probe"
)

const docintelAPIVersion = "2024-11-30"

// DocIntel validates an Azure Document Intelligence resource over its
// REST surface: key acceptance, the prebuilt-read model, and a full
// analyze round-trip on the bundled test image.
type DocIntel struct {
	cfg  config.DocIntel
	img  *testImage
	http *http.Client
}

func NewDocIntel(cfg config.DocIntel, img *testImage) *DocIntel {
	return &DocIntel{cfg: cfg, img: img, http: &http.Client{}}
}

func (d *DocIntel) ID() string            { return "docintel" }
func (d *DocIntel) DisplayName() string   { return "Document Intelligence" }
func (d *DocIntel) Configured() bool      { return d.cfg.Configured() }
func (d *DocIntel) MissingKeys() []string { return d.cfg.MissingKeys() }

func (d *DocIntel) url(path string) string {
	return fmt.Sprintf("%s/documentintelligence/%s?api-version=%s",
		strings.TrimSuffix(d.cfg.Endpoint, "/"), path, docintelAPIVersion)
}

func (d *DocIntel) do(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", d.cfg.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return d.http.Do(req)
}

func (d *DocIntel) Execute(ctx context.Context) probe.Result {
	r := probe.NewRecorder(d)
	if !d.Configured() {
		return probe.Skipped(d, d.MissingKeys())
	}

	models, ok := d.connectivity(ctx, r)
	if !ok {
		return r.Complete()
	}
	d.analyze(ctx, r)
	d.modelInfo(r, models)
	return r.Complete()
}

func (d *DocIntel) connectivity(ctx context.Context, r *probe.Recorder) ([]string, bool) {
	resp, err := d.do(ctx, http.MethodGet, d.url("documentModels"), nil)
	if err != nil {
		r.Fail("api_connectivity", fmt.Sprintf("reaching %s failed: %v", d.cfg.Endpoint, err),
			"check DOCINTEL_ENDPOINT and that the pod can reach the resource's regional endpoint", "DOCINTEL_CONNECT")
		return nil, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		r.Fail("api_connectivity", fmt.Sprintf("model list returned HTTP %d", resp.StatusCode),
			"HTTP 401/403 means DOCINTEL_API_KEY does not belong to this resource", "DOCINTEL_AUTH")
		return nil, false
	}
	var list struct {
		Value []struct {
			ModelID string `json:"modelId"`
		} `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		r.Fail("api_connectivity", fmt.Sprintf("decoding model list: %v", err), "", "DOCINTEL_CONNECT")
		return nil, false
	}
	ids := make([]string, 0, len(list.Value))
	for _, m := range list.Value {
		ids = append(ids, m.ModelID)
	}
	r.Pass("api_connectivity", fmt.Sprintf("key accepted, %d models available", len(ids)), nil)
	return ids, true
}

func (d *DocIntel) modelInfo(r *probe.Recorder, models []string) {
	for _, id := range models {
		if id == "prebuilt-read" {
			r.Pass("model_info", "prebuilt-read model is available", map[string]any{"models": len(models)})
			return
		}
	}
	r.Fail("model_info", "prebuilt-read model is not exposed by this resource",
		"the resource may be an unsupported tier; use a standard Document Intelligence resource", "DOCINTEL_MODEL")
}

func (d *DocIntel) analyze(ctx context.Context, r *probe.Recorder) {
	b64, err := d.img.Base64()
	if err != nil {
		r.Skip("analyze_sample_document", fmt.Sprintf("test image unavailable: %v", err))
		return
	}
	body, _ := json.Marshal(map[string]string{"base64Source": b64})
	resp, err := d.do(ctx, http.MethodPost, d.url("documentModels/prebuilt-read:analyze"), body)
	if err != nil {
		r.Fail("analyze_sample_document", fmt.Sprintf("submitting analysis: %v", err), "", "DOCINTEL_ANALYZE")
		return
	}
	opLocation := resp.Header.Get("Operation-Location")
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted || opLocation == "" {
		r.Fail("analyze_sample_document", fmt.Sprintf("analysis submission returned HTTP %d", resp.StatusCode),
			"the resource rejected the analyze request; check its quota and region", "DOCINTEL_ANALYZE")
		return
	}
	r.Logf("info", "analysis accepted, polling %s", opLocation)

	for {
		select {
		case <-ctx.Done():
			r.Fail("analyze_sample_document", "analysis did not finish before the probe deadline",
				"the service accepted the document but was slow to analyze it; retry or raise PROBE_TIMEOUT_SECONDS", "DOCINTEL_TIMEOUT")
			return
		case <-time.After(time.Second):
		}
		status, pages, err := d.pollAnalysis(ctx, opLocation)
		if err != nil {
			r.Fail("analyze_sample_document", fmt.Sprintf("polling analysis: %v", err), "", "DOCINTEL_ANALYZE")
			return
		}
		switch status {
		case "succeeded":
			r.Pass("analyze_sample_document", fmt.Sprintf("analyzed a %d-page sample document", pages),
				map[string]any{"pages": pages})
			return
		case "failed":
			r.Fail("analyze_sample_document", "analysis finished with status failed",
				"the service could not process the sample; check the resource's diagnostics logs", "DOCINTEL_ANALYZE")
			return
		}
	}
}

func (d *DocIntel) pollAnalysis(ctx context.Context, url string) (string, int, error) {
	resp, err := d.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()
	var result struct {
		Status        string `json:"status"`
		AnalyzeResult struct {
			Pages []json.RawMessage `json:"pages"`
		} `json:"analyzeResult"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", 0, err
	}
	return result.Status, len(result.AnalyzeResult.Pages), nil
}
