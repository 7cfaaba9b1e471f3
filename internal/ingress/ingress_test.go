// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package ingress_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-logr/logr/testr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iyemte/collector-agent-and-server/internal/gateway"
	"github.com/iyemte/collector-agent-and-server/internal/ingest"
	"github.com/iyemte/collector-agent-and-server/internal/ingress"
)

func newTestRouter(t *testing.T) (http.Handler, *gateway.Memory) {
	t.Helper()
	gw := gateway.NewMemory()
	h := ingress.NewHandler(ingest.New(gw, testr.New(t)), gw, testr.New(t))
	return h.Router(prometheus.NewRegistry()), gw
}

func postSubmit(t *testing.T, router http.Handler, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/submit", strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decodeStatus(t *testing.T, rr *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

func TestSubmitSample(t *testing.T) {
	router, gw := newTestRouter(t)

	rr := postSubmit(t, router, "application/json", `{"cpu": 12.5, "machine_id": "m1"}`)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "success", decodeStatus(t, rr)["status"])

	samples := gw.Samples()
	require.Len(t, samples, 1)
	assert.Equal(t, 12.5, samples[0]["cpu"])
}

func TestSubmitProfile(t *testing.T) {
	router, gw := newTestRouter(t)

	rr := postSubmit(t, router, "application/json",
		`{"os": "Linux", "type_machine": 1, "machine_id": "m1"}`)
	assert.Equal(t, http.StatusOK, rr.Code)

	_, ok := gw.Profile("m1")
	assert.True(t, ok)
}

func TestSubmitRejectsWrongContentType(t *testing.T) {
	router, gw := newTestRouter(t)

	rr := postSubmit(t, router, "text/plain", `{"cpu": 1}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "error", decodeStatus(t, rr)["status"])
	assert.Empty(t, gw.Samples())

	rr = postSubmit(t, router, "", `{"cpu": 1}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSubmitRejectsInvalidJSON(t *testing.T) {
	router, gw := newTestRouter(t)

	rr := postSubmit(t, router, "application/json", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "error", decodeStatus(t, rr)["status"])
	assert.Empty(t, gw.Samples())
}

func TestSubmitRejectsNullBody(t *testing.T) {
	router, gw := newTestRouter(t)

	// "null" decodes into a nil record without a JSON error.
	rr := postSubmit(t, router, "application/json", `null`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "error", decodeStatus(t, rr)["status"])
	assert.Empty(t, gw.Samples())
}

func TestSubmitRejectsOversizedBody(t *testing.T) {
	router, gw := newTestRouter(t)

	body := `{"pad": "` + strings.Repeat("x", 4*1024*1024) + `"}`
	rr := postSubmit(t, router, "application/json", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	assert.Equal(t, "error", decodeStatus(t, rr)["status"])
	assert.Empty(t, gw.Samples())
}

func TestSubmitReportsPersistenceFailure(t *testing.T) {
	router, gw := newTestRouter(t)
	gw.FailWrites = errors.New("backend down")

	rr := postSubmit(t, router, "application/json", `{"cpu": 1}`)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "error", decodeStatus(t, rr)["status"])
}

func TestSubmitAcceptsCharsetParameter(t *testing.T) {
	router, gw := newTestRouter(t)

	rr := postSubmit(t, router, "application/json; charset=utf-8", `{"cpu": 3.5}`)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, gw.Samples(), 1)
}

func TestHealthz(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}
