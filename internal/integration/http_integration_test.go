//go:build integration

package integration_test

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"hozon/internal/entity"
)

const clipURL = "https://example.com/watch?v=vid-123"

func startBody(id string) string {
	return `{"id":"` + id + `","format":"mp4","maxHeight":720,"url":"` + clipURL + `"}`
}

func lastResult(t *testing.T, evs []streamEvent) entity.Result {
	t.Helper()

	if len(evs) == 0 || evs[len(evs)-1].Name != "result" {
		t.Fatalf("stream did not end with a result: %+v", evs)
	}

	var res entity.Result
	if err := json.Unmarshal(evs[len(evs)-1].Payload, &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}

	return res
}

func TestHTTPDownloadCompletes(t *testing.T) {
	fx := newFixture(t, "success")

	if code, body := fx.do(t, http.MethodPost, "/v1/downloads", startBody("ok-1")); code != http.StatusAccepted {
		t.Fatalf("start = %d %s", code, body)
	}

	var percents []float64

	evs := fx.stream(t, "ok-1", func(ev streamEvent) {
		if ev.Name != "progress" {
			return
		}

		var p entity.Progress
		if err := json.Unmarshal(ev.Payload, &p); err == nil {
			percents = append(percents, p.Percent)
		}
	})

	res := lastResult(t, evs)
	if res.State != entity.StateCompleted || res.Message != "[Download Complete] "+clipURL {
		t.Fatalf("result = %+v", res)
	}

	if len(percents) == 0 || percents[len(percents)-1] != 100 {
		t.Errorf("progress = %v", percents)
	}

	data, err := os.ReadFile(filepath.Join(fx.downloads, "Clip_20240101.mp4"))
	if err != nil || string(data) != "complete" {
		t.Errorf("downloaded file = %q, %v", data, err)
	}

	code, body := fx.do(t, http.MethodGet, "/v1/downloads/ok-1", "")
	if code != http.StatusOK || !strings.Contains(string(body), `"state":"completed"`) {
		t.Errorf("snapshot = %d %s", code, body)
	}
}

func TestHTTPCancelRunningDownload(t *testing.T) {
	fx := newFixture(t, "hang")

	if code, body := fx.do(t, http.MethodPost, "/v1/downloads", startBody("cancel-1")); code != http.StatusAccepted {
		t.Fatalf("start = %d %s", code, body)
	}

	var once sync.Once

	evs := fx.stream(t, "cancel-1", func(ev streamEvent) {
		if ev.Name != "progress" {
			return
		}

		once.Do(func() {
			if code, body := fx.do(t, http.MethodDelete, "/v1/downloads/cancel-1", ""); code != http.StatusAccepted {
				t.Errorf("cancel = %d %s", code, body)
			}
		})
	})

	res := lastResult(t, evs)
	if res.State != entity.StateCancelled || res.Error != "" {
		t.Fatalf("result = %+v", res)
	}

	if _, err := os.Stat(filepath.Join(fx.downloads, "Clip_20240101.mp4")); !os.IsNotExist(err) {
		t.Errorf("partial file survived cancellation: %v", err)
	}

	// cancelling a finished session is still accepted
	if code, _ := fx.do(t, http.MethodDelete, "/v1/downloads/cancel-1", ""); code != http.StatusAccepted {
		t.Errorf("repeated cancel = %d", code)
	}
}

func TestHTTPToolFailure(t *testing.T) {
	fx := newFixture(t, "fail")

	if code, body := fx.do(t, http.MethodPost, "/v1/downloads", startBody("fail-1")); code != http.StatusAccepted {
		t.Fatalf("start = %d %s", code, body)
	}

	res := lastResult(t, fx.stream(t, "fail-1", nil))
	if res.State != entity.StateFailed || !strings.Contains(res.Error, "Unable to download webpage") {
		t.Fatalf("result = %+v", res)
	}

	if !strings.HasPrefix(res.Message, "[Download Error]") {
		t.Errorf("message = %q", res.Message)
	}
}

func TestHTTPValidationErrors(t *testing.T) {
	fx := newFixture(t, "success")

	tests := []struct {
		name       string
		body       string
		statusCode int
	}{
		{name: "invalid json body", body: "{", statusCode: http.StatusBadRequest},
		{name: "invalid url", body: `{"url":"ftp://example.com/a","format":"mp4","maxHeight":720}`, statusCode: http.StatusUnprocessableEntity},
		{name: "missing format", body: `{"url":"` + clipURL + `"}`, statusCode: http.StatusUnprocessableEntity},
		{name: "missing height", body: `{"url":"` + clipURL + `","format":"mp4"}`, statusCode: http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code, body := fx.do(t, http.MethodPost, "/v1/downloads", tt.body); code != tt.statusCode {
				t.Errorf("status = %d, want %d: %s", code, tt.statusCode, body)
			}
		})
	}
}
