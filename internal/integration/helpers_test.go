//go:build integration

package integration_test

import (
	"bufio"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"hozon/internal/config"
	"hozon/internal/depmanager"
	"hozon/internal/downloader"
	"hozon/internal/events"
	httprouter "hozon/internal/infrastructure/delivery/http"
	"hozon/internal/observability"
	"hozon/internal/proxymgr"
	"hozon/internal/service"
	"hozon/internal/storage"
)

// fakeYTdlpScript prints one metadata record in print mode and otherwise
// writes the output file while reporting progress. HOZON_FAKE_MODE selects
// a failure or a hang.
const fakeYTdlpScript = `#!/bin/sh
out=""
print=0
prev=""
for a in "$@"; do
	case "$prev" in
		-o|--output) out="$a" ;;
	esac
	case "$a" in
		--print|--print=*) print=1 ;;
		--output=*) out="${a#--output=}" ;;
	esac
	prev="$a"
done

if [ "$print" = 1 ]; then
	echo 'Clip[|]https://i.ytimg.com/c.jpg[|]0:10[|]1280x720[|]1000[|]Clip_20240101.mp4[|]NA[|]NA[|]NA_20240101[|]https://example.com/clip'
	exit 0
fi

if [ "$HOZON_FAKE_MODE" = "fail" ]; then
	echo "ERROR: [generic] Unable to download webpage" >&2
	exit 1
fi

printf 'partial' > "$out"
echo "[download]  10.0% of  1.00MiB at  1.00MiB/s ETA 00:09"

if [ "$HOZON_FAKE_MODE" = "hang" ]; then
	sleep 30
fi

echo "[download]  60.0% of  1.00MiB at  2.00MiB/s ETA 00:02"
echo "[download] 100.0% of  1.00MiB at  2.00MiB/s ETA 00:00"
printf 'complete' > "$out"
`

type fixture struct {
	server    *httptest.Server
	downloads string
}

func newFixture(t *testing.T, mode string) *fixture {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("fake yt-dlp is a shell script")
	}

	base := t.TempDir()
	script := filepath.Join(base, "yt-dlp")

	if err := os.WriteFile(script, []byte(fakeYTdlpScript), 0o755); err != nil { //nolint:gosec
		t.Fatalf("write fake yt-dlp: %v", err)
	}

	t.Setenv("HOZON_FAKE_MODE", mode)

	cfg := &config.Config{
		HTTP: config.HTTP{HandlerTimeout: 5 * time.Second},
		Job:  config.Job{Workers: 2, QueueSize: 4, PollInterval: 50 * time.Millisecond, IdleTimeout: time.Minute},
		Dir: config.Dir{
			Downloads: filepath.Join(base, "downloads"),
			Cache:     filepath.Join(base, "cache"),
		},
		Storage:    config.Storage{TTL: time.Hour},
		DepManager: config.DepManager{UseSystemBinaries: true, YTdlpPath: script},
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.New(prometheus.NewRegistry())

	depMgr := depmanager.New(log, cfg)
	if err := depMgr.Resolve(t.Context()); err != nil {
		t.Fatalf("resolve binaries: %v", err)
	}

	storer := storage.New(t.Context(), log, cfg, metrics)
	proxies := proxymgr.New(log, cfg, metrics)
	dl := downloader.NewYTdlp(log, cfg, metrics, depMgr, storer, proxies)

	svc := service.New(cfg, log, dl, storer, events.NewBroker(log, metrics), metrics)
	svc.Start(t.Context())
	t.Cleanup(svc.Wait)

	srv := httptest.NewServer(httprouter.New(log, cfg, httprouter.Deps{Service: svc, Proxies: proxies, Metrics: metrics}))
	t.Cleanup(srv.Close)

	return &fixture{server: srv, downloads: cfg.Dir.Downloads}
}

func (fx *fixture) do(t *testing.T, method, path, body string) (int, []byte) {
	t.Helper()

	req, err := http.NewRequestWithContext(t.Context(), method, fx.server.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)

	return resp.StatusCode, data
}

type streamEvent struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload"`
}

// stream reads the event stream of id until the server closes it.
func (fx *fixture) stream(t *testing.T, id string, onEvent func(streamEvent)) []streamEvent {
	t.Helper()

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, fx.server.URL+"/v1/downloads/"+id+"/events", http.NoBody)
	if err != nil {
		t.Fatal(err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	defer resp.Body.Close()

	var out []streamEvent

	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		data, ok := strings.CutPrefix(sc.Text(), "data: ")
		if !ok {
			continue
		}

		var ev streamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			t.Fatalf("decode event %q: %v", data, err)
		}

		out = append(out, ev)

		if onEvent != nil {
			onEvent(ev)
		}
	}

	return out
}
