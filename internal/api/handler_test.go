package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lkern/shrinkarr/internal/bus"
	"github.com/lkern/shrinkarr/internal/classify"
	"github.com/lkern/shrinkarr/internal/encode"
	"github.com/lkern/shrinkarr/internal/ffmpeg"
	"github.com/lkern/shrinkarr/internal/media"
	"github.com/lkern/shrinkarr/internal/rules"
	"github.com/lkern/shrinkarr/internal/scan"
	"github.com/lkern/shrinkarr/internal/settings"
	"github.com/lkern/shrinkarr/internal/store"
	"github.com/lkern/shrinkarr/internal/watch"
)

type stubProber struct {
	mu     sync.Mutex
	result ffmpeg.ProbeResult
	err    error
}

func (p *stubProber) Probe(_ context.Context, path string) (*ffmpeg.ProbeResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	r := p.result
	r.Path = path
	return &r, nil
}

type stubTranscoder struct {
	outputSize int64
}

func (st *stubTranscoder) Run(_ context.Context, _ *ffmpeg.Plan, _, outputPath string, _ time.Duration, _ func(ffmpeg.Progress)) (*ffmpeg.TranscodeResult, error) {
	if err := os.WriteFile(outputPath, []byte("encoded"), 0o644); err != nil {
		return nil, err
	}
	return &ffmpeg.TranscodeResult{OutputSize: st.outputSize, Took: time.Millisecond}, nil
}

type testEnv struct {
	mux      *http.ServeMux
	store    *store.SQLiteStore
	settings *settings.Service
	worker   *encode.Worker
	scanner  *scan.Scanner
	bus      *bus.Bus
	prober   *stubProber
	library  *media.Library
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	svc := settings.NewService(s)
	if err := svc.Update(map[string]string{settings.KeyMinFileSizeMB: "0"}); err != nil {
		t.Fatalf("settings: %v", err)
	}

	prober := &stubProber{result: ffmpeg.ProbeResult{
		Codec:    "h264",
		Bitrate:  12_000_000,
		Size:     4096,
		Width:    1920,
		Height:   1080,
		Duration: 10 * time.Minute,
	}}
	classifier := classify.New(s, svc, prober)
	ruleSvc := rules.NewService(s, classifier)
	b := bus.New()
	scanner := scan.New(s, classifier, b)
	watcher := watch.NewManager(s, classifier)
	t.Cleanup(watcher.StopAll)
	worker := encode.NewWorker(s, svc, b, prober, &stubTranscoder{outputSize: 512}, t.TempDir(), encode.Output{UID: -1, GID: -1, Mode: 0o664})

	lib := &media.Library{Name: "Movies", Path: t.TempDir(), Enabled: true}
	if err := s.CreateLibrary(lib); err != nil {
		t.Fatalf("create library: %v", err)
	}

	h := NewHandler(Deps{
		Store:    s,
		Settings: svc,
		Rules:    ruleSvc,
		Scanner:  scanner,
		Watcher:  watcher,
		Worker:   worker,
		Bus:      b,
		Version:  "1.2.3",
	})

	return &testEnv{
		mux:      NewRouter(h),
		store:    s,
		settings: svc,
		worker:   worker,
		scanner:  scanner,
		bus:      b,
		prober:   prober,
		library:  lib,
	}
}

// startWorker runs the worker paused, so test encodes have a live context
// without the loop draining the queue under the test's feet.
func (env *testEnv) startWorker(t *testing.T) {
	t.Helper()
	env.worker.Pause()
	env.worker.Start(context.Background())
	t.Cleanup(env.worker.Stop)
}

func (env *testEnv) addFile(t *testing.T, name string, status media.Status) *media.File {
	t.Helper()
	path := filepath.Join(env.library.Path, name)
	if err := os.WriteFile(path, []byte("fake video"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	f := &media.File{
		LibraryID:       env.library.ID,
		FilePath:        path,
		FileName:        name,
		OriginalCodec:   "h264",
		OriginalBitrate: 12_000_000,
		OriginalSize:    4096,
		Status:          status,
	}
	if err := env.store.UpsertFile(f); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	return f
}

func (env *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rdr = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rdr)
	w := httptest.NewRecorder()
	env.mux.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("parse response %q: %v", w.Body.String(), err)
	}
	return v
}

func TestLibraryEndpoints(t *testing.T) {
	env := setupEnv(t)
	dir := t.TempDir()

	w := env.do(t, "POST", "/api/libraries", map[string]any{
		"name": "TV Shows",
		"path": dir,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", w.Code, w.Body.String())
	}
	created := decodeBody[media.Library](t, w)
	if created.ID == 0 || !created.Enabled || created.WatchEnabled {
		t.Fatalf("created = %+v", created)
	}

	if w := env.do(t, "POST", "/api/libraries", map[string]any{"name": "Dup", "path": dir}); w.Code != http.StatusConflict {
		t.Errorf("duplicate path status = %d", w.Code)
	}
	if w := env.do(t, "POST", "/api/libraries", map[string]any{"path": dir}); w.Code != http.StatusBadRequest {
		t.Errorf("missing name status = %d", w.Code)
	}
	if w := env.do(t, "POST", "/api/libraries", map[string]any{"name": "X", "path": "relative"}); w.Code != http.StatusBadRequest {
		t.Errorf("relative path status = %d", w.Code)
	}

	w = env.do(t, "GET", "/api/libraries", nil)
	if got := decodeBody[[]media.Library](t, w); len(got) != 2 {
		t.Fatalf("list = %d libraries, want 2", len(got))
	}

	w = env.do(t, "PUT", "/api/libraries/"+itoa(created.ID), map[string]any{"name": "Television"})
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d: %s", w.Code, w.Body.String())
	}
	if got := decodeBody[media.Library](t, w); got.Name != "Television" || got.Path != dir {
		t.Fatalf("updated = %+v", got)
	}

	// Disabling sweeps the library's queued files, history stays.
	f := env.addFile(t, "queued.mkv", media.StatusQueued)
	done := env.addFile(t, "done.mkv", media.StatusFinished)
	w = env.do(t, "PUT", "/api/libraries/"+itoa(env.library.ID), map[string]any{"enabled": false})
	if w.Code != http.StatusOK {
		t.Fatalf("disable status = %d: %s", w.Code, w.Body.String())
	}
	if _, err := env.store.GetFile(f.ID); err == nil {
		t.Error("queued file survived library disable")
	}
	if _, err := env.store.GetFile(done.ID); err != nil {
		t.Errorf("finished file dropped on disable: %v", err)
	}

	if w := env.do(t, "DELETE", "/api/libraries/"+itoa(created.ID), nil); w.Code != http.StatusOK {
		t.Fatalf("delete status = %d", w.Code)
	}
	if w := env.do(t, "GET", "/api/libraries/"+itoa(created.ID), nil); w.Code != http.StatusNotFound {
		t.Errorf("get deleted status = %d", w.Code)
	}
	if w := env.do(t, "GET", "/api/libraries/abc", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad id status = %d", w.Code)
	}
}

func TestExclusionEndpoints(t *testing.T) {
	env := setupEnv(t)
	frasier := env.addFile(t, "Frasier.s01e01.mkv", media.StatusQueued)
	friends := env.addFile(t, "Friends.s01e01.mkv", media.StatusQueued)

	w := env.do(t, "POST", "/api/exclusions", map[string]any{
		"type":    "folder",
		"pattern": filepath.Join(env.library.Path, "Frasier"),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", w.Code, w.Body.String())
	}
	resp := decodeBody[map[string]json.RawMessage](t, w)
	var excluded int
	json.Unmarshal(resp["files_excluded"], &excluded)
	if excluded != 1 {
		t.Fatalf("files_excluded = %d, want 1", excluded)
	}
	var ex media.Exclusion
	json.Unmarshal(resp["exclusion"], &ex)

	if got, _ := env.store.GetFile(frasier.ID); got.Status != media.StatusExcluded {
		t.Errorf("frasier status = %s, want excluded", got.Status)
	}
	if got, _ := env.store.GetFile(friends.ID); got.Status != media.StatusQueued {
		t.Errorf("friends status = %s, want queued", got.Status)
	}

	w = env.do(t, "POST", "/api/exclusions/check", map[string]any{"path": frasier.FilePath})
	if w.Code != http.StatusOK {
		t.Fatalf("check status = %d", w.Code)
	}
	if result := decodeBody[rules.Result](t, w); !result.Excluded || result.RuleID != ex.ID {
		t.Fatalf("check result = %+v", result)
	}

	if w := env.do(t, "POST", "/api/exclusions", map[string]any{"type": "bogus", "pattern": "/x"}); w.Code != http.StatusBadRequest {
		t.Errorf("bad type status = %d", w.Code)
	}

	w = env.do(t, "DELETE", "/api/exclusions/"+itoa(ex.ID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d: %s", w.Code, w.Body.String())
	}
	if got, _ := env.store.GetFile(frasier.ID); got.Status != media.StatusQueued {
		t.Errorf("frasier status after delete = %s, want queued", got.Status)
	}
}

func TestFileEndpoints(t *testing.T) {
	env := setupEnv(t)
	errored := env.addFile(t, "broken.mkv", media.StatusErrored)
	queued := env.addFile(t, "pending.mkv", media.StatusQueued)

	w := env.do(t, "GET", "/api/files?status=queued", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var listing struct {
		Files  []media.File          `json:"files"`
		Counts map[media.Status]int `json:"counts"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &listing); err != nil {
		t.Fatalf("parse list: %v", err)
	}
	if len(listing.Files) != 1 || listing.Files[0].ID != queued.ID {
		t.Fatalf("filtered files = %+v", listing.Files)
	}
	if listing.Counts[media.StatusErrored] != 1 {
		t.Fatalf("counts = %+v", listing.Counts)
	}

	if w := env.do(t, "GET", "/api/files?status=bogus", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad status filter = %d", w.Code)
	}
	if w := env.do(t, "GET", "/api/files/9999", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing file status = %d", w.Code)
	}

	// Retry is for errored and rejected only.
	w = env.do(t, "POST", "/api/files/"+itoa(errored.ID)+"/retry", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("retry status = %d: %s", w.Code, w.Body.String())
	}
	if got := decodeBody[media.File](t, w); got.Status != media.StatusQueued || got.ErrorMessage != "" {
		t.Fatalf("retried = %+v", got)
	}
	if w := env.do(t, "POST", "/api/files/"+itoa(queued.ID)+"/retry", nil); w.Code != http.StatusConflict {
		t.Errorf("retry queued status = %d", w.Code)
	}

	w = env.do(t, "POST", "/api/files/"+itoa(queued.ID)+"/skip", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("skip status = %d: %s", w.Code, w.Body.String())
	}
	if got := decodeBody[media.File](t, w); got.Status != media.StatusSkipped || got.SkipReason != "Manually skipped" {
		t.Fatalf("skipped = %+v", got)
	}
	if w := env.do(t, "POST", "/api/files/"+itoa(queued.ID)+"/exclude", nil); w.Code != http.StatusConflict {
		t.Errorf("exclude skipped file status = %d", w.Code)
	}

	other := env.addFile(t, "other.mkv", media.StatusQueued)
	w = env.do(t, "POST", "/api/files/"+itoa(other.ID)+"/exclude", map[string]any{"reason": "keep quality"})
	if w.Code != http.StatusOK {
		t.Fatalf("exclude status = %d", w.Code)
	}
	if got := decodeBody[media.File](t, w); got.Status != media.StatusExcluded || got.SkipReason != "keep quality" {
		t.Fatalf("excluded = %+v", got)
	}

	env.store.AppendLog(errored.ID, media.LogEncodeError, "boom")
	w = env.do(t, "GET", "/api/files/"+itoa(errored.ID)+"/log", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("log status = %d", w.Code)
	}
	if entries := decodeBody[[]media.LogEntry](t, w); len(entries) != 1 || entries[0].Event != media.LogEncodeError {
		t.Fatalf("log entries = %+v", entries)
	}
}

func TestQueueEndpoints(t *testing.T) {
	env := setupEnv(t)
	env.addFile(t, "b.mkv", media.StatusQueued)
	env.addFile(t, "a.mkv", media.StatusQueued)
	env.settings.Update(map[string]string{settings.KeySortOrder: string(store.SortAlphabetical)})

	w := env.do(t, "GET", "/api/queue", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("queue status = %d", w.Code)
	}
	var snap struct {
		Queued  []media.File         `json:"queued"`
		Current *encode.CurrentEncode `json:"current"`
		Paused  bool                 `json:"paused"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("parse queue: %v", err)
	}
	if len(snap.Queued) != 2 || snap.Queued[0].FileName != "a.mkv" {
		t.Fatalf("queued = %+v", snap.Queued)
	}
	if snap.Current != nil || snap.Paused {
		t.Fatalf("snapshot = %+v", snap)
	}

	if w := env.do(t, "POST", "/api/queue/pause", nil); w.Code != http.StatusOK {
		t.Fatalf("pause status = %d", w.Code)
	}
	if !env.worker.IsPaused() {
		t.Error("worker not paused")
	}
	if w := env.do(t, "POST", "/api/queue/resume", nil); w.Code != http.StatusOK {
		t.Fatalf("resume status = %d", w.Code)
	}
	if env.worker.IsPaused() {
		t.Error("worker still paused")
	}

	if w := env.do(t, "POST", "/api/queue/cancel", nil); w.Code != http.StatusConflict {
		t.Errorf("cancel with idle worker status = %d", w.Code)
	}
}

func TestScanEndpoints(t *testing.T) {
	env := setupEnv(t)
	env.addFileOnDisk(t, "one.mkv")

	if w := env.do(t, "POST", "/api/scan/stop", nil); w.Code != http.StatusConflict {
		t.Errorf("stop with no scan status = %d", w.Code)
	}

	w := env.do(t, "POST", "/api/scan", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("scan status = %d: %s", w.Code, w.Body.String())
	}
	if resp := decodeBody[map[string]string](t, w); resp["run_id"] == "" {
		t.Fatal("scan response missing run_id")
	}

	deadline := time.Now().Add(5 * time.Second)
	for env.scanner.Running() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	w = env.do(t, "GET", "/api/scan/status", nil)
	var status struct {
		Running  bool          `json:"running"`
		Progress scan.Progress `json:"progress"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("parse status: %v", err)
	}
	if status.Running || status.Progress.State != scan.StateComplete {
		t.Fatalf("scan status = %+v", status)
	}
	if status.Progress.Added != 1 {
		t.Fatalf("scan added = %d, want 1", status.Progress.Added)
	}

	// Per-library scan on a disabled library is refused.
	disabled := &media.Library{Name: "Archive", Path: t.TempDir(), Enabled: false}
	if err := env.store.CreateLibrary(disabled); err != nil {
		t.Fatalf("create library: %v", err)
	}
	if w := env.do(t, "POST", "/api/libraries/"+itoa(disabled.ID)+"/scan", nil); w.Code != http.StatusBadRequest {
		t.Errorf("scan disabled library status = %d: %s", w.Code, w.Body.String())
	}
}

func TestSettingsEndpoints(t *testing.T) {
	env := setupEnv(t)

	w := env.do(t, "GET", "/api/settings", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	values := decodeBody[map[string]string](t, w)
	if values[settings.KeySortOrder] != string(store.SortBitrateDesc) {
		t.Fatalf("default sort = %q", values[settings.KeySortOrder])
	}

	w = env.do(t, "PUT", "/api/settings", map[string]string{settings.KeyMinFileSizeMB: "750"})
	if w.Code != http.StatusOK {
		t.Fatalf("put status = %d: %s", w.Code, w.Body.String())
	}
	if updated := decodeBody[map[string]string](t, w); updated[settings.KeyMinFileSizeMB] != "750" {
		t.Fatalf("updated = %+v", updated)
	}

	// All-or-nothing: one bad key rejects the batch.
	w = env.do(t, "PUT", "/api/settings", map[string]string{
		settings.KeyMinFileSizeMB: "100",
		settings.KeySortOrder:     "bogus",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid put status = %d", w.Code)
	}
	if env.settings.MinFileSizeMB() != 750 {
		t.Errorf("rejected batch changed min size to %d", env.settings.MinFileSizeMB())
	}

	if w := env.do(t, "PUT", "/api/settings", map[string]string{}); w.Code != http.StatusBadRequest {
		t.Errorf("empty put status = %d", w.Code)
	}
}

func TestStatsEndpoints(t *testing.T) {
	env := setupEnv(t)
	if err := env.store.AddStats(store.StatsDelta{Processed: 3, Finished: 2, Errored: 1, SpaceSaved: 1 << 30}); err != nil {
		t.Fatalf("seed stats: %v", err)
	}

	w := env.do(t, "GET", "/api/stats?days=7", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("stats status = %d", w.Code)
	}
	var daily struct {
		Daily  []store.StatsRow `json:"daily"`
		Totals store.StatsRow   `json:"totals"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &daily); err != nil {
		t.Fatalf("parse stats: %v", err)
	}
	if len(daily.Daily) != 1 || daily.Totals.FilesProcessed != 3 || daily.Totals.SpaceSaved != 1<<30 {
		t.Fatalf("stats = %+v", daily)
	}

	w = env.do(t, "GET", "/api/stats/hourly", nil)
	var hourly struct {
		Hourly []store.StatsRow `json:"hourly"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &hourly); err != nil {
		t.Fatalf("parse hourly: %v", err)
	}
	if len(hourly.Hourly) != 1 || hourly.Hourly[0].Finished != 2 {
		t.Fatalf("hourly = %+v", hourly)
	}
}

func TestStatusEndpoint(t *testing.T) {
	env := setupEnv(t)

	w := env.do(t, "GET", "/api/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var status struct {
		Version       string `json:"version"`
		NVENC         bool   `json:"nvenc_available"`
		WorkerPaused  bool   `json:"worker_paused"`
		ScanRunning   bool   `json:"scan_running"`
		WatchedCount  int    `json:"watched_libraries"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("parse status: %v", err)
	}
	if status.Version != "1.2.3" || status.NVENC || status.WorkerPaused || status.ScanRunning {
		t.Fatalf("status = %+v", status)
	}
}

func TestBrowseEndpoint(t *testing.T) {
	env := setupEnv(t)
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "Movies"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	w := env.do(t, "GET", "/api/browse?path="+url.QueryEscape(dir), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("browse status = %d: %s", w.Code, w.Body.String())
	}
	var listing struct {
		Path string `json:"path"`
		Dirs []struct {
			Name string `json:"name"`
		} `json:"dirs"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &listing); err != nil {
		t.Fatalf("parse browse: %v", err)
	}
	if listing.Path != dir || len(listing.Dirs) != 1 || listing.Dirs[0].Name != "Movies" {
		t.Fatalf("listing = %+v", listing)
	}

	if w := env.do(t, "GET", "/api/browse?path=relative", nil); w.Code != http.StatusBadRequest {
		t.Errorf("relative browse status = %d", w.Code)
	}
}

func TestTestEncodeEndpoints(t *testing.T) {
	env := setupEnv(t)
	env.startWorker(t)

	if w := env.do(t, "GET", "/api/test-encode", nil); w.Code != http.StatusNotFound {
		t.Errorf("status before any test = %d", w.Code)
	}
	if w := env.do(t, "POST", "/api/test-encode", map[string]string{}); w.Code != http.StatusBadRequest {
		t.Errorf("missing path status = %d", w.Code)
	}

	src := filepath.Join(t.TempDir(), "sample.mkv")
	if err := os.WriteFile(src, make([]byte, 2048), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	w := env.do(t, "POST", "/api/test-encode", map[string]string{"path": src})
	if w.Code != http.StatusAccepted {
		t.Fatalf("start status = %d: %s", w.Code, w.Body.String())
	}

	deadline := time.Now().Add(5 * time.Second)
	var ts encode.TestStatus
	for time.Now().Before(deadline) {
		w = env.do(t, "GET", "/api/test-encode", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("poll status = %d", w.Code)
		}
		ts = decodeBody[encode.TestStatus](t, w)
		if ts.State != encode.TestStateRunning {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if ts.State != encode.TestStateComplete || !ts.Success || ts.NewSize != 512 {
		t.Fatalf("test result = %+v", ts)
	}
}

func TestEventsStream(t *testing.T) {
	env := setupEnv(t)
	srv := httptest.NewServer(env.mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/events")
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %s", ct)
	}

	reader := bufio.NewReader(resp.Body)
	readEvent := func() string {
		t.Helper()
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				t.Fatalf("read stream: %v", err)
			}
			if strings.HasPrefix(line, "data: ") {
				return strings.TrimSpace(strings.TrimPrefix(line, "data: "))
			}
		}
	}

	first := readEvent()
	if !strings.Contains(first, `"type":"init"`) {
		t.Fatalf("first event = %s", first)
	}

	env.bus.Publish(bus.EventScanComplete, map[string]string{"library": "Movies"})
	second := readEvent()
	if !strings.Contains(second, string(bus.EventScanComplete)) {
		t.Fatalf("second event = %s", second)
	}
}

// addFileOnDisk writes a video file into the library without seeding a row,
// for scan tests.
func (env *testEnv) addFileOnDisk(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(env.library.Path, name)
	if err := os.WriteFile(path, make([]byte, 4096), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	return path
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
