package scan

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/lkern/shrinkarr/internal/bus"
	"github.com/lkern/shrinkarr/internal/classify"
	"github.com/lkern/shrinkarr/internal/errs"
	"github.com/lkern/shrinkarr/internal/ffmpeg"
	"github.com/lkern/shrinkarr/internal/media"
	"github.com/lkern/shrinkarr/internal/settings"
	"github.com/lkern/shrinkarr/internal/store"
)

// fakeProber serves canned metadata keyed by basename. A non-nil gate makes
// every Probe call block until the gate closes; started reports each call.
type fakeProber struct {
	mu      sync.Mutex
	results map[string]ffmpeg.ProbeResult
	errors  map[string]error
	started chan string
	gate    chan struct{}
	calls   []string
}

func (p *fakeProber) Probe(ctx context.Context, path string) (*ffmpeg.ProbeResult, error) {
	p.mu.Lock()
	p.calls = append(p.calls, path)
	p.mu.Unlock()

	if p.started != nil {
		p.started <- path
	}
	if p.gate != nil {
		<-p.gate
	}

	name := filepath.Base(path)
	if err := p.errors[name]; err != nil {
		return nil, err
	}
	r, ok := p.results[name]
	if !ok {
		r = ffmpeg.ProbeResult{Codec: "h264", Bitrate: 10_000_000, Width: 1920, Height: 1080}
	}
	r.Path = path
	return &r, nil
}

type fixture struct {
	store    *store.SQLiteStore
	settings *settings.Service
	prober   *fakeProber
	bus      *bus.Bus
	scanner  *Scanner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	svc := settings.NewService(s)
	if err := svc.Update(map[string]string{settings.KeyMinFileSizeMB: "0"}); err != nil {
		t.Fatalf("failed to disable size floor: %v", err)
	}

	prober := &fakeProber{
		results: map[string]ffmpeg.ProbeResult{},
		errors:  map[string]error{},
	}
	b := bus.New()
	return &fixture{
		store:    s,
		settings: svc,
		prober:   prober,
		bus:      b,
		scanner:  New(s, classify.New(s, svc, prober), b),
	}
}

func (fx *fixture) addLibrary(t *testing.T, name string, enabled bool) *media.Library {
	t.Helper()
	lib := &media.Library{Name: name, Path: t.TempDir(), Enabled: enabled}
	if err := fx.store.CreateLibrary(lib); err != nil {
		t.Fatalf("failed to create library: %v", err)
	}
	return lib
}

func writeFile(t *testing.T, root string, name string, n int) string {
	t.Helper()
	path := filepath.Join(root, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("failed to create dirs: %v", err)
	}
	if err := os.WriteFile(path, make([]byte, n), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	return path
}

// collect drains events until n scan_complete records arrive, returning
// every progress record seen on the way.
func collect(t *testing.T, ch chan bus.Event, n int) []Progress {
	t.Helper()

	var records []Progress
	completes := 0
	for completes < n {
		select {
		case ev := <-ch:
			p, ok := ev.Data.(Progress)
			if !ok {
				t.Fatalf("event data is %T, want Progress", ev.Data)
			}
			records = append(records, p)
			if ev.Type == bus.EventScanComplete {
				completes++
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out after %d records, want %d completions", len(records), n)
		}
	}
	return records
}

func waitIdle(t *testing.T, s *Scanner) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for s.Running() {
		if time.Now().After(deadline) {
			t.Fatal("scanner still running")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestScanLibraryClassifiesTree(t *testing.T) {
	fx := newFixture(t)
	lib := fx.addLibrary(t, "Movies", true)

	writeFile(t, lib.Path, "a.mkv", 2048)
	writeFile(t, lib.Path, filepath.Join("sub", "b.mp4"), 2048)
	writeFile(t, lib.Path, "notes.txt", 64)
	writeFile(t, lib.Path, ".hidden.mkv", 2048)
	writeFile(t, lib.Path, filepath.Join(".stash", "c.mkv"), 2048)

	ch := fx.bus.Subscribe()
	defer fx.bus.Unsubscribe(ch)

	runID, err := fx.scanner.StartLibrary(context.Background(), lib)
	if err != nil {
		t.Fatalf("StartLibrary failed: %v", err)
	}
	if runID == "" {
		t.Fatal("empty run id")
	}

	records := collect(t, ch, 1)
	if records[0].State != StateFindingFiles {
		t.Errorf("first state = %s, want finding_files", records[0].State)
	}

	final := records[len(records)-1]
	if final.State != StateComplete {
		t.Fatalf("final state = %s, want complete", final.State)
	}
	if final.RunID != runID {
		t.Errorf("run id = %s, want %s", final.RunID, runID)
	}
	if final.Total != 2 || final.Processed != 2 || final.Added != 2 {
		t.Errorf("final = total %d processed %d added %d, want 2/2/2", final.Total, final.Processed, final.Added)
	}

	prev := 0
	for _, r := range records[1:] {
		if r.Processed < prev {
			t.Fatalf("processed went backwards: %d after %d", r.Processed, prev)
		}
		prev = r.Processed
	}

	for _, name := range []string{"a.mkv", filepath.Join("sub", "b.mp4")} {
		f, err := fx.store.GetFileByPath(filepath.Join(lib.Path, name))
		if err != nil || f == nil {
			t.Fatalf("file %s not recorded: %v", name, err)
		}
		if f.Status != media.StatusQueued {
			t.Errorf("%s status = %s, want queued", name, f.Status)
		}
	}
	if f, _ := fx.store.GetFileByPath(filepath.Join(lib.Path, ".hidden.mkv")); f != nil {
		t.Error("dotfile was recorded")
	}
	if f, _ := fx.store.GetFileByPath(filepath.Join(lib.Path, ".stash", "c.mkv")); f != nil {
		t.Error("file under dot directory was recorded")
	}

	waitIdle(t, fx.scanner)
	if got := fx.scanner.Status(); got.State != StateComplete {
		t.Errorf("status after run = %s, want complete", got.State)
	}
}

func TestScanRefusesConcurrentRuns(t *testing.T) {
	fx := newFixture(t)
	lib := fx.addLibrary(t, "Movies", true)
	writeFile(t, lib.Path, "a.mkv", 2048)

	fx.prober.started = make(chan string, 4)
	fx.prober.gate = make(chan struct{})

	if _, err := fx.scanner.StartLibrary(context.Background(), lib); err != nil {
		t.Fatalf("StartLibrary failed: %v", err)
	}
	<-fx.prober.started

	if _, err := fx.scanner.StartLibrary(context.Background(), lib); !errors.Is(err, errs.ErrConflict) {
		t.Errorf("second start err = %v, want conflict", err)
	}
	if _, err := fx.scanner.StartAll(context.Background()); !errors.Is(err, errs.ErrConflict) {
		t.Errorf("StartAll err = %v, want conflict", err)
	}

	close(fx.prober.gate)
	waitIdle(t, fx.scanner)

	// Slot is free again once the run finishes.
	if _, err := fx.scanner.StartLibrary(context.Background(), lib); err != nil {
		t.Errorf("restart after completion failed: %v", err)
	}
	waitIdle(t, fx.scanner)
}

func TestScanStopFinishesCurrentFile(t *testing.T) {
	fx := newFixture(t)
	lib := fx.addLibrary(t, "Movies", true)
	for _, name := range []string{"a.mkv", "b.mkv", "c.mkv"} {
		writeFile(t, lib.Path, name, 2048)
	}

	fx.prober.started = make(chan string, 4)
	fx.prober.gate = make(chan struct{})

	ch := fx.bus.Subscribe()
	defer fx.bus.Unsubscribe(ch)

	if _, err := fx.scanner.StartLibrary(context.Background(), lib); err != nil {
		t.Fatalf("StartLibrary failed: %v", err)
	}
	<-fx.prober.started

	if !fx.scanner.Stop() {
		t.Fatal("Stop reported no scan running")
	}
	close(fx.prober.gate)

	records := collect(t, ch, 1)
	final := records[len(records)-1]
	if final.State != StateStopped {
		t.Fatalf("final state = %s, want stopped", final.State)
	}
	if final.Processed != 1 || final.Added != 1 || final.Total != 3 {
		t.Errorf("final = processed %d added %d total %d, want 1/1/3", final.Processed, final.Added, final.Total)
	}

	// The in-flight file finished classification before the loop returned.
	f, err := fx.store.GetFileByPath(filepath.Join(lib.Path, "a.mkv"))
	if err != nil || f == nil {
		t.Fatalf("current file not recorded: %v", err)
	}

	waitIdle(t, fx.scanner)
	if fx.scanner.Stop() {
		t.Error("Stop with no scan running returned true")
	}
}

func TestScanAllWalksEnabledLibrariesInOrder(t *testing.T) {
	fx := newFixture(t)
	anime := fx.addLibrary(t, "Anime", true)
	movies := fx.addLibrary(t, "Movies", true)
	disabled := fx.addLibrary(t, "Archive", false)

	writeFile(t, anime.Path, "a.mkv", 2048)
	writeFile(t, movies.Path, "m.mkv", 2048)
	writeFile(t, disabled.Path, "old.mkv", 2048)

	ch := fx.bus.Subscribe()
	defer fx.bus.Unsubscribe(ch)

	runID, err := fx.scanner.StartAll(context.Background())
	if err != nil {
		t.Fatalf("StartAll failed: %v", err)
	}

	records := collect(t, ch, 2)

	var completed []string
	for _, r := range records {
		if r.State == StateComplete {
			completed = append(completed, r.Library)
		}
		if r.RunID != runID {
			t.Errorf("record for %s has run id %s, want %s", r.Library, r.RunID, runID)
		}
	}
	if len(completed) != 2 || completed[0] != "Anime" || completed[1] != "Movies" {
		t.Errorf("completed libraries = %v, want [Anime Movies]", completed)
	}

	if f, _ := fx.store.GetFileByPath(filepath.Join(disabled.Path, "old.mkv")); f != nil {
		t.Error("disabled library was scanned")
	}
}

func TestScanCountsSkippedAndErrored(t *testing.T) {
	fx := newFixture(t)
	lib := fx.addLibrary(t, "Movies", true)

	if err := fx.settings.Update(map[string]string{settings.KeyMinFileSizeMB: "1"}); err != nil {
		t.Fatalf("failed to set size floor: %v", err)
	}

	writeFile(t, lib.Path, "big.mkv", 2<<20)
	writeFile(t, lib.Path, "small.mkv", 512)
	writeFile(t, lib.Path, "broken.mkv", 2<<20)
	known := writeFile(t, lib.Path, "known.mkv", 2<<20)
	fx.prober.errors["broken.mkv"] = errs.ProbeFailedf("moov atom not found")

	if err := fx.store.UpsertFile(&media.File{
		LibraryID:    lib.ID,
		FilePath:     known,
		FileName:     "known.mkv",
		OriginalSize: 2 << 20,
		Status:       media.StatusQueued,
	}); err != nil {
		t.Fatalf("failed to seed known file: %v", err)
	}

	ch := fx.bus.Subscribe()
	defer fx.bus.Unsubscribe(ch)

	if _, err := fx.scanner.StartLibrary(context.Background(), lib); err != nil {
		t.Fatalf("StartLibrary failed: %v", err)
	}

	records := collect(t, ch, 1)
	final := records[len(records)-1]
	if final.State != StateComplete {
		t.Fatalf("final state = %s, want complete", final.State)
	}
	if final.Total != 4 || final.Processed != 4 {
		t.Errorf("total %d processed %d, want 4/4", final.Total, final.Processed)
	}
	if final.Added != 1 || final.Skipped != 2 || final.Errored != 1 {
		t.Errorf("added %d skipped %d errored %d, want 1/2/1", final.Added, final.Skipped, final.Errored)
	}
	if final.LastError == "" {
		t.Error("last_error empty after probe failure")
	}
}

func TestScanFailsOnMissingRoot(t *testing.T) {
	fx := newFixture(t)
	lib := &media.Library{Name: "Gone", Path: filepath.Join(t.TempDir(), "missing"), Enabled: true}
	if err := fx.store.CreateLibrary(lib); err != nil {
		t.Fatalf("failed to create library: %v", err)
	}

	ch := fx.bus.Subscribe()
	defer fx.bus.Unsubscribe(ch)

	if _, err := fx.scanner.StartLibrary(context.Background(), lib); err != nil {
		t.Fatalf("StartLibrary failed: %v", err)
	}

	records := collect(t, ch, 1)
	final := records[len(records)-1]
	if final.State != StateFailed {
		t.Fatalf("final state = %s, want failed", final.State)
	}
	if final.LastError == "" {
		t.Error("last_error empty for missing root")
	}
}

func TestCollectFilesLexicalOrder(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "b.mkv", 1)
	writeFile(t, root, "a.mkv", 1)
	writeFile(t, root, filepath.Join("c", "d.mkv"), 1)

	paths, err := collectFiles(root)
	if err != nil {
		t.Fatalf("collectFiles failed: %v", err)
	}
	want := []string{
		filepath.Join(root, "a.mkv"),
		filepath.Join(root, "b.mkv"),
		filepath.Join(root, "c", "d.mkv"),
	}
	if len(paths) != len(want) {
		t.Fatalf("got %d paths, want %d", len(paths), len(want))
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("paths[%d] = %s, want %s", i, paths[i], want[i])
		}
	}
}
