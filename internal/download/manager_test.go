package download

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jku-tools/moodle-mirror/internal/session"
	"github.com/jku-tools/moodle-mirror/pkg/moodle"
)

type testItem struct {
	url  string
	kind moodle.Kind
}

func (i testItem) SourceURL() string         { return i.url }
func (i testItem) ResourceKind() moodle.Kind { return i.kind }

type fakeMeter struct {
	mu     sync.Mutex
	usages []float64
	calls  int
	err    error
}

func (f *fakeMeter) Usage(ctx context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	if len(f.usages) == 0 {
		return 0, nil
	}
	u := f.usages[0]
	f.usages = f.usages[1:]
	return u, nil
}

// fileServer serves file modules with and without attachment payloads and
// the folder export endpoint, counting hits.
func fileServer(t *testing.T) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var hits atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("/jku/files/slides.pdf", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Disposition", `attachment; filename="slides.pdf"`)
		w.Write([]byte("%PDF-1.4 fake"))
	})
	mux.HandleFunc("/jku/files/inline", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("<html>not a file payload</html>"))
	})
	mux.HandleFunc("/jku/mod/folder/download_folder.php", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "42", r.PostForm.Get("id"))
		w.Header().Set("Content-Disposition", `attachment; filename="materials.zip"`)
		w.Write([]byte("PK fake zip"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &hits
}

func newManager(t *testing.T, srv *httptest.Server, cfg *Config, meter Meter) *Manager {
	t.Helper()
	scfg := session.DefaultConfig()
	scfg.BaseURL = srv.URL
	scfg.Retries = 0
	client, err := session.New(scfg)
	require.NoError(t, err)
	return New(client, cfg, meter)
}

func quickConfig() *Config {
	cfg := DefaultConfig()
	cfg.Workers = 2
	cfg.SubmitDelay = 0
	cfg.PollInterval = 5 * time.Millisecond
	return cfg
}

func TestDownloadPartitionsMixedBatch(t *testing.T) {
	srv, _ := fileServer(t)
	m := newManager(t, srv, quickConfig(), nil)
	dir := t.TempDir()

	items := []moodle.Downloadable{
		testItem{srv.URL + "/jku/files/slides.pdf", moodle.KindResource},
		testItem{srv.URL + "/jku/files/inline", moodle.KindResource},
		testItem{srv.URL + "/jku/mod/folder/view.php?id=42", moodle.KindFolder},
		testItem{srv.URL + "/jku/mod/forum/view.php?id=5", moodle.KindForum},
		testItem{srv.URL + "/jku/mod/somethingnew/view.php?id=6", moodle.KindUnknown},
	}
	res, err := m.Download(context.Background(), dir, items)
	require.NoError(t, err)

	assert.Equal(t, len(items), res.Len(), "every item lands in exactly one set")
	assert.Len(t, res.Done, 2)
	assert.Len(t, res.Failed, 3)
	for _, out := range res.Done {
		assert.True(t, fileExists(out.Path), out.Path)
	}
	for _, out := range res.Failed {
		assert.Empty(t, out.Path)
	}
}

func TestUnsupportedKindSkipsNetwork(t *testing.T) {
	srv, hits := fileServer(t)
	m := newManager(t, srv, quickConfig(), nil)

	res, err := m.Download(context.Background(), t.TempDir(), []moodle.Downloadable{
		testItem{srv.URL + "/jku/mod/forum/view.php?id=5", moodle.KindForum},
		testItem{srv.URL + "/jku/mod/wiki/view.php?id=6", moodle.KindWiki},
	})
	require.NoError(t, err)
	assert.Len(t, res.Failed, 2)
	assert.Empty(t, res.Done)
	assert.Zero(t, hits.Load())
}

func TestSupported(t *testing.T) {
	srv, _ := fileServer(t)
	m := newManager(t, srv, quickConfig(), nil)
	assert.True(t, m.Supported(moodle.KindResource))
	assert.True(t, m.Supported(moodle.KindQuiz))
	assert.False(t, m.Supported(moodle.KindForum))
	assert.False(t, m.Supported(moodle.KindUnknown))
}

func TestBandwidthGateDelaysSubmission(t *testing.T) {
	srv, _ := fileServer(t)
	cfg := quickConfig()
	cfg.CeilingMbit = 20
	cfg.MarginMbit = 5
	cfg.PollInterval = 20 * time.Millisecond
	meter := &fakeMeter{usages: []float64{30, 25, 10}}
	m := newManager(t, srv, cfg, meter)

	start := time.Now()
	res, err := m.Download(context.Background(), t.TempDir(), []moodle.Downloadable{
		testItem{srv.URL + "/jku/files/slides.pdf", moodle.KindResource},
	})
	require.NoError(t, err)
	require.Len(t, res.Done, 1)

	// Two samples above ceiling-margin mean two poll waits before admission.
	assert.GreaterOrEqual(t, time.Since(start), 2*cfg.PollInterval)
	assert.Equal(t, 3, meter.calls)
}

func TestBandwidthMeterFailureDisablesGate(t *testing.T) {
	srv, _ := fileServer(t)
	cfg := quickConfig()
	cfg.CeilingMbit = 20
	meter := &fakeMeter{err: errors.New("no counters")}
	m := newManager(t, srv, cfg, meter)

	res, err := m.Download(context.Background(), t.TempDir(), []moodle.Downloadable{
		testItem{srv.URL + "/jku/files/slides.pdf", moodle.KindResource},
	})
	require.NoError(t, err)
	assert.Len(t, res.Done, 1, "a broken meter must not stall the batch")
}

func TestDownloadCancellation(t *testing.T) {
	srv, _ := fileServer(t)
	m := newManager(t, srv, quickConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	items := []moodle.Downloadable{
		testItem{srv.URL + "/jku/files/slides.pdf", moodle.KindResource},
		testItem{srv.URL + "/jku/files/slides.pdf", moodle.KindResource},
	}
	res, err := m.Download(ctx, t.TempDir(), items)
	assert.ErrorIs(t, err, context.Canceled)
	// Unscheduled items appear in neither set.
	assert.LessOrEqual(t, res.Len(), len(items))
}

func TestDownloadEmptyBatch(t *testing.T) {
	srv, _ := fileServer(t)
	m := newManager(t, srv, quickConfig(), nil)
	res, err := m.Download(context.Background(), t.TempDir(), nil)
	require.NoError(t, err)
	assert.Zero(t, res.Len())
}

func TestDispatchRecoversPanic(t *testing.T) {
	srv, _ := fileServer(t)
	m := newManager(t, srv, quickConfig(), nil)
	m.strategies[moodle.KindResource] = func(ctx context.Context, item moodle.Downloadable, dir string) (moodle.DownloadOutcome, error) {
		panic(fmt.Sprintf("boom on %s", item.SourceURL()))
	}

	res, err := m.Download(context.Background(), t.TempDir(), []moodle.Downloadable{
		testItem{srv.URL + "/jku/files/slides.pdf", moodle.KindResource},
	})
	require.NoError(t, err)
	require.Len(t, res.Failed, 1)
	assert.False(t, res.Failed[0].OK)
}
