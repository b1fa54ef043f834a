package orchestrator_test

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/pdfbridge/internal/artifact"
	"github.com/local/pdfbridge/internal/converter"
	"github.com/local/pdfbridge/internal/history"
	"github.com/local/pdfbridge/internal/orchestrator"
	"github.com/local/pdfbridge/internal/record"
	"github.com/local/pdfbridge/internal/scheduler"
)

var (
	pngBytes  = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0, 0, 0, 13}
	jpegBytes = []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}
)

func docxBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, entry := range []string{"[Content_Types].xml", "word/document.xml"} {
		w, err := zw.Create(entry)
		require.NoError(t, err)
		_, err = w.Write([]byte(`<?xml version="1.0"?><root/>`))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

type filePart struct {
	name string
	data []byte
}

func multipartBody(t *testing.T, field string, parts []filePart) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, p := range parts {
		w, err := mw.CreateFormFile(field, p.name)
		require.NoError(t, err)
		_, err = w.Write(p.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &body, mw.FormDataContentType()
}

type fakeDocs struct {
	mu    sync.Mutex
	calls []string
	fail  bool
}

func (f *fakeDocs) ConvertToPDF(job converter.Job) converter.Result {
	f.mu.Lock()
	f.calls = append(f.calls, job.InputPath)
	f.mu.Unlock()
	if f.fail {
		return converter.Result{Success: false, Error: errors.New("soffice exploded")}
	}
	if err := os.WriteFile(job.OutputPath, []byte("%PDF-1.4 fake"), 0o644); err != nil {
		return converter.Result{Success: false, Error: err}
	}
	return converter.Result{Success: true, OutputPath: job.OutputPath}
}

type fakeImages struct {
	mu    sync.Mutex
	calls [][]string
	fail  bool
}

func (f *fakeImages) MergeToPDF(inputPaths []string, outputPath string) converter.Result {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string(nil), inputPaths...))
	f.mu.Unlock()
	if f.fail {
		return converter.Result{Success: false, Error: errors.New("merge failed")}
	}
	if err := os.WriteFile(outputPath, []byte("%PDF-1.4 merged"), 0o644); err != nil {
		return converter.Result{Success: false, Error: err}
	}
	return converter.Result{Success: true, OutputPath: outputPath}
}

type fakeCleaner struct {
	mu    sync.Mutex
	tasks []scheduler.Task
}

func (f *fakeCleaner) Schedule(task scheduler.Task) (*scheduler.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, task)
	return &scheduler.Handle{}, nil
}

func (f *fakeCleaner) Tasks() []scheduler.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]scheduler.Task(nil), f.tasks...)
}

type fakeMirror struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeMirror() *fakeMirror { return &fakeMirror{objects: make(map[string][]byte)} }

func (f *fakeMirror) Put(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.objects[filepath.Base(path)] = data
	f.mu.Unlock()
	return nil
}

func (f *fakeMirror) Fetch(ctx context.Context, name string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[name]
	if !ok {
		return nil, errors.New("no such object")
	}
	return data, nil
}

type env struct {
	mux     *http.ServeMux
	records *record.MemoryStore
	cleaner *fakeCleaner
	docs    *fakeDocs
	images  *fakeImages
	store   *artifact.Store
	now     time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()
	root := t.TempDir()
	store, err := artifact.NewStore(filepath.Join(root, "uploaded"), filepath.Join(root, "converted"))
	require.NoError(t, err)

	e := &env{
		records: record.NewMemoryStore(),
		cleaner: &fakeCleaner{},
		docs:    &fakeDocs{},
		images:  &fakeImages{},
		store:   store,
		now:     time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	orch := orchestrator.New(orchestrator.Dependencies{
		Records:   e.records,
		Artifacts: store,
		Docs:      e.docs,
		Images:    e.images,
		Cleaner:   e.cleaner,
		History:   history.New(e.records, history.AnonNone),
		Verify:    func(string) error { return nil },
	}, orchestrator.Options{
		Retention:      2 * time.Minute,
		ConvertTimeout: time.Second,
		MaxFiles:       10,
		MaxFileSize:    10 << 20,
		Now:            func() time.Time { return e.now },
	})
	e.mux = http.NewServeMux()
	orch.RegisterRoutes(e.mux)
	return e
}

func (e *env) do(t *testing.T, method, path string, body *bytes.Buffer, contentType, owner string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, body)
		req.Header.Set("Content-Type", contentType)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if owner != "" {
		req.Header.Set("X-User-ID", owner)
	}
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func TestDocxToPDFTwoFiles(t *testing.T) {
	e := newEnv(t)
	docx := docxBytes(t)
	body, ct := multipartBody(t, "files", []filePart{
		{"A.docx", docx},
		{"B.docx", docx},
	})

	resp := e.do(t, http.MethodPost, "/docxtopdf", body, ct, "u1")
	require.Equal(t, http.StatusOK, resp.Code)

	var links []string
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &links))
	require.Len(t, links, 2)
	assert.True(t, strings.HasPrefix(links[0], "/download/"))
	assert.True(t, strings.HasSuffix(links[0], "_A.pdf"))
	assert.True(t, strings.HasSuffix(links[1], "_B.pdf"))

	// one record per document
	recs, err := e.records.ListByOwner(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, recs, 2)

	// each document schedules source cleanup plus record-bound output cleanup
	tasks := e.cleaner.Tasks()
	require.Len(t, tasks, 4)
	bound := 0
	for _, task := range tasks {
		assert.Equal(t, e.now.Add(2*time.Minute), task.FireAt)
		if task.RecordID != "" {
			bound++
		}
	}
	assert.Equal(t, 2, bound)

	// responses resolve to real artifacts
	for _, link := range links {
		dl := e.do(t, http.MethodGet, link, nil, "", "")
		assert.Equal(t, http.StatusOK, dl.Code)
	}
}

func TestDocxToPDFSequentialAbort(t *testing.T) {
	e := newEnv(t)
	e.docs.fail = true
	body, ct := multipartBody(t, "files", []filePart{{"A.docx", docxBytes(t)}})

	resp := e.do(t, http.MethodPost, "/docxtopdf", body, ct, "u1")
	require.Equal(t, http.StatusInternalServerError, resp.Code)
	assert.Contains(t, resp.Body.String(), "Conversion failed")

	recs, err := e.records.ListByOwner(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.Empty(t, e.cleaner.Tasks())
}

func TestImageToPDFMergesThree(t *testing.T) {
	e := newEnv(t)
	body, ct := multipartBody(t, "images", []filePart{
		{"a.jpg", jpegBytes},
		{"b.jpg", jpegBytes},
		{"c.jpg", jpegBytes},
	})

	resp := e.do(t, http.MethodPost, "/imagetopdf", body, ct, "u1")
	require.Equal(t, http.StatusOK, resp.Code)

	var links []string
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &links))
	require.Len(t, links, 1)
	assert.True(t, strings.HasSuffix(links[0], "_merged.pdf"))

	recs, err := e.records.ListByOwner(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "a.jpg, b.jpg, c.jpg", recs[0].OriginalFilename)

	// merge saw all three inputs in upload order
	require.Len(t, e.images.calls, 1)
	require.Len(t, e.images.calls[0], 3)

	// three source tasks plus one record-bound output task
	tasks := e.cleaner.Tasks()
	require.Len(t, tasks, 4)
	var withRecord int
	for _, task := range tasks {
		if task.RecordID != "" {
			withRecord++
			assert.Equal(t, recs[0].ID, task.RecordID)
		}
	}
	assert.Equal(t, 1, withRecord)
}

func TestZeroFilesRejected(t *testing.T) {
	e := newEnv(t)
	for _, path := range []string{"/docxtopdf", "/imagetopdf"} {
		field := "files"
		if path == "/imagetopdf" {
			field = "images"
		}
		body, ct := multipartBody(t, field, nil)
		resp := e.do(t, http.MethodPost, path, body, ct, "u1")
		assert.Equal(t, http.StatusBadRequest, resp.Code, path)
	}

	recs, err := e.records.ListAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.Empty(t, e.cleaner.Tasks())
}

func TestWrongExtensionRejectedBeforeConversion(t *testing.T) {
	e := newEnv(t)
	body, ct := multipartBody(t, "files", []filePart{{"photo.png", pngBytes}})

	resp := e.do(t, http.MethodPost, "/docxtopdf", body, ct, "u1")
	require.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Empty(t, e.docs.calls)
	assert.Empty(t, e.cleaner.Tasks())
}

func TestContentSniffRejectsDisguisedFile(t *testing.T) {
	e := newEnv(t)
	// png bytes under a docx name pass the extension screen but not the sniffer
	body, ct := multipartBody(t, "files", []filePart{{"evil.docx", pngBytes}})

	resp := e.do(t, http.MethodPost, "/docxtopdf", body, ct, "u1")
	require.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Empty(t, e.docs.calls)
}

func TestTooManyFilesRejected(t *testing.T) {
	e := newEnv(t)
	parts := make([]filePart, 11)
	for i := range parts {
		parts[i] = filePart{name: "img.jpg", data: jpegBytes}
	}
	body, ct := multipartBody(t, "images", parts)

	resp := e.do(t, http.MethodPost, "/imagetopdf", body, ct, "u1")
	require.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Contains(t, resp.Body.String(), "too many files")
}

func TestHistoryNewestFirstPerOwner(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, e.records.Create(ctx, record.Record{ID: "1", OwnerID: "u1", ConvertedFilename: "old.pdf", Timestamp: base}))
	require.NoError(t, e.records.Create(ctx, record.Record{ID: "2", OwnerID: "u1", ConvertedFilename: "new.pdf", Timestamp: base.Add(time.Minute)}))
	require.NoError(t, e.records.Create(ctx, record.Record{ID: "3", OwnerID: "u2", ConvertedFilename: "other.pdf", Timestamp: base.Add(2 * time.Minute)}))

	resp := e.do(t, http.MethodGet, "/history", nil, "", "u1")
	require.Equal(t, http.StatusOK, resp.Code)

	var recs []record.Record
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &recs))
	require.Len(t, recs, 2)
	assert.Equal(t, "2", recs[0].ID)
	assert.Equal(t, "1", recs[1].ID)

	// anonymous callers see nothing under the default policy
	resp = e.do(t, http.MethodGet, "/history", nil, "", "")
	require.Equal(t, http.StatusOK, resp.Code)
	var anon []record.Record
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &anon))
	assert.Empty(t, anon)
}

func TestDownloadRejectsTraversal(t *testing.T) {
	e := newEnv(t)
	resp := e.do(t, http.MethodGet, "/download/..%2F..%2Fetc%2Fpasswd", nil, "", "")
	assert.NotEqual(t, http.StatusOK, resp.Code)

	resp = e.do(t, http.MethodGet, "/download/missing.pdf", nil, "", "")
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

// End to end with the real scheduler: after the retention window the
// artifacts and the record are gone and history is empty.
func TestConversionPurgedAfterRetention(t *testing.T) {
	root := t.TempDir()
	store, err := artifact.NewStore(filepath.Join(root, "uploaded"), filepath.Join(root, "converted"))
	require.NoError(t, err)
	records := record.NewMemoryStore()

	sched := scheduler.New(scheduler.Options{Artifacts: store, Records: records})
	defer sched.Close()

	orch := orchestrator.New(orchestrator.Dependencies{
		Records:   records,
		Artifacts: store,
		Docs:      &fakeDocs{},
		Images:    &fakeImages{},
		Cleaner:   sched,
		History:   history.New(records, history.AnonNone),
		Verify:    func(string) error { return nil },
	}, orchestrator.Options{
		Retention:      50 * time.Millisecond,
		ConvertTimeout: time.Second,
		MaxFiles:       10,
		MaxFileSize:    10 << 20,
	})
	mux := http.NewServeMux()
	orch.RegisterRoutes(mux)

	body, ct := multipartBody(t, "files", []filePart{{"A.docx", docxBytes(t)}})
	req := httptest.NewRequest(http.MethodPost, "/docxtopdf", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("X-User-ID", "u1")
	resp := httptest.NewRecorder()
	mux.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)

	var links []string
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &links))
	require.Len(t, links, 1)
	name := strings.TrimPrefix(links[0], "/download/")

	// the converted artifact exists right after the request completes
	_, err = store.ResolveDownload(name)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		if _, err := store.ResolveDownload(name); err == nil {
			return false
		}
		recs, err := records.ListByOwner(context.Background(), "u1")
		return err == nil && len(recs) == 0
	}, 2*time.Second, 20*time.Millisecond, "artifacts and record should be purged after the retention window")

	dl := httptest.NewRequest(http.MethodGet, links[0], nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, dl)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDownloadServesFromMirrorWhenLocalGone(t *testing.T) {
	root := t.TempDir()
	store, err := artifact.NewStore(filepath.Join(root, "uploaded"), filepath.Join(root, "converted"))
	require.NoError(t, err)
	records := record.NewMemoryStore()
	mirror := newFakeMirror()

	orch := orchestrator.New(orchestrator.Dependencies{
		Records:   records,
		Artifacts: store,
		Docs:      &fakeDocs{},
		Images:    &fakeImages{},
		Cleaner:   &fakeCleaner{},
		History:   history.New(records, history.AnonNone),
		Mirror:    mirror,
		Verify:    func(string) error { return nil },
	}, orchestrator.Options{
		Retention:      2 * time.Minute,
		ConvertTimeout: time.Second,
		MaxFiles:       10,
		MaxFileSize:    10 << 20,
	})
	mux := http.NewServeMux()
	orch.RegisterRoutes(mux)

	body, ct := multipartBody(t, "files", []filePart{{"A.docx", docxBytes(t)}})
	req := httptest.NewRequest(http.MethodPost, "/docxtopdf", body)
	req.Header.Set("Content-Type", ct)
	resp := httptest.NewRecorder()
	mux.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)

	var links []string
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &links))
	require.Len(t, links, 1)
	name := strings.TrimPrefix(links[0], "/download/")

	// the local artifact was mirrored at conversion time
	mirrored, err := mirror.Fetch(context.Background(), name)
	require.NoError(t, err)

	// remove the local copy; the download falls back to the mirror
	path, err := store.ResolveDownload(name)
	require.NoError(t, err)
	require.NoError(t, store.Remove(path))

	dl := httptest.NewRequest(http.MethodGet, links[0], nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, dl)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, mirrored, rec.Body.Bytes())

	// a name the mirror does not hold still 404s
	dl = httptest.NewRequest(http.MethodGet, "/download/unknown.pdf", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, dl)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	e := newEnv(t)
	for _, path := range []string{"/docxtopdf", "/imagetopdf"} {
		resp := e.do(t, http.MethodGet, path, nil, "", "")
		assert.Equal(t, http.StatusMethodNotAllowed, resp.Code, path)
	}
	resp := e.do(t, http.MethodPost, "/history", bytes.NewBuffer(nil), "text/plain", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.Code)
}
