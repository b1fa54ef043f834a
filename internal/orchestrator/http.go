package orchestrator

import (
    "encoding/json"
    "errors"
    "fmt"
    "mime/multipart"
    "net/http"
    "os"
    "path/filepath"
    "strings"

    "github.com/rs/zerolog/log"

    "github.com/local/pdfbridge/internal/converter"
    "github.com/local/pdfbridge/internal/metrics"
)

const ownerHeader = "X-User-ID"

func (o *Orchestrator) RegisterRoutes(mux *http.ServeMux) {
    mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); _, _ = w.Write([]byte("ok")) })
    mux.HandleFunc("/docxtopdf", o.handleDocxToPDF)
    mux.HandleFunc("/imagetopdf", o.handleImageToPDF)
    mux.HandleFunc("/history", o.handleHistory)
    mux.HandleFunc("/download/", o.handleDownload)
}

func (o *Orchestrator) handleDocxToPDF(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }
    uploads, err := o.collectUploads(w, r, "files", converter.AllowedDocumentExt, converter.CheckDocumentFile)
    if err != nil { o.writeErr(w, err); return }

    results, err := o.ConvertDocuments(r.Context(), r.Header.Get(ownerHeader), uploads)
    if err != nil { o.writeErr(w, err); return }

    o.writeDownloadList(w, results)
}

func (o *Orchestrator) handleImageToPDF(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }
    uploads, err := o.collectUploads(w, r, "images", converter.AllowedImageExt, converter.CheckImageFile)
    if err != nil { o.writeErr(w, err); return }

    result, err := o.ConvertImagesToMerged(r.Context(), r.Header.Get(ownerHeader), uploads)
    if err != nil { o.writeErr(w, err); return }

    o.writeDownloadList(w, []Converted{result})
}

// collectUploads validates the multipart batch against the count, size and
// extension limits, persists each part into the upload directory, then runs
// the content sniffer against the stored bytes. Any rejection removes what
// was already stored so a bad batch leaves nothing behind.
func (o *Orchestrator) collectUploads(w http.ResponseWriter, r *http.Request, field string, extAllowed func(string) bool, sniff func(string) error) ([]Upload, error) {
    r.Body = http.MaxBytesReader(w, r.Body, int64(o.maxFiles)*o.maxSize+(1<<20))
    if err := r.ParseMultipartForm(32 << 20); err != nil {
        metrics.IncRejected("malformed")
        return nil, inputErr("invalid multipart form")
    }
    headers := r.MultipartForm.File[field]
    if len(headers) == 0 {
        metrics.IncRejected("empty")
        return nil, inputErr("No files uploaded.")
    }
    if len(headers) > o.maxFiles {
        metrics.IncRejected("too_many")
        return nil, inputErrf("too many files: limit is %d per request", o.maxFiles)
    }
    for _, hdr := range headers {
        if hdr.Size > o.maxSize {
            metrics.IncRejected("too_large")
            return nil, inputErrf("file %s exceeds the %d MB limit", hdr.Filename, o.maxSize>>20)
        }
        if !extAllowed(hdr.Filename) {
            metrics.IncRejected("extension")
            return nil, inputErrf("file type %s is not allowed", strings.ToLower(filepath.Ext(hdr.Filename)))
        }
    }

    uploads := make([]Upload, 0, len(headers))
    cleanup := func() {
        for _, up := range uploads { _ = o.deps.Artifacts.Remove(up.Path) }
    }
    for _, hdr := range headers {
        path, err := o.saveOne(hdr)
        if err != nil {
            cleanup()
            return nil, storageErr("storing upload", err)
        }
        uploads = append(uploads, Upload{OriginalName: hdr.Filename, Path: path})
        if err := sniff(path); err != nil {
            metrics.IncRejected("content")
            cleanup()
            return nil, inputErrf("file %s: %v", hdr.Filename, err)
        }
    }
    return uploads, nil
}

func (o *Orchestrator) saveOne(hdr *multipart.FileHeader) (string, error) {
    f, err := hdr.Open()
    if err != nil { return "", err }
    defer f.Close()
    return o.deps.Artifacts.SaveUpload(hdr.Filename, f)
}

func (o *Orchestrator) handleHistory(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
    records, err := o.deps.History.ListForOwner(r.Context(), r.Header.Get(ownerHeader))
    if err != nil { o.writeErr(w, storageErr("listing history", err)); return }
    w.Header().Set("Content-Type", "application/json")
    _ = json.NewEncoder(w).Encode(records)
}

func (o *Orchestrator) handleDownload(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
    name := strings.TrimPrefix(r.URL.Path, "/download/")
    if name == "" { http.Error(w, "missing filename", http.StatusBadRequest); return }

    path, err := o.deps.Artifacts.ResolveDownload(name)
    if err == nil {
        f, oerr := o.deps.Artifacts.Open(path)
        if oerr != nil { http.Error(w, "file not found", http.StatusNotFound); return }
        defer f.Close()
        info, serr := f.Stat()
        if serr != nil { http.Error(w, "file not found", http.StatusNotFound); return }
        w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
        http.ServeContent(w, r, filepath.Base(path), info.ModTime(), f)
        return
    }
    // local copy gone but the name is valid: the mirror may still hold it
    // within the retention window
    if errors.Is(err, os.ErrNotExist) && o.deps.Mirror != nil {
        if data, ferr := o.deps.Mirror.Fetch(r.Context(), name); ferr == nil {
            w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
            _, _ = w.Write(data)
            return
        }
    }
    http.Error(w, "file not found", http.StatusNotFound)
}

func (o *Orchestrator) writeDownloadList(w http.ResponseWriter, results []Converted) {
    links := make([]string, len(results))
    for i, res := range results { links[i] = "/download/" + res.Filename }
    w.Header().Set("Content-Type", "application/json")
    w.WriteHeader(http.StatusOK)
    _ = json.NewEncoder(w).Encode(links)
}

func (o *Orchestrator) writeErr(w http.ResponseWriter, err error) {
    var in *InputError
    if errors.As(err, &in) {
        http.Error(w, in.Msg, http.StatusBadRequest)
        return
    }
    var ce *ConversionError
    if errors.As(err, &ce) {
        log.Error().Err(ce.Err).Msg(ce.Msg)
        http.Error(w, "Conversion failed.", http.StatusInternalServerError)
        return
    }
    log.Error().Err(err).Msg("request failed")
    http.Error(w, "Server Error", http.StatusInternalServerError)
}
