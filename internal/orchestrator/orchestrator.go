package orchestrator

import (
    "context"
    "path/filepath"
    "strings"
    "time"

    "github.com/google/uuid"
    "github.com/rs/zerolog/log"

    "github.com/local/pdfbridge/internal/artifact"
    "github.com/local/pdfbridge/internal/converter"
    "github.com/local/pdfbridge/internal/metrics"
    "github.com/local/pdfbridge/internal/record"
    "github.com/local/pdfbridge/internal/scheduler"
)

// DocumentConverter turns one office document into one PDF.
type DocumentConverter interface {
    ConvertToPDF(job converter.Job) converter.Result
}

// ImageMerger composites a set of images into a single PDF.
type ImageMerger interface {
    MergeToPDF(inputPaths []string, outputPath string) converter.Result
}

// Cleaner registers deferred cleanup of artifacts and records.
type Cleaner interface {
    Schedule(task scheduler.Task) (*scheduler.Handle, error)
}

// Mirrorer keeps off-host copies of converted artifacts and serves them back
// while the record is still live. Optional.
type Mirrorer interface {
    Put(ctx context.Context, path string) error
    Fetch(ctx context.Context, name string) ([]byte, error)
}

// HistoryLister answers history queries, applying the anonymous-access policy.
type HistoryLister interface {
    ListForOwner(ctx context.Context, ownerID string) ([]record.Record, error)
}

type Dependencies struct {
    Records   record.Store
    Artifacts *artifact.Store
    Docs      DocumentConverter
    Images    ImageMerger
    Cleaner   Cleaner
    History   HistoryLister
    Mirror    Mirrorer // nil disables mirroring

    // Verify checks a produced PDF. Nil selects converter.VerifyPDF.
    Verify func(path string) error
}

type Options struct {
    Retention      time.Duration
    ConvertTimeout time.Duration
    MaxFiles       int
    MaxFileSize    int64 // bytes
    Now            func() time.Time
}

// Orchestrator drives the upload-convert-record-schedule pipeline and owns
// the HTTP surface around it.
type Orchestrator struct {
    deps      Dependencies
    retention time.Duration
    timeout   time.Duration
    maxFiles  int
    maxSize   int64
    now       func() time.Time
}

func New(deps Dependencies, opts Options) *Orchestrator {
    now := opts.Now
    if now == nil { now = time.Now }
    if deps.Verify == nil { deps.Verify = converter.VerifyPDF }
    return &Orchestrator{
        deps:      deps,
        retention: opts.Retention,
        timeout:   opts.ConvertTimeout,
        maxFiles:  opts.MaxFiles,
        maxSize:   opts.MaxFileSize,
        now:       now,
    }
}

// Upload is one saved input file: the name the client sent and the
// disambiguated path it was stored under.
type Upload struct {
    OriginalName string
    Path         string
}

// Converted points at one output artifact and the record describing it.
type Converted struct {
    RecordID string
    Filename string // base name under the converted directory
}

// ConvertDocuments converts each upload to its own PDF, strictly in input
// order. A failure on file i aborts the rest of the batch; outputs already
// produced keep their records and cleanup tasks and are not rolled back.
func (o *Orchestrator) ConvertDocuments(ctx context.Context, ownerID string, uploads []Upload) ([]Converted, error) {
    if len(uploads) == 0 {
        return nil, inputErr("no files uploaded")
    }
    results := make([]Converted, 0, len(uploads))
    for _, up := range uploads {
        outPath := o.deps.Artifacts.ConvertedPath(replaceExt(up.OriginalName, ".pdf"))
        start := o.now()
        res := o.deps.Docs.ConvertToPDF(converter.Job{InputPath: up.Path, OutputPath: outPath, Timeout: o.timeout})
        if !res.Success {
            metrics.ObserveConversion("docx", "error", time.Since(start))
            log.Error().Err(res.Error).Str("file", up.OriginalName).Int("converted_so_far", len(results)).Msg("document conversion failed, aborting batch")
            return results, convErr("conversion failed", res.Error)
        }
        if err := o.deps.Verify(outPath); err != nil {
            metrics.ObserveConversion("docx", "invalid", time.Since(start))
            return results, convErr("converted output failed verification", err)
        }
        metrics.ObserveConversion("docx", "ok", time.Since(start))

        conv, err := o.finish(ctx, ownerID, []string{up.OriginalName}, []Upload{up}, outPath)
        if err != nil { return results, err }
        results = append(results, conv)
    }
    return results, nil
}

// ConvertImagesToMerged composites every image onto its own page of one PDF,
// in input order, and persists a single record whose original name is the
// comma-joined list of input names.
func (o *Orchestrator) ConvertImagesToMerged(ctx context.Context, ownerID string, uploads []Upload) (Converted, error) {
    if len(uploads) == 0 {
        return Converted{}, inputErr("no files uploaded")
    }
    paths := make([]string, len(uploads))
    names := make([]string, len(uploads))
    for i, up := range uploads {
        paths[i] = up.Path
        names[i] = up.OriginalName
    }
    outPath := o.deps.Artifacts.ConvertedPath("merged.pdf")
    start := o.now()
    res := o.deps.Images.MergeToPDF(paths, outPath)
    if !res.Success {
        metrics.ObserveConversion("image", "error", time.Since(start))
        log.Error().Err(res.Error).Int("images", len(uploads)).Msg("image merge failed")
        return Converted{}, convErr("conversion failed", res.Error)
    }
    if err := o.deps.Verify(outPath); err != nil {
        metrics.ObserveConversion("image", "invalid", time.Since(start))
        return Converted{}, convErr("converted output failed verification", err)
    }
    metrics.ObserveConversion("image", "ok", time.Since(start))

    return o.finish(ctx, ownerID, names, uploads, outPath)
}

// finish persists the record, mirrors the output when configured, and
// registers cleanup: one task per source artifact, plus one task binding the
// converted artifact to the record.
func (o *Orchestrator) finish(ctx context.Context, ownerID string, names []string, sources []Upload, outPath string) (Converted, error) {
    now := o.now()
    rec := record.Record{
        ID:                uuid.NewString(),
        OriginalFilename:  record.JoinNames(names),
        ConvertedFilename: filepath.Base(outPath),
        OwnerID:           ownerID,
        Timestamp:         now,
    }
    if err := o.deps.Records.Create(ctx, rec); err != nil {
        return Converted{}, storageErr("saving conversion record", err)
    }
    if o.deps.Mirror != nil {
        if err := o.deps.Mirror.Put(ctx, outPath); err != nil {
            log.Warn().Err(err).Str("path", outPath).Msg("mirror upload failed")
        }
    }

    fireAt := now.Add(o.retention)
    for _, src := range sources {
        _, err := o.deps.Cleaner.Schedule(scheduler.Task{
            ID:        uuid.NewString(),
            Artifacts: []artifact.Ref{{Path: src.Path, Kind: artifact.KindUpload}},
            FireAt:    fireAt,
        })
        if err != nil { log.Error().Err(err).Str("path", src.Path).Msg("scheduling source cleanup failed") }
    }
    _, err := o.deps.Cleaner.Schedule(scheduler.Task{
        ID:        uuid.NewString(),
        RecordID:  rec.ID,
        Artifacts: []artifact.Ref{{Path: outPath, Kind: artifact.KindConverted}},
        FireAt:    fireAt,
    })
    if err != nil { log.Error().Err(err).Str("record_id", rec.ID).Msg("scheduling output cleanup failed") }

    log.Info().Str("record_id", rec.ID).Str("owner", ownerID).Str("converted", rec.ConvertedFilename).Time("purge_at", fireAt).Msg("conversion recorded")
    return Converted{RecordID: rec.ID, Filename: rec.ConvertedFilename}, nil
}

func replaceExt(name, ext string) string {
    base := filepath.Base(name)
    old := filepath.Ext(base)
    return strings.TrimSuffix(base, old) + ext
}
