package main

import (
    "context"
    "fmt"
    "net/http"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/joho/godotenv"
    "github.com/rs/zerolog/log"

    "github.com/local/pdfbridge/internal/artifact"
    cfgpkg "github.com/local/pdfbridge/internal/config"
    "github.com/local/pdfbridge/internal/converter"
    "github.com/local/pdfbridge/internal/history"
    logpkg "github.com/local/pdfbridge/internal/logger"
    "github.com/local/pdfbridge/internal/metrics"
    "github.com/local/pdfbridge/internal/orchestrator"
    "github.com/local/pdfbridge/internal/record"
    "github.com/local/pdfbridge/internal/scheduler"
)

func main() {
    _ = godotenv.Load()
    cfg := cfgpkg.FromEnv()

    // Init logging
    _ = logpkg.Init(logpkg.Options{
        Level: cfg.Logging.Level,
        Pretty: cfg.Logging.Pretty,
        File: cfg.Logging.File,
        MaxSizeMB: cfg.Logging.MaxSizeMB,
        MaxBackups: cfg.Logging.MaxBackups,
        MaxAgeDays: cfg.Logging.MaxAgeDays,
        Compress: cfg.Logging.Compress,
        SendToAxiom: cfg.Axiom.Send && cfg.Axiom.APIKey != "",
        AxiomAPIKey: cfg.Axiom.APIKey,
        AxiomOrgID: cfg.Axiom.OrgID,
        AxiomDataset: cfg.Axiom.Dataset,
        AxiomFlush: cfg.Axiom.FlushInterval,
    })
    defer logpkg.Close()

    metrics.Init()

    // Record store: redis when configured, in-memory otherwise
    var records record.Store
    if cfg.Database.RedisURL != "" {
        rs, err := record.NewRedisStore(cfg.Database.RedisURL)
        if err != nil { log.Fatal().Err(err).Msg("failed to connect to redis") }
        records = rs
    } else {
        log.Warn().Msg("REDIS_URL not set, conversion records held in memory only")
        records = record.NewMemoryStore()
    }
    defer records.Close()

    // Artifact store (uploaded/ and converted/ directories)
    artifacts, err := artifact.NewStore(cfg.Storage.UploadDir, cfg.Storage.ConvertedDir)
    if err != nil { log.Fatal().Err(err).Msg("failed to init artifact directories") }

    // Optional S3 mirror for converted output
    var mirror orchestrator.Mirrorer
    var mirrorDel scheduler.MirrorDeleter
    if cfg.Storage.S3Bucket != "" {
        m, err := artifact.NewMirror(context.Background(), artifact.MirrorOptions{
            Bucket:     cfg.Storage.S3Bucket,
            Region:     cfg.Storage.S3Region,
            AccessKey:  cfg.Storage.S3AccessKey,
            SecretKey:  cfg.Storage.S3SecretKey,
            Passphrase: cfg.Storage.S3Passphrase,
        })
        if err != nil { log.Fatal().Err(err).Msg("failed to init s3 mirror") }
        mirror, mirrorDel = m, m
        log.Info().Str("bucket", cfg.Storage.S3Bucket).Msg("s3 mirroring enabled")
    }

    // Converter: fail fast when LibreOffice is missing
    lo := converter.NewLibreOffice(cfg.Converter.MaxWorkers, cfg.Converter.Timeout)
    if err := lo.Initialize(); err != nil {
        log.Fatal().Err(err).Msg("libreoffice not available")
    }
    images := converter.NewImageMerger()

    // Retention scheduler: tasks live in process memory, a restart strands
    // whatever was pending
    sched := scheduler.New(scheduler.Options{
        Artifacts: artifacts,
        Records:   records,
        Mirror:    mirrorDel,
    })
    defer sched.Close()

    hist := history.New(records, history.AnonMode(cfg.Retention.AnonymousHistory))

    orch := orchestrator.New(orchestrator.Dependencies{
        Records:   records,
        Artifacts: artifacts,
        Docs:      lo,
        Images:    images,
        Cleaner:   sched,
        History:   hist,
        Mirror:    mirror,
    }, orchestrator.Options{
        Retention:      cfg.Retention.Window,
        ConvertTimeout: cfg.Converter.Timeout,
        MaxFiles:       cfg.Upload.MaxFiles,
        MaxFileSize:    int64(cfg.Upload.MaxFileSizeMB) << 20,
    })

    mux := http.NewServeMux()
    orch.RegisterRoutes(mux)
    mux.Handle("/metrics", metrics.Handler())

    srv := &http.Server{Addr: ":" + cfg.Server.Port, Handler: mux}

    go func() {
        log.Info().Msgf("HTTP server listening on :%s", cfg.Server.Port)
        if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
            log.Fatal().Err(err).Msg("http server error")
        }
    }()

    // Graceful shutdown
    stop := make(chan os.Signal, 1)
    signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
    <-stop
    ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
    defer cancel()
    _ = srv.Shutdown(ctx)
    fmt.Println("shutdown complete")
}
