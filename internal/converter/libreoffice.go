package converter

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// LibreOffice converts documents to PDF by shelling out to a headless
// LibreOffice. It is the opaque converter adapter for the document path.
type LibreOffice struct {
	maxWorkers int
	timeout    time.Duration
	semaphore  chan struct{}
}

// Job represents a document conversion job
type Job struct {
	InputPath  string
	OutputPath string
	Timeout    time.Duration
}

// Result represents the result of a conversion operation
type Result struct {
	Success    bool
	OutputPath string
	Error      error
	Duration   time.Duration
}

// NewLibreOffice creates a new LibreOffice converter instance
func NewLibreOffice(maxWorkers int, timeout time.Duration) *LibreOffice {
	if maxWorkers <= 0 {
		maxWorkers = 4
	}
	return &LibreOffice{
		maxWorkers: maxWorkers,
		timeout:    timeout,
		semaphore:  make(chan struct{}, maxWorkers),
	}
}

// Initialize verifies LibreOffice is installed and reachable.
func (l *LibreOffice) Initialize() error {
	cmd := exec.Command("libreoffice", "--version")
	output, err := cmd.Output()
	if err != nil {
		return fmt.Errorf("LibreOffice not found in PATH: %w", err)
	}
	log.Info().Str("version", strings.TrimSpace(string(output))).Int("max_workers", l.maxWorkers).Msg("LibreOffice converter ready")
	return nil
}

// ConvertToPDF converts a document to PDF format
func (l *LibreOffice) ConvertToPDF(job Job) Result {
	startTime := time.Now()

	// Acquire semaphore to limit concurrent conversions
	l.semaphore <- struct{}{}
	defer func() { <-l.semaphore }()

	log.Info().Str("input", job.InputPath).Str("output", job.OutputPath).Msg("starting conversion")

	if err := l.validateInput(job.InputPath); err != nil {
		return Result{
			Success:  false,
			Error:    fmt.Errorf("input validation failed: %v", err),
			Duration: time.Since(startTime),
		}
	}

	// Each conversion gets its own profile directory so parallel invocations
	// don't fight over the user installation lock.
	profileDir := filepath.Join(os.TempDir(), fmt.Sprintf("libreoffice_profile_%s", uuid.New().String()))
	if err := os.MkdirAll(profileDir, 0755); err != nil {
		return Result{
			Success:  false,
			Error:    fmt.Errorf("failed to create profile directory: %v", err),
			Duration: time.Since(startTime),
		}
	}
	defer os.RemoveAll(profileDir)

	outputDir := filepath.Dir(job.OutputPath)
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return Result{
			Success:  false,
			Error:    fmt.Errorf("failed to create output directory: %v", err),
			Duration: time.Since(startTime),
		}
	}

	cmd := exec.Command(
		"libreoffice",
		fmt.Sprintf("-env:UserInstallation=file://%s", profileDir),
		"--headless",
		"--convert-to", "pdf",
		"--outdir", outputDir,
		job.InputPath,
	)

	timeout := job.Timeout
	if timeout == 0 {
		timeout = l.timeout
	}
	if timeout == 0 {
		timeout = 180 * time.Second
	}

	log.Debug().Str("cmd", strings.Join(cmd.Args, " ")).Msg("LibreOffice command")

	done := make(chan error, 1)
	go func() {
		done <- cmd.Run()
	}()

	select {
	case err := <-done:
		if err != nil {
			return Result{
				Success:  false,
				Error:    fmt.Errorf("conversion failed: %v", err),
				Duration: time.Since(startTime),
			}
		}
	case <-time.After(timeout):
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
		return Result{
			Success:  false,
			Error:    fmt.Errorf("conversion timeout after %v", timeout),
			Duration: time.Since(startTime),
		}
	}

	// LibreOffice names the output after the input file; rename to the
	// requested destination.
	expectedOutput := l.getExpectedOutputPath(job.InputPath, outputDir)
	actualOutput := job.OutputPath

	if expectedOutput != actualOutput {
		if _, err := os.Stat(expectedOutput); err == nil {
			if err := os.Rename(expectedOutput, actualOutput); err != nil {
				log.Warn().Err(err).Str("from", expectedOutput).Str("to", actualOutput).Msg("failed to rename")
				actualOutput = expectedOutput
			}
		}
	}

	if _, err := os.Stat(actualOutput); err != nil {
		return Result{
			Success:  false,
			Error:    fmt.Errorf("output file not created: %v", err),
			Duration: time.Since(startTime),
		}
	}

	log.Info().Str("output", actualOutput).Dur("duration", time.Since(startTime)).Msg("conversion successful")

	return Result{
		Success:    true,
		OutputPath: actualOutput,
		Duration:   time.Since(startTime),
	}
}

// validateInput checks if the input file is readable
func (l *LibreOffice) validateInput(filePath string) error {
	info, err := os.Stat(filePath)
	if err != nil {
		return fmt.Errorf("file not found: %w", err)
	}

	if info.IsDir() {
		return fmt.Errorf("path is a directory, not a file")
	}

	if info.Size() == 0 {
		return fmt.Errorf("file is empty")
	}

	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("file not readable: %w", err)
	}
	file.Close()

	return nil
}

// getExpectedOutputPath calculates the path where LibreOffice will create the output file
func (l *LibreOffice) getExpectedOutputPath(inputPath, outputDir string) string {
	baseName := filepath.Base(inputPath)
	nameWithoutExt := strings.TrimSuffix(baseName, filepath.Ext(baseName))
	return filepath.Join(outputDir, nameWithoutExt+".pdf")
}
