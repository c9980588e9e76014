package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"jwstascii-lambda-updater/internal/config"
	"jwstascii-lambda-updater/pkg/logger"

	"github.com/google/uuid"
)

// Pipeline runs the packaging stages: build the distribution wheel, assemble
// the dependency layer, and compress the deployment archive. Every stage
// starts from a clean output directory; stale build state is never reused.
type Pipeline struct {
	cfg    config.PipelineConfig
	runner Runner
	logger *logger.Logger
	runID  string
}

// New creates a pipeline for the given configuration. A nil runner defaults
// to executing real commands.
func New(cfg config.PipelineConfig, runner Runner, log *logger.Logger) *Pipeline {
	if log == nil {
		log = logger.NewLogger(nil)
	}
	if runner == nil {
		runner = NewExecRunner(log)
	}

	runID := uuid.New().String()

	return &Pipeline{
		cfg:    cfg,
		runner: runner,
		logger: log.WithRunID(runID),
		runID:  runID,
	}
}

// RunID returns the unique identifier of this pipeline run.
func (p *Pipeline) RunID() string {
	return p.runID
}

// Build produces the wheel distribution artifact in the dist directory. Any
// previous dist directory is removed first.
func (p *Pipeline) Build(ctx context.Context) error {
	log := p.logger.WithStage("build")
	distDir := p.cfg.DistDir()

	log.Info().
		Str("dist_dir", distDir).
		Msg("Building distribution artifact")

	if err := recreateDir(distDir); err != nil {
		return fmt.Errorf("failed to prepare dist directory: %w", err)
	}

	if err := p.runCommand(ctx, p.cfg.BuildCommand, ""); err != nil {
		return fmt.Errorf("build failed: %w", err)
	}

	log.Info().
		Str("dist_dir", distDir).
		Msg("Distribution artifact built")

	return nil
}

// BuildLayer assembles the dependency staging directory: installs the
// declared runtime dependencies, installs the wheel produced by Build, and
// prunes the excluded image-library packages. Safe to re-run; always starts
// from an empty layer directory.
func (p *Pipeline) BuildLayer(ctx context.Context) error {
	log := p.logger.WithStage("build_layer")
	layerDir := p.cfg.LayerDir()

	wheel, err := p.findWheel()
	if err != nil {
		return err
	}

	log.Info().
		Str("layer_dir", layerDir).
		Str("wheel", wheel).
		Msg("Assembling layer directory")

	if err := recreateDir(layerDir); err != nil {
		return fmt.Errorf("failed to prepare layer directory: %w", err)
	}

	if err := p.runCommand(ctx, p.cfg.InstallCommand, wheel); err != nil {
		return fmt.Errorf("dependency install failed: %w", err)
	}

	if err := p.runCommand(ctx, p.cfg.WheelInstallCommand, wheel); err != nil {
		return fmt.Errorf("wheel install failed: %w", err)
	}

	removed, err := pruneExcluded(layerDir, p.cfg.ExcludedPackages)
	if err != nil {
		return fmt.Errorf("failed to prune excluded packages: %w", err)
	}

	log.Info().
		Str("layer_dir", layerDir).
		Strs("pruned", removed).
		Msg("Layer directory assembled")

	return nil
}

// Package copies the entry-point script into the layer root and compresses
// the layer contents into the deployment archive. A stale archive at the
// target path is removed before packaging begins.
func (p *Pipeline) Package(ctx context.Context) error {
	log := p.logger.WithStage("package")
	layerDir := p.cfg.LayerDir()
	archivePath := p.cfg.ArchivePath()

	if _, err := os.Stat(layerDir); err != nil {
		return fmt.Errorf("layer directory missing, run build_layer first: %w", err)
	}

	entryName := filepath.Base(p.cfg.EntryPoint)
	if err := copyFile(p.cfg.EntryPoint, filepath.Join(layerDir, entryName)); err != nil {
		return fmt.Errorf("failed to copy entry point: %w", err)
	}

	if err := os.Remove(archivePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove stale archive: %w", err)
	}

	if err := createArchive(layerDir, archivePath, log); err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}

	log.Info().
		Str("archive", archivePath).
		Str("entry_point", entryName).
		Msg("Deployment archive created")

	return nil
}

// Package depends on Build and BuildLayer; Run executes all three in order.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.Build(ctx); err != nil {
		return err
	}
	if err := p.BuildLayer(ctx); err != nil {
		return err
	}
	return p.Package(ctx)
}

// runCommand executes a stage command template, bounding its runtime by the
// configured command timeout.
func (p *Pipeline) runCommand(ctx context.Context, template, wheel string) error {
	if p.cfg.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.CommandTimeout)
		defer cancel()
	}

	name, args := p.command(template, wheel)
	return p.runner.Run(ctx, name, args...)
}

// command expands the configured placeholders and splits the result into an
// executable name and its arguments.
func (p *Pipeline) command(template, wheel string) (string, []string) {
	expanded := strings.NewReplacer(
		"{artifacts}", p.cfg.ArtifactsDir,
		"{dist}", p.cfg.DistDir(),
		"{layer}", p.cfg.LayerDir(),
		"{requirements}", p.cfg.RequirementsFile,
		"{wheel}", wheel,
	).Replace(template)

	fields := strings.Fields(expanded)
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], fields[1:]
}

// findWheel locates the distribution artifact produced by Build.
func (p *Pipeline) findWheel() (string, error) {
	matches, err := filepath.Glob(filepath.Join(p.cfg.DistDir(), "*.whl"))
	if err != nil {
		return "", fmt.Errorf("failed to scan dist directory: %w", err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no wheel found in %s, run build first", p.cfg.DistDir())
	}

	// Builds are clean, so a single wheel is expected; take the newest if
	// a tool ever leaves more than one.
	wheel := matches[0]
	var newest int64
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		if mod := info.ModTime().UnixNano(); mod > newest {
			newest = mod
			wheel = m
		}
	}

	return wheel, nil
}

// pruneExcluded deletes the excluded package directories from the layer.
// An entry is pruned when it matches an excluded name exactly or is a
// versioned companion of it (for example Pillow-10.1.0.dist-info).
func pruneExcluded(layerDir string, excluded []string) ([]string, error) {
	entries, err := os.ReadDir(layerDir)
	if err != nil {
		return nil, err
	}

	var removed []string
	for _, entry := range entries {
		if !matchesExcluded(entry.Name(), excluded) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(layerDir, entry.Name())); err != nil {
			return removed, err
		}
		removed = append(removed, entry.Name())
	}

	return removed, nil
}

func matchesExcluded(name string, excluded []string) bool {
	lower := strings.ToLower(name)
	for _, pattern := range excluded {
		p := strings.ToLower(pattern)
		if lower == p || strings.HasPrefix(lower, p+"-") {
			return true
		}
	}
	return false
}

// recreateDir removes dir if present and creates it empty.
func recreateDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}

	return out.Close()
}
