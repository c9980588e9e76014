package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the application
type Config struct {
	Pipeline PipelineConfig
	CI       CIConfig
	S3       S3Config
	Lambda   LambdaConfig
	Git      GitConfig
	Scraper  ScraperConfig
	Ascii    AsciiConfig
}

// PipelineConfig drives the build/layer/package stages. Command strings may
// reference {dist}, {layer}, {wheel}, {requirements} and {artifacts}
// placeholders, resolved at execution time.
type PipelineConfig struct {
	ArtifactsDir        string
	ArchiveName         string
	EntryPoint          string
	RequirementsFile    string
	ExcludedPackages    []string
	BuildCommand        string
	InstallCommand      string
	WheelInstallCommand string
	CommandTimeout      time.Duration
}

// CIConfig describes the test-and-package and deploy jobs.
type CIConfig struct {
	Branch          string
	MainBranch      string
	WorkspaceDir    string
	TestCommand     string
	CoverageCommand string
}

type S3Config struct {
	AccessKey  string
	SecretKey  string
	Region     string
	Bucket     string
	ArchiveKey string
}

type LambdaConfig struct {
	FunctionName string
	Region       string
}

type GitConfig struct {
	RepoURL      string
	Branch       string
	AuthorName   string
	AuthorEmail  string
	SSHKeySecret string
}

type ScraperConfig struct {
	GalleryURL  string
	MaxRetries  int
	HTTPTimeout time.Duration
}

type AsciiConfig struct {
	Columns int
	Charset string
}

// Load creates a Config instance from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Pipeline: loadPipelineConfig(),
		CI:       loadCIConfig(),
		S3:       loadS3Config(),
		Lambda:   loadLambdaConfig(),
		Git:      loadGitConfig(),
		Scraper:  loadScraperConfig(),
		Ascii:    loadAsciiConfig(),
	}

	return cfg, nil
}

func loadPipelineConfig() PipelineConfig {
	return PipelineConfig{
		ArtifactsDir:        getEnvOrDefault("ARTIFACTS_DIR", "build"),
		ArchiveName:         getEnvOrDefault("PIPELINE_ARCHIVE_NAME", "jwstascii-lambda-updater.zip"),
		EntryPoint:          getEnvOrDefault("PIPELINE_ENTRY_POINT", filepath.Join("functions", "lambda_function.py")),
		RequirementsFile:    getEnvOrDefault("PIPELINE_REQUIREMENTS", "requirements.txt"),
		ExcludedPackages:    getEnvListOrDefault("PIPELINE_EXCLUDED_PACKAGES", []string{"PIL", "Pillow.libs"}),
		BuildCommand:        getEnvOrDefault("PIPELINE_BUILD_CMD", "python -m build --wheel --outdir {dist} ."),
		InstallCommand:      getEnvOrDefault("PIPELINE_INSTALL_CMD", "pip install -r {requirements} --target {layer}"),
		WheelInstallCommand: getEnvOrDefault("PIPELINE_WHEEL_INSTALL_CMD", "pip install --no-deps --target {layer} {wheel}"),
		CommandTimeout:      getEnvDurationOrDefault("PIPELINE_COMMAND_TIMEOUT", 10*time.Minute),
	}
}

func loadCIConfig() CIConfig {
	// CIRCLE_BRANCH is set by the CI platform; GIT_BRANCH is the local override
	branch := getEnvOrDefault("CIRCLE_BRANCH", getEnvOrDefault("GIT_BRANCH", ""))

	return CIConfig{
		Branch:          branch,
		MainBranch:      getEnvOrDefault("CI_MAIN_BRANCH", "main"),
		WorkspaceDir:    getEnvOrDefault("CI_WORKSPACE_DIR", "workspace"),
		TestCommand:     getEnvOrDefault("CI_TEST_CMD", "go test ./... -coverprofile {artifacts}/coverage.out"),
		CoverageCommand: getEnvOrDefault("CI_COVERAGE_CMD", ""),
	}
}

func loadS3Config() S3Config {
	return S3Config{
		AccessKey:  getEnvOrDefault("AWS_ACCESS_KEY_ID", ""),
		SecretKey:  getEnvOrDefault("AWS_SECRET_ACCESS_KEY", ""),
		Region:     getEnvOrDefault("AWS_DEFAULT_REGION", "us-east-1"),
		Bucket:     getEnvOrDefault("AWS_S3_BUCKET", "jwstascii-lambda-updater"),
		ArchiveKey: getEnvOrDefault("AWS_S3_ARCHIVE_KEY", "jwstascii-lambda-updater"),
	}
}

func loadLambdaConfig() LambdaConfig {
	return LambdaConfig{
		FunctionName: getEnvOrDefault("AWS_LAMBDA_FUNCTION", "jwstascii-lambda-updater"),
		Region:       getEnvOrDefault("AWS_DEFAULT_REGION", "us-east-1"),
	}
}

func loadGitConfig() GitConfig {
	return GitConfig{
		RepoURL:      getEnvOrDefault("SITE_REPO_URL", ""),
		Branch:       getEnvOrDefault("SITE_REPO_BRANCH", "main"),
		AuthorName:   getEnvOrDefault("GIT_AUTHOR_NAME", "jwstascii-bot"),
		AuthorEmail:  getEnvOrDefault("GIT_AUTHOR_EMAIL", ""),
		SSHKeySecret: getEnvOrDefault("GIT_SSH_KEY_SECRET", ""),
	}
}

func loadScraperConfig() ScraperConfig {
	return ScraperConfig{
		GalleryURL:  getEnvOrDefault("JWST_GALLERY_URL", "https://webbtelescope.org/resource-gallery/images"),
		MaxRetries:  getEnvIntOrDefault("SCRAPER_MAX_RETRIES", 5),
		HTTPTimeout: getEnvDurationOrDefault("SCRAPER_HTTP_TIMEOUT", 30*time.Second),
	}
}

func loadAsciiConfig() AsciiConfig {
	return AsciiConfig{
		Columns: getEnvIntOrDefault("ASCII_NUM_COLUMNS", 200),
		Charset: getEnvOrDefault("ASCII_CHARSET", "@%#*+=-:. "),
	}
}

// ArchivePath returns the full path of the deployment archive.
func (p PipelineConfig) ArchivePath() string {
	return filepath.Join(p.ArtifactsDir, p.ArchiveName)
}

// DistDir returns the wheel output directory.
func (p PipelineConfig) DistDir() string {
	return filepath.Join(p.ArtifactsDir, "dist")
}

// LayerDir returns the dependency staging directory.
func (p PipelineConfig) LayerDir() string {
	return filepath.Join(p.ArtifactsDir, "layer")
}

// Helper functions for environment variables
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	strValue := getEnvOrDefault(key, "")
	if strValue == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(strValue)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvListOrDefault(key string, defaultValue []string) []string {
	strValue := getEnvOrDefault(key, "")
	if strValue == "" {
		return defaultValue
	}

	parts := strings.Split(strValue, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	strValue := getEnvOrDefault(key, "")
	if strValue == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(strValue)
	if err != nil {
		return defaultValue
	}
	return value
}
