package updater

import (
	"context"
	"fmt"
	"html/template"
	"path"
	"path/filepath"
	"strings"
	"time"

	"jwstascii-lambda-updater/internal/gitrepo"
	"jwstascii-lambda-updater/internal/site"
	"jwstascii-lambda-updater/pkg/logger"
)

// Event is the trigger payload for the updater function.
type Event struct {
	KeyName            string   `json:"key_name"`
	RepoURL            string   `json:"repo_url"`
	GitBranch          string   `json:"git_branch"`
	TempDir            string   `json:"temp_dir"`
	IgnoreRegex        []string `json:"ignore_regex"`
	AsciiArtNumColumns int      `json:"ascii_art_num_columns"`
	S3Bucket           string   `json:"s3_bucket"`
	TestURL            string   `json:"test_url"`
	GitAuthor          string   `json:"git_author"`
	GitEmail           string   `json:"git_email"`
}

// ImageInfo carries the metadata scraped from a JWST image page.
type ImageInfo struct {
	Title       string
	Description string
	Credits     string
	DownloadURL string
	PageURL     string
}

// Gallery is the scraping surface the handler depends on.
type Gallery interface {
	Reset()
	NextGalleryPage(ctx context.Context) error
	ImageLinks(ignorePatterns []string) ([]string, error)
	GetWithRetries(ctx context.Context, url string) (string, error)
	ImageTitle(pageHTML string) (string, error)
	ImageDescription(pageHTML string) (string, error)
	ImageCredits(pageHTML string) (string, error)
	ImageDownloadURL(pageHTML string) (string, error)
	DownloadImage(ctx context.Context, url, destDir string) (string, error)
}

// Publisher is the git surface the handler depends on.
type Publisher interface {
	SetSSHKeyFromSecrets(ctx context.Context, secrets gitrepo.SecretFetcher, secretName, keyPath string) error
	Clone(ctx context.Context, url, path string) error
	CheckoutBranch(branch string) error
	Add(files, ignore []string) error
	Commit(message, author, email string) error
	Push(ctx context.Context) error
	Dir() string
}

// ImageStore uploads rendered images to the site bucket.
type ImageStore interface {
	UploadFile(ctx context.Context, key, filePath string) error
}

// ConvertFunc renders an image file as ASCII art.
type ConvertFunc func(imagePath string, columns int, charset string, outputPath string) error

// Handler runs the daily site update: pick an unused JWST image, render it
// as ASCII art, upload it, regenerate the site pages and push the result.
type Handler struct {
	scraper  Gallery
	repo     Publisher
	secrets  gitrepo.SecretFetcher
	newStore func(ctx context.Context, bucket string) (ImageStore, error)
	convert  ConvertFunc
	charset  string
	now      func() time.Time
	logger   *logger.Logger
}

// NewHandler wires a handler from its collaborators.
func NewHandler(
	scraper Gallery,
	repo Publisher,
	secrets gitrepo.SecretFetcher,
	newStore func(ctx context.Context, bucket string) (ImageStore, error),
	convert ConvertFunc,
	charset string,
	log *logger.Logger,
) *Handler {
	if log == nil {
		log = logger.NewLogger(nil)
	}

	return &Handler{
		scraper:  scraper,
		repo:     repo,
		secrets:  secrets,
		newStore: newStore,
		convert:  convert,
		charset:  charset,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   log,
	}
}

// Handle performs one full update run.
func (h *Handler) Handle(ctx context.Context, event Event) error {
	if err := h.prepareRepo(ctx, event); err != nil {
		return err
	}
	repoDir := h.repo.Dir()

	info, err := h.newImageInfo(ctx, event.IgnoreRegex, repoDir)
	if err != nil {
		return err
	}

	imageFileName, err := h.addNewImage(ctx, info.DownloadURL, event)
	if err != nil {
		return err
	}

	today := h.now().Truncate(24 * time.Hour)
	newPageDir := site.PagePath(today)
	newPagePath := path.Join(newPageDir, "index.html")

	// The previous page date must be read before the index is rewritten.
	previousDate, err := site.CurrentPageDate(filepath.Join(repoDir, "index.html"))
	if err != nil {
		return fmt.Errorf("failed to read current page date: %w", err)
	}
	previousPagePath := path.Join(site.PagePath(previousDate), "index.html")

	if event.TestURL != "" {
		info.PageURL = event.TestURL
	}

	err = site.GenerateNewPage(filepath.Join(repoDir, newPagePath), site.NewPageVars{
		TitleDate:         site.TitleDate(today),
		TomorrowDate:      site.LinkDate(today.AddDate(0, 0, 1)),
		TodayDate:         site.LinkDate(today),
		PreviousPath:      "/" + previousPagePath,
		PreviousDate:      site.LinkDate(previousDate),
		ImageTitle:        info.Title,
		ImagePath:         "/images/" + imageFileName,
		LinkToJWSTWebsite: info.PageURL,
		ImageCredits:      info.Credits,
		ImageDescription:  template.HTML(info.Description),
	})
	if err != nil {
		return err
	}

	if err := site.GenerateMainIndex(filepath.Join(repoDir, "index.html"), info.Title, "/"+newPageDir); err != nil {
		return err
	}

	if err := site.UpdatePriorPage(filepath.Join(repoDir, previousPagePath), "/"+newPagePath, today); err != nil {
		return err
	}

	err = site.UpdateArchive(filepath.Join(repoDir, "archive"), "/"+newPageDir, today, info.Title, info.PageURL)
	if err != nil {
		return err
	}

	return h.pushRepo(ctx, today, event.GitAuthor, event.GitEmail)
}

// prepareRepo clones and prepares the website repository.
func (h *Handler) prepareRepo(ctx context.Context, event Event) error {
	if event.KeyName != "" {
		keyPath := filepath.Join(event.TempDir, "id_rsa")
		if err := h.repo.SetSSHKeyFromSecrets(ctx, h.secrets, event.KeyName, keyPath); err != nil {
			return err
		}
	}

	if err := h.repo.Clone(ctx, event.RepoURL, filepath.Join(event.TempDir, "jwstascii")); err != nil {
		return err
	}

	return h.repo.CheckoutBranch(event.GitBranch)
}

// newImageInfo scrapes the metadata of the next unused image. When the
// gallery is exhausted, previously used images become eligible again.
func (h *Handler) newImageInfo(ctx context.Context, ignoreRegex []string, repoDir string) (*ImageInfo, error) {
	url, err := h.nextImageURL(ctx, ignoreRegex, repoDir, false)
	if err != nil {
		return nil, err
	}
	if url == "" {
		// The first pass walked past the last gallery page; rewind before
		// retrying with archived images eligible again.
		h.scraper.Reset()
		url, err = h.nextImageURL(ctx, ignoreRegex, repoDir, true)
		if err != nil {
			return nil, err
		}
	}
	if url == "" {
		return nil, fmt.Errorf("no image available in gallery")
	}

	pageHTML, err := h.scraper.GetWithRetries(ctx, url)
	if err != nil {
		return nil, err
	}

	title, err := h.scraper.ImageTitle(pageHTML)
	if err != nil {
		return nil, err
	}
	description, err := h.scraper.ImageDescription(pageHTML)
	if err != nil {
		return nil, err
	}
	credits, err := h.scraper.ImageCredits(pageHTML)
	if err != nil {
		return nil, err
	}
	downloadURL, err := h.scraper.ImageDownloadURL(pageHTML)
	if err != nil {
		return nil, err
	}

	h.logger.Info().
		Str("title", title).
		Str("page_url", url).
		Msg("Selected new image")

	return &ImageInfo{
		Title:       title,
		Description: description,
		Credits:     credits,
		DownloadURL: downloadURL,
		PageURL:     url,
	}, nil
}

// nextImageURL walks gallery pages until it finds an image the archive has
// not used yet. An empty result means the gallery is exhausted.
func (h *Handler) nextImageURL(ctx context.Context, ignoreRegex []string, repoDir string, ignoreArchiveLinks bool) (string, error) {
	for {
		if err := h.scraper.NextGalleryPage(ctx); err != nil {
			return "", err
		}

		// No links at all means there are no more pages to search.
		all, err := h.scraper.ImageLinks(nil)
		if err != nil {
			return "", err
		}
		if len(all) == 0 {
			return "", nil
		}

		links, err := h.scraper.ImageLinks(ignoreRegex)
		if err != nil {
			return "", err
		}

		used := make(map[string]bool)
		if !ignoreArchiveLinks {
			archived, err := site.ArchiveLinks(filepath.Join(repoDir, "archive"))
			if err != nil {
				return "", err
			}
			for _, link := range archived {
				used[link] = true
			}
		}

		for _, link := range links {
			if !used[link] {
				return link, nil
			}
		}
	}
}

// addNewImage downloads the image, renders it as ASCII art and uploads the
// result to the website bucket. Returns the uploaded file name.
func (h *Handler) addNewImage(ctx context.Context, imageURL string, event Event) (string, error) {
	name, err := h.scraper.DownloadImage(ctx, imageURL, event.TempDir)
	if err != nil {
		return "", err
	}

	lower := strings.ToLower(name)
	if !strings.HasSuffix(lower, ".tif") && !strings.HasSuffix(lower, ".png") {
		return "", fmt.Errorf("could not find suitable image in directory: %s", event.TempDir)
	}

	// The renderer always emits PNG.
	outName := strings.TrimSuffix(name, filepath.Ext(name)) + ".png"
	outPath := filepath.Join(event.TempDir, outName)

	if err := h.convert(filepath.Join(event.TempDir, name), event.AsciiArtNumColumns, h.charset, outPath); err != nil {
		return "", fmt.Errorf("failed to convert image: %w", err)
	}

	store, err := h.newStore(ctx, event.S3Bucket)
	if err != nil {
		return "", err
	}

	if err := store.UploadFile(ctx, path.Join("images", outName), outPath); err != nil {
		return "", err
	}

	return outName, nil
}

// pushRepo stages, commits and pushes the regenerated site.
func (h *Handler) pushRepo(ctx context.Context, pageDate time.Time, author, email string) error {
	if err := h.repo.Add(nil, nil); err != nil {
		return err
	}

	message := fmt.Sprintf("Created new page for %s", pageDate.Format("02 Jan 2006"))
	if err := h.repo.Commit(message, author, email); err != nil {
		return err
	}

	return h.repo.Push(ctx)
}
