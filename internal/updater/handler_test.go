package updater

import (
	"context"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"jwstascii-lambda-updater/internal/gitrepo"
	"jwstascii-lambda-updater/internal/site"
	"jwstascii-lambda-updater/pkg/logger"
)

type fakeGallery struct {
	pages       [][]string
	page        int
	ignored     map[string]bool
	imageName   string
	downloadErr error
}

func (g *fakeGallery) Reset() {
	g.page = 0
}

func (g *fakeGallery) NextGalleryPage(ctx context.Context) error {
	g.page++
	return nil
}

func (g *fakeGallery) ImageLinks(ignorePatterns []string) ([]string, error) {
	if g.page > len(g.pages) {
		return nil, nil
	}
	links := g.pages[g.page-1]
	if len(ignorePatterns) == 0 {
		return links, nil
	}
	var kept []string
	for _, link := range links {
		if !g.ignored[link] {
			kept = append(kept, link)
		}
	}
	return kept, nil
}

func (g *fakeGallery) GetWithRetries(ctx context.Context, url string) (string, error) {
	return "page html for " + url, nil
}

func (g *fakeGallery) ImageTitle(pageHTML string) (string, error) {
	return "Phantom Galaxy", nil
}

func (g *fakeGallery) ImageDescription(pageHTML string) (string, error) {
	return "<p>A <a href=\"x\">spiral</a> galaxy</p>", nil
}

func (g *fakeGallery) ImageCredits(pageHTML string) (string, error) {
	return "NASA, ESA, CSA", nil
}

func (g *fakeGallery) ImageDownloadURL(pageHTML string) (string, error) {
	return "https://stsci-opo.org/galaxy.tif", nil
}

func (g *fakeGallery) DownloadImage(ctx context.Context, url, destDir string) (string, error) {
	if g.downloadErr != nil {
		return "", g.downloadErr
	}
	name := g.imageName
	if name == "" {
		name = "galaxy.tif"
	}
	if err := os.WriteFile(filepath.Join(destDir, name), []byte("raw image"), 0o644); err != nil {
		return "", err
	}
	return name, nil
}

type fakePublisher struct {
	dir        string
	secretName string
	cloneURL   string
	branch     string
	added      bool
	commitMsg  string
	author     string
	email      string
	pushed     bool
}

func (p *fakePublisher) SetSSHKeyFromSecrets(ctx context.Context, secrets gitrepo.SecretFetcher, secretName, keyPath string) error {
	p.secretName = secretName
	return nil
}

func (p *fakePublisher) Clone(ctx context.Context, url, path string) error {
	p.cloneURL = url
	return nil
}

func (p *fakePublisher) CheckoutBranch(branch string) error {
	p.branch = branch
	return nil
}

func (p *fakePublisher) Add(files, ignore []string) error {
	p.added = true
	return nil
}

func (p *fakePublisher) Commit(message, author, email string) error {
	p.commitMsg = message
	p.author = author
	p.email = email
	return nil
}

func (p *fakePublisher) Push(ctx context.Context) error {
	p.pushed = true
	return nil
}

func (p *fakePublisher) Dir() string { return p.dir }

type fakeStore struct {
	keys []string
}

func (s *fakeStore) UploadFile(ctx context.Context, key, filePath string) error {
	if _, err := os.Stat(filePath); err != nil {
		return err
	}
	s.keys = append(s.keys, key)
	return nil
}

func stubConvert(imagePath string, columns int, charset string, outputPath string) error {
	if columns <= 0 {
		return fmt.Errorf("columns must be positive")
	}
	return os.WriteFile(outputPath, []byte("ascii png"), 0o644)
}

const (
	oldImageLink = "https://webbtelescope.org/contents/media/images/old"
	newImageLink = "https://webbtelescope.org/contents/media/images/new"
)

// seedSite lays out a minimal site repo with a main index, a prior page and
// an archive referencing oldImageLink.
func seedSite(t *testing.T, dir string, priorDate time.Time) {
	t.Helper()

	priorPath := site.PagePath(priorDate)
	err := site.GenerateNewPage(filepath.Join(dir, priorPath, "index.html"), site.NewPageVars{
		TitleDate:         site.TitleDate(priorDate),
		TomorrowDate:      site.LinkDate(priorDate.AddDate(0, 0, 1)),
		TodayDate:         site.LinkDate(priorDate),
		PreviousPath:      "/2025/december/31/index.html",
		PreviousDate:      site.LinkDate(priorDate.AddDate(0, 0, -1)),
		ImageTitle:        "Old Nebula",
		ImagePath:         "/images/old.png",
		LinkToJWSTWebsite: oldImageLink,
		ImageCredits:      "NASA",
		ImageDescription:  template.HTML("<p>old</p>"),
	})
	if err != nil {
		t.Fatalf("seed prior page: %v", err)
	}

	if err := site.GenerateMainIndex(filepath.Join(dir, "index.html"), "Old Nebula", "/"+priorPath); err != nil {
		t.Fatalf("seed main index: %v", err)
	}

	err = site.UpdateArchive(filepath.Join(dir, "archive"), "/"+priorPath, priorDate, "Old Nebula", oldImageLink)
	if err != nil {
		t.Fatalf("seed archive: %v", err)
	}
}

func newTestHandler(t *testing.T, gallery *fakeGallery, store *fakeStore) (*Handler, *fakePublisher, string) {
	t.Helper()

	repoDir := t.TempDir()
	pub := &fakePublisher{dir: repoDir}

	h := NewHandler(
		gallery,
		pub,
		secretFetcherFunc(func(ctx context.Context, name string) (string, error) { return "key", nil }),
		func(ctx context.Context, bucket string) (ImageStore, error) { return store, nil },
		stubConvert,
		"@ .",
		logger.NewLogger(nil),
	)
	h.now = func() time.Time { return time.Date(2026, time.August, 26, 12, 0, 0, 0, time.UTC) }
	return h, pub, repoDir
}

// secretFetcherFunc adapts a function to the gitrepo.SecretFetcher shape.
type secretFetcherFunc func(ctx context.Context, name string) (string, error)

func (f secretFetcherFunc) GetSecretValue(ctx context.Context, name string) (string, error) {
	return f(ctx, name)
}

func TestHandleCreatesNewPage(t *testing.T) {
	gallery := &fakeGallery{pages: [][]string{{oldImageLink, newImageLink}}}
	store := &fakeStore{}
	h, pub, repoDir := newTestHandler(t, gallery, store)
	seedSite(t, repoDir, time.Date(2026, time.August, 25, 0, 0, 0, 0, time.UTC))

	tempDir := t.TempDir()
	event := Event{
		KeyName:            "github-deploy-key",
		RepoURL:            "git@github.com:example/jwstascii.git",
		GitBranch:          "main",
		TempDir:            tempDir,
		AsciiArtNumColumns: 150,
		S3Bucket:           "jwstascii-site",
		GitAuthor:          "Site Bot",
		GitEmail:           "bot@example.com",
	}

	if err := h.Handle(context.Background(), event); err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}

	newPage := filepath.Join(repoDir, "2026", "august", "26", "index.html")
	body, err := os.ReadFile(newPage)
	if err != nil {
		t.Fatalf("new page not written: %v", err)
	}
	if !strings.Contains(string(body), "Phantom Galaxy") {
		t.Errorf("new page missing image title:\n%s", body)
	}
	if !strings.Contains(string(body), "/images/galaxy.png") {
		t.Errorf("new page missing image path:\n%s", body)
	}

	index, err := os.ReadFile(filepath.Join(repoDir, "index.html"))
	if err != nil {
		t.Fatalf("main index not written: %v", err)
	}
	if !strings.Contains(string(index), "/2026/august/26/index.html") {
		t.Errorf("main index does not point at new page:\n%s", index)
	}

	prior, err := os.ReadFile(filepath.Join(repoDir, "2026", "august", "25", "index.html"))
	if err != nil {
		t.Fatalf("prior page missing: %v", err)
	}
	if !strings.Contains(string(prior), "/2026/august/26/index.html") {
		t.Errorf("prior page tomorrow link not updated:\n%s", prior)
	}

	links, err := site.ArchiveLinks(filepath.Join(repoDir, "archive"))
	if err != nil {
		t.Fatalf("reading archive: %v", err)
	}
	if len(links) != 2 || links[0] != newImageLink {
		t.Errorf("archive links = %v, want newest-first with %q", links, newImageLink)
	}

	if len(store.keys) != 1 || store.keys[0] != "images/galaxy.png" {
		t.Errorf("uploaded keys = %v, want [images/galaxy.png]", store.keys)
	}

	if pub.secretName != "github-deploy-key" {
		t.Errorf("secret name = %q", pub.secretName)
	}
	if pub.cloneURL != event.RepoURL || pub.branch != "main" {
		t.Errorf("clone url = %q, branch = %q", pub.cloneURL, pub.branch)
	}
	if !pub.added || !pub.pushed {
		t.Errorf("added = %v, pushed = %v, want both true", pub.added, pub.pushed)
	}
	if pub.commitMsg != "Created new page for 26 Aug 2026" {
		t.Errorf("commit message = %q", pub.commitMsg)
	}
	if pub.author != "Site Bot" || pub.email != "bot@example.com" {
		t.Errorf("commit author = %q <%s>", pub.author, pub.email)
	}
}

func TestHandleOverridesPageURLWithTestURL(t *testing.T) {
	gallery := &fakeGallery{pages: [][]string{{newImageLink}}}
	store := &fakeStore{}
	h, _, repoDir := newTestHandler(t, gallery, store)
	seedSite(t, repoDir, time.Date(2026, time.August, 25, 0, 0, 0, 0, time.UTC))

	event := Event{
		RepoURL:            "git@github.com:example/jwstascii.git",
		GitBranch:          "main",
		TempDir:            t.TempDir(),
		AsciiArtNumColumns: 150,
		S3Bucket:           "jwstascii-site",
		TestURL:            "https://example.com/test-page",
		GitAuthor:          "Site Bot",
		GitEmail:           "bot@example.com",
	}

	if err := h.Handle(context.Background(), event); err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}

	links, err := site.ArchiveLinks(filepath.Join(repoDir, "archive"))
	if err != nil {
		t.Fatalf("reading archive: %v", err)
	}
	if links[0] != "https://example.com/test-page" {
		t.Errorf("archive source = %q, want test url", links[0])
	}
}

func TestNextImageURLSkipsArchivedLinks(t *testing.T) {
	gallery := &fakeGallery{pages: [][]string{{oldImageLink, newImageLink}}}
	h, _, repoDir := newTestHandler(t, gallery, &fakeStore{})
	seedSite(t, repoDir, time.Date(2026, time.August, 25, 0, 0, 0, 0, time.UTC))

	url, err := h.nextImageURL(context.Background(), nil, repoDir, false)
	if err != nil {
		t.Fatalf("nextImageURL returned error: %v", err)
	}
	if url != newImageLink {
		t.Errorf("url = %q, want %q", url, newImageLink)
	}
}

func TestNextImageURLWalksToFollowingPage(t *testing.T) {
	gallery := &fakeGallery{pages: [][]string{{oldImageLink}, {newImageLink}}}
	h, _, repoDir := newTestHandler(t, gallery, &fakeStore{})
	seedSite(t, repoDir, time.Date(2026, time.August, 25, 0, 0, 0, 0, time.UTC))

	url, err := h.nextImageURL(context.Background(), nil, repoDir, false)
	if err != nil {
		t.Fatalf("nextImageURL returned error: %v", err)
	}
	if url != newImageLink {
		t.Errorf("url = %q, want %q", url, newImageLink)
	}
}

func TestNewImageInfoExhaustedGalleryReusesArchive(t *testing.T) {
	// Every gallery image is already archived; the fallback pass must rewind
	// pagination and hand back an archived image instead of failing.
	gallery := &fakeGallery{pages: [][]string{{oldImageLink}}}
	h, _, repoDir := newTestHandler(t, gallery, &fakeStore{})
	seedSite(t, repoDir, time.Date(2026, time.August, 25, 0, 0, 0, 0, time.UTC))

	info, err := h.newImageInfo(context.Background(), nil, repoDir)
	if err != nil {
		t.Fatalf("newImageInfo returned error: %v", err)
	}
	if info.PageURL != oldImageLink {
		t.Errorf("page url = %q, want archived link %q", info.PageURL, oldImageLink)
	}
}

func TestAddNewImageRejectsUnsupportedFormat(t *testing.T) {
	gallery := &fakeGallery{imageName: "photo.jpg"}
	h, _, _ := newTestHandler(t, gallery, &fakeStore{})

	event := Event{TempDir: t.TempDir(), AsciiArtNumColumns: 150, S3Bucket: "jwstascii-site"}
	if _, err := h.addNewImage(context.Background(), "https://stsci-opo.org/photo.jpg", event); err == nil {
		t.Fatal("expected error for unsupported image format")
	}
}
