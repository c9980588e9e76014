package site

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

//go:embed templates/*.html
var templatesFS embed.FS

// Date layouts used across the site.
const (
	// linkDateLayout is the compact date shown on page navigation links.
	linkDateLayout = "02|01|06"

	// titleDateLayout is the long-form date used for page titles.
	titleDateLayout = "02 January 2006"
)

// pagePathPattern extracts the year/month/day portion of a page link.
var pagePathPattern = regexp.MustCompile(`(\d{4})/([a-z]+)/(\d{1,2})`)

// NewPageVars feeds the daily page template. ImageDescription carries markup
// scraped from the JWST site and is rendered verbatim.
type NewPageVars struct {
	TitleDate         string
	TomorrowDate      string
	TodayDate         string
	PreviousPath      string
	PreviousDate      string
	ImageTitle        string
	ImagePath         string
	LinkToJWSTWebsite string
	ImageCredits      string
	ImageDescription  template.HTML
}

// MainIndexVars feeds the site index template.
type MainIndexVars struct {
	PageParentDir string
	Title         string
}

// PagePath returns the repository-relative directory of the daily page for
// the given date, e.g. 2026/august/26.
func PagePath(date time.Time) string {
	return fmt.Sprintf("%04d/%s/%02d",
		date.Year(), strings.ToLower(date.Month().String()), date.Day())
}

// LinkDate formats a date the way navigation links display it.
func LinkDate(date time.Time) string {
	return date.Format(linkDateLayout)
}

// TitleDate formats a date the way page titles display it.
func TitleDate(date time.Time) string {
	return date.Format(titleDateLayout)
}

// WriteFile writes content to outputPath, creating any missing parent
// directories along the way.
func WriteFile(outputPath string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("failed to create directories for %s: %w", outputPath, err)
	}
	if err := os.WriteFile(outputPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", outputPath, err)
	}
	return nil
}

// GenerateFromTemplate renders the named embedded template with vars and
// writes the result to outputPath.
func GenerateFromTemplate(templateName, outputPath string, vars any) error {
	tmpl, err := template.ParseFS(templatesFS, "templates/"+templateName)
	if err != nil {
		return fmt.Errorf("failed to load template %s: %w", templateName, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return fmt.Errorf("failed to render template %s: %w", templateName, err)
	}

	return WriteFile(outputPath, buf.Bytes())
}

// GenerateNewPage writes the daily page for a new image.
func GenerateNewPage(outputPath string, vars NewPageVars) error {
	return GenerateFromTemplate("new_page.html", outputPath, vars)
}

// GenerateMainIndex rewrites the site index to point at the latest page.
func GenerateMainIndex(outputPath, title, pageParentDir string) error {
	return GenerateFromTemplate("main_index.html", outputPath, MainIndexVars{
		PageParentDir: pageParentDir,
		Title:         title,
	})
}

// CurrentPageDate reads the date of the page the site index currently links
// to.
func CurrentPageDate(indexPath string) (time.Time, error) {
	doc, err := parseFile(indexPath)
	if err != nil {
		return time.Time{}, err
	}

	link := findByID(doc, "current_page")
	if link == nil {
		return time.Time{}, fmt.Errorf("no current page link in %s", indexPath)
	}

	href := attrValue(link, "href")
	match := pagePathPattern.FindStringSubmatch(href)
	if match == nil {
		return time.Time{}, fmt.Errorf("current page link %q has no date path", href)
	}

	month := strings.ToUpper(match[2][:1]) + match[2][1:]
	date, err := time.Parse("2006/January/2", fmt.Sprintf("%s/%s/%s", match[1], month, match[3]))
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse page date from %q: %w", href, err)
	}

	return date, nil
}

// UpdatePriorPage rewires the previous day's page: the placeholder
// tomorrow link becomes a real link to the new page, and the stylesheet
// reference is repointed at the site root.
func UpdatePriorPage(pathToHTML, pathToNewHTML string, newPageDate time.Time) error {
	doc, err := parseFile(pathToHTML)
	if err != nil {
		return err
	}

	tomorrowLink := findByID(doc, "tomorrow_link")
	if tomorrowLink == nil {
		return fmt.Errorf("no tomorrow link element in %s", pathToHTML)
	}

	anchor := &html.Node{
		Type:     html.ElementNode,
		Data:     "a",
		DataAtom: atom.A,
		Attr:     []html.Attribute{{Key: "href", Val: pathToNewHTML}},
	}
	anchor.AppendChild(&html.Node{
		Type: html.TextNode,
		Data: newPageDate.Format(linkDateLayout),
	})

	removeChildren(tomorrowLink)
	tomorrowLink.AppendChild(anchor)

	stylesheet := findStylesheet(doc)
	if stylesheet == nil {
		return fmt.Errorf("no stylesheet link element in %s", pathToHTML)
	}
	setAttr(stylesheet, "href", "/styles/main.css")

	return renderToFile(doc, pathToHTML)
}

// UpdateArchive prepends the new page to the archive listing, creating the
// listing from the archive template on first use. imageURL records which
// JWST image the page used, so future runs skip it.
func UpdateArchive(archiveDir, pagePath string, pageDate time.Time, imageTitle, imageURL string) error {
	indexPath := filepath.Join(archiveDir, "index.html")

	if _, err := os.Stat(indexPath); os.IsNotExist(err) {
		if err := GenerateFromTemplate("archive.html", indexPath, nil); err != nil {
			return err
		}
	}

	doc, err := parseFile(indexPath)
	if err != nil {
		return err
	}

	list := findByID(doc, "archive_list")
	if list == nil {
		return fmt.Errorf("no archive list element in %s", indexPath)
	}

	entry := fmt.Sprintf(
		`<li><a href="%s/index.html">%s - %s</a><a class="image_source" href="%s">source</a></li>`,
		pagePath, pageDate.Format(titleDateLayout), template.HTMLEscapeString(imageTitle), imageURL)

	nodes, err := html.ParseFragment(strings.NewReader(entry), list)
	if err != nil {
		return fmt.Errorf("failed to build archive entry: %w", err)
	}

	for i := len(nodes) - 1; i >= 0; i-- {
		list.InsertBefore(nodes[i], list.FirstChild)
	}

	return renderToFile(doc, indexPath)
}

// ArchiveLinks returns the JWST image URLs already used by archived pages.
// A missing archive means a fresh site: no links yet.
func ArchiveLinks(archiveDir string) ([]string, error) {
	indexPath := filepath.Join(archiveDir, "index.html")

	if _, err := os.Stat(indexPath); os.IsNotExist(err) {
		return nil, nil
	}

	doc, err := parseFile(indexPath)
	if err != nil {
		return nil, err
	}

	var links []string
	walk(doc, func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == "a" && attrValue(n, "class") == "image_source" {
			if href := attrValue(n, "href"); href != "" {
				links = append(links, href)
			}
		}
		return true
	})

	return links, nil
}

// Helper functions for HTML manipulation

func parseFile(path string) (*html.Node, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	doc, err := html.Parse(file)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return doc, nil
}

func renderToFile(doc *html.Node, path string) error {
	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return fmt.Errorf("failed to render %s: %w", path, err)
	}
	return WriteFile(path, buf.Bytes())
}

func walk(n *html.Node, fn func(*html.Node) bool) bool {
	if !fn(n) {
		return false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walk(c, fn) {
			return false
		}
	}
	return true
}

func findByID(doc *html.Node, id string) *html.Node {
	var found *html.Node
	walk(doc, func(n *html.Node) bool {
		if n.Type == html.ElementNode && attrValue(n, "id") == id {
			found = n
			return false
		}
		return true
	})
	return found
}

func findStylesheet(doc *html.Node) *html.Node {
	var found *html.Node
	walk(doc, func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == "link" && attrValue(n, "rel") == "stylesheet" {
			found = n
			return false
		}
		return true
	})
	return found
}

func attrValue(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeChildren(n *html.Node) {
	for n.FirstChild != nil {
		n.RemoveChild(n.FirstChild)
	}
}
