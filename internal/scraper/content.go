package scraper

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"gopkg.in/yaml.v3"
)

// PageContent holds pre-extracted page content as strings.
// All content is extracted while the environment is still prepared (in
// Scrape), so rendering never needs a live page.
type PageContent struct {
	htmlContent string // for ToHTML(): body innerHTML (or selector HTML)
	mainContent string // for ToMarkdown(), ToCSV(): content at the requested level/selector
	textContent string // for ToText(): body innerText when level=body, else HTML to convert
	level       string
	title       string
	url         string
	loadTime    time.Duration
	pageErrors  []string // errors raised inside the page while loading
	snapshot    []byte   // PNG, nil when not requested or unsupported
}

// NewPageContent creates a PageContent from pre-extracted strings.
func NewPageContent(htmlContent, mainContent, textContent, level, title, url string, loadTime time.Duration) *PageContent {
	return &PageContent{
		htmlContent: htmlContent,
		mainContent: mainContent,
		textContent: textContent,
		level:       level,
		title:       title,
		url:         url,
		loadTime:    loadTime,
	}
}

// WithPageErrors records errors the page raised during the run.
func (p *PageContent) WithPageErrors(errs []string) *PageContent {
	p.pageErrors = errs
	return p
}

// WithSnapshot attaches a PNG snapshot.
func (p *PageContent) WithSnapshot(png []byte) *PageContent {
	p.snapshot = png
	return p
}

// Title returns the page title.
func (p *PageContent) Title() string { return p.title }

// URL returns the final page URL.
func (p *PageContent) URL() string { return p.url }

// PageErrors returns errors raised inside the page.
func (p *PageContent) PageErrors() []string { return p.pageErrors }

// Snapshot returns the PNG snapshot, if any.
func (p *PageContent) Snapshot() []byte { return p.snapshot }

// ToHTML returns HTML format content
func (p *PageContent) ToHTML() (string, error) {
	return p.htmlContent, nil
}

// ToText returns the plain text followed by any page errors.
func (p *PageContent) ToText() (string, error) {
	text, err := p.plainText()
	if err != nil {
		return "", err
	}
	if len(p.pageErrors) == 0 {
		return text, nil
	}

	var b strings.Builder
	b.WriteString(strings.TrimRight(text, "\n"))
	b.WriteString("\n\nPage errors:\n")
	for _, msg := range p.pageErrors {
		b.WriteString("- " + msg + "\n")
	}
	return b.String(), nil
}

// ToMarkdown returns the content as Markdown under a YAML front matter block
// carrying the title, final URL and page errors.
func (p *PageContent) ToMarkdown() (string, error) {
	body, err := p.markdownBody()
	if err != nil {
		return "", err
	}
	meta := frontMatter{Title: p.title, URL: p.url, Errors: p.pageErrors}
	if meta.empty() {
		return body, nil
	}
	head, err := yaml.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("failed to encode front matter: %w", err)
	}
	return "---\n" + string(head) + "---\n\n" + body, nil
}

// ToJSON returns JSON format content. Metadata lives in its own fields, so
// the text and markdown members carry the bare content.
func (p *PageContent) ToJSON() ([]byte, error) {
	text, err := p.plainText()
	if err != nil {
		return nil, fmt.Errorf("failed to get page text: %w", err)
	}
	markdown, err := p.markdownBody()
	if err != nil {
		return nil, fmt.Errorf("failed to get page markdown: %w", err)
	}

	type jsonOutput struct {
		HTML     string   `json:"html"`
		Text     string   `json:"text"`
		Markdown string   `json:"markdown"`
		Title    string   `json:"title"`
		URL      string   `json:"url"`
		Level    string   `json:"level,omitempty"`
		LoadTime int64    `json:"load_time"`
		Errors   []string `json:"errors,omitempty"`
	}

	return json.MarshalIndent(jsonOutput{
		HTML:     p.htmlContent,
		Text:     text,
		Markdown: markdown,
		Title:    p.title,
		URL:      p.url,
		Level:    p.level,
		LoadTime: p.loadTime.Milliseconds(),
		Errors:   p.pageErrors,
	}, "", "  ")
}

// ToCSV returns one "# Table N" block per HTML table in the content.
func (p *PageContent) ToCSV() (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(p.mainContent))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	var buf bytes.Buffer
	var werr error
	doc.Find("table").EachWithBreak(func(i int, table *goquery.Selection) bool {
		if i > 0 {
			buf.WriteByte('\n')
		}
		fmt.Fprintf(&buf, "# Table %d\n", i+1)
		werr = csv.NewWriter(&buf).WriteAll(tableRows(table))
		return werr == nil
	})
	if werr != nil {
		return "", fmt.Errorf("failed to write CSV: %w", werr)
	}
	return buf.String(), nil
}

// plainText is body innerText as extracted for the body level, and a
// Markdown rendering of the HTML otherwise.
func (p *PageContent) plainText() (string, error) {
	if p.level == "body" {
		return p.textContent, nil
	}
	text, err := newConverter().ConvertString(p.textContent)
	if err != nil {
		return "", fmt.Errorf("failed to convert HTML to text: %w", err)
	}
	return text, nil
}

func (p *PageContent) markdownBody() (string, error) {
	out, err := newConverter().ConvertString(p.mainContent)
	if err != nil {
		return "", fmt.Errorf("failed to convert HTML to Markdown: %w", err)
	}
	return out, nil
}

type frontMatter struct {
	Title  string   `yaml:"title,omitempty"`
	URL    string   `yaml:"url,omitempty"`
	Errors []string `yaml:"errors,omitempty"`
}

func (f frontMatter) empty() bool {
	return f.Title == "" && f.URL == "" && len(f.Errors) == 0
}

// newConverter returns an html-to-markdown converter that renders tables as
// pipe tables.
func newConverter() *md.Converter {
	conv := md.NewConverter("", true, nil)
	conv.AddRules(md.Rule{
		Filter: []string{"table"},
		Replacement: func(_ string, table *goquery.Selection, _ *md.Options) *string {
			return md.String("\n\n" + markdownTable(tableRows(table)) + "\n\n")
		},
	})
	return conv
}

// tableRows returns the trimmed th/td text of every non-empty row.
func tableRows(table *goquery.Selection) [][]string {
	var rows [][]string
	table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		var row []string
		tr.Find("th, td").Each(func(_ int, cell *goquery.Selection) {
			row = append(row, strings.TrimSpace(cell.Text()))
		})
		if len(row) > 0 {
			rows = append(rows, row)
		}
	})
	return rows
}

// markdownTable uses the first row as header. Rows are padded or cut to the
// header width.
func markdownTable(rows [][]string) string {
	if len(rows) == 0 {
		return ""
	}
	width := len(rows[0])

	var b strings.Builder
	writeRow := func(cells []string) {
		out := make([]string, width)
		for i := range out {
			if i < len(cells) {
				out[i] = strings.ReplaceAll(cells[i], "|", `\|`)
			}
		}
		b.WriteString("| " + strings.Join(out, " | ") + " |\n")
	}

	writeRow(rows[0])
	sep := make([]string, width)
	for i := range sep {
		sep[i] = "---"
	}
	writeRow(sep)
	for _, row := range rows[1:] {
		writeRow(row)
	}
	return b.String()
}
