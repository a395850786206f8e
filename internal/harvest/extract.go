package harvest

import (
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

var publicationDatePattern = regexp.MustCompile(`\d{1,2}/\d{1,2}/\d{4}`)

// Extractor maps a rendered record page to Fields. Every lookup is
// independent: a missing element leaves its field empty.
type Extractor struct {
	layout Layout
}

// NewExtractor constructs an Extractor for the given layout.
func NewExtractor(layout Layout) *Extractor {
	return &Extractor{layout: layout}
}

// Extract never fails. Unparseable input yields empty Fields.
func (e *Extractor) Extract(html string) Fields {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Fields{}
	}
	var f Fields
	f.Source, _ = labelledField(doc, e.layout.SourceLabel)
	f.Database, _ = labelledField(doc, e.layout.DatabaseLabel)
	f.Abstract, _ = labelledField(doc, e.layout.AbstractLabel)
	f.FullText, _ = paragraphText(doc, e.layout.ParagraphCSS)
	f.Title = e.title(doc)
	f.PublishedOn = ParsePublicationDate(f.Source)
	return f
}

func (e *Extractor) title(doc *goquery.Document) string {
	if title, ok := firstText(doc, e.layout.TitleCSS); ok {
		return title
	}
	title, _ := firstText(doc, e.layout.CitationTitleCSS)
	return title
}

// labelledField returns the text of the first <dd> following the <dt> whose
// text contains label.
func labelledField(doc *goquery.Document, label string) (string, bool) {
	if label == "" {
		return "", false
	}
	term := doc.Find("dt").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return strings.Contains(s.Text(), label)
	}).First()
	if term.Length() == 0 {
		return "", false
	}
	def := term.NextAllFiltered("dd").First()
	if def.Length() == 0 {
		return "", false
	}
	return strings.TrimSpace(def.Text()), true
}

func firstText(doc *goquery.Document, css string) (string, bool) {
	if css == "" {
		return "", false
	}
	text := strings.TrimSpace(doc.Find(css).First().Text())
	return text, text != ""
}

// paragraphText concatenates the text of every match, each prefixed by a
// single space, so a non-empty result always starts with a space.
func paragraphText(doc *goquery.Document, css string) (string, bool) {
	if css == "" {
		return "", false
	}
	matches := doc.Find(css)
	if matches.Length() == 0 {
		return "", false
	}
	var b strings.Builder
	matches.Each(func(_ int, s *goquery.Selection) {
		b.WriteString(" ")
		b.WriteString(strings.TrimSpace(s.Text()))
	})
	return b.String(), true
}

// ParsePublicationDate finds the first M/D/YYYY date in text. It returns nil
// when there is none or it is not a real date.
func ParsePublicationDate(text string) *time.Time {
	match := publicationDatePattern.FindString(text)
	if match == "" {
		return nil
	}
	t, err := time.Parse("1/2/2006", match)
	if err != nil {
		return nil
	}
	return &t
}
