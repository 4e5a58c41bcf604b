// Package detector decides when a direct fetch should be retried in a headless browser.
package detector

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/parallel-fetcher/internal/crawler"
)

const defaultMinTextLength = 200

// appRoots are mount points used by client-side frameworks.
const appRoots = "#__next, #__nuxt, #root, #app, [data-reactroot], [ng-app], [ng-version]"

// Heuristic promotes pages whose server response carries little visible text but looks like it will be
// built by JavaScript.
type Heuristic struct {
	// MinTextLength is the visible text length below which a page counts as thin.
	MinTextLength int
}

// NewHeuristic creates a detector. Zero selects a 200 character threshold.
func NewHeuristic(minTextLength int) *Heuristic {
	if minTextLength <= 0 {
		minTextLength = defaultMinTextLength
	}
	return &Heuristic{MinTextLength: minTextLength}
}

// ShouldPromote implements crawler.HeadlessDetector.
func (h *Heuristic) ShouldPromote(probe crawler.FetchResponse) bool {
	if probe.StatusCode != http.StatusOK || probe.Rendered {
		return false
	}
	if len(bytes.TrimSpace(probe.Body)) == 0 {
		return true
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(probe.Body))
	if err != nil {
		return false
	}

	scripts := doc.Find("script")
	scriptBytes := 0
	scripts.Each(func(_ int, s *goquery.Selection) {
		scriptBytes += len(s.Text())
	})
	hasAppRoot := doc.Find(appRoots).Length() > 0

	doc.Find("script, style, noscript, template").Remove()
	textLen := len(strings.Join(strings.Fields(doc.Find("body").Text()), " "))
	if textLen >= h.MinTextLength {
		return false
	}
	if hasAppRoot || (scripts.Length() > 0 && scriptBytes*4 >= len(probe.Body)) {
		return true
	}
	// Script tags that load bundles carry no inline text; count them instead.
	return scripts.FilterFunction(func(_ int, s *goquery.Selection) bool {
		_, ok := s.Attr("src")
		return ok
	}).Length() >= 3
}
