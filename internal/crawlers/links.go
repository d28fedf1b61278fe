package crawlers

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"golang.org/x/net/html"
)

// LinkExtractor collects payment detail links from listing pages
type LinkExtractor struct {
	// xpath of the anchors inside listing cells
	xpath string

	// cell attribute identifying detail cells, for static HTML
	cellAttr  string
	cellValue string

	mu    sync.Mutex
	found int
}

// NewLinkExtractor creates an extractor for anchors inside td[cellAttr=cellValue]
func NewLinkExtractor(cellAttr, cellValue string) *LinkExtractor {
	return &LinkExtractor{
		xpath:     fmt.Sprintf("//td[@%s='%s']/a", cellAttr, cellValue),
		cellAttr:  cellAttr,
		cellValue: cellValue,
	}
}

const linksJS = `(xpath) => {
	const snap = document.evaluate(xpath, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
	const links = [];
	for (let i = 0; i < snap.snapshotLength; i++) {
		const href = snap.snapshotItem(i).href;
		if (href) {
			links.push(href);
		}
	}
	return links;
}`

// ExtractFromPage reads detail links from a rendered listing
func (e *LinkExtractor) ExtractFromPage(page *rod.Page) ([]string, error) {
	result, err := page.Evaluate(rod.Eval(linksJS, e.xpath))
	if err != nil {
		return nil, fmt.Errorf("extract links: %w", err)
	}

	links := []string{}
	for _, item := range result.Value.Arr() {
		if e.accept(item.Str()) {
			links = append(links, item.Str())
		}
	}
	return links, nil
}

// ExtractFromHTML reads detail links from listing HTML, resolved against baseURL
func (e *LinkExtractor) ExtractFromHTML(htmlContent string, baseURL string) ([]string, error) {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return nil, fmt.Errorf("parse listing html: %w", err)
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	var links []string
	var f func(n *html.Node, inCell bool)
	f = func(n *html.Node, inCell bool) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "td":
				inCell = attr(n, e.cellAttr) == e.cellValue
			case "a":
				if href := attr(n, "href"); inCell && href != "" {
					ref, err := url.Parse(href)
					if err == nil {
						link := base.ResolveReference(ref).String()
						if e.accept(link) {
							links = append(links, link)
						}
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c, inCell)
		}
	}
	f(doc, false)

	return links, nil
}

// Found number of links accepted so far
func (e *LinkExtractor) Found() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.found
}

func (e *LinkExtractor) accept(link string) bool {
	parsed, err := url.Parse(link)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return false
	}

	e.mu.Lock()
	e.found++
	e.mu.Unlock()
	return true
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
