package mpclient

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Content is the extracted body of a published article page.
type Content struct {
	Title     string
	Author    string
	Digest    string
	CoverURL  string
	Images    []string
	HTML      string
	Text      string
	PublishTS int64
}

// Marker the platform injects when it serves an anti-bot interstitial
// instead of the article.
const interstitialMarker = "当前环境异常，完成验证后即可继续访问"

// Article bodies ship hidden behind inline styles until page scripts reveal
// them. Strip the hiding styles so the stored HTML renders as published.
var (
	visibilityHiddenRe = regexp.MustCompile(`(?i)visibility\s*:\s*hidden\s*;?`)
	opacityZeroRe      = regexp.MustCompile(`(?i)opacity\s*:\s*0(?:\.0+)?\s*;?`)
	displayNoneRe      = regexp.MustCompile(`(?i)display\s*:\s*none\s*;?`)
	doubleSemiRe       = regexp.MustCompile(`;\s*;`)
)

var publishTSPatterns = []*regexp.Regexp{
	regexp.MustCompile(`var\s+ct\s*=\s*['"](\d+)['"]`),
	regexp.MustCompile(`"publish_time"\s*:\s*(\d+)`),
	regexp.MustCompile(`publish_time\s*=\s*['"](\d+)['"]`),
}

// FetchArticleContent downloads and extracts an article page. When the
// platform serves the anti-bot interstitial and a browser fallback is
// configured, the page is re-fetched through a real browser session.
func (c *Client) FetchArticleContent(ctx context.Context, articleURL string) (*Content, error) {
	html, err := c.getHTML(ctx, articleURL)
	if err != nil {
		return nil, err
	}

	if strings.Contains(html, interstitialMarker) && c.browser != nil {
		if rendered, err := c.browser.fetchHTML(ctx, articleURL, c.sessionCookies()); err == nil && rendered != "" {
			html = rendered
		}
	}

	return ParseArticleHTML(html)
}

// ParseArticleHTML extracts title, body, and media from a raw article page.
func ParseArticleHTML(html string) (*Content, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	content := &Content{}

	body := doc.Find("#js_content").First()
	if body.Length() == 0 {
		body = doc.Find("#js_article").First()
	}

	if body.Length() > 0 {
		body.Find("script, style").Remove()

		unhide(body)
		body.Find("*").Each(func(_ int, s *goquery.Selection) {
			unhide(s)
		})

		body.Find("img").Each(func(_ int, img *goquery.Selection) {
			src, ok := img.Attr("data-src")
			if !ok || src == "" {
				src, _ = img.Attr("src")
			}
			if src == "" {
				src, _ = img.Attr("data-ori-src")
			}
			if src == "" {
				return
			}
			img.SetAttr("src", src)
			for _, seen := range content.Images {
				if seen == src {
					return
				}
			}
			content.Images = append(content.Images, src)
		})

		if outer, err := goquery.OuterHtml(body); err == nil {
			content.HTML = outer
		}
		content.Text = collapseText(body.Text())
	}

	content.Title = strings.TrimSpace(doc.Find(`meta[property="og:title"]`).AttrOr("content", ""))
	if content.Title == "" {
		content.Title = strings.TrimSpace(doc.Find("#activity-name").Text())
	}

	content.Author = strings.TrimSpace(doc.Find(`meta[property="og:article:author"]`).AttrOr("content", ""))
	if content.Author == "" {
		content.Author = strings.TrimSpace(doc.Find("#js_name").Text())
	}

	content.Digest = strings.TrimSpace(doc.Find(`meta[property="og:description"]`).AttrOr("content", ""))
	content.CoverURL = strings.TrimSpace(doc.Find(`meta[property="twitter:image"]`).AttrOr("content", ""))
	if content.CoverURL == "" && len(content.Images) > 0 {
		content.CoverURL = content.Images[0]
	}

	for _, re := range publishTSPatterns {
		if m := re.FindStringSubmatch(html); m != nil {
			if ts, err := strconv.ParseInt(m[1], 10, 64); err == nil {
				content.PublishTS = ts
				break
			}
		}
	}

	return content, nil
}

func unhide(s *goquery.Selection) {
	if style, ok := s.Attr("style"); ok {
		cleaned := visibilityHiddenRe.ReplaceAllString(style, "")
		cleaned = opacityZeroRe.ReplaceAllString(cleaned, "")
		cleaned = displayNoneRe.ReplaceAllString(cleaned, "")
		cleaned = strings.Trim(doubleSemiRe.ReplaceAllString(cleaned, ";"), " ;")
		if cleaned != "" {
			s.SetAttr("style", cleaned)
		} else {
			s.RemoveAttr("style")
		}
	}
	s.RemoveAttr("hidden")
}

// collapseText normalizes extracted body text into trimmed non-empty lines.
func collapseText(raw string) string {
	lines := strings.Split(raw, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
