// Package extract maps X.com DOM snapshots to candidate archive
// records. It is a pure function layer: HTML in, records out, no
// browser and no database. A malformed element degrades to zero-valued
// fields instead of failing the batch; only an element with no
// recognizable post id is discarded.
package extract

import (
	"encoding/json"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"likevault/internal/types"
)

var (
	statusIDRe = regexp.MustCompile(`/status/(\d+)`)
	handleRe   = regexp.MustCompile(`(?:^|://[^/]+)/([A-Za-z0-9_]+)/status/\d+`)
	countRe    = regexp.MustCompile(`^([\d,.]+)\s*([KkMm]?)`)
)

// Extractor turns article markup into candidates using a fixed
// selector set.
type Extractor struct {
	sel Selectors
	log zerolog.Logger
}

func New(sel Selectors, log zerolog.Logger) *Extractor {
	return &Extractor{sel: sel, log: log.With().Str("component", "extract").Logger()}
}

// Articles maps every article element in a page snapshot, in document
// order. Elements without a post id are dropped and logged, nothing
// else stops the batch.
func (e *Extractor) Articles(html string) []types.Candidate {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		e.log.Warn().Err(err).Msg("unparseable page snapshot")
		return nil
	}

	var out []types.Candidate
	doc.Find(e.sel.Article).Each(func(_ int, art *goquery.Selection) {
		c, ok := e.candidate(art)
		if !ok {
			e.log.Debug().Msg("article without a post id, skipped")
			return
		}
		out = append(out, c)
	})
	return out
}

// Article maps a single article element snapshot.
func (e *Extractor) Article(html string) (types.Candidate, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		e.log.Warn().Err(err).Msg("unparseable article snapshot")
		return types.Candidate{}, false
	}
	art := doc.Find(e.sel.Article).First()
	if art.Length() == 0 {
		// Snapshot may be the article element itself rather than a page
		// containing one.
		art = doc.Selection
	}
	return e.candidate(art)
}

func (e *Extractor) candidate(art *goquery.Selection) (types.Candidate, bool) {
	permalink, id := e.permalink(art)
	if id == "" {
		return types.Candidate{}, false
	}

	p := types.Post{
		ID:           id,
		PermalinkURL: permalink,
		CollectedAt:  time.Now().UTC(),
	}

	if m := handleRe.FindStringSubmatch(permalink); m != nil {
		p.AuthorHandle = m[1]
	}
	userName := art.Find(e.sel.UserName).First()
	if userName.Length() > 0 {
		p.AuthorName = strings.TrimSpace(userName.Find("span").First().Text())
		if p.AuthorHandle == "" {
			if href, ok := userName.Find(`a[href^="/"]`).First().Attr("href"); ok {
				p.AuthorHandle = strings.TrimPrefix(strings.SplitN(href, "?", 2)[0], "/")
			}
		}
	}

	if dt, ok := art.Find(e.sel.Timestamp).First().Attr("datetime"); ok {
		if ts, err := time.Parse(time.RFC3339, dt); err == nil {
			p.PostedAt = ts.UTC()
		}
	}

	text := art.Find(e.sel.Text).First()
	p.ContentText = strings.TrimSpace(text.Text())
	if h, err := text.Html(); err == nil {
		p.ContentHTML = h
	}

	p.Replies = e.metric(art, e.sel.ReplyCount)
	p.Reposts = e.metric(art, e.sel.RepostCount)
	p.Likes = e.metric(art, e.sel.LikeCount)
	p.IsQuote = art.Find(e.sel.Quote).Length() > 0
	p.ConversationID = e.conversationID(art, id)

	links := e.links(id, text)
	media := e.media(id, art)
	if card, ref := e.card(id, art); card != "" {
		p.CardJSON = card
		if ref != nil {
			media = append(media, *ref)
		}
	}

	p.HasLinks = len(links) > 0
	p.HasMedia = len(media) > 0

	return types.Candidate{Post: p, Links: links, Media: media}, true
}

// permalink finds the article's own status link: the one wrapping the
// timestamp. Articles embed several status links (quotes, thread
// anchors), only the timestamp link identifies the post itself.
func (e *Extractor) permalink(art *goquery.Selection) (href, id string) {
	link := art.Find(e.sel.Timestamp).First().ParentsFiltered(e.sel.StatusLink).First()
	if link.Length() == 0 {
		link = art.Find(e.sel.StatusLink).First()
	}
	href, _ = link.Attr("href")
	if m := statusIDRe.FindStringSubmatch(href); m != nil {
		id = m[1]
	}
	if href != "" && strings.HasPrefix(href, "/") {
		href = "https://x.com" + href
	}
	return href, id
}

func (e *Extractor) metric(art *goquery.Selection, selector string) int {
	el := art.Find(selector).First()
	if el.Length() == 0 {
		return 0
	}
	if label, ok := el.Attr("aria-label"); ok && label != "" {
		return ParseCount(label)
	}
	return ParseCount(strings.TrimSpace(el.Text()))
}

// conversationID returns the thread root id when the article carries a
// self-thread indicator, or the reply anchor when the article is a
// reply. Absent both, the post is not known to belong to a
// conversation and the empty string disables reconstruction for it.
func (e *Extractor) conversationID(art *goquery.Selection, ownID string) string {
	var conv string
	art.Find(e.sel.StatusLink).EachWithBreak(func(_ int, link *goquery.Selection) bool {
		label := strings.ToLower(strings.TrimSpace(link.Text()))
		if !strings.Contains(label, "show this thread") {
			return true
		}
		href, _ := link.Attr("href")
		if m := statusIDRe.FindStringSubmatch(href); m != nil {
			conv = m[1]
			return false
		}
		return true
	})
	if conv != "" {
		return conv
	}
	// A post replying to itself earlier in a thread renders a social
	// context line; treat the post as part of its own conversation so
	// reconstruction can walk the canonical view.
	if sc := art.Find(e.sel.SocialContext).First(); sc.Length() > 0 {
		return ownID
	}
	return ""
}

func (e *Extractor) links(postID string, text *goquery.Selection) []types.Link {
	var links []types.Link
	seen := make(map[string]bool)
	text.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if !strings.HasPrefix(href, "http") || seen[href] {
			return
		}
		if u, err := url.Parse(href); err != nil || u.Host == "x.com" || u.Host == "twitter.com" {
			return
		}
		seen[href] = true
		links = append(links, types.Link{PostID: postID, URL: href, Resolved: href})
	})
	return links
}

func (e *Extractor) media(postID string, art *goquery.Selection) []types.MediaRef {
	var refs []types.MediaRef
	seen := make(map[string]bool)
	add := func(u string, kind types.MediaKind) {
		if u == "" || seen[u] {
			return
		}
		seen[u] = true
		refs = append(refs, types.MediaRef{PostID: postID, URL: u, Kind: kind})
	}

	art.Find(e.sel.Photo).Each(func(_ int, img *goquery.Selection) {
		src, _ := img.Attr("src")
		kind := types.MediaImage
		if strings.Contains(src, "tweet_video_thumb") {
			kind = types.MediaAnimated
		}
		add(src, kind)
	})

	art.Find(e.sel.VideoPlayer).Each(func(_ int, video *goquery.Selection) {
		if src, ok := video.Attr("src"); ok && strings.Contains(src, "tweet_video") {
			add(src, types.MediaAnimated)
			return
		}
		poster, _ := video.Attr("poster")
		add(poster, types.MediaVideo)
	})

	return refs
}

// card extracts a rich link card: a JSON payload for the post row and
// a media ref for the thumbnail, when one is rendered.
func (e *Extractor) card(postID string, art *goquery.Selection) (string, *types.MediaRef) {
	card := art.Find(e.sel.Card).First()
	if card.Length() == 0 {
		return "", nil
	}

	payload := map[string]string{}
	if href, ok := card.Find("a[href]").First().Attr("href"); ok {
		payload["url"] = href
	}
	var texts []string
	card.Find("span").Each(func(_ int, s *goquery.Selection) {
		if t := strings.TrimSpace(s.Text()); t != "" {
			texts = append(texts, t)
		}
	})
	if len(texts) > 0 {
		payload["domain"] = texts[0]
	}
	if len(texts) > 1 {
		payload["title"] = texts[1]
	}
	if len(texts) > 2 {
		payload["description"] = texts[2]
	}

	var ref *types.MediaRef
	if thumb, ok := card.Find("img").First().Attr("src"); ok && thumb != "" {
		payload["thumbnail"] = thumb
		ref = &types.MediaRef{PostID: postID, URL: thumb, Kind: types.MediaCard}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", ref
	}
	return string(data), ref
}

// ParseCount converts abbreviated engagement counts ("1.2K", "5,731",
// "3M", "47 Likes") to integers. Unparseable input counts as zero.
func ParseCount(s string) int {
	m := countRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0
	}
	value, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return 0
	}
	switch strings.ToUpper(m[2]) {
	case "K":
		value *= 1_000
	case "M":
		value *= 1_000_000
	}
	return int(value)
}
