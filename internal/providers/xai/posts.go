package xai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/providers"
)

const DefaultSyndicationURL = "https://cdn.syndication.twimg.com"

var statusPattern = regexp.MustCompile(`^https?://(?:www\.|mobile\.)?(?:x|twitter)\.com/([A-Za-z0-9_]{1,15})/status(?:es)?/(\d+)`)

// ErrNotAPost is returned for citation links that do not point at a single post.
var ErrNotAPost = errors.New("link is not an X post")

// Post is a resolved citation.
type Post struct {
	Text  string `json:"text"`
	Link  string `json:"link"`
	Title string `json:"title"`
}

// StatusID extracts the author handle and post id from a post link.
func StatusID(link string) (handle, id string, ok bool) {
	m := statusPattern.FindStringSubmatch(strings.TrimSpace(link))
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

type syndicationPost struct {
	Text string `json:"text"`
	User struct {
		Name       string `json:"name"`
		ScreenName string `json:"screen_name"`
	} `json:"user"`
}

// SyndicationResolver fetches post text from the public embed endpoint.
type SyndicationResolver struct {
	http *providers.Client
}

// NewSyndicationResolver returns a resolver rooted at baseURL.
func NewSyndicationResolver(baseURL string, opts providers.Options) *SyndicationResolver {
	if baseURL == "" {
		baseURL = DefaultSyndicationURL
	}
	return &SyndicationResolver{http: providers.NewClient("x-syndication", baseURL, opts)}
}

// Resolve returns the post behind link. Posts without text are errors.
func (r *SyndicationResolver) Resolve(ctx context.Context, link string) (*Post, error) {
	handle, id, ok := StatusID(link)
	if !ok {
		return nil, ErrNotAPost
	}
	q := url.Values{}
	q.Set("id", id)
	q.Set("token", embedToken(id))

	var sp syndicationPost
	if err := r.http.GetJSON(ctx, "/tweet-result?"+q.Encode(), &sp); err != nil {
		return nil, err
	}
	text := strings.TrimSpace(sp.Text)
	if text == "" {
		return nil, fmt.Errorf("post %s has no text", id)
	}
	author := sp.User.ScreenName
	if author == "" {
		author = handle
	}
	title := "Post by @" + author
	if sp.User.Name != "" {
		title = fmt.Sprintf("Post by %s (@%s)", sp.User.Name, author)
	}
	return &Post{Text: text, Link: link, Title: title}, nil
}

// embedToken derives the token the embed endpoint expects: id/1e15*pi in
// base 36 with zeros and the radix point removed.
func embedToken(id string) string {
	n, err := strconv.ParseFloat(id, 64)
	if err != nil {
		return "0"
	}
	v := n / 1e15 * math.Pi
	intPart := math.Floor(v)
	frac := v - intPart

	var b strings.Builder
	b.WriteString(strconv.FormatInt(int64(intPart), 36))
	for i := 0; i < 11 && frac > 0; i++ {
		frac *= 36
		d := int64(math.Floor(frac))
		b.WriteString(strconv.FormatInt(d, 36))
		frac -= float64(d)
	}
	return strings.ReplaceAll(b.String(), "0", "")
}
