package extract

import (
	"context"
	"net/http"

	"likevault/internal/types"
)

// ResolveURL follows a shortened link (t.co and friends) to its final
// destination. Resolution is best effort: any failure returns the
// input unchanged, an archive with the as-seen URL alone is still
// useful.
func ResolveURL(ctx context.Context, client *http.Client, raw string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, raw, nil)
	if err != nil {
		return raw
	}
	resp, err := client.Do(req)
	if err != nil {
		return raw
	}
	defer resp.Body.Close()

	if resp.Request != nil && resp.Request.URL != nil {
		return resp.Request.URL.String()
	}
	return raw
}

// ResolveLinks resolves every link in place, sharing one client. The
// loop stops early when the context ends; unresolved links keep their
// as-seen URL.
func ResolveLinks(ctx context.Context, client *http.Client, links []types.Link) {
	for i := range links {
		if ctx.Err() != nil {
			return
		}
		links[i].Resolved = ResolveURL(ctx, client, links[i].URL)
	}
}
