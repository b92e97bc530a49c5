package media

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"likevault/internal/browser"
	"likevault/internal/types"
)

// maxAssetSize caps a single download; x.com serves nothing close to
// this legitimately.
const maxAssetSize = 512 << 20

// HTTPFetcher retrieves assets over plain HTTP. The browser's user
// agent keeps the CDN from treating us differently than the feed did.
type HTTPFetcher struct {
	Client *http.Client
}

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("User-Agent", browser.DefaultUserAgent)

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("unexpected status %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAssetSize))
	if err != nil {
		return nil, "", err
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// UpgradeURL rewrites known pbs.twimg.com photo URLs to their original
// resolution variant. The feed renders downscaled "small"/"medium"
// names; the orig name serves the full file. Anything unrecognized
// passes through untouched.
func UpgradeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	if u.Host != "pbs.twimg.com" || !strings.HasPrefix(u.Path, "/media/") {
		return rawURL
	}
	q := u.Query()
	q.Set("name", "orig")
	u.RawQuery = q.Encode()
	return u.String()
}

// extByContentType maps the response's declared type to a filename
// extension. Classification trusts the header, never the URL suffix:
// CDN URLs routinely carry format hints that disagree with the bytes.
var extByContentType = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
	"video/mp4":  ".mp4",
	"video/webm": ".webm",
}

// Ext returns the extension for a Content-Type header value.
func Ext(contentType string) string {
	mediaType := strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])
	if ext, ok := extByContentType[strings.ToLower(mediaType)]; ok {
		return ext
	}
	return ".bin"
}

// Filename derives the deterministic local name for an asset:
// <post id>_<8 hex of md5(origin URL)><ext>. Repeated runs land on
// the same name, and two assets of one post never collide.
func Filename(postID, originURL, contentType string) string {
	sum := md5.Sum([]byte(originURL))
	return postID + "_" + hex.EncodeToString(sum[:])[:8] + Ext(contentType)
}

// Library writes assets under the media root, one directory per post.
type Library struct {
	Root string
}

// Save writes data to <root>/<post id>/<filename> through a temp file
// rename, so a crash never leaves a half-written asset under its final
// name. The returned path is relative to the root; the database stays
// portable when the archive moves.
func (l *Library) Save(ref types.MediaRef, data []byte, contentType string) (string, error) {
	dir := filepath.Join(l.Root, ref.PostID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create media dir: %w", err)
	}

	name := Filename(ref.PostID, ref.URL, contentType)
	final := filepath.Join(dir, name)

	tmp, err := os.CreateTemp(dir, name+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write asset: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close asset: %w", err)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("finalize asset: %w", err)
	}

	return filepath.Join(ref.PostID, name), nil
}
