package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/network"
)

// Snapshot is the session state cached after a successful feed load.
// The browser profile holds the actual cookies; this file only records
// enough to answer "is a login in place" without launching Chrome.
type Snapshot struct {
	Handle     string    `json:"handle"`
	AuthCookie bool      `json:"auth_cookie"` // auth_token present
	CSRFCookie bool      `json:"csrf_cookie"` // ct0 present
	CapturedAt time.Time `json:"captured_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Authenticated reports whether the snapshot shows a login that has
// not expired yet.
func (s *Snapshot) Authenticated() bool {
	return s != nil && s.AuthCookie && s.CSRFCookie &&
		(s.ExpiresAt.IsZero() || time.Now().Before(s.ExpiresAt))
}

// NewSnapshot inspects the browser's cookies for the session markers
// x.com sets on login.
func NewSnapshot(handle string, cookies []*network.Cookie) Snapshot {
	snap := Snapshot{Handle: handle, CapturedAt: time.Now().UTC()}
	for _, c := range cookies {
		if c.Domain != ".x.com" && c.Domain != "x.com" {
			continue
		}
		switch c.Name {
		case "auth_token":
			snap.AuthCookie = c.Value != ""
		case "ct0":
			snap.CSRFCookie = c.Value != ""
		default:
			continue
		}
		exp := time.Unix(int64(c.Expires), 0)
		if exp.After(time.Now()) && (snap.ExpiresAt.IsZero() || exp.Before(snap.ExpiresAt)) {
			snap.ExpiresAt = exp
		}
	}
	return snap
}

// SaveSnapshot writes the snapshot to path.
func SaveSnapshot(path string, snap Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// LoadSnapshot reads the cached session state. A missing or garbled
// file reads as nil: not logged in as far as anyone can tell.
func LoadSnapshot(path string) *Snapshot {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil
	}
	return &snap
}
