package extract

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Selectors holds the X.com DOM queries the extractor matches against.
// They are isolated here because X changes their DOM frequently; when
// extraction breaks, an override file fixes it without a rebuild.
type Selectors struct {
	Article       string `yaml:"article"`
	Text          string `yaml:"text"`
	UserName      string `yaml:"user_name"`
	Timestamp     string `yaml:"timestamp"`
	StatusLink    string `yaml:"status_link"`
	Photo         string `yaml:"photo"`
	VideoPlayer   string `yaml:"video_player"`
	Card          string `yaml:"card"`
	Quote         string `yaml:"quote"`
	SocialContext string `yaml:"social_context"`
	ReplyCount    string `yaml:"reply_count"`
	RepostCount   string `yaml:"repost_count"`
	LikeCount     string `yaml:"like_count"`
}

// DefaultSelectors matches the X.com markup as of mid-2026.
func DefaultSelectors() Selectors {
	return Selectors{
		Article:       `article[data-testid="tweet"]`,
		Text:          `[data-testid="tweetText"]`,
		UserName:      `[data-testid="User-Name"]`,
		Timestamp:     `time`,
		StatusLink:    `a[href*="/status/"]`,
		Photo:         `[data-testid="tweetPhoto"] img`,
		VideoPlayer:   `[data-testid="videoPlayer"] video`,
		Card:          `[data-testid="card.wrapper"]`,
		Quote:         `[data-testid="quoteTweet"]`,
		SocialContext: `[data-testid="socialContext"]`,
		ReplyCount:    `[data-testid="reply"]`,
		RepostCount:   `[data-testid="retweet"]`,
		LikeCount:     `[data-testid="like"]`,
	}
}

// LoadSelectors reads an override file over the defaults. A missing
// file is not an error; only keys present in the file are replaced.
func LoadSelectors(path string) (Selectors, error) {
	sel := DefaultSelectors()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return sel, nil
	}
	if err != nil {
		return sel, fmt.Errorf("read selector overrides: %w", err)
	}
	if err := yaml.Unmarshal(data, &sel); err != nil {
		return DefaultSelectors(), fmt.Errorf("parse selector overrides: %w", err)
	}
	return sel, nil
}
