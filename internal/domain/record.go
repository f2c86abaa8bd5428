package domain

import (
	"strings"
	"time"
)

// UnknownLanguage is the language code recorded when detection fails.
const UnknownLanguage = "unknown"

var mediaExtensions = []string{".jpg", ".jpeg", ".png", ".gif"}

// Item is a candidate post as returned by a feed.
type Item struct {
	ID          string
	Title       string
	Author      string
	Score       int
	CreatedUTC  int64 // unix seconds
	NumComments int
	Body        string
	URL         string
	Permalink   string
}

// Record is the persisted form of an Item in the primary table.
type Record struct {
	ID           string    `db:"id"`
	Title        string    `db:"title"`
	Author       string    `db:"author"`
	Score        int       `db:"score"`
	CreatedAt    time.Time `db:"created_at"`
	CommentCount int       `db:"comment_count"`
	SourceID     string    `db:"source_id"`
	Body         string    `db:"body"`
	MediaURL     *string   `db:"media_url"`
}

// ClassifiedRecord is a Record whose language belongs to the target set.
type ClassifiedRecord struct {
	Record
	Language string `db:"language"`
}

// Watermark is the newest item timestamp fully processed for a source.
type Watermark struct {
	SourceID  string    `db:"source_id"`
	LastSeen  int64     `db:"last_seen_timestamp"`
	UpdatedAt time.Time `db:"updated_at"`
}

// NewRecord builds the primary-table record for an item fetched from sourceID.
// NUL bytes are dropped from text fields since Postgres text cannot hold them.
func NewRecord(sourceID string, item Item) Record {
	return Record{
		ID:           stripNUL(item.ID),
		Title:        stripNUL(item.Title),
		Author:       stripNUL(item.Author),
		Score:        item.Score,
		CreatedAt:    time.Unix(item.CreatedUTC, 0).UTC(),
		CommentCount: item.NumComments,
		SourceID:     sourceID,
		Body:         stripNUL(item.Body),
		MediaURL:     MediaURL(item.URL),
	}
}

// MediaURL returns url when it points at a recognised image, nil otherwise.
func MediaURL(url string) *string {
	lower := strings.ToLower(url)
	for _, ext := range mediaExtensions {
		if strings.HasSuffix(lower, ext) {
			return &url
		}
	}
	return nil
}

func stripNUL(s string) string {
	return strings.ReplaceAll(s, "\x00", "")
}
