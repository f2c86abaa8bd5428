// Package activitylog writes the human-readable audit trail of ingested posts:
// a general stream with a marker per pass and one block per persisted post,
// and a language stream with one block per post that matched the target
// languages.
package activitylog

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"feedwatch/internal/domain"
)

const (
	titlePreview = 60
	bodyPreview  = 100
)

var separator = strings.Repeat("-", 80)

// Entry is everything a log block may show about one post.
type Entry struct {
	SourceID  string
	Record    domain.Record
	Permalink string
	// Language is set only for posts in the target set.
	Language string
}

// FileLog appends blocks to two files. Each block goes out in a single write,
// so nothing sits in a buffer between entries.
type FileLog struct {
	mu       sync.Mutex
	general  io.WriteCloser
	language io.WriteCloser
}

func Open(generalPath, languagePath string) (*FileLog, error) {
	general, err := openAppend(generalPath)
	if err != nil {
		return nil, err
	}
	language, err := openAppend(languagePath)
	if err != nil {
		general.Close()
		return nil, err
	}
	return New(general, language), nil
}

// New wraps already opened streams.
func New(general, language io.WriteCloser) *FileLog {
	return &FileLog{general: general, language: language}
}

func openAppend(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open activity log %s: %w", path, err)
	}
	return f, nil
}

// Fetching marks the start of a pass over sourceID in the general stream.
func (l *FileLog) Fetching(sourceID string) error {
	return l.write(l.general, FormatFetching(sourceID))
}

func (l *FileLog) Added(e Entry) error {
	return l.write(l.general, FormatAdded(e))
}

func (l *FileLog) Language(e Entry) error {
	return l.write(l.language, FormatLanguage(e))
}

func (l *FileLog) write(w io.Writer, block string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := io.WriteString(w, block); err != nil {
		return fmt.Errorf("write activity log: %w", err)
	}
	return nil
}

func (l *FileLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	errGeneral := l.general.Close()
	errLanguage := l.language.Close()
	if errGeneral != nil {
		return errGeneral
	}
	return errLanguage
}

func FormatFetching(sourceID string) string {
	return fmt.Sprintf("Fetching from r/%s...\n", sourceID)
}

// FormatAdded renders the general-stream block.
func FormatAdded(e Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[ADDED] r/%s - %s - \"%s\" (Score: %d, Comments: %d)\n",
		e.SourceID, e.Record.ID, truncate(e.Record.Title, titlePreview), e.Record.Score, e.Record.CommentCount)
	fmt.Fprintf(&b, "    URL: %s\n", e.Permalink)
	fmt.Fprintf(&b, "    Timestamp: %s\n", e.Record.CreatedAt.UTC().Format(time.DateTime))
	if e.Language != "" {
		fmt.Fprintf(&b, "    Language: %s\n", e.Language)
	}
	b.WriteString(separator)
	b.WriteString("\n")
	return b.String()
}

// FormatLanguage renders the language-stream block.
func FormatLanguage(e Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s - %s\n", strings.ToUpper(e.Language), e.Record.ID, truncate(e.Record.Title, titlePreview))
	if e.Record.Body != "" {
		fmt.Fprintf(&b, "Content: %s...\n", truncate(e.Record.Body, bodyPreview))
	}
	if e.Record.MediaURL != nil {
		fmt.Fprintf(&b, "Image: %s\n", *e.Record.MediaURL)
	}
	b.WriteString(separator)
	b.WriteString("\n")
	return b.String()
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
