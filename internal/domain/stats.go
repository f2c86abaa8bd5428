package domain

import "time"

// IngestStats holds statistics about one ingestion pass over a source.
type IngestStats struct {
	SourceID   string
	Fetched    int
	Skipped    int
	New        int
	Classified int
	Published  int
	Errors     int
	Watermark  int64
	Duration   time.Duration
}
