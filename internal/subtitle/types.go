package subtitle

import (
	"time"

	"golang.org/x/text/language"
)

// Writer is the interface for writing subtitle files
type Writer interface {
	Write(path string, subtitle *File) error
	Ext() string
}

// Line is a single timed caption
type Line struct {
	Index     int           // 1-based cue number
	StartTime time.Duration // start time
	EndTime   time.Duration // end time
	Text      string        // caption text
}

// File represents subtitle file
type File struct {
	Lines    []Line
	Language language.Tag
}
