package subtitle

import (
	"bufio"
	"bytes"
	"fmt"
	"time"

	"golang.org/x/text/language"

	"github.com/MimeLyc/faceless-pipeline/pkg/file"
)

// SRTWriter writes SubRip files
type SRTWriter struct{}

// VTTWriter writes WebVTT files
type VTTWriter struct{}

func (SRTWriter) Ext() string { return "srt" }
func (VTTWriter) Ext() string { return "vtt" }

// Write writes subtitle file to specified path
func (SRTWriter) Write(path string, subtitle *File) error {
	if subtitle == nil {
		return fmt.Errorf("subtitle data is empty")
	}

	var buf bytes.Buffer
	writer := bufio.NewWriter(&buf)
	for _, line := range subtitle.Lines {
		fmt.Fprintf(writer, "%d\n", line.Index)
		fmt.Fprintf(writer, "%s --> %s\n", formatDuration(line.StartTime, ','), formatDuration(line.EndTime, ','))
		fmt.Fprintf(writer, "%s\n\n", line.Text)
	}
	if err := writer.Flush(); err != nil {
		return err
	}
	return file.WriteAtomic(path, buf.Bytes(), 0o644)
}

func (VTTWriter) Write(path string, subtitle *File) error {
	if subtitle == nil {
		return fmt.Errorf("subtitle data is empty")
	}

	var buf bytes.Buffer
	writer := bufio.NewWriter(&buf)
	writer.WriteString("WEBVTT\n")
	if subtitle.Language != language.Und {
		fmt.Fprintf(writer, "Kind: captions\nLanguage: %s\n", subtitle.Language)
	}
	writer.WriteString("\n")
	for _, line := range subtitle.Lines {
		fmt.Fprintf(writer, "%s --> %s\n", formatDuration(line.StartTime, '.'), formatDuration(line.EndTime, '.'))
		fmt.Fprintf(writer, "%s\n\n", line.Text)
	}
	if err := writer.Flush(); err != nil {
		return err
	}
	return file.WriteAtomic(path, buf.Bytes(), 0o644)
}

// formatDuration formats d as HH:MM:SS<sep>mmm; SRT uses ',' and VTT '.'.
func formatDuration(d time.Duration, sep rune) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	milliseconds := int(d.Milliseconds()) % 1000

	return fmt.Sprintf("%02d:%02d:%02d%c%03d", hours, minutes, seconds, sep, milliseconds)
}
