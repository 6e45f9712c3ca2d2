package storage

import (
	"fmt"
	"mime"
	"path/filepath"
	"strings"
)

var sizeUnits = []string{"B", "KB", "MB", "GB"}

// FormatSize renders bytes with one decimal, stepping by 1024.
func FormatSize(size int64) string {
	if size <= 0 {
		return "0 B"
	}

	value := float64(size)
	for _, unit := range sizeUnits {
		if value < 1024 {
			return fmt.Sprintf("%.1f %s", value, unit)
		}
		value /= 1024
	}
	return fmt.Sprintf("%.1f TB", value)
}

var labelsByExtension = map[string]string{
	".pdf":  "📄 PDF",
	".doc":  "📝 Word Doc",
	".docx": "📝 Word Doc",
	".xls":  "📊 Excel",
	".xlsx": "📊 Excel",
	".csv":  "📊 Sheet",
	".ppt":  "📺 Slides",
	".pptx": "📺 Slides",
	".txt":  "📄 Text",
	".md":   "📝 Markdown",
}

// TypeLabel is the short emoji label shown next to each listed item.
func TypeLabel(name string, isDir bool) string {
	if isDir {
		return "📁 Folder"
	}

	ext := strings.ToLower(filepath.Ext(name))
	if label, ok := labelsByExtension[ext]; ok {
		return label
	}

	mimeType := mime.TypeByExtension(ext)
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return "🖼️ Image"
	case strings.HasPrefix(mimeType, "video/"):
		return "🎬 Video"
	case strings.HasPrefix(mimeType, "audio/"):
		return "🎵 Audio"
	case strings.HasPrefix(mimeType, "text/"):
		return "📄 Text"
	}
	return "📄 File"
}

// textExtensions are read as plain text even when the platform mime table
// does not know them.
var textExtensions = map[string]struct{}{
	".txt": {}, ".md": {}, ".markdown": {}, ".csv": {}, ".tsv": {}, ".log": {},
	".json": {}, ".yaml": {}, ".yml": {}, ".xml": {}, ".html": {}, ".htm": {},
	".ini": {}, ".toml": {}, ".rst": {},
}

const (
	contentText = "text"
	contentPDF  = "pdf"
	contentDocx = "docx"
)

// contentKind classifies a file for GetContent from its extension and a
// sniffed mime type. Empty means unsupported.
func contentKind(name string, sniffed string) string {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".pdf":
		return contentPDF
	case ".docx":
		return contentDocx
	}
	if _, ok := textExtensions[ext]; ok {
		return contentText
	}
	if strings.HasPrefix(mime.TypeByExtension(ext), "text/") {
		return contentText
	}
	if ext == "" && strings.HasPrefix(sniffed, "text/") {
		return contentText
	}
	return ""
}
