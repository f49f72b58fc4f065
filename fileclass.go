package runes

import (
	"os"
	"path/filepath"
	"strings"
)

// FileKind is the coarse classification of a result file
type FileKind string

const (
	FileAudio FileKind = "audio"
	FileMIDI  FileKind = "midi"
	FileText  FileKind = "text"
	FileVideo FileKind = "video"
	FileImage FileKind = "image"
	FileOther FileKind = "other"
)

var fileKindsByExtension = map[string]FileKind{
	".mp3":  FileAudio,
	".wav":  FileAudio,
	".aac":  FileAudio,
	".aif":  FileAudio,
	".aiff": FileAudio,
	".flac": FileAudio,
	".ogg":  FileAudio,

	".midi": FileMIDI,
	".mid":  FileMIDI,

	".txt":  FileText,
	".md":   FileText,
	".docx": FileText,
	".pdf":  FileText,

	".mp4": FileVideo,
	".avi": FileVideo,
	".mov": FileVideo,
	".mkv": FileVideo,

	".jpg":  FileImage,
	".jpeg": FileImage,
	".png":  FileImage,
	".gif":  FileImage,
	".bmp":  FileImage,
	".tiff": FileImage,
	".webp": FileImage,
}

// ClassifyFile classifies a path by its extension
func ClassifyFile(path string) FileKind {
	ext := strings.ToLower(filepath.Ext(path))
	if kind, ok := fileKindsByExtension[ext]; ok {
		return kind
	}
	return FileOther
}

// supportedFileKinds is the set accepted by AddFileURL
var supportedFileKinds = map[FileKind]bool{
	FileAudio: true,
	FileMIDI:  true,
	FileText:  true,
	FileVideo: true,
	FileImage: true,
}

func ensureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}
