package schema

import (
	"path/filepath"
	"strings"
)

// FileType is the document format of an object-storage file.
type FileType int

const (
	FileTypeUnknown FileType = iota
	FileTypePDF
	FileTypeTXT
	// FileTypeDOCX covers the zipped office family: docx, pptx, xlsx, odt, ods, odp.
	FileTypeDOCX
)

// ParseFileType maps an extension token (without the dot) to a FileType.
func ParseFileType(token string) FileType {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(token), ".")) {
	case "pdf":
		return FileTypePDF
	case "txt":
		return FileTypeTXT
	case "docx", "pptx", "xlsx", "odt", "ods", "odp":
		return FileTypeDOCX
	default:
		return FileTypeUnknown
	}
}

// FileTypeFromName derives the FileType from the extension of an object name.
func FileTypeFromName(name string) FileType {
	return ParseFileType(Extension(name))
}

// Extension returns the lowercase extension of name without the leading dot.
func Extension(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

func (f FileType) String() string {
	switch f {
	case FileTypePDF:
		return "pdf"
	case FileTypeTXT:
		return "txt"
	case FileTypeDOCX:
		return "docx"
	default:
		return "unknown"
	}
}
