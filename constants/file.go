package constants

import "strings"

// AllowedExtensions holds the file extensions accepted by the upload endpoint.
var AllowedExtensions = map[string]struct{}{
	"pdf":  {},
	"jpg":  {},
	"jpeg": {},
	"png":  {},
}

// ImageExtensions are stored as-is; everything else in AllowedExtensions is a document.
var ImageExtensions = map[string]struct{}{
	"jpg":  {},
	"jpeg": {},
	"png":  {},
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// ExtFromName returns the normalized extension of a file name, or "bin" when it has none.
func ExtFromName(name string) string {
	i := strings.LastIndex(name, ".")
	if i < 0 || i == len(name)-1 {
		return "bin"
	}
	return NormalizeExt(name[i+1:])
}
