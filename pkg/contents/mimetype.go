package contents

import (
	"mime"
	"strings"

	"github.com/3leaps/s3contents/pkg/pathmap"
)

// knownMimetypes covers extensions common in notebook workspaces that the
// platform MIME table may not know.
var knownMimetypes = map[string]string{
	".txt":  "text/plain",
	".md":   "text/markdown",
	".py":   "text/x-python",
	".r":    "text/x-r",
	".csv":  "text/csv",
	".tsv":  "text/tab-separated-values",
	".yaml": "text/yaml",
	".yml":  "text/yaml",
	".toml": "text/x-toml",
	".ini":  "text/plain",
	".cfg":  "text/plain",
	".log":  "text/plain",
	".sh":   "text/x-sh",
	".sql":  "text/x-sql",
	".html": "text/html",
	".css":  "text/css",
	".js":   "text/javascript",
	".json": "application/json",
	".xml":  "application/xml",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".svg":  "image/svg+xml",
	".pdf":  "application/pdf",
	".zip":  "application/zip",
	".gz":   "application/gzip",
}

var textApplicationTypes = map[string]bool{
	"application/json":       true,
	"application/xml":        true,
	"application/javascript": true,
	"application/x-yaml":     true,
	"application/x-sh":       true,
}

// guessMimetype returns the mimetype implied by the extension of p, or "".
func guessMimetype(p string) string {
	ext := pathmap.Ext(p)
	if ext == "" {
		return ""
	}
	if mt, ok := knownMimetypes[ext]; ok {
		return mt
	}
	return mediaType(mime.TypeByExtension(ext))
}

// fileMimetype prefers the extension and falls back to the stored content
// type, ignoring generic binary types.
func fileMimetype(p, stored string) string {
	if mt := guessMimetype(p); mt != "" {
		return mt
	}
	switch mt := mediaType(stored); mt {
	case "", DefaultMimetype, "binary/octet-stream":
		return ""
	default:
		return mt
	}
}

func isTextMimetype(mt string) bool {
	return strings.HasPrefix(mt, "text/") || textApplicationTypes[mt]
}

func mediaType(ct string) string {
	mt, _, _ := strings.Cut(ct, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}
