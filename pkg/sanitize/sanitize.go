package sanitize

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	maxFilenameLength = 200
	maxAuditKeyLength = 64
	// MaxAuditValueLength bounds a single audit detail value, in runes.
	MaxAuditValueLength = 256
	// MaxAuditFields bounds the number of detail keys kept per entry.
	MaxAuditFields = 32
)

// AttachmentFilename builds the forced download name "{slug}-{version}{ext}".
// The result is ASCII-only and safe to embed in a Content-Disposition header.
// ext may be given with or without its leading dot.
func AttachmentFilename(slug, version, ext string) string {
	base := headerSafe(slug)
	if v := headerSafe(version); v != "" {
		if base == "" {
			base = v
		} else {
			base = base + "-" + v
		}
	}
	if base == "" {
		base = "download"
	}

	ext = strings.TrimPrefix(headerSafe(ext), ".")
	if ext != "" {
		ext = "." + ext
	}

	if len(base)+len(ext) > maxFilenameLength {
		keep := maxFilenameLength - len(ext)
		if keep < 1 {
			keep = 1
			ext = ""
		}
		base = base[:keep]
	}
	return base + ext
}

// headerSafe drops path separators, quotes, control characters and anything
// outside printable ASCII, then trims dots and spaces from both ends.
func headerSafe(s string) string {
	out := strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\' || r == '"' || r == '\'' || r == ';':
			return -1
		case unicode.IsControl(r):
			return -1
		case r > unicode.MaxASCII:
			return '_'
		case unicode.IsSpace(r):
			return '_'
		}
		return r
	}, s)
	return strings.Trim(out, ". ")
}

// AuditValue strips control characters from a caller-influenced string and
// caps its length so it can be stored in an audit detail payload.
func AuditValue(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == utf8.RuneError || unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	s = strings.TrimSpace(s)

	if utf8.RuneCountInString(s) > MaxAuditValueLength {
		runes := []rune(s)
		s = string(runes[:MaxAuditValueLength])
	}
	return s
}

// AuditKey lowercases a detail key and keeps only [a-z0-9_]. It returns ""
// when nothing usable remains.
func AuditKey(k string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(k) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		}
		if b.Len() >= maxAuditKeyLength {
			break
		}
	}
	return b.String()
}

// AuditDetails returns a sanitized copy of an audit detail map. Keys that
// sanitize to nothing are dropped, and at most MaxAuditFields entries are
// kept (in lexical key order).
func AuditDetails(details map[string]string) map[string]string {
	if len(details) == 0 {
		return map[string]string{}
	}

	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]string, len(details))
	for _, k := range keys {
		if len(out) >= MaxAuditFields {
			break
		}
		clean := AuditKey(k)
		if clean == "" {
			continue
		}
		if _, exists := out[clean]; exists {
			continue
		}
		out[clean] = AuditValue(details[k])
	}
	return out
}
