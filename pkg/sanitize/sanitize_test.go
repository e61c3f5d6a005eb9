package sanitize

import (
	"strings"
	"testing"
)

func TestAttachmentFilename(t *testing.T) {
	tests := []struct {
		name     string
		slug     string
		version  string
		ext      string
		expected string
	}{
		{
			name:     "slug and version",
			slug:     "halo",
			version:  "1.2.0",
			ext:      "zip",
			expected: "halo-1.2.0.zip",
		},
		{
			name:     "extension with leading dot",
			slug:     "halo",
			version:  "2.0",
			ext:      ".7z",
			expected: "halo-2.0.7z",
		},
		{
			name:     "path traversal in slug",
			slug:     "../../etc/passwd",
			version:  "1",
			ext:      "zip",
			expected: "etcpasswd-1.zip",
		},
		{
			name:     "header injection characters",
			slug:     "ha\"lo\r\n",
			version:  "1;x=y",
			ext:      "zip",
			expected: "halo-1x=y.zip",
		},
		{
			name:     "non ascii replaced",
			slug:     "日本",
			version:  "1",
			ext:      "zip",
			expected: "__-1.zip",
		},
		{
			name:     "spaces replaced",
			slug:     "my mod",
			version:  "1",
			ext:      "",
			expected: "my_mod-1",
		},
		{
			name:     "empty version",
			slug:     "halo",
			version:  "",
			ext:      "zip",
			expected: "halo.zip",
		},
		{
			name:     "nothing usable",
			slug:     "...",
			version:  "",
			ext:      "",
			expected: "download",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := AttachmentFilename(tt.slug, tt.version, tt.ext)
			if result != tt.expected {
				t.Errorf("AttachmentFilename(%q, %q, %q) = %q, want %q", tt.slug, tt.version, tt.ext, result, tt.expected)
			}
		})
	}
}

func TestAttachmentFilename_LengthLimit(t *testing.T) {
	result := AttachmentFilename(strings.Repeat("a", 300), "1.0", "zip")
	if len(result) > maxFilenameLength {
		t.Fatalf("expected length <= %d, got %d", maxFilenameLength, len(result))
	}
	if !strings.HasSuffix(result, ".zip") {
		t.Fatalf("expected extension to survive truncation, got %q", result)
	}
}

func TestAuditValue(t *testing.T) {
	if got := AuditValue("  hello\x00\nworld\t "); got != "helloworld" {
		t.Fatalf("unexpected sanitized value %q", got)
	}

	long := strings.Repeat("é", MaxAuditValueLength+10)
	if got := []rune(AuditValue(long)); len(got) != MaxAuditValueLength {
		t.Fatalf("expected %d runes, got %d", MaxAuditValueLength, len(got))
	}
}

func TestAuditDetails(t *testing.T) {
	details := map[string]string{
		"Method":      "password",
		"<script>":    "x",
		"!!!":         "dropped",
		"user agent":  "curl\r\n",
		"product_id":  "p-1",
		"PRODUCT_ID!": "duplicate",
	}

	out := AuditDetails(details)

	if out["method"] != "password" {
		t.Fatalf("expected method key, got %v", out)
	}
	if out["script"] != "x" {
		t.Fatalf("expected script key stripped of brackets, got %v", out)
	}
	if _, ok := out[""]; ok {
		t.Fatalf("empty keys must be dropped: %v", out)
	}
	if out["useragent"] != "curl" {
		t.Fatalf("expected control characters stripped, got %q", out["useragent"])
	}
	// "PRODUCT_ID!" sorts before "product_id" and claims the key first.
	if out["product_id"] != "duplicate" {
		t.Fatalf("expected first sorted key to win, got %q", out["product_id"])
	}
}

func TestAuditDetails_FieldCap(t *testing.T) {
	details := make(map[string]string)
	for i := 0; i < MaxAuditFields+5; i++ {
		details[strings.Repeat("k", i+1)] = "v"
	}

	if got := len(AuditDetails(details)); got != MaxAuditFields {
		t.Fatalf("expected %d fields, got %d", MaxAuditFields, got)
	}
	if got := AuditDetails(nil); got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil map, got %v", got)
	}
}
