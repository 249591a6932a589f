package download

import (
	"strings"
	"testing"
)

func TestParseReference(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{
			name: "all parameters present",
			url:  "https://court.example/notice?noticeId=n-1&batchId=b-2&receiptId=r-3",
		},
		{
			name:    "missing receipt id",
			url:     "https://court.example/notice?noticeId=n-1&batchId=b-2",
			wantErr: true,
		},
		{
			name:    "no query at all",
			url:     "https://court.example/notice",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			params, err := parseReference(tt.url)
			if tt.wantErr {
				if err == nil {
					t.Fatal("parseReference() error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseReference() error = %v", err)
			}
			if params.NoticeID != "n-1" || params.BatchID != "b-2" || params.ReceiptID != "r-3" {
				t.Fatalf("params = %+v", params)
			}
		})
	}
}

func TestDecodeListing(t *testing.T) {
	t.Parallel()

	t.Run("wrapped envelope", func(t *testing.T) {
		t.Parallel()

		payload := []byte(`{"code":0,"message":"ok","data":[{"name":"判决书.pdf","format":"pdf","url":"https://court.example/f/1"}]}`)
		docs, err := decodeListing(payload)
		if err != nil {
			t.Fatalf("decodeListing() error = %v", err)
		}
		if len(docs) != 1 || docs[0].Name != "判决书.pdf" {
			t.Fatalf("docs = %+v", docs)
		}
	})

	t.Run("bare array", func(t *testing.T) {
		t.Parallel()

		payload := []byte(`[{"name":"a.pdf","format":"pdf","url":"https://court.example/f/2"}]`)
		docs, err := decodeListing(payload)
		if err != nil {
			t.Fatalf("decodeListing() error = %v", err)
		}
		if len(docs) != 1 || docs[0].URL != "https://court.example/f/2" {
			t.Fatalf("docs = %+v", docs)
		}
	})

	t.Run("envelope with business error code", func(t *testing.T) {
		t.Parallel()

		payload := []byte(`{"code":401,"message":"token expired","data":[]}`)
		if _, err := decodeListing(payload); err == nil {
			t.Fatal("decodeListing() error = nil, want rejection")
		}
	})

	t.Run("garbage payload", func(t *testing.T) {
		t.Parallel()

		if _, err := decodeListing([]byte(`<html>login page</html>`)); err == nil {
			t.Fatal("decodeListing() error = nil, want parse error")
		}
	})
}

func TestBuildResult(t *testing.T) {
	t.Parallel()

	if _, err := buildResult(nil); err == nil {
		t.Fatal("buildResult(nil) error = nil, want empty-listing error")
	}

	items := []ItemResult{{Name: "a.pdf"}, {Name: "b.pdf"}}
	if _, err := buildResult(items); err == nil {
		t.Fatal("buildResult() error = nil, want all-failed error")
	}

	items[1].Success = true
	result, err := buildResult(items)
	if err != nil {
		t.Fatalf("buildResult() error = %v", err)
	}
	total, succeeded, failed := result.counts()
	if total != 2 || succeeded != 1 || failed != 1 {
		t.Fatalf("counts = %d/%d/%d, want 2/1/1", total, succeeded, failed)
	}
}

func TestSanitizeFileName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"判决书.pdf", "判决书.pdf"},
		{"  spaced.pdf ", "spaced.pdf"},
		{"../../etc/passwd", "passwd"},
		{"", "document"},
	}
	for _, tt := range tests {
		if got := SanitizeFileName(tt.in); got != tt.want {
			t.Fatalf("SanitizeFileName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	if got := SanitizeFileName("a/b\\c.pdf"); strings.ContainsAny(got, "/\\") {
		t.Fatalf("SanitizeFileName left separators in %q", got)
	}
}
