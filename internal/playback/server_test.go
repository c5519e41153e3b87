package playback

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeClip(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "goal clip.mp4")
	if err := os.WriteFile(path, []byte("0123456789"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func serve(t *testing.T, method, rangeHeader, path string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(method, "/exports/x/file", nil)
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	rec := httptest.NewRecorder()
	if err := NewServer(nil).ServeClip(rec, req, path); err != nil {
		t.Fatalf("ServeClip() error = %v", err)
	}
	return rec.Result()
}

func TestServeClip_Full(t *testing.T) {
	resp := serve(t, http.MethodGet, "", writeClip(t))
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK || string(body) != "0123456789" {
		t.Fatalf("status %d body %q", resp.StatusCode, body)
	}
	if resp.Header.Get("Content-Type") != "video/mp4" {
		t.Errorf("Content-Type = %q", resp.Header.Get("Content-Type"))
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, `filename="goal clip.mp4"`) {
		t.Errorf("Content-Disposition = %q", cd)
	}
}

func TestServeClip_Partial(t *testing.T) {
	resp := serve(t, http.MethodGet, "bytes=2-5", writeClip(t))
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusPartialContent || string(body) != "2345" {
		t.Fatalf("status %d body %q", resp.StatusCode, body)
	}
	if resp.Header.Get("Content-Range") != "bytes 2-5/10" || resp.Header.Get("Content-Length") != "4" {
		t.Errorf("headers = %v", resp.Header)
	}
}

func TestServeClip_Unsatisfiable(t *testing.T) {
	resp := serve(t, http.MethodGet, "bytes=50-", writeClip(t))
	if resp.StatusCode != http.StatusRequestedRangeNotSatisfiable {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if resp.Header.Get("Content-Range") != "bytes */10" {
		t.Errorf("Content-Range = %q", resp.Header.Get("Content-Range"))
	}
}

func TestServeClip_MalformedRangeServesAll(t *testing.T) {
	resp := serve(t, http.MethodGet, "lines=1-2", writeClip(t))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestServeClip_Head(t *testing.T) {
	resp := serve(t, http.MethodHead, "", writeClip(t))
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || len(body) != 0 || resp.Header.Get("Content-Length") != "10" {
		t.Fatalf("status %d, %d body bytes, length %q", resp.StatusCode, len(body), resp.Header.Get("Content-Length"))
	}
}

func TestServeClip_Missing(t *testing.T) {
	resp := serve(t, http.MethodGet, "", filepath.Join(t.TempDir(), "nope.mp4"))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestServeClip_SanitizedAttachmentName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "derby \"final\";v2.mp4")
	if err := os.WriteFile(path, []byte("0123456789"), 0o644); err != nil {
		t.Fatal(err)
	}

	resp := serve(t, http.MethodGet, "", path)
	want := `attachment; filename="derby _final__v2.mp4"`
	if cd := resp.Header.Get("Content-Disposition"); cd != want {
		t.Errorf("Content-Disposition = %q, want %q", cd, want)
	}
}

func TestServeClip_RangeShapes(t *testing.T) {
	tests := []struct {
		header       string
		body         string
		contentRange string
	}{
		{"bytes=-3", "789", "bytes 7-9/10"},
		{"bytes=8-", "89", "bytes 8-9/10"},
		{"bytes=0-0, 5-6", "0", "bytes 0-0/10"},
		{"bytes=4-400", "456789", "bytes 4-9/10"},
	}
	path := writeClip(t)
	for _, tt := range tests {
		resp := serve(t, http.MethodGet, tt.header, path)
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusPartialContent || string(body) != tt.body {
			t.Errorf("%s: status %d body %q, want 206 %q", tt.header, resp.StatusCode, body, tt.body)
		}
		if cr := resp.Header.Get("Content-Range"); cr != tt.contentRange {
			t.Errorf("%s: Content-Range = %q, want %q", tt.header, cr, tt.contentRange)
		}
		if resp.Header.Get("Accept-Ranges") != "bytes" {
			t.Errorf("%s: Accept-Ranges = %q", tt.header, resp.Header.Get("Accept-Ranges"))
		}
	}
}

func TestServeClip_HeadWithRange(t *testing.T) {
	resp := serve(t, http.MethodHead, "bytes=2-5", writeClip(t))
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusPartialContent || len(body) != 0 {
		t.Fatalf("status %d, %d body bytes", resp.StatusCode, len(body))
	}
	if resp.Header.Get("Content-Length") != "4" || resp.Header.Get("Content-Range") != "bytes 2-5/10" {
		t.Errorf("headers = %v", resp.Header)
	}
}

func TestServeClip_Directory(t *testing.T) {
	resp := serve(t, http.MethodGet, "", t.TempDir())
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}
