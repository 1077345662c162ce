package terabox

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vertextoedge/terabox-downloader/internal/domain"
)

func TestParseShareURL(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantSURL string
		wantPath string
		wantErr  bool
	}{
		{name: "short link", raw: "https://www.terabox.com/s/1AbCdEf", wantSURL: "AbCdEf"},
		{name: "mirror domain", raw: "https://1024terabox.com/s/1xyz/", wantSURL: "xyz"},
		{name: "sharing link with path", raw: "https://www.terabox.app/sharing/link?surl=AbC&path=%2FMovies%2F2024", wantSURL: "AbC", wantPath: "/Movies/2024"},
		{name: "root path ignored", raw: "https://terabox.com/sharing/link?surl=AbC&path=%2F", wantSURL: "AbC"},
		{name: "wap form", raw: "https://www.terabox.com/wap/share/filelist?surl=Q1w2", wantSURL: "Q1w2"},
		{name: "unknown host", raw: "https://example.com/s/1abc", wantErr: true},
		{name: "no key", raw: "https://www.terabox.com/main", wantErr: true},
		{name: "bad short key", raw: "https://www.terabox.com/s/2abc", wantErr: true},
		{name: "ftp scheme", raw: "ftp://terabox.com/s/1abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseShareURL(tt.raw)
			if tt.wantErr {
				if domain.KindOf(err) != domain.ErrorKindInvalidURL {
					t.Errorf("ParseShareURL() error = %v, want invalid_url", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseShareURL() error = %v", err)
			}
			if got.SURL != tt.wantSURL || got.Path != tt.wantPath {
				t.Errorf("ParseShareURL() = %+v, want surl=%q path=%q", got, tt.wantSURL, tt.wantPath)
			}
		})
	}
}

func TestShareLink_FolderName(t *testing.T) {
	if got := (ShareLink{Path: "/Movies/2024/"}).FolderName(); got != "2024" {
		t.Errorf("FolderName() = %q, want 2024", got)
	}
}

func TestShareLink_CanonicalURL(t *testing.T) {
	link, err := ParseShareURL("https://1024terabox.com/s/1Ab+C")
	if err != nil {
		t.Fatalf("ParseShareURL() error = %v", err)
	}
	if got, want := link.CanonicalURL(), "https://www.terabox.com/sharing/link?surl=Ab%2BC"; got != want {
		t.Errorf("CanonicalURL() = %q, want %q", got, want)
	}
}

func TestNormalizeDownloadHost(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "https://cdn.terabox.com/file/x", want: "https://d.terabox.com/file/x"},
		{in: "https://c.terabox.com/x", want: "https://d.terabox.com/x"},
		{in: "https://a.terabox.com/x", want: "https://d.terabox.com/x"},
		{in: "https://d.terabox.com/x", want: "https://d.terabox.com/x"},
		{in: "https://data.terabox.com/x", want: "https://data.terabox.com/x"},
	}

	for _, tt := range tests {
		if got := NormalizeDownloadHost(tt.in); got != tt.want {
			t.Errorf("NormalizeDownloadHost(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

const listingJSON = `{
  "status": "success",
  "list": [
    {"name": "a", "is_dir": "1", "fs_id": 1, "children": [
      {"name": "b.txt", "is_dir": 0, "size": "10", "fs_id": 2, "dlink": "https://cdn.terabox.com/b"},
      {"name": "c", "is_dir": true, "children": [
        {"name": "d.txt", "size": 20, "fs_id": "3", "dlink": "https://d.terabox.com/d"}
      ]}
    ]}
  ]
}`

func TestClient_Resolve(t *testing.T) {
	var gotQuery, gotCookie string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("surl")
		gotCookie = r.Header.Get("Cookie")
		w.Write([]byte(listingJSON))
	}))
	defer srv.Close()

	c := NewClient(Config{Endpoint: srv.URL + "/api/list", Cookie: "ndus=abc", NormalizeHost: true})
	files, err := c.Resolve(context.Background(), "https://www.terabox.com/s/1AbC")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if gotQuery != "AbC" || gotCookie != "ndus=abc" {
		t.Errorf("request surl=%q cookie=%q", gotQuery, gotCookie)
	}
	if len(files) != 2 {
		t.Fatalf("Resolve() returned %d files, want 2", len(files))
	}
	if files[0].Path() != "a/b.txt" || files[0].Size != 10 || files[0].RemoteID != "2" {
		t.Errorf("files[0] = %+v", files[0])
	}
	if files[0].DownloadURL != "https://d.terabox.com/b" {
		t.Errorf("DownloadURL = %q, want normalized host", files[0].DownloadURL)
	}
	if files[1].Path() != "a/c/d.txt" || files[1].Size != 20 {
		t.Errorf("files[1] = %+v", files[1])
	}
}

func TestClient_ListNarrowsToPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(listingJSON))
	}))
	defer srv.Close()

	c := NewClient(Config{Endpoint: srv.URL})
	entries, err := c.List(context.Background(), "https://www.terabox.com/sharing/link?surl=AbC&path=%2FA%2Fc")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "d.txt" {
		t.Errorf("List() = %+v, want only d.txt", entries)
	}
}

func TestClient_ResolveErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantKind domain.ErrorKind
	}{
		{name: "expired body", status: 200, body: `{"status":"error","error":"expired","message":"share expired"}`, wantKind: domain.ErrorKindExpired},
		{name: "unknown error body", status: 200, body: `{"status":"error","error":"weird"}`, wantKind: domain.ErrorKindNotFound},
		{name: "gone", status: http.StatusGone, wantKind: domain.ErrorKindExpired},
		{name: "not found", status: http.StatusNotFound, wantKind: domain.ErrorKindNotFound},
		{name: "rate limited", status: http.StatusTooManyRequests, wantKind: domain.ErrorKindRateLimited},
		{name: "bad request", status: http.StatusBadRequest, wantKind: domain.ErrorKindInvalidURL},
		{name: "empty share", status: 200, body: `{"status":"success","list":[]}`, wantKind: domain.ErrorKindNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(Config{Endpoint: srv.URL}).Resolve(context.Background(), "https://terabox.com/s/1x")
			var re *domain.ResolutionError
			if !errors.As(err, &re) {
				t.Fatalf("Resolve() error = %v, want *ResolutionError", err)
			}
			if re.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", re.Kind, tt.wantKind)
			}
			if domain.IsRecoverable(err) {
				t.Error("resolution error should not be recoverable")
			}
		})
	}
}

func TestClient_ServiceOutageIsNotAResolutionError(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "server error", status: http.StatusBadGateway},
		{name: "garbled body", status: 200, body: "<html>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(Config{Endpoint: srv.URL}).Resolve(context.Background(), "https://terabox.com/s/1x")
			if err == nil {
				t.Fatal("Resolve() error = nil")
			}
			var re *domain.ResolutionError
			if errors.As(err, &re) {
				t.Errorf("Resolve() error = %v, want a plain error, got kind %v", err, re.Kind)
			}
		})
	}
}

func TestClient_NoEndpoint(t *testing.T) {
	_, err := NewClient(Config{}).Resolve(context.Background(), "https://terabox.com/s/1x")
	if !errors.Is(err, ErrNoEndpoint) {
		t.Errorf("Resolve() error = %v, want ErrNoEndpoint", err)
	}
}

func TestMirrorProber_Fastest(t *testing.T) {
	fast := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 4096)))
	}))
	defer fast.Close()
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(strings.Repeat("x", 4096)))
	}))
	defer slow.Close()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer broken.Close()

	p := NewMirrorProber("")
	if got := p.Fastest(context.Background(), []string{broken.URL, slow.URL, fast.URL}); got != fast.URL {
		t.Errorf("Fastest() = %q, want fast server", got)
	}
	if got := p.Fastest(context.Background(), []string{broken.URL, broken.URL + "/x"}); got != broken.URL {
		t.Errorf("Fastest() with all failing = %q, want first link", got)
	}
}
