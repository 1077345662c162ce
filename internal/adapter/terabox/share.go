package terabox

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/vertextoedge/terabox-downloader/internal/domain"
)

// mirror domains serving the same share links
var shareDomains = []string{
	"terabox.com",
	"terabox.app",
	"teraboxapp.com",
	"1024terabox.com",
	"1024tera.com",
	"terabox.fun",
	"teraboxlink.com",
	"terasharelink.com",
	"4funbox.com",
	"mirrobox.com",
	"nephobox.com",
	"momerybox.com",
	"tibibox.com",
	"freeterabox.com",
}

// ShareLink is a parsed share URL
type ShareLink struct {
	Host string
	SURL string // share key without the leading "1" of /s/ links
	Path string // optional folder inside the share, "/"-separated
}

// CanonicalURL returns the sharing/link form of the share
func (s ShareLink) CanonicalURL() string {
	return "https://www.terabox.com/sharing/link?surl=" + url.QueryEscape(s.SURL)
}

// FolderName returns the last path segment, used to name a download sub-folder
func (s ShareLink) FolderName() string {
	parts := strings.Split(strings.Trim(s.Path, "/"), "/")
	return parts[len(parts)-1]
}

func isShareDomain(host string) bool {
	host = strings.ToLower(strings.TrimPrefix(host, "www."))
	for _, d := range shareDomains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func invalidURL(raw string, format string, args ...interface{}) error {
	return domain.NewResolutionError(domain.ErrorKindInvalidURL, raw, fmt.Errorf(format, args...))
}

// ParseShareURL extracts the share key from the supported URL forms:
//
//	https://www.terabox.com/s/1AbCdEf
//	https://www.terabox.com/sharing/link?surl=AbCdEf&path=%2Ffolder
//	https://www.terabox.com/wap/share/filelist?surl=AbCdEf
func ParseShareURL(raw string) (ShareLink, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ShareLink{}, domain.NewResolutionError(domain.ErrorKindInvalidURL, raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ShareLink{}, invalidURL(raw, "unsupported scheme %q", u.Scheme)
	}
	if !isShareDomain(u.Hostname()) {
		return ShareLink{}, invalidURL(raw, "unknown share host %q", u.Hostname())
	}

	link := ShareLink{Host: u.Hostname()}
	q := u.Query()

	switch {
	case strings.HasPrefix(u.Path, "/s/"):
		key := strings.Trim(strings.TrimPrefix(u.Path, "/s/"), "/")
		if len(key) < 2 || key[0] != '1' {
			return ShareLink{}, invalidURL(raw, "malformed share key %q", key)
		}
		link.SURL = key[1:]
	case q.Get("surl") != "":
		link.SURL = q.Get("surl")
	default:
		return ShareLink{}, invalidURL(raw, "no share key in url")
	}

	if p := q.Get("path"); p != "" && p != "/" {
		link.Path = p
	}
	return link, nil
}

// NormalizeDownloadHost rewrites slow CDN host prefixes to the d. host
func NormalizeDownloadHost(link string) string {
	for _, prefix := range []string{"//cdn.", "//c.", "//b.", "//a."} {
		if strings.Contains(link, prefix) {
			return strings.Replace(link, prefix, "//d.", 1)
		}
	}
	return link
}
