/*
Package remotecard downloads character cards from the web. Card sharing sites
usually link to a page rather than the PNG itself, so HTML responses are searched
for an Open Graph image, which is where those sites put the card.
*/
package remotecard

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/opencompanion/companion/src/logging"
	"github.com/opencompanion/companion/src/utils"
)

var (
	// The response body ran past Fetcher.MaxSize.
	ErrDownloadTooBig = errors.New("download too big")

	// The URL answered with an error status, or with a page that has no Open Graph
	// image.
	ErrNoCardFound = errors.New("no card found at url")

	// The host is a loopback, private, link-local or unspecified address.
	ErrForbiddenHost = errors.New("refusing to fetch from a private address")

	// The URL did not parse, or its scheme is something other than http or https.
	ErrBadURL = errors.New("url must be http or https")
)

type Download struct {
	Data        []byte
	ContentType string
	Filename    string
}

type Fetcher struct {
	Timeout time.Duration
	MaxSize int

	// Allow loopback and private network addresses. Only for tests.
	AllowPrivate bool
}

func (f *Fetcher) client() *http.Client {
	dialer := &net.Dialer{
		Timeout: f.Timeout,
	}
	if !f.AllowPrivate {
		dialer.Control = func(network, address string, c syscall.RawConn) error {
			host, _, err := net.SplitHostPort(address)
			if err != nil {
				return err
			}
			if ip := net.ParseIP(host); ip == nil || isPrivate(ip) {
				return fmt.Errorf("%w: %s", ErrForbiddenHost, host)
			}
			return nil
		}
	}

	return &http.Client{
		Timeout: f.Timeout,
		Transport: &http.Transport{
			DialContext: dialer.DialContext,
		},
	}
}

func isPrivate(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsInterfaceLocalMulticast()
}

/*
Downloads a card. If the url points to an html page, the page's Open Graph image
is fetched instead. Only the first 100kb of a page is looked at; maxSize applies to
the card itself.
*/
func (f *Fetcher) Fetch(ctx context.Context, urlStr string) (*Download, error) {
	log := logging.ExtractLogger(ctx)

	u, err := url.Parse(urlStr)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, ErrBadURL
	}

	client := f.client()
	res, err := get(ctx, client, urlStr)
	if err != nil {
		return nil, err
	}

	contentType := res.Header.Get("Content-Type")
	log.Debug().Str("url", urlStr).Str("type", contentType).Msg("Fetched remote card")
	if strings.HasPrefix(contentType, "text/html") || strings.HasPrefix(contentType, "application/xhtml") {
		var buffer bytes.Buffer
		_, err := io.CopyN(&buffer, res.Body, 100*1024) // If the opengraph stuff isn't in the first 100kb, we don't care.
		res.Body.Close()
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}

		imageUrl := ExtractImageFromOpenGraph(buffer.Bytes())
		if imageUrl == "" {
			return nil, ErrNoCardFound
		}
		resolved, err := u.Parse(imageUrl)
		if err != nil {
			return nil, ErrNoCardFound
		}
		urlStr = resolved.String()
		log.Debug().Str("url", urlStr).Msg("Following Open Graph image")

		res, err = get(ctx, client, urlStr)
		if err != nil {
			return nil, err
		}
		contentType = res.Header.Get("Content-Type")
	}
	defer res.Body.Close()

	var buffer bytes.Buffer
	n, err := io.CopyN(&buffer, res.Body, int64(f.MaxSize+1))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if n == int64(f.MaxSize+1) {
		return nil, ErrDownloadTooBig
	}

	filename := ""
	if final, err := url.Parse(urlStr); err == nil {
		lastSlash := utils.IntMax(strings.LastIndex(final.Path, "/"), 0)
		filename = strings.TrimPrefix(final.Path[lastSlash:], "/")
	}

	return &Download{
		Data:        buffer.Bytes(),
		ContentType: contentType,
		Filename:    filename,
	}, nil
}

func get(ctx context.Context, client *http.Client, urlStr string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, err
	}
	res, err := client.Do(req)
	if err != nil {
		if errors.Is(err, ErrForbiddenHost) {
			return nil, ErrForbiddenHost
		}
		return nil, err
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		res.Body.Close()
		return nil, ErrNoCardFound
	}
	return res, nil
}

var metaRegex = regexp.MustCompile(`<meta\s+([^>]+)/?>`)
var metaAttrRegex = regexp.MustCompile(`(?P<key>\w+)="(?P<value>[^"]+)"`)

var OGKeys = []string{
	"og:image",
	"og:image:url",
	"og:image:secure_url",
	"twitter:image",
}

// Tries to find an Open Graph image url in the provided html. Since we only need
// to look at meta tags in the head, we don't need the full html document.
func ExtractImageFromOpenGraph(partialHtml []byte) string {
	keyIdx := metaAttrRegex.SubexpIndex("key")
	valueIdx := metaAttrRegex.SubexpIndex("value")
	html := string(partialHtml)
	matches := metaRegex.FindAllStringSubmatch(html, -1)
	for _, m := range matches {
		if len(m) > 1 {
			content := ""
			prop := ""
			attrs := metaAttrRegex.FindAllStringSubmatch(m[1], -1)
			for _, attr := range attrs {
				key := attr[keyIdx]
				value := attr[valueIdx]
				if key == "name" || key == "property" {
					for _, ogKey := range OGKeys {
						if value == ogKey {
							prop = value
						}
					}
				} else if key == "content" {
					content = value
				}
			}
			if content != "" && prop != "" {
				return content
			}
		}
	}
	return ""
}
