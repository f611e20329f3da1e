package repo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"time"

	"github.com/PuerkitoBio/goquery"
	goversion "github.com/hashicorp/go-version"

	"github.com/dagimg-dot/spotinstaller/internal/version"
)

var (
	errBadHTTPStatus   = errors.New("unexpected http status")
	errNoPackagesFound = errors.New("no client packages found in pool listing")

	// packagePattern matches pool entries such as
	// spotify-client_1.2.31.1205.g4d59ad7c.gdfe0da21-1_amd64.deb
	// and captures the full Debian version between the underscores.
	packagePattern = regexp.MustCompile(`^spotify-client_([^_/]+)_amd64\.deb$`)

	// numericCorePattern extracts the orderable four-integer core of the
	// upstream version. Trailing git-hash build tags and the Debian revision
	// are content markers, not ordered, and never participate in comparison.
	numericCorePattern = regexp.MustCompile(`^\d+(?:\.\d+){3}`)
)

// Package describes one installable client package found in the pool listing.
type Package struct {
	// Filename is the archive name as published, e.g.
	// spotify-client_1.2.31.1205.g4d59ad7c.gdfe0da21-1_amd64.deb.
	Filename string
	// Version is the full Debian version string between the underscores.
	Version string
	// Numeric is the orderable four-integer core of Version.
	Numeric *goversion.Version
	// URL is the absolute download location.
	URL string
}

// Client fetches and interprets the vendor pool directory listing.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient returns a listing client for the provided pool URL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		//nolint:exhaustruct // Default transport is fine here.
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Latest fetches the pool listing and returns the newest client package.
// Entries whose version core does not parse are skipped.
func (c *Client) Latest(ctx context.Context) (*Package, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse pool URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base.String(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build listing request: %w", err)
	}

	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch pool listing: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s, %s: %w", base, resp.Status, errBadHTTPStatus)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse pool listing: %w", err)
	}

	var newest *Package

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")

		pkg := parseEntry(base, href)
		if pkg == nil {
			return
		}

		if newest == nil || pkg.Numeric.GreaterThan(newest.Numeric) {
			newest = pkg
		}
	})

	if newest == nil {
		return nil, fmt.Errorf("%s: %w", base, errNoPackagesFound)
	}

	return newest, nil
}

// parseEntry turns one listing anchor into a Package, or nil when the href
// is not a client package or carries an unparsable version.
func parseEntry(base *url.URL, href string) *Package {
	ref, err := url.Parse(href)
	if err != nil {
		return nil
	}

	resolved := base.ResolveReference(ref)
	filename := path.Base(resolved.Path)

	matches := packagePattern.FindStringSubmatch(filename)
	if matches == nil {
		return nil
	}

	fullVersion := matches[1]

	core := numericCorePattern.FindString(fullVersion)
	if core == "" {
		return nil
	}

	numeric, err := goversion.NewVersion(core)
	if err != nil {
		return nil
	}

	return &Package{
		Filename: filename,
		Version:  fullVersion,
		Numeric:  numeric,
		URL:      resolved.String(),
	}
}

// ParseInstalledVersion turns the version reported by the installed binary
// into an orderable version. The reported string has the same shape as the
// upstream part of the package version.
func ParseInstalledVersion(reported string) (*goversion.Version, error) {
	core := numericCorePattern.FindString(reported)
	if core == "" {
		return nil, fmt.Errorf("no numeric version core in %q", reported)
	}

	parsed, err := goversion.NewVersion(core)
	if err != nil {
		return nil, fmt.Errorf("parse version %q: %w", reported, err)
	}

	return parsed, nil
}
