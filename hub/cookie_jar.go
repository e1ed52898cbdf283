package hub

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"sync"
	"time"
)

// persistentCookieJar is a cookie jar that survives restarts by mirroring
// the hub session cookies to a JSON file.
type persistentCookieJar struct {
	*cookiejar.Jar
	path    string
	baseURL string
	mu      sync.Mutex
}

// cookieEntry represents a single cookie entry for serialization
type cookieEntry struct {
	Name       string    `json:"name"`
	Value      string    `json:"value"`
	Domain     string    `json:"domain"`
	Path       string    `json:"path"`
	Expires    time.Time `json:"expires"`
	RawExpires string    `json:"raw_expires,omitempty"`
	MaxAge     int       `json:"max_age"`
	Secure     bool      `json:"secure"`
	HttpOnly   bool      `json:"http_only"`
	SameSite   int       `json:"same_site"`
	Raw        string    `json:"raw,omitempty"`
	Unparsed   []string  `json:"unparsed,omitempty"`
}

// newPersistentCookieJar creates a jar backed by the file at path, scoped to
// the given base URL.
func newPersistentCookieJar(path, baseURL string) (*persistentCookieJar, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	pjar := &persistentCookieJar{
		Jar:     jar,
		path:    path,
		baseURL: baseURL,
	}

	if err := pjar.load(); err != nil {
		// It's okay if the file doesn't exist
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load cookies: %w", err)
		}
	}

	return pjar, nil
}

// SetCookies implements the http.CookieJar interface
func (j *persistentCookieJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.Jar.SetCookies(u, cookies)

	if err := j.saveLocked(); err != nil {
		// Don't fail the request over a persistence problem.
		fmt.Fprintf(os.Stderr, "failed to save cookies: %v\n", err)
	}
}

// load reads cookies from the file
func (j *persistentCookieJar) load() error {
	data, err := os.ReadFile(j.path)
	if err != nil {
		return err
	}

	var entries []cookieEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("failed to unmarshal cookies: %w", err)
	}

	cookies := make([]*http.Cookie, len(entries))
	for i, entry := range entries {
		cookies[i] = &http.Cookie{
			Name:       entry.Name,
			Value:      entry.Value,
			Path:       entry.Path,
			Domain:     entry.Domain,
			Expires:    entry.Expires,
			RawExpires: entry.RawExpires,
			MaxAge:     entry.MaxAge,
			Secure:     entry.Secure,
			HttpOnly:   entry.HttpOnly,
			SameSite:   http.SameSite(entry.SameSite),
			Raw:        entry.Raw,
			Unparsed:   entry.Unparsed,
		}
	}

	// All persisted cookies belong to the hub host.
	base, err := url.Parse(j.baseURL)
	if err != nil {
		return fmt.Errorf("failed to parse base url: %w", err)
	}
	j.Jar.SetCookies(base, cookies)

	return nil
}

// save writes cookies to the file
func (j *persistentCookieJar) save() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.saveLocked()
}

func (j *persistentCookieJar) saveLocked() error {
	base, err := url.Parse(j.baseURL)
	if err != nil {
		return fmt.Errorf("failed to parse base url: %w", err)
	}

	entries := make([]cookieEntry, 0)
	for _, cookie := range j.Jar.Cookies(base) {
		entries = append(entries, cookieEntry{
			Name:       cookie.Name,
			Value:      cookie.Value,
			Path:       cookie.Path,
			Domain:     cookie.Domain,
			Expires:    cookie.Expires,
			RawExpires: cookie.RawExpires,
			MaxAge:     cookie.MaxAge,
			Secure:     cookie.Secure,
			HttpOnly:   cookie.HttpOnly,
			SameSite:   int(cookie.SameSite),
			Raw:        cookie.Raw,
			Unparsed:   cookie.Unparsed,
		})
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cookies: %w", err)
	}

	if err := os.WriteFile(j.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write cookies: %w", err)
	}

	return nil
}
