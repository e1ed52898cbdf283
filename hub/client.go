package hub

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/eikrem/healthsync/hs"
)

const defaultBaseURL = "https://vitalhub.app"

var (
	commonHeaders = map[string]string{
		"accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"accept-language":           "en-GB,en;q=0.9",
		"upgrade-insecure-requests": "1",
	}

	csrfTokenRe = regexp.MustCompile(`name="_csrf_token" value="([^"]+)"`)

	// Common errors
	ErrRedirectedToLogin = errors.New("redirected to login page")
)

// Client talks to the hub's web interface. It implements hs.HealthProvider.
type Client struct {
	httpClient *http.Client
	baseURL    string
	username   string
	password   string
	cookiePath string
	logger     *log.Logger
	logLevel   string
}

// New creates a new hub client with a persistent cookie jar at cookiePath.
func New(username, password, cookiePath string) (*Client, error) {
	if cookiePath == "" {
		home, err := homedir.Dir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		cookiePath = filepath.Join(home, ".healthsync", "hub-cookie.json")
	}

	expandedPath, err := homedir.Expand(cookiePath)
	if err != nil {
		return nil, fmt.Errorf("failed to expand cookie path: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(expandedPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create cookie directory: %w", err)
	}

	baseURL := viper.GetString("hub_url")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	jar, err := newPersistentCookieJar(expandedPath, baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	client := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
		Jar: jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse // Don't follow redirects
		},
	}

	return &Client{
		httpClient: client,
		baseURL:    baseURL,
		username:   username,
		password:   password,
		cookiePath: expandedPath,
		logger:     log.New(os.Stderr, "[hub] ", log.LstdFlags),
		logLevel:   viper.GetString("log_level"),
	}, nil
}

// shouldLog returns true if the given log level should be logged based on the configured log level
func (c *Client) shouldLog(level string) bool {
	levels := map[string]int{
		"trace": 0,
		"debug": 1,
		"info":  2,
		"warn":  3,
		"error": 4,
	}

	configuredLevel := c.logLevel
	if configuredLevel == "" {
		configuredLevel = "info"
	}

	return levels[level] >= levels[configuredLevel]
}

// doRequest performs an HTTP request with debug logging
func (c *Client) doRequest(req *http.Request) (*http.Response, []byte, error) {
	if c.shouldLog("debug") {
		c.logger.Printf("Request: %s %s", req.Method, req.URL)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to send request: %w", err)
	}

	if c.shouldLog("debug") {
		c.logger.Printf("Response: %s %s", resp.Status, req.URL)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		resp.Body.Close()
		return nil, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	resp.Body = io.NopCloser(bytes.NewBuffer(respBody))

	return resp, respBody, nil
}

// Login performs the login process
func (c *Client) Login() error {
	csrfToken, err := c.doGetLogin()
	if err != nil {
		return fmt.Errorf("failed to get login page: %w", err)
	}

	if err := c.doPostLogin(csrfToken); err != nil {
		return fmt.Errorf("failed to post login: %w", err)
	}

	return nil
}

// doGetLogin retrieves the login page and extracts the CSRF token
func (c *Client) doGetLogin() (string, error) {
	req, err := http.NewRequest("GET", c.baseURL+"/login", nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	for k, v := range commonHeaders {
		req.Header.Set(k, v)
	}

	resp, body, err := c.doRequest(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	token, err := extractCSRFToken(body)
	if err != nil {
		return "", err
	}
	return token, nil
}

// extractCSRFToken pulls the login form's CSRF token out of the page body
func extractCSRFToken(body []byte) (string, error) {
	matches := csrfTokenRe.FindSubmatch(body)
	if len(matches) < 2 {
		return "", fmt.Errorf("csrf token not found in response")
	}
	return string(matches[1]), nil
}

// doPostLogin performs the login POST request
func (c *Client) doPostLogin(csrfToken string) error {
	data := url.Values{}
	data.Set("_username", c.username)
	data.Set("_password", c.password)
	data.Set("_remember_me", "on")
	data.Set("_csrf_token", csrfToken)

	req, err := http.NewRequest("POST", c.baseURL+"/login", strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	for k, v := range commonHeaders {
		req.Header.Set(k, v)
	}
	req.Header.Set("content-type", "application/x-www-form-urlencoded")

	resp, _, err := c.doRequest(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusFound {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return nil
}

// GetDataBrowser retrieves the activity rows for one week
func (c *Client) GetDataBrowser(ctx context.Context, startOfWeek time.Time) ([]byte, error) {
	endOfWeek := startOfWeek.AddDate(0, 0, 7)

	startUnix := startOfWeek.UTC().Unix()
	endUnix := endOfWeek.UTC().Unix()

	browserURL := fmt.Sprintf("%s/databrowser?start=%d&end=%d", c.baseURL, startUnix, endUnix)

	req, err := http.NewRequestWithContext(ctx, "GET", browserURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for k, v := range commonHeaders {
		req.Header.Set(k, v)
	}
	req.Header.Set("x-requested-with", "XMLHttpRequest")
	req.Header.Set("accept", "text/html, */*; q=0.01")

	resp, body, err := c.doRequest(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusFound {
		location := resp.Header.Get("Location")
		if strings.HasSuffix(location, "/login") {
			return nil, ErrRedirectedToLogin
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return body, nil
}

// IsConnected reports whether the current session can reach the data browser.
// A login is attempted once when the session has expired.
func (c *Client) IsConnected(ctx context.Context) bool {
	if err := c.ensureSession(ctx); err != nil {
		if c.shouldLog("debug") {
			c.logger.Printf("connection check failed: %v", err)
		}
		return false
	}
	return true
}

// ensureSession verifies the session and logs in again when the hub bounced
// us to the login page.
func (c *Client) ensureSession(ctx context.Context) error {
	_, err := c.GetDataBrowser(ctx, startOfWeekFor(time.Now()))
	if err == nil {
		c.persistCookies()
		return nil
	}
	if !errors.Is(err, ErrRedirectedToLogin) {
		return err
	}

	if err := c.Login(); err != nil {
		return err
	}
	if _, err := c.GetDataBrowser(ctx, startOfWeekFor(time.Now())); err != nil {
		return err
	}
	c.persistCookies()
	return nil
}

// FetchActivities walks the data browser week by week across [since, until]
// and returns the parsed raw activities inside the range.
func (c *Client) FetchActivities(ctx context.Context, since, until time.Time) ([]hs.Activity, error) {
	if err := c.ensureSession(ctx); err != nil {
		return nil, fmt.Errorf("hub session unavailable: %w", err)
	}

	var out []hs.Activity
	for week := startOfWeekFor(since); week.Before(until); week = week.AddDate(0, 0, 7) {
		data, err := c.GetDataBrowser(ctx, week)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch week %s: %w", week.Format("2006-01-02"), err)
		}

		activities, err := parseActivities(data)
		if err != nil {
			// Fall back to bare IDs so a markup change doesn't lose records
			// silently. Fallback records carry no duration and are reported
			// as dropped downstream, so name the IDs here.
			ids := findActivityIDs(data)
			if c.shouldLog("warn") {
				c.logger.Printf("data browser markup changed for week %s (%v); recovered %d bare activity ids: %v",
					week.Format("2006-01-02"), err, len(ids), ids)
			}
			activities = activitiesFromIDs(ids)
		}

		for _, a := range activities {
			// Fallback records carry no timestamp; let the transform
			// decide what to do with them.
			if !a.StartTime.IsZero() && (a.StartTime.Before(since) || !a.StartTime.Before(until)) {
				continue
			}
			out = append(out, a)
		}
	}

	return out, nil
}

// persistCookies flushes the session cookies to disk.
func (c *Client) persistCookies() {
	if jar, ok := c.httpClient.Jar.(*persistentCookieJar); ok {
		if err := jar.save(); err != nil && c.shouldLog("warn") {
			c.logger.Printf("failed to persist cookies: %v", err)
		}
	}
}

// startOfWeekFor returns the Monday midnight preceding t.
func startOfWeekFor(t time.Time) time.Time {
	daysSinceMonday := (int(t.Weekday()) + 6) % 7
	monday := t.AddDate(0, 0, -daysSinceMonday)
	return time.Date(monday.Year(), monday.Month(), monday.Day(), 0, 0, 0, 0, t.Location())
}
