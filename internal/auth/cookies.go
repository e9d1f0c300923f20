package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/chromedp/cdproto/network"

	"github.com/ibeckermayer/claim4me/internal/config"
)

// ErrNoCookies is returned by CookieStore.Load when nothing usable is
// stored for the session id.
var ErrNoCookies = errors.New("no stored cookies")

// CookieStore persists browser cookies between runs, keyed by session id.
type CookieStore interface {
	Save(id string, cookies []*network.Cookie) error
	Load(id string) ([]*network.Cookie, error)
	Delete(id string) error
}

// Cookie is the persisted form of a browser cookie. It keeps only the
// fields needed to set the cookie again; cdproto's enum fields such as
// priority do not decode from their zero values.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	Secure   bool    `json:"secure"`
	HTTPOnly bool    `json:"http_only"`
	Session  bool    `json:"session"`
	SameSite string  `json:"same_site,omitempty"`
}

// CookieFrom copies the persisted fields of c.
func CookieFrom(c *network.Cookie) Cookie {
	return Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		Expires:  c.Expires,
		Secure:   c.Secure,
		HTTPOnly: c.HTTPOnly,
		Session:  c.Session,
		SameSite: string(c.SameSite),
	}
}

// Network converts the record back to a cdproto cookie.
func (c Cookie) Network() *network.Cookie {
	return &network.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		Expires:  c.Expires,
		Secure:   c.Secure,
		HTTPOnly: c.HTTPOnly,
		Session:  c.Session,
		SameSite: network.CookieSameSite(c.SameSite),
	}
}

// StoredCookies represents the persisted cookie data
type StoredCookies struct {
	Cookies    []Cookie  `json:"cookies"`
	CapturedAt time.Time `json:"captured_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Expired reports whether the earliest persistent cookie has expired.
// Session-only cookies never expire the set.
func (s *StoredCookies) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// Network returns the stored cookies in cdproto form.
func (s *StoredCookies) Network() []*network.Cookie {
	out := make([]*network.Cookie, len(s.Cookies))
	for i, c := range s.Cookies {
		out[i] = c.Network()
	}
	return out
}

// NewStoredCookies stamps cookies with the capture time and the earliest
// expiry among persistent cookies.
func NewStoredCookies(cookies []*network.Cookie, now time.Time) *StoredCookies {
	var earliest time.Time
	records := make([]Cookie, 0, len(cookies))
	for _, c := range cookies {
		records = append(records, CookieFrom(c))
		if c.Session || c.Expires <= 0 {
			continue
		}
		exp := time.Unix(int64(c.Expires), 0)
		if earliest.IsZero() || exp.Before(earliest) {
			earliest = exp
		}
	}
	return &StoredCookies{Cookies: records, CapturedAt: now, ExpiresAt: earliest}
}

// FileStore keeps one JSON file per session id in a directory.
type FileStore struct {
	dir string
	now func() time.Time
}

var _ CookieStore = (*FileStore)(nil)

// NewFileStore creates a cookie store rooted at dir
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir, now: time.Now}
}

// DefaultCookieDir returns the default directory for cookie files
func DefaultCookieDir() (string, error) {
	configDir, err := config.ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "cookies"), nil
}

var unsafeID = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// Path returns the file used for id.
func (s *FileStore) Path(id string) string {
	return filepath.Join(s.dir, "cookie-"+unsafeID.ReplaceAllString(id, "_")+".json")
}

// Save persists cookies to disk
// TODO: Encrypt cookies at rest
func (s *FileStore) Save(id string, cookies []*network.Cookie) error {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(NewStoredCookies(cookies, s.now()), "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(s.Path(id), data, 0600)
}

// Load retrieves cookies from disk. Missing and expired sets both yield
// ErrNoCookies.
func (s *FileStore) Load(id string) ([]*network.Cookie, error) {
	stored, err := s.Stored(id)
	if err != nil {
		return nil, err
	}
	if stored.Expired(s.now()) || len(stored.Cookies) == 0 {
		return nil, ErrNoCookies
	}
	return stored.Network(), nil
}

// Stored returns the raw record for id, including its timestamps.
func (s *FileStore) Stored(id string) (*StoredCookies, error) {
	data, err := os.ReadFile(s.Path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoCookies
	}
	if err != nil {
		return nil, err
	}

	var stored StoredCookies
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.Path(id), err)
	}

	return &stored, nil
}

// Delete removes stored cookies. Deleting an absent id is not an error.
func (s *FileStore) Delete(id string) error {
	err := os.Remove(s.Path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
