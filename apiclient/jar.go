package apiclient

import (
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"

	"golang.org/x/net/publicsuffix"
)

// CookieStore persists the session cookies between runs, the way a browser
// keeps its cookie storage.
type CookieStore interface {
	LoadCookies() []*http.Cookie
	SaveCookies(cookies []*http.Cookie)
}

// sessionJar is a cookie jar that can be emptied, so a cleared session never
// sends its stale cookies again. When a CookieStore is set, the cookies in
// scope are saved after every change.
type sessionJar struct {
	mu  sync.RWMutex
	jar *cookiejar.Jar

	scope  *url.URL
	store  CookieStore
	saveMu sync.Mutex
}

func newCookieJar() (*cookiejar.Jar, error) {
	return cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
}

func newSessionJar(scope *url.URL, store CookieStore) (*sessionJar, error) {
	jar, err := newCookieJar()
	if err != nil {
		return nil, err
	}
	if store != nil {
		if saved := store.LoadCookies(); len(saved) > 0 {
			// Saved cookies keep only name and value. Restore them at the root
			// path so a cookie renewed by the server replaces them.
			for _, c := range saved {
				if c.Path == "" {
					c.Path = "/"
				}
			}
			jar.SetCookies(scope, saved)
		}
	}
	return &sessionJar{jar: jar, scope: scope, store: store}, nil
}

func (j *sessionJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.RLock()
	j.jar.SetCookies(u, cookies)
	j.mu.RUnlock()
	j.save()
}

func (j *sessionJar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.jar.Cookies(u)
}

// Reset drops every stored cookie.
func (j *sessionJar) Reset() {
	jar, err := newCookieJar()
	if err != nil {
		// cookiejar.New never fails; keep the old jar if it ever does.
		return
	}
	j.mu.Lock()
	j.jar = jar
	j.mu.Unlock()
	j.save()
}

// save snapshots under saveMu so the last write always reflects the latest jar.
func (j *sessionJar) save() {
	if j.store == nil {
		return
	}
	j.saveMu.Lock()
	defer j.saveMu.Unlock()
	j.store.SaveCookies(j.Cookies(j.scope))
}
