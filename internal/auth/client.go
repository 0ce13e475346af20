package auth

import (
	"context"
	"strings"
	"sync"

	"komnata/internal/models"
)

// UsernameLookup resolves a username to the email of its account.
type UsernameLookup interface {
	FindEmail(ctx context.Context, username string) (string, error)
}

// listener delivers in version order: a change that lost the race to a newer
// one is dropped.
type listener struct {
	id int
	fn func(*models.Session)

	mu   sync.Mutex
	seen uint64
}

func (l *listener) deliver(s *models.Session, version uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if version < l.seen {
		return
	}
	l.seen = version
	if s == nil {
		l.fn(nil)
		return
	}
	cp := *s
	l.fn(&cp)
}

// Client is the auth bridge of one device: it holds at most one session and
// tells listeners whenever it changes.
type Client struct {
	svc    *Service
	lookup UsernameLookup

	mu        sync.Mutex
	current   *models.Session
	version   uint64
	listeners []*listener
	nextID    int
}

func NewClient(svc *Service, lookup UsernameLookup) *Client {
	return &Client{svc: svc, lookup: lookup}
}

// SignIn accepts an email or a username as identifier.
func (c *Client) SignIn(ctx context.Context, identifier, secret string) error {
	email := strings.TrimSpace(identifier)
	if !strings.Contains(email, "@") {
		if c.lookup == nil {
			return models.ErrBadCredentials
		}
		found, err := c.lookup.FindEmail(ctx, email)
		if err != nil {
			return err
		}
		email = found
	}

	session, err := c.svc.SignIn(email, secret)
	if err != nil {
		return err
	}
	c.setSession(&session)
	return nil
}

func (c *Client) SignUp(ctx context.Context, email, secret string) (models.Session, error) {
	session, err := c.svc.SignUp(ctx, email, secret)
	if err != nil {
		return models.Session{}, err
	}
	c.setSession(&session)
	return session, nil
}

// Restore adopts an existing session token, e.g. one presented by a websocket.
func (c *Client) Restore(token string) error {
	session, err := c.svc.Session(token)
	if err != nil {
		return err
	}
	c.setSession(&session)
	return nil
}

func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	cur := c.current
	c.mu.Unlock()

	if cur != nil {
		_ = c.svc.Logoff(cur.Token)
	}
	c.setSession(nil)
	return nil
}

// Current returns a copy of the current session, or nil.
func (c *Client) Current() *models.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	s := *c.current
	return &s
}

// OnSessionChange calls fn with the current session right away and after every
// change. The returned func removes the listener.
func (c *Client) OnSessionChange(fn func(*models.Session)) func() {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	l := &listener{id: id, fn: fn}
	c.listeners = append(c.listeners, l)
	current, version := c.current, c.version
	c.mu.Unlock()

	l.deliver(current, version)

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, l := range c.listeners {
			if l.id == id {
				c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
				return
			}
		}
	}
}

func (c *Client) setSession(s *models.Session) {
	c.mu.Lock()
	c.current = s
	c.version++
	version := c.version
	listeners := make([]*listener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	for _, l := range listeners {
		l.deliver(s, version)
	}
}
