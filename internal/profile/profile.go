// Package profile maps sessions to user profile records stored under users/{uid}.
//
// A freshly signed-up account can reach the resolver before its profile record
// is visible: the account is created first and the record written right after.
// Resolve therefore retries a bounded number of times (SignupReplication) and
// then falls back to a profile derived from the email address.
package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"komnata/internal/content"
	"komnata/internal/models"
	"komnata/internal/storage"
)

const usersPath = "users"

// RetryPolicy bounds how long Resolve waits for a profile record to appear.
// Attempts counts retries after the first read.
type RetryPolicy struct {
	Attempts int
	Interval time.Duration
}

// SignupReplication is the policy for the signup visibility lag: 3 retries, 500ms apart.
var SignupReplication = RetryPolicy{Attempts: 3, Interval: 500 * time.Millisecond}

type Resolver struct {
	store  storage.Store
	policy RetryPolicy
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewResolver(store storage.Store, policy RetryPolicy) *Resolver {
	return &Resolver{
		store:  store,
		policy: policy,
		now:    time.Now,
		sleep:  sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Fallback is the synthetic profile used when no record can be read.
func Fallback(session models.Session) models.User {
	username := content.EmailLocalPart(session.Email)
	if username == "" {
		username = "User"
	}
	return models.User{UID: session.UID, Email: session.Email, Username: username}
}

// Resolve returns the profile of session. It only fails when ctx is cancelled.
func (r *Resolver) Resolve(ctx context.Context, session models.Session) (models.User, error) {
	path := storage.Join(usersPath, session.UID)

	for attempt := 0; ; attempt++ {
		snap, err := r.store.Get(ctx, path)
		if err != nil {
			if ctx.Err() != nil {
				return models.User{}, ctx.Err()
			}
			slog.Error("profile read failed", "uid", session.UID, "error", err)
			return Fallback(session), nil
		}
		if snap.HasValue() {
			var u models.User
			if err := snap.Decode(&u); err != nil {
				slog.Error("profile record is corrupt", "uid", session.UID, "error", err)
				return Fallback(session), nil
			}
			u.UID = session.UID
			return u, nil
		}

		if attempt >= r.policy.Attempts {
			slog.Warn("profile not found, using fallback", "uid", session.UID, "attempts", attempt+1)
			return Fallback(session), nil
		}
		slog.Debug("profile not found, retrying", "uid", session.UID, "attempt", attempt+1, "in", r.policy.Interval)
		if err := r.sleep(ctx, r.policy.Interval); err != nil {
			return models.User{}, err
		}
	}
}

// Create writes the profile record of a new account. Username uniqueness is a
// scan over all records, so two signups racing for one name can both pass.
func (r *Resolver) Create(ctx context.Context, uid, email, username string) (models.User, error) {
	username = strings.TrimSpace(username)
	if err := r.CheckUsername(ctx, uid, username); err != nil {
		return models.User{}, err
	}

	u := models.User{
		UID:       uid,
		Username:  username,
		Email:     email,
		CreatedAt: r.now().UnixMilli(),
	}
	if err := r.store.Set(ctx, storage.Join(usersPath, uid), u); err != nil {
		return models.User{}, models.Transient(err)
	}
	return u, nil
}

// CheckUsername validates username and makes sure no other uid uses it.
func (r *Resolver) CheckUsername(ctx context.Context, uid, username string) error {
	if !content.ValidUsername(username) {
		return models.ErrUsernameInvalid
	}
	owner, err := r.findByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			return nil
		}
		return err
	}
	if owner.UID != uid {
		return models.ErrUsernameTaken
	}
	return nil
}

// Update applies patch to the stored profile, touching only the patched fields.
func (r *Resolver) Update(ctx context.Context, session models.Session, patch models.ProfilePatch) (models.User, error) {
	if patch.Username != nil {
		username := strings.TrimSpace(*patch.Username)
		if err := r.CheckUsername(ctx, session.UID, username); err != nil {
			return models.User{}, err
		}
		patch.Username = &username
	}

	var updated models.User
	err := r.store.Transaction(ctx, storage.Join(usersPath, session.UID), func(cur storage.Snapshot) (any, error) {
		u := Fallback(session)
		u.CreatedAt = r.now().UnixMilli()
		if cur.HasValue() {
			if err := cur.Decode(&u); err != nil {
				return nil, err
			}
		}
		if patch.Username != nil {
			u.Username = *patch.Username
		}
		u.UID = session.UID
		u.UpdatedAt = r.now().UnixMilli()
		updated = u
		return u, nil
	})
	if err != nil {
		return models.User{}, models.Transient(err)
	}
	return updated, nil
}

// FindEmail resolves a username to the email of its account.
func (r *Resolver) FindEmail(ctx context.Context, username string) (string, error) {
	u, err := r.findByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return "", err
	}
	return u.Email, nil
}

func (r *Resolver) findByUsername(ctx context.Context, username string) (models.User, error) {
	snap, err := r.store.Get(ctx, usersPath)
	if err != nil {
		return models.User{}, models.Transient(err)
	}
	for _, child := range snap.Children() {
		var u models.User
		if err := child.Decode(&u); err != nil {
			slog.Warn("skipping unreadable profile", "uid", child.Key(), "error", err)
			continue
		}
		if u.Username == username {
			u.UID = child.Key()
			return u, nil
		}
	}
	return models.User{}, fmt.Errorf("%w: %s", models.ErrUserNotFound, username)
}
