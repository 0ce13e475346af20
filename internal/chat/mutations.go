package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"komnata/internal/content"
	"komnata/internal/models"
	"komnata/internal/storage"
)

const systemSender = "System"

func displayName(session models.Session, user models.User) string {
	if name := user.DisplayName(); name != "" {
		return name
	}
	return session.Email
}

// isCreator checks the creator uid. Rooms written before the uid was recorded
// only carry the creator's display name.
func isCreator(room models.Room, session models.Session, user models.User) bool {
	if room.CreatorID != "" {
		return room.CreatorID == session.UID
	}
	return room.CreatedBy == displayName(session, user)
}

func cleanRoomName(name string) string {
	return strings.TrimSpace(content.StripTags(name))
}

// CreateRoom claims code and writes a room with the caller as its only member.
// The claim under codes/{code} is what keeps codes unique.
func (e *Engine) CreateRoom(ctx context.Context, name, code string) (models.Room, error) {
	const op = "create room"
	session, user, err := e.identity()
	if err != nil {
		return models.Room{}, e.fail(op, err)
	}
	name = cleanRoomName(name)
	code = strings.TrimSpace(code)
	if !content.ValidRoomCode(code) {
		return models.Room{}, e.fail(op, models.ErrCodeFormatInvalid)
	}
	if name == "" {
		return models.Room{}, e.fail(op, models.ErrEmptyRoomName)
	}

	id := e.store.NewKey()
	err = e.store.Transaction(ctx, codePath(code), func(cur storage.Snapshot) (any, error) {
		if cur.HasValue() {
			return nil, models.ErrCodeAlreadyExists
		}
		return id, nil
	})
	if err != nil {
		return models.Room{}, e.fail(op, err)
	}

	now := e.nowMillis()
	room := models.Room{
		ID:        id,
		Name:      name,
		Code:      code,
		CreatedBy: displayName(session, user),
		CreatorID: session.UID,
		CreatedAt: now,
		UpdatedAt: now,
		Members:   []string{session.UID},
	}
	err = e.store.Update(ctx, map[string]any{
		roomPath(id):    room,
		membersPath(id): room.Members,
	})
	if err != nil {
		if rerr := e.store.Remove(context.WithoutCancel(ctx), codePath(code)); rerr != nil {
			slog.Error("failed to release room code", "code", code, "error", rerr)
		}
		return models.Room{}, e.fail(op, err)
	}

	slog.Info("room created", "room", id, "uid", session.UID)
	return room, nil
}

// DeleteRoom removes the room with its whole subtree and releases its code.
func (e *Engine) DeleteRoom(ctx context.Context, roomID string) error {
	const op = "delete room"
	session, user, err := e.identity()
	if err != nil {
		return e.fail(op, err)
	}
	room, err := e.readRoom(ctx, roomID)
	if err != nil {
		return e.fail(op, err)
	}
	if !isCreator(room, session, user) {
		return e.fail(op, models.ErrNotCreator)
	}

	update := map[string]any{roomPath(roomID): nil}
	if room.Code != "" {
		owner, err := e.codeOwner(ctx, room.Code)
		if err != nil && !errors.Is(err, models.ErrCodeNotFound) {
			return e.fail(op, err)
		}
		if owner == roomID {
			update[codePath(room.Code)] = nil
		}
	}
	if err := e.store.Update(ctx, update); err != nil {
		return e.fail(op, err)
	}

	e.mu.Lock()
	e.dropRoomLocked(roomID)
	e.publishLocked()
	e.mu.Unlock()

	slog.Info("room deleted", "room", roomID, "uid", session.UID)
	return nil
}

// JoinRoomByCode adds the caller to the members of the room holding code.
func (e *Engine) JoinRoomByCode(ctx context.Context, code string) (models.Room, error) {
	const op = "join room"
	session, user, err := e.identity()
	if err != nil {
		return models.Room{}, e.fail(op, err)
	}
	code = strings.TrimSpace(code)
	if !content.ValidRoomCode(code) {
		return models.Room{}, e.fail(op, models.ErrCodeFormatInvalid)
	}

	roomID, err := e.codeOwner(ctx, code)
	if err != nil {
		return models.Room{}, e.fail(op, err)
	}
	room, err := e.readRoom(ctx, roomID)
	if errors.Is(err, models.ErrRoomNotFound) {
		return models.Room{}, e.fail(op, models.ErrCodeNotFound)
	}
	if err != nil {
		return models.Room{}, e.fail(op, err)
	}

	members, err := e.editMembers(ctx, roomID, func(members []string) ([]string, error) {
		if slices.Contains(members, session.UID) {
			return nil, models.ErrAlreadyMember
		}
		return append(members, session.UID), nil
	})
	if errors.Is(err, models.ErrRoomNotFound) {
		return models.Room{}, e.fail(op, models.ErrCodeNotFound)
	}
	if err != nil {
		return models.Room{}, e.fail(op, err)
	}
	room.Members = members

	e.postSystem(ctx, roomID, fmt.Sprintf("%s joined the room", displayName(session, user)), models.MessageTypeJoin)
	slog.Info("room joined", "room", roomID, "uid", session.UID)
	return room, nil
}

// LeaveRoom removes the caller from the room and from the local view.
func (e *Engine) LeaveRoom(ctx context.Context, roomID string) error {
	const op = "leave room"
	session, user, err := e.identity()
	if err != nil {
		return e.fail(op, err)
	}
	if _, err := e.readRoom(ctx, roomID); err != nil {
		return e.fail(op, err)
	}

	_, err = e.editMembers(ctx, roomID, func(members []string) ([]string, error) {
		i := slices.Index(members, session.UID)
		if i < 0 {
			return nil, models.ErrRoomNotFound
		}
		return slices.Delete(members, i, i+1), nil
	})
	if err != nil {
		return e.fail(op, err)
	}

	e.postSystem(ctx, roomID, fmt.Sprintf("%s left the room", displayName(session, user)), models.MessageTypeLeave)

	e.mu.Lock()
	e.dropRoomLocked(roomID)
	e.publishLocked()
	e.mu.Unlock()

	slog.Info("room left", "room", roomID, "uid", session.UID)
	return nil
}

// KickMember removes memberID from the room. The system message does not
// name who was removed.
func (e *Engine) KickMember(ctx context.Context, roomID, memberID string) error {
	const op = "kick member"
	session, user, err := e.identity()
	if err != nil {
		return e.fail(op, err)
	}
	room, err := e.readRoom(ctx, roomID)
	if err != nil {
		return e.fail(op, err)
	}
	if !isCreator(room, session, user) {
		return e.fail(op, models.ErrNotCreator)
	}
	if memberID == session.UID {
		return e.fail(op, models.ErrCannotKickSelf)
	}

	_, err = e.editMembers(ctx, roomID, func(members []string) ([]string, error) {
		i := slices.Index(members, memberID)
		if i < 0 {
			return nil, models.ErrNotMember
		}
		return slices.Delete(members, i, i+1), nil
	})
	if err != nil {
		return e.fail(op, err)
	}

	e.postSystem(ctx, roomID, "A member was kicked from the room", models.MessageTypeKick)
	slog.Info("member kicked", "room", roomID, "member", memberID, "uid", session.UID)
	return nil
}

// RenameRoom overwrites the room name. Members and messages are untouched.
func (e *Engine) RenameRoom(ctx context.Context, roomID, name string) error {
	const op = "rename room"
	session, user, err := e.identity()
	if err != nil {
		return e.fail(op, err)
	}
	name = cleanRoomName(name)
	if name == "" {
		return e.fail(op, models.ErrEmptyRoomName)
	}

	err = e.store.Transaction(ctx, roomPath(roomID), func(cur storage.Snapshot) (any, error) {
		if !cur.HasValue() {
			return nil, models.ErrRoomNotFound
		}
		room, err := decodeRoom(cur)
		if err != nil {
			return nil, err
		}
		if !isCreator(room, session, user) {
			return nil, models.ErrNotCreator
		}
		room.Name = name
		room.UpdatedAt = e.nowMillis()
		return room, nil
	})
	if err != nil {
		return e.fail(op, err)
	}
	return nil
}

// SendMessage appends text to roomID, which must be the active room. An empty
// roomID means the active room.
func (e *Engine) SendMessage(ctx context.Context, roomID, text string) error {
	const op = "send message"
	session, user, err := e.identity()
	if err != nil {
		return e.fail(op, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return e.fail(op, models.ErrEmptyText)
	}

	e.mu.RLock()
	current := e.current
	e.mu.RUnlock()
	if current == nil || (roomID != "" && roomID != current.ID) {
		return e.fail(op, models.ErrNoActiveRoom)
	}

	msg := models.Message{
		Text:      text,
		Sender:    displayName(session, user),
		Timestamp: e.nowMillis(),
		UserID:    session.UID,
		Type:      models.MessageTypeNormal,
	}
	if _, err := e.store.Push(ctx, messagesPath(current.ID), msg); err != nil {
		return e.fail(op, err)
	}
	return nil
}

// CopyRoomCode returns the join code of a room in the directory.
func (e *Engine) CopyRoomCode(roomID string) (string, error) {
	e.mu.RLock()
	i := e.roomIndexLocked(roomID)
	var code string
	if i >= 0 {
		code = e.rooms[i].Code
	}
	e.mu.RUnlock()

	if i < 0 {
		return "", e.fail("copy room code", models.ErrRoomNotFound)
	}
	return code, nil
}

func (e *Engine) UpdateProfile(ctx context.Context, patch models.ProfilePatch) (models.User, error) {
	const op = "update profile"
	session, _, err := e.identity()
	if err != nil {
		return models.User{}, e.fail(op, err)
	}
	user, err := e.profiles.Update(ctx, session, patch)
	if err != nil {
		return models.User{}, e.fail(op, err)
	}

	e.mu.Lock()
	if e.session != nil && e.session.UID == session.UID {
		e.user = &user
		e.publishLocked()
	}
	e.mu.Unlock()
	return user, nil
}

// SignOut ends the session. The engine tears its state down once the auth
// bridge reports the change.
func (e *Engine) SignOut(ctx context.Context) error {
	if err := e.auth.SignOut(ctx); err != nil {
		return e.fail("sign out", err)
	}
	return nil
}

func (e *Engine) readRoom(ctx context.Context, roomID string) (models.Room, error) {
	if storage.Clean(roomID) == "" || strings.Contains(roomID, "/") {
		return models.Room{}, models.ErrRoomNotFound
	}
	snap, err := e.store.Get(ctx, roomPath(roomID))
	if err != nil {
		return models.Room{}, err
	}
	if !snap.HasValue() {
		return models.Room{}, models.ErrRoomNotFound
	}
	return decodeRoom(snap)
}

func (e *Engine) codeOwner(ctx context.Context, code string) (string, error) {
	snap, err := e.store.Get(ctx, codePath(code))
	if err != nil {
		return "", err
	}
	if !snap.HasValue() {
		return "", models.ErrCodeNotFound
	}
	var roomID string
	if err := snap.Decode(&roomID); err != nil {
		return "", err
	}
	return roomID, nil
}

// editMembers rewrites the member list in one store transaction, so
// concurrent edits serialize instead of overwriting each other. A live room
// always has a members value, even an empty list, so a missing one means the
// room was deleted and nothing is written.
func (e *Engine) editMembers(ctx context.Context, roomID string, edit func([]string) ([]string, error)) ([]string, error) {
	var result []string
	err := e.store.Transaction(ctx, membersPath(roomID), func(cur storage.Snapshot) (any, error) {
		if !cur.HasValue() {
			return nil, models.ErrRoomNotFound
		}
		members, err := decodeMembers(cur)
		if err != nil {
			return nil, err
		}
		next, err := edit(members)
		if err != nil {
			return nil, err
		}
		if next == nil {
			next = []string{}
		}
		result = next
		return next, nil
	})
	return result, err
}

// postSystem appends a system message. Failures are logged only: the
// membership change it announces has already happened.
func (e *Engine) postSystem(ctx context.Context, roomID, text string, typ models.MessageType) {
	msg := models.Message{
		Text:      text,
		Sender:    systemSender,
		Timestamp: e.nowMillis(),
		UserID:    models.SystemUserID,
		Type:      typ,
	}
	if _, err := e.store.Push(ctx, messagesPath(roomID), msg); err != nil {
		slog.Error("failed to post system message", "room", roomID, "type", typ, "error", err)
	}
}
