package chat

import (
	"log/slog"
	"slices"
	"sort"
	"strings"

	"komnata/internal/models"
	"komnata/internal/storage"
	"komnata/internal/watch"
)

const (
	roomsPath = "rooms"
	codesPath = "codes"
)

func roomPath(id string) string     { return storage.Join(roomsPath, id) }
func membersPath(id string) string  { return storage.Join(roomsPath, id, "members") }
func messagesPath(id string) string { return storage.Join(roomsPath, id, "messages") }
func codePath(code string) string   { return storage.Join(codesPath, code) }

// roomOfMessages extracts the room id from a rooms/{id}/messages path.
func roomOfMessages(path string) (string, bool) {
	parts := strings.Split(path, "/")
	if len(parts) != 3 || parts[0] != roomsPath || parts[2] != "messages" {
		return "", false
	}
	return parts[1], true
}

func (e *Engine) loadRoomsLocked() {
	e.watches.Watch(roomsPath, e.onRooms)
}

func (e *Engine) onRooms(h watch.Handle, snap storage.Snapshot) {
	all := decodeRooms(snap)

	e.mu.Lock()
	defer e.mu.Unlock()
	if !h.Live() || e.session == nil {
		return
	}
	e.applyDirectoryLocked(all)
	e.publishLocked()
}

// applyDirectoryLocked replaces the room list with the rooms the user belongs
// to, keeps the selection in step with it and re-aims the unread listeners.
func (e *Engine) applyDirectoryLocked(all []models.Room) {
	uid := e.session.UID

	mine := make([]models.Room, 0, len(all))
	for _, r := range all {
		if r.HasMember(uid) {
			mine = append(mine, r)
		}
	}
	sort.SliceStable(mine, func(i, j int) bool {
		if mine[i].CreatedAt != mine[j].CreatedAt {
			return mine[i].CreatedAt < mine[j].CreatedAt
		}
		return mine[i].ID < mine[j].ID
	})

	firstSnapshot := !e.dirLoaded
	e.rooms = mine
	e.loading = false
	e.dirLoaded = true

	if e.current != nil {
		if i := e.roomIndexLocked(e.current.ID); i >= 0 {
			fresh := mine[i]
			e.current = &fresh
		} else {
			slog.Debug("active room left the directory", "room", e.current.ID)
			e.deactivateLocked()
		}
	}

	if e.current == nil && len(mine) > 0 && e.shouldAutoSelect(firstSnapshot) {
		e.activateLocked(mine[0])
	}
	e.syncUnreadLocked()
}

func (e *Engine) shouldAutoSelect(firstSnapshot bool) bool {
	switch e.autoSelect {
	case AutoSelectNever:
		return false
	case AutoSelectOnce:
		return firstSnapshot
	default:
		return true
	}
}

func (e *Engine) roomIndexLocked(id string) int {
	return slices.IndexFunc(e.rooms, func(r models.Room) bool { return r.ID == id })
}

// dropRoomLocked forgets a room the user no longer has access to, without
// waiting for the directory snapshot that will confirm it.
func (e *Engine) dropRoomLocked(id string) {
	if i := e.roomIndexLocked(id); i >= 0 {
		e.rooms = slices.Delete(slices.Clone(e.rooms), i, i+1)
	}
	if e.current != nil && e.current.ID == id {
		e.deactivateLocked()
	}
	e.syncUnreadLocked()
}

func decodeRooms(snap storage.Snapshot) []models.Room {
	children := snap.Children()
	rooms := make([]models.Room, 0, len(children))
	for _, child := range children {
		// Members written for a room that was deleted meanwhile leave a node without a record.
		if !child.HasValue() {
			continue
		}
		r, err := decodeRoom(child)
		if err != nil {
			slog.Warn("skipping unreadable room", "room", child.Key(), "error", err)
			continue
		}
		rooms = append(rooms, r)
	}
	return rooms
}

func decodeRoom(snap storage.Snapshot) (models.Room, error) {
	var r models.Room
	if err := snap.Decode(&r); err != nil {
		return models.Room{}, err
	}
	r.ID = snap.Key()
	members, err := decodeMembers(snap.Child("members"))
	if err != nil {
		return models.Room{}, err
	}
	r.Members = members
	return r, nil
}

func decodeMembers(snap storage.Snapshot) ([]string, error) {
	if !snap.HasValue() {
		return nil, nil
	}
	var members []string
	if err := snap.Decode(&members); err != nil {
		return nil, err
	}
	return members, nil
}
