package chat

import (
	"log/slog"
	"sort"

	"komnata/internal/content"
	"komnata/internal/models"
	"komnata/internal/storage"
	"komnata/internal/watch"
)

// SelectRoom makes roomID the active room. The room must be in the directory.
func (e *Engine) SelectRoom(roomID string) error {
	if err := e.selectRoom(roomID); err != nil {
		return e.fail("select room", err)
	}
	return nil
}

func (e *Engine) selectRoom(roomID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return models.ErrNotSignedIn
	}
	i := e.roomIndexLocked(roomID)
	if i < 0 {
		return models.ErrRoomNotFound
	}
	e.activateLocked(e.rooms[i])
	e.publishLocked()
	return nil
}

// activateLocked moves the message stream to room. The previously active room
// goes back to unread counting from this moment.
func (e *Engine) activateLocked(room models.Room) {
	if e.current != nil && e.current.ID == room.ID {
		e.current = &room
		return
	}

	prev := e.current
	if prev != nil {
		e.watches.Stop(messagesPath(prev.ID))
		e.lastSeen[prev.ID] = e.nowMillis()
	}

	e.current = &room
	e.messages = nil
	e.markReadLocked(room.ID, nil)
	e.watches.Watch(messagesPath(room.ID), e.onMessages(room.ID))
	slog.Debug("room activated", "room", room.ID)

	if prev != nil && e.roomIndexLocked(prev.ID) >= 0 {
		e.watches.Watch(messagesPath(prev.ID), e.onMessages(prev.ID))
	}
}

func (e *Engine) deactivateLocked() {
	if e.current == nil {
		return
	}
	id := e.current.ID
	e.watches.Stop(messagesPath(id))
	e.lastSeen[id] = e.nowMillis()
	e.current = nil
	e.messages = nil
}

// onMessages serves both the stream of the active room and the unread
// counter of an inactive one; which one applies is decided per delivery.
func (e *Engine) onMessages(roomID string) func(watch.Handle, storage.Snapshot) {
	return func(h watch.Handle, snap storage.Snapshot) {
		msgs := decodeMessages(snap)
		e.mu.RLock()
		rendered := e.current != nil && e.current.ID == roomID
		e.mu.RUnlock()
		if rendered {
			renderMessages(msgs)
		}

		e.mu.Lock()
		defer e.mu.Unlock()
		if !h.Live() || e.session == nil {
			return
		}
		if e.current != nil && e.current.ID == roomID {
			if !rendered {
				renderMessages(msgs)
			}
			e.messages = msgs
			e.markReadLocked(roomID, msgs)
		} else {
			e.unread[roomID] = countUnread(msgs, e.session.UID, e.lastSeen[roomID])
		}
		e.publishLocked()
	}
}

// renderMessages fills in the HTML of msgs. Only the active room needs it.
func renderMessages(msgs []models.Message) {
	for i := range msgs {
		msgs[i].HTML = content.Render(msgs[i].Text)
	}
}

// decodeMessages returns the messages ordered by timestamp, ties by id.
func decodeMessages(snap storage.Snapshot) []models.Message {
	children := snap.Children()
	msgs := make([]models.Message, 0, len(children))
	for _, child := range children {
		var m models.Message
		if err := child.Decode(&m); err != nil {
			slog.Warn("skipping unreadable message", "path", child.Path(), "error", err)
			continue
		}
		m.ID = child.Key()
		msgs = append(msgs, m)
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].Timestamp != msgs[j].Timestamp {
			return msgs[i].Timestamp < msgs[j].Timestamp
		}
		return msgs[i].ID < msgs[j].ID
	})
	return msgs
}
