package chat

import "komnata/internal/models"

// countUnread counts messages from others newer than lastSeen.
func countUnread(msgs []models.Message, uid string, lastSeen int64) int {
	n := 0
	for _, m := range msgs {
		if m.UserID != uid && m.Timestamp > lastSeen {
			n++
		}
	}
	return n
}

// markReadLocked zeroes the counter of roomID and moves its watermark past
// everything seen so far.
func (e *Engine) markReadLocked(roomID string, msgs []models.Message) {
	mark := e.nowMillis()
	for _, m := range msgs {
		if m.Timestamp > mark {
			mark = m.Timestamp
		}
	}
	e.lastSeen[roomID] = mark
	e.unread[roomID] = 0
}

// syncUnreadLocked keeps exactly one unread listener per directory room other
// than the active one, and forgets counters of rooms that are gone.
func (e *Engine) syncUnreadLocked() {
	want := make(map[string]bool, len(e.rooms))
	for _, r := range e.rooms {
		if e.current == nil || r.ID != e.current.ID {
			want[r.ID] = true
		}
	}
	active := func(id string) bool { return e.current != nil && e.current.ID == id }

	for _, p := range e.watches.Paths(roomsPath + "/") {
		id, ok := roomOfMessages(p)
		if !ok || active(id) || want[id] {
			continue
		}
		e.watches.Stop(p)
	}
	for id := range e.unread {
		if !want[id] && !active(id) {
			delete(e.unread, id)
		}
	}
	for id := range e.lastSeen {
		if !want[id] && !active(id) {
			delete(e.lastSeen, id)
		}
	}

	for id := range want {
		if e.watches.Watching(messagesPath(id)) {
			continue
		}
		if _, seen := e.lastSeen[id]; !seen {
			// Never seen: all foreign history counts.
			e.lastSeen[id] = 0
		}
		e.watches.Watch(messagesPath(id), e.onMessages(id))
	}
}
