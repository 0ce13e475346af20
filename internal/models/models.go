package models

// SystemUserID marks messages authored by the platform (join/leave/kick notices).
const SystemUserID = "system"

// User is the profile record stored under users/{uid}.
type User struct {
	UID       string `json:"uid" msgpack:"uid"`
	Username  string `json:"username" msgpack:"username"`
	Email     string `json:"email" msgpack:"email"`
	CreatedAt int64  `json:"createdAt" msgpack:"createdAt"` // Unix milliseconds
	UpdatedAt int64  `json:"updatedAt,omitempty" msgpack:"updatedAt,omitempty"`
}

// DisplayName is the identity shown to other members: username, or email when the
// profile has none.
func (u User) DisplayName() string {
	if u.Username != "" {
		return u.Username
	}
	return u.Email
}

// Session is what the auth bridge reports for a signed-in client.
type Session struct {
	UID   string `json:"uid"`
	Email string `json:"email"`
	Token string `json:"-"`
}

// Room is stored under rooms/{id}. Members live at the child node rooms/{id}/members
// and messages under rooms/{id}/messages, so neither is part of the node value.
type Room struct {
	ID        string   `json:"id" msgpack:"-"`
	Name      string   `json:"name" msgpack:"name"`
	Code      string   `json:"code" msgpack:"code"`
	CreatedBy string   `json:"createdBy" msgpack:"createdBy"`
	CreatorID string   `json:"creatorId,omitempty" msgpack:"creatorId,omitempty"`
	CreatedAt int64    `json:"createdAt" msgpack:"createdAt"`
	UpdatedAt int64    `json:"updatedAt,omitempty" msgpack:"updatedAt,omitempty"`
	Members   []string `json:"members" msgpack:"-"`
}

// HasMember reports whether uid is in the member list.
func (r Room) HasMember(uid string) bool {
	for _, m := range r.Members {
		if m == uid {
			return true
		}
	}
	return false
}

type MessageType string

const (
	MessageTypeNormal MessageType = "normal"
	MessageTypeJoin   MessageType = "join"
	MessageTypeLeave  MessageType = "leave"
	MessageTypeKick   MessageType = "kick"
)

// Message is stored under rooms/{roomId}/messages/{id}.
type Message struct {
	ID        string      `json:"id" msgpack:"-"`
	Text      string      `json:"text" msgpack:"text"`
	Sender    string      `json:"sender" msgpack:"sender"`
	Timestamp int64       `json:"timestamp" msgpack:"timestamp"` // sender clock, Unix milliseconds
	UserID    string      `json:"userId" msgpack:"userId"`
	Type      MessageType `json:"type" msgpack:"type"`
	HTML      string      `json:"html,omitempty" msgpack:"-"`
}

// IsSystem reports whether the platform authored the message.
func (m Message) IsSystem() bool {
	return m.UserID == SystemUserID
}

// State is everything a UI needs to render one signed-in client.
type State struct {
	Messages    []Message      `json:"messages"`
	Rooms       []Room         `json:"rooms"`
	CurrentRoom *Room          `json:"currentRoom"`
	User        *Session       `json:"user"`
	UserData    *User          `json:"userData"`
	Loading     bool           `json:"loading"`
	Unread      map[string]int `json:"unreadMessages"`
}

// ProfilePatch carries optional profile changes.
type ProfilePatch struct {
	Username *string `json:"username,omitempty"`
}

// ClientMessage is a command sent by the client over the websocket.
type ClientMessage struct {
	Type     ClientMessageType `json:"type"`
	RoomID   string            `json:"roomId,omitempty"`
	MemberID string            `json:"memberId,omitempty"`
	Name     string            `json:"name,omitempty"`
	Code     string            `json:"code,omitempty"`
	Text     string            `json:"text,omitempty"`
	Username string            `json:"username,omitempty"`
}

// ServerMessage represents a message to the client.
type ServerMessage struct {
	Type  ServerMessageType `json:"type"`
	State *State            `json:"state,omitempty"`
	Error *ErrorPayload     `json:"error,omitempty"`
	Code  string            `json:"code,omitempty"`
}

// ErrorPayload is the user-facing form of a failed operation.
type ErrorPayload struct {
	Kind    string `json:"kind"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ClientMessageType string

const (
	ClientMessageTypeCreate        ClientMessageType = "create"
	ClientMessageTypeDelete        ClientMessageType = "delete"
	ClientMessageTypeJoin          ClientMessageType = "join"
	ClientMessageTypeLeave         ClientMessageType = "leave"
	ClientMessageTypeKick          ClientMessageType = "kick"
	ClientMessageTypeRename        ClientMessageType = "rename"
	ClientMessageTypeSend          ClientMessageType = "send"
	ClientMessageTypeSelect        ClientMessageType = "select"
	ClientMessageTypeCopyCode      ClientMessageType = "copy_code"
	ClientMessageTypeUpdateProfile ClientMessageType = "update_profile"
	ClientMessageTypeSignOut       ClientMessageType = "sign_out"
)

type ServerMessageType string

const (
	ServerMessageTypeState ServerMessageType = "state"
	ServerMessageTypeError ServerMessageType = "error"
	ServerMessageTypeCode  ServerMessageType = "code"
)

// APIResponse is the generic JSON envelope of the HTTP API.
type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}
