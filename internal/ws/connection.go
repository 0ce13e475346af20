package ws

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"komnata/internal/content"
	"komnata/internal/models"
)

type wsConnection interface {
	Close() error
	WriteJSON(v any) error
	ReadJSON(v any) error
}

// engine is the part of chat.Engine a connection drives.
type engine interface {
	Run(ctx context.Context) error
	Updates() <-chan models.State
	SelectRoom(roomID string) error
	CreateRoom(ctx context.Context, name, code string) (models.Room, error)
	DeleteRoom(ctx context.Context, roomID string) error
	JoinRoomByCode(ctx context.Context, code string) (models.Room, error)
	LeaveRoom(ctx context.Context, roomID string) error
	KickMember(ctx context.Context, roomID, memberID string) error
	RenameRoom(ctx context.Context, roomID, name string) error
	SendMessage(ctx context.Context, roomID, text string) error
	CopyRoomCode(roomID string) (string, error)
	UpdateProfile(ctx context.Context, patch models.ProfilePatch) (models.User, error)
	SignOut(ctx context.Context) error
}

var errSignedOut = errors.New("signed out")

type Connection struct {
	ws         wsConnection
	uid        string
	fromClient chan models.ClientMessage
	failures   chan error
	errorCh    chan error
}

func NewConnection(ws wsConnection, uid string) *Connection {
	return &Connection{
		ws:         ws,
		uid:        uid,
		fromClient: make(chan models.ClientMessage),
		failures:   make(chan error, 16),
		errorCh:    make(chan error, 3),
	}
}

// Report queues a failed operation for the client. It never blocks: it is
// called from inside engine operations running on the main loop.
func (c *Connection) Report(err error) {
	select {
	case c.failures <- err:
	default:
		slog.Warn("dropping error frame, client is not reading", "uid", c.uid, "error", err)
	}
}

// Handle runs eng and shuttles frames until the socket fails, the client signs
// out or ctx is done.
func (c *Connection) Handle(ctx context.Context, eng engine) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Go(func() {
		c.errorCh <- eng.Run(ctx)
		cancel()
	})

	wg.Go(func() {
		c.errorCh <- c.pumpMessages(ctx)
		cancel()
	})

	wg.Go(func() {
		c.errorCh <- c.mainLoop(ctx, eng)
		cancel()
	})

	var err error
	select {
	case err = <-c.errorCh:
	case <-ctx.Done():
	}
	_ = c.ws.Close()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, errSignedOut) {
		return err
	}
	return nil
}

func (c *Connection) pumpMessages(ctx context.Context) error {
	for {
		var msg models.ClientMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			return err
		}
		select {
		case c.fromClient <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Connection) mainLoop(ctx context.Context, eng engine) error {
	for {
		select {
		case msg := <-c.fromClient:
			if err := c.processClientMessage(ctx, eng, msg); err != nil {
				return err
			}
		case st := <-eng.Updates():
			if err := c.ws.WriteJSON(models.ServerMessage{Type: models.ServerMessageTypeState, State: &st}); err != nil {
				return err
			}
		case failure := <-c.failures:
			if err := c.ws.WriteJSON(models.ServerMessage{Type: models.ServerMessageTypeError, Error: models.PayloadOf(failure)}); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// processClientMessage runs one command. Failed operations already reached the
// client through Report, so only transport errors are returned.
func (c *Connection) processClientMessage(ctx context.Context, eng engine, msg models.ClientMessage) error {
	switch msg.Type {
	case models.ClientMessageTypeCreate:
		code := strings.TrimSpace(msg.Code)
		if code == "" {
			code = content.GenerateRoomCode()
		}
		_, _ = eng.CreateRoom(ctx, msg.Name, code)
	case models.ClientMessageTypeDelete:
		_ = eng.DeleteRoom(ctx, msg.RoomID)
	case models.ClientMessageTypeJoin:
		_, _ = eng.JoinRoomByCode(ctx, msg.Code)
	case models.ClientMessageTypeLeave:
		_ = eng.LeaveRoom(ctx, msg.RoomID)
	case models.ClientMessageTypeKick:
		_ = eng.KickMember(ctx, msg.RoomID, msg.MemberID)
	case models.ClientMessageTypeRename:
		_ = eng.RenameRoom(ctx, msg.RoomID, msg.Name)
	case models.ClientMessageTypeSend:
		_ = eng.SendMessage(ctx, msg.RoomID, msg.Text)
	case models.ClientMessageTypeSelect:
		_ = eng.SelectRoom(msg.RoomID)
	case models.ClientMessageTypeCopyCode:
		code, err := eng.CopyRoomCode(msg.RoomID)
		if err != nil {
			return nil
		}
		return c.ws.WriteJSON(models.ServerMessage{Type: models.ServerMessageTypeCode, Code: code})
	case models.ClientMessageTypeUpdateProfile:
		username := msg.Username
		_, _ = eng.UpdateProfile(ctx, models.ProfilePatch{Username: &username})
	case models.ClientMessageTypeSignOut:
		_ = eng.SignOut(ctx)
		return errSignedOut
	default:
		slog.Warn("unknown client message", "uid", c.uid, "type", msg.Type)
	}
	return nil
}
