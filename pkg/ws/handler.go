package ws

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"supportchat/pkg/auth"
	"supportchat/pkg/chat"
	"supportchat/pkg/logger"
	"supportchat/pkg/models"
	"supportchat/pkg/registry"
	"supportchat/pkg/utils"
)

// Origin checks are enforced by the auth middleware's CORS handling; the
// upgrader itself stays permissive.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Command is one inbound client frame.
type Command struct {
	Type    string `json:"type"`
	Session string `json:"session,omitempty"`
	Content string `json:"content,omitempty"`
	// Ref is echoed back on error events so clients can correlate replies.
	Ref string `json:"ref,omitempty"`
}

// Inbound command types.
const (
	CmdJoin            = "join"
	CmdLeave           = "leave"
	CmdMessage         = "message"
	CmdAssistantOption = "assistant_option"
	CmdTypingStart     = "typing_start"
	CmdTypingStop      = "typing_stop"
	CmdEndSession      = "end_session"
)

// Handler upgrades the connection, registers it as the participant's
// single live connection (latest wins) and pumps events both ways until
// disconnect.
func Handler(router *chat.Router, reg *registry.Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := auth.IdentityFromContext(r.Context())
		if !ok {
			utils.JSONError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("ws_upgrade_failed", "participant", id.Participant, "error", err)
			return
		}

		c := newClient(id.Participant, id.Role, conn)
		reg.Register(id.Participant, id.Role, c)
		if id.Role == models.RoleAdmin {
			// admins watch the waiting queue from the moment they connect
			reg.JoinRoom(id.Participant, chat.AdminQueueRoom)
		}

		go c.writePump()
		readPump(c, router, reg)
	})
}

// readPump decodes client commands and dispatches them to the router.
// Command errors are replied on the same connection as error events
// carrying the client's ref; they never tear the connection down.
func readPump(c *client, router *chat.Router, reg *registry.Registry) {
	defer func() {
		c.Close("read loop finished")
		reg.Unregister(c.participant, c)
		c.conn.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var cmd Command
		if err := c.conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Warn("ws_read_failed", "participant", c.participant, "error", err)
			}
			return
		}
		if err := dispatch(c, router, cmd); err != nil {
			replyError(c, cmd.Ref, err)
		}
	}
}

func dispatch(c *client, router *chat.Router, cmd Command) error {
	switch cmd.Type {
	case CmdJoin:
		return router.JoinSession(cmd.Session, c.participant, c.role)
	case CmdLeave:
		router.LeaveSession(cmd.Session, c.participant)
		return nil
	case CmdMessage, CmdAssistantOption:
		_, err := router.SendMessage(cmd.Session, c.participant, c.role, cmd.Content)
		return err
	case CmdTypingStart:
		return router.StartTyping(cmd.Session, c.participant, c.role)
	case CmdTypingStop:
		return router.StopTyping(cmd.Session, c.participant, c.role)
	case CmdEndSession:
		_, err := router.EndSession(cmd.Session, c.participant)
		return err
	default:
		return &chat.ValidationError{Reason: "unknown command type " + cmd.Type}
	}
}

func replyError(c *client, ref string, err error) {
	payload := models.ErrorPayload{Code: chat.CodeOf(err), Message: err.Error()}
	var aa *chat.AlreadyAssignedError
	if errors.As(err, &aa) {
		payload.Admin = aa.Admin
	}
	c.Enqueue(models.Event{Type: models.EventError, Ref: ref, Payload: payload})
}
