// Gameroom lobby
//
// A lobby room holds up to --lobby-max-clients users for chat and presence.
// Replicated state is a user mapping keyed by session ID plus a bounded chat
// history: at most 50 messages are retained, oldest evicted first.
//
// Client messages:
//   - chat            {content, kind}       append a chat message
//   - update_status   {status}              set own presence status
//   - private_message {targetUserId, content}
//
// A private message is echoed to the sender and delivered point-to-point to
// every connected session whose external user id matches the target. No
// match means no delivery and no error; the echo still happens.

package main

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const maxChatMessages = 50

const (
	chatKindNormal = "normal"
	chatKindSystem = "system"
	chatKindInvite = "invite"
)

type LobbyUser struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId,omitempty"`
	Name      string `json:"name"`
	Status    string `json:"status"`
}

type ChatMessage struct {
	ID        string    `json:"id"`
	SenderID  string    `json:"senderId"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"createdAt"`
}

type LobbyState struct {
	Users    map[string]*LobbyUser `json:"users"`
	Messages []ChatMessage         `json:"messages"`
}

type Lobby struct {
	cfg   *Config
	state LobbyState
}

func newLobby(cfg *Config) Game {
	return &Lobby{
		cfg: cfg,
		state: LobbyState{
			Users:    make(map[string]*LobbyUser),
			Messages: make([]ChatMessage, 0, maxChatMessages),
		},
	}
}

func (l *Lobby) MaxClients() int {
	return l.cfg.lobbyMaxClients
}

func (l *Lobby) Snapshot() any {
	return &l.state
}

func (l *Lobby) OnJoin(r *Room, c *Client) {
	name := c.opts.Name
	if name == "" {
		name = "guest-" + c.sessionID[:8]
	}

	user := &LobbyUser{
		SessionID: c.sessionID,
		UserID:    c.opts.UserID,
		Name:      name,
		Status:    "online",
	}
	l.state.Users[c.sessionID] = user
	r.patchAdd("users/"+c.sessionID, user)

	l.appendChat(r, ChatMessage{
		ID:        uuid.NewString(),
		Sender:    name,
		Content:   name + " joined the lobby.",
		Kind:      chatKindSystem,
		CreatedAt: time.Now(),
	})
}

func (l *Lobby) OnLeave(r *Room, c *Client, consented bool) {
	user, ok := l.state.Users[c.sessionID]
	if !ok {
		return
	}
	delete(l.state.Users, c.sessionID)
	r.patchRemove("users/" + c.sessionID)

	l.appendChat(r, ChatMessage{
		ID:        uuid.NewString(),
		Sender:    user.Name,
		Content:   user.Name + " left the lobby.",
		Kind:      chatKindSystem,
		CreatedAt: time.Now(),
	})
}

func (l *Lobby) OnMessage(r *Room, c *Client, kind string, payload json.RawMessage) {
	user, ok := l.state.Users[c.sessionID]
	if !ok {
		return
	}

	switch kind {
	case "chat":
		var msg struct {
			Content string `json:"content"`
			Kind    string `json:"kind"`
		}
		if err := json.Unmarshal(payload, &msg); err != nil || msg.Content == "" {
			return
		}
		if msg.Kind != chatKindInvite {
			msg.Kind = chatKindNormal
		}
		l.appendChat(r, ChatMessage{
			ID:        uuid.NewString(),
			SenderID:  c.sessionID,
			Sender:    user.Name,
			Content:   msg.Content,
			Kind:      msg.Kind,
			CreatedAt: time.Now(),
		})

	case "update_status":
		var msg struct {
			Status string `json:"status"`
		}
		if err := json.Unmarshal(payload, &msg); err != nil {
			return
		}
		switch msg.Status {
		case "online", "idle", "playing":
		default:
			return
		}
		user.Status = msg.Status
		r.patchSet("users/"+c.sessionID+"/status", msg.Status)

	case "private_message":
		var msg struct {
			TargetUserID string `json:"targetUserId"`
			Content      string `json:"content"`
		}
		if err := json.Unmarshal(payload, &msg); err != nil || msg.TargetUserID == "" || msg.Content == "" {
			return
		}
		l.sendPrivate(r, c, user, msg.TargetUserID, msg.Content)
	}
}

type privateMessage struct {
	Type    string      `json:"type"` // "private_message"
	Echo    bool        `json:"echo,omitempty"`
	Message ChatMessage `json:"message"`
}

// sendPrivate delivers a direct message to every session matching the target
// user id, plus exactly one echo to the sender.
func (l *Lobby) sendPrivate(r *Room, c *Client, sender *LobbyUser, targetUserID, content string) {
	msg := ChatMessage{
		ID:        uuid.NewString(),
		SenderID:  c.sessionID,
		Sender:    sender.Name,
		Content:   content,
		Kind:      chatKindNormal,
		CreatedAt: time.Now(),
	}

	for _, target := range r.clientsByUser(targetUserID) {
		if target.sessionID == c.sessionID {
			continue
		}
		r.sendTo(target, privateMessage{Type: "private_message", Message: msg})
	}

	r.sendTo(c, privateMessage{Type: "private_message", Echo: true, Message: msg})
}

// appendChat appends to the bounded history, evicting the oldest entry once
// the cap is exceeded. The append and any eviction go out as one add patch
// and one remove patch, so clients never hold more than 50 entries.
func (l *Lobby) appendChat(r *Room, msg ChatMessage) {
	l.state.Messages = append(l.state.Messages, msg)

	for len(l.state.Messages) > maxChatMessages {
		evicted := l.state.Messages[0]
		l.state.Messages = l.state.Messages[1:]
		r.patchRemove("messages/" + evicted.ID)
	}

	r.patchAdd("messages/"+msg.ID, msg)

	logf(l.cfg, "LOBBY: %s message from %q (%s)", msg.Kind, msg.Sender, msg.ID)
}
