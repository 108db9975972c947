// Package v1 defines the relay wire protocol.
//
// This package is intentionally stable and dependency-light.
// It is shared between server and clients to keep the wire protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
)

// Kind identifies one inbound message variant (wire-stable tag names).
type Kind string

const (
	// KindLoginWithPassword authenticates the connection with email + password.
	KindLoginWithPassword Kind = "LoginWithPassword"
	// KindLoginWithEmail is reserved for a future email-code login flow.
	// It is part of the wire protocol but not implemented by the server.
	KindLoginWithEmail Kind = "LoginWithEmail"
	// KindChatMessage relays a chat line to all connected clients.
	KindChatMessage Kind = "ChatMessage"
)

// ErrDecode reports a payload that does not match any known tagged variant.
var ErrDecode = errors.New("unrecognized message")

// LoginWithPassword carries plaintext credentials for one login attempt.
// It must never be logged with its Password field populated.
type LoginWithPassword struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginWithEmail mirrors LoginWithPassword for the reserved email-code flow.
type LoginWithEmail struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ChatMessage is a single chat line from a client.
type ChatMessage struct {
	Text string `json:"chat_message"`
}

// Inbound is the decoded tagged union. Exactly one variant pointer is non-nil,
// and Kind names it.
type Inbound struct {
	Kind Kind

	LoginWithPassword *LoginWithPassword
	LoginWithEmail    *LoginWithEmail
	Chat              *ChatMessage
}

// Decode parses one inbound frame.
//
// The wire format is an externally tagged JSON object with exactly one of the
// known tags as key:
//
//	{"LoginWithPassword": {"email": "...", "password": "..."}}
//	{"LoginWithEmail":    {"email": "...", "password": "..."}}
//	{"ChatMessage":       {"chat_message": "..."}}
//
// Zero recognized tags, more than one tag, or malformed JSON all yield ErrDecode.
func Decode(data []byte) (Inbound, error) {
	var raw struct {
		LoginWithPassword *LoginWithPassword `json:"LoginWithPassword"`
		LoginWithEmail    *LoginWithEmail    `json:"LoginWithEmail"`
		ChatMessage       *ChatMessage       `json:"ChatMessage"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	var out Inbound
	n := 0
	if raw.LoginWithPassword != nil {
		out = Inbound{Kind: KindLoginWithPassword, LoginWithPassword: raw.LoginWithPassword}
		n++
	}
	if raw.LoginWithEmail != nil {
		out = Inbound{Kind: KindLoginWithEmail, LoginWithEmail: raw.LoginWithEmail}
		n++
	}
	if raw.ChatMessage != nil {
		out = Inbound{Kind: KindChatMessage, Chat: raw.ChatMessage}
		n++
	}

	switch n {
	case 1:
		return out, nil
	case 0:
		return Inbound{}, fmt.Errorf("%w: no known tag", ErrDecode)
	default:
		return Inbound{}, fmt.Errorf("%w: %d tags in one frame", ErrDecode, n)
	}
}

// RenderChat renders the outbound broadcast fragment for one chat line.
//
// The snippet targets an hx-swap-oob container on the client. Text is
// HTML-escaped before embedding so chat input cannot inject markup.
func RenderChat(text string) string {
	return fmt.Sprintf(
		`<div hx-swap-oob="beforeend:#idMessage"><p>%s</p><br/></div>`,
		html.EscapeString(text),
	)
}
