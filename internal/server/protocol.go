package server

import (
	"github.com/normanking/cortexpuppet/internal/landmarks"
	"github.com/normanking/cortexpuppet/internal/mapper"
)

// Client message types
const (
	MsgStart  = "start"
	MsgFrame  = "frame"
	MsgConfig = "config"
	MsgReset  = "reset"
	MsgStop   = "stop"
)

// Server message types. Config and reset requests are acknowledged with
// their own type.
const (
	MsgStarted = "started"
	MsgResult  = "result"
	MsgNoFace  = "no_face"
	MsgError   = "error"
	MsgStopped = "stopped"
)

// ClientMessage is sent by a tracking client.
type ClientMessage struct {
	Type        string              `json:"type"`
	CharacterID string              `json:"characterId,omitempty"` // start
	TemplateID  string              `json:"templateId,omitempty"`  // start
	Frame       *landmarks.Frame    `json:"frame,omitempty"`       // frame
	Config      *mapper.ConfigPatch `json:"config,omitempty"`      // start, config
}

// ServerMessage is sent to a tracking client.
type ServerMessage struct {
	Type        string         `json:"type"`
	SessionID   string         `json:"sessionId,omitempty"`
	CharacterID string         `json:"characterId,omitempty"`
	TemplateID  string         `json:"templateId,omitempty"`
	Seq         uint64         `json:"seq,omitempty"`
	Result      *mapper.Result `json:"result,omitempty"`
	Config      *mapper.Config `json:"config,omitempty"`
	Dropped     uint64         `json:"dropped,omitempty"`
	Error       string         `json:"error,omitempty"`
}
