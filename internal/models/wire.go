// Pullwatch - Download Manager Task Synchronization Engine
// Copyright 2026 Pullwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pullwatch/pullwatch

package models

import "github.com/goccy/go-json"

// Push channel wire protocol.
//
// Client to server: the fixed literal probe token as a text frame.
// Server to client: the fixed literal liveness token, or a JSON envelope
// with a type discriminator.
const (
	// ProbeToken is the liveness probe the client sends.
	ProbeToken = "ping"

	// LivenessToken is the server's reply to a probe. It carries no task
	// data and only refreshes the liveness timestamp.
	LivenessToken = "pong"

	// MessageTypeTaskUpdate carries one task's full new state.
	MessageTypeTaskUpdate = "task_update"

	// MessageTypeNotification carries a user-facing message with severity.
	MessageTypeNotification = "notification"
)

// PushMessage is the JSON envelope for application messages on the push
// channel. Data is decoded per Type.
type PushMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// NoticeLevel is the severity of a server-pushed notice.
type NoticeLevel string

// Notice severities.
const (
	NoticeInfo    NoticeLevel = "info"
	NoticeWarning NoticeLevel = "warning"
	NoticeError   NoticeLevel = "error"
)

// Notice is a transient user-facing message, distinct from desktop
// notifications. Sources: server-pushed notification messages and rejected
// user actions.
type Notice struct {
	Message string      `json:"message"`
	Level   NoticeLevel `json:"level"`
}

// SubmitRequest is the payload for creating a task from a URI or magnet link.
type SubmitRequest struct {
	URI string `json:"uri"`
}
