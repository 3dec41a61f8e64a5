// Pullwatch - Download Manager Task Synchronization Engine
// Copyright 2026 Pullwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pullwatch/pullwatch

package engine

import (
	"time"

	"github.com/goccy/go-json"

	"github.com/pullwatch/pullwatch/internal/logging"
	"github.com/pullwatch/pullwatch/internal/metrics"
	"github.com/pullwatch/pullwatch/internal/models"
)

// Adapter decodes push-channel frames into normalized TaskUpdates and
// notices for the reconciler. Poll snapshots take the dedicated
// ApplySnapshot path on the reconciler, which needs the whole snapshot for
// its absence handling. Malformed frames are dropped silently; a bad frame
// is never fatal.
type Adapter struct {
	onUpdate func(models.TaskUpdate)
	onNotice func(models.Notice)
}

// NewAdapter creates an adapter routing normalized updates and server
// notices to the given callbacks. Either callback may be nil.
func NewAdapter(onUpdate func(models.TaskUpdate), onNotice func(models.Notice)) *Adapter {
	return &Adapter{onUpdate: onUpdate, onNotice: onNotice}
}

// HandleFrame decodes one application frame from the push channel.
// Liveness replies never reach this method; the connection manager consumes
// them before forwarding.
func (a *Adapter) HandleFrame(data []byte) {
	var msg models.PushMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		metrics.MalformedMessages.Inc()
		logging.Debug().Err(err).Msg("dropping unparseable push frame")
		return
	}

	switch msg.Type {
	case models.MessageTypeTaskUpdate:
		var task models.Task
		if err := json.Unmarshal(msg.Data, &task); err != nil {
			metrics.MalformedMessages.Inc()
			logging.Debug().Err(err).Msg("dropping task_update with bad payload")
			return
		}
		if task.ID == 0 {
			metrics.MalformedMessages.Inc()
			logging.Debug().Msg("dropping task_update without task id")
			return
		}
		if a.onUpdate != nil {
			a.onUpdate(models.TaskUpdate{
				Task:       task,
				Source:     models.SourcePush,
				ReceivedAt: time.Now(),
			})
		}

	case models.MessageTypeNotification:
		var notice models.Notice
		if err := json.Unmarshal(msg.Data, &notice); err != nil {
			metrics.MalformedMessages.Inc()
			logging.Debug().Err(err).Msg("dropping notification with bad payload")
			return
		}
		if a.onNotice != nil {
			a.onNotice(notice)
		}

	default:
		// Unknown message type: ignore, the protocol may grow.
		logging.Debug().Str("type", msg.Type).Msg("ignoring unknown push message type")
	}
}
