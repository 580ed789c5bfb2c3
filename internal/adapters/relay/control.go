package relay

import (
	"encoding/json"

	"github.com/rs/zerolog/log"
)

// Relay-level frames never reach call participants.
const (
	typePing  = "ping"
	typePong  = "pong"
	typeError = "error"
)

func (h *Hub) handlePing(c *wsConn) {
	h.sendJSON(c, struct {
		Type string `json:"type"`
	}{Type: typePong})
}

func (h *Hub) replyError(c *wsConn, reason string) {
	h.sendJSON(c, map[string]any{
		"type":  typeError,
		"error": reason,
	})
}

func (h *Hub) sendJSON(c *wsConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}
