package gateway

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"pokerclock/internal/clock"
	"pokerclock/internal/registry"
)

// Outbound message tags.
const (
	msgSnapshot    = "snapshot"
	msgTick        = "tick"
	msgSystemEvent = "system_event"
	msgPlaySound   = "play_sound"
	msgError       = "error_msg"
)

// Sound cue identifiers.
const (
	SoundLevelAdvance  = "level_advance"
	SoundOneMinuteLeft = "one_minute_left"
)

// stateMessage carries a full snapshot, tagged either "snapshot" (state
// change) or "tick" (periodic, same shape, for client-side smoothing).
type stateMessage struct {
	Type string `json:"type"`
	registry.Snapshot
}

type systemEventMessage struct {
	Type  string      `json:"type"`
	Event clock.Event `json:"event"`
}

type playSoundMessage struct {
	Type      string `json:"type"`
	SoundType string `json:"soundType"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func encodeSnapshot(snap registry.Snapshot) []byte {
	return encode(stateMessage{Type: msgSnapshot, Snapshot: snap})
}

func encodeTick(snap registry.Snapshot) []byte {
	return encode(stateMessage{Type: msgTick, Snapshot: snap})
}

func encodeSystemEvent(event clock.Event) []byte {
	return encode(systemEventMessage{Type: msgSystemEvent, Event: event})
}

func encodePlaySound(soundType string) []byte {
	return encode(playSoundMessage{Type: msgPlaySound, SoundType: soundType})
}

func encodeError(message string) []byte {
	return encode(errorMessage{Type: msgError, Message: message})
}

func encode(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal outbound message")
		return nil
	}
	return data
}
