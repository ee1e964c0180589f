package registry

import (
	"encoding/json"

	"paddlearena/broker/internal/match"
)

// Event is the wire envelope for every server-emitted match message.
type Event struct {
	Type    string        `json:"type"`
	MatchID string        `json:"match_id,omitempty"`
	Value   int           `json:"value,omitempty"`
	Match   *match.Record `json:"match,omitempty"`
	Winner  match.Slot    `json:"winner,omitempty"`
}

const (
	eventCountdown = "countdown"
	eventStarted   = "started"
	eventUpdated   = "updated"
	eventPaused    = "paused"
	eventFinished  = "finished"
	eventRemoved   = "removed"
)

func countdownEvent(matchID string, value int) []byte {
	return encodeEvent(Event{Type: eventCountdown, MatchID: matchID, Value: value})
}

func startedEvent(record *match.Record) []byte {
	return encodeEvent(Event{Type: eventStarted, MatchID: record.ID, Match: record})
}

func updatedEvent(record *match.Record) []byte {
	return encodeEvent(Event{Type: eventUpdated, MatchID: record.ID, Match: record})
}

func pausedEvent(record *match.Record) []byte {
	return encodeEvent(Event{Type: eventPaused, MatchID: record.ID, Match: record})
}

func finishedEvent(record *match.Record) []byte {
	return encodeEvent(Event{Type: eventFinished, MatchID: record.ID, Match: record, Winner: record.Winner})
}

func removedEvent(matchID string) []byte {
	return encodeEvent(Event{Type: eventRemoved, MatchID: matchID})
}

func encodeEvent(event Event) []byte {
	data, err := json.Marshal(event)
	if err != nil {
		return nil
	}
	return data
}
