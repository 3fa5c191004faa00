package models

import (
	"time"
)

// SystemCreatorID marks rooms synthesized by the system rather than a user,
// e.g. a room materialized from a shared link that this node has never seen.
const SystemCreatorID = "system"

// Room is a named chat channel.
//
// Why string IDs and not uuid.UUID?
//   - Fresh rooms get uuid-generated ids, but rooms can also be materialized
//     from a direct link whose id was minted by another node (or another
//     implementation entirely). The id is opaque: we store whatever we were
//     handed. Parsing it into a uuid.UUID would reject valid foreign ids.
type Room struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	CreatedByID string    `json:"created_by_id"`
	IsActive    bool      `json:"is_active"`
}

// Participant is a lightweight identity bound to a room while present.
// There is no liveness protocol: a node that dies without leaving strands
// its participant entry until the room is reset.
type Participant struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// Message is a single chat utterance. Append-only within a room's log;
// never mutated after the owning broker assigns ID and Timestamp.
type Message struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	AuthorID   string    `json:"author_id"`
	AuthorName string    `json:"author_name"`
	Avatar     string    `json:"avatar,omitempty"`
	RoomID     string    `json:"room_id"`
	Timestamp  time.Time `json:"timestamp"`
}

// EnvelopeKind discriminates the intents relayed between broker nodes.
type EnvelopeKind string

const (
	EnvelopeJoin    EnvelopeKind = "join"
	EnvelopeLeave   EnvelopeKind = "leave"
	EnvelopeMessage EnvelopeKind = "message"
)

// Envelope is a broadcast intent: one node's join/leave/send, relayed to
// sibling nodes over the event transport. Origin carries the sending broker's
// instance id so receivers can ignore their own echoes.
type Envelope struct {
	Kind          EnvelopeKind `json:"kind"`
	Origin        string       `json:"origin"`
	RoomID        string       `json:"room_id"`
	Participant   *Participant `json:"participant,omitempty"`
	ParticipantID string       `json:"participant_id,omitempty"`
	Message       *Message     `json:"message,omitempty"`
	HighPriority  bool         `json:"high_priority,omitempty"`
}
