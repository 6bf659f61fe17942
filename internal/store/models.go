package store

import "time"

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleClient Role = "client"
)

type User struct {
	ID         string
	Email      string
	Name       string
	Role       Role
	CreatedAt  time.Time
	LastSeenAt time.Time
}

// InboxState is the mutable half of an inbox: how far it has been synced and
// how the last pass ended.
type InboxState struct {
	InboxID      string
	Cursor       string
	LastSyncedAt time.Time
	LastStatus   string
	LastError    string
}

const (
	InboxStatusOK     = "ok"
	InboxStatusFailed = "failed"
)

type Thread struct {
	ID            string
	InboxID       string
	UserID        string
	BookingID     string
	Subject       string
	Counterpart   string
	LastMessageAt time.Time
	CreatedAt     time.Time
}

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

type Message struct {
	ID           string
	InboxID      string
	ThreadID     string
	ExternalID   string
	RFCMessageID string
	InReplyTo    string
	References   []string
	Direction    Direction
	From         string
	To           string
	Subject      string
	Body         string
	ReceivedAt   time.Time
	CreatedAt    time.Time
}

type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
)

func (s BookingStatus) Valid() bool {
	switch s {
	case BookingPending, BookingConfirmed, BookingCancelled:
		return true
	default:
		return false
	}
}

type Booking struct {
	ID              string
	UserID          string
	Name            string
	Email           string
	Phone           string
	Venue           string
	EventType       string
	EventDate       string // YYYY-MM-DD
	StartTime       string // HH:MM, optional
	DurationMinutes int
	Status          BookingStatus
	Notes           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// SpoolMessage is a raw message accepted by the inbound relay and waiting to
// be picked up by the relay connector.
type SpoolMessage struct {
	ID           string
	InboxAddress string
	EnvelopeFrom string
	Raw          []byte
	ReceivedAt   time.Time
}
