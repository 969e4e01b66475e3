package models

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
)

type Role string

const (
	RoleClient Role = "client"
	RoleDriver Role = "driver"
)

type TransitionType string

const (
	TransitionConfirm TransitionType = "confirm"
	TransitionCancel  TransitionType = "cancel"
)

// TransitionFor maps a reservation status onto the notification it triggers.
func TransitionFor(s Status) (TransitionType, bool) {
	switch s {
	case StatusConfirmed:
		return TransitionConfirm, true
	case StatusCancelled:
		return TransitionCancel, true
	default:
		return "", false
	}
}

type Client struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type Trip struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type Reservation struct {
	ID       string    `json:"id"`
	Status   Status    `json:"status"`
	Client   *Client   `json:"client,omitempty"`
	DriverID string    `json:"driverId"`
	Date     Timestamp `json:"date"`
	Trip     *Trip     `json:"trip,omitempty"`
	Price    *float64  `json:"price,omitempty"`
}

// ShortID is the human-friendly reference quoted in emails.
func (r Reservation) ShortID() string {
	runes := []rune(r.ID)
	if len(runes) <= 8 {
		return r.ID
	}
	return string(runes[:8])
}

// Clone returns a copy that shares no pointers with r.
func (r Reservation) Clone() Reservation {
	out := r
	if r.Client != nil {
		c := *r.Client
		out.Client = &c
	}
	if r.Trip != nil {
		t := *r.Trip
		out.Trip = &t
	}
	if r.Price != nil {
		p := *r.Price
		out.Price = &p
	}
	return out
}

type Driver struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email"`
}

type Recipient struct {
	Email string
	Role  Role
}

// Transition is a status change observed on one reservation.
type Transition struct {
	ReservationID string
	Previous      Status
	Next          Status
	Snapshot      Reservation
}

// Timestamp decodes the date shapes found in reservation documents. Values
// it cannot make sense of decode to the zero time instead of failing the
// whole document.
type Timestamp struct {
	time.Time
}

func NewTimestamp(t time.Time) Timestamp { return Timestamp{Time: t} }

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	t.Time = time.Time{}
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
			if parsed, err := time.Parse(layout, s); err == nil {
				t.Time = parsed
				return nil
			}
		}
	case '{':
		var obj struct {
			Seconds     *int64 `json:"seconds"`
			LegacySecs  *int64 `json:"_seconds"`
			Nanoseconds int64  `json:"nanoseconds"`
			LegacyNanos int64  `json:"_nanoseconds"`
		}
		if err := json.Unmarshal(b, &obj); err != nil {
			return nil
		}
		switch {
		case obj.Seconds != nil:
			t.Time = time.Unix(*obj.Seconds, obj.Nanoseconds).UTC()
		case obj.LegacySecs != nil:
			t.Time = time.Unix(*obj.LegacySecs, obj.LegacyNanos).UTC()
		}
	default:
		if secs, err := strconv.ParseFloat(string(b), 64); err == nil {
			whole := int64(secs)
			t.Time = time.Unix(whole, int64((secs-float64(whole))*1e9)).UTC()
		}
	}
	return nil
}
