package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

type UserStatus string

const (
	UserStatusActive UserStatus = "active"
	UserStatusBanned UserStatus = "banned"
)

type KeyKind string

const (
	KeyKindCredit       KeyKind = "credit"
	KeyKindSubscription KeyKind = "subscription"
)

// Tier is a subscription level. The zero value means no subscription and is
// stored as JSON null.
type Tier int

const (
	TierNone   Tier = 0
	TierBronze Tier = 1
	TierSilver Tier = 2
	TierGold   Tier = 3
)

func (t Tier) Valid() bool {
	return t >= TierBronze && t <= TierGold
}

func (t Tier) String() string {
	switch t {
	case TierBronze:
		return "Bronze 1"
	case TierSilver:
		return "Silver 2"
	case TierGold:
		return "Gold 3"
	default:
		return "None"
	}
}

func (t Tier) MarshalJSON() ([]byte, error) {
	if t == TierNone {
		return []byte("null"), nil
	}
	return []byte(strconv.Itoa(int(t))), nil
}

func (t *Tier) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*t = TierNone
		return nil
	}
	var v int
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("decode tier: %w", err)
	}
	*t = Tier(v)
	return nil
}

const TimestampLayout = "2006-01-02 15:04:05"

// Timestamp keeps the human readable join date format of the user document.
type Timestamp struct {
	time.Time
}

func (ts Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(ts.Format(TimestampLayout))
}

func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode timestamp: %w", err)
	}
	if raw == "" {
		ts.Time = time.Time{}
		return nil
	}
	parsed, err := time.ParseInLocation(TimestampLayout, raw, time.Local)
	if err != nil {
		return fmt.Errorf("parse timestamp: %w", err)
	}
	ts.Time = parsed
	return nil
}

type User struct {
	ID           string     `json:"-"`
	Username     string     `json:"username"`
	FullName     string     `json:"full_name"`
	DateJoined   Timestamp  `json:"date_joined"`
	Status       UserStatus `json:"status"`
	Balance      int        `json:"balance"`
	Subscription Tier       `json:"subscription"`
	Achievements []string   `json:"achievements"`
	GamesPlayed  int        `json:"games_played"`
}

func (u *User) Banned() bool {
	return u.Status == UserStatusBanned
}

// Clone returns a deep copy so callers cannot mutate repository state.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.Achievements = make([]string, len(u.Achievements))
	copy(c.Achievements, u.Achievements)
	return &c
}

type IssuedKey struct {
	Code  string
	Kind  KeyKind
	Value int
}

// Ledger is the outstanding key set, partitioned by kind.
type Ledger struct {
	Credits       map[string]int `json:"credits"`
	Subscriptions map[string]int `json:"subscriptions"`
}

func NewLedger() Ledger {
	return Ledger{
		Credits:       make(map[string]int),
		Subscriptions: make(map[string]int),
	}
}

func (l Ledger) Partition(kind KeyKind) map[string]int {
	if kind == KeyKindSubscription {
		return l.Subscriptions
	}
	return l.Credits
}

func (l Ledger) Lookup(code string) (IssuedKey, bool) {
	if v, ok := l.Credits[code]; ok {
		return IssuedKey{Code: code, Kind: KeyKindCredit, Value: v}, true
	}
	if v, ok := l.Subscriptions[code]; ok {
		return IssuedKey{Code: code, Kind: KeyKindSubscription, Value: v}, true
	}
	return IssuedKey{}, false
}

func (l Ledger) Clone() Ledger {
	c := NewLedger()
	for k, v := range l.Credits {
		c.Credits[k] = v
	}
	for k, v := range l.Subscriptions {
		c.Subscriptions[k] = v
	}
	return c
}

// Reward describes what a redeemed key granted.
type Reward struct {
	Kind  KeyKind
	Value int
}
