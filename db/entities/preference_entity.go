package entities

import "time"

type BlockedUser struct {
	UserId    string    `json:"username"`
	BlockedAt time.Time `json:"blocked_at"`
}

type UserWarning struct {
	UserId string `json:"username"`
	Level  int    `json:"level"`
}
