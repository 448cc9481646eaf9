package utils

import (
	"fmt"

	"github.com/gofrs/uuid/v5"
	pgxuuid "github.com/jackc/pgx-gofrs-uuid"
)

// NewMessageId returns a random 128-bit token. It panics only if the system
// random source fails.
func NewMessageId() string {
	return uuid.Must(uuid.NewV4()).String()
}

// NewEventId returns a locally unique id for a synthesized system event.
func NewEventId() string {
	return "local-" + uuid.Must(uuid.NewV4()).String()
}

func UuidToString(id pgxuuid.UUID) (*string, error) {
	var _uuid, err = id.UUIDValue()
	if err != nil {
		return nil, err
	}
	if !_uuid.Valid {
		return nil, fmt.Errorf("uuid is null")
	}
	var result = uuid.UUID(_uuid.Bytes).String()
	return &result, nil
}

func StringToUuid(value string) (pgxuuid.UUID, error) {
	parsed, err := uuid.FromString(value)
	if err != nil {
		return pgxuuid.UUID{}, fmt.Errorf("invalid message id %q: %w", value, err)
	}
	return pgxuuid.UUID(parsed), nil
}
