package entities

type Table string

const (
	TABLE_MESSAGES Table = "chat_message"
	TABLE_PRESENCE Table = "online_user"
)

type ChangeOp string

const (
	CHANGE_OP_INSERT ChangeOp = "INSERT"
	CHANGE_OP_UPDATE ChangeOp = "UPDATE"
	CHANGE_OP_DELETE ChangeOp = "DELETE"
)

// Change is one row change pushed by the durable store. Only the field that
// matches Table is set.
type Change struct {
	Table    Table
	Op       ChangeOp
	Message  *Message
	Presence *PresenceRecord
}
