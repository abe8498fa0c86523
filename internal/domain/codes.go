package domain

// Code is a machine-readable error code surfaced to clients.
type Code string

const (
	CodeUnauth            Code = "UNAUTH"
	CodeIncompleteProfile Code = "INCOMPLETE_PROFILE"
	CodeAlreadyQueued     Code = "ALREADY_QUEUED"
	CodeAlreadyMatched    Code = "ALREADY_MATCHED"
	CodeMatchNotFound     Code = "MATCH_NOT_FOUND"
	CodeMatchExpired      Code = "MATCH_EXPIRED"
	CodeRoomNotFound      Code = "ROOM_NOT_FOUND"
	CodeNotInRoom         Code = "NOT_IN_ROOM"
	CodeOverflow          Code = "OVERFLOW"
	CodeInternal          Code = "INTERNAL"
)
