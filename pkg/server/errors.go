package server

// ErrorKind classifies a command failure. Every kind is reported to the
// client the same way: one "error" reply carrying Msg.
type ErrorKind string

const (
	KindProtocol     ErrorKind = "protocol"
	KindAuthRequired ErrorKind = "auth_required"
	KindAuth         ErrorKind = "auth"
	KindValidation   ErrorKind = "validation"
	KindRouting      ErrorKind = "routing"
)

// CommandError is returned by command handlers. It never terminates the
// session; the dispatcher turns it into an error reply.
type CommandError struct {
	Kind ErrorKind
	Msg  string
}

func (e *CommandError) Error() string {
	return string(e.Kind) + ": " + e.Msg
}

func newCommandError(kind ErrorKind, msg string) *CommandError {
	return &CommandError{Kind: kind, Msg: msg}
}

var (
	errInvalidJSON   = newCommandError(KindProtocol, "Invalid JSON")
	errMissingCmd    = newCommandError(KindProtocol, "Missing cmd")
	errAuthRequired  = newCommandError(KindAuthRequired, "You must register/login first")
	errBadInvite     = newCommandError(KindAuth, "Invalid or used invite token")
	errUserExists    = newCommandError(KindAuth, "Username already exists")
	errBadCreds      = newCommandError(KindAuth, "Invalid credentials")
	errRegisterArgs  = newCommandError(KindValidation, "username,password,token required")
	errLoginArgs     = newCommandError(KindValidation, "username/password required")
	errRoomRequired  = newCommandError(KindValidation, "room required")
	errTextRequired  = newCommandError(KindValidation, "text required")
	errTargetMissing = newCommandError(KindValidation, "target required")
	errBadLimit      = newCommandError(KindValidation, "limit must be a number")
	errReplyTooLarge = newCommandError(KindProtocol, "Reply too large")
	errNotInRoom     = newCommandError(KindRouting, "Not in room")
	errNotJoined     = newCommandError(KindRouting, "Join room first")
	errRoomNotFound  = newCommandError(KindRouting, "Room not found")
	errUserOffline   = newCommandError(KindRouting, "User not online")
)

func errUnknownCmd(cmd string) *CommandError {
	return newCommandError(KindProtocol, "Unknown cmd: "+cmd)
}

func errValidation(err error) *CommandError {
	return newCommandError(KindValidation, err.Error())
}
