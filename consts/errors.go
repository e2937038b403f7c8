package consts

import "errors"

var (
	ErrNoSuchMessage  = errors.New("no such message")
	ErrMessageDeleted = errors.New("message already deleted")
	ErrMailboxLocked  = errors.New("mailbox already locked")
)
