package reststorage

import (
	"fmt"
	"strings"
	"time"
)

// LockMode decides what happens to a write from a different owner while a
// lock is held on a document.
type LockMode string

const (
	// LockModeSilent accepts the competing write and silently drops it.
	LockModeSilent LockMode = "silent"

	// LockModeReject refuses the competing write with a conflict.
	LockModeReject LockMode = "reject"
)

// ParseLockMode parses a lock mode, case-insensitively. The empty string
// yields LockModeSilent.
func ParseLockMode(s string) (LockMode, error) {
	switch LockMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", LockModeSilent:
		return LockModeSilent, nil
	case LockModeReject:
		return LockModeReject, nil
	}
	return "", BadRequestError{Param: "x-lock-mode", Value: s, Reason: "must be one of [silent, reject]"}
}

func (mode LockMode) String() string {
	return string(mode)
}

// Lock is a write lock attached to a document path. The zero value (no owner)
// means the request neither holds nor requests a lock.
type Lock struct {
	Owner string
	Mode  LockMode

	// Expire is how long the lock is held after the request.
	Expire time.Duration
}

// Held reports whether the lock names an owner.
func (l Lock) Held() bool {
	return l.Owner != ""
}

func (l Lock) String() string {
	if !l.Held() {
		return "none"
	}
	return fmt.Sprintf("%s(%s, %s)", l.Owner, l.Mode, l.Expire)
}
