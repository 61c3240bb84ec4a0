package services

import (
	"errors"
	"fmt"
)

// Kind groups error codes by how a caller should react.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindConflict
	KindCapacity
	KindForbidden
	KindRateLimited
	KindInvalid
)

// BattleError is the error type returned by every battle operation.
// Two BattleErrors match under errors.Is when their codes are equal.
type BattleError struct {
	Code    string
	Kind    Kind
	Message string
	Err     error
}

func (e *BattleError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *BattleError) Unwrap() error { return e.Err }

func (e *BattleError) Is(target error) bool {
	t, ok := target.(*BattleError)
	return ok && t.Code == e.Code
}

// WithMessage returns a copy carrying a more specific message.
func (e *BattleError) WithMessage(format string, args ...any) *BattleError {
	cp := *e
	cp.Message = fmt.Sprintf(format, args...)
	return &cp
}

var (
	ErrNotFound                  = &BattleError{Code: "NOT_FOUND", Kind: KindNotFound, Message: "match not found"}
	ErrNotParticipant            = &BattleError{Code: "NOT_PARTICIPANT", Kind: KindForbidden, Message: "user is not an active participant"}
	ErrMatchFull                 = &BattleError{Code: "MATCH_FULL", Kind: KindCapacity, Message: "match is full"}
	ErrNotJoinable               = &BattleError{Code: "NOT_JOINABLE", Kind: KindConflict, Message: "match is not accepting players"}
	ErrNotLeavable               = &BattleError{Code: "NOT_LEAVABLE", Kind: KindConflict, Message: "match can no longer be left"}
	ErrReadyNotAllowed           = &BattleError{Code: "READY_NOT_ALLOWED", Kind: KindConflict, Message: "ready state can only change while waiting"}
	ErrStartConditionNotMet      = &BattleError{Code: "START_CONDITION_NOT_MET", Kind: KindConflict, Message: "room is not full or not everyone is ready"}
	ErrStartNotAllowed           = &BattleError{Code: "START_NOT_ALLOWED", Kind: KindForbidden, Message: "only the owner can start a waiting room"}
	ErrCharacterChangeNotAllowed = &BattleError{Code: "CHARACTER_CHANGE_NOT_ALLOWED", Kind: KindConflict, Message: "character can only change while waiting"}
	ErrTeamChangeNotAllowed      = &BattleError{Code: "TEAM_CHANGE_NOT_ALLOWED", Kind: KindConflict, Message: "team cannot be changed now"}
	ErrKickNotAllowed            = &BattleError{Code: "KICK_NOT_ALLOWED", Kind: KindForbidden, Message: "kick is not allowed"}
	ErrOwnerTransferNotAllowed   = &BattleError{Code: "OWNER_TRANSFER_NOT_ALLOWED", Kind: KindForbidden, Message: "ownership cannot be transferred"}
	ErrAlreadyInMatch            = &BattleError{Code: "ALREADY_IN_MATCH", Kind: KindConflict, Message: "user is already in another match"}
	ErrNotRunning                = &BattleError{Code: "NOT_RUNNING", Kind: KindConflict, Message: "match is not running"}
	ErrRateLimitExceeded         = &BattleError{Code: "RATE_LIMIT_EXCEEDED", Kind: KindRateLimited, Message: "too many inputs this second"}
	ErrInvalidArgument           = &BattleError{Code: "INVALID_ARGUMENT", Kind: KindInvalid, Message: "invalid argument"}
	ErrInternal                  = &BattleError{Code: "INTERNAL", Kind: KindInternal, Message: "internal error"}
)

// internal wraps infrastructure failures so they surface as INTERNAL.
func internal(op string, err error) error {
	if err == nil {
		return nil
	}
	var be *BattleError
	if errors.As(err, &be) {
		return err
	}
	return &BattleError{Code: ErrInternal.Code, Kind: KindInternal, Message: op, Err: err}
}

// AsBattleError classifies any error; unknown errors become INTERNAL.
func AsBattleError(err error) *BattleError {
	var be *BattleError
	if errors.As(err, &be) {
		return be
	}
	return &BattleError{Code: ErrInternal.Code, Kind: KindInternal, Message: ErrInternal.Message, Err: err}
}
