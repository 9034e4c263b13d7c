package app

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func errNotFound(what string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", what+" not found", nil)
}

func errUnsetUser() *DomainError {
	return domainError(http.StatusUnauthorized, "UNSET_USER", "no acting user supplied", nil)
}

func errValidation(message string) *DomainError {
	return domainError(http.StatusBadRequest, "VALIDATION_ERROR", message, nil)
}

func errInvalidTreeOp(rule string) *DomainError {
	return domainError(http.StatusConflict, "INVALID_TREE_OP", rule, nil)
}

// errSharePathConflict carries the colliding matter so the caller can
// choose merge-then-share or walk away.
func errSharePathConflict(matterID, ownerID int64, path string) *DomainError {
	return domainError(http.StatusConflict, "SHARE_PATH_CONFLICT",
		"target user already owns a matter with this path",
		map[string]any{"matter_id": matterID, "owner_id": ownerID, "path": path})
}

// mapStoreErr folds the store's not-found sentinel into the domain
// taxonomy. Out-of-scope rows already arrive as sql.ErrNoRows, so scope
// violations and genuine absence are indistinguishable here by
// construction.
func mapStoreErr(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return errNotFound(what)
	}
	return err
}
