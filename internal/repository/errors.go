package repository

import "errors"

// ErrNotFound is a repository-specific sentinel error. It is returned when a
// lookup by id (GetSession, UpdateSession) finds nothing.
//
// The service layer translates it into app_errors.ErrNotFound, so business
// logic never sees sql.ErrNoRows or redis.Nil.
var ErrNotFound = errors.New("repository: not found")
