package repo

import (
	"errors"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Общие ошибки репозиториев.
var (
	// ErrNotFound — запись не найдена в БД.
	ErrNotFound = domain.ErrNotFound

	// ErrInvalidState — операция невозможна в текущем состоянии.
	ErrInvalidState = errors.New("invalid state")
)
