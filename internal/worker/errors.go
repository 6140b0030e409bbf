package worker

import "errors"

// Ошибки воркера.
var (
	// ErrUnknownExecutor — тип executor'а не поддерживается.
	ErrUnknownExecutor = errors.New("unknown executor type")

	// ErrNoExecutor — для стадии не зарегистрирован executor.
	ErrNoExecutor = errors.New("no executor for stage")

	// ErrExecutorConfig — в конфигурации executor'а не хватает параметров.
	ErrExecutorConfig = errors.New("invalid executor config")

	// ErrHTTPRequest — HTTP-запрос завершился ошибкой.
	ErrHTTPRequest = errors.New("http request failed")

	// ErrCommandFailed — команда завершилась с ненулевым кодом.
	ErrCommandFailed = errors.New("command failed")

	// ErrTaskPanic — task body запаниковал.
	ErrTaskPanic = errors.New("task panicked")
)
