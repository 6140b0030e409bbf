package worker

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"
)

const defaultCommandTimeout = 30 * time.Minute

// CommandExecutor — executor для стадий типа "command".
//
// Запускает команду через sh -c. Границы chunk передаются в окружении:
// CONVEYOR_STAGE, CONVEYOR_CHUNK_START, CONVEYOR_CHUNK_END, CONVEYOR_ATTEMPT,
// CONVEYOR_DESCRIPTOR_ID. Поверх окружения процесса добавляется snapshot,
// опубликованный scheduler'ом.
//
// Config:
//   - command (string): команда (обязательно)
//   - dir (string): рабочая директория
//   - timeout_sec (number): таймаут в секундах. Default: 1800
type CommandExecutor struct{}

// Execute запускает команду и ждёт её завершения.
func (e *CommandExecutor) Execute(ctx context.Context, tc TaskContext) error {
	command := getString(tc.Config, "command", "")
	if command == "" {
		return fmt.Errorf("%w: command is required", ErrExecutorConfig)
	}

	ctx, cancel := context.WithTimeout(ctx, getTimeout(tc.Config, defaultCommandTimeout))
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = getString(tc.Config, "dir", "")
	cmd.Env = commandEnv(tc)

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", ErrCommandFailed, ctx.Err())
		}
		return fmt.Errorf("%w: %v: %s", ErrCommandFailed, err, truncate(output.String(), 500))
	}

	if tc.Logger != nil && output.Len() > 0 {
		tc.Logger.Debug("command output", "output", truncate(output.String(), 2000))
	}
	return nil
}

// commandEnv собирает окружение команды. Поздние значения перекрывают
// ранние: процесс, затем snapshot, затем параметры chunk.
func commandEnv(tc TaskContext) []string {
	d := tc.Descriptor

	env := os.Environ()
	env = append(env, tc.Env.Environ()...)
	env = append(env,
		"CONVEYOR_STAGE="+d.Stage,
		"CONVEYOR_QUEUE="+d.Queue,
		"CONVEYOR_CHUNK_START="+d.Chunk.StartKey(),
		"CONVEYOR_CHUNK_END="+d.Chunk.EndKey(),
		"CONVEYOR_ATTEMPT="+strconv.Itoa(d.Attempt),
		"CONVEYOR_DESCRIPTOR_ID="+d.ID.String(),
	)
	return env
}
