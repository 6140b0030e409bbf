package queuetest

import (
	"testing"

	"github.com/shaiso/Conveyor/internal/queue"
)

func TestMemoryStore(t *testing.T) {
	RunStoreTests(t, func(t *testing.T) queue.Store {
		return NewMemoryStore()
	})
}
