package kvstore

import (
	"bytes"
	"fmt"

	"github.com/google/uuid"
)

// sep завершает имя очереди или стадии в ключе. Имена не содержат 0x00
// (engine.ValidateStage), поэтому префикс одного имени не совпадает
// с префиксом другого, даже если одно имя начинается с другого.
const sep = "\x00"

func queueKey(q, part string) []byte {
	return []byte("queue:" + q + sep + part)
}

func wipKey(q string) []byte {
	return queueKey(q, "wip")
}

func pendingPrefix(q string) []byte {
	return queueKey(q, "pending"+sep)
}

// pendingKey дополняет seq нулями до 20 цифр, чтобы лексикографический
// порядок ключей совпадал с порядком постановки.
func pendingKey(q string, seq uint64, id uuid.UUID) []byte {
	return fmt.Appendf(pendingPrefix(q), "%020d:%s", seq, id)
}

func claimedPrefix(q string) []byte {
	return queueKey(q, "claimed"+sep)
}

func claimedKey(q string, id uuid.UUID) []byte {
	return append(claimedPrefix(q), id.String()...)
}

func failurePrefix(stage string) []byte {
	return []byte("failure:" + stage + sep)
}

func failureKey(stage string, seq uint64, id uuid.UUID) []byte {
	return fmt.Appendf(failurePrefix(stage), "%020d:%s", seq, id)
}

func stageKey(name string) []byte {
	return []byte("stage:" + name)
}

func isWIPKey(key []byte) bool {
	return bytes.HasPrefix(key, []byte("queue:")) && bytes.HasSuffix(key, []byte(sep+"wip"))
}

func isClaimedKey(key []byte) bool {
	return bytes.HasPrefix(key, []byte("queue:")) && bytes.Contains(key, []byte(sep+"claimed"+sep))
}
