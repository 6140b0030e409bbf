package engine

import (
	"fmt"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Plan разбивает [0, total) на последовательные chunks размера size.
//
// Последний chunk усечён до остатка (1 ≤ размер ≤ size).
// Границы включительные: Plan(22, 10) = (0,9), (10,19), (20,21).
// total == 0 даёт пустой срез. Функция чистая и детерминированная.
func Plan(total, size int) ([]domain.Chunk, error) {
	if size < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidChunkSize, size)
	}
	if total < 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidRecords, total)
	}
	if total == 0 {
		return []domain.Chunk{}, nil
	}

	chunks := make([]domain.Chunk, 0, ChunkCount(total, size))
	for start := 0; start < total; start += size {
		end := min(start+size, total) - 1
		chunks = append(chunks, domain.Chunk{Start: start, End: end})
	}
	return chunks, nil
}

// ChunkCount возвращает ceil(total / size) без построения chunks.
func ChunkCount(total, size int) int {
	if total <= 0 || size < 1 {
		return 0
	}
	return (total + size - 1) / size
}
