package domain

import (
	"fmt"
	"strconv"
)

// Chunk — непрерывный диапазон индексов записей, обрабатываемый как одна задача.
//
// Обе границы включительные: Chunk{Start: 20, End: 21} покрывает записи 20 и 21.
// Chunks одной стадии не пересекаются и вместе покрывают ровно [0, count).
type Chunk struct {
	// Start — индекс первой записи.
	Start int `json:"start"`

	// End — индекс последней записи (включительно).
	End int `json:"end"`
}

// Size возвращает количество записей в chunk.
func (c Chunk) Size() int {
	return c.End - c.Start + 1
}

// StartKey возвращает начальный индекс в виде десятичной строки.
// Downstream-идентификаторы используют строки, а не числа.
func (c Chunk) StartKey() string {
	return strconv.Itoa(c.Start)
}

// EndKey возвращает конечный индекс в виде десятичной строки.
func (c Chunk) EndKey() string {
	return strconv.Itoa(c.End)
}

// String возвращает "(start,end)".
func (c Chunk) String() string {
	return fmt.Sprintf("(%d,%d)", c.Start, c.End)
}
