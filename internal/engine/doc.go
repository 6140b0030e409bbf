// Package engine содержит чистую логику pipeline без побочных эффектов.
//
// Включает:
//   - planner.go  — разбиение количества записей на chunks (ChunkPlanner)
//   - pipeline.go — описание pipeline: стадии, очереди, executors, порядок
//   - parser.go   — загрузка pipeline из YAML и валидация
//
// Engine отвечает за понимание структуры pipeline и порядка стадий.
// Ничего здесь не требует блокировок: всё вычисляется локально.
package engine
