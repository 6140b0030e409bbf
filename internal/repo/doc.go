// Package repo реализует хранилища поверх PostgreSQL (pgx).
//
//   - QueueRepo  — очереди descriptors, WIP-счётчики и failed-set
//   - StateRepo  — статусы стадий, активная стадия и снимок окружения
//   - SQLCounter — количество записей стадии по count_sql
//
// Схема создаётся Migrate из schema.sql.
package repo
