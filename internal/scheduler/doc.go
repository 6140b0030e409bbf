// Package scheduler запускает pipeline.
//
// Режимы:
//   - Fresh — сброс очередей и WIP, публикация snapshot окружения,
//     проход по стадиям (с первой или после указанной)
//   - Restart — повтор упавших chunks активной стадии
//   - RunCron — fresh-запуски по cron-расписанию
//
// Одновременно должен работать один scheduler: AcquireInstanceLock
// защищает от второго процесса на той же машине, для PostgreSQL
// дополнительно берётся advisory lock (repo.AcquireAdvisoryLock).
//
// # Cron
//
// Стандартные 5 полей и @descriptors:
//
//	┌───────────── минута (0 - 59)
//	│ ┌───────────── час (0 - 23)
//	│ │ ┌───────────── день месяца (1 - 31)
//	│ │ │ ┌───────────── месяц (1 - 12)
//	│ │ │ │ ┌───────────── день недели (0 - 6)
//	│ │ │ │ │
//	* * * * *
//
// Запуск, совпавший с ещё идущим, пропускается.
package scheduler
