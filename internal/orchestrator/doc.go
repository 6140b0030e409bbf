// Package orchestrator проводит pipeline через стадии.
//
// Controller отвечает за:
//   - Выбор следующей стадии (Next)
//   - Планирование chunks и постановку их в очередь (StageRun.Process)
//   - Запись активной стадии, по которой workers выбирают очереди
//   - Ожидание, пока очереди стадии опустеют и WIP станет нулевым
//   - Повторную постановку упавших chunks (RestartFailedStage)
//
// Сам Controller chunks не выполняет: это делают workers.
// Стадия с непустым failed-set всё равно считается COMPLETED.
package orchestrator
