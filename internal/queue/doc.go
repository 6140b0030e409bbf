// Package queue содержит StageQueueRouter и контракт хранилища очередей.
//
// Router решает, из каких очередей worker берёт задачи при активной стадии,
// и следит за лимитом WIP (claimed, но ещё не подтверждённых descriptors)
// каждой очереди.
//
// Все общие изменяемые данные (очереди, WIP-счётчики, failed-set) живут
// в Store — внешнем хранилище, которое видят все процессы. Реализации:
//   - repo.QueueRepo — PostgreSQL
//   - kvstore.Store — встроенный Badger
//   - queuetest.MemoryStore — для тестов
package queue
