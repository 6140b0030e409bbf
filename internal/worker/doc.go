// Package worker выполняет chunks стадий.
//
// # Обзор
//
// Worker — stateless исполнитель. Он не знает о порядке стадий:
// активную стадию записывает orchestrator, а Router по политике pipeline
// говорит, из каких очередей брать работу. Несколько процессов с пулами
// workers могут работать с одним хранилищем одновременно.
//
// # Ключевые компоненты
//
// ## Pool
//
// Запускает P workers под errgroup и собирает их статистику:
//
//	pool := worker.NewPool(worker.PoolConfig{
//	    Concurrency: 4,
//	    Worker: worker.Config{
//	        Router:   router,
//	        Registry: registry,
//	        Env:      stateStore,
//	        Stages:   stateStore,
//	        Waker:    wakeup,
//	        Logger:   logger,
//	    },
//	})
//	stats, err := pool.Run(ctx)
//
// ## Executor
//
// Task body стадии:
//
//	type Executor interface {
//	    Execute(ctx context.Context, tc TaskContext) error
//	}
//
// Реализации:
//   - HTTPExecutor — POST chunk на endpoint
//   - CommandExecutor — shell-команда с границами chunk в окружении
//   - DelayExecutor — задержка, для smoke-тестов
//
// ## Registry
//
// Executor'ы по имени стадии. BuildRegistry создаёт реестр
// по определению pipeline.
//
// # Обработка descriptor
//
//  1. Snapshot окружения читается один раз при старте worker
//  2. Активная стадия → очереди (Router.QueuesFor)
//  3. TryClaim по очередям в порядке приоритета
//  4. Executor стадии; паника превращается в ошибку
//  5. Успех → Ack; ошибка → Fail (chunk уходит в failed-set стадии)
//
// Повторов внутри worker нет: упавшие chunks перезапускает
// orchestrator в режиме restart.
//
// # Остановка
//
// После отмены ctx worker доводит текущий claim до Ack или Fail
// и только потом выходит.
package worker
