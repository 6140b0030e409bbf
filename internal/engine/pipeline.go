package engine

import (
	"fmt"

	"github.com/shaiso/Conveyor/internal/domain"
)

// DefaultMaxWIP — max_wip очереди, если он не указан в pipeline.
const DefaultMaxWIP = 8

// QueuePolicy определяет, из каких очередей worker берёт задачи
// при активной стадии.
type QueuePolicy string

const (
	// PolicyDrain — очереди всех стадий до активной включительно,
	// самые ранние первыми. Один пул воркеров дочищает старый backlog
	// раньше новой работы.
	PolicyDrain QueuePolicy = "drain"

	// PolicyIsolated — только очереди активной стадии.
	PolicyIsolated QueuePolicy = "isolated"
)

// Pipeline — упорядоченный набор стадий.
type Pipeline struct {
	// Name — имя pipeline (для логов и метрик).
	Name string `yaml:"name"`

	// Policy — политика выбора очередей (default: drain).
	Policy QueuePolicy `yaml:"policy"`

	// Stages — стадии в порядке выполнения.
	Stages []StageDef `yaml:"stages"`
}

// StageDef — определение стадии.
type StageDef struct {
	// Name — уникальное имя стадии.
	Name string `yaml:"name"`

	// Records — количество записей (если CountSQL не задан).
	Records int `yaml:"records"`

	// CountSQL — запрос, возвращающий количество записей на момент планирования.
	// Например: "SELECT count(*) FROM documents WHERE batch_id = 42".
	CountSQL string `yaml:"count_sql,omitempty"`

	// ChunkSize — максимальный размер chunk.
	ChunkSize int `yaml:"chunk_size"`

	// Queues — очереди стадии в порядке приоритета.
	// Если не заданы, используется одна очередь с именем стадии.
	Queues []QueueDef `yaml:"queues,omitempty"`

	// Executor — task body стадии.
	Executor ExecutorDef `yaml:"executor"`
}

// QueueDef — очередь и её лимит WIP.
type QueueDef struct {
	Name   string `yaml:"name"`
	MaxWIP int    `yaml:"max_wip"`
}

// ExecutorDef — тип и конфигурация task body.
type ExecutorDef struct {
	// Type — "http", "command" или "delay".
	Type string `yaml:"type"`

	// Config — параметры executor'а, смысл зависит от типа.
	Config map[string]any `yaml:"config,omitempty"`
}

// QueueNames возвращает имена очередей стадии в порядке приоритета.
func (s *StageDef) QueueNames() []string {
	names := make([]string, len(s.Queues))
	for i, q := range s.Queues {
		names[i] = q.Name
	}
	return names
}

// Stage возвращает определение стадии и её позицию.
func (p *Pipeline) Stage(name string) (*StageDef, int, error) {
	for i := range p.Stages {
		if p.Stages[i].Name == name {
			return &p.Stages[i], i, nil
		}
	}
	return nil, -1, fmt.Errorf("%w: %q", ErrUnknownStage, name)
}

// Next возвращает стадию, следующую за after.
//
// after == "" означает начало pipeline. Если after — последняя стадия,
// возвращается domain.ErrPipelineExhausted. Неизвестное имя даёт
// ошибку, оборачивающую domain.ErrInvalidArgument.
func (p *Pipeline) Next(after string) (*StageDef, int, error) {
	next := 0
	if after != "" {
		_, pos, err := p.Stage(after)
		if err != nil {
			return nil, -1, err
		}
		next = pos + 1
	}

	if next >= len(p.Stages) {
		return nil, -1, domain.ErrPipelineExhausted
	}
	return &p.Stages[next], next, nil
}

// StageNames возвращает имена всех стадий по порядку.
func (p *Pipeline) StageNames() []string {
	names := make([]string, len(p.Stages))
	for i := range p.Stages {
		names[i] = p.Stages[i].Name
	}
	return names
}

// MaxWIP возвращает лимит WIP для очереди (0, если очередь неизвестна).
func (p *Pipeline) MaxWIP(queue string) int {
	for i := range p.Stages {
		for _, q := range p.Stages[i].Queues {
			if q.Name == queue {
				return q.MaxWIP
			}
		}
	}
	return 0
}

// QueueLimits возвращает max_wip всех очередей pipeline.
func (p *Pipeline) QueueLimits() map[string]int {
	limits := make(map[string]int)
	for i := range p.Stages {
		for _, q := range p.Stages[i].Queues {
			limits[q.Name] = q.MaxWIP
		}
	}
	return limits
}
