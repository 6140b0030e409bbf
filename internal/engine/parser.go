package engine

import (
	"fmt"
	"os"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// Допустимые типы executor'ов.
var validExecutorTypes = map[string]bool{
	"http":    true,
	"command": true,
	"delay":   true,
}

// ParsePipeline парсит YAML, заполняет значения по умолчанию и валидирует.
func ParsePipeline(data []byte) (*Pipeline, error) {
	var p Pipeline
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse pipeline: %w", err)
	}

	p.normalize()

	if err := Validate(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// LoadPipeline читает pipeline из файла.
func LoadPipeline(path string) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline: %w", err)
	}
	return ParsePipeline(data)
}

// normalize заполняет значения по умолчанию.
func (p *Pipeline) normalize() {
	if p.Policy == "" {
		p.Policy = PolicyDrain
	}

	for i := range p.Stages {
		stage := &p.Stages[i]

		if len(stage.Queues) == 0 {
			stage.Queues = []QueueDef{{Name: stage.Name}}
		}
		for j := range stage.Queues {
			if stage.Queues[j].MaxWIP == 0 {
				stage.Queues[j].MaxWIP = DefaultMaxWIP
			}
		}
	}
}

// Validate выполняет полную валидацию pipeline.
//
// Проверяет:
// - Наличие стадий
// - Имена стадий и очередей: непустые, без управляющих символов
// - Уникальность имён стадий
// - chunk_size ≥ 1, records ≥ 0
// - max_wip ≥ 1 и то, что очередь принадлежит одной стадии
// - Тип executor'а
// - Политику очередей
func Validate(p *Pipeline) error {
	if p == nil || len(p.Stages) == 0 {
		return ErrEmptyStages
	}

	switch p.Policy {
	case PolicyDrain, PolicyIsolated:
	default:
		return NewValidationError("", "policy",
			fmt.Sprintf("unknown queue policy: %s", p.Policy), ErrUnknownPolicy)
	}

	stageNames := make(map[string]bool)
	queueOwners := make(map[string]string)

	for i := range p.Stages {
		if err := ValidateStage(&p.Stages[i], stageNames, queueOwners); err != nil {
			return err
		}
	}

	return nil
}

// ValidateStage валидирует одну стадию.
// stageNames и queueOwners накапливают уже встреченные стадии и очереди.
func ValidateStage(stage *StageDef, stageNames map[string]bool, queueOwners map[string]string) error {
	if stage.Name == "" {
		return NewValidationError("", "name", "stage has empty name", ErrEmptyStageName)
	}
	if !validName(stage.Name) {
		return NewValidationError(stage.Name, "name",
			fmt.Sprintf("invalid stage name: %q", stage.Name), ErrInvalidName)
	}

	if stageNames[stage.Name] {
		return NewValidationError(stage.Name, "name",
			fmt.Sprintf("duplicate stage name: %s", stage.Name), ErrDuplicateStage)
	}
	stageNames[stage.Name] = true

	if stage.ChunkSize < 1 {
		return NewValidationError(stage.Name, "chunk_size",
			fmt.Sprintf("chunk_size must be at least 1, got %d", stage.ChunkSize), ErrInvalidChunkSize)
	}

	if stage.Records < 0 {
		return NewValidationError(stage.Name, "records",
			fmt.Sprintf("records must not be negative, got %d", stage.Records), ErrInvalidRecords)
	}

	for _, q := range stage.Queues {
		if q.Name == "" {
			return NewValidationError(stage.Name, "queues.name", "queue has empty name", ErrEmptyQueueName)
		}
		if !validName(q.Name) {
			return NewValidationError(stage.Name, "queues.name",
				fmt.Sprintf("invalid queue name: %q", q.Name), ErrInvalidName)
		}
		if q.MaxWIP < 1 {
			return NewValidationError(stage.Name, "queues.max_wip",
				fmt.Sprintf("queue %s: max_wip must be at least 1, got %d", q.Name, q.MaxWIP), ErrInvalidMaxWIP)
		}
		if owner, ok := queueOwners[q.Name]; ok {
			return NewValidationError(stage.Name, "queues.name",
				fmt.Sprintf("queue %s already belongs to stage %s", q.Name, owner), ErrDuplicateQueue)
		}
		queueOwners[q.Name] = stage.Name
	}

	if !validExecutorTypes[stage.Executor.Type] {
		return NewValidationError(stage.Name, "executor.type",
			fmt.Sprintf("unknown executor type: %q", stage.Executor.Type), ErrUnknownExecutor)
	}

	return nil
}

// validName запрещает управляющие символы: имена попадают в ключи
// хранилища, где байт 0x00 отделяет имя от остального ключа.
func validName(name string) bool {
	return !strings.ContainsFunc(name, unicode.IsControl)
}
