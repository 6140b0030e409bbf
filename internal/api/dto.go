package api

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
)

// PipelineResponse — описание pipeline.
type PipelineResponse struct {
	Name   string          `json:"name"`
	Policy engine.QueuePolicy `json:"policy"`
	Stages []StageDefBrief    `json:"stages"`
}

// StageDefBrief — стадия pipeline без конфигурации executor.
type StageDefBrief struct {
	Name      string       `json:"name"`
	ChunkSize int          `json:"chunk_size"`
	Executor  string       `json:"executor"`
	Queues    []QueueBrief `json:"queues"`
}

// QueueBrief — очередь стадии и её лимит WIP.
type QueueBrief struct {
	Name   string `json:"name"`
	MaxWIP int    `json:"max_wip"`
}

// PipelineFromEngine конвертирует engine.Pipeline в PipelineResponse.
func PipelineFromEngine(p *engine.Pipeline) PipelineResponse {
	stages := make([]StageDefBrief, len(p.Stages))
	for i, s := range p.Stages {
		queues := make([]QueueBrief, len(s.Queues))
		for j, q := range s.Queues {
			queues[j] = QueueBrief{Name: q.Name, MaxWIP: q.MaxWIP}
		}
		stages[i] = StageDefBrief{
			Name:      s.Name,
			ChunkSize: s.ChunkSize,
			Executor:  s.Executor.Type,
			Queues:    queues,
		}
	}
	return PipelineResponse{Name: p.Name, Policy: p.Policy, Stages: stages}
}

// StageResponse — статус стадии.
type StageResponse struct {
	Name      string             `json:"name"`
	Position  int                `json:"position"`
	Status    domain.StageStatus `json:"status"`
	Active    bool               `json:"active"`
	Pending   int                `json:"pending"`
	InFlight  int                `json:"in_flight"`
	Failures  int                `json:"failures"`
	UpdatedAt *time.Time         `json:"updated_at,omitempty"`
}

// QueueResponse — состояние очереди.
type QueueResponse struct {
	Name     string `json:"name"`
	Stage    string `json:"stage"`
	MaxWIP   int    `json:"max_wip"`
	Pending  int    `json:"pending"`
	InFlight int    `json:"in_flight"`
}

// FailureResponse — запись failed-set.
type FailureResponse struct {
	DescriptorID uuid.UUID `json:"descriptor_id"`
	Queue        string    `json:"queue"`
	ChunkStart   int       `json:"chunk_start"`
	ChunkEnd     int       `json:"chunk_end"`
	Attempt      int       `json:"attempt"`
	Error        string    `json:"error"`
	FailedAt     time.Time `json:"failed_at"`
}

// FailureFromDomain конвертирует domain.Failure в FailureResponse.
func FailureFromDomain(f domain.Failure) FailureResponse {
	return FailureResponse{
		DescriptorID: f.Descriptor.ID,
		Queue:        f.Descriptor.Queue,
		ChunkStart:   f.Descriptor.Chunk.Start,
		ChunkEnd:     f.Descriptor.Chunk.End,
		Attempt:      f.Descriptor.Attempt,
		Error:        f.Error,
		FailedAt:     f.FailedAt,
	}
}

// EnvironmentResponse — опубликованный snapshot окружения.
// Значения не отдаются: в них бывают пароли.
type EnvironmentResponse struct {
	RunID    uuid.UUID `json:"run_id"`
	PushedAt time.Time `json:"pushed_at"`
	Keys     []string  `json:"keys"`
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
