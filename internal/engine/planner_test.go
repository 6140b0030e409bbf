package engine

import (
	"errors"
	"reflect"
	"testing"

	"github.com/shaiso/Conveyor/internal/domain"
)

func TestPlan_ConcreteCases(t *testing.T) {
	tests := []struct {
		name  string
		total int
		size  int
		want  []domain.Chunk
	}{
		{
			name:  "single record",
			total: 1,
			size:  10,
			want:  []domain.Chunk{{Start: 0, End: 0}},
		},
		{
			name:  "exact multiple",
			total: 10,
			size:  10,
			want:  []domain.Chunk{{Start: 0, End: 9}},
		},
		{
			name:  "truncated tail",
			total: 22,
			size:  10,
			want: []domain.Chunk{
				{Start: 0, End: 9},
				{Start: 10, End: 19},
				{Start: 20, End: 21},
			},
		},
		{
			name:  "chunk size one",
			total: 3,
			size:  1,
			want: []domain.Chunk{
				{Start: 0, End: 0},
				{Start: 1, End: 1},
				{Start: 2, End: 2},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Plan(tt.total, tt.size)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Plan(%d, %d) = %v, want %v", tt.total, tt.size, got, tt.want)
			}
		})
	}
}

func TestPlan_ZeroRecords(t *testing.T) {
	got, err := Plan(0, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil {
		t.Error("expected empty slice, not nil")
	}
	if len(got) != 0 {
		t.Errorf("expected no chunks, got %v", got)
	}
}

func TestPlan_InvalidArguments(t *testing.T) {
	tests := []struct {
		name  string
		total int
		size  int
	}{
		{"zero chunk size", 10, 0},
		{"negative chunk size", 10, -5},
		{"negative total", -1, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Plan(tt.total, tt.size)
			if !errors.Is(err, domain.ErrInvalidArgument) {
				t.Errorf("expected ErrInvalidArgument, got %v", err)
			}
		})
	}
}

// Для всех count ≥ 0 и size ≥ 1 chunks смежные, не пересекаются,
// покрывают ровно [0, count) и их ceil(count/size) штук.
func TestPlan_CoverageProperty(t *testing.T) {
	for total := 0; total <= 120; total++ {
		for size := 1; size <= 25; size++ {
			chunks, err := Plan(total, size)
			if err != nil {
				t.Fatalf("Plan(%d, %d): unexpected error: %v", total, size, err)
			}

			wantCount := (total + size - 1) / size
			if len(chunks) != wantCount {
				t.Fatalf("Plan(%d, %d): expected %d chunks, got %d", total, size, wantCount, len(chunks))
			}
			if ChunkCount(total, size) != wantCount {
				t.Fatalf("ChunkCount(%d, %d) = %d, want %d", total, size, ChunkCount(total, size), wantCount)
			}

			next := 0
			for i, c := range chunks {
				if c.Start != next {
					t.Fatalf("Plan(%d, %d): chunk %d starts at %d, expected %d", total, size, i, c.Start, next)
				}
				if c.End < c.Start {
					t.Fatalf("Plan(%d, %d): chunk %d has end %d before start %d", total, size, i, c.End, c.Start)
				}
				if c.Size() > size {
					t.Fatalf("Plan(%d, %d): chunk %d has size %d", total, size, i, c.Size())
				}
				next = c.End + 1
			}
			if next != total {
				t.Fatalf("Plan(%d, %d): chunks cover [0, %d), expected [0, %d)", total, size, next, total)
			}
		}
	}
}

func TestPlan_Deterministic(t *testing.T) {
	first, _ := Plan(1000, 37)
	second, _ := Plan(1000, 37)

	if !reflect.DeepEqual(first, second) {
		t.Error("identical inputs should produce identical output")
	}
}

func TestChunk_Keys(t *testing.T) {
	c := domain.Chunk{Start: 10, End: 19}

	if c.StartKey() != "10" {
		t.Errorf("expected start key 10, got %q", c.StartKey())
	}
	if c.EndKey() != "19" {
		t.Errorf("expected end key 19, got %q", c.EndKey())
	}
	if c.Size() != 10 {
		t.Errorf("expected size 10, got %d", c.Size())
	}
	if c.String() != "(10,19)" {
		t.Errorf("expected (10,19), got %s", c.String())
	}
}
