package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewStatusCmd создаёт команду status — статусы стадий.
func NewStatusCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show stage statuses of the current run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			stages, err := clientFn().ListStages(cmd.Context())
			if err != nil {
				return err
			}

			headers := []string{"#", "STAGE", "STATUS", "ACTIVE", "PENDING", "IN_FLIGHT", "FAILURES", "UPDATED"}
			aligns := []Align{AlignRight, AlignLeft, AlignLeft, AlignLeft, AlignRight, AlignRight, AlignRight, AlignLeft}
			rows := make([][]string, len(stages))
			for i, s := range stages {
				active := ""
				if s.Active {
					active = "*"
				}
				rows[i] = []string{
					strconv.Itoa(s.Position + 1),
					s.Name,
					out.Status(s.Status),
					active,
					strconv.Itoa(s.Pending),
					strconv.Itoa(s.InFlight),
					strconv.Itoa(s.Failures),
					s.UpdatedAt,
				}
			}

			out.Print(headers, rows, aligns, stages)
			return nil
		},
	}
}

// NewQueuesCmd создаёт команду queues — глубина очередей.
func NewQueuesCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "queues",
		Short: "Show queue depth and WIP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			queues, err := clientFn().ListQueues(cmd.Context())
			if err != nil {
				return err
			}

			headers := []string{"QUEUE", "STAGE", "PENDING", "WIP", "MAX_WIP"}
			aligns := []Align{AlignLeft, AlignLeft, AlignRight, AlignRight, AlignRight}
			rows := make([][]string, len(queues))
			for i, q := range queues {
				rows[i] = []string{
					q.Name,
					q.Stage,
					strconv.Itoa(q.Pending),
					strconv.Itoa(q.InFlight),
					strconv.Itoa(q.MaxWIP),
				}
			}

			out.Print(headers, rows, aligns, queues)
			return nil
		},
	}
}

// NewFailuresCmd создаёт команду failures STAGE — failed-set стадии.
func NewFailuresCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "failures STAGE",
		Short: "List failed chunks of a stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			failures, err := clientFn().ListFailures(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(failures) == 0 && !out.jsonMode {
				out.Success(fmt.Sprintf("Stage %s has no failed chunks", args[0]))
				return nil
			}

			headers := []string{"DESCRIPTOR", "QUEUE", "CHUNK", "ATTEMPT", "FAILED_AT", "ERROR"}
			aligns := []Align{AlignLeft, AlignLeft, AlignRight, AlignRight, AlignLeft, AlignLeft}
			rows := make([][]string, len(failures))
			for i, f := range failures {
				rows[i] = []string{
					f.DescriptorID,
					f.Queue,
					fmt.Sprintf("%d-%d", f.ChunkStart, f.ChunkEnd),
					strconv.Itoa(f.Attempt),
					f.FailedAt,
					firstLine(f.Error, 80),
				}
			}

			out.Print(headers, rows, aligns, failures)
			return nil
		},
	}
}

// NewPipelineCmd создаёт команду pipeline — стадии и очереди.
func NewPipelineCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "pipeline",
		Short: "Show pipeline stages and queues",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			p, err := clientFn().GetPipeline(cmd.Context())
			if err != nil {
				return err
			}

			headers := []string{"#", "STAGE", "EXECUTOR", "CHUNK_SIZE", "QUEUES"}
			aligns := []Align{AlignRight, AlignLeft, AlignLeft, AlignRight, AlignLeft}
			rows := make([][]string, len(p.Stages))
			for i, s := range p.Stages {
				queues := make([]string, len(s.Queues))
				for j, q := range s.Queues {
					queues[j] = fmt.Sprintf("%s(%d)", q.Name, q.MaxWIP)
				}
				rows[i] = []string{
					strconv.Itoa(i + 1),
					s.Name,
					s.Executor,
					strconv.Itoa(s.ChunkSize),
					strings.Join(queues, " "),
				}
			}

			if !out.jsonMode {
				out.Success(fmt.Sprintf("Pipeline %s (policy: %s)", p.Name, p.Policy))
			}
			out.Print(headers, rows, aligns, p)
			return nil
		},
	}
}

// NewEnvCmd создаёт команду env — опубликованный snapshot окружения.
func NewEnvCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "Show the published worker environment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			env, err := clientFn().GetEnvironment(cmd.Context())
			if err != nil {
				return err
			}

			headers := []string{"RUN_ID", "PUSHED_AT", "KEYS"}
			rows := [][]string{{env.RunID, env.PushedAt, strings.Join(env.Keys, " ")}}
			out.Print(headers, rows, nil, env)
			return nil
		},
	}
}

// firstLine возвращает первую строку s, обрезанную до limit символов.
func firstLine(s string, limit int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	r := []rune(s)
	if len(r) > limit {
		return string(r[:limit]) + "..."
	}
	return s
}
