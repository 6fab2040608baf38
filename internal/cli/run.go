package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/aretw0/marionette"
	"github.com/aretw0/marionette/internal/presentation/tui"
	"github.com/aretw0/marionette/pkg/adapters/jsonl"
	"github.com/aretw0/marionette/pkg/adapters/memory"
	"github.com/aretw0/marionette/pkg/domain"
	"github.com/aretw0/marionette/pkg/ports"
	"github.com/aretw0/marionette/pkg/runner"
)

// RunOptions contains all the configuration for the run command.
type RunOptions struct {
	// Script is a file path, or "-" for stdin (not allowed with JSON).
	Script string
	// Inputs are key=value pairs supplied up front.
	Inputs []string
	// JSON switches job I/O to NDJSON on stdin/stdout.
	JSON bool
	// Job fixes the checkpoint id so that a later run can resume it.
	Job    string
	Resume bool
	// KeepOnSuccess leaves the checkpoints of a successful run in the store.
	KeepOnSuccess bool
	// NoAutoCheckpoint disables checkpoints between turns.
	NoAutoCheckpoint bool
}

// Run plays a script to completion with the factory's page, store and metrics.
func Run(ctx context.Context, f *Factory, opts RunOptions, stdin io.Reader, stdout io.Writer) (*runner.Result, error) {
	if opts.Resume && opts.Job == "" {
		return nil, fmt.Errorf("--resume requires --job")
	}
	if opts.JSON && opts.Script == "-" {
		return nil, fmt.Errorf("--json reads job messages from stdin; pass the script as a file")
	}
	logger := f.Logger()

	s, err := f.LoadScript(opts.Script)
	if err != nil {
		return nil, err
	}
	inputs, err := ParseInputs(opts.Inputs)
	if err != nil {
		return nil, err
	}

	var flow ports.Flow
	var outputs *memory.Flow
	if opts.JSON {
		jf := jsonl.NewFlow(stdin, stdout, jsonl.WithLogger(logger), jsonl.WithInputs(inputs))
		defer jf.Close()
		flow = jf
	} else {
		if tui.IsTerminal(stdout) {
			tui.PrintBanner(stdout, marionette.Version)
		}
		outputs = memory.NewFlow(
			memory.WithInputs(inputs),
			memory.WithInputProvider(promptInput(stdin, stdout)),
			memory.WithMetadata(map[string]any{"job": opts.Job}),
		)
		flow = outputs
	}

	page, err := f.Page(ctx)
	if err != nil {
		return nil, err
	}
	engine, err := f.Engine(s, page, flow, opts.Job)
	if err != nil {
		return nil, err
	}

	runnerOpts := []runner.Option{
		runner.WithLogger(logger),
		runner.WithAutoCheckpoint(!opts.NoAutoCheckpoint),
		runner.WithKeepOnSuccess(opts.KeepOnSuccess),
		runner.WithCheckpointInterval(f.Config().Checkpoint.Interval),
	}
	if opts.Resume {
		runnerOpts = append(runnerOpts, runner.WithResume(opts.Job))
	}

	res, runErr := runner.New(engine, runnerOpts...).Run(ctx)
	if res == nil {
		return nil, runErr
	}
	logger.Info("run finished", "status", res.Status, "resumed", res.Resumed, "checkpoint", res.Checkpoint)

	if outputs != nil {
		if md := OutputsMarkdown(outputs.Outputs()); md != "" {
			if err := tui.Print(stdout, md); err != nil {
				logger.Warn("failed to render outputs", "err", err)
			}
		}
		printSummary(stdout, res, runErr)
	}
	return res, runErr
}

func printSummary(w io.Writer, res *runner.Result, err error) {
	switch {
	case err == nil:
		printSystemMessage(w, "Finished with status %s.", res.Status)
	case isInterrupted(err):
		printSystemMessage(w, "Interrupted.")
	default:
		printSystemMessage(w, "Failed: %v", err)
	}
	if res.Checkpoint != "" {
		printSystemMessage(w, "Checkpoint '%s' kept; resume with --job %s --resume.", res.Checkpoint, res.Checkpoint)
	}
}

// OutputsMarkdown renders job outputs in send order as a table.
func OutputsMarkdown(outputs []memory.Output) string {
	if len(outputs) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Outputs\n\n| Key | Value |\n|---|---|\n")
	for _, o := range outputs {
		data, err := json.Marshal(o.Data)
		if err != nil {
			data = []byte(fmt.Sprint(o.Data))
		}
		fmt.Fprintf(&sb, "| %s | `%s` |\n", o.Key, strings.ReplaceAll(string(data), "|", `\|`))
	}
	return sb.String()
}

// promptInput asks for missing inputs on the terminal.
func promptInput(stdin io.Reader, stdout io.Writer) func(ctx context.Context, key string) (any, error) {
	reader := bufio.NewReader(stdin)
	return func(ctx context.Context, key string) (any, error) {
		fmt.Fprintf(stdout, "%s: ", key)
		type line struct {
			text string
			err  error
		}
		ch := make(chan line, 1)
		go func() {
			text, err := reader.ReadString('\n')
			ch <- line{text, err}
		}()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case l := <-ch:
			text := strings.TrimRight(l.text, "\r\n")
			if l.err != nil && text == "" {
				return nil, domain.Wrap(l.err, domain.CodeInputRequired, false, "input %q", key)
			}
			return parseScalar(text), nil
		}
	}
}
