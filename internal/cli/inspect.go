package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/aretw0/marionette/internal/presentation/graph"
	"github.com/aretw0/marionette/internal/presentation/tui"
	"github.com/aretw0/marionette/pkg/inspect"
)

// ErrInvalid is returned by Validate when a script has blocking problems.
var ErrInvalid = errors.New("script is invalid")

func (f *Factory) report(ctx context.Context, path string) (*inspect.Report, error) {
	s, err := f.LoadScript(path)
	if err != nil {
		return nil, err
	}
	resolver, err := f.Resolver()
	if err != nil {
		return nil, err
	}
	report := inspect.Inspect(s, f.Catalog())
	if err := report.CheckDependencies(ctx, resolver, s.Dependencies); err != nil {
		return nil, err
	}
	return report, nil
}

// Inspect writes the static analysis of a script, as JSON or as a rendered report.
func Inspect(ctx context.Context, f *Factory, path string, asJSON bool, w io.Writer) error {
	report, err := f.report(ctx, path)
	if err != nil {
		return err
	}
	if asJSON {
		return writeJSON(w, report)
	}
	return tui.Print(w, tui.ReportMarkdown(report))
}

// Validate lists the blocking problems of a script and returns ErrInvalid when there are any.
func Validate(ctx context.Context, f *Factory, path string, w io.Writer) error {
	report, err := f.report(ctx, path)
	if err != nil {
		return err
	}
	problems := report.Problems()
	if len(problems) == 0 {
		fmt.Fprintf(w, "%s is valid\n", path)
		return nil
	}
	for _, p := range problems {
		fmt.Fprintf(w, "%s: %s\n", path, p)
	}
	return fmt.Errorf("%w: %d problem(s)", ErrInvalid, len(problems))
}

// Search finds actions and pipes matching query.
func Search(f *Factory, path, query string, asJSON bool, w io.Writer) error {
	s, err := f.LoadScript(path)
	if err != nil {
		return err
	}
	hits, err := inspect.Search(s, query)
	if err != nil {
		return err
	}
	if asJSON {
		if hits == nil {
			hits = []inspect.Hit{}
		}
		return writeJSON(w, hits)
	}
	return tui.Print(w, tui.HitsMarkdown(query, hits))
}

// Graph writes a Mermaid flowchart of a script, marking the progress of a
// stored checkpoint when checkpointID is set.
func Graph(ctx context.Context, f *Factory, path, checkpointID string, w io.Writer) error {
	s, err := f.LoadScript(path)
	if err != nil {
		return err
	}
	var overlay *graph.Overlay
	if checkpointID != "" {
		sessions, err := f.Sessions()
		if err != nil {
			return err
		}
		if sessions == nil {
			return fmt.Errorf("--checkpoint: checkpoint store is disabled")
		}
		cp, err := sessions.Load(ctx, checkpointID)
		if err != nil {
			return fmt.Errorf("load checkpoint %s: %w", checkpointID, err)
		}
		overlay = graph.OverlayFromCheckpoint(cp)
	}
	_, err = io.WriteString(w, graph.GenerateMermaid(s, overlay))
	return err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
