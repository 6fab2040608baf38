package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aretw0/marionette/internal/presentation/tui"
)

// ListCheckpoints prints the stored checkpoints, most recent first when the store keeps timestamps.
func ListCheckpoints(ctx context.Context, f *Factory, limit int, asJSON bool, w io.Writer) error {
	sums, err := f.Summaries(ctx, limit)
	if err != nil {
		return err
	}
	if asJSON {
		return writeJSON(w, sums)
	}
	if len(sums) == 0 {
		fmt.Fprintln(w, "No checkpoints found.")
		return nil
	}
	var sb strings.Builder
	sb.WriteString("| ID | Label | URL | Created |\n|---|---|---|---|\n")
	for _, s := range sums {
		created := ""
		if !s.CreatedAt.IsZero() {
			created = s.CreatedAt.Local().Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(&sb, "| `%s` | %s | %s | %s |\n", s.ID, s.Label, s.URL, created)
	}
	return tui.Print(w, sb.String())
}

// ShowCheckpoint prints a checkpoint as indented JSON.
func ShowCheckpoint(ctx context.Context, f *Factory, id string, w io.Writer) error {
	sessions, err := f.Sessions()
	if err != nil {
		return err
	}
	if sessions == nil {
		return fmt.Errorf("checkpoint store is disabled")
	}
	cp, err := sessions.Load(ctx, id)
	if err != nil {
		return fmt.Errorf("load checkpoint '%s': %w", id, err)
	}
	return writeJSON(w, cp)
}

// DeleteCheckpoints removes every listed checkpoint and reports each failure.
func DeleteCheckpoints(ctx context.Context, f *Factory, ids []string, w io.Writer) error {
	sessions, err := f.Sessions()
	if err != nil {
		return err
	}
	if sessions == nil {
		return fmt.Errorf("checkpoint store is disabled")
	}
	var errs []error
	for _, id := range ids {
		if err := sessions.Delete(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("remove '%s': %w", id, err))
			continue
		}
		fmt.Fprintf(w, "Removed checkpoint '%s'\n", id)
	}
	return errors.Join(errs...)
}
