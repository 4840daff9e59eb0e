package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"block-streamer/internal/storage"
)

// Show prints recently persisted blocks, or provider switches when opts.Switches is set.
func (a *App) Show(ctx context.Context, out io.Writer, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show blocks")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if opts.Switches {
		return a.showSwitches(ctx, out, opts.Limit, store)
	}
	return a.showBlocks(ctx, out, opts.Limit, store)
}

func (a *App) showBlocks(ctx context.Context, out io.Writer, limit int, store storage.BlockStore) error {
	count, err := store.CountBlocks(ctx)
	if err != nil {
		return err
	}
	latest, ok, err := store.LatestBlock(ctx)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(out, "no blocks found")
		return nil
	}
	fmt.Fprintf(out, "stored blocks: %d, latest: #%d at %s\n\n", count, latest.Number, latest.Timestamp.UTC().Format(time.RFC3339))

	blocks, err := store.ListRecentBlocks(ctx, limit)
	if err != nil {
		return err
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Number\tTime (UTC)\tHash\tParent\tTxs")
	for _, b := range blocks {
		fmt.Fprintf(
			writer,
			"%d\t%s\t%s\t%s\t%d\n",
			b.Number,
			b.Timestamp.UTC().Format(time.RFC3339),
			shortHash(b.Hash),
			shortHash(b.ParentHash),
			b.TxCount,
		)
	}
	return writer.Flush()
}

func (a *App) showSwitches(ctx context.Context, out io.Writer, limit int, store storage.SwitchStore) error {
	records, err := store.ListRecentSwitches(ctx, limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(out, "no provider switches found")
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tFrom\tTo\tReason\tHead")
	for _, r := range records {
		head := "-"
		if r.Head != nil {
			head = fmt.Sprintf("%d", *r.Head)
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n", r.SwitchedAt.UTC().Format(time.RFC3339), r.From, r.To, r.Reason, head)
	}
	return writer.Flush()
}

func shortHash(h string) string {
	if len(h) <= 14 {
		return h
	}
	return h[:8] + "…" + h[len(h)-4:]
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
