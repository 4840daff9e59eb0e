package app

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/shopspring/decimal"

	"block-streamer/internal/failover"
)

// Heads queries every configured provider for its head and prints a comparison table.
func (a *App) Heads(ctx context.Context, out io.Writer) error {
	clients := a.newProviders()
	defer closeProviders(clients)

	ctrl, err := failover.New(asFailoverProviders(clients), a.failoverOptions(nil), a.Logger)
	if err != nil {
		return err
	}

	results := ctrl.Heads(ctx)
	return renderHeads(out, results, ctrl.Providers())
}

func renderHeads(out io.Writer, results []failover.HeadResult, providers []failover.Provider) error {
	consensus, ok := failover.Plurality(results)

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Provider\tHead\tBehind\tLatency(ms)\tErrors%\tConsensus")

	for i, res := range results {
		latency, errPct := "-", "-"
		if i < len(providers) {
			ms := decimal.NewFromInt(providers[i].AverageLatency().Microseconds()).Div(decimal.NewFromInt(1000))
			latency = formatDecimal(ms, 1)
			errPct = formatDecimal(decimal.NewFromFloat(providers[i].ErrorRatio()).Mul(decimal.NewFromInt(100)), 1)
		}

		if res.Err != nil {
			fmt.Fprintf(writer, "%s\t-\t-\t%s\t%s\terror: %s\n", res.Provider, latency, errPct, sanitizeInline(res.Err.Error()))
			continue
		}

		behind, marker := "-", ""
		if ok {
			behind = fmt.Sprintf("%d", int64(consensus)-int64(res.Head))
			if res.Head == consensus {
				marker = "*"
			}
		}
		fmt.Fprintf(writer, "%s\t%d\t%s\t%s\t%s\t%s\n", res.Provider, res.Head, behind, latency, errPct, marker)
	}

	if !ok {
		fmt.Fprintln(writer, "no provider answered")
	}
	return writer.Flush()
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
