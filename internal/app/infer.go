package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"feed-attestor/internal/service"
)

// InferOptions configure the one-shot infer command.
type InferOptions struct {
	Assets []string
	JSON   bool
}

// Infer runs one audit round and prints it.
func (a *App) Infer(ctx context.Context, opts InferOptions) error {
	rt, err := a.buildRuntime(opts.Assets, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	round, err := rt.auditor.AuditAll(ctx)
	if err != nil {
		return err
	}

	if opts.JSON {
		enc := json.NewEncoder(a.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"audits":   round.Audits,
			"failures": round.Failures,
			"identity": rt.identity.Address().Hex(),
		})
	}

	writeRound(a.Out, round)
	fmt.Fprintf(a.Out, "\nSigned by %s\n", rt.identity.Address().Hex())
	if len(round.Audits) == 0 && len(round.Failures) > 0 {
		return fmt.Errorf("no asset could be audited")
	}
	return nil
}

func writeRound(out io.Writer, round service.Round) {
	if len(round.Audits) > 0 {
		writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "Asset\tReference\tStreet\tDeviation%\tThreshold%\tEntropy\tStale\tHiccup\tReason\tFair Value\tTime (UTC)")
		for _, audit := range round.Audits {
			r := audit.Report
			fmt.Fprintf(
				writer,
				"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				audit.Asset,
				formatDecimal(r.ReferencePrice, 4),
				formatDecimal(r.StreetPrice, 4),
				formatPercent(r.Deviation),
				formatPercent(r.ThresholdUsed),
				formatDecimal(r.MarketEntropy, 6),
				yesNo(r.IsStale),
				yesNo(r.IsHiccup),
				audit.Message,
				formatDecimal(audit.Value, 4),
				time.Unix(r.Timestamp, 0).UTC().Format(time.RFC3339),
			)
		}
		writer.Flush()

		fmt.Fprintln(out)
		for _, audit := range round.Audits {
			fmt.Fprintf(out, "%s manifest %s\n%s signature %s\n", audit.Asset, audit.Hash, strings.Repeat(" ", len(audit.Asset)), audit.Signature)
		}
	}

	for _, f := range round.Failures {
		fmt.Fprintf(out, "%s %s: %s\n", f.Asset, f.Reason, sanitizeInline(f.Error))
	}
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}

func formatPercent(d decimal.Decimal) string {
	return d.Mul(decimal.NewFromInt(100)).StringFixed(3)
}

func yesNo(v bool) string {
	if v {
		return "YES"
	}
	return "NO"
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
