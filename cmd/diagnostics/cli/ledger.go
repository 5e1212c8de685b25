package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/accounting"
)

// LedgerAuditor checks a tenant ledger.
type LedgerAuditor interface {
	CheckIntegrity(ctx context.Context, tenantID int64) ([]accounting.BalanceDrift, error)
	TrialBalance(ctx context.Context, tenantID int64, asOf *time.Time) (accounting.TrialBalance, error)
}

// LedgerCheckOptions defines the arguments of the ledger check command.
type LedgerCheckOptions struct {
	TenantID   int64
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// LedgerCheckSummary is the JSON output of the ledger check command.
type LedgerCheckSummary struct {
	OK          bool                      `json:"ok"`
	TenantID    int64                     `json:"tenant_id"`
	Balanced    bool                      `json:"balanced"`
	TotalDebit  string                    `json:"total_debit"`
	TotalCredit string                    `json:"total_credit"`
	Drift       []accounting.BalanceDrift `json:"drift"`
}

// LedgerCheckCommand runs an on-demand integrity check. Exit code 10 signals drift.
func LedgerCheckCommand(ctx context.Context, ledger LedgerAuditor, opts LedgerCheckOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.TenantID <= 0 {
		_, _ = fmt.Fprintln(opts.Stderr, "ledger check: --tenant is required and must be positive")
		return 1
	}
	drift, err := ledger.CheckIntegrity(ctx, opts.TenantID)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "ledger check: %v\n", err)
		return 1
	}
	tb, err := ledger.TrialBalance(ctx, opts.TenantID, nil)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "ledger check: trial balance: %v\n", err)
		return 1
	}
	summary := LedgerCheckSummary{
		TenantID:    opts.TenantID,
		Balanced:    tb.Balanced(),
		TotalDebit:  tb.TotalDebit.StringFixed(2),
		TotalCredit: tb.TotalCredit.StringFixed(2),
		Drift:       drift,
	}
	if summary.Drift == nil {
		summary.Drift = []accounting.BalanceDrift{}
	}
	summary.OK = summary.Balanced && len(drift) == 0

	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "ledger check: encode json: %v\n", err)
			return 1
		}
	} else {
		renderLedgerHuman(opts.Stdout, summary)
	}
	if !summary.OK {
		return 10
	}
	return 0
}

func renderLedgerHuman(out io.Writer, s LedgerCheckSummary) {
	_, _ = fmt.Fprintf(out, "Ledger check for tenant %d\n", s.TenantID)
	_, _ = fmt.Fprintf(out, "Trial balance: debit %s, credit %s\n", s.TotalDebit, s.TotalCredit)
	if !s.Balanced {
		_, _ = fmt.Fprintln(out, "Trial balance does not agree.")
	}
	if len(s.Drift) == 0 {
		_, _ = fmt.Fprintln(out, "Materialized balances match the journal.")
		return
	}
	_, _ = fmt.Fprintf(out, "%d account(s) drifted:\n", len(s.Drift))
	for _, d := range s.Drift {
		_, _ = fmt.Fprintf(out, " - %s replayed %s, stored %s\n", d.Code, d.Replayed.StringFixed(2), d.Materialized.StringFixed(2))
	}
}
