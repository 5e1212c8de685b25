package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/accounting"
	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/jobs"
)

type stubLedger struct {
	drift  []accounting.BalanceDrift
	credit decimal.Decimal
}

func (s stubLedger) CheckIntegrity(ctx context.Context, tenantID int64) ([]accounting.BalanceDrift, error) {
	return s.drift, nil
}

func (s stubLedger) TrialBalance(ctx context.Context, tenantID int64, asOf *time.Time) (accounting.TrialBalance, error) {
	return accounting.TrialBalance{TenantID: tenantID, TotalDebit: decimal.NewFromInt(500), TotalCredit: s.credit}, nil
}

func TestLedgerCheckCommandClean(t *testing.T) {
	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	code := LedgerCheckCommand(context.Background(), stubLedger{credit: decimal.NewFromInt(500)}, LedgerCheckOptions{
		TenantID:   1,
		JSONOutput: true,
		Stdout:     stdout,
		Stderr:     stderr,
	})
	require.Zero(t, code)
	require.Empty(t, stderr.String())

	var summary LedgerCheckSummary
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &summary))
	require.True(t, summary.OK)
	require.Equal(t, "500.00", summary.TotalDebit)
	require.Empty(t, summary.Drift)
}

func TestLedgerCheckCommandDrift(t *testing.T) {
	ledger := stubLedger{
		credit: decimal.NewFromInt(500),
		drift:  []accounting.BalanceDrift{{AccountID: 3, Code: "1000", Replayed: decimal.NewFromInt(200), Materialized: decimal.NewFromInt(150)}},
	}
	stdout := new(bytes.Buffer)
	code := LedgerCheckCommand(context.Background(), ledger, LedgerCheckOptions{TenantID: 1, Stdout: stdout, Stderr: new(bytes.Buffer)})
	require.Equal(t, 10, code)
	require.Contains(t, stdout.String(), "1 account(s) drifted")
	require.Contains(t, stdout.String(), "1000 replayed 200.00, stored 150.00")
}

func TestLedgerCheckCommandUnbalanced(t *testing.T) {
	stdout := new(bytes.Buffer)
	code := LedgerCheckCommand(context.Background(), stubLedger{credit: decimal.NewFromInt(450)}, LedgerCheckOptions{TenantID: 1, Stdout: stdout, Stderr: new(bytes.Buffer)})
	require.Equal(t, 10, code)
	require.Contains(t, stdout.String(), "does not agree")
}

func TestLedgerCheckCommandRequiresTenant(t *testing.T) {
	stderr := new(bytes.Buffer)
	code := LedgerCheckCommand(context.Background(), stubLedger{}, LedgerCheckOptions{Stdout: new(bytes.Buffer), Stderr: stderr})
	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "--tenant is required")
}

type stubMigrator struct {
	up, down, closed int
	err              error
}

func (m *stubMigrator) Up() error    { m.up++; return m.err }
func (m *stubMigrator) Down() error  { m.down++; return m.err }
func (m *stubMigrator) Close() error { m.closed++; return nil }

func TestMigrateCommand(t *testing.T) {
	m := &stubMigrator{}
	require.Zero(t, MigrateCommand(m, MigrateOptions{Stdout: new(bytes.Buffer), Stderr: new(bytes.Buffer)}))
	require.Equal(t, 1, m.up)

	require.Zero(t, MigrateCommand(m, MigrateOptions{Direction: "down", Stdout: new(bytes.Buffer), Stderr: new(bytes.Buffer)}))
	require.Equal(t, 1, m.down)

	stderr := new(bytes.Buffer)
	require.Equal(t, 2, MigrateCommand(m, MigrateOptions{Direction: "sideways", Stdout: new(bytes.Buffer), Stderr: stderr}))
	require.Contains(t, stderr.String(), "unknown direction")

	m.err = errors.New("dirty database")
	require.Equal(t, 1, MigrateCommand(m, MigrateOptions{Stdout: new(bytes.Buffer), Stderr: new(bytes.Buffer)}))
	require.Equal(t, 4, m.closed)
}

func TestBuildTask(t *testing.T) {
	task, err := BuildTask(jobs.TaskLedgerIntegrity, 7)
	require.NoError(t, err)
	require.Equal(t, jobs.TaskLedgerIntegrity, task.Type())
	require.JSONEq(t, `{"tenant_id":7}`, string(task.Payload()))

	_, err = BuildTask(jobs.TaskConsumeTest, 0)
	require.Error(t, err)
}
