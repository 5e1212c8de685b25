package observability

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type alertRule struct {
	Alert       string            `yaml:"alert"`
	Expr        string            `yaml:"expr"`
	For         string            `yaml:"for"`
	Labels      map[string]string `yaml:"labels"`
	Annotations map[string]string `yaml:"annotations"`
}

type alertGroup struct {
	Name  string      `yaml:"name"`
	Rules []alertRule `yaml:"rules"`
}

type alertFile struct {
	Groups []alertGroup `yaml:"groups"`
}

func TestDiagnosticsAlertRules(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("..", "..", "deploy", "prometheus", "alerts", "diagnostics.yml"))
	require.NoError(t, err)

	var rulesFile alertFile
	require.NoError(t, yaml.Unmarshal(data, &rulesFile))
	require.Len(t, rulesFile.Groups, 1)
	require.Equal(t, "diagnostics", rulesFile.Groups[0].Name)

	expected := map[string]string{
		"HighErrorRate":       "critical",
		"LedgerBalanceDrift":  "critical",
		"CriticalStock":       "warning",
		"ConsumptionFailures": "warning",
	}
	rules := rulesFile.Groups[0].Rules
	require.Len(t, rules, len(expected))
	for _, rule := range rules {
		severity, ok := expected[rule.Alert]
		require.True(t, ok, "unexpected rule %q", rule.Alert)
		require.Equal(t, severity, rule.Labels["severity"], rule.Alert)
		require.NotEmpty(t, rule.Expr, rule.Alert)
		require.Contains(t, rule.Expr, "diagnostics_", rule.Alert)
		require.NotEmpty(t, rule.Annotations["summary"], rule.Alert)
		require.NotEmpty(t, rule.Annotations["description"], rule.Alert)
	}
}
