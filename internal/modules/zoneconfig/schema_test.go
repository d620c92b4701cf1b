// README: Checks that the settings table's column defaults match the compiled defaults.
package zoneconfig

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var columnDefault = regexp.MustCompile(`(?m)^\s*([a-z0-9_]+)\s+[A-Z ]+?\s+NOT NULL DEFAULT ([A-Za-z0-9.]+),?\s*$`)

func TestSettingsTableDefaultsMatchCompiledDefaults(t *testing.T) {
	root, err := repoRoot()
	require.NoError(t, err)
	content, err := os.ReadFile(filepath.Join(root, "migrations", "0001_init.sql"))
	require.NoError(t, err)

	sql := string(content)
	start := strings.Index(sql, "CREATE TABLE IF NOT EXISTS dispatch_honeycomb_settings")
	require.GreaterOrEqual(t, start, 0)
	table := sql[start:]
	table = table[:strings.Index(table, ");")]

	raw, err := json.Marshal(Defaults())
	require.NoError(t, err)
	var want map[string]any
	require.NoError(t, json.Unmarshal(raw, &want))

	matches := columnDefault.FindAllStringSubmatch(table, -1)
	checked := 0
	for _, m := range matches {
		col, def := m[1], m[2]
		w, ok := want[col]
		if !ok {
			continue
		}
		checked++
		switch w := w.(type) {
		case bool:
			assert.Equal(t, w, strings.EqualFold(def, "true"), col)
		case float64:
			got, err := strconv.ParseFloat(def, 64)
			require.NoError(t, err, col)
			assert.Equal(t, w, got, col)
		}
	}
	// every tunable has a literal default; zone_id and updated_at do not
	assert.Equal(t, len(want)-2, checked)
}

func repoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for i := 0; i < 6; i++ {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", os.ErrNotExist
}
