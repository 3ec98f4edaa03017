package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func capture(t *testing.T) (stdout, stderr *bytes.Buffer) {
	t.Helper()
	stdout, stderr = &bytes.Buffer{}, &bytes.Buffer{}
	oldOut, oldErr, oldNoColor := Stdout, Stderr, color.NoColor
	Stdout, Stderr, color.NoColor = stdout, stderr, true
	t.Cleanup(func() {
		Stdout, Stderr, color.NoColor = oldOut, oldErr, oldNoColor
	})
	return stdout, stderr
}

func TestSuccess(t *testing.T) {
	out, _ := capture(t)
	Success("Created %d items in %s", 5, "database")

	assert.Equal(t, "✓ Created 5 items in database\n", out.String())
}

func TestError(t *testing.T) {
	out, errOut := capture(t)
	Error("Failed to connect to %s on port %d", "server", 8090)

	assert.Empty(t, out.String())
	assert.Equal(t, "✗ Failed to connect to server on port 8090\n", errOut.String())
}

func TestInfoAndWarn(t *testing.T) {
	out, _ := capture(t)
	Info("Processing %d of %d claims", 5, 10)
	Warn("Disk usage is %d%%", 95)

	assert.Equal(t, "Processing 5 of 10 claims\n⚠ Disk usage is 95%\n", out.String())
}

func TestJSON_Indented(t *testing.T) {
	out, _ := capture(t)
	require.NoError(t, JSON(map[string]interface{}{"claim": map[string]interface{}{"id": "CLM-1"}}))

	assert.Contains(t, out.String(), "  \"claim\":")
	assert.Contains(t, out.String(), "    \"id\":")
}

func TestStructured(t *testing.T) {
	type row struct {
		ClaimID string `json:"claim_id" yaml:"claim_id"`
		Payout  int64  `json:"payout" yaml:"payout"`
	}
	v := row{ClaimID: "CLM-1", Payout: 750}

	out, _ := capture(t)
	handled, err := Structured("json", v)
	require.NoError(t, err)
	assert.True(t, handled)
	var fromJSON row
	require.NoError(t, json.Unmarshal(out.Bytes(), &fromJSON))
	assert.Equal(t, v, fromJSON)

	out.Reset()
	handled, err = Structured("YAML", v)
	require.NoError(t, err)
	assert.True(t, handled)
	var fromYAML row
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &fromYAML))
	assert.Equal(t, v, fromYAML)

	out.Reset()
	handled, err = Structured("table", v)
	require.NoError(t, err)
	assert.False(t, handled)
	assert.Empty(t, out.String())
}

func TestTable_AddRow(t *testing.T) {
	table := NewTable([]string{"Col1", "Col2"})

	table.AddRow([]string{"val1", "val2"})
	table.AddRow([]string{"val3", "val4"})

	assert.Len(t, table.rows, 2)
	assert.Equal(t, []string{"val3", "val4"}, table.rows[1])
}

func TestTable_Render_ColumnAlignment(t *testing.T) {
	out, _ := capture(t)
	table := NewTable([]string{"Short", "VeryLongHeader"})
	table.AddRow([]string{"A", "B"})
	table.AddRow([]string{"LongValue", "C"})
	table.Render()

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "Short      VeryLongHeader  ", lines[0])
	assert.Equal(t, "---------  --------------  ", lines[1])
	assert.Equal(t, "A          B               ", lines[2])
	assert.Equal(t, "LongValue  C               ", lines[3])
}

func TestTable_Render_Empty(t *testing.T) {
	out, _ := capture(t)
	NewTable([]string{"Name", "Status"}).Render()

	assert.Contains(t, out.String(), "Name")
	assert.Contains(t, out.String(), "----")
}
