package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

const schema = `
types:
  - name: Operator
    interesting: true
    fields:
      - {name: name}
  - name: Line
    interesting: true
    fields:
      - {name: name}
      - {name: operator_ref, kind: reference, type: OperatorRef}
`

const documents = `
type: Operator
id: O1
name: Ruter
---
type: Line
id: L1
name: Airport Express
operator_ref: O1
`

type fixture struct {
	dir    string
	schema string
	input  string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	f := fixture{
		dir:    dir,
		schema: filepath.Join(dir, "schema.yaml"),
		input:  filepath.Join(dir, "network.yaml"),
	}
	require.NoError(t, os.WriteFile(f.schema, []byte(schema), 0644))
	require.NoError(t, os.WriteFile(f.input, []byte(documents), 0644))
	return f
}

// run executes the app with args and returns what it wrote.
func (f fixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out
	full := append([]string{"transitstore", "--log-level", "error", "--schema", f.schema}, args...)
	err := app.Run(full)
	return out.String(), err
}

func TestSetupLogger(t *testing.T) {
	defer slog.SetDefault(slog.Default())

	for _, level := range []string{"debug", "INFO", "warn", "error"} {
		t.Run(level, func(t *testing.T) {
			app := newApp()
			app.Action = func(*cli.Context) error { return nil }
			require.NoError(t, app.Run([]string{"transitstore", "--log-level", level}))
		})
	}

	app := newApp()
	err := app.Run([]string{"transitstore", "--log-level", "verbose"})
	assert.ErrorContains(t, err, "invalid log level")
}

func TestRequiredFlags(t *testing.T) {
	f := newFixture(t)

	_, err := f.run(t, "tables")
	assert.ErrorContains(t, err, "db")

	_, err = f.run(t, "export", "--db", filepath.Join(f.dir, "db"))
	assert.ErrorContains(t, err, "type")

	_, err = f.run(t, "import", "--db", filepath.Join(f.dir, "db"))
	assert.ErrorContains(t, err, "at least one file")
}

func TestCommands(t *testing.T) {
	f := newFixture(t)
	db := filepath.Join(f.dir, "db")

	out, err := f.run(t, "import", "--db", db, f.input)
	require.NoError(t, err)
	assert.Contains(t, out, "Imported 2 entities")

	out, err = f.run(t, "tables", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Tables: Line, Operator")
	assert.Contains(t, out, "Referenced: Operator")

	out, err = f.run(t, "export", "--db", db, "--type", "Line")
	require.NoError(t, err)
	assert.Contains(t, out, "id: L1")
	assert.Contains(t, out, "ref: O1")

	out, err = f.run(t, "resolve", "--db", db, "--type", "Line", "--id", "L1")
	require.NoError(t, err)
	assert.Contains(t, out, "id: L1")
	assert.Contains(t, out, "name: Ruter")

	_, err = f.run(t, "resolve", "--db", db, "--type", "Line", "--id", "L9")
	assert.Error(t, err)

	copied := filepath.Join(f.dir, "copy")
	out, err = f.run(t, "copy", "--from", db, "--to", copied, "--type", "Line")
	require.NoError(t, err)
	assert.Contains(t, out, "Copied")

	out, err = f.run(t, "tables", "--db", copied)
	require.NoError(t, err)
	assert.Contains(t, out, "Tables: Line, Operator")

	out, err = f.run(t, "vacuum", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Usage:")
}

func TestImport_MissingFile(t *testing.T) {
	f := newFixture(t)
	_, err := f.run(t, "import", "--db", filepath.Join(f.dir, "db"), filepath.Join(f.dir, "nope.yaml"))
	assert.Error(t, err)
}
