package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/paleodem/api"
	"github.com/agentic-research/paleodem/internal/agedepth"
	"github.com/agentic-research/paleodem/internal/geoio"
)

// run executes the root command offline against a fresh config path.
func run(t *testing.T, cache string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	base := []string{"--offline", "--log-level", "error", "--cache-dir", cache,
		"--config", filepath.Join(t.TempDir(), "missing.hcl")}
	rootCmd.SetArgs(append(args, base...))
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeASC(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	header := "ncols 2\nnrows 2\nxllcorner 0\nyllcorner 0\ncellsize 1\nNODATA_value -99999\n"
	require.NoError(t, os.WriteFile(p, []byte(header+body), 0o644))
	return p
}

func TestComposeCommand(t *testing.T) {
	dir := t.TempDir()
	top := writeASC(t, dir, "top.asc", "1 -99999\n3 -99999\n")
	fill := writeASC(t, dir, "fill.asc", "9 9\n9 9\n")
	out := filepath.Join(dir, "out.asc")

	stdout, err := run(t, t.TempDir(), "compose", "--layer", top, "--layer", fill, "-o", out)
	require.NoError(t, err)
	assert.Contains(t, stdout, out)

	g, err := geoio.ReadRaster(out)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 9, 3, 9}, g.Data)
}

func TestAgeDepthCommand(t *testing.T) {
	dir := t.TempDir()
	age := writeASC(t, dir, "age.asc", "10 50\n120 200\n")
	out := filepath.Join(dir, "depth.asc")

	_, err := run(t, t.TempDir(), "agedepth", age, "--time", "5", "-o", out)
	require.NoError(t, err)

	g, err := geoio.ReadRaster(out)
	require.NoError(t, err)
	for i, a := range []float64{10, 50, 120, 200} {
		assert.InDelta(t, agedepth.Depth(a, 5), g.Data[i], 1e-6, "cell %d", i)
	}
}

func TestModelsAddAndList(t *testing.T) {
	cache := t.TempDir()
	rot := filepath.Join(t.TempDir(), "plates.rot")
	require.NoError(t, os.WriteFile(rot, []byte("rotation"), 0o644))

	_, err := run(t, cache, "models", "add", "Sandbox", "--rotation", rot, "--big-time", "200")
	require.NoError(t, err)

	stdout, err := run(t, cache, "models", "list")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Sandbox [custom]")

	stdout, err = run(t, cache, "models", "info", "Sandbox")
	require.NoError(t, err)
	assert.Contains(t, stdout, "0 - 200 Ma")
}

func TestParseKinds(t *testing.T) {
	kinds, err := parseKinds([]string{"Coastlines", "StaticPolygons"})
	require.NoError(t, err)
	assert.Equal(t, []api.LayerKind{api.Coastlines, api.StaticPolygons}, kinds)

	_, err = parseKinds([]string{"Rivers"})
	assert.ErrorIs(t, err, api.ErrValidation)
}

func TestRunJobRequiresOutput(t *testing.T) {
	ageOutput = ""
	_, err := run(t, t.TempDir(), "agedepth", writeASC(t, t.TempDir(), "a.asc", "1 2\n3 4\n"))
	assert.Error(t, err)
}
