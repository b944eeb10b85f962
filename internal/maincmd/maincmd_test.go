package maincmd_test

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jfd16/mariana-go/abc/compiler"
	"github.com/jfd16/mariana-go/abc/registry"
	"github.com/jfd16/mariana-go/internal/filetest"
	"github.com/jfd16/mariana-go/internal/maincmd"
)

var testUpdateDecodeTests = flag.Bool("test.update-decode-tests", false,
	"If set, updates the expected decode output of tests.")

func TestDecodeGolden(t *testing.T) {
	dir := "testdata"
	for _, fi := range filetest.SourceFiles(t, dir, ".abct") {
		fi := fi
		t.Run(fi.Name(), func(t *testing.T) {
			pool, m, err := maincmd.LoadMethod(filepath.Join(dir, fi.Name()))
			require.NoError(t, err)
			c := compiler.New(pool, m, registry.NewWorld())
			require.NoError(t, c.Decode())
			filetest.DiffOutput(t, fi, c.FormatInstructions(), dir, testUpdateDecodeTests)
		})
	}
}

func TestLoadMethodSections(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "m.abct")
	content := `# a method with pools and a try region
code:
 d0 47
ints: 1 -2
strings: hello
params: int flash.utils.ByteArray
return: Number
locals: 4
try: 0 1 1 Error
`
	require.NoError(t, writeFile(path, content))

	pool, m, err := maincmd.LoadMethod(path)
	require.NoError(t, err)

	require.Len(t, pool.Ints, 3) // index 0 + two values
	assert.Equal(t, int32(-2), pool.Ints[2])
	assert.Equal(t, "hello", pool.Strings[1])

	require.Len(t, m.ParamTypes, 2)
	assert.Equal(t, "int", m.ParamTypes[0].Name)
	assert.Equal(t, "ByteArray", m.ParamTypes[1].Name)
	require.NotNil(t, m.ParamTypes[1].NS)
	assert.Equal(t, "flash.utils", m.ParamTypes[1].NS.URI)
	assert.Equal(t, "Number", m.ReturnType.Name)
	assert.Equal(t, uint32(4), m.LocalCount)

	require.Len(t, m.Exceptions, 1)
	assert.Equal(t, uint32(0), m.Exceptions[0].From)
	assert.Equal(t, uint32(1), m.Exceptions[0].To)
	assert.Equal(t, "Error", m.Exceptions[0].Type.Name)
	assert.Equal(t, []byte{0xd0, 0x47}, m.Code)
}

func TestLoadMethodErrors(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		desc, content string
	}{
		{"bad hex", "code:\n zz\n"},
		{"unknown section", "bogus: 1\n"},
		{"short try", "try: 1 2\n"},
	}
	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			path := filepath.Join(dir, "bad.abct")
			require.NoError(t, writeFile(path, tc.content))
			_, _, err := maincmd.LoadMethod(path)
			require.Error(t, err)
		})
	}
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o600)
}
