package effect

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const gradientScript = `
function frame(t, n)
	local pixels = {}
	for i = 1, n do
		pixels[i] = {math.floor(255 * (i - 1) / (n - 1)), 0, t}
	end
	return pixels
end
`

func writeScript(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestLoadScript_Frame(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "gradient.lua", gradientScript)

	s, err := LoadScript(dir, "gradient.lua")
	require.NoError(t, err)
	defer s.Close()

	pixels, err := s.Frame(10, 5)
	require.NoError(t, err)
	require.Len(t, pixels, 5)
	assert.Equal(t, Color{R: 0, G: 0, B: 10}, pixels[0])
	assert.Equal(t, Color{R: 255, G: 0, B: 10}, pixels[4])
}

func TestLoadScript_Rejections(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "broken.lua", "this is not lua")
	writeScript(t, dir, "noframe.lua", "x = 1")
	writeScript(t, dir, "frameisnum.lua", "frame = 42")

	cases := []string{
		"missing.lua",
		"broken.lua",
		"noframe.lua",
		"frameisnum.lua",
		"notlua.txt",
		"../escape.lua",
	}
	for _, name := range cases {
		_, err := LoadScript(dir, name)
		assert.Error(t, err, "script %q", name)
	}
}

func TestScript_ChannelClamping(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "clamp.lua", `
function frame(t, n)
	return {{-5, 300, 127.6}}
end
`)
	s, err := LoadScript(dir, "clamp.lua")
	require.NoError(t, err)
	defer s.Close()

	pixels, err := s.Frame(0, 2)
	require.NoError(t, err)
	assert.Equal(t, Color{R: 0, G: 255, B: 128}, pixels[0])
	// missing entries come back black
	assert.Equal(t, Black, pixels[1])
}

func TestScript_RuntimeErrorAndClose(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "boom.lua", `
function frame(t, n)
	error("boom")
end
`)
	s, err := LoadScript(dir, "boom.lua")
	require.NoError(t, err)

	_, err = s.Frame(0, 1)
	assert.Error(t, err)

	s.Close()
	s.Close() // idempotent
	_, err = s.Frame(0, 1)
	assert.Error(t, err)
}
