package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/ctrl/asm"
	"github.com/wippyai/ctrl/code"
)

const unitSrc = `(unit "t"
	(proc "gen" (param $n i32) (result i32)
		(code
			local.get $n
			call "cont" "suspend" (param i32) (result i32)
			local.get $n
			i32.add
			return))
	(proc "sched" (result i32)
		(code
			call "sched" "yield" (result i32)
			return))
	(proc "pure" (result i32)
		(code
			i32.const 1
			return)))`

const pureSrc = `(unit "p"
	(proc "one" (result i32)
		(code
			i32.const 1
			return)))`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func resumable(t *testing.T, u *code.Unit) []string {
	t.Helper()
	var out []string
	for _, p := range u.Procs {
		if p.Resumable() {
			out = append(out, p.Name)
		}
	}
	return out
}

func TestTransformUsage(t *testing.T) {
	out, err := execute(t, "transform", "only-one")
	require.Error(t, err)
	require.Contains(t, out, "Usage:")

	out, err = execute(t, "transform", "a", "b", "--no-such-flag")
	require.Error(t, err)
	require.Contains(t, out, "Usage:")
}

func TestTransformBinary(t *testing.T) {
	data, err := asm.MustParse(unitSrc).Encode()
	require.NoError(t, err)
	in := writeFile(t, "t.unit", data)
	outPath := filepath.Join(t.TempDir(), "t.out")

	out, err := execute(t, "transform", in, outPath, "--verify")
	require.NoError(t, err)
	require.Contains(t, out, "rewritten into")

	written, err := os.ReadFile(outPath)
	require.NoError(t, err)
	u, err := code.Decode(written)
	require.NoError(t, err)
	require.Equal(t, []string{"gen"}, resumable(t, u))
}

func TestTransformCopiesUnchanged(t *testing.T) {
	data, err := asm.MustParse(pureSrc).Encode()
	require.NoError(t, err)
	in := writeFile(t, "p.unit", data)
	outPath := filepath.Join(t.TempDir(), "p.out")

	out, err := execute(t, "transform", in, outPath)
	require.NoError(t, err)
	require.Contains(t, out, "nothing to rewrite")

	written, err := os.ReadFile(outPath)
	require.NoError(t, err)
	require.Equal(t, data, written)
}

func TestTransformTextWithDump(t *testing.T) {
	in := writeFile(t, "t.asm", []byte(unitSrc))
	outPath := filepath.Join(t.TempDir(), "t.out.asm")

	out, err := execute(t, "transform", in, outPath, "--text", "--dump", "--suspend", "sched.*")
	require.NoError(t, err)
	require.Contains(t, out, "== t.gen (resumable")
	require.Contains(t, out, "== t.sched (resumable")
	require.Contains(t, out, "== t.pure (unchanged)")
	require.Contains(t, out, "-- before")
	require.NotContains(t, out, "\x1b[", "dump into a buffer must not be styled")

	written, err := os.ReadFile(outPath)
	require.NoError(t, err)
	u, err := asm.Parse(string(written))
	require.NoError(t, err)
	require.Equal(t, []string{"gen", "sched"}, resumable(t, u))
}

func TestTransformRemoveList(t *testing.T) {
	in := writeFile(t, "t.asm", []byte(unitSrc))
	outPath := filepath.Join(t.TempDir(), "t.out.asm")

	_, err := execute(t, "transform", in, outPath, "--text", "--suspend", "sched.*", "--remove", "gen")
	require.NoError(t, err)
	written, err := os.ReadFile(outPath)
	require.NoError(t, err)
	u, err := asm.Parse(string(written))
	require.NoError(t, err)
	require.Equal(t, []string{"sched"}, resumable(t, u))
}

func TestTransformFailure(t *testing.T) {
	in := writeFile(t, "bad.unit", []byte("definitely not a unit"))
	out, err := execute(t, "transform", in, filepath.Join(t.TempDir(), "out"))
	require.Error(t, err)
	require.NotContains(t, out, "Usage:")

	_, err = execute(t, "transform", filepath.Join(t.TempDir(), "missing"), filepath.Join(t.TempDir(), "out"))
	require.Error(t, err)
}

func TestRenderDumpStyled(t *testing.T) {
	before := asm.MustParse(unitSrc)
	after := asm.MustParse(unitSrc)
	_, err := transformUnit(after, options{})
	require.NoError(t, err)

	out := renderDump(before, after, dumpStyle{styled: true, width: 100})
	require.Contains(t, out, "t.gen")
	require.Contains(t, out, "╭")

	plain := renderDump(before, after, dumpStyle{})
	require.Equal(t, 1, strings.Count(plain, "-- after"))
}

func TestViewer(t *testing.T) {
	before := asm.MustParse(unitSrc)
	after := asm.MustParse(unitSrc)
	_, err := transformUnit(after, options{})
	require.NoError(t, err)

	m := newViewerModel("t.asm", before, after)
	require.Equal(t, "Loading...", m.View())

	m.Update(tea.WindowSizeMsg{Width: 160, Height: 40})
	require.Contains(t, m.View(), "t.gen")
	require.Contains(t, m.View(), "resumable")

	m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m.Update(tea.KeyMsg{Type: tea.KeyDown})
	require.Equal(t, 2, m.selected)
	require.Contains(t, m.View(), "unchanged")

	// Down past the end stays on the last procedure.
	m.Update(tea.KeyMsg{Type: tea.KeyDown})
	require.Equal(t, 2, m.selected)

	m.Update(tea.KeyMsg{Type: tea.KeyTab})
	require.Equal(t, focusBefore, m.focus)
	m.Update(tea.KeyMsg{Type: tea.KeyUp})
	require.Equal(t, 2, m.selected, "keys go to the focused pane")

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
}
