package counter

import (
	"math/rand/v2"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/tally/internal/procsnap"
)

// writeExe creates an empty file standing in for an executable.
func writeExe(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o750))
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/true\n"), 0o600))
	return p
}

func mustTarget(t *testing.T, path string) Target {
	t.Helper()
	tg, err := NewTarget(path)
	require.NoError(t, err)
	return tg
}

func TestNewTarget(t *testing.T) {
	tg, err := NewTarget("  /opt/app/app.exe ")
	require.NoError(t, err)
	assert.Equal(t, "app.exe", tg.Name)
	assert.True(t, filepath.IsAbs(tg.Path))

	_, err = NewTarget("   ")
	assert.Error(t, err)
}

func TestCount(t *testing.T) {
	dir := t.TempDir()
	exe := writeExe(t, dir, "app.exe")
	other := writeExe(t, dir, "elsewhere/app.exe")
	tg := mustTarget(t, exe)
	m := Matcher{}

	unresolved := func(pid, ppid int32, name string) procsnap.Record {
		r := procsnap.Record{PID: pid}
		if ppid > 0 {
			r.PPID = procsnap.Some(ppid)
		}
		if name != "" {
			r.Name = procsnap.Some(name)
		}
		return r
	}

	cases := []struct {
		name string
		snap []procsnap.Record
		want int
	}{
		{"empty", nil, 0},
		{"single top-level", []procsnap.Record{procsnap.New(100, 1, "app.exe", exe)}, 1},
		{"child of instance", []procsnap.Record{
			procsnap.New(100, 1, "app.exe", exe),
			procsnap.New(101, 100, "app.exe", exe),
		}, 1},
		{"grandchildren collapse", []procsnap.Record{
			procsnap.New(100, 1, "app.exe", exe),
			procsnap.New(101, 100, "app.exe", exe),
			procsnap.New(102, 101, "app.exe", exe),
		}, 1},
		{"two launches", []procsnap.Record{
			procsnap.New(100, 1, "app.exe", exe),
			procsnap.New(200, 1, "app.exe", exe),
			procsnap.New(201, 200, "app.exe", exe),
		}, 2},
		{"name mismatch", []procsnap.Record{procsnap.New(100, 1, "bash", "/bin/bash")}, 0},
		{"case differs without folding", []procsnap.Record{procsnap.New(100, 1, "APP.EXE", exe)}, 0},
		{"unresolved exe counts by name", []procsnap.Record{unresolved(100, 1, "app.exe")}, 1},
		{"unresolved name excluded", []procsnap.Record{unresolved(100, 1, "")}, 0},
		{"different existing file with same name", []procsnap.Record{procsnap.New(100, 1, "app.exe", other)}, 0},
		{"missing file falls back to basename", []procsnap.Record{procsnap.New(100, 1, "app.exe", "/virtual/store/APP.exe")}, 1},
		{"missing file different basename", []procsnap.Record{procsnap.New(100, 1, "app.exe", "/virtual/store/launcher.exe")}, 0},
		{"parent with unresolved name", []procsnap.Record{
			unresolved(50, 1, ""),
			procsnap.New(100, 50, "app.exe", exe),
		}, 1},
		{"parent outside snapshot", []procsnap.Record{procsnap.New(100, 42, "app.exe", exe)}, 1},
		{"parent is a different app.exe", []procsnap.Record{
			procsnap.New(50, 1, "app.exe", other),
			procsnap.New(100, 50, "app.exe", exe),
		}, 1},
		{"parent unrelated", []procsnap.Record{
			procsnap.New(50, 1, "explorer.exe", "/windows/explorer.exe"),
			procsnap.New(100, 50, "app.exe", exe),
		}, 1},
		{"duplicate pid", []procsnap.Record{
			procsnap.New(100, 1, "app.exe", exe),
			procsnap.New(100, 1, "app.exe", exe),
		}, 1},
		{"self parent", []procsnap.Record{procsnap.New(100, 100, "app.exe", exe)}, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, m.Count(tg, tc.snap))
		})
	}
}

func TestCountFoldCase(t *testing.T) {
	tg := mustTarget(t, filepath.Join(t.TempDir(), "Notepad.exe"))
	snap := []procsnap.Record{procsnap.New(7, 1, "notepad.EXE", "")}

	assert.Equal(t, 0, Matcher{FoldCase: false}.Count(tg, snap))
	assert.Equal(t, 1, Matcher{FoldCase: true}.Count(tg, snap))
}

func TestFoldsCaseOnCaseInsensitivePlatforms(t *testing.T) {
	for goos, want := range map[string]bool{
		"windows": true,
		"darwin":  true,
		"ios":     true,
		"linux":   false,
		"freebsd": false,
	} {
		assert.Equal(t, want, foldsCase(goos), goos)
	}
	assert.Equal(t, foldsCase(runtime.GOOS), DefaultMatcher().FoldCase)
}

func TestCountHardLinkIsSameFile(t *testing.T) {
	dir := t.TempDir()
	exe := writeExe(t, dir, "app")
	link := filepath.Join(dir, "bin", "app")
	require.NoError(t, os.MkdirAll(filepath.Dir(link), 0o750))
	if err := os.Link(exe, link); err != nil {
		t.Skipf("hard links unsupported: %v", err)
	}
	tg := mustTarget(t, exe)
	assert.Equal(t, 1, Matcher{}.Count(tg, []procsnap.Record{procsnap.New(5, 1, "app", link)}))
}

func TestInstancesSorted(t *testing.T) {
	tg := mustTarget(t, "/nonexistent/app")
	snap := []procsnap.Record{
		procsnap.New(30, 1, "app", ""),
		procsnap.New(10, 1, "app", ""),
		procsnap.New(11, 10, "app", ""),
		procsnap.New(20, 1, "app", ""),
	}
	assert.Equal(t, []int32{10, 20, 30}, Matcher{}.Instances(tg, snap))
}

func TestLaunchAndTerminateChangeCountByOne(t *testing.T) {
	tg := mustTarget(t, "/nonexistent/app")
	m := Matcher{}
	snap := []procsnap.Record{
		procsnap.New(10, 1, "app", ""),
		procsnap.New(11, 10, "app", ""),
	}
	base := m.Count(tg, snap)

	launched := append(append([]procsnap.Record(nil), snap...),
		procsnap.New(20, 1, "app", ""),
		procsnap.New(21, 20, "app", ""),
		procsnap.New(22, 20, "app", ""),
	)
	assert.Equal(t, base+1, m.Count(tg, launched))

	// terminate the first tree
	assert.Equal(t, base, m.Count(tg, launched[2:]))
}

func TestRandomSnapshotsNeverCountChildren(t *testing.T) {
	tg := mustTarget(t, "/nonexistent/app")
	m := Matcher{}
	rng := rand.New(rand.NewPCG(1, 2))
	names := []string{"app", "app", "helper", ""}

	for iter := 0; iter < 200; iter++ {
		n := rng.IntN(40)
		snap := make([]procsnap.Record, 0, n)
		for i := 0; i < n; i++ {
			pid := int32(i + 2)
			r := procsnap.Record{PID: pid}
			if rng.IntN(5) > 0 {
				r.PPID = procsnap.Some(int32(rng.IntN(n + 2)))
			}
			if name := names[rng.IntN(len(names))]; name != "" {
				r.Name = procsnap.Some(name)
			}
			snap = append(snap, r)
		}

		got := m.Instances(tg, snap)
		require.GreaterOrEqual(t, len(got), 0)

		byPID := map[int32]procsnap.Record{}
		for _, r := range snap {
			byPID[r.PID] = r
		}
		isApp := func(pid int32) bool {
			r, ok := byPID[pid]
			return ok && r.Name.Valid && r.Name.V == "app"
		}
		for _, pid := range got {
			r := byPID[pid]
			require.True(t, isApp(pid))
			if r.PPID.Valid && r.PPID.V != pid {
				require.False(t, isApp(r.PPID.V), "pid %d has matching parent %d", pid, r.PPID.V)
			}
		}
	}
}
