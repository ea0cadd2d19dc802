package procsnap

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// System reads the live process table through gopsutil.
type System struct{}

// Snapshot enumerates every visible process. Attribute lookups that fail
// (permission denied, process exited mid-scan) leave the field unresolved.
func (System) Snapshot(ctx context.Context) ([]Record, error) {
	procs, err := gopsproc.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerate processes: %w", err)
	}
	out := make([]Record, 0, len(procs))
	for _, p := range procs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out = append(out, inspect(ctx, p))
	}
	return out, nil
}

func inspect(ctx context.Context, p *gopsproc.Process) Record {
	r := Record{PID: p.Pid}
	if ppid, err := p.PpidWithContext(ctx); err == nil && ppid > 0 {
		r.PPID = Some(ppid)
	}
	if name, err := p.NameWithContext(ctx); err == nil && name != "" {
		r.Name = Some(name)
	}
	if exe, err := p.ExeWithContext(ctx); err == nil && exe != "" {
		r.Exe = Some(cleanExe(exe))
	}
	return r
}

// cleanExe strips the marker Linux appends to /proc/<pid>/exe when the
// binary was replaced or removed after the process started.
func cleanExe(exe string) string {
	if runtime.GOOS == "linux" {
		return strings.TrimSuffix(exe, " (deleted)")
	}
	return exe
}
