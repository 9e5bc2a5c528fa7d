package agent

import (
	"bytes"
	"os"
	"os/user"

	linuxproc "github.com/c9s/goprocinfo/linux"
	"golang.org/x/sys/unix"

	"github.com/sandia-minimega/tramp/pkg/rpc"
)

func cstr(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// handleSystemInfo aggregates a best-effort snapshot of the agent's host
// (§4.4): every field is independently optional, so a failure reading one
// (e.g. no /proc on a non-Linux target) never fails the whole call.
func handleSystemInfo(sess *Session, params map[string]interface{}) (interface{}, *rpc.ErrorData) {
	out := map[string]interface{}{
		"pid":     uint64(os.Getpid()),
		"version": sess.Version,
	}

	var uts unix.Utsname
	if err := unix.Uname(&uts); err == nil {
		out["os"] = cstr(uts.Sysname[:])
		out["arch"] = cstr(uts.Machine[:])
		out["hostname"] = cstr(uts.Nodename[:])
	} else if h, err := os.Hostname(); err == nil {
		out["hostname"] = h
	}

	if u := os.Getenv("USER"); u != "" {
		out["user"] = u
	} else if cur, err := user.Current(); err == nil {
		out["user"] = cur.Username
	}

	if home := os.Getenv("HOME"); home != "" {
		out["home"] = home
	} else if cur, err := user.Current(); err == nil && cur.HomeDir != "" {
		out["home"] = cur.HomeDir
	}

	if up, err := linuxproc.ReadUptime("/proc/uptime"); err == nil {
		out["uptime_seconds"] = uint64(up.Total)
	} else {
		var ts unix.Timespec
		if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err == nil {
			out["uptime_seconds"] = uint64(ts.Sec)
		}
	}

	return out, nil
}

func handleSystemGetenv(sess *Session, params map[string]interface{}) (interface{}, *rpc.ErrorData) {
	name, errData := requireString(params, "name")
	if errData != nil {
		return nil, errData
	}

	if v, ok := os.LookupEnv(name); ok {
		return map[string]interface{}{"value": v}, nil
	}
	return map[string]interface{}{"value": nil}, nil
}

func handleSystemStatvfs(sess *Session, params map[string]interface{}) (interface{}, *rpc.ErrorData) {
	path, errData := requireString(params, "path")
	if errData != nil {
		return nil, errData
	}

	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return nil, osError(err)
	}

	frsize := uint64(st.Frsize)
	if frsize == 0 {
		frsize = uint64(st.Bsize)
	}

	return map[string]interface{}{
		"total_bytes":  uint64(st.Blocks) * frsize,
		"free_bytes":   uint64(st.Bfree) * frsize,
		"avail_bytes":  uint64(st.Bavail) * frsize,
		"total_inodes": uint64(st.Files),
		"free_inodes":  uint64(st.Ffree),
		"block_size":   frsize,
	}, nil
}
