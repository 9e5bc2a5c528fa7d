package agent

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"github.com/sandia-minimega/tramp/pkg/rpc"
)

// entryKind classifies a FileInfo the way §3's directory-entry shape
// requires: lstat semantics, never following the entry itself.
func entryKind(info fs.FileInfo) string {
	switch {
	case info.Mode()&os.ModeSymlink != 0:
		return "symlink"
	case info.IsDir():
		return "dir"
	default:
		return "file"
	}
}

// statEntry builds one directory-entry map (§3) from an lstat'd path. Used
// by both file.stat and dir.list so their shapes never drift apart.
func statEntry(dir, name string) map[string]interface{} {
	full := name
	if dir != "" {
		full = filepath.Join(dir, name)
	}

	info, err := os.Lstat(full)
	if err != nil {
		return map[string]interface{}{"name": name, "error": err.Error()}
	}

	entry := map[string]interface{}{
		"name":        name,
		"kind":        entryKind(info),
		"size":        uint64(info.Size()),
		"permissions": uint32(info.Mode().Perm()),
		"modified_ns": uint64(info.ModTime().UnixNano()),
	}

	if sys, ok := info.Sys().(*syscall.Stat_t); ok {
		entry["nlinks"] = uint64(sys.Nlink)
		entry["inode"] = uint64(sys.Ino)
		entry["uid"] = uint32(sys.Uid)
		entry["gid"] = uint32(sys.Gid)
	}

	if entry["kind"] == "symlink" {
		if target, err := os.Readlink(full); err == nil {
			entry["symlink_target"] = target
		}
	}

	return entry
}

func handleFileStat(sess *Session, params map[string]interface{}) (interface{}, *rpc.ErrorData) {
	path, errData := requireString(params, "path")
	if errData != nil {
		return nil, errData
	}

	if _, err := os.Lstat(path); err != nil {
		return nil, osError(err)
	}

	return statEntry("", path), nil
}

func handleFileStatBatch(sess *Session, params map[string]interface{}) (interface{}, *rpc.ErrorData) {
	raw, ok := params["paths"]
	if !ok {
		return nil, rpc.NewError(rpc.CodeInvalidParams, "missing required parameter %q", "paths")
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil, rpc.NewError(rpc.CodeInvalidParams, "parameter %q must be an array", "paths")
	}

	results := make([]map[string]interface{}, 0, len(list))
	for _, item := range list {
		path, ok := item.(string)
		if !ok {
			results = append(results, map[string]interface{}{"error": "path entries must be strings"})
			continue
		}
		results = append(results, statEntry("", path))
	}

	return map[string]interface{}{"entries": results}, nil
}

func handleFileTruename(sess *Session, params map[string]interface{}) (interface{}, *rpc.ErrorData) {
	path, errData := requireString(params, "path")
	if errData != nil {
		return nil, errData
	}

	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return nil, osError(err)
	}
	abs, err := filepath.Abs(resolved)
	if err != nil {
		return nil, osError(err)
	}

	return map[string]interface{}{"path": abs}, nil
}

func handleFileRead(sess *Session, params map[string]interface{}) (interface{}, *rpc.ErrorData) {
	path, errData := requireString(params, "path")
	if errData != nil {
		return nil, errData
	}

	// file.read follows symlinks (it opens through the VFS like any
	// ordinary read), distinct from file.stat's lstat semantics (§8
	// boundary case).
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, osError(err)
	}
	if len(data) > rpc.MaxPayloadSize {
		return nil, rpc.NewError(rpc.CodeIOError, "file %q exceeds the %d-byte frame cap", path, rpc.MaxPayloadSize)
	}

	return map[string]interface{}{"data": data}, nil
}

func handleFileWrite(sess *Session, params map[string]interface{}) (interface{}, *rpc.ErrorData) {
	path, errData := requireString(params, "path")
	if errData != nil {
		return nil, errData
	}
	raw, ok := params["data"]
	if !ok {
		return nil, rpc.NewError(rpc.CodeInvalidParams, "missing required parameter %q", "data")
	}
	data, ok := raw.([]byte)
	if !ok {
		return nil, rpc.NewError(rpc.CodeInvalidParams, "parameter %q must be binary", "data")
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return nil, osError(err)
	}

	return map[string]interface{}{}, nil
}

func handleFileCopy(sess *Session, params map[string]interface{}) (interface{}, *rpc.ErrorData) {
	src, errData := requireString(params, "src")
	if errData != nil {
		return nil, errData
	}
	dst, errData := requireString(params, "dst")
	if errData != nil {
		return nil, errData
	}

	in, err := os.Open(src)
	if err != nil {
		return nil, osError(err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return nil, osError(err)
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return nil, osError(err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return nil, osError(err)
	}

	return map[string]interface{}{}, nil
}

func handleFileRename(sess *Session, params map[string]interface{}) (interface{}, *rpc.ErrorData) {
	src, errData := requireString(params, "src")
	if errData != nil {
		return nil, errData
	}
	dst, errData := requireString(params, "dst")
	if errData != nil {
		return nil, errData
	}

	if err := os.Rename(src, dst); err != nil {
		return nil, osError(err)
	}

	return map[string]interface{}{}, nil
}

func handleFileDelete(sess *Session, params map[string]interface{}) (interface{}, *rpc.ErrorData) {
	path, errData := requireString(params, "path")
	if errData != nil {
		return nil, errData
	}

	if err := os.Remove(path); err != nil {
		return nil, osError(err)
	}

	return map[string]interface{}{}, nil
}

func handleFileSetModes(sess *Session, params map[string]interface{}) (interface{}, *rpc.ErrorData) {
	path, errData := requireString(params, "path")
	if errData != nil {
		return nil, errData
	}

	perm := optionalUint64(params, "permissions", 0)
	if _, ok := params["permissions"]; !ok {
		return nil, rpc.NewError(rpc.CodeInvalidParams, "missing required parameter %q", "permissions")
	}

	if err := os.Chmod(path, os.FileMode(perm&0o7777)); err != nil {
		return nil, osError(err)
	}

	return map[string]interface{}{}, nil
}
