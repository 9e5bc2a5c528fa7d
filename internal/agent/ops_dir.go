package agent

import (
	"os"

	"github.com/sandia-minimega/tramp/pkg/rpc"
)

func handleDirList(sess *Session, params map[string]interface{}) (interface{}, *rpc.ErrorData) {
	path, errData := requireString(params, "path")
	if errData != nil {
		return nil, errData
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, osError(err)
	}

	out := make([]map[string]interface{}, 0, len(entries))
	for _, e := range entries {
		// Per-entry metadata failures become placeholder entries rather
		// than aborting the whole listing (§4.4).
		out = append(out, statEntry(path, e.Name()))
	}

	return map[string]interface{}{"entries": out}, nil
}

func handleDirCreate(sess *Session, params map[string]interface{}) (interface{}, *rpc.ErrorData) {
	path, errData := requireString(params, "path")
	if errData != nil {
		return nil, errData
	}
	parents := optionalBool(params, "parents", false)

	var err error
	if parents {
		// MkdirAll is already idempotent on an existing directory,
		// matching §8's "repeated dir.create(parents=true) yields {}".
		err = os.MkdirAll(path, 0755)
	} else {
		err = os.Mkdir(path, 0755)
	}
	if err != nil {
		return nil, osError(err)
	}

	return map[string]interface{}{}, nil
}

func handleDirRemove(sess *Session, params map[string]interface{}) (interface{}, *rpc.ErrorData) {
	path, errData := requireString(params, "path")
	if errData != nil {
		return nil, errData
	}
	recursive := optionalBool(params, "recursive", false)

	var err error
	if recursive {
		err = os.RemoveAll(path)
	} else {
		err = os.Remove(path)
	}
	if err != nil {
		return nil, osError(err)
	}

	return map[string]interface{}{}, nil
}
