package agent

import (
	"github.com/sandia-minimega/tramp/pkg/rpc"
)

func handleWatchAdd(sess *Session, params map[string]interface{}) (interface{}, *rpc.ErrorData) {
	path, errData := requireString(params, "path")
	if errData != nil {
		return nil, errData
	}
	recursive := optionalBool(params, "recursive", false)

	id, err := sess.Watches.Add(path, recursive)
	if err != nil {
		return nil, osError(err)
	}

	return map[string]interface{}{"watch_id": id}, nil
}

func handleWatchRemove(sess *Session, params map[string]interface{}) (interface{}, *rpc.ErrorData) {
	watchID, errData := requireUint64(params, "watch_id")
	if errData != nil {
		return nil, errData
	}

	if err := sess.Watches.Remove(watchID); err != nil {
		return nil, rpc.NewError(rpc.CodeNotFound, "%v", err)
	}

	return map[string]interface{}{}, nil
}

func handleWatchList(sess *Session, params map[string]interface{}) (interface{}, *rpc.ErrorData) {
	regs := sess.Watches.List()

	out := make([]map[string]interface{}, 0, len(regs))
	for _, r := range regs {
		out = append(out, map[string]interface{}{
			"watch_id":  r.WatchID,
			"path":      r.Path,
			"recursive": r.Recursive,
		})
	}

	return map[string]interface{}{"watches": out}, nil
}
