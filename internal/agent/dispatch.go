package agent

import (
	"github.com/sandia-minimega/tramp/pkg/rpc"
)

// HandlerFunc implements one RPC method. It returns either a result value
// (to be wrapped in a successful Response) or a wire error.
type HandlerFunc func(sess *Session, params map[string]interface{}) (interface{}, *rpc.ErrorData)

// methodTable is the static method-string -> handler mapping described in
// §4.3. It is built once at package init and never mutated afterwards, so
// dispatch needs no locking of its own.
var methodTable = map[string]HandlerFunc{
	"ping": handlePing,

	"file.stat":       handleFileStat,
	"file.stat_batch": handleFileStatBatch,
	"file.truename":   handleFileTruename,
	"file.read":       handleFileRead,
	"file.write":      handleFileWrite,
	"file.copy":       handleFileCopy,
	"file.rename":     handleFileRename,
	"file.delete":     handleFileDelete,
	"file.set_modes":  handleFileSetModes,

	"dir.list":   handleDirList,
	"dir.create": handleDirCreate,
	"dir.remove": handleDirRemove,

	"process.run":   handleProcessRun,
	"process.start": handleProcessStart,
	"process.read":  handleProcessRead,
	"process.write": handleProcessWrite,
	"process.kill":  handleProcessKill,

	"system.info":    handleSystemInfo,
	"system.getenv":  handleSystemGetenv,
	"system.statvfs": handleSystemStatvfs,

	"watch.add":    handleWatchAdd,
	"watch.remove": handleWatchRemove,
	"watch.list":   handleWatchList,

	"batch": handleBatch,
}

// Dispatch routes one decoded request to its handler and shapes the
// Response, classifying an unknown method as method_not_found per §4.2.
// It never panics: handler authors return a *rpc.ErrorData instead of
// raising one, per §7's "handlers never panic on parameter errors".
func Dispatch(sess *Session, req *rpc.Request) *rpc.Response {
	h, ok := methodTable[req.Method]
	if !ok {
		return rpc.NewErrorResponse(req.ID, rpc.NewError(rpc.CodeMethodNotFound, "unknown method %q", req.Method))
	}

	result, errData := h(sess, req.Params)
	if errData != nil {
		return rpc.NewErrorResponse(req.ID, errData)
	}
	return rpc.NewResponse(req.ID, result)
}
