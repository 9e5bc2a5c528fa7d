package agent

import (
	"os"

	"github.com/sandia-minimega/tramp/pkg/rpc"
)

// osError classifies a syscall-originated error per the §4.4 table:
// ENOENT -> not_found, EACCES/EPERM -> permission_denied, else io_error.
func osError(err error) *rpc.ErrorData {
	code := rpc.CodeIOError
	switch {
	case os.IsNotExist(err):
		code = rpc.CodeNotFound
	case os.IsPermission(err):
		code = rpc.CodePermissionDenied
	}
	return rpc.NewError(code, "%v", err)
}
