package agent

import (
	"os"

	"github.com/sandia-minimega/tramp/pkg/rpc"
)

func handlePing(sess *Session, params map[string]interface{}) (interface{}, *rpc.ErrorData) {
	return map[string]interface{}{
		"status":  "ok",
		"version": sess.Version,
		"pid":     uint64(os.Getpid()),
	}, nil
}
