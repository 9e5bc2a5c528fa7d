package agent

import (
	"sync"

	"github.com/sandia-minimega/tramp/pkg/rpc"
)

// maxBatchParallelism bounds concurrent sub-request execution inside one
// batch call (§4.4: "bounded parallelism").
const maxBatchParallelism = 8

type batchSubRequest struct {
	Method string                 `param:"method"`
	Params map[string]interface{} `param:"params"`
}

// handleBatch executes a list of sub-requests against a private, isolated
// Session — its own process table and watch state — so sub-requests can
// never see or affect handles created by the outer session (§4.3).
func handleBatch(sess *Session, params map[string]interface{}) (interface{}, *rpc.ErrorData) {
	raw, ok := params["requests"]
	if !ok {
		return nil, rpc.NewError(rpc.CodeInvalidParams, "missing required parameter %q", "requests")
	}
	rawList, ok := raw.([]interface{})
	if !ok {
		return nil, rpc.NewError(rpc.CodeInvalidParams, "parameter %q must be an array", "requests")
	}

	subs := make([]batchSubRequest, len(rawList))
	for i, item := range rawList {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, rpc.NewError(rpc.CodeInvalidParams, "requests[%d] must be a map", i)
		}
		if errData := decodeParams(m, &subs[i]); errData != nil {
			return nil, errData
		}
	}

	parallel := optionalBool(params, "parallel", false)

	private, err := NewIsolatedSession(sess.Version)
	if err != nil {
		return nil, rpc.NewError(rpc.CodeInternalError, "building isolated batch session: %v", err)
	}
	defer private.Close()

	results := make([]map[string]interface{}, len(subs))

	run := func(i int) {
		h, ok := methodTable[subs[i].Method]
		if !ok {
			results[i] = bodyFromError(rpc.NewError(rpc.CodeMethodNotFound, "unknown method %q", subs[i].Method))
			return
		}
		result, errData := h(private, subs[i].Params)
		if errData != nil {
			results[i] = bodyFromError(errData)
			return
		}
		results[i] = map[string]interface{}{"result": result}
	}

	if parallel {
		sem := make(chan struct{}, maxBatchParallelism)
		var wg sync.WaitGroup
		for i := range subs {
			wg.Add(1)
			sem <- struct{}{}
			go func(i int) {
				defer wg.Done()
				defer func() { <-sem }()
				run(i)
			}(i)
		}
		wg.Wait()
	} else {
		for i := range subs {
			run(i)
		}
	}

	return map[string]interface{}{"results": results}, nil
}

func bodyFromError(e *rpc.ErrorData) map[string]interface{} {
	return map[string]interface{}{"error": map[string]interface{}{"code": e.Code, "message": e.Message}}
}
