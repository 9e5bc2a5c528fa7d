// tramp is a bare-bones driver for the RPC client (C7): given a transport
// address and a method name, it issues one call and prints the raw
// result. It exists to exercise pkg/rpcclient and internal/transport
// end-to-end; the pretty host CLI/command surface a real editor plugin
// would wrap this in is explicitly out of scope (§1 Non-goals).
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	log "github.com/sandia-minimega/tramp/pkg/minilog"

	"github.com/sandia-minimega/tramp/internal/transport"
	"github.com/sandia-minimega/tramp/pkg/rpcclient"
)

var (
	f_addr     = flag.String("addr", "", "tcp:<host>:<port> or unix:<path> agent address")
	f_method   = flag.String("method", "ping", "RPC method to call")
	f_params   = flag.String("params", "{}", "JSON object of method parameters")
	f_timeout  = flag.Duration("timeout", 5*time.Second, "connect timeout")
	f_loglevel = flag.String("log-level", "warn", "set log level: [debug, info, warn, error, fatal]")
)

func main() {
	flag.Parse()
	log.AddLogWriter("stderr", log.LevelFromString(*f_loglevel), true)

	if *f_addr == "" {
		fmt.Fprintln(os.Stderr, "tramp: -addr is required")
		os.Exit(2)
	}

	var params map[string]interface{}
	if err := json.Unmarshal([]byte(*f_params), &params); err != nil {
		log.Fatal("parse -params: %v", err)
	}

	kind, target, err := transport.ParseAddr(*f_addr)
	if err != nil {
		log.Fatal("parse -addr %q: %v", *f_addr, err)
	}

	var conn transport.Conn
	switch kind {
	case transport.KindTCP:
		conn, err = transport.DialTCP(target, *f_timeout, 0)
	case transport.KindUnix:
		conn, err = transport.DialUnix(target, *f_timeout, 0)
	}
	if err != nil {
		log.Fatal("connect to %q: %v", *f_addr, err)
	}
	defer conn.Close()

	client := rpcclient.New(conn, conn)
	result, err := client.Call(*f_method, params)
	if err != nil {
		if ce, ok := err.(*rpcclient.CallError); ok {
			fmt.Fprintf(os.Stderr, "tramp: %s (kind=%d code=%d)\n", ce.Message, ce.Kind, ce.Code)
		} else {
			fmt.Fprintln(os.Stderr, "tramp:", err)
		}
		os.Exit(1)
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		log.Fatal("marshal result: %v", err)
	}
	fmt.Println(string(out))
}
