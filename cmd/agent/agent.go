// agent is the long-lived remote binary driven by the tramp client plugin.
// Invoked bare it speaks the frame protocol over its own stdin/stdout (the
// SSH-piped-stdio transport); --listen puts it in server mode for the TCP
// or UNIX-socket adapters instead (§6).
package main

import (
	"flag"
	"fmt"
	"os"

	log "github.com/sandia-minimega/tramp/pkg/minilog"

	"github.com/sandia-minimega/tramp/internal/agent"
	"github.com/sandia-minimega/tramp/internal/transport"
)

const version = "0.1.0"

var (
	f_version  = flag.Bool("version", false, "print version and exit")
	f_listen   = flag.String("listen", "", "serve one connection on tcp:<host>:<port> or unix:<path> instead of stdio")
	f_loglevel = flag.String("log-level", "warn", "set log level: [debug, info, warn, error, fatal]")
	f_logfile  = flag.String("logfile", "", "also log to file")
)

func main() {
	flag.Parse()

	if *f_version {
		fmt.Printf("%s %s\n", deployProduct, version)
		os.Exit(0)
	}

	logSetup()

	sess, err := agent.NewSession(version)
	if err != nil {
		log.Fatal("init session: %v", err)
	}
	// Serve owns sess and closes it on return.

	if *f_listen == "" {
		if err := agent.Serve(stdio{}, sess); err != nil {
			log.Fatal("serve stdio: %v", err)
		}
		return
	}

	kind, target, err := transport.ParseAddr(*f_listen)
	if err != nil {
		log.Fatal("parse --listen %q: %v", *f_listen, err)
	}

	var conn transport.Conn
	switch kind {
	case transport.KindTCP:
		conn, err = transport.ListenTCP(target)
	case transport.KindUnix:
		conn, err = transport.ListenUnix(target)
	}
	if err != nil {
		log.Fatal("listen on %q: %v", *f_listen, err)
	}
	defer conn.Close()

	if err := agent.Serve(conn, sess); err != nil {
		log.Fatal("serve %q: %v", *f_listen, err)
	}
}

// deployProduct matches internal/deploy.Product; duplicated as a literal
// here so cmd/agent never depends on the ssh-heavy deploy package.
const deployProduct = "tramp-agent"

// logRingSize bounds the in-memory trailing log kept alongside stderr, for
// post-mortem inspection of a session that exited without a --logfile.
const logRingSize = 500

func logSetup() {
	level := log.LevelFromString(*f_loglevel)
	log.AddLogWriter("stderr", level, true)
	log.AddLogRing("ring", log.NewRing(logRingSize), level)

	if *f_logfile != "" {
		f, err := os.OpenFile(*f_logfile, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o660)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		log.AddLogger("file", f, level, false)
	}
}

// stdio adapts os.Stdin/os.Stdout to the io.ReadWriter Serve expects, for
// the default SSH-piped-stdio invocation.
type stdio struct{}

func (stdio) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdio) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
