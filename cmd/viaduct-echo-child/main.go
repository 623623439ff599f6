package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/sandboxlabs/viaduct/pkg/vlog"
	"github.com/sandboxlabs/viaduct/pkg/viaduct"
)

var (
	f_version = flag.Bool("version", false, "print the version")
)

const banner = `viaduct-echo-child: a duplex-pipe child process for manual testing.
It is meant to be spawned by viaduct.Parent, never run directly.
`

func usage() {
	fmt.Println(banner)
	fmt.Println("usage: viaduct-echo-child [option]...")
	flag.PrintDefaults()
}

// The tiny text protocol this example child understands: "echo <rest>" on
// Rpc, "ping" (-> "pong") and "upper <rest>" on Request.
var textCodec = viaduct.BytesCodec{}

func main() {
	flag.Usage = usage
	flag.Parse()

	if *f_version {
		fmt.Println("viaduct-echo-child")
		os.Exit(0)
	}

	vlog.Init()

	tx, rx, args, err := viaduct.Child(textCodec, viaduct.Options{})
	if err != nil {
		vlog.Fatal("handshake: %v", err)
	}
	vlog.Info("viaduct-echo-child: handshake complete, extra args: %v", args)

	rpcHandler := func(msg []byte) {
		line := strings.TrimSpace(string(msg))
		vlog.Debug("viaduct-echo-child: rpc %q", line)

		switch {
		case strings.HasPrefix(line, "echo "):
			if err := tx.Rpc([]byte(line[len("echo "):])); err != nil {
				vlog.Error("viaduct-echo-child: echo reply failed: %v", err)
			}
		default:
			vlog.Warn("viaduct-echo-child: unrecognized rpc %q", line)
		}
	}

	requestHandler := func(msg []byte, r *viaduct.Responder[[]byte]) {
		line := strings.TrimSpace(string(msg))
		vlog.Debug("viaduct-echo-child: request %q", line)

		var reply string
		switch {
		case line == "ping":
			reply = "pong"
		case strings.HasPrefix(line, "upper "):
			reply = strings.ToUpper(line[len("upper "):])
		default:
			reply = fmt.Sprintf("unrecognized request: %s", line)
		}

		if err := r.Respond([]byte(reply)); err != nil {
			vlog.Error("viaduct-echo-child: respond failed: %v", err)
		}
	}

	if err := rx.Run(rpcHandler, requestHandler); err != nil {
		vlog.Fatal("viaduct-echo-child: channel failed: %v", err)
	}
}
