package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/peterh/liner"

	"github.com/sandboxlabs/viaduct/pkg/vlog"
	"github.com/sandboxlabs/viaduct/pkg/viaduct"
)

var (
	f_version = flag.Bool("version", false, "print the version")
)

const banner = `viaduct-console: an interactive parent-side REPL over a viaduct channel.
`

func usage() {
	fmt.Println(banner)
	fmt.Println("usage: viaduct-console [option]... -- <child-command> [child-args]...")
	flag.PrintDefaults()
}

var textCodec = viaduct.BytesCodec{}

func main() {
	flag.Usage = usage
	flag.Parse()

	if *f_version {
		fmt.Println("viaduct-console")
		os.Exit(0)
	}

	vlog.Init()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	tx, rx, cmd, err := viaduct.Parent(textCodec, args[0], args[1:], viaduct.Options{})
	if err != nil {
		vlog.Fatal("handshake: %v", err)
	}

	go func() {
		rpcHandler := func(msg []byte) {
			fmt.Printf("\n<< rpc: %s\n", msg)
		}
		requestHandler := func(msg []byte, r *viaduct.Responder[[]byte]) {
			fmt.Printf("\n<< request (unanswered, console does not serve requests): %s\n", msg)
		}
		if err := rx.Run(rpcHandler, requestHandler); err != nil {
			vlog.Warn("viaduct-console: channel closed: %v", err)
		}
	}()

	attach(tx)

	if err := cmd.Process.Kill(); err != nil {
		vlog.Debug("viaduct-console: kill child: %v", err)
	}
	cmd.Wait()
}

// attach drives the interactive command line, line-edited and
// history-backed, for the duration of the child process's lifetime.
func attach(tx *viaduct.Tx[[]byte]) {
	fmt.Println("type 'rpc <text>' or 'request <text>'; ^d to quit")

	input := liner.NewLiner()
	defer input.Close()

	input.SetCtrlCAborts(true)

	for {
		line, err := input.Prompt("viaduct> ")
		if err == liner.ErrPromptAborted {
			continue
		} else if err == io.EOF {
			break
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		input.AppendHistory(line)

		switch {
		case strings.HasPrefix(line, "rpc "):
			if err := tx.Rpc([]byte(line[len("rpc "):])); err != nil {
				fmt.Println("error:", err)
			}
		case strings.HasPrefix(line, "request "):
			resp, err := tx.Request([]byte(line[len("request "):]))
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			fmt.Printf(">> %s\n", resp)
		case line == "quit":
			return
		default:
			fmt.Println("unrecognized command, try 'rpc <text>' or 'request <text>'")
		}
	}
}
