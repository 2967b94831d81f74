package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	cli "github.com/spf13/pflag"

	"secondbrain/internal/ipc"
)

func main() {
	socket := cli.StringP("socket", "s", ipc.DefaultSocketPath, "Control socket path")
	limit := cli.IntP("limit", "n", 10, "Number of history entries")
	timeout := cli.DurationP("timeout", "t", 5*time.Second, "Request timeout")
	cli.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: secondbrain-ctl [flags] %s|%s|%s\n", ipc.CmdStatus, ipc.CmdHistory, ipc.CmdStop)
		cli.PrintDefaults()
	}
	cli.Parse()

	if cli.NArg() != 1 {
		cli.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	reply, err := ipc.Send(ctx, *socket, ipc.ControlMessage{Cmd: cli.Arg(0), Limit: *limit})
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to reach daemon:", err)
		os.Exit(1)
	}
	if !reply.OK {
		fmt.Fprintln(os.Stderr, "Error:", reply.Error)
		os.Exit(1)
	}
	if len(reply.Data) == 0 {
		fmt.Println("ok")
		return
	}

	var out bytes.Buffer
	if err := json.Indent(&out, reply.Data, "", "  "); err != nil {
		out.Reset()
		out.Write(reply.Data)
	}
	fmt.Println(out.String())
}
