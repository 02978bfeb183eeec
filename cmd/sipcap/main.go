// Command sipcap wires capture input, the dissector chain, and the call
// table together for offline pcap replay. It is intentionally minimal:
// CLI flag parsing, the TUI, and save/export formatting are explicit
// out-of-scope collaborators per spec.md §1; this binary exists to
// demonstrate the wiring, not to be a complete inspector.
package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/sipflow/sipflow/engine"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: sipcap <pcap-file> [keyfile.pem]")
		os.Exit(2)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		logger = zap.NewNop()
	}

	defer logger.Sync()

	f, err := os.Open(os.Args[1])
	if err != nil {
		logger.Fatal("open capture file", zap.Error(err))
	}

	info, err := f.Stat()
	if err != nil {
		logger.Fatal("stat capture file", zap.Error(err))
	}

	cfg := engine.Config{
		Offline:           f,
		OfflineSizeBytes:  info.Size(),
		CallTableCapacity: 10000,
		Logger:            logger,
	}

	if len(os.Args) > 2 {
		cfg.KeyFilePath = os.Args[2]
	}

	ctx, err := engine.New(cfg)
	if err != nil {
		logger.Fatal("build engine context", zap.Error(err))
	}

	if err := ctx.Run(context.Background()); err != nil {
		logger.Fatal("run capture loop", zap.Error(err))
	}

	for _, call := range ctx.Storage().ListCalls() {
		fmt.Printf("%s\t%s\t%d messages\t%d streams\n",
			call.CallID, call.State, len(call.Messages), len(call.Streams))
	}
}
