// Package engine wires capture input, the dissector chain, and storage
// together into a single run loop, per spec.md §5/§9. It is the "capture
// manager" singleton the original source keeps as global state, made
// explicit and non-global here: every field a caller needs lives on a
// Context value it owns, not in package-level variables.
package engine

import (
	"context"
	"crypto/rsa"
	"io"

	"github.com/davecgh/go-spew/spew"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/sipflow/sipflow/address"
	"github.com/sipflow/sipflow/capture"
	"github.com/sipflow/sipflow/dissector"
	"github.com/sipflow/sipflow/keyfile"
	"github.com/sipflow/sipflow/storage"
)

// Config is a plain struct, deliberately not populated by flag/env
// parsing (out of scope per spec.md §1): the CLI or embedding
// application is responsible for filling it in.
type Config struct {
	// Live selects a live interface capture when non-empty; Offline
	// selects a pcap/pcapng reader otherwise. Exactly one should be set.
	Live    string
	Offline io.ReadCloser

	OfflineSizeBytes int64

	BPFFilter string

	// KeyFilePath, if non-empty, is a PEM RSA private key used for
	// passive TLS decryption, per spec.md §6.
	KeyFilePath string

	// TLSServerFilter restricts TLS session tracking to connections
	// whose destination matches this address; nil tracks every TCP SYN.
	TLSServerFilter *address.Address

	CallTableCapacity int

	Logger *zap.Logger
}

// Stats counts frames read from the capture input and failed capture
// reads. Failures inside the dissector chain are logged by the dissector
// package and are not counted here.
type Stats struct {
	FramesRead    int64
	FramesErrored int64
}

// Context is the non-global capture manager: capture input, the
// dissector engine, and the call table a caller queries after Run
// returns. storage.Table has no locking (spec.md §5's single run loop),
// so it is not safe to query from another goroutine while Run is active.
type Context struct {
	input   capture.Input
	chain   *dissector.Engine
	storage *storage.Table
	logger  *zap.Logger

	Stats Stats
}

// New constructs a Context from cfg: opens the configured capture input,
// validates the key file if one is given, and builds the storage table
// and dissector chain. Only configuration errors are returned here
// (InputError/CryptoError per spec.md §7); per-packet dissection
// failures are never returned to the caller.
func New(cfg Config) (*Context, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var input capture.Input
	var err error

	switch {
	case cfg.Live != "":
		input, err = capture.OpenLive(cfg.Live, cfg.BPFFilter)
	case cfg.Offline != nil:
		input, err = capture.OpenOffline(cfg.Offline, cfg.OfflineSizeBytes)
	default:
		return nil, errors.New("engine: no capture source configured")
	}

	if err != nil {
		return nil, errors.Wrap(err, "engine: open capture input")
	}

	var key *rsa.PrivateKey
	if cfg.KeyFilePath != "" {
		key, err = keyfile.Validate(cfg.KeyFilePath)
		if err != nil {
			input.Close()
			return nil, errors.Wrap(err, "engine: validate key file")
		}
	}

	st := storage.NewTable(cfg.CallTableCapacity)
	chain := dissector.New(st, key, cfg.TLSServerFilter)

	return &Context{input: input, chain: chain, storage: st, logger: logger}, nil
}

// Storage exposes the call table for the external query API named in
// spec.md §6 (list_calls, call_messages, call_streams, call_state,
// call_attribute all live on *storage.Table).
func (c *Context) Storage() *storage.Table {
	return c.storage
}

// Run drives the capture-input-to-storage loop until ctx is cancelled,
// the input is exhausted (offline EOF, which returns nil), or a capture
// read fails; a failed read is counted in c.Stats.FramesErrored, logged,
// and returned. Dissection failures of single frames are logged by the
// dissector package and do not stop the loop.
func (c *Context) Run(ctx context.Context) error {
	defer c.input.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		frame, err := c.input.ReadFrame()
		if err != nil {
			if err == io.EOF {
				return nil
			}

			c.Stats.FramesErrored++
			c.logger.Warn("capture read failed", zap.Error(err))

			return errors.Wrap(err, "engine: read frame")
		}

		c.Stats.FramesRead++
		c.chain.ProcessFrame(frame)
		c.chain.Tick()
	}
}

// DumpCall renders a Call's full state with go-spew for debugging, per
// SPEC_FULL.md §5 (mirrors DynamEq6388-netcap's spew.Dump panic-recovery
// audit dump, repurposed here as an on-demand trace rather than a crash
// handler).
func DumpCall(c *storage.Call) string {
	return spew.Sdump(c)
}
