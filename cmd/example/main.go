package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"os"

	"github.com/i5heu/dagpin"
	"github.com/i5heu/dagpin/internal/config"
	"github.com/i5heu/dagpin/pkg/importer"
	"github.com/i5heu/dagpin/pkg/logging"
	"github.com/i5heu/dagpin/pkg/storage"
)

func main() {
	conf := config.Default()
	if len(os.Args) > 1 {
		loaded, err := config.Load(os.Args[1])
		if err != nil {
			logging.Default().Error("load config", "err", err)
			os.Exit(1)
		}
		conf = loaded
	}

	log := logging.New(logLevel(conf.LogLevel))

	if err := run(context.Background(), log, conf); err != nil {
		log.Error("example failed", "err", err)
		os.Exit(1)
	}
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func run(ctx context.Context, log *slog.Logger, conf config.Config) error {
	store := storage.NewMemStore()

	pinConf := dagpin.Config{
		BlockStore:      store,
		MinimumFreeGB:   conf.MinimumFreeGB,
		WalkConcurrency: conf.WalkConcurrency,
		CompressBlocks:  conf.CompressBlocks,
		Logger:          log,
	}
	if conf.DataDir != "" {
		pinConf.Paths = []string{conf.DataDir}
	}

	p, err := dagpin.New(pinConf)
	if err != nil {
		return err
	}
	if err := p.Start(ctx); err != nil {
		return err
	}
	defer p.Close(ctx)

	// Import a few megabytes of random data as a chunked DAG.
	data := make([]byte, 4<<20)
	if _, err := rand.Read(data); err != nil {
		return err
	}
	root, err := importer.Import(ctx, store, bytes.NewReader(data), importer.Options{LinkPrefix: "chunk-"})
	if err != nil {
		return err
	}
	log.Info("imported DAG", "root", root, "bytes", len(data))

	// Pin the root recursively so the whole closure survives GC.
	if err := p.Pin(ctx, root, true); err != nil {
		return err
	}

	status, err := p.IsPinned(ctx, root)
	if err != nil {
		return err
	}
	log.Info("pin status", "cid", root, "pinned", status.Pinned, "kinds", fmt.Sprint(status.Kinds))

	entries, errc := p.List(ctx)
	count := 0
	for entry := range entries {
		log.Debug("pin entry", "cid", entry.Cid, "kind", entry.Kind)
		count++
	}
	if err := <-errc; err != nil {
		return err
	}
	log.Info("listed pins", "entries", count)

	statuses, errc := p.Verify(ctx)
	for st := range statuses {
		if !st.Ok {
			log.Warn("closure damaged", "root", st.Root, "bad", len(st.Bad))
		}
	}
	if err := <-errc; err != nil {
		return err
	}
	log.Info("verified all recursive closures")

	if err := p.Unpin(ctx, root); err != nil {
		return err
	}
	log.Info("unpinned root", "cid", root)

	return nil
}
