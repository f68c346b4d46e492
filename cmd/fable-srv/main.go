package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/fable-games/fable/internal/cache/cachelru"
	"github.com/fable-games/fable/internal/cluster"
	"github.com/fable-games/fable/internal/database"
	storydb "github.com/fable-games/fable/internal/database/storydb/database"
	"github.com/fable-games/fable/internal/game"
	"github.com/fable-games/fable/internal/logging"
	"github.com/fable-games/fable/internal/server"
	"github.com/fable-games/fable/internal/shutdown"
	"github.com/fable-games/fable/internal/store"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

func main() {
	ctx, done := shutdown.New()
	defer done()

	logger := logging.FromContext(ctx)
	if err := realMain(ctx); err != nil {
		logger.Fatalf("main.realMain: %v", err)
	}
}

func realMain(ctx context.Context) error {
	// .env is optional; envconfig still reads the real environment
	_ = godotenv.Load()

	config := server.Config{}
	if err := envconfig.Process("", &config); err != nil {
		return fmt.Errorf("processing the config: %w", err)
	}

	port := flag.Int("port", 0, "serving port this node binds if it wins election (defaults to FABLE_GAME_PORT)")
	flag.Parse()
	if *port != 0 {
		config.GamePort = *port
	}

	ctx = logging.WithLogger(ctx, logging.NewLogger(config.Debug).Named("fable"))
	logger := logging.FromContext(ctx)

	themes, err := game.LoadThemes(config.ThemesPath)
	if err != nil {
		logger.Warnf("themes unavailable, falling back to %q: %v", game.FallbackTheme, err)
	}

	db, err := database.NewFromEnv(ctx, &config.Db)
	if err != nil {
		return fmt.Errorf("new database from env: %w", err)
	}
	defer db.Close(ctx)

	storyCache, err := cachelru.NewLRU(config.CacheSize)
	if err != nil {
		return fmt.Errorf("can not create lru cache: %w", err)
	}

	st := store.New(config.SnapshotPath, config.ArchivePath)
	state := game.NewState(themes)

	// a crashed running session is restored before any connection is
	// accepted; the narrator re-binds by username on their next join
	if snap, ok, err := st.Load(); err != nil {
		logger.Warnf("recovery snapshot unreadable: %v", err)
	} else if ok {
		state.Restore(snap)
		logger.Infof("recovered session: phase %s, segment %d", snap.Phase, snap.SegmentID)
	}

	node := cluster.NewNode(&config, state, st, server.WithStoryDB(storydb.New(db, storyCache)))
	return node.Run(ctx)
}
