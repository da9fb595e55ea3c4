package main

import (
	"fmt"

	"github.com/m3u-dvr/internal/client/apprise"
	"github.com/m3u-dvr/internal/config"
	"github.com/m3u-dvr/internal/executor"
	"github.com/m3u-dvr/internal/playlist"
	"github.com/m3u-dvr/internal/resolver"
	"github.com/m3u-dvr/internal/service/cleanup"
	"github.com/m3u-dvr/internal/service/finalizer"
	"github.com/m3u-dvr/internal/service/usage"
	"github.com/m3u-dvr/internal/store"
	"github.com/m3u-dvr/internal/tracker"
	"github.com/m3u-dvr/pkg/logger"
)

// app holds the components shared by serve and sweep.
type app struct {
	cfg       *config.Config
	store     *store.Store
	oracle    executor.Oracle
	viewers   *tracker.Viewers
	consumers *tracker.Consumers
	usage     *usage.Service
	download  *resolver.Download
	movie     *resolver.Download
	live      *resolver.Live
	schedule  *resolver.Schedule
	finalizer *finalizer.Service
	sweeper   *cleanup.Sweeper
	fetcher   *playlist.Fetcher
	cache     *playlist.Cache
}

func newApp(cfg *config.Config) (*app, error) {
	st := store.New(store.Dirs{
		Cache: cfg.Folders.Cache,
		Jobs:  cfg.Folders.Jobs,
		Work:  cfg.Folders.Work,
		Media: cfg.Folders.Media,
	})
	if err := st.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("directory setup: %w", err)
	}

	var notifier finalizer.Notifier
	if cfg.Apprise.Enabled {
		notifier = apprise.NewClient(cfg.Apprise)
		logger.Infof("🔔 Notifications: enabled (key=%s)", cfg.Apprise.Key)
	} else {
		logger.Info("🔔 Notifications: disabled")
	}

	oracle := executor.ProcessOracle{}
	launcher := executor.NewProcessLauncher(cfg.Scripts, cfg.Launcher)
	consumers := tracker.NewConsumers()
	use := usage.New(cfg, st, consumers)
	live := resolver.NewLive(cfg, st, launcher, use)
	fin := finalizer.New(st, oracle, notifier)

	return &app{
		cfg:       cfg,
		store:     st,
		oracle:    oracle,
		viewers:   tracker.NewViewers(cfg.Live.ViewerTimeout),
		consumers: consumers,
		usage:     use,
		download:  resolver.NewDownload(cfg, st, launcher, use),
		movie:     resolver.NewMovie(cfg, st, launcher, use),
		live:      live,
		schedule:  resolver.NewSchedule(cfg, st, launcher, use),
		finalizer: fin,
		sweeper:   cleanup.New(st, oracle, fin, live, cfg.Cleanup.MinAge),
		fetcher:   playlist.NewFetcher(cfg.Playlist),
		cache:     playlist.NewCache(st),
	}, nil
}
