package main

import (
	"github.com/xanados/searchdestroy-core/pkg/config"
	"github.com/xanados/searchdestroy-core/pkg/engine"
	"github.com/xanados/searchdestroy-core/pkg/logging"
)

// buildAdapters constructs one process-backed engine adapter per enabled,
// configured engine. Adapters are lazily dialed on first use by
// engine.ProcessAdapter itself, so construction here never touches the
// filesystem or spawns a process.
func buildAdapters(cfg *config.Configuration, logger *logging.Logger) map[config.Engine]engine.Adapter {
	adapters := make(map[config.Engine]engine.Adapter, len(cfg.Engines.Enabled))
	timeout := cfg.Scan.TimeoutPerFile()
	for _, name := range cfg.Engines.Enabled {
		command := cfg.Engines.CommandFor(name)
		adapters[name] = engine.NewProcessAdapter(name, command, timeout, logger)
	}
	return adapters
}
