package main

import (
	"context"
	"fmt"

	"github.com/xanados/searchdestroy-core/pkg/config"
	"github.com/xanados/searchdestroy-core/pkg/ipcserver"
)

// dial connects to the locally running daemon, returning a clear error if
// none is reachable rather than a raw connection-refused message.
func dial() (*ipcserver.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), ipcserver.RecommendedDialTimeout)
	defer cancel()
	client, err := ipcserver.Dial(ctx, config.SocketPath())
	if err != nil {
		return nil, fmt.Errorf("unable to connect to sdcored (is it running?): %w", err)
	}
	return client, nil
}
