// Command syncplay-demo runs a self-contained two-client demonstration
// of the synchronized group-playback coordinator: an in-process
// signaling relay, and two simulated clients that join the same group,
// open a peer-to-peer data channel to each other, and drive a fake
// player through the full C1–C9 stack.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/n0remac/syncplay/internal/eventloop"
	"github.com/n0remac/syncplay/internal/player"
	"github.com/n0remac/syncplay/internal/queuemirror"
	"github.com/n0remac/syncplay/internal/relay"
	"github.com/n0remac/syncplay/protocol"
	"github.com/n0remac/syncplay/settings"
	syncplaypkg "github.com/n0remac/syncplay"
)

func main() {
	numClients := flag.Int("clients", 2, "number of simulated clients")
	runFor := flag.Duration("for", 20*time.Second, "how long to run the demo before shutting down")
	settingsDB := flag.String("settings-db", "", "path prefix for a sqlite-backed settings store per client (default: in-memory)")
	flag.Parse()

	if err := run(*numClients, *runFor, *settingsDB); err != nil {
		log.Fatalf("syncplay-demo: %v", err)
	}
}

func run(numClients int, runFor time.Duration, settingsDB string) error {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	addr := listener.Addr().String()

	hub := relay.NewHub()
	server := relay.NewServer(hub)
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", server.Handler())
	httpServer := &http.Server{Handler: mux}

	ctx, cancel := context.WithTimeout(context.Background(), runFor)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run()
		return nil
	})
	g.Go(func() error {
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer shutdownCancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	groupID := protocol.NewPeerID()
	for i := 0; i < numClients; i++ {
		i := i
		g.Go(func() error {
			return runClient(gctx, addr, groupID, i, settingsDB)
		})
	}

	if err := g.Wait(); err != nil && err != context.DeadlineExceeded {
		return err
	}
	return nil
}

func runClient(ctx context.Context, addr, groupID string, index int, settingsDB string) error {
	clientID := protocol.NewPeerID()
	url := fmt.Sprintf("ws://%s/ws?group=%s&client=%s", addr, groupID, clientID)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("client %d: dial: %w", index, err)
	}
	defer conn.Close()

	transport := newClientTransport(clientID, conn)

	loop := eventloop.New()
	go loop.Run()
	defer loop.Stop()
	fp := newFakePlayer()
	localAdapter := player.NewLocal(loop, fp)

	store, err := openSettingsStore(settingsDB, index)
	if err != nil {
		return fmt.Errorf("client %d: %w", index, err)
	}

	coord := syncplaypkg.New(syncplaypkg.Dependencies{
		Transport:     transport,
		Player:        localAdapter,
		QueueOriginal: noopQueueManager{},
		ItemLookup:    noopItemLookup{},
		PlaylistView:  noopPlaylistView{},
		SettingsStore: store,
	})
	defer coord.Stop()

	transport.SetOnUpdate(func(u protocol.GroupUpdate) {
		coord.HandleGroupUpdate(context.Background(), u)
	})

	log.Printf("[demo] client %d (%s) joined group %s", index, clientID, groupID)

	<-ctx.Done()
	return nil
}

// openSettingsStore returns an in-memory store when dbPathPrefix is
// empty, otherwise a sqlite-backed store at "<prefix>.client<index>.db"
// so each simulated client persists its own settings row.
func openSettingsStore(dbPathPrefix string, index int) (settings.Store, error) {
	if dbPathPrefix == "" {
		return settings.NewMemStore(), nil
	}
	path := fmt.Sprintf("%s.client%d.db", dbPathPrefix, index)
	store, err := settings.OpenSQLiteStore(path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite settings store %s: %w", path, err)
	}
	return store, nil
}

// --- no-op application-side collaborators ---

type noopQueueManager struct{}

func (noopQueueManager) Play(ctx context.Context, itemIDs []string, startIndex int, positionTicks protocol.Ticks) error {
	return nil
}
func (noopQueueManager) SetCurrentPlaylistItem(ctx context.Context, playlistItemID string) error {
	return nil
}
func (noopQueueManager) RemoveFromPlaylist(ctx context.Context, playlistItemIDs []string) error {
	return nil
}
func (noopQueueManager) MovePlaylistItem(ctx context.Context, playlistItemID string, newIndex int) error {
	return nil
}
func (noopQueueManager) Queue(ctx context.Context, itemIDs []string, mode protocol.QueueMode) error {
	return nil
}
func (noopQueueManager) QueueNext(ctx context.Context, itemIDs []string) error { return nil }
func (noopQueueManager) NextTrack(ctx context.Context) error                  { return nil }
func (noopQueueManager) PreviousTrack(ctx context.Context) error              { return nil }
func (noopQueueManager) SetRepeatMode(ctx context.Context, mode protocol.RepeatMode) error {
	return nil
}
func (noopQueueManager) SetShuffleMode(ctx context.Context, mode protocol.ShuffleMode) error {
	return nil
}
func (noopQueueManager) ToggleShuffleMode(ctx context.Context) error { return nil }

type noopItemLookup struct{}

func (noopItemLookup) ResolveItems(ctx context.Context, itemIDs []string) error { return nil }

type noopPlaylistView struct{}

func (noopPlaylistView) SetPlaylist(items []protocol.PlaylistItem, currentIndex int) {}
func (noopPlaylistView) SetCurrentPlaylistItem(playlistItemID string)                {}
func (noopPlaylistView) SetRepeatMode(mode protocol.RepeatMode)                      {}
func (noopPlaylistView) SetShuffleMode(mode protocol.ShuffleMode)                    {}

var _ queuemirror.QueueManager = noopQueueManager{}
var _ queuemirror.ItemLookup = noopItemLookup{}
var _ queuemirror.PlaylistView = noopPlaylistView{}
