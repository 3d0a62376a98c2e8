package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/teamroom/internal/adapters/api"
	"github.com/dkeye/teamroom/internal/adapters/identity"
	"github.com/dkeye/teamroom/internal/adapters/push"
	"github.com/dkeye/teamroom/internal/adapters/store"
	"github.com/dkeye/teamroom/internal/config"
	"github.com/dkeye/teamroom/internal/core"
	"github.com/dkeye/teamroom/internal/session"
)

const redisSlotTTL = 24 * time.Hour

var errQuit = errors.New("quit")

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	flags := config.ClientFlags()
	if err := flags.Parse(os.Args[1:]); err != nil {
		log.Fatal().Err(err).Msg("bad flags")
	}
	cfg, err := config.LoadClient(flags)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	if err := run(ctx, cfg); err != nil && !errors.Is(err, errQuit) && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("teamroom stopped")
	}
}

func run(ctx context.Context, cfg *config.Client) error {
	client := api.New(cfg.APIURL, cfg.Token, &http.Client{})
	if client.Token() == "" && cfg.Email != "" {
		token, err := client.Login(ctx, cfg.Email, cfg.Password)
		if err != nil {
			return fmt.Errorf("login: %w", err)
		}
		client = client.WithToken(token)
	}

	slot, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	out := bufio.NewWriter(os.Stdout)
	printer := &printer{w: out}
	mgr := session.NewManager(
		client,
		push.NewDialer(cfg.WSURL),
		slot,
		identity.New(client, client.Token()),
		session.Options{
			PollInterval: cfg.PollInterval,
			LeaveGuard:   cfg.LeaveGuard,
			HistoryLimit: cfg.HistoryLimit,
			AvatarBase:   cfg.AvatarBase,
			Notify:       printer.notice,
		},
	)
	defer mgr.Close()

	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	if mgr.Me() == nil {
		return errors.New("not logged in: set token or email/password")
	}
	printer.linef("Signed in as %s. Type /help for commands.", mgr.Me().Username)

	lines := make(chan string)
	go scan(os.Stdin, lines)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return commandLoop(gctx, mgr, printer, lines) })
	g.Go(func() error { return watch(gctx, mgr, printer) })
	return g.Wait()
}

func openStore(cfg *config.Client) (core.RoomStore, func(), error) {
	switch cfg.Store {
	case config.StoreRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return store.NewRedisStore(rdb, cfg.RedisKey, redisSlotTTL), func() { _ = rdb.Close() }, nil
	case config.StoreMemory:
		return store.NewMemoryStore(), func() {}, nil
	case config.StoreFile:
		return store.NewFileStore(afero.NewOsFs(), cfg.StorePath), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown store %q", cfg.Store)
}

// scan feeds stdin lines to out and closes it at EOF. Reading stdin cannot
// be interrupted, so it lives outside the errgroup.
func scan(r io.Reader, out chan<- string) {
	defer close(out)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		out <- sc.Text()
	}
}

func commandLoop(ctx context.Context, mgr *session.Manager, p *printer, lines <-chan string) error {
	for {
		var line string
		select {
		case <-ctx.Done():
			return ctx.Err()
		case l, ok := <-lines:
			if !ok {
				return errQuit
			}
			line = strings.TrimSpace(l)
		}
		if line == "" {
			continue
		}
		if err := handle(ctx, mgr, p, line); err != nil {
			return err
		}
	}
}

func handle(ctx context.Context, mgr *session.Manager, p *printer, line string) error {
	if !strings.HasPrefix(line, "/") {
		if !mgr.SendMessage(line) {
			p.linef("! not connected to a room, message dropped")
		}
		return nil
	}

	switch cmd := strings.Fields(line)[0]; cmd {
	case "/find":
		if err := mgr.StartMatchmaking(ctx); err != nil {
			p.linef("! %s", err)
		}
	case "/cancel":
		mgr.CancelMatchmaking(ctx)
		p.linef("Search cancelled.")
	case "/leave":
		mgr.Leave(ctx)
		p.linef("Left the room.")
	case "/end":
		if err := mgr.EndSession(ctx); err != nil {
			p.linef("! %s", err)
		}
	case "/history":
		p.history(mgr.RefreshHistory(ctx))
	case "/who":
		p.room(mgr.View())
	case "/quit":
		return errQuit
	case "/help":
		p.linef("/find /cancel /leave /end /history /who /quit; other lines are sent as chat")
	default:
		p.linef("! unknown command %s", cmd)
	}
	return nil
}

// watch prints room changes and new chat lines as the manager folds them.
func watch(ctx context.Context, mgr *session.Manager, p *printer) error {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	var (
		state   = mgr.State()
		channel core.ChannelStatus
		seen    int64
	)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		v := mgr.View()
		if v.NewMatch && v.Room != nil {
			p.room(v)
			mgr.AcknowledgeMatch()
		}
		if v.State != state {
			log.Debug().Str("module", "cli").Str("from", string(state)).Str("to", string(v.State)).Msg("state changed")
			state = v.State
		}
		if v.Channel != channel {
			if v.Room != nil {
				p.linef("~ chat %s", v.Channel)
			}
			channel = v.Channel
		}
		if len(v.Messages) == 0 {
			seen = 0
		}
		for _, m := range v.Messages {
			if m.ID > seen {
				p.linef("[%s] %s", m.Username, m.Text)
				seen = m.ID
			}
		}
	}
}
