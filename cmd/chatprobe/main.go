// chatprobe is an interactive terminal client for the assistant channel.
// It connects one thread, renders the conversation, and shows reconnect
// behavior live, which makes it the quickest way to poke at a backend.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"github.com/codefionn/marktkanal/internal/backoff"
	"github.com/codefionn/marktkanal/internal/channel"
	"github.com/codefionn/marktkanal/internal/config"
	"github.com/codefionn/marktkanal/internal/fallback"
	"github.com/codefionn/marktkanal/internal/history"
	"github.com/codefionn/marktkanal/internal/logger"
	"github.com/codefionn/marktkanal/internal/netmon"
	"github.com/codefionn/marktkanal/internal/token"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() (err error) {
	var (
		flagConfig = flag.String("config", "", "config file path (default ~/.config/marktkanal/config.json)")
		flagBase   = flag.String("base", "", "backend base URL, overrides config")
		flagThread = flag.String("thread", "", "thread id (default: a fresh one)")
		flagCID    = flag.String("cid", "", "conversation id")
		flagToken  = flag.String("token", "", "bearer token (default: MARKTKANAL_TOKEN)")
		flagLang   = flag.String("lang", "", "message language, overrides config")
	)
	flag.Parse()

	cfgPath := *flagConfig
	if cfgPath == "" {
		if cfgPath, err = config.DefaultPath(); err != nil {
			return err
		}
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if *flagBase != "" {
		cfg.BaseURL = *flagBase
	}
	if *flagLang != "" {
		cfg.Language = *flagLang
	}

	if err := logger.Init(logger.ParseLevel(cfg.LogLevel), cfg.LogPath); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		if err != nil {
			logger.Error("Fatal error: %v", err)
		}
		if closeErr := logger.Global().Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close logger: %v\n", closeErr)
		}
	}()

	cred := *flagToken
	if cred == "" {
		cred = os.Getenv("MARKTKANAL_TOKEN")
	}
	if cred == "" {
		return fmt.Errorf("no bearer token: pass -token or set MARKTKANAL_TOKEN")
	}
	tokens := token.NewStatic(cred)
	defer tokens.Destroy()

	threadID := *flagThread
	if threadID == "" {
		threadID = uuid.New().String()
	}

	probeAddr, err := probeAddress(cfg.BaseURL)
	if err != nil {
		return err
	}
	probe := netmon.NewProbe(probeAddr, 10*time.Second)
	probe.Start()
	defer probe.Stop()

	var store *history.Store
	if cfg.HistoryPath != "" {
		if store, err = history.Open(cfg.HistoryPath); err != nil {
			return fmt.Errorf("failed to open transcript store: %w", err)
		}
		defer store.Close()
	}

	ch, err := channel.New(channel.Options{
		BaseURL:        cfg.BaseURL,
		ThreadID:       threadID,
		ConversationID: *flagCID,
		Language:       cfg.Language,
		Tokens:         tokens,
		Network:        probe,
		Fallback:       fallback.NewClient(cfg.BaseURL, cfg.RequestTimeout()),
		History:        store,
		Backoff: backoff.Policy{
			Base:        cfg.BackoffBase(),
			Max:         cfg.BackoffMax(),
			MaxAttempts: cfg.MaxReconnectAttempts,
		},
		KeepAlive:      cfg.KeepAlive(),
		RequestTimeout: cfg.RequestTimeout(),
		DedupWindow:    cfg.DedupWindow,
	})
	if err != nil {
		return err
	}
	defer ch.Close()

	recent, err := recentEntries(store, threadID)
	if err != nil {
		logger.Warn("failed to load transcript: %v", err)
	}

	p := tea.NewProgram(newModel(ch, recent), tea.WithAltScreen())

	ch.SetMessageCallback(func(m channel.Message) { p.Send(assistantMsg(m)) })
	ch.SetStatusCallback(func(s channel.Status) { p.Send(statusMsg(s)) })
	ch.SetTypingCallback(func(active bool) { p.Send(typingMsg(active)) })
	ch.SetErrorCallback(func(e *channel.ChannelError) { p.Send(channelErrMsg{err: e}) })

	// Connect from a goroutine: the callbacks push into the program, which
	// only drains once Run is going.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := ch.Connect(ctx); err != nil {
			logger.Warn("initial connect failed, retry handling takes over: %v", err)
		}
	}()

	_, err = p.Run()
	return err
}

// probeAddress derives the host:port the network monitor dials.
func probeAddress(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("base URL %q has no host", base)
	}
	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "https", "wss":
			port = "443"
		default:
			port = "80"
		}
	}
	return host + ":" + port, nil
}

func recentEntries(store *history.Store, threadID string) ([]chatEntry, error) {
	if store == nil {
		return nil, nil
	}
	rows, err := store.Recent(threadID, 50)
	if err != nil {
		return nil, err
	}
	entries := make([]chatEntry, 0, len(rows))
	for _, row := range rows {
		role := "assistant"
		if row.Role == history.RoleUser {
			role = "you"
		}
		entries = append(entries, chatEntry{
			role:      role,
			text:      row.Text,
			timestamp: row.CreatedAt.Local().Format("15:04"),
		})
	}
	return entries, nil
}
