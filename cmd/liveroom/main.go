// Liveroom terminal client: connects to a room server, joins avatar roles,
// streams their speech and lets the user chat by text or voice.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/kaiyuanliu/liveroom/internal/api"
	"github.com/kaiyuanliu/liveroom/internal/bus"
	"github.com/kaiyuanliu/liveroom/internal/config"
	"github.com/kaiyuanliu/liveroom/internal/discovery"
	"github.com/kaiyuanliu/liveroom/internal/logging"
	"github.com/kaiyuanliu/liveroom/internal/playback"
	"github.com/kaiyuanliu/liveroom/internal/prefs"
	"github.com/kaiyuanliu/liveroom/internal/room"
)

func main() {
	loadEnvFiles()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
	}

	logger, closeLog, err := logging.New(&logging.Config{
		LogDir:  defaultLogDir(),
		Level:   logging.LevelInfo,
		Console: false, // keep the prompt clean, logs go to file
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	prefsPath, err := prefs.DefaultPath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "prefs: %v\n", err)
		os.Exit(1)
	}
	store, err := prefs.Open(prefsPath, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "prefs: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	events := bus.NewEventBus()
	subscribeConsole(events)

	var sink playback.Sink
	ffplay, err := playback.NewFFPlaySink(cfg.Playback.SampleRate)
	if err != nil {
		fmt.Printf("audio playback disabled: %v\n", err)
		sink = playback.NopSink{}
	} else {
		sink = ffplay
		defer ffplay.Close()
	}

	session := room.NewSession(room.SessionOptions{
		Config: cfg,
		Logger: logger,
		Events: events,
		Sink:   sink,
		Roles:  store,
	})
	defer session.Close()

	rest := api.NewClient(&api.ClientConfig{
		BaseURL: cfg.Server.BaseURL(),
		Timeout: cfg.Server.HTTPTimeout,
	}, logger)

	fmt.Printf("liveroom client, server %s (type 'help')\n", cfg.Server.Addr())
	runLoop(session, rest, store)
}

// subscribeConsole prints user-facing signals on top of the prompt.
func subscribeConsole(events *bus.EventBus) {
	events.Subscribe(bus.EventTypeConnected, func(bus.Event) {
		fmt.Println("\n[connected]")
	})
	events.Subscribe(bus.EventTypeDisconnected, func(bus.Event) {
		fmt.Println("\n[disconnected]")
	})
	events.Subscribe(bus.EventTypeReconnecting, func(e bus.Event) {
		fmt.Printf("\n[reconnecting, attempt %v]\n", e.Data["attempt"])
	})
	events.Subscribe(bus.EventTypeNotice, func(e bus.Event) {
		fmt.Printf("\n[notice] %v\n", e.Data["message"])
	})
	events.Subscribe(bus.EventTypeRoleStatusChanged, func(e bus.Event) {
		fmt.Printf("\n[role] %v: %v\n", e.Data["role"], e.Data["status"])
	})
	events.Subscribe(bus.EventTypeSubtitleChanged, func(e bus.Event) {
		fmt.Printf("\n%v: %v\n", e.Data["sender"], e.Data["subtitle"])
	})
}

func runLoop(session *room.Session, rest *api.Client, store *prefs.Store) {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		cmd, arg, _ := strings.Cut(line, " ")
		arg = strings.TrimSpace(arg)

		switch cmd {
		case "help":
			printHelp()
		case "connect":
			if err := session.Connect(); err != nil {
				fmt.Printf("connect failed: %v\n", err)
			}
		case "disconnect":
			_ = session.Disconnect()
		case "join":
			if arg == "" {
				fmt.Println("usage: join <role>")
				continue
			}
			_ = store.SetRoleEnabled(arg, true)
			session.JoinRole(arg)
		case "exit":
			if arg == "" {
				fmt.Println("usage: exit <role>")
				continue
			}
			_ = store.SetRoleEnabled(arg, false)
			session.ExitRole(arg)
		case "roles":
			for role, status := range session.RoleStatuses() {
				fmt.Printf("  %s: %s\n", role, status)
			}
		case "say":
			if arg == "" {
				fmt.Println("usage: say <message>")
				continue
			}
			if err := session.SendText(arg); err != nil {
				fmt.Printf("not sent: %v\n", err)
			}
		case "call":
			if err := session.StartCall(); err != nil {
				fmt.Printf("call failed: %v\n", err)
			}
		case "stop":
			if err := session.StopCall(); err != nil {
				fmt.Printf("stop failed: %v\n", err)
			}
		case "interrupt":
			session.Interrupt()
		case "chat":
			for _, e := range session.Chat().Entries() {
				fmt.Printf("  %s: %s\n", e.Name, e.Content)
			}
		case "sessions":
			listSessions(rest)
		case "discover":
			for _, srv := range discovery.NewService(nil).Scan() {
				auth := ""
				if srv.RequiresAuth {
					auth = " (login required)"
				}
				fmt.Printf("  %s  %dms%s\n", srv.URL, srv.Latency, auth)
			}
		case "use":
			if arg == "" {
				fmt.Println("usage: use <session-id>")
				continue
			}
			session.SetSession(arg)
			fmt.Printf("active session: %s\n", arg)
		case "login":
			login(rest, arg)
		case "quit", "q":
			return
		default:
			fmt.Printf("unknown command %q, type 'help'\n", cmd)
		}
	}
}

func listSessions(rest *api.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	convs, err := rest.Conversations(ctx)
	if err != nil {
		fmt.Printf("list failed: %v\n", err)
		return
	}
	for _, c := range convs {
		fmt.Printf("  %s  %s\n", c.ID, c.Name)
	}
}

func login(rest *api.Client, arg string) {
	user, pass, ok := strings.Cut(arg, " ")
	if !ok {
		fmt.Println("usage: login <user> <password>")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	info, err := rest.Login(ctx, user, pass)
	if err != nil {
		fmt.Printf("login failed: %v\n", err)
		return
	}
	fmt.Printf("logged in as %s\n", info.UserName)
}

func printHelp() {
	fmt.Println(`commands:
  connect / disconnect    open or close the room link
  join <role>             add a character to the room
  exit <role>             remove a character
  roles                   show role join status
  say <message>           send a chat message
  call / stop             start or stop a voice call
  interrupt               cut off the current speech
  chat                    print the conversation log
  sessions                list stored conversations
  discover                probe local ports for room servers
  use <session-id>        select the active conversation
  login <user> <pass>     authenticate against the server
  quit`)
}

// loadEnvFiles pulls overrides from ~/.liveroom/.env and ./.env into the
// process environment before viper reads it.
func loadEnvFiles() {
	var paths []string
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".liveroom", ".env"))
	}
	paths = append(paths, ".env")
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
		}
	}
}

func defaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "logs"
	}
	return filepath.Join(home, ".liveroom", "logs")
}
