package main

import (
	"context"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/docopt/docopt-go"
	"go.uber.org/zap"

	"notify-sync-client/config"
	"notify-sync-client/internal/db"
	"notify-sync-client/internal/poller"
	"notify-sync-client/internal/publish"
	"notify-sync-client/internal/store"
	"notify-sync-client/internal/subscription"
	"notify-sync-client/internal/topic"
)

const NotifyCtlVersion = "0.1.0"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := `Notify sync control.

Credentials and the default server come from the config file; the local
store named there is used for poll.

Usage:
    notifyctl publish [--config=<path>] [--base_url=<url>]
        [--title=<title>] [--tags=<tags>] [--priority=<priority>]
        [--click=<url>] [--delay=<delay>] [--markdown]
        <topic> <message>
    notifyctl poll [--config=<path>] [--base_url=<url>] <topic>
    notifyctl -h | --help
    notifyctl --version

Options:
    -h --help                Show this screen.
    --version                Show version.
    --config=<path>          Config file [default: ./config/config.yaml].
    --base_url=<url>         Server, defaults to the configured default server.
    --title=<title>          Message title.
    --tags=<tags>            Comma separated tags.
    --priority=<priority>    Priority 1-5.
    --click=<url>            URL opened when the notification is clicked.
    --delay=<delay>          Deliver later, e.g. 30m or tomorrow 10am.
    --markdown               Render the message as markdown.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], NotifyCtlVersion)
	if err != nil {
		panic(err)
	}

	if publish_, _ := opts.Bool("publish"); publish_ {
		publishMessage(opts)
	} else if poll_, _ := opts.Bool("poll"); poll_ {
		pollTopic(opts)
	}
}

type env struct {
	cfg   *config.Config
	store store.Store
}

func openEnv(opts docopt.Opts) *env {
	path, _ := opts.String("--config")
	cfg, err := config.Load(path)
	if err != nil {
		Err.Fatalf("failed to load configuration from %s: %v", path, err)
	}
	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		Err.Fatalf("failed to open local store: %v", err)
	}
	return &env{cfg: cfg, store: store.NewGormStore(gormDB)}
}

func (e *env) baseURL(opts docopt.Opts) string {
	if u, _ := opts.String("--base_url"); u != "" {
		return u
	}
	return e.cfg.Client.DefaultBaseURL
}

func publishMessage(opts docopt.Opts) {
	e := openEnv(opts)

	t, _ := opts.String("<topic>")
	message, _ := opts.String("<message>")
	req := publish.Request{
		BaseURL: e.baseURL(opts),
		Topic:   t,
		Message: message,
	}
	req.Title, _ = opts.String("--title")
	req.Click, _ = opts.String("--click")
	req.Delay, _ = opts.String("--delay")
	req.Markdown, _ = opts.Bool("--markdown")
	if tags, _ := opts.String("--tags"); tags != "" {
		req.Tags = strings.Split(tags, ",")
	}
	if p, _ := opts.String("--priority"); p != "" {
		priority, err := strconv.Atoi(p)
		if err != nil {
			Err.Fatalf("invalid priority %q", p)
		}
		req.Priority = priority
	}

	m, err := publish.New(e.store).Publish(context.Background(), req)
	if err != nil {
		Err.Fatalf("publish failed: %v", err)
	}
	Out.Printf("%s %d %s", m.ID, m.Time, m.Topic)
}

// pollTopic subscribes locally if needed and catches up once.
func pollTopic(opts docopt.Opts) {
	e := openEnv(opts)
	ctx := context.Background()
	logger := zap.NewNop().Sugar()

	subs := subscription.NewManager(e.store, nil, e.cfg.Client.DefaultBaseURL, logger)
	t, _ := opts.String("<topic>")
	sub, err := subs.Add(ctx, e.baseURL(opts), t, subscription.Options{})
	if err != nil {
		Err.Fatalf("subscribe failed: %v", err)
	}

	svc := poller.NewService(e.cfg.Poller, subs, e.store, logger)
	count, err := svc.Poll(ctx, *sub)
	if err != nil {
		Err.Fatalf("poll failed: %v", err)
	}

	ns, err := subs.Notifications(ctx, sub.ID)
	if err != nil {
		Err.Fatalf("failed to read notifications: %v", err)
	}
	if count > len(ns) {
		count = len(ns)
	}
	for i := count - 1; i >= 0; i-- {
		n := ns[i]
		if n.Title != "" {
			Out.Printf("%d [%d] %s: %s", n.Time, n.Priority, n.Title, n.Message)
		} else {
			Out.Printf("%d [%d] %s", n.Time, n.Priority, n.Message)
		}
	}
	Out.Printf("%d new notification(s) on %s", count, topic.URL(sub.BaseURL, sub.Topic))
}
