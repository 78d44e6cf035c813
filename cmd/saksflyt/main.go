// Command saksflyt runs the case-processing orchestrator and inspects its
// state.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/petrijr/saksflyt/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		code := exitCode(err)
		if code == exitRejected {
			fmt.Fprintln(os.Stderr, err)
		} else {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(code)
	}
}

// Exit statuses. A refused caseworker operation is not a failure of the
// tool itself.
const (
	exitError    = 1
	exitRejected = 2
)

func exitCode(err error) int {
	var rej *rejectedError
	if errors.As(err, &rej) {
		return exitRejected
	}
	return exitError
}

// cli carries the state shared by every subcommand.
type cli struct {
	v       *viper.Viper
	out     io.Writer
	logOut  io.Writer
	cfgFile string
	output  string
}

func newRootCmd(out, logOut io.Writer) *cobra.Command {
	c := &cli{v: config.New(), out: out, logOut: logOut}

	root := &cobra.Command{
		Use:   "saksflyt",
		Short: "Event-driven case processing",
		Long: `saksflyt consumes domain events from a message bus and drives each one
through a pipeline of steps. Steps that need outside information publish a
need (behov) and suspend; the event resumes when a solution (løsning) arrives.

Settings come from --config, SAKSFLYT_* environment variables and flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	c.addPersistentFlags(root)

	root.AddCommand(c.serveCmd())
	root.AddCommand(c.publishCmd())
	root.AddCommand(c.statusCmd())
	root.AddCommand(c.listCmd())
	root.AddCommand(c.historyCmd())
	root.AddCommand(c.auditCmd())
	root.AddCommand(c.caseCmd())
	root.AddCommand(c.configCmd())
	return root
}

func (c *cli) addPersistentFlags(root *cobra.Command) {
	pf := root.PersistentFlags()
	pf.StringVarP(&c.cfgFile, "config", "c", "", "YAML config file")
	pf.StringVarP(&c.output, "output", "o", "table", "output format: table, json or yaml")
	pf.String("log-level", "info", "log level")
	pf.String("log-format", "text", "log format: text or json")
	pf.String("store-driver", "memory", "event store: memory, sqlite, postgres, redis or mongo")
	pf.String("store-dsn", "", "event store DSN")
	pf.String("bus-driver", "memory", "message bus: memory, sqlite or redis")
	pf.String("bus-dsn", "", "message bus DSN")
	pf.String("casework-driver", "memory", "casework store: memory, sqlite or postgres")
	pf.String("casework-dsn", "", "casework store DSN")
	pf.String("redis-addr", "localhost:6379", "Redis address")

	for key, flag := range map[string]string{
		"log.level":       "log-level",
		"log.format":      "log-format",
		"store.driver":    "store-driver",
		"store.dsn":       "store-dsn",
		"bus.driver":      "bus-driver",
		"bus.dsn":         "bus-dsn",
		"casework.driver": "casework-driver",
		"casework.dsn":    "casework-dsn",
		"redis.addr":      "redis-addr",
	} {
		_ = c.v.BindPFlag(key, pf.Lookup(flag))
	}
}

func (c *cli) load() (config.Config, error) {
	return config.Load(c.v, c.cfgFile)
}

// withApp opens the configured backends, runs fn and closes them again.
func (c *cli) withApp(ctx context.Context, fn func(ctx context.Context, a *app) error) error {
	cfg, err := c.load()
	if err != nil {
		return err
	}
	a, err := openApp(ctx, cfg, newLogger(cfg, c.logOut))
	if err != nil {
		return err
	}
	err = fn(ctx, a)
	if cerr := a.Close(context.WithoutCancel(ctx)); err == nil {
		err = cerr
	}
	return err
}
