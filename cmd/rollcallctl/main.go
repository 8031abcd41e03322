package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/danmuck/rollcall/internal/config"
	"github.com/danmuck/rollcall/internal/observability"
	"github.com/danmuck/rollcall/internal/reconcile"
	"github.com/danmuck/rollcall/internal/rollcall"
)

var (
	errUsage    = errors.New("usage: rollcallctl <serve|check> [flags]")
	errMismatch = errors.New("headcount does not match scanned count")
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "rollcallctl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	switch strings.ToLower(args[0]) {
	case "serve":
		return serve(args[1:])
	case "check":
		return check(args[1:], stdout)
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
	}
}

type commonFlags struct {
	config  string
	envFile string
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.config, "config", "", "path to a rollcall TOML config")
	fs.StringVar(&c.envFile, "env-file", ".env", "optional dotenv file")
}

func (c *commonFlags) load() (config.Config, error) {
	return config.Load(config.LoadOptions{Path: c.config, EnvFile: c.envFile})
}

func serve(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	var common commonFlags
	common.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := common.load()
	if err != nil {
		return err
	}
	observability.InitLogger("rollcallctl")
	svc, err := rollcall.NewService(cfg)
	if err != nil {
		return err
	}
	return svc.Run()
}

func check(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	var common commonFlags
	common.register(fs)
	session := fs.String("session", "", "class session id (default: the current class)")
	imagePath := fs.String("image", "", "classroom photo to count")
	strict := fs.Bool("strict", false, "exit non-zero when the counts differ")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := common.load()
	if err != nil {
		return err
	}

	var image []byte
	if p := strings.TrimSpace(*imagePath); p != "" {
		image, err = os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("read image: %w", err)
		}
	}

	svc, err := rollcall.NewService(cfg)
	if err != nil {
		return err
	}
	res, err := svc.Check(context.Background(), strings.TrimSpace(*session), image, stdout)
	if err != nil {
		return err
	}
	if *strict && res.Status == reconcile.StatusMismatch {
		return errMismatch
	}
	return nil
}
