package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/haukened/pac-server/internal/pac/common/log"
	"github.com/haukened/pac-server/internal/pac/config"
	"github.com/haukened/pac-server/internal/pac/domain"
	"github.com/haukened/pac-server/internal/pac/repos/artifact"
	"github.com/haukened/pac-server/internal/pac/repos/source"
	"github.com/haukened/pac-server/internal/pac/repos/suffix"
	"github.com/haukened/pac-server/internal/pac/services/compiler"
)

const appName = "gfwlist2pac"

type options struct {
	gfwlist   string
	output    string
	proxy     string
	userRule  string
	precise   bool
	noBuiltin bool
	suffixes  string
	timeout   time.Duration
	verbose   bool
}

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func parseArgs(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVarP(&o.gfwlist, "gfwlist", "i", config.DEFAULT_APP_CONFIG.PAC.Source, "path or URL of the gfwlist")
	fs.StringVarP(&o.output, "output", "o", "", "path of the PAC file to write; \"-\" writes to stdout")
	fs.StringVarP(&o.proxy, "proxy", "p", config.DEFAULT_APP_CONFIG.PAC.Proxy, "proxy directive placed in the PAC file, e.g. \"SOCKS5 127.0.0.1:1080;\"")
	fs.StringVar(&o.userRule, "user-rule", "", "path or URL of a user rule file appended to the gfwlist")
	fs.BoolVar(&o.precise, "precise", false, "match full adblock plus rules instead of the O(1) domain lookup")
	fs.BoolVar(&o.noBuiltin, "no-builtin", false, "do not append the bundled rules")
	fs.StringVar(&o.suffixes, "suffix-source", suffix.SourceEmbedded, "public suffix table: embedded, publicsuffix or a file path")
	fs.DurationVar(&o.timeout, "timeout", source.DefaultTimeout, "fetch timeout")
	fs.BoolVarP(&o.verbose, "verbose", "v", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.output == "" {
		return o, errors.New("--output is required")
	}
	if o.gfwlist == "" {
		return o, errors.New("--gfwlist must not be empty")
	}
	return o, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	o, err := parseArgs(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", appName, err)
		return 2
	}

	level := "warn"
	if o.verbose {
		level = "debug"
	}
	if err := log.Configure("dev", level); err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", appName, err)
		return 1
	}

	script, err := compile(ctx, o)
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", appName, err)
		return 1
	}

	if o.output == "-" {
		_, err = stdout.Write(script)
	} else {
		err = writeFile(o.output, script)
	}
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", appName, err)
		return 1
	}
	return 0
}

func compile(ctx context.Context, o options) ([]byte, error) {
	logger := log.GetLogger()

	table, err := suffix.Open(o.suffixes)
	if err != nil {
		return nil, err
	}
	reducer, err := compiler.NewReducer(table, 0)
	if err != nil {
		return nil, err
	}
	c := compiler.New(compiler.Options{
		Loader:  source.NewLoader(source.Options{Timeout: o.timeout, Logger: logger}),
		Reducer: reducer,
		Logger:  logger,
	})

	res, err := c.Compile(ctx, compiler.Request{
		Source:         o.gfwlist,
		UserRuleSource: o.userRule,
		Builtin:        !o.noBuiltin,
		Mode:           domain.ModeOf(o.precise),
		Proxy:          o.proxy,
	})
	if err != nil {
		return nil, err
	}
	return res.Script, nil
}

// writeFile replaces path atomically through an artifact dir rooted at its parent.
func writeFile(path string, data []byte) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	dir, err := artifact.NewDir(filepath.Dir(abs))
	if err != nil {
		return err
	}
	return dir.Write(filepath.Base(abs), data)
}
