package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/dustin/go-humanize"
	"github.com/facebookincubator/go-belt"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/facebookincubator/go-belt/tool/logger/implementation/logrus"
	"github.com/spf13/pflag"
	"github.com/xaionaro-go/avcomponent/codec"
	"github.com/xaionaro-go/avcomponent/codecbridge/libav"
	"github.com/xaionaro-go/avcomponent/codecbridge/loopback"
	"github.com/xaionaro-go/avcomponent/component"
	"github.com/xaionaro-go/avcomponent/config"
	"github.com/xaionaro-go/avcomponent/types"
	"github.com/xaionaro-go/observability"
)

func main() {
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "syntax: %s [flags] <input-file> <output-file>\n", os.Args[0])
		pflag.PrintDefaults()
	}

	loggerLevel := logger.LevelWarning
	pflag.Var(&loggerLevel, "log-level", "Log level (overrides the config)")
	configPath := pflag.String("config", "", "path to the YAML config; the defaults are used if empty")
	printConfig := pflag.Bool("print-config", false, "print the effective config and exit")
	chunkSizeString := pflag.String("chunk-size", "64KiB", "the amount of input data per input buffer")
	timestampStep := pflag.Duration("timestamp-step", time.Second/30, "the timestamp increment per input buffer")
	statsInterval := pflag.Duration("stats-interval", time.Second, "how often to print the statistics; zero disables")
	netPprofAddr := pflag.String("net-pprof-listen-addr", "", "an address to listen for incoming net/pprof connections")
	pflag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.ReadFile(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	if pflag.CommandLine.Changed("log-level") {
		cfg.LogLevel = loggerLevel.String()
	} else {
		var err error
		loggerLevel, err = cfg.Level()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	if *printConfig {
		if _, err := cfg.WriteTo(os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}
	if len(pflag.Args()) != 2 {
		pflag.Usage()
		os.Exit(1)
	}

	l := logrus.Default().WithLevel(loggerLevel)
	ctx := logger.CtxWithLogger(context.Background(), l)
	ctx, cancelFn := context.WithCancel(ctx)
	defer cancelFn()
	logger.Default = func() logger.Logger {
		return l
	}
	defer belt.Flush(ctx)

	if *netPprofAddr != "" {
		observability.Go(ctx, func(ctx context.Context) { l.Error(http.ListenAndServe(*netPprofAddr, nil)) })
	}

	libav.RedirectLogs(ctx)
	l.Debugf("config: %s", spew.Sdump(cfg))

	chunkSize, err := humanize.ParseBytes(*chunkSizeString)
	if err != nil {
		l.Fatalf("unable to parse the chunk size '%s': %v", *chunkSizeString, err)
	}

	inputPath, outputPath := pflag.Arg(0), pflag.Arg(1)
	l.Debugf("opening '%s' as the input...", inputPath)
	input, err := os.Open(inputPath)
	if err != nil {
		l.Fatal(err)
	}
	defer input.Close()

	l.Debugf("opening '%s' as the output...", outputPath)
	output, err := os.Create(outputPath)
	if err != nil {
		l.Fatal(err)
	}
	defer output.Close()

	bridge, err := newBridge(ctx, cfg.Bridge, cfg.Component.Name)
	if err != nil {
		l.Fatal(err)
	}
	c, err := component.New(ctx, cfg.Component.Name, bridge, cfg.Component.Options()...)
	if err != nil {
		l.Fatal(err)
	}
	defer c.Close(ctx)

	var header []byte
	if kind, _, _ := cfg.Component.Name.Parse(); kind == codec.KindDecoder && cfg.Bridge.Kind == config.BridgeKindLoopback {
		header = loopback.EncodeHeader(c.Port(types.PortIndexOutput).Definition(ctx).Video.Geometry)
	}
	s := newSession(c, output, header)
	if err := s.SetCodecParameters(ctx, cfg.Component.CodecParameters); err != nil {
		l.Fatal(err)
	}

	if *statsInterval > 0 {
		observability.Go(ctx, func(ctx context.Context) {
			t := time.NewTicker(*statsInterval)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
					printStats(ctx, c, s)
				}
			}
		})
	}

	if err := s.Run(ctx, input, uint32(chunkSize), *timestampStep); err != nil {
		l.Fatal(err)
	}
	printStats(ctx, c, s)
}

func printStats(ctx context.Context, c *component.Component, s *session) {
	statsJSON, err := json.Marshal(c.GetStatistics(ctx))
	if err != nil {
		logger.Error(ctx, err)
		return
	}
	fmt.Printf(
		"%s: written:%s frames:%d stats:%s\n",
		c.GetState(ctx), humanize.Bytes(s.WrittenBytes()), s.Frames(), statsJSON,
	)
}
