// Command fedis-shell is a small config-driven demonstration of the
// federated client: it loads a YAML node/tuning config, serves Prometheus
// metrics, and reads one command per line from stdin ("SET key value",
// "GET key", …), dispatching each and printing the reply once the line's
// batch is polled.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/beyondkv/fedis"
	"github.com/beyondkv/fedis/internal/config"
	"github.com/beyondkv/fedis/internal/logging"
	"github.com/beyondkv/fedis/internal/metrics"
)

func main() {
	metrics.Init()

	defaultConfig := os.Getenv("CONFIG_PATH")
	if defaultConfig == "" {
		defaultConfig = "config/config.yaml"
	}
	configPath := flag.String("config", defaultConfig, "Path to YAML config")
	metricsAddr := flag.String("metrics-listen", "", "If set, serve Prometheus metrics on this address (e.g. :9121)")
	flag.Parse()

	logger := logging.NewLogger(os.Stdout, logging.Config{Format: "text", Level: "info"})

	data, err := os.ReadFile(*configPath)
	if err != nil {
		logging.Fatal(logger, "failed to read config", "path", *configPath, "error", err)
	}
	cfg, err := config.Load(data)
	if err != nil {
		logging.Fatal(logger, "failed to load config", "error", err)
	}

	opts := fedis.OptionsFromConfig(cfg)
	opts.Logger = logger
	client, err := fedis.New(opts)
	if err != nil {
		logging.Fatal(logger, "failed to construct client", "error", err)
	}
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
		metricsServer = &http.Server{Addr: *metricsAddr, Handler: mux}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("metrics server error", "error", err)
			}
		}()
		logger.Info("metrics listening", "address", *metricsAddr)
	}

	go runShell(ctx, client, logger)

	<-ctx.Done()
	logger.Info("shutdown requested")
	if metricsServer != nil {
		_ = metricsServer.Shutdown(context.Background())
	}
}

// runShell reads one command per line ("SET key value", "GET key", "DEL
// key", "INCR key") from stdin until EOF or ctx is done, dispatching and
// polling each line as its own batch.
func runShell(ctx context.Context, client *fedis.Client, logger *slog.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		verb := strings.ToUpper(fields[0])
		args := fields[1:]

		var reply fedis.Reply
		dispatchLine(client, verb, args, func(r fedis.Reply) { reply = r })
		client.Poll()

		fmt.Println(formatReply(reply))
	}
}

func dispatchLine(client *fedis.Client, verb string, args []string, cb fedis.UserCallback) {
	switch verb {
	case "GET":
		if len(args) < 1 {
			cb(fedis.ReplyErr("GET requires a key"))
			return
		}
		client.Get(args[0], cb)
	case "SET":
		if len(args) < 2 {
			cb(fedis.ReplyErr("SET requires a key and value"))
			return
		}
		client.Set(args[0], args[1], cb)
	case "DEL":
		if len(args) < 1 {
			cb(fedis.ReplyErr("DEL requires a key"))
			return
		}
		client.Del(args[0], cb)
	case "INCR":
		if len(args) < 1 {
			cb(fedis.ReplyErr("INCR requires a key"))
			return
		}
		client.Incr(args[0], cb)
	default:
		dispatchArgs := make([]any, len(args))
		for i, a := range args {
			dispatchArgs[i] = a
		}
		client.Dispatch(verb, dispatchArgs, cb)
	}
}

func formatReply(r fedis.Reply) string {
	if r == nil {
		return "(nil)"
	}
	switch v := r.(type) {
	case fedis.ReplyNil:
		return "(nil)"
	case fedis.ReplyBulk:
		return v.String()
	case fedis.ReplyInteger:
		return fmt.Sprintf("%d", int64(v))
	case fedis.ReplyErr:
		return "(error) " + string(v)
	case fedis.ReplyArray:
		parts := make([]string, len(v))
		for i, e := range v {
			parts[i] = formatReply(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return fmt.Sprintf("%v", v)
	}
}
