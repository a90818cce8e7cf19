// Command apitap is a thin CLI over the capture/learn/replay pipeline. It
// is not a complete client — it exists to exercise the library packages
// end to end: load config, open the vault, browse a learned endpoint, or
// list what domains have been learned so far.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/apitap/apitap/internal/config"
	"github.com/apitap/apitap/internal/obslog"
	"github.com/apitap/apitap/pkg/browse"
	"github.com/apitap/apitap/pkg/skillstore"
	"github.com/apitap/apitap/pkg/vault"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.Load(envOr("APITAP_CONFIG", ""))
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, closeLog := obslog.New(cfg.Logging)
	defer closeLog()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tp, err := initTracer(ctx)
	if err != nil {
		logger.Warn("OTel tracing disabled", "error", err)
	} else if tp != nil {
		defer tp.Shutdown(ctx)
	}

	v, err := vault.Open(cfg.VaultDir, logger)
	if err != nil {
		logger.Warn("vault unavailable, replays will have no stored credentials", "error", err)
		v = nil
	}

	switch os.Args[1] {
	case "browse":
		cmdBrowse(ctx, cfg, v, logger, os.Args[2:])
	case "skills":
		cmdSkills(cfg, os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

// cmdBrowse wires pkg/browse.Service to a single request, printing either
// the replayed data or the guidance envelope telling the caller why no
// replay happened.
func cmdBrowse(ctx context.Context, cfg *config.Config, v *vault.Vault, logger *slog.Logger, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: apitap browse <url>")
		os.Exit(1)
	}
	targetURL := args[0]

	svc := browse.New(cfg.SkillsDir, v, nil, logger)
	svc.Start(ctx)

	result, err := svc.Browse(ctx, targetURL, browse.Options{
		SkillsDir: cfg.SkillsDir,
		Vault:     v,
		MaxBytes:  cfg.Replay.MaxResponseBytes,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "browse failed: %v\n", err)
		os.Exit(1)
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "encode result: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(data))

	if g, isGuidance := result.(browse.Guidance); isGuidance && !g.Success {
		os.Exit(2)
	}
}

// cmdSkills handles the "skills" subcommand family. Today it only lists
// the domains with a learned skill file on disk.
func cmdSkills(cfg *config.Config, args []string) {
	if len(args) < 1 || args[0] != "list" {
		fmt.Fprintln(os.Stderr, "Usage: apitap skills list")
		os.Exit(1)
	}

	domains, err := skillstore.ListDomains(cfg.SkillsDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "list skills: %v\n", err)
		os.Exit(1)
	}
	if len(domains) == 0 {
		fmt.Println("no skill files learned yet")
		return
	}
	for _, d := range domains {
		fmt.Println(d)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  apitap browse <url>       replay the best-matching learned endpoint for url")
	fmt.Fprintln(os.Stderr, "  apitap skills list        list domains with a learned skill file")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func initTracer(ctx context.Context) (*sdktrace.TracerProvider, error) {
	endpoint := envOr("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	if endpoint == "" {
		return nil, nil
	}

	conn, err := grpc.NewClient(endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}

	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName("apitap"),
		semconv.ServiceVersion("0.1.0"),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp, nil
}
