package main

import (
	"fmt"
	"net"
	"os"
	"strings"
	"sync"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/rethinkdb-core/internal/config"
	"github.com/calvinalkan/rethinkdb-core/internal/namespace"
	"github.com/calvinalkan/rethinkdb-core/internal/session"
	"github.com/calvinalkan/rethinkdb-core/pkg/slab"
)

// serverVersion is reported in SERVER_INFO responses and the V1_0
// handshake's "server_version" field.
const serverVersion = "1.0.0"

func runServe(args []string, environ []string, sigCh <-chan os.Signal) int {
	flags := flag.NewFlagSet("serve", flag.ContinueOnError)
	flags.SetOutput(new(strings.Builder))

	flagStore := flags.String("store", "", "Store directory")
	flagListen := flags.String("listen", "", "Listen address (host:port)")
	flagConfig := flags.StringP("config", "c", "", "Config file path")
	flagSlabMin := flags.Uint32("slab-min", 0, "Minimum slot size")
	flagSlabMax := flags.Uint32("slab-max", 0, "Maximum slot size")
	flagCacheCapacity := flags.Int("cache-capacity", 0, "Value cache capacity")
	flagCompression := flags.String("compression", "", "Compression algorithm: none or zstd")
	flagAuthKey := flags.String("auth-key", "", "Required client auth key")

	if err := flags.Parse(args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}

	overrides := config.Config{
		DataDir:       *flagStore,
		ListenAddr:    *flagListen,
		SlabMinSize:   *flagSlabMin,
		SlabMaxSize:   *flagSlabMax,
		CacheCapacity: *flagCacheCapacity,
		Compression:   *flagCompression,
		AuthKey:       *flagAuthKey,
	}

	hasOverride := map[string]bool{
		"data_dir":       flags.Changed("store"),
		"listen_addr":    flags.Changed("listen"),
		"slab_min_size":  flags.Changed("slab-min"),
		"slab_max_size":  flags.Changed("slab-max"),
		"cache_capacity": flags.Changed("cache-capacity"),
		"compression":    flags.Changed("compression"),
		"auth_key":       flags.Changed("auth-key"),
	}

	workDir, err := os.Getwd()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error: getwd:", err)
		return 1
	}

	cfg, _, err := config.Load(workDir, *flagConfig, overrides, hasOverride, environ)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}

	compression, err := parseCompression(cfg.Compression)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}

	storage, err := slab.Open(cfg.DataDir, slab.Options{
		MinSlotSize:   cfg.SlabMinSize,
		MaxSlotSize:   cfg.SlabMaxSize,
		CacheCapacity: cfg.CacheCapacity,
		Compression:   compression,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "error: open store:", err)
		return 1
	}
	defer storage.Close()

	ns, err := namespace.Open(storage)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error: open namespace:", err)
		return 1
	}

	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error: listen:", err)
		return 1
	}

	fmt.Fprintf(os.Stdout, "rethinkdb-core listening on %s (store=%s)\n", cfg.ListenAddr, cfg.DataDir)

	go func() {
		<-sigCh
		fmt.Fprintln(os.Stdout, "shutting down...")
		listener.Close()
	}()

	info := session.Info{ID: cfg.ServerID, Name: cfg.ServerName, Version: serverVersion, ExpectedAuthKey: cfg.AuthKey}

	var wg sync.WaitGroup

	for {
		conn, err := listener.Accept()
		if err != nil {
			break
		}

		wg.Add(1)

		go func() {
			defer wg.Done()
			defer conn.Close()

			if err := session.Serve(conn, ns, info); err != nil {
				fmt.Fprintln(os.Stderr, "session error:", err)
			}
		}()
	}

	wg.Wait()

	return 0
}

func parseCompression(name string) (slab.CompressionAlgorithm, error) {
	switch name {
	case "", "zstd":
		return slab.CompressionZstd, nil
	case "none":
		return slab.CompressionNone, nil
	default:
		return 0, fmt.Errorf("unknown compression algorithm %q", name)
	}
}
