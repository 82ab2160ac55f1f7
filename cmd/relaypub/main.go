// Command relaypub authenticates to a relay and publishes replaceable events.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/avolkovv/relaypub/internal/model"
	"github.com/avolkovv/relaypub/internal/session"
	"github.com/avolkovv/relaypub/internal/signer/keystore"
	"github.com/avolkovv/relaypub/internal/transport/ws"
)

const passphraseEnv = "RELAYPUB_PASSPHRASE"

var (
	version   = "dev"
	buildDate = "unknown"
)

func usage() {
	fmt.Fprintf(os.Stderr, `relaypub
Usage:
  relaypub [-config file] [-relay URL] [-key file] [-timeout dur] [-v] <cmd> [args]

Commands:
  version
  keygen                                      (writes a new encrypted key file)
  pubkey                                      (prints the key's identity)
  publish  -d <tag> [-content str | -file blob] [-tag k=v,...]

The key passphrase is read from -p or $%s.
`, passphraseEnv)
	os.Exit(2)
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func readAll(p string) ([]byte, error) {
	if p == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(p)
}

func passphrase(flagVal string) []byte {
	if flagVal != "" {
		return []byte(flagVal)
	}
	return []byte(os.Getenv(passphraseEnv))
}

// main dispatches subcommands against a single relay session.
func main() {
	// global flags
	cfgPath := flag.String("config", "", "TOML config file")
	relay := flag.String("relay", "", "relay URL (ws:// or wss://)")
	keyPath := flag.String("key", "", "encrypted key file (default relaypub.key)")
	pass := flag.String("p", "", "key passphrase (or $"+passphraseEnv+")")
	timeout := flag.Duration("timeout", 0, "handshake/publish timeout")
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	cmd := flag.Arg(0)

	cfg := defaultConfig()
	if *cfgPath != "" {
		var err error
		cfg, err = loadConfig(*cfgPath)
		if err != nil {
			fail(err)
		}
	}
	// flags override the file
	if *relay != "" {
		cfg.RelayURL = *relay
	}
	if *keyPath != "" {
		cfg.KeyPath = *keyPath
	}
	if *timeout > 0 {
		cfg.Timeout = *timeout
	}
	if cfg.KeyPath == "" {
		cfg.KeyPath = "relaypub.key"
	}

	log := zap.NewNop()
	if *verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			fail(err)
		}
		log = l
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	switch cmd {

	case "version":
		fmt.Printf("relaypub %s (%s)\n", version, buildDate)

	case "keygen":
		if _, err := os.Stat(cfg.KeyPath); err == nil {
			fail(fmt.Errorf("refusing to overwrite %s", cfg.KeyPath))
		}
		s, err := keystore.Generate()
		if err != nil {
			fail(err)
		}
		if err := s.Save(cfg.KeyPath, passphrase(*pass)); err != nil {
			fail(err)
		}
		pk, _ := s.PublicKey(ctx)
		printJSON(map[string]string{"pubkey": pk, "key_file": cfg.KeyPath})

	case "pubkey":
		s, err := keystore.Load(cfg.KeyPath, passphrase(*pass))
		if err != nil {
			fail(err)
		}
		pk, _ := s.PublicKey(ctx)
		fmt.Println(pk)

	case "publish":
		fs := flag.NewFlagSet("publish", flag.ExitOnError)
		dTag := fs.String("d", "", "distinguishing tag value (required)")
		content := fs.String("content", "", "event content")
		file := fs.String("file", "", "read content from file (- for stdin)")
		tagSpec := fs.String("tag", "", "extra tags, k=v comma separated")
		_ = fs.Parse(flag.Args()[1:])
		if *dTag == "" {
			fmt.Fprintln(os.Stderr, "need -d")
			os.Exit(1)
		}
		if cfg.RelayURL == "" {
			fmt.Fprintln(os.Stderr, "need -relay (or relay in config)")
			os.Exit(1)
		}

		body := *content
		if *file != "" {
			b, err := readAll(*file)
			if err != nil {
				fail(err)
			}
			body = string(b)
		}
		rawTags, err := parseTags(*tagSpec)
		if err != nil {
			fail(err)
		}
		extra := make([]model.Tag, 0, len(rawTags))
		for _, t := range rawTags {
			extra = append(extra, model.Tag(t))
		}

		s, err := keystore.Load(cfg.KeyPath, passphrase(*pass))
		if err != nil {
			fail(err)
		}

		sess := session.New(
			session.Config{RelayURL: cfg.RelayURL, Timeout: cfg.Timeout},
			s, ws.NewDialer(),
			session.WithLogger(log),
		)
		defer sess.Disconnect()

		if err := sess.Authenticate(ctx); err != nil {
			fail(fmt.Errorf("authenticate: %w", err))
		}
		id, err := sess.Publish(ctx, body, *dTag, extra)
		if err != nil {
			fail(fmt.Errorf("publish: %w", err))
		}

		st := sess.Status()
		printJSON(map[string]any{
			"event_id":      id,
			"relay":         cfg.RelayURL,
			"d":             *dTag,
			"authenticated": st.Authenticated,
		})

	default:
		usage()
	}
}
