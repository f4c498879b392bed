package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"Ferry/internal/journal"
	"Ferry/internal/logger"
	"Ferry/internal/session"
	"Ferry/internal/signer"
	"Ferry/internal/storage"
)

// passphrase opens sealed key files; FERRY_PASSPHRASE is used when unset.
var passphrase string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "gatewayd",
		Short:         "Cross-ledger asset transfer gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if passphrase == "" {
				passphrase = os.Getenv("FERRY_PASSPHRASE")
			}
		},
	}

	root.PersistentFlags().StringVarP(&passphrase, "passphrase", "p", "", "passphrase protecting the identity key")

	root.AddCommand(runCmd(), keygenCmd(), inspectCmd(), ledgerCmd())

	return root
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runCmd() *cobra.Command {
	cfg := &Config{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}

			level, err := logger.ParseLevel(cfg.LogLevel)
			if err != nil {
				return err
			}
			log := logger.New(os.Stderr, level)

			cfg.Passphrase = passphrase
			cfg.PrivateKey, err = loadOrGenerateKey(cfg.KeyPath, cfg.Passphrase)
			if err != nil {
				return fmt.Errorf("load key:\n%w", err)
			}

			d, err := newDaemon(cfg, log)
			if err != nil {
				return fmt.Errorf("create gateway:\n%w", err)
			}

			log.Info("starting gateway",
				"name", cfg.Name,
				"pubkey", hex.EncodeToString(d.signer.PublicKey()),
				"scheme", d.signer.Scheme(),
				"quic", cfg.QUICAddress,
				"http", cfg.HTTPAddress,
				"ledger", cfg.LedgerName,
				"data", cfg.DataPath,
			)

			ctx, stop := signalContext()
			defer stop()

			return d.Run(ctx)
		},
	}

	cfg.bindFlags(cmd)

	return cmd
}

func keygenCmd() *cobra.Command {
	var (
		keyPath  string
		name     string
		addr     string
		scheme   string
		ledgers  []string
		overwrite bool
	)

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an identity key and print its peers file entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(keyPath); err == nil && !overwrite {
				return fmt.Errorf("%s exists (use --force to replace it)", keyPath)
			}

			sch, err := signer.ParseScheme(scheme)
			if err != nil {
				return err
			}

			key, err := signer.GenerateKey()
			if err != nil {
				return err
			}

			s, err := signer.New(sch, key)
			if err != nil {
				return err
			}

			if err := os.MkdirAll(filepath.Dir(keyPath), 0700); err != nil {
				return fmt.Errorf("create key directory:\n%w", err)
			}

			if err := signer.SaveKey(keyPath, key, passphrase); err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")

			return enc.Encode(signer.PeerFor(name, addr, s, ledgers...))
		},
	}

	f := cmd.Flags()
	f.StringVar(&keyPath, "key", "identity.key", "Identity key path")
	f.StringVar(&name, "name", "", "Gateway name for the peers entry")
	f.StringVar(&addr, "advertise", "", "Address peers dial")
	f.StringVar(&scheme, "scheme", "ed25519", "Signature scheme (ed25519 or bls)")
	f.StringSliceVar(&ledgers, "ledgers", nil, "Ledgers this gateway fronts")
	f.BoolVar(&overwrite, "force", false, "Replace an existing key")

	return cmd
}

func inspectCmd() *cobra.Command {
	var (
		dataPath string
		mirrored bool
	)

	cmd := &cobra.Command{
		Use:   "inspect [session-id]",
		Short: "Print sessions rebuilt from the log, or one session's entries",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := storage.New(filepath.Join(dataPath, "db"))
			if err != nil {
				return err
			}
			defer db.Close()

			j, err := journal.New(db, journal.Config{})
			if err != nil {
				return err
			}
			defer j.Close()

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")

			if len(args) == 0 {
				return inspectAll(j, enc)
			}

			id := args[0]

			if mirrored {
				records, err := journal.NewMirror(db, nil).All(id)
				if err != nil {
					return err
				}
				return enc.Encode(records)
			}

			entries, err := j.Entries(id)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				return fmt.Errorf("no entries for session %s", id)
			}

			return enc.Encode(entries)
		},
	}

	cmd.Flags().StringVar(&dataPath, "data", "./data", "Data directory path")
	cmd.Flags().BoolVar(&mirrored, "mirror", false, "Print the counterpart's mirrored views instead")

	return cmd
}

// inspectAll replays every session and prints one summary line each.
func inspectAll(j *journal.Journal, enc *json.Encoder) error {
	ids, err := j.Sessions()
	if err != nil {
		return err
	}

	type summary struct {
		*session.Session
		Error string `json:"error,omitempty"`
	}

	out := make([]summary, 0, len(ids))

	for _, id := range ids {
		entries, err := j.Entries(id)
		if err != nil {
			return err
		}

		s, err := session.Replay(entries)
		if err != nil {
			out = append(out, summary{Session: &session.Session{ID: id}, Error: err.Error()})
			continue
		}

		out = append(out, summary{Session: s})
	}

	return enc.Encode(out)
}

func ledgerCmd() *cobra.Command {
	var (
		addr   string
		name   string
		assets []string
	)

	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Serve an in-memory ledger over the HTTP connector protocol",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			ctx, stop := signalContext()
			defer stop()

			return serveLedger(ctx, addr, name, assets, logger.New(os.Stderr, slog.LevelInfo))
		},
	}

	f := cmd.Flags()
	f.StringVar(&addr, "listen", ":8090", "Listen address")
	f.StringVar(&name, "name", "", "Ledger name")
	f.StringSliceVar(&assets, "issue", nil, "Assets to issue")

	return cmd
}
