// Command relay-client is the interactive relay client: it authenticates
// against a relay-server, then opens a readline shell for sending
// messages and managing contacts, decrypting everything locally with a
// per-login RSA keypair kept on disk.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/cipherdesk/relay/internal/client"
	"github.com/cipherdesk/relay/internal/clientstore"
	"github.com/cipherdesk/relay/internal/config"
	"github.com/cipherdesk/relay/internal/relaycrypto"
)

func main() {
	if err := commandRoot().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func commandRoot() *cobra.Command {
	root := &cobra.Command{
		Use:   "relay-client",
		Short: "Relay instant-messaging client",
	}
	root.AddCommand(commandChat())
	root.AddCommand(commandKeygen())
	return root
}

// commandChat connects, authenticates, and drops into the interactive
// shell.
func commandChat() *cobra.Command {
	var serverAddress, dbDir, keyDir string
	var serverPort int

	cmd := &cobra.Command{
		Use:   "chat <login>",
		Short: "Connect and open the interactive chat shell",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			login := args[0]
			log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

			cfg, err := config.LoadClientConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("server") {
				cfg.ServerAddress = serverAddress
			}
			if cmd.Flags().Changed("port") {
				cfg.ServerPort = serverPort
			}
			if cmd.Flags().Changed("db-dir") {
				cfg.DBDir = dbDir
			}
			if cmd.Flags().Changed("key-dir") {
				cfg.KeyDir = keyDir
			}

			priv, err := relaycrypto.LoadOrCreatePrivateKey(cfg.KeyDir, login)
			if err != nil {
				return fmt.Errorf("load key: %w", err)
			}

			store, err := clientstore.Open(cfg.DBDir, login)
			if err != nil {
				return fmt.Errorf("open local store: %w", err)
			}
			defer store.Close()

			password, err := promptPassword("Password: ")
			if err != nil {
				return err
			}

			c, err := client.Connect(cfg.ServerAddress, cfg.ServerPort, login, password, priv, store, log)
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer c.Close()

			if _, err := c.RequestContacts(); err != nil {
				fmt.Fprintf(os.Stderr, "warning: initial contact sync failed: %v\n", err)
			}
			if _, err := c.RequestUsers(); err != nil {
				fmt.Fprintf(os.Stderr, "warning: initial user sync failed: %v\n", err)
			}

			runShell(c, login)
			return nil
		},
	}

	cmd.Flags().StringVar(&serverAddress, "server", "", "override RELAYC_SERVER_ADDRESS")
	cmd.Flags().IntVar(&serverPort, "port", 0, "override RELAYC_SERVER_PORT")
	cmd.Flags().StringVar(&dbDir, "db-dir", "", "override RELAYC_DB_DIR")
	cmd.Flags().StringVar(&keyDir, "key-dir", "", "override RELAYC_KEY_DIR")
	return cmd
}

func commandKeygen() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen <login>",
		Short: "Generate (or reuse) a login's local RSA keypair without connecting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadClientConfig()
			if err != nil {
				return err
			}
			if _, err := relaycrypto.LoadOrCreatePrivateKey(cfg.KeyDir, args[0]); err != nil {
				return err
			}
			fmt.Printf("key ready for %s under %s\n", args[0], cfg.KeyDir)
			return nil
		},
	}
}

func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	pw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(pw), nil
}
