// Command relay-server runs the relay broker, and provides the
// administration commands (register, remove, list-users, list-active,
// login-history, counters) that operate on the server's account
// database. Each administration command runs in its own process, so it
// does not reach the session table of a running serve process.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/cipherdesk/relay/internal/config"
	"github.com/cipherdesk/relay/internal/server"
	"github.com/cipherdesk/relay/internal/serverstore"
)

func main() {
	if err := commandRoot().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func commandRoot() *cobra.Command {
	root := &cobra.Command{
		Use:   "relay-server",
		Short: "Relay account broker and administration CLI",
	}
	root.AddCommand(commandServe())
	root.AddCommand(commandRegister())
	root.AddCommand(commandRemove())
	root.AddCommand(commandListUsers())
	root.AddCommand(commandListActive())
	root.AddCommand(commandLoginHistory())
	root.AddCommand(commandCounters())
	return root
}

func newLogger() *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)
	return logger
}

func openStore(cfg *config.ServerConfig) (*serverstore.Store, error) {
	return serverstore.Open(cfg.DBPath)
}

// commandServe starts the broker: the accept loop, the engine's run
// loop, and, if RELAY_REGISTER_DIR is set, the drop-folder watcher.
func commandServe() *cobra.Command {
	var listenAddress, dbPath, registerDir string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the relay broker",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()

			cfg, err := config.LoadServerConfig()
			if err != nil {
				log.Error("configuration error", "error", err)
				os.Exit(1)
			}
			if cmd.Flags().Changed("listen") {
				cfg.ListenAddress = listenAddress
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			if cmd.Flags().Changed("db") {
				cfg.DBPath = dbPath
			}
			if cmd.Flags().Changed("register-dir") {
				cfg.RegisterDir = registerDir
			}

			store, err := openStore(cfg)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer store.Close()

			engine := server.NewEngine(store, log)
			ln, err := server.Listen(fmt.Sprintf("%s:%d", cfg.ListenAddress, cfg.Port), engine)
			if err != nil {
				return fmt.Errorf("listen: %w", err)
			}
			defer ln.Close()

			if cfg.RegisterDir != "" {
				if err := server.WatchRegisterDir(engine, cfg.RegisterDir, log, engine.Stopped()); err != nil {
					return fmt.Errorf("watch register dir: %w", err)
				}
				log.Info("watching registration drop folder", "dir", cfg.RegisterDir)
			}

			go engine.Run()
			log.Info("relay server listening", "addr", ln.Addr().String())
			return ln.Serve()
		},
	}

	cmd.Flags().StringVar(&listenAddress, "listen", "", "override RELAY_LISTEN_ADDRESS")
	cmd.Flags().IntVar(&port, "port", 0, "override RELAY_PORT")
	cmd.Flags().StringVar(&dbPath, "db", "", "override RELAY_DB")
	cmd.Flags().StringVar(&registerDir, "register-dir", "", "override RELAY_REGISTER_DIR")
	return cmd
}

func commandRegister() *cobra.Command {
	return &cobra.Command{
		Use:   "register <login>",
		Short: "Register a new account against a running server's database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadServerConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer store.Close()

			password, err := promptPassword("Password: ")
			if err != nil {
				return err
			}

			engine := server.NewEngine(store, slog.New(slog.NewTextHandler(os.Stderr, nil)))
			go engine.Run()
			defer engine.Stop()

			if err := engine.RegisterUser(args[0], password); err != nil {
				return err
			}
			fmt.Printf("registered %s\n", args[0])
			return nil
		},
	}
}

func commandRemove() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <login>",
		Short: "Remove an account from the database (a running serve process keeps its open sessions)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadServerConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer store.Close()

			engine := server.NewEngine(store, slog.New(slog.NewTextHandler(os.Stderr, nil)))
			go engine.Run()
			defer engine.Stop()

			if err := engine.RemoveUser(args[0]); err != nil {
				return err
			}
			fmt.Printf("removed %s\n", args[0])
			return nil
		},
	}
}

func commandListUsers() *cobra.Command {
	return &cobra.Command{
		Use:   "list-users",
		Short: "List every registered account",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadServerConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer store.Close()

			users, err := store.ListAllUsers()
			if err != nil {
				return err
			}
			for _, u := range users {
				fmt.Println(u.Login)
			}
			return nil
		},
	}
}

func commandListActive() *cobra.Command {
	return &cobra.Command{
		Use:   "list-active",
		Short: "Report that connected sessions cannot be listed from outside the serve process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("list-active: session state lives only in the serve process's memory; run this from the same process or extend serve with an admin endpoint")
		},
	}
}

func commandLoginHistory() *cobra.Command {
	var login string
	cmd := &cobra.Command{
		Use:   "login-history",
		Short: "Show recorded logins, optionally filtered to one account",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadServerConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer store.Close()

			entries, err := store.LoginHistory(login)
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Printf("%s\t%s:%d\t%s\n", e.User, e.IPAddress, e.Port, e.LastActive.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&login, "user", "", "filter to a single account")
	return cmd
}

func commandCounters() *cobra.Command {
	return &cobra.Command{
		Use:   "counters",
		Short: "Show per-user sent/received message counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadServerConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer store.Close()

			counters, err := store.MessageCounters()
			if err != nil {
				return err
			}
			for _, c := range counters {
				fmt.Printf("%s\tsent=%d\treceived=%d\n", c.User, c.SentMessages, c.ReceivedMessages)
			}
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
