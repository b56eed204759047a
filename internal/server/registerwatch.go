package server

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// registrationFileSuffix is the extension a drop-folder file must carry
// to be picked up: <login>.register, containing one line "login:password".
const registrationFileSuffix = ".register"

// WatchRegisterDir watches dir for dropped "<login>.register" files and
// registers the account they describe, deleting the file once handled.
// This is an unattended alternative to the CLI's interactive "register"
// command, useful for bulk-provisioning accounts from another process.
// It runs until stop is closed.
func WatchRegisterDir(engine *Engine, dir string, log *slog.Logger, stop <-chan struct{}) error {
	if log == nil {
		log = slog.Default()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("server: create register watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("server: watch register dir: %w", err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-stop:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
					continue
				}
				if !strings.HasSuffix(event.Name, registrationFileSuffix) {
					continue
				}
				if err := processRegistrationFile(engine, event.Name, log); err != nil {
					log.Error("process registration file", "path", event.Name, "error", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Error("register watcher error", "error", err)
			}
		}
	}()

	return nil
}

func processRegistrationFile(engine *Engine, path string, log *slog.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return fmt.Errorf("empty registration file")
	}
	login, password, ok := strings.Cut(strings.TrimSpace(scanner.Text()), ":")
	if !ok {
		return fmt.Errorf("malformed line, want login:password")
	}

	if err := engine.RegisterUser(login, password); err != nil {
		return err
	}
	log.Info("registered user from drop folder", "login", login, "path", path)
	return os.Remove(path)
}
