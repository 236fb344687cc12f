// polychat - multi-provider chat with a shared local store and peer sync.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/jeranaias/polychat/internal/chat"
	"github.com/jeranaias/polychat/internal/config"
	"github.com/jeranaias/polychat/internal/export"
	"github.com/jeranaias/polychat/internal/logging"
	"github.com/jeranaias/polychat/internal/model"
	"github.com/jeranaias/polychat/internal/secret"
	"github.com/jeranaias/polychat/internal/storage"
	"github.com/jeranaias/polychat/internal/syncbus"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd, args := os.Args[1], os.Args[2:]

	switch cmd {
	case "version", "--version", "-v":
		fmt.Printf("polychat %s (%s, built %s)\n", Version, GitCommit, BuildDate)
		return
	case "help", "--help", "-h":
		printUsage()
		return
	}

	app, cleanup, err := newApp()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	if err := app.run(cmd, args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`polychat - multi-provider chat with a shared local store and peer sync

Usage: polychat <command> [arguments]

Chats:
  list [--archived]          List chats (pinned first, newest first)
  create [title]             Create a chat
  show <chatId>              Print one chat
  send <chatId> <text>       Append a user message
  title <chatId> <text>      Rename a chat
  delete <chatId>            Delete a chat
  clone <chatId>             Duplicate a chat
  pin <chatId>               Toggle the pinned flag
  archive <chatId>           Toggle the archived flag
  clear <chatId>             Remove every message, keep the chat

Exchange:
  export <chatId> [--json]   Export one chat to a file (Markdown by default)
  backup <file>              Write every chat as a JSON array
  restore <file>             Import chats from a backup file

Providers:
  providers                  List configured providers
  provider-add <name> <type> <url> [apiKey]
  provider-use <providerId>  Set the active provider
  provider-rm <providerId>   Remove a provider

Other:
  version                    Print version information
  help                       Show this help
`)
}

// =============================================================================
// APP WIRING
// =============================================================================

type app struct {
	cfg     *config.Config
	manager *chat.Manager
	bus     *syncbus.Bus
}

// newApp loads configuration and brings up storage, sealing, sync, and the
// chat manager. The returned cleanup closes everything in reverse order.
func newApp() (*app, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	logger, closeLog := logging.Setup(cfg.Logging.File, cfg.LogLevel())

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		closeLog()
		return nil, nil, fmt.Errorf("create data directory: %w", err)
	}

	cipher, err := loadCipher(cfg)
	if err != nil {
		closeLog()
		return nil, nil, err
	}

	db, err := storage.Open(cfg.DatabasePath())
	if err != nil {
		closeLog()
		return nil, nil, err
	}

	bus := syncbus.New(logger)
	ctx := context.Background()
	if cfg.Sync.RelayURL != "" {
		syncbus.DialRelay(ctx, bus, cfg.Sync.RelayURL, logger)
	}
	if cfg.Sync.JournalFallback {
		if _, err := syncbus.OpenJournal(bus, cfg.JournalPath(), logger); err != nil {
			logger.Warn("journal transport unavailable", "error", err)
		}
	}

	manager := chat.NewManager(
		storage.NewChatStore(db),
		storage.NewProviderStore(db, cipher),
		bus,
		logger,
	)
	if err := manager.Init(ctx); err != nil {
		bus.Close()
		db.Close()
		closeLog()
		return nil, nil, err
	}

	cleanup := func() {
		bus.Close()
		db.Close()
		closeLog()
	}
	return &app{cfg: cfg, manager: manager, bus: bus}, cleanup, nil
}

// loadCipher derives the sealing cipher from the configured passphrase. The
// salt lives next to the database and is created on first use. Without a
// passphrase keys are stored as supplied.
func loadCipher(cfg *config.Config) (*secret.Cipher, error) {
	if cfg.Storage.Passphrase == "" {
		return nil, nil
	}

	salt, err := os.ReadFile(cfg.SaltPath())
	if os.IsNotExist(err) {
		salt, err = secret.NewSalt()
		if err == nil {
			err = os.WriteFile(cfg.SaltPath(), salt, 0o600)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("load sealing salt: %w", err)
	}
	return secret.NewCipherFromPassphrase(cfg.Storage.Passphrase, salt)
}

// =============================================================================
// COMMANDS
// =============================================================================

func (a *app) run(cmd string, args []string) error {
	ctx := context.Background()

	switch cmd {
	case "list":
		return a.cmdList(args)
	case "create":
		return a.cmdCreate(ctx, args)
	case "show":
		return a.cmdShow(args)
	case "send":
		return a.cmdSend(ctx, args)
	case "title":
		return a.cmdTitle(ctx, args)
	case "delete":
		return a.cmdDelete(ctx, args)
	case "clone":
		return a.cmdClone(ctx, args)
	case "pin":
		return a.cmdPin(ctx, args)
	case "archive":
		return a.cmdArchive(ctx, args)
	case "clear":
		return a.cmdClear(ctx, args)
	case "export":
		return a.cmdExport(args)
	case "backup":
		return a.cmdBackup(args)
	case "restore":
		return a.cmdRestore(ctx, args)
	case "providers":
		return a.cmdProviders()
	case "provider-add":
		return a.cmdProviderAdd(ctx, args)
	case "provider-use":
		return a.cmdProviderUse(ctx, args)
	case "provider-rm":
		return a.cmdProviderRemove(ctx, args)
	}
	printUsage()
	return fmt.Errorf("unknown command %q", cmd)
}

func (a *app) cmdList(args []string) error {
	var chats []*model.Chat
	if len(args) > 0 && args[0] == "--archived" {
		chats = a.manager.ArchivedChats()
	} else {
		chats = a.manager.ActiveChats()
	}

	if len(chats) == 0 {
		fmt.Println("No chats.")
		return nil
	}
	for _, c := range chats {
		marker := " "
		if c.Pinned {
			marker = "*"
		}
		fmt.Printf("%s %s  %-40s  %d messages  %s\n",
			marker, c.ID, c.Title, c.MessageCount(), c.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

func (a *app) cmdCreate(ctx context.Context, args []string) error {
	created, err := a.manager.CreateChat(ctx, model.ChatOptions{Title: strings.Join(args, " ")})
	if err != nil {
		return err
	}
	fmt.Printf("Created %s (%s)\n", created.ID, created.Title)
	return nil
}

func (a *app) cmdShow(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: polychat show <chatId>")
	}
	c := a.manager.ChatByID(args[0])
	if c == nil {
		return chat.ErrChatNotFound
	}

	fmt.Printf("%s (%s)\n", c.Title, c.ID)
	for _, msg := range c.Messages {
		fmt.Printf("[%s] %s: %s\n", msg.Timestamp.Format("15:04:05"), msg.Role, msg.Content)
	}
	return nil
}

func (a *app) cmdSend(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: polychat send <chatId> <text>")
	}
	updated, err := a.manager.AddMessage(ctx, args[0], model.NewUserMessage(strings.Join(args[1:], " ")))
	if err != nil {
		return err
	}
	fmt.Printf("Message added to %s (%s)\n", updated.ID, updated.Title)
	return nil
}

func (a *app) cmdTitle(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: polychat title <chatId> <text>")
	}
	if _, err := a.manager.UpdateChatTitle(ctx, args[0], strings.Join(args[1:], " ")); err != nil {
		return err
	}
	fmt.Println("Chat renamed")
	return nil
}

func (a *app) cmdDelete(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: polychat delete <chatId>")
	}
	if err := a.manager.DeleteChat(ctx, args[0]); err != nil {
		return err
	}
	fmt.Println("Chat deleted")
	return nil
}

func (a *app) cmdClone(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: polychat clone <chatId>")
	}
	clone, err := a.manager.CloneChat(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Chat cloned as %s (%s)\n", clone.ID, clone.Title)
	return nil
}

func (a *app) cmdPin(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: polychat pin <chatId>")
	}
	c, err := a.manager.TogglePin(ctx, args[0])
	if err != nil {
		return err
	}
	if c.Pinned {
		fmt.Println("Chat pinned")
	} else {
		fmt.Println("Chat unpinned")
	}
	return nil
}

func (a *app) cmdArchive(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: polychat archive <chatId>")
	}
	c, err := a.manager.ToggleArchive(ctx, args[0])
	if err != nil {
		return err
	}
	if c.Archived {
		fmt.Println("Chat archived")
	} else {
		fmt.Println("Chat unarchived")
	}
	return nil
}

func (a *app) cmdClear(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: polychat clear <chatId>")
	}
	if _, err := a.manager.ClearChatMessages(ctx, args[0]); err != nil {
		return err
	}
	fmt.Println("Messages cleared")
	return nil
}

func (a *app) cmdExport(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: polychat export <chatId> [--json]")
	}
	c := a.manager.ChatByID(args[0])
	if c == nil {
		return chat.ErrChatNotFound
	}

	opts := export.DefaultOptions()
	opts.OutputDir = a.cfg.Export.OutputDir

	var exporter export.Exporter = export.NewMarkdownExporter(opts)
	if len(args) > 1 && args[1] == "--json" {
		exporter = export.NewJSONExporter(opts)
	}

	path, err := export.ExportToFile(c, exporter, opts)
	if err != nil {
		return err
	}
	fmt.Printf("Exported to %s\n", path)
	return nil
}

func (a *app) cmdBackup(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: polychat backup <file>")
	}
	records, err := a.manager.ExportAllChats()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(args[0], data, 0o644); err != nil {
		return err
	}
	fmt.Printf("Backed up %d chats to %s\n", len(records), args[0])
	return nil
}

func (a *app) cmdRestore(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: polychat restore <file>")
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	var records []json.RawMessage
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("parse backup: %w", err)
	}
	imported, err := a.manager.ImportChats(ctx, records)
	if err != nil {
		return err
	}
	fmt.Printf("Imported %d chats\n", len(imported))
	return nil
}

func (a *app) cmdProviders() error {
	providers := a.manager.Providers()
	if len(providers) == 0 {
		fmt.Println("No providers configured.")
		return nil
	}
	active := a.manager.ActiveProvider()
	for _, p := range providers {
		marker := " "
		if active != nil && active.ID == p.ID {
			marker = "*"
		}
		fmt.Printf("%s %s  %-20s  %s  %s\n", marker, p.ID, p.Name, p.Type, p.APIURL)
	}
	return nil
}

func (a *app) cmdProviderAdd(ctx context.Context, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: polychat provider-add <name> <type> <url> [apiKey]")
	}
	p := model.NewProvider(args[0], args[1], args[2])
	if len(args) > 3 {
		p.APIKey = args[3]
	}
	if err := a.manager.SaveProvider(ctx, p); err != nil {
		return err
	}
	fmt.Printf("Provider added: %s\n", p.ID)
	return nil
}

func (a *app) cmdProviderUse(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: polychat provider-use <providerId>")
	}
	if err := a.manager.SetActiveProvider(ctx, args[0]); err != nil {
		return err
	}
	fmt.Println("Active provider set")
	return nil
}

func (a *app) cmdProviderRemove(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: polychat provider-rm <providerId>")
	}
	if err := a.manager.DeleteProvider(ctx, args[0]); err != nil {
		return err
	}
	fmt.Println("Provider removed")
	return nil
}
