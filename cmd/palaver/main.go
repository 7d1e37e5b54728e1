package main

import (
	"bufio"
	"context"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/palaver/pkg/backend/genai"
	"github.com/go-go-golems/palaver/pkg/chat"
	"github.com/go-go-golems/palaver/pkg/config"
	"github.com/go-go-golems/palaver/pkg/events"
	"github.com/go-go-golems/palaver/pkg/intake"
	"github.com/go-go-golems/palaver/pkg/models"
	"github.com/go-go-golems/palaver/pkg/session"
	"github.com/go-go-golems/palaver/pkg/store"
	"github.com/go-go-golems/palaver/pkg/stream"
	"github.com/go-go-golems/palaver/pkg/titles"
)

const chatTopic = "chat"

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "palaver",
	Short: "Streamed Gemini chat sessions from the terminal",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging(logLevel)
	},
}

func setupLogging(level string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return errors.Wrapf(err, "invalid log level %q", level)
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	return nil
}

// app bundles the wired core for one command invocation.
type app struct {
	cfg         *config.Config
	client      *genai.Client
	repo        *chat.Repository
	service     *stream.Service
	coordinator *stream.Coordinator
	sink        *events.PublisherManager
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	client, err := genai.NewClient(ctx, cfg.Backend.APIKey)
	if err != nil {
		return nil, err
	}

	fileBackend, err := store.NewFileBackend(cfg.Storage.DataDir)
	if err != nil {
		return nil, err
	}
	st := store.New(fileBackend, cfg.Storage.Slot)

	repo := chat.NewRepository()
	sessions := session.NewManager(client)
	svc := stream.NewService(repo, st, sessions, titles.NewGenerator(client))
	if err := svc.Load(); err != nil {
		return nil, err
	}

	sink := events.NewPublisherManager()
	coordinator := stream.NewCoordinator(
		repo, st, sessions, client,
		stream.StaticCredential(cfg.Backend.APIKey),
		stream.WithSink(sink),
		stream.WithUploader(intake.NewUploader(client, cfg.Intake.PollInterval)),
	)

	return &app{
		cfg:         cfg,
		client:      client,
		repo:        repo,
		service:     svc,
		coordinator: coordinator,
		sink:        sink,
	}, nil
}

func (a *app) Close() {
	if err := a.client.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close backend client")
	}
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start or resume a conversation",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		conversationID, _ := cmd.Flags().GetString("conversation")
		modelFlag, _ := cmd.Flags().GetString("model")
		if conversationID == "" {
			conv, err := a.service.NewConversation("New conversation", models.ID(modelFlag))
			if err != nil {
				return err
			}
			conversationID = conv.ID
			fmt.Printf("conversation %s\n", conversationID)
		}

		router, err := events.NewEventRouter()
		if err != nil {
			return err
		}
		a.sink.SubscribePublisher(chatTopic, router.Publisher)
		router.AddHandler("printer", chatTopic, printEvent)

		routerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := router.Run(routerCtx); err != nil && routerCtx.Err() == nil {
				log.Error().Err(err).Msg("event router stopped")
			}
		}()
		<-router.Running()
		defer func() {
			if err := router.Close(); err != nil {
				log.Warn().Err(err).Msg("failed to close event router")
			}
		}()

		scanner := bufio.NewScanner(os.Stdin)
		var pending []chat.Attachment
		fmt.Print("> ")
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			switch {
			case line == "":
			case line == "/quit" || line == "/exit":
				return nil
			case strings.HasPrefix(line, "/attach "):
				att, err := loadAttachment(strings.TrimSpace(strings.TrimPrefix(line, "/attach ")))
				if err != nil {
					fmt.Fprintf(os.Stderr, "error: %v\n", err)
					break
				}
				pending = append(pending, att)
				fmt.Printf("attached %s (%s, %d bytes)\n", att.Name, att.MIMEType, len(att.Data))
			default:
				err := a.coordinator.SendMessage(ctx, stream.SendRequest{
					ConversationID: conversationID,
					Text:           line,
					Files:          pending,
				})
				if err != nil {
					fmt.Fprintf(os.Stderr, "error: %v\n", err)
				}
				pending = nil
			}
			fmt.Print("> ")
		}
		return scanner.Err()
	},
}

// loadAttachment reads a local file into an attachment, inferring the MIME
// type from the extension and falling back to content sniffing.
func loadAttachment(path string) (chat.Attachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return chat.Attachment{}, errors.Wrapf(err, "cannot read %s", path)
	}
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	return chat.Attachment{
		Name:     filepath.Base(path),
		MIMEType: mimeType,
		Data:     data,
	}, nil
}

// printEvent renders stream events for the terminal: partial text inline,
// everything else as a short status line.
func printEvent(msg *message.Message) error {
	e, err := events.NewEventFromJSON(msg.Payload)
	if err != nil {
		return err
	}
	switch ev := e.(type) {
	case *events.EventPartial:
		fmt.Print(ev.Delta)
	case *events.EventPartialThinking:
		// reasoning trace stays off the main transcript
	case *events.EventCodeDelta:
		fmt.Print(ev.Delta)
	case *events.EventCodeOutputDelta:
		fmt.Print(ev.Delta)
	case *events.EventCitation:
		for _, c := range ev.Citations {
			fmt.Printf("\n[%s]", c.URI)
		}
	case *events.EventImages:
		fmt.Printf("\n(%d image(s))", ev.Count)
	case *events.EventFinal:
		fmt.Println()
	case *events.EventError:
		fmt.Printf("\n%s\n", ev.ErrorString)
	case *events.EventStatus:
		fmt.Printf("\n· %s\n", ev.Message)
	}
	return nil
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		for _, c := range a.repo.Read() {
			fmt.Printf("%s  %-30s  %s  %d messages\n",
				c.ID, c.Title, c.Model, len(c.Messages))
		}
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <conversation-id>",
	Short: "Delete a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		return a.service.Delete(cmd.Context(), args[0])
	},
}

var renameCmd = &cobra.Command{
	Use:   "rename <conversation-id> <title>",
	Short: "Rename a conversation",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		return a.service.Rename(args[0], args[1])
	},
}

var retitleCmd = &cobra.Command{
	Use:   "retitle <conversation-id>",
	Short: "Regenerate a conversation title from its first message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		title, err := a.service.RegenerateTitle(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Println(title)
		return nil
	},
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List available models",
	Run: func(cmd *cobra.Command, args []string) {
		for _, id := range models.All() {
			spec, _ := models.Lookup(id)
			fmt.Printf("%-16s -> %s\n", id, spec.Backend)
		}
	},
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")

	chatCmd.Flags().String("conversation", "", "conversation ID to resume")
	chatCmd.Flags().String("model", string(models.Default()), "model for a new conversation")

	rootCmd.AddCommand(chatCmd, listCmd, deleteCmd, renameCmd, retitleCmd, modelsCmd)
	cobra.CheckErr(rootCmd.Execute())
}
