package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gearhead-backend/internal/messaging"
	"gearhead-backend/internal/models"
	"gearhead-backend/internal/realtime"

	"github.com/spf13/cobra"
)

func loginCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:     "login",
		Short:   "Sign in with email and password and print an access token",
		Example: `  export GEARHEAD_TOKEN=$(chatctl login --email seller@gearhead.test --password secret)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			backend, err := newBackend(ctx, cfg)
			if err != nil {
				return err
			}
			out, err := backend.SignIn(ctx, strings.ToLower(strings.TrimSpace(email)), password)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "signed in as %s (expires in %ds)\n", out.UserID, out.ExpiresIn)
			fmt.Println(out.AccessToken)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", os.Getenv("GEARHEAD_PASSWORD"), "account password (default: $GEARHEAD_PASSWORD)")
	cmd.MarkFlagRequired("email")
	return cmd
}

func resolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <participant-id>",
		Short: "Find or create the conversation with another user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			backend, err := newBackend(ctx, cfg)
			if err != nil {
				return err
			}
			session, err := signedIn(ctx, backend)
			if err != nil {
				return err
			}
			res, err := backend.Messaging(session, nil).ResolveWith(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
}

func sendCmd() *cobra.Command {
	var msgType string
	cmd := &cobra.Command{
		Use:   "send <conversation-id> <text>...",
		Short: "Send a message to a conversation",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			backend, err := newBackend(ctx, cfg)
			if err != nil {
				return err
			}
			session, err := signedIn(ctx, backend)
			if err != nil {
				return err
			}
			msg, err := backend.Messaging(session, nil).Send(ctx, args[0], messaging.Draft{
				Content: strings.Join(args[1:], " "),
				Type:    models.MessageType(msgType),
			})
			if err != nil {
				return err
			}
			return printJSON(msg)
		},
	}
	cmd.Flags().StringVar(&msgType, "type", string(models.MessageTypeText), "message type: text, image or file")
	return cmd
}

func tailCmd() *cobra.Command {
	var history bool
	cmd := &cobra.Command{
		Use:   "tail <conversation-id>",
		Short: "Print a conversation and follow new messages until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			backend, err := newBackend(ctx, cfg)
			if err != nil {
				return err
			}
			session, err := signedIn(ctx, backend)
			if err != nil {
				return err
			}
			feed, closeFeed, err := backend.Feed(ctx, session)
			if err != nil {
				fmt.Fprintf(os.Stderr, "realtime unavailable, showing history only: %v\n", err)
				feed, closeFeed = realtime.Offline{}, func() {}
			}
			defer closeFeed()

			chat, err := backend.Messaging(session, feed).Open(ctx, args[0])
			if err != nil {
				return err
			}
			defer chat.Close()

			t := &tailer{self: session.UserID, history: history}
			select {
			case <-chat.LockChanged():
			default:
			}
			t.lock(chat.Decision())
			stream := chat.Stream()
			for {
				for _, ev := range stream.Drain() {
					if t.event(ev) {
						return nil
					}
				}
				select {
				case <-ctx.Done():
					return nil
				case <-stream.Changed():
				case <-chat.LockChanged():
					t.lock(chat.Decision())
				}
			}
		},
	}
	cmd.Flags().BoolVar(&history, "history", true, "print existing messages before following")
	return cmd
}

type tailer struct {
	self    string
	history bool
}

// event prints one stream event and reports whether tailing should stop.
func (t *tailer) event(ev messaging.StreamEvent) bool {
	switch ev.Kind {
	case messaging.EventSnapshot:
		if t.history {
			for i := range ev.Messages {
				t.message(&ev.Messages[i], "")
			}
		}
		if ev.Error != "" {
			fmt.Fprintf(os.Stderr, "-- history: %s\n", ev.Error)
		}
		return t.status(ev.Status)
	case messaging.EventInserted:
		t.message(ev.Message, "")
	case messaging.EventUpdated:
		t.message(ev.Message, " (edited)")
	case messaging.EventStatus:
		return t.status(ev.Status)
	}
	return false
}

func (t *tailer) status(s messaging.StreamStatus) bool {
	if s == messaging.StreamReady {
		return false
	}
	fmt.Fprintf(os.Stderr, "-- stream %s\n", s)
	return s == messaging.StreamDisconnected || s == messaging.StreamUnavailable
}

func (t *tailer) message(m *models.Message, suffix string) {
	if m == nil {
		return
	}
	who := m.SenderID
	if who == t.self {
		who = "me"
	}
	body := m.Content
	if m.MessageType != models.MessageTypeText {
		body = fmt.Sprintf("[%s] %s", m.MessageType, m.Content)
	}
	fmt.Printf("%s  %-10.10s %s%s\n", m.CreatedAt.Local().Format(time.Kitchen), who, body, suffix)
}

func (t *tailer) lock(d messaging.Decision) {
	state := "unlocked"
	if !d.Unlocked {
		state = "locked"
	}
	if d.Degraded {
		state += ", check failed"
	}
	fmt.Fprintf(os.Stderr, "-- messaging %s\n", state)
}
