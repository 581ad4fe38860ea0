// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/AleutianAI/AleutianChat/pkg/chatclient"
	"github.com/AleutianAI/AleutianChat/pkg/ux"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/datatypes"
	"github.com/spf13/cobra"
)

const (
	defaultServer = "http://localhost:12210"
	defaultModel  = "gpt-4o-mini"

	envServer = "CHAT_SERVER_URL"
	envToken  = "CHAT_TOKEN"
)

// cli holds what every subcommand shares once flags are parsed.
type cli struct {
	in      io.Reader
	out     io.Writer
	errOut  io.Writer
	server  string
	token   string
	lang    string
	output  string
	client  *chatclient.Client
	printer *ux.Printer
}

// sendOptions are the flags of send and chat.
type sendOptions struct {
	model        string
	conversation string
	file         string
	privileged   bool
}

func newRootCmd(in io.Reader, out, errOut io.Writer) *cobra.Command {
	c := &cli{in: in, out: out, errOut: errOut}

	root := &cobra.Command{
		Use:           "chatcli",
		Short:         "Chat with a quota-gated model gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.init()
		},
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)

	flags := root.PersistentFlags()
	flags.StringVar(&c.server, "server", envOr(envServer, defaultServer), "chat server base URL ($"+envServer+")")
	flags.StringVar(&c.token, "token", os.Getenv(envToken), "session token ($"+envToken+")")
	flags.StringVar(&c.lang, "lang", "", "language for server error messages")
	flags.StringVarP(&c.output, "output", "o", "", "output style: full, minimal, machine (default: detect)")

	root.AddCommand(
		c.sendCmd(),
		c.chatCmd(),
		c.quotaCmd(),
		c.modelsCmd(),
		c.conversationsCmd(),
		c.historyCmd(),
	)

	return root
}

func (c *cli) init() error {
	level := ux.DetectPersonality(stdoutFile(c.out))
	if c.output != "" {
		level = ux.ParsePersonalityLevel(c.output)
	}
	c.printer = ux.NewPrinter(c.out, c.errOut, level)

	var opts []chatclient.Option
	if c.lang != "" {
		opts = append(opts, chatclient.WithAcceptLanguage(c.lang))
	}
	client, err := chatclient.New(c.server, c.token, opts...)
	if err != nil {
		return c.fail(err)
	}
	c.client = client
	return nil
}

// fail prints err and returns it so cobra exits non-zero.
func (c *cli) fail(err error) error {
	if err == nil {
		return nil
	}
	if c.printer == nil {
		fmt.Fprintln(c.errOut, "error:", err)
		return err
	}
	var apiErr *chatclient.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		c.printer.Error(apiErr.Message)
		return err
	}
	c.printer.Error(err.Error())
	return err
}

// =============================================================================
// send / chat
// =============================================================================

func (c *cli) sendCmd() *cobra.Command {
	var opts sendOptions
	cmd := &cobra.Command{
		Use:   "send [message]",
		Short: "Send one message; reads stdin when the message is - or omitted",
		RunE: func(cmd *cobra.Command, args []string) error {
			message, err := c.message(args)
			if err != nil {
				return c.fail(err)
			}
			req, err := opts.request(message)
			if err != nil {
				return c.fail(err)
			}
			// Seed the mirror so the reservation shows against a real balance.
			if _, err := c.client.Quota(cmd.Context()); err != nil {
				return c.fail(err)
			}
			resp, err := c.client.Send(cmd.Context(), req)
			if err != nil {
				return c.fail(err)
			}
			c.printer.Reply(resp.Content, resp.Cost, resp.Balance, resp.Persisted)
			if opts.conversation == "" && c.printer.Level != ux.PersonalityMachine {
				c.printer.Success("conversation " + resp.ConversationID)
			}
			return nil
		},
	}
	opts.bind(cmd)
	return cmd
}

func (c *cli) chatCmd() *cobra.Command {
	var opts sendOptions
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat over a WebSocket; one message per line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if _, err := c.client.Quota(ctx); err != nil {
				return c.fail(err)
			}
			sock, err := c.client.DialChat(ctx)
			if err != nil {
				return c.fail(err)
			}
			defer sock.Close()

			scanner := bufio.NewScanner(c.in)
			scanner.Buffer(make([]byte, 0, 64*1024), datatypes.MaxMessageBytes+1)
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				if line == "/quit" || line == "/exit" {
					break
				}
				req, err := opts.request(line)
				if err != nil {
					return c.fail(err)
				}
				resp, err := sock.Send(ctx, req)
				if err != nil {
					// Quota and validation errors leave the socket usable.
					var apiErr *chatclient.APIError
					if errors.As(err, &apiErr) {
						_ = c.fail(err)
						continue
					}
					return c.fail(err)
				}
				opts.conversation = resp.ConversationID
				// The file only accompanies the first message.
				opts.file = ""
				c.printer.Reply(resp.Content, resp.Cost, resp.Balance, resp.Persisted)
			}
			return c.fail(scanner.Err())
		},
	}
	opts.bind(cmd)
	return cmd
}

func (o *sendOptions) bind(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVarP(&o.model, "model", "m", defaultModel, "model id (see: chatcli models)")
	f.StringVarP(&o.conversation, "conversation", "c", "", "continue an existing conversation")
	f.StringVarP(&o.file, "file", "f", "", "text file sent as document context")
	f.BoolVar(&o.privileged, "privileged", false, "skip the debit (admin only)")
}

func (o *sendOptions) request(message string) (datatypes.ChatRequest, error) {
	req := datatypes.ChatRequest{
		ConversationID: o.conversation,
		Message:        message,
		ModelID:        o.model,
		IsPrivileged:   o.privileged,
	}
	if o.file != "" {
		data, err := os.ReadFile(o.file)
		if err != nil {
			return req, fmt.Errorf("read context file: %w", err)
		}
		if len(data) > datatypes.MaxFileTextBytes {
			return req, fmt.Errorf("context file is %d bytes, limit is %d", len(data), datatypes.MaxFileTextBytes)
		}
		req.FileText = string(data)
	}
	return req, nil
}

func (c *cli) message(args []string) (string, error) {
	if len(args) > 0 && args[0] != "-" {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(io.LimitReader(c.in, datatypes.MaxMessageBytes+1))
	if err != nil {
		return "", fmt.Errorf("read message: %w", err)
	}
	msg := strings.TrimSpace(string(data))
	if msg == "" {
		return "", errors.New("message is empty")
	}
	return msg, nil
}

// =============================================================================
// Reads
// =============================================================================

func (c *cli) quotaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "quota",
		Short: "Show the remaining points balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q, err := c.client.Quota(cmd.Context())
			if err != nil {
				return c.fail(err)
			}
			c.printer.Quota(q.UserID, q.Balance, c.client.Mirror().Pending())
			return nil
		},
	}
}

func (c *cli) modelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List models and their cost in points",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			models, err := c.client.Models(cmd.Context())
			if err != nil {
				return c.fail(err)
			}
			rows := make([]ux.ModelRow, 0, len(models))
			for _, m := range models {
				rows = append(rows, ux.ModelRow{ID: m.ID, Label: m.Label, Cost: m.Cost})
			}
			c.printer.Models(rows)
			return nil
		},
	}
}

func (c *cli) conversationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"ls"},
		Short:   "List your conversations, newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			convs, err := c.client.Conversations(cmd.Context())
			if err != nil {
				return c.fail(err)
			}
			rows := make([]ux.ConversationRow, 0, len(convs))
			for _, conv := range convs {
				rows = append(rows, ux.ConversationRow{ID: conv.ID, Title: conv.Title, CreatedAt: conv.CreatedAt})
			}
			c.printer.Conversations(rows)
			return nil
		},
	}
}

func (c *cli) historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <conversation-id>",
		Short: "Print the messages of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msgs, err := c.client.History(cmd.Context(), args[0])
			if err != nil {
				return c.fail(err)
			}
			rows := make([]ux.MessageRow, 0, len(msgs))
			for _, m := range msgs {
				rows = append(rows, ux.MessageRow{Role: string(m.Role), Content: m.Content})
			}
			c.printer.Messages(rows)
			return nil
		},
	}
}

// =============================================================================
// Helpers
// =============================================================================

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// stdoutFile returns w as a file when it is one, for terminal detection.
func stdoutFile(w io.Writer) *os.File {
	if f, ok := w.(*os.File); ok {
		return f
	}
	return nil
}
