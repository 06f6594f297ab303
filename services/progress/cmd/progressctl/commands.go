package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/learning-progress/internal/platform/auth"
	"github.com/example/learning-progress/internal/platform/db"
	"github.com/example/learning-progress/services/progress/internal/domain"
	"github.com/example/learning-progress/services/progress/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the progress schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		pool, err := db.Open(cmd.Context(), databaseURL, db.Options{MaxConns: 1})
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer pool.Close()
		if err := store.Migrate(cmd.Context(), pool); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
		return nil
	},
}

var contentCmd = &cobra.Command{
	Use:   "content",
	Short: "Manage tracked content",
}

const contentExample = `[{"id": "v1", "kind": "instructional_video", "duration_seconds": 600},
 {"id": "c1", "kind": "collection",
  "entries": [{"item": {"content_id": "p1"}, "target_content_id": "v1"}]}]`

var contentPutCmd = &cobra.Command{
	Use:   "put <file.json>",
	Short: "Insert or replace content described by a JSON file",
	Long:  "Reads a JSON array of content objects, for example:\n\n" + contentExample,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		var items []domain.Content
		if err := json.Unmarshal(raw, &items); err != nil {
			return fmt.Errorf("parse %s: %w", args[0], err)
		}
		for _, c := range items {
			if err := c.Validate(); err != nil {
				return err
			}
		}
		s, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()
		for _, c := range items {
			if err := s.catalog.Upsert(cmd.Context(), c); err != nil {
				return err
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d content items stored\n", len(items))
		return nil
	},
}

var startItemID string

var startCmd = &cobra.Command{
	Use:   "start <user-id> <content-id>",
	Short: "Start (or fetch) progress on a collection or video",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		content, err := s.catalog.LoadContent(cmd.Context(), args[1])
		if err != nil {
			return err
		}
		if content == nil {
			return fmt.Errorf("content %s: %w", args[1], domain.ErrNotFound)
		}
		var out any
		if content.Kind == domain.KindCollection {
			out, err = s.orch.StartCollection(cmd.Context(), args[0], args[1])
		} else {
			out, err = s.orch.StartVideo(cmd.Context(), args[0], args[1], startItemID)
		}
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), out)
	},
}

var playheadCmd = &cobra.Command{
	Use:   "playhead <user-id> <video-progress-id> <seconds>",
	Short: "Record a playhead position",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		secs, err := strconv.ParseFloat(args[2], 64)
		if err != nil || secs < 0 {
			return fmt.Errorf("seconds must be a non-negative number, got %q", args[2])
		}
		s, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()
		video, err := s.orch.RecordPlayhead(cmd.Context(), args[0], args[1], secs)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), video)
	},
}

var completeMethod string

var completeCmd = &cobra.Command{
	Use:   "complete <user-id> <item-progress-id>",
	Short: "Mark an item completed and advance the collection",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if completeMethod != domain.CompletionManual && completeMethod != domain.CompletionViewed {
			return fmt.Errorf("--method must be %q or %q", domain.CompletionManual, domain.CompletionViewed)
		}
		s, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()
		current, err := s.orch.MarkCompleted(cmd.Context(), args[0], args[1], completeMethod)
		if err != nil {
			if domain.IsRetryable(err) {
				return fmt.Errorf("%w (state may be partially restored, rerun the command)", err)
			}
			return err
		}
		return printJSON(cmd.OutOrStdout(), current)
	},
}

var uncompleteCmd = &cobra.Command{
	Use:   "uncomplete <user-id> <item-progress-id>",
	Short: "Reopen a completed item",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()
		item, err := s.orch.UnmarkCompleted(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), item)
	},
}

var summaryCmd = &cobra.Command{
	Use:   "summary <user-id> <record-id>",
	Short: "Show a progress record with its percentage and time remaining",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()
		sum, err := s.orch.Summary(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), sum)
	},
}

var tokenTTL time.Duration

var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Issue a bearer token signed with JWT_SECRET (development)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := os.Getenv("JWT_SECRET")
		if secret == "" {
			return fmt.Errorf("JWT_SECRET is not set")
		}
		tok, err := auth.JWTVerifier{Secret: []byte(secret)}.Issue(args[0], tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	contentCmd.AddCommand(contentPutCmd)
	startCmd.Flags().StringVar(&startItemID, "item", "", "Item progress id to link a video to")
	completeCmd.Flags().StringVar(&completeMethod, "method", domain.CompletionManual, "Completion method: manual or viewed")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "Token lifetime")
}
