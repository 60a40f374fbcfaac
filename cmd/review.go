package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/user"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/jobbot/internal/jobs"
	"github.com/spigell/jobbot/internal/notifier"
	"github.com/spigell/jobbot/internal/store"
)

const (
	PromptAccept  = "Accept"
	PromptDecline = "Decline"
	PromptSkip    = "Skip"
	PromptQuit    = "Quit"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Accept or decline sent jobs interactively",
	Run: func(cmd *cobra.Command, _ []string) {
		limit, _ := cmd.Flags().GetInt("limit")
		withStore(cmd, func(ctx context.Context, st store.Store, _ *Config, logger *zap.Logger) {
			if err := review(ctx, st, limit, logger); err != nil {
				logger.Fatal("review failed", zap.Error(err))
			}
		})
	},
}

func init() {
	rootCmd.AddCommand(reviewCmd)

	reviewCmd.Flags().IntP("limit", "l", 0, "review at most this many jobs. Default is all sent jobs.")
}

func review(ctx context.Context, st store.Store, limit int, logger *zap.Logger) error {
	pending, err := st.ListByState(ctx, jobs.StateSent, limit)
	if err != nil {
		return fmt.Errorf("listing sent jobs: %w", err)
	}
	if len(pending) == 0 {
		logger.Info("exiting", zap.String("reason", "no jobs waiting for a decision"))
		return nil
	}

	actor := "cli"
	if u, err := user.Current(); err == nil {
		actor = u.Username
	}

	for i, job := range pending {
		fmt.Printf("\n[%d/%d] %s\n\n", i+1, len(pending), notifier.Format(job))

		prompt := promptui.Select{
			Label: "Decision",
			Items: []string{PromptAccept, PromptDecline, PromptSkip, PromptQuit},
		}
		_, action, err := prompt.Run()
		if err != nil {
			if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) {
				return nil
			}
			return err
		}

		switch action {
		case PromptQuit:
			return nil
		case PromptSkip:
			continue
		case PromptAccept, PromptDecline:
			accepted := action == PromptAccept
			if err := st.MarkDecision(ctx, job.ID(), accepted, actor); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					logger.Warn("job no longer available", zap.String("job_id", job.ID()))
					continue
				}
				return err
			}
			logger.Info("decision recorded", zap.String("job_id", job.ID()), zap.Bool("accepted", accepted))
		}
	}

	return nil
}
