package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/creativeprojects/go-selfupdate"
	"github.com/spf13/cobra"
)

const repositorySlug = "happyhackingspace/werger"

var errNoRelease = errors.New("no werger release found")

// updater finds and installs werger releases.
type updater interface {
	// Latest returns the newest release and whether it is newer than
	// current.
	Latest(ctx context.Context, current string) (version string, newer bool, err error)
	// Install replaces the binary at exe with the release found by Latest.
	Install(ctx context.Context, exe string) error
}

// releaseUpdater reads releases from the GitHub repository.
type releaseUpdater struct {
	up     *selfupdate.Updater
	latest *selfupdate.Release
}

func newReleaseUpdater() (updater, error) {
	up, err := selfupdate.NewUpdater(selfupdate.Config{})
	if err != nil {
		return nil, err
	}
	return &releaseUpdater{up: up}, nil
}

func (u *releaseUpdater) Latest(ctx context.Context, current string) (string, bool, error) {
	latest, found, err := u.up.DetectLatest(ctx, selfupdate.ParseSlug(repositorySlug))
	if err != nil {
		return "", false, fmt.Errorf("detect latest version: %w", err)
	}
	if !found {
		return "", false, errNoRelease
	}
	u.latest = latest
	return latest.Version(), !latest.LessOrEqual(current), nil
}

func (u *releaseUpdater) Install(ctx context.Context, exe string) error {
	if u.latest == nil {
		return errNoRelease
	}
	return u.up.UpdateTo(ctx, u.latest, exe)
}

func (c *CLI) newUpCommand() *cobra.Command {
	var check bool
	cmd := &cobra.Command{
		Use:   "up",
		Short: "Update werger to the latest release",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := c.newUpdater()
			if err != nil {
				return err
			}
			return c.selfUpdate(cmd, u, check)
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "Only report whether a newer release exists")
	return cmd
}

func (c *CLI) selfUpdate(cmd *cobra.Command, u updater, check bool) error {
	current := c.version
	if current == "dev" {
		current = "0.0.0"
	}
	out := cmd.OutOrStdout()

	latest, newer, err := u.Latest(cmd.Context(), current)
	if err != nil {
		return err
	}
	if !newer {
		_, err := fmt.Fprintf(out, "werger %s is current (latest release %s)\n", c.version, latest)
		return err
	}
	if check {
		_, err := fmt.Fprintf(out, "werger %s is available (running %s)\n", latest, c.version)
		return err
	}

	slog.Info("Updating werger", "from", c.version, "to", latest)
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	if err := u.Install(cmd.Context(), exe); err != nil {
		return fmt.Errorf("install %s: %w", latest, err)
	}
	_, err = fmt.Fprintf(out, "Installed werger %s\n", latest)
	return err
}
