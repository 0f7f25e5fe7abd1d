package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/mailonline/chpusage/internal/api"
	"github.com/mailonline/chpusage/internal/config"
	"github.com/mailonline/chpusage/internal/storage"
	"github.com/mailonline/chpusage/internal/usage"
)

// commandContext is cancelled on SIGINT/SIGTERM.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

// withLocalApp loads the configuration and runs fn against the store directly.
func withLocalApp(fn func(a *app) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func localRecord(a *app, postID int64) (api.UsageResponse, error) {
	if _, err := a.store.GetPost(postID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return api.UsageResponse{}, fmt.Errorf("post %d not found", postID)
		}
		return api.UsageResponse{}, err
	}
	rec, flagged, err := a.reporter.Record(postID)
	if err != nil {
		return api.UsageResponse{}, err
	}
	return api.UsageResponse{PostID: postID, Flagged: flagged, Record: rec}, nil
}

// --- send ---

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send the CHP usage of a post now",
	Long: `Run one usage attempt for a post, as a scheduled retry would.

The attempt runs on the server unless --local is given, in which case it runs
in this process against the configured data directory.

Examples:
  chpusage send --post-id 1234
  chpusage send --post-id 1234 --local`,
	RunE: func(cmd *cobra.Command, args []string) error {
		postID, _ := cmd.Flags().GetInt64("post-id")
		local, _ := cmd.Flags().GetBool("local")
		if postID <= 0 {
			return fmt.Errorf("--post-id is required")
		}

		ctx, cancel := commandContext(cmd)
		defer cancel()

		printStep("Sending CHP usage for post %d", postID)

		var resp api.UsageResponse
		if local {
			err := withLocalApp(func(a *app) error {
				if _, err := localRecord(a, postID); err != nil {
					return err
				}
				rec, err := a.reporter.Send(ctx, postID, false)
				if err != nil {
					return err
				}
				if resp, err = localRecord(a, postID); err != nil {
					return err
				}
				resp.Attempted = rec != nil
				return nil
			})
			if err != nil {
				return err
			}
		} else {
			client, err := newAPIClient()
			if err != nil {
				return err
			}
			if resp, err = client.sendUsage(ctx, postID); err != nil {
				return err
			}
		}

		reportUsage(resp)
		return nil
	},
}

func init() {
	sendCmd.Flags().Int64("post-id", 0, "post to send the usage for")
	sendCmd.Flags().Bool("local", false, "run the attempt in this process instead of on the server")
}

// reportUsage prints a one-line summary per image.
func reportUsage(resp api.UsageResponse) {
	if !resp.Attempted {
		printWarning("No attempt made for post %d (reporting unconfigured or no attempts left)", resp.PostID)
	}
	if resp.Record == nil || len(resp.Record.Images) == 0 {
		printStatus("Images", "none recorded")
		return
	}
	for _, id := range resp.Record.ImageIDs() {
		printStatus("Image "+strconv.FormatInt(id, 10), "%s", imageLabel(resp.Record.Images[id]))
	}
	printStatus("Attempts left", "%s", countLabel(resp.Record.Retries))
	if resp.Flagged {
		printWarning("Post %d still has failed images", resp.PostID)
	} else {
		printSuccess("Post %d has no failed images", resp.PostID)
	}
}

func imageLabel(u *usage.ImageUsage) string {
	switch {
	case u.Done():
		return colorize(colorGreen, "reported") + " (asset " + u.AssetID + ")"
	case u.Error != "":
		return colorize(colorRed, u.Error)
	default:
		return "pending"
	}
}

func countLabel(n *int) string {
	if n == nil {
		return "full"
	}
	return strconv.Itoa(*n)
}

// --- sweep ---

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Retry every recently changed post that still has failed images",
	RunE: func(cmd *cobra.Command, args []string) error {
		local, _ := cmd.Flags().GetBool("local")

		ctx, cancel := commandContext(cmd)
		defer cancel()

		var attempted int
		if local {
			err := withLocalApp(func(a *app) error {
				n, err := a.controller.DailySweep(ctx)
				attempted = n
				return err
			})
			if err != nil {
				return fmt.Errorf("sweep stopped after %d posts: %w", attempted, err)
			}
		} else {
			client, err := newAPIClient()
			if err != nil {
				return err
			}
			if attempted, err = client.sweep(ctx); err != nil {
				return err
			}
		}

		printSuccess("Swept %d posts", attempted)
		return nil
	},
}

func init() {
	sweepCmd.Flags().Bool("local", false, "run the sweep in this process instead of on the server")
}

// --- record ---

var recordCmd = &cobra.Command{
	Use:   "record <post-id>",
	Short: "Print the stored usage record of a post as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		postID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || postID <= 0 {
			return fmt.Errorf("invalid post id %q", args[0])
		}
		local, _ := cmd.Flags().GetBool("local")

		var resp api.UsageResponse
		if local {
			err = withLocalApp(func(a *app) error {
				resp, err = localRecord(a, postID)
				return err
			})
			if err != nil {
				return err
			}
		} else {
			client, err := newAPIClient()
			if err != nil {
				return err
			}
			if resp, err = client.usageRecord(cmd.Context(), postID); err != nil {
				return err
			}
		}

		return printJSON(cmd.OutOrStdout(), resp)
	},
}

func init() {
	recordCmd.Flags().Bool("local", false, "read the record from the data directory instead of the server")
}

// --- mcp ---

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the usage admin tools over MCP (stdio)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		return withLocalApp(func(a *app) error {
			mcpSrv := api.NewMCPServer(api.MCPDeps{
				Store:     a.store,
				Reporter:  a.reporter,
				Scheduler: a.controller,
			})
			a.logger.Info("MCP server started (stdio transport)")
			err := server.NewStdioServer(mcpSrv).Listen(ctx, os.Stdin, os.Stdout)
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("MCP stdio server: %w", err)
			}
			return nil
		})
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s  (%s)\n", colorize(colorBold, k.Key), k.Value, k.EnvVar)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s", key)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
