package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/livyctl/internal/observability"
	"github.com/3leaps/livyctl/pkg/cluster"
	"github.com/3leaps/livyctl/pkg/output"
)

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Manage the clusters livyctl can submit to",
	Long: `List subscription, linked and emulator clusters, and link or unlink
Livy endpoints by URL.

Examples:
  livyctl cluster list
  livyctl cluster link spark-dev --url https://spark-dev.example.net/livy --username admin
  livyctl cluster emulator add local --url http://localhost:8080`,
}

var clusterListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known clusters",
	RunE:  runClusterList,
}

var clusterLinkCmd = &cobra.Command{
	Use:   "link <name>",
	Short: "Link a cluster by Livy URL",
	Args:  cobra.ExactArgs(1),
	RunE:  runClusterLink,
}

var clusterUnlinkCmd = &cobra.Command{
	Use:   "unlink <name>",
	Short: "Remove a linked cluster",
	Args:  cobra.ExactArgs(1),
	RunE:  runClusterUnlink,
}

var clusterEmulatorCmd = &cobra.Command{
	Use:   "emulator",
	Short: "Manage local emulator clusters",
}

var clusterEmulatorAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Register a local Livy emulator",
	Args:  cobra.ExactArgs(1),
	RunE:  runClusterEmulatorAdd,
}

var clusterEmulatorRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a local Livy emulator",
	Args:  cobra.ExactArgs(1),
	RunE:  runClusterEmulatorRemove,
}

func init() {
	rootCmd.AddCommand(clusterCmd)
	clusterCmd.AddCommand(clusterListCmd, clusterLinkCmd, clusterUnlinkCmd, clusterEmulatorCmd)
	clusterEmulatorCmd.AddCommand(clusterEmulatorAddCmd, clusterEmulatorRemoveCmd)

	clusterListCmd.Flags().Bool("json", false, "Output JSONL records")
	clusterListCmd.Flags().Bool("running", false, "Drop subscription clusters that are not running")
	clusterListCmd.Flags().Bool("linked", false, "Only show linked clusters")

	clusterLinkCmd.Flags().String("url", "", "Livy endpoint URL (required)")
	clusterLinkCmd.Flags().String("kind", "livy", "Link kind: livy, hdi, mfa or sqlbigdata")
	clusterLinkCmd.Flags().String("username", "", "Basic auth username")
	clusterLinkCmd.Flags().String("password", "", "Basic auth password")
	clusterLinkCmd.Flags().String("title", "", "Display title")
	clusterLinkCmd.Flags().String("storage", "", "Artifact storage URI (s3://, wasbs://, ftp://, file://)")
	clusterLinkCmd.Flags().Bool("replace", false, "Replace an existing link with the same name")
	_ = clusterLinkCmd.MarkFlagRequired("url")

	clusterEmulatorAddCmd.Flags().String("url", "http://localhost:8080", "Emulator base URL")
	clusterEmulatorAddCmd.Flags().String("storage", "", "Artifact storage URI")
}

func runClusterList(cmd *cobra.Command, _ []string) error {
	ctx := commandContext(cmd)
	jsonOutput, _ := cmd.Flags().GetBool("json")
	running, _ := cmd.Flags().GetBool("running")
	linked, _ := cmd.Flags().GetBool("linked")

	reg, closeFn, err := openRegistry(ctx)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to open cluster registry", err)
	}
	defer closeFn()

	var clusters []cluster.ClusterDetail
	switch {
	case linked:
		clusters = reg.LinkedClusters(ctx)
	case running:
		clusters = reg.ClusterDetailsIgnoringErrors(ctx)
	default:
		clusters = reg.ClusterDetails(ctx)
	}
	if !linked && !reg.ListClusterSuccess() {
		observability.CLILogger.Warn("Subscription clusters could not be listed; showing linked and emulator clusters only")
	}

	if jsonOutput {
		w := output.NewJSONLWriter(os.Stdout, "", "")
		defer func() { _ = w.Close() }()
		for _, c := range clusters {
			if err := w.WriteCluster(ctx, output.Cluster(c)); err != nil {
				return err
			}
		}
		return nil
	}

	if len(clusters) == 0 {
		_, _ = fmt.Fprintln(os.Stdout, "No clusters found")
		return nil
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer func() { _ = tw.Flush() }()
	_, _ = fmt.Fprintln(tw, "NAME\tORIGIN\tSTATE\tURL")
	for _, c := range clusters {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.DisplayTitle(), c.Origin, valueOrDash(c.State), c.ConnectionURL)
	}
	return nil
}

func parseLinkKind(s string) (cluster.Origin, cluster.LinkKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "livy":
		return cluster.OriginLinked, cluster.LinkLivy, nil
	case "hdi":
		return cluster.OriginLinked, cluster.LinkHDIAdditional, nil
	case "mfa":
		return cluster.OriginLinked, cluster.LinkHDIMFA, nil
	case "sqlbigdata":
		return cluster.OriginSQLBigData, "", nil
	}
	return "", "", fmt.Errorf("invalid --kind %q (expected livy, hdi, mfa or sqlbigdata)", s)
}

func runClusterLink(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	origin, kind, err := parseLinkKind(flagString(cmd, "kind"))
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid link kind", err)
	}
	c := cluster.ClusterDetail{
		Name:          strings.TrimSpace(args[0]),
		Title:         flagString(cmd, "title"),
		ConnectionURL: flagString(cmd, "url"),
		Origin:        origin,
		LinkKind:      kind,
		Username:      flagString(cmd, "username"),
		Password:      flagString(cmd, "password"),
		StorageURI:    flagString(cmd, "storage"),
	}
	if err := c.Validate(); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid cluster", err)
	}

	reg, closeFn, err := openRegistry(ctx)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to open cluster registry", err)
	}
	defer closeFn()

	replace, _ := cmd.Flags().GetBool("replace")
	if replace {
		err = reg.UpdateLinkedCluster(ctx, c)
		if errors.Is(err, cluster.ErrClusterNotFound) {
			err = reg.AddLinkedCluster(ctx, c)
		}
	} else {
		err = reg.AddLinkedCluster(ctx, c)
	}
	if err != nil {
		return linkError(err)
	}
	observability.CLILogger.Info("Linked cluster " + c.Name)
	return nil
}

func runClusterUnlink(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	reg, closeFn, err := openRegistry(ctx)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to open cluster registry", err)
	}
	defer closeFn()

	if err := reg.RemoveLinkedCluster(ctx, strings.TrimSpace(args[0])); err != nil {
		return linkError(err)
	}
	observability.CLILogger.Info("Unlinked cluster " + args[0])
	return nil
}

func runClusterEmulatorAdd(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	c := cluster.ClusterDetail{
		Name:          strings.TrimSpace(args[0]),
		ConnectionURL: flagString(cmd, "url"),
		Origin:        cluster.OriginEmulator,
		StorageURI:    flagString(cmd, "storage"),
	}
	if err := c.Validate(); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid cluster", err)
	}

	reg, closeFn, err := openRegistry(ctx)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to open cluster registry", err)
	}
	defer closeFn()

	if err := reg.AddEmulatorCluster(ctx, c); err != nil {
		return linkError(err)
	}
	observability.CLILogger.Info("Added emulator cluster " + c.Name)
	return nil
}

func runClusterEmulatorRemove(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	reg, closeFn, err := openRegistry(ctx)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to open cluster registry", err)
	}
	defer closeFn()

	if err := reg.RemoveEmulatorCluster(ctx, strings.TrimSpace(args[0])); err != nil {
		return linkError(err)
	}
	observability.CLILogger.Info("Removed emulator cluster " + args[0])
	return nil
}

func linkError(err error) error {
	switch {
	case errors.Is(err, cluster.ErrClusterExists), errors.Is(err, cluster.ErrClusterNotFound):
		return exitError(foundry.ExitInvalidArgument, "Cluster registry update rejected", err)
	default:
		return exitError(foundry.ExitFileWriteError, "Failed to update cluster registry", err)
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func flagString(cmd *cobra.Command, name string) string {
	v, _ := cmd.Flags().GetString(name)
	return strings.TrimSpace(v)
}

func valueOrDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
