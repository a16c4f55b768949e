package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/livyctl/internal/config"
	"github.com/3leaps/livyctl/internal/observability"
	"github.com/3leaps/livyctl/pkg/deploy"
	"github.com/3leaps/livyctl/pkg/output"
	"github.com/3leaps/livyctl/pkg/preflight"
	"github.com/3leaps/livyctl/pkg/provider"
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Manage artifacts in a cluster's upload store",
	Long: `Upload artifacts to the store a cluster reads jobs from, check that the
store accepts uploads, and remove stale upload folders.

The store is chosen the same way 'submit' chooses it: the deploy.backend
setting wins, otherwise the cluster's storage URI selects the backend.

Examples:
  livyctl deploy upload target/app.jar --cluster spark-dev
  livyctl deploy preflight --cluster spark-dev --write-probe
  livyctl deploy cleanup --cluster spark-dev --older-than 720h`,
}

func newDeployUploadCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "upload <path>",
		Short: "Upload a local artifact and print its remote URI",
		Args:  cobra.ExactArgs(1),
		RunE:  runDeployUpload,
	}
	addDeployFlags(c)
	return c
}

func newDeployPreflightCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "preflight",
		Short: "Check the upload store permits the calls a deploy makes",
		RunE:  runDeployPreflight,
	}
	addDeployFlags(c)
	c.Flags().Bool("write-probe", false, "Upload and delete a probe object")
	return c
}

func newDeployCleanupCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove upload folders older than a cutoff",
		RunE:  runDeployCleanup,
	}
	addDeployFlags(c)
	c.Flags().Duration("older-than", 7*24*time.Hour, "Remove folders whose newest object is older than this")
	return c
}

func addDeployFlags(c *cobra.Command) {
	c.Flags().String("cluster", "", "Cluster whose upload store to use (required)")
	c.Flags().String("folder", "", "Upload folder (default: deploy.folder)")
	c.Flags().Bool("json", false, "Output JSONL records")
	_ = c.MarkFlagRequired("cluster")
}

func init() {
	rootCmd.AddCommand(deployCmd)
	deployCmd.AddCommand(newDeployUploadCommand(), newDeployPreflightCommand(), newDeployCleanupCommand())
}

// uploadStore is the artifact store of one cluster, with the folder
// uploads go to.
type uploadStore struct {
	cfg     *config.Config
	cluster string
	store   provider.Provider
	folder  string
}

func (u *uploadStore) Close() {
	_ = u.store.Close()
}

// openUploadStore resolves a cluster's artifact store. An empty folder
// uses deploy.folder.
func openUploadStore(ctx context.Context, clusterName, folder string) (*uploadStore, error) {
	cfg, err := currentConfig(ctx)
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	reg, closeReg, err := openRegistry(ctx)
	if err != nil {
		return nil, exitError(foundry.ExitFileReadError, "Failed to open cluster registry", err)
	}
	c, err := resolveCluster(ctx, reg, clusterName)
	closeReg()
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Unknown cluster", err)
	}
	store, prefix, err := artifactStore(ctx, cfg.Deploy, c.StorageURI)
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "No usable artifact store", err)
	}
	if folder == "" {
		folder = cfg.Deploy.Folder
	}
	return &uploadStore{cfg: cfg, cluster: c.Name, store: store, folder: joinFolder(prefix, folder)}, nil
}

func runDeployUpload(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	jsonOutput, _ := cmd.Flags().GetBool("json")
	localPath := args[0]

	if _, err := os.Stat(localPath); err != nil {
		return exitError(foundry.ExitFileNotFound, "Artifact not found", err)
	}

	us, err := openUploadStore(ctx, flagString(cmd, "cluster"), flagString(cmd, "folder"))
	if err != nil {
		return err
	}
	defer us.Close()

	d := &deploy.Retrying{
		Next:     deploy.NewStoreDeployer(us.store, observability.CLILogger),
		Attempts: us.cfg.Deploy.Attempts,
		Delay:    us.cfg.Deploy.Delay,
		Logger:   observability.CLILogger,
	}
	uri, attempts, err := d.Upload(ctx, localPath, deploy.Target{Folder: us.folder})
	if err != nil {
		var lfe *deploy.LocalFileError
		if errors.As(err, &lfe) {
			return exitError(foundry.ExitFileReadError, "Failed to read artifact", err)
		}
		return exitError(foundry.ExitExternalServiceUnavailable, "Upload failed", err)
	}

	if jsonOutput {
		w := output.NewJSONLWriter(os.Stdout, "", us.cluster)
		defer func() { _ = w.Close() }()
		return w.WriteUpload(ctx, &output.UploadRecord{LocalPath: localPath, RemoteURI: uri, Attempts: attempts})
	}
	_, _ = fmt.Fprintf(os.Stdout, "remote_uri=%s\n", uri)
	_, _ = fmt.Fprintf(os.Stdout, "attempts=%d\n", attempts)
	return nil
}

func runDeployPreflight(cmd *cobra.Command, _ []string) error {
	ctx := commandContext(cmd)
	jsonOutput, _ := cmd.Flags().GetBool("json")
	writeProbe, _ := cmd.Flags().GetBool("write-probe")

	us, err := openUploadStore(ctx, flagString(cmd, "cluster"), flagString(cmd, "folder"))
	if err != nil {
		return err
	}
	defer us.Close()

	mode := preflight.ModeReadSafe
	if writeProbe {
		mode = preflight.ModeWriteProbe
	}
	rec, runErr := preflight.Store(ctx, us.store, us.folder, preflight.Spec{Mode: mode})

	if jsonOutput {
		w := output.NewJSONLWriter(os.Stdout, "", us.cluster)
		defer func() { _ = w.Close() }()
		if err := w.WritePreflight(ctx, rec); err != nil {
			return err
		}
	} else {
		_, _ = fmt.Fprintf(os.Stdout, "store=%s\n", us.store.URI(us.folder))
		for _, r := range rec.Results {
			status := "allowed"
			if !r.Allowed {
				status = "denied " + r.ErrorCode
			}
			_, _ = fmt.Fprintf(os.Stdout, "%s=%s (%s)\n", r.Capability, status, r.Method)
		}
	}
	if runErr != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Artifact store preflight failed", runErr)
	}
	return nil
}

func runDeployCleanup(cmd *cobra.Command, _ []string) error {
	ctx := commandContext(cmd)
	jsonOutput, _ := cmd.Flags().GetBool("json")
	olderThan, _ := cmd.Flags().GetDuration("older-than")
	if olderThan <= 0 {
		return exitError(foundry.ExitInvalidArgument, "Invalid --older-than", fmt.Errorf("must be positive, got %s", olderThan))
	}

	us, err := openUploadStore(ctx, flagString(cmd, "cluster"), flagString(cmd, "folder"))
	if err != nil {
		return err
	}
	defer us.Close()

	res, err := deploy.NewStoreDeployer(us.store, observability.CLILogger).Cleanup(ctx, deploy.Target{Folder: us.folder}, olderThan)
	if errors.Is(err, deploy.ErrCleanupUnsupported) {
		return exitError(foundry.ExitInvalidArgument, "Artifact store cannot delete uploads", err)
	}
	if err != nil {
		if res != nil && len(res.Folders) > 0 {
			observability.CLILogger.Warn("Cleanup stopped early", zap.Int("removed_folders", len(res.Folders)))
		}
		return exitError(foundry.ExitExternalServiceUnavailable, "Cleanup failed", err)
	}

	if jsonOutput {
		w := output.NewJSONLWriter(os.Stdout, "", us.cluster)
		defer func() { _ = w.Close() }()
		return w.WriteUpload(ctx, &output.UploadRecord{Removed: res.Folders, Objects: res.Objects})
	}
	_, _ = fmt.Fprintf(os.Stdout, "removed_folders=%d\n", len(res.Folders))
	_, _ = fmt.Fprintf(os.Stdout, "removed_objects=%d\n", res.Objects)
	return nil
}
