package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	errwrap "github.com/3leaps/livyctl/internal/errors"
	"github.com/3leaps/livyctl/internal/observability"
	"github.com/3leaps/livyctl/pkg/livy"
	"github.com/3leaps/livyctl/pkg/preflight"
)

var (
	doctorProvider   string
	doctorCluster    string
	doctorWriteProbe bool
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the system and suggest fixes for common issues.

Examples:
  livyctl doctor                       # Full environment check
  livyctl doctor --cluster spark-dev   # Also probe a cluster's Livy endpoint and artifact store
  livyctl doctor --cluster spark-dev --write-probe  # Verify uploads are permitted
  livyctl doctor --provider s3         # S3 credential checks
  livyctl doctor --provider azure      # Azure credential checks`,
	Run: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().StringVar(&doctorProvider, "provider", "", "Run provider-specific checks (s3, azure)")
	doctorCmd.Flags().StringVar(&doctorCluster, "cluster", "", "Probe the Livy endpoint and artifact store of this cluster")
	doctorCmd.Flags().BoolVar(&doctorWriteProbe, "write-probe", false, "Upload and delete a probe object in the artifact store")
}

func runDoctor(cmd *cobra.Command, _ []string) {
	ctx := commandContext(cmd)
	identity := GetAppIdentity()
	bannerName := "doctor"
	if identity != nil && identity.BinaryName != "" {
		bannerName = identity.BinaryName + " doctor"
	}
	observability.CLILogger.Info("=== " + bannerName + " ===")
	observability.CLILogger.Info("")
	observability.CLILogger.Info("Running diagnostic checks...")
	observability.CLILogger.Info("")

	allChecks := true
	checkNum := 1
	totalChecks := 6
	if doctorCluster != "" {
		totalChecks += 2
	}
	switch doctorProvider {
	case "s3":
		totalChecks += 3
	case "azure":
		totalChecks++
	}

	// Check 1: Go version
	goVersion := runtime.Version()
	if goVersion >= "go1.23" {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking Go version... ✅ %s", checkNum, totalChecks, goVersion),
			zap.String("go_version", goVersion))
	} else {
		observability.CLILogger.Warn(fmt.Sprintf("[%d/%d] Checking Go version... ⚠️  %s (recommended: go1.23+)", checkNum, totalChecks, goVersion),
			zap.String("go_version", goVersion))
		allChecks = false
	}
	checkNum++

	// Check 2: Crucible access
	version := crucible.GetVersion()
	if version.Crucible != "" {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking Crucible access... ✅ v%s", checkNum, totalChecks, version.Crucible),
			zap.String("crucible_version", version.Crucible))
	} else {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking Crucible access... ❌ Cannot access Crucible", checkNum, totalChecks))
		ExitWithCode(observability.CLILogger, foundry.ExitExternalServiceUnavailable, "Cannot access Crucible",
			errwrap.NewExternalServiceError("Crucible service unavailable"))
	}
	checkNum++

	// Check 3: Gofulmen access
	if version.Gofulmen != "" {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking Gofulmen access... ✅ v%s", checkNum, totalChecks, version.Gofulmen),
			zap.String("gofulmen_version", version.Gofulmen))
	} else {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking Gofulmen access... ❌ Cannot access Gofulmen", checkNum, totalChecks))
		allChecks = false
	}
	checkNum++

	// Check 4: Data directory
	dir, err := appDataDir()
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking data directory... ❌ Cannot resolve data directory", checkNum, totalChecks),
			zap.Error(err))
		ExitWithCode(observability.CLILogger, foundry.ExitFileNotFound, "Cannot resolve data directory",
			errwrap.WrapInternal(ctx, err, "Cannot resolve data directory"))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking data directory... ❌ %s is not writable", checkNum, totalChecks, dir),
			zap.Error(err))
		allChecks = false
	} else {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking data directory... ✅ %s", checkNum, totalChecks, dir),
			zap.String("data_dir", dir))
	}
	checkNum++

	// Check 5: Cluster registry
	reg, closeReg, err := openRegistry(ctx)
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking cluster registry... ❌ Cannot open registry", checkNum, totalChecks),
			zap.Error(err))
		allChecks = false
	} else {
		clusters := reg.ClusterDetails(ctx)
		if reg.ListClusterSuccess() {
			observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking cluster registry... ✅ %d clusters", checkNum, totalChecks, len(clusters)),
				zap.Int("clusters", len(clusters)))
		} else {
			observability.CLILogger.Warn(fmt.Sprintf("[%d/%d] Checking cluster registry... ⚠️  subscription listing failed; %d linked clusters", checkNum, totalChecks, len(clusters)),
				zap.Int("clusters", len(clusters)))
			allChecks = false
		}
		closeReg()
	}
	checkNum++

	// Check 6: Environment
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking environment... ✅ %s/%s", checkNum, totalChecks, runtime.GOOS, runtime.GOARCH),
		zap.String("os", runtime.GOOS),
		zap.String("arch", runtime.GOARCH))
	checkNum++

	if doctorCluster != "" {
		if !runLivyCheck(ctx, doctorCluster, checkNum, totalChecks) {
			allChecks = false
		}
		checkNum++

		mode := preflight.ModeReadSafe
		if doctorWriteProbe {
			mode = preflight.ModeWriteProbe
		}
		if !runStoreCheck(ctx, doctorCluster, mode, checkNum, totalChecks) {
			allChecks = false
		}
		checkNum++
	}

	switch doctorProvider {
	case "s3":
		allChecks = runS3Checks(ctx, checkNum, totalChecks, allChecks)
	case "azure":
		allChecks = runAzureChecks(ctx, checkNum, totalChecks, allChecks)
	}

	observability.CLILogger.Info("")
	if allChecks {
		observability.CLILogger.Info(fmt.Sprintf("✅ All checks passed! Your %s installation is healthy.", bannerName))
	} else {
		observability.CLILogger.Warn("⚠️  Some checks failed. Review the output above for details.")
	}
	observability.CLILogger.Info("")
	observability.CLILogger.Info("=== End Diagnostics ===")
}

// runLivyCheck lists one batch on the named cluster to prove the endpoint
// answers and accepts our credentials.
func runLivyCheck(ctx context.Context, name string, checkNum, totalChecks int) bool {
	cfg, err := currentConfig(ctx)
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking Livy endpoint... ❌ Invalid configuration", checkNum, totalChecks), zap.Error(err))
		return false
	}
	reg, closeReg, err := openRegistry(ctx)
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking Livy endpoint... ❌ Cannot open registry", checkNum, totalChecks), zap.Error(err))
		return false
	}
	c, err := resolveCluster(ctx, reg, name)
	closeReg()
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking Livy endpoint... ❌ Unknown cluster %s", checkNum, totalChecks, name))
		return false
	}
	client, err := newLivyClient(c, cfg)
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking Livy endpoint... ❌ Cannot create client", checkNum, totalChecks), zap.Error(err))
		return false
	}

	probeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	list, err := client.List(probeCtx, 0, 1)
	switch {
	case err == nil:
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking Livy endpoint... ✅ %s (%d batches)", checkNum, totalChecks, c.ConnectionURL, list.Total),
			zap.String("cluster", c.Name))
		return true
	case livy.IsAuth(err):
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking Livy endpoint... ❌ Credentials rejected", checkNum, totalChecks), zap.Error(err))
	default:
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking Livy endpoint... ❌ %s unreachable", checkNum, totalChecks, c.ConnectionURL), zap.Error(err))
	}
	return false
}

// runStoreCheck runs the artifact store preflight for the named cluster
// against the folder a deploy would upload to.
func runStoreCheck(ctx context.Context, name string, mode preflight.Mode, checkNum, totalChecks int) bool {
	label := fmt.Sprintf("[%d/%d] Checking artifact store (%s)...", checkNum, totalChecks, mode)
	us, err := openUploadStore(ctx, name, "")
	if err != nil {
		observability.CLILogger.Error(label+" ❌ Cannot open store", zap.Error(err))
		return false
	}
	defer us.Close()
	store, folder := us.store, us.folder

	probeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	rec, err := preflight.Store(probeCtx, store, folder, preflight.Spec{Mode: mode})
	for _, r := range rec.Results {
		if r.Allowed {
			observability.CLILogger.Debug("preflight check passed",
				zap.String("capability", r.Capability), zap.String("method", r.Method))
			continue
		}
		observability.CLILogger.Warn("preflight check denied",
			zap.String("capability", r.Capability),
			zap.String("method", r.Method),
			zap.String("code", r.ErrorCode),
			zap.String("detail", r.Detail))
	}
	if err != nil {
		observability.CLILogger.Error(label+" ❌ "+store.URI(folder), zap.Error(err))
		return false
	}
	observability.CLILogger.Info(fmt.Sprintf("%s ✅ %s (%d checks)", label, store.URI(folder), len(rec.Results)),
		zap.String("cluster", us.cluster))
	return true
}

// runS3Checks runs S3-specific diagnostic checks.
func runS3Checks(ctx context.Context, checkNum, totalChecks int, allChecks bool) bool {
	observability.CLILogger.Info("")
	observability.CLILogger.Info("S3 Provider Checks:")

	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking AWS credentials... ❌ Cannot load AWS config", checkNum, totalChecks),
			zap.Error(err))
		printAWSCredentialsHelp()
		return false
	}

	creds, err := cfg.Credentials.Retrieve(ctx)
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking AWS credentials... ❌ Cannot retrieve credentials", checkNum, totalChecks),
			zap.Error(err))
		printAWSCredentialsHelp()
		return false
	}

	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking AWS credentials... ✅ Found credentials", checkNum, totalChecks),
		zap.String("access_key", maskAccessKey(creds.AccessKeyID)),
		zap.String("source", creds.Source))
	checkNum++

	source := creds.Source
	if source == "" {
		source = "unknown"
	}
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking credential source... ✅ %s", checkNum, totalChecks, source),
		zap.String("credential_source", source))
	checkNum++

	region, regionSource := cfg.Region, "config"
	if region == "" {
		imdsCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		out, err := imds.NewFromConfig(cfg).GetRegion(imdsCtx, &imds.GetRegionInput{})
		cancel()
		if err == nil {
			region, regionSource = out.Region, "instance metadata"
		}
	}
	if region == "" {
		observability.CLILogger.Warn(fmt.Sprintf("[%d/%d] Checking AWS region... ⚠️  No region configured (set AWS_REGION or deploy.s3.region)", checkNum, totalChecks))
		return false
	}
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking AWS region... ✅ %s (%s)", checkNum, totalChecks, region, regionSource),
		zap.String("region", region))

	return allChecks
}

// runAzureChecks acquires a token the way subscription clusters do.
func runAzureChecks(ctx context.Context, checkNum, totalChecks int, allChecks bool) bool {
	observability.CLILogger.Info("")
	observability.CLILogger.Info("Azure Checks:")

	cfg, err := currentConfig(ctx)
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking Azure credentials... ❌ Invalid configuration", checkNum, totalChecks), zap.Error(err))
		return false
	}
	src, err := livy.NewAzureTokenSource(cfg.Azure.TenantID)
	if err == nil {
		tokenCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		_, err = src.Token(tokenCtx)
		cancel()
	}
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking Azure credentials... ❌ Cannot acquire token", checkNum, totalChecks),
			zap.Error(err))
		printAzureCredentialsHelp()
		return false
	}
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking Azure credentials... ✅ Token acquired", checkNum, totalChecks),
		zap.Int("subscriptions", len(cfg.Azure.SubscriptionIDs)))
	return allChecks
}

// maskAccessKey masks all but the last 4 characters of an access key.
func maskAccessKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

// printAWSCredentialsHelp prints help for configuring AWS credentials.
func printAWSCredentialsHelp() {
	observability.CLILogger.Info("")
	observability.CLILogger.Info("To configure AWS credentials:")
	observability.CLILogger.Info("  1. Set AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY environment variables, or")
	observability.CLILogger.Info("  2. Run 'aws configure' to set up a profile, or")
	observability.CLILogger.Info("  3. Use IAM role when running on AWS infrastructure")
	observability.CLILogger.Info("")
	observability.CLILogger.Info("For S3-compatible storage (MinIO, Wasabi, etc.), also set:")
	observability.CLILogger.Info("  - deploy.s3.endpoint in the config file")
	observability.CLILogger.Info("")
}

func printAzureCredentialsHelp() {
	observability.CLILogger.Info("")
	observability.CLILogger.Info("To configure Azure credentials:")
	observability.CLILogger.Info("  1. Run 'az login', or")
	observability.CLILogger.Info("  2. Set AZURE_CLIENT_ID, AZURE_TENANT_ID and AZURE_CLIENT_SECRET, or")
	observability.CLILogger.Info("  3. Use a managed identity when running on Azure")
	observability.CLILogger.Info("")
}
