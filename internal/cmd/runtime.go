package cmd

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/3leaps/livyctl/internal/config"
	"github.com/3leaps/livyctl/internal/observability"
	"github.com/3leaps/livyctl/pkg/cluster"
	"github.com/3leaps/livyctl/pkg/livy"
	"github.com/3leaps/livyctl/pkg/properties"
	"github.com/3leaps/livyctl/pkg/provider"
	"github.com/3leaps/livyctl/pkg/provider/azureblob"
	"github.com/3leaps/livyctl/pkg/provider/file"
	"github.com/3leaps/livyctl/pkg/provider/ftp"
	"github.com/3leaps/livyctl/pkg/provider/s3"
)

// currentConfig returns the loaded configuration, loading defaults when a
// command runs without the root pre-run (tests).
func currentConfig(ctx context.Context) (*config.Config, error) {
	if cfg := config.GetConfig(); cfg != nil {
		return cfg, nil
	}
	return config.Load(ctx)
}

func openProperties(ctx context.Context, cfg *config.Config) (properties.Store, error) {
	dir, err := appDataDir()
	if err != nil {
		return nil, err
	}
	return properties.Open(ctx, properties.Config{
		Backend: properties.Backend(cfg.Store.Backend),
		Path:    cfg.Store.Path,
		Dir:     dir,
	})
}

// subscriptionSource lists Azure clusters when subscriptions are configured.
// Without them only linked and emulator clusters are known.
func subscriptionSource(cfg *config.Config) cluster.SubscriptionSource {
	if len(cfg.Azure.SubscriptionIDs) == 0 {
		return cluster.StaticSource{}
	}
	src, err := cluster.NewARMSource(cfg.Azure.SubscriptionIDs, cfg.Azure.TenantID)
	if err != nil {
		return cluster.StaticSource{Err: err}
	}
	return src
}

// openRegistry opens the property store and builds a registry over it.
// The returned close func releases the store.
func openRegistry(ctx context.Context) (*cluster.Registry, func(), error) {
	cfg, err := currentConfig(ctx)
	if err != nil {
		return nil, nil, err
	}
	props, err := openProperties(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open properties: %w", err)
	}
	reg := cluster.NewRegistry(props, subscriptionSource(cfg), observability.CLILogger)
	return reg, func() { _ = props.Close() }, nil
}

func jobsRootDir() (string, error) {
	dir, err := appDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "jobs"), nil
}

// clusterAuth picks credentials for c: basic auth for clusters carrying a
// username, Azure tokens for subscription clusters, none otherwise.
func clusterAuth(c cluster.ClusterDetail, cfg *config.Config) (livy.Authenticator, error) {
	if strings.TrimSpace(c.Username) != "" {
		return livy.BasicAuth{Username: c.Username, Password: c.Password}, nil
	}
	if c.Origin == cluster.OriginSubscription {
		src, err := livy.NewAzureTokenSource(cfg.Azure.TenantID)
		if err != nil {
			return nil, err
		}
		return livy.BearerAuth{Source: src}, nil
	}
	return nil, nil
}

func newLivyClient(c cluster.ClusterDetail, cfg *config.Config) (*livy.Client, error) {
	auth, err := clusterAuth(c, cfg)
	if err != nil {
		return nil, err
	}
	return livy.New(livy.Config{
		BaseURL:      c.ConnectionURL,
		Timeout:      cfg.Livy.RequestTimeout,
		Auth:         auth,
		RateLimit:    cfg.Livy.RateLimit,
		Retry:        livy.RetryPolicy{RetriesMax: cfg.Livy.RetriesMax, Delay: cfg.Livy.RetryDelay},
		PollInterval: cfg.Livy.PollInterval,
		Logger:       observability.CLILogger,
	})
}

// resolveCluster finds name in the registry.
func resolveCluster(ctx context.Context, reg *cluster.Registry, name string) (cluster.ClusterDetail, error) {
	c, ok := reg.ClusterByName(ctx, name)
	if !ok {
		return cluster.ClusterDetail{}, fmt.Errorf("%w: %s", cluster.ErrClusterNotFound, name)
	}
	return c, nil
}

// artifactStore opens the upload store. The deploy.backend setting wins;
// otherwise the cluster's storage URI selects the backend. The returned
// prefix is the key prefix from the storage URI.
func artifactStore(ctx context.Context, dc config.DeployConfig, storageURI string) (provider.Provider, string, error) {
	backend := strings.ToLower(strings.TrimSpace(dc.Backend))
	if backend != "" {
		p, err := storeForBackend(ctx, backend, dc)
		return p, "", err
	}
	if strings.TrimSpace(storageURI) == "" {
		return nil, "", fmt.Errorf("no artifact store configured: set deploy.backend or the cluster's storage URI")
	}
	return storeForURI(ctx, storageURI, dc)
}

func storeForBackend(ctx context.Context, backend string, dc config.DeployConfig) (provider.Provider, error) {
	pt, ok := provider.ParseProviderType(backend)
	if !ok {
		return nil, fmt.Errorf("unknown deploy backend %q (expected s3, azblob, ftp or file)", backend)
	}
	var (
		p   provider.Provider
		err error
	)
	switch pt {
	case provider.ProviderS3:
		p, err = s3.New(ctx, s3.Config{
			Bucket:          dc.S3.Bucket,
			Region:          dc.S3.Region,
			Endpoint:        dc.S3.Endpoint,
			Profile:         dc.S3.Profile,
			AccessKeyID:     dc.S3.AccessKeyID,
			SecretAccessKey: dc.S3.SecretAccessKey,
			ForcePathStyle:  dc.S3.ForcePathStyle,
		})
	case provider.ProviderAzBlob:
		p, err = azureblob.New(azureblob.Config{
			Account:    dc.AzBlob.Account,
			ServiceURL: dc.AzBlob.ServiceURL,
			Container:  dc.AzBlob.Container,
			AccountKey: dc.AzBlob.AccountKey,
		})
	case provider.ProviderFTP:
		p, err = ftp.New(ftp.Config{
			Addr:     dc.FTP.Addr,
			Username: dc.FTP.Username,
			Password: dc.FTP.Password,
			BaseDir:  dc.FTP.BaseDir,
			Timeout:  dc.FTP.Timeout,
		})
	default:
		p, err = file.New(file.Config{BaseDir: dc.File.BaseDir})
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// storeForURI maps a storage URI onto a backend:
//
//	s3://bucket/prefix
//	wasbs://container@account.blob.core.windows.net/prefix
//	ftp://host[:port]/dir
//	file:///dir
func storeForURI(ctx context.Context, raw string, dc config.DeployConfig) (provider.Provider, string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, "", fmt.Errorf("invalid storage uri %q: %w", raw, err)
	}
	prefix := strings.Trim(u.Path, "/")

	switch strings.ToLower(u.Scheme) {
	case "s3":
		cfg := dc
		cfg.S3.Bucket = u.Host
		p, err := storeForBackend(ctx, string(provider.ProviderS3), cfg)
		return p, prefix, err
	case "wasb", "wasbs", "abfs", "abfss":
		if u.User == nil || u.User.Username() == "" {
			return nil, "", fmt.Errorf("invalid storage uri %q: expected container@account host", raw)
		}
		account, _, _ := strings.Cut(u.Hostname(), ".")
		cfg := dc
		cfg.AzBlob = config.AzBlobConfig{Account: account, Container: u.User.Username(), AccountKey: dc.AzBlob.AccountKey}
		p, err := storeForBackend(ctx, string(provider.ProviderAzBlob), cfg)
		return p, prefix, err
	case "ftp":
		cfg := dc
		cfg.FTP.Addr = u.Host
		if u.Port() == "" {
			cfg.FTP.Addr = u.Host + ":21"
		}
		if u.User != nil {
			cfg.FTP.Username = u.User.Username()
			if pw, ok := u.User.Password(); ok {
				cfg.FTP.Password = pw
			}
		}
		cfg.FTP.BaseDir = "/" + prefix
		p, err := storeForBackend(ctx, string(provider.ProviderFTP), cfg)
		return p, "", err
	case "file":
		cfg := dc
		cfg.File.BaseDir = u.Path
		p, err := storeForBackend(ctx, string(provider.ProviderFile), cfg)
		return p, "", err
	}
	return nil, "", fmt.Errorf("unsupported storage uri scheme %q", u.Scheme)
}

// joinFolder prefixes folder with the storage URI prefix.
func joinFolder(prefix, folder string) string {
	if prefix == "" {
		return folder
	}
	return path.Join(prefix, folder)
}
