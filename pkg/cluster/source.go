package cluster

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armresources"

	"github.com/3leaps/livyctl/pkg/livy"
)

// SubscriptionSource lists the clusters of the signed-in user's
// subscriptions.
type SubscriptionSource interface {
	ListClusters(ctx context.Context) ([]ClusterDetail, error)
}

// StaticSource serves a fixed list, for tests and offline use.
type StaticSource struct {
	Clusters []ClusterDetail
	Err      error
}

func (s StaticSource) ListClusters(context.Context) ([]ClusterDetail, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return slices.Clone(s.Clusters), nil
}

const (
	hdinsightResourceType = "Microsoft.HDInsight/clusters"
	hdinsightLivySuffix   = ".azurehdinsight.net/livy"
)

// resourcePager is the subset of *runtime.Pager used here.
type resourcePager interface {
	More() bool
	NextPage(ctx context.Context) (armresources.ClientListResponse, error)
}

// ARMSource lists HDInsight clusters through Azure Resource Manager.
type ARMSource struct {
	subscriptions []string
	newPager      func(subscriptionID string) (resourcePager, error)
}

// NewARMSource authenticates with the default Azure credential chain.
func NewARMSource(subscriptionIDs []string, tenantID string) (*ARMSource, error) {
	cred, err := azidentity.NewDefaultAzureCredential(&azidentity.DefaultAzureCredentialOptions{TenantID: tenantID})
	if err != nil {
		return nil, authError(err)
	}
	return NewARMSourceFromCredential(subscriptionIDs, cred), nil
}

// NewARMSourceFromCredential uses an existing credential.
func NewARMSourceFromCredential(subscriptionIDs []string, cred azcore.TokenCredential) *ARMSource {
	return &ARMSource{
		subscriptions: slices.Clone(subscriptionIDs),
		newPager: func(sub string) (resourcePager, error) {
			client, err := armresources.NewClient(sub, cred, nil)
			if err != nil {
				return nil, err
			}
			filter := fmt.Sprintf("resourceType eq '%s'", hdinsightResourceType)
			expand := "provisioningState"
			return client.NewListPager(&armresources.ClientListOptions{Filter: &filter, Expand: &expand}), nil
		},
	}
}

func (s *ARMSource) ListClusters(ctx context.Context) ([]ClusterDetail, error) {
	var out []ClusterDetail
	for _, sub := range s.subscriptions {
		pager, err := s.newPager(sub)
		if err != nil {
			return nil, classify(sub, err)
		}
		for pager.More() {
			page, err := pager.NextPage(ctx)
			if err != nil {
				return nil, classify(sub, err)
			}
			for _, res := range page.Value {
				if c, ok := clusterFromResource(sub, res); ok {
					out = append(out, c)
				}
			}
		}
	}
	return out, nil
}

func clusterFromResource(sub string, res *armresources.GenericResourceExpanded) (ClusterDetail, bool) {
	if res == nil || res.Name == nil || *res.Name == "" {
		return ClusterDetail{}, false
	}
	if res.Type != nil && !strings.EqualFold(*res.Type, hdinsightResourceType) {
		return ClusterDetail{}, false
	}
	name := *res.Name
	c := ClusterDetail{
		Name:           name,
		Title:          name,
		ConnectionURL:  "https://" + name + hdinsightLivySuffix,
		State:          clusterState(deref(res.ProvisioningState)),
		Origin:         OriginSubscription,
		SubscriptionID: sub,
		ResourceGroup:  resourceGroup(deref(res.ID)),
		Location:       deref(res.Location),
	}
	return c, true
}

// clusterState maps the ARM provisioning state onto the cluster state
// vocabulary: a provisioned cluster is running.
func clusterState(provisioning string) string {
	if strings.EqualFold(provisioning, "Succeeded") {
		return "Running"
	}
	if provisioning == "" {
		return "Unknown"
	}
	return provisioning
}

// resourceGroup extracts the group from
// /subscriptions/<sub>/resourceGroups/<rg>/providers/...
func resourceGroup(id string) string {
	parts := strings.Split(strings.Trim(id, "/"), "/")
	for i := 0; i+1 < len(parts); i++ {
		if strings.EqualFold(parts[i], "resourceGroups") {
			return parts[i+1]
		}
	}
	return ""
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func classify(sub string, err error) error {
	var authFailed *azidentity.AuthenticationFailedError
	var authRequired *azidentity.AuthenticationRequiredError
	if errors.As(err, &authFailed) || errors.As(err, &authRequired) {
		return authError(err)
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return authError(err)
		}
		if respErr.StatusCode >= 500 || respErr.StatusCode == http.StatusTooManyRequests {
			return &livy.Error{Op: "ListClusters", Kind: livy.ErrNetwork, StatusCode: respErr.StatusCode, Err: err}
		}
	}
	return fmt.Errorf("list clusters of subscription %s: %w", sub, err)
}

func authError(err error) error {
	return &livy.Error{Op: "ListClusters", Kind: livy.ErrAuth, Err: err}
}
