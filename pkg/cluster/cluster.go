// Package cluster keeps the merged view of Spark clusters a user can submit
// to: clusters found in Azure subscriptions, clusters linked by Livy URL and
// local emulator clusters.
package cluster

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Origin tells where a cluster entry came from.
type Origin string

const (
	OriginSubscription Origin = "subscription"
	OriginLinked       Origin = "linked"
	OriginEmulator     Origin = "emulator"
	OriginSQLBigData   Origin = "sql-big-data"
)

// LinkKind distinguishes linked clusters for persistence. Each kind is
// stored under its own property key.
type LinkKind string

const (
	LinkHDIAdditional LinkKind = "hdi-additional"
	LinkHDIMFA        LinkKind = "hdi-mfa"
	LinkLivy          LinkKind = "hdi-livy-link"
)

// Property keys holding the persisted cluster lists as JSON arrays.
const (
	KeyAdditionalClusters    = "hdinsight.additional.clusters"
	KeyAdditionalMFAClusters = "hdinsight.additional.mfa.clusters"
	KeyLivyLinkClusters      = "hdinsight.livy.link.clusters"
	KeySQLBigDataClusters    = "sqlbigdata.livy.link.clusters"
	KeyEmulatorClusters      = "hdinsight.emulator.clusters"
)

// linkedKeys lists every key whose entries make up LinkedClusters.
var linkedKeys = []string{KeyAdditionalClusters, KeyAdditionalMFAClusters, KeyLivyLinkClusters, KeySQLBigDataClusters}

var (
	ErrClusterExists   = errors.New("cluster already exists")
	ErrClusterNotFound = errors.New("cluster not found")
)

// ClusterDetail describes one cluster reachable through Livy.
type ClusterDetail struct {
	Name          string   `json:"name"`
	Title         string   `json:"title,omitempty"`
	ConnectionURL string   `json:"connectionUrl"`
	State         string   `json:"state,omitempty"`
	Origin        Origin   `json:"origin"`
	LinkKind      LinkKind `json:"linkKind,omitempty"`

	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`

	// StorageURI is the default artifact upload root for this cluster.
	StorageURI string `json:"storageUri,omitempty"`

	SubscriptionID string `json:"subscriptionId,omitempty"`
	ResourceGroup  string `json:"resourceGroup,omitempty"`
	Location       string `json:"location,omitempty"`
}

// DisplayTitle returns Title, or Name when no title is set.
func (c ClusterDetail) DisplayTitle() string {
	if strings.TrimSpace(c.Title) != "" {
		return c.Title
	}
	return c.Name
}

// IsRunning compares State with "Running", ignoring case.
func (c ClusterDetail) IsRunning() bool {
	return strings.EqualFold(strings.TrimSpace(c.State), "Running")
}

// IsLinked reports whether c supersedes a subscription cluster of the same
// name. SQL Big Data clusters never do.
func (c ClusterDetail) IsLinked() bool {
	return c.Origin == OriginLinked
}

// Validate checks the fields every entry needs.
func (c ClusterDetail) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("cluster name is required")
	}
	u, err := url.Parse(strings.TrimSpace(c.ConnectionURL))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("cluster %s: connection url must be an http(s) URL, got %q", c.Name, c.ConnectionURL)
	}
	switch c.Origin {
	case OriginSubscription, OriginEmulator, OriginSQLBigData:
	case OriginLinked:
		switch c.LinkKind {
		case LinkHDIAdditional, LinkHDIMFA, LinkLivy:
		default:
			return fmt.Errorf("cluster %s: unknown link kind %q", c.Name, c.LinkKind)
		}
	default:
		return fmt.Errorf("cluster %s: unknown origin %q", c.Name, c.Origin)
	}
	return nil
}

// keyFor returns the property key a linked or emulator entry persists under.
func keyFor(c ClusterDetail) string {
	switch c.Origin {
	case OriginEmulator:
		return KeyEmulatorClusters
	case OriginSQLBigData:
		return KeySQLBigDataClusters
	}
	switch c.LinkKind {
	case LinkHDIMFA:
		return KeyAdditionalMFAClusters
	case LinkLivy:
		return KeyLivyLinkClusters
	}
	return KeyAdditionalClusters
}

// originForKey is the inverse of keyFor; persisted entries take their
// origin from the key they were read from.
func originForKey(key string) (Origin, LinkKind) {
	switch key {
	case KeyAdditionalMFAClusters:
		return OriginLinked, LinkHDIMFA
	case KeyLivyLinkClusters:
		return OriginLinked, LinkLivy
	case KeySQLBigDataClusters:
		return OriginSQLBigData, ""
	case KeyEmulatorClusters:
		return OriginEmulator, ""
	}
	return OriginLinked, LinkHDIAdditional
}
