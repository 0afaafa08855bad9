// Package location describes where one node's backups live in object storage.
package location

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/errdefs"
)

// StorageLocation is the (provider, bucket, cluster, datacenter, node) tuple that
// defines a node's exclusive remote key namespace.
type StorageLocation struct {
	Provider     string
	Bucket       string
	ClusterID    string
	DatacenterID string
	NodeID       string
}

// Parse reads "<provider>://<bucket>/<cluster>/<dc>/<node>".
func Parse(raw string) (StorageLocation, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return StorageLocation{}, errdefs.Configurationf("storage location %q: %v", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return StorageLocation{}, errdefs.Configurationf("storage location %q: want <provider>://<bucket>/<cluster>/<dc>/<node>", raw)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) != 3 {
		return StorageLocation{}, errdefs.Configurationf("storage location %q: want <provider>://<bucket>/<cluster>/<dc>/<node>", raw)
	}
	loc := StorageLocation{
		Provider:     strings.ToLower(u.Scheme),
		Bucket:       u.Host,
		ClusterID:    parts[0],
		DatacenterID: parts[1],
		NodeID:       parts[2],
	}
	if err := loc.Validate(); err != nil {
		return StorageLocation{}, err
	}
	return loc, nil
}

// Validate checks that every segment is set and contains no separator.
func (l StorageLocation) Validate() error {
	for name, v := range map[string]string{
		"provider":   l.Provider,
		"bucket":     l.Bucket,
		"cluster":    l.ClusterID,
		"datacenter": l.DatacenterID,
		"node":       l.NodeID,
	} {
		if strings.TrimSpace(v) == "" {
			return errdefs.Configurationf("storage location: %s is empty", name)
		}
		if strings.Contains(v, "/") {
			return errdefs.Configurationf("storage location: %s %q contains '/'", name, v)
		}
	}
	return nil
}

// Prefix returns "bucket/cluster/dc/node/".
func (l StorageLocation) Prefix() string {
	return path.Join(l.Bucket, l.ClusterID, l.DatacenterID, l.NodeID) + "/"
}

// NodePath returns the in-bucket path "cluster/dc/node/<key>".
func (l StorageLocation) NodePath(key string) string {
	return path.Join(l.ClusterID, l.DatacenterID, l.NodeID, key)
}

func (l StorageLocation) String() string {
	return fmt.Sprintf("%s://%s/%s/%s/%s", l.Provider, l.Bucket, l.ClusterID, l.DatacenterID, l.NodeID)
}
