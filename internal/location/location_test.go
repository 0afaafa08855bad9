package location

import (
	"errors"
	"testing"

	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/errdefs"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    StorageLocation
		wantErr bool
	}{
		{
			name: "gcp",
			raw:  "gcp://bucket/cluster/test-dc/1",
			want: StorageLocation{Provider: "gcp", Bucket: "bucket", ClusterID: "cluster", DatacenterID: "test-dc", NodeID: "1"},
		},
		{
			name: "trailing slash and upper-case scheme",
			raw:  "S3://b/c1/dc1/node1/",
			want: StorageLocation{Provider: "s3", Bucket: "b", ClusterID: "c1", DatacenterID: "dc1", NodeID: "node1"},
		},
		{name: "missing node", raw: "azure://b/c1/dc1", wantErr: true},
		{name: "too deep", raw: "azure://b/c1/dc1/n/extra", wantErr: true},
		{name: "no scheme", raw: "b/c1/dc1/n", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, errdefs.ErrConfiguration) {
					t.Fatalf("want ErrConfiguration, got %v", err)
				}
				return
			}
			if got != tt.want {
				t.Fatalf("Parse(%q) = %+v, want %+v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestPrefixAndNodePath(t *testing.T) {
	l := StorageLocation{Provider: "local", Bucket: "bucket", ClusterID: "c1", DatacenterID: "dc1", NodeID: "node1"}
	if got := l.Prefix(); got != "bucket/c1/dc1/node1/" {
		t.Fatalf("Prefix() = %q", got)
	}
	if got := l.NodePath("data/ks/tbl/a-Data.db"); got != "c1/dc1/node1/data/ks/tbl/a-Data.db" {
		t.Fatalf("NodePath() = %q", got)
	}
	if got := l.String(); got != "local://bucket/c1/dc1/node1" {
		t.Fatalf("String() = %q", got)
	}
}
