package xbigtable

import (
	"context"
	"strings"

	"cloud.google.com/go/bigtable"
)

// The BigTable sink uses the GCP BigTable Go client API for its functionality.
// We're decoupling this API here on consumer side for full unit test capabilities.

type BigTableClient interface {
	Open(table string) BigTableTable
	Close() error
}

type BigTableAdminClient interface {
	Tables(ctx context.Context) ([]string, error)
	CreateTable(ctx context.Context, table string) error
	TableInfo(ctx context.Context, table string) (*bigtable.TableInfo, error)
	CreateColumnFamily(ctx context.Context, table, family string) error
	SetGCPolicy(ctx context.Context, table, family string, policy bigtable.GCPolicy) error
	Close() error
}

type BigTableTable interface {
	ApplyBulk(ctx context.Context, rowKeys []string, muts []*bigtable.Mutation, opts ...bigtable.ApplyOption) ([]error, error)
}

type defaultClient struct {
	client *bigtable.Client
}

func NewBigTableClient(client *bigtable.Client) BigTableClient {
	return &defaultClient{client: client}
}

func (c *defaultClient) Open(table string) BigTableTable {
	return c.client.Open(table)
}

func (c *defaultClient) Close() error {
	return c.client.Close()
}

// No good granular way to properly get real error codes from bt client, to detect these "non-errors".
// Need to parse error string -.-
func otherStreamCreatingTable(err error) bool {
	return strings.Contains(err.Error(), "AlreadyExists") ||
		strings.Contains(err.Error(), "Table currently being created") ||
		strings.Contains(err.Error(), "is creating")
}

func sliceContains(list []string, target string) bool {
	for _, s := range list {
		if s == target {
			return true
		}
	}
	return false
}
