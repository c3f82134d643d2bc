package xbigtable

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/bigtable"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zpiroux/tapfacebook/entity"
)

var campaignsSpec = &entity.StreamSpec{Name: "campaigns", PrimaryKeys: []string{"id"}}

func TestLoader(t *testing.T) {

	ctx := context.Background()
	client := &MockClient{table: &MockTable{}}
	admin := &MockAdminClient{tables: []string{"foo"}}
	lf, err := NewLoaderFactoryWithClients(client, admin, map[string]string{PropTable: "fb", PropMaxVersions: "3"})
	require.NoError(t, err)
	assert.Equal(t, "bigtable", lf.SinkId())

	l, err := lf.NewLoader(ctx, entity.Config{ID: "1", Spec: campaignsSpec, Log: true})
	require.NoError(t, err)
	_, err = lf.NewLoader(ctx, entity.Config{ID: "2", Spec: campaignsSpec})
	require.NoError(t, err)

	assert.Equal(t, []string{"fb"}, admin.created)
	assert.Equal(t, []string{"r"}, admin.families)
	assert.Equal(t, 1, admin.gcPolicies)
	assert.Equal(t, 1, client.nbOpened)

	records := []*entity.Record{
		{Stream: "campaigns", Data: []byte(`{"id":"c1"}`)},
		{Stream: "campaigns", Data: []byte(`{"id":"c2"}`)},
	}
	key, err, _ := l.StreamLoad(ctx, records)
	require.NoError(t, err)
	assert.Equal(t, "campaigns#c2", key)
	assert.Equal(t, []string{"campaigns#c1", "campaigns#c2"}, client.table.rowKeys)

	client.table.rowErr = errors.New("row failed")
	_, err, retryable := l.StreamLoad(ctx, records)
	assert.Error(t, err)
	assert.True(t, retryable)

	client.table.rowErr = nil
	client.table.err = errors.New("unavailable")
	_, err, retryable = l.StreamLoad(ctx, records)
	assert.Error(t, err)
	assert.True(t, retryable)

	_, err, retryable = l.StreamLoad(ctx, []*entity.Record{{Stream: "campaigns", Data: []byte(`{}`)}})
	assert.Error(t, err)
	assert.False(t, retryable)

	assert.NoError(t, lf.Close())
}

func TestExistingTable(t *testing.T) {
	client := &MockClient{table: &MockTable{}}
	admin := &MockAdminClient{tables: []string{DefaultTable}, families: []string{ColumnFamily}}
	lf, err := NewLoaderFactoryWithClients(client, admin, nil)
	require.NoError(t, err)
	_, err = lf.NewLoader(context.Background(), entity.Config{Spec: campaignsSpec})
	require.NoError(t, err)
	assert.Empty(t, admin.created)
	assert.Equal(t, 0, admin.gcPolicies)
}

func TestTableCreatedConcurrently(t *testing.T) {
	client := &MockClient{table: &MockTable{}}
	admin := &MockAdminClient{createErr: errors.New("rpc error: code = AlreadyExists")}
	lf, err := NewLoaderFactoryWithClients(client, admin, nil)
	require.NoError(t, err)
	_, err = lf.NewLoader(context.Background(), entity.Config{Spec: campaignsSpec})
	assert.NoError(t, err)

	admin = &MockAdminClient{createErr: errors.New("permission denied")}
	lf, err = NewLoaderFactoryWithClients(client, admin, nil)
	require.NoError(t, err)
	_, err = lf.NewLoader(context.Background(), entity.Config{Spec: campaignsSpec})
	assert.Error(t, err)
}

func TestInvalidProps(t *testing.T) {
	_, err := NewLoaderFactoryWithClients(&MockClient{}, &MockAdminClient{}, map[string]string{PropMaxVersions: "x"})
	assert.Error(t, err)
	_, err = NewLoaderFactory(context.Background(), "project", nil)
	assert.True(t, errors.Is(err, ErrMissingInstance))
}

func TestColumnValues(t *testing.T) {
	ts := time.Date(2023, 5, 1, 10, 0, 0, 0, time.UTC)
	values := columnValues(&entity.Record{Data: []byte(`{"id":"c1"}`), ExtractedAt: ts})
	assert.Equal(t, `{"id":"c1"}`, string(values[ColumnRecord]))
	assert.Equal(t, "2023-05-01T10:00:00.000Z", string(values[ColumnExtractedAt]))
}

type MockClient struct {
	table    *MockTable
	nbOpened int
}

func (m *MockClient) Open(table string) BigTableTable {
	m.nbOpened++
	return m.table
}

func (m *MockClient) Close() error {
	return nil
}

type MockAdminClient struct {
	tables     []string
	families   []string
	created    []string
	gcPolicies int
	createErr  error
}

func (m *MockAdminClient) Tables(ctx context.Context) ([]string, error) {
	return m.tables, nil
}

func (m *MockAdminClient) CreateTable(ctx context.Context, table string) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.created = append(m.created, table)
	return nil
}

func (m *MockAdminClient) TableInfo(ctx context.Context, table string) (*bigtable.TableInfo, error) {
	return &bigtable.TableInfo{Families: m.families}, nil
}

func (m *MockAdminClient) CreateColumnFamily(ctx context.Context, table string, family string) error {
	m.families = append(m.families, family)
	return nil
}

func (m *MockAdminClient) SetGCPolicy(ctx context.Context, table string, family string, policy bigtable.GCPolicy) error {
	m.gcPolicies++
	return nil
}

func (m *MockAdminClient) Close() error {
	return nil
}

type MockTable struct {
	rowKeys []string
	err     error
	rowErr  error
}

func (mt *MockTable) ApplyBulk(ctx context.Context, rowKeys []string, muts []*bigtable.Mutation, opts ...bigtable.ApplyOption) ([]error, error) {
	if mt.err != nil {
		return nil, mt.err
	}
	if mt.rowErr != nil {
		errs := make([]error, len(rowKeys))
		errs[0] = mt.rowErr
		return errs, nil
	}
	mt.rowKeys = append(mt.rowKeys, rowKeys...)
	return nil, nil
}
