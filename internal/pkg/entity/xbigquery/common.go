package xbigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
)

// The BigQuery Loader uses GCP BQ Go client API for its functionality.
// We're decoupling this API here on consumer side for full unit test capabilities.
// Wrapping is required due to GCP Go client library design constraints.

type BigQueryClient interface {
	GetDatasetMetadata(ctx context.Context, dataset *bigquery.Dataset) (*bigquery.DatasetMetadata, DatasetTableStatus, error)
	CreateDatasetRef(datasetId string) *bigquery.Dataset
	CreateDataset(ctx context.Context, id string, md *bigquery.DatasetMetadata) error
	GetTableMetadata(ctx context.Context, table *bigquery.Table) (*bigquery.TableMetadata, DatasetTableStatus, error)
	CreateTableRef(datasetId string, tableId string) *bigquery.Table
	CreateTable(ctx context.Context, datasetId string, tableId string, tm *bigquery.TableMetadata) (*bigquery.Table, error)
	GetTableInserter(table *bigquery.Table) BigQueryInserter
}

// Concrete bq wrapper client as returned by NewBigQueryClient
type defaultBigQueryClient struct {
	id     string
	client *bigquery.Client
}

// NewBigQueryClient provides a concrete wrapper client for internal usage by the Loader
func NewBigQueryClient(id string, client *bigquery.Client) BigQueryClient {
	return &defaultBigQueryClient{
		id:     id,
		client: client,
	}
}

func (b *defaultBigQueryClient) CreateDatasetRef(datasetId string) *bigquery.Dataset {
	return b.client.Dataset(datasetId)
}

func (b *defaultBigQueryClient) CreateDataset(ctx context.Context, id string, md *bigquery.DatasetMetadata) error {

	err := b.client.Dataset(id).Create(ctx, md)

	if err != nil && disregardError(err) {
		log.Warnf(b.lgprfx()+"disregarding BQ dataset error: %s", describe(err))
		err = nil
	}
	return err
}

func (b *defaultBigQueryClient) CreateTableRef(datasetId string, tableId string) *bigquery.Table {
	return b.client.Dataset(datasetId).Table(tableId)
}

func (b *defaultBigQueryClient) CreateTable(ctx context.Context, datasetId string, tableId string, tm *bigquery.TableMetadata) (*bigquery.Table, error) {

	table := b.client.Dataset(datasetId).Table(tableId)
	err := table.Create(ctx, tm)

	if err != nil {
		if disregardError(err) {
			log.Warnf(b.lgprfx()+"disregarding BQ table error: %v", describe(err))
			err = nil
		} else {
			log.Errorf(b.lgprfx()+"could not create table %s.%s, err: %v", datasetId, tableId, err)
		}
	}
	return table, err
}

func (b *defaultBigQueryClient) GetTableInserter(table *bigquery.Table) BigQueryInserter {
	return &defaultBigQueryInserter{
		inserter: table.Inserter(),
	}
}

type DatasetTableStatus int

const (
	Unknown DatasetTableStatus = iota
	Existent
	NonExistent
)

func (b *defaultBigQueryClient) GetTableMetadata(ctx context.Context, table *bigquery.Table) (*bigquery.TableMetadata, DatasetTableStatus, error) {
	tm, err := table.Metadata(ctx)
	return tm, status(tm != nil, err), err
}

func (b *defaultBigQueryClient) GetDatasetMetadata(ctx context.Context, dataset *bigquery.Dataset) (*bigquery.DatasetMetadata, DatasetTableStatus, error) {
	md, err := dataset.Metadata(ctx)
	return md, status(md != nil, err), err
}

func status(found bool, err error) DatasetTableStatus {
	var e *googleapi.Error
	if errors.As(err, &e) && e.Code == http.StatusNotFound {
		return NonExistent
	}
	if found && err == nil {
		return Existent
	}
	return Unknown
}

func (b *defaultBigQueryClient) lgprfx() string {
	return "[xbigquery.client:" + b.id + "] "
}

// No good granular way to properly get real error codes from bq client, to detect these "non-errors" (in BQ loader scenarios).
// Need to parse error string -.-
func disregardError(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "already exists")
}

func describe(err error) string {
	var e *googleapi.Error
	if errors.As(err, &e) {
		return fmt.Sprintf("googleapi code: %d, message: %s, details: %#v, errors: %+v", e.Code, e.Message, e.Details, e.Errors)
	}
	return err.Error()
}

//
// BigQueryInserter
//

type BigQueryInserter interface {
	Put(ctx context.Context, src any) error
}

type defaultBigQueryInserter struct {
	inserter *bigquery.Inserter
}

func (i *defaultBigQueryInserter) Put(ctx context.Context, src any) error {
	return i.inserter.Put(ctx, src)
}
