package xbigquery

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"cloud.google.com/go/bigquery"
	"github.com/teltech/logger"
	"github.com/zpiroux/tapfacebook/entity"
	"github.com/zpiroux/tapfacebook/internal/pkg/logging"
)

const (
	SinkId = "bigquery"

	PropDataset     = "dataset"
	PropLocation    = "location"
	PropTablePrefix = "tablePrefix"

	DefaultBigQueryDatasetLocation = "EU"

	ColumnId          = "id"
	ColumnStream      = "stream"
	ColumnRecord      = "record"
	ColumnExtractedAt = "extracted_at"
)

var log *logger.Log

func init() {
	log = logging.New()
}

var ErrMissingDataset = errors.New("no BigQuery dataset specified in sink props")

type loaderFactory struct {
	client   BigQueryClient
	bqClient *bigquery.Client
	mdMutex  sync.Mutex
}

// NewLoaderFactory creates a BigQuery sink factory using a client for the provided GCP
// project.
func NewLoaderFactory(ctx context.Context, projectId string) (entity.LoaderFactory, error) {
	client, err := bigquery.NewClient(ctx, projectId)
	if err != nil {
		return nil, err
	}
	return &loaderFactory{
		client:   NewBigQueryClient(projectId, client),
		bqClient: client,
	}, nil
}

// NewLoaderFactoryWithClient creates a factory using the provided (possibly mocked) client.
func NewLoaderFactoryWithClient(client BigQueryClient) entity.LoaderFactory {
	return &loaderFactory{client: client}
}

func (lf *loaderFactory) SinkId() string {
	return SinkId
}

func (lf *loaderFactory) NewLoader(ctx context.Context, c entity.Config) (entity.Loader, error) {
	l, err := NewLoader(ctx, c, lf.client, &lf.mdMutex)
	if err != nil {
		return nil, err
	}
	return l, nil
}

func (lf *loaderFactory) Close() error {
	if lf.bqClient != nil {
		return lf.bqClient.Close()
	}
	return nil
}

// Loader inserts the records of one stream into a table named after the stream. Each
// row holds the raw record JSON together with its stream, key and extraction time.
type Loader struct {
	id       string
	spec     *entity.StreamSpec
	dataset  string
	location string
	tableId  string
	table    *bigquery.Table
	client   BigQueryClient
	inserter BigQueryInserter
	mdMutex  *sync.Mutex
}

func NewLoader(ctx context.Context, c entity.Config, client BigQueryClient, metadataMutex *sync.Mutex) (*Loader, error) {

	if client == nil {
		return nil, errors.New("invalid arguments, BigQueryClient cannot be nil")
	}
	if c.Spec == nil {
		return nil, errors.New("invalid arguments, no stream spec provided")
	}
	l := &Loader{
		id:       c.ID,
		spec:     c.Spec,
		dataset:  c.Props[PropDataset],
		location: c.Props[PropLocation],
		tableId:  c.Props[PropTablePrefix] + c.Spec.Name,
		client:   client,
		mdMutex:  metadataMutex,
	}
	if l.dataset == "" {
		return nil, ErrMissingDataset
	}
	if l.location == "" {
		l.location = DefaultBigQueryDatasetLocation
	}
	return l, l.init(ctx)
}

func (l *Loader) StreamLoad(ctx context.Context, records []*entity.Record) (string, error, bool) {

	if len(records) == 0 {
		return "", errors.New("streamLoad called without data to load"), false
	}

	rows := l.createRows(records)
	if err := l.inserter.Put(ctx, rows); err != nil {
		return "", err, true
	}

	log.Debugf(l.lgprfx()+"successfully inserted %d rows to BigQuery table %s", len(rows), l.tableId)
	return rows[len(rows)-1].InsertId, nil, false
}

func (l *Loader) Shutdown(ctx context.Context) {}

func (l *Loader) init(ctx context.Context) error {

	l.mdMutex.Lock()
	defer l.mdMutex.Unlock()

	_, status, err := l.client.GetDatasetMetadata(ctx, l.client.CreateDatasetRef(l.dataset))
	if err != nil && status == Unknown {
		return err
	}
	if status == NonExistent {
		md := &bigquery.DatasetMetadata{
			Location:    l.location,
			Description: "Facebook Ads entities",
		}
		if err := l.client.CreateDataset(ctx, l.dataset, md); err != nil {
			return err
		}
	} else {
		log.Debugf(l.lgprfx()+"dataset %v already exists, no need to create it", l.dataset)
	}

	l.table = l.client.CreateTableRef(l.dataset, l.tableId)
	_, status, err = l.client.GetTableMetadata(ctx, l.table)
	if err != nil && status == Unknown {
		return err
	}

	if status == NonExistent {
		l.table, err = l.client.CreateTable(ctx, l.dataset, l.tableId, l.tableMetadata())
		if err != nil {
			return err
		}
	} else {
		log.Debugf(l.lgprfx()+"table %s already exists, no need to create it", l.tableId)
	}

	l.inserter = l.client.GetTableInserter(l.table)
	return nil
}

func (l *Loader) tableMetadata() *bigquery.TableMetadata {
	return &bigquery.TableMetadata{
		Description: fmt.Sprintf("Records of the %s stream", l.spec.Name),
		Schema: bigquery.Schema{
			{Name: ColumnId, Type: bigquery.StringFieldType, Required: true, Description: "Primary key values of the record"},
			{Name: ColumnStream, Type: bigquery.StringFieldType, Required: true},
			{Name: ColumnRecord, Type: bigquery.StringFieldType, Description: "Record as JSON"},
			{Name: ColumnExtractedAt, Type: bigquery.TimestampFieldType},
		},
		TimePartitioning: &bigquery.TimePartitioning{
			Type:  bigquery.DayPartitioningType,
			Field: ColumnExtractedAt,
		},
		Clustering: &bigquery.Clustering{Fields: []string{ColumnId}},
	}
}

// The insert ID makes BigQuery deduplicate rows on retried inserts, on a best effort basis.
func (l *Loader) createRows(records []*entity.Record) []*Row {
	rows := make([]*Row, 0, len(records))
	for _, record := range records {
		key := record.Key(l.spec.PrimaryKeys)
		row := NewRow()
		row.InsertId = record.Stream + entity.KeyDelimiter + key
		row.AddItem(&RowItem{Name: ColumnId, Value: key})
		row.AddItem(&RowItem{Name: ColumnStream, Value: record.Stream})
		row.AddItem(&RowItem{Name: ColumnRecord, Value: string(record.Data)})
		row.AddItem(&RowItem{Name: ColumnExtractedAt, Value: record.ExtractedAt})
		rows = append(rows, row)
	}
	return rows
}

func (l *Loader) lgprfx() string {
	return "[xbigquery.loader:" + l.spec.Name + ":" + l.id + "] "
}

type RowItem struct {
	Name  string
	Value any
}

type Row struct {
	InsertId string
	rowItems map[string]bigquery.Value
}

func NewRow() *Row {
	return &Row{
		rowItems: make(map[string]bigquery.Value),
	}
}

func (r *Row) AddItem(item *RowItem) {
	r.rowItems[item.Name] = item.Value
}

// Save is required for implementing the BigQuery ValueSaver interface, as used by the bigquery.Inserter
func (r *Row) Save() (map[string]bigquery.Value, string, error) {
	return r.rowItems, r.InsertId, nil
}

func (r *Row) Size() int {
	return len(r.rowItems)
}
