package xbigtable

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"cloud.google.com/go/bigtable"
	"github.com/teltech/logger"
	"github.com/zpiroux/tapfacebook/entity"
	"github.com/zpiroux/tapfacebook/internal/pkg/logging"
)

const (
	SinkId = "bigtable"

	PropInstance    = "instance"
	PropTable       = "table"
	PropMaxVersions = "maxVersions"

	DefaultTable       = "facebook_entities"
	DefaultMaxVersions = 1

	ColumnFamily      = "r"
	ColumnRecord      = "record"
	ColumnExtractedAt = "extracted_at"

	// RowKeyDelimiter separates the stream name from the record key in row keys
	RowKeyDelimiter = "#"
)

var log *logger.Log

func init() {
	log = logging.New()
}

var ErrMissingInstance = errors.New("no bigtable instance specified in sink props")

type loaderFactory struct {
	client      BigTableClient
	adminClient BigTableAdminClient
	tableName   string
	maxVersions int

	mu    sync.Mutex
	table BigTableTable
}

// NewLoaderFactory creates a BigTable sink factory, with clients for the instance given
// by the sink props.
func NewLoaderFactory(ctx context.Context, projectId string, props map[string]string) (entity.LoaderFactory, error) {
	instance := props[PropInstance]
	if instance == "" {
		return nil, ErrMissingInstance
	}
	client, err := bigtable.NewClient(ctx, projectId, instance)
	if err != nil {
		return nil, err
	}
	adminClient, err := bigtable.NewAdminClient(ctx, projectId, instance)
	if err != nil {
		client.Close()
		return nil, err
	}
	return NewLoaderFactoryWithClients(NewBigTableClient(client), adminClient, props)
}

func NewLoaderFactoryWithClients(client BigTableClient, adminClient BigTableAdminClient, props map[string]string) (entity.LoaderFactory, error) {

	if client == nil || adminClient == nil {
		return nil, errors.New("invalid arguments, clients cannot be nil")
	}
	lf := &loaderFactory{
		client:      client,
		adminClient: adminClient,
		tableName:   DefaultTable,
		maxVersions: DefaultMaxVersions,
	}
	if table := props[PropTable]; table != "" {
		lf.tableName = table
	}
	if v, ok := props[PropMaxVersions]; ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid value %q for sink prop %s", v, PropMaxVersions)
		}
		lf.maxVersions = n
	}
	return lf, nil
}

func (lf *loaderFactory) SinkId() string {
	return SinkId
}

func (lf *loaderFactory) NewLoader(ctx context.Context, c entity.Config) (entity.Loader, error) {
	if c.Spec == nil {
		return nil, errors.New("no stream spec provided to bigtable loader")
	}
	table, err := lf.openTable(ctx)
	if err != nil {
		return nil, err
	}
	return &loader{
		id:        c.ID,
		spec:      c.Spec,
		table:     table,
		tableName: lf.tableName,
		logData:   c.Log,
	}, nil
}

func (lf *loaderFactory) Close() error {
	errAdmin := lf.adminClient.Close()
	if err := lf.client.Close(); err != nil {
		return err
	}
	return errAdmin
}

// All streams share a single table, created on first use.
func (lf *loaderFactory) openTable(ctx context.Context) (BigTableTable, error) {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	if lf.table != nil {
		return lf.table, nil
	}
	if err := lf.createTable(ctx); err != nil {
		if !otherStreamCreatingTable(err) {
			return nil, err
		}
		log.Warnf("[xbigtable.loaderFactory] table %s just got created by someone else, opening it instead", lf.tableName)
	}
	table := lf.client.Open(lf.tableName)
	if table == nil {
		return nil, fmt.Errorf("could not open table %s", lf.tableName)
	}
	lf.table = table
	return table, nil
}

func (lf *loaderFactory) createTable(ctx context.Context) error {

	tables, err := lf.adminClient.Tables(ctx)
	if err != nil {
		return fmt.Errorf("could not fetch table list: %w", err)
	}

	if !sliceContains(tables, lf.tableName) {
		if err := lf.adminClient.CreateTable(ctx, lf.tableName); err != nil {
			return fmt.Errorf("could not create table %s: %w", lf.tableName, err)
		}
		log.Infof("[xbigtable.loaderFactory] created table %s", lf.tableName)
	}

	tblInfo, err := lf.adminClient.TableInfo(ctx, lf.tableName)
	if err != nil {
		return fmt.Errorf("could not read info for table %s: %w", lf.tableName, err)
	}

	if !sliceContains(tblInfo.Families, ColumnFamily) {
		if err := lf.adminClient.CreateColumnFamily(ctx, lf.tableName, ColumnFamily); err != nil {
			return fmt.Errorf("could not create column family %s: %w", ColumnFamily, err)
		}
		policy := bigtable.MaxVersionsPolicy(lf.maxVersions)
		if err := lf.adminClient.SetGCPolicy(ctx, lf.tableName, ColumnFamily, policy); err != nil {
			return fmt.Errorf("SetGCPolicy(%s): %w", policy, err)
		}
	}
	return nil
}

type loader struct {
	id        string
	spec      *entity.StreamSpec
	table     BigTableTable
	tableName string
	logData   bool
}

// StreamLoad upserts one row per record, keyed by stream and primary key, so re-syncing an
// entity overwrites its previous version.
func (l *loader) StreamLoad(ctx context.Context, records []*entity.Record) (string, error, bool) {

	if len(records) == 0 {
		return "", errors.New("StreamLoad called without data to load"), false
	}

	rowKeys := make([]string, 0, len(records))
	muts := make([]*bigtable.Mutation, 0, len(records))
	for _, record := range records {
		rowKey := l.rowKey(record)
		if rowKey == "" {
			return "", fmt.Errorf("could not create row key for record: %s", record), false
		}
		rowKeys = append(rowKeys, rowKey)
		muts = append(muts, newMutation(record))
	}

	errs, err := l.table.ApplyBulk(ctx, rowKeys, muts)
	if err != nil {
		return "", fmt.Errorf("table.ApplyBulk() failed with: %w", err), true
	}
	for i, err := range errs {
		if err != nil {
			return "", fmt.Errorf("could not write row %s (and possibly others): %w", rowKeys[i], err), true
		}
	}

	lastKey := rowKeys[len(rowKeys)-1]
	if l.logData {
		log.Infof(l.lgprfx()+"(table: %s) successfully wrote %d rows, last key: %s", l.tableName, len(rowKeys), lastKey)
	}
	return lastKey, nil, false
}

func (l *loader) Shutdown(ctx context.Context) {}

func (l *loader) rowKey(record *entity.Record) string {
	key := record.Key(l.spec.PrimaryKeys)
	if key == "" {
		return ""
	}
	return l.spec.Name + RowKeyDelimiter + key
}

func newMutation(record *entity.Record) *bigtable.Mutation {
	mut := bigtable.NewMutation()
	timestamp := bigtable.Now()
	for column, value := range columnValues(record) {
		mut.Set(ColumnFamily, column, timestamp, value)
	}
	return mut
}

func columnValues(record *entity.Record) map[string][]byte {
	extractedAt := record.ExtractedAt
	if extractedAt.IsZero() {
		extractedAt = time.Now()
	}
	return map[string][]byte{
		ColumnRecord:      record.Data,
		ColumnExtractedAt: []byte(extractedAt.UTC().Format(entity.TimestampLayoutIsoMillis)),
	}
}

func (l *loader) lgprfx() string {
	return "[xbigtable.loader:" + l.spec.Name + ":" + l.id + "] "
}
