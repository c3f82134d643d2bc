package graphapi

import (
	"embed"
	"fmt"
	"net/url"
	"time"

	"github.com/zpiroux/tapfacebook/entity"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const (
	replicationKeyUpdated   = "updated_time"
	replicationKeyDateStart = "date_start"
	insightsLevel           = "ad"
	insightsTimeIncrement   = "1"
)

// StreamDefinition declares a Graph API entity type. All entity types share the paging
// and extraction behavior of Stream; a definition only adds its identity and any
// entity specific selection parameters.
type StreamDefinition struct {
	Name           string
	Path           string
	PrimaryKeys    []string
	ReplicationKey string

	// CursorInHeader makes the stream read its cursor from the NextPageHeader response
	// header instead of the NextPageTokenPath of the body.
	CursorInHeader bool

	// Params optionally adds query parameters. It cannot override the paging, sorting
	// or cursor parameters.
	Params func(settings *entity.Settings, now time.Time) (url.Values, error)
}

var definitions = []StreamDefinition{
	{Name: "adsets", Path: "/adsets", PrimaryKeys: []string{"id"}, ReplicationKey: replicationKeyUpdated},
	{Name: "adsinsights", Path: "/insights", PrimaryKeys: []string{"ad_id", "date_start"}, ReplicationKey: replicationKeyDateStart, Params: insightsParams},
	{Name: "ads", Path: "/ads", PrimaryKeys: []string{"id"}, ReplicationKey: replicationKeyUpdated},
	{Name: "campaigns", Path: "/campaigns", PrimaryKeys: []string{"id"}, ReplicationKey: replicationKeyUpdated},
	{Name: "creatives", Path: "/adcreatives", PrimaryKeys: []string{"id"}},
	{Name: "adlabels", Path: "/adlabels", PrimaryKeys: []string{"id"}, ReplicationKey: replicationKeyUpdated},
	{Name: "adaccounts", Path: "/adaccounts", PrimaryKeys: []string{"id"}},
	{Name: "customconversions", Path: "/customconversions", PrimaryKeys: []string{"id"}},
	{Name: "customaudiences", Path: "/customaudiences", PrimaryKeys: []string{"id"}},
	{Name: "adimages", Path: "/adimages", PrimaryKeys: []string{"id"}},
	{Name: "advideos", Path: "/advideos", PrimaryKeys: []string{"id"}, ReplicationKey: replicationKeyUpdated},
}

// Definitions returns all supported entity types, in discovery order.
func Definitions() []StreamDefinition {
	out := make([]StreamDefinition, len(definitions))
	copy(out, definitions)
	return out
}

// Definition returns the entity type with the provided stream name.
func Definition(name string) (StreamDefinition, error) {
	for _, def := range definitions {
		if def.Name == name {
			return def, nil
		}
	}
	return StreamDefinition{}, fmt.Errorf("%w: %s", ErrUnknownStream, name)
}

// Spec creates the stream spec with the embedded schema of the entity type.
func (d StreamDefinition) Spec() (*entity.StreamSpec, error) {
	schema, err := schemaFS.ReadFile("schemas/" + d.Name + ".json")
	if err != nil {
		return nil, fmt.Errorf("no schema found for stream %s: %w", d.Name, err)
	}
	spec, err := entity.NewStreamSpec(d.Name, d.Path, d.PrimaryKeys, d.ReplicationKey, schema)
	if err != nil {
		return nil, err
	}
	spec.RecordsPath = RecordsPath
	if !d.CursorInHeader {
		spec.NextPageTokenPath = NextPageTokenPath
	}
	return spec, nil
}

// Specs returns the specs of all entity types.
func Specs() ([]*entity.StreamSpec, error) {
	specs := make([]*entity.StreamSpec, 0, len(definitions))
	for _, def := range definitions {
		spec, err := def.Spec()
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// NewStreams creates one stream per entity type.
func NewStreams(settings *entity.Settings, opts Options) ([]*Stream, error) {
	streams := make([]*Stream, 0, len(definitions))
	for _, def := range definitions {
		s, err := NewStream(def, settings, opts)
		if err != nil {
			return nil, err
		}
		streams = append(streams, s)
	}
	return streams, nil
}

// Insights are requested per ad and day. Without a start date the Graph API default
// date preset applies. The end date defaults to today.
func insightsParams(settings *entity.Settings, now time.Time) (url.Values, error) {
	params := url.Values{}
	params.Set("level", insightsLevel)
	params.Set("time_increment", insightsTimeIncrement)

	if settings.StartDate == "" {
		return params, nil
	}

	since, err := entity.ParseDate(settings.StartDate)
	if err != nil {
		return nil, err
	}
	until := now.UTC()
	if settings.EndDate != "" {
		if until, err = entity.ParseDate(settings.EndDate); err != nil {
			return nil, err
		}
	}
	if entity.FormatDate(until) < entity.FormatDate(since) {
		return nil, fmt.Errorf("end_date %s is before start_date %s", settings.EndDate, settings.StartDate)
	}

	params.Set("time_range", fmt.Sprintf(`{"since":"%s","until":"%s"}`, entity.FormatDate(since), entity.FormatDate(until)))
	return params, nil
}
