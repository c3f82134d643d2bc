package catalog

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"github.com/zpiroux/tapfacebook/entity"
	"github.com/zpiroux/tapfacebook/internal/pkg/graphapi"
)

func testSpecs(t *testing.T) []*entity.StreamSpec {
	specs, err := graphapi.Specs()
	require.NoError(t, err)
	return specs
}

func TestDiscover(t *testing.T) {

	specs := testSpecs(t)
	c := Discover(specs)
	require.Len(t, c.Streams, len(specs))

	selected, err := c.Selected(specs)
	require.NoError(t, err)
	assert.Equal(t, specs, selected)

	ads, ok := c.Entry("ads")
	require.True(t, ok)
	assert.Equal(t, []string{"id"}, ads.KeyProperties)
	assert.Equal(t, "updated_time", ads.ReplicationKey)
	assert.Equal(t, entity.ReplicationIncremental, ads.ReplicationMethod)
	assert.Empty(t, ads.DeselectedProperties())

	md, ok := ads.metadata([]string{"properties", "id"})
	require.True(t, ok)
	assert.Equal(t, InclusionAutomatic, md.Inclusion)
	md, ok = ads.metadata([]string{})
	require.True(t, ok)
	assert.Equal(t, []string{"updated_time"}, md.ValidReplicationKeys)

	creatives, ok := c.Entry("creatives")
	require.True(t, ok)
	assert.Equal(t, entity.ReplicationFullTable, creatives.ReplicationMethod)

	_, ok = c.Entry("pages")
	assert.False(t, ok)

	// Round trip through the external form
	parsed, err := Parse(c.JSON())
	require.NoError(t, err)
	selected, err = parsed.Selected(specs)
	require.NoError(t, err)
	assert.Len(t, selected, len(specs))

	doc := c.JSON()
	assert.Equal(t, "ads", gjson.GetBytes(doc, `streams.#(tap_stream_id=="ads").stream`).String())
	assert.True(t, gjson.GetBytes(doc, `streams.#(tap_stream_id=="ads").schema.properties`).IsObject())
}

var editedCatalog = []byte(`
{
  "streams": [
    {
      "tap_stream_id": "campaigns",
      "metadata": [
        { "breadcrumb": [], "metadata": { "selected": true } },
        { "breadcrumb": ["properties", "name"], "metadata": { "selected": false } },
        { "breadcrumb": ["properties", "id"], "metadata": { "selected": false, "inclusion": "automatic" } },
        { "breadcrumb": ["properties", "status"], "metadata": { "selected-by-default": false } },
        { "breadcrumb": ["properties", "objective"], "metadata": { "inclusion": "unsupported" } }
      ]
    },
    {
      "tap_stream_id": "ads",
      "metadata": [
        { "breadcrumb": [], "metadata": { "selected": false } }
      ]
    },
    {
      "tap_stream_id": "adimages",
      "replication_key": null,
      "metadata": [
        { "breadcrumb": [], "metadata": { "selected-by-default": true } }
      ]
    },
    {
      "tap_stream_id": "adlabels"
    }
  ]
}`)

func TestSelection(t *testing.T) {

	specs := testSpecs(t)
	c, err := Parse(editedCatalog)
	require.NoError(t, err)

	selected, err := c.Selected(specs)
	require.NoError(t, err)
	var names []string
	for _, spec := range selected {
		names = append(names, spec.Name)
	}
	assert.Equal(t, []string{"campaigns", "adimages", "adlabels"}, names)

	campaigns, _ := c.Entry("campaigns")
	assert.Equal(t, []string{"name", "objective", "status"}, campaigns.DeselectedProperties())
}

func TestParseErrors(t *testing.T) {

	invalid := []string{
		``,
		`[]`,
		`{}`,
		`{"streams": [{"stream": "ads"}]}`,
		`{"streams": [{"tap_stream_id": ""}]}`,
		`{"streams": [{"tap_stream_id": "ads", "metadata": [{"breadcrumb": []}]}]}`,
		`{"streams": [{"tap_stream_id": "ads"}, {"tap_stream_id": "ads"}]}`,
	}
	for _, doc := range invalid {
		_, err := Parse([]byte(doc))
		assert.True(t, errors.Is(err, ErrInvalidCatalog), doc)
	}

	c, err := Parse([]byte(`{"streams": [{"tap_stream_id": "pages"}]}`))
	require.NoError(t, err)
	_, err = c.Selected(testSpecs(t))
	assert.True(t, errors.Is(err, ErrUnknownStream))
}
