package assembly

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/zpiroux/tapfacebook/entity"
)

type Config struct {
	Settings *entity.Settings

	// Registered sinks, and the one to load into with its props
	Loaders   entity.LoaderFactories
	SinkId    string
	SinkProps map[string]string

	// Graph API transport. A nil HTTPClient gives a default client with RequestTimeout.
	HTTPClient     *http.Client
	RequestTimeout time.Duration
	BaseURL        string
	LogBodies      bool

	NotifyChan entity.NotifyChan
	Log        bool

	// Now is used for date defaults in request parameters. Defaults to time.Now.
	Now func() time.Time
}

func (c Config) Close() error {

	var errs []string

	for _, lf := range c.Loaders {
		if err := lf.Close(); err != nil {
			errs = append(errs, err.Error())
		}
	}

	var err error
	if len(errs) > 0 {
		jerrs, _ := json.Marshal(errs)
		err = fmt.Errorf("error closing stream entities: %v", string(jerrs))
	}

	return err
}
