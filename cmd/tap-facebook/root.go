package main

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/zpiroux/tapfacebook"
	"github.com/zpiroux/tapfacebook/entity"
	"github.com/zpiroux/tapfacebook/internal/pkg/entity/xfirestore"
	"github.com/zpiroux/tapfacebook/internal/pkg/graphsim"
	"github.com/zpiroux/tapfacebook/internal/pkg/state"
)

const (
	envPrefix = "TAP_FACEBOOK"
	version   = "0.4.0"

	stateStoreFile      = "file"
	stateStoreFirestore = "firestore"

	simulatedAccount = "act_1000"
	simulatedToken   = "simulated"
)

var ErrInvalidFlags = errors.New("invalid flags")

type options struct {
	configPath  string
	catalogPath string
	statePath   string
	discover    bool
	about       bool
	check       bool
	sink        string
	stateStore  string
	gcpProject  string
	simulate    bool
	log         bool
}

func newRootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "tap-facebook",
		Short: "Extract Facebook ad account entities as a Singer tap",
		Long: "tap-facebook extracts ads, ad sets, campaigns, insights and other entities of a\n" +
			"Facebook ad account from the Graph API. Without --discover, --check or --about\n" +
			"it syncs the streams selected in the catalog.\n\n" +
			"Singer messages are written to stdout and logs to stderr. Set SERVICE, VERSION\n" +
			"and LOG_LEVEL in the environment, otherwise the logging library prints startup\n" +
			"warnings to stdout ahead of the Singer messages.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, &opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.configPath, "config", "", "Config file (JSON) with account_id, access_token, api_version, start_date, end_date and sink section")
	flags.StringVar(&opts.catalogPath, "catalog", "", "Catalog file selecting streams and properties, default is all streams")
	flags.StringVar(&opts.statePath, "state", "", "State file, also the target file when using --state-store file")
	flags.BoolVar(&opts.discover, "discover", false, "Print the catalog of all supported streams")
	flags.BoolVar(&opts.about, "about", false, "Print tap information")
	flags.BoolVar(&opts.check, "check", false, "Verify access token and account")
	flags.StringVar(&opts.sink, "sink", string(entity.EntitySinger), "Sink: singer, void, bigquery, pubsub, kafka or bigtable")
	flags.StringVar(&opts.stateStore, "state-store", "", "Persist state between runs: file or firestore")
	flags.StringVar(&opts.gcpProject, "gcp-project", "", "GCP project for the bigquery, pubsub and bigtable sinks and the firestore state store")
	flags.BoolVar(&opts.simulate, "simulate", false, "Run against an in-process simulated Graph API")
	flags.BoolVar(&opts.log, "log", true, "Log engine events to stderr")
	return cmd
}

func run(cmd *cobra.Command, opts *options) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := cmd.OutOrStdout()

	if opts.about {
		return writeAbout(cmd)
	}

	v, err := loadConfig(opts)
	if err != nil {
		return err
	}

	config := tapfacebook.NewConfig()
	config.Settings = settingsFromConfig(v)
	config.Output = out
	config.Ops.Log = opts.log
	config.Ops.LogResponseBodies = v.GetBool("log_response_bodies")
	if v.IsSet("max_concurrent_streams") {
		config.Ops.MaxConcurrentStreams = v.GetInt("max_concurrent_streams")
	}

	if opts.simulate {
		sim := graphsim.New(graphsim.Config{AccessToken: config.Settings.AccessToken})
		server := httptest.NewServer(sim)
		defer server.Close()
		config.BaseURL = server.URL
		config.HTTPClient = server.Client()
		log.Infof("simulating Graph API at %s", server.URL)
	}

	if err := registerSink(ctx, config, v, opts); err != nil {
		return err
	}
	if err := setStateStore(ctx, config, opts); err != nil {
		return err
	}

	tap, err := tapfacebook.New(ctx, config)
	if err != nil {
		return err
	}
	defer func() {
		if err := tap.Shutdown(context.Background()); err != nil {
			log.Errorf("shutdown failed, err: %v", err)
		}
	}()

	switch {
	case opts.discover:
		catalog, err := tap.Discover()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, string(catalog))
		return err
	case opts.check:
		if err := tap.Check(ctx); err != nil {
			return err
		}
		log.Infof("check successful for account %s", config.Settings.AccountID)
		return nil
	}

	catalogData, err := readOptionalFile(opts.catalogPath)
	if err != nil {
		return err
	}
	var stateData []byte
	if config.StateStore == nil {
		if stateData, err = readOptionalFile(opts.statePath); err != nil {
			return err
		}
	}

	if _, err = tap.Sync(ctx, catalogData, stateData); err != nil {
		return err
	}
	for stream, m := range tap.Metrics() {
		log.Infof("stream %s synced, records: %d, pages: %d, requests: %d", stream, m.RecordsStoredInSink, m.Pages, m.Requests)
	}
	return nil
}

// loadConfig reads the config file, if any, with env overrides such as
// TAP_FACEBOOK_ACCESS_TOKEN or TAP_FACEBOOK_SINK_KAFKA_BOOTSTRAP_SERVERS.
func loadConfig(opts *options) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.simulate {
		v.SetDefault("account_id", simulatedAccount)
		v.SetDefault("access_token", simulatedToken)
	}

	if opts.configPath == "" {
		if !opts.simulate {
			return nil, fmt.Errorf("%w, details: --config is required", ErrInvalidFlags)
		}
		return v, nil
	}
	v.SetConfigFile(opts.configPath)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("could not read config file %s, err: %w", opts.configPath, err)
	}
	return v, nil
}

func settingsFromConfig(v *viper.Viper) entity.Settings {
	return entity.Settings{
		AccountID:   v.GetString("account_id"),
		AccessToken: v.GetString("access_token"),
		APIVersion:  v.GetString("api_version"),
		StartDate:   v.GetString("start_date"),
		EndDate:     v.GetString("end_date"),
	}
}

func setStateStore(ctx context.Context, config *tapfacebook.Config, opts *options) error {
	var err error
	switch opts.stateStore {
	case "":
	case stateStoreFile:
		if opts.statePath == "" {
			return fmt.Errorf("%w, details: --state-store file requires --state", ErrInvalidFlags)
		}
		config.StateStore = state.NewFileStore(opts.statePath)
	case stateStoreFirestore:
		if opts.gcpProject == "" {
			return fmt.Errorf("%w, details: --state-store firestore requires --gcp-project", ErrInvalidFlags)
		}
		config.StateStore, err = xfirestore.NewStateStore(ctx, opts.gcpProject, "", config.Settings.Account())
	default:
		err = fmt.Errorf("%w, details: unknown state store %q", ErrInvalidFlags, opts.stateStore)
	}
	return err
}

func readOptionalFile(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	return os.ReadFile(path)
}

type about struct {
	Name         string          `json:"name"`
	Version      string          `json:"version"`
	Description  string          `json:"description"`
	Capabilities []string        `json:"capabilities"`
	Sinks        []string        `json:"sinks"`
	Streams      []string        `json:"streams"`
	Settings     json.RawMessage `json:"settings"`
}

func writeAbout(cmd *cobra.Command) error {
	a := about{
		Name:         "tap-facebook",
		Version:      version,
		Description:  "Singer tap for Facebook ad account entities",
		Capabilities: []string{"catalog", "discover", "state", "check"},
		Sinks:        sinkIds,
		Streams:      streamNames(),
		Settings:     entity.SettingsSchema(),
	}
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}
