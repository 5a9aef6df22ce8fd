package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/pflag"

	"recurswap/internal/api"
	"recurswap/internal/config"
)

// Global flag values, bound once on the root command.
var (
	configPath    string
	apiAddr       string
	apiToken      string
	outputFormat  string
	clientTimeout time.Duration
)

const DefaultConfigPath = "./recurswap.yaml"

func BindGlobalFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&configPath, "config", "c", DefaultConfigPath, "path to the config file (json, yaml or toml)")
	fs.StringVar(&apiAddr, "addr", api.DefaultAddr, "daemon API address")
	fs.StringVar(&apiToken, "token", "", "API bearer token (default $"+config.EnvAPIToken+")")
	fs.StringVarP(&outputFormat, "output", "o", "table", "output format: table or json")
	fs.DurationVar(&clientTimeout, "timeout", 15*time.Second, "API request timeout")
}

func newClient() *api.Client {
	token := apiToken
	if token == "" {
		token = os.Getenv(config.EnvAPIToken)
	}
	return api.NewClient(apiAddr, token, clientTimeout)
}

func jsonOutput() (bool, error) {
	switch strings.ToLower(strings.TrimSpace(outputFormat)) {
	case "", "table":
		return false, nil
	case "json":
		return true, nil
	default:
		return false, errors.Newf("unknown output format %q", outputFormat)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// describeErr appends any hints carried by err so the user sees how to fix it.
func describeErr(err error) error {
	if err == nil {
		return nil
	}
	hints := errors.FlattenHints(err)
	if hints == "" {
		return err
	}
	return fmt.Errorf("%w\nhint: %s", err, hints)
}
