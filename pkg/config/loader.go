package config

import (
	"errors"
	"io"
	"os"

	"github.com/kkyr/fig"
	"github.com/spf13/pflag"
)

const EnvPrefix = "CLOUD_DISPLAY"

// LoadConfig loads a configuration file into the given struct.
// The path param specifies a custom path to the configuration file.
// Reads and puts environment variables with the prefix CLOUD_DISPLAY_.
// Params from the config should be in uppercase separated with _.
// Without a config file only the defaults and the environment are used.
func LoadConfig(config any, path string) error {
	dirs := []string{path}
	if path == "" {
		dirs = append(dirs, ".", "configs", "../../configs")
		if home, err := os.UserHomeDir(); err == nil {
			dirs = append(dirs, home+"/.cd")
		}
	}
	err := fig.Load(config, fig.Dirs(dirs...), fig.UseEnv(EnvPrefix))
	if errors.Is(err, fig.ErrFileNotFound) {
		return LoadConfigEnv(config)
	}
	return err
}

func LoadConfigEnv(config any) error {
	return fig.Load(config, fig.IgnoreFile(), fig.UseEnv(EnvPrefix))
}

// ConfigPath returns the value of the -c/--conf flag from args.
// All the other flags are ignored.
func ConfigPath(args []string) string {
	var path string
	fs := pflag.NewFlagSet("conf", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.SetOutput(io.Discard)
	fs.Usage = func() {}
	fs.StringVarP(&path, "conf", "c", "", "")
	_ = fs.Parse(args)
	return path
}
