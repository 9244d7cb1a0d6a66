package config

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
)

// Flags holds command-line overrides. Empty fields leave loaded values untouched.
type Flags struct {
	ConfigPath  string
	Broker      string
	Name        string
	Verbosity   string
	ShowHelp    bool
	ShowVersion bool

	set *pflag.FlagSet
}

// ParseFlags parses args (without the program name).
//
// Short options: -b broker, -n name, -v verbosity, -c config file.
// The config path falls back to TIVOREMOTE_CONFIG when -c is not given.
func ParseFlags(program string, args []string) (*Flags, error) {
	f := &Flags{}
	fs := pflag.NewFlagSet(program, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVarP(&f.ConfigPath, "config", "c", "", "path to YAML configuration file")
	fs.StringVarP(&f.Broker, "broker", "b", "", "mqtt broker url (mqtt, mqtts, tcp, tls, ws, wss)")
	fs.StringVarP(&f.Name, "name", "n", "", "bridge name used as topic prefix")
	fs.StringVarP(&f.Verbosity, "verbosity", "v", "", `possible values: "error", "warn", "info", "debug"`)
	fs.BoolVarP(&f.ShowHelp, "help", "h", false, "show help")
	fs.BoolVar(&f.ShowVersion, "version", false, "show version")

	if err := fs.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			f.ShowHelp = true
			f.set = fs
			return f, nil
		}
		return nil, fmt.Errorf("parsing flags: %w", err)
	}
	if rest := fs.Args(); len(rest) > 0 {
		return nil, fmt.Errorf("unexpected argument: %s", rest[0])
	}

	if f.ConfigPath == "" {
		f.ConfigPath = os.Getenv("TIVOREMOTE_CONFIG")
	}
	f.set = fs
	return f, nil
}

// Usage writes the flag help text.
func (f *Flags) Usage(w io.Writer, header string) {
	fmt.Fprintf(w, "%s\n\nUsage: %s [options]\n\n", header, f.set.Name())
	fmt.Fprint(w, f.set.FlagUsages())
}

func (f *Flags) apply(cfg *Config) {
	if f.Broker != "" {
		cfg.MQTT.Broker = f.Broker
	}
	if f.Name != "" {
		cfg.Bridge.Name = f.Name
	}
	if f.Verbosity != "" {
		cfg.Logging.Level = f.Verbosity
	}
}
