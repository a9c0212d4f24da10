package core

/*------------------------------------------------------------------
 *
 * Purpose:	Command-line flags and an optional config file, in the
 *		spirit of the teacher's config.go: a handful of settable
 *		fields, flags registered once, sane defaults.
 *
 * Description:	The teacher's own config.go is a 5000-line recursive
 *		descent parser for direwolf.conf's many legacy directives;
 *		this system's external surface is a few playback knobs, so
 *		it is grounded instead on kissutil.go's much smaller
 *		pflag.StringP/BoolP registration style, plus a YAML file
 *		for anything worth saving between runs.
 *
 *------------------------------------------------------------------*/

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config holds everything etherdream-play needs to start a session.
type Config struct {
	DacSelector string `yaml:"dac"`
	WavPath     string `yaml:"wav"`
	SessionLog  string `yaml:"session_log"`
	ListOnly    bool   `yaml:"-"`
	Debug       bool   `yaml:"debug"`
	NoAudio     bool   `yaml:"no_audio"`
}

// LoadConfigFile reads a YAML config file. A missing file is not an
// error: the zero Config (all defaults) is returned instead, matching
// the teacher's tolerance for an absent direwolf.conf.
func LoadConfigFile(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("core: reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("core: parsing config %s: %w", path, err)
	}

	return cfg, nil
}

// ParseFlags registers and parses the etherdream-play command line,
// layering flag values over whatever was already loaded from a config
// file (flags win).
func ParseFlags(args []string, base Config) (Config, error) {
	fs := pflag.NewFlagSet("etherdream-play", pflag.ContinueOnError)

	dac := fs.StringP("dac", "d", base.DacSelector, "DAC id or host:port to connect to")
	wav := fs.StringP("wav", "w", base.WavPath, "Path to an 8-channel ILDA-WAV file to play")
	configPath := fs.StringP("config", "c", "", "Path to a YAML config file")
	sessionLog := fs.StringP("session-log", "s", base.SessionLog, "Write per-session CSV statistics to this path")
	list := fs.Bool("list", false, "List discovered DACs and exit")
	debug := fs.Bool("debug", base.Debug, "Enable debug logging")
	noAudio := fs.Bool("no-audio", base.NoAudio, "Decode and stream laser points without opening an audio device")
	version := fs.Bool("version", false, "Print the version and exit")
	help := fs.BoolP("help", "h", false, "Display help text")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "etherdream-play %s\n\n", Version())
		fmt.Fprintln(os.Stderr, "Usage: etherdream-play [options]")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return base, err
	}

	if *help {
		fs.Usage()
		os.Exit(0)
	}
	if *version {
		fmt.Println(Version())
		os.Exit(0)
	}

	// --config is consumed here rather than by the caller so that a
	// config file named on the command line can still be overridden
	// by flags appearing after it.
	cfg := base
	if *configPath != "" {
		fileCfg, err := LoadConfigFile(*configPath)
		if err != nil {
			return base, err
		}
		cfg = fileCfg
	}

	fs.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "dac":
			cfg.DacSelector = *dac
		case "wav":
			cfg.WavPath = *wav
		case "session-log":
			cfg.SessionLog = *sessionLog
		case "debug":
			cfg.Debug = *debug
		case "no-audio":
			cfg.NoAudio = *noAudio
		}
	})
	cfg.ListOnly = *list

	return cfg, nil
}
