// Package config resolves the server's Configuration from command-line
// flags layered over a key=value file and built-in defaults (spec
// component H). It is an external collaborator: the core server assumes a
// pre-built Config value and never reads flags or files itself.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/urfave/cli/v3"
)

// Config is the fully resolved configuration the server runs with.
type Config struct {
	Port              int
	DatabaseDirectory string
	Charset           string
	LogFile           string
}

// Defaults mirrors the original implementation's option defaults.
func Defaults() Config {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	return Config{
		Port:              4242,
		DatabaseDirectory: cwd,
		Charset:           "utf-8",
	}
}

// Flags returns the cli.Flag set for the root command.
func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:  "port",
			Usage: "the port on which the server listens",
		},
		&cli.StringFlag{
			Name:  "db",
			Usage: "the database directory",
		},
		&cli.StringFlag{
			Name:  "charset",
			Usage: "the character encoding used on client connections",
		},
		&cli.StringFlag{
			Name:  "config",
			Usage: "path to a key=value configuration file",
			Value: "server.cfg",
		},
		&cli.StringFlag{
			Name:  "log-file",
			Usage: "path to a log file (defaults to stderr only)",
		},
	}
}

// Resolve builds a Config from defaults, overridden by the key=value file
// named by the --config flag (if it exists), overridden in turn by
// explicitly-set command-line flags -- the same precedence order as the
// original ConfigurationBuilder (file source registered, then cmdline
// source registered on top).
func Resolve(cmd *cli.Command) (Config, error) {
	cfg := Defaults()

	filePath := cmd.String("config")
	if filePath == "" {
		filePath = "server.cfg"
	}

	fileValues, err := readKeyValueFile(filePath)
	if err != nil {
		return Config{}, fmt.Errorf("config: failed to read %q: %w", filePath, err)
	}

	if v, ok := fileValues["port"]; ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: invalid port %q in %q: %w", v, filePath, err)
		}
		cfg.Port = port
	}
	if v, ok := fileValues["database_directory"]; ok {
		cfg.DatabaseDirectory = v
	}
	if v, ok := fileValues["charset"]; ok {
		cfg.Charset = v
	}

	if cmd.IsSet("port") {
		cfg.Port = int(cmd.Int("port"))
	}
	if cmd.IsSet("db") {
		cfg.DatabaseDirectory = cmd.String("db")
	}
	if cmd.IsSet("charset") {
		cfg.Charset = cmd.String("charset")
	}
	cfg.LogFile = cmd.String("log-file")

	if cfg.Port < 0 || cfg.Port > 65535 {
		return Config{}, fmt.Errorf(
			"config: the option [port] must be an integer in the interval [0, 65535]; actual value: %d", cfg.Port)
	}

	return cfg, nil
}

// readKeyValueFile parses a flat "key=value" file, one pair per line;
// blank lines and lines starting with "#" are ignored. A missing file is
// not an error -- the file source is optional, matching the original
// FileConfigurationSource's silent no-op on a read failure.
func readKeyValueFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	defer f.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("malformed line %q: expected key=value", line)
		}
		values[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return values, nil
}
