package store

import (
	"os"
	"strings"
)

// Lines reads the message file in full and splits it into its stored
// lines, the first of which is the meta line "<Timestamp> <Topic>". It
// returns an error if the file can no longer be read.
func (m Message) Lines() ([]string, error) {
	data, err := os.ReadFile(m.Path)
	if err != nil {
		return nil, err
	}

	text := strings.TrimSuffix(string(data), "\n")
	if text == "" {
		return []string{""}, nil
	}
	return strings.Split(text, "\n"), nil
}
