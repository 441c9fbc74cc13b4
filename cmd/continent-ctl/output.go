package main

import (
	"os"

	"github.com/goccy/go-json"

	"gitlab.com/tozd/go/errors"
)

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) errors.E {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return errors.WithStack(err)
	}
	return nil
}
