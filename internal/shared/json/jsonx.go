// Package jsonx is the JSON codec used for the state file, Bot API results
// and run events. It is backed by goccy/go-json.
package jsonx

import "github.com/goccy/go-json"

var (
	Marshal       = json.Marshal
	MarshalIndent = json.MarshalIndent
	Unmarshal     = json.Unmarshal
)
