package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Entry is an immutable snapshot of one fetched configuration document.
// It is replaced wholesale on every successful fetch, never mutated.
type Entry struct {
	Config    *Config
	ETag      string
	RawConfig string
	FetchTime time.Time
}

// EmptyEntry is the sentinel meaning "nothing loaded yet".
var EmptyEntry = Entry{}

// IsEmpty reports whether the entry is the empty sentinel.
func (e Entry) IsEmpty() bool {
	return e.Config == nil && e.ETag == "" && e.RawConfig == ""
}

// IsExpired reports whether the entry was fetched before the threshold.
func (e Entry) IsExpired(threshold time.Time) bool {
	return e.FetchTime.Before(threshold)
}

// WithFetchTime returns a copy of the entry with only its fetch time bumped.
func (e Entry) WithFetchTime(t time.Time) Entry {
	e.FetchTime = t
	return e
}

// entryDocument is the persisted form of an Entry. The raw document text is
// kept alongside the parse result so a cache round trip reproduces the
// original bytes.
type entryDocument struct {
	Config      json.RawMessage `json:"config"`
	ETag        string          `json:"etag"`
	FetchTimeMS int64           `json:"fetchTime"`
}

// Serialize encodes the entry for the persistent cache.
func (e Entry) Serialize() (string, error) {
	doc := entryDocument{
		Config:      json.RawMessage(e.RawConfig),
		ETag:        e.ETag,
		FetchTimeMS: e.FetchTime.UnixMilli(),
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to serialize cache entry: %w", err)
	}
	return string(data), nil
}

// DeserializeEntry decodes a persisted entry. An empty input yields the
// empty sentinel without error; anything else must be a complete document.
func DeserializeEntry(value string) (Entry, error) {
	if value == "" {
		return EmptyEntry, nil
	}
	var doc entryDocument
	if err := json.Unmarshal([]byte(value), &doc); err != nil {
		return EmptyEntry, fmt.Errorf("invalid cache entry: %w", err)
	}
	if doc.ETag == "" {
		return EmptyEntry, fmt.Errorf("invalid cache entry: empty etag")
	}
	if len(doc.Config) == 0 {
		return EmptyEntry, fmt.Errorf("invalid cache entry: empty config")
	}
	config, err := ParseConfig(doc.Config)
	if err != nil {
		return EmptyEntry, fmt.Errorf("invalid cache entry: %w", err)
	}
	return Entry{
		Config:    config,
		ETag:      doc.ETag,
		RawConfig: string(doc.Config),
		FetchTime: time.UnixMilli(doc.FetchTimeMS),
	}, nil
}
