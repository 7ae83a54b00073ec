package model

import "time"

const EnvelopeVersion = "v1"

type Envelope struct {
	Version  string       `json:"version"`
	Success  bool         `json:"success"`
	Data     any          `json:"data,omitempty"`
	Error    *ErrorBody   `json:"error"`
	Warnings []string     `json:"warnings,omitempty"`
	Meta     EnvelopeMeta `json:"meta"`
}

type ErrorBody struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
	// UserMessage is the short text safe to show to an end user.
	UserMessage string `json:"user_message"`
	Details     any    `json:"details,omitempty"`
}

type EnvelopeMeta struct {
	RequestID string      `json:"request_id"`
	Timestamp time.Time   `json:"timestamp"`
	Command   string      `json:"command"`
	Catalogue string      `json:"catalogue,omitempty"`
	Cache     CacheStatus `json:"cache"`
}

// CacheStatus reports whether the catalogue cache was in use for the run.
type CacheStatus struct {
	Status string `json:"status"`
}

type ProtocolSummary struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Actions     []string `json:"actions"`
	BuilderOnly []string `json:"builder_only,omitempty"`
	Chains      []string `json:"chains"`
}

type ProtocolDetail struct {
	ProtocolSummary
	Description string              `json:"description"`
	Aliases     map[string]string   `json:"aliases,omitempty"`
	Markets     map[string][]string `json:"markets,omitempty"`
	Builders    []BuilderBinding    `json:"builders,omitempty"`
}

type BuilderBinding struct {
	Action  string `json:"action"`
	Builder string `json:"builder"`
}

type TokenResolution struct {
	Input    string `json:"input"`
	Chain    string `json:"chain"`
	Address  string `json:"address"`
	Resolved bool   `json:"resolved"`
	Native   bool   `json:"native"`
	Symbol   string `json:"symbol,omitempty"`
	Decimals *int   `json:"decimals,omitempty"`
	AssetID  string `json:"asset_id,omitempty"`
}

// StageTrace is the request as it leaves one normalization stage.
type StageTrace struct {
	Stage   string   `json:"stage"`
	Request any      `json:"request"`
	Changed bool     `json:"changed"`
	Notes   []string `json:"notes,omitempty"`
}
