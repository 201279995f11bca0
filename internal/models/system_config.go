package models

// SystemConfig carries the admin-tunable settings the workflow engine reads:
// sequence code format and the auto-assignment switch. Read-only to the engine.
type SystemConfig struct {
	SequencePrefix string `json:"sequencePrefix"`
	SequenceStart  int    `json:"sequenceStart"`
	SequencePad    int    `json:"sequencePad"`
	AutoAssign     bool   `json:"autoAssign"`
}

// ComplaintType is externally configurable; SLAHours drives the deadline set
// once at complaint creation.
type ComplaintType struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	SLAHours int    `json:"slaHours"`
	Active   bool   `json:"active"`
}

type Ward struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}
