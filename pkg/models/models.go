package models

import (
	errs "tsegrab/pkg/errors"
)

// Period is one top-level grouping of the portal catalog, usually an
// election year, with its own detail page.
type Period struct {
	Label      string
	CatalogURL string
}

// ResourceDescriptor describes one downloadable file resolved from a
// period's detail page. DeclaredSize is zero when the portal does not
// announce an exact size.
type ResourceDescriptor struct {
	Name         string
	DownloadURL  string
	Format       string
	DeclaredSize int64
}

// Status is the final state of a single transfer.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// TransferOutcome records how one resource transfer ended. The transfer
// manager creates it once; nothing mutates it afterwards.
type TransferOutcome struct {
	Resource     ResourceDescriptor
	Period       Period
	Status       Status
	BytesWritten int64
	Attempts     int
	Err          errs.Kind
}

// Summary aggregates outcome counts for a whole run.
type Summary struct {
	Downloaded int
	Skipped    int
	Failed     int
}
