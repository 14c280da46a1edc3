// Package export renders graph state for consumers outside the process:
// a JSON change set for the tool that writes files, and Mermaid diagrams
// for humans.
package export

import (
	"encoding/json"
	"time"

	"github.com/dusk-indust/parseltongue/internal/commit"
	"github.com/dusk-indust/parseltongue/internal/entity"
)

// ChangeSet is the top-level JSON document handed to a diff/apply tool.
type ChangeSet struct {
	ExportedAt string        `json:"exportedAt"`
	Summary    ChangeSummary `json:"summary"`
	Files      []FileChanges `json:"files"`
}

// ChangeSummary counts changes by action.
type ChangeSummary struct {
	Create int `json:"create"`
	Edit   int `json:"edit"`
	Delete int `json:"delete"`
}

// FileChanges lists the changes to one file in line order.
type FileChanges struct {
	FilePath string         `json:"filePath"`
	Changes  []ChangeExport `json:"changes"`
}

// ChangeExport describes one pending change.
type ChangeExport struct {
	Key         string            `json:"key"`
	Action      entity.Action     `json:"action"`
	Lines       *entity.LineRange `json:"lines,omitempty"`
	CurrentCode *string           `json:"currentCode,omitempty"`
	FutureCode  *string           `json:"futureCode,omitempty"`
}

// BuildChangeSet groups pending changes by file. changes must already be in
// file, then line order, as commit.Controller.PendingChanges returns them.
func BuildChangeSet(changes []commit.PendingChange, now time.Time) *ChangeSet {
	cs := &ChangeSet{
		ExportedAt: now.UTC().Format(time.RFC3339),
		Files:      []FileChanges{},
	}
	for _, c := range changes {
		switch c.Action {
		case entity.ActionCreate:
			cs.Summary.Create++
		case entity.ActionEdit:
			cs.Summary.Edit++
		case entity.ActionDelete:
			cs.Summary.Delete++
		}
		if n := len(cs.Files); n == 0 || cs.Files[n-1].FilePath != c.FilePath {
			cs.Files = append(cs.Files, FileChanges{FilePath: c.FilePath})
		}
		f := &cs.Files[len(cs.Files)-1]
		f.Changes = append(f.Changes, ChangeExport{
			Key:         c.Key.String(),
			Action:      c.Action,
			Lines:       c.Lines,
			CurrentCode: c.CurrentCode,
			FutureCode:  c.FutureCode,
		})
	}
	return cs
}

// PendingDocument encodes the pending changes as indented JSON.
func PendingDocument(changes []commit.PendingChange) ([]byte, error) {
	return json.MarshalIndent(BuildChangeSet(changes, time.Now()), "", "  ")
}
