package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"gopkg.in/yaml.v3"

	"github.com/petrijr/saksflyt/internal/casework"
	"github.com/petrijr/saksflyt/pkg/api"
)

const timeLayout = time.RFC3339

// printStructured writes v as JSON or YAML. It returns false for the table
// format.
func (c *cli) printStructured(v any) (bool, error) {
	switch c.output {
	case "json":
		enc := json.NewEncoder(c.out)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(c.out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return true, err
		}
		return true, enc.Close()
	case "table", "":
		return false, nil
	}
	return true, fmt.Errorf("unknown output format %q", c.output)
}

func (c *cli) newTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(c.out)
	return t
}

func (c *cli) printRecords(views []recordView) error {
	if done, err := c.printStructured(views); done {
		return err
	}
	t := c.newTable()
	t.AppendHeader(table.Row{"ID", "Type", "Status", "Step", "Pending", "Updated", "Error"})
	for _, v := range views {
		t.AppendRow(table.Row{v.ID, v.Type, v.Status, v.Position, strings.Join(v.Pending, ","), v.UpdatedAt.Format(timeLayout), v.Error})
	}
	t.Render()
	return nil
}

type historyView struct {
	At     time.Time `json:"at" yaml:"at"`
	Type   string    `json:"type" yaml:"type"`
	Step   int       `json:"step" yaml:"step"`
	Detail string    `json:"detail,omitempty" yaml:"detail,omitempty"`
}

func (c *cli) printHistory(entries []api.HistoryEntry) error {
	views := make([]historyView, len(entries))
	for i, e := range entries {
		views[i] = historyView{At: e.At, Type: string(e.Type), Step: e.Step, Detail: e.Detail}
	}
	if done, err := c.printStructured(views); done {
		return err
	}
	t := c.newTable()
	t.AppendHeader(table.Row{"At", "Type", "Step", "Detail"})
	for _, v := range views {
		t.AppendRow(table.Row{v.At.Format(timeLayout), v.Type, v.Step, v.Detail})
	}
	t.Render()
	return nil
}

type auditView struct {
	At         time.Time `json:"at" yaml:"at"`
	Kind       string    `json:"kind" yaml:"kind"`
	Caseworker string    `json:"caseworker,omitempty" yaml:"caseworker,omitempty"`
	Note       string    `json:"note,omitempty" yaml:"note,omitempty"`
}

func (c *cli) printAudit(entries []casework.AuditEntry) error {
	views := make([]auditView, len(entries))
	for i, e := range entries {
		views[i] = auditView{At: e.At, Kind: string(e.Kind), Caseworker: e.Caseworker, Note: e.Note}
	}
	if done, err := c.printStructured(views); done {
		return err
	}
	t := c.newTable()
	t.AppendHeader(table.Row{"At", "Kind", "Caseworker", "Note"})
	for _, v := range views {
		t.AppendRow(table.Row{v.At.Format(timeLayout), v.Kind, v.Caseworker, v.Note})
	}
	t.Render()
	return nil
}

func (c *cli) printCase(v caseView) error {
	if done, err := c.printStructured(v); done {
		return err
	}
	t := c.newTable()
	t.AppendHeader(table.Row{"ID", "Status", "On hold", "Assigned to", "Review", "Episode", "Event", "Updated"})
	t.AppendRow(table.Row{v.ID, v.Status, v.OnHold, v.AssignedTo, v.Review, v.Episode, v.EventID, v.UpdatedAt.Format(timeLayout)})
	t.Render()
	return nil
}
