package model

// ClusterReport summarizes one merge for the (external) report renderer.
type ClusterReport struct {
	BaseID    string     `json:"base_id"`
	Absorbed  []string   `json:"absorbed,omitempty"`
	Reason    string     `json:"reason"`
	Emails    int        `json:"emails"`
	Phones    int        `json:"phones"`
	Photos    int        `json:"photos"`
	Conflicts []Conflict `json:"conflicts,omitempty"`
}

// ExitStatus is the signal consumed by the CLI layer.
type ExitStatus int

const (
	ExitOK ExitStatus = iota
	ExitSoftFindings
	ExitFailed
)

// Report is the structured decision data a completed (or aborted) run
// produces. Rendering to CSV/JSON is out of scope for the core.
type Report struct {
	Clusters     []ClusterReport `json:"clusters"`
	Findings     []Finding       `json:"findings"`
	HardFindings int             `json:"hard_findings"`
	SoftFindings int             `json:"soft_findings"`
	RecordsIn    int             `json:"records_in"`
	ContactsOut  int             `json:"contacts_out"`
	Status       ExitStatus      `json:"status"`
}

// Add appends a finding and bumps the matching counter.
func (r *Report) Add(f Finding) {
	r.Findings = append(r.Findings, f)
	if f.Severity == Hard {
		r.HardFindings++
	} else {
		r.SoftFindings++
	}
}
