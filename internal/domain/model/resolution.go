package model

import "time"

// Outcome is the final classification of a resolution candidate.
type Outcome int

const (
	// OutcomeUnresolved means no identity was found for the candidate.
	OutcomeUnresolved Outcome = iota
	// OutcomeResolved means an identity was found and is not yet a folder member.
	OutcomeResolved
	// OutcomeAlreadyMember means the identity is already in the folder.
	OutcomeAlreadyMember
)

// String returns a human-readable name for the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeResolved:
		return "resolved"
	case OutcomeAlreadyMember:
		return "already_member"
	default:
		return "unresolved"
	}
}

// ResolutionPhase identifies which lookup pass produced a result.
type ResolutionPhase int

const (
	PhaseNone ResolutionPhase = iota
	PhaseExact
	PhaseFallback
)

// ResolutionResult is the outcome for a single candidate.
type ResolutionResult struct {
	Candidate     string
	Outcome       Outcome
	MemberID      string
	MatchedDomain string // Set only for fallback matches.
	Phase         ResolutionPhase
	Cause         error // Set only for unresolved candidates that failed rather than missed.
}

// ResolutionReport holds one result per input candidate, in input order.
type ResolutionReport struct {
	Results []ResolutionResult
}

// Counts returns the number of results per outcome.
func (r ResolutionReport) Counts() (resolved, alreadyMember, unresolved int) {
	for _, res := range r.Results {
		switch res.Outcome {
		case OutcomeResolved:
			resolved++
		case OutcomeAlreadyMember:
			alreadyMember++
		default:
			unresolved++
		}
	}
	return resolved, alreadyMember, unresolved
}

// NewMemberIDs returns the distinct member IDs of resolved candidates in
// report order.
func (r ResolutionReport) NewMemberIDs() []string {
	seen := make(map[string]struct{})
	ids := make([]string, 0, len(r.Results))
	for _, res := range r.Results {
		if res.Outcome != OutcomeResolved {
			continue
		}
		if _, ok := seen[res.MemberID]; ok {
			continue
		}
		seen[res.MemberID] = struct{}{}
		ids = append(ids, res.MemberID)
	}
	return ids
}

// Unresolved returns the results that could not be resolved.
func (r ResolutionReport) Unresolved() []ResolutionResult {
	var out []ResolutionResult
	for _, res := range r.Results {
		if res.Outcome == OutcomeUnresolved {
			out = append(out, res)
		}
	}
	return out
}

// AddMembersReport summarizes an add-users run against one folder.
type AddMembersReport struct {
	FolderID      string
	Resolution    ResolutionReport
	Added         int
	FailedBatches int
	BatchErrors   []error
}

// RunSummary is the journal record of one CLI invocation.
type RunSummary struct {
	ID            string
	Command       string
	StartedAt     time.Time
	FinishedAt    time.Time
	Resolved      int
	AlreadyMember int
	Unresolved    int
	Added         int
	Error         string
}
