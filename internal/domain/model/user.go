package model

// UserInfo is the subset of a Quip user record the tool cares about.
type UserInfo struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Emails []string `json:"emails,omitempty"`
}

// Folder is a Quip folder with its current member set.
type Folder struct {
	ID        string
	Title     string
	MemberIDs []string
}

// HasMember reports whether id is already a member of the folder.
func (f Folder) HasMember(id string) bool {
	for _, m := range f.MemberIDs {
		if m == id {
			return true
		}
	}
	return false
}

// ProbeResult is the raw outcome of a who-am-I call. StatusCode is zero when
// no HTTP response was received.
type ProbeResult struct {
	StatusCode       int
	User             UserInfo
	ErrorDescription string
}
