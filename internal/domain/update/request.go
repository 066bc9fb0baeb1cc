package update

import "strings"

// SelectorKind identifies which revision selector a Request carries.
type SelectorKind string

const (
	// SelectorTag fetches a tag.
	SelectorTag SelectorKind = "tag"
	// SelectorBranch fetches the head of a branch.
	SelectorBranch SelectorKind = "branch"
	// SelectorCommit fetches the primary branch and checks out an exact commit.
	SelectorCommit SelectorKind = "commit"
)

// Request describes one update run. It is created by the caller and never
// mutated once a run has started.
type Request struct {
	// Owner is the account or organisation owning the update repository.
	Owner string
	// Repository is the update repository name.
	Repository string
	// Token is an optional access token used as transport credentials.
	Token string
	// Tag selects a tag.
	Tag string
	// Branch selects a branch.
	Branch string
	// Commit selects an exact commit.
	Commit string
}

// Selector returns the revision selector kind and value.
// The boolean is false unless exactly one selector is set.
func (r Request) Selector() (SelectorKind, string, bool) {
	var (
		kind  SelectorKind
		value string
		count int
	)

	if tag := strings.TrimSpace(r.Tag); tag != "" {
		kind, value = SelectorTag, tag
		count++
	}

	if branch := strings.TrimSpace(r.Branch); branch != "" {
		kind, value = SelectorBranch, branch
		count++
	}

	if commit := strings.TrimSpace(r.Commit); commit != "" {
		kind, value = SelectorCommit, commit
		count++
	}

	if count != 1 {
		return "", "", false
	}

	return kind, value, true
}

// ValidateSelector checks that exactly one revision selector is present.
func (r Request) ValidateSelector() error {
	if _, _, ok := r.Selector(); ok {
		return nil
	}

	if strings.TrimSpace(r.Tag) == "" &&
		strings.TrimSpace(r.Branch) == "" &&
		strings.TrimSpace(r.Commit) == "" {
		return ErrNoRevisionSelector
	}

	return ErrMultipleRevisionSelectors
}

// Validate checks source identity and the revision selector.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Owner) == "" {
		return ErrOwnerRequired
	}

	if strings.TrimSpace(r.Repository) == "" {
		return ErrRepositoryRequired
	}

	return r.ValidateSelector()
}
