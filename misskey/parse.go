package misskey

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// TargetKind tells the orchestrator whether the user asked for one
// note or a whole account.
type TargetKind string

const (
	TargetNote TargetKind = "note"
	TargetUser TargetKind = "user"
)

// Target is a parsed archive request.
type Target struct {
	Kind     TargetKind
	Instance string // base URL; may be empty for bare usernames
	ID       string // note id or username
}

var (
	notePathRe    = regexp.MustCompile(`/notes/([A-Za-z0-9]+)$`)
	statusPathRe  = regexp.MustCompile(`/(?:posts|statuses)/([A-Za-z0-9]+)$`)
	profilePathRe = regexp.MustCompile(`^/@([A-Za-z0-9_.-]+)$`)
	handleRe      = regexp.MustCompile(`^@?([A-Za-z0-9_.-]+)@([A-Za-z0-9_.-]+\.[A-Za-z]{2,})$`)
	usernameRe    = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)
)

// ParseInput accepts any of the forms users paste:
//
//	https://instance.tld/notes/abc123      a single note
//	https://instance.tld/@alice            a whole profile
//	@alice@instance.tld                    a fediverse handle
//	alice                                  a bare username (instance separate)
func ParseInput(raw string) (*Target, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("input is required")
	}

	if u, err := url.Parse(raw); err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != "" {
		instance := u.Scheme + "://" + u.Host
		path := strings.TrimRight(u.Path, "/")

		if m := notePathRe.FindStringSubmatch(path); m != nil {
			return &Target{Kind: TargetNote, Instance: instance, ID: m[1]}, nil
		}
		// Mastodon-compatible frontends expose /@user/posts/<id> or
		// /@user/statuses/<id>.
		if m := statusPathRe.FindStringSubmatch(path); m != nil {
			return &Target{Kind: TargetNote, Instance: instance, ID: m[1]}, nil
		}
		if m := profilePathRe.FindStringSubmatch(path); m != nil {
			return &Target{Kind: TargetUser, Instance: instance, ID: m[1]}, nil
		}
		return nil, fmt.Errorf("cannot extract note or user from URL: %s", raw)
	}

	if m := handleRe.FindStringSubmatch(raw); m != nil {
		return &Target{Kind: TargetUser, Instance: "https://" + m[2], ID: m[1]}, nil
	}

	if usernameRe.MatchString(raw) {
		return &Target{Kind: TargetUser, ID: raw}, nil
	}

	return nil, fmt.Errorf("unrecognised input: %s", raw)
}
