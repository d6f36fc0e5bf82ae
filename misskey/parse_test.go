package misskey_test

import (
	"testing"

	"fediarchive/misskey"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInput(t *testing.T) {
	cases := []struct {
		name     string
		input    string
		kind     misskey.TargetKind
		instance string
		id       string
	}{
		{"note url", "https://example.social/notes/abc123", misskey.TargetNote, "https://example.social", "abc123"},
		{"note url trailing slash", "https://example.social/notes/abc123/", misskey.TargetNote, "https://example.social", "abc123"},
		{"mastodon statuses url", "https://example.social/@alice/statuses/9xyz", misskey.TargetNote, "https://example.social", "9xyz"},
		{"posts url", "https://example.social/@alice/posts/9xyz", misskey.TargetNote, "https://example.social", "9xyz"},
		{"profile url", "https://example.social/@alice", misskey.TargetUser, "https://example.social", "alice"},
		{"fediverse handle", "@alice@example.social", misskey.TargetUser, "https://example.social", "alice"},
		{"handle without at", "alice@example.social", misskey.TargetUser, "https://example.social", "alice"},
		{"bare username", "alice", misskey.TargetUser, "", "alice"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			target, err := misskey.ParseInput(tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.kind, target.Kind)
			assert.Equal(t, tc.instance, target.Instance)
			assert.Equal(t, tc.id, target.ID)
		})
	}
}

func TestParseInputRejectsGarbage(t *testing.T) {
	for _, input := range []string{
		"",
		"   ",
		"https://example.social/about",
		"not a handle at all!!",
	} {
		_, err := misskey.ParseInput(input)
		assert.Error(t, err, "input %q", input)
	}
}
